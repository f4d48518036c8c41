package main

import (
	"context"
	"os"

	lumoscmder "github.com/papercomputeco/lumos/cmd/lumos"
)

func main() {
	cmd := lumoscmder.NewLumosCmd()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
