// Package lumoscmder
package lumoscmder

import (
	"github.com/spf13/cobra"

	modelscmder "github.com/papercomputeco/lumos/cmd/lumos/models"
	servecmder "github.com/papercomputeco/lumos/cmd/lumos/serve"
	versioncmder "github.com/papercomputeco/lumos/cmd/version"
)

const lumosLongDesc string = `Lumos serves the Ollama API from remote chat completion providers.

Requests to /api/chat and /api/generate are forwarded to the OpenAI-compatible
endpoint configured for the requested model, and the provider's event stream
is reframed into Ollama NDJSON as it arrives.

  lumos serve deepseek-chat    Serve with deepseek-chat as the default model
  lumos models                 List and check the configured models
  lumos version                Print build information`

const lumosShortDesc string = "Lumos - Ollama API for remote models"

func NewLumosCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "lumos",
		Short:         lumosShortDesc,
		Long:          lumosLongDesc,
		SilenceUsage:  true,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("settings", "", "Path to a TOML settings file")

	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(modelscmder.NewModelsCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
