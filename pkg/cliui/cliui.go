// Package cliui provides terminal styles and step indicators for lumos CLI
// commands.
package cliui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	SuccessMark = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Render("✓")
	FailMark    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Render("✗")
	DefaultMark = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Render("*")

	KeyStyle     = lipgloss.NewStyle().Bold(true)
	DimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
)

var spinnerFrames = []string{"⣾", "⣽", "⣻", "⢿", "⡿", "⣟", "⣯", "⣷"}

// Step runs fn while animating a spinner next to msg, then rewrites the line
// with the outcome mark and the elapsed time. It returns fn's error.
func Step(w io.Writer, msg string, fn func() error) error {
	var (
		mu   sync.Mutex
		stop = make(chan struct{})
		done = make(chan struct{})
	)

	go func() {
		defer close(done)
		ticker := time.NewTicker(80 * time.Millisecond)
		defer ticker.Stop()

		for frame := 0; ; frame++ {
			mu.Lock()
			fmt.Fprintf(w, "\r  %s %s", spinnerStyle.Render(spinnerFrames[frame%len(spinnerFrames)]), msg)
			mu.Unlock()

			select {
			case <-stop:
				return
			case <-ticker.C:
			}
		}
	}()

	start := time.Now()
	err := fn()
	elapsed := time.Since(start)

	close(stop)
	<-done

	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(w, "\r  %s %s %s\n", Mark(err), msg, DimStyle.Render("("+FormatDuration(elapsed)+")"))

	return err
}

// Mark returns SuccessMark for a nil error and FailMark otherwise.
func Mark(err error) string {
	if err != nil {
		return FailMark
	}
	return SuccessMark
}

// FormatDuration renders short durations in milliseconds and longer ones in
// seconds with one decimal, e.g. "12ms" or "3.2s".
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
