// Package modelscmder provides the models command that lists and checks the
// configured models.
package modelscmder

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/lumos/pkg/cliui"
	"github.com/papercomputeco/lumos/pkg/config"
	"github.com/papercomputeco/lumos/pkg/provider"
)

type modelsCommander struct {
	keysFile string
	cfg      *config.Config
}

const modelsLongDesc string = `List the models in the keys file.

Every table is validated the way "lumos serve" validates it at startup. Names
are shown in the Ollama display form clients see in /api/tags; the default
model from the settings is marked with *.`

const modelsShortDesc string = "List and check the configured models"

func NewModelsCmd() *cobra.Command {
	cmder := &modelsCommander{}

	cmd := &cobra.Command{
		Use:   "models",
		Short: modelsShortDesc,
		Long:  modelsLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			settings, _ := cmd.Flags().GetString("settings")

			v, err := config.InitViper(settings)
			if err != nil {
				return fmt.Errorf("loading settings: %w", err)
			}
			config.BindRegisteredFlags(v, cmd, config.Flags, []string{config.FlagKeysFile})

			cmder.cfg, err = config.Load(v)
			if err != nil {
				return fmt.Errorf("loading settings: %w", err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.OutOrStdout())
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagKeysFile, &cmder.keysFile)

	return cmd
}

func (c *modelsCommander) run(w io.Writer) error {
	path := c.cfg.Models.KeysFile

	var registry *provider.Registry
	err := cliui.Step(w, "loading "+path, func() error {
		var err error
		registry, err = provider.OpenRegistry(path, provider.WithDefault(c.cfg.Models.Default))
		return err
	})
	if errors.Is(err, provider.ErrModelNotFound) {
		return fmt.Errorf("default model %s is not available in config file %s", c.cfg.Models.Default, path)
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(w)
	for _, name := range registry.Names() {
		entry, err := registry.Lookup(name)
		if err != nil {
			return err
		}

		mark := " "
		if name == registry.Default() {
			mark = cliui.DefaultMark
		}

		fmt.Fprintf(w, "  %s %s %s %s\n",
			mark,
			cliui.KeyStyle.Render(provider.DisplayName(name)),
			string(entry.Provider),
			cliui.DimStyle.Render(fmt.Sprintf("%s (%s)", entry.URL, entry.UpstreamModel())),
		)
	}

	return nil
}
