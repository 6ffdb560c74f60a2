package main

import (
	"fmt"
	"io"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect refgenies configuration",
	}

	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := cliContextFrom(cmd.Context())
			if cc == nil || cc.Cfg == nil {
				return fmt.Errorf("no configuration loaded")
			}

			if asJSON {
				return printJSON(cmd.OutOrStdout(), cc.Cfg)
			}

			return renderEffective(cmd.OutOrStdout(), cc.Cfg.ConfigPath, cc.Cfg.Config)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output in JSON format")

	return cmd
}

// renderEffective writes cfg as TOML, headed by the file it was read from.
func renderEffective(w io.Writer, path string, cfg any) error {
	fmt.Fprintf(w, "# effective configuration (file: %s)\n", path)

	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("encoding TOML output: %w", err)
	}

	return nil
}
