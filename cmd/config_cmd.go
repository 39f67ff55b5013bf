package main

import (
	"io"
	"net/url"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/safkaty/safkaty/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the merged configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeConfig(os.Stdout, cfg)
	},
}

// writeConfig prints c as YAML with any database password masked.
func writeConfig(out io.Writer, c *config.Config) error {
	shown := *c
	shown.Store.DatabaseURL = redactURL(c.Store.DatabaseURL)

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(shown); err != nil {
		return eris.Wrap(err, "config: encode yaml")
	}
	return enc.Close()
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); !ok {
		return raw
	}
	return u.Redacted()
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
