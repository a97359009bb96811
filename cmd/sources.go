package main

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/lobbyharvest/internal/adapter"
	"github.com/sells-group/lobbyharvest/internal/config"
)

var sourcesYAML bool

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the registries and their effective policies",
	RunE: func(cmd *cobra.Command, args []string) error {
		if sourcesYAML {
			return writeSourcesYAML(cmd.OutOrStdout(), cfg)
		}
		return writeSourcesTable(cmd.OutOrStdout(), cfg)
	},
}

func writeSourcesTable(w io.Writer, c *config.Config) error {
	effective, err := c.EffectiveSources()
	if err != nil {
		return err
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Source", "Enabled", "Timeout", "Retries", "Rate Limit", "Base URL"})
	for _, id := range adapter.IDs() {
		p, err := c.Policy(id)
		if err != nil {
			return err
		}
		rate := "unlimited"
		if p.RateLimit > 0 {
			rate = fmt.Sprintf("%g/s (burst %d)", p.RateLimit, max(p.Burst, 1))
		}
		tw.AppendRow(table.Row{id, p.Enabled, p.Timeout.String(), p.MaxRetries, rate, effective[id].BaseURL})
	}
	tw.SetStyle(table.StyleRounded)
	tw.Render()
	return nil
}

// writeSourcesYAML dumps the effective source settings in the shape of the
// config file's sources block, ready to paste into config.yaml.
func writeSourcesYAML(w io.Writer, c *config.Config) error {
	effective, err := c.EffectiveSources()
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]any{"sources": effective}); err != nil {
		return eris.Wrap(err, "encode sources")
	}
	return enc.Close()
}

func init() {
	sourcesCmd.Flags().BoolVar(&sourcesYAML, "yaml", false, "print effective settings as a config.yaml sources block")
	rootCmd.AddCommand(sourcesCmd)
}
