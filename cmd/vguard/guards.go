package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cgast/vguard/internal/logger"
	"github.com/cgast/vguard/internal/setup"
)

func newGuardsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "guards",
		Short: "List registered guards and the routing table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			p, err := setup.BuildPipeline(cfg, filepath.Dir(flags.configPath), logger.New(cfg.LogLevel, flags.pretty))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{"guards": p.Names(), "routes": p.Routes()})
			}

			fmt.Fprintf(out, "Guards: %s\n\n", strings.Join(p.Names(), ", "))
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ROUTE\tKEY\tGUARDS")
			for _, r := range p.Routes() {
				fmt.Fprintf(w, "%s\t%s\t%s\n", r.Kind, r.Key, strings.Join(r.Guards, ", "))
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output in JSON format")
	return cmd
}
