package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"chatgate/internal/catalog"
)

func newModelsCmd(root *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the model catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			models, err := catalog.Load(cfg.Models.CatalogPath)
			if err != nil {
				return err
			}
			return printModels(cmd, models, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the /v1/models payload")
	return cmd
}

func printModels(cmd *cobra.Command, models *catalog.Catalog, asJSON bool) error {
	resp := models.ModelsResponse()
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tCONTEXT\tINPUT\tIN $/MTOK\tOUT $/MTOK")
	for _, m := range resp.Data {
		in, out := "-", "-"
		if m.Pricing != nil {
			in = fmt.Sprintf("%.2f", m.Pricing.InputPerMtok)
			out = fmt.Sprintf("%.2f", m.Pricing.OutputPerMtok)
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", m.ID, m.ContextWindow, m.InputType, in, out)
	}
	return w.Flush()
}
