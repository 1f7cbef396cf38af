package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"slate/pkg/domain"
	"slate/pkg/slate"
)

type entityCount struct {
	Entity string `json:"entity"`
	Count  int    `json:"count"`
}

func newInspectCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the number of committed objects per entity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c, model, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer closeQuietly(ctx, c, a.logger)
			counts, err := countEntities(ctx, c, model)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				return enc.Encode(counts)
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ENTITY\tCOUNT")
			for _, ec := range counts {
				fmt.Fprintf(tw, "%s\t%d\n", ec.Entity, ec.Count)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

// countEntities counts every entity inside one read so the numbers are
// mutually consistent.
func countEntities(ctx context.Context, c *slate.Coordinator, model *domain.Model) ([]entityCount, error) {
	return slate.Query(ctx, c, func(ctx context.Context, qc *slate.QueryContext) ([]entityCount, error) {
		out := make([]entityCount, 0, len(model.Entities))
		for _, name := range model.EntityNames() {
			n, err := qc.Count(ctx, name, nil)
			if err != nil {
				return nil, err
			}
			out = append(out, entityCount{Entity: name, Count: n})
		}
		return out, nil
	})
}
