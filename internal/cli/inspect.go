package cli

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/reflowdb/reflow/internal/compile"
	"github.com/reflowdb/reflow/internal/depgraph"
)

// compileProject is the shared entry point of the inspection commands:
// they all operate on a fresh build.
func compileProject(cmd *cobra.Command) (*project, *compile.Result, error) {
	proj, err := getProject(cmd)
	if err != nil {
		return nil, nil, err
	}
	res, err := compile.New(proj.cfg, proj.root, proj.logger).Run(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	return proj, res, nil
}

// newTablesCmd creates the tables command.
func newTablesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List tables and views in the compiled schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, res, err := compileProject(cmd)
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Namespace", "Name", "Kind", "Columns", "Primary Key", "Cascades"})
			for _, spec := range res.Model.Tables() {
				kind := "table"
				if spec.View {
					kind = "view"
				}
				var cascades []string
				if len(spec.CascadeDelete) > 0 {
					cascades = append(cascades, "delete->"+strings.Join(spec.CascadeDelete, ","))
				}
				if len(spec.CascadeUpdate) > 0 {
					cascades = append(cascades, "update->"+strings.Join(spec.CascadeUpdate, ","))
				}
				t.AppendRow(table.Row{
					spec.Namespace,
					spec.Name,
					kind,
					len(spec.Columns),
					strings.Join(spec.PrimaryKey, ", "),
					strings.Join(cascades, " "),
				})
			}
			t.Render()
			fmt.Fprintf(cmd.OutOrStdout(), "(%d tables)\n", len(res.Model.Tables()))
			return nil
		},
	}
}

// newQueriesCmd creates the queries command.
func newQueriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queries",
		Short: "List compiled queries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, res, err := compileProject(cmd)
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Namespace", "Name", "Kind", "Reads", "Affects", "Shared"})
			for _, q := range res.Queries {
				t.AppendRow(table.Row{
					q.Namespace,
					q.Name,
					string(q.Kind),
					strings.Join(q.ReadTables, ", "),
					strings.Join(q.AffectedTables, ", "),
					q.SharedResult,
				})
			}
			t.Render()
			fmt.Fprintf(cmd.OutOrStdout(), "(%d queries)\n", len(res.Queries))
			return nil
		},
	}
}

// newGraphCmd creates the graph command.
func newGraphCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "graph",
		Short: "Show the cascade invalidation graph",
		Long: `Show, per table, which other tables a delete or update cascades
to. These edges decide which live queries a write invalidates.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, res, err := compileProject(cmd)
			if err != nil {
				return err
			}
			graph := res.Model.Graph()

			w := cmd.OutOrStdout()
			for _, name := range graph.Tables() {
				deletes := graph.Targets(depgraph.EdgeDelete, name)
				updates := graph.Targets(depgraph.EdgeUpdate, name)
				if len(deletes) == 0 && len(updates) == 0 {
					fmt.Fprintf(w, "%s\n", name)
					continue
				}
				fmt.Fprintf(w, "%s\n", name)
				for _, target := range deletes {
					fmt.Fprintf(w, "  delete -> %s\n", target)
				}
				for _, target := range updates {
					fmt.Fprintf(w, "  update -> %s\n", target)
				}
			}
			return nil
		},
	}
}
