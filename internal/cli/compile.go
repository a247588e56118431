package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/reflowdb/reflow/internal/compile"
)

// newCompileCmd creates the compile command.
func newCompileCmd() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile the project and write the manifest",
		Long: `Compile every schema and query file in the project, verify the
schema against a scratch database, and write the manifest.

With --watch, recompile whenever a source file changes.`,
		Example: `  # Compile once
  reflow compile

  # Recompile on every source change
  reflow compile --watch

  # Write the manifest somewhere else
  reflow compile --out build/manifest.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			proj, err := getProject(cmd)
			if err != nil {
				return err
			}
			compiler := compile.New(proj.cfg, proj.root, proj.logger)

			if watch {
				return runWatch(cmd, proj, compiler)
			}

			res, err := compiler.Run(cmd.Context())
			if err != nil {
				return err
			}
			return emitBuild(cmd.OutOrStdout(), proj, res)
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "recompile on source changes")
	return cmd
}

// newVetCmd creates the vet command: a full compile with no output
// written, for CI and editors.
func newVetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vet",
		Short: "Check the project without writing the manifest",
		RunE: func(cmd *cobra.Command, _ []string) error {
			proj, err := getProject(cmd)
			if err != nil {
				return err
			}
			res, err := compile.New(proj.cfg, proj.root, proj.logger).Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d tables, %d queries\n",
				len(res.Model.Tables()), len(res.Queries))
			return nil
		},
	}
}

// runWatch keeps compiling until interrupted. Failed builds report their
// errors and leave the last manifest in place.
func runWatch(cmd *cobra.Command, proj *project, compiler *compile.Compiler) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintln(cmd.OutOrStdout(), "Watching for changes (Ctrl+C to stop)...")
	err := compiler.Watch(ctx, func(res *compile.Result, err error) {
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "build failed:\n%v\n", err)
			return
		}
		if err := emitBuild(cmd.OutOrStdout(), proj, res); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "writing manifest: %v\n", err)
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// emitBuild writes the manifest and prints a per-namespace summary.
func emitBuild(w io.Writer, proj *project, res *compile.Result) error {
	out := proj.cfg.Out
	if !filepath.IsAbs(out) {
		out = filepath.Join(proj.root, out)
	}
	m := compile.BuildManifest(proj.cfg.Name, res)
	if err := compile.WriteManifest(out, m); err != nil {
		return err
	}

	type bucket struct{ tables, views, queries int }
	byNS := make(map[string]*bucket)
	ns := func(name string) *bucket {
		b := byNS[name]
		if b == nil {
			b = &bucket{}
			byNS[name] = b
		}
		return b
	}
	for _, t := range res.Model.Tables() {
		if t.View {
			ns(t.Namespace).views++
		} else {
			ns(t.Namespace).tables++
		}
	}
	for _, q := range res.Queries {
		ns(q.Namespace).queries++
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Namespace", "Tables", "Views", "Queries"})
	for _, nsCfg := range proj.cfg.Namespaces {
		b := ns(nsCfg.Name)
		t.AppendRow(table.Row{nsCfg.Name, b.tables, b.views, b.queries})
	}
	t.Render()

	fmt.Fprintf(w, "wrote %s\n", out)
	return nil
}
