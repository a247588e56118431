package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/reflowdb/reflow/internal/runtime"
)

// snapshotFile is the blob name inside the configured snapshot directory.
const snapshotFile = "reflow.snapshot"

// newSnapshotCmd creates the snapshot command group.
func newSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Manage the persisted database image",
	}
	cmd.AddCommand(newSnapshotFlushCmd())
	cmd.AddCommand(newSnapshotClearCmd())
	cmd.AddCommand(newSnapshotExportCmd())
	return cmd
}

// openRuntime compiles the project and opens its database with the
// configured snapshot store.
func openRuntime(cmd *cobra.Command) (*project, *runtime.DB, error) {
	proj, res, err := compileProject(cmd)
	if err != nil {
		return nil, nil, err
	}

	opts := runtime.Options{
		Logger:   proj.logger,
		Database: proj.cfg.Database,
	}
	if proj.cfg.Snapshot.Dir != "" {
		dir := proj.cfg.Snapshot.Dir
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(proj.root, dir)
		}
		opts.Snapshot = runtime.NewFileBlobStore(filepath.Join(dir, snapshotFile))
		opts.AutoFlush = proj.cfg.Snapshot.AutoFlush
	}

	db, err := runtime.Open(cmd.Context(), res, opts)
	if err != nil {
		return nil, nil, err
	}
	return proj, db, nil
}

func newSnapshotFlushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Export the database and persist it to the snapshot store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, db, err := openRuntime(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Flush(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "snapshot written")
			return nil
		},
	}
}

func newSnapshotClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove the persisted snapshot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, db, err := openRuntime(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.ClearSnapshot(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "snapshot cleared")
			return nil
		},
	}
}

func newSnapshotExportCmd() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the database image to a file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, db, err := openRuntime(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			data, err := db.Export(cmd.Context())
			if err != nil {
				return err
			}
			if err := os.WriteFile(outPath, data, 0o600); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", outPath, len(data))
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "file", "f", "reflow.db", "output file")
	return cmd
}
