// Package cli provides the reflow command-line interface.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/reflowdb/reflow/internal/config"
)

var cfgFile string

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// project bundles everything a subcommand needs: the loaded config, the
// directory it was resolved against, and a logger built from it.
type project struct {
	cfg    *config.ProjectConfig
	root   string
	logger *slog.Logger
}

// projectKey is used to store the project in context.
type projectKey struct{}

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "reflow",
		Short: "Reflow - annotated-SQL compiler and reactive SQLite runtime",
		Long: `Reflow compiles annotated SQL schemas and queries into a typed
manifest and runs them against a reactive SQLite database with
live-query subscriptions and byte-snapshot persistence.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Help, completion, and version need no project.
			switch cmd.Name() {
			case "help", "completion", "__complete", "version":
				return nil
			}

			proj, err := loadProject(cmd)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), projectKey{}, proj))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
Annotated-SQL compiler and reactive SQLite runtime
`)

	// Global persistent flags. The dotted names overlay config paths.
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: ./reflow.yaml, searched upward)")
	rootCmd.PersistentFlags().String("database.path", "", "database location (\":memory:\" for in-memory)")
	rootCmd.PersistentFlags().String("out", "", "manifest output path")
	rootCmd.PersistentFlags().String("log.level", "", "log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().String("log.format", "", "log format (text|json)")

	_ = rootCmd.RegisterFlagCompletionFunc("log.level", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"debug", "info", "warn", "error"}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newCompileCmd())
	rootCmd.AddCommand(newVetCmd())
	rootCmd.AddCommand(newTablesCmd())
	rootCmd.AddCommand(newQueriesCmd())
	rootCmd.AddCommand(newGraphCmd())
	rootCmd.AddCommand(newSnapshotCmd())
	rootCmd.AddCommand(newCompletionCmd())

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// loadProject resolves the config file (explicit flag or upward search
// from the working directory), layers flag overrides on top, and builds
// the project logger.
func loadProject(cmd *cobra.Command) (*project, error) {
	path := cfgFile
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		root := config.FindProjectRoot(wd)
		if root == "" {
			return nil, fmt.Errorf("no %s found in %s or any parent", config.ConfigFileName, wd)
		}
		path = filepath.Join(root, config.ConfigFileName)
		if _, err := os.Stat(path); err != nil {
			path = filepath.Join(root, config.ConfigFileNameAlt)
		}
	}

	cfg, err := config.LoadWithFlags(path, cmd.Root().PersistentFlags())
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &project{
		cfg:    cfg,
		root:   filepath.Dir(path),
		logger: newLogger(cfg.Log),
	}, nil
}

// getProject retrieves the project from the command context.
func getProject(cmd *cobra.Command) (*project, error) {
	if p, ok := cmd.Context().Value(projectKey{}).(*project); ok {
		return p, nil
	}
	return nil, fmt.Errorf("no project loaded")
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "reflow v%s\n", Version)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "commit %s, built %s\n", GitCommit, BuildDate)
		},
	}
}

// newCompletionCmd creates the completion command.
func newCompletionCmd() *cobra.Command {
	return &cobra.Command{
		Use:                   "completion [bash|zsh|fish|powershell]",
		Short:                 "Generate shell completion scripts",
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(os.Stdout)
			case "zsh":
				return cmd.Root().GenZshCompletion(os.Stdout)
			case "fish":
				return cmd.Root().GenFishCompletion(os.Stdout, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
			}
			return nil
		},
	}
}
