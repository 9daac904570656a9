// Package main provides the markov CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/richinex/markov/cli"
	"github.com/richinex/markov/config"
)

var (
	// Global flags
	configPath    string
	dbPath        string
	contextLength int
	logLevel      string
	verbose       bool

	// Resolved in PersistentPreRunE
	opts cli.Options
)

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rootCmd := &cobra.Command{
		Use:   "markov",
		Short: "Character-level Markov text model",
		Long: `Train a character-level Markov model on text corpora and generate new text from it.

Typical flow:
  markov learn Cat Dog       fetch, clean and train on Wikipedia pages
  markov generate "The cat"  generate a sentence from a seed

Settings come from --config (YAML), MARKOV_* environment variables and flags,
in increasing order of precedence.`,
		SilenceUsage:      true,
		PersistentPreRunE: resolveOptions,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (YAML, TOML or JSON)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Store path (overrides store.path)")
	rootCmd.PersistentFlags().IntVarP(&contextLength, "context-length", "l", 0, "Context length L (overrides model.context_length)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides log.level)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Shorthand for --log-level debug")

	// Add commands
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(fetchCmd())
	rootCmd.AddCommand(cleanCmd())
	rootCmd.AddCommand(trainCmd())
	rootCmd.AddCommand(learnCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(topCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(replCmd())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// resolveOptions loads settings and applies flag overrides.
func resolveOptions(cmd *cobra.Command, args []string) error {
	settings, err := config.Load(configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("db") {
		settings.Store.Path = dbPath
	}
	if flags.Changed("context-length") {
		settings.Model.ContextLength = contextLength
	}
	if flags.Changed("log-level") {
		settings.Log.Level = logLevel
	}
	if verbose {
		settings.Log.Level = "debug"
	}

	if problems := settings.Validate(); len(problems) > 0 {
		return fmt.Errorf("invalid settings: %w", errors.Join(problems...))
	}

	logger, err := cli.NewLogger(os.Stderr, settings.Log.Level, settings.Log.Format)
	if err != nil {
		return err
	}

	opts = cli.Options{
		Settings: settings,
		Out:      os.Stdout,
		Logger:   logger,
	}
	return nil
}

func initCmd() *cobra.Command {
	var pin bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the store",
		Long: `Create the store file and its schema.

With --pin the configured context length is recorded immediately; otherwise
the first ingested corpus fixes it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			length := 0
			if pin {
				length = opts.Settings.Model.ContextLength
			}
			return cli.Init(cmd.Context(), length, opts)
		},
	}

	cmd.Flags().BoolVar(&pin, "pin", false, "Record the context length now")

	return cmd
}

func fetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch TITLE...",
		Short: "Download Wikipedia pages into the cache directory",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Fetch(cmd.Context(), args, opts)
		},
	}
}

func cleanCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "clean SRC DST",
		Short: "Turn a fetched page into one sentence per line",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Clean(args[0], args[1], force, opts)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing destination")

	return cmd
}

func trainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "train FILE...",
		Short: "Ingest corpus files into the store",
		Long: `Ingest corpus files into the store.

A file whose exact bytes were ingested before is skipped.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Train(cmd.Context(), args, opts)
		},
	}
}

func learnCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "learn TITLE...",
		Short: "Fetch, clean and train on Wikipedia pages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Learn(cmd.Context(), args, force, opts)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Re-clean pages that were cleaned before")

	return cmd
}

func generateCmd() *cobra.Command {
	var maxLength int
	var rngSeed int64

	cmd := &cobra.Command{
		Use:   "generate SEED...",
		Short: "Generate one sentence per seed",
		Long: `Generate one sentence per seed.

Each seed must be at least one context length long. Generation stops at '.',
at --max-length characters, or when the trailing context was never seen.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Generate(cmd.Context(), args, maxLength, rngSeed, opts)
		},
	}

	cmd.Flags().IntVarP(&maxLength, "max-length", "n", 0, "Maximum sentence length (default generate.max_length)")
	cmd.Flags().Int64Var(&rngSeed, "rng-seed", -1, "Random seed for reproducible output (-1 for random)")

	return cmd
}

func topCmd() *cobra.Command {
	var limit int
	var format string

	cmd := &cobra.Command{
		Use:   "top",
		Short: "Show the most frequent records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Top(cmd.Context(), limit, format, opts)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "Number of records")
	cmd.Flags().StringVarP(&format, "format", "o", cli.FormatTable, "Output format: table, json, yaml")

	return cmd
}

func statsCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show table-wide counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Stats(cmd.Context(), format, opts)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "o", cli.FormatTable, "Output format: table, json, yaml")

	return cmd
}

func historyCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show ingested corpora, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.History(cmd.Context(), format, opts)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "o", cli.FormatTable, "Output format: table, json, yaml")

	return cmd
}

func replCmd() *cobra.Command {
	var rngSeed int64

	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Interactive generation with history and context completion",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Repl(cmd.Context(), rngSeed, opts)
		},
	}

	cmd.Flags().Int64Var(&rngSeed, "rng-seed", -1, "Random seed for reproducible output (-1 for random)")

	return cmd
}
