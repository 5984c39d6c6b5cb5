package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/M-Abdullah-Amjad/filer-pak/internal/app"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/config"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/logger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	EnvFile string
	User    string
	Format  string // "json" | "text"

	// app is built in PersistentPreRunE unless a test set it.
	app   *app.App
	owned bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for filingctl.
func NewRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "filingctl",
		Short:         "Operate on tax filings from the command line",
		Long:          "filingctl drives the filing engine directly against the configured store backend.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if opts.app != nil {
				return nil
			}
			cfg, err := config.Load(opts.EnvFile)
			if err != nil {
				return err
			}
			log := logger.New(logger.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON, Out: os.Stderr})
			ctx := logger.WithContext(cmd.Context(), log)
			cmd.SetContext(ctx)

			a, err := app.New(ctx, cfg, log)
			if err != nil {
				return err
			}
			opts.app, opts.owned = a, true
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.owned {
				return opts.app.Close()
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env", ".env", "path to a .env file (ignored when missing)")
	cmd.PersistentFlags().StringVarP(&opts.User, "user", "u", os.Getenv("FILER_USER"), "user id the filing belongs to")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	// Add subcommands
	cmd.AddCommand(newCreateCommand(opts))
	cmd.AddCommand(newListCommand(opts))
	cmd.AddCommand(newStateCommand(opts))
	cmd.AddCommand(newAdvanceCommand(opts))
	cmd.AddCommand(newDeclareNoneCommand(opts))
	cmd.AddCommand(newRecordCommand(opts))
	cmd.AddCommand(newFinalizeCommand(opts))
	cmd.AddCommand(newAmendCommand(opts))
	cmd.AddCommand(newProofCommand(opts))
	cmd.AddCommand(newReviewQueueCommand(opts))
	cmd.AddCommand(newRulesCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// requireUser returns the --user flag or an error.
func (o *RootOptions) requireUser() (string, error) {
	if o.User == "" {
		return "", fmt.Errorf("--user (or FILER_USER) is required")
	}
	return o.User, nil
}

// emit writes v as indented JSON or through the text printer.
func (o *RootOptions) emit(w io.Writer, v any, text func(io.Writer)) error {
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
