package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/M-Abdullah-Amjad/filer-pak/internal/filing"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/gcs"
)

func newProofCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proof",
		Short: "Upload and scan payment proofs",
	}
	cmd.AddCommand(newProofUploadCommand(opts), newProofScanCommand(opts))
	return cmd
}

func newProofUploadCommand(opts *RootOptions) *cobra.Command {
	var (
		amount  string
		version int64
	)
	cmd := &cobra.Command{
		Use:   "upload <filing-id> <file>",
		Short: "Upload a payment proof to GCS and attach it to a filing",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			if opts.app.Storage == nil {
				return fmt.Errorf("proof storage is not configured: set GCS_BUCKET")
			}
			declared, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("invalid --amount %q: %w", amount, err)
			}
			f, err := opts.app.Manager.Get(ctx, args[0])
			if err != nil {
				return err
			}

			data, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[1], err)
			}
			contentType := http.DetectContentType(data)
			if err := gcs.ValidateProof(contentType, int64(len(data))); err != nil {
				return err
			}

			ref, err := opts.app.Storage.UploadProof(ctx, f.UserID, f.ID, filepath.Base(args[1]), contentType, bytes.NewReader(data))
			if err != nil {
				return err
			}
			out, err := opts.app.Manager.AttachPaymentProof(ctx, f.ID, filing.ProofInput{DocumentRef: ref, DeclaredAmount: declared}, version)
			if err != nil {
				return err
			}
			return opts.emit(cmd.OutOrStdout(), out, func(w io.Writer) {
				fmt.Fprintf(w, "Uploaded %s to %s\n", args[1], ref)
				printFiling(w, out)
			})
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "amount declared as paid")
	cmd.Flags().Int64Var(&version, "version", 0, "expected filing version")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func newProofScanCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scan <document-ref>",
		Short: "Read the paid amount off a stored payment proof",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.app.Scanner == nil {
				return fmt.Errorf("proof scanning is not configured: set GCS_BUCKET and Gemini credentials")
			}
			r, err := opts.app.Scanner.Scan(commandContext(cmd), args[0])
			if err != nil {
				return err
			}
			return opts.emit(cmd.OutOrStdout(), r, func(w io.Writer) {
				fmt.Fprintf(w, "amount     %s %s\n", r.Amount.StringFixed(2), r.Currency)
				fmt.Fprintf(w, "reference  %s\n", r.Reference)
				if r.Bank != "" {
					fmt.Fprintf(w, "bank       %s\n", r.Bank)
				}
				if r.PaidOn != nil {
					fmt.Fprintf(w, "paid on    %s\n", r.PaidOn)
				}
			})
		},
	}
}
