package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/M-Abdullah-Amjad/filer-pak/internal/domain"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/filing"
)

func newCreateCommand(opts *RootOptions) *cobra.Command {
	var year int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an original filing for a tax year",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := opts.requireUser()
			if err != nil {
				return err
			}
			f, err := opts.app.Manager.CreateFiling(commandContext(cmd), user, year)
			if err != nil {
				return err
			}
			return opts.emit(cmd.OutOrStdout(), f, func(w io.Writer) { printFiling(w, f) })
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "tax year")
	_ = cmd.MarkFlagRequired("year")
	return cmd
}

func newListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the filings of a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := opts.requireUser()
			if err != nil {
				return err
			}
			fs, err := opts.app.Manager.ListFilings(commandContext(cmd), user)
			if err != nil {
				return err
			}
			return opts.emit(cmd.OutOrStdout(), fs, func(w io.Writer) {
				if len(fs) == 0 {
					fmt.Fprintln(w, "No filings.")
				}
				for _, f := range fs {
					printFiling(w, f)
				}
			})
		},
	}
}

func newStateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "state <filing-id>",
		Short: "Show the checklist, snapshot and finalization status of a filing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.app.Engine.GetFilingState(commandContext(cmd), args[0])
			if err != nil {
				return err
			}
			return opts.emit(cmd.OutOrStdout(), st, func(w io.Writer) { printState(w, st) })
		},
	}
}

func newAdvanceCommand(opts *RootOptions) *cobra.Command {
	var version int64
	cmd := &cobra.Command{
		Use:   "advance <filing-id> <step>",
		Short: "Move a filing to a workflow step",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := opts.app.Manager.AdvanceStep(commandContext(cmd), args[0], domain.StepID(args[1]), version)
			if err != nil {
				return err
			}
			return opts.emit(cmd.OutOrStdout(), f, func(w io.Writer) { printFiling(w, f) })
		},
	}
	cmd.Flags().Int64Var(&version, "version", 0, "expected filing version")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func newDeclareNoneCommand(opts *RootOptions) *cobra.Command {
	var (
		version int64
		none    bool
	)
	cmd := &cobra.Command{
		Use:   "declare-none <filing-id> <family>",
		Short: "Declare that a filing has no records of a family",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fam, err := domain.ParseFamily(args[1])
			if err != nil {
				return err
			}
			f, err := opts.app.Manager.DeclareNone(commandContext(cmd), args[0], fam, none, version)
			if err != nil {
				return err
			}
			return opts.emit(cmd.OutOrStdout(), f, func(w io.Writer) { printFiling(w, f) })
		},
	}
	cmd.Flags().Int64Var(&version, "version", 0, "expected filing version")
	cmd.Flags().BoolVar(&none, "none", true, "set to false to withdraw the declaration")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func newRecordCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Manage category records",
	}

	var (
		id       string
		tag      string
		fields   []string
		currency string
		note     string
	)
	put := &cobra.Command{
		Use:   "put <filing-id>",
		Short: "Create or replace a category record and recompute the filing",
		Long: `Create or replace a category record and recompute the filing.

Fields are given as name=value, for example:
  filingctl record put F1 --tag salary --field amount=100000
  filingctl record put F1 --tag rent --field gross_rent=60000 --field repairs=5000`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			filingID := args[0]
			t, err := domain.ParseTag(tag)
			if err != nil {
				return err
			}
			amounts, err := parseFields(fields)
			if err != nil {
				return err
			}
			f, err := opts.app.Manager.Get(ctx, filingID)
			if err != nil {
				return err
			}
			if f.IsFinalized() {
				return domain.FilingLocked("record put", filingID)
			}

			rec, err := opts.app.Records.PutRecord(ctx, domain.CategoryRecord{
				ID:       id,
				FilingID: filingID,
				Tag:      t,
				Amounts:  amounts,
				Currency: currency,
				Note:     note,
			})
			if err != nil {
				return err
			}
			snap, err := opts.app.Engine.NotifyRecordChanged(ctx, filingID, string(t))
			if err != nil {
				return err
			}
			out := struct {
				Record   domain.CategoryRecord `json:"record"`
				Snapshot domain.Snapshot       `json:"snapshot"`
			}{rec, snap}
			return opts.emit(cmd.OutOrStdout(), out, func(w io.Writer) {
				fmt.Fprintf(w, "Record %s (%s) saved.\n", rec.ID, rec.Tag)
				printSnapshot(w, &snap)
			})
		},
	}
	put.Flags().StringVar(&id, "id", "", "record id to replace (a new id is generated when empty)")
	put.Flags().StringVar(&tag, "tag", "", "category tag")
	put.Flags().StringArrayVar(&fields, "field", nil, "amount field as name=value (repeatable)")
	put.Flags().StringVar(&currency, "currency", "", "record currency (defaults to the filing currency)")
	put.Flags().StringVar(&note, "note", "", "free-form note")
	_ = put.MarkFlagRequired("tag")

	del := &cobra.Command{
		Use:   "delete <filing-id> <record-id> <tag>",
		Short: "Delete a category record and recompute the filing",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			f, err := opts.app.Manager.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if f.IsFinalized() {
				return domain.FilingLocked("record delete", args[0])
			}
			if err := opts.app.Records.DeleteRecord(ctx, args[0], args[1]); err != nil {
				return err
			}
			snap, err := opts.app.Engine.NotifyRecordChanged(ctx, args[0], args[2])
			if err != nil {
				return err
			}
			return opts.emit(cmd.OutOrStdout(), snap, func(w io.Writer) {
				fmt.Fprintf(w, "Record %s deleted.\n", args[1])
				printSnapshot(w, &snap)
			})
		},
	}

	cmd.AddCommand(put, del)
	return cmd
}

func newFinalizeCommand(opts *RootOptions) *cobra.Command {
	var version int64
	cmd := &cobra.Command{
		Use:   "finalize <filing-id>",
		Short: "Finalize a filing once every gate check passes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			var (
				f   *domain.Filing
				err error
			)
			if cmd.Flags().Changed("version") {
				f, err = opts.app.Engine.Finalize(ctx, args[0], version)
			} else {
				f, err = opts.app.Engine.RequestFinalize(ctx, args[0])
			}
			if err != nil {
				return err
			}
			return opts.emit(cmd.OutOrStdout(), f, func(w io.Writer) { printFiling(w, f) })
		},
	}
	cmd.Flags().Int64Var(&version, "version", 0, "expected filing version (defaults to the stored version)")
	return cmd
}

func newAmendCommand(opts *RootOptions) *cobra.Command {
	var version int64
	cmd := &cobra.Command{
		Use:   "amend <filing-id>",
		Short: "Open an amendment of a finalized filing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := opts.app.Manager.Amend(commandContext(cmd), args[0], version)
			if err != nil {
				return err
			}
			return opts.emit(cmd.OutOrStdout(), f, func(w io.Writer) { printFiling(w, f) })
		},
	}
	cmd.Flags().Int64Var(&version, "version", 0, "expected version of the finalized filing")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func newReviewQueueCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "review-queue",
		Short: "List filings whose payment proof awaits review",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, err := opts.app.Manager.PendingReview(commandContext(cmd))
			if err != nil {
				return err
			}
			return opts.emit(cmd.OutOrStdout(), fs, func(w io.Writer) {
				if len(fs) == 0 {
					fmt.Fprintln(w, "Review queue is empty.")
				}
				for _, f := range fs {
					p := f.PaymentProof
					fmt.Fprintf(w, "%s  user=%s year=%d declared=%s proof=%s submitted=%s\n",
						f.ID, f.UserID, f.Year, p.DeclaredAmount.StringFixed(2), p.DocumentRef,
						p.SubmittedAt.Format("2006-01-02 15:04"))
				}
			})
		},
	}
}

func newRulesCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "List the tax years the engine has rules for",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			years := opts.app.Rules.Years()
			return opts.emit(cmd.OutOrStdout(), years, func(w io.Writer) {
				for _, y := range years {
					r, _ := opts.app.Rules.Lookup(y)
					fmt.Fprintf(w, "%d  %s\n", y, r.Version)
				}
			})
		},
	}
}

// parseFields turns name=value pairs into record amounts.
func parseFields(fields []string) (map[string]decimal.Decimal, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("at least one --field is required")
	}
	out := make(map[string]decimal.Decimal, len(fields))
	for _, kv := range fields {
		name, value, ok := strings.Cut(kv, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --field %q: want name=value", kv)
		}
		d, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("invalid --field %q: %w", kv, err)
		}
		out[name] = d
	}
	return out, nil
}

func printFiling(w io.Writer, f *domain.Filing) {
	fmt.Fprintf(w, "%s  user=%s year=%d rev=%d status=%s step=%s version=%d",
		f.ID, f.UserID, f.Year, f.Revision, f.Status, f.CurrentStep, f.Version)
	if f.AmendsID != "" {
		fmt.Fprintf(w, " amends=%s", f.AmendsID)
	}
	if f.SupersededBy != "" {
		fmt.Fprintf(w, " superseded_by=%s", f.SupersededBy)
	}
	fmt.Fprintln(w)
}

func printSnapshot(w io.Writer, s *domain.Snapshot) {
	if s == nil {
		fmt.Fprintln(w, "  (no snapshot yet)")
		return
	}
	fmt.Fprintf(w, "  taxable income  %s %s\n", s.TaxableIncome.StringFixed(2), s.Currency)
	fmt.Fprintf(w, "  statutory tax   %s\n", s.StatutoryTax.StringFixed(2))
	fmt.Fprintf(w, "  credits applied %s\n", s.CreditsApplied.StringFixed(2))
	fmt.Fprintf(w, "  tax payable     %s\n", s.TaxPayable.StringFixed(2))
	fmt.Fprintf(w, "  net worth       %s\n", s.NetWorth.StringFixed(2))
	fmt.Fprintf(w, "  records         %d (rules %s)\n", s.RecordCount, s.RulesVersion)
}

func printState(w io.Writer, st *filing.State) {
	fmt.Fprintf(w, "%s  user=%s year=%d rev=%d status=%s step=%s version=%d\n",
		st.ID, st.UserID, st.Year, st.Revision, st.Status, st.CurrentStep, st.Version)
	for _, s := range st.Checklist {
		mark := " "
		switch {
		case s.Complete:
			mark = "x"
		case s.Entered:
			mark = "~"
		}
		line := fmt.Sprintf("  [%s] %d. %s", mark, s.Ordinal, s.Title)
		if s.Reason != "" {
			line += "  (" + s.Reason + ")"
		}
		fmt.Fprintln(w, line)
	}
	printSnapshot(w, st.Snapshot)
	if st.CanFinalize {
		fmt.Fprintln(w, "Ready to finalize.")
		return
	}
	fmt.Fprintln(w, "Finalization blocked:")
	for _, r := range st.Reasons {
		fmt.Fprintf(w, "  - %s: %s\n", r.Code, r.Message)
	}
}
