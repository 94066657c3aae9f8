package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"dompet/internal/core"
	"dompet/internal/ledger"
	"dompet/internal/storage/sqlite"
)

func newMigrateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			version, err := sqlite.RunMigrations(cfg.SQLiteDBPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d (%s)\n", version, cfg.SQLiteDBPath)
			return nil
		},
	}
}

func newSeedCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the default categories for a user without any",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, err := userFlag(cmd)
			if err != nil {
				return err
			}
			svc, closeFn, err := opts.openService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			seeded, err := svc.SeedDefaults(commandContext(cmd), user)
			if err != nil {
				return err
			}
			if seeded {
				fmt.Fprintf(cmd.OutOrStdout(), "seeded default categories for %s\n", user)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already has categories, nothing to do\n", user)
			}
			return nil
		},
	}
	cmd.Flags().String("user", "", "user id")
	return cmd
}

func newReconcileCmd(opts *options) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Recompute balances from history and fix drift",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, err := userFlag(cmd)
			if err != nil {
				return err
			}
			svc, closeFn, err := opts.openService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			ctx := commandContext(cmd)
			var report ledger.Report
			if dryRun {
				report, err = svc.Verify(ctx, user)
			} else {
				report, err = svc.Reconcile(ctx, user)
			}
			if err != nil {
				return err
			}
			printReport(cmd, report, dryRun)
			return nil
		},
	}
	cmd.Flags().String("user", "", "user id")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report drift without writing")
	return cmd
}

func newBalancesCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balances",
		Short: "List payment method balances of a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, err := userFlag(cmd)
			if err != nil {
				return err
			}
			svc, closeFn, err := opts.openService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			methods, err := svc.ListPaymentMethods(commandContext(cmd), user)
			if err != nil {
				return err
			}
			if len(methods) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%s has no payment methods\n", user)
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tBALANCE")
			for _, m := range methods {
				fmt.Fprintf(w, "%s\t%s\t%s\n", m.ID, m.Name, m.Balance.StringFixed(core.AmountPlaces))
			}
			return w.Flush()
		},
	}
	cmd.Flags().String("user", "", "user id")
	return cmd
}

func printReport(cmd *cobra.Command, report ledger.Report, dryRun bool) {
	out := cmd.OutOrStdout()
	drifted := report.Drifted()
	if len(drifted) == 0 {
		fmt.Fprintf(out, "%s: %d payment methods, no drift\n", report.UserID, len(report.Methods))
		return
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTORED\tREPLAYED\tDRIFT")
	for _, m := range drifted {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", m.PaymentMethodID, m.Name,
			m.Previous.StringFixed(core.AmountPlaces),
			m.Replayed.StringFixed(core.AmountPlaces),
			m.Drift.StringFixed(core.AmountPlaces))
	}
	_ = w.Flush()
	switch {
	case dryRun:
		fmt.Fprintf(out, "dry run: %d drifted, nothing written\n", len(drifted))
	case report.Applied:
		fmt.Fprintf(out, "corrected %d drifted balances\n", len(drifted))
	}
}
