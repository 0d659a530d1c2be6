package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/campushub/campus-hub/internal/bootstrap"
	"github.com/campushub/campus-hub/internal/domain/achievement"
	"github.com/campushub/campus-hub/internal/infrastructure/catalog"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCHEMA + CATALOG
// ══════════════════════════════════════════════════════════════════════════════

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply storage schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			out := printer{format: rootOpts.Format, w: cmd.OutOrStdout()}

			stores, err := bootstrap.OpenStores(cmd.Context(), cfg.Database, nil, rootOpts.newLogger(cmd, cfg))
			if err != nil {
				return WrapExitError(ExitCommandError, "open storage", err)
			}
			defer stores.Close()

			if stores.Migrate != nil {
				if err := stores.Migrate(cmd.Context()); err != nil {
					return WrapExitError(ExitCommandError, "migrate", err)
				}
			}

			if out.json() {
				return out.encode(map[string]string{"driver": stores.Driver, "status": "up_to_date"})
			}
			out.ok("schema up to date (%s)", stores.Driver)
			return nil
		},
	}
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Write the achievement catalog into storage",
		Long: `Load the catalog (ACHIEVEMENTS_FILE or the built-in definitions),
validate it and upsert it into the SQL store.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			out := printer{format: rootOpts.Format, w: cmd.OutOrStdout()}
			ctx := cmd.Context()

			stores, err := bootstrap.OpenStores(ctx, cfg.Database, nil, rootOpts.newLogger(cmd, cfg))
			if err != nil {
				return WrapExitError(ExitCommandError, "open storage", err)
			}
			defer stores.Close()

			if stores.Seeder == nil {
				return NewExitError(ExitCommandError, fmt.Sprintf("driver %q has no persistent catalog", stores.Driver))
			}
			if stores.Migrate != nil {
				if err := stores.Migrate(ctx); err != nil {
					return WrapExitError(ExitCommandError, "migrate", err)
				}
			}

			registry := achievement.DefaultRegistry()
			n, err := catalog.Seed(ctx, bootstrap.CatalogSource(cfg.Engine, registry), stores.Seeder, registry)
			if err != nil {
				return WrapExitError(ExitCommandError, "seed catalog", err)
			}

			if out.json() {
				return out.encode(map[string]int{"seeded": n})
			}
			out.ok("seeded %d achievement definitions", n)
			return nil
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// RECONCILIATION
// ══════════════════════════════════════════════════════════════════════════════

// NewReconcileCommand creates the reconcile command. It exits with
// ExitFailure when any issue is found.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Compare aggregates with ledger sums and find missing bonuses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := rootOpts.runtime(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			out := printer{format: rootOpts.Format, w: cmd.OutOrStdout()}

			report, err := rt.Engine.Reconcile(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "reconcile", err)
			}

			if out.json() {
				if err := out.encode(report); err != nil {
					return err
				}
			} else {
				for _, d := range report.Divergences {
					out.fail("DIVERGENCE  %-24s aggregate=%d ledger=%d drift=%+d", d.UserID, d.AggregatePoints, d.LedgerPoints, d.Drift())
				}
				for _, mb := range report.MissingBonuses {
					out.warn("MISSING     %-24s %s (+%d) unlocked %s", mb.UserID, mb.Name, mb.Bonus, mb.UnlockedAt.Format("2006-01-02 15:04:05"))
				}
				if !report.HasIssues() {
					out.ok("ledger consistent")
				}
				out.dim("checked at %s", report.CheckedAt.Format("2006-01-02 15:04:05 MST"))
			}

			if report.HasIssues() {
				return NewExitError(ExitFailure, fmt.Sprintf("reconciliation found %d divergence(s) and %d missing bonus(es)",
					len(report.Divergences), len(report.MissingBonuses)))
			}
			return nil
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// READS
// ══════════════════════════════════════════════════════════════════════════════

// NewLeaderboardCommand creates the leaderboard command.
func NewLeaderboardCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Print the top of the leaderboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := rootOpts.runtime(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			out := printer{format: rootOpts.Format, w: cmd.OutOrStdout()}

			res, err := rt.Engine.GetLeaderboard(cmd.Context(), limit)
			if err != nil {
				return WrapExitError(ExitCommandError, "leaderboard", err)
			}

			if out.json() {
				return out.encode(res)
			}
			if len(res.Entries) == 0 {
				out.dim("no users yet")
				return nil
			}
			out.dim("%-6s %-24s %8s %6s", "RANK", "USER", "POINTS", "LEVEL")
			for _, e := range res.Entries {
				out.plain("%-6s %-24s %8d %6d", e.Rank.String(), e.UserID, e.Points, e.Level)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of entries (max 100)")
	return cmd
}

// NewRankCommand creates the rank command.
func NewRankCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rank <user-id>",
		Short: "Print a user's rank, balance and level",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := rootOpts.runtime(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			out := printer{format: rootOpts.Format, w: cmd.OutOrStdout()}

			res, err := rt.Engine.GetRank(cmd.Context(), args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "rank", err)
			}

			if out.json() {
				return out.encode(res)
			}
			out.plain("%s is %s of %d with %d points (level %d)", res.UserID, res.Rank.String(), res.TotalUsers, res.Points, res.Level)
			return nil
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// WRITES
// ══════════════════════════════════════════════════════════════════════════════

// NewAwardCommand creates the award command. With --spend it debits instead.
func NewAwardCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		reason    string
		reference string
		spend     bool
	)

	cmd := &cobra.Command{
		Use:   "award <user-id> <points>",
		Short: "Credit (or with --spend, debit) points manually",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.Atoi(args[1])
			if err != nil {
				return NewExitError(ExitCommandError, fmt.Sprintf("points must be an integer, got %q", args[1]))
			}

			rt, err := rootOpts.runtime(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			out := printer{format: rootOpts.Format, w: cmd.OutOrStdout()}

			award := rt.Engine.AwardPoints
			if spend {
				award = rt.Engine.SpendPoints
			}
			res, err := award(cmd.Context(), args[0], amount, reason, reference)
			if err != nil {
				return WrapExitError(ExitCommandError, "append transaction", err)
			}

			if out.json() {
				return out.encode(res)
			}
			out.ok("%s: %d -> %d points (level %d)", args[0], res.PreviousPoints, res.Points, res.Level)
			if res.LeveledUp {
				out.ok("level up!")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "manual_adjustment", "ledger reason")
	cmd.Flags().StringVar(&reference, "reference", "", "reference id")
	cmd.Flags().BoolVar(&spend, "spend", false, "debit instead of credit")
	return cmd
}

// NewEvaluateCommand creates the evaluate command.
func NewEvaluateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate <user-id>",
		Short: "Run the achievement evaluator for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := rootOpts.runtime(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			out := printer{format: rootOpts.Format, w: cmd.OutOrStdout()}

			res, err := rt.Engine.EvaluateAchievements(cmd.Context(), args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "evaluate", err)
			}

			if out.json() {
				return out.encode(res)
			}
			if res.StatsUnavailable {
				out.warn("stats provider unavailable, nothing evaluated")
				return nil
			}
			if !res.HasNewAchievements() {
				out.dim("no new achievements")
				return nil
			}
			for _, u := range res.Unlocked {
				out.ok("unlocked %s (+%d)", u.Name, u.PointsRequired)
			}
			return nil
		},
	}
}
