// Package engine is the public surface of the points engine. It wires the
// award command, the achievement flow and the read queries behind one facade
// and wraps every operation in a tracing span.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/campushub/campus-hub/internal/application/command"
	"github.com/campushub/campus-hub/internal/application/query"
	"github.com/campushub/campus-hub/internal/application/saga"
	"github.com/campushub/campus-hub/internal/domain/achievement"
	"github.com/campushub/campus-hub/internal/domain/leaderboard"
	"github.com/campushub/campus-hub/internal/domain/points"
	"github.com/campushub/campus-hub/internal/domain/shared"
	"github.com/campushub/campus-hub/pkg/logger"
)

const tracerName = "github.com/campushub/campus-hub/internal/application/engine"

// Dependencies are the collaborators of the engine. Ledger, Leaderboard,
// Catalog and Unlocks are required; the rest are optional.
type Dependencies struct {
	Ledger       points.Ledger
	Leaderboard  leaderboard.Reader
	Catalog      achievement.CatalogSource
	Unlocks      achievement.UnlockRepository
	Auditor      points.Auditor
	BonusAuditor achievement.BonusAuditor

	Stats     achievement.StatsProvider
	Registry  *achievement.Registry
	Directory points.UserDirectory
	Cache     leaderboard.Cache
	Events    shared.EventPublisher

	IDGenerator command.IDGenerator
	Clock       func() time.Time
	Logger      *slog.Logger
	Tracer      trace.Tracer
}

// Options tune engine behavior.
type Options struct {
	StatsTimeout          time.Duration
	EnableAchievements    bool
	EnableBonuses         bool
	MaxAchievementsPerRun int

	// AchievementsFor, when set, limits evaluation to the users it accepts.
	AchievementsFor func(userID string) bool
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		StatsTimeout:       saga.DefaultStatsTimeout,
		EnableAchievements: true,
		EnableBonuses:      true,
	}
}

// Engine is the points engine facade.
type Engine struct {
	award        *command.AwardPointsHandler
	achievements *saga.AchievementFlowSaga
	userPoints   *query.GetUserPointsHandler
	history      *query.GetPointsHistoryHandler
	board        *query.GetLeaderboardHandler
	rank         *query.GetUserRankHandler
	listing      *query.ListAchievementsHandler

	auditor      points.Auditor
	bonusAuditor achievement.BonusAuditor
	catalog      achievement.CatalogSource

	enableAchievements bool
	achievementsFor    func(userID string) bool
	clock              func() time.Time
	tracer             trace.Tracer
	logger             *slog.Logger
}

// New builds an engine.
func New(deps Dependencies, opts Options) (*Engine, error) {
	switch {
	case deps.Ledger == nil:
		return nil, errors.New("engine: ledger is required")
	case deps.Leaderboard == nil:
		return nil, errors.New("engine: leaderboard reader is required")
	case deps.Catalog == nil:
		return nil, errors.New("engine: catalog is required")
	case deps.Unlocks == nil:
		return nil, errors.New("engine: unlock repository is required")
	}

	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return time.Now().UTC() }
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(tracerName)
	}
	if deps.Registry == nil {
		deps.Registry = achievement.DefaultRegistry()
	}

	award := command.NewAwardPointsHandler(deps.Ledger, command.AwardPointsHandlerConfig{
		Directory:      deps.Directory,
		Cache:          deps.Cache,
		EventPublisher: deps.Events,
		IDGenerator:    deps.IDGenerator,
		Clock:          deps.Clock,
		Logger:         deps.Logger,
	})

	flow := saga.NewAchievementFlowSaga(
		deps.Stats,
		deps.Catalog,
		deps.Registry,
		deps.Unlocks,
		award,
		deps.Events,
		saga.AchievementFlowConfig{
			StatsTimeout:          opts.StatsTimeout,
			EnableBonuses:         opts.EnableBonuses,
			MaxAchievementsPerRun: opts.MaxAchievementsPerRun,
			Clock:                 deps.Clock,
			Logger:                deps.Logger,
		},
	)

	return &Engine{
		award:              award,
		achievements:       flow,
		userPoints:         query.NewGetUserPointsHandler(deps.Ledger),
		history:            query.NewGetPointsHistoryHandler(deps.Ledger),
		board:              query.NewGetLeaderboardHandler(deps.Leaderboard, deps.Cache, deps.Logger),
		rank:               query.NewGetUserRankHandler(deps.Leaderboard, deps.Ledger),
		listing:            query.NewListAchievementsHandler(deps.Catalog, deps.Unlocks),
		auditor:            deps.Auditor,
		bonusAuditor:       deps.BonusAuditor,
		catalog:            deps.Catalog,
		enableAchievements: opts.EnableAchievements,
		achievementsFor:    opts.AchievementsFor,
		clock:              deps.Clock,
		tracer:             deps.Tracer,
		logger:             deps.Logger.With(logger.Component("engine")),
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// WRITES
// ══════════════════════════════════════════════════════════════════════════════

// AwardPoints credits amount points to userID.
func (e *Engine) AwardPoints(ctx context.Context, userID string, amount int, reason, referenceID string) (res *command.AwardPointsResult, err error) {
	ctx, span := e.start(ctx, "AwardPoints", userID, attribute.Int("points.amount", amount), attribute.String("points.reason", reason))
	defer func() { finish(span, err) }()

	return e.award.Handle(ctx, command.AwardPointsCommand{
		UserID:      userID,
		Points:      amount,
		Kind:        points.KindEarned,
		Reason:      reason,
		ReferenceID: referenceID,
	})
}

// SpendPoints debits amount points from userID. The balance never goes
// below zero.
func (e *Engine) SpendPoints(ctx context.Context, userID string, amount int, reason, referenceID string) (res *command.AwardPointsResult, err error) {
	ctx, span := e.start(ctx, "SpendPoints", userID, attribute.Int("points.amount", amount), attribute.String("points.reason", reason))
	defer func() { finish(span, err) }()

	return e.award.Handle(ctx, command.AwardPointsCommand{
		UserID:      userID,
		Points:      amount,
		Kind:        points.KindSpent,
		Reason:      reason,
		ReferenceID: referenceID,
	})
}

// EvaluateAchievements unlocks every achievement userID now qualifies for.
// An unavailable stats provider yields an empty result and no error.
func (e *Engine) EvaluateAchievements(ctx context.Context, userID string) (res *saga.AchievementFlowResult, err error) {
	ctx, span := e.start(ctx, "EvaluateAchievements", userID)
	defer func() { finish(span, err) }()

	if !e.enableAchievements || (e.achievementsFor != nil && !e.achievementsFor(userID)) {
		return &saga.AchievementFlowResult{UserID: userID, Unlocked: []saga.NewlyUnlocked{}, ProcessedAt: e.clock()}, nil
	}

	res, err = e.achievements.Execute(ctx, userID)
	if err != nil {
		if step, ok := saga.FailedStep(err); ok {
			span.SetAttributes(attribute.String("achievements.failed_step", string(step)))
		}
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("achievements.unlocked", len(res.Unlocked)),
		attribute.Bool("achievements.stats_unavailable", res.StatsUnavailable),
	)
	return res, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// READS
// ══════════════════════════════════════════════════════════════════════════════

// GetUserPoints returns the balance and level of userID.
func (e *Engine) GetUserPoints(ctx context.Context, userID string) (res *query.GetUserPointsResult, err error) {
	ctx, span := e.start(ctx, "GetUserPoints", userID)
	defer func() { finish(span, err) }()

	return e.userPoints.Handle(ctx, query.GetUserPointsQuery{UserID: userID})
}

// GetPointsHistory returns one page of userID's transactions, newest first.
func (e *Engine) GetPointsHistory(ctx context.Context, userID string, page, limit int) (res *query.GetPointsHistoryResult, err error) {
	ctx, span := e.start(ctx, "GetPointsHistory", userID)
	defer func() { finish(span, err) }()

	return e.history.Handle(ctx, query.GetPointsHistoryQuery{UserID: userID, Page: page, Limit: limit})
}

// GetLeaderboard returns the top limit users.
func (e *Engine) GetLeaderboard(ctx context.Context, limit int) (res *query.GetLeaderboardResult, err error) {
	ctx, span := e.start(ctx, "GetLeaderboard", "", attribute.Int("leaderboard.limit", limit))
	defer func() { finish(span, err) }()

	res, err = e.board.Handle(ctx, query.GetLeaderboardQuery{Limit: limit})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Bool("leaderboard.from_cache", res.FromCache))
	return res, nil
}

// GetRank returns userID's 1-based position in the full ordering.
func (e *Engine) GetRank(ctx context.Context, userID string) (res *query.GetUserRankResult, err error) {
	ctx, span := e.start(ctx, "GetRank", userID)
	defer func() { finish(span, err) }()

	return e.rank.Handle(ctx, query.GetUserRankQuery{UserID: userID})
}

// ListUnlockedAchievements returns userID's unlocked achievements.
func (e *Engine) ListUnlockedAchievements(ctx context.Context, userID string) (res []achievement.UnlockedAchievement, err error) {
	ctx, span := e.start(ctx, "ListUnlockedAchievements", userID)
	defer func() { finish(span, err) }()

	return e.listing.Unlocked(ctx, query.ListAchievementsQuery{UserID: userID})
}

// ListAvailableAchievements returns active achievements userID has not
// unlocked yet.
func (e *Engine) ListAvailableAchievements(ctx context.Context, userID string) (res []achievement.Definition, err error) {
	ctx, span := e.start(ctx, "ListAvailableAchievements", userID)
	defer func() { finish(span, err) }()

	return e.listing.Available(ctx, query.ListAchievementsQuery{UserID: userID})
}

// ListCatalog returns every active achievement.
func (e *Engine) ListCatalog(ctx context.Context) (res []achievement.Definition, err error) {
	ctx, span := e.start(ctx, "ListCatalog", "")
	defer func() { finish(span, err) }()

	return e.listing.Catalog(ctx)
}

// CatalogInvalidator is implemented by catalogs that keep a cached copy.
type CatalogInvalidator interface {
	Invalidate()
}

// ReloadCatalog drops any cached catalog copy and reads the source again,
// so definitions seeded by another process are served without waiting for
// the cache to expire. It returns the number of definitions now served.
func (e *Engine) ReloadCatalog(ctx context.Context) (n int, err error) {
	ctx, span := e.start(ctx, "ReloadCatalog", "")
	defer func() { finish(span, err) }()

	if inv, ok := e.catalog.(CatalogInvalidator); ok {
		inv.Invalidate()
	}
	defs, err := e.catalog.LoadDefinitions(ctx)
	if err != nil {
		return 0, err
	}
	e.logger.InfoContext(ctx, "achievement catalog reloaded", "definitions", len(defs))
	return len(defs), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RECONCILIATION
// ══════════════════════════════════════════════════════════════════════════════

// ReconcileReport lists inconsistencies found by Reconcile. Nothing is
// corrected.
type ReconcileReport struct {
	Divergences    []points.Divergence        `json:"divergences"`
	MissingBonuses []achievement.MissingBonus `json:"missing_bonuses"`
	CheckedAt      time.Time                  `json:"checked_at"`
}

// HasIssues reports whether anything needs attention.
func (r *ReconcileReport) HasIssues() bool {
	return len(r.Divergences) > 0 || len(r.MissingBonuses) > 0
}

// Reconcile compares every aggregate with its ledger sum and every bonus
// unlock with its bonus transaction.
func (e *Engine) Reconcile(ctx context.Context) (report *ReconcileReport, err error) {
	ctx, span := e.start(ctx, "Reconcile", "")
	defer func() { finish(span, err) }()

	report = &ReconcileReport{
		Divergences:    []points.Divergence{},
		MissingBonuses: []achievement.MissingBonus{},
		CheckedAt:      e.clock(),
	}

	if e.auditor != nil {
		divs, err := e.auditor.Divergences(ctx)
		if err != nil {
			return nil, fmt.Errorf("reconcile ledger: %w", err)
		}
		report.Divergences = append(report.Divergences, divs...)
	}

	if e.bonusAuditor != nil {
		defs, err := e.catalog.LoadDefinitions(ctx)
		if err != nil {
			return nil, fmt.Errorf("reconcile catalog: %w", err)
		}
		missing, err := e.bonusAuditor.MissingBonuses(ctx, defs)
		if err != nil {
			return nil, fmt.Errorf("reconcile bonuses: %w", err)
		}
		report.MissingBonuses = append(report.MissingBonuses, missing...)
	}

	for _, d := range report.Divergences {
		e.logger.Error("ledger divergence",
			logger.UserID(d.UserID),
			"aggregate", d.AggregatePoints,
			"ledger", d.LedgerPoints,
			"error", shared.ErrLedgerDivergence,
		)
	}
	for _, m := range report.MissingBonuses {
		e.logger.Error("achievement bonus missing",
			logger.UserID(m.UserID),
			logger.AchievementID(m.AchievementID),
			"bonus", m.Bonus,
		)
	}

	span.SetAttributes(
		attribute.Int("reconcile.divergences", len(report.Divergences)),
		attribute.Int("reconcile.missing_bonuses", len(report.MissingBonuses)),
	)
	return report, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// TRACING
// ══════════════════════════════════════════════════════════════════════════════

func (e *Engine) start(ctx context.Context, op, userID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if userID != "" {
		attrs = append(attrs, attribute.String("user.id", userID))
	}
	e.logger.DebugContext(ctx, "engine call", logger.Operation(op), logger.UserID(userID))
	return e.tracer.Start(ctx, "engine."+op, trace.WithAttributes(attrs...))
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
