// Package saga contains complex business processes that orchestrate
// multiple domain operations in a coordinated manner.
package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/campushub/campus-hub/internal/application/command"
	"github.com/campushub/campus-hub/internal/domain/achievement"
	"github.com/campushub/campus-hub/internal/domain/points"
	"github.com/campushub/campus-hub/internal/domain/shared"
	"github.com/campushub/campus-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT FLOW SAGA
// Flow: Fetch Stats → Load Catalog → Load Unlocks → Evaluate Criteria →
//
//	Insert Unlock → Award Bonus → Publish Event
//
// The unlock insert is the idempotency guard: only the caller whose insert
// created the row awards the bonus. A bonus that fails after its unlock
// landed is not retried here; Reconcile reports it.
// ══════════════════════════════════════════════════════════════════════════════

// DefaultStatsTimeout bounds the stats provider call.
const DefaultStatsTimeout = 2 * time.Second

// PointsAwarder is the subset of the award command the saga needs.
type PointsAwarder interface {
	Handle(ctx context.Context, cmd command.AwardPointsCommand) (*command.AwardPointsResult, error)
}

// AchievementFlowStep represents a step in the achievement flow.
type AchievementFlowStep string

const (
	StepFetchStats    AchievementFlowStep = "fetch_stats"
	StepLoadCatalog   AchievementFlowStep = "load_catalog"
	StepLoadUnlocks   AchievementFlowStep = "load_unlocks"
	StepEvaluate      AchievementFlowStep = "evaluate"
	StepUnlock        AchievementFlowStep = "unlock"
	StepAwardBonus    AchievementFlowStep = "award_bonus"
	StepPublishEvents AchievementFlowStep = "publish_events"
)

// NewlyUnlocked is one achievement unlocked by a run.
type NewlyUnlocked struct {
	achievement.Definition
	UnlockedAt   time.Time `json:"unlocked_at"`
	BonusAwarded bool      `json:"bonus_awarded"`
}

// AchievementFlowResult contains the result of one evaluation.
type AchievementFlowResult struct {
	UserID string `json:"user_id"`

	// Unlocked lists the achievements this run inserted, in catalog order.
	Unlocked []NewlyUnlocked `json:"unlocked"`

	// TotalBonus is the sum of bonuses actually credited.
	TotalBonus int `json:"total_bonus"`

	// StatsUnavailable is set when the provider failed; nothing was evaluated.
	StatsUnavailable bool `json:"stats_unavailable"`

	ProcessedAt time.Time `json:"processed_at"`
}

// HasNewAchievements returns true if any achievements were unlocked.
func (r *AchievementFlowResult) HasNewAchievements() bool {
	return len(r.Unlocked) > 0
}

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT FLOW SAGA IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// AchievementFlowSaga evaluates a user's achievements against fresh stats.
type AchievementFlowSaga struct {
	stats    achievement.StatsProvider
	catalog  achievement.CatalogSource
	registry *achievement.Registry
	unlocks  achievement.UnlockRepository
	awarder  PointsAwarder
	eventBus shared.EventPublisher
	clock    func() time.Time
	logger   *slog.Logger

	statsTimeout          time.Duration
	enableBonuses         bool
	maxAchievementsPerRun int
}

// AchievementFlowConfig contains configuration for the achievement flow saga.
type AchievementFlowConfig struct {
	StatsTimeout          time.Duration
	EnableBonuses         bool
	MaxAchievementsPerRun int
	Clock                 func() time.Time
	Logger                *slog.Logger
}

// DefaultAchievementFlowConfig returns default configuration.
func DefaultAchievementFlowConfig() AchievementFlowConfig {
	return AchievementFlowConfig{
		StatsTimeout:          DefaultStatsTimeout,
		EnableBonuses:         true,
		MaxAchievementsPerRun: 0, // no limit
	}
}

// NewAchievementFlowSaga creates a new achievement flow saga.
// eventBus may be nil.
func NewAchievementFlowSaga(
	stats achievement.StatsProvider,
	catalog achievement.CatalogSource,
	registry *achievement.Registry,
	unlocks achievement.UnlockRepository,
	awarder PointsAwarder,
	eventBus shared.EventPublisher,
	config AchievementFlowConfig,
) *AchievementFlowSaga {
	if config.StatsTimeout <= 0 {
		config.StatsTimeout = DefaultStatsTimeout
	}
	if config.Clock == nil {
		config.Clock = func() time.Time { return time.Now().UTC() }
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if registry == nil {
		registry = achievement.DefaultRegistry()
	}

	return &AchievementFlowSaga{
		stats:                 stats,
		catalog:               catalog,
		registry:              registry,
		unlocks:               unlocks,
		awarder:               awarder,
		eventBus:              eventBus,
		clock:                 config.Clock,
		logger:                config.Logger.With(logger.Component("achievement_flow")),
		statsTimeout:          config.StatsTimeout,
		enableBonuses:         config.EnableBonuses,
		maxAchievementsPerRun: config.MaxAchievementsPerRun,
	}
}

// Execute evaluates userID. A failing stats provider is not an error: the
// run unlocks nothing and reports StatsUnavailable. Storage failures while
// loading the catalog or the unlock set are returned.
func (s *AchievementFlowSaga) Execute(ctx context.Context, userID string) (*AchievementFlowResult, error) {
	result := &AchievementFlowResult{UserID: userID, Unlocked: []NewlyUnlocked{}}

	if userID == "" {
		return nil, s.wrapError(StepFetchStats, userID, shared.ErrUnknownUser)
	}

	// Step 1: fetch stats
	stats, err := s.fetchStats(ctx, userID)
	if err != nil {
		s.logger.Warn("stats unavailable, skipping achievement evaluation",
			logger.UserID(userID),
			logger.Err(err),
		)
		result.StatsUnavailable = true
		result.ProcessedAt = s.clock()
		return result, nil
	}

	// Step 2: load catalog
	defs, err := s.catalog.LoadDefinitions(ctx)
	if err != nil {
		return nil, s.wrapError(StepLoadCatalog, userID, err)
	}

	// Step 3: load existing unlocks
	existing, err := s.unlocks.ListUnlocks(ctx, userID)
	if err != nil {
		return nil, s.wrapError(StepLoadUnlocks, userID, err)
	}

	// Step 4: evaluate
	qualifying := achievement.Qualifying(s.registry, defs, achievement.UnlockedSet(existing), stats)
	if s.maxAchievementsPerRun > 0 && len(qualifying) > s.maxAchievementsPerRun {
		qualifying = qualifying[:s.maxAchievementsPerRun]
	}
	s.logger.Debug("achievements evaluated",
		logger.UserID(userID),
		"step", StepEvaluate,
		"qualifying", len(qualifying),
	)

	// Steps 5-7, per achievement
	for _, def := range qualifying {
		unlocked, ok := s.grant(ctx, userID, def)
		if !ok {
			continue
		}
		if unlocked.BonusAwarded {
			result.TotalBonus += def.PointsRequired
		}
		result.Unlocked = append(result.Unlocked, unlocked)
	}

	result.ProcessedAt = s.clock()
	if result.HasNewAchievements() {
		s.logger.Info("achievement run finished",
			logger.UserID(userID),
			"unlocked", len(result.Unlocked),
			"total_bonus", result.TotalBonus,
		)
	}
	return result, nil
}

// fetchStats calls the provider under the stats timeout.
func (s *AchievementFlowSaga) fetchStats(ctx context.Context, userID string) (achievement.StatsSnapshot, error) {
	if s.stats == nil {
		return achievement.StatsSnapshot{}, shared.ErrStatsUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, s.statsTimeout)
	defer cancel()

	stats, err := s.stats.GetStats(ctx, userID)
	if err != nil {
		return achievement.StatsSnapshot{}, err
	}
	if err := ctx.Err(); err != nil {
		return achievement.StatsSnapshot{}, fmt.Errorf("%w: %w", shared.ErrTimeout, err)
	}
	return stats, nil
}

// grant inserts the unlock and, if this call created it, awards the bonus
// and publishes the event. ok is false when nothing was unlocked.
func (s *AchievementFlowSaga) grant(ctx context.Context, userID string, def achievement.Definition) (NewlyUnlocked, bool) {
	now := s.clock()

	created, err := s.unlocks.Unlock(ctx, achievement.Unlock{
		UserID:        userID,
		AchievementID: def.ID,
		UnlockedAt:    now,
	})
	if err != nil {
		s.logger.Error("failed to insert unlock",
			logger.UserID(userID),
			logger.AchievementID(def.ID),
			"step", StepUnlock,
			logger.Err(err),
		)
		return NewlyUnlocked{}, false
	}
	if !created {
		// A concurrent evaluation got there first and owns the bonus.
		return NewlyUnlocked{}, false
	}

	unlocked := NewlyUnlocked{Definition: def, UnlockedAt: now}

	if s.enableBonuses && def.HasBonus() && s.awarder != nil {
		_, err := s.awarder.Handle(ctx, command.AwardPointsCommand{
			UserID:      userID,
			Points:      def.PointsRequired,
			Kind:        points.KindEarned,
			Reason:      points.AchievementReason(def.Name),
			ReferenceID: def.ID,
		})
		if err != nil {
			s.logger.Error("achievement bonus not awarded, reconciliation gap",
				logger.UserID(userID),
				logger.AchievementID(def.ID),
				"bonus", def.PointsRequired,
				"step", StepAwardBonus,
				logger.Err(err),
			)
		} else {
			unlocked.BonusAwarded = true
		}
	}

	s.publish(userID, unlocked)

	s.logger.Info("achievement unlocked",
		logger.UserID(userID),
		logger.AchievementID(def.ID),
		"bonus_awarded", unlocked.BonusAwarded,
	)
	return unlocked, true
}

func (s *AchievementFlowSaga) publish(userID string, u NewlyUnlocked) {
	if s.eventBus == nil {
		return
	}

	event := &shared.AchievementUnlockedEvent{
		BaseEvent:     shared.NewBaseEvent(shared.EventAchievementUnlocked, userID, u.UnlockedAt),
		AchievementID: u.ID,
		Name:          u.Name,
		Category:      string(u.Category),
		Bonus:         u.PointsRequired,
		BonusAwarded:  u.BonusAwarded,
	}
	if err := s.eventBus.Publish(event); err != nil {
		s.logger.Warn("failed to publish achievement event",
			logger.UserID(userID),
			logger.AchievementID(u.ID),
			"step", StepPublishEvents,
			logger.Err(err),
		)
	}
}

// wrapError wraps an error with saga context.
func (s *AchievementFlowSaga) wrapError(step AchievementFlowStep, userID string, err error) error {
	return &AchievementFlowError{
		Step:    step,
		UserID:  userID,
		Cause:   err,
		Message: fmt.Sprintf("achievement flow failed at step '%s': %v", step, err),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// AchievementFlowError represents an error during the achievement flow.
type AchievementFlowError struct {
	Step    AchievementFlowStep
	UserID  string
	Cause   error
	Message string
}

// Error implements the error interface.
func (e *AchievementFlowError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error.
func (e *AchievementFlowError) Unwrap() error {
	return e.Cause
}

// FailedStep returns the step at which err stopped the achievement flow.
func FailedStep(err error) (AchievementFlowStep, bool) {
	var fe *AchievementFlowError
	if !errors.As(err, &fe) {
		return "", false
	}
	return fe.Step, true
}
