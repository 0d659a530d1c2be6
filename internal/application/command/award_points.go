// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/campushub/campus-hub/internal/domain/leaderboard"
	"github.com/campushub/campus-hub/internal/domain/points"
	"github.com/campushub/campus-hub/internal/domain/shared"
	"github.com/campushub/campus-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// AWARD POINTS COMMAND
// Appends one earned or spent transaction to the ledger and moves the user's
// aggregate with it. Producers (connections, events, resources) call this as a
// side effect of their own primary action.
// ══════════════════════════════════════════════════════════════════════════════

// AwardPointsCommand contains the data of one ledger append.
type AwardPointsCommand struct {
	// UserID is the user whose balance changes.
	UserID string

	// Points is the positive amount; the direction comes from Kind.
	Points int

	// Kind is earned or spent. Empty means earned.
	Kind points.Kind

	// Reason is the machine-readable cause, e.g. "accepted_connection".
	Reason string

	// ReferenceID points at the domain object that caused the change.
	ReferenceID string

	// CorrelationID for tracing.
	CorrelationID string
}

// AwardPointsResult contains the committed transaction and the new balance.
type AwardPointsResult struct {
	Transaction    points.Transaction `json:"transaction"`
	PreviousPoints int                `json:"previous_points"`
	Points         int                `json:"points"`
	Level          int                `json:"level"`
	LeveledUp      bool               `json:"leveled_up"`
}

// IDGenerator produces transaction IDs.
type IDGenerator interface {
	GenerateID() string
}

// UUIDGenerator generates random UUIDv4 strings.
type UUIDGenerator struct{}

// GenerateID implements IDGenerator.
func (UUIDGenerator) GenerateID() string {
	return uuid.NewString()
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// AwardPointsHandler handles AwardPointsCommand.
type AwardPointsHandler struct {
	ledger         points.Ledger
	directory      points.UserDirectory
	cache          leaderboard.Cache
	eventPublisher shared.EventPublisher
	idGenerator    IDGenerator
	clock          func() time.Time
	logger         *slog.Logger
}

// AwardPointsHandlerConfig contains the optional collaborators of the handler.
type AwardPointsHandlerConfig struct {
	// Directory, when set, rejects users it does not know.
	Directory points.UserDirectory

	// Cache is invalidated after every committed append.
	Cache leaderboard.Cache

	// EventPublisher receives a PointsChangedEvent after every commit.
	EventPublisher shared.EventPublisher

	IDGenerator IDGenerator
	Clock       func() time.Time
	Logger      *slog.Logger
}

// NewAwardPointsHandler creates a new AwardPointsHandler.
func NewAwardPointsHandler(ledger points.Ledger, config AwardPointsHandlerConfig) *AwardPointsHandler {
	if config.IDGenerator == nil {
		config.IDGenerator = UUIDGenerator{}
	}
	if config.Clock == nil {
		config.Clock = func() time.Time { return time.Now().UTC() }
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &AwardPointsHandler{
		ledger:         ledger,
		directory:      config.Directory,
		cache:          config.Cache,
		eventPublisher: config.EventPublisher,
		idGenerator:    config.IDGenerator,
		clock:          config.Clock,
		logger:         config.Logger.With(logger.Component("award_points")),
	}
}

// Handle executes the command. Validation errors are returned before
// anything is written; cache and event failures after the commit are logged
// and do not fail the call.
func (h *AwardPointsHandler) Handle(ctx context.Context, cmd AwardPointsCommand) (*AwardPointsResult, error) {
	kind := cmd.Kind
	if kind == "" {
		kind = points.KindEarned
	}

	params := points.AppendParams{
		TransactionID: h.idGenerator.GenerateID(),
		UserID:        cmd.UserID,
		Points:        cmd.Points,
		Kind:          kind,
		Reason:        cmd.Reason,
		ReferenceID:   cmd.ReferenceID,
		At:            h.clock(),
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	if err := h.checkUser(ctx, cmd.UserID); err != nil {
		return nil, err
	}

	res, err := h.ledger.Append(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("award_points: %w", err)
	}

	h.afterCommit(ctx, cmd, res)

	return &AwardPointsResult{
		Transaction:    res.Transaction,
		PreviousPoints: res.PreviousPoints,
		Points:         res.Balance.Points,
		Level:          res.Balance.Level().Int(),
		LeveledUp:      res.LeveledUp(),
	}, nil
}

func (h *AwardPointsHandler) checkUser(ctx context.Context, userID string) error {
	if h.directory == nil {
		return nil
	}
	ok, err := h.directory.Exists(ctx, userID)
	if err != nil {
		return shared.WrapError("points", "Append", shared.ErrServiceUnavailable, "user directory lookup failed", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", shared.ErrUnknownUser, userID)
	}
	return nil
}

func (h *AwardPointsHandler) afterCommit(ctx context.Context, cmd AwardPointsCommand, res *points.AppendResult) {
	h.logger.Debug("ledger append committed",
		logger.UserID(cmd.UserID),
		"kind", res.Transaction.Kind.String(),
		logger.Points(res.Transaction.Points),
		logger.Reason(res.Transaction.Reason),
		"total", res.Balance.Points,
	)

	if h.cache != nil {
		if err := h.cache.Invalidate(ctx); err != nil {
			h.logger.Warn("leaderboard cache invalidation failed",
				logger.UserID(cmd.UserID),
				logger.Err(err),
			)
		}
	}

	if h.eventPublisher == nil {
		return
	}

	eventType := shared.EventPointsAwarded
	if res.Transaction.Kind == points.KindSpent {
		eventType = shared.EventPointsSpent
	}

	base := shared.NewBaseEvent(eventType, res.Transaction.UserID, res.Transaction.CreatedAt)
	if cmd.CorrelationID != "" {
		base = base.WithCorrelationID(cmd.CorrelationID)
	}

	event := &shared.PointsChangedEvent{
		BaseEvent:      base,
		TransactionID:  res.Transaction.ID,
		Kind:           res.Transaction.Kind.String(),
		Amount:         res.Transaction.Points,
		Reason:         res.Transaction.Reason,
		ReferenceID:    res.Transaction.ReferenceID,
		PreviousPoints: res.PreviousPoints,
		Points:         res.Balance.Points,
		PreviousLevel:  res.PreviousLevel().Int(),
		Level:          res.Balance.Level().Int(),
	}
	if err := h.eventPublisher.Publish(event); err != nil {
		h.logger.Warn("failed to publish points event",
			logger.UserID(cmd.UserID),
			"transaction_id", res.Transaction.ID,
			logger.Err(err),
		)
	}
}
