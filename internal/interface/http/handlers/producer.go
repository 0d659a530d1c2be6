package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/campushub/campus-hub/internal/application/command"
	"github.com/campushub/campus-hub/internal/application/saga"
	"github.com/campushub/campus-hub/internal/domain/points"
	"github.com/campushub/campus-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PRODUCER WEBHOOK
// ══════════════════════════════════════════════════════════════════════════════

// ErrUnknownReason is returned for a reason without a standard amount when
// the event carries no explicit amount.
var ErrUnknownReason = shared.NewDomainError("points", "Produce", shared.ErrInvalidInput, "reason has no standard amount")

// ProducerEvent is what a producer posts after its primary action.
type ProducerEvent struct {
	Reason      string `json:"reason"`
	UserID      string `json:"user_id"`
	ReferenceID string `json:"reference_id,omitempty"`

	// Points overrides the standard amount of the reason.
	Points int `json:"points,omitempty"`
}

// ProducerResult is the outcome of one producer event.
type ProducerResult struct {
	Award        *command.AwardPointsResult  `json:"award"`
	Achievements *saga.AchievementFlowResult `json:"achievements,omitempty"`
}

// ProducerEngine is the part of the engine the webhook drives.
type ProducerEngine interface {
	AwardPoints(ctx context.Context, userID string, amount int, reason, referenceID string) (*command.AwardPointsResult, error)
	EvaluateAchievements(ctx context.Context, userID string) (*saga.AchievementFlowResult, error)
}

// Reasons whose producer action moves a stats counter.
var statsReasons = map[string]bool{
	points.ReasonAcceptedConnection: true,
	points.ReasonEventCreated:       true,
	points.ReasonEventRSVP:          true,
	points.ReasonResourceUploaded:   true,
}

// ProducerWebhook turns producer events into awards.
type ProducerWebhook struct {
	engine ProducerEngine
	logger *slog.Logger
}

// NewProducerWebhook creates the webhook.
func NewProducerWebhook(engine ProducerEngine, logger *slog.Logger) *ProducerWebhook {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProducerWebhook{engine: engine, logger: logger.With("component", "producer_webhook")}
}

// Handle decodes payload, awards the points and, for reasons that move stats,
// evaluates achievements. A failed evaluation does not fail the call since
// the award is already committed.
func (h *ProducerWebhook) Handle(ctx context.Context, payload []byte) (*ProducerResult, error) {
	var ev ProducerEvent
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ev); err != nil {
		return nil, shared.WrapError("points", "Produce", shared.ErrInvalidInput, "malformed event", err)
	}

	amount := ev.Points
	if amount == 0 {
		amount = points.DefaultAward(ev.Reason)
	}
	if amount == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownReason, ev.Reason)
	}

	award, err := h.engine.AwardPoints(ctx, ev.UserID, amount, ev.Reason, ev.ReferenceID)
	if err != nil {
		return nil, err
	}

	res := &ProducerResult{Award: award}
	if !statsReasons[ev.Reason] {
		return res, nil
	}

	achievements, err := h.engine.EvaluateAchievements(ctx, ev.UserID)
	if err != nil {
		h.logger.Warn("achievement evaluation after producer event failed",
			"user_id", ev.UserID,
			"reason", ev.Reason,
			"error", err,
		)
		return res, nil
	}
	res.Achievements = achievements
	return res, nil
}
