package shared

import "time"

// EventType names an engine event. The string is also the wire name used by
// notification transports.
type EventType string

const (
	EventPointsAwarded       EventType = "points.awarded"
	EventPointsSpent         EventType = "points.spent"
	EventAchievementUnlocked EventType = "achievement.unlocked"
)

// Event is published after the state change it describes has committed.
// AggregateID is always the user the event is about.
type Event interface {
	EventType() EventType
	OccurredAt() time.Time
	AggregateID() string
}

// BaseEvent is embedded by every concrete event.
type BaseEvent struct {
	Type          EventType `json:"type"`
	At            time.Time `json:"at"`
	UserID        string    `json:"user_id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

func NewBaseEvent(eventType EventType, userID string, at time.Time) BaseEvent {
	return BaseEvent{Type: eventType, At: at, UserID: userID}
}

func (e BaseEvent) EventType() EventType  { return e.Type }
func (e BaseEvent) OccurredAt() time.Time { return e.At }
func (e BaseEvent) AggregateID() string   { return e.UserID }

// WithCorrelationID ties the event to the request that caused it.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// PointsChangedEvent carries both points.awarded and points.spent. A level
// change is visible as PreviousLevel != Level.
type PointsChangedEvent struct {
	BaseEvent
	TransactionID  string `json:"transaction_id"`
	Kind           string `json:"kind"`
	Amount         int    `json:"amount"`
	Reason         string `json:"reason"`
	ReferenceID    string `json:"reference_id,omitempty"`
	PreviousPoints int    `json:"previous_points"`
	Points         int    `json:"points"`
	PreviousLevel  int    `json:"previous_level"`
	Level          int    `json:"level"`
}

func (e PointsChangedEvent) LeveledUp() bool {
	return e.Level > e.PreviousLevel
}

// AchievementUnlockedEvent is emitted at most once per (user, achievement).
// BonusAwarded is false when the bonus append failed and awaits Reconcile.
type AchievementUnlockedEvent struct {
	BaseEvent
	AchievementID string `json:"achievement_id"`
	Name          string `json:"name"`
	Category      string `json:"category"`
	Bonus         int    `json:"bonus"`
	BonusAwarded  bool   `json:"bonus_awarded"`
}

// ══════════════════════════════════════════════════════════════════════════════
// BUS CONTRACT
// ══════════════════════════════════════════════════════════════════════════════

// EventHandler consumes one event. Returned errors are logged by the bus and
// never reach the publisher.
type EventHandler func(event Event) error

type EventPublisher interface {
	Publish(event Event) error
}

type EventSubscriber interface {
	Subscribe(eventType EventType, handler EventHandler) error
	SubscribeAll(handler EventHandler) error
}

type EventBus interface {
	EventPublisher
	EventSubscriber
}
