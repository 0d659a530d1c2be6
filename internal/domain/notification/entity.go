// Package notification содержит контракт уведомлений, которые движок очков
// отправляет подключённому клиенту. Доставка best-effort: ошибка транспорта
// никогда не влияет на запись в леджер и не повторяется движком.
package notification

import (
	"context"
	"time"

	"github.com/campushub/campus-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PAYLOAD TYPE
// ══════════════════════════════════════════════════════════════════════════════

// Type определяет вид изменения, о котором сообщается клиенту.
type Type string

const (
	// TypePointsUpdated - изменился баланс (и, возможно, уровень).
	TypePointsUpdated Type = "points_updated"

	// TypeAchievementUnlocked - открыто новое достижение.
	TypeAchievementUnlocked Type = "achievement_unlocked"
)

// String возвращает строковое представление типа.
func (t Type) String() string {
	return string(t)
}

// ══════════════════════════════════════════════════════════════════════════════
// PAYLOAD
// ══════════════════════════════════════════════════════════════════════════════

// Achievement - краткое описание открытого достижения для клиента.
type Achievement struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Bonus    int    `json:"bonus"`
}

// Payload - тело уведомления.
type Payload struct {
	Type        Type         `json:"type"`
	UserID      string       `json:"user_id"`
	Points      int          `json:"points"`
	Level       int          `json:"level"`
	LeveledUp   bool         `json:"leveled_up,omitempty"`
	Reason      string       `json:"reason,omitempty"`
	Achievement *Achievement `json:"achievement,omitempty"`
	At          time.Time    `json:"at"`
}

// FromPointsChanged строит уведомление об изменении баланса.
func FromPointsChanged(e *shared.PointsChangedEvent) Payload {
	return Payload{
		Type:      TypePointsUpdated,
		UserID:    e.AggregateID(),
		Points:    e.Points,
		Level:     e.Level,
		LeveledUp: e.LeveledUp(),
		Reason:    e.Reason,
		At:        e.OccurredAt(),
	}
}

// FromAchievementUnlocked строит уведомление об открытом достижении.
// points и level - баланс пользователя после начисления бонуса.
func FromAchievementUnlocked(e *shared.AchievementUnlockedEvent, points, level int) Payload {
	return Payload{
		Type:   TypeAchievementUnlocked,
		UserID: e.AggregateID(),
		Points: points,
		Level:  level,
		Achievement: &Achievement{
			ID:       e.AchievementID,
			Name:     e.Name,
			Category: e.Category,
			Bonus:    e.Bonus,
		},
		At: e.OccurredAt(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSPORT INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// Transport доставляет уведомление клиенту (WebSocket-шлюз, Redis pub/sub и т.д.).
// Повторы и backoff, если нужны, - ответственность транспорта.
type Transport interface {
	Push(ctx context.Context, userID string, payload Payload) error
}

// TransportFunc адаптирует функцию к интерфейсу Transport.
type TransportFunc func(ctx context.Context, userID string, payload Payload) error

// Push вызывает f(ctx, userID, payload).
func (f TransportFunc) Push(ctx context.Context, userID string, payload Payload) error {
	return f(ctx, userID, payload)
}
