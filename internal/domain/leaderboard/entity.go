// Package leaderboard содержит доменную модель лидерборда по очкам вовлечённости.
// Порядок: очки по убыванию, при равенстве выше тот, кто получил очки позже,
// затем userID по возрастанию. Порядок полный, поэтому у каждого пользователя
// своя позиция.
package leaderboard

import (
	"fmt"
	"sort"
	"time"

	"github.com/campushub/campus-hub/internal/domain/points"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Rank представляет позицию пользователя в лидерборде.
// Rank начинается с 1 (первое место).
type Rank int

// IsValid проверяет, что ранг положительный.
func (r Rank) IsValid() bool {
	return r > 0
}

// String возвращает строковое представление ранга.
func (r Rank) String() string {
	return fmt.Sprintf("#%d", r)
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD ENTRY
// ══════════════════════════════════════════════════════════════════════════════

// Entry представляет одну запись в лидерборде.
type Entry struct {
	// Rank - позиция в полном упорядочении.
	Rank Rank `json:"rank"`

	// UserID - идентификатор пользователя.
	UserID string `json:"user_id"`

	// Points - текущий баланс очков.
	Points int `json:"points"`

	// Level - уровень, вычисленный из Points.
	Level int `json:"level"`

	// UpdatedAt - время последней записи в леджер.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntry создаёт запись из баланса.
func NewEntry(rank Rank, b points.Balance) Entry {
	return Entry{
		Rank:      rank,
		UserID:    b.UserID,
		Points:    b.Points,
		Level:     b.Level().Int(),
		UpdatedAt: b.UpdatedAt,
	}
}

// String возвращает строковое представление для логирования.
func (e Entry) String() string {
	return fmt.Sprintf("Entry{Rank: %d, UserID: %s, Points: %d, Level: %d}",
		e.Rank, e.UserID, e.Points, e.Level)
}

// ══════════════════════════════════════════════════════════════════════════════
// ORDERING
// ══════════════════════════════════════════════════════════════════════════════

// Ahead сообщает, стоит ли a выше b в лидерборде.
func Ahead(a, b points.Balance) bool {
	if a.Points != b.Points {
		return a.Points > b.Points
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.UserID < b.UserID
}

// ══════════════════════════════════════════════════════════════════════════════
// RANKING (Ranked List)
// ══════════════════════════════════════════════════════════════════════════════

// Ranking - полный отсортированный список балансов.
// Используется хранилищами без SQL (in-memory).
type Ranking struct {
	balances []points.Balance
}

// NewRanking сортирует балансы и строит Ranking. Входной срез не изменяется.
func NewRanking(balances []points.Balance) *Ranking {
	sorted := make([]points.Balance, len(balances))
	copy(sorted, balances)
	sort.Slice(sorted, func(i, j int) bool {
		return Ahead(sorted[i], sorted[j])
	})
	return &Ranking{balances: sorted}
}

// Top возвращает топ-N записей.
func (r *Ranking) Top(n int) []Entry {
	if n <= 0 {
		return nil
	}
	if n > len(r.balances) {
		n = len(r.balances)
	}
	result := make([]Entry, n)
	for i := 0; i < n; i++ {
		result[i] = NewEntry(Rank(i+1), r.balances[i])
	}
	return result
}

// RankOf возвращает позицию баланса: 1 + количество стоящих выше.
// Баланс не обязан присутствовать в списке.
func (r *Ranking) RankOf(b points.Balance) Rank {
	ahead := sort.Search(len(r.balances), func(i int) bool {
		return !Ahead(r.balances[i], b)
	})
	return Rank(ahead + 1)
}

// Count возвращает количество пользователей в рейтинге.
func (r *Ranking) Count() int {
	return len(r.balances)
}
