// Package achievement contains the achievement catalog, the criterion
// registry and the pure evaluation step that decides which achievements a
// user qualifies for.
package achievement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/campushub/campus-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Category groups achievements for display.
type Category string

const (
	CategorySocial     Category = "social"
	CategoryAcademic   Category = "academic"
	CategoryEngagement Category = "engagement"
)

// IsValid reports whether the category is non-empty. Categories are an open
// set; the known ones are listed above.
func (c Category) IsValid() bool {
	return strings.TrimSpace(string(c)) != ""
}

// ══════════════════════════════════════════════════════════════════════════════
// DEFINITION
// ══════════════════════════════════════════════════════════════════════════════

// Definition is one entry of the achievement catalog.
// PointsRequired is the bonus awarded on unlock, not a prerequisite.
type Definition struct {
	ID             string   `json:"id" yaml:"id"`
	Name           string   `json:"name" yaml:"name"`
	Description    string   `json:"description" yaml:"description"`
	Category       Category `json:"category" yaml:"category"`
	PointsRequired int      `json:"points_required" yaml:"points_required"`
	Criterion      string   `json:"criterion" yaml:"criterion"`
	IsActive       bool     `json:"is_active" yaml:"is_active"`
}

// Validate checks the definition against a criterion registry.
// A nil registry skips the criterion lookup.
func (d Definition) Validate(reg *Registry) error {
	if strings.TrimSpace(d.ID) == "" {
		return shared.WrapError("achievement", "Validate", shared.ErrValidation, "id is required", shared.ErrInvalidAchievement)
	}
	if strings.TrimSpace(d.Name) == "" {
		return shared.WrapError("achievement", "Validate", shared.ErrValidation,
			fmt.Sprintf("achievement %s: name is required", d.ID), shared.ErrInvalidAchievement)
	}
	if !d.Category.IsValid() {
		return shared.WrapError("achievement", "Validate", shared.ErrValidation,
			fmt.Sprintf("achievement %s: category is required", d.ID), shared.ErrInvalidAchievement)
	}
	if d.PointsRequired < 0 {
		return shared.WrapError("achievement", "Validate", shared.ErrNegativeValue,
			fmt.Sprintf("achievement %s: negative bonus %d", d.ID, d.PointsRequired), shared.ErrInvalidAchievement)
	}
	if reg != nil && !reg.Has(d.Criterion) {
		return shared.WrapError("achievement", "Validate", shared.ErrValidation,
			fmt.Sprintf("achievement %s: criterion %q", d.ID, d.Criterion), shared.ErrUnknownCriterion)
	}
	return nil
}

// HasBonus reports whether unlocking awards points.
func (d Definition) HasBonus() bool {
	return d.PointsRequired > 0
}

// Unlock records that a user has unlocked an achievement. At most one unlock
// exists per (UserID, AchievementID).
type Unlock struct {
	UserID        string    `json:"user_id"`
	AchievementID string    `json:"achievement_id"`
	UnlockedAt    time.Time `json:"unlocked_at"`
}

// UnlockedAchievement joins an unlock with its definition for read models.
type UnlockedAchievement struct {
	Definition
	UnlockedAt time.Time `json:"unlocked_at"`
}

// MissingBonus is an unlock whose bonus transaction never landed.
type MissingBonus struct {
	UserID        string    `json:"user_id"`
	AchievementID string    `json:"achievement_id"`
	Name          string    `json:"name"`
	Bonus         int       `json:"bonus"`
	UnlockedAt    time.Time `json:"unlocked_at"`
}

// ══════════════════════════════════════════════════════════════════════════════
// STATS SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

// StatsSnapshot is a point-in-time read of a user's activity counters.
// It is supplied by the host application and never persisted here.
type StatsSnapshot struct {
	ConnectionsCount  int `json:"connectionsCount"`
	EventsCreated     int `json:"eventsCreated"`
	ResourcesUploaded int `json:"resourcesUploaded"`
	EventsAttended    int `json:"eventsAttended"`
}

// StatsProvider supplies stats snapshots on demand.
type StatsProvider interface {
	GetStats(ctx context.Context, userID string) (StatsSnapshot, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORIES
// ══════════════════════════════════════════════════════════════════════════════

// CatalogSource loads the full set of definitions, active or not.
type CatalogSource interface {
	LoadDefinitions(ctx context.Context) ([]Definition, error)
}

// UnlockRepository persists unlock records.
type UnlockRepository interface {
	// Unlock inserts the record. created is false when the pair was already
	// unlocked; that is not an error.
	Unlock(ctx context.Context, u Unlock) (created bool, err error)

	// ListUnlocks returns the user's unlocks ordered by UnlockedAt.
	ListUnlocks(ctx context.Context, userID string) ([]Unlock, error)
}

// BonusAuditor finds unlocks that have no matching bonus transaction.
type BonusAuditor interface {
	MissingBonuses(ctx context.Context, defs []Definition) ([]MissingBonus, error)
}

// UnlockedSet returns the achievement IDs of unlocks as a set.
func UnlockedSet(unlocks []Unlock) map[string]struct{} {
	set := make(map[string]struct{}, len(unlocks))
	for _, u := range unlocks {
		set[u.AchievementID] = struct{}{}
	}
	return set
}
