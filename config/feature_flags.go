package config

import (
	"errors"
	"hash/fnv"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// Engine switches. Each can be turned off or rolled out to a share of users
// with FEATURE_<NAME>, dots becoming underscores:
//
//	FEATURE_ENGINE_ACHIEVEMENTS=false   off for everyone
//	FEATURE_ENGINE_ACHIEVEMENTS=25      on for ~25% of users
const (
	FeatureAchievements       = "engine.achievements"
	FeatureAchievementBonuses = "engine.achievement_bonuses"
	FeatureNotifications      = "notify.fanout"
	FeatureLeaderboardCache   = "leaderboard.cache"
)

var (
	ErrFeatureNotFound       = errors.New("feature not found")
	ErrInvalidRolloutPercent = errors.New("rollout percent must be 0-100")
)

// Feature is a snapshot of one switch. Rollout 0 means off, 100 means on for
// everyone.
type Feature struct {
	Name        string
	Description string
	Rollout     int
}

func (f Feature) Enabled() bool { return f.Rollout > 0 }

// includes buckets userID by a hash of (feature, user), so membership is
// stable across restarts and independent between features.
func (f Feature) includes(userID string) bool {
	switch {
	case f.Rollout <= 0:
		return false
	case f.Rollout >= 100:
		return true
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(f.Name + ":" + userID))
	return int(h.Sum32()%100) < f.Rollout
}

// FeatureFlags holds the switches plus per-user overrides.
type FeatureFlags struct {
	mu        sync.RWMutex
	features  map[string]Feature
	overrides map[string]map[string]bool // feature -> user -> on
}

// LoadFeatureFlags starts every feature at 100% and applies FEATURE_* env
// overrides. Values that are neither a bool nor 0-100 are ignored.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:  make(map[string]Feature),
		overrides: make(map[string]map[string]bool),
	}
	for name, desc := range map[string]string{
		FeatureAchievements:       "Evaluate and unlock achievements",
		FeatureAchievementBonuses: "Award bonus points on unlock",
		FeatureNotifications:      "Push ledger and unlock notifications",
		FeatureLeaderboardCache:   "Cache leaderboard pages in Redis",
	} {
		f := Feature{Name: name, Description: desc, Rollout: 100}
		if pct, ok := parseRollout(os.Getenv(envKey(name))); ok {
			f.Rollout = pct
		}
		ff.features[name] = f
	}
	return ff
}

func envKey(feature string) string {
	return "FEATURE_" + strings.ToUpper(strings.ReplaceAll(feature, ".", "_"))
}

func parseRollout(v string) (int, bool) {
	if v == "" {
		return 0, false
	}
	if b, err := strconv.ParseBool(v); err == nil {
		if b {
			return 100, true
		}
		return 0, true
	}
	if p, err := strconv.Atoi(v); err == nil && p >= 0 && p <= 100 {
		return p, true
	}
	return 0, false
}

// IsEnabled reports whether the feature is on for anyone.
func (ff *FeatureFlags) IsEnabled(name string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()
	return ff.features[name].Enabled()
}

// IsEnabledFor checks the user's override first, then the rollout.
func (ff *FeatureFlags) IsEnabledFor(name, userID string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if on, ok := ff.overrides[name][userID]; ok {
		return on
	}
	f, ok := ff.features[name]
	return ok && f.includes(userID)
}

// Gate binds IsEnabledFor to one feature.
func (ff *FeatureFlags) Gate(name string) func(userID string) bool {
	return func(userID string) bool { return ff.IsEnabledFor(name, userID) }
}

func (ff *FeatureFlags) SetUserOverride(userID, name string, on bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if ff.overrides[name] == nil {
		ff.overrides[name] = make(map[string]bool)
	}
	ff.overrides[name][userID] = on
}

func (ff *FeatureFlags) SetRolloutPercent(name string, percent int) error {
	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}

	ff.mu.Lock()
	defer ff.mu.Unlock()

	f, ok := ff.features[name]
	if !ok {
		return ErrFeatureNotFound
	}
	f.Rollout = percent
	ff.features[name] = f
	return nil
}

func (ff *FeatureFlags) EnableFeature(name string) error  { return ff.SetRolloutPercent(name, 100) }
func (ff *FeatureFlags) DisableFeature(name string) error { return ff.SetRolloutPercent(name, 0) }

// All returns every feature sorted by name.
func (ff *FeatureFlags) All() []Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	out := make([]Feature, 0, len(ff.features))
	for _, f := range ff.features {
		out = append(out, f)
	}
	slices.SortFunc(out, func(a, b Feature) int { return strings.Compare(a.Name, b.Name) })
	return out
}
