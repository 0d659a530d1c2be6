// Package memory provides an in-process implementation of the ledger,
// leaderboard and achievement stores. It is used for tests, local
// development and single-process deployments without a database.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/campushub/campus-hub/internal/domain/achievement"
	"github.com/campushub/campus-hub/internal/domain/leaderboard"
	"github.com/campushub/campus-hub/internal/domain/points"
	"github.com/campushub/campus-hub/internal/domain/shared"
)

// Store keeps every user's ledger in memory. Appends for one user are
// serialized by that user's mutex; appends for different users run in
// parallel.
type Store struct {
	mu      sync.RWMutex
	users   map[string]*userLedger
	unlocks map[string]map[string]achievement.Unlock
	defs    []achievement.Definition
}

type userLedger struct {
	mu      sync.Mutex
	txs     []points.Transaction
	balance points.Balance
}

var (
	_ points.Ledger                = (*Store)(nil)
	_ points.Auditor               = (*Store)(nil)
	_ leaderboard.Reader           = (*Store)(nil)
	_ achievement.UnlockRepository = (*Store)(nil)
	_ achievement.BonusAuditor     = (*Store)(nil)
	_ achievement.CatalogSource    = (*Store)(nil)
)

// NewStore creates an empty store whose catalog is defs.
func NewStore(defs []achievement.Definition) *Store {
	catalog := make([]achievement.Definition, len(defs))
	copy(catalog, defs)
	return &Store{
		users:   make(map[string]*userLedger),
		unlocks: make(map[string]map[string]achievement.Unlock),
		defs:    catalog,
	}
}

func (s *Store) ledgerFor(userID string) *userLedger {
	s.mu.RLock()
	ul, ok := s.users[userID]
	s.mu.RUnlock()
	if ok {
		return ul
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ul, ok = s.users[userID]; ok {
		return ul
	}
	ul = &userLedger{balance: points.ZeroBalance(userID)}
	s.users[userID] = ul
	return ul
}

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER
// ══════════════════════════════════════════════════════════════════════════════

// Append implements points.Ledger.
func (s *Store) Append(ctx context.Context, params points.AppendParams) (*points.AppendResult, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ul := s.ledgerFor(params.UserID)
	ul.mu.Lock()
	defer ul.mu.Unlock()

	tx := params.Transaction()
	previous := ul.balance.Points
	if tx.Kind == points.KindSpent && previous < tx.Points {
		return nil, shared.ErrInsufficientPoints
	}
	if err := ul.balance.CheckCapacity(tx.Delta()); err != nil {
		return nil, err
	}

	ul.txs = append(ul.txs, tx)
	ul.balance = ul.balance.Apply(tx)

	return &points.AppendResult{
		Transaction:    tx,
		PreviousPoints: previous,
		Balance:        ul.balance,
	}, nil
}

// Balance implements points.Ledger.
func (s *Store) Balance(_ context.Context, userID string) (points.Balance, error) {
	s.mu.RLock()
	ul, ok := s.users[userID]
	s.mu.RUnlock()
	if !ok {
		return points.ZeroBalance(userID), nil
	}
	ul.mu.Lock()
	defer ul.mu.Unlock()
	return ul.balance, nil
}

// History implements points.Ledger.
func (s *Store) History(_ context.Context, userID string, page points.Page) ([]points.Transaction, int, error) {
	s.mu.RLock()
	ul, ok := s.users[userID]
	s.mu.RUnlock()
	if !ok {
		return []points.Transaction{}, 0, nil
	}

	ul.mu.Lock()
	total := len(ul.txs)
	// Stored oldest first; walk backwards for newest first.
	out := make([]points.Transaction, 0, page.Limit)
	for i := total - 1 - min(page.Offset(), total); i >= 0 && len(out) < page.Limit; i-- {
		out = append(out, ul.txs[i])
	}
	ul.mu.Unlock()

	return out, total, nil
}

// Divergences implements points.Auditor.
func (s *Store) Divergences(_ context.Context) ([]points.Divergence, error) {
	var out []points.Divergence
	for _, ul := range s.snapshotUsers() {
		ul.mu.Lock()
		sum := points.SumLedger(ul.txs)
		if sum != ul.balance.Points {
			out = append(out, points.Divergence{
				UserID:          ul.balance.UserID,
				AggregatePoints: ul.balance.Points,
				LedgerPoints:    sum,
			})
		}
		ul.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *Store) snapshotUsers() []*userLedger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]*userLedger, 0, len(s.users))
	for _, ul := range s.users {
		users = append(users, ul)
	}
	return users
}

func (s *Store) balances() []points.Balance {
	users := s.snapshotUsers()
	out := make([]points.Balance, 0, len(users))
	for _, ul := range users {
		ul.mu.Lock()
		out = append(out, ul.balance)
		ul.mu.Unlock()
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD
// ══════════════════════════════════════════════════════════════════════════════

// Top implements leaderboard.Reader.
func (s *Store) Top(_ context.Context, limit int) ([]leaderboard.Entry, error) {
	return leaderboard.NewRanking(s.balances()).Top(limit), nil
}

// RankOf implements leaderboard.Reader.
func (s *Store) RankOf(ctx context.Context, userID string) (leaderboard.Rank, error) {
	b, err := s.Balance(ctx, userID)
	if err != nil {
		return 0, err
	}
	others := s.balances()
	return leaderboard.NewRanking(others).RankOf(b), nil
}

// Count implements leaderboard.Reader.
func (s *Store) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENTS
// ══════════════════════════════════════════════════════════════════════════════

// LoadDefinitions implements achievement.CatalogSource.
func (s *Store) LoadDefinitions(_ context.Context) ([]achievement.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]achievement.Definition, len(s.defs))
	copy(out, s.defs)
	return out, nil
}

// Unlock implements achievement.UnlockRepository.
func (s *Store) Unlock(_ context.Context, u achievement.Unlock) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byUser, ok := s.unlocks[u.UserID]
	if !ok {
		byUser = make(map[string]achievement.Unlock)
		s.unlocks[u.UserID] = byUser
	}
	if _, exists := byUser[u.AchievementID]; exists {
		return false, nil
	}
	byUser[u.AchievementID] = u
	return true, nil
}

// ListUnlocks implements achievement.UnlockRepository.
func (s *Store) ListUnlocks(_ context.Context, userID string) ([]achievement.Unlock, error) {
	s.mu.RLock()
	byUser := s.unlocks[userID]
	out := make([]achievement.Unlock, 0, len(byUser))
	for _, u := range byUser {
		out = append(out, u)
	}
	s.mu.RUnlock()

	sortUnlocks(out)
	return out, nil
}

// MissingBonuses implements achievement.BonusAuditor.
func (s *Store) MissingBonuses(_ context.Context, defs []achievement.Definition) ([]achievement.MissingBonus, error) {
	idx := achievement.Index(defs)

	s.mu.RLock()
	var unlocks []achievement.Unlock
	for _, byUser := range s.unlocks {
		for _, u := range byUser {
			unlocks = append(unlocks, u)
		}
	}
	s.mu.RUnlock()
	sortUnlocks(unlocks)

	var out []achievement.MissingBonus
	for _, u := range unlocks {
		def, ok := idx[u.AchievementID]
		if !ok || !def.HasBonus() {
			continue
		}
		if s.hasBonus(u.UserID, def) {
			continue
		}
		out = append(out, achievement.MissingBonus{
			UserID:        u.UserID,
			AchievementID: u.AchievementID,
			Name:          def.Name,
			Bonus:         def.PointsRequired,
			UnlockedAt:    u.UnlockedAt,
		})
	}
	return out, nil
}

func (s *Store) hasBonus(userID string, def achievement.Definition) bool {
	s.mu.RLock()
	ul, ok := s.users[userID]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	reason := points.AchievementReason(def.Name)
	ul.mu.Lock()
	defer ul.mu.Unlock()
	for _, tx := range ul.txs {
		if tx.Kind == points.KindEarned && tx.ReferenceID == def.ID && tx.Reason == reason {
			return true
		}
	}
	return false
}

func sortUnlocks(unlocks []achievement.Unlock) {
	sort.Slice(unlocks, func(i, j int) bool {
		if !unlocks[i].UnlockedAt.Equal(unlocks[j].UnlockedAt) {
			return unlocks[i].UnlockedAt.Before(unlocks[j].UnlockedAt)
		}
		if unlocks[i].UserID != unlocks[j].UserID {
			return unlocks[i].UserID < unlocks[j].UserID
		}
		return unlocks[i].AchievementID < unlocks[j].AchievementID
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// USER DIRECTORY
// ══════════════════════════════════════════════════════════════════════════════

// Directory is a fixed set of known users.
type Directory struct {
	mu    sync.RWMutex
	users map[string]struct{}
}

// NewDirectory creates a directory containing ids.
func NewDirectory(ids ...string) *Directory {
	d := &Directory{users: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		d.users[id] = struct{}{}
	}
	return d
}

// Add registers a user.
func (d *Directory) Add(id string) {
	d.mu.Lock()
	d.users[id] = struct{}{}
	d.mu.Unlock()
}

// Exists implements points.UserDirectory.
func (d *Directory) Exists(_ context.Context, userID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.users[userID]
	return ok, nil
}
