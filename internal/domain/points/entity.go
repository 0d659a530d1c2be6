package points

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/campushub/campus-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Kind is the direction of a ledger transaction.
type Kind string

const (
	// KindEarned adds points to the user's total.
	KindEarned Kind = "earned"
	// KindSpent removes points from the user's total.
	KindSpent Kind = "spent"
)

// IsValid checks whether the kind is one of the known values.
func (k Kind) IsValid() bool {
	return k == KindEarned || k == KindSpent
}

// Sign returns +1 for earned and -1 for spent.
func (k Kind) Sign() int {
	if k == KindSpent {
		return -1
	}
	return 1
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	return string(k)
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSACTION
// ══════════════════════════════════════════════════════════════════════════════

// Transaction is one immutable row of the append-only ledger.
// Points is always positive; the direction is carried by Kind.
type Transaction struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Points      int       `json:"points"`
	Kind        Kind      `json:"kind"`
	Reason      string    `json:"reason"`
	ReferenceID string    `json:"reference_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Delta returns the signed effect of the transaction on the aggregate.
func (t Transaction) Delta() int {
	return t.Kind.Sign() * t.Points
}

// ══════════════════════════════════════════════════════════════════════════════
// BALANCE (AGGREGATE)
// ══════════════════════════════════════════════════════════════════════════════

// Balance is the per-user aggregate kept consistent with the ledger.
// UpdatedAt is the time of the last ledger write and is zero for users that
// have never been awarded anything.
type Balance struct {
	UserID    string    `json:"user_id"`
	Points    int       `json:"points"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ZeroBalance returns the implicit aggregate of a user with no ledger rows.
func ZeroBalance(userID string) Balance {
	return Balance{UserID: userID}
}

// Level returns the level derived from the current total.
func (b Balance) Level() Level {
	return CalculateLevel(b.Points)
}

// MaxPoints bounds both a single amount and a user's total. It matches the
// INTEGER columns of the SQL stores.
const MaxPoints = math.MaxInt32

// CheckCapacity rejects a delta that would push the total past MaxPoints.
func (b Balance) CheckCapacity(delta int) error {
	if delta > 0 && b.Points > MaxPoints-delta {
		return fmt.Errorf("%w: total would exceed %d", shared.ErrInvalidAmount, MaxPoints)
	}
	return nil
}

// Apply returns the balance after the transaction.
func (b Balance) Apply(tx Transaction) Balance {
	next := b
	next.Points += tx.Delta()
	if tx.CreatedAt.After(next.UpdatedAt) {
		next.UpdatedAt = tx.CreatedAt
	}
	return next
}

// ══════════════════════════════════════════════════════════════════════════════
// APPEND
// ══════════════════════════════════════════════════════════════════════════════

// AppendParams describes a single ledger append.
// TransactionID and At are assigned by the caller so that stores stay
// deterministic.
type AppendParams struct {
	TransactionID string
	UserID        string
	Points        int
	Kind          Kind
	Reason        string
	ReferenceID   string
	At            time.Time
}

// Validate rejects the append before anything is written.
func (p AppendParams) Validate() error {
	if strings.TrimSpace(p.UserID) == "" {
		return shared.ErrUnknownUser
	}
	if p.Points <= 0 || p.Points > MaxPoints {
		return fmt.Errorf("%w: got %d", shared.ErrInvalidAmount, p.Points)
	}
	if !p.Kind.IsValid() {
		return fmt.Errorf("%w: got %q", shared.ErrInvalidKind, p.Kind)
	}
	if strings.TrimSpace(p.Reason) == "" {
		return shared.NewDomainError("points", "Append", shared.ErrInvalidInput, "reason is required")
	}
	if p.TransactionID == "" {
		return shared.NewDomainError("points", "Append", shared.ErrInvalidID, "transaction id is required")
	}
	return nil
}

// Transaction builds the ledger row described by the params.
func (p AppendParams) Transaction() Transaction {
	return Transaction{
		ID:          p.TransactionID,
		UserID:      p.UserID,
		Points:      p.Points,
		Kind:        p.Kind,
		Reason:      p.Reason,
		ReferenceID: p.ReferenceID,
		CreatedAt:   p.At,
	}
}

// AppendResult is what a successful append committed.
type AppendResult struct {
	Transaction    Transaction
	PreviousPoints int
	Balance        Balance
}

// PreviousLevel returns the level before the append.
func (r AppendResult) PreviousLevel() Level {
	return CalculateLevel(r.PreviousPoints)
}

// LeveledUp reports whether the append crossed a level boundary upwards.
func (r AppendResult) LeveledUp() bool {
	return r.Balance.Level() > r.PreviousLevel()
}

// ══════════════════════════════════════════════════════════════════════════════
// RECONCILIATION
// ══════════════════════════════════════════════════════════════════════════════

// Divergence is a user whose aggregate does not match the ledger sum.
type Divergence struct {
	UserID          string `json:"user_id"`
	AggregatePoints int    `json:"aggregate_points"`
	LedgerPoints    int    `json:"ledger_points"`
}

// Drift returns aggregate minus ledger.
func (d Divergence) Drift() int {
	return d.AggregatePoints - d.LedgerPoints
}

// SumLedger returns Σearned − Σspent for the given transactions.
func SumLedger(txs []Transaction) int {
	total := 0
	for _, tx := range txs {
		total += tx.Delta()
	}
	return total
}
