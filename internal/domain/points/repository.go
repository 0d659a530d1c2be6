package points

import (
	"context"
	"math"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER REPOSITORY INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// Ledger is the durable, append-only store of point transactions and the
// per-user aggregate derived from it. Implementations live in the
// infrastructure layer (memory, PostgreSQL, SQLite).
type Ledger interface {
	// Append writes the transaction and moves the aggregate in one logical
	// transaction. Concurrent appends for the same user must all land.
	// Spending more than the current total fails with ErrInsufficientPoints
	// and writes nothing.
	Append(ctx context.Context, params AppendParams) (*AppendResult, error)

	// Balance returns the current aggregate. Users that were never written
	// return ZeroBalance without error.
	Balance(ctx context.Context, userID string) (Balance, error)

	// History returns one page of the user's transactions, newest first,
	// together with the total number of transactions.
	History(ctx context.Context, userID string, page Page) ([]Transaction, int, error)
}

// Auditor detects ledger/aggregate divergence. It never corrects anything.
type Auditor interface {
	Divergences(ctx context.Context) ([]Divergence, error)
}

// UserDirectory answers whether a user exists in the identity system.
// It is optional; the host application normally validates users itself.
type UserDirectory interface {
	Exists(ctx context.Context, userID string) (bool, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// PAGINATION
// ══════════════════════════════════════════════════════════════════════════════

const (
	// DefaultPageLimit is used when the caller gives no limit.
	DefaultPageLimit = 20
	// MaxPageLimit caps a single history page.
	MaxPageLimit = 100
)

// Page is a normalized 1-based page request.
type Page struct {
	Number int
	Limit  int
}

// NewPage normalizes raw page parameters.
func NewPage(number, limit int) Page {
	if number < 1 {
		number = 1
	}
	if limit < 1 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	// Keep the offset within an SQL INTEGER; such a page is empty anyway.
	if last := math.MaxInt32/limit + 1; number > last {
		number = last
	}
	return Page{Number: number, Limit: limit}
}

// Offset returns the number of rows to skip.
func (p Page) Offset() int {
	return (p.Number - 1) * p.Limit
}

// PageMeta describes a page of results.
type PageMeta struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

// NewPageMeta builds pagination metadata for a total row count.
func NewPageMeta(p Page, total int) PageMeta {
	totalPages := (total + p.Limit - 1) / p.Limit
	return PageMeta{
		Page:       p.Number,
		Limit:      p.Limit,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    p.Number < totalPages,
		HasPrev:    p.Number > 1,
	}
}
