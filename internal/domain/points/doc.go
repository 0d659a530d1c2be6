// Package points contains the domain model of the engagement-points ledger.
//
// The package defines:
//
//   - Entities: Transaction (immutable ledger row), Balance (per-user aggregate)
//   - Value Objects: Kind, Level, Page
//   - Repository interfaces: Ledger, Auditor, UserDirectory
//
// # Ledger invariant
//
// For every user the aggregate total equals the sum of earned transactions
// minus the sum of spent transactions. The only way to change a total is
// Ledger.Append, which writes the transaction and moves the aggregate in one
// step. Implementations serialize the read-modify-write per user.
//
// # Levels
//
// A level is never stored. It is derived from the current total every time it
// is read:
//
//	level := CalculateLevel(balance.Points) // floor(points/100) + 1
//
// # Producers
//
// Other features call the engine with one of the Reason* tags after their own
// primary action succeeds:
//
//	engine.AwardPoints(ctx, userID, points.DefaultAward(points.ReasonAcceptedConnection),
//	    points.ReasonAcceptedConnection, connectionID)
package points
