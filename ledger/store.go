/*
store.go - Persistence contracts for wallets, transactions, and grants

PURPOSE:
  Defines the interface between the entitlement logic and the database.
  Different implementations use SQLite, PostgreSQL, or in-memory storage.

KEY INTERFACES:
  WalletStore:    Balance reads and paired balance+ledger mutations
  TransactionLog: Append-only transaction persistence
  UnlockRegistry: Episode and series grant sets
  Store:          Union of the three, what handlers program against
  TxStore:        Adds WithTx for atomic multi-write units

APPEND-ONLY CONTRACT:
  TransactionLog and UnlockRegistry expose no Update or Delete methods.
  Corrections go through compensating admin_adjust transactions.

ATOMICITY:
  The unlock and issuance handlers run their whole critical section
  inside TxStore.WithTx: balance check, debit/credit, ledger append,
  and grant inserts commit as one unit or not at all. Implementations
  must also serialize concurrent WithTx units touching the same wallet
  (row lock, global writer lock, or equivalent) so two requests cannot
  both pass a balance check against a stale read.

IMPLEMENTATIONS:
  - store/sqlite:   Production SQLite (WAL)
  - store/postgres: PostgreSQL with row-level locking
  - ledger/store:   In-memory for testing
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// WALLET STORE
// =============================================================================

// WalletStore persists per-user balances. Mutations happen only through
// ApplyDelta so a balance can never change without a ledger entry.
type WalletStore interface {
	// Wallet returns the user's wallet, or ErrWalletNotFound.
	Wallet(ctx context.Context, userID UserID) (*Wallet, error)

	// CreateWallet creates a zero-balance wallet if none exists.
	// No-op when the wallet already exists.
	CreateWallet(ctx context.Context, userID UserID) error

	// ApplyDelta adjusts the balance by delta (negative for debits) and
	// returns the new balance. Implementations must reject a delta that
	// would make the balance negative; callers check first, this is the
	// invariant backstop.
	ApplyDelta(ctx context.Context, userID UserID, delta int64) (int64, error)
}

// =============================================================================
// TRANSACTION LOG - Append-only
// =============================================================================

// TransactionLog is the immutable history of balance changes.
// Append-only: no Update, no Delete. Ever.
type TransactionLog interface {
	// Append persists a transaction. Returns ErrDuplicateRef if a
	// transaction with the same non-empty RefID exists.
	Append(ctx context.Context, tx Transaction) error

	// Transactions returns the user's transactions, newest first.
	Transactions(ctx context.Context, userID UserID, limit int) ([]Transaction, error)

	// RefExists checks whether any transaction carries the reference id.
	// The replay guard for webhook credits.
	RefExists(ctx context.Context, refID string) (bool, error)
}

// =============================================================================
// UNLOCK REGISTRY - Insert-only grant sets
// =============================================================================

// UnlockRegistry persists durable access grants.
type UnlockRegistry interface {
	// HasEpisodeUnlock reports whether the user individually unlocked the
	// episode.
	HasEpisodeUnlock(ctx context.Context, userID UserID, episodeID EpisodeID) (bool, error)

	// HasSeriesUnlock reports whether the user unlocked the whole series.
	HasSeriesUnlock(ctx context.Context, userID UserID, seriesID SeriesID) (bool, error)

	// EpisodeUnlocks returns the episode ids the user unlocked within the
	// series. Used to exclude already-owned episodes from a bulk charge.
	EpisodeUnlocks(ctx context.Context, userID UserID, episodeIDs []EpisodeID) (map[EpisodeID]bool, error)

	// InsertEpisodeUnlock records a grant. ErrAlreadyUnlocked if present.
	InsertEpisodeUnlock(ctx context.Context, unlock EpisodeUnlock) error

	// InsertSeriesUnlock records a series-wide grant. ErrAlreadyUnlocked
	// if present.
	InsertSeriesUnlock(ctx context.Context, unlock SeriesUnlock) error
}

// =============================================================================
// COMBINED CONTRACTS
// =============================================================================

// Store is what the handlers program against.
type Store interface {
	WalletStore
	TransactionLog
	UnlockRegistry
}

// TxStore wraps Store with transaction support. If fn returns an error
// the whole unit rolls back; partial application is never observable.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}

// Now returns a UTC timestamp truncated to millisecond precision, the
// resolution every store backend round-trips losslessly.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
