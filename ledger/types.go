/*
Package ledger provides the core wallet and transaction types for the
entitlement engine.

PURPOSE:
  This package contains the domain-agnostic money plumbing: per-user coin
  wallets, the append-only transaction log, and the durable unlock grant
  records. Whether coins are spent on an episode, a whole series, or
  credited from a storefront purchase, the same types and invariants apply.

KEY CONCEPTS IN THIS FILE (types.go):
  - Wallet: The single mutable balance record per user
  - Transaction: An immutable ledger entry recording every balance change
  - EpisodeUnlock / SeriesUnlock: Durable access grants

DESIGN PRINCIPLES:
  1. Immutability: Transactions and unlock grants are never modified
  2. Pairing: Every wallet mutation pairs with exactly one transaction
  3. Auditability: Every transaction carries a reason and a reference id
  4. Idempotency: External credits carry a RefID; one transaction per RefID

SEE ALSO:
  - errors.go: Error taxonomy for balance and grant operations
  - store.go: Persistence contracts (append-only, transactional)
*/
package ledger

import (
	"fmt"
	"sync/atomic"
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type EpisodeID string
type SeriesID string
type TransactionID string

var txSeq atomic.Uint64

// NewTransactionID returns a process-unique transaction id. The counter
// disambiguates appends landing in the same nanosecond, which would
// otherwise collide on the primary key.
func NewTransactionID() TransactionID {
	return TransactionID(fmt.Sprintf("tx-%d-%d", time.Now().UnixNano(), txSeq.Add(1)))
}

// =============================================================================
// WALLET - Per-user coin balance
// =============================================================================

// Wallet is the single mutable record per user. Balance never goes
// negative; it is only changed together with a matching Transaction
// inside the same storage transaction.
type Wallet struct {
	UserID    UserID
	Balance   int64
	UpdatedAt time.Time
}

// =============================================================================
// TRANSACTION - Immutable ledger entry
// =============================================================================

type TxType string

const (
	TxCredit TxType = "credit"
	TxDebit  TxType = "debit"
)

type TxReason string

const (
	ReasonPurchase      TxReason = "purchase"       // Coins bought via storefront or webhook
	ReasonEpisodeUnlock TxReason = "episode_unlock" // Single episode purchased
	ReasonSeriesUnlock  TxReason = "series_unlock"  // Whole series purchased
	ReasonAdminAdjust   TxReason = "admin_adjust"   // Manual operator credit
)

// Transaction records one balance change. Append-only: no update, no
// delete. Corrections are made with compensating admin_adjust entries.
type Transaction struct {
	ID     TransactionID
	UserID UserID
	Type   TxType
	Reason TxReason

	// Coins is always positive; Type carries the direction.
	Coins int64

	// RefID links the transaction to what caused it: the external payment
	// event id for webhook credits (unique, replay guard), or the
	// user-scoped unlock target ("<user_id>:<target_id>") for debits.
	RefID string

	CreatedAt time.Time
}

// Delta returns the signed balance effect of the transaction.
func (t Transaction) Delta() int64 {
	if t.Type == TxDebit {
		return -t.Coins
	}
	return t.Coins
}

// =============================================================================
// UNLOCK GRANTS - Durable access records
// =============================================================================

// EpisodeUnlock is the sole source of truth for "this user individually
// unlocked this episode". Never deleted.
type EpisodeUnlock struct {
	ID         string
	UserID     UserID
	EpisodeID  EpisodeID
	UnlockedAt time.Time
}

// SeriesUnlock grants access to every episode of a series, including
// episodes added after purchase. Its existence supersedes per-episode
// checks and it never expires.
type SeriesUnlock struct {
	ID         string
	UserID     UserID
	SeriesID   SeriesID
	UnlockedAt time.Time
}
