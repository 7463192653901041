/*
dto.go - Request/response data structures for the HTTP API

Wire shapes only; domain types stay in ledger/catalog/entitlement.
*/
package api

import "github.com/shopspring/decimal"

// =============================================================================
// REQUESTS
// =============================================================================

// UnlockRequest targets exactly one of episode_id or series_id.
type UnlockRequest struct {
	EpisodeID string `json:"episode_id,omitempty"`
	SeriesID  string `json:"series_id,omitempty"`
}

type PurchaseRequest struct {
	PackageID string `json:"package_id"`
}

type AdminCreditRequest struct {
	UserID string `json:"user_id"`
	Coins  int64  `json:"coins"`
}

type ProvisionWalletRequest struct {
	UserID string `json:"user_id"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type AccessDTO struct {
	Accessible bool   `json:"accessible"`
	Rule       string `json:"rule"`
}

type UnlockResultDTO struct {
	Outcome       string `json:"outcome"`
	UnlockedCount int    `json:"unlocked_count"`
	Spent         int64  `json:"spent"`
	NewBalance    int64  `json:"new_balance"`
}

type WalletDTO struct {
	UserID    string `json:"user_id"`
	Balance   int64  `json:"balance"`
	UpdatedAt string `json:"updated_at"`
}

type TransactionDTO struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Reason    string `json:"reason"`
	Coins     int64  `json:"coins"`
	RefID     string `json:"ref_id,omitempty"`
	CreatedAt string `json:"created_at"`
}

type PackageDTO struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Coins int64           `json:"coins"`
	Price decimal.Decimal `json:"price"`
}

type CreditResultDTO struct {
	CoinsAdded int64 `json:"coins_added"`
	NewBalance int64 `json:"new_balance"`
	Replayed   bool  `json:"replayed,omitempty"`
}

type ErrorDTO struct {
	Error string `json:"error"`

	// Set for insufficient-balance failures so the client can show a
	// top-up prompt.
	Required int64 `json:"required,omitempty"`
	Current  int64 `json:"current,omitempty"`
}
