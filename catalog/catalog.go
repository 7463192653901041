/*
Package catalog provides the read models the entitlement core consumes.

PURPOSE:
  Episodes, series, and purchasable coin packages are owned by catalog
  management, outside this core. This package defines the shapes the
  core reads (price, free flag, ordinal number, owning series, free
  threshold) and the Reader contract supplying them.

PUBLICATION POLICY:
  Unpublished episodes are not watchable and not purchasable. Reader
  implementations return ErrNotFound for them so the policy is applied
  uniformly rather than re-checked at every call site.

SEE ALSO:
  - entitlement: Access evaluation over these read models
  - payment: Coin package lookup for purchases
*/
package catalog

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/warp/entitlement-engine/ledger"
)

// ErrNotFound is returned for unknown ids and for unpublished episodes.
var ErrNotFound = errors.New("catalog: not found")

// =============================================================================
// READ MODELS
// =============================================================================

// Episode carries the fields the ledger core reads. Owned by catalog
// management; read-only here.
type Episode struct {
	ID            ledger.EpisodeID
	SeriesID      ledger.SeriesID
	EpisodeNumber int
	IsFree        bool
	PriceCoins    int64
	IsPublished   bool
}

// Series carries the free-episode threshold: the count of leading
// episode numbers that are free regardless of per-episode flags.
type Series struct {
	ID           ledger.SeriesID
	Title        string
	FreeEpisodes int
}

// CoinPackage is a purchasable bundle. Coins is what the wallet gains;
// Price is the fiat amount charged by the payment provider.
type CoinPackage struct {
	ID     string
	Name   string
	Coins  int64
	Price  decimal.Decimal
	Active bool
}

// =============================================================================
// READER - What the core consumes
// =============================================================================

// Reader supplies catalog data to the access evaluator and the unlock
// and issuance handlers. No write access is needed at request time.
type Reader interface {
	// Episode returns a published episode, or ErrNotFound.
	Episode(ctx context.Context, id ledger.EpisodeID) (*Episode, error)

	// Series returns series metadata, or ErrNotFound.
	Series(ctx context.Context, id ledger.SeriesID) (*Series, error)

	// SeriesEpisodes returns the published episodes of a series ordered
	// by episode number ascending.
	SeriesEpisodes(ctx context.Context, id ledger.SeriesID) ([]Episode, error)

	// Package returns an active coin package, or ErrNotFound.
	Package(ctx context.Context, id string) (*CoinPackage, error)
}
