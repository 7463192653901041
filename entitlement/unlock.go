/*
unlock.go - The unlock transaction handler

PURPOSE:
  Converts coins into durable unlock grants: a single episode, or every
  remaining paid episode of a series. The whole critical section runs
  inside one storage transaction so a crash can never leave the user
  charged without access, or granted access without charge.

FLOW (single episode):
  1. Resolve episode and series from the catalog
  2. Free by flag or threshold -> zero-cost AlreadyFree result
  3. Existing series or episode grant -> zero-cost AlreadyUnlocked result
  4. Balance check -> InsufficientBalanceError, no mutation
  5. Atomically: debit, append one debit transaction, insert grant

FLOW (series):
  Same shape, charging for every published paid episode above the free
  threshold that the user doesn't already own, inserting one grant per
  charged episode plus the series-wide grant.

DOUBLE-SPEND GUARD:
  Balance check and debit happen inside WithTx; the store serializes
  concurrent units touching the same wallet. Two concurrent requests for
  the same episode resolve to one charge: the loser of the race finds
  the grant row already present (unique index) and is not charged.
*/
package entitlement

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/warp/entitlement-engine/catalog"
	"github.com/warp/entitlement-engine/ledger"
)

// =============================================================================
// RESULTS
// =============================================================================

// Outcome distinguishes a priced success from the zero-cost
// short-circuits, so UIs can skip "spent N coins" messaging.
type Outcome string

const (
	OutcomeUnlocked        Outcome = "unlocked"
	OutcomeAlreadyFree     Outcome = "already_free"
	OutcomeAlreadyUnlocked Outcome = "already_unlocked"
)

// UnlockResult reports what an unlock call did.
type UnlockResult struct {
	Outcome       Outcome
	UnlockedCount int
	Spent         int64
	NewBalance    int64
}

// =============================================================================
// SERVICE
// =============================================================================

// Service orchestrates access evaluation and unlock transactions.
type Service struct {
	store   ledger.TxStore
	catalog catalog.Reader
}

func NewService(store ledger.TxStore, reader catalog.Reader) *Service {
	return &Service{store: store, catalog: reader}
}

// Access answers "can user watch episode". userID is empty for
// anonymous callers. Pure read; no side effects.
func (s *Service) Access(ctx context.Context, userID ledger.UserID, episodeID ledger.EpisodeID) (Access, error) {
	ep, series, err := s.resolveEpisode(ctx, episodeID)
	if err != nil {
		return Access{}, err
	}

	var grants Grants
	if userID != "" {
		grants, err = s.loadGrants(ctx, s.store, userID, ep)
		if err != nil {
			return Access{}, err
		}
	}
	return Evaluate(userID, ep, series, grants), nil
}

// UnlockEpisode purchases access to one episode.
func (s *Service) UnlockEpisode(ctx context.Context, userID ledger.UserID, episodeID ledger.EpisodeID) (*UnlockResult, error) {
	if userID == "" {
		return nil, ledger.ErrUnauthorized
	}

	ep, series, err := s.resolveEpisode(ctx, episodeID)
	if err != nil {
		return nil, err
	}

	// Free content needs no grant row: the evaluator already admits it.
	if ep.IsFree || ep.EpisodeNumber <= series.FreeEpisodes {
		return s.zeroCost(ctx, userID, OutcomeAlreadyFree)
	}

	var result *UnlockResult
	err = s.store.WithTx(ctx, func(st ledger.Store) error {
		grants, err := s.loadGrants(ctx, st, userID, ep)
		if err != nil {
			return err
		}
		if grants.SeriesUnlocked || grants.EpisodeUnlocked {
			result, err = s.zeroCostIn(ctx, st, userID, OutcomeAlreadyUnlocked)
			return err
		}

		newBalance, err := s.chargeIfPriced(ctx, st, userID, ep.PriceCoins, ledger.ReasonEpisodeUnlock, string(ep.ID))
		if err != nil {
			return err
		}
		if err := st.InsertEpisodeUnlock(ctx, ledger.EpisodeUnlock{
			ID:         fmt.Sprintf("epu-%s-%s", userID, ep.ID),
			UserID:     userID,
			EpisodeID:  ep.ID,
			UnlockedAt: ledger.Now(),
		}); err != nil {
			return err
		}

		result = &UnlockResult{Outcome: OutcomeUnlocked, UnlockedCount: 1, Spent: ep.PriceCoins, NewBalance: newBalance}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Outcome == OutcomeUnlocked {
		log.WithFields(log.Fields{
			"user":    userID,
			"episode": ep.ID,
			"spent":   result.Spent,
		}).Info("episode unlocked")
	}
	return result, nil
}

// UnlockSeries purchases every remaining paid episode of a series in
// one transaction: one debit, one grant row per charged episode, and
// one series-wide grant.
func (s *Service) UnlockSeries(ctx context.Context, userID ledger.UserID, seriesID ledger.SeriesID) (*UnlockResult, error) {
	if userID == "" {
		return nil, ledger.ErrUnauthorized
	}

	series, err := s.catalog.Series(ctx, seriesID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, ledger.ErrTargetNotFound
		}
		return nil, err
	}
	episodes, err := s.catalog.SeriesEpisodes(ctx, seriesID)
	if err != nil {
		return nil, err
	}

	var result *UnlockResult
	err = s.store.WithTx(ctx, func(st ledger.Store) error {
		unlocked, err := st.HasSeriesUnlock(ctx, userID, seriesID)
		if err != nil {
			return err
		}
		if unlocked {
			result, err = s.zeroCostIn(ctx, st, userID, OutcomeAlreadyUnlocked)
			return err
		}

		// Paid episodes above the free threshold.
		var paid []catalog.Episode
		ids := make([]ledger.EpisodeID, 0, len(episodes))
		for _, ep := range episodes {
			if ep.IsFree || ep.EpisodeNumber <= series.FreeEpisodes {
				continue
			}
			paid = append(paid, ep)
			ids = append(ids, ep.ID)
		}

		// Never re-charge individually unlocked episodes.
		owned, err := st.EpisodeUnlocks(ctx, userID, ids)
		if err != nil {
			return err
		}
		var charge []catalog.Episode
		var totalCost int64
		for _, ep := range paid {
			if owned[ep.ID] {
				continue
			}
			charge = append(charge, ep)
			totalCost += ep.PriceCoins
		}

		now := ledger.Now()
		if len(charge) == 0 {
			// Everything already owned or free. No mutation: the
			// series-wide grant exists only when a whole-series unlock is
			// actually purchased.
			result, err = s.zeroCostIn(ctx, st, userID, OutcomeAlreadyUnlocked)
			return err
		}

		newBalance, err := s.chargeIfPriced(ctx, st, userID, totalCost, ledger.ReasonSeriesUnlock, string(seriesID))
		if err != nil {
			return err
		}
		for _, ep := range charge {
			if err := st.InsertEpisodeUnlock(ctx, ledger.EpisodeUnlock{
				ID:         fmt.Sprintf("epu-%s-%s", userID, ep.ID),
				UserID:     userID,
				EpisodeID:  ep.ID,
				UnlockedAt: now,
			}); err != nil {
				return err
			}
		}
		if err := st.InsertSeriesUnlock(ctx, ledger.SeriesUnlock{
			ID:         fmt.Sprintf("sru-%s-%s", userID, seriesID),
			UserID:     userID,
			SeriesID:   seriesID,
			UnlockedAt: now,
		}); err != nil {
			return err
		}

		result = &UnlockResult{Outcome: OutcomeUnlocked, UnlockedCount: len(charge), Spent: totalCost, NewBalance: newBalance}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Outcome == OutcomeUnlocked {
		log.WithFields(log.Fields{
			"user":     userID,
			"series":   seriesID,
			"episodes": result.UnlockedCount,
			"spent":    result.Spent,
		}).Info("series unlocked")
	}
	return result, nil
}

// =============================================================================
// INTERNALS
// =============================================================================

// chargeIfPriced performs the balance check, debit, and ledger append.
// Caller must run it inside WithTx. A zero cost appends nothing: the
// ledger records balance changes only (Coins > 0), so a zero-priced
// target yields grant rows without a transaction. The debit's ref id is
// scoped to the user so the global ref uniqueness doubles as a
// one-debit-per-grant guard without colliding across users buying the
// same target.
func (s *Service) chargeIfPriced(ctx context.Context, st ledger.Store, userID ledger.UserID, cost int64, reason ledger.TxReason, target string) (int64, error) {
	w, err := st.Wallet(ctx, userID)
	if err != nil {
		return 0, err
	}
	if cost == 0 {
		return w.Balance, nil
	}
	if w.Balance < cost {
		return 0, &ledger.InsufficientBalanceError{UserID: userID, Required: cost, Current: w.Balance}
	}

	newBalance, err := st.ApplyDelta(ctx, userID, -cost)
	if err != nil {
		return 0, err
	}
	if err := st.Append(ctx, ledger.Transaction{
		ID:        ledger.NewTransactionID(),
		UserID:    userID,
		Type:      ledger.TxDebit,
		Reason:    reason,
		Coins:     cost,
		RefID:     fmt.Sprintf("%s:%s", userID, target),
		CreatedAt: ledger.Now(),
	}); err != nil {
		return 0, err
	}
	return newBalance, nil
}

func (s *Service) resolveEpisode(ctx context.Context, episodeID ledger.EpisodeID) (*catalog.Episode, *catalog.Series, error) {
	ep, err := s.catalog.Episode(ctx, episodeID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, nil, ledger.ErrTargetNotFound
		}
		return nil, nil, err
	}
	series, err := s.catalog.Series(ctx, ep.SeriesID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, nil, ledger.ErrTargetNotFound
		}
		return nil, nil, err
	}
	return ep, series, nil
}

func (s *Service) loadGrants(ctx context.Context, st ledger.Store, userID ledger.UserID, ep *catalog.Episode) (Grants, error) {
	seriesUnlocked, err := st.HasSeriesUnlock(ctx, userID, ep.SeriesID)
	if err != nil {
		return Grants{}, err
	}
	episodeUnlocked, err := st.HasEpisodeUnlock(ctx, userID, ep.ID)
	if err != nil {
		return Grants{}, err
	}
	return Grants{SeriesUnlocked: seriesUnlocked, EpisodeUnlocked: episodeUnlocked}, nil
}

func (s *Service) zeroCost(ctx context.Context, userID ledger.UserID, outcome Outcome) (*UnlockResult, error) {
	return s.zeroCostIn(ctx, s.store, userID, outcome)
}

func (s *Service) zeroCostIn(ctx context.Context, st ledger.Store, userID ledger.UserID, outcome Outcome) (*UnlockResult, error) {
	w, err := st.Wallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &UnlockResult{Outcome: outcome, NewBalance: w.Balance}, nil
}
