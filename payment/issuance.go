/*
issuance.go - Coin issuance: purchases, webhook confirmation, admin credit

PURPOSE:
  Every path that adds coins to a wallet. All three paths go through the
  same atomic credit: balance increment and ledger append commit as one
  unit, never separately.

PATHS:
  Purchase:       Interactive storefront purchase under a session
  ConfirmPayment: Asynchronous provider webhook, signature-verified,
                  replay-safe by external event id
  AdminCredit:    Operator credit with an elevated claim, admin_adjust

REPLAY SAFETY:
  The transaction log's RefID is unique. ConfirmPayment checks it before
  mutating and treats a redelivered event as success (the provider must
  receive an ack to stop retrying), and the unique index closes the race
  between two concurrent deliveries of the same event.
*/
package payment

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/warp/entitlement-engine/catalog"
	"github.com/warp/entitlement-engine/ledger"
)

// =============================================================================
// RESULTS
// =============================================================================

// CreditResult reports a completed credit.
type CreditResult struct {
	CoinsAdded int64
	NewBalance int64

	// Replayed is true when a webhook event had already been processed
	// and no mutation occurred.
	Replayed bool
}

// =============================================================================
// SERVICE
// =============================================================================

// Service handles all coin credits.
type Service struct {
	store    ledger.TxStore
	catalog  catalog.Reader
	verifier *Verifier
}

func NewService(store ledger.TxStore, reader catalog.Reader, verifier *Verifier) *Service {
	return &Service{store: store, catalog: reader, verifier: verifier}
}

// Purchase credits the wallet with the package's coin amount.
// Contract A: the caller's identity was verified by the session layer.
func (s *Service) Purchase(ctx context.Context, userID ledger.UserID, packageID string) (*CreditResult, error) {
	if userID == "" {
		return nil, ledger.ErrUnauthorized
	}

	pkg, err := s.catalog.Package(ctx, packageID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, ledger.ErrTargetNotFound
		}
		return nil, err
	}

	result, err := s.credit(ctx, userID, pkg.Coins, ledger.ReasonPurchase, "")
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"user":    userID,
		"package": pkg.ID,
		"coins":   pkg.Coins,
	}).Info("coins purchased")
	return result, nil
}

// ConfirmPayment consumes a provider webhook. Contract B: the payload
// is untrusted until the signature verifies; redelivered events ack
// without mutation.
func (s *Service) ConfirmPayment(ctx context.Context, payload []byte, sigHeader string) (*CreditResult, error) {
	if err := s.verifier.Verify(payload, sigHeader); err != nil {
		return nil, err
	}

	ev, err := DecodeEvent(payload)
	if err != nil {
		return nil, err
	}
	if ev.Type != EventCheckoutCompleted {
		// Acknowledged and ignored; not a credit trigger.
		return &CreditResult{Replayed: false}, nil
	}

	processed, err := s.store.RefExists(ctx, ev.ID)
	if err != nil {
		return nil, err
	}
	if processed {
		log.WithField("event", ev.ID).Info("payment event replayed, ignoring")
		return &CreditResult{Replayed: true}, nil
	}

	pkg, err := s.catalog.Package(ctx, ev.Metadata.PackageID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, ledger.ErrTargetNotFound
		}
		return nil, err
	}

	result, err := s.credit(ctx, ledger.UserID(ev.Metadata.UserID), pkg.Coins, ledger.ReasonPurchase, ev.ID)
	if errors.Is(err, ledger.ErrDuplicateRef) {
		// Lost a race with a concurrent delivery of the same event.
		return &CreditResult{Replayed: true}, nil
	}
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"user":    ev.Metadata.UserID,
		"package": pkg.ID,
		"event":   ev.ID,
		"coins":   pkg.Coins,
	}).Info("payment confirmed")
	return result, nil
}

// AdminCredit credits an arbitrary amount, bypassing package lookup.
// Requires the elevated operator claim.
func (s *Service) AdminCredit(ctx context.Context, elevated bool, userID ledger.UserID, coins int64) (*CreditResult, error) {
	if !elevated {
		return nil, ledger.ErrForbidden
	}
	if userID == "" || coins <= 0 {
		return nil, ledger.ErrTargetNotFound
	}

	result, err := s.credit(ctx, userID, coins, ledger.ReasonAdminAdjust, "")
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"user":  userID,
		"coins": coins,
	}).Info("admin credit applied")
	return result, nil
}

// credit is the one atomic balance-increment + ledger-append pair.
func (s *Service) credit(ctx context.Context, userID ledger.UserID, coins int64, reason ledger.TxReason, refID string) (*CreditResult, error) {
	var result *CreditResult
	err := s.store.WithTx(ctx, func(st ledger.Store) error {
		if _, err := st.Wallet(ctx, userID); err != nil {
			return err
		}
		if err := st.Append(ctx, ledger.Transaction{
			ID:        ledger.NewTransactionID(),
			UserID:    userID,
			Type:      ledger.TxCredit,
			Reason:    reason,
			Coins:     coins,
			RefID:     refID,
			CreatedAt: ledger.Now(),
		}); err != nil {
			return err
		}
		newBalance, err := st.ApplyDelta(ctx, userID, coins)
		if err != nil {
			return err
		}
		result = &CreditResult{CoinsAdded: coins, NewBalance: newBalance}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
