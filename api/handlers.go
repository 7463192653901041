/*
handlers.go - HTTP handlers for the entitlement engine

PURPOSE:
  Exposes the entitlement and payment services over REST. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Access & unlock:
    GET  /api/episodes/{id}/access   Accessibility check (identity optional)
    POST /api/unlock                 Unlock an episode or a series

  Wallet:
    GET  /api/wallet                 Balance
    GET  /api/wallet/transactions    Ledger history

  Coins:
    GET  /api/packages               Purchasable coin packages
    POST /api/coins/purchase         Interactive purchase
    POST /api/webhooks/payment       Provider payment confirmation

  Admin:
    POST /api/admin/credits          Operator credit (elevated claim)
    POST /api/admin/wallets          Provision a wallet for a new account

ERROR HANDLING:
  Domain errors map onto HTTP statuses in writeDomainError:
  - 401 Unauthorized, 403 Forbidden, 404 unknown target
  - 402 insufficient balance, with required/current in the body
  - 400 bad signature, stale event, malformed payload
  - 500 anything else; atomicity in the store guarantees no partial
    state leaked, so the caller may safely retry.
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/warp/entitlement-engine/catalog"
	"github.com/warp/entitlement-engine/entitlement"
	"github.com/warp/entitlement-engine/ledger"
	"github.com/warp/entitlement-engine/payment"
)

// maxBodyBytes bounds request bodies; webhook payloads are small.
const maxBodyBytes = 1 << 20

// PackageLister lists purchasable packages for the storefront. Both
// store backends implement it.
type PackageLister interface {
	ListPackages(ctx context.Context) ([]catalog.CoinPackage, error)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       ledger.TxStore
	Entitlement *entitlement.Service
	Payment     *payment.Service
	Packages    PackageLister
}

// NewHandler wires the services over a shared store.
func NewHandler(store ledger.TxStore, ent *entitlement.Service, pay *payment.Service, packages PackageLister) *Handler {
	return &Handler{Store: store, Entitlement: ent, Payment: pay, Packages: packages}
}

// =============================================================================
// ACCESS & UNLOCK
// =============================================================================

// GetAccess answers whether the caller may watch the episode. Works
// anonymously; identity widens the answer via unlock grants.
func (h *Handler) GetAccess(w http.ResponseWriter, r *http.Request) {
	episodeID := ledger.EpisodeID(chi.URLParam(r, "id"))

	var userID ledger.UserID
	if id := identityFrom(r.Context()); id != nil {
		userID = id.UserID
	}

	access, err := h.Entitlement.Access(r.Context(), userID, episodeID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AccessDTO{Accessible: access.Accessible, Rule: string(access.Rule)})
}

// Unlock purchases access to one episode or a whole series.
func (h *Handler) Unlock(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	if id == nil {
		writeDomainError(w, ledger.ErrUnauthorized)
		return
	}

	var req UnlockRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if (req.EpisodeID == "") == (req.SeriesID == "") {
		writeError(w, http.StatusBadRequest, "exactly one of episode_id or series_id is required")
		return
	}

	var (
		result *entitlement.UnlockResult
		err    error
	)
	if req.EpisodeID != "" {
		result, err = h.Entitlement.UnlockEpisode(r.Context(), id.UserID, ledger.EpisodeID(req.EpisodeID))
	} else {
		result, err = h.Entitlement.UnlockSeries(r.Context(), id.UserID, ledger.SeriesID(req.SeriesID))
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, UnlockResultDTO{
		Outcome:       string(result.Outcome),
		UnlockedCount: result.UnlockedCount,
		Spent:         result.Spent,
		NewBalance:    result.NewBalance,
	})
}

// =============================================================================
// WALLET
// =============================================================================

func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	if id == nil {
		writeDomainError(w, ledger.ErrUnauthorized)
		return
	}

	wallet, err := h.Store.Wallet(r.Context(), id.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, WalletDTO{
		UserID:    string(wallet.UserID),
		Balance:   wallet.Balance,
		UpdatedAt: wallet.UpdatedAt.Format(timeFormat),
	})
}

func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	if id == nil {
		writeDomainError(w, ledger.ErrUnauthorized)
		return
	}

	txs, err := h.Store.Transactions(r.Context(), id.UserID, 50)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = TransactionDTO{
			ID:        string(tx.ID),
			Type:      string(tx.Type),
			Reason:    string(tx.Reason),
			Coins:     tx.Coins,
			RefID:     tx.RefID,
			CreatedAt: tx.CreatedAt.Format(timeFormat),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// COINS
// =============================================================================

func (h *Handler) ListPackages(w http.ResponseWriter, r *http.Request) {
	packages, err := h.Packages.ListPackages(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]PackageDTO, len(packages))
	for i, pkg := range packages {
		dtos[i] = PackageDTO{ID: pkg.ID, Name: pkg.Name, Coins: pkg.Coins, Price: pkg.Price}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	if id == nil {
		writeDomainError(w, ledger.ErrUnauthorized)
		return
	}

	var req PurchaseRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil || req.PackageID == "" {
		writeError(w, http.StatusBadRequest, "package_id is required")
		return
	}

	result, err := h.Payment.Purchase(r.Context(), id.UserID, req.PackageID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CreditResultDTO{CoinsAdded: result.CoinsAdded, NewBalance: result.NewBalance})
}

// PaymentWebhook consumes provider events. Replayed events ack with 200
// so the provider stops redelivering; signature failures do not.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	result, err := h.Payment.ConfirmPayment(r.Context(), payload, r.Header.Get("Payment-Signature"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CreditResultDTO{
		CoinsAdded: result.CoinsAdded,
		NewBalance: result.NewBalance,
		Replayed:   result.Replayed,
	})
}

// =============================================================================
// ADMIN
// =============================================================================

func (h *Handler) AdminCredit(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	if id == nil {
		writeDomainError(w, ledger.ErrUnauthorized)
		return
	}

	var req AdminCreditRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil || req.UserID == "" || req.Coins <= 0 {
		writeError(w, http.StatusBadRequest, "user_id and a positive coins amount are required")
		return
	}

	result, err := h.Payment.AdminCredit(r.Context(), id.Elevated, ledger.UserID(req.UserID), req.Coins)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CreditResultDTO{CoinsAdded: result.CoinsAdded, NewBalance: result.NewBalance})
}

// ProvisionWallet creates a zero-balance wallet for a new account. The
// account-creation collaborator calls this with an operator token.
func (h *Handler) ProvisionWallet(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	if id == nil {
		writeDomainError(w, ledger.ErrUnauthorized)
		return
	}
	if !id.Elevated {
		writeDomainError(w, ledger.ErrForbidden)
		return
	}

	var req ProvisionWalletRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	if err := h.Store.CreateWallet(r.Context(), ledger.UserID(req.UserID)); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// =============================================================================
// HELPERS
// =============================================================================

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorDTO{Error: message})
}

func writeDomainError(w http.ResponseWriter, err error) {
	var ib *ledger.InsufficientBalanceError
	switch {
	case errors.As(err, &ib):
		writeJSON(w, http.StatusPaymentRequired, ErrorDTO{
			Error:    "insufficient balance",
			Required: ib.Required,
			Current:  ib.Current,
		})
	case errors.Is(err, ledger.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, ledger.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, ledger.ErrTargetNotFound), errors.Is(err, ledger.ErrWalletNotFound), errors.Is(err, catalog.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, payment.ErrSignatureInvalid), errors.Is(err, payment.ErrEventTooOld), errors.Is(err, payment.ErrMalformedEvent):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.WithError(err).Error("internal error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
