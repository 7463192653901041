// Package store provides an in-memory ledger.TxStore for tests and dev.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/entitlement-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.Mutex

	// txMu serializes WithTx units. A single lock stands in for per-wallet
	// row locking; fine for the store the tests run against.
	txMu sync.Mutex

	wallets        map[ledger.UserID]*ledger.Wallet
	transactions   []ledger.Transaction
	refs           map[string]bool
	episodeUnlocks map[epKey]ledger.EpisodeUnlock
	seriesUnlocks  map[srKey]ledger.SeriesUnlock

	// FailOn, when set, is consulted before every mutating operation with
	// the operation name ("apply_delta", "append", "insert_episode_unlock",
	// "insert_series_unlock"). Returning a non-nil error aborts the
	// operation. Used by atomicity tests to fail mid-transaction.
	FailOn func(op string) error
}

type epKey struct {
	UserID    ledger.UserID
	EpisodeID ledger.EpisodeID
}

type srKey struct {
	UserID   ledger.UserID
	SeriesID ledger.SeriesID
}

func NewMemory() *Memory {
	return &Memory{
		wallets:        make(map[ledger.UserID]*ledger.Wallet),
		refs:           make(map[string]bool),
		episodeUnlocks: make(map[epKey]ledger.EpisodeUnlock),
		seriesUnlocks:  make(map[srKey]ledger.SeriesUnlock),
	}
}

func (m *Memory) failOn(op string) error {
	if m.FailOn != nil {
		return m.FailOn(op)
	}
	return nil
}

// =============================================================================
// WALLET STORE
// =============================================================================

func (m *Memory) Wallet(_ context.Context, userID ledger.UserID) (*ledger.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.walletLocked(userID)
}

func (m *Memory) walletLocked(userID ledger.UserID) (*ledger.Wallet, error) {
	w, ok := m.wallets[userID]
	if !ok {
		return nil, ledger.ErrWalletNotFound
	}
	cp := *w
	return &cp, nil
}

func (m *Memory) CreateWallet(_ context.Context, userID ledger.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.wallets[userID]; ok {
		return nil
	}
	m.wallets[userID] = &ledger.Wallet{UserID: userID, UpdatedAt: ledger.Now()}
	return nil
}

func (m *Memory) ApplyDelta(_ context.Context, userID ledger.UserID, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyDeltaLocked(userID, delta)
}

func (m *Memory) applyDeltaLocked(userID ledger.UserID, delta int64) (int64, error) {
	if err := m.failOn("apply_delta"); err != nil {
		return 0, err
	}
	w, ok := m.wallets[userID]
	if !ok {
		return 0, ledger.ErrWalletNotFound
	}
	if w.Balance+delta < 0 {
		return 0, &ledger.InsufficientBalanceError{UserID: userID, Required: -delta, Current: w.Balance}
	}
	w.Balance += delta
	w.UpdatedAt = ledger.Now()
	return w.Balance, nil
}

// =============================================================================
// TRANSACTION LOG
// =============================================================================

func (m *Memory) Append(_ context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(tx)
}

func (m *Memory) appendLocked(tx ledger.Transaction) error {
	if err := m.failOn("append"); err != nil {
		return err
	}
	if tx.RefID != "" && m.refs[tx.RefID] {
		return ledger.ErrDuplicateRef
	}
	m.transactions = append(m.transactions, tx)
	if tx.RefID != "" {
		m.refs[tx.RefID] = true
	}
	return nil
}

func (m *Memory) Transactions(_ context.Context, userID ledger.UserID, limit int) ([]ledger.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []ledger.Transaction
	for _, tx := range m.transactions {
		if tx.UserID == userID {
			result = append(result, tx)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *Memory) RefExists(_ context.Context, refID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refs[refID], nil
}

// =============================================================================
// UNLOCK REGISTRY
// =============================================================================

func (m *Memory) HasEpisodeUnlock(_ context.Context, userID ledger.UserID, episodeID ledger.EpisodeID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.episodeUnlocks[epKey{userID, episodeID}]
	return ok, nil
}

func (m *Memory) HasSeriesUnlock(_ context.Context, userID ledger.UserID, seriesID ledger.SeriesID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seriesUnlocks[srKey{userID, seriesID}]
	return ok, nil
}

func (m *Memory) EpisodeUnlocks(_ context.Context, userID ledger.UserID, episodeIDs []ledger.EpisodeID) (map[ledger.EpisodeID]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	owned := make(map[ledger.EpisodeID]bool)
	for _, id := range episodeIDs {
		if _, ok := m.episodeUnlocks[epKey{userID, id}]; ok {
			owned[id] = true
		}
	}
	return owned, nil
}

func (m *Memory) InsertEpisodeUnlock(_ context.Context, unlock ledger.EpisodeUnlock) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failOn("insert_episode_unlock"); err != nil {
		return err
	}
	k := epKey{unlock.UserID, unlock.EpisodeID}
	if _, ok := m.episodeUnlocks[k]; ok {
		return ledger.ErrAlreadyUnlocked
	}
	m.episodeUnlocks[k] = unlock
	return nil
}

func (m *Memory) InsertSeriesUnlock(_ context.Context, unlock ledger.SeriesUnlock) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failOn("insert_series_unlock"); err != nil {
		return err
	}
	k := srKey{unlock.UserID, unlock.SeriesID}
	if _, ok := m.seriesUnlocks[k]; ok {
		return ledger.ErrAlreadyUnlocked
	}
	m.seriesUnlocks[k] = unlock
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

var _ ledger.TxStore = (*Memory)(nil)

// WithTx executes fn within a transaction, simulated with a snapshot +
// rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	snap := m.snapshotLocked()
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.restoreLocked(snap)
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *Memory) snapshotLocked() memorySnapshot {
	s := memorySnapshot{
		wallets:        make(map[ledger.UserID]*ledger.Wallet, len(m.wallets)),
		transactions:   append([]ledger.Transaction{}, m.transactions...),
		refs:           make(map[string]bool, len(m.refs)),
		episodeUnlocks: make(map[epKey]ledger.EpisodeUnlock, len(m.episodeUnlocks)),
		seriesUnlocks:  make(map[srKey]ledger.SeriesUnlock, len(m.seriesUnlocks)),
	}
	for k, v := range m.wallets {
		cp := *v
		s.wallets[k] = &cp
	}
	for k, v := range m.refs {
		s.refs[k] = v
	}
	for k, v := range m.episodeUnlocks {
		s.episodeUnlocks[k] = v
	}
	for k, v := range m.seriesUnlocks {
		s.seriesUnlocks[k] = v
	}
	return s
}

func (m *Memory) restoreLocked(s memorySnapshot) {
	m.wallets = s.wallets
	m.transactions = s.transactions
	m.refs = s.refs
	m.episodeUnlocks = s.episodeUnlocks
	m.seriesUnlocks = s.seriesUnlocks
}

type memorySnapshot struct {
	wallets        map[ledger.UserID]*ledger.Wallet
	transactions   []ledger.Transaction
	refs           map[string]bool
	episodeUnlocks map[epKey]ledger.EpisodeUnlock
	seriesUnlocks  map[srKey]ledger.SeriesUnlock
}
