/*
Package sqlite provides the SQLite-backed store for the entitlement engine.

PURPOSE:
  Implements ledger.TxStore and catalog.Reader over a single SQLite
  database. Suited to single-binary deployments; the postgres package
  carries the same contracts for multi-instance setups.

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statements touch the transactions, episode_unlocks,
  or series_unlocks tables. The only UPDATE in this package is the wallet
  balance adjustment.

KEY TABLES:
  wallets:         One balance row per user
  transactions:    Immutable ledger, ref_id unique (replay guard)
  episode_unlocks: Durable per-(user, episode) grants, unique pair
  series_unlocks:  Durable per-(user, series) grants, unique pair
  episodes/series: Catalog read models (seeded by catalog management)
  coin_packages:   Purchasable bundles

CONCURRENCY:
  A process-wide mutex serializes writers; SQLite allows one writer at a
  time anyway, and WithTx holding the mutex gives the per-user
  read-check-write serialization the unlock handler needs. WAL mode
  keeps readers unblocked.

USAGE:
  st, err := sqlite.New("./entitlement.db")
  defer st.Close()

SEE ALSO:
  - ledger/store.go: Contract definitions
  - store/postgres:  Row-locking implementation of the same contracts
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/entitlement-engine/catalog"
	"github.com/warp/entitlement-engine/ledger"
)

// Store implements ledger.TxStore and catalog.Reader using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ ledger.TxStore = (*Store)(nil)
	_ catalog.Reader = (*Store)(nil)
)

// New creates a SQLite store. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// An in-memory DB lives per connection; a second connection would see
	// an empty schema.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Wallets (one mutable balance row per user)
	CREATE TABLE IF NOT EXISTS wallets (
		user_id TEXT PRIMARY KEY,
		balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
		updated_at TEXT NOT NULL
	);

	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		reason TEXT NOT NULL,
		coins INTEGER NOT NULL CHECK (coins > 0),
		ref_id TEXT,
		created_at TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_ref
		ON transactions(ref_id) WHERE ref_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_transactions_user
		ON transactions(user_id, created_at);

	-- Unlock grants (insert-only)
	CREATE TABLE IF NOT EXISTS episode_unlocks (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		episode_id TEXT NOT NULL,
		unlocked_at TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_episode_unlocks_user_episode
		ON episode_unlocks(user_id, episode_id);

	CREATE TABLE IF NOT EXISTS series_unlocks (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		series_id TEXT NOT NULL,
		unlocked_at TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_series_unlocks_user_series
		ON series_unlocks(user_id, series_id);

	-- Catalog read models (owned by catalog management)
	CREATE TABLE IF NOT EXISTS series (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		free_episodes INTEGER NOT NULL DEFAULT 0 CHECK (free_episodes >= 0)
	);

	CREATE TABLE IF NOT EXISTS episodes (
		id TEXT PRIMARY KEY,
		series_id TEXT NOT NULL,
		episode_number INTEGER NOT NULL CHECK (episode_number > 0),
		is_free INTEGER NOT NULL DEFAULT 0,
		price_coins INTEGER NOT NULL DEFAULT 0 CHECK (price_coins >= 0),
		is_published INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_episodes_series
		ON episodes(series_id, episode_number);

	CREATE TABLE IF NOT EXISTS coin_packages (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		coins INTEGER NOT NULL CHECK (coins > 0),
		price TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// queryer is satisfied by both *sql.DB and *sql.Tx, so every operation
// can run standalone or inside WithTx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// WALLET STORE (ledger.WalletStore)
// =============================================================================

func (s *Store) Wallet(ctx context.Context, userID ledger.UserID) (*ledger.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return walletIn(ctx, s.db, userID)
}

func walletIn(ctx context.Context, q queryer, userID ledger.UserID) (*ledger.Wallet, error) {
	var (
		w         ledger.Wallet
		updatedAt string
	)
	err := q.QueryRowContext(ctx,
		"SELECT user_id, balance, updated_at FROM wallets WHERE user_id = ?",
		userID,
	).Scan(&w.UserID, &w.Balance, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet: %w", err)
	}
	w.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &w, nil
}

func (s *Store) CreateWallet(ctx context.Context, userID ledger.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO wallets (user_id, balance, updated_at) VALUES (?, 0, ?)",
		userID, ledger.Now().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to create wallet: %w", err)
	}
	return nil
}

func (s *Store) ApplyDelta(ctx context.Context, userID ledger.UserID, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return applyDeltaIn(ctx, s.db, userID, delta)
}

func applyDeltaIn(ctx context.Context, q queryer, userID ledger.UserID, delta int64) (int64, error) {
	w, err := walletIn(ctx, q, userID)
	if err != nil {
		return 0, err
	}
	if w.Balance+delta < 0 {
		return 0, &ledger.InsufficientBalanceError{UserID: userID, Required: -delta, Current: w.Balance}
	}

	_, err = q.ExecContext(ctx,
		"UPDATE wallets SET balance = balance + ?, updated_at = ? WHERE user_id = ?",
		delta, ledger.Now().Format(time.RFC3339Nano), userID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to update balance: %w", err)
	}
	return w.Balance + delta, nil
}

// =============================================================================
// TRANSACTION LOG (ledger.TransactionLog)
// =============================================================================

func (s *Store) Append(ctx context.Context, tx ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendIn(ctx, s.db, tx)
}

func appendIn(ctx context.Context, q queryer, tx ledger.Transaction) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, tx_type, reason, coins, ref_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		tx.ID, tx.UserID, tx.Type, tx.Reason, tx.Coins,
		nullString(tx.RefID),
		tx.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateRef
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

func (s *Store) Transactions(ctx context.Context, userID ledger.UserID, limit int) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, tx_type, reason, coins, ref_id, created_at
		FROM transactions
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []ledger.Transaction
	for rows.Next() {
		var (
			tx        ledger.Transaction
			refID     sql.NullString
			createdAt string
		)
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.Type, &tx.Reason, &tx.Coins, &refID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.RefID = refID.String
		tx.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

func (s *Store) RefExists(ctx context.Context, refID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return refExistsIn(ctx, s.db, refID)
}

func refExistsIn(ctx context.Context, q queryer, refID string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE ref_id = ?", refID,
	).Scan(&count)
	return count > 0, err
}

// =============================================================================
// UNLOCK REGISTRY (ledger.UnlockRegistry)
// =============================================================================

func (s *Store) HasEpisodeUnlock(ctx context.Context, userID ledger.UserID, episodeID ledger.EpisodeID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return hasEpisodeUnlockIn(ctx, s.db, userID, episodeID)
}

func hasEpisodeUnlockIn(ctx context.Context, q queryer, userID ledger.UserID, episodeID ledger.EpisodeID) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM episode_unlocks WHERE user_id = ? AND episode_id = ?",
		userID, episodeID,
	).Scan(&count)
	return count > 0, err
}

func (s *Store) HasSeriesUnlock(ctx context.Context, userID ledger.UserID, seriesID ledger.SeriesID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return hasSeriesUnlockIn(ctx, s.db, userID, seriesID)
}

func hasSeriesUnlockIn(ctx context.Context, q queryer, userID ledger.UserID, seriesID ledger.SeriesID) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM series_unlocks WHERE user_id = ? AND series_id = ?",
		userID, seriesID,
	).Scan(&count)
	return count > 0, err
}

func (s *Store) EpisodeUnlocks(ctx context.Context, userID ledger.UserID, episodeIDs []ledger.EpisodeID) (map[ledger.EpisodeID]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return episodeUnlocksIn(ctx, s.db, userID, episodeIDs)
}

func episodeUnlocksIn(ctx context.Context, q queryer, userID ledger.UserID, episodeIDs []ledger.EpisodeID) (map[ledger.EpisodeID]bool, error) {
	owned := make(map[ledger.EpisodeID]bool)
	if len(episodeIDs) == 0 {
		return owned, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(episodeIDs)), ",")
	args := make([]any, 0, len(episodeIDs)+1)
	args = append(args, userID)
	for _, id := range episodeIDs {
		args = append(args, id)
	}

	rows, err := q.QueryContext(ctx,
		"SELECT episode_id FROM episode_unlocks WHERE user_id = ? AND episode_id IN ("+placeholders+")",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query unlocks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id ledger.EpisodeID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		owned[id] = true
	}
	return owned, rows.Err()
}

func (s *Store) InsertEpisodeUnlock(ctx context.Context, unlock ledger.EpisodeUnlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertEpisodeUnlockIn(ctx, s.db, unlock)
}

func insertEpisodeUnlockIn(ctx context.Context, q queryer, unlock ledger.EpisodeUnlock) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO episode_unlocks (id, user_id, episode_id, unlocked_at)
		VALUES (?, ?, ?, ?)
	`, unlock.ID, unlock.UserID, unlock.EpisodeID, unlock.UnlockedAt.Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrAlreadyUnlocked
		}
		return fmt.Errorf("failed to insert episode unlock: %w", err)
	}
	return nil
}

func (s *Store) InsertSeriesUnlock(ctx context.Context, unlock ledger.SeriesUnlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertSeriesUnlockIn(ctx, s.db, unlock)
}

func insertSeriesUnlockIn(ctx context.Context, q queryer, unlock ledger.SeriesUnlock) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO series_unlocks (id, user_id, series_id, unlocked_at)
		VALUES (?, ?, ?, ?)
	`, unlock.ID, unlock.UserID, unlock.SeriesID, unlock.UnlockedAt.Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrAlreadyUnlocked
		}
		return fmt.Errorf("failed to insert series unlock: %w", err)
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore)
// =============================================================================

// WithTx executes fn within a database transaction. The writer mutex is
// held for the whole unit, which is what serializes concurrent
// read-check-write sequences on the same wallet.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore routes every operation through the open sql.Tx. No mutex
// here: WithTx already holds it.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) Wallet(ctx context.Context, userID ledger.UserID) (*ledger.Wallet, error) {
	return walletIn(ctx, ts.tx, userID)
}

func (ts *txStore) CreateWallet(ctx context.Context, userID ledger.UserID) error {
	_, err := ts.tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO wallets (user_id, balance, updated_at) VALUES (?, 0, ?)",
		userID, ledger.Now().Format(time.RFC3339Nano),
	)
	return err
}

func (ts *txStore) ApplyDelta(ctx context.Context, userID ledger.UserID, delta int64) (int64, error) {
	return applyDeltaIn(ctx, ts.tx, userID, delta)
}

func (ts *txStore) Append(ctx context.Context, tx ledger.Transaction) error {
	return appendIn(ctx, ts.tx, tx)
}

func (ts *txStore) Transactions(ctx context.Context, userID ledger.UserID, limit int) ([]ledger.Transaction, error) {
	return nil, fmt.Errorf("transaction history is read outside WithTx")
}

func (ts *txStore) RefExists(ctx context.Context, refID string) (bool, error) {
	return refExistsIn(ctx, ts.tx, refID)
}

func (ts *txStore) HasEpisodeUnlock(ctx context.Context, userID ledger.UserID, episodeID ledger.EpisodeID) (bool, error) {
	return hasEpisodeUnlockIn(ctx, ts.tx, userID, episodeID)
}

func (ts *txStore) HasSeriesUnlock(ctx context.Context, userID ledger.UserID, seriesID ledger.SeriesID) (bool, error) {
	return hasSeriesUnlockIn(ctx, ts.tx, userID, seriesID)
}

func (ts *txStore) EpisodeUnlocks(ctx context.Context, userID ledger.UserID, episodeIDs []ledger.EpisodeID) (map[ledger.EpisodeID]bool, error) {
	return episodeUnlocksIn(ctx, ts.tx, userID, episodeIDs)
}

func (ts *txStore) InsertEpisodeUnlock(ctx context.Context, unlock ledger.EpisodeUnlock) error {
	return insertEpisodeUnlockIn(ctx, ts.tx, unlock)
}

func (ts *txStore) InsertSeriesUnlock(ctx context.Context, unlock ledger.SeriesUnlock) error {
	return insertSeriesUnlockIn(ctx, ts.tx, unlock)
}

// =============================================================================
// CATALOG READER (catalog.Reader)
// =============================================================================

func (s *Store) Episode(ctx context.Context, id ledger.EpisodeID) (*catalog.Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ep catalog.Episode
	err := s.db.QueryRowContext(ctx, `
		SELECT id, series_id, episode_number, is_free, price_coins, is_published
		FROM episodes WHERE id = ? AND is_published = 1
	`, id).Scan(&ep.ID, &ep.SeriesID, &ep.EpisodeNumber, &ep.IsFree, &ep.PriceCoins, &ep.IsPublished)
	if err == sql.ErrNoRows {
		return nil, catalog.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load episode: %w", err)
	}
	return &ep, nil
}

func (s *Store) Series(ctx context.Context, id ledger.SeriesID) (*catalog.Series, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sr catalog.Series
	err := s.db.QueryRowContext(ctx,
		"SELECT id, title, free_episodes FROM series WHERE id = ?", id,
	).Scan(&sr.ID, &sr.Title, &sr.FreeEpisodes)
	if err == sql.ErrNoRows {
		return nil, catalog.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load series: %w", err)
	}
	return &sr, nil
}

func (s *Store) SeriesEpisodes(ctx context.Context, id ledger.SeriesID) ([]catalog.Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, series_id, episode_number, is_free, price_coins, is_published
		FROM episodes
		WHERE series_id = ? AND is_published = 1
		ORDER BY episode_number ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query episodes: %w", err)
	}
	defer rows.Close()

	var episodes []catalog.Episode
	for rows.Next() {
		var ep catalog.Episode
		if err := rows.Scan(&ep.ID, &ep.SeriesID, &ep.EpisodeNumber, &ep.IsFree, &ep.PriceCoins, &ep.IsPublished); err != nil {
			return nil, err
		}
		episodes = append(episodes, ep)
	}
	return episodes, rows.Err()
}

func (s *Store) Package(ctx context.Context, id string) (*catalog.CoinPackage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		pkg   catalog.CoinPackage
		price string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, coins, price, active FROM coin_packages WHERE id = ? AND active = 1", id,
	).Scan(&pkg.ID, &pkg.Name, &pkg.Coins, &price, &pkg.Active)
	if err == sql.ErrNoRows {
		return nil, catalog.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load package: %w", err)
	}
	pkg.Price, err = decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("bad price for package %s: %w", id, err)
	}
	return &pkg, nil
}

// ListPackages returns the active coin packages, cheapest first.
func (s *Store) ListPackages(ctx context.Context) ([]catalog.CoinPackage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, coins, price, active FROM coin_packages WHERE active = 1 ORDER BY coins ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query packages: %w", err)
	}
	defer rows.Close()

	var packages []catalog.CoinPackage
	for rows.Next() {
		var (
			pkg   catalog.CoinPackage
			price string
		)
		if err := rows.Scan(&pkg.ID, &pkg.Name, &pkg.Coins, &price, &pkg.Active); err != nil {
			return nil, err
		}
		pkg.Price, _ = decimal.NewFromString(price)
		packages = append(packages, pkg)
	}
	return packages, rows.Err()
}

// =============================================================================
// CATALOG WRITES - Seeding and tests only, never called at request time
// =============================================================================

func (s *Store) SaveSeries(ctx context.Context, sr catalog.Series) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO series (id, title, free_episodes) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title, free_episodes = excluded.free_episodes
	`, sr.ID, sr.Title, sr.FreeEpisodes)
	return err
}

func (s *Store) SaveEpisode(ctx context.Context, ep catalog.Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO episodes (id, series_id, episode_number, is_free, price_coins, is_published)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			series_id = excluded.series_id,
			episode_number = excluded.episode_number,
			is_free = excluded.is_free,
			price_coins = excluded.price_coins,
			is_published = excluded.is_published
	`, ep.ID, ep.SeriesID, ep.EpisodeNumber, ep.IsFree, ep.PriceCoins, ep.IsPublished)
	return err
}

func (s *Store) SavePackage(ctx context.Context, pkg catalog.CoinPackage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO coin_packages (id, name, coins, price, active) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, coins = excluded.coins,
			price = excluded.price, active = excluded.active
	`, pkg.ID, pkg.Name, pkg.Coins, pkg.Price.String(), pkg.Active)
	return err
}

// =============================================================================
// Helper functions
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
