/*
Package postgres provides the PostgreSQL-backed store for the
entitlement engine.

PURPOSE:
  Same contracts as store/sqlite, for multi-instance deployments where a
  process-wide mutex cannot serialize writers. Per-user serialization
  comes from row-level locking instead: WithTx units read the wallet
  with SELECT ... FOR UPDATE, so two concurrent unlocks for the same
  user queue on the row and never both pass the balance check against a
  stale read. Cross-user operations proceed in parallel.

SCHEMA:
  Mirrors the sqlite schema with native types (BIGINT balances,
  TIMESTAMPTZ timestamps, NUMERIC package prices, partial unique index
  on transactions.ref_id). Applied by Migrate().
*/
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/warp/entitlement-engine/catalog"
	"github.com/warp/entitlement-engine/ledger"
)

// Store implements ledger.TxStore and catalog.Reader using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ ledger.TxStore = (*Store)(nil)
	_ catalog.Reader = (*Store)(nil)
)

// New connects to the database and applies the schema.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	store := &Store{pool: pool}
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Migrate applies the schema. Idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS wallets (
		user_id TEXT PRIMARY KEY,
		balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		reason TEXT NOT NULL,
		coins BIGINT NOT NULL CHECK (coins > 0),
		ref_id TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_ref
		ON transactions(ref_id) WHERE ref_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_transactions_user
		ON transactions(user_id, created_at);

	CREATE TABLE IF NOT EXISTS episode_unlocks (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		episode_id TEXT NOT NULL,
		unlocked_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (user_id, episode_id)
	);

	CREATE TABLE IF NOT EXISTS series_unlocks (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		series_id TEXT NOT NULL,
		unlocked_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (user_id, series_id)
	);

	CREATE TABLE IF NOT EXISTS series (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		free_episodes INT NOT NULL DEFAULT 0 CHECK (free_episodes >= 0)
	);

	CREATE TABLE IF NOT EXISTS episodes (
		id TEXT PRIMARY KEY,
		series_id TEXT NOT NULL,
		episode_number INT NOT NULL CHECK (episode_number > 0),
		is_free BOOLEAN NOT NULL DEFAULT FALSE,
		price_coins BIGINT NOT NULL DEFAULT 0 CHECK (price_coins >= 0),
		is_published BOOLEAN NOT NULL DEFAULT TRUE
	);
	CREATE INDEX IF NOT EXISTS idx_episodes_series
		ON episodes(series_id, episode_number);

	CREATE TABLE IF NOT EXISTS coin_packages (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		coins BIGINT NOT NULL CHECK (coins > 0),
		price NUMERIC(10,2) NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE
	);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// =============================================================================
// WALLET STORE (ledger.WalletStore)
// =============================================================================

func (s *Store) Wallet(ctx context.Context, userID ledger.UserID) (*ledger.Wallet, error) {
	return walletIn(ctx, s.pool, userID, false)
}

// walletIn reads the wallet; forUpdate takes the row lock that
// serializes concurrent balance changes for one user.
func walletIn(ctx context.Context, q querier, userID ledger.UserID, forUpdate bool) (*ledger.Wallet, error) {
	query := "SELECT user_id, balance, updated_at FROM wallets WHERE user_id = $1"
	if forUpdate {
		query += " FOR UPDATE"
	}

	var w ledger.Wallet
	err := q.QueryRow(ctx, query, userID).Scan(&w.UserID, &w.Balance, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet: %w", err)
	}
	return &w, nil
}

func (s *Store) CreateWallet(ctx context.Context, userID ledger.UserID) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO wallets (user_id, balance) VALUES ($1, 0)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	if err != nil {
		return fmt.Errorf("failed to create wallet: %w", err)
	}
	return nil
}

func (s *Store) ApplyDelta(ctx context.Context, userID ledger.UserID, delta int64) (int64, error) {
	return applyDeltaIn(ctx, s.pool, userID, delta)
}

func applyDeltaIn(ctx context.Context, q querier, userID ledger.UserID, delta int64) (int64, error) {
	var newBalance int64
	err := q.QueryRow(ctx, `
		UPDATE wallets SET balance = balance + $2, updated_at = NOW()
		WHERE user_id = $1
		RETURNING balance
	`, userID, delta).Scan(&newBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ledger.ErrWalletNotFound
	}
	if err != nil {
		if isCheckViolation(err) {
			w, werr := walletIn(ctx, q, userID, false)
			if werr != nil {
				return 0, werr
			}
			return 0, &ledger.InsufficientBalanceError{UserID: userID, Required: -delta, Current: w.Balance}
		}
		return 0, fmt.Errorf("failed to update balance: %w", err)
	}
	return newBalance, nil
}

// =============================================================================
// TRANSACTION LOG (ledger.TransactionLog)
// =============================================================================

func (s *Store) Append(ctx context.Context, tx ledger.Transaction) error {
	return appendIn(ctx, s.pool, tx)
}

func appendIn(ctx context.Context, q querier, tx ledger.Transaction) error {
	_, err := q.Exec(ctx, `
		INSERT INTO transactions (id, user_id, tx_type, reason, coins, ref_id, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
	`, tx.ID, tx.UserID, tx.Type, tx.Reason, tx.Coins, tx.RefID, tx.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.ErrDuplicateRef
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

func (s *Store) Transactions(ctx context.Context, userID ledger.UserID, limit int) ([]ledger.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, tx_type, reason, coins, COALESCE(ref_id, ''), created_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []ledger.Transaction
	for rows.Next() {
		var tx ledger.Transaction
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.Type, &tx.Reason, &tx.Coins, &tx.RefID, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

func (s *Store) RefExists(ctx context.Context, refID string) (bool, error) {
	return refExistsIn(ctx, s.pool, refID)
}

func refExistsIn(ctx context.Context, q querier, refID string) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM transactions WHERE ref_id = $1)", refID,
	).Scan(&exists)
	return exists, err
}

// =============================================================================
// UNLOCK REGISTRY (ledger.UnlockRegistry)
// =============================================================================

func (s *Store) HasEpisodeUnlock(ctx context.Context, userID ledger.UserID, episodeID ledger.EpisodeID) (bool, error) {
	return existsIn(ctx, s.pool,
		"SELECT EXISTS(SELECT 1 FROM episode_unlocks WHERE user_id = $1 AND episode_id = $2)",
		userID, episodeID)
}

func (s *Store) HasSeriesUnlock(ctx context.Context, userID ledger.UserID, seriesID ledger.SeriesID) (bool, error) {
	return existsIn(ctx, s.pool,
		"SELECT EXISTS(SELECT 1 FROM series_unlocks WHERE user_id = $1 AND series_id = $2)",
		userID, seriesID)
}

func existsIn(ctx context.Context, q querier, query string, args ...any) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, query, args...).Scan(&exists)
	return exists, err
}

func (s *Store) EpisodeUnlocks(ctx context.Context, userID ledger.UserID, episodeIDs []ledger.EpisodeID) (map[ledger.EpisodeID]bool, error) {
	return episodeUnlocksIn(ctx, s.pool, userID, episodeIDs)
}

func episodeUnlocksIn(ctx context.Context, q querier, userID ledger.UserID, episodeIDs []ledger.EpisodeID) (map[ledger.EpisodeID]bool, error) {
	owned := make(map[ledger.EpisodeID]bool)
	if len(episodeIDs) == 0 {
		return owned, nil
	}

	ids := make([]string, len(episodeIDs))
	for i, id := range episodeIDs {
		ids[i] = string(id)
	}
	rows, err := q.Query(ctx,
		"SELECT episode_id FROM episode_unlocks WHERE user_id = $1 AND episode_id = ANY($2)",
		userID, ids)
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
	return insertEpisodeUnlockIn(ctx, s.pool, unlock)
}

func insertEpisodeUnlockIn(ctx context.Context, q querier, unlock ledger.EpisodeUnlock) error {
	_, err := q.Exec(ctx, `
		INSERT INTO episode_unlocks (id, user_id, episode_id, unlocked_at)
		VALUES ($1, $2, $3, $4)
	`, unlock.ID, unlock.UserID, unlock.EpisodeID, unlock.UnlockedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.ErrAlreadyUnlocked
		}
		return fmt.Errorf("failed to insert episode unlock: %w", err)
	}
	return nil
}

func (s *Store) InsertSeriesUnlock(ctx context.Context, unlock ledger.SeriesUnlock) error {
	return insertSeriesUnlockIn(ctx, s.pool, unlock)
}

func insertSeriesUnlockIn(ctx context.Context, q querier, unlock ledger.SeriesUnlock) error {
	_, err := q.Exec(ctx, `
		INSERT INTO series_unlocks (id, user_id, series_id, unlocked_at)
		VALUES ($1, $2, $3, $4)
	`, unlock.ID, unlock.UserID, unlock.SeriesID, unlock.UnlockedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.ErrAlreadyUnlocked
		}
		return fmt.Errorf("failed to insert series unlock: %w", err)
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore)
// =============================================================================

// WithTx executes fn inside a database transaction. The transactional
// view's Wallet() takes FOR UPDATE, so the first wallet read in the
// unit acquires the row lock and concurrent units for the same user
// serialize behind it.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&txStore{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type txStore struct {
	tx pgx.Tx
}

func (ts *txStore) Wallet(ctx context.Context, userID ledger.UserID) (*ledger.Wallet, error) {
	return walletIn(ctx, ts.tx, userID, true)
}

func (ts *txStore) CreateWallet(ctx context.Context, userID ledger.UserID) error {
	_, err := ts.tx.Exec(ctx, `
		INSERT INTO wallets (user_id, balance) VALUES ($1, 0)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
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
	return existsIn(ctx, ts.tx,
		"SELECT EXISTS(SELECT 1 FROM episode_unlocks WHERE user_id = $1 AND episode_id = $2)",
		userID, episodeID)
}

func (ts *txStore) HasSeriesUnlock(ctx context.Context, userID ledger.UserID, seriesID ledger.SeriesID) (bool, error) {
	return existsIn(ctx, ts.tx,
		"SELECT EXISTS(SELECT 1 FROM series_unlocks WHERE user_id = $1 AND series_id = $2)",
		userID, seriesID)
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
	var ep catalog.Episode
	err := s.pool.QueryRow(ctx, `
		SELECT id, series_id, episode_number, is_free, price_coins, is_published
		FROM episodes WHERE id = $1 AND is_published
	`, id).Scan(&ep.ID, &ep.SeriesID, &ep.EpisodeNumber, &ep.IsFree, &ep.PriceCoins, &ep.IsPublished)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, catalog.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load episode: %w", err)
	}
	return &ep, nil
}

func (s *Store) Series(ctx context.Context, id ledger.SeriesID) (*catalog.Series, error) {
	var sr catalog.Series
	err := s.pool.QueryRow(ctx,
		"SELECT id, title, free_episodes FROM series WHERE id = $1", id,
	).Scan(&sr.ID, &sr.Title, &sr.FreeEpisodes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, catalog.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load series: %w", err)
	}
	return &sr, nil
}

func (s *Store) SeriesEpisodes(ctx context.Context, id ledger.SeriesID) ([]catalog.Episode, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, series_id, episode_number, is_free, price_coins, is_published
		FROM episodes
		WHERE series_id = $1 AND is_published
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
	var (
		pkg   catalog.CoinPackage
		price decimal.Decimal
	)
	err := s.pool.QueryRow(ctx,
		"SELECT id, name, coins, price::text, active FROM coin_packages WHERE id = $1 AND active", id,
	).Scan(&pkg.ID, &pkg.Name, &pkg.Coins, &price, &pkg.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, catalog.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load package: %w", err)
	}
	pkg.Price = price
	return &pkg, nil
}

// ListPackages returns the active coin packages, cheapest first.
func (s *Store) ListPackages(ctx context.Context) ([]catalog.CoinPackage, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT id, name, coins, price::text, active FROM coin_packages WHERE active ORDER BY coins ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query packages: %w", err)
	}
	defer rows.Close()

	var packages []catalog.CoinPackage
	for rows.Next() {
		var pkg catalog.CoinPackage
		if err := rows.Scan(&pkg.ID, &pkg.Name, &pkg.Coins, &pkg.Price, &pkg.Active); err != nil {
			return nil, err
		}
		packages = append(packages, pkg)
	}
	return packages, rows.Err()
}

// =============================================================================
// Helper functions
// =============================================================================

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23514"
}
