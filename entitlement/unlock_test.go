package entitlement_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/entitlement-engine/catalog"
	"github.com/warp/entitlement-engine/entitlement"
	"github.com/warp/entitlement-engine/ledger"
	memstore "github.com/warp/entitlement-engine/ledger/store"
	"github.com/warp/entitlement-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestService(t *testing.T) (*entitlement.Service, *sqlite.Store) {
	t.Helper()

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return entitlement.NewService(store, store), store
}

// seedSeries creates a series plus priced episodes. prices[i] belongs
// to episode number i+1.
func seedSeries(t *testing.T, store *sqlite.Store, seriesID string, freeEpisodes int, prices []int64) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, store.SaveSeries(ctx, catalog.Series{
		ID:           ledger.SeriesID(seriesID),
		Title:        "Test Series",
		FreeEpisodes: freeEpisodes,
	}))
	for i, price := range prices {
		require.NoError(t, store.SaveEpisode(ctx, catalog.Episode{
			ID:            ledger.EpisodeID(fmt.Sprintf("%s-ep%d", seriesID, i+1)),
			SeriesID:      ledger.SeriesID(seriesID),
			EpisodeNumber: i + 1,
			PriceCoins:    price,
			IsPublished:   true,
		}))
	}
}

func seedWallet(t *testing.T, store ledger.WalletStore, userID string, balance int64) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, store.CreateWallet(ctx, ledger.UserID(userID)))
	if balance > 0 {
		_, err := store.ApplyDelta(ctx, ledger.UserID(userID), balance)
		require.NoError(t, err)
	}
}

// =============================================================================
// SINGLE EPISODE UNLOCK
// =============================================================================

func TestUnlockEpisode_Priced_Success(t *testing.T) {
	// GIVEN: Wallet with 50 coins, episode priced 10
	// WHEN: Unlocking the episode
	// THEN: Balance 40, one debit transaction, one unlock row

	svc, store := newTestService(t)
	ctx := context.Background()
	seedSeries(t, store, "sr-1", 0, []int64{10})
	seedWallet(t, store, "user-1", 50)

	result, err := svc.UnlockEpisode(ctx, "user-1", "sr-1-ep1")
	require.NoError(t, err)

	assert.Equal(t, entitlement.OutcomeUnlocked, result.Outcome)
	assert.Equal(t, 1, result.UnlockedCount)
	assert.Equal(t, int64(10), result.Spent)
	assert.Equal(t, int64(40), result.NewBalance)

	unlocked, err := store.HasEpisodeUnlock(ctx, "user-1", "sr-1-ep1")
	require.NoError(t, err)
	assert.True(t, unlocked)

	txs, err := store.Transactions(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, ledger.TxDebit, txs[0].Type)
	assert.Equal(t, ledger.ReasonEpisodeUnlock, txs[0].Reason)
	assert.Equal(t, int64(10), txs[0].Coins)

	access, err := svc.Access(ctx, "user-1", "sr-1-ep1")
	require.NoError(t, err)
	assert.True(t, access.Accessible)
	assert.Equal(t, entitlement.RuleEpisodeUnlock, access.Rule)
}

func TestUnlockEpisode_FreeByThreshold_ZeroCost(t *testing.T) {
	// GIVEN: Series with free_episodes = 3, episode #2 priced 10
	// WHEN: Unlocking episode #2
	// THEN: AlreadyFree, no transaction, no unlock row

	svc, store := newTestService(t)
	ctx := context.Background()
	seedSeries(t, store, "sr-1", 3, []int64{10, 10, 10, 10})
	seedWallet(t, store, "user-1", 50)

	result, err := svc.UnlockEpisode(ctx, "user-1", "sr-1-ep2")
	require.NoError(t, err)

	assert.Equal(t, entitlement.OutcomeAlreadyFree, result.Outcome)
	assert.Zero(t, result.Spent)
	assert.Equal(t, int64(50), result.NewBalance)

	txs, err := store.Transactions(ctx, "user-1", 10)
	require.NoError(t, err)
	assert.Empty(t, txs)

	unlocked, err := store.HasEpisodeUnlock(ctx, "user-1", "sr-1-ep2")
	require.NoError(t, err)
	assert.False(t, unlocked, "free episodes never get unlock rows")

	// The evaluator already admits it.
	access, err := svc.Access(ctx, "", "sr-1-ep2")
	require.NoError(t, err)
	assert.True(t, access.Accessible)
	assert.Equal(t, entitlement.RuleFreeThreshold, access.Rule)
}

func TestUnlockEpisode_InsufficientBalance_NoMutation(t *testing.T) {
	// GIVEN: Wallet with 5 coins, episode priced 10
	// WHEN: Unlocking
	// THEN: InsufficientBalance{required:10, current:5}; balance stays 5

	svc, store := newTestService(t)
	ctx := context.Background()
	seedSeries(t, store, "sr-1", 0, []int64{10})
	seedWallet(t, store, "user-1", 5)

	_, err := svc.UnlockEpisode(ctx, "user-1", "sr-1-ep1")
	require.Error(t, err)

	var ib *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &ib)
	assert.Equal(t, int64(10), ib.Required)
	assert.Equal(t, int64(5), ib.Current)

	w, err := store.Wallet(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), w.Balance)

	txs, err := store.Transactions(ctx, "user-1", 10)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestUnlockEpisode_Twice_SecondIsFree(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seedSeries(t, store, "sr-1", 0, []int64{10})
	seedWallet(t, store, "user-1", 50)

	_, err := svc.UnlockEpisode(ctx, "user-1", "sr-1-ep1")
	require.NoError(t, err)

	result, err := svc.UnlockEpisode(ctx, "user-1", "sr-1-ep1")
	require.NoError(t, err)
	assert.Equal(t, entitlement.OutcomeAlreadyUnlocked, result.Outcome)
	assert.Zero(t, result.Spent)
	assert.Equal(t, int64(40), result.NewBalance)
}

func TestUnlockEpisode_TwoUsers_SameEpisode(t *testing.T) {
	// Debit ref ids are user-scoped: a second user buying the same
	// episode must not trip the ledger's ref uniqueness.

	svc, store := newTestService(t)
	ctx := context.Background()
	seedSeries(t, store, "sr-1", 0, []int64{10})
	seedWallet(t, store, "user-1", 50)
	seedWallet(t, store, "user-2", 50)

	for _, userID := range []ledger.UserID{"user-1", "user-2"} {
		result, err := svc.UnlockEpisode(ctx, userID, "sr-1-ep1")
		require.NoError(t, err)
		assert.Equal(t, entitlement.OutcomeUnlocked, result.Outcome)
	}
}

func TestUnlockEpisode_ZeroPriced_GrantWithoutDebit(t *testing.T) {
	// GIVEN: A paid episode whose price is 0 coins
	// WHEN: Unlocking it
	// THEN: The grant row is written; no transaction is appended (the
	//       ledger records balance changes only) and the balance is intact

	svc, store := newTestService(t)
	ctx := context.Background()
	seedSeries(t, store, "sr-1", 0, []int64{0})
	seedWallet(t, store, "user-1", 50)

	result, err := svc.UnlockEpisode(ctx, "user-1", "sr-1-ep1")
	require.NoError(t, err)
	assert.Equal(t, entitlement.OutcomeUnlocked, result.Outcome)
	assert.Equal(t, 1, result.UnlockedCount)
	assert.Zero(t, result.Spent)
	assert.Equal(t, int64(50), result.NewBalance)

	unlocked, err := store.HasEpisodeUnlock(ctx, "user-1", "sr-1-ep1")
	require.NoError(t, err)
	assert.True(t, unlocked)

	txs, err := store.Transactions(ctx, "user-1", 10)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestUnlockEpisode_UnknownEpisode(t *testing.T) {
	svc, store := newTestService(t)
	seedWallet(t, store, "user-1", 50)

	_, err := svc.UnlockEpisode(context.Background(), "user-1", "nope")
	assert.ErrorIs(t, err, ledger.ErrTargetNotFound)
}

func TestUnlockEpisode_Unpublished_NotFound(t *testing.T) {
	// Unpublished episodes are not purchasable: the catalog read filters
	// them before the unlock logic sees them.

	svc, store := newTestService(t)
	ctx := context.Background()
	seedWallet(t, store, "user-1", 50)
	require.NoError(t, store.SaveSeries(ctx, catalog.Series{ID: "sr-1"}))
	require.NoError(t, store.SaveEpisode(ctx, catalog.Episode{
		ID: "draft-ep", SeriesID: "sr-1", EpisodeNumber: 1, PriceCoins: 10, IsPublished: false,
	}))

	_, err := svc.UnlockEpisode(ctx, "user-1", "draft-ep")
	assert.ErrorIs(t, err, ledger.ErrTargetNotFound)

	_, err = svc.Access(ctx, "user-1", "draft-ep")
	assert.ErrorIs(t, err, ledger.ErrTargetNotFound)
}

func TestUnlockEpisode_Anonymous_Unauthorized(t *testing.T) {
	svc, store := newTestService(t)
	seedSeries(t, store, "sr-1", 0, []int64{10})

	_, err := svc.UnlockEpisode(context.Background(), "", "sr-1-ep1")
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)
}

// =============================================================================
// SERIES UNLOCK
// =============================================================================

func TestUnlockSeries_BulkCost(t *testing.T) {
	// GIVEN: Episodes priced [10, 15, 20], free_episodes = 1, balance 40
	// WHEN: Unlocking the series
	// THEN: Cost 35 (first episode free by threshold), balance 5,
	//       two episode unlock rows, one series row, one debit of 35

	svc, store := newTestService(t)
	ctx := context.Background()
	seedSeries(t, store, "sr-1", 1, []int64{10, 15, 20})
	seedWallet(t, store, "user-1", 40)

	result, err := svc.UnlockSeries(ctx, "user-1", "sr-1")
	require.NoError(t, err)

	assert.Equal(t, entitlement.OutcomeUnlocked, result.Outcome)
	assert.Equal(t, 2, result.UnlockedCount)
	assert.Equal(t, int64(35), result.Spent)
	assert.Equal(t, int64(5), result.NewBalance)

	seriesUnlocked, err := store.HasSeriesUnlock(ctx, "user-1", "sr-1")
	require.NoError(t, err)
	assert.True(t, seriesUnlocked)

	owned, err := store.EpisodeUnlocks(ctx, "user-1",
		[]ledger.EpisodeID{"sr-1-ep1", "sr-1-ep2", "sr-1-ep3"})
	require.NoError(t, err)
	assert.False(t, owned["sr-1-ep1"], "threshold-free episode gets no unlock row")
	assert.True(t, owned["sr-1-ep2"])
	assert.True(t, owned["sr-1-ep3"])

	txs, err := store.Transactions(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, ledger.ReasonSeriesUnlock, txs[0].Reason)
	assert.Equal(t, int64(35), txs[0].Coins)
	assert.Equal(t, "user-1:sr-1", txs[0].RefID)
}

func TestUnlockSeries_SkipsOwnedEpisodes(t *testing.T) {
	// GIVEN: User already unlocked episode #2 individually for 15
	// WHEN: Unlocking the series
	// THEN: Only #3 is charged; #2 is never re-charged

	svc, store := newTestService(t)
	ctx := context.Background()
	seedSeries(t, store, "sr-1", 1, []int64{10, 15, 20})
	seedWallet(t, store, "user-1", 100)

	_, err := svc.UnlockEpisode(ctx, "user-1", "sr-1-ep2")
	require.NoError(t, err)

	result, err := svc.UnlockSeries(ctx, "user-1", "sr-1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.UnlockedCount)
	assert.Equal(t, int64(20), result.Spent)
	assert.Equal(t, int64(65), result.NewBalance)
}

func TestUnlockSeries_SupersedesEpisodeChecks(t *testing.T) {
	// GIVEN: A series-wide unlock
	// THEN: Every episode is accessible, including one published later

	svc, store := newTestService(t)
	ctx := context.Background()
	seedSeries(t, store, "sr-1", 0, []int64{10, 15})
	seedWallet(t, store, "user-1", 100)

	_, err := svc.UnlockSeries(ctx, "user-1", "sr-1")
	require.NoError(t, err)

	for _, epID := range []ledger.EpisodeID{"sr-1-ep1", "sr-1-ep2"} {
		access, err := svc.Access(ctx, "user-1", epID)
		require.NoError(t, err)
		assert.True(t, access.Accessible, "episode %s", epID)
	}

	// An episode added after purchase is covered by the series grant.
	require.NoError(t, store.SaveEpisode(ctx, catalog.Episode{
		ID: "sr-1-ep3", SeriesID: "sr-1", EpisodeNumber: 3, PriceCoins: 20, IsPublished: true,
	}))
	access, err := svc.Access(ctx, "user-1", "sr-1-ep3")
	require.NoError(t, err)
	assert.True(t, access.Accessible)
	assert.Equal(t, entitlement.RuleSeriesUnlock, access.Rule)
}

func TestUnlockSeries_ZeroPricedEpisodes_GrantsWithoutDebit(t *testing.T) {
	// GIVEN: A series whose chargeable episodes sum to 0 coins
	// WHEN: Unlocking the series
	// THEN: Episode and series grants are written with no transaction

	svc, store := newTestService(t)
	ctx := context.Background()
	seedSeries(t, store, "sr-1", 0, []int64{0, 0})
	seedWallet(t, store, "user-1", 50)

	result, err := svc.UnlockSeries(ctx, "user-1", "sr-1")
	require.NoError(t, err)
	assert.Equal(t, entitlement.OutcomeUnlocked, result.Outcome)
	assert.Equal(t, 2, result.UnlockedCount)
	assert.Zero(t, result.Spent)
	assert.Equal(t, int64(50), result.NewBalance)

	seriesUnlocked, err := store.HasSeriesUnlock(ctx, "user-1", "sr-1")
	require.NoError(t, err)
	assert.True(t, seriesUnlocked)

	txs, err := store.Transactions(ctx, "user-1", 10)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestUnlockSeries_AllOwnedIndividually_NoSeriesGrant(t *testing.T) {
	// GIVEN: The user already owns every paid episode, bought one by one
	// WHEN: Unlocking the series
	// THEN: Zero-cost already_unlocked with no mutation; in particular no
	//       series-wide grant appears, so episodes added later stay paid

	svc, store := newTestService(t)
	ctx := context.Background()
	seedSeries(t, store, "sr-1", 0, []int64{10})
	seedWallet(t, store, "user-1", 50)

	_, err := svc.UnlockEpisode(ctx, "user-1", "sr-1-ep1")
	require.NoError(t, err)

	result, err := svc.UnlockSeries(ctx, "user-1", "sr-1")
	require.NoError(t, err)
	assert.Equal(t, entitlement.OutcomeAlreadyUnlocked, result.Outcome)
	assert.Zero(t, result.Spent)
	assert.Equal(t, int64(40), result.NewBalance)

	seriesUnlocked, err := store.HasSeriesUnlock(ctx, "user-1", "sr-1")
	require.NoError(t, err)
	assert.False(t, seriesUnlocked, "no series grant without a series purchase")

	// A later paid episode is therefore not covered.
	require.NoError(t, store.SaveEpisode(ctx, catalog.Episode{
		ID: "sr-1-ep2", SeriesID: "sr-1", EpisodeNumber: 2, PriceCoins: 20, IsPublished: true,
	}))
	access, err := svc.Access(ctx, "user-1", "sr-1-ep2")
	require.NoError(t, err)
	assert.False(t, access.Accessible)
}

func TestUnlockSeries_Twice_NoSecondCharge(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seedSeries(t, store, "sr-1", 0, []int64{10, 15})
	seedWallet(t, store, "user-1", 100)

	_, err := svc.UnlockSeries(ctx, "user-1", "sr-1")
	require.NoError(t, err)

	result, err := svc.UnlockSeries(ctx, "user-1", "sr-1")
	require.NoError(t, err)
	assert.Equal(t, entitlement.OutcomeAlreadyUnlocked, result.Outcome)
	assert.Equal(t, int64(75), result.NewBalance)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestUnlockEpisode_Concurrent_SingleCharge(t *testing.T) {
	// GIVEN: Two concurrent unlock requests for the same (user, episode)
	// THEN: Exactly one debit transaction and one unlock row

	svc, store := newTestService(t)
	ctx := context.Background()
	seedSeries(t, store, "sr-1", 0, []int64{10})
	seedWallet(t, store, "user-1", 50)

	var wg sync.WaitGroup
	results := make([]*entitlement.UnlockResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.UnlockEpisode(ctx, "user-1", "sr-1-ep1")
		}(i)
	}
	wg.Wait()

	var charged int
	for i := 0; i < 2; i++ {
		require.NoError(t, errs[i])
		if results[i].Outcome == entitlement.OutcomeUnlocked {
			charged++
		}
	}
	assert.Equal(t, 1, charged, "exactly one request pays")

	w, err := store.Wallet(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(40), w.Balance)

	txs, err := store.Transactions(ctx, "user-1", 10)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestUnlock_Concurrent_BalanceNeverNegative(t *testing.T) {
	// GIVEN: Balance 25 and three 10-coin episodes unlocked concurrently
	// THEN: At most two succeed; balance stays >= 0

	svc, store := newTestService(t)
	ctx := context.Background()
	seedSeries(t, store, "sr-1", 0, []int64{10, 10, 10})
	seedWallet(t, store, "user-1", 25)

	var wg sync.WaitGroup
	for i := 1; i <= 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Insufficient balance on one of them is expected.
			svc.UnlockEpisode(ctx, "user-1", ledger.EpisodeID(fmt.Sprintf("sr-1-ep%d", i)))
		}(i)
	}
	wg.Wait()

	w, err := store.Wallet(ctx, "user-1")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, w.Balance, int64(0))
	assert.Equal(t, int64(5), w.Balance, "two unlocks at 10 coins each")
}

// =============================================================================
// ATOMICITY UNDER FAILURE INJECTION
// =============================================================================

// memCatalog backs the atomicity tests: the memory store carries the
// failure hooks, and the catalog is a fixed map.
type memCatalog struct {
	episodes map[ledger.EpisodeID]catalog.Episode
	series   map[ledger.SeriesID]catalog.Series
}

func (c *memCatalog) Episode(_ context.Context, id ledger.EpisodeID) (*catalog.Episode, error) {
	ep, ok := c.episodes[id]
	if !ok || !ep.IsPublished {
		return nil, catalog.ErrNotFound
	}
	return &ep, nil
}

func (c *memCatalog) Series(_ context.Context, id ledger.SeriesID) (*catalog.Series, error) {
	sr, ok := c.series[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return &sr, nil
}

func (c *memCatalog) SeriesEpisodes(_ context.Context, id ledger.SeriesID) ([]catalog.Episode, error) {
	var eps []catalog.Episode
	for _, ep := range c.episodes {
		if ep.SeriesID == id && ep.IsPublished {
			eps = append(eps, ep)
		}
	}
	return eps, nil
}

func (c *memCatalog) Package(_ context.Context, id string) (*catalog.CoinPackage, error) {
	return nil, catalog.ErrNotFound
}

func TestUnlockEpisode_FailureAfterDebit_RollsBack(t *testing.T) {
	// GIVEN: Storage fails between the debit and the unlock-row insert
	// THEN: Observable state is unchanged - balance intact, no
	//       transaction, no unlock row

	mem := memstore.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.CreateWallet(ctx, "user-1"))
	_, err := mem.ApplyDelta(ctx, "user-1", 50)
	require.NoError(t, err)

	cat := &memCatalog{
		episodes: map[ledger.EpisodeID]catalog.Episode{
			"ep-1": {ID: "ep-1", SeriesID: "sr-1", EpisodeNumber: 1, PriceCoins: 10, IsPublished: true},
		},
		series: map[ledger.SeriesID]catalog.Series{"sr-1": {ID: "sr-1"}},
	}
	svc := entitlement.NewService(mem, cat)

	boom := errors.New("storage failure")
	mem.FailOn = func(op string) error {
		if op == "insert_episode_unlock" {
			return boom
		}
		return nil
	}

	_, err = svc.UnlockEpisode(ctx, "user-1", "ep-1")
	require.ErrorIs(t, err, boom)

	mem.FailOn = nil
	w, err := mem.Wallet(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), w.Balance, "debit rolled back")

	txs, err := mem.Transactions(ctx, "user-1", 10)
	require.NoError(t, err)
	assert.Empty(t, txs, "ledger append rolled back")

	unlocked, err := mem.HasEpisodeUnlock(ctx, "user-1", "ep-1")
	require.NoError(t, err)
	assert.False(t, unlocked)

	// Retry after the fault clears succeeds cleanly.
	result, err := svc.UnlockEpisode(ctx, "user-1", "ep-1")
	require.NoError(t, err)
	assert.Equal(t, entitlement.OutcomeUnlocked, result.Outcome)
	assert.Equal(t, int64(40), result.NewBalance)
}
