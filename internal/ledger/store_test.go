package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"trading-assistant-go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return store
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)

	exit := 60.0
	now := time.Now().UTC().Truncate(time.Second)
	state := &State{
		Balances: models.Balances{USD: 99495, TRY: 250000},
		Trades: []*models.Trade{
			{ID: "t1", Symbol: "AAPL", EntryPrice: 50, Quantity: 10, EntryDate: now, IsOpen: true, Currency: models.CurrencyUSD},
			{ID: "t2", Symbol: "THYAO.IS", EntryPrice: 30, Quantity: 5, EntryDate: now, IsOpen: false, ExitPrice: &exit, Currency: models.CurrencyTRY},
		},
		Transactions: []models.Transaction{
			{ID: "x1", Type: models.TxTypeBuy, Symbol: "AAPL", Quantity: 10, Price: 50, Fee: 5, Currency: models.CurrencyUSD, Timestamp: now},
		},
	}

	require.NoError(t, store.Save(state))

	loaded, found, err := store.Load()
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, state.Balances, loaded.Balances)
	require.Len(t, loaded.Trades, 2)
	assert.Equal(t, "t1", loaded.Trades[0].ID)
	require.NotNil(t, loaded.Trades[1].ExitPrice)
	assert.Equal(t, 60.0, *loaded.Trades[1].ExitPrice)
	require.Len(t, loaded.Transactions, 1)
	assert.Equal(t, models.TxTypeBuy, loaded.Transactions[0].Type)
}

func TestStore_LoadWithoutState(t *testing.T) {
	store := newTestStore(t)

	state, found, err := store.Load()
	require.NoError(t, err)
	assert.False(t, found)
	assert.False(t, state.Balances.Loaded())
}

func TestStore_SentinelBlocksPersistence(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, zap.NewNop())
	require.NoError(t, err)

	state := &State{Balances: models.NewUnloadedBalances()}
	require.NoError(t, store.Save(state))

	// Nothing may have been written while the sentinel is set.
	_, statErr := os.Stat(filepath.Join(dir, balancesFile))
	assert.True(t, os.IsNotExist(statErr))
}

func TestStore_UndecodableRecordIsSkippedNotFatal(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, balancesFile),
		[]byte(`{"usd": 100, "try": 200}`), 0o644))
	// Second record has a quantity of the wrong type and cannot decode.
	require.NoError(t, os.WriteFile(filepath.Join(dir, transactionsFile),
		[]byte(`[
			{"id":"ok","type":"buy","symbol":"AAPL","quantity":1,"price":10,"fee":0.1,"currency":"usd","timestamp":"2025-01-02T10:00:00Z"},
			{"id":"bad","type":"buy","symbol":"MSFT","quantity":"not-a-number"}
		]`), 0o644))

	state, found, err := store.Load()
	require.NoError(t, err)
	assert.True(t, found)
	require.Len(t, state.Transactions, 1)
	assert.Equal(t, "ok", state.Transactions[0].ID)
}

func TestStore_UnknownNestedFieldDecodesAsNil(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, balancesFile),
		[]byte(`{"usd": 100, "try": 200}`), 0o644))
	// A record written by a future version: extra top-level fields and
	// no snapshots. It must decode with nil snapshots, not fail.
	require.NoError(t, os.WriteFile(filepath.Join(dir, transactionsFile),
		[]byte(`[{"id":"x","type":"sell","symbol":"AAPL","quantity":2,"price":55,"fee":1,
			"currency":"usd","timestamp":"2025-01-02T10:00:00Z",
			"someFutureField":{"nested":true}}]`), 0o644))

	state, _, err := store.Load()
	require.NoError(t, err)
	require.Len(t, state.Transactions, 1)
	tx := state.Transactions[0]
	assert.Nil(t, tx.Decision)
	assert.Nil(t, tx.Market)
	assert.Nil(t, tx.Execution)
	assert.Nil(t, tx.Outcome)
	assert.Nil(t, tx.PnL)
}

func TestStore_DebouncedWriteCoalesces(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, zap.NewNop())
	require.NoError(t, err)

	first := &State{Balances: models.Balances{USD: 1, TRY: 1}}
	second := &State{Balances: models.Balances{USD: 2, TRY: 2}}
	store.SaveDebounced(first)
	store.SaveDebounced(second)

	store.Flush()

	raw, err := os.ReadFile(filepath.Join(dir, balancesFile))
	require.NoError(t, err)
	var balances models.Balances
	require.NoError(t, json.Unmarshal(raw, &balances))
	// Only the latest pending state survives the window.
	assert.Equal(t, 2.0, balances.USD)
}

func TestStore_SyncSaveSupersedesPendingDebounce(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, zap.NewNop())
	require.NoError(t, err)

	// A debounced snapshot queued just before a synchronous write must
	// never fire afterwards and regress the files to the older state.
	store.SaveDebounced(&State{Balances: models.Balances{USD: 1, TRY: 1}})
	require.NoError(t, store.Save(&State{Balances: models.Balances{USD: 2, TRY: 2}}))

	time.Sleep(debounceWindow + 500*time.Millisecond)

	raw, err := os.ReadFile(filepath.Join(dir, balancesFile))
	require.NoError(t, err)
	var balances models.Balances
	require.NoError(t, json.Unmarshal(raw, &balances))
	assert.Equal(t, 2.0, balances.USD)
}

func TestState_Partition(t *testing.T) {
	state := &State{
		Trades: []*models.Trade{
			{ID: "a", IsOpen: true},
			{ID: "b", IsOpen: false},
			{ID: "c", IsOpen: true},
		},
	}

	open := state.OpenTrades()
	closed := state.ClosedTrades()

	assert.Len(t, open, 2)
	assert.Len(t, closed, 1)
	// Disjoint and exhaustive.
	assert.Equal(t, len(state.Trades), len(open)+len(closed))
	for _, o := range open {
		for _, c := range closed {
			assert.NotEqual(t, o.ID, c.ID)
		}
	}
}
