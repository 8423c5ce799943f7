package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"trading-assistant-go/internal/models"
	"go.uber.org/zap"
)

// V6 document names. The ledger is persisted as three JSON files.
const (
	balancesFile     = "balances_v6.json"
	tradesFile       = "trades_v6.json"
	transactionsFile = "transactions_v6.json"
)

// Fresh-install seed balances, used only when neither a V6 state nor a
// recoverable legacy state exists.
const (
	DefaultUSDBalance = 10000
	DefaultTRYBalance = 250000
)

// debounceWindow bounds how long a low-risk mutation (high-water-mark
// ratchet) may sit unpersisted.
const debounceWindow = time.Second

// State is the full persisted ledger: the balance pair, all trades and
// the newest-first transaction log.
type State struct {
	Balances     models.Balances      `json:"balances"`
	Trades       []*models.Trade      `json:"trades"`
	Transactions []models.Transaction `json:"transactions"`
}

// OpenTrades returns the open partition of the trade set.
func (s *State) OpenTrades() []*models.Trade {
	var out []*models.Trade
	for _, t := range s.Trades {
		if t.IsOpen {
			out = append(out, t)
		}
	}
	return out
}

// ClosedTrades returns the closed partition of the trade set.
func (s *State) ClosedTrades() []*models.Trade {
	var out []*models.Trade
	for _, t := range s.Trades {
		if !t.IsOpen {
			out = append(out, t)
		}
	}
	return out
}

// Store persists the ledger as three V6 JSON documents in a data
// directory. Writes are atomic (temp file + rename) and guarded by the
// balance sentinel: while balances are unloaded nothing is written, so
// a startup race can never clobber durable state.
type Store struct {
	dir    string
	logger *zap.Logger

	mu      sync.Mutex
	pending *State
	timer   *time.Timer
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir %s: %w", dir, err)
	}
	return &Store{dir: dir, logger: logger.Named("ledger-store")}, nil
}

// Load reads the V6 documents. The second return value reports whether
// a V6 state was found at all; when false the caller should attempt
// legacy migration.
func (s *Store) Load() (*State, bool, error) {
	state := &State{Balances: models.NewUnloadedBalances()}

	raw, err := os.ReadFile(filepath.Join(s.dir, balancesFile))
	if errors.Is(err, os.ErrNotExist) {
		return state, false, nil
	}
	if err != nil {
		return state, false, fmt.Errorf("failed to read balances: %w", err)
	}
	if err := json.Unmarshal(raw, &state.Balances); err != nil {
		return state, false, fmt.Errorf("failed to decode balances: %w", err)
	}

	state.Trades = s.loadTrades()
	state.Transactions = s.loadTransactions()
	return state, true, nil
}

// loadTrades decodes the trades document record by record: a record
// that cannot be decoded is skipped, never fatal to the whole file.
func (s *Store) loadTrades() []*models.Trade {
	var rawRecords []json.RawMessage
	if !s.loadRecords(tradesFile, &rawRecords) {
		return nil
	}

	trades := make([]*models.Trade, 0, len(rawRecords))
	for i, raw := range rawRecords {
		var t models.Trade
		if err := json.Unmarshal(raw, &t); err != nil {
			s.logger.Warn("Skipping undecodable trade record",
				zap.Int("index", i), zap.Error(err))
			continue
		}
		trades = append(trades, &t)
	}
	return trades
}

func (s *Store) loadTransactions() []models.Transaction {
	var rawRecords []json.RawMessage
	if !s.loadRecords(transactionsFile, &rawRecords) {
		return nil
	}

	txs := make([]models.Transaction, 0, len(rawRecords))
	for i, raw := range rawRecords {
		var tx models.Transaction
		if err := json.Unmarshal(raw, &tx); err != nil {
			s.logger.Warn("Skipping undecodable transaction record",
				zap.Int("index", i), zap.Error(err))
			continue
		}
		txs = append(txs, tx)
	}
	return txs
}

func (s *Store) loadRecords(name string, out *[]json.RawMessage) bool {
	raw, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return false
	}
	if err != nil {
		s.logger.Error("Failed to read ledger document", zap.String("file", name), zap.Error(err))
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		s.logger.Error("Failed to decode ledger document", zap.String("file", name), zap.Error(err))
		return false
	}
	return true
}

// Save writes all three documents synchronously. It refuses to write
// while the balances still carry the unloaded sentinel. Any debounced
// snapshot still queued is dropped: it predates this state, and letting
// its timer fire later would regress the durable files.
func (s *Store) Save(state *State) error {
	if !state.Balances.Loaded() {
		s.logger.Warn("Skipping persistence: balances not loaded yet")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.pending = nil
	return s.writeLocked(state)
}

func (s *Store) writeLocked(state *State) error {
	trades := state.Trades
	if trades == nil {
		trades = []*models.Trade{}
	}
	txs := state.Transactions
	if txs == nil {
		txs = []models.Transaction{}
	}

	if err := s.writeFile(balancesFile, state.Balances); err != nil {
		return err
	}
	if err := s.writeFile(tradesFile, trades); err != nil {
		return err
	}
	return s.writeFile(transactionsFile, txs)
}

func (s *Store) writeFile(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}

	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}

// SaveDebounced coalesces writes within the debounce window. Meant for
// high-frequency low-risk mutations; at most one window of data is at
// risk.
func (s *Store) SaveDebounced(state *State) {
	if !state.Balances.Loaded() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = state
	if s.timer == nil {
		s.timer = time.AfterFunc(debounceWindow, s.flushPending)
	}
}

// flushPending holds the lock across the pop and the write, so a
// concurrent Save can never be interleaved and then overwritten by the
// older pending snapshot.
func (s *Store) flushPending() {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.pending
	s.pending = nil
	s.timer = nil
	if state == nil {
		return
	}

	if err := s.writeLocked(state); err != nil {
		s.logger.Error("Debounced ledger write failed", zap.Error(err))
	}
}

// Flush writes any pending debounced state immediately.
func (s *Store) Flush() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	s.flushPending()
}
