package ledger

import (
	"encoding/json"
	"errors"
	"fmt"

	"trading-assistant-go/internal/models"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// legacyStateKey is the single key the pre-V6 versions persisted the
// whole portfolio under.
const legacyStateKey = "portfolio_state"

// legacyRecord is one row of the pre-V6 key-value store.
type legacyRecord struct {
	Key   string `gorm:"primaryKey;column:key"`
	Value string `gorm:"column:value"`
}

func (legacyRecord) TableName() string { return "legacy_store" }

// legacyState mirrors the pre-V6 blob layout. Every field is optional:
// partial recovery is still recovery.
type legacyState struct {
	Balances     *models.Balances     `json:"balances,omitempty"`
	Trades       []*models.Trade      `json:"trades,omitempty"`
	Transactions []models.Transaction `json:"transactions,omitempty"`
}

// LegacyStore reads the pre-V6 single-key sqlite store. It is opened
// read-only in spirit: migration reads it once and never writes it, so
// re-running migration on the same snapshot is idempotent.
type LegacyStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// OpenLegacy opens the legacy store at the given sqlite DSN. A missing
// database is not an error; Read will simply recover nothing.
func OpenLegacy(dsn string, logger *zap.Logger) (*LegacyStore, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open legacy store: %w", err)
	}
	return &LegacyStore{db: db, logger: logger.Named("legacy-store")}, nil
}

// NewLegacyStore wraps an existing gorm handle; used by tests and by
// callers that manage the connection themselves.
func NewLegacyStore(db *gorm.DB, logger *zap.Logger) *LegacyStore {
	return &LegacyStore{db: db, logger: logger.Named("legacy-store")}
}

// Read recovers whatever the legacy blob holds. The second return
// value reports whether any field was recovered at all.
func (l *LegacyStore) Read() (*State, bool, error) {
	var record legacyRecord
	err := l.db.First(&record, "key = ?", legacyStateKey).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		// A legacy database that doesn't even have the table counts
		// as nothing to recover, not a migration failure.
		l.logger.Warn("Legacy store unreadable, treating as empty", zap.Error(err))
		return nil, false, nil
	}

	var blob legacyState
	if err := json.Unmarshal([]byte(record.Value), &blob); err != nil {
		return nil, false, fmt.Errorf("failed to decode legacy state: %w", err)
	}

	if blob.Balances == nil && len(blob.Trades) == 0 && len(blob.Transactions) == 0 {
		return nil, false, nil
	}

	state := &State{
		Balances:     models.Balances{USD: DefaultUSDBalance, TRY: DefaultTRYBalance},
		Trades:       blob.Trades,
		Transactions: blob.Transactions,
	}
	if blob.Balances != nil {
		state.Balances = *blob.Balances
	}
	return state, true, nil
}

// LoadOrMigrate resolves the startup state machine: use the V6 state
// when present; otherwise recover from the legacy store and write the
// result out in V6 form (legacy keys untouched); otherwise seed a
// fresh install and persist it immediately.
func LoadOrMigrate(store *Store, legacy *LegacyStore, logger *zap.Logger) (*State, error) {
	state, found, err := store.Load()
	if err != nil {
		return nil, err
	}
	if found {
		logger.Info("Loaded V6 ledger state",
			zap.Int("trades", len(state.Trades)),
			zap.Int("transactions", len(state.Transactions)))
		return state, nil
	}

	if legacy != nil {
		recovered, ok, err := legacy.Read()
		if err != nil {
			logger.Error("Legacy migration failed, seeding fresh state", zap.Error(err))
		} else if ok {
			logger.Info("Migrated legacy ledger state to V6",
				zap.Int("trades", len(recovered.Trades)),
				zap.Int("transactions", len(recovered.Transactions)))
			if err := store.Save(recovered); err != nil {
				return nil, fmt.Errorf("failed to persist migrated state: %w", err)
			}
			return recovered, nil
		}
	}

	// Fresh install: seed and persist immediately so the next startup
	// finds a V6 state.
	seeded := &State{
		Balances: models.Balances{USD: DefaultUSDBalance, TRY: DefaultTRYBalance},
	}
	logger.Info("No prior state found, seeding fresh install",
		zap.Float64("usd", DefaultUSDBalance), zap.Float64("try", DefaultTRYBalance))
	if err := store.Save(seeded); err != nil {
		return nil, fmt.Errorf("failed to persist seeded state: %w", err)
	}
	return seeded, nil
}
