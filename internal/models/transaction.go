package models

import (
	"time"

	"github.com/google/uuid"
)

// Transaction types. A "blocked" transaction records a guard rejection
// for audit; it never moved money.
const (
	TxTypeBuy     = "buy"
	TxTypeSell    = "sell"
	TxTypeTrim    = "trim"
	TxTypeBlocked = "blocked"
)

// Transaction is an immutable audit record of a buy, sell, trim or
// blocked attempt. Created once, never mutated; the ledger keeps them
// newest-first.
type Transaction struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Symbol      string     `json:"symbol"`
	TradeID     string     `json:"tradeId,omitempty"`
	Quantity    float64    `json:"quantity"`
	Price       float64    `json:"price"`
	Fee         float64    `json:"fee"`
	Currency    string     `json:"currency"`
	PnL         *float64   `json:"pnl,omitempty"`
	TrimPercent *float64   `json:"trimPercent,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`

	// Context snapshots are optional and may be absent on records
	// written by older versions. They must decode as nil, never fail
	// the record.
	Decision  *DecisionSnapshot  `json:"decision,omitempty"`
	Market    *MarketSnapshot    `json:"market,omitempty"`
	Execution *ExecutionSnapshot `json:"execution,omitempty"`
	Outcome   *OutcomeSnapshot   `json:"outcome,omitempty"`
}

// NewTransaction creates an audit record stamped with the current time.
func NewTransaction(txType, symbol string, quantity, price, fee float64) *Transaction {
	return &Transaction{
		ID:        uuid.NewString(),
		Type:      txType,
		Symbol:    symbol,
		Quantity:  quantity,
		Price:     price,
		Fee:       fee,
		Currency:  CurrencyForSymbol(symbol),
		Timestamp: time.Now(),
	}
}
