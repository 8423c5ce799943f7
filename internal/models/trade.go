package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Currency identifies which balance pool a trade settles in.
const (
	CurrencyUSD = "usd"
	CurrencyTRY = "try"
)

// Symbols listed on Borsa Istanbul carry this suffix and settle in TRY.
const istanbulSuffix = ".IS"

// CurrencyForSymbol routes a symbol to its settlement currency.
// The same convention must be applied at trade creation and at every
// later balance lookup, so this is the only place it lives.
func CurrencyForSymbol(symbol string) string {
	if strings.HasSuffix(strings.ToUpper(symbol), istanbulSuffix) {
		return CurrencyTRY
	}
	return CurrencyUSD
}

// Trade represents an open or closed position.
// A trade is created by a buy, shrunk in place by a trim, and closed
// (never deleted) by a sell.
type Trade struct {
	ID            string     `json:"id"`
	Symbol        string     `json:"symbol"`
	EntryPrice    float64    `json:"entryPrice"`
	Quantity      float64    `json:"quantity"`
	EntryDate     time.Time  `json:"entryDate"`
	IsOpen        bool       `json:"isOpen"`
	ExitPrice     *float64   `json:"exitPrice,omitempty"`
	ExitDate      *time.Time `json:"exitDate,omitempty"`
	Currency      string     `json:"currency"`
	StopLoss      *float64   `json:"stopLoss,omitempty"`
	TakeProfit    *float64   `json:"takeProfit,omitempty"`
	HighWaterMark *float64   `json:"highWaterMark,omitempty"`
	// IsPendingSale marks a trade whose exit trigger already fired and
	// whose sell is in flight. It is the sole guard against a second
	// concurrent quote update double-triggering the same trade, and is
	// cleared only by completion of that sell.
	IsPendingSale bool              `json:"isPendingSale"`
	Decision      *DecisionSnapshot `json:"decision,omitempty"`
}

// NewTrade creates an open trade for a successful buy.
func NewTrade(symbol string, quantity, price float64, decision *DecisionSnapshot) *Trade {
	return &Trade{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		EntryPrice: price,
		Quantity:   quantity,
		EntryDate:  time.Now(),
		IsOpen:     true,
		Currency:   CurrencyForSymbol(symbol),
		Decision:   decision,
	}
}

// Close flips the trade to closed with its exit details.
func (t *Trade) Close(price float64, at time.Time) {
	t.IsOpen = false
	t.ExitPrice = &price
	t.ExitDate = &at
}
