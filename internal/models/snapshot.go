package models

import "time"

// DecisionSnapshot captures the fused decision that motivated a trade,
// attached for audit and later learning.
type DecisionSnapshot struct {
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale,omitempty"`
	Score      float64 `json:"score,omitempty"`
	FinalRank  float64 `json:"finalRank,omitempty"`
}

// MarketSnapshot captures market conditions at execution time.
type MarketSnapshot struct {
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// ExecutionSnapshot captures the arithmetic of the executed order.
type ExecutionSnapshot struct {
	Cost    float64 `json:"cost,omitempty"`
	Revenue float64 `json:"revenue,omitempty"`
	Fee     float64 `json:"fee"`
	Net     float64 `json:"net"`
}

// OutcomeSnapshot captures the result of a closed position.
type OutcomeSnapshot struct {
	EntryPrice  float64 `json:"entryPrice"`
	ExitPrice   float64 `json:"exitPrice"`
	PnL         float64 `json:"pnl"`
	PnLPercent  float64 `json:"pnlPercent"`
	HoldingDays float64 `json:"holdingDays"`
}
