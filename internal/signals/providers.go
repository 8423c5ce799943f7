package signals

import (
	"context"
	"time"

	"trading-assistant-go/internal/models"
	"trading-assistant-go/internal/ranking"
)

// Decision actions produced by the external fusion step.
const (
	ActionBuy  = "buy"
	ActionSell = "sell"
	ActionHold = "hold"
)

// Decision is the fused multi-signal verdict for one symbol.
type Decision struct {
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale,omitempty"`
}

// Plan action types. The stop-mutation actions are received and logged
// but intentionally not executed; their exact semantics were never
// specified by the plan product.
const (
	PlanSellAll       = "sellAll"
	PlanSellPercent   = "sellPercent"
	PlanReduceAndHold = "reduceAndHold"
	PlanAlert         = "alert"
	PlanMoveStopTo    = "moveStopTo"
	PlanSetBreakeven  = "setBreakeven"
	PlanTrailStop     = "trailStop"
)

// PlanAction is a staged follow-up action for an open position.
type PlanAction struct {
	Type    string  `json:"type"`
	Percent float64 `json:"percent,omitempty"`
	Price   float64 `json:"price,omitempty"`
	Message string  `json:"message,omitempty"`
}

// Executable reports whether this action type is one the execution
// layer carries out. Everything else is logged as not implemented.
func (a PlanAction) Executable() bool {
	switch a.Type {
	case PlanSellAll, PlanSellPercent, PlanReduceAndHold, PlanAlert:
		return true
	default:
		return false
	}
}

// TradeOutcome is the learning-log record emitted per closed trade.
type TradeOutcome struct {
	Symbol      string    `json:"symbol"`
	EntryPrice  float64   `json:"entryPrice"`
	ExitPrice   float64   `json:"exitPrice"`
	PnL         float64   `json:"pnl"`
	PnLPercent  float64   `json:"pnlPercent"`
	HoldingDays float64   `json:"holdingDays"`
	Reason      string    `json:"reason,omitempty"`
	ClosedAt    time.Time `json:"closedAt"`
}

// ScoreProvider returns a normalized 0..100 score for a symbol.
type ScoreProvider interface {
	Score(ctx context.Context, symbol string) (ranking.ScoreResult, error)
}

// DecisionProvider fuses the independent signal engines into a single
// action and confidence for a symbol.
type DecisionProvider interface {
	Decide(ctx context.Context, symbol string) (Decision, error)
}

// PlanProvider returns zero or one staged action for an open trade per
// cycle. A nil action means nothing staged.
type PlanProvider interface {
	NextAction(ctx context.Context, trade *models.Trade, currentPrice float64) (*PlanAction, error)
}

// FeeModel computes the commission on a notional amount.
type FeeModel interface {
	Fee(amount float64) float64
}

// RateFeeModel is a flat-rate FeeModel.
type RateFeeModel struct {
	Rate float64
}

// Fee returns amount * rate.
func (m RateFeeModel) Fee(amount float64) float64 {
	return amount * m.Rate
}

// MarketCalendar answers whether the venue for a symbol is open.
type MarketCalendar interface {
	IsMarketOpen(symbol string) bool
}

// OutcomeLogger receives learning-log records for closed trades.
// Emission failures must never block or fail the financial mutation.
type OutcomeLogger interface {
	LogOutcome(outcome TradeOutcome) error
}
