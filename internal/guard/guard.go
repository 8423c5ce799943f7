package guard

import (
	"fmt"
	"time"

	"trading-assistant-go/internal/models"
)

// Rejection codes. A rejection is a value, not an error: the request
// was understood and refused.
const (
	CodeInvalidOrder        = "invalid_order"
	CodeInsufficientBalance = "insufficient_balance"
	CodeCooldown            = "cooldown"
	CodeRepeatBuy           = "repeat_buy"
	CodeMinHold             = "min_hold"
	CodeServiceStopped      = "service_stopped"
)

// Rejection explains why a requested trade may not proceed.
type Rejection struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// Config holds the time windows the guards enforce.
type Config struct {
	// Cooldown blocks re-entry into a symbol after it was sold.
	Cooldown time.Duration
	// MinTimeBetweenTrades blocks a second buy of the same symbol.
	MinTimeBetweenTrades time.Duration
	// MinHold blocks selling a position before it has aged.
	MinHold time.Duration
}

// CheckBuy validates order shape and balance sufficiency. The balance
// check happens here, before any mutation, so a balance can never go
// negative.
func CheckBuy(balances models.Balances, symbol string, quantity, price, fee float64) *Rejection {
	if quantity <= 0 || price <= 0 {
		return &Rejection{
			Code:   CodeInvalidOrder,
			Reason: fmt.Sprintf("invalid order for %s: quantity and price must be positive", symbol),
		}
	}

	currency := models.CurrencyForSymbol(symbol)
	total := quantity*price + fee
	available := balances.Get(currency)
	if available < total {
		return &Rejection{
			Code: CodeInsufficientBalance,
			Reason: fmt.Sprintf("insufficient %s balance for %s: need %.2f (incl. fee %.2f), have %.2f",
				currency, symbol, total, fee, available),
		}
	}
	return nil
}

// CheckCooldown rejects a buy when the symbol was sold within the
// cooldown window, or bought again within the minimum-time-between-
// trades window. Both windows are derived from transaction history.
func CheckCooldown(cfg Config, symbol string, transactions []models.Transaction, now time.Time) *Rejection {
	for _, tx := range transactions {
		if tx.Symbol != symbol {
			continue
		}
		switch tx.Type {
		case models.TxTypeSell:
			if since := now.Sub(tx.Timestamp); since < cfg.Cooldown {
				return &Rejection{
					Code: CodeCooldown,
					Reason: fmt.Sprintf("%s was sold %s ago; re-entry blocked for %s",
						symbol, since.Round(time.Minute), cfg.Cooldown),
				}
			}
		case models.TxTypeBuy:
			if since := now.Sub(tx.Timestamp); since < cfg.MinTimeBetweenTrades {
				return &Rejection{
					Code: CodeRepeatBuy,
					Reason: fmt.Sprintf("%s was bought %s ago; next buy allowed after %s",
						symbol, since.Round(time.Minute), cfg.MinTimeBetweenTrades),
				}
			}
		}
	}
	return nil
}

// CheckMinHold rejects a discretionary sell of a position younger than
// the minimum holding period. Trigger-driven exits bypass this check.
func CheckMinHold(cfg Config, trade *models.Trade, now time.Time) *Rejection {
	if held := now.Sub(trade.EntryDate); held < cfg.MinHold {
		return &Rejection{
			Code: CodeMinHold,
			Reason: fmt.Sprintf("%s held for %s; minimum hold is %s",
				trade.Symbol, held.Round(time.Minute), cfg.MinHold),
		}
	}
	return nil
}

// Trigger kinds returned by EvaluateTrigger.
const (
	TriggerStopLoss   = "stop_loss"
	TriggerTakeProfit = "take_profit"
)

// EvaluateTrigger compares the current price against the trade's
// stored thresholds. A trade already flagged pending-sale never fires
// again; that flag is what makes concurrent quote updates idempotent.
func EvaluateTrigger(trade *models.Trade, price float64) (string, bool) {
	if !trade.IsOpen || trade.IsPendingSale {
		return "", false
	}
	if trade.StopLoss != nil && price <= *trade.StopLoss {
		return TriggerStopLoss, true
	}
	if trade.TakeProfit != nil && price >= *trade.TakeProfit {
		return TriggerTakeProfit, true
	}
	return "", false
}
