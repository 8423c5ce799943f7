package portfolio

import (
	"fmt"
	"sync"
	"time"

	"trading-assistant-go/internal/guard"
	"trading-assistant-go/internal/ledger"
	"trading-assistant-go/internal/models"
	"trading-assistant-go/internal/signals"
	"go.uber.org/zap"
)

// TradeMarker is notified whenever a symbol trades, so ranking can
// penalize immediate re-entry. ranking.Engine satisfies it.
type TradeMarker interface {
	MarkTraded(symbol string, at time.Time)
}

// Service is the single writer of the ledger. All mutations run on one
// goroutine fed by a command channel; callers send a request and await
// the reply. Everything else reads the ledger through Snapshot.
type Service struct {
	logger   *zap.Logger
	store    *ledger.Store
	state    *ledger.State
	fees     signals.FeeModel
	outcomes signals.OutcomeLogger
	marker   TradeMarker
	guards   guard.Config

	mu     sync.RWMutex
	closed bool
	cmds   chan func()
	done   chan struct{}
}

// NewService creates the portfolio service around a loaded ledger
// state. outcomes and marker may be nil.
func NewService(state *ledger.State, store *ledger.Store, fees signals.FeeModel,
	guards guard.Config, outcomes signals.OutcomeLogger, marker TradeMarker,
	logger *zap.Logger) *Service {
	return &Service{
		logger:   logger.Named("portfolio"),
		store:    store,
		state:    state,
		fees:     fees,
		outcomes: outcomes,
		marker:   marker,
		guards:   guards,
		cmds:     make(chan func(), 16),
		done:     make(chan struct{}),
	}
}

// Start launches the writer goroutine.
func (s *Service) Start() {
	go s.loop()
}

// Stop drains the command queue and flushes any debounced writes.
// In-flight commands run to completion; the ledger is never left
// half-updated. Callers arriving after Stop get a service_stopped
// rejection instead of a crash, and a second Stop is a no-op.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.cmds)
	<-s.done
	s.store.Flush()
}

func (s *Service) loop() {
	for cmd := range s.cmds {
		cmd()
	}
	close(s.done)
}

// exec runs fn on the writer goroutine and waits for it. It reports
// false without running fn when the service has already stopped. The
// read lock covers the send: Stop's write lock cannot be granted while
// any caller is mid-send, so the channel is never closed under one.
func (s *Service) exec(fn func()) bool {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return false
	}
	reply := make(chan struct{})
	s.cmds <- func() {
		fn()
		close(reply)
	}
	s.mu.RUnlock()

	<-reply
	return true
}

func stoppedRejection() *guard.Rejection {
	return &guard.Rejection{
		Code:   guard.CodeServiceStopped,
		Reason: "portfolio service is stopped",
	}
}

// BuyRequest asks for a new position.
type BuyRequest struct {
	Symbol     string
	Quantity   float64
	Price      float64
	StopLoss   *float64
	TakeProfit *float64
	Decision   *models.DecisionSnapshot
	// RecordBlocked appends an audit transaction when the buy is
	// rejected by a guard.
	RecordBlocked bool
}

// BuyResult carries either the created trade or the guard rejection.
type BuyResult struct {
	Trade     *models.Trade
	Rejection *guard.Rejection
}

// Buy validates, debits the balance, opens a trade and records the
// transaction. On rejection the balance is untouched and no trade is
// created.
func (s *Service) Buy(req BuyRequest) BuyResult {
	var res BuyResult
	if !s.exec(func() { res = s.buy(req) }) {
		return BuyResult{Rejection: stoppedRejection()}
	}
	return res
}

func (s *Service) buy(req BuyRequest) BuyResult {
	cost := req.Quantity * req.Price
	fee := s.fees.Fee(cost)

	rej := guard.CheckBuy(s.state.Balances, req.Symbol, req.Quantity, req.Price, fee)
	if rej == nil {
		rej = guard.CheckCooldown(s.guards, req.Symbol, s.state.Transactions, time.Now())
	}
	if rej != nil {
		s.logger.Info("Buy rejected",
			zap.String("symbol", req.Symbol),
			zap.String("code", rej.Code),
			zap.String("reason", rej.Reason))
		if req.RecordBlocked {
			blocked := models.NewTransaction(models.TxTypeBlocked, req.Symbol, req.Quantity, req.Price, 0)
			blocked.Reason = rej.Reason
			s.appendTransaction(blocked)
			s.persist()
		}
		return BuyResult{Rejection: rej}
	}

	currency := models.CurrencyForSymbol(req.Symbol)
	s.state.Balances.Set(currency, s.state.Balances.Get(currency)-cost-fee)

	trade := models.NewTrade(req.Symbol, req.Quantity, req.Price, req.Decision)
	trade.StopLoss = req.StopLoss
	trade.TakeProfit = req.TakeProfit
	s.state.Trades = append(s.state.Trades, trade)

	tx := models.NewTransaction(models.TxTypeBuy, req.Symbol, req.Quantity, req.Price, fee)
	tx.TradeID = trade.ID
	tx.Decision = req.Decision
	tx.Market = &models.MarketSnapshot{Price: req.Price, Timestamp: time.Now()}
	tx.Execution = &models.ExecutionSnapshot{Cost: cost, Fee: fee, Net: -(cost + fee)}
	s.appendTransaction(tx)

	s.persist()
	s.markTraded(req.Symbol)

	s.logger.Info("Buy executed",
		zap.String("symbol", req.Symbol),
		zap.String("trade_id", trade.ID),
		zap.Float64("quantity", req.Quantity),
		zap.Float64("price", req.Price),
		zap.Float64("fee", fee))
	return BuyResult{Trade: trade}
}

// SellRequest asks to close an open trade.
type SellRequest struct {
	TradeID string
	Price   float64
	Reason  string
	// Triggered sells come from stop/target/plan triggers: they bypass
	// the minimum-hold guard and clear the pending-sale flag.
	Triggered bool
}

// SellResult carries the closed trade and realized PnL, or a rejection.
type SellResult struct {
	Trade     *models.Trade
	PnL       float64
	Rejection *guard.Rejection
}

// Sell closes an open trade, credits the balance and records the
// transaction with realized PnL. A learning-log record is emitted
// after the financial mutation; its failure is logged, never raised.
func (s *Service) Sell(req SellRequest) SellResult {
	var res SellResult
	if !s.exec(func() { res = s.sell(req) }) {
		return SellResult{Rejection: stoppedRejection()}
	}
	return res
}

func (s *Service) sell(req SellRequest) SellResult {
	trade := s.findOpenTrade(req.TradeID)
	if trade == nil {
		return SellResult{Rejection: &guard.Rejection{
			Code:   "unknown_trade",
			Reason: fmt.Sprintf("no open trade with id %s", req.TradeID),
		}}
	}

	if !req.Triggered {
		if rej := guard.CheckMinHold(s.guards, trade, time.Now()); rej != nil {
			s.logger.Info("Sell rejected", zap.String("trade_id", req.TradeID), zap.String("reason", rej.Reason))
			return SellResult{Rejection: rej}
		}
	}

	now := time.Now()
	revenue := trade.Quantity * req.Price
	fee := s.fees.Fee(revenue)
	net := revenue - fee
	pnl := (req.Price-trade.EntryPrice)*trade.Quantity - fee

	s.state.Balances.Set(trade.Currency, s.state.Balances.Get(trade.Currency)+net)

	quantity := trade.Quantity
	trade.Close(req.Price, now)
	trade.IsPendingSale = false

	holdingDays := now.Sub(trade.EntryDate).Hours() / 24
	pnlPercent := 0.0
	if trade.EntryPrice > 0 {
		pnlPercent = (req.Price - trade.EntryPrice) / trade.EntryPrice * 100
	}

	tx := models.NewTransaction(models.TxTypeSell, trade.Symbol, quantity, req.Price, fee)
	tx.TradeID = trade.ID
	tx.PnL = &pnl
	tx.Reason = req.Reason
	tx.Market = &models.MarketSnapshot{Price: req.Price, Timestamp: now}
	tx.Execution = &models.ExecutionSnapshot{Revenue: revenue, Fee: fee, Net: net}
	tx.Outcome = &models.OutcomeSnapshot{
		EntryPrice:  trade.EntryPrice,
		ExitPrice:   req.Price,
		PnL:         pnl,
		PnLPercent:  pnlPercent,
		HoldingDays: holdingDays,
	}
	s.appendTransaction(tx)

	s.persist()
	s.markTraded(trade.Symbol)
	s.emitOutcome(trade, req, pnl, pnlPercent, holdingDays, now)

	s.logger.Info("Sell executed",
		zap.String("symbol", trade.Symbol),
		zap.String("trade_id", trade.ID),
		zap.Float64("price", req.Price),
		zap.Float64("pnl", pnl),
		zap.String("reason", req.Reason))
	return SellResult{Trade: trade, PnL: pnl}
}

func (s *Service) emitOutcome(trade *models.Trade, req SellRequest, pnl, pnlPercent, holdingDays float64, at time.Time) {
	if s.outcomes == nil {
		return
	}
	outcome := signals.TradeOutcome{
		Symbol:      trade.Symbol,
		EntryPrice:  trade.EntryPrice,
		ExitPrice:   req.Price,
		PnL:         pnl,
		PnLPercent:  pnlPercent,
		HoldingDays: holdingDays,
		Reason:      req.Reason,
		ClosedAt:    at,
	}
	if err := s.outcomes.LogOutcome(outcome); err != nil {
		// The sale already committed; learning-log failures are noise.
		s.logger.Warn("Failed to emit trade outcome", zap.String("symbol", trade.Symbol), zap.Error(err))
	}
}

// TrimResult carries the reduced trade and the partial PnL.
type TrimResult struct {
	Trade     *models.Trade
	PnL       float64
	Rejection *guard.Rejection
}

// Trim sells a percentage of an open trade, strictly between 0 and
// 100, reducing its quantity in place without closing it.
func (s *Service) Trim(tradeID string, percent, price float64, reason string) TrimResult {
	var res TrimResult
	if !s.exec(func() { res = s.trim(tradeID, percent, price, reason) }) {
		return TrimResult{Rejection: stoppedRejection()}
	}
	return res
}

func (s *Service) trim(tradeID string, percent, price float64, reason string) TrimResult {
	if percent <= 0 || percent >= 100 {
		return TrimResult{Rejection: &guard.Rejection{
			Code:   guard.CodeInvalidOrder,
			Reason: fmt.Sprintf("trim percent must be in (0,100), got %.2f", percent),
		}}
	}

	trade := s.findOpenTrade(tradeID)
	if trade == nil {
		return TrimResult{Rejection: &guard.Rejection{
			Code:   "unknown_trade",
			Reason: fmt.Sprintf("no open trade with id %s", tradeID),
		}}
	}

	partQty := trade.Quantity * percent / 100
	revenue := partQty * price
	fee := s.fees.Fee(revenue)
	net := revenue - fee
	pnl := (price-trade.EntryPrice)*partQty - fee

	s.state.Balances.Set(trade.Currency, s.state.Balances.Get(trade.Currency)+net)
	trade.Quantity -= partQty

	tx := models.NewTransaction(models.TxTypeTrim, trade.Symbol, partQty, price, fee)
	tx.TradeID = trade.ID
	tx.PnL = &pnl
	tx.TrimPercent = &percent
	tx.Reason = reason
	tx.Execution = &models.ExecutionSnapshot{Revenue: revenue, Fee: fee, Net: net}
	s.appendTransaction(tx)

	s.persist()
	s.markTraded(trade.Symbol)

	s.logger.Info("Trim executed",
		zap.String("symbol", trade.Symbol),
		zap.String("trade_id", trade.ID),
		zap.Float64("percent", percent),
		zap.Float64("remaining_quantity", trade.Quantity),
		zap.Float64("pnl", pnl))
	return TrimResult{Trade: trade, PnL: pnl}
}

// TriggeredExit names a trade whose exit trigger fired on a quote.
type TriggeredExit struct {
	TradeID string
	Symbol  string
	Kind    string
	Price   float64
}

// CheckTriggers runs on every quote update for a symbol: it ratchets
// high-water-marks (persisted via the debounced writer) and evaluates
// stop-loss/take-profit thresholds. A firing trade is flagged
// pending-sale before this returns, so a second concurrent quote
// update for the same symbol cannot double-trigger it. The caller
// dispatches the actual sells.
func (s *Service) CheckTriggers(symbol string, price float64) []TriggeredExit {
	var exits []TriggeredExit
	if !s.exec(func() { exits = s.checkTriggers(symbol, price) }) {
		return nil
	}
	return exits
}

func (s *Service) checkTriggers(symbol string, price float64) []TriggeredExit {
	var exits []TriggeredExit
	ratcheted := false

	for _, trade := range s.state.Trades {
		if !trade.IsOpen || trade.Symbol != symbol {
			continue
		}

		// High-water-mark only ever moves up.
		if trade.HighWaterMark == nil || price > *trade.HighWaterMark {
			hwm := price
			trade.HighWaterMark = &hwm
			ratcheted = true
		}

		if kind, fired := guard.EvaluateTrigger(trade, price); fired {
			trade.IsPendingSale = true
			exits = append(exits, TriggeredExit{
				TradeID: trade.ID,
				Symbol:  symbol,
				Kind:    kind,
				Price:   price,
			})
			s.logger.Info("Exit trigger fired",
				zap.String("symbol", symbol),
				zap.String("trade_id", trade.ID),
				zap.String("trigger", kind),
				zap.Float64("price", price))
		}
	}

	if len(exits) > 0 {
		// Pending-sale flags must survive a crash; write through.
		s.persist()
	} else if ratcheted {
		s.store.SaveDebounced(s.copyState())
	}
	return exits
}

// PlanOutcome reports what happened to a staged plan action.
type PlanOutcome struct {
	Executed bool
	Note     string
}

// ApplyPlanAction executes a staged position-plan action. Sell and
// trim style actions execute; stop-mutation actions are received but
// only logged, since their semantics were never specified.
func (s *Service) ApplyPlanAction(tradeID string, action signals.PlanAction, price float64) PlanOutcome {
	switch action.Type {
	case signals.PlanSellAll:
		res := s.Sell(SellRequest{TradeID: tradeID, Price: price, Reason: "plan: sell all", Triggered: true})
		if res.Rejection != nil {
			return PlanOutcome{Note: res.Rejection.Reason}
		}
		return PlanOutcome{Executed: true, Note: "sold all"}

	case signals.PlanSellPercent, signals.PlanReduceAndHold:
		res := s.Trim(tradeID, action.Percent, price, fmt.Sprintf("plan: %s %.0f%%", action.Type, action.Percent))
		if res.Rejection != nil {
			return PlanOutcome{Note: res.Rejection.Reason}
		}
		return PlanOutcome{Executed: true, Note: fmt.Sprintf("trimmed %.0f%%", action.Percent)}

	case signals.PlanAlert:
		s.logger.Info("Plan alert", zap.String("trade_id", tradeID), zap.String("message", action.Message))
		return PlanOutcome{Executed: true, Note: "alert logged"}

	default:
		s.logger.Warn("Plan action not implemented, logged only",
			zap.String("trade_id", tradeID),
			zap.String("action", action.Type))
		return PlanOutcome{Note: fmt.Sprintf("action %q not implemented", action.Type)}
	}
}

// Snapshot returns a deep copy of the ledger state for read-only use.
// After Stop it returns an empty state.
func (s *Service) Snapshot() ledger.State {
	var snap *ledger.State
	if !s.exec(func() { snap = s.copyState() }) {
		return ledger.State{}
	}
	return *snap
}

func (s *Service) copyState() *ledger.State {
	trades := make([]*models.Trade, len(s.state.Trades))
	for i, t := range s.state.Trades {
		c := *t
		trades[i] = &c
	}
	txs := make([]models.Transaction, len(s.state.Transactions))
	copy(txs, s.state.Transactions)
	return &ledger.State{
		Balances:     s.state.Balances,
		Trades:       trades,
		Transactions: txs,
	}
}

// appendTransaction keeps the log newest-first.
func (s *Service) appendTransaction(tx *models.Transaction) {
	s.state.Transactions = append([]models.Transaction{*tx}, s.state.Transactions...)
}

func (s *Service) findOpenTrade(id string) *models.Trade {
	for _, t := range s.state.Trades {
		if t.ID == id && t.IsOpen {
			return t
		}
	}
	return nil
}

// persist writes through synchronously. On failure the in-memory
// state stays authoritative for the session.
func (s *Service) persist() {
	if err := s.store.Save(s.copyState()); err != nil {
		s.logger.Error("Ledger persistence failed, in-memory state remains authoritative", zap.Error(err))
	}
}

func (s *Service) markTraded(symbol string) {
	if s.marker != nil {
		s.marker.MarkTraded(symbol, time.Now())
	}
}
