package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"trading-assistant-go/internal/config"
	"trading-assistant-go/internal/ledger"
	"trading-assistant-go/internal/marketdata"
	"trading-assistant-go/internal/models"
	"trading-assistant-go/internal/portfolio"
	"trading-assistant-go/internal/ranking"
	"trading-assistant-go/internal/signals"
	"go.uber.org/zap"
)

// Scheduler states reported by the status API.
const (
	StateDisabled  = "disabled"
	StateIdle      = "idle"
	StateScanning  = "scanning"
	StateExecuting = "executing"
)

// QuoteProvider fetches the latest price for a symbol.
type QuoteProvider interface {
	GetQuote(ctx context.Context, symbol string) (*marketdata.Quote, error)
}

// Scheduler is the periodic driver of the decision loop: every tick it
// aggregates signals for the watchlist, ranks candidates, consults the
// decision fusion, executes qualifying buys through the guard layer
// and re-checks every open position.
type Scheduler struct {
	logger    *zap.Logger
	cfg       *config.Config
	agg       *signals.Aggregator
	ranker    *ranking.Engine
	decisions signals.DecisionProvider
	plans     signals.PlanProvider
	quotes    QuoteProvider
	portfolio *portfolio.Service

	StartTime time.Time

	mu      sync.Mutex
	enabled bool
	stopCh  chan struct{}

	busy  atomic.Bool
	state atomic.Value // string

	snapMu     sync.RWMutex
	candidates []ranking.RankedSymbol
	skips      []signals.SkipReason
	lastCycle  time.Time
}

// New creates a scheduler. plans may be nil when no position-plan
// collaborator is configured.
func New(cfg *config.Config, agg *signals.Aggregator, ranker *ranking.Engine,
	decisions signals.DecisionProvider, plans signals.PlanProvider,
	quotes QuoteProvider, pf *portfolio.Service, logger *zap.Logger) *Scheduler {
	s := &Scheduler{
		logger:    logger.Named("scheduler"),
		cfg:       cfg,
		agg:       agg,
		ranker:    ranker,
		decisions: decisions,
		plans:     plans,
		quotes:    quotes,
		portfolio: pf,
		StartTime: time.Now(),
	}
	s.state.Store(StateDisabled)
	return s
}

// State returns the current lifecycle state.
func (s *Scheduler) State() string {
	return s.state.Load().(string)
}

// Enabled reports whether the timer is running.
func (s *Scheduler) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Enable starts the fixed-interval timer and immediately runs one
// cycle. Enabling twice is a no-op.
func (s *Scheduler) Enable() {
	s.mu.Lock()
	if s.enabled {
		s.mu.Unlock()
		return
	}
	s.enabled = true
	s.stopCh = make(chan struct{})
	stop := s.stopCh
	s.mu.Unlock()

	s.state.Store(StateIdle)
	interval := time.Duration(s.cfg.Trading.TickInterval) * time.Second
	s.logger.Info("Scheduler enabled", zap.Duration("interval", interval))

	go s.run(stop, interval)
}

// Disable invalidates the timer only. A cycle already in flight runs
// to completion so the ledger is never left half-updated.
func (s *Scheduler) Disable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return
	}
	s.enabled = false
	close(s.stopCh)
	s.state.Store(StateDisabled)
	s.logger.Info("Scheduler disabled; in-flight work will complete")
}

func (s *Scheduler) run(stop chan struct{}, interval time.Duration) {
	s.RunCycle(context.Background())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.RunCycle(context.Background())
		}
	}
}

// RunCycle executes one full cycle. A cycle still committing blocks
// the next one: the tick is skipped, never overlapped.
func (s *Scheduler) RunCycle(ctx context.Context) {
	if !s.busy.CompareAndSwap(false, true) {
		s.logger.Warn("Previous cycle still running, skipping tick")
		return
	}
	defer func() {
		s.busy.Store(false)
		if s.Enabled() {
			s.state.Store(StateIdle)
		} else {
			s.state.Store(StateDisabled)
		}
	}()

	started := time.Now()
	s.state.Store(StateScanning)

	snap := s.portfolio.Snapshot()
	results, skips := s.agg.Collect(ctx, s.cfg.Trading.Watchlist)
	ranked := s.ranker.Rank(results)

	s.snapMu.Lock()
	s.candidates = ranked
	s.skips = skips
	s.lastCycle = started
	s.snapMu.Unlock()

	s.state.Store(StateExecuting)
	bought := s.executeCandidates(ctx, ranked, &snap)
	s.reviewOpenPositions(ctx)

	s.logger.Info("Cycle complete",
		zap.Int("candidates", len(ranked)),
		zap.Int("skipped", len(skips)),
		zap.Int("bought", bought),
		zap.Duration("took", time.Since(started)))
}

func (s *Scheduler) executeCandidates(ctx context.Context, ranked []ranking.RankedSymbol, snap *ledger.State) int {
	bought := 0
	for _, candidate := range ranked {
		if candidate.FinalRank < s.cfg.Trading.MinRank || !ranking.IsRecommended(candidate) {
			continue
		}
		if hasOpenTrade(snap, candidate.Symbol) {
			continue
		}

		// A fusion failure for one symbol degrades to no action for
		// that symbol only.
		decision, err := s.decisions.Decide(ctx, candidate.Symbol)
		if err != nil {
			s.logger.Warn("Decision fusion failed, no action for symbol",
				zap.String("symbol", candidate.Symbol), zap.Error(err))
			continue
		}
		if decision.Action != signals.ActionBuy || decision.Confidence < s.cfg.Trading.MinConfidence {
			continue
		}

		quote, err := s.quotes.GetQuote(ctx, candidate.Symbol)
		if err != nil {
			s.logger.Warn("Quote fetch failed, no action for symbol",
				zap.String("symbol", candidate.Symbol), zap.Error(err))
			continue
		}

		quantity := s.cfg.Trading.PositionSize / quote.Price
		req := portfolio.BuyRequest{
			Symbol:        candidate.Symbol,
			Quantity:      quantity,
			Price:         quote.Price,
			RecordBlocked: true,
			Decision: &models.DecisionSnapshot{
				Action:     decision.Action,
				Confidence: decision.Confidence,
				Rationale:  decision.Rationale,
				Score:      candidate.Score,
				FinalRank:  candidate.FinalRank,
			},
		}
		if pct := s.cfg.Trading.StopLossPct; pct > 0 {
			stop := quote.Price * (1 - pct/100)
			req.StopLoss = &stop
		}
		if pct := s.cfg.Trading.TakeProfitPct; pct > 0 {
			target := quote.Price * (1 + pct/100)
			req.TakeProfit = &target
		}

		res := s.portfolio.Buy(req)
		if res.Rejection != nil {
			s.logger.Info("Buy blocked by guard",
				zap.String("symbol", candidate.Symbol),
				zap.String("reason", res.Rejection.Reason))
			continue
		}
		bought++
	}
	return bought
}

// reviewOpenPositions re-evaluates every open position against its
// stop/target thresholds and its position plan, regardless of whether
// any new signal fired this cycle. The review is grouped by symbol:
// one quote fetch and one trigger pass per symbol, and a trade an
// earlier trigger pass already sold is never consulted for a plan.
func (s *Scheduler) reviewOpenPositions(ctx context.Context) {
	snap := s.portfolio.Snapshot()
	quotes := make(map[string]*marketdata.Quote)
	sold := make(map[string]bool)

	for _, trade := range snap.OpenTrades() {
		quote, seen := quotes[trade.Symbol]
		if !seen {
			var err error
			quote, err = s.quotes.GetQuote(ctx, trade.Symbol)
			if err != nil {
				s.logger.Warn("Quote fetch failed for open position, skipping checks",
					zap.String("symbol", trade.Symbol), zap.Error(err))
				quote = nil
			}
			quotes[trade.Symbol] = quote
			if quote != nil {
				for _, exit := range s.portfolio.CheckTriggers(trade.Symbol, quote.Price) {
					s.completeTriggeredExit(exit)
					sold[exit.TradeID] = true
				}
			}
		}
		if quote == nil || sold[trade.ID] || s.plans == nil {
			continue
		}

		action, err := s.plans.NextAction(ctx, trade, quote.Price)
		if err != nil {
			s.logger.Warn("Plan lookup failed, no action for position",
				zap.String("trade_id", trade.ID), zap.Error(err))
			continue
		}
		if action == nil {
			continue
		}
		outcome := s.portfolio.ApplyPlanAction(trade.ID, *action, quote.Price)
		s.logger.Info("Plan action processed",
			zap.String("trade_id", trade.ID),
			zap.String("action", action.Type),
			zap.Bool("executed", outcome.Executed),
			zap.String("note", outcome.Note))
	}
}

// HandleQuote is the live quote-stream entry point: it checks exit
// triggers on every market-data update and completes any sells the
// pending-sale flag let through.
func (s *Scheduler) HandleQuote(symbol string, price float64) {
	for _, exit := range s.portfolio.CheckTriggers(symbol, price) {
		s.completeTriggeredExit(exit)
	}
}

func (s *Scheduler) completeTriggeredExit(exit portfolio.TriggeredExit) {
	res := s.portfolio.Sell(portfolio.SellRequest{
		TradeID:   exit.TradeID,
		Price:     exit.Price,
		Reason:    exit.Kind,
		Triggered: true,
	})
	if res.Rejection != nil {
		s.logger.Error("Triggered sell failed",
			zap.String("trade_id", exit.TradeID),
			zap.String("reason", res.Rejection.Reason))
	}
}

// Candidates returns the latest ranked candidates and skip reasons for
// the status API.
func (s *Scheduler) Candidates() ([]ranking.RankedSymbol, []signals.SkipReason, time.Time) {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.candidates, s.skips, s.lastCycle
}

func hasOpenTrade(state *ledger.State, symbol string) bool {
	for _, t := range state.OpenTrades() {
		if t.Symbol == symbol {
			return true
		}
	}
	return false
}
