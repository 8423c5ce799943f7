package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"trading-assistant-go/internal/config"
	"trading-assistant-go/internal/guard"
	"trading-assistant-go/internal/ledger"
	"trading-assistant-go/internal/marketdata"
	"trading-assistant-go/internal/models"
	"trading-assistant-go/internal/portfolio"
	"trading-assistant-go/internal/ranking"
	"trading-assistant-go/internal/signals"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockScoreProvider is a mock implementation of signals.ScoreProvider.
type MockScoreProvider struct {
	mock.Mock
}

func (m *MockScoreProvider) Score(ctx context.Context, symbol string) (ranking.ScoreResult, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(ranking.ScoreResult), args.Error(1)
}

// MockDecisionProvider is a mock implementation of signals.DecisionProvider.
type MockDecisionProvider struct {
	mock.Mock
}

func (m *MockDecisionProvider) Decide(ctx context.Context, symbol string) (signals.Decision, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(signals.Decision), args.Error(1)
}

// MockQuoteProvider is a mock implementation of QuoteProvider.
type MockQuoteProvider struct {
	mock.Mock
}

func (m *MockQuoteProvider) GetQuote(ctx context.Context, symbol string) (*marketdata.Quote, error) {
	args := m.Called(ctx, symbol)
	if q := args.Get(0); q != nil {
		return q.(*marketdata.Quote), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockPlanProvider is a mock implementation of signals.PlanProvider.
type MockPlanProvider struct {
	mock.Mock
}

func (m *MockPlanProvider) NextAction(ctx context.Context, trade *models.Trade, price float64) (*signals.PlanAction, error) {
	args := m.Called(ctx, trade, price)
	if a := args.Get(0); a != nil {
		return a.(*signals.PlanAction), args.Error(1)
	}
	return nil, args.Error(1)
}

type openCalendar struct{}

func (openCalendar) IsMarketOpen(string) bool { return true }

type harness struct {
	scheduler *Scheduler
	portfolio *portfolio.Service
	scores    *MockScoreProvider
	decisions *MockDecisionProvider
	quotes    *MockQuoteProvider
	plans     *MockPlanProvider
}

func newHarness(t *testing.T, watchlist []string) *harness {
	t.Helper()

	store, err := ledger.NewStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	state := &ledger.State{Balances: models.Balances{USD: 100000, TRY: 100000}}

	pf := portfolio.NewService(state, store, signals.RateFeeModel{Rate: 0.01},
		guard.Config{}, nil, nil, zap.NewNop())
	pf.Start()
	t.Cleanup(pf.Stop)

	scores := new(MockScoreProvider)
	decisions := new(MockDecisionProvider)
	quotes := new(MockQuoteProvider)
	plans := new(MockPlanProvider)

	cfg := &config.Config{
		Trading: config.Trading{
			Watchlist:     watchlist,
			TickInterval:  1,
			PositionSize:  1000,
			MinConfidence: 0.6,
			MinRank:       60,
		},
	}

	agg := signals.NewAggregator(scores, openCalendar{}, zap.NewNop())
	sched := New(cfg, agg, ranking.NewEngine(), decisions, plans, quotes, pf, zap.NewNop())

	return &harness{
		scheduler: sched,
		portfolio: pf,
		scores:    scores,
		decisions: decisions,
		quotes:    quotes,
		plans:     plans,
	}
}

func TestRunCycle_ExecutesQualifyingBuy(t *testing.T) {
	h := newHarness(t, []string{"AAPL"})
	now := time.Now()

	h.scores.On("Score", mock.Anything, "AAPL").Return(ranking.ScoreResult{Symbol: "AAPL", Score: 85, Timestamp: now}, nil)
	h.decisions.On("Decide", mock.Anything, "AAPL").Return(signals.Decision{Action: signals.ActionBuy, Confidence: 0.8}, nil)
	h.quotes.On("GetQuote", mock.Anything, "AAPL").Return(&marketdata.Quote{Symbol: "AAPL", Price: 100}, nil)
	h.plans.On("NextAction", mock.Anything, mock.Anything, 100.0).Return(nil, nil)

	h.scheduler.RunCycle(context.Background())

	snap := h.portfolio.Snapshot()
	require.Len(t, snap.OpenTrades(), 1)
	trade := snap.OpenTrades()[0]
	assert.Equal(t, "AAPL", trade.Symbol)
	assert.InDelta(t, 10.0, trade.Quantity, 1e-9) // 1000 notional / 100
	require.NotNil(t, trade.Decision)
	assert.InDelta(t, 0.8, trade.Decision.Confidence, 1e-9)
}

func TestRunCycle_LowConfidenceOrHoldTakesNoAction(t *testing.T) {
	h := newHarness(t, []string{"AAPL", "MSFT"})
	now := time.Now()

	h.scores.On("Score", mock.Anything, "AAPL").Return(ranking.ScoreResult{Symbol: "AAPL", Score: 85, Timestamp: now}, nil)
	h.scores.On("Score", mock.Anything, "MSFT").Return(ranking.ScoreResult{Symbol: "MSFT", Score: 80, Timestamp: now}, nil)
	h.decisions.On("Decide", mock.Anything, "AAPL").Return(signals.Decision{Action: signals.ActionHold, Confidence: 0.9}, nil)
	h.decisions.On("Decide", mock.Anything, "MSFT").Return(signals.Decision{Action: signals.ActionBuy, Confidence: 0.3}, nil)

	h.scheduler.RunCycle(context.Background())

	snap := h.portfolio.Snapshot()
	assert.Empty(t, snap.OpenTrades())
	h.quotes.AssertNotCalled(t, "GetQuote", mock.Anything, mock.Anything)
}

func TestRunCycle_ScoreFailureSkipsSymbolOnly(t *testing.T) {
	h := newHarness(t, []string{"GOOD", "BAD"})
	now := time.Now()

	h.scores.On("Score", mock.Anything, "GOOD").Return(ranking.ScoreResult{Symbol: "GOOD", Score: 90, Timestamp: now}, nil)
	h.scores.On("Score", mock.Anything, "BAD").Return(ranking.ScoreResult{}, errors.New("feed down"))
	h.decisions.On("Decide", mock.Anything, "GOOD").Return(signals.Decision{Action: signals.ActionBuy, Confidence: 0.9}, nil)
	h.quotes.On("GetQuote", mock.Anything, "GOOD").Return(&marketdata.Quote{Symbol: "GOOD", Price: 50}, nil)
	h.plans.On("NextAction", mock.Anything, mock.Anything, 50.0).Return(nil, nil)

	h.scheduler.RunCycle(context.Background())

	snap := h.portfolio.Snapshot()
	require.Len(t, snap.OpenTrades(), 1)
	assert.Equal(t, "GOOD", snap.OpenTrades()[0].Symbol)

	_, skips, _ := h.scheduler.Candidates()
	require.Len(t, skips, 1)
	assert.Equal(t, "BAD", skips[0].Symbol)
}

func TestRunCycle_FusionFailureDegradesToNoAction(t *testing.T) {
	h := newHarness(t, []string{"AAPL"})
	now := time.Now()

	h.scores.On("Score", mock.Anything, "AAPL").Return(ranking.ScoreResult{Symbol: "AAPL", Score: 95, Timestamp: now}, nil)
	h.decisions.On("Decide", mock.Anything, "AAPL").Return(signals.Decision{}, errors.New("council unavailable"))

	h.scheduler.RunCycle(context.Background())

	snap := h.portfolio.Snapshot()
	assert.Empty(t, snap.OpenTrades())
}

func TestRunCycle_ReviewsOpenPositionsWithoutNewSignals(t *testing.T) {
	h := newHarness(t, nil) // empty watchlist: no new signals this cycle

	stop := 100.0
	buy := h.portfolio.Buy(portfolio.BuyRequest{Symbol: "AAPL", Quantity: 5, Price: 110, StopLoss: &stop})
	require.Nil(t, buy.Rejection)

	h.quotes.On("GetQuote", mock.Anything, "AAPL").Return(&marketdata.Quote{Symbol: "AAPL", Price: 95}, nil)

	h.scheduler.RunCycle(context.Background())

	snap := h.portfolio.Snapshot()
	assert.Empty(t, snap.OpenTrades())
	require.Len(t, snap.ClosedTrades(), 1)
	assert.Equal(t, guard.TriggerStopLoss, snap.Transactions[0].Reason)
}

func TestRunCycle_SameSymbolPositionsReviewedOnce(t *testing.T) {
	h := newHarness(t, nil)

	// Two open positions on the same symbol, both with stops above the
	// incoming quote.
	stop := 100.0
	for i := 0; i < 2; i++ {
		buy := h.portfolio.Buy(portfolio.BuyRequest{Symbol: "AAPL", Quantity: 5, Price: 110, StopLoss: &stop})
		require.Nil(t, buy.Rejection)
	}

	// A single quote fetch serves the whole symbol group.
	h.quotes.On("GetQuote", mock.Anything, "AAPL").Return(&marketdata.Quote{Symbol: "AAPL", Price: 95}, nil).Once()

	h.scheduler.RunCycle(context.Background())

	snap := h.portfolio.Snapshot()
	assert.Empty(t, snap.OpenTrades())
	assert.Len(t, snap.ClosedTrades(), 2)
	h.quotes.AssertNumberOfCalls(t, "GetQuote", 1)
	// Both trades were sold by the trigger pass; neither may reach the
	// plan provider afterwards.
	h.plans.AssertNotCalled(t, "NextAction", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunCycle_AppliesStagedPlanAction(t *testing.T) {
	h := newHarness(t, nil)

	buy := h.portfolio.Buy(portfolio.BuyRequest{Symbol: "AAPL", Quantity: 100, Price: 10})
	require.Nil(t, buy.Rejection)

	h.quotes.On("GetQuote", mock.Anything, "AAPL").Return(&marketdata.Quote{Symbol: "AAPL", Price: 12}, nil)
	h.plans.On("NextAction", mock.Anything, mock.Anything, 12.0).
		Return(&signals.PlanAction{Type: signals.PlanSellPercent, Percent: 40}, nil)

	h.scheduler.RunCycle(context.Background())

	snap := h.portfolio.Snapshot()
	require.Len(t, snap.OpenTrades(), 1)
	assert.InDelta(t, 60.0, snap.OpenTrades()[0].Quantity, 1e-9)
}

func TestHandleQuote_TriggersSellOncePerTrade(t *testing.T) {
	h := newHarness(t, nil)

	stop := 100.0
	buy := h.portfolio.Buy(portfolio.BuyRequest{Symbol: "AAPL", Quantity: 5, Price: 110, StopLoss: &stop})
	require.Nil(t, buy.Rejection)

	// Two rapid quote updates under the stop: exactly one sell.
	h.scheduler.HandleQuote("AAPL", 95)
	h.scheduler.HandleQuote("AAPL", 94)

	sellCount := 0
	for _, tx := range h.portfolio.Snapshot().Transactions {
		if tx.Type == models.TxTypeSell {
			sellCount++
		}
	}
	assert.Equal(t, 1, sellCount)
}

func TestEnableDisableLifecycle(t *testing.T) {
	h := newHarness(t, nil)

	assert.Equal(t, StateDisabled, h.scheduler.State())

	h.scheduler.Enable()
	assert.True(t, h.scheduler.Enabled())

	// Enable runs one cycle immediately.
	assert.Eventually(t, func() bool {
		_, _, last := h.scheduler.Candidates()
		return !last.IsZero()
	}, 2*time.Second, 10*time.Millisecond)

	// Enabling twice is a no-op.
	h.scheduler.Enable()

	h.scheduler.Disable()
	assert.False(t, h.scheduler.Enabled())
	assert.Equal(t, StateDisabled, h.scheduler.State())

	// Disabling twice is a no-op as well.
	h.scheduler.Disable()
}
