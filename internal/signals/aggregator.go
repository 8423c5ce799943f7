package signals

import (
	"context"
	"sync"
	"time"

	"trading-assistant-go/internal/ranking"
	"go.uber.org/zap"
)

// Skip statuses surfaced to the UI alongside candidates.
const (
	SkipMarketClosed = "market_closed"
	SkipScoreFailed  = "score_failed"
)

// SkipReason explains why a watched symbol produced no candidate this
// cycle.
type SkipReason struct {
	Symbol    string    `json:"symbol"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// Aggregator fans out score requests for the whole watch-set and
// collects candidates plus skip reasons. A failure for one symbol is
// logged and recorded as a skip; it never aborts the other symbols.
type Aggregator struct {
	scores   ScoreProvider
	calendar MarketCalendar
	logger   *zap.Logger
}

// NewAggregator creates a signal aggregator.
func NewAggregator(scores ScoreProvider, calendar MarketCalendar, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		scores:   scores,
		calendar: calendar,
		logger:   logger.Named("aggregator"),
	}
}

type symbolResult struct {
	result *ranking.ScoreResult
	skip   *SkipReason
}

// Collect concurrently scores every watched symbol. It blocks until
// all workers finish; partial results are fine.
func (a *Aggregator) Collect(ctx context.Context, symbols []string) ([]ranking.ScoreResult, []SkipReason) {
	var wg sync.WaitGroup
	out := make(chan symbolResult, len(symbols))

	for _, s := range symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			out <- a.collectOne(ctx, symbol)
		}(s)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	var results []ranking.ScoreResult
	var skips []SkipReason
	for r := range out {
		if r.result != nil {
			results = append(results, *r.result)
		}
		if r.skip != nil {
			skips = append(skips, *r.skip)
		}
	}

	a.logger.Info("Signal collection complete",
		zap.Int("requested", len(symbols)),
		zap.Int("scored", len(results)),
		zap.Int("skipped", len(skips)),
	)
	return results, skips
}

func (a *Aggregator) collectOne(ctx context.Context, symbol string) symbolResult {
	if !a.calendar.IsMarketOpen(symbol) {
		return symbolResult{skip: &SkipReason{
			Symbol:    symbol,
			Status:    SkipMarketClosed,
			Reason:    "market closed for symbol",
			Timestamp: time.Now(),
		}}
	}

	result, err := a.scores.Score(ctx, symbol)
	if err != nil {
		a.logger.Warn("Failed to score symbol, skipping for this cycle",
			zap.String("symbol", symbol), zap.Error(err))
		return symbolResult{skip: &SkipReason{
			Symbol:    symbol,
			Status:    SkipScoreFailed,
			Reason:    err.Error(),
			Timestamp: time.Now(),
		}}
	}

	return symbolResult{result: &result}
}
