package marketdata

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"trading-assistant-go/internal/config"
	"trading-assistant-go/internal/models"
	"trading-assistant-go/internal/ranking"
	"trading-assistant-go/internal/signals"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client talks to the market-data and signal-engine gateway. It
// implements the signals collaborator interfaces; the engines behind
// the gateway are not part of this system.
type Client struct {
	client  *resty.Client
	logger  *zap.Logger
	limiter *rate.Limiter
}

// Compile-time checks that the client satisfies its collaborator
// contracts.
var (
	_ signals.ScoreProvider    = (*Client)(nil)
	_ signals.DecisionProvider = (*Client)(nil)
	_ signals.PlanProvider     = (*Client)(nil)
	_ signals.MarketCalendar   = (*Client)(nil)
)

// NewClient creates a gateway client with rate limiting.
func NewClient(cfg *config.MarketData, logger *zap.Logger) *Client {
	client := resty.New().SetBaseURL(cfg.BaseURL)
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &Client{
		client:  client,
		logger:  logger.Named("marketdata"),
		limiter: limiter,
	}
}

// doRequest executes a request with rate limiting and retry on 429 and
// server errors, backing off exponentially.
func (c *Client) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	const maxRetries = 3

	for i := 0; i < maxRetries; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.SetContext(ctx).Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil
		}

		shouldRetry := false
		var retryAfter time.Duration

		if resp != nil && resp.StatusCode() != 0 {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests {
				shouldRetry = true
				if seconds, err := strconv.Atoi(resp.Header().Get("Retry-After")); err == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 {
				shouldRetry = true
			}
		} else {
			shouldRetry = true
		}

		if !shouldRetry {
			return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
		}

		if retryAfter == 0 {
			retryAfter = time.Duration(math.Pow(2, float64(i))) * time.Second
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}

// Quote is the latest price for a symbol.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// GetQuote fetches the latest quote for a symbol.
func (c *Client) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	var quote Quote
	req := c.client.R().
		SetQueryParam("symbol", symbol).
		SetResult(&quote)

	if _, err := c.doRequest(ctx, "GET", "/quote", req); err != nil {
		return nil, fmt.Errorf("failed to get quote for %s: %w", symbol, err)
	}
	return &quote, nil
}

// Score fetches the normalized 0..100 score for a symbol.
func (c *Client) Score(ctx context.Context, symbol string) (ranking.ScoreResult, error) {
	var result ranking.ScoreResult
	req := c.client.R().
		SetQueryParam("symbol", symbol).
		SetResult(&result)

	if _, err := c.doRequest(ctx, "GET", "/score", req); err != nil {
		return ranking.ScoreResult{}, fmt.Errorf("failed to get score for %s: %w", symbol, err)
	}
	if result.Symbol == "" {
		result.Symbol = symbol
	}
	return result, nil
}

// Decide fetches the fused action/confidence decision for a symbol.
func (c *Client) Decide(ctx context.Context, symbol string) (signals.Decision, error) {
	var decision signals.Decision
	req := c.client.R().
		SetQueryParam("symbol", symbol).
		SetResult(&decision)

	if _, err := c.doRequest(ctx, "GET", "/decision", req); err != nil {
		return signals.Decision{}, fmt.Errorf("failed to get decision for %s: %w", symbol, err)
	}
	return decision, nil
}

// planResponse wraps the optional staged action.
type planResponse struct {
	Action *signals.PlanAction `json:"action,omitempty"`
}

// NextAction fetches the zero-or-one staged plan action for a trade.
func (c *Client) NextAction(ctx context.Context, trade *models.Trade, currentPrice float64) (*signals.PlanAction, error) {
	var resp planResponse
	req := c.client.R().
		SetQueryParams(map[string]string{
			"tradeId": trade.ID,
			"symbol":  trade.Symbol,
			"price":   strconv.FormatFloat(currentPrice, 'f', -1, 64),
		}).
		SetResult(&resp)

	if _, err := c.doRequest(ctx, "GET", "/plan", req); err != nil {
		return nil, fmt.Errorf("failed to get plan action for trade %s: %w", trade.ID, err)
	}
	return resp.Action, nil
}

// calendarResponse is the market-open answer for one symbol.
type calendarResponse struct {
	Open bool `json:"open"`
}

// IsMarketOpen answers whether the venue for a symbol is currently
// open. On gateway failure it reports closed, which degrades to a
// skipped symbol rather than trading on stale assumptions.
func (c *Client) IsMarketOpen(symbol string) bool {
	var resp calendarResponse
	req := c.client.R().
		SetQueryParam("symbol", symbol).
		SetResult(&resp)

	if _, err := c.doRequest(context.Background(), "GET", "/calendar", req); err != nil {
		c.logger.Warn("Failed to check market calendar, treating as closed",
			zap.String("symbol", symbol), zap.Error(err))
		return false
	}
	return resp.Open
}
