package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"trading-assistant-go/internal/models"
	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// setupTestServer creates a test server and a Client pointed at it.
func setupTestServer(handler http.Handler) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)

	c := &Client{
		client:  resty.New().SetBaseURL(server.URL),
		logger:  zap.NewNop(),
		limiter: rate.NewLimiter(rate.Inf, 1),
	}
	return c, server
}

func TestGetQuote(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/quote", r.URL.Path)
			assert.Equal(t, "AAPL", r.URL.Query().Get("symbol"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"symbol":"AAPL","price":187.5,"timestamp":"2025-06-01T14:30:00Z"}`))
		})
		c, server := setupTestServer(handler)
		defer server.Close()

		quote, err := c.GetQuote(context.Background(), "AAPL")
		require.NoError(t, err)
		assert.Equal(t, 187.5, quote.Price)
	})

	t.Run("APIError", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"unknown symbol"}`))
		})
		c, server := setupTestServer(handler)
		defer server.Close()

		_, err := c.GetQuote(context.Background(), "NOPE")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to get quote")
	})
}

func TestScore(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/score", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"symbol":"THYAO.IS","score":72.5,"timestamp":"2025-06-01T10:00:00Z"}`))
	})
	c, server := setupTestServer(handler)
	defer server.Close()

	result, err := c.Score(context.Background(), "THYAO.IS")
	require.NoError(t, err)
	assert.Equal(t, "THYAO.IS", result.Symbol)
	assert.Equal(t, 72.5, result.Score)
}

func TestDecide(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/decision", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"action":"buy","confidence":0.82,"rationale":"strong momentum"}`))
	})
	c, server := setupTestServer(handler)
	defer server.Close()

	decision, err := c.Decide(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "buy", decision.Action)
	assert.InDelta(t, 0.82, decision.Confidence, 1e-9)
}

func TestNextAction(t *testing.T) {
	t.Run("ActionStaged", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/plan", r.URL.Path)
			assert.Equal(t, "trade-1", r.URL.Query().Get("tradeId"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"action":{"type":"sellPercent","percent":50}}`))
		})
		c, server := setupTestServer(handler)
		defer server.Close()

		trade := &models.Trade{ID: "trade-1", Symbol: "AAPL"}
		action, err := c.NextAction(context.Background(), trade, 120)
		require.NoError(t, err)
		require.NotNil(t, action)
		assert.Equal(t, "sellPercent", action.Type)
		assert.Equal(t, 50.0, action.Percent)
	})

	t.Run("NothingStaged", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{}`))
		})
		c, server := setupTestServer(handler)
		defer server.Close()

		trade := &models.Trade{ID: "trade-2", Symbol: "AAPL"}
		action, err := c.NextAction(context.Background(), trade, 120)
		require.NoError(t, err)
		assert.Nil(t, action)
	})
}

func TestIsMarketOpen(t *testing.T) {
	t.Run("Open", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"open":true}`))
		})
		c, server := setupTestServer(handler)
		defer server.Close()

		assert.True(t, c.IsMarketOpen("AAPL"))
	})

	t.Run("GatewayFailureMeansClosed", func(t *testing.T) {
		c, server := setupTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer server.Close()

		assert.False(t, c.IsMarketOpen("AAPL"))
	})
}

func TestDoRequest_RetriesServerErrors(t *testing.T) {
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"symbol":"AAPL","price":10,"timestamp":"2025-06-01T10:00:00Z"}`))
	})
	c, server := setupTestServer(handler)
	defer server.Close()

	quote, err := c.GetQuote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 10.0, quote.Price)
	assert.Equal(t, 3, calls)
}

func TestStream_DispatchesQuotes(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		// Expect the subscribe message, then push two quotes.
		var sub subscribeMessage
		require.NoError(t, conn.ReadJSON(&sub))
		assert.Equal(t, "subscribe", sub.Op)
		assert.Equal(t, []string{"AAPL"}, sub.Symbols)

		require.NoError(t, conn.WriteJSON(Quote{Symbol: "AAPL", Price: 100}))
		require.NoError(t, conn.WriteJSON(Quote{Symbol: "AAPL", Price: 101}))
		time.Sleep(100 * time.Millisecond)
	}))
	defer server.Close()

	var mu sync.Mutex
	var prices []float64
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := NewStream(
		"ws"+strings.TrimPrefix(server.URL, "http"),
		[]string{"AAPL"},
		func(symbol string, price float64) {
			mu.Lock()
			prices = append(prices, price)
			if len(prices) == 2 {
				cancel()
			}
			mu.Unlock()
		},
		zap.NewNop(),
	)

	done := make(chan struct{})
	go func() {
		stream.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not dispatch quotes in time")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []float64{100, 101}, prices)
}
