package marketdata

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// QuoteHandler receives every quote pushed by the stream. Handlers
// drive the stop-loss/take-profit trigger checks, independent of the
// scheduler's timer.
type QuoteHandler func(symbol string, price float64)

const (
	streamDialTimeout  = 10 * time.Second
	streamMaxReconnect = 30 * time.Second
)

// Stream is a websocket subscription to live quotes for the
// watchlist. It reconnects with backoff until its context is
// cancelled.
type Stream struct {
	url     string
	symbols []string
	handler QuoteHandler
	logger  *zap.Logger
}

// NewStream creates a quote stream for the given symbols.
func NewStream(url string, symbols []string, handler QuoteHandler, logger *zap.Logger) *Stream {
	return &Stream{
		url:     url,
		symbols: symbols,
		handler: handler,
		logger:  logger.Named("quote-stream"),
	}
}

type subscribeMessage struct {
	Op      string   `json:"op"`
	Symbols []string `json:"symbols"`
}

// Run connects and dispatches quotes until ctx is cancelled. Each
// disconnect is retried with exponential backoff.
func (s *Stream) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if err := s.connectAndRead(ctx); err != nil {
			if ctx.Err() != nil {
				s.logger.Info("Quote stream stopped")
				return
			}
			s.logger.Warn("Quote stream disconnected, reconnecting",
				zap.Duration("backoff", backoff), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			s.logger.Info("Quote stream stopped")
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > streamMaxReconnect {
			backoff = streamMaxReconnect
		}
	}
}

func (s *Stream) connectAndRead(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, streamDialTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.WriteJSON(subscribeMessage{Op: "subscribe", Symbols: s.symbols}); err != nil {
		return err
	}
	s.logger.Info("Quote stream connected", zap.Int("symbols", len(s.symbols)))

	// Unblock the read loop when the context is cancelled.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var quote Quote
		if err := json.Unmarshal(payload, &quote); err != nil {
			s.logger.Debug("Ignoring malformed stream message", zap.Error(err))
			continue
		}
		if quote.Symbol == "" || quote.Price <= 0 {
			continue
		}
		s.handler(quote.Symbol, quote.Price)
	}
}
