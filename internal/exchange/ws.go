// ws.go implements the Bybit v5 public option WebSocket stream.
//
// The stream subscribes to tickers.{SYMBOL} topics and delivers mark prices
// as types.PriceUpdate values on a channel. Updates are diffs: a frame only
// carries the fields that changed, so frames without a mark price are
// skipped.
//
// The connection auto-reconnects with exponential backoff (2s → 60s max) and
// re-subscribes to every tracked symbol on reconnection. After 10 straight
// failed attempts the stream gives up and flags itself Stopped; the health
// endpoint surfaces that. A read deadline (30s) catches silent server
// failures between the venue's 20s pings.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"optionflow/pkg/types"
)

const (
	wsPingInterval  = 20 * time.Second // client keepalive cadence
	wsReadTimeout   = 30 * time.Second // ~1.5 missed pings triggers reconnect
	wsWriteTimeout  = 10 * time.Second // deadline for outgoing messages
	wsUpdateBuffer  = 256              // buffer for price updates
	wsMaxReconnects = 10               // straight failures before giving up
)

// wsRequest is the subscribe/unsubscribe/ping frame shape.
type wsRequest struct {
	Op   string   `json:"op"`
	Args []string `json:"args,omitempty"`
}

// TickerStream maintains one connection to the public option stream. It
// handles connection lifecycle, subscription tracking, ticker routing, and
// automatic reconnection with exponential backoff.
type TickerStream struct {
	url    string
	conn   *websocket.Conn
	connMu sync.Mutex // protects conn reads/writes

	// Track subscriptions for automatic re-subscribe on reconnect
	subscribedMu sync.RWMutex
	subscribed   map[string]bool

	updates chan types.PriceUpdate

	stateMu   sync.RWMutex
	connected bool
	stopped   bool // reconnect budget exhausted

	// Counts consecutive failures only; reset once a connection is up.
	reconnect *backoff.Backoff

	logger *slog.Logger
}

// NewTickerStream creates a stream for the given public option endpoint.
func NewTickerStream(wsURL string, logger *slog.Logger) *TickerStream {
	return &TickerStream{
		url:        wsURL,
		subscribed: make(map[string]bool),
		updates:    make(chan types.PriceUpdate, wsUpdateBuffer),
		reconnect:  &backoff.Backoff{Min: 2 * time.Second, Max: 60 * time.Second, Factor: 2, Jitter: true},
		logger:     logger.With("component", "ws_option"),
	}
}

// Updates returns the read-only channel of observed option prices.
func (s *TickerStream) Updates() <-chan types.PriceUpdate { return s.updates }

// Connected reports whether the stream currently holds a live connection.
func (s *TickerStream) Connected() bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.connected
}

// Stopped reports whether the stream exhausted its reconnect budget.
func (s *TickerStream) Stopped() bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.stopped
}

// Run connects and maintains the WebSocket connection with auto-reconnect.
// Blocks until ctx is cancelled or the reconnect budget runs out.
func (s *TickerStream) Run(ctx context.Context) error {
	for {
		err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if int(s.reconnect.Attempt()) >= wsMaxReconnects {
			s.stateMu.Lock()
			s.stopped = true
			s.stateMu.Unlock()
			s.logger.Error("websocket gave up after repeated failures",
				"attempts", wsMaxReconnects, "error", err)
			return fmt.Errorf("websocket stopped after %d attempts: %w", wsMaxReconnects, err)
		}

		wait := s.reconnect.Duration()
		s.logger.Warn("websocket disconnected, reconnecting", "error", err, "backoff", wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// SetSymbols reconciles the subscription set to exactly the given symbols.
// While disconnected it only updates the tracked set; the next connection
// subscribes to everything tracked.
func (s *TickerStream) SetSymbols(symbols []string) error {
	want := make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		want[sym] = true
	}

	var add, remove []string
	s.subscribedMu.Lock()
	for sym := range want {
		if !s.subscribed[sym] {
			add = append(add, "tickers."+sym)
		}
	}
	for sym := range s.subscribed {
		if !want[sym] {
			remove = append(remove, "tickers."+sym)
		}
	}
	s.subscribed = want
	s.subscribedMu.Unlock()

	if !s.Connected() {
		return nil
	}
	if len(add) > 0 {
		if err := s.writeJSON(wsRequest{Op: "subscribe", Args: add}); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}
	if len(remove) > 0 {
		if err := s.writeJSON(wsRequest{Op: "unsubscribe", Args: remove}); err != nil {
			return fmt.Errorf("unsubscribe: %w", err)
		}
	}
	return nil
}

// Close gracefully closes the connection.
func (s *TickerStream) Close() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *TickerStream) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	s.setConnected(true)

	defer func() {
		s.setConnected(false)
		s.connMu.Lock()
		conn.Close()
		s.conn = nil
		s.connMu.Unlock()
	}()

	if err := s.sendInitialSubscription(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	// The failure budget covers one outage window, not the process lifetime.
	s.reconnect.Reset()
	s.logger.Info("websocket connected", "url", s.url)

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go s.pingLoop(pingCtx)

	// Read loop with deadline so we reconnect if server goes silent
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		s.dispatchMessage(msg)
	}
}

func (s *TickerStream) setConnected(v bool) {
	s.stateMu.Lock()
	s.connected = v
	s.stateMu.Unlock()
}

func (s *TickerStream) sendInitialSubscription() error {
	s.subscribedMu.RLock()
	args := make([]string, 0, len(s.subscribed))
	for sym := range s.subscribed {
		args = append(args, "tickers."+sym)
	}
	s.subscribedMu.RUnlock()

	if len(args) == 0 {
		return nil
	}
	return s.writeJSON(wsRequest{Op: "subscribe", Args: args})
}

func (s *TickerStream) dispatchMessage(data []byte) {
	var frame struct {
		Op      string          `json:"op"`
		Topic   string          `json:"topic"`
		Success *bool           `json:"success"`
		RetMsg  string          `json:"ret_msg"`
		Data    json.RawMessage `json:"data"`
		TS      int64           `json:"ts"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		s.logger.Debug("ignoring non-json ws message", "data", string(data))
		return
	}

	switch {
	case frame.Op == "pong", frame.Op == "ping" && frame.Success != nil:
		// Ack for our own keepalive; success:true with ret_msg "pong".

	case frame.Op == "ping":
		// Venue-initiated keepalive; answer in kind.
		if err := s.writeJSON(wsRequest{Op: "pong"}); err != nil {
			s.logger.Warn("pong failed", "error", err)
		}

	case frame.Op == "subscribe", frame.Op == "unsubscribe":
		if frame.Success != nil && !*frame.Success {
			s.logger.Error("subscription rejected", "op", frame.Op, "ret_msg", frame.RetMsg)
		}

	case strings.HasPrefix(frame.Topic, "tickers."):
		s.handleTicker(frame.Topic, frame.Data, frame.TS)

	default:
		s.logger.Debug("unknown ws frame", "op", frame.Op, "topic", frame.Topic)
	}
}

// handleTicker extracts the mark price from a tickers.* frame. Frames are
// diffs, so a frame without markPrice carries nothing we monitor.
func (s *TickerStream) handleTicker(topic string, data json.RawMessage, ts int64) {
	var ticker struct {
		Symbol    string `json:"symbol"`
		MarkPrice string `json:"markPrice"`
	}
	if err := json.Unmarshal(data, &ticker); err != nil {
		s.logger.Error("unmarshal ticker", "topic", topic, "error", err)
		return
	}
	if ticker.MarkPrice == "" {
		return
	}
	price, err := strconv.ParseFloat(ticker.MarkPrice, 64)
	if err != nil || price <= 0 {
		return
	}
	symbol := ticker.Symbol
	if symbol == "" {
		symbol = strings.TrimPrefix(topic, "tickers.")
	}

	update := types.PriceUpdate{
		Symbol:     symbol,
		Instrument: types.InstrumentOption,
		Price:      price,
		Timestamp:  time.UnixMilli(ts),
	}
	select {
	case s.updates <- update:
	default:
		s.logger.Warn("price channel full, dropping update", "symbol", symbol)
	}
}

func (s *TickerStream) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.writeJSON(wsRequest{Op: "ping"}); err != nil {
				s.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (s *TickerStream) writeJSON(v any) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.conn.WriteJSON(v)
}
