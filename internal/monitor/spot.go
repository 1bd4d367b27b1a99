// spot.go polls spot prices over REST for tasks that watch the underlying
// rather than the option itself. The public option stream does not carry
// spot symbols, so those are sampled on an interval instead.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"optionflow/internal/exchange"
	"optionflow/pkg/types"
)

const spotRequestTimeout = 10 * time.Second

// SpotPoller samples spot tickers on a fixed interval and delivers them as
// types.PriceUpdate values, the same shape the option stream produces. The
// loop skips cycles while no symbols are tracked.
type SpotPoller struct {
	client   *exchange.Client
	interval time.Duration

	mu      sync.RWMutex
	symbols map[string]bool

	updates chan types.PriceUpdate
	logger  *slog.Logger
}

// NewSpotPoller creates a poller over the shared REST client.
func NewSpotPoller(client *exchange.Client, interval time.Duration, logger *slog.Logger) *SpotPoller {
	return &SpotPoller{
		client:   client,
		interval: interval,
		symbols:  make(map[string]bool),
		updates:  make(chan types.PriceUpdate, 64),
		logger:   logger.With("component", "spot_poller"),
	}
}

// Updates returns the read-only channel of observed spot prices.
func (p *SpotPoller) Updates() <-chan types.PriceUpdate { return p.updates }

// SetSymbols replaces the tracked symbol set. An empty set idles the loop.
func (p *SpotPoller) SetSymbols(symbols []string) {
	next := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		next[s] = true
	}
	p.mu.Lock()
	p.symbols = next
	p.mu.Unlock()
}

// Run polls until ctx is cancelled. Poll failures are logged and the loop
// carries on; a single bad cycle must not stop spot monitoring.
func (p *SpotPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *SpotPoller) pollOnce(ctx context.Context) {
	p.mu.RLock()
	symbols := make([]string, 0, len(p.symbols))
	for s := range p.symbols {
		symbols = append(symbols, s)
	}
	p.mu.RUnlock()

	for _, symbol := range symbols {
		reqCtx, cancel := context.WithTimeout(ctx, spotRequestTimeout)
		price, err := p.client.LastPrice(reqCtx, "spot", symbol)
		cancel()
		if err != nil {
			p.logger.Warn("spot poll failed", "symbol", symbol, "error", err)
			continue
		}

		update := types.PriceUpdate{
			Symbol:     symbol,
			Instrument: types.InstrumentSpot,
			Price:      price,
			Timestamp:  time.Now().UTC(),
		}
		select {
		case p.updates <- update:
		default:
			p.logger.Warn("price channel full, dropping spot update", "symbol", symbol)
		}
	}
}
