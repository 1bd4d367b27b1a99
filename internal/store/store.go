// Package store provides crash-safe persistence for all mutable state as
// JSON documents: strategies.json, trades.json, the monitor task snapshot,
// settings.json and watchlist.json.
//
// Every document has its own lock and every write goes to a .tmp file that
// is renamed over the target, so a crash mid-save never leaves a partial
// file. Reads fully re-parse the document — there is no in-memory cache to
// drift from disk.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"optionflow/pkg/types"
)

// document is one JSON file with its own lock. Mutators hold the lock across
// the whole read-modify-write so concurrent writers serialize per file.
type document struct {
	path string
	mu   sync.Mutex
}

func (d *document) read(v any) error {
	data, err := os.ReadFile(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return os.ErrNotExist
		}
		return fmt.Errorf("read %s: %w", filepath.Base(d.path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", filepath.Base(d.path), err)
	}
	return nil
}

func (d *document) write(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(d.path), err)
	}
	tmp := d.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(d.path), err)
	}
	return os.Rename(tmp, d.path)
}

// Store groups the typed repositories over a single data directory.
type Store struct {
	strategies document
	trades     document
	snapshot   document
	settings   document
	watchlist  document
}

// Open creates a store backed by the given directory.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, "monitor"), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store{
		strategies: document{path: filepath.Join(dir, "strategies.json")},
		trades:     document{path: filepath.Join(dir, "trades.json")},
		snapshot:   document{path: filepath.Join(dir, "monitor", "active_tasks.json")},
		settings:   document{path: filepath.Join(dir, "settings.json")},
		watchlist:  document{path: filepath.Join(dir, "watchlist.json")},
	}, nil
}

// ————————————————————————————————————————————————————————————————————————
// Strategies
// ————————————————————————————————————————————————————————————————————————

type strategiesDoc struct {
	Strategies []*types.TradingStrategy `json:"strategies"`
}

// LoadStrategies re-parses strategies.json into a map keyed by strategy id.
// A missing file is an empty map.
func (s *Store) LoadStrategies() (map[string]*types.TradingStrategy, error) {
	s.strategies.mu.Lock()
	defer s.strategies.mu.Unlock()
	return s.loadStrategiesLocked()
}

func (s *Store) loadStrategiesLocked() (map[string]*types.TradingStrategy, error) {
	var doc strategiesDoc
	if err := s.strategies.read(&doc); err != nil {
		if os.IsNotExist(err) {
			return map[string]*types.TradingStrategy{}, nil
		}
		return nil, err
	}
	out := make(map[string]*types.TradingStrategy, len(doc.Strategies))
	for _, st := range doc.Strategies {
		out[st.StrategyID] = st
	}
	return out, nil
}

func (s *Store) saveStrategiesLocked(strategies map[string]*types.TradingStrategy) error {
	ids := make([]string, 0, len(strategies))
	for id := range strategies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	doc := strategiesDoc{Strategies: make([]*types.TradingStrategy, 0, len(ids))}
	for _, id := range ids {
		doc.Strategies = append(doc.Strategies, strategies[id])
	}
	return s.strategies.write(doc)
}

// UpsertStrategy inserts or replaces a strategy document.
func (s *Store) UpsertStrategy(strategy *types.TradingStrategy) error {
	s.strategies.mu.Lock()
	defer s.strategies.mu.Unlock()

	strategies, err := s.loadStrategiesLocked()
	if err != nil {
		return err
	}
	strategies[strategy.StrategyID] = strategy
	return s.saveStrategiesLocked(strategies)
}

// GetStrategy returns one strategy, or nil when absent.
func (s *Store) GetStrategy(strategyID string) (*types.TradingStrategy, error) {
	strategies, err := s.LoadStrategies()
	if err != nil {
		return nil, err
	}
	return strategies[strategyID], nil
}

// DeleteStrategy removes a strategy. Reports whether it existed.
func (s *Store) DeleteStrategy(strategyID string) (bool, error) {
	s.strategies.mu.Lock()
	defer s.strategies.mu.Unlock()

	strategies, err := s.loadStrategiesLocked()
	if err != nil {
		return false, err
	}
	if _, ok := strategies[strategyID]; !ok {
		return false, nil
	}
	delete(strategies, strategyID)
	return true, s.saveStrategiesLocked(strategies)
}

// UpdateLevel replaces one level within a strategy, preserving level order.
func (s *Store) UpdateLevel(strategyID string, level *types.StrategyLevel) error {
	s.strategies.mu.Lock()
	defer s.strategies.mu.Unlock()

	strategies, err := s.loadStrategiesLocked()
	if err != nil {
		return err
	}
	strategy, ok := strategies[strategyID]
	if !ok {
		return fmt.Errorf("strategy %s not found", strategyID)
	}
	replaced := false
	for i, l := range strategy.Levels {
		if l.LevelID == level.LevelID {
			strategy.Levels[i] = level
			replaced = true
			break
		}
	}
	if !replaced {
		strategy.Levels = append(strategy.Levels, level)
	}
	return s.saveStrategiesLocked(strategies)
}

// ————————————————————————————————————————————————————————————————————————
// Trades
// ————————————————————————————————————————————————————————————————————————

type tradesDoc struct {
	Trades []types.TradeRecord `json:"trades"`
}

// AppendTrade appends to the append-only trade log.
func (s *Store) AppendTrade(record types.TradeRecord) error {
	s.trades.mu.Lock()
	defer s.trades.mu.Unlock()

	var doc tradesDoc
	if err := s.trades.read(&doc); err != nil && !os.IsNotExist(err) {
		return err
	}
	doc.Trades = append(doc.Trades, record)
	return s.trades.write(doc)
}

// LoadTrades returns trade records sorted newest-first. limit <= 0 means all.
func (s *Store) LoadTrades(limit int) ([]types.TradeRecord, error) {
	s.trades.mu.Lock()
	defer s.trades.mu.Unlock()

	var doc tradesDoc
	if err := s.trades.read(&doc); err != nil {
		if os.IsNotExist(err) {
			return []types.TradeRecord{}, nil
		}
		return nil, err
	}
	sort.SliceStable(doc.Trades, func(i, j int) bool {
		return doc.Trades[i].CreatedAt.After(doc.Trades[j].CreatedAt)
	})
	if limit > 0 && len(doc.Trades) > limit {
		doc.Trades = doc.Trades[:limit]
	}
	return doc.Trades, nil
}

// ————————————————————————————————————————————————————————————————————————
// Monitor task snapshot
// ————————————————————————————————————————————————————————————————————————

// WriteTaskSnapshot atomically replaces the active-task snapshot file.
func (s *Store) WriteTaskSnapshot(snapshot types.TaskSnapshot) error {
	s.snapshot.mu.Lock()
	defer s.snapshot.mu.Unlock()
	return s.snapshot.write(snapshot)
}

// ReadTaskSnapshot returns the last written snapshot; a missing file reads
// as an empty snapshot.
func (s *Store) ReadTaskSnapshot() (types.TaskSnapshot, error) {
	s.snapshot.mu.Lock()
	defer s.snapshot.mu.Unlock()

	var snap types.TaskSnapshot
	if err := s.snapshot.read(&snap); err != nil {
		if os.IsNotExist(err) {
			return types.TaskSnapshot{Tasks: []types.MonitorTask{}}, nil
		}
		return types.TaskSnapshot{}, err
	}
	if snap.Tasks == nil {
		snap.Tasks = []types.MonitorTask{}
	}
	return snap, nil
}

// ————————————————————————————————————————————————————————————————————————
// Settings and watchlist
// ————————————————————————————————————————————————————————————————————————

// LoadSettings returns persisted settings, or defaults when none exist.
func (s *Store) LoadSettings() (types.Settings, error) {
	s.settings.mu.Lock()
	defer s.settings.mu.Unlock()

	settings := types.Settings{
		Testnet:             true,
		PriceMonitorBase:    "http://localhost:8888",
		StrategyWebhookBase: "http://localhost:8080",
	}
	if err := s.settings.read(&settings); err != nil && !os.IsNotExist(err) {
		return types.Settings{}, err
	}
	return settings, nil
}

// SaveSettings persists settings.
func (s *Store) SaveSettings(settings types.Settings) error {
	s.settings.mu.Lock()
	defer s.settings.mu.Unlock()
	return s.settings.write(settings)
}

// LoadWatchlist returns the saved watchlist; a missing file is empty.
func (s *Store) LoadWatchlist() ([]types.WatchlistItem, error) {
	s.watchlist.mu.Lock()
	defer s.watchlist.mu.Unlock()

	var items []types.WatchlistItem
	if err := s.watchlist.read(&items); err != nil {
		if os.IsNotExist(err) {
			return []types.WatchlistItem{}, nil
		}
		return nil, err
	}
	return items, nil
}

// SaveWatchlist replaces the watchlist.
func (s *Store) SaveWatchlist(items []types.WatchlistItem) error {
	s.watchlist.mu.Lock()
	defer s.watchlist.mu.Unlock()
	return s.watchlist.write(items)
}
