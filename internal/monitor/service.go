// Package monitor implements the price monitor: it holds monitor tasks,
// consumes price updates from the option stream and the spot poller, runs
// cross detection over a two-point window, and fires each task's webhook at
// most once.
//
// All task state lives behind one mutex. The consumer goroutine is the only
// price writer; HTTP handlers call Create/Remove/Get concurrently. Webhook
// delivery and subscription changes happen outside the lock so network
// stalls never block detection.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"optionflow/internal/config"
	"optionflow/internal/store"
	"optionflow/pkg/types"
)

var (
	// ErrDuplicateTask means an active task already holds the requested id.
	ErrDuplicateTask = errors.New("task id already active")
	// ErrCapacity means the active-task limit is reached.
	ErrCapacity = errors.New("monitor at capacity")
	// ErrSpotSymbol means a spot watch names an unsupported symbol.
	ErrSpotSymbol = errors.New("spot monitoring supports BTCUSDT only")
)

const (
	defaultTimeoutHours = 24
	maxTimeoutHours     = 168

	// terminalRetention is how long triggered and expired tasks stay readable
	// through GET before the sweep evicts them.
	terminalRetention = time.Hour
)

// optionFeed is the streaming side of the monitor (the option ticker stream).
type optionFeed interface {
	SetSymbols(symbols []string) error
	Updates() <-chan types.PriceUpdate
	Connected() bool
	Stopped() bool
}

// spotFeed is the polling side (spot tickers over REST).
type spotFeed interface {
	SetSymbols(symbols []string)
	Updates() <-chan types.PriceUpdate
}

// Service owns monitor tasks and runs cross detection.
type Service struct {
	maxTasks      int
	sweepInterval time.Duration

	stream   optionFeed
	poller   spotFeed
	webhooks *WebhookDispatcher
	store    *store.Store
	logger   *slog.Logger

	mu sync.Mutex
	// all holds active tasks plus recently finished ones. Finished tasks are
	// kept for GET until the sweep evicts them; the snapshot file images
	// active tasks only.
	all map[string]*types.MonitorTask
}

// NewService wires the monitor over its feeds and persistence.
func NewService(cfg config.MonitorConfig, st *store.Store, stream optionFeed, poller spotFeed, webhooks *WebhookDispatcher, logger *slog.Logger) *Service {
	return &Service{
		maxTasks:      cfg.MaxTasks,
		sweepInterval: cfg.ExpirySweepInterval,
		stream:        stream,
		poller:        poller,
		webhooks:      webhooks,
		store:         st,
		logger:        logger.With("component", "monitor"),
		all:           make(map[string]*types.MonitorTask),
	}
}

// Restore loads the last task snapshot so monitoring resumes across restarts.
func (s *Service) Restore() error {
	snap, err := s.store.ReadTaskSnapshot()
	if err != nil {
		return fmt.Errorf("restore tasks: %w", err)
	}

	s.mu.Lock()
	active := 0
	for i := range snap.Tasks {
		t := snap.Tasks[i]
		s.all[t.TaskID] = &t
		if t.Status == types.TaskActive {
			active++
		}
	}
	options, spots := s.subscriptionsLocked()
	s.mu.Unlock()

	s.applySubscriptions(options, spots)
	s.logger.Info("tasks restored", "total", len(snap.Tasks), "active", active)
	return nil
}

// Run consumes price updates and sweeps expired tasks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case u := <-s.stream.Updates():
			s.handleUpdate(ctx, u)
		case u := <-s.poller.Updates():
			s.handleUpdate(ctx, u)
		case <-ticker.C:
			s.sweep()
		}
	}
}

// Create validates a request and registers a new monitor task.
func (s *Service) Create(req types.CreateMonitorRequest) (types.MonitorTask, error) {
	task, err := buildTask(req)
	if err != nil {
		return types.MonitorTask{}, err
	}

	s.mu.Lock()
	if existing, ok := s.all[task.TaskID]; ok && existing.Status == types.TaskActive {
		s.mu.Unlock()
		return types.MonitorTask{}, ErrDuplicateTask
	}
	if s.activeCountLocked() >= s.maxTasks {
		s.mu.Unlock()
		return types.MonitorTask{}, ErrCapacity
	}
	s.all[task.TaskID] = &task
	options, spots := s.subscriptionsLocked()
	s.persistLocked()
	s.mu.Unlock()

	s.applySubscriptions(options, spots)
	s.logger.Info("task created",
		"task_id", task.TaskID, "symbol", task.MonitorSymbol,
		"instrument", task.MonitorInstrument, "target", task.TargetPrice)
	return task, nil
}

// buildTask validates a create request into a task. Validation failures are
// plain errors; the API maps them to 400.
func buildTask(req types.CreateMonitorRequest) (types.MonitorTask, error) {
	if req.TaskID == "" {
		return types.MonitorTask{}, fmt.Errorf("task_id is required")
	}
	if req.TargetPrice <= 0 {
		return types.MonitorTask{}, fmt.Errorf("target_price must be > 0")
	}
	if req.WebhookURL == "" {
		return types.MonitorTask{}, fmt.Errorf("webhook_url is required")
	}

	info, err := types.ParseOptionSymbol(strings.ToUpper(req.OptionSymbol))
	if err != nil {
		return types.MonitorTask{}, err
	}

	instrument := req.MonitorInstrument
	if instrument == "" {
		instrument = types.InstrumentOption
	}
	var monitorSymbol string
	switch instrument {
	case types.InstrumentOption:
		// The stream topic uses the bare symbol without settlement suffix.
		monitorSymbol = strings.TrimSuffix(strings.ToUpper(req.OptionSymbol), "-USDT")
	case types.InstrumentSpot:
		monitorSymbol = strings.ToUpper(req.MonitorSymbol)
		if monitorSymbol != "BTCUSDT" {
			return types.MonitorTask{}, ErrSpotSymbol
		}
	default:
		return types.MonitorTask{}, fmt.Errorf("unknown monitor_instrument %q", instrument)
	}

	hours := req.TimeoutHours
	if hours == 0 {
		hours = defaultTimeoutHours
	}
	if hours < 1 || hours > maxTimeoutHours {
		return types.MonitorTask{}, fmt.Errorf("timeout_hours must be in [1, %d]", maxTimeoutHours)
	}

	now := time.Now().UTC()
	return types.MonitorTask{
		TaskID:            req.TaskID,
		OptionInfo:        info,
		MonitorSymbol:     monitorSymbol,
		MonitorInstrument: instrument,
		TargetPrice:       req.TargetPrice,
		WebhookURL:        req.WebhookURL,
		Status:            types.TaskActive,
		CreatedAt:         now,
		ExpiresAt:         now.Add(time.Duration(hours) * time.Hour),
		StrategyID:        req.StrategyID,
		LevelID:           req.LevelID,
		MonitorType:       req.MonitorType,
		Metadata:          req.Metadata,
	}, nil
}

// Remove cancels and forgets a task. Reports whether it existed; removing an
// unknown task is a no-op.
func (s *Service) Remove(taskID string) bool {
	s.mu.Lock()
	task, ok := s.all[taskID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if task.Status == types.TaskActive {
		task.Status = types.TaskCancelled
	}
	delete(s.all, taskID)
	options, spots := s.subscriptionsLocked()
	s.persistLocked()
	s.mu.Unlock()

	s.applySubscriptions(options, spots)
	s.logger.Info("task removed", "task_id", taskID)
	return true
}

// Get returns a copy of one task.
func (s *Service) Get(taskID string) (types.MonitorTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.all[taskID]
	if !ok {
		return types.MonitorTask{}, false
	}
	return *task, true
}

// Tasks returns copies of every known task, newest first.
func (s *Service) Tasks() []types.MonitorTask {
	s.mu.Lock()
	out := make([]types.MonitorTask, 0, len(s.all))
	for _, t := range s.all {
		out = append(out, *t)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// ActiveCount returns the number of active tasks.
func (s *Service) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeCountLocked()
}

// StreamConnected reports whether the option stream holds a live connection.
func (s *Service) StreamConnected() bool { return s.stream.Connected() }

// Healthy reports whether the monitor can still observe prices. A stream
// that exhausted its reconnect budget makes the service unhealthy.
func (s *Service) Healthy() bool { return !s.stream.Stopped() }

func (s *Service) activeCountLocked() int {
	n := 0
	for _, t := range s.all {
		if t.Status == types.TaskActive {
			n++
		}
	}
	return n
}

// delivery is one webhook to send after the lock is released.
type delivery struct {
	url     string
	payload types.WebhookPayload
}

// handleUpdate runs cross detection for one observed price. Detection needs
// two prior observations: the first seeds the current price, the second
// seeds the window, and from the third on each price is compared against the
// stored current price.
func (s *Service) handleUpdate(ctx context.Context, u types.PriceUpdate) {
	p := u.Price

	s.mu.Lock()
	var deliveries []delivery
	for _, t := range s.all {
		if t.Status != types.TaskActive || t.MonitorSymbol != u.Symbol || t.MonitorInstrument != u.Instrument {
			continue
		}

		if t.CurrentPrice == nil {
			cur := p
			t.CurrentPrice = &cur
			continue
		}
		if t.PreviousPrice == nil {
			prev := *t.CurrentPrice
			cur := p
			t.PreviousPrice = &prev
			t.CurrentPrice = &cur
			continue
		}

		cur := *t.CurrentPrice
		var direction types.Direction
		switch {
		case cur < t.TargetPrice && t.TargetPrice <= p:
			direction = types.UpCross
		case cur > t.TargetPrice && t.TargetPrice >= p:
			direction = types.DownCross
		default:
			prev, next := cur, p
			t.PreviousPrice = &prev
			t.CurrentPrice = &next
			continue
		}

		// Crossed: flip to triggered before anything observable happens, so
		// the webhook fires at most once per task.
		now := time.Now().UTC()
		t.Status = types.TaskTriggered
		t.TriggeredAt = &now
		prev, next := cur, p
		t.PreviousPrice = &prev
		t.CurrentPrice = &next

		s.logger.Info("task triggered",
			"task_id", t.TaskID, "symbol", t.MonitorSymbol,
			"direction", direction, "target", t.TargetPrice,
			"previous", cur, "triggered", p)
		deliveries = append(deliveries, delivery{
			url: t.WebhookURL,
			payload: types.WebhookPayload{
				TaskID:            t.TaskID,
				OptionSymbol:      t.OptionInfo.Symbol,
				MonitorSymbol:     t.MonitorSymbol,
				MonitorInstrument: t.MonitorInstrument,
				TargetPrice:       t.TargetPrice,
				TriggeredPrice:    p,
				PreviousPrice:     cur,
				TriggerDirection:  direction,
				TriggeredAt:       now.Format(time.RFC3339),
				StrategyID:        t.StrategyID,
				LevelID:           t.LevelID,
				MonitorType:       t.MonitorType,
				Metadata:          t.Metadata,
			},
		})
	}

	var options, spots []string
	if len(deliveries) > 0 {
		options, spots = s.subscriptionsLocked()
		s.persistLocked()
	}
	s.mu.Unlock()

	if len(deliveries) == 0 {
		return
	}
	s.applySubscriptions(options, spots)
	for _, d := range deliveries {
		if err := s.webhooks.Deliver(ctx, d.url, d.payload); err != nil {
			s.logger.Error("webhook delivery failed",
				"task_id", d.payload.TaskID, "url", d.url, "error", err)
		}
	}
}

// sweep expires overdue tasks, evicts finished ones past retention, and
// refreshes the snapshot with the latest observed prices.
func (s *Service) sweep() {
	now := time.Now().UTC()

	s.mu.Lock()
	expired := 0
	for id, t := range s.all {
		switch {
		case t.Status == types.TaskActive && t.ExpiresAt.Before(now):
			t.Status = types.TaskExpired
			expired++
			s.logger.Info("task expired", "task_id", t.TaskID, "symbol", t.MonitorSymbol)
		case t.Status != types.TaskActive && terminalSince(t).Add(terminalRetention).Before(now):
			delete(s.all, id)
		}
	}
	options, spots := s.subscriptionsLocked()
	s.persistLocked()
	s.mu.Unlock()

	if expired > 0 {
		s.applySubscriptions(options, spots)
	}
}

// terminalSince is when a finished task stopped mattering; retention counts
// from this point.
func terminalSince(t *types.MonitorTask) time.Time {
	if t.TriggeredAt != nil {
		return *t.TriggeredAt
	}
	return t.ExpiresAt
}

// subscriptionsLocked derives the symbol sets active tasks need.
func (s *Service) subscriptionsLocked() (options, spots []string) {
	optSet := make(map[string]bool)
	spotSet := make(map[string]bool)
	for _, t := range s.all {
		if t.Status != types.TaskActive {
			continue
		}
		switch t.MonitorInstrument {
		case types.InstrumentOption:
			optSet[t.MonitorSymbol] = true
		case types.InstrumentSpot:
			spotSet[t.MonitorSymbol] = true
		}
	}
	for sym := range optSet {
		options = append(options, sym)
	}
	for sym := range spotSet {
		spots = append(spots, sym)
	}
	sort.Strings(options)
	sort.Strings(spots)
	return options, spots
}

func (s *Service) applySubscriptions(options, spots []string) {
	if err := s.stream.SetSymbols(options); err != nil {
		s.logger.Warn("stream subscription update failed", "error", err)
	}
	s.poller.SetSymbols(spots)
}

// persistLocked rewrites the snapshot file. Only active tasks are imaged;
// finished tasks live in memory until eviction.
func (s *Service) persistLocked() {
	snap := types.TaskSnapshot{UpdatedAt: time.Now().UTC(), Tasks: make([]types.MonitorTask, 0, len(s.all))}
	for _, t := range s.all {
		if t.Status == types.TaskActive {
			snap.Tasks = append(snap.Tasks, *t)
		}
	}
	sort.Slice(snap.Tasks, func(i, j int) bool { return snap.Tasks[i].CreatedAt.After(snap.Tasks[j].CreatedAt) })
	if err := s.store.WriteTaskSnapshot(snap); err != nil {
		s.logger.Error("snapshot write failed", "error", err)
	}
}
