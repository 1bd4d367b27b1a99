// Package strategy implements the strategy engine: it owns strategy and
// level documents, provisions monitor tasks for price-conditional entries,
// turns trigger webhooks into queued executions, and drives level lifecycle
// transitions.
//
// The engine keeps no in-memory copy of strategy state. Every operation
// loads from the store and writes back, so the executor, webhook handler and
// API handlers can never diverge from disk.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"optionflow/internal/config"
	"optionflow/internal/exchange"
	"optionflow/internal/store"
	"optionflow/pkg/types"
)

// ErrNotFound means the named strategy or level does not exist.
var ErrNotFound = errors.New("not found")

// orderPlacer is the slice of the venue client the engine needs.
type orderPlacer interface {
	PlaceOrder(ctx context.Context, order exchange.OrderRequest) (*exchange.OrderResponse, error)
}

// Service is the strategy engine.
type Service struct {
	cfg      config.StrategyConfig
	store    *store.Store
	monitor  *MonitorClient
	venue    orderPlacer
	executor *Executor
	logger   *slog.Logger
}

// NewService wires the engine and its executor.
func NewService(cfg config.StrategyConfig, st *store.Store, monitor *MonitorClient, venue orderPlacer, logger *slog.Logger) *Service {
	s := &Service{
		cfg:     cfg,
		store:   st,
		monitor: monitor,
		venue:   venue,
		logger:  logger.With("component", "strategy"),
	}
	s.executor = NewExecutor(cfg.QueueCapacity, cfg.ExecutionSpacing, s.executeLevel, logger)
	return s
}

// Run drives the execution worker until ctx is cancelled.
func (s *Service) Run(ctx context.Context) { s.executor.Run(ctx) }

// webhookURL is where the monitor posts triggers for every task the engine
// provisions.
func (s *Service) webhookURL() string {
	return s.cfg.WebhookBaseURL + "/api/strategies/webhook"
}

// ————————————————————————————————————————————————————————————————————————
// Requests and validation
// ————————————————————————————————————————————————————————————————————————

// LevelInput is the wire shape of one level in create/update requests.
type LevelInput struct {
	LevelID      string          `json:"level_id,omitempty"`
	OptionSymbol string          `json:"option_symbol"`
	Side         types.Side      `json:"side"`
	Quantity     string          `json:"quantity"`
	OrderType    types.OrderType `json:"order_type"`
	LimitPrice   *float64        `json:"limit_price,omitempty"`

	TriggerType  types.TriggerType `json:"trigger_type"`
	TriggerPrice *float64          `json:"trigger_price,omitempty"`
	TakeProfit   *float64          `json:"take_profit,omitempty"`
	StopLoss     *float64          `json:"stop_loss,omitempty"`

	TriggerLevelID    string             `json:"trigger_level_id,omitempty"`
	TriggerLevelEvent *types.MonitorType `json:"trigger_level_event,omitempty"`
}

// CreateStrategyRequest is the body of POST /api/strategies.
type CreateStrategyRequest struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Levels      []LevelInput `json:"levels"`
}

func validateLevel(in LevelInput) error {
	if _, err := types.ParseOptionSymbol(in.OptionSymbol); err != nil {
		return err
	}
	qty, err := decimal.NewFromString(in.Quantity)
	if err != nil {
		return fmt.Errorf("quantity %q is not a decimal", in.Quantity)
	}
	if qty.Sign() <= 0 {
		return fmt.Errorf("quantity must be > 0")
	}
	if in.OrderType == types.OrderLimit && (in.LimitPrice == nil || *in.LimitPrice <= 0) {
		return fmt.Errorf("limit orders require a positive limit_price")
	}

	switch in.TriggerType {
	case types.TriggerConditional:
		if in.TriggerPrice == nil || *in.TriggerPrice <= 0 {
			return fmt.Errorf("conditional levels require a positive trigger_price")
		}
	case types.TriggerBTCPrice:
		if in.TriggerPrice == nil || *in.TriggerPrice <= 0 {
			return fmt.Errorf("btc_price levels require a positive trigger_price")
		}
		if !supportsSpotTrigger(in.OptionSymbol) {
			return fmt.Errorf("btc_price trigger requires a BTC option, got %s", in.OptionSymbol)
		}
	case types.TriggerLevelClose:
		if in.TriggerLevelID == "" {
			return fmt.Errorf("level_close levels require trigger_level_id")
		}
	case types.TriggerImmediate, types.TriggerExistingPosition:
	default:
		return fmt.Errorf("unknown trigger_type %q", in.TriggerType)
	}

	if in.TakeProfit != nil && *in.TakeProfit <= 0 {
		return fmt.Errorf("take_profit must be > 0")
	}
	if in.StopLoss != nil && *in.StopLoss <= 0 {
		return fmt.Errorf("stop_loss must be > 0")
	}
	return nil
}

func buildLevel(in LevelInput, now time.Time) *types.StrategyLevel {
	id := in.LevelID
	if id == "" {
		id = uuid.NewString()
	}
	return &types.StrategyLevel{
		LevelID:           id,
		OptionSymbol:      types.NormalizeOptionSymbol(in.OptionSymbol),
		Side:              in.Side,
		Quantity:          in.Quantity,
		OrderType:         in.OrderType,
		LimitPrice:        in.LimitPrice,
		TriggerType:       in.TriggerType,
		TriggerPrice:      in.TriggerPrice,
		TakeProfit:        in.TakeProfit,
		StopLoss:          in.StopLoss,
		TriggerLevelID:    in.TriggerLevelID,
		TriggerLevelEvent: in.TriggerLevelEvent,
		Status:            types.LevelPending,
		MonitorTaskIDs:    map[types.MonitorType]string{},
		Executions:        []types.ExecutionRecord{},
		LastUpdate:        now,
	}
}

// ————————————————————————————————————————————————————————————————————————
// CRUD and lifecycle
// ————————————————————————————————————————————————————————————————————————

// List returns all strategies, newest first.
func (s *Service) List() ([]*types.TradingStrategy, error) {
	strategies, err := s.store.LoadStrategies()
	if err != nil {
		return nil, err
	}
	out := make([]*types.TradingStrategy, 0, len(strategies))
	for _, st := range strategies {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Get returns one strategy.
func (s *Service) Get(strategyID string) (*types.TradingStrategy, error) {
	strategy, err := s.store.GetStrategy(strategyID)
	if err != nil {
		return nil, err
	}
	if strategy == nil {
		return nil, ErrNotFound
	}
	return strategy, nil
}

// Create validates, persists and activates a new strategy. Monitors for its
// levels are provisioned before Create returns.
func (s *Service) Create(ctx context.Context, req CreateStrategyRequest) (*types.TradingStrategy, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if len(req.Levels) == 0 {
		return nil, fmt.Errorf("at least one level is required")
	}
	for i, in := range req.Levels {
		if err := validateLevel(in); err != nil {
			return nil, fmt.Errorf("level %d: %w", i, err)
		}
	}

	now := time.Now().UTC()
	strategy := &types.TradingStrategy{
		StrategyID:  uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		Status:      types.StrategyRunning,
		Levels:      make([]*types.StrategyLevel, 0, len(req.Levels)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, in := range req.Levels {
		strategy.Levels = append(strategy.Levels, buildLevel(in, now))
	}
	// Linked levels must name a sibling.
	for _, l := range strategy.Levels {
		if l.TriggerType == types.TriggerLevelClose && strategy.Level(l.TriggerLevelID) == nil {
			return nil, fmt.Errorf("level %s: trigger_level_id %s is not in this strategy", l.LevelID, l.TriggerLevelID)
		}
	}

	if err := s.store.UpsertStrategy(strategy); err != nil {
		return nil, err
	}
	s.logger.Info("strategy created", "strategy_id", strategy.StrategyID, "levels", len(strategy.Levels))
	if err := s.sync(ctx, strategy); err != nil {
		s.logger.Error("initial sync failed", "strategy_id", strategy.StrategyID, "error", err)
	}
	return strategy, nil
}

// UpdateStrategyRequest carries mutable strategy fields. Levels, when
// present, replace the existing set and are only accepted while the strategy
// is paused or stopped.
type UpdateStrategyRequest struct {
	Name        *string      `json:"name,omitempty"`
	Description *string      `json:"description,omitempty"`
	Levels      []LevelInput `json:"levels,omitempty"`
}

// Update edits a strategy's metadata and, while it is not running, its levels.
func (s *Service) Update(ctx context.Context, strategyID string, req UpdateStrategyRequest) (*types.TradingStrategy, error) {
	strategy, err := s.Get(strategyID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		strategy.Name = *req.Name
	}
	if req.Description != nil {
		strategy.Description = *req.Description
	}
	if len(req.Levels) > 0 {
		if strategy.Status == types.StrategyRunning {
			return nil, fmt.Errorf("levels can only be replaced while the strategy is paused or stopped")
		}
		for i, in := range req.Levels {
			if err := validateLevel(in); err != nil {
				return nil, fmt.Errorf("level %d: %w", i, err)
			}
		}
		for _, l := range strategy.Levels {
			s.cancelLevelMonitors(ctx, l)
		}
		now := time.Now().UTC()
		strategy.Levels = strategy.Levels[:0]
		for _, in := range req.Levels {
			strategy.Levels = append(strategy.Levels, buildLevel(in, now))
		}
	}
	strategy.UpdatedAt = time.Now().UTC()
	if err := s.store.UpsertStrategy(strategy); err != nil {
		return nil, err
	}
	return strategy, nil
}

// Delete cancels all of a strategy's monitors and removes it.
func (s *Service) Delete(ctx context.Context, strategyID string) error {
	strategy, err := s.Get(strategyID)
	if err != nil {
		return err
	}
	for _, level := range strategy.Levels {
		s.cancelLevelMonitors(ctx, level)
	}
	found, err := s.store.DeleteStrategy(strategyID)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	s.logger.Info("strategy deleted", "strategy_id", strategyID)
	return nil
}

// Pause cancels active monitors and parks monitoring levels back at pending.
// Execution history is untouched; Resume re-provisions from it.
func (s *Service) Pause(ctx context.Context, strategyID string) (*types.TradingStrategy, error) {
	strategy, err := s.Get(strategyID)
	if err != nil {
		return nil, err
	}
	strategy.Status = types.StrategyPaused
	strategy.UpdatedAt = time.Now().UTC()
	for _, level := range strategy.Levels {
		s.cancelLevelMonitors(ctx, level)
		if level.Status == types.LevelMonitoring {
			level.Status = types.LevelPending
			level.LastUpdate = strategy.UpdatedAt
		}
	}
	if err := s.store.UpsertStrategy(strategy); err != nil {
		return nil, err
	}
	s.logger.Info("strategy paused", "strategy_id", strategyID)
	return strategy, nil
}

// Resume sets the strategy running and re-provisions its monitors. Task ids
// are deterministic, so a resume lands on the same ids a pause removed.
func (s *Service) Resume(ctx context.Context, strategyID string) (*types.TradingStrategy, error) {
	strategy, err := s.Get(strategyID)
	if err != nil {
		return nil, err
	}
	strategy.Status = types.StrategyRunning
	strategy.UpdatedAt = time.Now().UTC()
	if err := s.store.UpsertStrategy(strategy); err != nil {
		return nil, err
	}
	if err := s.sync(ctx, strategy); err != nil {
		s.logger.Error("resume sync failed", "strategy_id", strategyID, "error", err)
	}
	s.logger.Info("strategy resumed", "strategy_id", strategyID)
	return strategy, nil
}

// Stop cancels all monitors and moves every non-terminal level, waiting ones
// included, to cancelled. A stopped strategy never executes again.
func (s *Service) Stop(ctx context.Context, strategyID string) (*types.TradingStrategy, error) {
	strategy, err := s.Get(strategyID)
	if err != nil {
		return nil, err
	}
	strategy.Status = types.StrategyStopped
	strategy.UpdatedAt = time.Now().UTC()
	for _, level := range strategy.Levels {
		s.cancelLevelMonitors(ctx, level)
		if !level.Status.Terminal() {
			level.Status = types.LevelCancelled
			level.LastUpdate = strategy.UpdatedAt
		}
	}
	if err := s.store.UpsertStrategy(strategy); err != nil {
		return nil, err
	}
	s.logger.Info("strategy stopped", "strategy_id", strategyID)
	return strategy, nil
}

// SyncAll re-provisions monitors for every running strategy. Called once at
// startup so a restart recreates whatever the monitor lost.
func (s *Service) SyncAll(ctx context.Context) error {
	strategies, err := s.store.LoadStrategies()
	if err != nil {
		return err
	}
	for _, strategy := range strategies {
		if strategy.Status != types.StrategyRunning {
			continue
		}
		if err := s.sync(ctx, strategy); err != nil {
			s.logger.Error("startup sync failed", "strategy_id", strategy.StrategyID, "error", err)
		}
	}
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Monitor provisioning
// ————————————————————————————————————————————————————————————————————————

// sync reconciles every level of a running strategy against the monitor:
// existing tasks are cancelled and recreated under the same deterministic
// ids, immediate levels are queued for execution, linked levels are parked
// waiting.
func (s *Service) sync(ctx context.Context, strategy *types.TradingStrategy) error {
	if strategy.Status != types.StrategyRunning {
		return nil
	}
	now := time.Now().UTC()

	for _, level := range strategy.Levels {
		if level.Status.Terminal() || level.Status == types.LevelExecuting {
			continue
		}
		entryExecuted := level.EntryExecuted()
		specs := BuildMonitorSpecs(level, entryExecuted)

		queueEntry := false
		switch {
		case level.TriggerType == types.TriggerImmediate && !entryExecuted:
			// Queue once: a level already moved to monitoring has its entry
			// in flight, and the executor skips duplicates anyway.
			if level.Status == types.LevelPending {
				level.Status = types.LevelMonitoring
				queueEntry = true
			}
		case level.TriggerType == types.TriggerLevelClose && !entryExecuted:
			if level.Status == types.LevelPending {
				level.Status = types.LevelWaiting
			}
		case level.TriggerType == types.TriggerExistingPosition:
			// An existing position is monitored even with no exit targets yet.
			level.Status = types.LevelMonitoring
		default:
			if len(specs) > 0 {
				level.Status = types.LevelMonitoring
			}
		}

		if level.TriggerType == types.TriggerLevelClose {
			// A linked level keeps whatever exit tasks it already has; only
			// gaps are filled.
			specs = missingSpecs(level, specs)
		} else if len(specs) > 0 {
			s.cancelLevelMonitors(ctx, level)
		}
		if len(specs) > 0 {
			if err := s.provisionMonitors(ctx, strategy, level, specs); err != nil {
				s.logger.Error("monitor sync failed",
					"strategy_id", strategy.StrategyID, "level_id", level.LevelID, "error", err)
			}
		}

		level.LastUpdate = now
		if err := s.store.UpdateLevel(strategy.StrategyID, level); err != nil {
			return err
		}
		if queueEntry {
			if err := s.executor.Enqueue(entryTask(strategy.StrategyID, level, "immediate")); err != nil {
				s.logger.Error("immediate entry rejected", "level_id", level.LevelID, "error", err)
			}
		}
	}
	return nil
}

// entryTask builds the execution task for an entry that fires without a
// price trigger. Limit levels seed the record prices from their limit price.
func entryTask(strategyID string, level *types.StrategyLevel, direction string) ExecutionTask {
	task := ExecutionTask{
		StrategyID:  strategyID,
		LevelID:     level.LevelID,
		MonitorType: types.MonitorEntry,
		Direction:   direction,
	}
	if level.LimitPrice != nil {
		task.TargetPrice = *level.LimitPrice
		task.TriggeredPrice = *level.LimitPrice
	}
	return task
}

// levelTaskTimeoutHours is the lifetime requested for level monitor tasks:
// the monitor's week-long cap rather than its 24h default, since levels may
// legitimately wait days for their price.
const levelTaskTimeoutHours = 168

// provisionMonitors creates the given monitor tasks and records their ids on
// the level. The level is not persisted here; callers save it.
func (s *Service) provisionMonitors(ctx context.Context, strategy *types.TradingStrategy, level *types.StrategyLevel, specs []MonitorSpec) error {
	for _, spec := range specs {
		taskID := types.LevelTaskID(strategy.StrategyID, level.LevelID, spec.MonitorType)
		// Recreate under the same id; the monitor treats delete as idempotent.
		if err := s.monitor.DeleteTask(ctx, taskID); err != nil {
			s.logger.Warn("pre-create delete failed", "task_id", taskID, "error", err)
		}
		req := types.CreateMonitorRequest{
			TaskID:            taskID,
			OptionSymbol:      level.OptionSymbol,
			TargetPrice:       spec.TargetPrice,
			WebhookURL:        s.webhookURL(),
			TimeoutHours:      levelTaskTimeoutHours,
			StrategyID:        strategy.StrategyID,
			LevelID:           level.LevelID,
			MonitorType:       spec.MonitorType,
			MonitorInstrument: spec.Instrument,
			MonitorSymbol:     spec.MonitorSymbol,
			Metadata:          spec.Metadata,
		}
		if err := s.monitor.CreateTask(ctx, req); err != nil {
			return fmt.Errorf("provision %s monitor for level %s: %w", spec.MonitorType, level.LevelID, err)
		}
		if level.MonitorTaskIDs == nil {
			level.MonitorTaskIDs = map[types.MonitorType]string{}
		}
		level.MonitorTaskIDs[spec.MonitorType] = taskID
	}
	return nil
}

// cancelLevelMonitors deletes every monitor task a level holds and clears
// the id map. Best effort: a failed delete is logged and the id dropped.
func (s *Service) cancelLevelMonitors(ctx context.Context, level *types.StrategyLevel) {
	for mt, taskID := range level.MonitorTaskIDs {
		if err := s.monitor.DeleteTask(ctx, taskID); err != nil {
			s.logger.Warn("monitor cancel failed", "task_id", taskID, "error", err)
		}
		delete(level.MonitorTaskIDs, mt)
	}
}

// ————————————————————————————————————————————————————————————————————————
// Webhooks and execution
// ————————————————————————————————————————————————————————————————————————

// HandleWebhook turns a monitor trigger into a queued execution. Unknown
// strategy or level ids are ErrNotFound; triggers for strategies that are
// not running, or levels already past the point of acting, are ignored.
func (s *Service) HandleWebhook(payload types.WebhookPayload) error {
	strategy, err := s.Get(payload.StrategyID)
	if err != nil {
		return err
	}
	level := strategy.Level(payload.LevelID)
	if level == nil {
		return ErrNotFound
	}
	if strategy.Status != types.StrategyRunning {
		s.logger.Info("ignoring trigger for non-running strategy",
			"strategy_id", payload.StrategyID, "status", strategy.Status)
		return nil
	}
	if level.Status.Terminal() || level.Status == types.LevelExecuting {
		s.logger.Info("ignoring trigger for settled level",
			"level_id", payload.LevelID, "status", level.Status)
		return nil
	}

	return s.executor.Enqueue(ExecutionTask{
		StrategyID:     payload.StrategyID,
		LevelID:        payload.LevelID,
		MonitorType:    payload.MonitorType,
		TargetPrice:    payload.TargetPrice,
		TriggeredPrice: payload.TriggeredPrice,
		Direction:      string(payload.TriggerDirection),
	})
}

// executeLevel is the executor's worker body. It reloads the level, guards
// eligibility, places the order, records the attempt and drives the level's
// next state. Skipped results record nothing, which is what makes duplicate
// queued triggers harmless.
func (s *Service) executeLevel(ctx context.Context, task ExecutionTask) (ExecutionResult, error) {
	strategy, err := s.Get(task.StrategyID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ExecutionResult{Skipped: true, Message: "strategy gone"}, nil
		}
		return ExecutionResult{}, err
	}
	level := strategy.Level(task.LevelID)
	if level == nil {
		return ExecutionResult{Skipped: true, Message: "level gone"}, nil
	}
	// No strategy-status guard here: pausing gates new triggers at the
	// webhook, while executions already queued still dispatch.
	if level.Status.Terminal() || level.Status == types.LevelExecuting {
		return ExecutionResult{Skipped: true, Message: fmt.Sprintf("level %s", level.Status)}, nil
	}
	if task.MonitorType == types.MonitorEntry && level.EntryExecuted() {
		return ExecutionResult{Skipped: true, Message: "entry already executed"}, nil
	}

	now := time.Now().UTC()
	level.Status = types.LevelExecuting
	level.LastUpdate = now
	if err := s.store.UpdateLevel(strategy.StrategyID, level); err != nil {
		return ExecutionResult{}, err
	}

	side := level.Side
	if task.MonitorType != types.MonitorEntry {
		side = level.Side.Opposite()
	}
	var price string
	if level.OrderType == types.OrderLimit && level.LimitPrice != nil {
		price = decimal.NewFromFloat(*level.LimitPrice).String()
	}

	resp, orderErr := s.venue.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:    level.OptionSymbol,
		Side:      side,
		OrderType: level.OrderType,
		Qty:       level.Quantity,
		Price:     price,
	})

	result := ExecutionResult{}
	switch {
	case orderErr != nil:
		result.Message = orderErr.Error()
	case !resp.Accepted():
		result.Message = fmt.Sprintf("rejected by venue: ret_code %d: %s", resp.RetCode, resp.RetMsg)
	default:
		result.Success = true
		result.Message = "order accepted"
		result.OrderID = resp.Result.OrderID
		result.OrderLinkID = resp.Result.OrderLinkID
	}

	record := types.ExecutionRecord{
		ExecutionID:      uuid.NewString(),
		MonitorType:      task.MonitorType,
		TriggeredPrice:   task.TriggeredPrice,
		TargetPrice:      task.TargetPrice,
		TriggerDirection: task.Direction,
		Side:             side,
		Quantity:         level.Quantity,
		OrderType:        level.OrderType,
		OrderPrice:       price,
		Success:          result.Success,
		Message:          result.Message,
		OrderID:          result.OrderID,
		OrderLinkID:      result.OrderLinkID,
		CreatedAt:        time.Now().UTC(),
	}
	level.Executions = append(level.Executions, record)
	delete(level.MonitorTaskIDs, task.MonitorType)

	s.settleLevel(ctx, strategy, level, task.MonitorType, result.Success)

	level.LastUpdate = time.Now().UTC()
	if err := s.store.UpdateLevel(strategy.StrategyID, level); err != nil {
		return result, err
	}
	if err := s.store.AppendTrade(types.TradeRecord{
		StrategyID:   strategy.StrategyID,
		LevelID:      level.LevelID,
		MonitorType:  task.MonitorType,
		OptionSymbol: level.OptionSymbol,
		Side:         side,
		Quantity:     level.Quantity,
		OrderType:    level.OrderType,
		TriggerPrice: task.TriggeredPrice,
		TargetPrice:  task.TargetPrice,
		Success:      result.Success,
		Message:      result.Message,
		OrderID:      result.OrderID,
		OrderLinkID:  result.OrderLinkID,
		CreatedAt:    record.CreatedAt,
	}); err != nil {
		s.logger.Error("trade log append failed", "level_id", level.LevelID, "error", err)
	}
	return result, nil
}

// settleLevel applies the post-execution transition for a level.
func (s *Service) settleLevel(ctx context.Context, strategy *types.TradingStrategy, level *types.StrategyLevel, mt types.MonitorType, success bool) {
	if !success {
		level.Status = types.LevelFailed
		s.cancelLevelMonitors(ctx, level)
		return
	}

	if mt == types.MonitorEntry {
		if level.TakeProfit == nil && level.StopLoss == nil {
			// Nothing watches the position; the level is done at entry.
			level.Status = types.LevelCompleted
			s.cancelLevelMonitors(ctx, level)
			return
		}
		// Exit monitors usually exist already from sync; top up the gaps
		// without disturbing live tasks.
		level.Status = types.LevelMonitoring
		if specs := missingSpecs(level, BuildMonitorSpecs(level, true)); len(specs) > 0 {
			if err := s.provisionMonitors(ctx, strategy, level, specs); err != nil {
				s.logger.Error("post-entry monitor provisioning failed", "level_id", level.LevelID, "error", err)
			}
		}
		return
	}

	// A take-profit or stop-loss closed the position.
	level.Status = types.LevelCompleted
	s.cancelLevelMonitors(ctx, level)
	s.triggerLinkedLevels(strategy, level.LevelID, mt)
}

// triggerLinkedLevels queues entries for levels chained on the closed one.
// A nil trigger_level_event matches either closing event.
func (s *Service) triggerLinkedLevels(strategy *types.TradingStrategy, closedLevelID string, event types.MonitorType) {
	for _, level := range strategy.Levels {
		if level.TriggerType != types.TriggerLevelClose || level.TriggerLevelID != closedLevelID {
			continue
		}
		if level.TriggerLevelEvent != nil && *level.TriggerLevelEvent != event {
			continue
		}
		if level.Status != types.LevelPending && level.Status != types.LevelWaiting {
			continue
		}

		level.Status = types.LevelMonitoring
		level.LastUpdate = time.Now().UTC()
		if err := s.store.UpdateLevel(strategy.StrategyID, level); err != nil {
			s.logger.Error("linked level update failed", "level_id", level.LevelID, "error", err)
			continue
		}
		if err := s.executor.Enqueue(entryTask(strategy.StrategyID, level, strings.ToLower(string(event)))); err != nil {
			s.logger.Error("linked entry rejected", "level_id", level.LevelID, "error", err)
		} else {
			s.logger.Info("linked level queued",
				"level_id", level.LevelID, "parent", closedLevelID, "event", event)
		}
	}
}

// Trades returns the newest trade-log entries.
func (s *Service) Trades(limit int) ([]types.TradeRecord, error) {
	return s.store.LoadTrades(limit)
}

// QueueDepth returns the number of executions waiting in the queue.
func (s *Service) QueueDepth() int { return s.executor.Pending() }
