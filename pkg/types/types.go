// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the system — monitor tasks,
// strategies and their levels, trade records, and the webhook payload that
// links the price monitor to the strategy engine. It has no dependencies on
// internal packages, so it can be imported by any layer.
package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————
// All enums are closed: decoding an unknown variant is an error rather than
// a silent passthrough. Map keys (monitor_task_ids) bypass UnmarshalJSON by
// the rules of encoding/json; writers only ever produce known keys.

// TaskStatus is the lifecycle state of a monitor task. Transitions are
// monotone: active may move to triggered, expired or cancelled, and a task
// never leaves a terminal state.
type TaskStatus string

const (
	TaskActive    TaskStatus = "active"
	TaskTriggered TaskStatus = "triggered"
	TaskExpired   TaskStatus = "expired"
	TaskCancelled TaskStatus = "cancelled"
)

func (s *TaskStatus) UnmarshalJSON(data []byte) error {
	v, err := enumFromJSON(data, "task status",
		string(TaskActive), string(TaskTriggered), string(TaskExpired), string(TaskCancelled))
	*s = TaskStatus(v)
	return err
}

// InstrumentType says what kind of venue symbol a monitor task watches.
type InstrumentType string

const (
	InstrumentOption InstrumentType = "option"
	InstrumentSpot   InstrumentType = "spot"
)

func (i *InstrumentType) UnmarshalJSON(data []byte) error {
	v, err := enumFromJSON(data, "monitor instrument",
		string(InstrumentOption), string(InstrumentSpot))
	*i = InstrumentType(v)
	return err
}

// MonitorType identifies the role a monitor task plays for a level.
type MonitorType string

const (
	MonitorEntry      MonitorType = "ENTRY"
	MonitorTakeProfit MonitorType = "TAKE_PROFIT"
	MonitorStopLoss   MonitorType = "STOP_LOSS"
)

func (m *MonitorType) UnmarshalJSON(data []byte) error {
	v, err := enumFromJSON(data, "monitor type",
		string(MonitorEntry), string(MonitorTakeProfit), string(MonitorStopLoss))
	*m = MonitorType(v)
	return err
}

// TriggerType selects the entry semantics of a level.
type TriggerType string

const (
	TriggerImmediate        TriggerType = "immediate"
	TriggerConditional      TriggerType = "conditional"
	TriggerBTCPrice         TriggerType = "btc_price"
	TriggerExistingPosition TriggerType = "existing_position"
	TriggerLevelClose       TriggerType = "level_close"
)

func (t *TriggerType) UnmarshalJSON(data []byte) error {
	v, err := enumFromJSON(data, "trigger type",
		string(TriggerImmediate), string(TriggerConditional), string(TriggerBTCPrice),
		string(TriggerExistingPosition), string(TriggerLevelClose))
	*t = TriggerType(v)
	return err
}

// LevelStatus is the lifecycle state of a strategy level. completed, failed
// and cancelled are terminal.
type LevelStatus string

const (
	LevelPending    LevelStatus = "pending"
	LevelWaiting    LevelStatus = "waiting" // waiting for a linked level to close
	LevelMonitoring LevelStatus = "monitoring"
	LevelExecuting  LevelStatus = "executing"
	LevelCompleted  LevelStatus = "completed"
	LevelFailed     LevelStatus = "failed"
	LevelCancelled  LevelStatus = "cancelled"
)

func (s *LevelStatus) UnmarshalJSON(data []byte) error {
	v, err := enumFromJSON(data, "level status",
		string(LevelPending), string(LevelWaiting), string(LevelMonitoring), string(LevelExecuting),
		string(LevelCompleted), string(LevelFailed), string(LevelCancelled))
	*s = LevelStatus(v)
	return err
}

// Terminal reports whether the status can never change again.
func (s LevelStatus) Terminal() bool {
	return s == LevelCompleted || s == LevelFailed || s == LevelCancelled
}

// StrategyStatus is the lifecycle state of a whole strategy.
type StrategyStatus string

const (
	StrategyRunning StrategyStatus = "running"
	StrategyPaused  StrategyStatus = "paused"
	StrategyStopped StrategyStatus = "stopped"
)

func (s *StrategyStatus) UnmarshalJSON(data []byte) error {
	v, err := enumFromJSON(data, "strategy status",
		string(StrategyRunning), string(StrategyPaused), string(StrategyStopped))
	*s = StrategyStatus(v)
	return err
}

// Side is the direction of a level's entry order, lowercase on the wire.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func (s *Side) UnmarshalJSON(data []byte) error {
	v, err := enumFromJSON(data, "side", string(SideBuy), string(SideSell))
	*s = Side(v)
	return err
}

// Opposite returns the closing side for take-profit and stop-loss orders.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Venue returns the capitalized form the venue's order API expects.
func (s Side) Venue() string {
	if s == SideBuy {
		return "Buy"
	}
	return "Sell"
}

// OrderType is the venue order type.
type OrderType string

const (
	OrderMarket OrderType = "Market"
	OrderLimit  OrderType = "Limit"
)

func (o *OrderType) UnmarshalJSON(data []byte) error {
	v, err := enumFromJSON(data, "order type", string(OrderMarket), string(OrderLimit))
	*o = OrderType(v)
	return err
}

// Direction is how price traversed a target between two observations.
type Direction string

const (
	UpCross   Direction = "up_cross"
	DownCross Direction = "down_cross"
)

func enumFromJSON(data []byte, kind string, allowed ...string) (string, error) {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return "", fmt.Errorf("decode %s: %w", kind, err)
	}
	for _, a := range allowed {
		if s == a {
			return s, nil
		}
	}
	return "", fmt.Errorf("invalid %s %q", kind, s)
}

// ————————————————————————————————————————————————————————————————————————
// Option symbols
// ————————————————————————————————————————————————————————————————————————

// OptionInfo is the parsed form of a venue option symbol. It is stored on
// every monitor task — including spot-watching ones — to describe the parent
// option the trigger ultimately trades.
type OptionInfo struct {
	Symbol      string  `json:"symbol"`       // e.g. BTC-27DEC25-100000-C
	BaseCoin    string  `json:"base_coin"`    // BTC or ETH
	StrikePrice float64 `json:"strike_price"` // e.g. 100000
	ExpiryDate  string  `json:"expiry_date"`  // e.g. 27DEC25
	OptionType  string  `json:"option_type"`  // Call or Put
}

// ParseOptionSymbol validates and decomposes a venue option symbol of the
// form BASE-EXPIRY-STRIKE-TYPE, optionally suffixed with the settlement coin
// (BASE-EXPIRY-STRIKE-TYPE-USDT).
func ParseOptionSymbol(symbol string) (OptionInfo, error) {
	parts := strings.Split(symbol, "-")
	if len(parts) != 4 && len(parts) != 5 {
		return OptionInfo{}, fmt.Errorf("option symbol %q: want BASE-EXPIRY-STRIKE-TYPE or BASE-EXPIRY-STRIKE-TYPE-USDT", symbol)
	}
	base := parts[0]
	if base != "BTC" && base != "ETH" {
		return OptionInfo{}, fmt.Errorf("option symbol %q: base coin must be BTC or ETH", symbol)
	}
	strike, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return OptionInfo{}, fmt.Errorf("option symbol %q: strike %q is not a number", symbol, parts[2])
	}
	var optType string
	switch parts[3] {
	case "C", "Call":
		optType = "Call"
	case "P", "Put":
		optType = "Put"
	default:
		return OptionInfo{}, fmt.Errorf("option symbol %q: type must be C, P, Call or Put", symbol)
	}
	if len(parts) == 5 && parts[4] != "USDT" {
		return OptionInfo{}, fmt.Errorf("option symbol %q: only USDT settlement is supported", symbol)
	}
	return OptionInfo{
		Symbol:      symbol,
		BaseCoin:    base,
		StrikePrice: strike,
		ExpiryDate:  parts[1],
		OptionType:  optType,
	}, nil
}

// NormalizeOptionSymbol upcases the symbol and appends the -USDT settlement
// suffix when no settlement coin is present. The venue's order API only
// accepts the suffixed form.
func NormalizeOptionSymbol(symbol string) string {
	if symbol == "" {
		return symbol
	}
	upper := strings.ToUpper(symbol)
	if strings.HasSuffix(upper, "-USDT") || strings.HasSuffix(upper, "-USD") || strings.HasSuffix(upper, "-USDC") {
		return upper
	}
	return upper + "-USDT"
}

// LevelTaskID builds the deterministic monitor task id for a level's monitor
// role. Determinism makes re-provisioning after pause/resume idempotent.
func LevelTaskID(strategyID, levelID string, mt MonitorType) string {
	return strings.ToLower(fmt.Sprintf("strategy-%s-%s-%s", strategyID, levelID, mt))
}

// ————————————————————————————————————————————————————————————————————————
// Monitor tasks
// ————————————————————————————————————————————————————————————————————————

// MonitorTask is one (symbol, target price) watch with a webhook sink.
// CurrentPrice/PreviousPrice form the two-point window cross detection runs
// over; both are nil until prices have been observed.
type MonitorTask struct {
	TaskID            string         `json:"task_id"`
	OptionInfo        OptionInfo     `json:"option_info"`
	MonitorSymbol     string         `json:"monitor_symbol"`
	MonitorInstrument InstrumentType `json:"monitor_instrument"`
	TargetPrice       float64        `json:"target_price"`
	WebhookURL        string         `json:"webhook_url"`
	Status            TaskStatus     `json:"status"`
	CreatedAt         time.Time      `json:"created_at"`
	ExpiresAt         time.Time      `json:"expires_at"`
	CurrentPrice      *float64       `json:"current_price"`
	PreviousPrice     *float64       `json:"previous_price"`
	TriggeredAt       *time.Time     `json:"triggered_at,omitempty"`

	// Attribution back to the strategy engine.
	StrategyID  string         `json:"strategy_id,omitempty"`
	LevelID     string         `json:"level_id,omitempty"`
	MonitorType MonitorType    `json:"monitor_type,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// TaskSnapshot is the on-disk image of currently-active monitor tasks,
// rewritten after every transition and read by the listing endpoint.
type TaskSnapshot struct {
	UpdatedAt time.Time     `json:"updated_at"`
	Tasks     []MonitorTask `json:"tasks"`
}

// PriceUpdate is one observed price for a monitored symbol, delivered by the
// streaming subscriber (options) or the spot poller.
type PriceUpdate struct {
	Symbol     string
	Instrument InstrumentType
	Price      float64
	Timestamp  time.Time
}

// CreateMonitorRequest is the body of POST /api/monitor/create. The strategy
// engine's monitor client sends the same shape.
type CreateMonitorRequest struct {
	TaskID            string         `json:"task_id"`
	OptionSymbol      string         `json:"option_symbol"`
	TargetPrice       float64        `json:"target_price"`
	WebhookURL        string         `json:"webhook_url"`
	TimeoutHours      int            `json:"timeout_hours,omitempty"` // 1..168, default 24
	StrategyID        string         `json:"strategy_id"`
	LevelID           string         `json:"level_id"`
	MonitorType       MonitorType    `json:"monitor_type"`
	MonitorInstrument InstrumentType `json:"monitor_instrument,omitempty"` // default option
	MonitorSymbol     string         `json:"monitor_symbol,omitempty"`     // required for spot
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// WebhookPayload is what the monitor POSTs to the strategy engine when a
// task triggers.
type WebhookPayload struct {
	TaskID            string         `json:"task_id"`
	OptionSymbol      string         `json:"option_symbol"`
	MonitorSymbol     string         `json:"monitor_symbol"`
	MonitorInstrument InstrumentType `json:"monitor_instrument"`
	TargetPrice       float64        `json:"target_price"`
	TriggeredPrice    float64        `json:"triggered_price"`
	PreviousPrice     float64        `json:"previous_price"`
	TriggerDirection  Direction      `json:"trigger_direction"`
	TriggeredAt       string         `json:"triggered_at"` // ISO-8601
	StrategyID        string         `json:"strategy_id"`
	LevelID           string         `json:"level_id"`
	MonitorType       MonitorType    `json:"monitor_type"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// ————————————————————————————————————————————————————————————————————————
// Strategies
// ————————————————————————————————————————————————————————————————————————

// ExecutionRecord is one order attempt for a level, successful or not.
// The executions list on a level is append-only and chronological.
type ExecutionRecord struct {
	ExecutionID      string      `json:"execution_id"`
	MonitorType      MonitorType `json:"monitor_type"`
	TriggeredPrice   float64     `json:"triggered_price"`
	TargetPrice      float64     `json:"target_price"`
	TriggerDirection string      `json:"trigger_direction"`
	Side             Side        `json:"side"`
	Quantity         string      `json:"quantity"`
	OrderType        OrderType   `json:"order_type"`
	OrderPrice       string      `json:"order_price,omitempty"`
	Success          bool        `json:"success"`
	Message          string      `json:"message"`
	OrderID          string      `json:"order_id,omitempty"`
	OrderLinkID      string      `json:"order_link_id,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
}

// StrategyLevel is one unit of trading intent inside a strategy: an option
// position with entry, take-profit and stop-loss triggers.
type StrategyLevel struct {
	LevelID      string    `json:"level_id"`
	OptionSymbol string    `json:"option_symbol"`
	Side         Side      `json:"side"`
	Quantity     string    `json:"quantity"` // decimal string
	OrderType    OrderType `json:"order_type"`
	LimitPrice   *float64  `json:"limit_price,omitempty"`

	TriggerType  TriggerType `json:"trigger_type"`
	TriggerPrice *float64    `json:"trigger_price,omitempty"`
	TakeProfit   *float64    `json:"take_profit,omitempty"`
	StopLoss     *float64    `json:"stop_loss,omitempty"`

	// level_close chaining: entry fires when the named level completes the
	// named monitor event (nil event matches either TP or SL).
	TriggerLevelID    string       `json:"trigger_level_id,omitempty"`
	TriggerLevelEvent *MonitorType `json:"trigger_level_event,omitempty"`

	Status         LevelStatus            `json:"status"`
	MonitorTaskIDs map[MonitorType]string `json:"monitor_task_ids"`
	Executions     []ExecutionRecord      `json:"executions"`
	LastUpdate     time.Time              `json:"last_update"`
}

// EntryExecuted reports whether a successful ENTRY order has ever been
// recorded for this level.
func (l *StrategyLevel) EntryExecuted() bool {
	for _, e := range l.Executions {
		if e.MonitorType == MonitorEntry && e.Success {
			return true
		}
	}
	return false
}

// TradingStrategy owns an ordered list of levels. Deleting a strategy
// cascades monitor cancellation for all of them.
type TradingStrategy struct {
	StrategyID  string           `json:"strategy_id"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Status      StrategyStatus   `json:"status"`
	Levels      []*StrategyLevel `json:"levels"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Level returns the level with the given id, or nil.
func (s *TradingStrategy) Level(levelID string) *StrategyLevel {
	for _, l := range s.Levels {
		if l.LevelID == levelID {
			return l
		}
	}
	return nil
}

// TradeRecord is one immutable trade-log entry, written after every
// execution attempt.
type TradeRecord struct {
	StrategyID   string      `json:"strategy_id"`
	LevelID      string      `json:"level_id"`
	MonitorType  MonitorType `json:"monitor_type"`
	OptionSymbol string      `json:"option_symbol"`
	Side         Side        `json:"side"`
	Quantity     string      `json:"quantity"`
	OrderType    OrderType   `json:"order_type"`
	TriggerPrice float64     `json:"trigger_price"`
	TargetPrice  float64     `json:"target_price"`
	Success      bool        `json:"success"`
	Message      string      `json:"message"`
	OrderID      string      `json:"order_id,omitempty"`
	OrderLinkID  string      `json:"order_link_id,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// ————————————————————————————————————————————————————————————————————————
// Settings and watchlist
// ————————————————————————————————————————————————————————————————————————

// Settings are the mutable application settings persisted to settings.json.
type Settings struct {
	APIKey              string `json:"api_key"`
	APISecret           string `json:"api_secret"`
	Testnet             bool   `json:"is_testnet"`
	PriceMonitorBase    string `json:"price_monitor_base"`
	StrategyWebhookBase string `json:"strategy_webhook_base"`
}

// WatchlistItem is one saved instrument on the user's watchlist.
type WatchlistItem struct {
	Symbol  string    `json:"symbol"`
	Label   string    `json:"label,omitempty"`
	AddedAt time.Time `json:"added_at"`
}
