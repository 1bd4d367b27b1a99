package strategy

import (
	"testing"

	"optionflow/pkg/types"
)

func TestBuildMonitorSpecs(t *testing.T) {
	t.Parallel()

	trigger := 0.05
	tp := 0.12
	sl := 0.02

	level := func(tt types.TriggerType) *types.StrategyLevel {
		return &types.StrategyLevel{
			LevelID:      "l1",
			OptionSymbol: "BTC-27DEC25-100000-C-USDT",
			TriggerType:  tt,
			TriggerPrice: &trigger,
			TakeProfit:   &tp,
			StopLoss:     &sl,
		}
	}

	tests := []struct {
		name          string
		level         *types.StrategyLevel
		entryExecuted bool
		want          []types.MonitorType
		wantSpot      bool
	}{
		{"conditional before entry", level(types.TriggerConditional), false, []types.MonitorType{types.MonitorEntry, types.MonitorTakeProfit, types.MonitorStopLoss}, false},
		{"conditional after entry", level(types.TriggerConditional), true, []types.MonitorType{types.MonitorTakeProfit, types.MonitorStopLoss}, false},
		{"btc_price before entry", level(types.TriggerBTCPrice), false, []types.MonitorType{types.MonitorEntry, types.MonitorTakeProfit, types.MonitorStopLoss}, true},
		{"immediate before entry", level(types.TriggerImmediate), false, []types.MonitorType{types.MonitorTakeProfit, types.MonitorStopLoss}, false},
		{"immediate after entry", level(types.TriggerImmediate), true, []types.MonitorType{types.MonitorTakeProfit, types.MonitorStopLoss}, false},
		{"existing position", level(types.TriggerExistingPosition), false, []types.MonitorType{types.MonitorTakeProfit, types.MonitorStopLoss}, false},
		{"level_close before parent fires", level(types.TriggerLevelClose), false, nil, false},
		{"level_close after entry", level(types.TriggerLevelClose), true, []types.MonitorType{types.MonitorTakeProfit, types.MonitorStopLoss}, false},
	}

	for _, tt := range tests {
		specs := BuildMonitorSpecs(tt.level, tt.entryExecuted)
		if len(specs) != len(tt.want) {
			t.Errorf("%s: got %d specs, want %d (%+v)", tt.name, len(specs), len(tt.want), specs)
			continue
		}
		for i, spec := range specs {
			if spec.MonitorType != tt.want[i] {
				t.Errorf("%s: spec %d type = %s, want %s", tt.name, i, spec.MonitorType, tt.want[i])
			}
			if spec.MonitorType == types.MonitorEntry && tt.wantSpot {
				if spec.Instrument != types.InstrumentSpot || spec.MonitorSymbol != "BTCUSDT" {
					t.Errorf("%s: entry spec = %+v, want BTCUSDT spot", tt.name, spec)
				}
			}
			if spec.MonitorType == types.MonitorTakeProfit && spec.TargetPrice != tp {
				t.Errorf("%s: take profit target = %v, want %v", tt.name, spec.TargetPrice, tp)
			}
		}
	}
}

func TestBuildMonitorSpecsWithoutTargets(t *testing.T) {
	t.Parallel()

	level := &types.StrategyLevel{
		LevelID:      "l1",
		OptionSymbol: "BTC-27DEC25-100000-C-USDT",
		TriggerType:  types.TriggerImmediate,
	}
	if specs := BuildMonitorSpecs(level, true); len(specs) != 0 {
		t.Errorf("level without tp/sl got specs: %+v", specs)
	}
}

func TestMissingSpecsSkipsLiveTasks(t *testing.T) {
	t.Parallel()

	tp := 0.12
	sl := 0.02
	level := &types.StrategyLevel{
		LevelID:      "l1",
		OptionSymbol: "BTC-27DEC25-100000-C-USDT",
		TriggerType:  types.TriggerConditional,
		TakeProfit:   &tp,
		StopLoss:     &sl,
		MonitorTaskIDs: map[types.MonitorType]string{
			types.MonitorTakeProfit: "strategy-s1-l1-take_profit",
		},
	}

	got := missingSpecs(level, BuildMonitorSpecs(level, true))
	if len(got) != 1 || got[0].MonitorType != types.MonitorStopLoss {
		t.Errorf("missing specs = %+v, want just the stop loss", got)
	}
}

func TestSupportsSpotTrigger(t *testing.T) {
	t.Parallel()

	if !supportsSpotTrigger("BTC-27DEC25-100000-C") {
		t.Error("BTC option should support the spot trigger")
	}
	if !supportsSpotTrigger("btc-27dec25-100000-c") {
		t.Error("case must not matter")
	}
	if supportsSpotTrigger("ETH-27DEC25-4000-C") {
		t.Error("ETH option must not support the spot trigger")
	}
}
