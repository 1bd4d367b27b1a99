// monitors.go decides which monitor tasks a level needs. The decision is a
// pure function of the level and whether its entry already executed, so the
// same rules drive initial provisioning, resume, and post-entry transitions.
package strategy

import (
	"strings"

	"optionflow/pkg/types"
)

// spotUnderlying is the only spot symbol the monitor accepts.
const spotUnderlying = "BTCUSDT"

// MonitorSpec describes one monitor task a level needs.
type MonitorSpec struct {
	MonitorType   types.MonitorType
	TargetPrice   float64
	Instrument    types.InstrumentType
	MonitorSymbol string         // set for spot watches only
	Metadata      map[string]any // echoed back in the trigger webhook
}

// BuildMonitorSpecs returns the monitor tasks a level needs right now.
//
// Entry monitors exist only for price-conditional triggers and only until
// the entry executes. Take-profit and stop-loss monitors go up front for
// every trigger type except level_close, whose monitors only appear once the
// parent has fired its entry.
func BuildMonitorSpecs(level *types.StrategyLevel, entryExecuted bool) []MonitorSpec {
	if level.TriggerType == types.TriggerLevelClose && !entryExecuted {
		return nil
	}

	var specs []MonitorSpec
	if !entryExecuted && level.TriggerPrice != nil {
		switch level.TriggerType {
		case types.TriggerConditional:
			specs = append(specs, MonitorSpec{
				MonitorType: types.MonitorEntry,
				TargetPrice: *level.TriggerPrice,
				Instrument:  types.InstrumentOption,
				Metadata: map[string]any{
					"side":     level.Side,
					"quantity": level.Quantity,
				},
			})
		case types.TriggerBTCPrice:
			specs = append(specs, MonitorSpec{
				MonitorType:   types.MonitorEntry,
				TargetPrice:   *level.TriggerPrice,
				Instrument:    types.InstrumentSpot,
				MonitorSymbol: spotUnderlying,
				Metadata: map[string]any{
					"side":          level.Side,
					"quantity":      level.Quantity,
					"trigger_basis": "btc_spot",
				},
			})
		}
	}

	if level.TakeProfit != nil {
		specs = append(specs, MonitorSpec{
			MonitorType: types.MonitorTakeProfit,
			TargetPrice: *level.TakeProfit,
			Instrument:  types.InstrumentOption,
		})
	}
	if level.StopLoss != nil {
		specs = append(specs, MonitorSpec{
			MonitorType: types.MonitorStopLoss,
			TargetPrice: *level.StopLoss,
			Instrument:  types.InstrumentOption,
		})
	}
	return specs
}

// missingSpecs drops specs whose monitor type already has a live task on the
// level, so a partially-provisioned level is topped up without disturbing the
// tasks that exist.
func missingSpecs(level *types.StrategyLevel, specs []MonitorSpec) []MonitorSpec {
	var out []MonitorSpec
	for _, spec := range specs {
		if _, ok := level.MonitorTaskIDs[spec.MonitorType]; !ok {
			out = append(out, spec)
		}
	}
	return out
}

// supportsSpotTrigger reports whether an option symbol can use the spot
// underlying trigger. Only BTC options map onto BTCUSDT.
func supportsSpotTrigger(optionSymbol string) bool {
	return strings.HasPrefix(strings.ToUpper(optionSymbol), "BTC-")
}
