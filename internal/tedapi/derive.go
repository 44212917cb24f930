package tedapi

import (
	"strings"
)

// GridState is the derived grid connection state.
type GridState string

// Grid states. GridUnknown is returned when the status document carries no
// grid information.
const (
	GridConnected GridState = "SystemGridConnected"
	GridIslanded  GridState = "SystemIslandedActive"
	GridUnknown   GridState = ""
)

// Meter locations reported in control.meterAggregates.
const (
	LocationSite    = "SITE"
	LocationBattery = "BATTERY"
	LocationLoad    = "LOAD"
	LocationSolar   = "SOLAR"
)

// Signal names used by the fan speed derivation.
const (
	signalFanActual = "PVAC_Fan_Speed_Actual_RPM"
	signalFanTarget = "PVAC_Fan_Speed_Target_RPM"
	signalAmbient   = "THC_AmbientTemp"

	alertConnectedToGrid = "SystemConnectedToGrid"
	islandConnected      = "ISLAND_GridConnected_Connected"
)

// BatteryLevel returns the state of charge in percent, computed from the
// nominal remaining and full pack energy. ok is false when either value is
// missing or the full pack energy is zero.
func BatteryLevel(status any) (float64, bool) {
	remaining, ok := LookupFloat(status, "control", "systemStatus", "nominalEnergyRemainingWh")
	if !ok {
		return 0, false
	}
	full, ok := LookupFloat(status, "control", "systemStatus", "nominalFullPackEnergyWh")
	if !ok || full == 0 {
		return 0, false
	}
	return remaining / full * 100, true
}

// BackupTimeRemaining returns the hours of backup at the current load.
// ok is false when energy or load is unknown or the load is zero.
func BackupTimeRemaining(status any) (float64, bool) {
	remaining, ok := LookupFloat(status, "control", "systemStatus", "nominalEnergyRemainingWh")
	if !ok {
		return 0, false
	}
	load, ok := CurrentPower(status, LocationLoad)
	if !ok || load == 0 {
		return 0, false
	}
	return remaining / load, true
}

// CurrentPower returns the real power in watts at one meter location.
// Location matching is case-insensitive.
func CurrentPower(status any, location string) (float64, bool) {
	for _, agg := range LookupList(status, "control", "meterAggregates") {
		loc, _ := LookupString(agg, "location")
		if !strings.EqualFold(loc, location) {
			continue
		}
		return LookupFloat(agg, "realPowerW")
	}
	return 0, false
}

// CurrentPowerAll returns the real power of every reported meter location.
func CurrentPowerAll(status any) map[string]float64 {
	out := make(map[string]float64)
	for _, agg := range LookupList(status, "control", "meterAggregates") {
		loc, ok := LookupString(agg, "location")
		if !ok {
			continue
		}
		if w, ok := LookupFloat(agg, "realPowerW"); ok {
			out[loc] = w
		}
	}
	return out
}

// GridStatus derives the grid connection state. An active
// SystemConnectedToGrid alert wins; otherwise the islander contactor state
// decides. GridUnknown is returned when neither is present.
func GridStatus(status any) GridState {
	for _, a := range Alerts(status) {
		if a == alertConnectedToGrid {
			return GridConnected
		}
	}

	state := Lookup(status, "esCan", "bus", "ISLANDER", "ISLAND_GridConnection", "ISLAND_GridConnected")
	if state == nil {
		return GridUnknown
	}
	if s, _ := state.(string); s == islandConnected {
		return GridConnected
	}
	return GridIslanded
}

// Alerts returns the active system alerts.
func Alerts(status any) []string {
	list := LookupList(status, "control", "alerts", "active")
	out := make([]string, 0, len(list))
	for _, a := range list {
		if s, ok := a.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// BatteryBlocks returns the battery block entries of the site config.
func BatteryBlocks(config any) []any {
	return LookupList(config, "battery_blocks")
}

// PW3Blocks returns the VINs of the Powerwall 3 battery blocks in config.
func PW3Blocks(config any) []string {
	var vins []string
	for _, b := range BatteryBlocks(config) {
		if t, _ := LookupString(b, "type"); t != "Powerwall3" {
			continue
		}
		if vin, ok := LookupString(b, "vin"); ok && vin != "" {
			vins = append(vins, vin)
		}
	}
	return vins
}

// FanSpeeds extracts inverter fan speeds from the controller document,
// keyed PVAC--<partNumber>--<serialNumber>. Modules without fan signals
// are omitted.
func FanSpeeds(controller any) map[string]map[string]any {
	out := make(map[string]map[string]any)
	for _, module := range LookupList(controller, "components", "msa") {
		speeds := make(map[string]any)
		for _, sig := range LookupList(module, "signals") {
			name, _ := LookupString(sig, "name")
			if name != signalFanActual && name != signalFanTarget {
				continue
			}
			speeds[name] = Lookup(sig, "value")
		}
		if len(speeds) == 0 {
			continue
		}
		out[componentKey("PVAC", module)] = speeds
	}
	return out
}

// AmbientTemperatures returns THC_AmbientTemp readings keyed
// TETHC--<partNumber>--<serialNumber>.
func AmbientTemperatures(controller any) map[string]any {
	out := make(map[string]any)
	for _, module := range LookupList(controller, "components", "msa") {
		if sn, _ := LookupString(module, "serialNumber"); sn == "" {
			continue
		}
		for _, sig := range LookupList(module, "signals") {
			if name, _ := LookupString(sig, "name"); name != signalAmbient {
				continue
			}
			if v := Lookup(sig, "value"); v != nil {
				out[componentKey("TETHC", module)] = v
			}
		}
	}
	return out
}

func componentKey(prefix string, module any) string {
	pn, _ := LookupString(module, "partNumber")
	sn, _ := LookupString(module, "serialNumber")
	return prefix + "--" + pn + "--" + sn
}
