package tedapi

import (
	"math"
	"testing"
)

func statusDoc(remaining, full any, aggregates ...map[string]any) map[string]any {
	sys := map[string]any{}
	if remaining != nil {
		sys["nominalEnergyRemainingWh"] = remaining
	}
	if full != nil {
		sys["nominalFullPackEnergyWh"] = full
	}
	aggs := make([]any, 0, len(aggregates))
	for _, a := range aggregates {
		aggs = append(aggs, a)
	}
	return map[string]any{
		"control": map[string]any{
			"systemStatus":    sys,
			"meterAggregates": aggs,
		},
	}
}

func meter(location string, watts float64) map[string]any {
	return map[string]any{"location": location, "realPowerW": watts}
}

func TestBatteryLevel(t *testing.T) {
	tests := []struct {
		name   string
		status any
		want   float64
		wantOK bool
	}{
		{name: "normal", status: statusDoc(10000.0, 13500.0), want: 74.074, wantOK: true},
		{name: "full", status: statusDoc(13500.0, 13500.0), want: 100, wantOK: true},
		{name: "missing full pack", status: statusDoc(10000.0, nil)},
		{name: "missing remaining", status: statusDoc(nil, 13500.0)},
		{name: "zero full pack", status: statusDoc(10000.0, 0.0)},
		{name: "nil document", status: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := BatteryLevel(tt.status)
			if ok != tt.wantOK {
				t.Fatalf("BatteryLevel() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && math.Abs(got-tt.want) > 0.01 {
				t.Errorf("BatteryLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBackupTimeRemaining(t *testing.T) {
	tests := []struct {
		name   string
		status any
		want   float64
		wantOK bool
	}{
		{name: "normal", status: statusDoc(10000.0, 13500.0, meter("LOAD", 1000)), want: 10.0, wantOK: true},
		{name: "zero load", status: statusDoc(10000.0, 13500.0, meter("LOAD", 0))},
		{name: "no load meter", status: statusDoc(10000.0, 13500.0, meter("SOLAR", 3000))},
		{name: "no energy", status: statusDoc(nil, nil, meter("LOAD", 1000))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := BackupTimeRemaining(tt.status)
			if ok != tt.wantOK {
				t.Fatalf("BackupTimeRemaining() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("BackupTimeRemaining() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCurrentPower(t *testing.T) {
	status := statusDoc(nil, nil,
		meter("LOAD", 1500),
		meter("SOLAR", 3000),
		meter("BATTERY", -500),
	)

	tests := []struct {
		location string
		want     float64
		wantOK   bool
	}{
		{"LOAD", 1500, true},
		{"SOLAR", 3000, true},
		{"BATTERY", -500, true},
		{"load", 1500, true},
		{"SITE", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.location, func(t *testing.T) {
			got, ok := CurrentPower(status, tt.location)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("CurrentPower(%q) = %v, %v; want %v, %v", tt.location, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestCurrentPowerAll(t *testing.T) {
	status := statusDoc(nil, nil, meter("LOAD", 1500), meter("SOLAR", 3000))

	got := CurrentPowerAll(status)
	if len(got) != 2 || got["LOAD"] != 1500 || got["SOLAR"] != 3000 {
		t.Errorf("CurrentPowerAll() = %v", got)
	}

	if got := CurrentPowerAll(nil); len(got) != 0 {
		t.Errorf("CurrentPowerAll(nil) = %v, want empty", got)
	}
}

func TestGridStatus(t *testing.T) {
	islander := func(state string) map[string]any {
		return map[string]any{
			"esCan": map[string]any{"bus": map[string]any{"ISLANDER": map[string]any{
				"ISLAND_GridConnection": map[string]any{"ISLAND_GridConnected": state},
			}}},
		}
	}

	tests := []struct {
		name   string
		status any
		want   GridState
	}{
		{
			name: "connected alert",
			status: map[string]any{"control": map[string]any{"alerts": map[string]any{
				"active": []any{"SystemConnectedToGrid"},
			}}},
			want: GridConnected,
		},
		{name: "islander connected", status: islander("ISLAND_GridConnected_Connected"), want: GridConnected},
		{name: "islander disconnected", status: islander("ISLAND_GridConnected_Disconnected"), want: GridIslanded},
		{name: "no grid data", status: map[string]any{}, want: GridUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GridStatus(tt.status); got != tt.want {
				t.Errorf("GridStatus() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFanSpeeds(t *testing.T) {
	controller := map[string]any{
		"components": map[string]any{
			"msa": []any{
				map[string]any{
					"partNumber":   "PART1",
					"serialNumber": "SERIAL1",
					"signals": []any{
						map[string]any{"name": "PVAC_Fan_Speed_Actual_RPM", "value": 2000.0},
						map[string]any{"name": "PVAC_Fan_Speed_Target_RPM", "value": 2100.0},
						map[string]any{"name": "OTHER_SIGNAL", "value": 123.0},
					},
				},
				map[string]any{
					"partNumber":   "PART2",
					"serialNumber": "SERIAL2",
					"signals": []any{
						map[string]any{"name": "PVAC_Fan_Speed_Actual_RPM", "value": 1800.0},
					},
				},
				map[string]any{
					"partNumber":   "PART3",
					"serialNumber": "SERIAL3",
					"signals":      []any{map[string]any{"name": "THC_AmbientTemp", "value": 21.0}},
				},
			},
		},
	}

	got := FanSpeeds(controller)

	p1, ok := got["PVAC--PART1--SERIAL1"]
	if !ok {
		t.Fatalf("FanSpeeds() missing PART1: %v", got)
	}
	if p1["PVAC_Fan_Speed_Actual_RPM"] != 2000.0 || p1["PVAC_Fan_Speed_Target_RPM"] != 2100.0 {
		t.Errorf("PART1 speeds = %v", p1)
	}
	if len(got["PVAC--PART2--SERIAL2"]) != 1 {
		t.Errorf("PART2 speeds = %v, want 1 entry", got["PVAC--PART2--SERIAL2"])
	}
	if _, ok := got["PVAC--PART3--SERIAL3"]; ok {
		t.Error("module without fan signals should be omitted")
	}

	temps := AmbientTemperatures(controller)
	if temps["TETHC--PART3--SERIAL3"] != 21.0 {
		t.Errorf("AmbientTemperatures() = %v", temps)
	}
}

func TestBatteryBlocks(t *testing.T) {
	config := map[string]any{
		"battery_blocks": []any{
			map[string]any{"vin": "BLOCK1", "type": "Powerwall2"},
			map[string]any{"vin": "BLOCK2", "type": "Powerwall2"},
		},
	}

	got := BatteryBlocks(config)
	if len(got) != 2 {
		t.Fatalf("BatteryBlocks() len = %d, want 2", len(got))
	}
	if vin, _ := LookupString(got[0], "vin"); vin != "BLOCK1" {
		t.Errorf("first block vin = %q, want BLOCK1", vin)
	}
	if BatteryBlocks(nil) != nil {
		t.Error("BatteryBlocks(nil) should be nil")
	}
}

func TestPW3Blocks(t *testing.T) {
	config := map[string]any{
		"battery_blocks": []any{
			map[string]any{"vin": "1707000-11-J--TG1", "type": "Powerwall3"},
			map[string]any{"vin": "BLOCK2", "type": "Powerwall2"},
			map[string]any{"type": "Powerwall3"},
			map[string]any{"vin": "1707000-11-J--TG2", "type": "Powerwall3"},
		},
	}

	got := PW3Blocks(config)
	if len(got) != 2 || got[0] != "1707000-11-J--TG1" || got[1] != "1707000-11-J--TG2" {
		t.Errorf("PW3Blocks() = %v", got)
	}
	if PW3Blocks(nil) != nil {
		t.Error("PW3Blocks(nil) should be nil")
	}
}

func TestAlerts(t *testing.T) {
	status := map[string]any{"control": map[string]any{"alerts": map[string]any{
		"active": []any{"GridCodesWrite", 5.0, "PodCommissionTime"},
	}}}

	got := Alerts(status)
	if len(got) != 2 || got[0] != "GridCodesWrite" || got[1] != "PodCommissionTime" {
		t.Errorf("Alerts() = %v", got)
	}
}
