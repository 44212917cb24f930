package tedapi

import (
	"testing"
	"time"
)

func TestVitals_Basic(t *testing.T) {
	config := map[string]any{
		"vin":    "1232100-00-E--TG11234567890",
		"meters": []any{},
	}
	controller := map[string]any{
		"control": map[string]any{
			"alerts":       map[string]any{"active": []any{}},
			"systemStatus": map[string]any{},
		},
		"esCan": map[string]any{
			"bus": map[string]any{
				"PVAC":     []any{},
				"PVS":      []any{},
				"THC":      []any{},
				"POD":      []any{},
				"PINV":     []any{},
				"SYNC":     map[string]any{},
				"ISLANDER": map[string]any{},
			},
		},
		"components": map[string]any{"msa": []any{}},
		"neurio":     map[string]any{"readings": []any{}},
	}

	got := Vitals(config, controller, "192.168.91.1", time.Unix(1700000000, 0))
	if got == nil {
		t.Fatal("Vitals() = nil")
	}

	header, ok := got["VITALS"].(map[string]any)
	if !ok {
		t.Fatalf("VITALS header missing: %v", got)
	}
	if header["gateway"] != "192.168.91.1" {
		t.Errorf("gateway = %v, want 192.168.91.1", header["gateway"])
	}

	gw, ok := got["STSTSM--1232100-00-E--TG11234567890"].(map[string]any)
	if !ok {
		t.Fatalf("gateway entry missing: %v", got)
	}
	if gw["partNumber"] != "1232100-00-E" || gw["serialNumber"] != "TG11234567890" {
		t.Errorf("gateway identity = %v / %v", gw["partNumber"], gw["serialNumber"])
	}
}

func TestVitals_RequiresBothDocuments(t *testing.T) {
	now := time.Now()
	if Vitals(nil, map[string]any{}, "gw", now) != nil {
		t.Error("Vitals() with nil config should be nil")
	}
	if Vitals(map[string]any{}, nil, "gw", now) != nil {
		t.Error("Vitals() with nil controller should be nil")
	}
}

func TestVitals_Components(t *testing.T) {
	config := map[string]any{
		"vin": "1232100-00-E--TG1",
		"meters": []any{
			map[string]any{
				"location":   "site",
				"connection": map[string]any{"device_serial": "OBB1"},
				"cts":        []any{map[string]any{"location": "solar"}},
			},
		},
	}
	controller := map[string]any{
		"control": map[string]any{"alerts": map[string]any{"active": []any{"SystemConnectedToGrid"}}},
		"esCan": map[string]any{
			"bus": map[string]any{
				"PVAC": []any{map[string]any{
					"packagePartNumber":   "1538100-00-F",
					"packageSerialNumber": "CN1",
					"PVAC_Status":         map[string]any{"PVAC_Pout": 1200.0},
					"PVAC_Logging": map[string]any{
						"PVAC_PVMeasuredVoltage_A": 200.0,
						"PVAC_PVCurrent_A":         3.0,
					},
				}},
				"PVS": []any{map[string]any{
					"PVS_Status": map[string]any{"PVS_StringA_Connected": true},
				}},
				"THC": []any{map[string]any{
					"packagePartNumber":   "3012170-05-C",
					"packageSerialNumber": "TG2",
				}},
				"POD": []any{map[string]any{
					"POD_EnergyStatus": map[string]any{"POD_nom_energy_remaining": 9000.0},
				}},
				"PINV": []any{map[string]any{
					"PINV_AcMeasurements": map[string]any{"PINV_VSplit1": 120.5},
				}},
				"SYNC": map[string]any{
					"packagePartNumber":      "1493315-01-F",
					"packageSerialNumber":    "SY1",
					"METER_X_AcMeasurements": map[string]any{"METER_X_VL1N": 121.0},
				},
				"ISLANDER": map[string]any{
					"ISLAND_GridConnection": map[string]any{"ISLAND_GridConnected": "ISLAND_GridConnected_Connected"},
				},
			},
		},
		"components": map[string]any{"msa": []any{map[string]any{
			"partNumber":   "3012170-05-C",
			"serialNumber": "TG2",
			"signals":      []any{map[string]any{"name": "THC_AmbientTemp", "value": 24.5}},
		}}},
		"neurio": map[string]any{"readings": []any{map[string]any{
			"serial":   "OBB1",
			"dataRead": []any{map[string]any{"realPowerW": 50.0}},
		}}},
	}

	got := Vitals(config, controller, "gw", time.Now())

	tests := []struct {
		key   string
		field string
		want  any
	}{
		{"PVAC--1538100-00-F--CN1", "PVAC_Pout", 1200.0},
		{"PVAC--1538100-00-F--CN1", "PVAC_PVMeasuredPower_A", 600.0},
		{"PVS--1538100-00-F--CN1", "PVS_StringA_Connected", true},
		{"PVS--1538100-00-F--CN1", "componentParentDin", "PVAC--1538100-00-F--CN1"},
		{"TEPOD--3012170-05-C--TG2", "POD_nom_energy_remaining", 9000.0},
		{"TEPINV--3012170-05-C--TG2", "PINV_VSplit1", 120.5},
		{"TETHC--3012170-05-C--TG2", "THC_AmbientTemp", 24.5},
		{"TESYNC--1493315-01-F--SY1", "METER_X_VL1N", 121.0},
		{"TESYNC--1493315-01-F--SY1", "ISLAND_GridConnected", "ISLAND_GridConnected_Connected"},
		{"NEURIO--OBB1", "NEURIO_CT0_InstRealPower", 50.0},
		{"NEURIO--OBB1", "NEURIO_CT0_Location", "solar"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"/"+tt.field, func(t *testing.T) {
			entry, ok := got[tt.key].(map[string]any)
			if !ok {
				t.Fatalf("entry %q missing", tt.key)
			}
			if entry[tt.field] != tt.want {
				t.Errorf("%s = %v, want %v", tt.field, entry[tt.field], tt.want)
			}
		})
	}
}

func TestVitals_PW3Devices(t *testing.T) {
	const vin = "1707000-11-J--TG12xxxxxx3A8Z"
	config := map[string]any{"vin": "1232100-00-E--TG1"}
	controller := map[string]any{
		BatteryDevicesKey: map[string]any{
			vin: map[string]any{"components": map[string]any{
				"pch": []any{map[string]any{
					"signals": []any{
						map[string]any{"name": "PCH_AcFrequency", "value": 60.01},
						map[string]any{"name": "PCH_AcRealPowerAB", "value": 2500.0},
						map[string]any{"name": "PCH_State", "value": nil, "textValue": "PCH_STATE_GRID_TIED"},
					},
					"activeAlerts": []any{map[string]any{"name": "PCH_a012_pvNotConnected"}},
				}},
				"bms": []any{map[string]any{"signals": []any{
					map[string]any{"name": "BMS_nominalEnergyRemaining", "value": 10.25},
					map[string]any{"name": "BMS_nominalFullPackEnergy", "value": 13.5},
				}}},
			}},
		},
	}

	got := Vitals(config, controller, "gw", time.Now())

	inv, ok := got["TEPINV--"+vin].(map[string]any)
	if !ok {
		t.Fatalf("TEPINV--%s missing", vin)
	}
	if inv["PINV_Fout"] != 60.01 || inv["PINV_Pout"] != 2.5 || inv["PINV_State"] != "PCH_STATE_GRID_TIED" {
		t.Errorf("inverter = %v", inv)
	}
	if alerts := inv["alerts"].([]any); len(alerts) != 1 || alerts[0] != "PCH_a012_pvNotConnected" {
		t.Errorf("inverter alerts = %v", alerts)
	}
	if inv["partNumber"] != "1707000-11-J" || inv["serialNumber"] != "TG12xxxxxx3A8Z" {
		t.Errorf("part/serial = %v/%v", inv["partNumber"], inv["serialNumber"])
	}

	pod, ok := got["TEPOD--"+vin].(map[string]any)
	if !ok {
		t.Fatalf("TEPOD--%s missing", vin)
	}
	if pod["POD_nom_energy_remaining"] != 10250.0 || pod["POD_nom_full_pack_energy"] != 13500.0 {
		t.Errorf("pod = %v", pod)
	}
	if pod["componentParentDin"] != "TEPINV--"+vin {
		t.Errorf("pod parent = %v", pod["componentParentDin"])
	}
}
