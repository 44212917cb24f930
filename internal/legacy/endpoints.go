package legacy

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-teg/internal/tedapi"
)

// pollTable builds the read side of the dispatch table.
func (d *Dispatcher) pollTable() map[string]handler {
	unimplemented := constant(func() any { return nil })

	return map[string]handler{
		"/api/status":                             derive(tedapi.KindConfig, d.apiStatus),
		"/api/system_status/soe":                  derive(tedapi.KindStatus, d.apiSOE),
		"/api/system_status/grid_status":          derive(tedapi.KindStatus, d.apiGridStatus),
		"/api/system_status":                      derive(tedapi.KindStatus, d.apiSystemStatus),
		"/api/system_status/grid_faults":          constant(func() any { return []any{} }),
		"/api/site_info":                          derive(tedapi.KindConfig, d.apiSiteInfo),
		"/api/site_info/site_name":                derive(tedapi.KindConfig, d.apiSiteName),
		"/api/site_info/grid_codes":               unimplemented,
		"/api/meters/aggregates":                  derive(tedapi.KindStatus, d.apiMetersAggregates),
		"/api/meters/site":                        derive(tedapi.KindStatus, d.apiMetersSite),
		"/api/meters/solar":                       unimplemented,
		"/api/meters/readings":                    unimplemented,
		"/api/meters":                             unimplemented,
		"/api/operation":                          derive(tedapi.KindConfig, d.apiOperation),
		"/api/powerwalls":                         derive(tedapi.KindStatus, d.apiPowerwalls),
		"/api/sitemaster":                         constant(sitemaster),
		"/api/solars":                             derive(tedapi.KindConfig, d.apiSolars),
		"/api/solars/brands":                      derive(tedapi.KindConfig, d.apiSolarBrands),
		"/api/solar_powerwall":                    derive(tedapi.KindStatus, d.apiSolarPowerwall),
		"/api/customer":                           constant(func() any { return map[string]any{"registered": true} }),
		"/api/customer/registration":              constant(customerRegistration),
		"/api/installer":                          derive(tedapi.KindConfig, d.apiInstaller),
		"/api/networks":                           unimplemented,
		"/api/system/networks":                    unimplemented,
		"/api/system/update/status":               derive(tedapi.KindFirmware, d.apiUpdateStatus),
		"/api/troubleshooting/problems":           constant(func() any { return map[string]any{"problems": []any{}} }),
		"/api/auth/toggle/supported":              constant(func() any { return map[string]any{"toggle_auth_supported": true} }),
		"/api/synchrometer/ct_voltage_references": constant(ctVoltageReferences),
		"/api/devices/vitals":                     derive(tedapi.KindController, d.apiDevicesVitals),
		"/vitals":                                 derive(tedapi.KindController, d.vitals),
		"/fans":                                   derive(tedapi.KindController, d.fans),
		"/temps":                                  derive(tedapi.KindController, d.temps),
		"/alerts":                                 derive(tedapi.KindStatus, d.alerts),
		"/battery":                                derive(tedapi.KindConfig, d.batteryBlocks),
		"/tedapi/config":                          fetch(tedapi.KindConfig),
		"/tedapi/status":                          fetch(tedapi.KindStatus),
		"/tedapi/components":                      fetch(tedapi.KindComponents),
		"/tedapi/controller":                      fetch(tedapi.KindController),
		"/tedapi/firmware":                        fetch(tedapi.KindFirmware),
		"/tedapi/battery":                         derive(tedapi.KindConfig, d.batteryBlocks),
	}
}

// postTable builds the write side of the dispatch table.
func (d *Dispatcher) postTable() map[string]handler {
	return map[string]handler{
		"/api/operation": write(d.setOperation),
	}
}

func (d *Dispatcher) apiStatus(ctx context.Context, v *view) any {
	config := v.config(ctx)
	if _, ok := config.(map[string]any); !ok {
		return nil
	}

	var version, gitHash any
	if fw := v.firmware(ctx); fw != nil {
		version = fw.System.Version.Text
		gitHash = fw.System.Version.GitHash
	}

	deviceType := "teg"
	if d.src.Gen3() {
		deviceType = "techg"
	}

	return map[string]any{
		"din":               lookupAny(config, "vin"),
		"start_time":        tedapi.Lookup(v.status(ctx), "system", "startTime"),
		"up_time_seconds":   nil,
		"is_new":            false,
		"version":           version,
		"git_hash":          gitHash,
		"commission_count":  0,
		"device_type":       deviceType,
		"teg_type":          "unknown",
		"sync_type":         "v2.1",
		"cellular_disabled": false,
		"can_reboot":        true,
	}
}

func (d *Dispatcher) apiSOE(ctx context.Context, v *view) any {
	level, ok := tedapi.BatteryLevel(v.status(ctx))
	if !ok {
		return nil
	}
	return map[string]any{"percentage": level}
}

func (d *Dispatcher) apiGridStatus(ctx context.Context, v *view) any {
	var status any
	if s := tedapi.GridStatus(v.status(ctx)); s != tedapi.GridUnknown {
		status = string(s)
	}
	return map[string]any{
		"grid_status":          status,
		"grid_services_active": nil,
	}
}

func (d *Dispatcher) apiSiteName(ctx context.Context, v *view) any {
	config := v.config(ctx)
	if _, ok := config.(map[string]any); !ok {
		return nil
	}
	return map[string]any{
		"site_name": siteValue(config, "site_name"),
		"timezone":  siteValue(config, "timezone"),
	}
}

func (d *Dispatcher) apiSiteInfo(ctx context.Context, v *view) any {
	config := v.config(ctx)
	if _, ok := config.(map[string]any); !ok {
		return nil
	}

	return map[string]any{
		"max_system_energy_kWh":     siteValue(config, "nominal_system_energy_ac"),
		"max_system_power_kW":       siteValue(config, "nominal_system_power_ac"),
		"site_name":                 siteValue(config, "site_name"),
		"timezone":                  siteValue(config, "timezone"),
		"max_site_meter_power_kW":   siteValue(config, "max_site_meter_power_ac"),
		"min_site_meter_power_kW":   siteValue(config, "min_site_meter_power_ac"),
		"nominal_system_energy_kWh": siteValue(config, "nominal_system_energy_ac"),
		"nominal_system_power_kW":   siteValue(config, "nominal_system_power_ac"),
		"panel_max_current":         siteValue(config, "panel_max_current"),
		"battery_commission_date":   siteValue(config, "battery_commission_date"),
		"measured_frequency":        nil,
		"grid_code":                 map[string]any{
			"grid_code":            siteValue(config, "grid_code"),
			"grid_voltage_setting": nil,
			"grid_freq_setting":    nil,
			"grid_phase_setting":   nil,
			"country":              siteValue(config, "country"),
			"state":                siteValue(config, "state"),
			"utility":              siteValue(config, "utility"),
		},
	}
}

func (d *Dispatcher) apiOperation(ctx context.Context, v *view) any {
	config := v.config(ctx)
	if _, ok := config.(map[string]any); !ok {
		return nil
	}
	return map[string]any{
		"real_mode":                    lookupAny(config, "default_real_mode"),
		"backup_reserve_percent":       tedapi.Lookup(config, "site_info", "backup_reserve_percent"),
		"freq_shift_load_shed_soe":     0,
		"freq_shift_load_shed_delta_f": 0,
	}
}

// meterStub returns the fixed fields of one legacy meter aggregate.
func meterStub(ts any) map[string]any {
	return map[string]any{
		"last_communication_time":               ts,
		"instant_power":                         0.0,
		"instant_reactive_power":                0,
		"instant_apparent_power":                0,
		"frequency":                             0,
		"energy_exported":                       0,
		"energy_imported":                       0,
		"instant_average_voltage":               0,
		"instant_average_current":               0,
		"i_a_current":                           0,
		"i_b_current":                           0,
		"i_c_current":                           0,
		"last_phase_voltage_communication_time": ts,
		"last_phase_power_communication_time":   ts,
		"last_phase_energy_communication_time":  ts,
		"timeout":                               1500000000,
		"num_meters_aggregated":                 1,
		"instant_total_current":                 0,
	}
}

func (d *Dispatcher) apiMetersAggregates(ctx context.Context, v *view) any {
	config := v.config(ctx)
	status := v.status(ctx)
	if _, ok := config.(map[string]any); !ok {
		return nil
	}
	if _, ok := status.(map[string]any); !ok {
		return nil
	}

	ts := d.timestamp(status)
	power := tedapi.CurrentPowerAll(status)

	islander := tedapi.Lookup(status, "esCan", "bus", "ISLANDER", "ISLAND_AcMeasurements")
	v1n, _ := tedapi.LookupFloat(islander, "ISLAND_VL1N_Main")
	v2n, _ := tedapi.LookupFloat(islander, "ISLAND_VL2N_Main")
	v3n, _ := tedapi.LookupFloat(islander, "ISLAND_VL3N_Main")

	site := meterStub(ts)
	site["instant_power"] = power[tedapi.LocationSite]
	site["instant_average_voltage"] = lineVoltage(v1n, v2n, v3n)
	setPhaseCurrents(site, status, "METER_X")

	battery := meterStub(ts)
	battery["instant_power"] = power[tedapi.LocationBattery]
	battery["num_meters_aggregated"] = len(tedapi.LookupList(status, "esCan", "bus", "PINV"))
	var pinvVolts float64
	for _, p := range tedapi.LookupList(status, "esCan", "bus", "PINV") {
		if vo, ok := tedapi.LookupFloat(p, "PINV_Status", "PINV_Vout"); ok {
			pinvVolts += vo
		}
	}
	if n := battery["num_meters_aggregated"].(int); n > 0 {
		battery["instant_average_voltage"] = round(pinvVolts/float64(n), 2)
	}

	load := meterStub(ts)
	load["instant_power"] = power[tedapi.LocationLoad]
	load["instant_average_voltage"] = lineVoltage(v1n, v2n, v3n)
	setPhaseCurrents(load, status, "METER_Y")

	solar := meterStub(ts)
	solar["instant_power"] = power[tedapi.LocationSolar]
	if vll, ok := tedapi.LookupFloat(firstOf(tedapi.LookupList(status, "esCan", "bus", "PVS")), "PVS_Status", "PVS_vLL"); ok {
		solar["instant_average_voltage"] = vll
	}

	return map[string]any{
		"site":    site,
		"battery": battery,
		"load":    load,
		"solar":   solar,
	}
}

func setPhaseCurrents(meter map[string]any, status any, prefix string) {
	ac := tedapi.Lookup(status, "esCan", "bus", "SYNC", prefix+"_AcMeasurements")
	var total float64
	for _, phase := range []string{"A", "B", "C"} {
		i, ok := tedapi.LookupFloat(ac, prefix+"_CT"+phase+"_I")
		if !ok {
			continue
		}
		meter["i_"+strings.ToLower(phase)+"_current"] = i
		total += i
	}
	meter["instant_average_current"] = round(total, 2)
	meter["instant_total_current"] = round(total, 2)
}

// lineVoltage derives the line-to-line voltage from phase voltages. A
// missing third phase means a split-phase service.
func lineVoltage(v1n, v2n, v3n float64) float64 {
	if v3n < 1 {
		return round(v1n+v2n, 2)
	}
	return round((v1n+v2n+v3n)/3*math.Sqrt(3), 2)
}

func (d *Dispatcher) apiMetersSite(ctx context.Context, v *view) any {
	agg, ok := d.apiMetersAggregates(ctx, v).(map[string]any)
	if !ok {
		return nil
	}
	config := v.config(ctx)

	var serial any
	for _, m := range tedapi.LookupList(config, "meters") {
		if loc, _ := tedapi.LookupString(m, "location"); loc == "site" {
			serial = tedapi.Lookup(m, "connection", "device_serial")
			break
		}
	}

	return []any{map[string]any{
		"id":         0,
		"location":   "site",
		"type":       "synchrometerX",
		"cts":        []any{true, true, false, false},
		"inverted":   []any{false, false, false, false},
		"connection": map[string]any{
			"short_id":      nil,
			"device_serial": serial,
			"https_conf":    map[string]any{},
		},
		"Cached_readings": agg["site"],
	}}
}

func (d *Dispatcher) apiSystemStatus(ctx context.Context, v *view) any {
	status := v.status(ctx)
	config := v.config(ctx)
	if _, ok := status.(map[string]any); !ok {
		return nil
	}
	if _, ok := config.(map[string]any); !ok {
		return nil
	}

	full := tedapi.Lookup(status, "control", "systemStatus", "nominalFullPackEnergyWh")
	remaining := tedapi.Lookup(status, "control", "systemStatus", "nominalEnergyRemainingWh")

	var version any
	if fw := v.firmware(ctx); fw != nil {
		version = fw.System.Version.Text
	}

	blocks := d.batteryBlockStatus(status, version)
	var islandState any
	if s := tedapi.GridStatus(status); s != tedapi.GridUnknown {
		islandState = string(s)
	}

	return map[string]any{
		"command_source":                      "Configuration",
		"battery_target_power":                0,
		"battery_target_reactive_power":       0,
		"nominal_full_pack_energy":            full,
		"nominal_energy_remaining":            remaining,
		"max_power_energy_remaining":          0,
		"max_power_energy_to_be_charged":      0,
		"max_charge_power":                    sumBlocks(blocks, "max_charge_power"),
		"max_discharge_power":                 sumBlocks(blocks, "max_discharge_power"),
		"max_apparent_power":                  sumBlocks(blocks, "max_apparent_power"),
		"instantaneous_max_discharge_power":   0,
		"instantaneous_max_charge_power":      0,
		"instantaneous_max_apparent_power":    0,
		"hardware_capability_charge_power":    0,
		"hardware_capability_discharge_power": 0,
		"grid_services_power":                 0,
		"system_island_state":                 islandState,
		"available_blocks":                    len(blocks),
		"available_charger_blocks":            0,
		"battery_blocks":                      blocks,
		"ffr_power_availability_high":         0,
		"ffr_power_availability_low":          0,
		"load_charge_constraint":              0,
		"max_sustained_ramp_rate":             0,
		"grid_faults":                         []any{},
		"can_reboot":                          "Yes",
		"smart_inv_delta_p":                   0,
		"smart_inv_delta_q":                   0,
		"last_toggle_timestamp":               d.timestamp(status),
		"solar_real_power_limit":              0,
		"score":                               10000,
		"blocks_controlled":                   len(blocks),
		"primary":                             true,
		"auxiliary_load":                      0,
		"all_enable_lines_high":               true,
		"inverter_nominal_usable_power":       0,
		"expected_energy_remaining":           0,
	}
}

// batteryBlockStatus pairs THC, POD and PINV entries by index into legacy
// battery block records.
func (d *Dispatcher) batteryBlockStatus(status, version any) []any {
	pods := tedapi.LookupList(status, "esCan", "bus", "POD")
	pinvs := tedapi.LookupList(status, "esCan", "bus", "PINV")

	var blocks []any
	for i, thc := range tedapi.LookupList(status, "esCan", "bus", "THC") {
		var pod, pinv any
		if i < len(pods) {
			pod = pods[i]
		}
		if i < len(pinvs) {
			pinv = pinvs[i]
		}

		maxCharge, _ := tedapi.LookupFloat(pod, "POD_PowerStatus", "POD_nom_charge_power")
		maxDischarge, _ := tedapi.LookupFloat(pinv, "PINV_PowerCapability", "PINV_Pnom")

		blocks = append(blocks, map[string]any{
			"Type":                     "",
			"PackagePartNumber":        tedapi.Lookup(thc, "packagePartNumber"),
			"PackageSerialNumber":      tedapi.Lookup(thc, "packageSerialNumber"),
			"disabled_reasons":         []any{},
			"pinv_state":               tedapi.Lookup(pinv, "PINV_Status", "PINV_State"),
			"pinv_grid_state":          tedapi.Lookup(pinv, "PINV_Status", "PINV_GridState"),
			"nominal_energy_remaining": tedapi.Lookup(pod, "POD_EnergyStatus", "POD_nom_energy_remaining"),
			"nominal_full_pack_energy": tedapi.Lookup(pod, "POD_EnergyStatus", "POD_nom_full_pack_energy"),
			"p_out":                    tedapi.Lookup(pinv, "PINV_Status", "PINV_Pout"),
			"q_out":                    nil,
			"v_out":                    tedapi.Lookup(pinv, "PINV_Status", "PINV_Vout"),
			"f_out":                    tedapi.Lookup(pinv, "PINV_Status", "PINV_Fout"),
			"i_out":                    nil,
			"energy_charged":           nil,
			"energy_discharged":        nil,
			"off_grid":                 false,
			"vf_mode":                  false,
			"wobble_detected":          false,
			"charge_power_clamped":     false,
			"backup_ready":             true,
			"OpSeqState":               "Active",
			"version":                  version,
			"max_charge_power":         maxCharge,
			"max_discharge_power":      maxDischarge,
			"max_apparent_power":       maxDischarge,
		})
	}
	if blocks == nil {
		blocks = []any{}
	}
	return blocks
}

func sumBlocks(blocks []any, key string) float64 {
	var total float64
	for _, b := range blocks {
		if f, ok := tedapi.LookupFloat(b, key); ok {
			total += f
		}
	}
	return total
}

func (d *Dispatcher) apiPowerwalls(ctx context.Context, v *view) any {
	status := v.status(ctx)
	config := v.config(ctx)
	if _, ok := status.(map[string]any); !ok {
		return nil
	}

	var powerwalls []any
	for _, thc := range tedapi.LookupList(status, "esCan", "bus", "THC") {
		powerwalls = append(powerwalls, map[string]any{
			"Type":                           "",
			"PackagePartNumber":              tedapi.Lookup(thc, "packagePartNumber"),
			"PackageSerialNumber":            tedapi.Lookup(thc, "packageSerialNumber"),
			"type":                           "SolarPowerwall",
			"grid_state":                     "Grid_Compliant",
			"grid_reconnection_time_seconds": 0,
			"under_phase_detection":          false,
			"updating":                       false,
			"commissioning_diagnostic":       nil,
			"update_diagnostic":              nil,
			"bc_type":                        nil,
			"in_config":                      true,
		})
	}
	if powerwalls == nil {
		powerwalls = []any{}
	}

	return map[string]any{
		"enumerating":                   false,
		"updating":                      false,
		"checking_if_offgrid":           false,
		"running_phase_detection":       false,
		"phase_detection_last_error":    "no phase information",
		"bubble_shedding":               false,
		"on_grid_check_error":           "on grid check not run",
		"grid_qualifying":               false,
		"grid_code_validating":          false,
		"phase_detection_not_available": true,
		"powerwalls":                    powerwalls,
		"gateway_din":                   lookupAny(config, "vin"),
		"sync":                          map[string]any{
			"updating":                 false,
			"commissioning_diagnostic": nil,
		},
		"msa":    nil,
		"states": nil,
	}
}

func sitemaster() any {
	return map[string]any{
		"status":             "StatusUp",
		"running":            true,
		"connected_to_tesla": true,
		"power_supply_mode":  false,
		"can_reboot":         "Yes",
	}
}

func customerRegistration() any {
	return map[string]any{
		"privacy_notice":         nil,
		"limited_warranty":       nil,
		"grid_services":          nil,
		"marketing":              nil,
		"registered":             true,
		"timed_out_registration": false,
	}
}

func ctVoltageReferences() any {
	return map[string]any{
		"ct1": "Phase1",
		"ct2": "Phase2",
		"ct3": "Phase1",
	}
}

func (d *Dispatcher) apiSolars(ctx context.Context, v *view) any {
	config := v.config(ctx)
	if _, ok := config.(map[string]any); !ok {
		return nil
	}
	out := []any{}
	for _, s := range tedapi.LookupList(config, "solars") {
		out = append(out, map[string]any{
			"brand":              tedapi.Lookup(s, "brand"),
			"model":              tedapi.Lookup(s, "model"),
			"power_rating_watts": tedapi.Lookup(s, "power_rating_watts"),
		})
	}
	return out
}

func (d *Dispatcher) apiSolarBrands(ctx context.Context, v *view) any {
	config := v.config(ctx)
	if _, ok := config.(map[string]any); !ok {
		return nil
	}
	seen := make(map[string]bool)
	out := []any{}
	for _, s := range tedapi.LookupList(config, "solars") {
		brand, ok := tedapi.LookupString(s, "brand")
		if !ok || brand == "" || seen[brand] {
			continue
		}
		seen[brand] = true
		out = append(out, brand)
	}
	return out
}

func (d *Dispatcher) apiSolarPowerwall(ctx context.Context, v *view) any {
	status := v.status(ctx)
	if _, ok := status.(map[string]any); !ok {
		return nil
	}
	pvac := firstOf(tedapi.LookupList(status, "esCan", "bus", "PVAC"))
	pvs := firstOf(tedapi.LookupList(status, "esCan", "bus", "PVS"))

	var stringVitals []any
	for _, s := range []string{"A", "B", "C", "D"} {
		stringVitals = append(stringVitals, map[string]any{
			"string_id":        s,
			"connected":        tedapi.Lookup(pvs, "PVS_Status", "PVS_String"+s+"_Connected"),
			"measured_voltage": tedapi.Lookup(pvac, "PVAC_Logging", "PVAC_PVMeasuredVoltage_"+s),
			"current":          tedapi.Lookup(pvac, "PVAC_Logging", "PVAC_PVCurrent_"+s),
			"measured_power":   nil,
		})
	}

	return map[string]any{
		"pvac_status": map[string]any{
			"state":            tedapi.Lookup(pvac, "PVAC_Status", "PVAC_State"),
			"disabled":         false,
			"disabled_reasons": []any{},
			"grid_state":       "Grid_Compliant",
			"inv_state":        "INV_Grid_Connected",
			"v_out":            tedapi.Lookup(pvac, "PVAC_Status", "PVAC_Vout"),
			"f_out":            tedapi.Lookup(pvac, "PVAC_Status", "PVAC_Fout"),
			"p_out":            tedapi.Lookup(pvac, "PVAC_Status", "PVAC_Pout"),
			"q_out":            0,
			"i_out":            0,
			"string_vitals":    stringVitals,
		},
		"pvs_status": map[string]any{
			"state":           tedapi.Lookup(pvs, "PVS_Status", "PVS_State"),
			"disabled":        false,
			"enable_output":   true,
			"v_ll":            tedapi.Lookup(pvs, "PVS_Status", "PVS_vLL"),
			"self_test_state": tedapi.Lookup(pvs, "PVS_Status", "PVS_SelfTestState"),
		},
		"pv_power_limit":        0,
		"power_status_setpoint": "on",
		"pvac_alerts":           alertFlags(pvac),
		"pvs_alerts":            alertFlags(pvs),
		"spinner_alerts":        map[string]any{},
	}
}

func alertFlags(component any) map[string]any {
	out := map[string]any{}
	for _, a := range tedapi.LookupList(component, "alerts", "active") {
		if s, ok := a.(string); ok {
			out[s] = true
		}
	}
	return out
}

func (d *Dispatcher) apiInstaller(ctx context.Context, v *view) any {
	config := v.config(ctx)
	if _, ok := config.(map[string]any); !ok {
		return nil
	}
	return map[string]any{
		"company":                 tedapi.Lookup(config, "installer", "company"),
		"customer_id":             "",
		"phone":                   tedapi.Lookup(config, "installer", "phone"),
		"email":                   tedapi.Lookup(config, "installer", "email"),
		"location":                "",
		"mounting":                "",
		"wiring":                  "",
		"backup_configuration":    "Whole Home",
		"solar_installation":      "New",
		"solar_installation_type": "PV Panel",
		"run_sitemaster":          true,
		"verified_config":         true,
		"installation_types":      []any{"Residential"},
	}
}

func (d *Dispatcher) apiUpdateStatus(ctx context.Context, v *view) any {
	fw := v.firmware(ctx)
	if fw == nil {
		return nil
	}
	now := d.now().UnixMilli()
	return map[string]any{
		"state":                      "/update_succeeded",
		"info":                       map[string]any{"status": []any{"nonactionable"}},
		"current_time":               now,
		"last_status_time":           now,
		"version":                    fw.System.Version.Text,
		"offline_updating":           false,
		"offline_update_error":       "",
		"estimated_bytes_per_second": nil,
	}
}

// apiDevicesVitals has no JSON equivalent; the legacy endpoint served a
// binary protobuf. Callers should use /vitals.
func (d *Dispatcher) apiDevicesVitals(context.Context, *view) any {
	d.logger.Warn("/api/devices/vitals is not available over TEDAPI, use /vitals")
	return nil
}

func (d *Dispatcher) vitals(ctx context.Context, v *view) any {
	out := tedapi.Vitals(v.config(ctx), v.controller(ctx), d.src.Host(), d.now())
	if out == nil {
		return nil
	}
	return out
}

func (d *Dispatcher) fans(ctx context.Context, v *view) any {
	controller := v.controller(ctx)
	if _, ok := controller.(map[string]any); !ok {
		return nil
	}
	return tedapi.FanSpeeds(controller)
}

func (d *Dispatcher) temps(ctx context.Context, v *view) any {
	controller := v.controller(ctx)
	if _, ok := controller.(map[string]any); !ok {
		return nil
	}
	return tedapi.AmbientTemperatures(controller)
}

func (d *Dispatcher) alerts(ctx context.Context, v *view) any {
	status := v.status(ctx)
	if _, ok := status.(map[string]any); !ok {
		return nil
	}
	return tedapi.Alerts(status)
}

func (d *Dispatcher) batteryBlocks(ctx context.Context, v *view) any {
	config := v.config(ctx)
	if _, ok := config.(map[string]any); !ok {
		return nil
	}
	blocks := tedapi.BatteryBlocks(config)
	if blocks == nil {
		return []any{}
	}
	return blocks
}

// timestamp renders the status document's system time in the legacy
// RFC 3339 form, falling back to now.
func (d *Dispatcher) timestamp(status any) string {
	if s, ok := tedapi.LookupString(status, "system", "time"); ok && s != "" {
		return s
	}
	return d.now().Format(time.RFC3339Nano)
}

// siteValue looks a key up under site_info first, then at the top level.
func siteValue(config any, key string) any {
	if v := tedapi.Lookup(config, "site_info", key); v != nil {
		return v
	}
	return tedapi.Lookup(config, key)
}

func lookupAny(doc any, key string) any {
	return tedapi.Lookup(doc, key)
}

func firstOf(list []any) any {
	if len(list) == 0 {
		return nil
	}
	return list[0]
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
