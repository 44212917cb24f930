package tedapi

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ECU type codes reported in teslaEnergyEcuAttributes.
const (
	ecuGateway  = 207
	ecuTHC      = 224
	ecuPOD      = 226
	ecuPINV     = 253
	ecuSYNC     = 259
	ecuPVAC     = 296
	ecuPVS      = 297
	vitalsTitle = "Device vitals generated from gateway TEDAPI"
)

// Vitals assembles the per-component vitals map from the config and
// controller documents. It returns nil unless both documents are objects.
// Documents may be up to one TTL apart in age.
//
// Parameters:
//   - config: The config.json document
//   - controller: The combined controller document
//   - gateway: Gateway address, echoed in the VITALS header
//   - now: Timestamp for the header
//
// Returns:
//   - map[string]any: Vitals keyed by component name
func Vitals(config, controller any, gateway string, now time.Time) map[string]any {
	if _, ok := config.(map[string]any); !ok {
		return nil
	}
	if _, ok := controller.(map[string]any); !ok {
		return nil
	}

	vin, _ := LookupString(config, "vin")
	gatewayName := "STSTSM--" + vin

	out := map[string]any{
		"VITALS": map[string]any{
			"text":      vitalsTitle,
			"timestamp": float64(now.UnixNano()) / 1e9,
			"gateway":   gateway,
		},
	}

	addNeurio(out, config, controller)
	addInverters(out, controller)
	addBatteries(out, controller, gatewayName)
	addBatteryDevices(out, controller, gatewayName)
	addSync(out, controller, gatewayName)

	parts := strings.Split(vin, "--")
	out[gatewayName] = map[string]any{
		"STSTSM-Location":          "Gateway",
		"alerts":                   alertsOrEmpty(controller, "control", "alerts", "active"),
		"firmwareVersion":          nil,
		"manufacturer":             "TESLA",
		"partNumber":               parts[0],
		"serialNumber":             parts[len(parts)-1],
		"teslaEnergyEcuAttributes": map[string]any{"ecuType": ecuGateway},
		"componentParentDin":       nil,
		"lastCommunicationTime":    nil,
	}

	return out
}

func addNeurio(out map[string]any, config, controller any) {
	vin, _ := LookupString(config, "vin")
	for _, reading := range LookupList(controller, "neurio", "readings") {
		serial, ok := LookupString(reading, "serial")
		if !ok || serial == "" {
			serial = "Unknown"
		}

		entry := map[string]any{
			"componentParentDin":    vin,
			"firmwareVersion":       nil,
			"lastCommunicationTime": Lookup(reading, "timestamp"),
			"manufacturer":          "NEURIO",
			"meterAttributes":       map[string]any{"meterLocation": []any{}},
			"serialNumber":          serial,
		}
		for i, ct := range LookupList(reading, "dataRead") {
			prefix := fmt.Sprintf("NEURIO_CT%d_", i)
			entry[prefix+"InstRealPower"] = Lookup(ct, "realPowerW")
			entry[prefix+"InstReactivePower"] = Lookup(ct, "reactivePowerVAR")
			entry[prefix+"InstVoltage"] = Lookup(ct, "voltageV")
			entry[prefix+"InstCurrent"] = Lookup(ct, "currentA")
			entry[prefix+"Location"] = neurioLocation(config, serial, i)
		}
		out["NEURIO--"+serial] = entry
	}
}

// neurioLocation finds the configured location of one CT on a meter.
func neurioLocation(config any, serial string, ct int) any {
	for _, m := range LookupList(config, "meters") {
		if s, _ := LookupString(m, "connection", "device_serial"); s != serial {
			continue
		}
		cts := LookupList(m, "cts")
		if ct < len(cts) {
			if loc := Lookup(cts[ct], "location"); loc != nil {
				return loc
			}
		}
		return Lookup(m, "location")
	}
	return nil
}

func addInverters(out map[string]any, controller any) {
	pvsList := LookupList(controller, "esCan", "bus", "PVS")
	for i, p := range LookupList(controller, "esCan", "bus", "PVAC") {
		sn, _ := LookupString(p, "packageSerialNumber")
		if sn == "" {
			continue
		}
		pn, ok := LookupString(p, "packagePartNumber")
		if !ok {
			pn = strconv.Itoa(i)
		}
		name := "PVAC--" + pn + "--" + sn

		entry := map[string]any{
			"PVAC_Fout":                Lookup(p, "PVAC_Status", "PVAC_Fout"),
			"PVAC_Pout":                Lookup(p, "PVAC_Status", "PVAC_Pout"),
			"PVAC_State":               Lookup(p, "PVAC_Status", "PVAC_State"),
			"PVAC_Vout":                Lookup(p, "PVAC_Status", "PVAC_Vout"),
			"PVAC_VL1Ground":           Lookup(p, "PVAC_Logging", "PVAC_VL1Ground"),
			"PVAC_VL2Ground":           Lookup(p, "PVAC_Logging", "PVAC_VL2Ground"),
			"PVAC_VHvMinusChassisDC":   Lookup(p, "PVAC_Logging", "PVAC_VHvMinusChassisDC"),
			"alerts":                   alertsOrEmpty(p, "alerts", "active"),
			"componentParentDin":       nil,
			"firmwareVersion":          nil,
			"lastCommunicationTime":    nil,
			"manufacturer":             "TESLA",
			"partNumber":               pn,
			"serialNumber":             sn,
			"teslaEnergyEcuAttributes": map[string]any{"ecuType": ecuPVAC},
		}
		for _, s := range []string{"A", "B", "C", "D"} {
			v, vok := LookupFloat(p, "PVAC_Logging", "PVAC_PVMeasuredVoltage_"+s)
			a, aok := LookupFloat(p, "PVAC_Logging", "PVAC_PVCurrent_"+s)
			entry["PVAC_PVMeasuredVoltage_"+s] = nilUnless(v, vok)
			entry["PVAC_PVCurrent_"+s] = nilUnless(a, aok)
			entry["PVAC_PVMeasuredPower_"+s] = nilUnless(v*a, vok && aok)
		}
		out[name] = entry

		if i < len(pvsList) {
			pvs := pvsList[i]
			pvsEntry := map[string]any{
				"PVS_SelfTestState":        Lookup(pvs, "PVS_Status", "PVS_SelfTestState"),
				"PVS_State":                Lookup(pvs, "PVS_Status", "PVS_State"),
				"PVS_vLL":                  Lookup(pvs, "PVS_Status", "PVS_vLL"),
				"alerts":                   alertsOrEmpty(pvs, "alerts", "active"),
				"componentParentDin":       name,
				"firmwareVersion":          nil,
				"lastCommunicationTime":    nil,
				"manufacturer":             "TESLA",
				"partNumber":               pn,
				"serialNumber":             sn,
				"teslaEnergyEcuAttributes": map[string]any{"ecuType": ecuPVS},
			}
			for _, s := range []string{"A", "B", "C", "D"} {
				pvsEntry["PVS_String"+s+"_Connected"] = Lookup(pvs, "PVS_Status", "PVS_String"+s+"_Connected")
			}
			out["PVS--"+pn+"--"+sn] = pvsEntry
		}
	}
}

func addBatteries(out map[string]any, controller any, gatewayName string) {
	pods := LookupList(controller, "esCan", "bus", "POD")
	pinvs := LookupList(controller, "esCan", "bus", "PINV")
	temps := AmbientTemperatures(controller)

	for i, thc := range LookupList(controller, "esCan", "bus", "THC") {
		sn, _ := LookupString(thc, "packageSerialNumber")
		if sn == "" {
			continue
		}
		pn, ok := LookupString(thc, "packagePartNumber")
		if !ok {
			pn = strconv.Itoa(i)
		}
		suffix := "--" + pn + "--" + sn
		thcName := "TETHC" + suffix

		if i < len(pods) {
			pod := pods[i]
			out["TEPOD"+suffix] = map[string]any{
				"POD_nom_energy_remaining": Lookup(pod, "POD_EnergyStatus", "POD_nom_energy_remaining"),
				"POD_nom_full_pack_energy": Lookup(pod, "POD_EnergyStatus", "POD_nom_full_pack_energy"),
				"alerts":                   alertsOrEmpty(pod, "alerts", "active"),
				"componentParentDin":       thcName,
				"firmwareVersion":          nil,
				"lastCommunicationTime":    nil,
				"manufacturer":             "TESLA",
				"partNumber":               pn,
				"serialNumber":             sn,
				"teslaEnergyEcuAttributes": map[string]any{"ecuType": ecuPOD},
			}
		}

		if i < len(pinvs) {
			pinv := pinvs[i]
			out["TEPINV"+suffix] = map[string]any{
				"PINV_Fout":                Lookup(pinv, "PINV_Status", "PINV_Fout"),
				"PINV_GridState":           Lookup(pinv, "PINV_Status", "PINV_GridState"),
				"PINV_Pnom":                Lookup(pinv, "PINV_PowerCapability", "PINV_Pnom"),
				"PINV_Pout":                Lookup(pinv, "PINV_Status", "PINV_Pout"),
				"PINV_State":               Lookup(pinv, "PINV_Status", "PINV_State"),
				"PINV_VSplit1":             Lookup(pinv, "PINV_AcMeasurements", "PINV_VSplit1"),
				"PINV_VSplit2":             Lookup(pinv, "PINV_AcMeasurements", "PINV_VSplit2"),
				"PINV_Vout":                Lookup(pinv, "PINV_Status", "PINV_Vout"),
				"alerts":                   alertsOrEmpty(pinv, "alerts", "active"),
				"componentParentDin":       thcName,
				"firmwareVersion":          nil,
				"lastCommunicationTime":    nil,
				"manufacturer":             "TESLA",
				"partNumber":               pn,
				"serialNumber":             sn,
				"teslaEnergyEcuAttributes": map[string]any{"ecuType": ecuPINV},
			}
		}

		out[thcName] = map[string]any{
			"THC_AmbientTemp":          temps[thcName],
			"THC_State":                Lookup(thc, "THC_Status", "THC_State"),
			"alerts":                   alertsOrEmpty(thc, "alerts", "active"),
			"componentParentDin":       gatewayName,
			"firmwareVersion":          nil,
			"lastCommunicationTime":    nil,
			"manufacturer":             "TESLA",
			"partNumber":               pn,
			"serialNumber":             sn,
			"teslaEnergyEcuAttributes": map[string]any{"ecuType": ecuTHC},
		}
	}
}

// addBatteryDevices adds TEPINV and TEPOD entries for Powerwall 3 blocks
// from the per-battery documents attached to the controller document.
// Power is reported in kW and pack energy in Wh, as for older blocks.
func addBatteryDevices(out map[string]any, controller any, gatewayName string) {
	for vin, doc := range LookupMap(controller, BatteryDevicesKey) {
		parts := strings.Split(vin, "--")
		pn, sn := parts[0], parts[len(parts)-1]

		pch := firstComponent(doc, "pch")
		bms := firstComponent(doc, "bms")
		pchSignals := signalValues(pch)
		bmsSignals := signalValues(bms)
		inverterName := "TEPINV--" + vin

		out[inverterName] = map[string]any{
			"PINV_Fout":                pchSignals["PCH_AcFrequency"],
			"PINV_GridState":           pchSignals["PCH_GridState"],
			"PINV_Pout":                scaleSignal(pchSignals["PCH_AcRealPowerAB"], 0.001),
			"PINV_State":               pchSignals["PCH_State"],
			"PINV_VSplit1":             pchSignals["PCH_AcVoltageAN"],
			"PINV_VSplit2":             pchSignals["PCH_AcVoltageBN"],
			"PINV_Vout":                pchSignals["PCH_AcVoltageAB"],
			"alerts":                   activeAlertNames(pch),
			"componentParentDin":       gatewayName,
			"firmwareVersion":          nil,
			"lastCommunicationTime":    nil,
			"manufacturer":             "TESLA",
			"partNumber":               pn,
			"serialNumber":             sn,
			"teslaEnergyEcuAttributes": map[string]any{"ecuType": ecuPINV},
		}
		out["TEPOD--"+vin] = map[string]any{
			"POD_nom_energy_remaining": scaleSignal(bmsSignals["BMS_nominalEnergyRemaining"], 1000),
			"POD_nom_full_pack_energy": scaleSignal(bmsSignals["BMS_nominalFullPackEnergy"], 1000),
			"alerts":                   activeAlertNames(bms),
			"componentParentDin":       inverterName,
			"firmwareVersion":          nil,
			"lastCommunicationTime":    nil,
			"manufacturer":             "TESLA",
			"partNumber":               pn,
			"serialNumber":             sn,
			"teslaEnergyEcuAttributes": map[string]any{"ecuType": ecuPOD},
		}
	}
}

func firstComponent(doc any, group string) any {
	if list := LookupList(doc, "components", group); len(list) > 0 {
		return list[0]
	}
	return nil
}

// signalValues flattens a component's signal list to name -> value, taking
// the numeric value, then the text value, then the boolean value.
func signalValues(component any) map[string]any {
	out := make(map[string]any)
	for _, sig := range LookupList(component, "signals") {
		name, ok := LookupString(sig, "name")
		if !ok {
			continue
		}
		for _, field := range []string{"value", "textValue", "boolValue"} {
			if v := Lookup(sig, field); v != nil {
				out[name] = v
				break
			}
		}
	}
	return out
}

func activeAlertNames(component any) []any {
	names := []any{}
	for _, a := range LookupList(component, "activeAlerts") {
		if name, ok := LookupString(a, "name"); ok {
			names = append(names, name)
		}
	}
	return names
}

func scaleSignal(v any, factor float64) any {
	f, ok := toFloat(v)
	return nilUnless(f*factor, ok)
}

var (
	islanderMeasurements = []string{
		"ISLAND_FreqL1_Load", "ISLAND_FreqL2_Load", "ISLAND_FreqL3_Load",
		"ISLAND_FreqL1_Main", "ISLAND_FreqL2_Main", "ISLAND_FreqL3_Main",
		"ISLAND_VL1N_Load", "ISLAND_VL2N_Load", "ISLAND_VL3N_Load",
		"ISLAND_VL1N_Main", "ISLAND_VL2N_Main", "ISLAND_VL3N_Main",
		"ISLAND_L1L2PhaseDelta", "ISLAND_L1L3PhaseDelta", "ISLAND_L2L3PhaseDelta",
	}
	meterMeasurements = []string{
		"CTA_I", "CTB_I", "CTC_I",
		"CTA_InstRealPower", "CTB_InstRealPower", "CTC_InstRealPower",
		"CTA_InstReactivePower", "CTB_InstReactivePower", "CTC_InstReactivePower",
		"LifetimeEnergyImport", "LifetimeEnergyExport",
		"VL1N", "VL2N", "VL3N",
	}
)

func addSync(out map[string]any, controller any, gatewayName string) {
	sync := Lookup(controller, "esCan", "bus", "SYNC")
	islander := Lookup(controller, "esCan", "bus", "ISLANDER")

	pn, _ := LookupString(sync, "packagePartNumber")
	sn, _ := LookupString(sync, "packageSerialNumber")

	entry := map[string]any{
		"ISLAND_GridConnected":     Lookup(islander, "ISLAND_GridConnection", "ISLAND_GridConnected"),
		"alerts":                   alertsOrEmpty(sync, "alerts", "active"),
		"componentParentDin":       gatewayName,
		"firmwareVersion":          nil,
		"manufacturer":             "TESLA",
		"partNumber":               pn,
		"serialNumber":             sn,
		"teslaEnergyEcuAttributes": map[string]any{"ecuType": ecuSYNC},
	}
	for _, k := range islanderMeasurements {
		entry[k] = Lookup(islander, "ISLAND_AcMeasurements", k)
	}
	for _, meter := range []string{"METER_X", "METER_Y"} {
		for _, k := range meterMeasurements {
			entry[meter+"_"+k] = Lookup(sync, meter+"_AcMeasurements", meter+"_"+k)
		}
	}
	out["TESYNC--"+pn+"--"+sn] = entry
}

func alertsOrEmpty(doc any, path ...string) []any {
	if l := LookupList(doc, path...); l != nil {
		return l
	}
	return []any{}
}

// nilUnless returns v when ok, otherwise nil, rounding to the precision the
// gateway reports.
func nilUnless(v float64, ok bool) any {
	if !ok {
		return nil
	}
	return math.Round(v*100) / 100
}
