package api

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/nerrad567/gray-logic-teg/internal/legacy"
	"github.com/nerrad567/gray-logic-teg/internal/metrics"
	"github.com/nerrad567/gray-logic-teg/internal/tedapi"
)

// Legacy endpoint names read by the convenience routes.
const (
	pathAggregates   = "/api/meters/aggregates"
	pathSOE          = "/api/system_status/soe"
	pathGridStatus   = "/api/system_status/grid_status"
	pathSystemStatus = "/api/system_status"
	pathStatus       = "/api/status"
	pathOperation    = "/api/operation"
	pathSiteName     = "/api/site_info/site_name"
	pathVitals       = "/vitals"
	pathTemps        = "/temps"
	pathAlerts       = "/alerts"
	pathRawStatus    = "/tedapi/status"
)

// poll reads one legacy endpoint and records the outcome. A nil value
// counts as a timeout when the caller cannot answer without it.
func (s *Server) poll(ctx context.Context, name string, opts legacy.Options, required bool) legacy.Result {
	res := s.dispatcher.Poll(ctx, name, opts)
	switch {
	case res.Err != nil:
		s.polls.ObservePoll(name, metrics.OutcomeError)
	case res.Value == nil && required:
		s.polls.ObservePoll(name, metrics.OutcomeTimeout)
	case res.Value == nil:
		s.polls.ObservePoll(name, metrics.OutcomeEmpty)
	default:
		s.polls.ObservePoll(name, metrics.OutcomeOK)
	}
	return res
}

// pollOptions reads the force and raw query flags.
func pollOptions(r *http.Request) legacy.Options {
	q := r.URL.Query()
	return legacy.Options{Force: flag(q.Get("force")), Raw: flag(q.Get("raw"))}
}

func flag(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// respond writes a dispatch result: errors in legacy form, nil as a
// timeout, anything else as 200 JSON.
func (s *Server) respond(w http.ResponseWriter, res legacy.Result) {
	switch {
	case res.Err != nil:
		s.stats.error()
		writeLegacyError(w, res.Err)
	case res.Value == nil:
		s.stats.timedOut()
		writeTimeout(w)
	default:
		writeJSON(w, http.StatusOK, res.Value)
	}
}

// handlePoll passes a request straight to the dispatcher, keyed by path.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	s.stats.get(r.URL.Path)
	s.respond(w, s.poll(r.Context(), r.URL.Path, pollOptions(r), true))
}

// handleAggregates serves meter aggregates with the negative-solar clamp
// unless api.neg_solar is set.
func (s *Server) handleAggregates(w http.ResponseWriter, r *http.Request) {
	s.stats.get(r.URL.Path)
	opts := pollOptions(r)
	res := s.poll(r.Context(), pathAggregates, opts, true)
	if res.Err == nil && !opts.Raw && !s.cfg.NegSolar {
		res.Value = clampSolar(res.Value)
	}
	s.respond(w, res)
}

func (s *Server) handleSOE(w http.ResponseWriter, r *http.Request) {
	s.stats.get(r.URL.Path)
	s.respond(w, s.poll(r.Context(), pathSOE, pollOptions(r), true))
}

// handleAppSOE serves the state of energy on the app's scale, where the
// bottom 5% of the pack is reserved and reads as 0%.
func (s *Server) handleAppSOE(w http.ResponseWriter, r *http.Request) {
	s.stats.get(r.URL.Path)
	opts := pollOptions(r)
	res := s.poll(r.Context(), pathSOE, opts, true)
	if res.Err == nil && !opts.Raw {
		if pct, ok := tedapi.LookupFloat(res.Value, "percentage"); ok {
			res.Value = map[string]any{"percentage": appScale(pct)}
		}
	}
	s.respond(w, res)
}

// appScale maps a raw pack percentage onto the 5..100 range the app shows.
func appScale(pct float64) float64 {
	return math.Max(0, math.Min(100, (pct-5)/95*100))
}

// clampSolar moves negative solar power into load. The input is left
// untouched; a shallow copy of the changed meters is returned.
func clampSolar(v any) any {
	agg, ok := v.(map[string]any)
	if !ok {
		return v
	}
	solar, sok := agg["solar"].(map[string]any)
	load, lok := agg["load"].(map[string]any)
	if !sok || !lok {
		return v
	}
	sp, _ := tedapi.LookupFloat(solar, "instant_power")
	if sp >= 0 {
		return v
	}
	lp, _ := tedapi.LookupFloat(load, "instant_power")

	out := make(map[string]any, len(agg))
	for k, m := range agg {
		out[k] = m
	}
	out["solar"] = withPower(solar, 0)
	out["load"] = withPower(load, lp-sp)
	return out
}

func withPower(meter map[string]any, power float64) map[string]any {
	out := make(map[string]any, len(meter))
	for k, v := range meter {
		out[k] = v
	}
	out["instant_power"] = power
	return out
}

// handleCSV answers "grid,home,solar,battery,level" as plain text.
func (s *Server) handleCSV(w http.ResponseWriter, r *http.Request) {
	s.stats.get(r.URL.Path)
	ctx := r.Context()
	opts := pollOptions(r)

	agg := s.poll(ctx, pathAggregates, opts, true)
	if agg.Err != nil || agg.Value == nil {
		s.respond(w, agg)
		return
	}
	value := agg.Value
	if !s.cfg.NegSolar {
		value = clampSolar(value)
	}
	soe := s.poll(ctx, pathSOE, opts, false)

	power := func(loc string) float64 {
		f, _ := tedapi.LookupFloat(value, loc, "instant_power")
		return f
	}
	level, _ := tedapi.LookupFloat(soe.Value, "percentage")

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // Best-effort write to response; connection may be closed
	fmt.Fprintf(w, "%0.2f,%0.2f,%0.2f,%0.2f,%0.2f\n",
		power("site"), power("load"), power("solar"), power("battery"), level)
}

// handleFreq collects frequency, voltage and island readings per battery
// and from the synchronizer.
func (s *Server) handleFreq(w http.ResponseWriter, r *http.Request) {
	s.stats.get(r.URL.Path)
	ctx := r.Context()
	opts := legacy.Options{Force: pollOptions(r).Force}

	sys := s.poll(ctx, pathSystemStatus, opts, true)
	if sys.Err != nil || sys.Value == nil {
		s.respond(w, sys)
		return
	}

	out := make(map[string]any)
	for i, block := range tedapi.LookupList(sys.Value, "battery_blocks") {
		p := fmt.Sprintf("PW%d_", i+1)
		out[p+"name"] = nil
		out[p+"PINV_Fout"] = tedapi.Lookup(block, "f_out")
		out[p+"PINV_VSplit1"] = nil
		out[p+"PINV_VSplit2"] = nil
		out[p+"PackagePartNumber"] = tedapi.Lookup(block, "PackagePartNumber")
		out[p+"PackageSerialNumber"] = tedapi.Lookup(block, "PackageSerialNumber")
	}

	vitals := tedapi.LookupMap(s.poll(ctx, pathVitals, opts, false).Value)
	idx := 0
	for _, name := range sortedKeys(vitals) {
		device := tedapi.LookupMap(vitals, name)
		switch {
		case strings.HasPrefix(name, "TEPINV"):
			idx++
			p := fmt.Sprintf("PW%d_", idx)
			out[p+"name"] = name
			out[p+"PINV_Fout"] = device["PINV_Fout"]
			out[p+"PINV_VSplit1"] = device["PINV_VSplit1"]
			out[p+"PINV_VSplit2"] = device["PINV_VSplit2"]
		case strings.HasPrefix(name, "TESYNC"), strings.HasPrefix(name, "TEMSA"):
			for k, v := range device {
				if strings.HasPrefix(k, "ISLAND") || strings.HasPrefix(k, "METER") {
					out[k] = v
				}
			}
		}
	}

	grid := s.poll(ctx, pathGridStatus, opts, false)
	if st, _ := tedapi.LookupString(grid.Value, "grid_status"); st == string(tedapi.GridConnected) {
		out["grid_status"] = 1
	} else {
		out["grid_status"] = 0
	}
	writeJSON(w, http.StatusOK, out)
}

// handlePod reports per-battery energy and state with the site totals,
// backup time remaining and reserve.
func (s *Server) handlePod(w http.ResponseWriter, r *http.Request) {
	s.stats.get(r.URL.Path)
	ctx := r.Context()
	opts := legacy.Options{Force: pollOptions(r).Force}

	sys := s.poll(ctx, pathSystemStatus, opts, true)
	if sys.Err != nil || sys.Value == nil {
		s.respond(w, sys)
		return
	}

	out := make(map[string]any)
	for i, block := range tedapi.LookupList(sys.Value, "battery_blocks") {
		p := fmt.Sprintf("PW%d_", i+1)
		out[p+"name"] = nil
		out[p+"POD_nom_energy_remaining"] = tedapi.Lookup(block, "nominal_energy_remaining")
		out[p+"POD_nom_full_pack_energy"] = tedapi.Lookup(block, "nominal_full_pack_energy")
		for _, k := range []string{
			"PackagePartNumber", "PackageSerialNumber", "pinv_state", "pinv_grid_state",
			"p_out", "q_out", "v_out", "f_out", "i_out", "energy_charged", "energy_discharged",
			"off_grid", "vf_mode", "wobble_detected", "charge_power_clamped", "backup_ready",
			"OpSeqState", "version",
		} {
			out[p+k] = tedapi.Lookup(block, k)
		}
	}

	vitals := tedapi.LookupMap(s.poll(ctx, pathVitals, opts, false).Value)
	idx := 0
	for _, name := range sortedKeys(vitals) {
		if !strings.HasPrefix(name, "TEPOD") {
			continue
		}
		idx++
		p := fmt.Sprintf("PW%d_", idx)
		device := tedapi.LookupMap(vitals, name)
		out[p+"name"] = name
		out[p+"POD_nom_energy_remaining"] = device["POD_nom_energy_remaining"]
		out[p+"POD_nom_full_pack_energy"] = device["POD_nom_full_pack_energy"]
	}

	out["nominal_full_pack_energy"] = tedapi.Lookup(sys.Value, "nominal_full_pack_energy")
	out["nominal_energy_remaining"] = tedapi.Lookup(sys.Value, "nominal_energy_remaining")

	raw := s.poll(ctx, pathRawStatus, opts, false)
	if hours, ok := tedapi.BackupTimeRemaining(raw.Value); ok {
		out["time_remaining_hours"] = hours
	} else {
		out["time_remaining_hours"] = nil
	}
	out["backup_reserve_percent"] = tedapi.Lookup(s.poll(ctx, pathOperation, opts, false).Value, "backup_reserve_percent")

	writeJSON(w, http.StatusOK, out)
}

// handleVersion reports the firmware version and its integer form. A
// gateway without firmware details is treated as solar-only.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.stats.get(r.URL.Path)
	status := s.poll(r.Context(), pathStatus, pollOptions(r), false)

	version, _ := tedapi.LookupString(status.Value, "version")
	if version == "" {
		writeJSON(w, http.StatusOK, map[string]any{"version": "SolarOnly", "vint": 0})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"version": version, "vint": versionInt(version)})
}

// versionInt turns "23.44.0 eb113390" into 234400. Each dotted part is a
// base-100 digit; non-numeric parts count as zero.
func versionInt(version string) int {
	text, _, _ := strings.Cut(strings.TrimSpace(version), " ")
	parts := strings.Split(text, ".")

	total, scale := 0, 1
	for i := len(parts) - 1; i >= 0; i-- {
		n, err := strconv.Atoi(parts[i])
		if err != nil {
			n = 0
		}
		total += n * scale
		scale *= 100
	}
	return total
}

// handleTempsPW flattens battery temperatures into PW{n}_temp keys.
func (s *Server) handleTempsPW(w http.ResponseWriter, r *http.Request) {
	s.stats.get(r.URL.Path)
	temps := tedapi.LookupMap(s.poll(r.Context(), pathTemps, pollOptions(r), false).Value)

	out := make(map[string]any, len(temps))
	for i, name := range sortedKeys(temps) {
		out[fmt.Sprintf("PW%d_temp", i+1)] = temps[name]
	}
	writeJSON(w, http.StatusOK, out)
}

// handleAlertsPW reports each active alert as {"<alert>": 1}.
func (s *Server) handleAlertsPW(w http.ResponseWriter, r *http.Request) {
	s.stats.get(r.URL.Path)
	res := s.poll(r.Context(), pathAlerts, pollOptions(r), true)
	if res.Err != nil || res.Value == nil {
		s.respond(w, res)
		return
	}

	out := make(map[string]any)
	switch alerts := res.Value.(type) {
	case []string:
		for _, a := range alerts {
			out[a] = 1
		}
	case []any:
		for _, a := range alerts {
			if name, ok := a.(string); ok {
				out[name] = 1
			}
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleStrings answers an empty object; TEDAPI does not expose per-string
// inverter data in this form.
func (s *Server) handleStrings(w http.ResponseWriter, r *http.Request) {
	s.stats.get(r.URL.Path)
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	out := s.stats.snapshot()
	out["mode"] = "TEDAPI"
	out["version"] = s.version
	out["control_enabled"] = s.dispatcher.ControlEnabled()
	if s.gateway != nil {
		out["gen3"] = s.gateway.Gen3()
		out["host"] = s.gateway.Host()
	}
	site := s.dispatcher.Poll(r.Context(), pathSiteName, legacy.Options{})
	out["site_name"] = tedapi.Lookup(site.Value, "site_name")
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStatsClear(w http.ResponseWriter, _ *http.Request) {
	s.stats.clear()
	writeJSON(w, http.StatusOK, s.stats.snapshot())
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
