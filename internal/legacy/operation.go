package legacy

import (
	"context"
	"fmt"
	"strconv"
)

// Operating modes accepted by the operation write endpoint.
const (
	ModeSelfConsumption = "self_consumption"
	ModeBackup          = "backup"
	ModeAutonomous      = "autonomous"
)

// OperationRequest is a validated change to the site's operating mode
// and/or backup reserve. Nil or empty fields are left unchanged.
type OperationRequest struct {
	Mode                 string   `json:"real_mode,omitempty"`
	BackupReservePercent *float64 `json:"backup_reserve_percent,omitempty"`
}

// ParseOperation validates a write payload. Accepted keys are "real_mode"
// (or "mode") and "backup_reserve_percent" (or "reserve").
func ParseOperation(payload map[string]any) (OperationRequest, error) {
	var req OperationRequest

	mode := firstPresent(payload, "real_mode", "mode")
	if mode != nil {
		s, ok := mode.(string)
		if !ok {
			return req, invalidRequest("mode must be a string")
		}
		switch s {
		case ModeSelfConsumption, ModeBackup, ModeAutonomous:
			req.Mode = s
		default:
			return req, invalidRequest(fmt.Sprintf("invalid mode %q", s))
		}
	}

	reserve := firstPresent(payload, "backup_reserve_percent", "reserve")
	if reserve != nil {
		pct, err := parseReserve(reserve)
		if err != nil {
			return req, err
		}
		req.BackupReservePercent = &pct
	}

	if req.Mode == "" && req.BackupReservePercent == nil {
		return req, invalidRequest("nothing to change")
	}
	return req, nil
}

func parseReserve(v any) (float64, error) {
	var pct float64
	switch r := v.(type) {
	case float64:
		pct = r
	case int:
		pct = float64(r)
	case string:
		n, err := strconv.Atoi(r)
		if err != nil {
			return 0, invalidRequest("reserve must be a whole number")
		}
		pct = float64(n)
	default:
		return 0, invalidRequest("reserve must be a number")
	}
	if pct < 0 || pct > 100 {
		return 0, invalidRequest("reserve must be between 0 and 100")
	}
	return pct, nil
}

func firstPresent(payload map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := payload[k]; ok {
			return v
		}
	}
	return nil
}

func invalidRequest(msg string) *Error {
	return &Error{Code: CodeInvalidRequest, Message: "Invalid request: " + msg}
}

// setOperation is the write handler for /api/operation.
func (d *Dispatcher) setOperation(ctx context.Context, payload map[string]any) (any, error) {
	req, err := ParseOperation(payload)
	if err != nil {
		return nil, err
	}
	if d.operator == nil {
		d.logger.Warn("operation change requested but no operator is configured")
		return nil, nil
	}
	return d.operator.SetOperation(ctx, req)
}
