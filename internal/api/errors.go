package api

import (
	"encoding/json"
	"net/http"

	"github.com/nerrad567/gray-logic-teg/internal/legacy"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes the proxy's {"error": message} body.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeTimeout answers a read whose document was unavailable.
func writeTimeout(w http.ResponseWriter) {
	writeError(w, http.StatusGatewayTimeout, "timeout")
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, message)
}

// legacyStatus maps a dispatch error code to its HTTP status.
func legacyStatus(code legacy.ErrorCode) int {
	switch code {
	case legacy.CodeUnknownAPI:
		return http.StatusNotFound
	case legacy.CodeUnauthorized:
		return http.StatusUnauthorized
	case legacy.CodeCommandFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// writeLegacyError writes a dispatch error in the legacy {"ERROR": message}
// form.
func writeLegacyError(w http.ResponseWriter, err *legacy.Error) {
	writeJSON(w, legacyStatus(err.Code), err)
}

// writeControlError writes a control failure the way the proxy reports it:
// rejected tokens under "unauthorized", everything else under "error".
func writeControlError(w http.ResponseWriter, err *legacy.Error) {
	if err.Code == legacy.CodeUnauthorized {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"unauthorized": err.Message})
		return
	}
	writeError(w, legacyStatus(err.Code), err.Message)
}
