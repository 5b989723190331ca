package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"clientdesk.org/internal/obs"
	"clientdesk.org/internal/security"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := obs.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// writeThrottle answers 429 with the security type and the remaining delay, a number of
// seconds or "captcha".
func writeThrottle(w http.ResponseWriter, r *http.Request, te *security.ThrottleError) {
	if !te.Delay.IsCaptcha() {
		w.Header().Set("Retry-After", strconv.Itoa(te.Delay.Seconds()))
	}
	payload := map[string]any{
		"error":           te.Reason,
		"security_type":   te.Type,
		"remaining_delay": te.Delay,
	}
	if rid := obs.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, http.StatusTooManyRequests, payload)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
