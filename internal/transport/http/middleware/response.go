package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// errorBody matches the error envelope the handlers write, so clients see one
// shape whether a request was stopped here or further in.
type errorBody struct {
	Error     string `json:"error"`
	ErrorCode int    `json:"error_code"`
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: msg, ErrorCode: status})
}

// writeTooMany rejects a rate-limited request, telling the client when the
// bucket refills.
func writeTooMany(w http.ResponseWriter, retryAfterSeconds int) {
	if retryAfterSeconds < 1 {
		retryAfterSeconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	writeJSONError(w, http.StatusTooManyRequests, "too many requests")
}
