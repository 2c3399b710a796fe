package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-identity-nosql/internal/domain"
	"github.com/go-identity-nosql/internal/pkg/validate"
)

// MessageEnvelope is the generic response wrapper.
type MessageEnvelope struct {
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorCode int    `json:"error_code,omitempty"`
}

// LoginEnvelope wraps a confirmed phone login.
type LoginEnvelope struct {
	Bearer     string `json:"Bearer,omitempty"`
	IdentityID string `json:"identity_id"`
}

// CandidatesEnvelope wraps candidate search results.
type CandidatesEnvelope struct {
	Candidates []domain.Candidate `json:"candidates"`
}

// AccountsEnvelope wraps the accounts of a group.
type AccountsEnvelope struct {
	GroupID  string            `json:"group_id"`
	Accounts []domain.Identity `json:"accounts"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageEnvelope{Error: msg, ErrorCode: status})
}

// decode reads a JSON body into dst and validates it. It writes the error
// response itself and reports whether the handler may continue.
func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return false
	}
	return true
}
