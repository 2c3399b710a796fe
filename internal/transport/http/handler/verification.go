package handler

import (
	"net/http"

	"github.com/go-identity-nosql/internal/application/verification"
	"github.com/go-identity-nosql/internal/pkg/id"
	"github.com/go-identity-nosql/internal/transport/http/middleware"
)

type optionalEmailRequest struct {
	Email string `json:"email" validate:"omitempty,email"`
}

type optionalPhoneRequest struct {
	Phone string `json:"phone" validate:"omitempty,phone"`
}

type codeRequest struct {
	Phone string `json:"phone" validate:"required,phone"`
	Code  string `json:"code" validate:"required,numeric,len=6"`
}

type resetRequest struct {
	Identifier string `json:"identifier" validate:"required,max=254"`
}

type bearerSigner interface {
	Sign(identityID, sessionID string) (string, error)
}

// VerificationHandler serves the email, phone, phone-login and password-reset
// flows. Request endpoints answer the same way whether or not the identifier
// is known.
type VerificationHandler struct {
	svc    verification.Service
	signer bearerSigner
}

func NewVerificationHandler(svc verification.Service, signer bearerSigner) *VerificationHandler {
	return &VerificationHandler{svc: svc, signer: signer}
}

func (h *VerificationHandler) RequestEmail(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req optionalEmailRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.svc.RequestEmailVerification(r.Context(), claims.IdentityID, req.Email); err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, MessageEnvelope{Message: "confirmation email sent"})
}

// ConfirmEmail is the target of the mailed link, so it takes the token from
// the query string and needs no bearer.
func (h *VerificationHandler) ConfirmEmail(w http.ResponseWriter, r *http.Request) {
	tok := r.URL.Query().Get("token")
	if tok == "" {
		writeError(w, http.StatusBadRequest, "token required")
		return
	}
	ident, err := h.svc.ConfirmEmail(r.Context(), tok)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ident)
}

func (h *VerificationHandler) RequestPhone(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req optionalPhoneRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.svc.RequestPhoneVerification(r.Context(), claims.IdentityID, req.Phone); err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, MessageEnvelope{Message: "verification code sent"})
}

func (h *VerificationHandler) ConfirmPhone(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req codeRequest
	if !decode(w, r, &req) {
		return
	}
	ident, err := h.svc.ConfirmPhone(r.Context(), claims.IdentityID, req.Phone, req.Code)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ident)
}

func (h *VerificationHandler) RequestPhoneLogin(w http.ResponseWriter, r *http.Request) {
	var req phoneRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.svc.RequestPhoneLogin(r.Context(), req.Phone); err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, MessageEnvelope{Message: "if the number is registered, a code was sent"})
}

func (h *VerificationHandler) ConfirmPhoneLogin(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if !decode(w, r, &req) {
		return
	}
	identityID, err := h.svc.ConfirmPhoneLogin(r.Context(), req.Phone, req.Code)
	if err != nil {
		httpError(w, err)
		return
	}
	env := LoginEnvelope{IdentityID: identityID}
	if h.signer != nil {
		bearer, err := h.signer.Sign(identityID, id.New())
		if err != nil {
			httpError(w, err)
			return
		}
		env.Bearer = bearer
	}
	writeJSON(w, http.StatusOK, env)
}

func (h *VerificationHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.svc.RequestPasswordReset(r.Context(), req.Identifier); err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, MessageEnvelope{Message: "if the account exists, reset instructions were sent"})
}

func (h *VerificationHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req verification.ResetPasswordRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.svc.ResetPassword(r.Context(), req); err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "password updated"})
}
