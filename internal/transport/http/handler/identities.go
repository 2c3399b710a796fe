package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-identity-nosql/internal/application/identity"
)

type emailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type phoneRequest struct {
	Phone string `json:"phone" validate:"required,phone"`
}

// IdentityHandler handles identity registration and identifier management.
// Routes under /identities/{id} are restricted to the identity itself.
type IdentityHandler struct {
	svc identity.Service
}

func NewIdentityHandler(svc identity.Service) *IdentityHandler { return &IdentityHandler{svc: svc} }

func (h *IdentityHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req identity.RegisterRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.Register(r.Context(), req)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *IdentityHandler) Get(w http.ResponseWriter, r *http.Request) {
	ident, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ident)
}

func (h *IdentityHandler) AddEmail(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decode(w, r, &req) {
		return
	}
	ident, err := h.svc.AddEmail(r.Context(), chi.URLParam(r, "id"), req.Email)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ident)
}

func (h *IdentityHandler) AddPhone(w http.ResponseWriter, r *http.Request) {
	var req phoneRequest
	if !decode(w, r, &req) {
		return
	}
	ident, err := h.svc.AddPhone(r.Context(), chi.URLParam(r, "id"), req.Phone)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ident)
}

func (h *IdentityHandler) RemoveEmail(w http.ResponseWriter, r *http.Request) {
	ident, err := h.svc.RemoveEmail(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "value"))
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ident)
}

func (h *IdentityHandler) RemovePhone(w http.ResponseWriter, r *http.Request) {
	ident, err := h.svc.RemovePhone(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "value"))
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ident)
}

func (h *IdentityHandler) RemoveProvider(w http.ResponseWriter, r *http.Request) {
	ident, err := h.svc.RemoveProvider(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "value"))
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ident)
}
