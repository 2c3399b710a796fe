package handler

import (
	"fmt"
	"net/http"

	"github.com/go-identity-nosql/internal/application/merge"
	"github.com/go-identity-nosql/internal/domain"
	jwtinfra "github.com/go-identity-nosql/internal/infrastructure/jwt"
	"github.com/go-identity-nosql/internal/transport/http/middleware"
)

// secondaryProof is a bearer token issued to a secondary identity. Presenting
// it shows the caller controls that identity too.
type secondaryProof struct {
	ID    string `json:"id" validate:"required"`
	Token string `json:"token" validate:"required"`
}

type mergeRequest struct {
	Secondary secondaryProof `json:"secondary"`
}

type groupMergeRequest struct {
	Secondaries    []secondaryProof `json:"secondaries" validate:"required,min=1,max=20,dive"`
	CreateNewGroup bool             `json:"create_new_group"`
}

type tokenVerifier interface {
	Verify(tokenStr string) (*jwtinfra.Claims, error)
}

// MergeHandler consolidates identities into the authenticated one.
type MergeHandler struct {
	svc      merge.Service
	verifier tokenVerifier
}

func NewMergeHandler(svc merge.Service, verifier tokenVerifier) *MergeHandler {
	return &MergeHandler{svc: svc, verifier: verifier}
}

func (h *MergeHandler) Merge(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req mergeRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.prove(req.Secondary); err != nil {
		httpError(w, err)
		return
	}
	res, err := h.svc.MergeAccounts(r.Context(), claims.IdentityID, req.Secondary.ID)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *MergeHandler) MergeWithGroup(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req groupMergeRequest
	if !decode(w, r, &req) {
		return
	}
	ids := make([]string, 0, len(req.Secondaries))
	for _, p := range req.Secondaries {
		if err := h.prove(p); err != nil {
			httpError(w, err)
			return
		}
		ids = append(ids, p.ID)
	}
	res, err := h.svc.MergeAccountsWithGroup(r.Context(), claims.IdentityID, ids, req.CreateNewGroup)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *MergeHandler) prove(p secondaryProof) error {
	claims, err := h.verifier.Verify(p.Token)
	if err != nil || claims.IdentityID != p.ID {
		return fmt.Errorf("no valid token for identity %s: %w", p.ID, domain.ErrForbidden)
	}
	return nil
}
