package handler

import (
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/go-identity-nosql/internal/application/group"
	"github.com/go-identity-nosql/internal/domain"
	"github.com/go-identity-nosql/internal/transport/http/middleware"
)

// GroupHandler handles group creation and listing. Only members may list a
// group's accounts.
type GroupHandler struct {
	svc group.Service
}

func NewGroupHandler(svc group.Service) *GroupHandler { return &GroupHandler{svc: svc} }

func (h *GroupHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	res, err := h.svc.CreateGroup(r.Context(), claims.IdentityID)
	if err != nil {
		httpError(w, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

func (h *GroupHandler) Accounts(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	groupID := chi.URLParam(r, "groupID")
	accounts, err := h.svc.GetGroupAccounts(r.Context(), groupID)
	if err != nil {
		httpError(w, err)
		return
	}
	member := slices.ContainsFunc(accounts, func(i domain.Identity) bool {
		return i.ID == claims.IdentityID && !i.Merged()
	})
	if !member {
		writeError(w, http.StatusForbidden, "not a member of this group")
		return
	}
	writeJSON(w, http.StatusOK, AccountsEnvelope{GroupID: groupID, Accounts: accounts})
}
