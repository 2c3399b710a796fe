package handler

import (
	"context"
	"net/http"
	"slices"

	"github.com/go-identity-nosql/internal/application/linking"
	"github.com/go-identity-nosql/internal/application/matching"
	"github.com/go-identity-nosql/internal/domain"
	"github.com/go-identity-nosql/internal/transport/http/middleware"
)

type candidatesRequest struct {
	Email string `json:"email" validate:"omitempty,email"`
	Phone string `json:"phone" validate:"omitempty,phone"`
	Name  string `json:"name" validate:"omitempty,max=200"`
}

type autoLinkRequest struct {
	Threshold int `json:"threshold" validate:"omitempty,min=1,max=100"`
}

type identityGetter interface {
	Get(ctx context.Context, identityID string) (*domain.Identity, error)
}

// LinkingHandler exposes candidate search, link suggestions and auto-linking
// for the authenticated identity. The caller is never its own candidate.
// Callers may ask for a stricter auto-link threshold but never a looser one
// than minAutoLink.
type LinkingHandler struct {
	matcher     matching.Service
	linker      linking.Service
	identities  identityGetter
	minAutoLink int
}

func NewLinkingHandler(matcher matching.Service, linker linking.Service, identities identityGetter, minAutoLink int) *LinkingHandler {
	return &LinkingHandler{matcher: matcher, linker: linker, identities: identities, minAutoLink: minAutoLink}
}

func (h *LinkingHandler) Candidates(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req candidatesRequest
	if !decode(w, r, &req) {
		return
	}
	cands, err := h.matcher.FindCandidates(r.Context(), matching.Query{
		Email: req.Email, Phone: req.Phone, Name: req.Name, ExcludeID: claims.IdentityID,
	})
	if err != nil {
		httpError(w, err)
		return
	}
	if cands == nil {
		cands = []domain.Candidate{}
	}
	writeJSON(w, http.StatusOK, CandidatesEnvelope{Candidates: cands})
}

func (h *LinkingHandler) Suggest(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req candidatesRequest
	if !decode(w, r, &req) {
		return
	}
	sug, err := h.linker.Suggest(r.Context(), linking.Input{
		Email: req.Email, Phone: req.Phone, Name: req.Name, ExcludeID: claims.IdentityID,
	})
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sug)
}

// AutoLink links the caller using the verified identifiers on its own
// identity. Unverified identifiers prove nothing and are never matched.
func (h *LinkingHandler) AutoLink(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req autoLinkRequest
	if !decode(w, r, &req) {
		return
	}
	ident, err := h.identities.Get(r.Context(), claims.IdentityID)
	if err != nil {
		httpError(w, err)
		return
	}
	in := linking.Input{
		Email: verifiedOf(ident.Email, ident.VerifiedEmails),
		Phone: verifiedOf(ident.Phone, ident.VerifiedPhones),
		Name:  ident.Name,
	}
	if in.Email == "" && in.Phone == "" {
		writeJSON(w, http.StatusOK, domain.AutoLinkResult{Message: "auto-link needs a verified email or phone"})
		return
	}
	res, err := h.linker.AutoLinkIfConfident(r.Context(), ident.ID, in, max(req.Threshold, h.minAutoLink))
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// verifiedOf prefers the primary identifier when it is verified, then the
// first verified one.
func verifiedOf(primary string, verified []string) string {
	if primary != "" && slices.Contains(verified, primary) {
		return primary
	}
	if len(verified) > 0 {
		return verified[0]
	}
	return ""
}
