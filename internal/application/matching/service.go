package matching

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/go-identity-nosql/internal/config"
	"github.com/go-identity-nosql/internal/domain"
	"github.com/go-identity-nosql/internal/metrics"
	"github.com/go-identity-nosql/internal/store"
)

// Query carries the identifiers to match on. Name is informational only.
type Query struct {
	Email     string `json:"email,omitempty" validate:"omitempty,email"`
	Phone     string `json:"phone,omitempty"`
	Name      string `json:"name,omitempty"`
	ExcludeID string `json:"exclude_id,omitempty"`
}

// Empty reports whether the query carries no identifier at all.
func (q Query) Empty() bool {
	return q.Email == "" && q.Phone == "" && q.Name == ""
}

type Service interface {
	FindCandidates(ctx context.Context, q Query) ([]domain.Candidate, error)
}

type identityFinder interface {
	FindMany(ctx context.Context, c store.Collection, f store.Filter, out any) error
}

type service struct {
	store   identityFinder
	policy  config.MatchPolicy
	metrics *metrics.Metrics
}

type ServiceDeps struct {
	Store   identityFinder
	Policy  config.MatchPolicy
	Metrics *metrics.Metrics
}

func NewService(deps ServiceDeps) Service {
	return &service{store: deps.Store, policy: deps.Policy, metrics: deps.Metrics}
}

type match struct {
	identity domain.Identity
	email    string
	phone    string
	reasons  []domain.MatchReason
}

func (s *service) FindCandidates(ctx context.Context, q Query) ([]domain.Candidate, error) {
	if q.Empty() {
		return nil, fmt.Errorf("email, phone or name required: %w", domain.ErrInvalidInput)
	}
	email := domain.NormalizeEmail(q.Email)
	phone := domain.NormalizePhone(q.Phone)

	matches := map[string]*match{}
	if email != "" {
		if err := s.collect(ctx, matches, q.ExcludeID, "email", "linked_emails", email,
			domain.ReasonPrimaryEmail, domain.ReasonLinkedEmail); err != nil {
			return nil, err
		}
	}
	if phone != "" {
		if err := s.collect(ctx, matches, q.ExcludeID, "phone", "linked_phones", phone,
			domain.ReasonPrimaryPhone, domain.ReasonLinkedPhone); err != nil {
			return nil, err
		}
	}

	candidates := make([]domain.Candidate, 0, len(matches))
	for _, m := range matches {
		candidates = append(candidates, s.candidate(m))
	}
	slices.SortFunc(candidates, func(a, b domain.Candidate) int {
		if c := cmp.Compare(b.Confidence, a.Confidence); c != 0 {
			return c
		}
		return cmp.Compare(a.IdentityID, b.IdentityID)
	})
	if limit := s.policy.MaxCandidates; limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	s.metrics.CandidateSearch(len(candidates))
	return candidates, nil
}

// collect runs the primary lookup (served by an index) and the linked-set
// lookup for one signal and folds both into matches.
func (s *service) collect(ctx context.Context, matches map[string]*match, excludeID, primaryField, linkedField, value string, primary, linked domain.MatchReason) error {
	lookups := []struct {
		cond   store.Cond
		reason domain.MatchReason
	}{
		{store.Eq(primaryField, value), primary},
		{store.Contains(linkedField, value), linked},
	}
	for _, l := range lookups {
		f := store.Where(l.cond, store.Ne("account_status", domain.AccountMerged))
		if excludeID != "" {
			f = append(f, store.Ne("identity_id", excludeID))
		}
		var found []domain.Identity
		if err := s.store.FindMany(ctx, store.Identities, f, &found); err != nil {
			return fmt.Errorf("find candidates by %s: %w", l.reason, err)
		}
		for _, ident := range found {
			m, ok := matches[ident.ID]
			if !ok {
				m = &match{identity: ident}
				matches[ident.ID] = m
			}
			if !slices.Contains(m.reasons, l.reason) {
				m.reasons = append(m.reasons, l.reason)
			}
			if primaryField == "email" {
				m.email = value
			} else {
				m.phone = value
			}
		}
	}
	return nil
}

func (s *service) candidate(m *match) domain.Candidate {
	confidence := s.policy.EmailConfidence
	switch {
	case m.email != "" && m.phone != "":
		confidence = s.policy.CombinedConfidence
	case m.phone != "":
		confidence = s.policy.PhoneConfidence
	}
	return domain.Candidate{
		IdentityID:   m.identity.ID,
		MatchedEmail: m.email,
		MatchedPhone: m.phone,
		Name:         m.identity.Name,
		AuthMethod:   AuthMethod(&m.identity),
		Confidence:   confidence,
		Reasons:      m.reasons,
	}
}

// AuthMethod names how the identity usually signs in, for display next to a
// candidate.
func AuthMethod(i *domain.Identity) string {
	switch {
	case i.HasPassword():
		return domain.AuthMethodPassword
	case len(i.LinkedProviders) > 0:
		return slices.Min(i.LinkedProviders)
	case len(i.VerifiedPhones) > 0:
		return domain.AuthMethodPhone
	}
	return domain.AuthMethodEmail
}
