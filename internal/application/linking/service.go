package linking

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-identity-nosql/internal/application/matching"
	"github.com/go-identity-nosql/internal/config"
	"github.com/go-identity-nosql/internal/domain"
	"github.com/go-identity-nosql/internal/metrics"
)

// Input carries the identifiers of the identity being linked.
type Input struct {
	Email     string `json:"email,omitempty" validate:"omitempty,email"`
	Phone     string `json:"phone,omitempty"`
	Name      string `json:"name,omitempty"`
	ExcludeID string `json:"-"`
}

type Service interface {
	Suggest(ctx context.Context, in Input) (*domain.Suggestion, error)
	AutoLinkIfConfident(ctx context.Context, newIdentityID string, in Input, threshold int) (*domain.AutoLinkResult, error)
}

type candidateFinder interface {
	FindCandidates(ctx context.Context, q matching.Query) ([]domain.Candidate, error)
}

type groupRegistry interface {
	CreateGroup(ctx context.Context, identityID string) (*domain.GroupResult, error)
	JoinGroup(ctx context.Context, identityID, groupID string) (*domain.GroupResult, error)
}

type service struct {
	matcher candidateFinder
	groups  groupRegistry
	policy  config.MatchPolicy
	metrics *metrics.Metrics
}

type ServiceDeps struct {
	Matcher candidateFinder
	Groups  groupRegistry
	Policy  config.MatchPolicy
	Metrics *metrics.Metrics
}

func NewService(deps ServiceDeps) Service {
	return &service{
		matcher: deps.Matcher,
		groups:  deps.Groups,
		policy:  deps.Policy,
		metrics: deps.Metrics,
	}
}

func (s *service) candidates(ctx context.Context, in Input) ([]domain.Candidate, error) {
	return s.matcher.FindCandidates(ctx, matching.Query{
		Email:     in.Email,
		Phone:     in.Phone,
		Name:      in.Name,
		ExcludeID: in.ExcludeID,
	})
}

// Suggest reports whether the caller should be offered to link with existing
// identities. The headline confidence is the top candidate's.
func (s *service) Suggest(ctx context.Context, in Input) (*domain.Suggestion, error) {
	cands, err := s.candidates(ctx, in)
	if err != nil {
		return nil, err
	}
	res := &domain.Suggestion{Candidates: cands}
	if len(cands) > 0 {
		res.Confidence = cands[0].Confidence
		res.ShouldSuggest = res.Confidence >= s.policy.SuggestThreshold
	}
	if res.Candidates == nil {
		res.Candidates = []domain.Candidate{}
	}
	s.metrics.Suggestion(res.ShouldSuggest)
	return res, nil
}

// AutoLinkIfConfident groups newIdentityID with the top candidate without
// confirmation, but only when the confidence clears threshold and the top
// candidate matched on a primary identifier. A zero threshold uses the
// configured auto-link threshold.
func (s *service) AutoLinkIfConfident(ctx context.Context, newIdentityID string, in Input, threshold int) (*domain.AutoLinkResult, error) {
	if newIdentityID == "" {
		return nil, fmt.Errorf("identity id required: %w", domain.ErrInvalidInput)
	}
	if threshold <= 0 {
		threshold = s.policy.AutoLinkThreshold
	}
	in.ExcludeID = newIdentityID
	cands, err := s.candidates(ctx, in)
	if err != nil {
		return nil, err
	}

	switch {
	case len(cands) == 0:
		s.metrics.AutoLink("no_candidates")
		return &domain.AutoLinkResult{Message: "no matching accounts"}, nil
	case cands[0].Confidence < threshold:
		s.metrics.AutoLink("below_threshold")
		return &domain.AutoLinkResult{
			Message: fmt.Sprintf("confidence %d below auto-link threshold %d", cands[0].Confidence, threshold),
		}, nil
	case !cands[0].HasPrimaryReason():
		s.metrics.AutoLink("no_primary_match")
		return &domain.AutoLinkResult{Message: "auto-link requires a primary identifier match"}, nil
	}

	top := cands[0]
	grp, err := s.groups.CreateGroup(ctx, top.IdentityID)
	if err != nil {
		s.metrics.AutoLink("error")
		return nil, fmt.Errorf("group candidate %s: %w", top.IdentityID, err)
	}
	if _, err := s.groups.JoinGroup(ctx, newIdentityID, grp.GroupID); err != nil {
		s.metrics.AutoLink("error")
		return nil, fmt.Errorf("join group %s: %w", grp.GroupID, err)
	}
	slog.Info("auto-linked identity", "identity_id", newIdentityID, "candidate_id", top.IdentityID,
		"group_id", grp.GroupID, "confidence", top.Confidence)
	s.metrics.AutoLink("linked")
	return &domain.AutoLinkResult{
		Linked:  true,
		GroupID: grp.GroupID,
		Message: fmt.Sprintf("linked with %s at confidence %d", top.IdentityID, top.Confidence),
	}, nil
}
