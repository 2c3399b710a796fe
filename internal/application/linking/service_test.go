package linking

import (
	"context"
	"testing"

	"github.com/go-identity-nosql/internal/application/group"
	"github.com/go-identity-nosql/internal/application/matching"
	"github.com/go-identity-nosql/internal/config"
	"github.com/go-identity-nosql/internal/domain"
	"github.com/go-identity-nosql/internal/infrastructure/memstore"
	"github.com/go-identity-nosql/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockMatcher struct{ mock.Mock }

func (m *mockMatcher) FindCandidates(ctx context.Context, q matching.Query) ([]domain.Candidate, error) {
	args := m.Called(ctx, q)
	c, _ := args.Get(0).([]domain.Candidate)
	return c, args.Error(1)
}

type mockGroups struct{ mock.Mock }

func (m *mockGroups) CreateGroup(ctx context.Context, identityID string) (*domain.GroupResult, error) {
	args := m.Called(ctx, identityID)
	if r, _ := args.Get(0).(*domain.GroupResult); r != nil {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGroups) JoinGroup(ctx context.Context, identityID, groupID string) (*domain.GroupResult, error) {
	args := m.Called(ctx, identityID, groupID)
	if r, _ := args.Get(0).(*domain.GroupResult); r != nil {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func newService(m *mockMatcher, g *mockGroups) Service {
	return NewService(ServiceDeps{Matcher: m, Groups: g, Policy: config.DefaultMatchPolicy()})
}

// --- Suggest ---

func TestSuggest_AboveThreshold(t *testing.T) {
	m := &mockMatcher{}
	m.On("FindCandidates", mock.Anything, matching.Query{Email: "a@x.com"}).Return([]domain.Candidate{
		{IdentityID: "x", Confidence: 85, Reasons: []domain.MatchReason{domain.ReasonLinkedEmail}},
	}, nil)

	res, err := newService(m, nil).Suggest(context.Background(), Input{Email: "a@x.com"})
	require.NoError(t, err)
	assert.True(t, res.ShouldSuggest)
	assert.Equal(t, 85, res.Confidence)
	assert.Len(t, res.Candidates, 1)
}

func TestSuggest_NoCandidates(t *testing.T) {
	m := &mockMatcher{}
	m.On("FindCandidates", mock.Anything, mock.Anything).Return(nil, nil)

	res, err := newService(m, nil).Suggest(context.Background(), Input{Name: "Alice"})
	require.NoError(t, err)
	assert.False(t, res.ShouldSuggest)
	assert.Zero(t, res.Confidence)
	assert.NotNil(t, res.Candidates)
}

func TestSuggest_NoIdentifier(t *testing.T) {
	m := &mockMatcher{}
	m.On("FindCandidates", mock.Anything, matching.Query{}).Return(nil, domain.ErrInvalidInput)

	_, err := newService(m, nil).Suggest(context.Background(), Input{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

// --- AutoLinkIfConfident ---

func TestAutoLink_LinkedEmailOnlyNeverLinks(t *testing.T) {
	m := &mockMatcher{}
	g := &mockGroups{}
	m.On("FindCandidates", mock.Anything, matching.Query{Email: "a@x.com", ExcludeID: "new"}).Return([]domain.Candidate{
		{IdentityID: "x", Confidence: 99, Reasons: []domain.MatchReason{domain.ReasonLinkedEmail}},
	}, nil)

	res, err := newService(m, g).AutoLinkIfConfident(context.Background(), "new", Input{Email: "a@x.com"}, 98)
	require.NoError(t, err)
	assert.False(t, res.Linked)
	g.AssertNotCalled(t, "CreateGroup", mock.Anything, mock.Anything)
}

func TestAutoLink_BelowThreshold(t *testing.T) {
	m := &mockMatcher{}
	m.On("FindCandidates", mock.Anything, mock.Anything).Return([]domain.Candidate{
		{IdentityID: "x", Confidence: 90, Reasons: []domain.MatchReason{domain.ReasonPrimaryPhone}},
	}, nil)

	res, err := newService(m, &mockGroups{}).AutoLinkIfConfident(context.Background(), "new", Input{Phone: "+1"}, 0)
	require.NoError(t, err)
	assert.False(t, res.Linked)
	assert.Contains(t, res.Message, "threshold 98")
}

func TestAutoLink_Links(t *testing.T) {
	m := &mockMatcher{}
	g := &mockGroups{}
	m.On("FindCandidates", mock.Anything, mock.Anything).Return([]domain.Candidate{
		{IdentityID: "x", Confidence: 99, Reasons: []domain.MatchReason{domain.ReasonPrimaryEmail, domain.ReasonPrimaryPhone}},
	}, nil)
	g.On("CreateGroup", mock.Anything, "x").Return(&domain.GroupResult{Success: true, GroupID: "g1", Created: true}, nil)
	g.On("JoinGroup", mock.Anything, "new", "g1").Return(&domain.GroupResult{Success: true, GroupID: "g1"}, nil)

	res, err := newService(m, g).AutoLinkIfConfident(context.Background(), "new", Input{Email: "a@x.com", Phone: "+1"}, 98)
	require.NoError(t, err)
	assert.True(t, res.Linked)
	assert.Equal(t, "g1", res.GroupID)
	g.AssertExpectations(t)
}

func TestAutoLink_MissingIdentity(t *testing.T) {
	_, err := newService(&mockMatcher{}, &mockGroups{}).AutoLinkIfConfident(context.Background(), "", Input{Email: "a@x.com"}, 98)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestAutoLink_EndToEnd(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	for _, ident := range []domain.Identity{
		{ID: "x", Email: "a@x.com", Phone: "+15550001111", AccountStatus: domain.AccountActive},
		{ID: "new", Email: "a@x.com", Phone: "+15550001111", AccountStatus: domain.AccountActive},
	} {
		_, err := st.InsertOne(ctx, store.Identities, &ident)
		require.NoError(t, err)
	}
	policy := config.DefaultMatchPolicy()
	svc := NewService(ServiceDeps{
		Matcher: matching.NewService(matching.ServiceDeps{Store: st, Policy: policy}),
		Groups:  group.NewService(group.ServiceDeps{Store: st}),
		Policy:  policy,
	})

	res, err := svc.AutoLinkIfConfident(ctx, "new", Input{Email: "a@x.com", Phone: "+15550001111"}, 0)
	require.NoError(t, err)
	require.True(t, res.Linked)

	x, err := store.LoadIdentity(ctx, st, "x")
	require.NoError(t, err)
	n, err := store.LoadIdentity(ctx, st, "new")
	require.NoError(t, err)
	assert.Equal(t, res.GroupID, x.GroupID)
	assert.Equal(t, res.GroupID, n.GroupID)
	assert.True(t, x.IsMaster)
	assert.False(t, n.IsMaster)
}
