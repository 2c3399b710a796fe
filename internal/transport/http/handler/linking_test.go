package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-identity-nosql/internal/application/linking"
	"github.com/go-identity-nosql/internal/application/matching"
	"github.com/go-identity-nosql/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockMatcher struct{ mock.Mock }

func (m *mockMatcher) FindCandidates(ctx context.Context, q matching.Query) ([]domain.Candidate, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Candidate), args.Error(1)
}

type mockLinker struct{ mock.Mock }

func (m *mockLinker) Suggest(ctx context.Context, in linking.Input) (*domain.Suggestion, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Suggestion), args.Error(1)
}

func (m *mockLinker) AutoLinkIfConfident(ctx context.Context, newIdentityID string, in linking.Input, threshold int) (*domain.AutoLinkResult, error) {
	args := m.Called(ctx, newIdentityID, in, threshold)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AutoLinkResult), args.Error(1)
}

func TestLinkingHandler_Candidates_ExcludesCaller(t *testing.T) {
	p := newTestJWTProvider(t)
	matcher := &mockMatcher{}
	matcher.On("FindCandidates", mock.Anything, matching.Query{Email: "a@x.com", ExcludeID: "me"}).
		Return([]domain.Candidate{{IdentityID: "a", Confidence: 85}}, nil)
	h := NewLinkingHandler(matcher, &mockLinker{}, &mockIdentityService{}, 98)

	rr := httptest.NewRecorder()
	serveAuthed(p, http.HandlerFunc(h.Candidates), rr, bearerReq(t, p, http.MethodPost, "/v1/linking/candidates", "me", []byte(`{"email":"a@x.com"}`)))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp CandidatesEnvelope
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.Len(t, resp.Candidates, 1)
	assert.Equal(t, "a", resp.Candidates[0].IdentityID)
	matcher.AssertExpectations(t)
}

func TestLinkingHandler_Candidates_EmptyListNotNull(t *testing.T) {
	p := newTestJWTProvider(t)
	matcher := &mockMatcher{}
	matcher.On("FindCandidates", mock.Anything, mock.Anything).Return(nil, nil)
	h := NewLinkingHandler(matcher, &mockLinker{}, &mockIdentityService{}, 98)

	rr := httptest.NewRecorder()
	serveAuthed(p, http.HandlerFunc(h.Candidates), rr, bearerReq(t, p, http.MethodPost, "/v1/linking/candidates", "me", []byte(`{"name":"Alice"}`)))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"candidates":[]}`, rr.Body.String())
}

func TestLinkingHandler_Suggest_EmptyInput(t *testing.T) {
	p := newTestJWTProvider(t)
	linker := &mockLinker{}
	linker.On("Suggest", mock.Anything, linking.Input{ExcludeID: "me"}).Return(nil, domain.ErrInvalidInput)
	h := NewLinkingHandler(&mockMatcher{}, linker, &mockIdentityService{}, 98)

	rr := httptest.NewRecorder()
	serveAuthed(p, http.HandlerFunc(h.Suggest), rr, bearerReq(t, p, http.MethodPost, "/v1/linking/suggest", "me", []byte(`{}`)))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestLinkingHandler_AutoLink_UsesVerifiedIdentifiers(t *testing.T) {
	p := newTestJWTProvider(t)
	ids := &mockIdentityService{}
	ids.On("Get", mock.Anything, "me").Return(&domain.Identity{
		ID: "me", Email: "a@x.com", Phone: "+15550001111", Name: "Alice",
		VerifiedEmails: []string{"a@x.com"},
	}, nil)
	linker := &mockLinker{}
	linker.On("AutoLinkIfConfident", mock.Anything, "me", linking.Input{Email: "a@x.com", Name: "Alice"}, 99).
		Return(&domain.AutoLinkResult{Linked: true, GroupID: "g1", Message: "linked"}, nil)
	h := NewLinkingHandler(&mockMatcher{}, linker, ids, 98)

	rr := httptest.NewRecorder()
	serveAuthed(p, http.HandlerFunc(h.AutoLink), rr, bearerReq(t, p, http.MethodPost, "/v1/linking/auto-link", "me", []byte(`{"threshold":99}`)))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp domain.AutoLinkResult
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.True(t, resp.Linked)
	assert.Equal(t, "g1", resp.GroupID)
	linker.AssertExpectations(t)
}

func TestLinkingHandler_AutoLink_ThresholdNeverBelowFloor(t *testing.T) {
	p := newTestJWTProvider(t)
	ids := &mockIdentityService{}
	ids.On("Get", mock.Anything, "me").Return(&domain.Identity{
		ID: "me", Phone: "+15550001111", VerifiedPhones: []string{"+15550001111"},
	}, nil)
	linker := &mockLinker{}
	linker.On("AutoLinkIfConfident", mock.Anything, "me", linking.Input{Phone: "+15550001111"}, 98).
		Return(&domain.AutoLinkResult{Message: "confidence 90 below auto-link threshold 98"}, nil)
	h := NewLinkingHandler(&mockMatcher{}, linker, ids, 98)

	for _, body := range []string{`{"threshold":1}`, `{}`} {
		rr := httptest.NewRecorder()
		serveAuthed(p, http.HandlerFunc(h.AutoLink), rr, bearerReq(t, p, http.MethodPost, "/v1/linking/auto-link", "me", []byte(body)))
		require.Equal(t, http.StatusOK, rr.Code)
	}
	linker.AssertNumberOfCalls(t, "AutoLinkIfConfident", 2)
	linker.AssertExpectations(t)
}

func TestLinkingHandler_AutoLink_UnverifiedIdentifiersNeverMatched(t *testing.T) {
	p := newTestJWTProvider(t)
	ids := &mockIdentityService{}
	ids.On("Get", mock.Anything, "me").Return(&domain.Identity{ID: "me", Email: "victim@x.com"}, nil)
	linker := &mockLinker{}
	h := NewLinkingHandler(&mockMatcher{}, linker, ids, 98)

	rr := httptest.NewRecorder()
	serveAuthed(p, http.HandlerFunc(h.AutoLink), rr, bearerReq(t, p, http.MethodPost, "/v1/linking/auto-link", "me", []byte(`{}`)))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp domain.AutoLinkResult
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.False(t, resp.Linked)
	linker.AssertNotCalled(t, "AutoLinkIfConfident", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestLinkingHandler_AutoLink_ThresholdOutOfRange(t *testing.T) {
	p := newTestJWTProvider(t)
	h := NewLinkingHandler(&mockMatcher{}, &mockLinker{}, &mockIdentityService{}, 98)

	rr := httptest.NewRecorder()
	serveAuthed(p, http.HandlerFunc(h.AutoLink), rr, bearerReq(t, p, http.MethodPost, "/v1/linking/auto-link", "me", []byte(`{"threshold":101}`)))

	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}
