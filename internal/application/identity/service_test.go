package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-identity-nosql/internal/application/linking"
	"github.com/go-identity-nosql/internal/domain"
	"github.com/go-identity-nosql/internal/infrastructure/memstore"
	"github.com/go-identity-nosql/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type mockSuggester struct{ mock.Mock }

func (m *mockSuggester) Suggest(ctx context.Context, in linking.Input) (*domain.Suggestion, error) {
	args := m.Called(ctx, in)
	if s, _ := args.Get(0).(*domain.Suggestion); s != nil {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func newService(t *testing.T, sug suggester, ids ...domain.Identity) (Service, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	for i := range ids {
		if ids[i].AccountStatus == "" {
			ids[i].AccountStatus = domain.AccountActive
			ids[i].IsActive = true
		}
		ids[i].UpdatedAt = t0
		_, err := st.InsertOne(context.Background(), store.Identities, &ids[i])
		require.NoError(t, err)
	}
	svc := NewService(ServiceDeps{Store: st, Suggester: sug, Now: func() time.Time { return t0.Add(time.Minute) }})
	return svc, st
}

func load(t *testing.T, st *memstore.Store, id string) *domain.Identity {
	t.Helper()
	ident, err := store.LoadIdentity(context.Background(), st, id)
	require.NoError(t, err)
	return ident
}

// --- Register ---

func TestRegister_StoresNormalisedIdentityAndSuggests(t *testing.T) {
	sug := &mockSuggester{}
	sug.On("Suggest", mock.Anything, mock.MatchedBy(func(in linking.Input) bool {
		return in.Email == "alice@x.com" && in.Phone == "+15550001111" && in.ExcludeID != ""
	})).Return(&domain.Suggestion{ShouldSuggest: true, Confidence: 85}, nil)
	svc, st := newService(t, sug)

	res, err := svc.Register(context.Background(), RegisterRequest{
		Email: " Alice@X.com", Phone: "+1 555 000 1111", Name: "Alice", Password: "correct-horse",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Suggestion)
	assert.True(t, res.Suggestion.ShouldSuggest)

	got := load(t, st, res.Identity.ID)
	assert.Equal(t, "alice@x.com", got.Email)
	assert.Equal(t, "+15550001111", got.Phone)
	assert.Equal(t, domain.AccountActive, got.AccountStatus)
	assert.True(t, got.IsActive)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(got.CredentialHash), []byte("correct-horse")))
	sug.AssertExpectations(t)
}

func TestRegister_SuggestionFailureIsNotFatal(t *testing.T) {
	sug := &mockSuggester{}
	sug.On("Suggest", mock.Anything, mock.Anything).Return(nil, errors.New("index unavailable"))
	svc, _ := newService(t, sug)

	res, err := svc.Register(context.Background(), RegisterRequest{Phone: "+15550001111"})
	require.NoError(t, err)
	assert.Nil(t, res.Suggestion)
	assert.Empty(t, res.Identity.CredentialHash)
}

func TestRegister_NeedsAnIdentifier(t *testing.T) {
	svc, _ := newService(t, nil)
	_, err := svc.Register(context.Background(), RegisterRequest{Name: "Nobody"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

// --- Get ---

func TestGet(t *testing.T) {
	svc, _ := newService(t, nil, domain.Identity{ID: "a", Email: "a@x.com"})

	got, err := svc.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", got.Email)

	_, err = svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// --- AddEmail / AddPhone ---

func TestAddEmail(t *testing.T) {
	svc, _ := newService(t, nil, domain.Identity{ID: "a", Email: "a@x.com"})
	ctx := context.Background()

	got, err := svc.AddEmail(ctx, "a", "Work@X.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"work@x.com"}, got.LinkedEmails)
	assert.Empty(t, got.VerifiedEmails)

	_, err = svc.AddEmail(ctx, "a", "work@x.com")
	assert.ErrorIs(t, err, domain.ErrAlreadyLinked)
	_, err = svc.AddEmail(ctx, "a", "a@x.com")
	assert.ErrorIs(t, err, domain.ErrAlreadyLinked)
	_, err = svc.AddEmail(ctx, "a", " ")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestAddPhone_MergedIdentityRefused(t *testing.T) {
	svc, _ := newService(t, nil, domain.Identity{ID: "t", AccountStatus: domain.AccountMerged, MergedInto: "a"})
	_, err := svc.AddPhone(context.Background(), "t", "+15550001111")
	assert.ErrorIs(t, err, domain.ErrConflict)
}

// --- Remove* ---

func TestRemoveEmail_LastVerifiedMethodRefused(t *testing.T) {
	svc, st := newService(t, nil, domain.Identity{
		ID: "a", Email: "a@x.com", VerifiedEmails: []string{"a@x.com"},
	})

	_, err := svc.RemoveEmail(context.Background(), "a", "a@x.com")
	assert.ErrorIs(t, err, domain.ErrInsufficientAuthMethods)

	a := load(t, st, "a")
	assert.Equal(t, "a@x.com", a.Email)
	assert.True(t, a.UpdatedAt.Equal(t0))
}

func TestRemoveEmail_WithAnotherMethod(t *testing.T) {
	svc, _ := newService(t, nil, domain.Identity{
		ID: "a", Email: "a@x.com", LinkedEmails: []string{"b@x.com"},
		VerifiedEmails: []string{"a@x.com", "b@x.com"},
	})

	got, err := svc.RemoveEmail(context.Background(), "a", "a@x.com")
	require.NoError(t, err)
	assert.Empty(t, got.Email)
	assert.Equal(t, []string{"b@x.com"}, got.VerifiedEmails)
	assert.Equal(t, []string{"b@x.com"}, got.LinkedEmails)
}

func TestRemoveEmail_UnverifiedAlwaysAllowed(t *testing.T) {
	svc, _ := newService(t, nil, domain.Identity{
		ID: "a", Email: "a@x.com", LinkedEmails: []string{"pending@x.com"}, VerifiedEmails: []string{"a@x.com"},
	})

	got, err := svc.RemoveEmail(context.Background(), "a", "pending@x.com")
	require.NoError(t, err)
	assert.Empty(t, got.LinkedEmails)

	_, err = svc.RemoveEmail(context.Background(), "a", "never@x.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRemovePhone_OnlyVerifiedMethodRefused(t *testing.T) {
	svc, st := newService(t, nil, domain.Identity{
		ID: "a", Phone: "+15551234567", VerifiedPhones: []string{"+15551234567"},
	})

	_, err := svc.RemovePhone(context.Background(), "a", "+15551234567")
	assert.ErrorIs(t, err, domain.ErrInsufficientAuthMethods)

	a := load(t, st, "a")
	assert.Equal(t, "+15551234567", a.Phone)
	assert.Equal(t, []string{"+15551234567"}, a.VerifiedPhones)
	assert.True(t, a.UpdatedAt.Equal(t0))
}

func TestRemovePhone_PasswordCountsAsMethod(t *testing.T) {
	svc, _ := newService(t, nil, domain.Identity{
		ID: "a", Phone: "+15550001111", VerifiedPhones: []string{"+15550001111"}, CredentialHash: "h",
	})

	got, err := svc.RemovePhone(context.Background(), "a", "+1 555 000 1111")
	require.NoError(t, err)
	assert.Empty(t, got.Phone)
	assert.Empty(t, got.VerifiedPhones)
}

func TestRemoveProvider_CountsProviderLinkRows(t *testing.T) {
	svc, st := newService(t, nil, domain.Identity{ID: "a", LinkedProviders: []string{"google"}})
	ctx := context.Background()

	// google is the only method; a provider-link row for the same name adds nothing.
	_, err := st.InsertOne(ctx, store.ProviderLinks, &domain.ProviderLink{IdentityID: "a", ProviderName: "google", ProviderAccountID: "g-1"})
	require.NoError(t, err)
	_, err = svc.RemoveProvider(ctx, "a", "google")
	assert.ErrorIs(t, err, domain.ErrInsufficientAuthMethods)

	_, err = st.InsertOne(ctx, store.ProviderLinks, &domain.ProviderLink{IdentityID: "a", ProviderName: "apple", ProviderAccountID: "a-1"})
	require.NoError(t, err)
	got, err := svc.RemoveProvider(ctx, "a", "google")
	require.NoError(t, err)
	assert.Empty(t, got.LinkedProviders)

	var rows []domain.ProviderLink
	require.NoError(t, st.FindMany(ctx, store.ProviderLinks, store.Where(store.Eq("identity_id", "a")), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "apple", rows[0].ProviderName)
}

func TestRemoveProvider_Unknown(t *testing.T) {
	svc, _ := newService(t, nil, domain.Identity{ID: "a", LinkedProviders: []string{"google"}, CredentialHash: "h"})
	_, err := svc.RemoveProvider(context.Background(), "a", "github")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
