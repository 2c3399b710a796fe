package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-identity-nosql/internal/domain"
	"github.com/go-identity-nosql/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, s *Store, ids ...domain.Identity) {
	t.Helper()
	for i := range ids {
		_, err := s.InsertOne(context.Background(), store.Identities, &ids[i])
		require.NoError(t, err)
	}
}

func TestInsertOne_DuplicateKey(t *testing.T) {
	s := New()
	seed(t, s, domain.Identity{ID: "a", AccountStatus: domain.AccountActive})

	_, err := s.InsertOne(context.Background(), store.Identities, &domain.Identity{ID: "a"})
	assert.ErrorIs(t, err, store.ErrConditionFailed)
}

func TestFindOne_OrContains(t *testing.T) {
	s := New()
	seed(t, s,
		domain.Identity{ID: "a", Email: "a@x.com", AccountStatus: domain.AccountActive},
		domain.Identity{ID: "b", Email: "b@x.com", LinkedEmails: []string{"shared@x.com"}, AccountStatus: domain.AccountActive},
	)

	var got domain.Identity
	err := s.FindOne(context.Background(), store.Identities, store.Where(
		store.Or(store.Eq("email", "shared@x.com"), store.Contains("linked_emails", "shared@x.com")),
	), &got)
	require.NoError(t, err)
	assert.Equal(t, "b", got.ID)

	err = s.FindOne(context.Background(), store.Identities, store.Where(store.Eq("email", "none@x.com")), &got)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestFindMany_NeTreatsMissingAsDifferent(t *testing.T) {
	s := New()
	seed(t, s,
		domain.Identity{ID: "a", AccountStatus: domain.AccountActive},
		domain.Identity{ID: "b", AccountStatus: domain.AccountMerged, MergedInto: "a"},
		domain.Identity{ID: "c"},
	)
	var got []domain.Identity
	require.NoError(t, s.FindMany(context.Background(), store.Identities,
		store.Where(store.Ne("account_status", domain.AccountMerged)), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "c", got[1].ID)
}

func TestUpdateOne_SetOperations(t *testing.T) {
	s := New()
	seed(t, s, domain.Identity{
		ID: "a", VerifiedPhones: []string{"+1"}, LinkedEmails: []string{"x@x.com"},
		AccountStatus: domain.AccountActive,
	})

	var got domain.Identity
	err := s.UpdateOne(context.Background(), store.Identities, store.Where(store.Eq("identity_id", "a")), store.Update{
		AddToSet: map[string][]string{"linked_emails": {"x@x.com", "y@x.com"}},
		Pull:     map[string][]string{"verified_phones": {"+1"}},
		Push:     map[string][]string{"merged_accounts": {"b"}},
	}, &got)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"x@x.com", "y@x.com"}, got.LinkedEmails)
	assert.Empty(t, got.VerifiedPhones)
	assert.Equal(t, []string{"b"}, got.MergedAccounts)
}

func TestUpdateOne_ConditionFails(t *testing.T) {
	s := New()
	seed(t, s, domain.Identity{ID: "a", AccountStatus: domain.AccountMerged})

	err := s.UpdateOne(context.Background(), store.Identities,
		store.Where(store.Eq("identity_id", "a"), store.Eq("account_status", domain.AccountActive)),
		store.Update{Set: map[string]any{"name": "x"}}, nil)
	assert.ErrorIs(t, err, store.ErrConditionFailed)

	err = s.UpdateOne(context.Background(), store.Identities,
		store.Where(store.Eq("identity_id", "missing")),
		store.Update{Set: map[string]any{"name": "x"}}, nil)
	assert.ErrorIs(t, err, store.ErrConditionFailed)
}

func TestUpdateOne_IncAndLt(t *testing.T) {
	s := New()
	tok := domain.VerificationToken{Identifier: "+1", Type: domain.TokenPhoneLogin, Value: "123456", CreatedAt: time.Now()}
	_, err := s.InsertOne(context.Background(), store.VerificationTokens, &tok)
	require.NoError(t, err)

	f := store.Where(store.Eq("identifier", "+1"), store.Eq("type", domain.TokenPhoneLogin), store.Lt("attempts", 2))
	inc := store.Update{Inc: map[string]int{"attempts": 1}}
	var got domain.VerificationToken
	require.NoError(t, s.UpdateOne(context.Background(), store.VerificationTokens, f, inc, &got))
	require.NoError(t, s.UpdateOne(context.Background(), store.VerificationTokens, f, inc, &got))
	assert.Equal(t, 2, got.Attempts)
	assert.ErrorIs(t, s.UpdateOne(context.Background(), store.VerificationTokens, f, inc, nil), store.ErrConditionFailed)
}

func TestTransact_AllOrNothing(t *testing.T) {
	s := New()
	seed(t, s,
		domain.Identity{ID: "a", AccountStatus: domain.AccountActive},
		domain.Identity{ID: "b", AccountStatus: domain.AccountMerged},
	)
	err := s.Transact(context.Background(),
		store.Write{Collection: store.Identities, Filter: store.Where(store.Eq("identity_id", "a")),
			Update: store.Update{Set: map[string]any{"name": "changed"}}},
		store.Write{Collection: store.Identities,
			Filter: store.Where(store.Eq("identity_id", "b"), store.Eq("account_status", domain.AccountActive)),
			Update: store.Update{Set: map[string]any{"name": "changed"}}},
	)
	assert.ErrorIs(t, err, store.ErrConditionFailed)

	var a domain.Identity
	require.NoError(t, s.FindOne(context.Background(), store.Identities, store.Where(store.Eq("identity_id", "a")), &a))
	assert.Empty(t, a.Name)
}

func TestTransact_WriteLimit(t *testing.T) {
	s := New()
	seed(t, s, domain.Identity{ID: "a", AccountStatus: domain.AccountActive})
	w := store.Write{Collection: store.Identities, Filter: store.Where(store.Eq("identity_id", "a")),
		Update: store.Update{Set: map[string]any{"name": "changed"}}}

	writes := make([]store.Write, store.MaxTransactWrites+1)
	for i := range writes {
		writes[i] = w
	}
	assert.ErrorIs(t, s.Transact(context.Background(), writes...), store.ErrTooManyWrites)

	var a domain.Identity
	require.NoError(t, s.FindOne(context.Background(), store.Identities, store.Where(store.Eq("identity_id", "a")), &a))
	assert.Empty(t, a.Name)

	require.NoError(t, s.Transact(context.Background(), writes[:store.MaxTransactWrites]...))
}

func TestDeleteMany(t *testing.T) {
	s := New()
	for _, typ := range []domain.TokenType{domain.TokenPhoneLogin, domain.TokenPhoneVerification} {
		_, err := s.InsertOne(context.Background(), store.VerificationTokens,
			&domain.VerificationToken{Identifier: "+1", Type: typ, Value: "1"})
		require.NoError(t, err)
	}
	n, err := s.DeleteMany(context.Background(), store.VerificationTokens,
		store.Where(store.Eq("identifier", "+1"), store.Eq("type", domain.TokenPhoneLogin)))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var left []domain.VerificationToken
	require.NoError(t, s.FindMany(context.Background(), store.VerificationTokens, nil, &left))
	require.Len(t, left, 1)
	assert.Equal(t, domain.TokenPhoneVerification, left[0].Type)
}

func TestFailWith(t *testing.T) {
	s := New()
	boom := errors.New("store down")
	s.FailWith(func(op string) error {
		if op == "transact" {
			return boom
		}
		return nil
	})
	seed(t, s, domain.Identity{ID: "a"})
	assert.ErrorIs(t, s.Transact(context.Background()), boom)
}
