package group

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/go-identity-nosql/internal/domain"
	"github.com/go-identity-nosql/internal/pkg/id"
	"github.com/go-identity-nosql/internal/store"
)

type Service interface {
	CreateGroup(ctx context.Context, identityID string) (*domain.GroupResult, error)
	GetGroupAccounts(ctx context.Context, groupID string) ([]domain.Identity, error)
	JoinGroup(ctx context.Context, identityID, groupID string) (*domain.GroupResult, error)
}

type identityStore interface {
	FindOne(ctx context.Context, c store.Collection, f store.Filter, out any) error
	FindMany(ctx context.Context, c store.Collection, f store.Filter, out any) error
	UpdateOne(ctx context.Context, c store.Collection, f store.Filter, u store.Update, out any) error
}

type service struct {
	store identityStore
	now   func() time.Time
}

type ServiceDeps struct {
	Store identityStore
	Now   func() time.Time
}

func NewService(deps ServiceDeps) Service {
	s := &service{store: deps.Store, now: deps.Now}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// CreateGroup makes the identity the master of a new group. An identity that
// already belongs to a group keeps it.
func (s *service) CreateGroup(ctx context.Context, identityID string) (*domain.GroupResult, error) {
	ident, err := store.LoadActiveIdentity(ctx, s.store, identityID)
	if err != nil {
		return nil, err
	}
	if ident.GroupID != "" {
		return &domain.GroupResult{Success: true, GroupID: ident.GroupID}, nil
	}

	groupID := id.New()
	err = s.store.UpdateOne(ctx, store.Identities,
		append(store.ActiveByID(identityID), store.Missing(store.FieldGroupID)),
		store.Update{Set: map[string]any{
			store.FieldGroupID:   groupID,
			store.FieldIsMaster:  true,
			store.FieldUpdatedAt: s.now().UTC(),
		}},
		nil,
	)
	if err == nil {
		return &domain.GroupResult{Success: true, GroupID: groupID, Created: true}, nil
	}
	if !errors.Is(err, store.ErrConditionFailed) {
		return nil, fmt.Errorf("create group: %w", err)
	}
	// Lost a race: report whichever group won.
	ident, err = store.LoadActiveIdentity(ctx, s.store, identityID)
	if err != nil {
		return nil, err
	}
	if ident.GroupID == "" {
		return nil, fmt.Errorf("create group for %s: %w", identityID, domain.ErrConflict)
	}
	return &domain.GroupResult{Success: true, GroupID: ident.GroupID}, nil
}

// GetGroupAccounts lists every member of a group: the master first, then the
// other active identities, then tombstones, each block oldest first.
func (s *service) GetGroupAccounts(ctx context.Context, groupID string) ([]domain.Identity, error) {
	if groupID == "" {
		return nil, fmt.Errorf("group id required: %w", domain.ErrInvalidInput)
	}
	var members []domain.Identity
	if err := s.store.FindMany(ctx, store.Identities, store.Where(store.Eq(store.FieldGroupID, groupID)), &members); err != nil {
		return nil, fmt.Errorf("list group %s: %w", groupID, err)
	}
	slices.SortStableFunc(members, func(a, b domain.Identity) int {
		if c := cmp.Compare(rank(&a), rank(&b)); c != 0 {
			return c
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return members, nil
}

func rank(i *domain.Identity) int {
	switch {
	case i.Merged():
		return 2
	case i.IsMaster:
		return 0
	}
	return 1
}

// JoinGroup adds an ungrouped active identity to an existing group as a
// non-master member. Joining the group one already belongs to is a no-op.
func (s *service) JoinGroup(ctx context.Context, identityID, groupID string) (*domain.GroupResult, error) {
	if groupID == "" {
		return nil, fmt.Errorf("group id required: %w", domain.ErrInvalidInput)
	}
	ident, err := store.LoadActiveIdentity(ctx, s.store, identityID)
	if err != nil {
		return nil, err
	}
	switch ident.GroupID {
	case groupID:
		return &domain.GroupResult{Success: true, GroupID: groupID}, nil
	case "":
	default:
		return nil, fmt.Errorf("identity %s already in group %s: %w", identityID, ident.GroupID, domain.ErrAlreadyLinked)
	}

	var members []domain.Identity
	if err := s.store.FindMany(ctx, store.Identities, store.Where(store.Eq(store.FieldGroupID, groupID)), &members); err != nil {
		return nil, fmt.Errorf("list group %s: %w", groupID, err)
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("group %s: %w", groupID, domain.ErrNotFound)
	}

	err = s.store.UpdateOne(ctx, store.Identities,
		append(store.ActiveByID(identityID), store.Missing(store.FieldGroupID)),
		store.Update{Set: map[string]any{
			store.FieldGroupID:   groupID,
			store.FieldIsMaster:  false,
			store.FieldUpdatedAt: s.now().UTC(),
		}},
		nil,
	)
	if err != nil {
		if errors.Is(err, store.ErrConditionFailed) {
			return nil, fmt.Errorf("identity %s changed while joining: %w", identityID, domain.ErrAlreadyLinked)
		}
		return nil, fmt.Errorf("join group: %w", err)
	}
	return &domain.GroupResult{Success: true, GroupID: groupID}, nil
}
