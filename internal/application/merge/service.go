package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/go-identity-nosql/internal/domain"
	"github.com/go-identity-nosql/internal/metrics"
	"github.com/go-identity-nosql/internal/pkg/id"
	"github.com/go-identity-nosql/internal/store"
)

const (
	modeCollapse = "collapse"
	modeGroup    = "group"
)

type Service interface {
	MergeAccounts(ctx context.Context, primaryID, secondaryID string) (*domain.MergeResult, error)
	MergeAccountsWithGroup(ctx context.Context, primaryID string, secondaryIDs []string, createNewGroup bool) (*domain.MergeResult, error)
}

type identityStore interface {
	FindOne(ctx context.Context, c store.Collection, f store.Filter, out any) error
	FindMany(ctx context.Context, c store.Collection, f store.Filter, out any) error
	Transact(ctx context.Context, writes ...store.Write) error
}

// auditArchive stores pre-merge snapshots. Optional.
type auditArchive interface {
	Archive(ctx context.Context, primaryID string, at time.Time, snapshot any) (string, error)
}

// Snapshot is the audit record archived after a merge. It holds every
// participant as it was before the merge.
type Snapshot struct {
	Mode        string            `json:"mode"`
	GroupID     string            `json:"group_id,omitempty"`
	Primary     domain.Identity   `json:"primary"`
	Secondaries []domain.Identity `json:"secondaries"`
	At          time.Time         `json:"at"`
}

type service struct {
	store   identityStore
	archive auditArchive
	metrics *metrics.Metrics
	now     func() time.Time
}

type ServiceDeps struct {
	Store   identityStore
	Archive auditArchive
	Metrics *metrics.Metrics
	Now     func() time.Time
}

func NewService(deps ServiceDeps) Service {
	s := &service{
		store:   deps.Store,
		archive: deps.Archive,
		metrics: deps.Metrics,
		now:     deps.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// MergeAccounts folds secondaryID into primaryID and leaves the secondary as
// a tombstone pointing at the primary. Every write lands in one transaction
// conditioned on neither identity having changed since it was read.
func (s *service) MergeAccounts(ctx context.Context, primaryID, secondaryID string) (*domain.MergeResult, error) {
	if primaryID == "" || secondaryID == "" || primaryID == secondaryID {
		return nil, fmt.Errorf("two distinct identity ids required: %w", domain.ErrInvalidInput)
	}
	primary, err := store.LoadActiveIdentity(ctx, s.store, primaryID)
	if err != nil {
		return nil, err
	}
	secondary, err := store.LoadActiveIdentity(ctx, s.store, secondaryID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()

	primaryUpdate, groupID := absorb(primary, secondary, now)
	writes := []store.Write{
		{
			Collection: store.Identities,
			Filter:     unchanged(primary),
			Update:     primaryUpdate,
		},
		{
			Collection: store.Identities,
			Filter:     unchanged(secondary),
			Update:     tombstone(primaryID, secondary.GroupID, now),
		},
	}
	repoint, err := s.repoint(ctx, []string{secondaryID}, primaryID, now)
	if err != nil {
		return nil, err
	}
	writes = append(writes, repoint...)

	if err := s.commit(ctx, modeCollapse, writes); err != nil {
		return nil, err
	}
	slog.Info("merged identities", "primary_id", primaryID, "secondary_id", secondaryID, "repointed", len(repoint))
	s.snapshot(ctx, Snapshot{Mode: modeCollapse, GroupID: groupID, Primary: *primary, Secondaries: []domain.Identity{*secondary}, At: now})
	return &domain.MergeResult{
		Success:        true,
		GroupID:        groupID,
		MergedAccounts: []string{secondaryID},
		MergedUserID:   primaryID,
	}, nil
}

// MergeAccountsWithGroup tombstones each secondary into a shared group
// mastered by the primary, without folding their attributes into it.
func (s *service) MergeAccountsWithGroup(ctx context.Context, primaryID string, secondaryIDs []string, createNewGroup bool) (*domain.MergeResult, error) {
	if primaryID == "" || len(secondaryIDs) == 0 {
		return nil, fmt.Errorf("primary and at least one secondary required: %w", domain.ErrInvalidInput)
	}
	seen := map[string]bool{primaryID: true}
	for _, sid := range secondaryIDs {
		if sid == "" || seen[sid] {
			return nil, fmt.Errorf("secondary ids must be distinct from each other and the primary: %w", domain.ErrInvalidInput)
		}
		seen[sid] = true
	}

	primary, err := store.LoadActiveIdentity(ctx, s.store, primaryID)
	if err != nil {
		return nil, err
	}
	secondaries := make([]domain.Identity, 0, len(secondaryIDs))
	for _, sid := range secondaryIDs {
		sec, err := store.LoadActiveIdentity(ctx, s.store, sid)
		if err != nil {
			return nil, err
		}
		secondaries = append(secondaries, *sec)
	}

	groupID := resolveGroup(primary, secondaries, createNewGroup)
	now := s.now().UTC()

	writes := []store.Write{{
		Collection: store.Identities,
		Filter:     unchanged(primary),
		Update: store.Update{
			Set: map[string]any{
				store.FieldGroupID:       groupID,
				store.FieldIsMaster:      true,
				store.FieldIsActive:      true,
				store.FieldAccountStatus: domain.AccountActive,
				store.FieldUpdatedAt:     now,
			},
			Push: map[string][]string{store.FieldMergedAccounts: absorbedIDs(secondaries...)},
		},
	}}
	for i := range secondaries {
		writes = append(writes, store.Write{
			Collection: store.Identities,
			Filter:     unchanged(&secondaries[i]),
			Update:     tombstone(primaryID, groupID, now),
		})
	}

	demote, err := s.demoteMasters(ctx, groupID, seen, now)
	if err != nil {
		return nil, err
	}
	writes = append(writes, demote...)
	repoint, err := s.repoint(ctx, secondaryIDs, primaryID, now)
	if err != nil {
		return nil, err
	}
	writes = append(writes, repoint...)

	if err := s.commit(ctx, modeGroup, writes); err != nil {
		return nil, err
	}
	slog.Info("merged identities into group", "primary_id", primaryID, "group_id", groupID,
		"secondaries", len(secondaryIDs), "demoted", len(demote))
	s.snapshot(ctx, Snapshot{Mode: modeGroup, GroupID: groupID, Primary: *primary, Secondaries: secondaries, At: now})
	return &domain.MergeResult{
		Success:        true,
		GroupID:        groupID,
		MergedAccounts: slices.Clone(secondaryIDs),
		MergedUserID:   primaryID,
	}, nil
}

// resolveGroup picks a new group when asked to, otherwise the primary's, then
// the first grouped secondary's, and a new one when nobody has a group.
func resolveGroup(primary *domain.Identity, secondaries []domain.Identity, createNew bool) string {
	if createNew {
		return id.New()
	}
	if primary.GroupID != "" {
		return primary.GroupID
	}
	for _, sec := range secondaries {
		if sec.GroupID != "" {
			return sec.GroupID
		}
	}
	return id.New()
}

// absorb builds the primary's update for a collapse merge and returns the
// group the primary ends up in.
func absorb(primary, secondary *domain.Identity, now time.Time) (store.Update, string) {
	u := store.Update{Set: map[string]any{
		store.FieldAccountStatus: domain.AccountActive,
		store.FieldIsActive:      true,
		store.FieldUpdatedAt:     now,
	}}

	email := primary.Email
	if email == "" && secondary.Email != "" {
		email = secondary.Email
		u.Set[store.FieldEmail] = email
	}
	phone := primary.Phone
	if phone == "" && secondary.Phone != "" {
		phone = secondary.Phone
		u.Set[store.FieldPhone] = phone
	}
	u = u.AddAll(store.FieldLinkedEmails, without(secondary.AllEmails(), email, primary.LinkedEmails))
	u = u.AddAll(store.FieldLinkedPhones, without(secondary.AllPhones(), phone, primary.LinkedPhones))
	u = u.AddAll(store.FieldLinkedProviders, without(secondary.LinkedProviders, "", primary.LinkedProviders))
	u = u.AddAll(store.FieldVerifiedEmails, without(secondary.VerifiedEmails, "", primary.VerifiedEmails))
	u = u.AddAll(store.FieldVerifiedPhones, without(secondary.VerifiedPhones, "", primary.VerifiedPhones))

	if primary.Name == "" && secondary.Name != "" {
		u.Set[store.FieldName] = secondary.Name
	}
	if primary.Image == "" && secondary.Image != "" {
		u.Set[store.FieldImage] = secondary.Image
	}
	if !primary.HasPassword() && secondary.HasPassword() {
		u.Set[store.FieldCredentialHash] = secondary.CredentialHash
	}

	// The primary inherits the secondary's group when it has none, and its
	// mastership when they share the group.
	groupID := primary.GroupID
	if secondary.GroupID != "" && (groupID == "" || groupID == secondary.GroupID) {
		groupID = secondary.GroupID
		u.Set[store.FieldGroupID] = groupID
		if secondary.IsMaster {
			u.Set[store.FieldIsMaster] = true
		}
	}

	u.Push = map[string][]string{store.FieldMergedAccounts: absorbedIDs(*secondary)}
	return u, groupID
}

// absorbedIDs lists each secondary followed by the identities it had already
// absorbed. Both merge modes record this on the primary.
func absorbedIDs(secondaries ...domain.Identity) []string {
	var out []string
	for _, sec := range secondaries {
		for _, v := range append([]string{sec.ID}, sec.MergedAccounts...) {
			if !slices.Contains(out, v) {
				out = append(out, v)
			}
		}
	}
	return out
}

// without returns values minus primary and anything already in have.
func without(values []string, primary string, have []string) []string {
	var out []string
	for _, v := range values {
		if v == "" || v == primary || slices.Contains(have, v) || slices.Contains(out, v) {
			continue
		}
		out = append(out, v)
	}
	return out
}

func tombstone(primaryID, groupID string, now time.Time) store.Update {
	u := store.Update{Set: map[string]any{
		store.FieldAccountStatus: domain.AccountMerged,
		store.FieldMergedInto:    primaryID,
		store.FieldMergedAt:      now,
		store.FieldIsActive:      false,
		store.FieldIsMaster:      false,
		store.FieldUpdatedAt:     now,
	}}
	if groupID != "" {
		u.Set[store.FieldGroupID] = groupID
	}
	return u
}

// unchanged pins an identity to the version that was read.
func unchanged(i *domain.Identity) store.Filter {
	return append(store.ActiveByID(i.ID), store.Eq(store.FieldUpdatedAt, i.UpdatedAt))
}

// repoint moves tombstones that point at any of from so they point at to.
func (s *service) repoint(ctx context.Context, from []string, to string, now time.Time) ([]store.Write, error) {
	var writes []store.Write
	for _, fid := range from {
		var tombs []domain.Identity
		if err := s.store.FindMany(ctx, store.Identities, store.Where(store.Eq(store.FieldMergedInto, fid)), &tombs); err != nil {
			return nil, fmt.Errorf("find tombstones of %s: %w", fid, err)
		}
		for _, t := range tombs {
			writes = append(writes, store.Write{
				Collection: store.Identities,
				Filter:     store.Where(store.Eq(store.FieldIdentityID, t.ID), store.Eq(store.FieldMergedInto, fid)),
				Update: store.Update{Set: map[string]any{
					store.FieldMergedInto: to,
					store.FieldUpdatedAt:  now,
				}},
			})
		}
	}
	return writes, nil
}

// demoteMasters clears the master flag of group members outside keep.
func (s *service) demoteMasters(ctx context.Context, groupID string, keep map[string]bool, now time.Time) ([]store.Write, error) {
	var masters []domain.Identity
	err := s.store.FindMany(ctx, store.Identities,
		store.Where(store.Eq(store.FieldGroupID, groupID), store.Eq(store.FieldIsMaster, true)), &masters)
	if err != nil {
		return nil, fmt.Errorf("find masters of %s: %w", groupID, err)
	}
	var writes []store.Write
	for _, m := range masters {
		if keep[m.ID] {
			continue
		}
		writes = append(writes, store.Write{
			Collection: store.Identities,
			Filter:     store.Where(store.Eq(store.FieldIdentityID, m.ID), store.Eq(store.FieldIsMaster, true)),
			Update: store.Update{Set: map[string]any{
				store.FieldIsMaster:  false,
				store.FieldUpdatedAt: now,
			}},
		})
	}
	return writes, nil
}

func (s *service) commit(ctx context.Context, mode string, writes []store.Write) error {
	if len(writes) > store.MaxTransactWrites {
		s.metrics.Merge(mode, "rejected")
		return fmt.Errorf("merge needs %d writes, at most %d fit one transaction: %w",
			len(writes), store.MaxTransactWrites, domain.ErrInvalidInput)
	}
	if err := s.store.Transact(ctx, writes...); err != nil {
		if errors.Is(err, store.ErrConditionFailed) {
			s.metrics.Merge(mode, "conflict")
			return fmt.Errorf("identities changed during merge, retry: %w: %w", domain.ErrMergeFailed, domain.ErrConflict)
		}
		s.metrics.Merge(mode, "error")
		return fmt.Errorf("%w: %w", domain.ErrMergeFailed, err)
	}
	s.metrics.Merge(mode, "ok")
	return nil
}

func (s *service) snapshot(ctx context.Context, snap Snapshot) {
	if s.archive == nil {
		return
	}
	url, err := s.archive.Archive(ctx, snap.Primary.ID, snap.At, snap)
	s.metrics.AuditArchive(err == nil)
	if err != nil {
		slog.Warn("failed to archive merge snapshot", "primary_id", snap.Primary.ID, "err", err)
		return
	}
	slog.Debug("archived merge snapshot", "primary_id", snap.Primary.ID, "url", url)
}
