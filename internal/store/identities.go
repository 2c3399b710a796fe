package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-identity-nosql/internal/domain"
)

// Identity document attribute names shared by the services that write them.
const (
	FieldIdentityID      = "identity_id"
	FieldEmail           = "email"
	FieldPhone           = "phone"
	FieldName            = "name"
	FieldImage           = "image"
	FieldLinkedEmails    = "linked_emails"
	FieldLinkedPhones    = "linked_phones"
	FieldLinkedProviders = "linked_providers"
	FieldVerifiedEmails  = "verified_emails"
	FieldVerifiedPhones  = "verified_phones"
	FieldGroupID         = "group_id"
	FieldIsActive        = "is_active"
	FieldIsMaster        = "is_master"
	FieldMergedInto      = "merged_into"
	FieldMergedAccounts  = "merged_accounts"
	FieldAccountStatus   = "account_status"
	FieldCredentialHash  = "credential_hash"
	FieldUpdatedAt       = "updated_at"
	FieldMergedAt        = "merged_at"
)

type oneFinder interface {
	FindOne(ctx context.Context, c Collection, f Filter, out any) error
}

// ByID pins an identity document.
func ByID(id string) Filter { return Where(Eq(FieldIdentityID, id)) }

// ActiveByID pins an identity document that has not been merged away.
func ActiveByID(id string) Filter {
	return Where(Eq(FieldIdentityID, id), Ne(FieldAccountStatus, domain.AccountMerged))
}

// LoadIdentity reads one identity, mapping a miss to domain.ErrNotFound.
func LoadIdentity(ctx context.Context, s oneFinder, id string) (*domain.Identity, error) {
	if id == "" {
		return nil, fmt.Errorf("identity id required: %w", domain.ErrInvalidInput)
	}
	var ident domain.Identity
	if err := s.FindOne(ctx, Identities, ByID(id), &ident); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("identity %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("load identity %s: %w", id, err)
	}
	return &ident, nil
}

// LoadActiveIdentity reads one identity and refuses tombstones with domain.ErrConflict.
func LoadActiveIdentity(ctx context.Context, s oneFinder, id string) (*domain.Identity, error) {
	ident, err := LoadIdentity(ctx, s, id)
	if err != nil {
		return nil, err
	}
	if ident.Merged() {
		return nil, fmt.Errorf("identity %s was merged into %s: %w", id, ident.MergedInto, domain.ErrConflict)
	}
	return ident, nil
}
