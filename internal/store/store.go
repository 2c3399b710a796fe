// Package store defines the document-store contract shared by every
// application service. Implementations live under internal/infrastructure.
package store

import (
	"context"
	"errors"
)

// Collection names a logical collection of documents.
type Collection string

const (
	Identities         Collection = "identities"
	VerificationTokens Collection = "verification_tokens"
	ProviderLinks      Collection = "external_provider_links"
)

// MaxTransactWrites is the most writes one Transact call accepts, matching
// DynamoDB's TransactWriteItems limit.
const MaxTransactWrites = 100

var (
	// ErrNotFound is returned by FindOne when nothing matches.
	ErrNotFound = errors.New("document not found")
	// ErrConditionFailed is returned by UpdateOne and Transact when a filter
	// no longer matches the stored document.
	ErrConditionFailed = errors.New("condition failed")
	// ErrTooManyWrites is returned by Transact for more than MaxTransactWrites writes.
	ErrTooManyWrites = errors.New("too many writes in one transaction")
)

// Store is the record store every component reads and writes through.
//
// Documents are Go structs carrying dynamodbav tags; out arguments are
// pointers to a struct (FindOne, UpdateOne) or to a slice of structs (FindMany).
type Store interface {
	FindOne(ctx context.Context, c Collection, f Filter, out any) error
	FindMany(ctx context.Context, c Collection, f Filter, out any) error
	InsertOne(ctx context.Context, c Collection, doc any) (string, error)
	// UpdateOne applies u to the single document matching f. The filter must
	// pin the document key; remaining conditions are checked atomically with
	// the write. When out is non-nil it receives the updated document.
	UpdateOne(ctx context.Context, c Collection, f Filter, u Update, out any) error
	DeleteMany(ctx context.Context, c Collection, f Filter) (int, error)
	// Transact applies every write or none of them. At most MaxTransactWrites
	// writes fit one call.
	Transact(ctx context.Context, writes ...Write) error
}

// Write is one conditional update inside a transaction.
type Write struct {
	Collection Collection
	Filter     Filter
	Update     Update
}
