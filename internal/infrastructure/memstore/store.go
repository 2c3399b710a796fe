// Package memstore is an in-process implementation of store.Store. Documents
// are kept as DynamoDB attribute maps so the same dynamodbav tags and set
// semantics apply as in production. Used by tests and STORE_BACKEND=memory.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-identity-nosql/internal/store"
)

type item = map[string]types.AttributeValue

// Store is a mutex-guarded map of collections.
type Store struct {
	mu   sync.Mutex
	data map[store.Collection]map[string]item
	fail func(op string) error
}

func New() *Store {
	return &Store{data: make(map[store.Collection]map[string]item)}
}

// FailWith installs a hook consulted before every write; a non-nil result is
// returned instead of performing the write. Tests use it to simulate outages.
func (s *Store) FailWith(fn func(op string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fn
}

func (s *Store) FindOne(_ context.Context, c store.Collection, f store.Filter, out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.sorted(c) {
		if matchAll(it, f) {
			return attributevalue.UnmarshalMap(it, out)
		}
	}
	return store.ErrNotFound
}

func (s *Store) FindMany(_ context.Context, c store.Collection, f store.Filter, out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []item
	for _, it := range s.sorted(c) {
		if matchAll(it, f) {
			items = append(items, it)
		}
	}
	if items == nil {
		items = []item{}
	}
	return attributevalue.UnmarshalListOfMaps(items, out)
}

func (s *Store) InsertOne(_ context.Context, c store.Collection, doc any) (string, error) {
	it, err := attributevalue.MarshalMap(doc)
	if err != nil {
		return "", fmt.Errorf("marshal %s document: %w", c, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkFail("insert"); err != nil {
		return "", err
	}
	schema := store.Schemas[c]
	k, err := itemKey(schema, it)
	if err != nil {
		return "", err
	}
	coll := s.collection(c)
	if _, exists := coll[k]; exists {
		return "", fmt.Errorf("insert %s: %w", c, store.ErrConditionFailed)
	}
	coll[k] = it
	return scalar(it[schema.HashKey]), nil
}

func (s *Store) UpdateOne(_ context.Context, c store.Collection, f store.Filter, u store.Update, out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkFail("update"); err != nil {
		return err
	}
	k, updated, err := s.prepare(store.Write{Collection: c, Filter: f, Update: u})
	if err != nil {
		return err
	}
	s.collection(c)[k] = updated
	if out != nil {
		return attributevalue.UnmarshalMap(updated, out)
	}
	return nil
}

func (s *Store) DeleteMany(_ context.Context, c store.Collection, f store.Filter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkFail("delete"); err != nil {
		return 0, err
	}
	coll := s.collection(c)
	n := 0
	for k, it := range coll {
		if matchAll(it, f) {
			delete(coll, k)
			n++
		}
	}
	return n, nil
}

// Transact evaluates every write against the current state before applying
// any of them.
func (s *Store) Transact(_ context.Context, writes ...store.Write) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkFail("transact"); err != nil {
		return err
	}
	if len(writes) > store.MaxTransactWrites {
		return fmt.Errorf("transact %d writes: %w", len(writes), store.ErrTooManyWrites)
	}
	type staged struct {
		c   store.Collection
		key string
		it  item
	}
	pending := make([]staged, 0, len(writes))
	for _, w := range writes {
		k, updated, err := s.prepare(w)
		if err != nil {
			return err
		}
		pending = append(pending, staged{c: w.Collection, key: k, it: updated})
	}
	for _, p := range pending {
		s.collection(p.c)[p.key] = p.it
	}
	return nil
}

// prepare locates the document a write targets, checks its conditions and
// returns the updated copy without storing it.
func (s *Store) prepare(w store.Write) (string, item, error) {
	schema := store.Schemas[w.Collection]
	coll := s.collection(w.Collection)
	var (
		k       string
		current item
	)
	if key, ok := filterKey(schema, w.Filter); ok {
		k, current = key, coll[key]
	} else {
		for _, it := range s.sorted(w.Collection) {
			if matchAll(it, w.Filter) {
				k, _ = itemKey(schema, it)
				current = it
				break
			}
		}
	}
	if current == nil || !matchAll(current, w.Filter) {
		return "", nil, fmt.Errorf("update %s: %w", w.Collection, store.ErrConditionFailed)
	}
	updated, err := apply(maps.Clone(current), w.Update)
	if err != nil {
		return "", nil, err
	}
	return k, updated, nil
}

func (s *Store) checkFail(op string) error {
	if s.fail == nil {
		return nil
	}
	return s.fail(op)
}

func (s *Store) collection(c store.Collection) map[string]item {
	coll, ok := s.data[c]
	if !ok {
		coll = make(map[string]item)
		s.data[c] = coll
	}
	return coll
}

// sorted returns the collection's items ordered by key so scans are deterministic.
func (s *Store) sorted(c store.Collection) []item {
	coll := s.collection(c)
	keys := slices.Sorted(maps.Keys(coll))
	out := make([]item, 0, len(keys))
	for _, k := range keys {
		out = append(out, coll[k])
	}
	return out
}

func itemKey(schema store.Schema, it item) (string, error) {
	k := ""
	for i, f := range schema.KeyFields() {
		av, ok := it[f]
		if !ok {
			return "", fmt.Errorf("document is missing key attribute %q", f)
		}
		if i > 0 {
			k += "\x00"
		}
		k += scalar(av)
	}
	return k, nil
}

func filterKey(schema store.Schema, f store.Filter) (string, bool) {
	k := ""
	for i, field := range schema.KeyFields() {
		v, ok := f.EqValue(field)
		if !ok {
			return "", false
		}
		if i > 0 {
			k += "\x00"
		}
		k += fmt.Sprint(v)
	}
	return k, true
}
