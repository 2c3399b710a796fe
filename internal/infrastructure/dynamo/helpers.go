package dynamo

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-identity-nosql/internal/store"
)

// exprBuilder accumulates placeholder names and values shared by the key,
// condition, filter and update expressions of one request.
type exprBuilder struct {
	Names  map[string]string
	Values map[string]types.AttributeValue
	fields map[string]string
	nv     int
}

func newExprBuilder() *exprBuilder {
	return &exprBuilder{
		Names:  make(map[string]string),
		Values: make(map[string]types.AttributeValue),
		fields: make(map[string]string),
	}
}

func (b *exprBuilder) name(field string) string {
	if p, ok := b.fields[field]; ok {
		return p
	}
	p := fmt.Sprintf("#f%d", len(b.fields))
	b.fields[field] = p
	b.Names[p] = field
	return p
}

func (b *exprBuilder) value(v any) (string, error) {
	av, ok := v.(types.AttributeValue)
	if !ok {
		var err error
		av, err = attributevalue.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("marshal value %v: %w", v, err)
		}
	}
	p := fmt.Sprintf(":v%d", b.nv)
	b.nv++
	b.Values[p] = av
	return p, nil
}

// names and values return nil for empty maps; DynamoDB rejects empty
// expression attribute maps.
func (b *exprBuilder) names() map[string]string {
	if len(b.Names) == 0 {
		return nil
	}
	return b.Names
}

func (b *exprBuilder) values() map[string]types.AttributeValue {
	if len(b.Values) == 0 {
		return nil
	}
	return b.Values
}

// filter renders a conjunction of conditions. An empty filter renders "".
func (b *exprBuilder) filter(f store.Filter) (string, error) {
	parts := make([]string, 0, len(f))
	for _, c := range f {
		s, err := b.cond(c)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, " AND "), nil
}

func (b *exprBuilder) cond(c store.Cond) (string, error) {
	if c.Op == store.OpOr {
		alts := make([]string, 0, len(c.Any))
		for _, a := range c.Any {
			s, err := b.cond(a)
			if err != nil {
				return "", err
			}
			alts = append(alts, s)
		}
		return "(" + strings.Join(alts, " OR ") + ")", nil
	}
	n := b.name(c.Field)
	switch c.Op {
	case store.OpMissing:
		return fmt.Sprintf("attribute_not_exists(%s)", n), nil
	case store.OpExists:
		return fmt.Sprintf("attribute_exists(%s)", n), nil
	}
	v, err := b.value(c.Value)
	if err != nil {
		return "", err
	}
	switch c.Op {
	case store.OpEq:
		return fmt.Sprintf("%s = %s", n, v), nil
	case store.OpNe:
		return fmt.Sprintf("(attribute_not_exists(%s) OR %s <> %s)", n, n, v), nil
	case store.OpLt:
		return fmt.Sprintf("%s < %s", n, v), nil
	case store.OpContains:
		return fmt.Sprintf("contains(%s, %s)", n, v), nil
	}
	return "", fmt.Errorf("unsupported operator %d", c.Op)
}

// update renders u as a DynamoDB update expression. Fields are visited in
// sorted order so the expression is deterministic.
func (b *exprBuilder) update(u store.Update) (string, error) {
	var set, remove, add, del []string
	for _, k := range slices.Sorted(maps.Keys(u.Set)) {
		v, err := b.value(u.Set[k])
		if err != nil {
			return "", fmt.Errorf("marshal field %s: %w", k, err)
		}
		set = append(set, fmt.Sprintf("%s = %s", b.name(k), v))
	}
	for _, k := range slices.Sorted(maps.Keys(u.Push)) {
		items := make([]types.AttributeValue, 0, len(u.Push[k]))
		for _, s := range u.Push[k] {
			items = append(items, &types.AttributeValueMemberS{Value: s})
		}
		empty, _ := b.value(&types.AttributeValueMemberL{Value: []types.AttributeValue{}})
		v, _ := b.value(&types.AttributeValueMemberL{Value: items})
		n := b.name(k)
		set = append(set, fmt.Sprintf("%s = list_append(if_not_exists(%s, %s), %s)", n, n, empty, v))
	}
	for _, k := range slices.Sorted(slices.Values(u.Unset)) {
		remove = append(remove, b.name(k))
	}
	for _, k := range slices.Sorted(maps.Keys(u.AddToSet)) {
		if len(u.AddToSet[k]) == 0 {
			continue
		}
		v, _ := b.value(&types.AttributeValueMemberSS{Value: dedupe(u.AddToSet[k])})
		add = append(add, fmt.Sprintf("%s %s", b.name(k), v))
	}
	for _, k := range slices.Sorted(maps.Keys(u.Inc)) {
		v, err := b.value(u.Inc[k])
		if err != nil {
			return "", err
		}
		add = append(add, fmt.Sprintf("%s %s", b.name(k), v))
	}
	for _, k := range slices.Sorted(maps.Keys(u.Pull)) {
		if len(u.Pull[k]) == 0 {
			continue
		}
		v, _ := b.value(&types.AttributeValueMemberSS{Value: dedupe(u.Pull[k])})
		del = append(del, fmt.Sprintf("%s %s", b.name(k), v))
	}

	var clauses []string
	if len(set) > 0 {
		clauses = append(clauses, "SET "+strings.Join(set, ", "))
	}
	if len(remove) > 0 {
		clauses = append(clauses, "REMOVE "+strings.Join(remove, ", "))
	}
	if len(add) > 0 {
		clauses = append(clauses, "ADD "+strings.Join(add, ", "))
	}
	if len(del) > 0 {
		clauses = append(clauses, "DELETE "+strings.Join(del, ", "))
	}
	if len(clauses) == 0 {
		return "", fmt.Errorf("no fields to update")
	}
	return strings.Join(clauses, " "), nil
}

// keyOf extracts the primary key a filter pins, if it pins all key attributes.
func keyOf(schema store.Schema, f store.Filter) (map[string]types.AttributeValue, bool) {
	key := make(map[string]types.AttributeValue, 2)
	for _, field := range schema.KeyFields() {
		v, ok := f.EqValue(field)
		if !ok {
			return nil, false
		}
		av, err := attributevalue.Marshal(v)
		if err != nil {
			return nil, false
		}
		key[field] = av
	}
	return key, true
}

// keyFromItem copies the key attributes out of a full item.
func keyFromItem(schema store.Schema, it map[string]types.AttributeValue) map[string]types.AttributeValue {
	key := make(map[string]types.AttributeValue, 2)
	for _, field := range schema.KeyFields() {
		key[field] = it[field]
	}
	return key
}

func dedupe(values []string) []string {
	out := slices.Clone(values)
	slices.Sort(out)
	return slices.Compact(out)
}
