package memstore

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-identity-nosql/internal/store"
)

func matchAll(it item, f store.Filter) bool {
	for _, c := range f {
		if !match(it, c) {
			return false
		}
	}
	return true
}

func match(it item, c store.Cond) bool {
	if c.Op == store.OpOr {
		for _, alt := range c.Any {
			if match(it, alt) {
				return true
			}
		}
		return false
	}
	av, present := it[c.Field]
	if _, isNull := av.(*types.AttributeValueMemberNULL); isNull {
		present = false
	}
	switch c.Op {
	case store.OpMissing:
		return !present
	case store.OpExists:
		return present
	case store.OpEq:
		return present && equal(av, marshal(c.Value))
	case store.OpNe:
		return !present || !equal(av, marshal(c.Value))
	case store.OpLt:
		return present && less(av, marshal(c.Value))
	case store.OpContains:
		return present && contains(av, marshal(c.Value))
	}
	return false
}

func marshal(v any) types.AttributeValue {
	av, err := attributevalue.Marshal(v)
	if err != nil {
		return &types.AttributeValueMemberNULL{Value: true}
	}
	return av
}

func equal(a, b types.AttributeValue) bool {
	switch x := a.(type) {
	case *types.AttributeValueMemberS:
		y, ok := b.(*types.AttributeValueMemberS)
		return ok && x.Value == y.Value
	case *types.AttributeValueMemberN:
		y, ok := b.(*types.AttributeValueMemberN)
		return ok && number(x.Value) == number(y.Value)
	case *types.AttributeValueMemberBOOL:
		y, ok := b.(*types.AttributeValueMemberBOOL)
		return ok && x.Value == y.Value
	case *types.AttributeValueMemberSS:
		y, ok := b.(*types.AttributeValueMemberSS)
		if !ok || len(x.Value) != len(y.Value) {
			return false
		}
		for _, v := range x.Value {
			if !slices.Contains(y.Value, v) {
				return false
			}
		}
		return true
	}
	return false
}

func less(a, b types.AttributeValue) bool {
	switch x := a.(type) {
	case *types.AttributeValueMemberN:
		y, ok := b.(*types.AttributeValueMemberN)
		return ok && number(x.Value) < number(y.Value)
	case *types.AttributeValueMemberS:
		y, ok := b.(*types.AttributeValueMemberS)
		return ok && x.Value < y.Value
	}
	return false
}

func contains(set, v types.AttributeValue) bool {
	switch x := set.(type) {
	case *types.AttributeValueMemberSS:
		s, ok := v.(*types.AttributeValueMemberS)
		return ok && slices.Contains(x.Value, s.Value)
	case *types.AttributeValueMemberL:
		for _, el := range x.Value {
			if equal(el, v) {
				return true
			}
		}
	case *types.AttributeValueMemberS:
		s, ok := v.(*types.AttributeValueMemberS)
		return ok && strings.Contains(x.Value, s.Value)
	}
	return false
}

// apply mutates it (a private copy) according to u, mirroring DynamoDB's
// SET/REMOVE/ADD/DELETE semantics for string sets and numbers.
func apply(it item, u store.Update) (item, error) {
	for field, v := range u.Set {
		av, err := attributevalue.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal field %s: %w", field, err)
		}
		it[field] = av
	}
	for _, field := range u.Unset {
		delete(it, field)
	}
	for field, values := range u.AddToSet {
		if len(values) == 0 {
			continue
		}
		var cur []string
		if ss, ok := it[field].(*types.AttributeValueMemberSS); ok {
			cur = ss.Value
		}
		next := slices.Clone(cur)
		for _, v := range values {
			if !slices.Contains(next, v) {
				next = append(next, v)
			}
		}
		it[field] = &types.AttributeValueMemberSS{Value: next}
	}
	for field, values := range u.Pull {
		ss, ok := it[field].(*types.AttributeValueMemberSS)
		if !ok {
			continue
		}
		next := slices.DeleteFunc(slices.Clone(ss.Value), func(v string) bool {
			return slices.Contains(values, v)
		})
		if len(next) == 0 {
			delete(it, field)
			continue
		}
		it[field] = &types.AttributeValueMemberSS{Value: next}
	}
	for field, values := range u.Push {
		var cur []types.AttributeValue
		if l, ok := it[field].(*types.AttributeValueMemberL); ok {
			cur = l.Value
		}
		next := slices.Clone(cur)
		for _, v := range values {
			next = append(next, &types.AttributeValueMemberS{Value: v})
		}
		it[field] = &types.AttributeValueMemberL{Value: next}
	}
	for field, delta := range u.Inc {
		cur := 0.0
		if n, ok := it[field].(*types.AttributeValueMemberN); ok {
			cur = number(n.Value)
		}
		it[field] = &types.AttributeValueMemberN{Value: strconv.FormatFloat(cur+float64(delta), 'f', -1, 64)}
	}
	return it, nil
}

func number(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// scalar renders a key attribute as a string.
func scalar(av types.AttributeValue) string {
	switch x := av.(type) {
	case *types.AttributeValueMemberS:
		return x.Value
	case *types.AttributeValueMemberN:
		return x.Value
	}
	return ""
}
