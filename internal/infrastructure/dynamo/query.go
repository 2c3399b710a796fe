package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-identity-nosql/internal/store"
)

// find picks the cheapest read for a filter: a key query when the filter pins
// the hash key, a GSI query when it pins an indexed attribute, and a filtered
// scan otherwise. When first is set it stops at the first matching item.
func (s *DocumentStore) find(ctx context.Context, c store.Collection, f store.Filter, first bool) ([]map[string]types.AttributeValue, error) {
	table, ok := s.tables[c]
	if !ok {
		return nil, fmt.Errorf("unknown collection %q", c)
	}
	schema := store.Schemas[c]

	if _, ok := f.EqValue(schema.HashKey); ok {
		keyFields := []string{schema.HashKey}
		if schema.RangeKey != "" {
			if _, ok := f.EqValue(schema.RangeKey); ok {
				keyFields = append(keyFields, schema.RangeKey)
			}
		}
		in, err := queryInput(table, "", keyFields, f)
		if err != nil {
			return nil, err
		}
		in.ConsistentRead = aws.Bool(true)
		return s.query(ctx, in, first)
	}

	for _, cond := range f {
		if cond.Op != store.OpEq {
			continue
		}
		if index, ok := schema.Indexes[cond.Field]; ok {
			in, err := queryInput(table, index, []string{cond.Field}, f)
			if err != nil {
				return nil, err
			}
			return s.query(ctx, in, first)
		}
	}

	b := newExprBuilder()
	expr, err := b.filter(f)
	if err != nil {
		return nil, err
	}
	in := &dynamodb.ScanInput{
		TableName:                 aws.String(table),
		ExpressionAttributeNames:  b.names(),
		ExpressionAttributeValues: b.values(),
	}
	if expr != "" {
		in.FilterExpression = aws.String(expr)
	}
	var items []map[string]types.AttributeValue
	p := dynamodb.NewScanPaginator(s.client, in)
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		items = append(items, out.Items...)
		if first && len(items) > 0 {
			break
		}
	}
	return items, nil
}

func queryInput(table, index string, keyFields []string, f store.Filter) (*dynamodb.QueryInput, error) {
	b := newExprBuilder()
	keyConds := make(store.Filter, 0, len(keyFields))
	for _, field := range keyFields {
		v, _ := f.EqValue(field)
		keyConds = append(keyConds, store.Eq(field, v))
	}
	keyExpr, err := b.filter(keyConds)
	if err != nil {
		return nil, err
	}
	in := &dynamodb.QueryInput{
		TableName:              aws.String(table),
		KeyConditionExpression: aws.String(keyExpr),
	}
	if index != "" {
		in.IndexName = aws.String(index)
	}
	rest := f.Without(keyFields...)
	if len(rest) > 0 {
		filterExpr, err := b.filter(rest)
		if err != nil {
			return nil, err
		}
		in.FilterExpression = aws.String(filterExpr)
	}
	in.ExpressionAttributeNames = b.names()
	in.ExpressionAttributeValues = b.values()
	return in, nil
}

func (s *DocumentStore) query(ctx context.Context, in *dynamodb.QueryInput, first bool) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	p := dynamodb.NewQueryPaginator(s.client, in)
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		items = append(items, out.Items...)
		if first && len(items) > 0 {
			break
		}
	}
	return items, nil
}
