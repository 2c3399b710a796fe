package dynamo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-identity-nosql/internal/config"
	"github.com/go-identity-nosql/internal/store"
)

// DocumentStore implements store.Store over DynamoDB tables.
type DocumentStore struct {
	client *dynamodb.Client
	tables map[store.Collection]string
}

func NewDocumentStore(client *dynamodb.Client, tables config.DynamoTables) *DocumentStore {
	return &DocumentStore{client: client, tables: tableNames(tables)}
}

func tableNames(t config.DynamoTables) map[store.Collection]string {
	return map[store.Collection]string{
		store.Identities:         t.Identities,
		store.VerificationTokens: t.VerificationTokens,
		store.ProviderLinks:      t.ProviderLinks,
	}
}

func (s *DocumentStore) FindOne(ctx context.Context, c store.Collection, f store.Filter, out any) error {
	items, err := s.find(ctx, c, f, true)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return fmt.Errorf("%s: %w", c, store.ErrNotFound)
	}
	return attributevalue.UnmarshalMap(items[0], out)
}

func (s *DocumentStore) FindMany(ctx context.Context, c store.Collection, f store.Filter, out any) error {
	items, err := s.find(ctx, c, f, false)
	if err != nil {
		return err
	}
	if items == nil {
		items = []map[string]types.AttributeValue{}
	}
	return attributevalue.UnmarshalListOfMaps(items, out)
}

func (s *DocumentStore) InsertOne(ctx context.Context, c store.Collection, doc any) (string, error) {
	item, err := attributevalue.MarshalMap(doc)
	if err != nil {
		return "", fmt.Errorf("marshal %s document: %w", c, err)
	}
	schema := store.Schemas[c]
	b := newExprBuilder()
	cond := fmt.Sprintf("attribute_not_exists(%s)", b.name(schema.HashKey))
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.tables[c]),
		Item:                     item,
		ConditionExpression:      aws.String(cond),
		ExpressionAttributeNames: b.names(),
	})
	if err != nil {
		return "", translate(err)
	}
	id, _ := item[schema.HashKey].(*types.AttributeValueMemberS)
	if id == nil {
		return "", nil
	}
	return id.Value, nil
}

func (s *DocumentStore) UpdateOne(ctx context.Context, c store.Collection, f store.Filter, u store.Update, out any) error {
	in, err := s.updateInput(ctx, c, f, u)
	if err != nil {
		return err
	}
	if out != nil {
		in.ReturnValues = types.ReturnValueAllNew
	}
	res, err := s.client.UpdateItem(ctx, in)
	if err != nil {
		return translate(err)
	}
	if out != nil {
		return attributevalue.UnmarshalMap(res.Attributes, out)
	}
	return nil
}

func (s *DocumentStore) DeleteMany(ctx context.Context, c store.Collection, f store.Filter) (int, error) {
	items, err := s.find(ctx, c, f, false)
	if err != nil {
		return 0, err
	}
	schema := store.Schemas[c]
	deleted := 0
	var firstErr error
	for _, item := range items {
		_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.tables[c]),
			Key:       keyFromItem(schema, item),
		})
		if err != nil {
			slog.Warn("failed to delete document", "collection", c, "err", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		deleted++
	}
	return deleted, firstErr
}

// Transact maps every write onto one TransactWriteItems call so the whole
// batch commits or none of it does.
func (s *DocumentStore) Transact(ctx context.Context, writes ...store.Write) error {
	if len(writes) > store.MaxTransactWrites {
		return fmt.Errorf("transact %d writes: %w", len(writes), store.ErrTooManyWrites)
	}
	items := make([]types.TransactWriteItem, 0, len(writes))
	for _, w := range writes {
		schema := store.Schemas[w.Collection]
		key, ok := keyOf(schema, w.Filter)
		if !ok {
			return fmt.Errorf("transact %s: filter must pin the document key", w.Collection)
		}
		b := newExprBuilder()
		upd, err := b.update(w.Update)
		if err != nil {
			return err
		}
		cond, err := b.filter(append(store.Filter{existsCond(schema)}, w.Filter.Without(schema.KeyFields()...)...))
		if err != nil {
			return err
		}
		items = append(items, types.TransactWriteItem{Update: &types.Update{
			TableName:                 aws.String(s.tables[w.Collection]),
			Key:                       key,
			UpdateExpression:          aws.String(upd),
			ConditionExpression:       aws.String(cond),
			ExpressionAttributeNames:  b.names(),
			ExpressionAttributeValues: b.values(),
		}})
	}
	_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	return translate(err)
}

func (s *DocumentStore) updateInput(ctx context.Context, c store.Collection, f store.Filter, u store.Update) (*dynamodb.UpdateItemInput, error) {
	schema := store.Schemas[c]
	key, ok := keyOf(schema, f)
	if !ok {
		items, err := s.find(ctx, c, f, true)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return nil, fmt.Errorf("update %s: %w", c, store.ErrConditionFailed)
		}
		key = keyFromItem(schema, items[0])
	}
	b := newExprBuilder()
	upd, err := b.update(u)
	if err != nil {
		return nil, err
	}
	cond, err := b.filter(append(store.Filter{existsCond(schema)}, f.Without(schema.KeyFields()...)...))
	if err != nil {
		return nil, err
	}
	return &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.tables[c]),
		Key:                       key,
		UpdateExpression:          aws.String(upd),
		ConditionExpression:       aws.String(cond),
		ExpressionAttributeNames:  b.names(),
		ExpressionAttributeValues: b.values(),
	}, nil
}

// existsCond makes a conditional write fail instead of creating a new item
// when the key does not exist.
func existsCond(schema store.Schema) store.Cond {
	return store.Exists(schema.HashKey)
}

// translate maps DynamoDB condition failures onto store.ErrConditionFailed.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return fmt.Errorf("%s: %w", ccf.ErrorMessage(), store.ErrConditionFailed)
	}
	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		for _, r := range tce.CancellationReasons {
			if aws.ToString(r.Code) == "ConditionalCheckFailed" {
				return fmt.Errorf("transaction cancelled: %w", store.ErrConditionFailed)
			}
		}
	}
	return err
}
