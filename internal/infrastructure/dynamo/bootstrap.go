package dynamo

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-identity-nosql/internal/config"
	"github.com/go-identity-nosql/internal/store"
)

// Bootstrap creates all DynamoDB tables and GSIs if they don't already exist.
// Safe to call on every startup; tables that already exist are skipped.
func Bootstrap(ctx context.Context, client *dynamodb.Client, tables config.DynamoTables) {
	names := tableNames(tables)
	for _, c := range []store.Collection{store.Identities, store.VerificationTokens, store.ProviderLinks} {
		createTable(ctx, client, tableInput(names[c], store.Schemas[c]))
	}
	// Expired tokens are purged by DynamoDB itself.
	enableTTL(ctx, client, tables.VerificationTokens, "expires_at")
}

// tableInput derives the CreateTable request from a collection schema. Every
// key and index attribute is a string.
func tableInput(name string, schema store.Schema) *dynamodb.CreateTableInput {
	attrs := map[string]struct{}{schema.HashKey: {}}
	ks := []types.KeySchemaElement{
		{AttributeName: aws.String(schema.HashKey), KeyType: types.KeyTypeHash},
	}
	if schema.RangeKey != "" {
		attrs[schema.RangeKey] = struct{}{}
		ks = append(ks, types.KeySchemaElement{AttributeName: aws.String(schema.RangeKey), KeyType: types.KeyTypeRange})
	}
	in := &dynamodb.CreateTableInput{
		TableName:   aws.String(name),
		BillingMode: types.BillingModePayPerRequest,
		KeySchema:   ks,
	}
	for _, attr := range slices.Sorted(maps.Keys(schema.Indexes)) {
		attrs[attr] = struct{}{}
		in.GlobalSecondaryIndexes = append(in.GlobalSecondaryIndexes, gsi(schema.Indexes[attr], attr, ""))
	}
	for _, attr := range slices.Sorted(maps.Keys(attrs)) {
		in.AttributeDefinitions = append(in.AttributeDefinitions, types.AttributeDefinition{
			AttributeName: aws.String(attr), AttributeType: types.ScalarAttributeTypeS,
		})
	}
	return in
}

// gsi builds a GSI descriptor. If sortKey is empty, only a hash key is added.
func gsi(indexName, hashKey, sortKey string) types.GlobalSecondaryIndex {
	ks := []types.KeySchemaElement{
		{AttributeName: aws.String(hashKey), KeyType: types.KeyTypeHash},
	}
	if sortKey != "" {
		ks = append(ks, types.KeySchemaElement{
			AttributeName: aws.String(sortKey), KeyType: types.KeyTypeRange,
		})
	}
	return types.GlobalSecondaryIndex{
		IndexName:  aws.String(indexName),
		KeySchema:  ks,
		Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
	}
}

func createTable(ctx context.Context, client *dynamodb.Client, input *dynamodb.CreateTableInput) {
	_, err := client.CreateTable(ctx, input)
	if err != nil {
		// ResourceInUseException means the table already exists.
		var riue *types.ResourceInUseException
		if !errors.As(err, &riue) {
			slog.Warn("could not create table", "table", *input.TableName, "err", err)
		}
	} else {
		slog.Info("created table", "table", *input.TableName)
	}
}

func enableTTL(ctx context.Context, client *dynamodb.Client, tableName, ttlAttr string) {
	_, err := client.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
		TableName: aws.String(tableName),
		TimeToLiveSpecification: &types.TimeToLiveSpecification{
			Enabled:       aws.Bool(true),
			AttributeName: aws.String(ttlAttr),
		},
	})
	if err != nil {
		slog.Warn("could not enable TTL", "table", tableName, "err", err)
	}
}
