package s3infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-identity-nosql/internal/config"
	"github.com/go-identity-nosql/internal/infrastructure/awsinfra"
)

// objectPutter is the subset of the S3 client the archive uses.
type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// AuditArchive writes merge snapshots to S3.
type AuditArchive struct {
	client objectPutter
	bucket string
}

// NewClient creates an S3 client. When cfg.AWSEndpointURL is set (LocalStack),
// it overrides the endpoint and enables path-style addressing.
func NewClient(ctx context.Context, cfg *config.Config) (*s3.Client, error) {
	awsCfg, err := awsinfra.Load(ctx, cfg, cfg.AWSRegion)
	if err != nil {
		return nil, err
	}
	var clientOpts []func(*s3.Options)
	if cfg.AWSEndpointURL != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.AWSEndpointURL)
			o.UsePathStyle = true
		})
	}
	return s3.NewFromConfig(awsCfg, clientOpts...), nil
}

// NewAuditArchive creates an AuditArchive with the given S3 client and bucket name.
func NewAuditArchive(client *s3.Client, bucket string) *AuditArchive {
	return &AuditArchive{client: client, bucket: bucket}
}

// SnapshotKey is the object key for a merge into primaryID at t.
func SnapshotKey(primaryID string, t time.Time) string {
	return fmt.Sprintf("merges/%s/%s.json", primaryID, t.UTC().Format("20060102T150405.000000000Z"))
}

// Archive stores snapshot as JSON under merges/<primaryID>/<timestamp>.json
// and returns the object URL.
func (a *AuditArchive) Archive(ctx context.Context, primaryID string, at time.Time, snapshot any) (string, error) {
	body, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	key := SnapshotKey(primaryID, at)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", a.bucket, key), nil
}
