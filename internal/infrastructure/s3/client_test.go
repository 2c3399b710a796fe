package s3infra

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	objects map[string][]byte
	err     error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	b, _ := io.ReadAll(in.Body)
	f.objects[aws.ToString(in.Key)] = b
	return &s3.PutObjectOutput{}, nil
}

func TestSnapshotKey(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 20, 30, 5, time.UTC)
	assert.Equal(t, "merges/p1/20260301T102030.000000005Z.json", SnapshotKey("p1", at))
}

func TestArchive_RoundTrip(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}}
	a := &AuditArchive{client: fake, bucket: "audit"}
	at := time.Now()

	url, err := a.Archive(context.Background(), "p1", at, map[string]string{"secondary": "s1"})
	require.NoError(t, err)
	assert.Equal(t, "s3://audit/"+SnapshotKey("p1", at), url)

	var got map[string]string
	require.NoError(t, json.Unmarshal(fake.objects[SnapshotKey("p1", at)], &got))
	assert.Equal(t, "s1", got["secondary"])
}

func TestArchive_PutError(t *testing.T) {
	a := &AuditArchive{client: &fakeS3{err: errors.New("boom")}, bucket: "audit"}
	_, err := a.Archive(context.Background(), "p1", time.Now(), struct{}{})
	assert.ErrorContains(t, err, "s3 put object")
}
