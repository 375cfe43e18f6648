package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/Maverick0351a/signet-protocol/pkg/signet"
)

// S3Sink persists sealed export bundles to S3 as an optional durable
// archive alongside the primary receipt store.
type S3Sink struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Sink builds an S3Sink over an already-configured client.
func NewS3Sink(client *s3.Client, bucket, prefix string) *S3Sink {
	return &S3Sink{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Sink) Put(ctx context.Context, traceID string, bundle signet.ExportBundle) (string, error) {
	data, err := json.Marshal(bundle)
	if err != nil {
		return "", fmt.Errorf("export: marshal bundle for s3: %w", err)
	}

	key := fmt.Sprintf("%sexports/%s/%s.json", s.prefix, traceID, bundle.BundleCID)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("export: s3 put failed: %w", err)
	}

	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
