package sync

import (
	"bytes"
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const exportContentType = "application/x-ndjson"

// S3Destination uploads the export as a single object. Credentials come
// from the default AWS chain.
type S3Destination struct {
	client *s3.Client
	bucket string
	key    string
}

// NewS3Destination returns a destination for s3://bucket/key. A non-empty
// endpoint targets an S3-compatible store such as MinIO with path-style
// addressing.
func NewS3Destination(ctx context.Context, bucket, key, region, endpoint string) (*S3Destination, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Destination{client: client, bucket: bucket, key: key}, nil
}

// Name returns the s3:// URL of the export object.
func (d *S3Destination) Name() string {
	return "s3://" + d.bucket + "/" + d.key
}

// Write replaces the object with data. The header's counts are copied into
// the object metadata so a listing shows what each export holds.
func (d *S3Destination) Write(ctx context.Context, data []byte) error {
	in := &s3.PutObjectInput{
		Bucket:      aws.String(d.bucket),
		Key:         aws.String(d.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(exportContentType),
	}
	if h, ok := readHeader(data); ok {
		in.Metadata = map[string]string{
			"projects": strconv.Itoa(h.ProjectCount),
			"nodes":    strconv.Itoa(h.NodeCount),
			"edges":    strconv.Itoa(h.EdgeCount),
		}
	}
	if _, err := d.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("put %s: %w", d.Name(), err)
	}
	return nil
}
