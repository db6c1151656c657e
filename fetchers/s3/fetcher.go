// Package s3 fetches s3://bucket/key objects as byte streams for the
// download engine using the AWS SDK.
package s3

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type Fetcher struct {
	client *s3.Client
}

// NewFetcher loads the default AWS config (honoring AWS_PROFILE) and
// builds a fetcher from it.
func NewFetcher(ctx context.Context) (*Fetcher, error) {
	profile := os.Getenv("AWS_PROFILE")
	if profile == "" {
		profile = "default"
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithSharedConfigProfile(profile), config.WithRetryMode("adaptive"))
	if err != nil {
		return nil, fmt.Errorf("error loading AWS config: %v", err)
	}
	return &Fetcher{client: s3.NewFromConfig(cfg)}, nil
}

// NewFetcherFromClient wraps an existing client, mainly for tests.
func NewFetcherFromClient(client *s3.Client) *Fetcher {
	return &Fetcher{client: client}
}

func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (io.ReadCloser, int64, error) {
	bucket, key, err := ParseURL(rawURL)
	if err != nil {
		return nil, -1, err
	}
	obj, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, -1, fmt.Errorf("error fetching S3 object: %v", err)
	}
	length := int64(-1)
	if obj.ContentLength != nil && *obj.ContentLength >= 0 {
		length = *obj.ContentLength
	}
	return obj.Body, length, nil
}

// ParseURL splits s3://bucket/key into its bucket and key parts.
func ParseURL(rawURL string) (string, string, error) {
	if !strings.HasPrefix(rawURL, "s3://") {
		return "", "", fmt.Errorf("not an S3 URL: %s", rawURL)
	}
	parts := strings.SplitN(rawURL[5:], "/", 2)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("S3 URL must be of the form s3://bucket/key: %s", rawURL)
	}
	return parts[0], parts[1], nil
}
