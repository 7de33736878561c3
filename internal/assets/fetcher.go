// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package assets

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectFetcher retrieves build artifacts stored in S3.
type ObjectFetcher interface {
	Fetch(ctx context.Context, bucket, key, version string) ([]byte, error)
}

type s3Fetcher struct {
	client *s3.Client
}

// NewS3Fetcher builds an ObjectFetcher backed by the ambient AWS
// configuration.
func NewS3Fetcher(ctx context.Context) (ObjectFetcher, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &s3Fetcher{client: s3.NewFromConfig(cfg)}, nil
}

func (f *s3Fetcher) Fetch(ctx context.Context, bucket, key, version string) ([]byte, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if version != "" {
		input.VersionId = aws.String(version)
	}

	out, err := f.client.GetObject(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", FormatS3URI(bucket, key, version), err)
	}
	defer out.Body.Close()

	return io.ReadAll(out.Body)
}

// FormatS3URI renders the canonical s3:// form of an object location.
func FormatS3URI(bucket, key, version string) string {
	base := fmt.Sprintf("s3://%s/%s", bucket, key)
	if version != "" {
		return base + "?versionId=" + version
	}
	return base
}
