// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package assets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// Environment identifies the AWS account a staging run resolves template
// pseudo parameters against.
type Environment struct {
	AccountID string
	Region    string
	Partition string
}

// DetectEnvironment resolves the caller's account and region from the
// ambient AWS configuration.
func DetectEnvironment(ctx context.Context) (*Environment, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	identity, err := sts.NewFromConfig(cfg).GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, fmt.Errorf("resolving caller identity: %w", err)
	}
	if identity.Account == nil || *identity.Account == "" {
		return nil, errors.New("caller identity carries no account ID")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	return &Environment{
		AccountID: *identity.Account,
		Region:    region,
		Partition: InferPartition(region),
	}, nil
}

// InferPartition maps a region name onto its AWS partition.
func InferPartition(region string) string {
	lowered := strings.ToLower(region)
	switch {
	case strings.HasPrefix(lowered, "us-gov"):
		return "aws-us-gov"
	case strings.HasPrefix(lowered, "cn-"):
		return "aws-cn"
	default:
		return "aws"
	}
}
