// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

// Package stack retrieves deployed templates so they can be refactored
// locally.
package stack

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"resty.dev/v3"
)

// Fetcher returns the raw template text behind a stack identifier. The
// identifier is either a CloudFormation stack name or ARN, or an HTTP(S)
// template URL.
type Fetcher interface {
	FetchTemplate(ctx context.Context, identifier string) (string, error)
}

type awsFetcher struct {
	cfn  *cloudformation.Client
	http *resty.Client
}

// NewFetcher builds a Fetcher backed by the ambient AWS configuration.
func NewFetcher(ctx context.Context) (Fetcher, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &awsFetcher{
		cfn:  cloudformation.NewFromConfig(cfg),
		http: resty.New(),
	}, nil
}

func (f *awsFetcher) FetchTemplate(ctx context.Context, identifier string) (string, error) {
	if isTemplateURL(identifier) {
		return f.fetchURL(ctx, identifier)
	}

	// The original stage is the template as the user submitted it, before
	// any transforms ran.
	out, err := f.cfn.GetTemplate(ctx, &cloudformation.GetTemplateInput{
		StackName:     aws.String(identifier),
		TemplateStage: types.TemplateStageOriginal,
	})
	if err != nil {
		return "", fmt.Errorf("fetching template for stack %s: %w", identifier, err)
	}
	if out.TemplateBody == nil || *out.TemplateBody == "" {
		return "", fmt.Errorf("stack %s returned an empty template", identifier)
	}
	return *out.TemplateBody, nil
}

func (f *awsFetcher) fetchURL(ctx context.Context, url string) (string, error) {
	resp, err := f.http.R().SetContext(ctx).Get(url)
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		switch resp.StatusCode() {
		case 404:
			return "", fmt.Errorf("template not found: %s", url)
		case 403:
			return "", fmt.Errorf("access denied: %s", url)
		default:
			return "", fmt.Errorf("server error %d: %s", resp.StatusCode(), url)
		}
	}
	return resp.String(), nil
}

func isTemplateURL(identifier string) bool {
	return strings.HasPrefix(identifier, "http://") || strings.HasPrefix(identifier, "https://")
}
