// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

//go:build unit

package stack

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"resty.dev/v3"
)

func TestFetchTemplateDownloadsTemplateURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Resources": {}}`))
	}))
	defer server.Close()

	f := &awsFetcher{http: resty.New()}
	body, err := f.FetchTemplate(context.Background(), server.URL+"/template.json")
	require.NoError(t, err)
	assert.Equal(t, `{"Resources": {}}`, body)
}

func TestFetchTemplateReportsHTTPFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	f := &awsFetcher{http: resty.New()}
	_, err := f.FetchTemplate(context.Background(), server.URL+"/missing.yaml")
	require.ErrorContains(t, err, "not found")
}

func TestIsTemplateURL(t *testing.T) {
	assert.True(t, isTemplateURL("https://bucket.s3.amazonaws.com/template.yaml"))
	assert.False(t, isTemplateURL("my-api-stack"))
	assert.False(t, isTemplateURL("arn:aws:cloudformation:eu-west-1:123456789012:stack/my-api/abc"))
}
