// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

//go:build unit

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSubTokens(t *testing.T) {
	tokens := ParseSubTokens("arn:${AWS::Partition}:s3:::${Bucket}/${!Raw}/${Fn.Arn}")

	assert.Len(t, tokens, 4)

	assert.True(t, tokens[0].Pseudo)
	assert.Equal(t, "AWS::Partition", tokens[0].Name)

	assert.Equal(t, "Bucket", tokens[1].Name)
	assert.Empty(t, tokens[1].Attr)

	assert.True(t, tokens[2].Literal)
	assert.Empty(t, tokens[2].Name)

	assert.Equal(t, "Fn", tokens[3].Name)
	assert.Equal(t, "Arn", tokens[3].Attr)
}

func TestParseSubTokensNoVariables(t *testing.T) {
	assert.Nil(t, ParseSubTokens("plain text"))
}

func TestRewriteSub(t *testing.T) {
	renames := map[string]string{"MyBucketF68F3FF0": "MyBucket"}
	rename := func(name string) (string, bool) {
		v, ok := renames[name]
		return v, ok
	}

	out := RewriteSub("${MyBucketF68F3FF0.Arn}/${AWS::Region}/${!Keep}/${Other}", rename)

	assert.Equal(t, "${MyBucket.Arn}/${AWS::Region}/${!Keep}/${Other}", out)
}
