//
//  Copyright © Manetu Inc. All rights reserved.
//

package model

import (
	"testing"

	"github.com/JoshuaRamirez/ACS-sub003/pkg/common"
	"github.com/stretchr/testify/assert"
)

func TestParseURIPattern(t *testing.T) {
	tests := []struct {
		pattern string
		ok      bool
	}{
		{"/api/users", true},
		{"/api/users/{id}", true},
		{"/api/*", true},
		{"/api/{version}/users/{id}", true},
		{"/", false},
		{"api/users", false},
		{"", false},
		{"/api/{id", false},
		{"/api/id}", false},
		{"/api/{}", false},
		{"/api/*/users", false},
		{"/api//users", false},
	}

	for _, tt := range tests {
		_, err := ParseURIPattern(tt.pattern)
		if tt.ok {
			assert.NoError(t, err, tt.pattern)
		} else {
			assert.Error(t, err, tt.pattern)
			assert.Equal(t, common.KindInvalidArgument, common.KindOf(err), tt.pattern)
		}
	}
}

func TestURIPatternMatch(t *testing.T) {
	tests := []struct {
		pattern string
		uri     string
		match   bool
	}{
		{"/api/users", "/api/users", true},
		{"/api/users", "/api/users/", true},
		{"/api/users", "/api/orders", false},
		{"/api/users", "/api/users/1", false},
		{"/api/users/{id}", "/api/users/1", true},
		{"/api/users/{id}", "/api/users", false},
		{"/api/users/{id}", "/api/users/1/posts", false},
		{"/api/*", "/api/users", true},
		{"/api/*", "/api/users/1/posts", true},
		{"/api/*", "/api", false}, // trailing * requires at least one segment
		{"/api/*", "/other/users", false},
		{"/API/users", "/api/users", false}, // case-sensitive
	}

	for _, tt := range tests {
		p, err := ParseURIPattern(tt.pattern)
		assert.NoError(t, err, tt.pattern)
		assert.Equal(t, tt.match, p.Match(tt.uri), "%s vs %s", tt.pattern, tt.uri)
	}
}

func TestURIPatternSpecificity(t *testing.T) {
	exact, _ := ParseURIPattern("/api/users/alice")
	oneParam, _ := ParseURIPattern("/api/users/{id}")
	twoParams, _ := ParseURIPattern("/api/{version}/users/{id}")
	wildcard, _ := ParseURIPattern("/api/*")

	// exact beats everything
	assert.True(t, MoreSpecific(exact, oneParam))
	assert.True(t, MoreSpecific(exact, wildcard))

	// more parameterized segments rank higher among non-exact patterns
	assert.True(t, MoreSpecific(twoParams, oneParam))

	// fewer wildcards rank higher
	assert.True(t, MoreSpecific(oneParam, wildcard))
	assert.False(t, MoreSpecific(wildcard, oneParam))
}
