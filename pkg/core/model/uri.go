//
//  Copyright © Manetu Inc. All rights reserved.
//

package model

import (
	"strings"

	"github.com/JoshuaRamirez/ACS-sub003/pkg/common"
)

// URIPattern is a compiled resource URI pattern.
//
// Patterns are case-sensitive, segment-oriented paths:
//   - a literal segment matches itself
//   - a {name} segment matches exactly one path segment
//   - a trailing * matches one or more path segments
type URIPattern struct {
	raw      string
	segments []patternSegment
	wildcard bool
}

type patternSegment struct {
	literal string
	param   bool
}

// ParseURIPattern compiles and validates a URI pattern. Patterns with
// unbalanced braces, embedded wildcards, or empty parameter names are
// rejected with InvalidArgument.
func ParseURIPattern(raw string) (*URIPattern, error) {
	if raw == "" || !strings.HasPrefix(raw, "/") {
		return nil, common.Errorf(common.KindInvalidArgument, "uri pattern %q must begin with '/'", raw)
	}

	parts := splitPath(raw)
	if len(parts) == 0 {
		return nil, common.Errorf(common.KindInvalidArgument, "uri pattern %q has no segments", raw)
	}
	p := &URIPattern{raw: raw}

	for i, part := range parts {
		switch {
		case part == "*":
			if i != len(parts)-1 {
				return nil, common.Errorf(common.KindInvalidArgument, "wildcard in %q must be the final segment", raw)
			}
			p.wildcard = true
		case strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}"):
			name := part[1 : len(part)-1]
			if name == "" || strings.ContainsAny(name, "{}") {
				return nil, common.Errorf(common.KindInvalidArgument, "malformed parameter segment %q in %q", part, raw)
			}
			p.segments = append(p.segments, patternSegment{literal: name, param: true})
		case strings.ContainsAny(part, "{}*"):
			return nil, common.Errorf(common.KindInvalidArgument, "malformed segment %q in %q", part, raw)
		case part == "":
			return nil, common.Errorf(common.KindInvalidArgument, "empty segment in %q", raw)
		default:
			p.segments = append(p.segments, patternSegment{literal: part})
		}
	}

	return p, nil
}

func splitPath(uri string) []string {
	trimmed := strings.Trim(uri, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// Raw returns the original pattern text.
func (p *URIPattern) Raw() string { return p.raw }

// Exact reports whether the pattern has no parameters and no wildcard.
func (p *URIPattern) Exact() bool {
	return !p.wildcard && p.ParamCount() == 0
}

// ParamCount returns the number of {name} segments.
func (p *URIPattern) ParamCount() int {
	n := 0
	for _, s := range p.segments {
		if s.param {
			n++
		}
	}
	return n
}

// WildcardCount returns 1 for patterns with a trailing *, else 0.
func (p *URIPattern) WildcardCount() int {
	if p.wildcard {
		return 1
	}
	return 0
}

// Match reports whether the request URI matches the pattern. The trailing
// wildcard requires at least one remaining segment.
func (p *URIPattern) Match(uri string) bool {
	parts := splitPath(uri)

	if len(parts) < len(p.segments) {
		return false
	}
	if len(parts) > len(p.segments) && !p.wildcard {
		return false
	}
	if p.wildcard && len(parts) == len(p.segments) {
		// trailing * matches one or more segments, never zero
		return false
	}

	for i, seg := range p.segments {
		if seg.param {
			continue
		}
		if parts[i] != seg.literal {
			return false
		}
	}

	return true
}

// MoreSpecific orders patterns for resource selection: exact literals
// first, then parameterized patterns by descending parameter count, then
// by ascending wildcard count. Ties break toward the longer raw pattern so
// selection is deterministic.
func MoreSpecific(a, b *URIPattern) bool {
	if a.Exact() != b.Exact() {
		return a.Exact()
	}
	if a.ParamCount() != b.ParamCount() {
		return a.ParamCount() > b.ParamCount()
	}
	if a.WildcardCount() != b.WildcardCount() {
		return a.WildcardCount() < b.WildcardCount()
	}
	return len(a.raw) > len(b.raw)
}
