// internal/nutrition/resolver.go
package nutrition

import (
	"strings"
	"unicode/utf8"

	"mcp-nutrition-engine/internal/reference"
)

// MatchKind records which resolution step produced a key.
type MatchKind int

const (
	MatchNone MatchKind = iota
	MatchExact
	MatchSubstring
	MatchToken
)

func (m MatchKind) String() string {
	switch m {
	case MatchExact:
		return "exact"
	case MatchSubstring:
		return "substring"
	case MatchToken:
		return "token"
	default:
		return "none"
	}
}

// minTokenLen is the length a word must exceed to be matched on its own.
const minTokenLen = 3

// Resolution is the outcome of resolving a raw food name.
type Resolution struct {
	Key   string
	Match MatchKind
}

func (r Resolution) Found() bool {
	return r.Match != MatchNone
}

// Resolve maps a raw food name to a canonical key of the source. In order:
// exact key, then bidirectional substring against every non-generic key,
// then the same two checks for each word longer than three characters.
// Ties go to the first key in source order. A miss is not an error.
func (s *Source) Resolve(raw string) Resolution {
	name := reference.Normalize(raw)
	if name == "" {
		return Resolution{}
	}
	if s.Has(name) {
		return Resolution{Key: name, Match: MatchExact}
	}
	if key, ok := s.substring(name); ok {
		return Resolution{Key: key, Match: MatchSubstring}
	}

	for _, word := range strings.Fields(name) {
		if utf8.RuneCountInString(word) <= minTokenLen {
			continue
		}
		if s.Has(word) && !s.isGeneric(word) {
			return Resolution{Key: word, Match: MatchToken}
		}
		if key, ok := s.substring(word); ok {
			return Resolution{Key: key, Match: MatchToken}
		}
	}
	return Resolution{}
}

func (s *Source) substring(name string) (string, bool) {
	for _, k := range s.keys {
		if k.generic {
			continue
		}
		if strings.Contains(name, k.name) || strings.Contains(k.name, name) {
			return k.name, true
		}
	}
	return "", false
}
