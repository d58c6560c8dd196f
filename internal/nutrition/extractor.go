// internal/nutrition/extractor.go
package nutrition

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"mcp-nutrition-engine/internal/models"
	"mcp-nutrition-engine/internal/reference"
)

const (
	// MaxExtracted caps the detections pulled out of one caption.
	MaxExtracted = 5
	// captionNameLen is how much of a caption names the synthetic entry.
	captionNameLen = 40
	unnamedMeal    = "Unidentified meal"
)

// captionStopwords are words that never name a food on their own. The first
// group doubles as the generic placeholders of the reference table.
var captionStopwords = map[string]bool{
	"plate": true, "bowl": true, "meal": true, "food": true, "dish": true,
	"a": true, "an": true, "the": true, "and": true, "or": true, "of": true,
	"with": true, "on": true, "in": true, "at": true, "to": true, "for": true,
	"some": true, "there": true, "is": true, "are": true, "this": true, "that": true,
	"table": true, "close": true, "up": true, "top": true, "view": true,
	"white": true, "wooden": true, "served": true, "sitting": true, "filled": true,
	"full": true, "next": true, "front": true, "picture": true, "photo": true,
	"image": true, "background": true, "fork": true, "knife": true, "spoon": true,
}

// Extractor turns a free-text caption into detections when the vision
// oracle returned no structured list.
type Extractor struct {
	source *Source
}

func NewExtractor(source *Source) *Extractor {
	return &Extractor{source: source}
}

// Extract returns between one and MaxExtracted detections for any non-empty
// caption and nothing for an empty one. Order is discovery order: source
// keys found in the caption, then resolved caption words.
func (x *Extractor) Extract(caption string) []models.RawDetection {
	if caption == "" {
		return nil
	}
	text := reference.Normalize(caption)

	keys := x.scanKeys(text)
	if len(keys) == 0 {
		keys = x.resolveWords(text)
	}

	if len(keys) == 0 {
		return []models.RawDetection{{Name: captionName(caption), Quantity: DefaultQuantity}}
	}
	if len(keys) > MaxExtracted {
		keys = keys[:MaxExtracted]
	}
	out := make([]models.RawDetection, len(keys))
	for i, k := range keys {
		out[i] = models.RawDetection{Name: k, Quantity: DefaultQuantity}
	}
	return out
}

// scanKeys finds every non-generic key that starts a word in text, so "tea"
// is not read out of "steak". A key is dropped when each of its occurrences
// sits inside an occurrence of a longer matched key ("chicken" in "chicken
// breast").
func (x *Extractor) scanKeys(text string) []string {
	type match struct {
		key    string
		starts []int
	}
	var found []match
	for _, k := range x.source.keys {
		if k.generic {
			continue
		}
		if starts := wordStarts(text, k.name); len(starts) > 0 {
			found = append(found, match{key: k.name, starts: starts})
		}
	}

	covered := func(m match, at int) bool {
		for _, other := range found {
			if len(other.key) <= len(m.key) {
				continue
			}
			for _, s := range other.starts {
				if s <= at && at+len(m.key) <= s+len(other.key) {
					return true
				}
			}
		}
		return false
	}

	var kept []string
	for _, m := range found {
		for _, at := range m.starts {
			if !covered(m, at) {
				kept = append(kept, m.key)
				break
			}
		}
	}
	return kept
}

func (x *Extractor) resolveWords(text string) []string {
	seen := map[string]bool{}
	var keys []string
	for _, word := range strings.FieldsFunc(text, func(r rune) bool { return !unicode.IsLetter(r) }) {
		if captionStopwords[word] || utf8.RuneCountInString(word) < minTokenLen {
			continue
		}
		res := x.source.Resolve(word)
		if !res.Found() || x.source.isGeneric(res.Key) || seen[res.Key] {
			continue
		}
		seen[res.Key] = true
		keys = append(keys, res.Key)
	}
	return keys
}

// wordStarts returns the offsets where key occurs in text at a word start.
func wordStarts(text, key string) []int {
	var out []int
	for offset := 0; offset < len(text); {
		i := strings.Index(text[offset:], key)
		if i < 0 {
			break
		}
		at := offset + i
		if at == 0 {
			out = append(out, at)
		} else if prev, _ := utf8.DecodeLastRuneInString(text[:at]); !unicode.IsLetter(prev) && !unicode.IsDigit(prev) {
			out = append(out, at)
		}
		offset = at + 1
	}
	return out
}

// captionName builds the synthetic entry name: the caption without a
// leading article, cut to captionNameLen runes.
func captionName(caption string) string {
	name := strings.TrimSpace(caption)
	lower := strings.ToLower(name)
	for _, article := range []string{"a ", "an ", "the "} {
		if strings.HasPrefix(lower, article) {
			name = strings.TrimSpace(name[len(article):])
			break
		}
	}
	if utf8.RuneCountInString(name) > captionNameLen {
		name = strings.TrimSpace(string([]rune(name)[:captionNameLen]))
	}
	if name == "" {
		return unnamedMeal
	}
	r, size := utf8.DecodeRuneInString(name)
	return string(unicode.ToUpper(r)) + name[size:]
}
