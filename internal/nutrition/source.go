// internal/nutrition/source.go

// Package nutrition turns detected foods into nutrition estimates: it
// resolves names against the effective nutrition source, converts quantity
// text to grams, scales densities and extracts detections from captions.
package nutrition

import (
	"sort"

	"mcp-nutrition-engine/internal/models"
	"mcp-nutrition-engine/internal/reference"
)

// Basis says where an estimate's density came from.
type Basis int

const (
	BasisFallback Basis = iota
	BasisReference
	BasisLearned
)

func (b Basis) String() string {
	switch b {
	case BasisReference:
		return "reference"
	case BasisLearned:
		return "learned"
	default:
		return "fallback"
	}
}

// FallbackDensity is used when a food name resolves to nothing: an average
// mixed meal.
var FallbackDensity = models.NutrientDensity{
	CaloriesPer100g: 150,
	ProteinPer100g:  10,
	CarbsPer100g:    20,
	FatPer100g:      6,
}

type sourceKey struct {
	name    string
	generic bool
}

// Source is the effective nutrition source for one request: the reference
// table overlaid with a snapshot of learned foods that met the confidence
// threshold. It is read-only once built and safe for concurrent use.
type Source struct {
	table   *reference.Table
	learned map[string]models.LearnedFood
	keys    []sourceKey
	index   map[string]int
}

// NewSource builds a source. Learned foods below threshold are ignored.
// Keys iterate confident learned foods first (most samples first, then by
// name), then the reference table in insertion order.
func NewSource(table *reference.Table, learned []models.LearnedFood, threshold float64) *Source {
	confident := make([]models.LearnedFood, 0, len(learned))
	for _, lf := range learned {
		if lf.ConfidenceScore >= threshold {
			lf.FoodNameNormalized = reference.Normalize(lf.FoodNameNormalized)
			if lf.FoodNameNormalized != "" {
				confident = append(confident, lf)
			}
		}
	}
	sort.SliceStable(confident, func(i, j int) bool {
		if confident[i].SampleCount != confident[j].SampleCount {
			return confident[i].SampleCount > confident[j].SampleCount
		}
		return confident[i].FoodNameNormalized < confident[j].FoodNameNormalized
	})

	s := &Source{
		table:   table,
		learned: make(map[string]models.LearnedFood, len(confident)),
		index:   make(map[string]int, len(confident)+table.Len()),
	}
	for _, lf := range confident {
		if _, dup := s.learned[lf.FoodNameNormalized]; dup {
			continue
		}
		s.learned[lf.FoodNameNormalized] = lf
		s.add(sourceKey{name: lf.FoodNameNormalized})
	}
	for _, e := range table.Entries() {
		s.add(sourceKey{name: e.Name, generic: e.Generic})
	}
	return s
}

func (s *Source) add(k sourceKey) {
	if _, ok := s.index[k.name]; ok {
		return
	}
	s.index[k.name] = len(s.keys)
	s.keys = append(s.keys, k)
}

// Has reports whether key exists in the source, generic placeholders included.
func (s *Source) Has(key string) bool {
	_, ok := s.index[key]
	return ok
}

func (s *Source) isGeneric(key string) bool {
	i, ok := s.index[key]
	return ok && s.keys[i].generic
}

// Density returns the density for a canonical key, preferring a confident
// learned baseline over the reference entry.
func (s *Source) Density(key string) (models.NutrientDensity, Basis, bool) {
	if lf, ok := s.learned[key]; ok {
		return lf.Density(), BasisLearned, true
	}
	if e, ok := s.table.Lookup(key); ok {
		return e.Density, BasisReference, true
	}
	return models.NutrientDensity{}, BasisFallback, false
}

// Learned returns the learned baseline behind key, if one is in use.
func (s *Source) Learned(key string) (models.LearnedFood, bool) {
	lf, ok := s.learned[key]
	return lf, ok
}

// Keys returns the canonical names in matching order.
func (s *Source) Keys() []string {
	out := make([]string, len(s.keys))
	for i, k := range s.keys {
		out[i] = k.name
	}
	return out
}
