// internal/reference/pieces.go
package reference

import (
	"strings"

	"github.com/rotisserie/eris"
)

// DefaultGramsPerPiece is used for count units when no override matches.
const DefaultGramsPerPiece = 100.0

// PieceWeights maps a food name fragment to the weight of one piece,
// item, serving or slice of that food, in grams.
type PieceWeights struct {
	grams map[string]float64
}

var defaultPieceWeights = map[string]float64{
	"apple":   182,
	"banana":  118,
	"egg":     50,
	"bread":   25,
	"roti":    40,
	"chapati": 40,
	"naan":    90,
	"orange":  131,
	"idli":    39,
	"dosa":    120,
	"samosa":  60,
	"cookie":  15,
	"pizza":   107,
	"sushi":   30,
}

// NewPieceWeights validates and normalizes an override map.
func NewPieceWeights(grams map[string]float64) (PieceWeights, error) {
	p := PieceWeights{grams: make(map[string]float64, len(grams))}
	for name, g := range grams {
		key := Normalize(name)
		if key == "" {
			return PieceWeights{}, eris.New("reference: empty piece weight name")
		}
		if g <= 0 {
			return PieceWeights{}, eris.Errorf("reference: piece weight for %q must be positive", key)
		}
		p.grams[key] = g
	}
	return p, nil
}

// DefaultPieceWeights returns the built-in overrides.
func DefaultPieceWeights() PieceWeights {
	p, err := NewPieceWeights(defaultPieceWeights)
	if err != nil {
		panic(err)
	}
	return p
}

// With returns a copy with extra overrides added or replaced.
func (p PieceWeights) With(grams map[string]float64) (PieceWeights, error) {
	merged := make(map[string]float64, len(p.grams)+len(grams))
	for k, v := range p.grams {
		merged[k] = v
	}
	for k, v := range grams {
		merged[k] = v
	}
	return NewPieceWeights(merged)
}

// For returns the piece weight for foodName. When several override keys
// occur in the name the longest wins, then the lexicographically smallest,
// so "egg bread" picks "bread".
func (p PieceWeights) For(foodName string) (float64, bool) {
	name := Normalize(foodName)
	if name == "" {
		return 0, false
	}
	best := ""
	for key := range p.grams {
		if !strings.Contains(name, key) {
			continue
		}
		if len(key) > len(best) || (len(key) == len(best) && key < best) {
			best = key
		}
	}
	if best == "" {
		return 0, false
	}
	return p.grams[best], true
}

func (p PieceWeights) Len() int {
	return len(p.grams)
}
