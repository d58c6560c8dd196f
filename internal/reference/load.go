// internal/reference/load.go
package reference

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"mcp-nutrition-engine/internal/models"
)

// fileFood is one food in a reference extension file.
type fileFood struct {
	Name                   string `yaml:"name"`
	models.NutrientDensity `yaml:",inline"`
	Generic                bool `yaml:"generic"`
}

type fileDoc struct {
	Foods  []fileFood         `yaml:"foods"`
	Pieces map[string]float64 `yaml:"pieces"`
}

// Parse merges a YAML reference extension into base and pieces. Foods whose
// canonical name already exists replace the existing density in place; new
// foods are appended after the built-in ones.
func Parse(data []byte, base *Table, pieces PieceWeights) (*Table, PieceWeights, error) {
	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, PieceWeights{}, eris.Wrap(err, "reference: parse yaml")
	}

	extra := make([]Entry, 0, len(doc.Foods))
	for _, f := range doc.Foods {
		extra = append(extra, Entry{Name: f.Name, Density: f.NutrientDensity, Generic: f.Generic})
	}
	table, err := base.With(extra...)
	if err != nil {
		return nil, PieceWeights{}, err
	}
	merged, err := pieces.With(doc.Pieces)
	if err != nil {
		return nil, PieceWeights{}, err
	}
	return table, merged, nil
}

// LoadFile reads a reference extension file from disk. An empty path returns
// the inputs unchanged.
func LoadFile(path string, base *Table, pieces PieceWeights) (*Table, PieceWeights, error) {
	if path == "" {
		return base, pieces, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, PieceWeights{}, eris.Wrapf(err, "reference: read %s", path)
	}
	return Parse(data, base, pieces)
}
