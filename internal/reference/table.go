// internal/reference/table.go

// Package reference holds the static nutrition reference data: per-100g
// densities keyed by canonical food name and per-piece weight overrides.
package reference

import (
	"github.com/rotisserie/eris"

	"mcp-nutrition-engine/internal/models"
)

// Entry is one food in the reference table.
type Entry struct {
	Name    string
	Density models.NutrientDensity
	// Generic marks placeholders such as "plate" or "meal". They resolve on
	// exact match only and are never picked by substring or token matching.
	Generic bool
}

// Table is an immutable, insertion-ordered nutrition reference. Iteration
// order is the tie-break for substring matching, so it is part of the
// table's behavior.
type Table struct {
	entries []Entry
	index   map[string]int
}

// NewTable builds a table from entries. Names are normalized; a later entry
// with the same canonical name replaces the earlier one in place.
func NewTable(entries []Entry) (*Table, error) {
	t := &Table{index: make(map[string]int, len(entries))}
	for _, e := range entries {
		if err := t.put(e); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Table) put(e Entry) error {
	e.Name = Normalize(e.Name)
	if e.Name == "" {
		return eris.New("reference: empty food name")
	}
	d := e.Density
	if d.CaloriesPer100g < 0 || d.ProteinPer100g < 0 || d.CarbsPer100g < 0 || d.FatPer100g < 0 {
		return eris.Errorf("reference: negative density for %q", e.Name)
	}
	if i, ok := t.index[e.Name]; ok {
		t.entries[i] = e
		return nil
	}
	t.index[e.Name] = len(t.entries)
	t.entries = append(t.entries, e)
	return nil
}

// With returns a copy of the table extended by entries, using the same
// replace-in-place rule as NewTable.
func (t *Table) With(entries ...Entry) (*Table, error) {
	merged := make([]Entry, 0, len(t.entries)+len(entries))
	merged = append(merged, t.entries...)
	merged = append(merged, entries...)
	return NewTable(merged)
}

// Lookup finds an entry by exact canonical name.
func (t *Table) Lookup(name string) (Entry, bool) {
	i, ok := t.index[Normalize(name)]
	if !ok {
		return Entry{}, false
	}
	return t.entries[i], true
}

// Entries returns the entries in insertion order.
func (t *Table) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

func (t *Table) Len() int {
	return len(t.entries)
}

func density(cal, protein, carbs, fat float64) models.NutrientDensity {
	return models.NutrientDensity{
		CaloriesPer100g: cal,
		ProteinPer100g:  protein,
		CarbsPer100g:    carbs,
		FatPer100g:      fat,
	}
}

// defaultEntries is the built-in reference, per 100g.
var defaultEntries = []Entry{
	{Name: "apple", Density: density(52, 0.3, 14, 0.2)},
	{Name: "banana", Density: density(89, 1.1, 23, 0.3)},
	{Name: "chicken breast", Density: density(165, 31, 0, 3.6)},
	{Name: "chicken", Density: density(165, 31, 0, 3.6)},
	{Name: "rice", Density: density(130, 2.7, 28, 0.3)},
	{Name: "pasta", Density: density(131, 5, 25, 1.1)},
	{Name: "noodles", Density: density(138, 4.5, 25, 2.1)},
	{Name: "bread", Density: density(265, 9, 49, 3.2)},
	{Name: "egg", Density: density(155, 13, 1.1, 11)},
	{Name: "salmon", Density: density(208, 20, 0, 12)},
	{Name: "broccoli", Density: density(34, 2.8, 7, 0.4)},
	{Name: "carrot", Density: density(41, 0.9, 10, 0.2)},
	{Name: "potato", Density: density(77, 2, 17, 0.1)},
	{Name: "cheese", Density: density(402, 25, 1.3, 33)},
	{Name: "milk", Density: density(42, 3.4, 5, 1)},
	{Name: "yogurt", Density: density(59, 10, 3.6, 0.4)},
	{Name: "beef", Density: density(250, 26, 0, 17)},
	{Name: "steak", Density: density(271, 26, 0, 18)},
	{Name: "pork", Density: density(242, 27, 0, 14)},
	{Name: "fish", Density: density(206, 22, 0, 12)},
	{Name: "pizza", Density: density(266, 11, 33, 10)},
	{Name: "burger", Density: density(295, 17, 30, 12)},
	{Name: "hamburger", Density: density(295, 17, 30, 12)},
	{Name: "fries", Density: density(312, 3.4, 41, 15)},
	{Name: "french fries", Density: density(312, 3.4, 41, 15)},
	{Name: "salad", Density: density(15, 1.4, 3, 0.2)},
	{Name: "tomato", Density: density(18, 0.9, 3.9, 0.2)},
	{Name: "onion", Density: density(40, 1.1, 9.3, 0.1)},
	{Name: "pepper", Density: density(31, 1, 7, 0.3)},
	{Name: "cucumber", Density: density(16, 0.7, 4, 0.1)},
	{Name: "avocado", Density: density(160, 2, 9, 15)},
	{Name: "strawberry", Density: density(32, 0.7, 8, 0.3)},
	{Name: "orange", Density: density(47, 0.9, 12, 0.1)},
	{Name: "grape", Density: density(69, 0.7, 18, 0.2)},
	{Name: "chocolate", Density: density(546, 7.8, 45, 31)},
	{Name: "cake", Density: density(367, 5.4, 53, 14)},
	{Name: "cookie", Density: density(488, 6.8, 68, 22)},
	{Name: "ice cream", Density: density(207, 3.5, 24, 11)},
	{Name: "coffee", Density: density(2, 0.1, 0, 0)},
	{Name: "tea", Density: density(2, 0, 0.3, 0)},
	{Name: "soup", Density: density(30, 1.5, 5, 0.5)},
	{Name: "sandwich", Density: density(250, 12, 30, 9)},
	{Name: "sushi", Density: density(150, 6, 30, 0.5)},
	{Name: "curry", Density: density(150, 8, 12, 8)},
	{Name: "biryani", Density: density(200, 8, 30, 6)},
	{Name: "dal", Density: density(120, 9, 20, 1)},
	{Name: "roti", Density: density(120, 3, 25, 1)},
	{Name: "naan", Density: density(260, 9, 45, 5)},
	{Name: "dosa", Density: density(133, 4, 24, 2)},
	{Name: "idli", Density: density(39, 2, 8, 0.1)},
	{Name: "samosa", Density: density(262, 4, 24, 17)},
	{Name: "paneer", Density: density(265, 18, 1.2, 21)},
	{Name: "plate", Density: density(200, 10, 25, 8), Generic: true},
	{Name: "food", Density: density(200, 10, 25, 8), Generic: true},
	{Name: "meal", Density: density(350, 20, 40, 12), Generic: true},
	{Name: "dish", Density: density(250, 15, 30, 10), Generic: true},
	{Name: "bowl", Density: density(300, 12, 45, 8), Generic: true},
}

// Default returns the built-in reference table.
func Default() *Table {
	t, err := NewTable(defaultEntries)
	if err != nil {
		panic(err) // built-in data is validated by tests
	}
	return t
}
