// internal/nutrition/quantity.go
package nutrition

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"mcp-nutrition-engine/internal/reference"
)

var (
	numberPattern = regexp.MustCompile(`\d+(?:\.\d+)?|\.\d+`)
	wordPattern   = regexp.MustCompile(`[a-z]+`)
)

// MaxGrams caps a parsed portion at 100 kg.
const MaxGrams = 100000

// UnitKind classifies the unit found in a quantity string.
type UnitKind int

const (
	UnitNone UnitKind = iota
	UnitMass
	UnitVolume
	UnitCount
)

type unitDef struct {
	kind  UnitKind
	grams float64 // per unit; zero for count units
}

// Volume units are converted with a food-agnostic weight per unit.
var unitTable = map[string]unitDef{
	"g":         {UnitMass, 1},
	"gm":        {UnitMass, 1},
	"gms":       {UnitMass, 1},
	"gr":        {UnitMass, 1},
	"gram":      {UnitMass, 1},
	"grams":     {UnitMass, 1},
	"gramme":    {UnitMass, 1},
	"grammes":   {UnitMass, 1},
	"kg":        {UnitMass, 1000},
	"kgs":       {UnitMass, 1000},
	"kilo":      {UnitMass, 1000},
	"kilos":     {UnitMass, 1000},
	"kilogram":  {UnitMass, 1000},
	"kilograms": {UnitMass, 1000},
	"oz":        {UnitMass, 28.35},
	"ounce":     {UnitMass, 28.35},
	"ounces":    {UnitMass, 28.35},
	"lb":        {UnitMass, 453.6},
	"lbs":       {UnitMass, 453.6},
	"pound":     {UnitMass, 453.6},
	"pounds":    {UnitMass, 453.6},

	"cup":         {UnitVolume, 240},
	"cups":        {UnitVolume, 240},
	"tbsp":        {UnitVolume, 15},
	"tbsps":       {UnitVolume, 15},
	"tbs":         {UnitVolume, 15},
	"tablespoon":  {UnitVolume, 15},
	"tablespoons": {UnitVolume, 15},
	"tsp":         {UnitVolume, 5},
	"tsps":        {UnitVolume, 5},
	"teaspoon":    {UnitVolume, 5},
	"teaspoons":   {UnitVolume, 5},
	"ml":          {UnitVolume, 1},
	"milliliter":  {UnitVolume, 1},
	"milliliters": {UnitVolume, 1},
	"millilitre":  {UnitVolume, 1},
	"millilitres": {UnitVolume, 1},
	"liter":       {UnitVolume, 1000},
	"liters":      {UnitVolume, 1000},
	"litre":       {UnitVolume, 1000},
	"litres":      {UnitVolume, 1000},

	"piece":    {UnitCount, 0},
	"pieces":   {UnitCount, 0},
	"pc":       {UnitCount, 0},
	"pcs":      {UnitCount, 0},
	"item":     {UnitCount, 0},
	"items":    {UnitCount, 0},
	"serving":  {UnitCount, 0},
	"servings": {UnitCount, 0},
	"slice":    {UnitCount, 0},
	"slices":   {UnitCount, 0},
}

// Quantity is a parsed quantity expression.
type Quantity struct {
	Amount float64
	Unit   string // the matched unit word, empty when none was recognized
	Kind   UnitKind
	Grams  float64
	// PieceOverride is set when a count unit used a food-specific weight.
	PieceOverride bool
}

// QuantityParser converts free-text quantities to grams.
type QuantityParser struct {
	pieces reference.PieceWeights
}

func NewQuantityParser(pieces reference.PieceWeights) *QuantityParser {
	return &QuantityParser{pieces: pieces}
}

// Parse never fails: a missing number counts as 1 and an unrecognized unit
// means 100g per counted unit, so Grams is always in (0, MaxGrams].
func (p *QuantityParser) Parse(text, foodName string) Quantity {
	lower := strings.ToLower(text)

	q := Quantity{Amount: 1}
	rest := lower
	if loc := numberPattern.FindStringIndex(lower); loc != nil {
		if v, err := strconv.ParseFloat(lower[loc[0]:loc[1]], 64); err == nil && v > 0 && !math.IsInf(v, 0) {
			q.Amount = v
		}
		rest = lower[:loc[0]] + " " + lower[loc[1]:]
	}

	for _, word := range wordPattern.FindAllString(rest, -1) {
		if def, ok := unitTable[word]; ok {
			q.Unit = word
			q.Kind = def.kind
			q.Grams = q.Amount * def.grams
			break
		}
	}

	switch q.Kind {
	case UnitCount:
		per := reference.DefaultGramsPerPiece
		if g, ok := p.pieces.For(foodName); ok {
			per = g
			q.PieceOverride = true
		}
		q.Grams = q.Amount * per
	case UnitNone:
		q.Grams = q.Amount * reference.DefaultGramsPerPiece
	}
	if q.Grams > MaxGrams {
		q.Grams = MaxGrams
	}
	return q
}

// ParseGrams is Parse reduced to the gram figure.
func (p *QuantityParser) ParseGrams(text, foodName string) float64 {
	return p.Parse(text, foodName).Grams
}
