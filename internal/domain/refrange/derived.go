package refrange

import (
	"math"
	"strings"
)

// NormalizationExponent is the allometric exponent used to index a linear
// cardiac dimension to body weight.
const NormalizationExponent = 0.294

var toCentimeters = map[string]float64{
	"mm": 0.1,
	"cm": 1,
	"m":  100,
}

// NormalizedDimension returns dimension (converted to cm) divided by
// weight^NormalizationExponent. It returns 0, meaning "not computable", when
// either input is non-positive or non-finite or the unit is unknown.
func NormalizedDimension(dimension float64, unit string, weight float64) float64 {
	factor, ok := toCentimeters[strings.ToLower(strings.TrimSpace(unit))]
	if !ok || !positive(dimension) || !positive(weight) {
		return 0
	}
	return dimension * factor / math.Pow(weight, NormalizationExponent)
}

// DopplerRatio returns e/ePrime, or 0 when either value is non-positive or
// non-finite.
func DopplerRatio(e, ePrime float64) float64 {
	if !positive(e) || !positive(ePrime) {
		return 0
	}
	return e / ePrime
}

// DimensionRatio returns a/b for two linear dimensions in the same unit,
// or 0 when either is non-positive or non-finite.
func DimensionRatio(a, b float64) float64 {
	if !positive(a) || !positive(b) {
		return 0
	}
	return a / b
}

func positive(v float64) bool { return isFinite(v) && v > 0 }
