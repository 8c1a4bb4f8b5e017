package refrange

import (
	"math"

	"gonum.org/v1/gonum/interp"
)

// Interpolate returns the normal range of refKey at weight. An exact weight
// match returns the stored row verbatim; otherwise min and max are
// interpolated piecewise-linearly between the bracketing rows. Weights
// outside the table take the value of the nearest edge row.
//
// ok is false when the table lacks the column, the weight is unusable, a
// bound is undefined, or the result is the zero/zero sentinel.
func (t *ReferenceTable) Interpolate(refKey string, weight float64) (Bounds, bool) {
	key, ok := t.column(refKey)
	if !ok || len(t.Rows) == 0 {
		return Bounds{}, false
	}
	if !isFinite(weight) || weight <= 0 {
		return Bounds{}, false
	}

	b, ok := t.boundsAt(key, weight)
	if !ok || !b.finite() || b.IsSentinel() {
		return Bounds{}, false
	}
	return b, true
}

func (t *ReferenceTable) boundsAt(key string, weight float64) (Bounds, bool) {
	n := len(t.Rows)
	for _, r := range t.Rows {
		if r.Weight == weight {
			return r.Ranges[key], true
		}
	}
	if n == 1 {
		return t.Rows[0].Ranges[key], true
	}

	// Clamp so the fit is never asked to extrapolate.
	x := math.Min(math.Max(weight, t.Rows[0].Weight), t.Rows[n-1].Weight)

	xs := make([]float64, n)
	mins := make([]float64, n)
	maxs := make([]float64, n)
	for i, r := range t.Rows {
		xs[i] = r.Weight
		b := r.Ranges[key]
		mins[i] = b.Min
		maxs[i] = b.Max
	}

	var lo, hi interp.PiecewiseLinear
	if err := lo.Fit(xs, mins); err != nil {
		return Bounds{}, false
	}
	if err := hi.Fit(xs, maxs); err != nil {
		return Bounds{}, false
	}
	return Bounds{Min: lo.Predict(x), Max: hi.Predict(x)}, true
}

// LookupRange resolves key through the registry to its reference columns and
// interpolates them at weight. Keys without a tabular reference report false.
func (r *Registry) LookupRange(key string, weight float64, table *ReferenceTable) (Bounds, bool) {
	if table == nil {
		return Bounds{}, false
	}
	rule, ok := r.Rule(key, table.Species)
	if !ok {
		return Bounds{}, false
	}
	tab, ok := rule.Strategy.(TabularLookup)
	if !ok || tab.RefKey == "" {
		return Bounds{}, false
	}
	return table.Interpolate(tab.RefKey, weight)
}

// LookupRange uses the default parameter registry.
func LookupRange(key string, weight float64, table *ReferenceTable) (Bounds, bool) {
	return defaultRegistry.LookupRange(key, weight, table)
}
