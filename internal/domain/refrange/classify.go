package refrange

import "math"

// Classify places value against a normal range. Both edges are inclusive.
// Without a usable range (ok false, zero/zero sentinel, undefined bounds) or
// with a non-finite value the result is LabelUnavailable.
func Classify(value float64, b Bounds, ok bool) Label {
	if !ok || b.IsSentinel() || !b.finite() || !isFinite(value) {
		return LabelUnavailable
	}
	switch {
	case value < b.Min:
		return LabelReduced
	case value > b.Max:
		return LabelIncreased
	default:
		return LabelNormal
	}
}

// Cutpoint closes one band of a fixed-threshold rule. A value belongs to the
// first cutpoint it does not exceed: value < Upper, or value <= Upper when
// Inclusive is set.
type Cutpoint struct {
	Upper     float64 `json:"upper"`
	Inclusive bool    `json:"inclusive"`
	Label     Label   `json:"label"`
	Band      Band    `json:"band"`
}

func (c Cutpoint) contains(v float64) bool {
	if c.Inclusive {
		return v <= c.Upper
	}
	return v < c.Upper
}

// Strategy is how a parameter is classified. It is a closed set:
// TabularLookup, FixedThreshold and Unsupported.
type Strategy interface {
	strategyName() string
}

// TabularLookup classifies against the weight-dependent <RefKey>_Min/_Max
// columns of the species reference table.
type TabularLookup struct {
	RefKey string
}

// FixedThreshold classifies against hard-coded cutpoints, ordered ascending.
type FixedThreshold struct {
	Cutpoints []Cutpoint
}

// Unsupported parameters are accepted as input but never classified.
type Unsupported struct{}

func (TabularLookup) strategyName() string  { return "tabular" }
func (FixedThreshold) strategyName() string { return "fixed" }
func (Unsupported) strategyName() string    { return "unsupported" }

// StrategyName returns "tabular", "fixed" or "unsupported".
func StrategyName(s Strategy) string {
	if s == nil {
		return Unsupported{}.strategyName()
	}
	return s.strategyName()
}

// Evaluate returns the label and band of the first cutpoint containing value.
func (f FixedThreshold) Evaluate(value float64) (Label, Band) {
	if !isFinite(value) {
		return LabelUnavailable, BandUnavailable
	}
	for _, c := range f.Cutpoints {
		if c.contains(value) {
			return c.Label, c.Band
		}
	}
	return LabelUnavailable, BandUnavailable
}

// NormalRange returns the span of the cutpoints banded BandWithin, when the
// rule has one.
func (f FixedThreshold) NormalRange() (Bounds, bool) {
	lower := math.Inf(-1)
	for _, c := range f.Cutpoints {
		if c.Band == BandWithin {
			if math.IsInf(lower, -1) {
				lower = 0
			}
			return Bounds{Min: lower, Max: c.Upper}, !math.IsInf(c.Upper, 1)
		}
		lower = c.Upper
	}
	return Bounds{}, false
}
