package refrange

import (
	"sort"
	"strings"
)

// Result is the interpretation of one measurement.
type Result struct {
	Key            string  `json:"key"`
	Name           string  `json:"name,omitempty"`
	Unit           string  `json:"unit,omitempty"`
	Value          float64 `json:"value"`
	Range          *Bounds `json:"range,omitempty"`
	Interpretation Label   `json:"interpretation"`
	Band           Band    `json:"band"`
	Strategy       string  `json:"strategy"`
	Derived        bool    `json:"derived"`
}

// Study is the set of measurements of one echocardiogram.
type Study struct {
	Species      Species            `json:"species"`
	Weight       float64            `json:"weight"`
	Measurements map[string]float64 `json:"measurements"`
}

// Engine dispatches observations to the strategy registered for them.
type Engine struct {
	registry *Registry
}

// NewEngine returns an engine over reg, or over the default registry when
// reg is nil.
func NewEngine(reg *Registry) *Engine {
	if reg == nil {
		reg = defaultRegistry
	}
	return &Engine{registry: reg}
}

func (e *Engine) Registry() *Registry { return e.registry }

// Interpret classifies a single observation. table must be the reference
// table of obs.Species; it is only consulted by tabular rules.
func (e *Engine) Interpret(table *ReferenceTable, obs Observation) Result {
	res := Result{
		Key:            obs.Key,
		Value:          obs.Value,
		Interpretation: LabelUnavailable,
		Band:           BandUnavailable,
		Strategy:       StrategyName(Unsupported{}),
	}

	rule, ok := e.registry.Rule(obs.Key, obs.Species)
	if !ok {
		return res
	}
	res.Key = rule.Descriptor.Key
	res.Name = rule.Descriptor.Label
	res.Unit = rule.Descriptor.Unit
	res.Strategy = StrategyName(rule.Strategy)

	if !isFinite(obs.Value) || (rule.Derived && obs.Value <= 0) {
		return res
	}

	switch s := rule.Strategy.(type) {
	case TabularLookup:
		b, ok := table.Interpolate(s.RefKey, obs.Weight)
		res.Interpretation = Classify(obs.Value, b, ok)
		res.Band = BandOf(res.Interpretation)
		if ok {
			res.Range = &b
		}
	case FixedThreshold:
		res.Interpretation, res.Band = s.Evaluate(obs.Value)
		if b, ok := s.NormalRange(); ok {
			res.Range = &b
		}
	}
	return res
}

// Derive returns a copy of measurements with the derived parameters filled
// in when the caller did not supply them and the parameter applies to
// species. Values that cannot be computed are stored as 0.
func (e *Engine) Derive(species Species, weight float64, measurements map[string]float64) (map[string]float64, map[string]bool) {
	out := make(map[string]float64, len(measurements)+3)
	for k, v := range measurements {
		out[k] = v
	}
	derived := map[string]bool{}

	lookup := func(key string) (float64, bool) {
		for k, v := range measurements {
			if equalKey(k, key) {
				return v, true
			}
		}
		return 0, false
	}
	derive := func(key string, compute func() (float64, bool)) {
		if _, ok := e.registry.Rule(key, species); !ok {
			return
		}
		if _, supplied := lookup(key); supplied {
			return
		}
		if v, ok := compute(); ok {
			out[key] = v
			derived[key] = true
		}
	}

	derive(KeyLVIDdN, func() (float64, bool) {
		d, ok := lookup(KeyLVIDd)
		if !ok {
			return 0, false
		}
		unit := "cm"
		if rule, ok := e.registry.Rule(KeyLVIDd, species); ok && rule.Descriptor.Unit != "" {
			unit = rule.Descriptor.Unit
		}
		return NormalizedDimension(d, unit, weight), true
	})
	derive(KeyEEPrimeRatio, func() (float64, bool) {
		ev, ok1 := lookup(KeyE)
		ep, ok2 := lookup(KeyEPrime)
		if !ok1 || !ok2 {
			return 0, false
		}
		return DopplerRatio(ev, ep), true
	})
	derive(KeyLAAo, func() (float64, bool) {
		la, ok1 := lookup(KeyLA)
		ao, ok2 := lookup(KeyAo)
		if !ok1 || !ok2 {
			return 0, false
		}
		return DimensionRatio(la, ao), true
	})

	return out, derived
}

// InterpretStudy derives the computed parameters of study and classifies
// every measurement. Results follow registry order; unknown keys come last
// in alphabetical order.
func (e *Engine) InterpretStudy(table *ReferenceTable, study Study) []Result {
	values, derived := e.Derive(study.Species, study.Weight, study.Measurements)

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ri, rj := e.registry.rank(keys[i]), e.registry.rank(keys[j])
		switch {
		case ri >= 0 && rj >= 0:
			return ri < rj
		case ri >= 0:
			return true
		case rj >= 0:
			return false
		}
		return keys[i] < keys[j]
	})

	results := make([]Result, 0, len(keys))
	for _, k := range keys {
		res := e.Interpret(table, Observation{
			Key:     k,
			Value:   values[k],
			Weight:  study.Weight,
			Species: study.Species,
		})
		res.Derived = derived[k]
		results = append(results, res)
	}
	return results
}

func equalKey(a, b string) bool { return strings.EqualFold(a, b) }
