package refrange

import (
	"math"
	"strings"
)

// Rule binds a parameter to its classification strategy. An empty Species
// list applies the rule to every species; otherwise the parameter is gated
// to the listed species. Derived parameters use 0 for "not computable", so
// non-positive values of a derived rule are never classified.
type Rule struct {
	Descriptor ParameterDescriptor
	Strategy   Strategy
	Species    []Species
	Derived    bool
}

func (r Rule) AppliesTo(s Species) bool {
	if len(r.Species) == 0 {
		return true
	}
	for _, sp := range r.Species {
		if sp == s {
			return true
		}
	}
	return false
}

// Registry maps parameter keys to rules. A key may carry several rules with
// disjoint species lists.
type Registry struct {
	rules map[string][]Rule
	order []string
}

func NewRegistry(rules ...Rule) *Registry {
	reg := &Registry{rules: make(map[string][]Rule)}
	for _, r := range rules {
		reg.Add(r)
	}
	return reg
}

// Add registers r. Tabular rules get their descriptor RefKey filled in.
func (r *Registry) Add(rule Rule) {
	if tab, ok := rule.Strategy.(TabularLookup); ok && rule.Descriptor.RefKey == "" {
		rule.Descriptor.RefKey = tab.RefKey
	}
	if rule.Strategy == nil {
		rule.Strategy = Unsupported{}
	}
	k := strings.ToLower(rule.Descriptor.Key)
	if _, ok := r.rules[k]; !ok {
		r.order = append(r.order, k)
	}
	r.rules[k] = append(r.rules[k], rule)
}

// Known reports whether any rule is registered under key.
func (r *Registry) Known(key string) bool {
	_, ok := r.rules[strings.ToLower(key)]
	return ok
}

// CanonicalKey returns the registered spelling of key, whatever the species.
func (r *Registry) CanonicalKey(key string) (string, bool) {
	rules := r.rules[strings.ToLower(key)]
	if len(rules) == 0 {
		return "", false
	}
	return rules[0].Descriptor.Key, true
}

// Rule returns the rule for key that applies to species.
func (r *Registry) Rule(key string, species Species) (Rule, bool) {
	for _, rule := range r.rules[strings.ToLower(key)] {
		if rule.AppliesTo(species) {
			return rule, true
		}
	}
	return Rule{}, false
}

// Descriptors lists the parameters applicable to species in registration order.
func (r *Registry) Descriptors(species Species) []ParameterDescriptor {
	out := make([]ParameterDescriptor, 0, len(r.order))
	for _, k := range r.order {
		for _, rule := range r.rules[k] {
			if rule.AppliesTo(species) {
				out = append(out, rule.Descriptor)
				break
			}
		}
	}
	return out
}

// rank returns the registration position of key, or -1.
func (r *Registry) rank(key string) int {
	lk := strings.ToLower(key)
	for i, k := range r.order {
		if k == lk {
			return i
		}
	}
	return -1
}

// Parameter keys with special handling.
const (
	KeyLVIDd        = "LVIDd"
	KeyLVIDdN       = "LVIDdN"
	KeyLA           = "LA"
	KeyAo           = "Ao"
	KeyLAAo         = "LA_Ao"
	KeyE            = "E"
	KeyEPrime       = "Eprime"
	KeyEEPrimeRatio = "E_Eprime"
)

var inf = math.Inf(1)

func tabular(key, label, refKey string) Rule {
	return Rule{
		Descriptor: ParameterDescriptor{Key: key, Label: label, Unit: "cm"},
		Strategy:   TabularLookup{RefKey: refKey},
	}
}

// DefaultRegistry returns the built-in parameter set.
func DefaultRegistry() *Registry {
	return NewRegistry(
		tabular("IVSd", "Interventricular septum, diastole", "IVSd"),
		tabular(KeyLVIDd, "LV internal diameter, diastole", "LVIDd"),
		tabular("LVPWd", "LV posterior wall, diastole", "LVPWd"),
		tabular("IVSs", "Interventricular septum, systole", "IVSs"),
		tabular("LVIDs", "LV internal diameter, systole", "LVIDs"),
		tabular("LVPWs", "LV posterior wall, systole", "LVPWs"),
		tabular(KeyLA, "Left atrium", "LA"),
		tabular(KeyAo, "Aorta", "Ao"),
		Rule{
			Descriptor: ParameterDescriptor{Key: KeyLAAo, Label: "LA/Ao", Unit: ""},
			Strategy: FixedThreshold{Cutpoints: []Cutpoint{
				{Upper: 1.6, Inclusive: true, Label: LabelNormal, Band: BandWithin},
				{Upper: inf, Label: LabelIncreased, Band: BandAbove},
			}},
			Species: []Species{Canine},
			Derived: true,
		},
		Rule{
			Descriptor: ParameterDescriptor{Key: KeyLAAo, Label: "LA/Ao", Unit: ""},
			Strategy: FixedThreshold{Cutpoints: []Cutpoint{
				{Upper: 1.5, Inclusive: true, Label: LabelNormal, Band: BandWithin},
				{Upper: inf, Label: LabelIncreased, Band: BandAbove},
			}},
			Species: []Species{Feline},
			Derived: true,
		},
		Rule{
			Descriptor: ParameterDescriptor{Key: KeyLVIDdN, Label: "Normalized LVIDd", Unit: ""},
			Strategy: FixedThreshold{Cutpoints: []Cutpoint{
				{Upper: 1.27, Label: LabelBelowExpected, Band: BandBelow},
				{Upper: 1.7, Inclusive: true, Label: LabelNormal, Band: BandWithin},
				{Upper: 1.85, Inclusive: true, Label: LabelBorderline, Band: BandAbove},
				{Upper: 2.0, Inclusive: true, Label: LabelMildDilation, Band: BandAbove},
				{Upper: 2.2, Inclusive: true, Label: LabelModerateDilation, Band: BandAbove},
				{Upper: inf, Label: LabelSevereDilation, Band: BandAbove},
			}},
			Species: []Species{Canine},
			Derived: true,
		},
		Rule{
			Descriptor: ParameterDescriptor{Key: "FS", Label: "Fractional shortening", Unit: "%"},
			Strategy: FixedThreshold{Cutpoints: []Cutpoint{
				{Upper: 25, Label: LabelReduced, Band: BandBelow},
				{Upper: 45, Inclusive: true, Label: LabelNormal, Band: BandWithin},
				{Upper: inf, Label: LabelIncreased, Band: BandAbove},
			}},
			Species: []Species{Canine},
		},
		Rule{
			Descriptor: ParameterDescriptor{Key: "FS", Label: "Fractional shortening", Unit: "%"},
			Strategy: FixedThreshold{Cutpoints: []Cutpoint{
				{Upper: 30, Label: LabelReduced, Band: BandBelow},
				{Upper: 55, Inclusive: true, Label: LabelNormal, Band: BandWithin},
				{Upper: inf, Label: LabelIncreased, Band: BandAbove},
			}},
			Species: []Species{Feline},
		},
		Rule{
			Descriptor: ParameterDescriptor{Key: "EF", Label: "Ejection fraction", Unit: "%"},
			Strategy: FixedThreshold{Cutpoints: []Cutpoint{
				{Upper: 50, Label: LabelReduced, Band: BandBelow},
				{Upper: 75, Inclusive: true, Label: LabelNormal, Band: BandWithin},
				{Upper: inf, Label: LabelIncreased, Band: BandAbove},
			}},
		},
		Rule{
			Descriptor: ParameterDescriptor{Key: "AoVmax", Label: "Aortic peak velocity", Unit: "m/s"},
			Strategy: FixedThreshold{Cutpoints: []Cutpoint{
				{Upper: 1.7, Inclusive: true, Label: LabelNormal, Band: BandWithin},
				{Upper: 2.25, Inclusive: true, Label: LabelEquivocal, Band: BandAbove},
				{Upper: 3.5, Inclusive: true, Label: LabelMildStenosis, Band: BandAbove},
				{Upper: 4.5, Inclusive: true, Label: LabelModerateStenosis, Band: BandAbove},
				{Upper: inf, Label: LabelSevereStenosis, Band: BandAbove},
			}},
		},
		Rule{
			Descriptor: ParameterDescriptor{Key: "PVmax", Label: "Pulmonary peak velocity", Unit: "m/s"},
			Strategy: FixedThreshold{Cutpoints: []Cutpoint{
				{Upper: 1.6, Inclusive: true, Label: LabelNormal, Band: BandWithin},
				{Upper: 2.25, Inclusive: true, Label: LabelEquivocal, Band: BandAbove},
				{Upper: 3.5, Inclusive: true, Label: LabelMildStenosis, Band: BandAbove},
				{Upper: 4.5, Inclusive: true, Label: LabelModerateStenosis, Band: BandAbove},
				{Upper: inf, Label: LabelSevereStenosis, Band: BandAbove},
			}},
		},
		Rule{
			Descriptor: ParameterDescriptor{Key: KeyE, Label: "Mitral E wave", Unit: "m/s"},
			Strategy:   Unsupported{},
		},
		Rule{
			Descriptor: ParameterDescriptor{Key: KeyEPrime, Label: "Septal e' (TDI)", Unit: "m/s"},
			Strategy:   Unsupported{},
		},
		Rule{
			Descriptor: ParameterDescriptor{Key: KeyEEPrimeRatio, Label: "E/e'", Unit: ""},
			Strategy: FixedThreshold{Cutpoints: []Cutpoint{
				{Upper: 12, Inclusive: true, Label: LabelNormal, Band: BandWithin},
				{Upper: inf, Label: LabelIncreased, Band: BandAbove},
			}},
			Derived: true,
		},
	)
}

var defaultRegistry = DefaultRegistry()
