package refrange

import "testing"

func TestRegistry_SpeciesGating(t *testing.T) {
	reg := DefaultRegistry()

	if _, ok := reg.Rule(KeyLVIDdN, Canine); !ok {
		t.Error("expected LVIDdN for canine")
	}
	if _, ok := reg.Rule(KeyLVIDdN, Feline); ok {
		t.Error("expected LVIDdN to be gated to canine")
	}
	if !reg.Known(KeyLVIDdN) {
		t.Error("expected LVIDdN to be known regardless of species")
	}

	for _, d := range reg.Descriptors(Feline) {
		if d.Key == KeyLVIDdN {
			t.Error("expected feline descriptors to omit LVIDdN")
		}
	}
}

func TestRegistry_PerSpeciesRules(t *testing.T) {
	reg := DefaultRegistry()

	dog, _ := reg.Rule("FS", Canine)
	cat, _ := reg.Rule("FS", Feline)

	if l, _ := dog.Strategy.(FixedThreshold).Evaluate(28); l != LabelNormal {
		t.Errorf("expected canine FS 28 normal, got %q", l)
	}
	if l, _ := cat.Strategy.(FixedThreshold).Evaluate(28); l != LabelReduced {
		t.Errorf("expected feline FS 28 reduced, got %q", l)
	}
}

func TestRegistry_CaseInsensitive(t *testing.T) {
	reg := DefaultRegistry()
	rule, ok := reg.Rule("lvidd", Canine)
	if !ok {
		t.Fatal("expected case-insensitive key match")
	}
	if rule.Descriptor.Key != KeyLVIDd {
		t.Errorf("expected canonical key %q, got %q", KeyLVIDd, rule.Descriptor.Key)
	}
}

func TestRegistry_AddFillsRefKey(t *testing.T) {
	reg := NewRegistry(
		Rule{Descriptor: ParameterDescriptor{Key: "RVIDd"}, Strategy: TabularLookup{RefKey: "RVIDd"}},
		Rule{Descriptor: ParameterDescriptor{Key: "TAPSE"}},
	)

	descs := reg.Descriptors(Canine)
	if len(descs) != 2 {
		t.Fatalf("expected 2 descriptors, got %d", len(descs))
	}
	if descs[0].RefKey != "RVIDd" {
		t.Errorf("expected RefKey filled from strategy, got %q", descs[0].RefKey)
	}
	rule, _ := reg.Rule("TAPSE", Canine)
	if StrategyName(rule.Strategy) != "unsupported" {
		t.Errorf("expected nil strategy to become unsupported, got %s", StrategyName(rule.Strategy))
	}
}

func TestRegistry_DescriptorOrder(t *testing.T) {
	descs := DefaultRegistry().Descriptors(Canine)
	if descs[0].Key != "IVSd" || descs[1].Key != KeyLVIDd {
		t.Errorf("expected registration order, got %s, %s", descs[0].Key, descs[1].Key)
	}
	seen := map[string]bool{}
	for _, d := range descs {
		if seen[d.Key] {
			t.Errorf("duplicate descriptor %s", d.Key)
		}
		seen[d.Key] = true
	}
}

func TestParseSpecies(t *testing.T) {
	tests := []struct {
		in   string
		want Species
	}{
		{"canine", Canine},
		{"Dog", Canine},
		{" cão ", Canine},
		{"FELINE", Feline},
		{"gato", Feline},
	}
	for _, tt := range tests {
		got, err := ParseSpecies(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseSpecies(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
	if _, err := ParseSpecies("equine"); err == nil {
		t.Error("expected error for unsupported species")
	}
}
