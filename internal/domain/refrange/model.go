package refrange

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

var (
	ErrUnknownSpecies = errors.New("unknown species")
	ErrEmptyTable     = errors.New("reference table has no usable rows")
	ErrInvalidCSV     = errors.New("invalid reference table csv")
)

// Species selects the reference table and parameter set for a patient.
type Species string

const (
	Canine Species = "canine"
	Feline Species = "feline"
)

var speciesAliases = map[string]Species{
	"canine": Canine,
	"dog":    Canine,
	"cao":    Canine,
	"cão":    Canine,
	"canino": Canine,
	"feline": Feline,
	"cat":    Feline,
	"gato":   Feline,
	"felino": Feline,
}

// ParseSpecies maps a free-text species label onto a species class.
func ParseSpecies(s string) (Species, error) {
	if sp, ok := speciesAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return sp, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSpecies, s)
}

func (s Species) Valid() bool { return s == Canine || s == Feline }

// AllSpecies returns every supported species class.
func AllSpecies() []Species { return []Species{Canine, Feline} }

// Bounds is a normal [Min, Max] interval.
type Bounds struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// IsSentinel reports whether b is the zero/zero "not modeled" marker.
func (b Bounds) IsSentinel() bool { return b.Min == 0 && b.Max == 0 }

func (b Bounds) finite() bool {
	return !math.IsNaN(b.Min) && !math.IsNaN(b.Max) && !math.IsInf(b.Min, 0) && !math.IsInf(b.Max, 0)
}

// Row holds the normal ranges of every tracked parameter at one weight.
// Missing cells are stored as NaN bounds.
type Row struct {
	Weight float64           `json:"weight"`
	Ranges map[string]Bounds `json:"ranges"`
}

// TableSource records which path produced a ReferenceTable.
type TableSource string

const (
	SourceStore   TableSource = "store"
	SourceDefault TableSource = "default"
)

// ReferenceTable is an immutable, weight-ascending table of normal ranges for
// one species. Replace it wholesale; never mutate a published table.
type ReferenceTable struct {
	Species  Species     `json:"species"`
	Source   TableSource `json:"source"`
	LoadedAt time.Time   `json:"loaded_at"`
	Rows     []Row       `json:"rows"`

	// lower-cased ref key -> key as spelled in the source columns
	columns map[string]string
}

func newReferenceTable(species Species, source TableSource, loadedAt time.Time, rows []Row, refKeys []string) *ReferenceTable {
	cols := make(map[string]string, len(refKeys))
	for _, k := range refKeys {
		cols[strings.ToLower(k)] = k
	}
	return &ReferenceTable{
		Species:  species,
		Source:   source,
		LoadedAt: loadedAt,
		Rows:     rows,
		columns:  cols,
	}
}

// column resolves refKey case-insensitively against the table's columns.
func (t *ReferenceTable) column(refKey string) (string, bool) {
	if t == nil {
		return "", false
	}
	k, ok := t.columns[strings.ToLower(refKey)]
	return k, ok
}

// HasColumn reports whether the table carries a <refKey>_Min/<refKey>_Max pair.
func (t *ReferenceTable) HasColumn(refKey string) bool {
	_, ok := t.column(refKey)
	return ok
}

// RefKeys returns the table's column keys in sorted order.
func (t *ReferenceTable) RefKeys() []string {
	if t == nil {
		return nil
	}
	keys := make([]string, 0, len(t.columns))
	for _, k := range t.columns {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Weights returns the table's weight axis.
func (t *ReferenceTable) Weights() []float64 {
	ws := make([]float64, len(t.Rows))
	for i, r := range t.Rows {
		ws[i] = r.Weight
	}
	return ws
}

// ParameterDescriptor is the static metadata of a measurable quantity.
// An empty RefKey means there is no tabular reference for it.
type ParameterDescriptor struct {
	Key    string `json:"key"`
	Label  string `json:"label"`
	Unit   string `json:"unit"`
	RefKey string `json:"ref_key,omitempty"`
}

// Observation is one measured value to be interpreted.
type Observation struct {
	Key     string
	Value   float64
	Weight  float64
	Species Species
}

// Label is the interpretation shown next to a measurement. The empty label
// means no reference is available and nothing should be displayed.
type Label string

const (
	LabelUnavailable      Label = ""
	LabelReduced          Label = "reduced"
	LabelNormal           Label = "normal"
	LabelIncreased        Label = "increased"
	LabelBelowExpected    Label = "below expected"
	LabelBorderline       Label = "borderline"
	LabelMildDilation     Label = "mild dilation"
	LabelModerateDilation Label = "moderate dilation"
	LabelSevereDilation   Label = "severe dilation"
	LabelEquivocal        Label = "equivocal"
	LabelMildStenosis     Label = "mild stenosis"
	LabelModerateStenosis Label = "moderate stenosis"
	LabelSevereStenosis   Label = "severe stenosis"
)

// Band is the coarse position of a value relative to its normal range.
type Band string

const (
	BandUnavailable Band = "unavailable"
	BandBelow       Band = "below"
	BandWithin      Band = "within"
	BandAbove       Band = "above"
)

// BandOf returns the band of a tabular classification label.
func BandOf(l Label) Band {
	switch l {
	case LabelReduced:
		return BandBelow
	case LabelNormal:
		return BandWithin
	case LabelIncreased:
		return BandAbove
	}
	return BandUnavailable
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
