package refrange

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// RawRow is one untyped row of a tabular source: column name -> cell text.
type RawRow map[string]string

// Source supplies the raw rows of the stored reference table for a species.
// An empty result with a nil error means nothing is stored.
type Source interface {
	LoadRows(ctx context.Context, species Species) ([]RawRow, error)
}

const (
	minSuffix = "_min"
	maxSuffix = "_max"
)

// weightColumns lists the accepted weight headers in priority order; when a
// row carries several, the first listed wins.
var weightColumns = []string{"weight", "weight_kg", "kg", "peso", "peso_kg"}

func weightRank(name string) int {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, w := range weightColumns {
		if name == w {
			return i
		}
	}
	return -1
}

// splitRangeColumn splits "LVIDd_Min" into ("LVIDd", true, true).
func splitRangeColumn(name string) (refKey string, isMin bool, ok bool) {
	name = strings.TrimSpace(name)
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, minSuffix):
		return name[:len(name)-len(minSuffix)], true, len(name) > len(minSuffix)
	case strings.HasSuffix(lower, maxSuffix):
		return name[:len(name)-len(maxSuffix)], false, len(name) > len(maxSuffix)
	}
	return "", false, false
}

// parseNumber coerces a cell to float64. A lone decimal comma is accepted.
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN(), false
	}
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN(), false
	}
	return v, true
}

// BuildTable validates raw rows into a ReferenceTable: cells are coerced to
// numbers, rows without a usable weight are dropped, rows are sorted by
// weight and later duplicates of a weight are discarded. Only columns
// present as a complete _Min/_Max pair become table columns.
func BuildTable(species Species, source TableSource, raw []RawRow, loadedAt time.Time) *ReferenceTable {
	type colSeen struct{ min, max bool }
	canonical := map[string]string{}
	seen := map[string]*colSeen{}
	var order []string

	for _, r := range raw {
		for name := range r {
			refKey, isMin, ok := splitRangeColumn(name)
			if !ok {
				continue
			}
			lk := strings.ToLower(refKey)
			if _, known := canonical[lk]; !known {
				canonical[lk] = refKey
				seen[lk] = &colSeen{}
				order = append(order, lk)
			}
			if isMin {
				seen[lk].min = true
			} else {
				seen[lk].max = true
			}
		}
	}

	var refKeys []string
	for _, lk := range order {
		if s := seen[lk]; s.min && s.max {
			refKeys = append(refKeys, canonical[lk])
		}
	}
	sort.Strings(refKeys)

	rows := make([]Row, 0, len(raw))
	for _, r := range raw {
		weight, ok := rowWeight(r)
		if !ok {
			continue
		}
		ranges := make(map[string]Bounds, len(refKeys))
		for _, k := range refKeys {
			ranges[k] = Bounds{Min: math.NaN(), Max: math.NaN()}
		}
		for name, cell := range r {
			refKey, isMin, ok := splitRangeColumn(name)
			if !ok {
				continue
			}
			key, ok := canonical[strings.ToLower(refKey)]
			if !ok {
				continue
			}
			b, tracked := ranges[key]
			if !tracked {
				continue
			}
			v, _ := parseNumber(cell)
			if isMin {
				b.Min = v
			} else {
				b.Max = v
			}
			ranges[key] = b
		}
		rows = append(rows, Row{Weight: weight, Ranges: ranges})
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Weight < rows[j].Weight })
	deduped := rows[:0]
	for i, r := range rows {
		if i > 0 && r.Weight == deduped[len(deduped)-1].Weight {
			continue
		}
		deduped = append(deduped, r)
	}

	return newReferenceTable(species, source, loadedAt, deduped, refKeys)
}

func rowWeight(r RawRow) (float64, bool) {
	best, cell := -1, ""
	for name, v := range r {
		if rank := weightRank(name); rank >= 0 && (best < 0 || rank < best) {
			best, cell = rank, v
		}
	}
	if best < 0 {
		return 0, false
	}
	v, ok := parseNumber(cell)
	if !ok || !isFinite(v) || v <= 0 {
		return 0, false
	}
	return v, true
}

// TableLoader produces reference tables from a Source, falling back to the
// synthesized defaults when the source is absent, failing or empty.
type TableLoader struct {
	source  Source
	logger  zerolog.Logger
	nowFunc func() time.Time
}

func NewTableLoader(source Source, logger zerolog.Logger) *TableLoader {
	return &TableLoader{
		source:  source,
		logger:  logger.With().Str("component", "reftable_loader").Logger(),
		nowFunc: time.Now,
	}
}

// Load never returns a nil table: absence of usable stored data degrades to
// the synthesized default table, tagged with SourceDefault. A non-nil error
// reports that the default stands in for a source that failed.
func (l *TableLoader) Load(ctx context.Context, species Species) (*ReferenceTable, error) {
	now := l.nowFunc()
	if l.source == nil {
		return SynthesizeDefault(species, now), nil
	}

	raw, err := l.source.LoadRows(ctx, species)
	if err != nil {
		l.logger.Warn().Err(err).Str("species", string(species)).Msg("reference table source failed, using defaults")
		return SynthesizeDefault(species, now), fmt.Errorf("load %s reference table: %w", species, err)
	}

	table := BuildTable(species, SourceStore, raw, now)
	if len(table.Rows) == 0 {
		l.logger.Debug().Str("species", string(species)).Msg("no stored reference table, using defaults")
		return SynthesizeDefault(species, now), nil
	}

	l.logger.Info().
		Str("species", string(species)).
		Int("rows", len(table.Rows)).
		Int("columns", len(table.columns)).
		Msg("reference table loaded")
	return table, nil
}
