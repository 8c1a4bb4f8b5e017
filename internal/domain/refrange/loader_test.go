package refrange

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type stubSource struct {
	rows  []RawRow
	err   error
	calls int
}

func (s *stubSource) LoadRows(_ context.Context, _ Species) ([]RawRow, error) {
	s.calls++
	return s.rows, s.err
}

func TestBuildTable_SortsAndDedupes(t *testing.T) {
	table := BuildTable(Canine, SourceStore, []RawRow{
		{"weight": "20", "LA_Min": "2.0", "LA_Max": "2.6"},
		{"weight": "10", "LA_Min": "1.5", "LA_Max": "2.1"},
		{"weight": "20", "LA_Min": "9", "LA_Max": "9"},
	}, time.Time{})

	if len(table.Rows) != 2 {
		t.Fatalf("expected 2 rows after dedupe, got %d", len(table.Rows))
	}
	if table.Rows[0].Weight != 10 || table.Rows[1].Weight != 20 {
		t.Errorf("expected ascending weights, got %v", table.Weights())
	}
	if got := table.Rows[1].Ranges["LA"].Min; got != 2.0 {
		t.Errorf("expected first occurrence of a weight kept, got min %v", got)
	}
}

func TestBuildTable_DropsUnusableRows(t *testing.T) {
	table := BuildTable(Canine, SourceStore, []RawRow{
		{"weight": "", "LA_Min": "1", "LA_Max": "2"},
		{"weight": "abc", "LA_Min": "1", "LA_Max": "2"},
		{"weight": "0", "LA_Min": "1", "LA_Max": "2"},
		{"weight": "-4", "LA_Min": "1", "LA_Max": "2"},
		{"LA_Min": "1", "LA_Max": "2"},
		{"Peso": "7,5", "LA_Min": "1,2", "LA_Max": "1.9"},
	}, time.Time{})

	if len(table.Rows) != 1 {
		t.Fatalf("expected 1 usable row, got %d", len(table.Rows))
	}
	row := table.Rows[0]
	if row.Weight != 7.5 {
		t.Errorf("expected decimal comma weight 7.5, got %v", row.Weight)
	}
	if row.Ranges["LA"].Min != 1.2 {
		t.Errorf("expected decimal comma min 1.2, got %v", row.Ranges["LA"].Min)
	}
}

func TestBuildTable_Columns(t *testing.T) {
	table := BuildTable(Canine, SourceStore, []RawRow{
		{"weight": "10", "LA_Min": "1", "LA_Max": "2", "Ao_Min": "1", "IVSd_Max": "0.8", "Ao_Max": "x"},
	}, time.Time{})

	keys := table.RefKeys()
	if len(keys) != 2 || keys[0] != "Ao" || keys[1] != "LA" {
		t.Errorf("expected only complete pairs [Ao LA], got %v", keys)
	}
	if table.HasColumn("IVSd") {
		t.Error("expected half-specified column to be dropped")
	}
	if !math.IsNaN(table.Rows[0].Ranges["Ao"].Max) {
		t.Errorf("expected unparsable cell stored as NaN, got %v", table.Rows[0].Ranges["Ao"].Max)
	}
}

func TestTableLoader_Fallbacks(t *testing.T) {
	tests := []struct {
		name   string
		source  Source
		want    TableSource
		wantErr bool
	}{
		{"no source", nil, SourceDefault, false},
		{"source error", &stubSource{err: errors.New("connection refused")}, SourceDefault, true},
		{"nothing stored", &stubSource{}, SourceDefault, false},
		{"no usable rows", &stubSource{rows: []RawRow{{"weight": "x"}}}, SourceDefault, false},
		{"stored table", &stubSource{rows: []RawRow{{"weight": "10", "LA_Min": "1", "LA_Max": "2"}}}, SourceStore, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := NewTableLoader(tt.source, zerolog.Nop())
			table, err := loader.Load(context.Background(), Canine)
			if table == nil {
				t.Fatal("expected a table")
			}
			if (err != nil) != tt.wantErr {
				t.Errorf("expected error %v, got %v", tt.wantErr, err)
			}
			if table.Source != tt.want {
				t.Errorf("expected source %s, got %s", tt.want, table.Source)
			}
			if table.Species != Canine {
				t.Errorf("expected canine table, got %s", table.Species)
			}
		})
	}
}

func TestTableLoader_UsesClock(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	loader := NewTableLoader(nil, zerolog.Nop())
	loader.nowFunc = func() time.Time { return now }

	table, _ := loader.Load(context.Background(), Feline)
	if got := table.LoadedAt; !got.Equal(now) {
		t.Errorf("expected LoadedAt %s, got %s", now, got)
	}
}

func TestBuildTable_WeightColumnPriority(t *testing.T) {
	raw := []RawRow{{"kg": "5", "Weight": "10", "peso": "7", "LA_Min": "1", "LA_Max": "2"}}
	// Map iteration order varies between runs; repeat to catch it.
	for i := 0; i < 20; i++ {
		table := BuildTable(Canine, SourceStore, raw, time.Time{})
		if len(table.Rows) != 1 || table.Rows[0].Weight != 10 {
			t.Fatalf("expected the weight column to win, got %+v", table.Rows)
		}
	}

	table := BuildTable(Canine, SourceStore, []RawRow{{"kg": "5", "peso": "7", "LA_Min": "1", "LA_Max": "2"}}, time.Time{})
	if table.Rows[0].Weight != 5 {
		t.Errorf("expected kg over peso, got %v", table.Rows[0].Weight)
	}
}
