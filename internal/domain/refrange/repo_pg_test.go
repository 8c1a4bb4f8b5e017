//go:build integration

package refrange

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/echovet/echovet/internal/platform/db"
	"github.com/echovet/echovet/internal/platform/db/dbtest"
	"github.com/echovet/echovet/migrations"
)

func TestReferenceRepoPG(t *testing.T) {
	pool := dbtest.Postgres(t)
	ctx := context.Background()

	if _, err := db.NewMigrator(pool, migrations.FS, "").Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	repo := NewReferenceRepoPG(pool)
	t.Cleanup(func() { repo.DeleteRows(ctx, Canine) })

	table := BuildTable(Canine, SourceStore, []RawRow{
		{"weight": "10", "LA_Min": "1.5", "LA_Max": "2.1", "Ao_Min": "", "Ao_Max": "1.4"},
		{"weight": "20", "LA_Min": "2.0", "LA_Max": "2.6", "Ao_Min": "1.1", "Ao_Max": "1.6"},
	}, time.Time{})
	if err := repo.ReplaceRows(ctx, Canine, table.Rows); err != nil {
		t.Fatalf("replace: %v", err)
	}

	raw, err := repo.LoadRows(ctx, Canine)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	back := BuildTable(Canine, SourceStore, raw, time.Time{})
	if len(back.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(back.Rows))
	}
	if !math.IsNaN(back.Rows[0].Ranges["Ao"].Min) {
		t.Errorf("expected NULL min to load as undefined, got %v", back.Rows[0].Ranges["Ao"].Min)
	}
	if back.Rows[1].Ranges["LA"].Max != 2.6 {
		t.Errorf("expected 2.6, got %v", back.Rows[1].Ranges["LA"].Max)
	}

	// Replacing drops rows that are no longer present.
	if err := repo.ReplaceRows(ctx, Canine, table.Rows[:1]); err != nil {
		t.Fatalf("second replace: %v", err)
	}
	if raw, _ := repo.LoadRows(ctx, Canine); len(raw) != 1 {
		t.Errorf("expected 1 row after replace, got %d", len(raw))
	}

	svc := NewService(repo, zerolog.Nop(), ServiceConfig{})
	if err := svc.ResetTable(ctx, Canine); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if tbl, _ := svc.Table(ctx, Canine); tbl.Source != SourceDefault {
		t.Errorf("expected defaults after reset, got %s", tbl.Source)
	}
}
