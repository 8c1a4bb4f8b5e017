package refrange

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type referenceRepoPG struct{ pool *pgxpool.Pool }

func NewReferenceRepoPG(pool *pgxpool.Pool) Repository {
	return &referenceRepoPG{pool: pool}
}

// LoadRows pivots the stored (weight, ref_key) cells back into one raw row
// per weight so they pass through the same validation as imported tables.
func (r *referenceRepoPG) LoadRows(ctx context.Context, species Species) ([]RawRow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT weight, ref_key, min_value, max_value
		FROM reference_range_row
		WHERE species = $1
		ORDER BY weight, ref_key`, string(species))
	if err != nil {
		return nil, fmt.Errorf("query reference rows for %s: %w", species, err)
	}
	defer rows.Close()

	byWeight := map[float64]RawRow{}
	for rows.Next() {
		var (
			weight float64
			refKey string
			lo, hi *float64
		)
		if err := rows.Scan(&weight, &refKey, &lo, &hi); err != nil {
			return nil, fmt.Errorf("scan reference row: %w", err)
		}
		raw, ok := byWeight[weight]
		if !ok {
			raw = RawRow{"weight": formatNumber(weight)}
			byWeight[weight] = raw
		}
		raw[refKey+"_Min"] = formatOptional(lo)
		raw[refKey+"_Max"] = formatOptional(hi)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reference rows: %w", err)
	}

	weights := make([]float64, 0, len(byWeight))
	for w := range byWeight {
		weights = append(weights, w)
	}
	sort.Float64s(weights)
	out := make([]RawRow, len(weights))
	for i, w := range weights {
		out[i] = byWeight[w]
	}
	return out, nil
}

func (r *referenceRepoPG) ReplaceRows(ctx context.Context, species Species, rows []Row) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM reference_range_row WHERE species = $1`, string(species)); err != nil {
		return fmt.Errorf("clear reference rows for %s: %w", species, err)
	}

	var cells [][]interface{}
	for _, row := range rows {
		for refKey, b := range row.Ranges {
			cells = append(cells, []interface{}{
				string(species), row.Weight, refKey, nullable(b.Min), nullable(b.Max),
			})
		}
	}
	if len(cells) > 0 {
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"reference_range_row"},
			[]string{"species", "weight", "ref_key", "min_value", "max_value"},
			pgx.CopyFromRows(cells),
		)
		if err != nil {
			return fmt.Errorf("copy reference rows for %s: %w", species, err)
		}
	}

	return tx.Commit(ctx)
}

func (r *referenceRepoPG) DeleteRows(ctx context.Context, species Species) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM reference_range_row WHERE species = $1`, string(species))
	if err != nil {
		return fmt.Errorf("delete reference rows for %s: %w", species, err)
	}
	return nil
}

func nullable(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return formatNumber(*v)
}
