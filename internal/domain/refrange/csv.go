package refrange

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// ReadCSV parses a reference table in the "weight,<Ref>_Min,<Ref>_Max,..."
// layout. The first record is the header. Ragged records are tolerated;
// cells beyond the header are ignored.
func ReadCSV(r io.Reader) ([]RawRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrInvalidCSV, err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	var rows []RawRow
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCSV, err)
		}
		row := make(RawRow, len(header))
		for i, name := range header {
			if i < len(rec) {
				row[name] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// WriteCSV writes t in the layout ReadCSV accepts. Undefined bounds are
// written as empty cells.
func WriteCSV(w io.Writer, t *ReferenceTable) error {
	refKeys := t.RefKeys()
	header := make([]string, 0, 1+2*len(refKeys))
	header = append(header, "weight")
	for _, k := range refKeys {
		header = append(header, k+"_Min", k+"_Max")
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range t.Rows {
		rec := make([]string, 0, len(header))
		rec = append(rec, formatNumber(row.Weight))
		for _, k := range refKeys {
			b, ok := row.Ranges[k]
			if !ok {
				rec = append(rec, "", "")
				continue
			}
			rec = append(rec, formatNumber(b.Min), formatNumber(b.Max))
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ToRawRows flattens t back into raw rows, the inverse of BuildTable.
func ToRawRows(t *ReferenceTable) []RawRow {
	out := make([]RawRow, len(t.Rows))
	for i, row := range t.Rows {
		raw := RawRow{"weight": formatNumber(row.Weight)}
		for k, b := range row.Ranges {
			raw[k+"_Min"] = formatNumber(b.Min)
			raw[k+"_Max"] = formatNumber(b.Max)
		}
		out[i] = raw
	}
	return out
}

func formatNumber(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
