package refrange

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// csvDirRepo keeps one "<species>.csv" file per species in a directory.
type csvDirRepo struct {
	dir string
	mu  sync.Mutex
}

func NewCSVDirRepo(dir string) Repository {
	return &csvDirRepo{dir: dir}
}

func (r *csvDirRepo) path(species Species) string {
	return filepath.Join(r.dir, string(species)+".csv")
}

func (r *csvDirRepo) LoadRows(_ context.Context, species Species) ([]RawRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.Open(r.path(species))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open reference table file: %w", err)
	}
	defer f.Close()
	return ReadCSV(f)
}

// ReplaceRows writes to a temporary file and renames it over the old table.
func (r *csvDirRepo) ReplaceRows(_ context.Context, species Species, rows []Row) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("create reference table dir: %w", err)
	}
	tmp, err := os.CreateTemp(r.dir, string(species)+"-*.csv.tmp")
	if err != nil {
		return fmt.Errorf("create temp reference table: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := WriteCSV(tmp, tableFromRows(species, rows)); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp reference table: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path(species)); err != nil {
		return fmt.Errorf("install reference table: %w", err)
	}
	return nil
}

func (r *csvDirRepo) DeleteRows(_ context.Context, species Species) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := os.Remove(r.path(species))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove reference table file: %w", err)
	}
	return nil
}

// memoryRepo keeps tables in process memory; used when no database or
// directory is configured.
type memoryRepo struct {
	mu     sync.RWMutex
	tables map[Species][]RawRow
}

func NewMemoryRepo() Repository {
	return &memoryRepo{tables: make(map[Species][]RawRow)}
}

func (r *memoryRepo) LoadRows(_ context.Context, species Species) ([]RawRow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tables[species], nil
}

func (r *memoryRepo) ReplaceRows(_ context.Context, species Species, rows []Row) error {
	raw := ToRawRows(tableFromRows(species, rows))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tables[species] = raw
	return nil
}

func (r *memoryRepo) DeleteRows(_ context.Context, species Species) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tables, species)
	return nil
}

// tableFromRows wraps already-validated rows in a table whose columns are
// the union of the rows' keys.
func tableFromRows(species Species, rows []Row) *ReferenceTable {
	keys := map[string]bool{}
	for _, row := range rows {
		for k := range row.Ranges {
			keys[k] = true
		}
	}
	refKeys := make([]string, 0, len(keys))
	for k := range keys {
		refKeys = append(refKeys, k)
	}
	sort.Strings(refKeys)
	return newReferenceTable(species, SourceStore, time.Time{}, rows, refKeys)
}
