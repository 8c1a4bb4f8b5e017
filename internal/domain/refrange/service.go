package refrange

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
)

// Observer receives cache and classification events, typically a metrics
// collector.
type Observer interface {
	CacheObserver
	Classified(species, key, band string)
}

type ServiceConfig struct {
	CacheTTL time.Duration
	Registry *Registry
	Observer Observer
	// Clock replaces time.Now, for tests.
	Clock func() time.Time
}

type Service struct {
	repo     Repository
	cache    *TableCache
	engine   *Engine
	logger   zerolog.Logger
	observer Observer
	nowFunc  func() time.Time
}

// NewService wires the loader, table cache and engine over repo. A nil repo
// keeps stored tables in memory.
func NewService(repo Repository, logger zerolog.Logger, cfg ServiceConfig) *Service {
	if repo == nil {
		repo = NewMemoryRepo()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	loader := NewTableLoader(repo, logger)
	loader.nowFunc = now

	opts := []CacheOption{WithClock(now)}
	if cfg.Observer != nil {
		opts = append(opts, WithObserver(cfg.Observer))
	}

	return &Service{
		repo:     repo,
		cache:    NewTableCache(loader.Load, cfg.CacheTTL, opts...),
		engine:   NewEngine(cfg.Registry),
		logger:   logger.With().Str("component", "refrange").Logger(),
		observer: cfg.Observer,
		nowFunc:  now,
	}
}

func (s *Service) Registry() *Registry { return s.engine.Registry() }

// Table returns the current reference table of species.
func (s *Service) Table(ctx context.Context, species Species) (*ReferenceTable, error) {
	if !species.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSpecies, species)
	}
	return s.cache.Get(ctx, species), nil
}

func (s *Service) Parameters(species Species) ([]ParameterDescriptor, error) {
	if !species.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSpecies, species)
	}
	return s.engine.Registry().Descriptors(species), nil
}

// LookupRange returns the interpolated normal range of a tabular parameter.
func (s *Service) LookupRange(ctx context.Context, species Species, key string, weight float64) (Bounds, bool, error) {
	table, err := s.Table(ctx, species)
	if err != nil {
		return Bounds{}, false, err
	}
	b, ok := s.engine.Registry().LookupRange(key, weight, table)
	return b, ok, nil
}

func (s *Service) Interpret(ctx context.Context, obs Observation) (Result, error) {
	table, err := s.Table(ctx, obs.Species)
	if err != nil {
		return Result{}, err
	}
	res := s.engine.Interpret(table, obs)
	s.observe(obs.Species, res)
	return res, nil
}

// InterpretStudy derives the computed parameters of study and classifies
// every measurement against the species table.
func (s *Service) InterpretStudy(ctx context.Context, study Study) ([]Result, error) {
	table, err := s.Table(ctx, study.Species)
	if err != nil {
		return nil, err
	}
	results := s.engine.InterpretStudy(table, study)
	for _, r := range results {
		s.observe(study.Species, r)
	}
	return results, nil
}

// UnknownParameter labels metrics of measurement keys the registry does not
// know; keys come from clients and must not become label values.
const UnknownParameter = "unknown"

func (s *Service) observe(species Species, r Result) {
	if s.observer == nil {
		return
	}
	key, ok := s.engine.Registry().CanonicalKey(r.Key)
	if !ok {
		key = UnknownParameter
	}
	s.observer.Classified(string(species), key, string(r.Band))
}

// ReplaceTable validates raw, persists it as the stored table of species and
// publishes it to readers. Nothing is written when no row survives
// validation.
func (s *Service) ReplaceTable(ctx context.Context, species Species, raw []RawRow) (*ReferenceTable, error) {
	if !species.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSpecies, species)
	}
	table := BuildTable(species, SourceStore, raw, s.nowFunc())
	if len(table.Rows) == 0 || len(table.columns) == 0 {
		return nil, ErrEmptyTable
	}
	if err := s.repo.ReplaceRows(ctx, species, table.Rows); err != nil {
		return nil, fmt.Errorf("store reference table: %w", err)
	}
	s.cache.Put(table)
	s.logger.Info().
		Str("species", string(species)).
		Int("rows", len(table.Rows)).
		Int("columns", len(table.columns)).
		Msg("reference table replaced")
	return table, nil
}

// ResetTable removes the stored table of species; readers fall back to the
// built-in defaults.
func (s *Service) ResetTable(ctx context.Context, species Species) error {
	if !species.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownSpecies, species)
	}
	if err := s.repo.DeleteRows(ctx, species); err != nil {
		return fmt.Errorf("reset reference table: %w", err)
	}
	s.cache.Invalidate(species)
	s.logger.Info().Str("species", string(species)).Msg("reference table reset to defaults")
	return nil
}

func (s *Service) ImportCSV(ctx context.Context, species Species, r io.Reader) (*ReferenceTable, error) {
	raw, err := ReadCSV(r)
	if err != nil {
		return nil, err
	}
	return s.ReplaceTable(ctx, species, raw)
}

func (s *Service) ExportCSV(ctx context.Context, species Species, w io.Writer) error {
	table, err := s.Table(ctx, species)
	if err != nil {
		return err
	}
	return WriteCSV(w, table)
}
