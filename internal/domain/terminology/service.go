package terminology

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ayushbridge/bridge/internal/domain/codesystem"
	"github.com/ayushbridge/bridge/internal/domain/conceptmap"
	"github.com/ayushbridge/bridge/internal/domain/valueset"
	"github.com/ayushbridge/bridge/internal/platform/cache"
	"github.com/ayushbridge/bridge/internal/platform/fhir"
	"github.com/ayushbridge/bridge/internal/platform/metrics"
)

// Snapshots yields the active snapshot. *Manager satisfies it.
type Snapshots interface {
	Current() (*Snapshot, error)
	Load(ctx context.Context) (*Snapshot, error)
}

// Service provides terminology lookup, validation, translation and
// expansion against the active snapshot. Each call reads the snapshot once.
type Service struct {
	snapshots Snapshots
	cache     cache.ResultCache
	ttl       time.Duration
	logger    zerolog.Logger
}

// NewService creates a new terminology service. A nil cache disables result
// caching.
func NewService(snapshots Snapshots, rc cache.ResultCache, ttl time.Duration, logger zerolog.Logger) *Service {
	return &Service{snapshots: snapshots, cache: rc, ttl: ttl, logger: logger}
}

// Snapshot returns the active snapshot.
func (s *Service) Snapshot() (*Snapshot, error) {
	return s.snapshots.Current()
}

// Lookup implements the FHIR CodeSystem $lookup operation.
func (s *Service) Lookup(ctx context.Context, req *LookupRequest) (p *fhir.Parameters, err error) {
	defer metrics.Observe("lookup", time.Now(), &err)
	if req.System == "" || req.Code == "" {
		return nil, fmt.Errorf("system and code are required: %w", fhir.ErrInvalidFilter)
	}
	snap, err := s.snapshots.Current()
	if err != nil {
		return nil, err
	}
	ref := systemRef(req.System, req.Version)
	cs, err := snap.Concepts.System(ref)
	if err != nil {
		return nil, err
	}
	concept, err := snap.Concepts.Lookup(ref, req.Code)
	if err != nil {
		return nil, err
	}

	var mappings []Mapping
	if !req.NoMappings {
		mappings, err = s.mappings(snap, concept)
		if err != nil {
			return nil, err
		}
	}
	return lookupParameters(cs, concept, req.Properties, mappings), nil
}

// mappings returns the forward mappings of a concept across every loaded map.
func (s *Service) mappings(snap *Snapshot, c *codesystem.Concept) ([]Mapping, error) {
	var out []Mapping
	for _, cm := range snap.Maps.Maps() {
		entries, err := snap.Maps.Forward(cm.URL, c.System, c.Code)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			m := Mapping{MappingEntry: *e, Source: cm.URL}
			if target, err := snap.Concepts.Lookup(e.TargetSystem, e.TargetCode); err == nil {
				m.TargetDisplay = target.Display
			}
			out = append(out, m)
		}
	}
	return out, nil
}

// ValidateCode implements the FHIR CodeSystem $validate-code operation. An
// unknown code is a false result, not an error.
func (s *Service) ValidateCode(ctx context.Context, req *ValidateCodeRequest) (p *fhir.Parameters, err error) {
	defer metrics.Observe("validate-code", time.Now(), &err)
	if req.System == "" || req.Code == "" {
		return nil, fmt.Errorf("system and code are required: %w", fhir.ErrInvalidFilter)
	}
	snap, err := s.snapshots.Current()
	if err != nil {
		return nil, err
	}
	ref := systemRef(req.System, req.Version)
	var v codesystem.Validation
	if req.Display != "" {
		v = snap.Concepts.ValidateDisplay(ref, req.Code, req.Display)
	} else {
		v = snap.Concepts.Validate(ref, req.Code)
	}
	return validationParameters(v), nil
}

// Translate implements ConceptMap $translate.
func (s *Service) Translate(ctx context.Context, req conceptmap.TranslateRequest) (t *conceptmap.Translation, err error) {
	defer metrics.Observe("translate", time.Now(), &err)
	snap, err := s.snapshots.Current()
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("translate:v%d:%s|%s|%s|%s|%t", snap.Version, req.System, req.Code, req.ConceptMap, req.TargetSystem, req.Reverse)
	return cached(ctx, s, "translate", key, func() (*conceptmap.Translation, error) {
		return snap.Translator.Translate(ctx, req)
	})
}

// ExpandResult pairs an expansion with the definition it evaluated.
type ExpandResult struct {
	Expansion  *valueset.Expansion  `json:"expansion"`
	Definition *valueset.Definition `json:"definition"`
}

// Expand implements ValueSet $expand.
func (s *Service) Expand(ctx context.Context, req valueset.ExpandRequest) (r *ExpandResult, err error) {
	defer metrics.Observe("expand", time.Now(), &err)
	snap, err := s.snapshots.Current()
	if err != nil {
		return nil, err
	}
	def, err := snap.ValueSets.Get(req.ValueSet)
	if err != nil {
		return nil, err
	}
	raw, _ := json.Marshal(req)
	key := fmt.Sprintf("expand:v%d:%s", snap.Version, raw)
	exp, err := cached(ctx, s, "expand", key, func() (*valueset.Expansion, error) {
		return snap.Expander.Expand(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return &ExpandResult{Expansion: exp, Definition: def}, nil
}

// Search runs a ranked free-text search over one system.
func (s *Service) Search(ctx context.Context, system, filter string, limit, offset int) (r *SearchResult, err error) {
	defer metrics.Observe("search", time.Now(), &err)
	snap, err := s.snapshots.Current()
	if err != nil {
		return nil, err
	}
	page, err := snap.Concepts.Search(system, filter, limit, offset)
	if err != nil {
		return nil, err
	}
	out := &SearchResult{System: system, Filter: filter, Total: page.Total, Concepts: make([]ConceptSummary, len(page.Concepts))}
	for i, c := range page.Concepts {
		out.Concepts[i] = ConceptSummary{Code: c.Code, Display: c.Display, System: c.System, Version: c.Version, Inactive: !c.Active()}
	}
	return out, nil
}

// Stats summarizes the loaded mappings.
func (s *Service) Stats(ctx context.Context) (*conceptmap.Stats, error) {
	snap, err := s.snapshots.Current()
	if err != nil {
		return nil, err
	}
	st := snap.Maps.Stats()
	return &st, nil
}

// Reload loads a fresh snapshot from the configured sources.
func (s *Service) Reload(ctx context.Context) (*Summary, error) {
	snap, err := s.snapshots.Load(ctx)
	if err != nil {
		return nil, err
	}
	sum := snap.Summary()
	return &sum, nil
}

// ClearCache drops every cached result.
func (s *Service) ClearCache(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Clear(ctx)
}

// cached serves op from the result cache when possible. Errors are never
// cached, and cache failures only cost a recomputation.
func cached[T any](ctx context.Context, s *Service, op, key string, compute func() (*T, error)) (*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.cache == nil {
		return compute()
	}
	if raw, err := s.cache.Get(ctx, key); err == nil {
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			metrics.CacheHit(op)
			return &v, nil
		}
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn().Err(err).Str("operation", op).Msg("result cache read failed")
	}
	metrics.CacheMiss(op)

	v, err := compute()
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(v); err == nil {
		if err := s.cache.Set(ctx, key, raw, s.ttl); err != nil {
			s.logger.Warn().Err(err).Str("operation", op).Msg("result cache write failed")
		}
	}
	return v, nil
}
