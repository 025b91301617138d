package terminology

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ayushbridge/bridge/internal/domain/conceptmap"
	"github.com/ayushbridge/bridge/internal/platform/fhir"
	"github.com/ayushbridge/bridge/internal/platform/metrics"
)

// Manager states reported by State.
const (
	StateEmpty   = "empty"
	StateLoading = "loading"
	StateActive  = "active"
)

// Manager owns the active snapshot. Readers call Current once per operation
// and never block; loads are serialized and replace the snapshot with a
// single atomic store.
type Manager struct {
	current atomic.Pointer[Snapshot]
	loading atomic.Bool

	mu      sync.Mutex
	version int64
	sources []Source
	hooks   []func(*Snapshot)

	opts   conceptmap.Options
	logger zerolog.Logger
}

func NewManager(opts conceptmap.Options, logger zerolog.Logger, sources ...Source) *Manager {
	return &Manager{sources: sources, opts: opts, logger: logger.With().Str("component", "snapshot").Logger()}
}

// OnSwap registers fn to run after every successful swap, on the loading
// goroutine.
func (m *Manager) OnSwap(fn func(*Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, fn)
}

// Current returns the active snapshot, or ErrSnapshotUnavailable before the
// first successful load.
func (m *Manager) Current() (*Snapshot, error) {
	s := m.current.Load()
	if s == nil {
		return nil, fhir.ErrSnapshotUnavailable
	}
	return s, nil
}

func (m *Manager) State() string {
	switch {
	case m.loading.Load():
		return StateLoading
	case m.current.Load() == nil:
		return StateEmpty
	default:
		return StateActive
	}
}

// Sources returns the names of the configured sources.
func (m *Manager) Sources() []string {
	names := make([]string, len(m.sources))
	for i, s := range m.sources {
		names[i] = s.Name()
	}
	return names
}

// Load fetches every source concurrently, builds a new snapshot and swaps it
// in. On any failure the active snapshot is left untouched.
func (m *Manager) Load(ctx context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loading.Store(true)
	defer m.loading.Store(false)

	start := time.Now()
	next := m.version + 1
	m.logger.Info().Int64("version", next).Strs("sources", m.Sources()).Msg("loading terminology snapshot")

	snap, err := m.build(ctx, next)
	if err != nil {
		metrics.SnapshotLoadFailed()
		m.logger.Error().Err(err).Int64("version", next).Msg("snapshot load failed, keeping active snapshot")
		return nil, err
	}

	m.version = next
	m.current.Store(snap)
	metrics.SnapshotSwapped(snap.Version, snap.Concepts.Count(), snap.Maps.Count())
	for _, fn := range m.hooks {
		fn(snap)
	}

	m.logger.Info().
		Int64("version", snap.Version).
		Int("concepts", snap.Concepts.Count()).
		Int("mappings", snap.Maps.Count()).
		Int("value_sets", snap.ValueSets.Count()).
		Dur("took", time.Since(start)).
		Msg("terminology snapshot active")
	return snap, nil
}

func (m *Manager) build(ctx context.Context, version int64) (*Snapshot, error) {
	if len(m.sources) == 0 {
		return nil, fmt.Errorf("no terminology sources configured")
	}
	bundles := make([]*Bundle, len(m.sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range m.sources {
		i, src := i, src
		g.Go(func() error {
			b, err := src.Fetch(gctx)
			if err != nil {
				return fmt.Errorf("source %s: %w", src.Name(), err)
			}
			bundles[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Merge in configuration order so later sources declare later versions.
	merged := &Bundle{}
	for _, b := range bundles {
		merged.Merge(b)
	}
	if merged.Empty() {
		return nil, fmt.Errorf("terminology sources returned no content")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snap, err := Build(version, merged, m.opts)
	if err != nil {
		return nil, fmt.Errorf("build snapshot: %w", err)
	}
	snap.Sources = m.Sources()
	return snap, nil
}

// Run reloads on every tick until ctx is cancelled. Failed reloads are
// logged and the previous snapshot keeps serving.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = m.Load(ctx)
		}
	}
}
