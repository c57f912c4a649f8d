package catalog

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"mercator-hq/tollgate/pkg/audit"
	"mercator-hq/tollgate/pkg/faults"
	"mercator-hq/tollgate/pkg/telemetry/logging"
)

// ErrNotLoaded is wrapped in the ExternalUnavailable error returned while
// no snapshot has been installed.
var ErrNotLoaded = errors.New("catalog not loaded")

// Snapshot is an immutable view of the catalog. Readers may hold on to it
// while a reload installs a newer one.
type Snapshot struct {
	models   map[string]Model
	ids      []string
	version  int64
	loadedAt time.Time
}

func newSnapshot(models []Model, version int64, at time.Time) *Snapshot {
	s := &Snapshot{
		models:   make(map[string]Model, len(models)),
		ids:      make([]string, 0, len(models)),
		version:  version,
		loadedAt: at,
	}
	for _, m := range models {
		s.models[m.ID] = m.Clone()
		s.ids = append(s.ids, m.ID)
	}
	sort.Strings(s.ids)
	return s
}

// Version increases with every installed snapshot.
func (s *Snapshot) Version() int64 { return s.version }

// LoadedAt is when the snapshot was installed.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Len returns the number of models.
func (s *Snapshot) Len() int { return len(s.ids) }

// Get returns a model by id regardless of status.
func (s *Snapshot) Get(id string) (Model, error) {
	m, ok := s.models[id]
	if !ok {
		return Model{}, faults.NotFound("model", id)
	}
	return m.Clone(), nil
}

// All returns every model ordered by id.
func (s *Snapshot) All() []Model {
	return s.filter(func(Model) bool { return true })
}

// Active returns the models with status active, ordered by id.
func (s *Snapshot) Active() []Model {
	return s.filter(func(m Model) bool { return m.Status == StatusActive })
}

// ByProvider returns the models of a provider ordered by id.
func (s *Snapshot) ByProvider(provider string) []Model {
	return s.filter(func(m Model) bool { return m.Provider == provider })
}

// WithCapabilities returns the models carrying every tag, ordered by id.
func (s *Snapshot) WithCapabilities(tags ...string) []Model {
	return s.filter(func(m Model) bool { return m.HasCapabilities(tags...) })
}

// Chain returns the static fallback chain of a model.
func (s *Snapshot) Chain(id string) ([]string, error) {
	m, ok := s.models[id]
	if !ok {
		return nil, faults.NotFound("model", id)
	}
	return append([]string(nil), m.Fallbacks...), nil
}

func (s *Snapshot) filter(keep func(Model) bool) []Model {
	out := make([]Model, 0, len(s.ids))
	for _, id := range s.ids {
		if m := s.models[id]; keep(m) {
			out = append(out, m.Clone())
		}
	}
	return out
}

// Catalog holds the current snapshot. Reads never block; Replace and
// Reload swap the snapshot atomically and keep the previous one when the
// new model set is invalid.
type Catalog struct {
	path    string
	current atomic.Pointer[Snapshot]
	reload  sync.Mutex
	version int64

	audit  audit.Sink
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithAudit sets the audit sink.
func WithAudit(sink audit.Sink) Option {
	return func(c *Catalog) { c.audit = audit.OrDiscard(sink) }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Catalog) { c.logger = logging.Component(logger, "catalog") }
}

// New creates an empty catalog backed by the file at path. An empty path
// means models are only installed with Replace.
func New(path string, opts ...Option) *Catalog {
	c := &Catalog{
		path:   path,
		audit:  audit.Discard,
		logger: logging.Component(nil, "catalog"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Path returns the backing file path.
func (c *Catalog) Path() string {
	return c.path
}

// Snapshot returns the current snapshot, or an ExternalUnavailable error
// when none is installed.
func (c *Catalog) Snapshot(context.Context) (*Snapshot, error) {
	s := c.current.Load()
	if s == nil {
		return nil, faults.Unavailable("catalog", ErrNotLoaded)
	}
	return s, nil
}

// Replace validates models and installs them as the current snapshot.
func (c *Catalog) Replace(ctx context.Context, models []Model) error {
	if err := Validate(models); err != nil {
		return err
	}

	c.reload.Lock()
	defer c.reload.Unlock()

	c.version++
	snap := newSnapshot(models, c.version, c.now())
	c.current.Store(snap)

	c.logger.InfoContext(ctx, "catalog installed", "models", snap.Len(), "version", snap.version)
	c.audit.Record(ctx, audit.Event{
		Type:      audit.TypeCatalogReloaded,
		Component: "catalog",
		Fields:    map[string]any{"models": snap.Len(), "version": snap.version, "path": c.path},
	})
	return nil
}

// Reload re-reads the backing file. On error the current snapshot stays.
func (c *Catalog) Reload(ctx context.Context) error {
	models, err := LoadFile(c.path)
	if err != nil {
		c.logger.ErrorContext(ctx, "catalog reload failed, keeping previous snapshot", "path", c.path, "error", err)
		return err
	}
	return c.Replace(ctx, models)
}
