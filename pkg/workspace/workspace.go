// Package workspace is the public facade of pocketdb: an in-process object
// store with typed CRUD and query helpers whose whole content is persisted
// as one snapshot blob on commit and restored on open.
//
// A Workspace is safe for concurrent use. Mutations take an exclusive lock,
// queries and snapshot encoding share a read lock. Callers must not call
// back into the workspace from predicates or selectors.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"pocketdb/internal/config"
	"pocketdb/internal/merge"
	"pocketdb/internal/metrics"
	"pocketdb/internal/schema"
	"pocketdb/internal/snapshot"
	"pocketdb/internal/storage"
	"pocketdb/internal/typestore"
)

var (
	// ErrNotUnique is returned by Single when more than one entity matches.
	ErrNotUnique = errors.New("workspace: more than one entity matches")
	// ErrClosed is returned by mutations and commits after Close.
	ErrClosed = errors.New("workspace: closed")
)

// Workspace owns one type store and the sink it is persisted to.
type Workspace struct {
	mu       sync.RWMutex
	store    *typestore.Store
	registry *schema.Registry
	merger   *merge.Merger
	sink     snapshot.Sink

	log     *zap.Logger
	metrics *metrics.Recorder
	async   bool
	strict  bool

	// commitMu serializes sink writes; token identifies the latest dispatched
	// async commit. dispatchMu orders async dispatch against Close.
	commitMu   sync.Mutex
	dispatchMu sync.Mutex
	token      atomic.Uint64
	pending    sync.WaitGroup
	errMu      sync.Mutex
	asyncErr   error

	closed atomic.Bool
}

type options struct {
	log      *zap.Logger
	registry *schema.Registry
	metrics  *metrics.Recorder
	types    []namedType
	async    bool
	strict   bool
}

type namedType struct {
	sample any
	name   string
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the structured logger; the default discards output.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithRegistry shares a schema registry between workspaces.
func WithRegistry(r *schema.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithTypes registers entity types up front so their tables are decoded on
// open. Each sample is a pointer to a zero value, e.g. (*Order)(nil).
func WithTypes(samples ...any) Option {
	return func(o *options) {
		for _, s := range samples {
			o.types = append(o.types, namedType{sample: s})
		}
	}
}

// WithNamedType registers sample under an explicit type name. The name keys
// the table in the snapshot and drives the {Name}ID foreign-key convention.
func WithNamedType(sample any, name string) Option {
	return func(o *options) { o.types = append(o.types, namedType{sample: sample, name: name}) }
}

// WithAsyncCommit makes CommitChanges dispatch background writes that
// coalesce: only the latest dispatched commit writes.
func WithAsyncCommit(enabled bool) Option {
	return func(o *options) { o.async = enabled }
}

// WithStrictReload makes ReloadAll return unreadable or corrupt snapshots as
// errors instead of falling back to an empty store.
func WithStrictReload() Option {
	return func(o *options) { o.strict = true }
}

// WithMetrics uses rec instead of a private recorder.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(o *options) { o.metrics = rec }
}

// Open creates a workspace persisted to sink and loads the current snapshot.
func Open(ctx context.Context, sink snapshot.Sink, opts ...Option) (*Workspace, error) {
	if sink == nil {
		return nil, errors.New("workspace: nil sink")
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = zap.NewNop()
	}
	if o.registry == nil {
		o.registry = schema.NewRegistry()
	}
	if o.metrics == nil {
		o.metrics = metrics.New()
	}
	for _, t := range o.types {
		var ropts []schema.Option
		if t.name != "" {
			ropts = append(ropts, schema.WithName(t.name))
		}
		if _, err := o.registry.Register(t.sample, ropts...); err != nil {
			return nil, fmt.Errorf("workspace: register %T: %w", t.sample, err)
		}
	}
	w := &Workspace{
		store:    typestore.New(o.registry, typestore.WithLogger(o.log)),
		registry: o.registry,
		merger:   merge.New(o.registry),
		sink:     sink,
		log:      o.log,
		metrics:  o.metrics,
		async:    o.async,
		strict:   o.strict,
	}
	if err := w.ReloadAll(ctx); err != nil {
		return nil, err
	}
	w.log.Info("workspace opened",
		zap.String("driver", string(sink.Driver())),
		zap.Bool("async_commit", w.async),
		zap.Strings("types", w.store.TypeNames()))
	return w, nil
}

// OpenConfig opens the sink described by cfg and a workspace on top of it.
// Commit mode and reload strictness follow cfg unless opts override them.
func OpenConfig(ctx context.Context, cfg config.Config, opts ...Option) (*Workspace, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	sink, err := storage.OpenSink(ctx, cfg, o.log)
	if err != nil {
		return nil, err
	}
	base := []Option{WithAsyncCommit(cfg.AsyncCommit)}
	if cfg.StrictReload {
		base = append(base, WithStrictReload())
	}
	w, err := Open(ctx, sink, append(base, opts...)...)
	if err != nil {
		if c, ok := sink.(io.Closer); ok {
			_ = c.Close()
		}
		return nil, err
	}
	return w, nil
}

// Register adds the type of sample to the schema registry and decodes any
// rows of that type held from the last reload.
func (w *Workspace) Register(sample any, opts ...schema.Option) error {
	ti, err := w.registry.Register(sample, opts...)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.store.Collection(ti)
	return nil
}

// Registry returns the schema registry.
func (w *Workspace) Registry() *schema.Registry { return w.registry }

// Metrics returns the recorder receiving commit and reload events.
func (w *Workspace) Metrics() *metrics.Recorder { return w.metrics }

// Driver reports the backing sink implementation.
func (w *Workspace) Driver() snapshot.Driver { return w.sink.Driver() }

// TypeNames lists the types holding at least one row.
func (w *Workspace) TypeNames() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.store.TypeNames()
}

// Snapshot returns the current content in its persisted shape, including
// tables of types this process never registered.
func (w *Workspace) Snapshot() (snapshot.Snapshot, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.store.Export()
}

// FixIdentities re-runs cascade wiring over every stored root and indexes
// children that were attached without going through Add.
func (w *Workspace) FixIdentities() error {
	if w.closed.Load() {
		return ErrClosed
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.store.FixIdentities()
	var roots []any
	for _, name := range w.store.TypeNames() {
		for v := range w.store.Items(name) {
			roots = append(roots, v)
		}
	}
	for _, root := range roots {
		if err := w.indexChildrenLocked(root); err != nil {
			return err
		}
	}
	return nil
}

// Close waits for dispatched commits and releases the sink.
func (w *Workspace) Close() error {
	w.dispatchMu.Lock()
	already := w.closed.Swap(true)
	w.dispatchMu.Unlock()
	if already {
		return nil
	}
	err := w.Flush(context.Background())
	if c, ok := w.sink.(io.Closer); ok {
		err = errors.Join(err, c.Close())
	}
	w.log.Debug("workspace closed", zap.Error(err))
	return err
}
