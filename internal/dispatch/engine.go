package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sudosu4pp/multi-chain-zk-back/internal/events"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/log"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/op"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/plugin"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/queue"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/tag"
)

var (
	// ErrInvalidOp is returned for operations that fail validation.
	ErrInvalidOp = errors.New("invalid operation")
	// ErrNotReplaceable is returned when replacing an executing or settled entry.
	ErrNotReplaceable = errors.New("operation cannot be replaced in its current state")
	// ErrUnknownPlugin is returned when deregistering a plugin that is not registered.
	ErrUnknownPlugin = errors.New("plugin not registered")
)

// Options tune the engine. Zero values take the defaults below.
type Options struct {
	BatchSize         int
	CallTimeout       time.Duration
	MaxConcurrentExec int
	TickInterval      time.Duration
	// Retention is how long settled entries are kept before Prune removes them.
	Retention      time.Duration
	Breaker        BreakerConfig
	PluginBreakers map[string]BreakerConfig
	Now            func() time.Time
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 64
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 30 * time.Second
	}
	if o.MaxConcurrentExec <= 0 {
		o.MaxConcurrentExec = 8
	}
	if o.TickInterval <= 0 {
		o.TickInterval = time.Second
	}
	if o.Retention <= 0 {
		o.Retention = 24 * time.Hour
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// TickStats summarizes one tick.
type TickStats struct {
	Tick       uint64 `json:"tick"`
	Released   int    `json:"released"`
	Filtered   int    `json:"filtered"`
	Processed  int    `json:"processed"`
	Expanded   int    `json:"expanded"`
	Executed   int    `json:"executed"`
	Violations int    `json:"violations"`
}

// Engine owns the queue lifecycle. Ticks are serialized.
type Engine struct {
	store    queue.Store
	registry *plugin.Registry
	tags     *tag.Manager
	exec     Executor
	conds    ConditionChecker
	events   events.Publisher
	opts     Options
	breakers *breakers
	logger   *slog.Logger

	tickMu   sync.Mutex
	ticks    atomic.Uint64
	lastTick atomic.Int64

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(store queue.Store, registry *plugin.Registry, tags *tag.Manager, exec Executor, conds ConditionChecker, pub events.Publisher, opts Options) *Engine {
	opts = opts.withDefaults()
	if pub == nil {
		pub = events.Discard{}
	}
	return &Engine{
		store:    store,
		registry: registry,
		tags:     tags,
		exec:     exec,
		conds:    conds,
		events:   pub,
		opts:     opts,
		breakers: newBreakers(opts.Breaker, opts.PluginBreakers),
		logger:   log.WithComponent("dispatch"),
		stopCh:   make(chan struct{}),
	}
}

// Start recovers state left by a previous run and begins ticking.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.Recover(ctx); err != nil {
		return fmt.Errorf("recover: %w", err)
	}

	e.wg.Add(1)
	go e.tickLoop(ctx)

	e.logger.Info("dispatch engine started", "tick_interval", e.opts.TickInterval.String(), "plugins", e.registry.Len())
	return nil
}

// Stop ends the tick loop and waits for an in-flight tick to finish.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
	e.logger.Info("dispatch engine stopped")
}

func (e *Engine) tickLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			if _, err := e.Tick(ctx); err != nil && ctx.Err() == nil {
				e.logger.Error("tick failed", "error", err)
			}
		}
	}
}

// Tick runs one full dispatch round.
func (e *Engine) Tick(ctx context.Context) (TickStats, error) {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	stats := TickStats{Tick: e.ticks.Add(1)}
	logger := log.WithTick(stats.Tick).With("component", "dispatch")

	var err error
	if stats.Released, err = e.gate(ctx, logger); err != nil {
		return stats, fmt.Errorf("gate: %w", err)
	}
	if stats.Filtered, stats.Violations, err = e.filter(ctx, logger); err != nil {
		return stats, fmt.Errorf("filter: %w", err)
	}
	processed, violations, err := e.process(ctx, logger)
	stats.Processed = processed
	stats.Violations += violations
	if err != nil {
		return stats, fmt.Errorf("process: %w", err)
	}
	if stats.Expanded, stats.Executed, err = e.execute(ctx, logger); err != nil {
		return stats, fmt.Errorf("execute: %w", err)
	}

	e.lastTick.Store(e.now().UnixNano())
	if stats.Filtered+stats.Processed+stats.Expanded+stats.Executed+stats.Released > 0 {
		logger.Debug("tick complete",
			"released", stats.Released, "filtered", stats.Filtered, "processed", stats.Processed,
			"expanded", stats.Expanded, "executed", stats.Executed)
	}
	e.events.Publish(events.TypeDispatchTick, stats)
	return stats, nil
}

// Recover repairs state after an unclean stop: tag bindings are reloaded,
// interrupted plugin calls are re-claimed, interrupted submissions fail, and
// composites left mid-expansion are reconciled with their children.
func (e *Engine) Recover(ctx context.Context) error {
	tagged, err := e.store.ListTagged(ctx)
	if err != nil {
		return fmt.Errorf("list tagged: %w", err)
	}
	bindings := make([]tag.Binding, 0, len(tagged))
	for _, ent := range tagged {
		t, err := tag.Parse(ent.Tag)
		if err != nil {
			e.logger.Warn("dropping unparseable tag", "op_id", string(ent.ID), "tag", ent.Tag, "error", err)
			continue
		}
		bindings = append(bindings, tag.Binding{Tag: t, ID: ent.ID})
	}
	if err := e.tags.Restore(bindings); err != nil {
		return fmt.Errorf("restore tags: %w", err)
	}

	processing, err := e.store.ListByState(ctx, queue.StateProcessing, time.Time{}, 0)
	if err != nil {
		return fmt.Errorf("list processing: %w", err)
	}
	for _, ent := range processing {
		if _, err := e.transition(ctx, ent, func(n *queue.Entry) { n.State = queue.StateClaimed }); err != nil && !isStale(err) {
			return err
		}
	}

	executing, err := e.store.ListByState(ctx, queue.StateExecuting, time.Time{}, 0)
	if err != nil {
		return fmt.Errorf("list executing: %w", err)
	}
	for _, ent := range executing {
		if err := e.fail(ctx, ent, queue.FailInterrupted, "engine stopped during submission"); err != nil {
			return err
		}
	}

	waiting, err := e.store.ListByState(ctx, queue.StateWaiting, time.Time{}, 0)
	if err != nil {
		return fmt.Errorf("list waiting: %w", err)
	}
	for _, ent := range waiting {
		if err := e.reconcile(ctx, ent); err != nil {
			return err
		}
	}

	if n := len(bindings) + len(processing) + len(executing); n > 0 {
		e.logger.Info("recovered state", "tags", len(bindings), "reclaimed", len(processing), "interrupted", len(executing), "waiting", len(waiting))
	}
	return nil
}

// Enqueue admits a producer operation as a fresh root entry.
func (e *Engine) Enqueue(ctx context.Context, o op.Op) (*queue.Entry, error) {
	if err := o.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOp, err)
	}
	ent, _, err := e.store.Insert(ctx, &queue.Entry{ID: op.NewID(), Op: o})
	if err != nil {
		return nil, err
	}
	e.logger.Info("operation enqueued", "op_id", string(ent.ID), "op", o.String())
	e.events.Publish(events.TypeOpEnqueued, opEvent{ID: ent.ID, Revision: ent.Revision, Op: o.String()})
	return ent, nil
}

// Replace rewrites an entry that has not started executing or expanding, at
// revision expected, and sends it back through the filter phase. It runs
// between ticks so no phase can claim the entry before its old binding is
// dropped.
func (e *Engine) Replace(ctx context.Context, id op.ID, o op.Op, expected uint64) (*queue.Entry, error) {
	if err := o.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOp, err)
	}
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	cur, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !replaceable(cur.State) {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotReplaceable, id, cur.State)
	}
	if cur.Revision != expected {
		return nil, fmt.Errorf("%w: %s at %d, expected %d", op.ErrStaleRevision, id, cur.Revision, expected)
	}

	saved, err := e.store.CompareAndSwap(ctx, resetEntry(cur, o), expected)
	if err != nil {
		return nil, err
	}
	e.tags.ReleaseOp(id)

	e.logger.Info("operation replaced", "op_id", string(id), "revision", saved.Revision, "op", o.String())
	e.events.Publish(events.TypeOpReplaced, opEvent{ID: id, Revision: saved.Revision, Op: o.String()})
	return saved, nil
}

// Deregister removes a plugin between ticks and returns the operations it
// held to fresh so the remaining plugins can filter them. It reports how many
// were released.
func (e *Engine) Deregister(ctx context.Context, name string) (int, error) {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	if !e.registry.Remove(name) {
		return 0, fmt.Errorf("%w: %s", ErrUnknownPlugin, name)
	}
	tagged, err := e.store.ListTagged(ctx)
	if err != nil {
		return 0, fmt.Errorf("list tagged: %w", err)
	}
	released := 0
	for _, ent := range tagged {
		if ent.State != queue.StateClaimed && ent.State != queue.StateProcessing {
			continue
		}
		if owner, err := e.tags.OwnerOf(ent.Tag); err != nil || owner != name {
			continue
		}
		if err := e.unclaim(ctx, ent, queue.StateFresh); err != nil {
			return released, err
		}
		released++
	}

	e.logger.Info("plugin deregistered", "plugin", name, "released", released)
	e.events.Publish(events.TypePluginRemoved, pluginEvent{Plugin: name})
	return released, nil
}

// replaceable excludes states that own children or an in-flight submission.
func replaceable(s queue.State) bool {
	switch s {
	case queue.StateFresh, queue.StateClaimed, queue.StateProcessing, queue.StateReady, queue.StateDeferred:
		return true
	default:
		return false
	}
}

func (e *Engine) Get(ctx context.Context, id op.ID) (*queue.Entry, error) {
	return e.store.Get(ctx, id)
}

func (e *Engine) Children(ctx context.Context, id op.ID) ([]*queue.Entry, error) {
	return e.store.Children(ctx, id)
}

func (e *Engine) Depth(ctx context.Context) (map[queue.State]int, error) {
	return e.store.Depth(ctx)
}

// Prune removes settled entries older than the retention window.
func (e *Engine) Prune(ctx context.Context) (int, error) {
	n, err := e.store.PruneTerminal(ctx, e.now().Add(-e.opts.Retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.logger.Info("pruned settled entries", "count", n)
	}
	return n, nil
}

// Health is a point-in-time view for /healthz.
type Health struct {
	Ticks       uint64               `json:"ticks"`
	LastTick    time.Time            `json:"last_tick,omitempty"`
	Plugins     int                  `json:"plugins"`
	Tags        int                  `json:"tags"`
	Quarantined map[string]time.Time `json:"quarantined,omitempty"`
}

func (e *Engine) Health() Health {
	h := Health{
		Ticks:       e.ticks.Load(),
		Plugins:     e.registry.Len(),
		Tags:        e.tags.Len(),
		Quarantined: e.breakers.Quarantined(e.now()),
	}
	if ns := e.lastTick.Load(); ns != 0 {
		h.LastTick = time.Unix(0, ns).UTC()
	}
	return h
}

func (e *Engine) now() time.Time {
	return e.opts.Now().UTC()
}

type opEvent struct {
	ID       op.ID          `json:"op_id"`
	Revision uint64         `json:"revision,omitempty"`
	Op       string         `json:"op,omitempty"`
	State    queue.State    `json:"state,omitempty"`
	FailKind queue.FailKind `json:"fail_kind,omitempty"`
	Error    string         `json:"error,omitempty"`
}

type pluginEvent struct {
	Plugin string    `json:"plugin"`
	Error  string    `json:"error,omitempty"`
	Until  time.Time `json:"until,omitempty"`
}

// transition applies mutate to a copy of cur and swaps it in at cur's revision.
func (e *Engine) transition(ctx context.Context, cur *queue.Entry, mutate func(*queue.Entry)) (*queue.Entry, error) {
	next := cur.Clone()
	mutate(next)
	return e.store.CompareAndSwap(ctx, next, cur.Revision)
}

func isStale(err error) bool {
	return errors.Is(err, op.ErrStaleRevision)
}

// resetEntry returns cur rewritten to o and sent back to fresh.
func resetEntry(cur *queue.Entry, o op.Op) *queue.Entry {
	next := cur.Clone()
	next.Op = o
	next.State = queue.StateFresh
	next.Tag = ""
	next.FailKind = ""
	next.LastError = ""
	return next
}
