package guard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// EngineConfig holds the decision policy and pool sizing.
type EngineConfig struct {
	Workers              int
	QueueCapacity        int
	DedupWindow          time.Duration
	FailClosed           bool
	AllowConfirmedDelete bool
	// DefaultMode applies to operations submitted without a mode.
	DefaultMode InterceptionMode
}

// DefaultEngineConfig returns the shipped policy: fail closed, 2s dedup window.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Workers:              4,
		QueueCapacity:        256,
		DedupWindow:          2 * time.Second,
		FailClosed:           true,
		AllowConfirmedDelete: true,
		DefaultMode:          ModePreventable,
	}
}

// EngineOptions wires an Engine.
type EngineOptions struct {
	Config   EngineConfig
	Registry *Registry
	Switch   *Switch
	Store    *BackupStore
	Activity *ActivityLog
	FS       Filesystem
	Health   *Health
	Clock    Clock
	IDs      IDGenerator
	Logger   Logger
	Metrics  Metrics
}

type job struct {
	op   Operation
	done chan Decision
}

// Engine decides the fate of every Operation. Operations enter a bounded
// queue and are resolved by a fixed pool of workers; operations touching the
// same canonical path are serialized.
type Engine struct {
	cfg      EngineConfig
	registry *Registry
	toggle   *Switch
	store    *BackupStore
	activity *ActivityLog
	fsys     Filesystem
	health   *Health
	clock    Clock
	ids      IDGenerator
	logger   Logger
	metrics  Metrics

	locks *pathLocks
	dedup *dedupWindow

	queue   chan *job
	dropped atomic.Int64

	mu      sync.RWMutex
	closed  bool
	started bool
	runCtx  context.Context
	wg      sync.WaitGroup
}

// NewEngine creates an engine. Call Start before submitting operations.
func NewEngine(opts EngineOptions) *Engine {
	cfg := opts.Config
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 1
	}
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = ModePreventable
	}
	e := &Engine{
		cfg:      cfg,
		registry: opts.Registry,
		toggle:   opts.Switch,
		store:    opts.Store,
		activity: opts.Activity,
		fsys:     opts.FS,
		health:   opts.Health,
		clock:    opts.Clock,
		ids:      opts.IDs,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		locks:    newPathLocks(),
		queue:    make(chan *job, cfg.QueueCapacity),
	}
	if opts.Store != nil {
		e.locks = opts.Store.paths
	}
	if e.clock == nil {
		e.clock = RealClock{}
	}
	if e.ids == nil {
		e.ids = UUIDGenerator{}
	}
	if e.logger == nil {
		e.logger = NewNopLogger()
	}
	if e.metrics == nil {
		e.metrics = NopMetrics{}
	}
	e.dedup = newDedupWindow(cfg.DedupWindow, e.clock)
	return e
}

// Start launches the worker pool. Backups and records run under ctx.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started || e.closed {
		return
	}
	e.started = true
	e.runCtx = ctx
	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	e.logger.Info("engine started", "workers", e.cfg.Workers, "queue", e.cfg.QueueCapacity)
}

// Stop refuses new operations, drains the queue and waits for workers.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()
	e.wg.Wait()
	e.logger.Info("engine stopped")
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for j := range e.queue {
		e.metrics.SetQueueDepth(len(e.queue))
		d := e.process(e.runCtx, j.op)
		if j.done != nil {
			j.done <- d
		}
	}
}

// QueueDepth returns the number of operations waiting for a worker.
func (e *Engine) QueueDepth() int {
	return len(e.queue)
}

// Dropped returns how many advisory operations were dropped on overflow.
func (e *Engine) Dropped() int64 {
	return e.dropped.Load()
}

// Submit queues op and waits for its decision. A Preventable operation
// that finds the queue full is denied immediately.
func (e *Engine) Submit(ctx context.Context, op Operation) (Decision, error) {
	op, err := e.receive(op)
	if err != nil {
		return Decision{}, err
	}

	j := &job{op: op, done: make(chan Decision, 1)}
	queued, err := e.enqueue(j)
	if err != nil {
		return Decision{}, err
	}
	if !queued {
		if op.Mode == ModePreventable {
			return e.overflow(ctx, op), nil
		}
		e.drop(op)
		return Decision{}, ErrQueueOverflow
	}

	select {
	case d := <-j.done:
		return d, nil
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	}
}

// Enqueue queues op without waiting. Advisory sources use it so their
// delivery loop never blocks on the engine.
func (e *Engine) Enqueue(op Operation) error {
	op, err := e.receive(op)
	if err != nil {
		return err
	}
	queued, err := e.enqueue(&job{op: op})
	if err != nil {
		return err
	}
	if !queued {
		if op.Mode == ModePreventable {
			e.overflow(context.Background(), op)
			return ErrQueueOverflow
		}
		e.drop(op)
		return ErrQueueOverflow
	}
	return nil
}

func (e *Engine) enqueue(j *job) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed || !e.started {
		return false, ErrEngineStopped
	}
	select {
	case e.queue <- j:
		e.metrics.SetQueueDepth(len(e.queue))
		return true, nil
	default:
		return false, nil
	}
}

func (e *Engine) drop(op Operation) {
	e.dropped.Add(1)
	e.metrics.IncDropped()
	e.logger.Warn("queue full, advisory operation dropped", "kind", op.Kind, "path", op.SourcePath)
}

// receive validates and normalizes op into the Received state.
func (e *Engine) receive(op Operation) (Operation, error) {
	if !op.Kind.Valid() {
		return op, fmt.Errorf("%w: kind %q", ErrUnsupportedOperation, op.Kind)
	}
	if op.Mode == "" {
		op.Mode = e.cfg.DefaultMode
	}
	if op.Mode != ModePreventable && op.Mode != ModeAdvisory {
		return op, fmt.Errorf("%w: mode %q", ErrUnsupportedOperation, op.Mode)
	}
	if strings.TrimSpace(op.SourcePath) == "" {
		return op, fmt.Errorf("%w: source path required", ErrUnsupportedOperation)
	}
	if op.Kind == KindDelete {
		op.DestPath = ""
	} else if op.DestPath == "" && op.Mode == ModePreventable {
		return op, fmt.Errorf("%w: %s requires a destination", ErrUnsupportedOperation, op.Kind)
	}

	src, err := e.fsys.Canonicalize(op.SourcePath)
	if err != nil {
		return op, fmt.Errorf("canonicalizing source: %w", err)
	}
	op.SourcePath = src
	if op.DestPath != "" {
		dst, err := e.fsys.Canonicalize(op.DestPath)
		if err != nil {
			return op, fmt.Errorf("canonicalizing destination: %w", err)
		}
		op.DestPath = dst
	}
	if op.ID == "" {
		op.ID = e.ids.New()
	}
	if op.ObservedAt.IsZero() {
		op.ObservedAt = e.clock.Now().UTC()
	}
	op.Resolution = ""
	return op, nil
}

// overflow resolves a Preventable operation that could not be queued.
func (e *Engine) overflow(ctx context.Context, op Operation) Decision {
	e.logger.Warn("queue full, denying operation", "kind", op.Kind, "path", op.SourcePath)
	return e.record(ctx, &op, ResolutionBlockedNoBackup, nil, ErrQueueOverflow.Error())
}

// process walks one operation from Received to a terminal state. It never
// panics past its boundary and always records a resolution for new
// operations.
func (e *Engine) process(ctx context.Context, op Operation) (d Decision) {
	unlock := e.locks.lock(op.SourcePath, op.DestPath)
	defer unlock()

	t := newOpTracker(&op)
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("operation failed", "operation", op.ID, "panic", fmt.Sprint(r))
			res := ResolutionBlockedNoBackup
			if op.Mode == ModeAdvisory {
				res = ResolutionRestoreFailed
			}
			d = e.record(ctx, &op, res, nil, fmt.Sprintf("internal error: %v", r))
		}
	}()

	// The toggle is read once; later writes do not affect this operation.
	toggle := e.toggle.Current()
	e.advance(t, stateEvaluated)

	entry := e.registry.IsProtected(op.SourcePath)
	var reason string
	switch {
	case !toggle.Enabled:
		reason = "protection disabled"
	case entry == nil:
		reason = ""
	case op.DestPath != "" && e.staysInScope(op):
		reason = "destination within protected scope"
		entry = nil
	}
	protected := toggle.Enabled && entry != nil

	if op.Mode == ModeAdvisory {
		if prev, ok := e.dedup.settledBy(op.SourcePath); ok {
			prev.Duplicate = true
			e.logger.Debug("event follows a confirmed operation", "kind", op.Kind, "path", op.SourcePath, "operation", prev.OperationID)
			return prev
		}
	}

	// Advisory events arrive after the item is gone, so only Preventable
	// keys carry content.
	key := dedupKey{path: op.SourcePath, kind: op.Kind, protected: protected}
	if protected && op.Mode == ModePreventable {
		key.hash = e.contentHash(op.SourcePath)
	}
	if prev, ok := e.dedup.lookup(key); ok && e.stillApplies(op, prev) {
		prev.Duplicate = true
		e.logger.Debug("duplicate event suppressed", "kind", op.Kind, "path", op.SourcePath, "operation", prev.OperationID)
		return prev
	}

	switch {
	case !protected:
		e.advance(t, stateAllowed)
		d = e.record(ctx, &op, ResolutionAllowed, nil, reason)
	case op.Mode == ModePreventable:
		d = e.backUp(ctx, t)
	default:
		d = e.restore(ctx, t)
	}

	if !terminal(t.state) {
		e.logger.Error("operation ended in non-terminal state", "operation", op.ID, "state", t.state)
	}
	e.dedup.remember(key, d)
	return d
}

// stillApplies reports whether an earlier decision still describes the
// filesystem. An automatic restore that has since been undone is a new
// deletion, not a redelivery.
func (e *Engine) stillApplies(op Operation, prev Decision) bool {
	if op.Mode != ModeAdvisory || prev.Resolution != ResolutionRestoredAutomatically {
		return true
	}
	_, err := e.fsys.Lstat(op.SourcePath)
	return err == nil
}

func (e *Engine) advance(t *opTracker, next opState) {
	if err := t.to(next); err != nil {
		panic(err)
	}
}

// staysInScope reports whether a move keeps the item inside a protected
// scope that also covers its source.
func (e *Engine) staysInScope(op Operation) bool {
	for _, s := range e.registry.Scopes(op.SourcePath) {
		if s.Covers(op.DestPath) {
			return true
		}
	}
	return false
}

// contentHash returns the SHA-256 of a regular file, or "" when unavailable.
func (e *Engine) contentHash(path string) string {
	info, err := e.fsys.Lstat(path)
	if err != nil || !info.Mode().IsRegular() {
		return ""
	}
	f, err := e.fsys.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return ""
	}
	return hex.EncodeToString(h.Sum(nil))
}

// backUp handles a protected Preventable operation: the item is snapshotted
// and the operation denied. The backup completes before the decision is
// returned to the hook.
func (e *Engine) backUp(ctx context.Context, t *opTracker) Decision {
	op := t.op

	info, err := e.fsys.Lstat(op.SourcePath)
	if errors.Is(err, fs.ErrNotExist) {
		e.advance(t, stateAllowed)
		return e.record(ctx, op, ResolutionAllowed, nil, "source does not exist")
	}

	e.advance(t, stateBackingUp)
	var snaps []Snapshot
	switch {
	case err != nil:
		err = fmt.Errorf("%w: stat %s: %w", ErrBackupWriteFailed, op.SourcePath, err)
	case info.IsDir():
		snaps, err = e.store.PutTree(ctx, op.SourcePath, op.ID)
	default:
		var snap *Snapshot
		snap, err = e.store.Put(ctx, op.SourcePath, op.ID)
		if snap != nil {
			snaps = []Snapshot{*snap}
		}
	}

	if err == nil {
		e.advance(t, stateBlocked)
		return e.record(ctx, op, ResolutionBlockedAndBackedUp, snaps, "")
	}

	e.advance(t, stateBackupFailed)
	e.logger.Error("backup failed", "operation", op.ID, "path", op.SourcePath, "error", err)
	if e.health != nil {
		e.health.Check(context.WithoutCancel(ctx))
	}

	if e.cfg.FailClosed {
		e.advance(t, stateBlockedUnprotected)
		return e.record(ctx, op, ResolutionBlockedNoBackup, nil, err.Error())
	}
	e.logger.Warn("allowing operation without backup", "operation", op.ID, "path", op.SourcePath)
	e.advance(t, stateAllowed)
	return e.record(ctx, op, ResolutionAllowedUnprotected, nil, err.Error())
}

// restore handles a protected AdvisoryOnly operation: the action already
// happened, so the newest snapshots are written back.
func (e *Engine) restore(ctx context.Context, t *opTracker) Decision {
	op := t.op
	e.advance(t, stateRestoring)

	snaps, err := e.store.LatestWithin(ctx, op.SourcePath)
	if err != nil {
		e.advance(t, stateRestoreFailed)
		return e.record(ctx, op, ResolutionRestoreFailed, nil, err.Error())
	}
	if len(snaps) == 0 {
		e.advance(t, stateAllowed)
		return e.record(ctx, op, ResolutionAllowedNoPriorBackup, nil, "")
	}

	var restored []Snapshot
	var errs []error
	conflicts := 0
	for i := range snaps {
		snap := &snaps[i]
		err := e.store.restoreSnapshot(ctx, snap, snap.SourcePath, false)
		switch {
		case err == nil:
			restored = append(restored, *snap)
		case errors.Is(err, ErrTargetConflict):
			conflicts++
		default:
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 && len(restored) == 0 {
		e.advance(t, stateRestoreFailed)
		return e.record(ctx, op, ResolutionRestoreFailed, nil, errors.Join(errs...).Error())
	}

	var detail string
	switch {
	case len(errs) > 0:
		detail = fmt.Sprintf("%d of %d files restored: %v", len(restored), len(snaps), errors.Join(errs...))
	case len(restored) == 0 && conflicts > 0:
		detail = "content already present"
	}
	e.advance(t, stateRestored)
	return e.record(ctx, op, ResolutionRestoredAutomatically, restored, detail)
}

// record sets the operation's resolution and appends its activity record.
func (e *Engine) record(ctx context.Context, op *Operation, r Resolution, snaps []Snapshot, detail string) Decision {
	op.Resolution = r
	ids := make([]string, 0, len(snaps))
	for _, s := range snaps {
		ids = append(ids, s.ID)
	}

	rec := ActivityRecord{
		OperationID:   op.ID,
		Kind:          op.Kind,
		Path:          op.SourcePath,
		DestPath:      op.DestPath,
		Actor:         op.Actor,
		Mode:          op.Mode,
		Resolution:    r,
		SnapshotCount: len(snaps),
		Detail:        detail,
		Timestamp:     e.clock.Now().UTC(),
	}
	if len(snaps) == 1 {
		rec.SnapshotID = snaps[0].ID
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := e.activity.Record(context.WithoutCancel(ctx), rec); err != nil {
		e.logger.Error("recording outcome failed", "operation", op.ID, "error", err)
		if e.health != nil {
			e.health.Check(context.WithoutCancel(ctx))
		}
	}

	return Decision{
		OperationID: op.ID,
		Allow:       !r.Blocked(),
		Resolution:  r,
		SnapshotIDs: ids,
		Detail:      detail,
	}
}
