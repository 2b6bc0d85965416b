// Package watch turns native filesystem notifications and guarded calls into
// guard.Operations.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"foldguard/internal/guard"
)

// DefaultPairWindow is how long a rename waits for the matching create
// before it is reported as a move out of the watched tree.
const DefaultPairWindow = 250 * time.Millisecond

// Sink accepts operations without blocking.
type Sink interface {
	Enqueue(op guard.Operation) error
}

// Scopes is the registry view the source needs.
type Scopes interface {
	List() []guard.ProtectedPath
	Governs(path string) bool
}

// Ignorer reports paths that never produce events.
type Ignorer interface {
	Ignored(path string) bool
}

// Options configures a Source.
type Options struct {
	Sink       Sink
	Scopes     Scopes
	Ignore     Ignorer
	PairWindow time.Duration
	Clock      guard.Clock
	Logger     guard.Logger
}

type pendingRename struct {
	path     string
	deadline time.Time
}

// Source is the AdvisoryOnly event source. It watches every protected path
// with fsnotify and reports deletes, renames and moves after they happened.
type Source struct {
	sink   Sink
	scopes Scopes
	ignore Ignorer
	window time.Duration
	clock  guard.Clock
	logger guard.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	watched map[string]struct{}
	pending []pendingRename

	done chan struct{}
	wg   sync.WaitGroup
}

// NewSource creates a Source. Call Start to begin watching.
func NewSource(opts Options) *Source {
	s := &Source{
		sink:    opts.Sink,
		scopes:  opts.Scopes,
		ignore:  opts.Ignore,
		window:  opts.PairWindow,
		clock:   opts.Clock,
		logger:  opts.Logger,
		watched: make(map[string]struct{}),
	}
	if s.window <= 0 {
		s.window = DefaultPairWindow
	}
	if s.clock == nil {
		s.clock = guard.RealClock{}
	}
	if s.logger == nil {
		s.logger = guard.NewNopLogger()
	}
	return s
}

// Capabilities reports that the source sees every kind but only after the
// fact.
func (s *Source) Capabilities() guard.Capabilities {
	return guard.Capabilities{
		Preventable: false,
		Kinds:       []guard.OperationKind{guard.KindDelete, guard.KindMoveOut, guard.KindRename},
	}
}

// Start creates the watcher, registers the current protected paths and
// runs the delivery loop until ctx is done or Close is called.
func (s *Source) Start(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.watcher = w
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.Sync()

	s.wg.Add(1)
	go s.loop(ctx)
	return nil
}

// Close stops the loop and releases the watcher.
func (s *Source) Close() error {
	s.mu.Lock()
	w := s.watcher
	done := s.done
	s.watcher = nil
	s.mu.Unlock()
	if w == nil {
		return nil
	}
	close(done)
	err := w.Close()
	s.wg.Wait()
	return err
}

// Sync brings the watch list in line with the registry: directories of new
// entries are added, directories no entry needs any more are dropped.
func (s *Source) Sync() {
	want := make(map[string]struct{})
	for _, entry := range s.scopes.List() {
		for _, dir := range s.dirsFor(entry) {
			want[dir] = struct{}{}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher == nil {
		return
	}
	for dir := range s.watched {
		if _, ok := want[dir]; !ok {
			_ = s.watcher.Remove(dir)
			delete(s.watched, dir)
		}
	}
	for dir := range want {
		s.addLocked(dir)
	}
}

// Watched returns the number of directories under watch.
func (s *Source) Watched() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watched)
}

func (s *Source) addLocked(dir string) {
	if _, ok := s.watched[dir]; ok {
		return
	}
	if err := s.watcher.Add(dir); err != nil {
		s.logger.Warn("cannot watch directory", "path", dir, "error", err)
		return
	}
	s.watched[dir] = struct{}{}
}

// dirsFor lists the directories that must be watched to see changes to
// entry. A file entry needs its parent; a recursive directory needs every
// non-ignored directory beneath it.
func (s *Source) dirsFor(entry guard.ProtectedPath) []string {
	info, err := os.Lstat(entry.Path)
	if err != nil {
		return nil
	}
	if !info.IsDir() {
		return []string{filepath.Dir(entry.Path)}
	}
	dirs := []string{filepath.Dir(entry.Path), entry.Path}
	if !entry.Recursive {
		return dirs
	}
	_ = filepath.WalkDir(entry.Path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() || p == entry.Path {
			return nil
		}
		if s.ignored(p) {
			return filepath.SkipDir
		}
		dirs = append(dirs, p)
		return nil
	})
	return dirs
}

func (s *Source) ignored(path string) bool {
	return s.ignore != nil && s.ignore.Ignored(path)
}

func (s *Source) loop(ctx context.Context) {
	defer s.wg.Done()

	s.mu.Lock()
	w := s.watcher
	done := s.done
	s.mu.Unlock()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.flush(time.Time{})
			return
		case <-done:
			s.flush(time.Time{})
			return
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				s.logger.Warn("kernel event queue overflowed, events lost")
				continue
			}
			s.logger.Error("watcher error", "error", err)
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			s.handle(ev)
		case <-timer.C:
		}

		s.flush(s.clock.Now())
		if next, ok := s.nextDeadline(); ok {
			timer.Reset(max(next.Sub(s.clock.Now()), time.Millisecond))
		}
	}
}

// handle maps one fsnotify event. Remove is a delete. Rename is held until
// a create of the same name pairs it with a destination or its window runs
// out.
func (s *Source) handle(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if s.ignored(path) {
		return
	}

	switch {
	case ev.Has(fsnotify.Create):
		s.created(path)
	case ev.Has(fsnotify.Remove):
		s.forget(path)
		s.emit(guard.Operation{Kind: guard.KindDelete, SourcePath: path})
	case ev.Has(fsnotify.Rename):
		s.forget(path)
		s.mu.Lock()
		s.pending = append(s.pending, pendingRename{path: path, deadline: s.clock.Now().Add(s.window)})
		s.mu.Unlock()
	}
}

// created pairs a create with the pending rename of an item of the same
// name, which is how a move between watched directories arrives. Any other
// create is unrelated: the rename stays pending and flushes as a move out.
func (s *Source) created(path string) {
	name := filepath.Base(path)
	s.mu.Lock()
	var from string
	for i, p := range s.pending {
		if filepath.Base(p.path) == name {
			from = p.path
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	if info, err := os.Lstat(path); err == nil && info.IsDir() {
		s.watchNew(path)
	}
	if from != "" {
		s.emit(guard.Operation{Kind: guard.KindRename, SourcePath: from, DestPath: path})
	}
}

// watchNew adds a directory created inside a recursive scope.
func (s *Source) watchNew(dir string) {
	for _, entry := range s.scopes.List() {
		if entry.Recursive && guard.IsWithin(dir, entry.Path) {
			s.mu.Lock()
			if s.watcher != nil {
				for _, d := range s.dirsFor(guard.ProtectedPath{Path: dir, Recursive: true})[1:] {
					s.addLocked(d)
				}
			}
			s.mu.Unlock()
			return
		}
	}
}

// forget drops watches on a directory that is gone from its place.
func (s *Source) forget(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for dir := range s.watched {
		if guard.IsWithin(dir, path) {
			delete(s.watched, dir)
		}
	}
}

// flush reports renames whose window ended before now as moves out. A zero
// now flushes everything.
func (s *Source) flush(now time.Time) {
	s.mu.Lock()
	var expired []pendingRename
	keep := s.pending[:0]
	for _, p := range s.pending {
		if now.IsZero() || !now.Before(p.deadline) {
			expired = append(expired, p)
		} else {
			keep = append(keep, p)
		}
	}
	s.pending = keep
	s.mu.Unlock()

	for _, p := range expired {
		s.emit(guard.Operation{Kind: guard.KindMoveOut, SourcePath: p.path})
	}
}

func (s *Source) nextDeadline() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return time.Time{}, false
	}
	return s.pending[0].deadline, true
}

func (s *Source) emit(op guard.Operation) {
	if !s.scopes.Governs(op.SourcePath) {
		return
	}
	op.Mode = guard.ModeAdvisory
	op.ObservedAt = s.clock.Now().UTC()
	if err := s.Capabilities().Check(op); err != nil {
		s.logger.Error("event rejected", "kind", op.Kind, "path", op.SourcePath, "error", err)
		return
	}
	if err := s.sink.Enqueue(op); err != nil {
		if errors.Is(err, guard.ErrQueueOverflow) {
			return
		}
		s.logger.Warn("event not delivered", "kind", op.Kind, "path", op.SourcePath, "error", err)
	}
}
