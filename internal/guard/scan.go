package guard

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// JobState is the lifecycle state of a scan job.
type JobState string

const (
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobCancelled JobState = "cancelled"
	JobFailed    JobState = "failed"
)

// maxFinishedJobs bounds how many finished jobs stay pollable.
const maxFinishedJobs = 100

// ScanJob reports the progress of one on-demand backup scan.
type ScanJob struct {
	ID               string     `json:"id"`
	Roots            []string   `json:"roots"`
	State            JobState   `json:"state"`
	FilesSeen        int        `json:"filesSeen"`
	SnapshotsCreated int        `json:"snapshotsCreated"`
	Skipped          int        `json:"skipped"`
	Errors           []string   `json:"errors,omitempty"`
	StartedAt        time.Time  `json:"startedAt"`
	FinishedAt       *time.Time `json:"finishedAt,omitempty"`

	cancel context.CancelFunc
}

// Scanner runs scan jobs that snapshot protected files lacking a current
// snapshot. Jobs stop at the next file boundary when cancelled.
type Scanner struct {
	registry *Registry
	store    *BackupStore
	fsys     Filesystem
	clock    Clock
	ids      IDGenerator
	logger   Logger

	mu    sync.Mutex
	base  context.Context
	jobs  map[string]*ScanJob
	order []string
	wg    sync.WaitGroup
}

// NewScanner creates a Scanner whose jobs run under base.
func NewScanner(base context.Context, registry *Registry, store *BackupStore, fsys Filesystem, clock Clock, ids IDGenerator, logger Logger) *Scanner {
	return &Scanner{
		registry: registry,
		store:    store,
		fsys:     fsys,
		clock:    clock,
		ids:      ids,
		logger:   logger,
		base:     base,
		jobs:     make(map[string]*ScanJob),
	}
}

// Start launches a scan of root, or of every enabled protected path when
// root is empty.
func (s *Scanner) Start(root string) (ScanJob, error) {
	var roots []string
	if root == "" {
		for _, e := range s.registry.List() {
			if e.Enabled {
				roots = append(roots, e.Path)
			}
		}
	} else {
		p, err := s.fsys.Canonicalize(root)
		if err != nil {
			return ScanJob{}, err
		}
		if s.registry.IsProtected(p) == nil {
			return ScanJob{}, fmt.Errorf("%w: %s", ErrNotProtected, p)
		}
		roots = []string{p}
	}

	ctx, cancel := context.WithCancel(s.base)
	job := &ScanJob{
		ID:        s.ids.New(),
		Roots:     roots,
		State:     JobRunning,
		StartedAt: s.clock.Now().UTC(),
		cancel:    cancel,
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.order = append(s.order, job.ID)
	s.pruneLocked()
	snapshot := job.copyLocked()
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.run(ctx, job)
	}()

	s.logger.Info("scan started", "job", job.ID, "roots", len(roots))
	return snapshot, nil
}

// Get returns the current state of a job.
func (s *Scanner) Get(id string) (ScanJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ScanJob{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job.copyLocked(), nil
}

// Cancel asks a running job to stop at the next file boundary.
func (s *Scanner) Cancel(id string) (ScanJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ScanJob{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	job.cancel()
	return job.copyLocked(), nil
}

// Wait blocks until every job has finished.
func (s *Scanner) Wait() {
	s.wg.Wait()
}

func (s *Scanner) run(ctx context.Context, job *ScanJob) {
	for _, root := range job.Roots {
		files, err := s.fsys.FindFiles(root)
		if err != nil {
			s.update(job, func(j *ScanJob) { j.Errors = append(j.Errors, err.Error()) })
			continue
		}
		for _, f := range files {
			if ctx.Err() != nil {
				s.finish(job, JobCancelled)
				return
			}
			// Non-recursive entries list files beyond their direct children.
			if s.registry.IsProtected(f) == nil {
				continue
			}
			created, err := s.scanFile(ctx, f)
			s.update(job, func(j *ScanJob) {
				j.FilesSeen++
				switch {
				case err != nil:
					j.Errors = append(j.Errors, err.Error())
				case created:
					j.SnapshotsCreated++
				default:
					j.Skipped++
				}
			})
		}
	}

	state := JobCompleted
	s.mu.Lock()
	if len(job.Errors) > 0 && job.SnapshotsCreated == 0 && job.Skipped == 0 {
		state = JobFailed
	}
	s.mu.Unlock()
	s.finish(job, state)
}

// scanFile snapshots path unless its newest snapshot is at least as recent
// as its last modification and has the same size. It holds the path and
// every directory above it, so no engine decision on the file or a parent
// runs at the same time.
func (s *Scanner) scanFile(ctx context.Context, path string) (bool, error) {
	unlock := s.store.paths.lock(withAncestors(path)...)
	defer unlock()

	info, err := s.fsys.Lstat(path)
	if err != nil {
		return false, err
	}
	latest, err := s.store.LatestWithin(ctx, path)
	if err != nil {
		return false, err
	}
	i := slices.IndexFunc(latest, func(sn Snapshot) bool { return sn.SourcePath == path })
	if i >= 0 {
		snap := latest[i]
		if snap.SizeBytes == info.Size() && !snap.CreatedAt.Before(info.ModTime()) {
			return false, nil
		}
	}
	if _, err := s.store.Put(ctx, path, ""); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Scanner) update(job *ScanJob, fn func(*ScanJob)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(job)
}

func (s *Scanner) finish(job *ScanJob, state JobState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now().UTC()
	job.State = state
	job.FinishedAt = &now
	s.logger.Info("scan finished", "job", job.ID, "state", state,
		"files", job.FilesSeen, "snapshots", job.SnapshotsCreated, "errors", len(job.Errors))
}

// pruneLocked forgets the oldest finished jobs beyond maxFinishedJobs.
func (s *Scanner) pruneLocked() {
	finished := 0
	for _, id := range s.order {
		if s.jobs[id].State != JobRunning {
			finished++
		}
	}
	kept := s.order[:0]
	for _, id := range s.order {
		if finished > maxFinishedJobs && s.jobs[id].State != JobRunning {
			delete(s.jobs, id)
			finished--
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
}

func (j *ScanJob) copyLocked() ScanJob {
	c := *j
	c.Roots = slices.Clone(j.Roots)
	c.Errors = slices.Clone(j.Errors)
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	c.cancel = nil
	return c
}
