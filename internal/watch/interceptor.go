package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"foldguard/internal/guard"
)

// Decider resolves a Preventable operation before it runs.
type Decider interface {
	Submit(ctx context.Context, op guard.Operation) (guard.Decision, error)
}

// Mover performs the destructive calls.
type Mover interface {
	Remove(path string) error
	Rename(src, dst string) error
}

// Interceptor is the Preventable event source: guarded delete and move calls
// pass through it, and the filesystem is only touched when the engine
// allows the operation.
type Interceptor struct {
	decider Decider
	mover   Mover
	logger  guard.Logger
}

func NewInterceptor(decider Decider, mover Mover, logger guard.Logger) *Interceptor {
	if logger == nil {
		logger = guard.NewNopLogger()
	}
	return &Interceptor{decider: decider, mover: mover, logger: logger}
}

func (i *Interceptor) Capabilities() guard.Capabilities {
	return guard.Capabilities{
		Preventable: true,
		Kinds:       []guard.OperationKind{guard.KindDelete, guard.KindMoveOut, guard.KindRename},
	}
}

// Remove deletes path if the engine allows it.
func (i *Interceptor) Remove(ctx context.Context, path, actor string) (guard.Decision, error) {
	return i.Perform(ctx, guard.Operation{Kind: guard.KindDelete, SourcePath: path, Actor: actor})
}

// Move renames src to dst if the engine allows it. A move within one
// directory is a rename; anything else is a move out.
func (i *Interceptor) Move(ctx context.Context, src, dst, actor string) (guard.Decision, error) {
	kind := guard.KindMoveOut
	if filepath.Dir(filepath.Clean(src)) == filepath.Dir(filepath.Clean(dst)) {
		kind = guard.KindRename
	}
	return i.Perform(ctx, guard.Operation{Kind: kind, SourcePath: src, DestPath: dst, Actor: actor})
}

// Perform submits op and, when allowed, carries it out. A denied operation
// returns its decision and a nil error.
func (i *Interceptor) Perform(ctx context.Context, op guard.Operation) (guard.Decision, error) {
	op.Mode = guard.ModePreventable
	if err := i.Capabilities().Check(op); err != nil {
		return guard.Decision{}, err
	}

	d, err := i.decider.Submit(ctx, op)
	if err != nil {
		return d, err
	}
	if !d.Allow {
		i.logger.Info("operation blocked", "operation", d.OperationID, "kind", op.Kind, "path", op.SourcePath, "resolution", d.Resolution)
		return d, nil
	}

	switch op.Kind {
	case guard.KindDelete:
		err = i.mover.Remove(op.SourcePath)
	default:
		err = i.mover.Rename(op.SourcePath, op.DestPath)
	}
	// A redelivered decision may find the work already done.
	if err != nil && !(d.Duplicate && errors.Is(err, fs.ErrNotExist)) {
		return d, fmt.Errorf("performing %s of %s: %w", op.Kind, op.SourcePath, err)
	}
	return d, nil
}
