package guard

import "fmt"

// opState is a step in the life of one Operation inside the engine.
type opState string

const (
	stateReceived           opState = "received"
	stateEvaluated          opState = "evaluated"
	stateAllowed            opState = "allowed"
	stateBackingUp          opState = "backing_up"
	stateBlocked            opState = "blocked"
	stateBackupFailed       opState = "backup_failed"
	stateBlockedUnprotected opState = "blocked_unprotected"
	stateRestoring          opState = "restoring"
	stateRestored           opState = "restored"
	stateRestoreFailed      opState = "restore_failed"
)

var allowedTransitions = map[opState]map[opState]struct{}{
	stateReceived: {
		stateEvaluated: {},
	},
	stateEvaluated: {
		stateAllowed:   {},
		stateBackingUp: {},
		stateRestoring: {},
	},
	stateBackingUp: {
		stateBlocked:      {},
		stateBackupFailed: {},
	},
	stateBackupFailed: {
		stateBlockedUnprotected: {},
		stateAllowed:            {},
	},
	stateRestoring: {
		stateRestored:      {},
		stateRestoreFailed: {},
		stateAllowed:       {},
	},
}

func terminal(s opState) bool {
	_, ok := allowedTransitions[s]
	return !ok
}

// opTracker walks one operation through the state machine.
type opTracker struct {
	op    *Operation
	state opState
}

func newOpTracker(op *Operation) *opTracker {
	return &opTracker{op: op, state: stateReceived}
}

func (t *opTracker) to(next opState) error {
	if _, ok := allowedTransitions[t.state][next]; !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.state, next)
	}
	t.state = next
	return nil
}
