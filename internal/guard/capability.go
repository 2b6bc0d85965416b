package guard

import (
	"fmt"
	"slices"
)

// Capabilities describes what an event source can observe and whether it
// can stop an operation before it completes.
type Capabilities struct {
	Preventable bool
	Kinds       []OperationKind
}

// Mode returns the interception mode operations from this source carry.
func (c Capabilities) Mode() InterceptionMode {
	if c.Preventable {
		return ModePreventable
	}
	return ModeAdvisory
}

// Check returns ErrUnsupportedOperation when the source cannot deliver op
// in the mode it claims.
func (c Capabilities) Check(op Operation) error {
	if !slices.Contains(c.Kinds, op.Kind) {
		return fmt.Errorf("%w: %s events are not observed by this source", ErrUnsupportedOperation, op.Kind)
	}
	if op.Mode == ModePreventable && !c.Preventable {
		return fmt.Errorf("%w: source cannot block %s before it completes", ErrUnsupportedOperation, op.Kind)
	}
	return nil
}
