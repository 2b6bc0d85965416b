package guard

import "errors"

var (
	ErrPathNotFound         = errors.New("path not found")
	ErrAlreadyProtected     = errors.New("path already protected")
	ErrNotProtected         = errors.New("path not protected")
	ErrIntegrity            = errors.New("snapshot integrity check failed")
	ErrTargetConflict       = errors.New("restore target already exists")
	ErrBackupWriteFailed    = errors.New("backup write failed")
	ErrQueueOverflow        = errors.New("operation queue full")
	ErrUnsupportedOperation = errors.New("unsupported operation")

	ErrSnapshotNotFound  = errors.New("snapshot not found")
	ErrOperationNotFound = errors.New("operation not found")
	ErrNotConfirmable    = errors.New("operation cannot be confirmed")
	ErrDegraded          = errors.New("storage degraded")
	ErrJobNotFound       = errors.New("job not found")
	ErrEngineStopped     = errors.New("engine stopped")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrInvalidRequest    = errors.New("invalid request")
)

// ErrorCode returns the stable name used for err on the wire.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrPathNotFound):
		return "PathNotFound"
	case errors.Is(err, ErrAlreadyProtected):
		return "AlreadyProtected"
	case errors.Is(err, ErrNotProtected):
		return "NotProtected"
	case errors.Is(err, ErrIntegrity):
		return "IntegrityError"
	case errors.Is(err, ErrTargetConflict):
		return "TargetConflict"
	case errors.Is(err, ErrBackupWriteFailed):
		return "BackupWriteFailed"
	case errors.Is(err, ErrQueueOverflow):
		return "QueueOverflow"
	case errors.Is(err, ErrEngineStopped):
		return "EngineStopped"
	case errors.Is(err, ErrUnsupportedOperation):
		return "UnsupportedOperation"
	case errors.Is(err, ErrSnapshotNotFound):
		return "SnapshotNotFound"
	case errors.Is(err, ErrOperationNotFound):
		return "OperationNotFound"
	case errors.Is(err, ErrNotConfirmable):
		return "NotConfirmable"
	case errors.Is(err, ErrDegraded):
		return "Degraded"
	case errors.Is(err, ErrJobNotFound):
		return "JobNotFound"
	case errors.Is(err, ErrInvalidRequest):
		return "InvalidRequest"
	default:
		return "Internal"
	}
}
