package eventprocessor

import "errors"

// Correlation misses.
var (
	ErrConnectionNotFound = errors.New("connection not found")
	ErrQueueIDNotFound    = errors.New("queue id not found")
	ErrMessageIDNotFound  = errors.New("message id not found")
	ErrScannerNotFound    = errors.New("scanner not found")

	// ErrDeliveryQueueConflict means a message already linked to one
	// delivery queue ID showed up under another.
	ErrDeliveryQueueConflict = errors.New("delivery queue id conflict")
)

type warning struct {
	err error
}

func (w *warning) Error() string { return w.err.Error() }
func (w *warning) Unwrap() error { return w.err }

// Warning marks err as recoverable: the line's effect is dropped and a
// warning is logged instead of an error.
func Warning(err error) error {
	if err == nil {
		return nil
	}
	return &warning{err: err}
}

// IsWarning reports whether any error in err's tree was marked with Warning.
func IsWarning(err error) bool {
	var w *warning
	return errors.As(err, &w)
}
