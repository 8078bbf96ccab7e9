package eventlog

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("eventlog: closed")

// AdapterError reports a failed append.
// The machine treats it as recoverable; what happens to the state depends on
// its mode.
type AdapterError struct {
	// Op names the failed operation ("append", "compact").
	Op string

	// Key is the compaction key of the event being written.
	Key string

	Err error
}

// Error implements the error interface.
func (e *AdapterError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("eventlog %s (key=%s): %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("eventlog %s: %v", e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// FeedError reports a failed read during replay. It is fatal to a machine.
type FeedError struct {
	// After is the offset of the last record successfully yielded, 0 if none.
	After Offset

	Err error
}

// Error implements the error interface.
func (e *FeedError) Error() string {
	return fmt.Sprintf("eventlog feed (after offset %d): %v", e.After, e.Err)
}

func (e *FeedError) Unwrap() error { return e.Err }

// IsAdapterError reports whether err wraps an *AdapterError.
func IsAdapterError(err error) bool {
	var ae *AdapterError
	return errors.As(err, &ae)
}

// IsFeedError reports whether err wraps a *FeedError.
func IsFeedError(err error) bool {
	var fe *FeedError
	return errors.As(err, &fe)
}
