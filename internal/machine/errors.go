package machine

import (
	"errors"

	"github.com/roach88/evfsm/internal/eventlog"
)

var (
	// ErrStopped is returned by Ask when the machine is no longer serving.
	ErrStopped = errors.New("machine: stopped")

	// ErrAlreadyStarted is returned by a second call to Run.
	ErrAlreadyStarted = errors.New("machine: already started")
)

// IsAdapterError reports whether err is an append failure.
// Uses errors.As to handle wrapped errors.
func IsAdapterError(err error) bool { return eventlog.IsAdapterError(err) }

// IsFeedError reports whether err is a replay failure.
// Uses errors.As to handle wrapped errors.
func IsFeedError(err error) bool { return eventlog.IsFeedError(err) }

func asAdapterError(err error, key string) error {
	var ae *eventlog.AdapterError
	if errors.As(err, &ae) {
		return err
	}
	return &eventlog.AdapterError{Op: "append", Key: key, Err: err}
}

func asFeedError(err error, after eventlog.Offset) error {
	var fe *eventlog.FeedError
	if errors.As(err, &fe) {
		return err
	}
	return &eventlog.FeedError{After: after, Err: err}
}
