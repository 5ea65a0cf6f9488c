package stream

import (
	serrors "github.com/rizqme/streamio/internal/errors"
	"github.com/rizqme/streamio/promise"
)

// Sentinel errors for use with errors.Is. Operations surface these through
// future rejections; terminal failures additionally emit an "error" event.
var (
	// ErrInvalidDescriptor rejects construction over a wrong or
	// non-matching descriptor.
	ErrInvalidDescriptor = serrors.Sentinel(serrors.KindInvalidDescriptor)
	// ErrNotReadable marks a read against a non-readable stream.
	ErrNotReadable = serrors.Sentinel(serrors.KindNotReadable)
	// ErrNotWritable marks a write against a non-writable or ended stream.
	ErrNotWritable = serrors.Sentinel(serrors.KindNotWritable)
	// ErrStreamClosed marks an operation against a closed stream; pending
	// futures are rejected with it when a stream closes under them.
	ErrStreamClosed = serrors.Sentinel(serrors.KindClosed)
	// ErrEarlyClose marks a pipe destination closing before the source
	// ended.
	ErrEarlyClose = serrors.Sentinel(serrors.KindEarlyClose)
	// ErrCancelled re-exports the future cancellation reason.
	ErrCancelled = promise.ErrCancelled
)

func errInvalidDescriptor(op string, cause error) error {
	return serrors.New(serrors.KindInvalidDescriptor, op, cause)
}

func errNotReadable(op string) error {
	return serrors.New(serrors.KindNotReadable, op, nil)
}

func errNotWritable(op string) error {
	return serrors.New(serrors.KindNotWritable, op, nil)
}

func errClosed(op string) error {
	return serrors.New(serrors.KindClosed, op, nil)
}

func errIO(op string, cause error) error {
	return serrors.New(serrors.KindIOFailure, op, cause)
}

func errEarlyClose(op string) error {
	return serrors.New(serrors.KindEarlyClose, op, nil)
}
