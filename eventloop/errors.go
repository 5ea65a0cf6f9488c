package eventloop

import "errors"

// ErrStopped reports a Watch or Run against a loop that has been stopped.
var ErrStopped = errors.New("eventloop: loop stopped")

var errLoopStopped = ErrStopped
