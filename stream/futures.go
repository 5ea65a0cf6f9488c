package stream

import (
	"github.com/rizqme/streamio/promise"
)

// ReadFuture settles with the chunk read, or with the nil no-more-data
// sentinel at end of stream.
type ReadFuture = promise.Future[[]byte]

// WriteFuture settles with the number of bytes handed off for the call.
type WriteFuture = promise.Future[int]

// PipeFuture settles with the total bytes delivered to the destination.
type PipeFuture = promise.Future[int64]
