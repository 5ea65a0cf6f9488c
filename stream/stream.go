// Package stream implements asynchronous, non-blocking byte streams over OS
// file descriptors, driven by an event loop.
//
// A Readable owns the read side of a descriptor, a Writable the write side;
// Duplex binds both over one descriptor (or composes two independent halves)
// and Transform is an in-memory duplex that runs writes through a user
// function. Pipe connects a readable to a writable, propagating data and
// backpressure in both directions with constant memory.
//
// All read/write operations return a promise.Future that settles when the
// request completes; callers never block the loop. The event loop, supplied
// by the eventloop package or any implementation of Loop, fires readiness
// callbacks on a single goroutine.
package stream

import (
	"github.com/rizqme/streamio/fdio"
)

// Default tunables used when options leave them zero.
const (
	// DefaultChunkSize is the read quantum: the most bytes requested in a
	// single non-blocking read.
	DefaultChunkSize = 64 * 1024
	// DefaultSoftLimit is the write-buffer threshold at or above which drain
	// deferment applies.
	DefaultSoftLimit = 64 * 1024
)

// Direction selects the readiness condition a watch waits for.
type Direction int

const (
	// DirRead fires the callback when the descriptor becomes readable.
	DirRead Direction = iota
	// DirWrite fires the callback when the descriptor becomes writable.
	DirWrite
)

// Watch is an opaque handle returned by Loop.Watch.
type Watch interface{}

// Loop is the event-loop contract the stream cores consume. The production
// implementation lives in the eventloop package; tests supply a double.
//
// Watch registers interest in fd readiness and invokes cb on the loop
// goroutine each time the descriptor is ready in the given direction. A
// negative fd identifies a descriptor with no OS handle (in-memory); the
// loop must treat it as always ready while watched. Schedule queues fn for
// the next loop turn.
type Loop interface {
	Watch(fd int, dir Direction, cb func()) (Watch, error)
	Unwatch(w Watch)
	Schedule(fn func())
}

// Descriptor is the I/O primitive under a stream: a non-blocking handle
// supporting bounded reads, partial writes, seeking and closing. The fdio
// package provides implementations for files, pipes, sockets, standard
// streams and in-memory buffers.
//
// Read fills p with at most len(p) bytes and returns fdio.ErrWouldBlock when
// the descriptor is not ready, io.EOF at end of stream. Write accepts some
// prefix of p, returning fdio.ErrWouldBlock when the descriptor cannot take
// bytes. Seek returns fdio.ErrNotSeekable on descriptors without positions.
type Descriptor interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Seek(offset int64, whence int) (int64, error)
	Fd() int
	CanRead() bool
	CanWrite() bool
	Close() error
}

// ErrWouldBlock re-exports the would-block sentinel so stream users need not
// import fdio for control flow.
var ErrWouldBlock = fdio.ErrWouldBlock

// ReadableOptions configures a Readable.
type ReadableOptions struct {
	// ChunkSize is the default read quantum. Zero means DefaultChunkSize.
	ChunkSize int
}

// WritableOptions configures a Writable.
type WritableOptions struct {
	// SoftLimit is the buffered-byte threshold at or above which the stream
	// signals backpressure. Zero means DefaultSoftLimit.
	SoftLimit int
}

// Source is the readable side of a pipe: anything that emits data/end/error
// events and supports pause/resume backpressure.
type Source interface {
	IsReadable() bool
	IsPaused() bool
	Pause()
	Resume()
	On(event string, handler interface{})
	Once(event string, handler interface{})
	Off(event string, handler interface{})
	Emit(event string, args ...interface{})
}

// Destination is the writable side of a pipe.
type Destination interface {
	IsWritable() bool
	NeedsDrain() bool
	Write(p []byte) *WriteFuture
	End(p []byte) *WriteFuture
	On(event string, handler interface{})
	Once(event string, handler interface{})
	Off(event string, handler interface{})
	Emit(event string, args ...interface{})
}
