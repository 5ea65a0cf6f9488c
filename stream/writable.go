package stream

import (
	"errors"
	"sync"

	"github.com/rizqme/streamio/fdio"
	"github.com/rizqme/streamio/promise"
)

// Writable is the write half of a descriptor-backed stream. Writes append
// to an internal buffer and enqueue a pending request; the loop watch
// flushes the buffer as the descriptor accepts bytes, resolving requests in
// submission order. Backpressure is a soft limit: writes are never refused
// while the stream is writable, but their futures withhold resolution until
// the whole chunk has drained. Events: drain, finish, error, close, pipe.
type Writable struct {
	mu        sync.Mutex
	loop      Loop
	desc      Descriptor
	events    *Emitter
	softLimit int
	buf       Buffer
	pending   writeQueue
	watch     Watch
	writable  bool
	ending    bool
	closed    bool
	above     bool
	endFut    *WriteFuture
	endSize   int
}

// NewWritable wraps desc in a writable stream driven by loop. The
// descriptor must be open for writing.
func NewWritable(loop Loop, desc Descriptor, opts *WritableOptions) (*Writable, error) {
	if loop == nil {
		return nil, errInvalidDescriptor("new writable", errors.New("nil loop"))
	}
	if desc == nil {
		return nil, errInvalidDescriptor("new writable", errors.New("nil descriptor"))
	}
	if !desc.CanWrite() {
		return nil, errInvalidDescriptor("new writable", errors.New("descriptor not open for writing"))
	}
	limit := DefaultSoftLimit
	if opts != nil && opts.SoftLimit > 0 {
		limit = opts.SoftLimit
	}
	return &Writable{
		loop:      loop,
		desc:      desc,
		events:    NewEmitter(),
		softLimit: limit,
		writable:  true,
	}, nil
}

// On registers an event handler.
func (w *Writable) On(event string, handler interface{}) { w.events.On(event, handler) }

// Once registers a one-shot event handler.
func (w *Writable) Once(event string, handler interface{}) { w.events.Once(event, handler) }

// Off removes an event handler.
func (w *Writable) Off(event string, handler interface{}) { w.events.Off(event, handler) }

// Emit raises an event on the stream.
func (w *Writable) Emit(event string, args ...interface{}) { w.events.Emit(event, args...) }

// IsWritable reports whether new writes are accepted.
func (w *Writable) IsWritable() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writable && !w.ending && !w.closed
}

// IsEnding reports whether End has been called but the buffer is still
// flushing.
func (w *Writable) IsEnding() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ending && !w.closed
}

// Buffered reports the bytes queued but not yet accepted by the OS.
func (w *Writable) Buffered() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Len()
}

// NeedsDrain reports whether the buffer sits at or above the soft limit,
// i.e. a producer should wait for "drain" before writing more.
func (w *Writable) NeedsDrain() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Len() >= w.softLimit
}

// SoftLimit returns the backpressure threshold.
func (w *Writable) SoftLimit() int { return w.softLimit }

// Write queues p and returns a future that resolves with len(p) once every
// byte of this call has been handed to the OS. An empty write resolves
// immediately with 0 and never touches the descriptor.
func (w *Writable) Write(p []byte) *WriteFuture {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return promise.Rejected[int](errClosed("write"))
	}
	if !w.writable || w.ending {
		w.mu.Unlock()
		return promise.Rejected[int](errNotWritable("write"))
	}
	if len(p) == 0 {
		w.mu.Unlock()
		return promise.Resolved(0)
	}
	req, armErr := w.enqueueLocked(p)
	w.mu.Unlock()

	req.fut.SetCancelHandler(func() { w.cancelWrite(req) })
	if armErr != nil {
		w.fail(errIO("write", armErr))
	}
	return req.fut
}

// WriteLine writes p followed by a newline byte.
func (w *Writable) WriteLine(p []byte) *WriteFuture {
	line := make([]byte, 0, len(p)+1)
	line = append(line, p...)
	line = append(line, '\n')
	return w.Write(line)
}

// enqueueLocked appends payload bytes and the matching request entry, and
// arms the watch.
func (w *Writable) enqueueLocked(p []byte) (*writeRequest, error) {
	w.buf.Append(p)
	req := &writeRequest{size: len(p), remaining: len(p), fut: promise.New[int]()}
	w.pending.push(req)
	if w.buf.Len() >= w.softLimit {
		w.above = true
	}
	return req, w.ensureWatchLocked()
}

// End refuses further writes, flushes the buffer (plus the optional final
// chunk), then emits "finish" and closes. The future resolves with the
// final chunk's size once the stream has fully shut down. Calling End
// again returns the same future; End on a closed stream resolves 0.
func (w *Writable) End(p []byte) *WriteFuture {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return promise.Resolved(0)
	}
	if w.ending {
		fut := w.endFut
		w.mu.Unlock()
		return fut
	}
	w.ending = true
	w.writable = false
	w.endFut = promise.New[int]()
	fut := w.endFut

	var armErr error
	if len(p) > 0 {
		// The final chunk's resolution is observed through the end future.
		w.endSize = len(p)
		_, armErr = w.enqueueLocked(p)
	}
	flushed := w.buf.Len() == 0 && w.pending.empty()
	w.mu.Unlock()

	if armErr != nil {
		w.fail(errIO("end", armErr))
		return fut
	}
	if flushed {
		// Defer so the finish/close events fire from a loop turn, after
		// the caller had a chance to attach listeners.
		w.loop.Schedule(w.finish)
	}
	return fut
}

// finish completes the end sequence once the buffer has fully drained.
func (w *Writable) finish() {
	w.mu.Lock()
	if w.closed || !w.ending {
		w.mu.Unlock()
		return
	}
	if w.buf.Len() != 0 || !w.pending.empty() {
		w.mu.Unlock()
		return
	}
	fut := w.endFut
	size := w.endSize
	w.mu.Unlock()

	w.events.Emit("finish")
	w.Close()
	if fut != nil {
		fut.Resolve(size)
	}
}

// Close tears the stream down: pending writes reject with the closed
// error, buffered bytes are dropped, the descriptor is closed and "close"
// fires once. Idempotent.
func (w *Writable) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	finished := w.ending && w.buf.Len() == 0 && w.pending.empty()
	w.closed = true
	w.writable = false
	w.ending = false
	w.dropWatchLocked()
	reqs := w.pending.drain()
	w.buf.Reset()
	endFut := w.endFut
	w.mu.Unlock()

	for _, q := range reqs {
		q.fut.Reject(errClosed("write"))
	}
	if endFut != nil && !finished {
		endFut.Reject(errClosed("end"))
	}
	cerr := w.desc.Close()
	w.events.Emit("close")
	w.events.RemoveAll()
	return cerr
}

// fail is the terminal error path: error event, pending rejections, close.
func (w *Writable) fail(err error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.dropWatchLocked()
	reqs := w.pending.drain()
	w.buf.Reset()
	endFut := w.endFut
	w.ending = false
	w.mu.Unlock()

	w.events.Emit("error", err)
	for _, q := range reqs {
		q.fut.Reject(err)
	}
	if endFut != nil {
		endFut.Reject(err)
	}
	w.Close()
}

// onWritable runs on the loop goroutine when the descriptor reports ready.
func (w *Writable) onWritable() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	if w.buf.Len() == 0 {
		w.dropWatchLocked()
		w.mu.Unlock()
		return
	}

	n, err := w.desc.Write(w.buf.Bytes())
	if errors.Is(err, fdio.ErrWouldBlock) {
		w.mu.Unlock()
		return
	}
	if err != nil || n == 0 {
		// A zero-byte write on a ready descriptor would spin forever;
		// treat it as a hard failure.
		w.mu.Unlock()
		if err == nil {
			err = errors.New("descriptor accepted zero bytes while ready")
		}
		w.fail(errIO("write", err))
		return
	}

	w.buf.TakePrefix(n)

	var resolved []*writeRequest
	left := n
	for left > 0 {
		head := w.pending.head()
		if head == nil {
			break
		}
		if head.remaining <= left {
			left -= head.remaining
			head.remaining = 0
			w.pending.pop()
			resolved = append(resolved, head)
		} else {
			head.remaining -= left
			left = 0
		}
	}

	// One drain per condition: the downward soft-limit crossing while
	// bytes remain, and the buffer emptying. A flush that does both at
	// once emits a single drain.
	drains := 0
	empty := w.buf.Len() == 0
	if empty {
		w.above = false
		drains++
		w.dropWatchLocked()
	} else if w.above && w.buf.Len() < w.softLimit {
		w.above = false
		drains++
	}
	finishNow := w.ending && empty && w.pending.empty()
	w.mu.Unlock()

	for _, q := range resolved {
		if !q.cancelled {
			q.fut.Resolve(q.size)
		}
	}
	for ; drains > 0; drains-- {
		w.events.Emit("drain")
	}
	if finishNow {
		w.finish()
	}
}

// cancelWrite detaches a cancelled request. Bytes are removed from the
// buffer only when the request is the most recent one and none of its bytes
// have started flushing; otherwise the future simply detaches and the bytes
// flush anyway.
func (w *Writable) cancelWrite(req *writeRequest) {
	w.mu.Lock()
	if w.closed || req.cancelled || req.remaining == 0 {
		w.mu.Unlock()
		return
	}
	if w.pending.tail() == req && req.remaining == req.size {
		w.pending.remove(req)
		w.buf.DropSuffix(req.size)
		if w.buf.Len() == 0 {
			w.dropWatchLocked()
		}
	} else {
		req.cancelled = true
	}
	w.mu.Unlock()
}

func (w *Writable) ensureWatchLocked() error {
	if w.watch != nil || w.closed {
		return nil
	}
	watch, err := w.loop.Watch(w.desc.Fd(), DirWrite, w.onWritable)
	if err != nil {
		return err
	}
	w.watch = watch
	return nil
}

func (w *Writable) dropWatchLocked() {
	if w.watch != nil {
		w.loop.Unwatch(w.watch)
		w.watch = nil
	}
}
