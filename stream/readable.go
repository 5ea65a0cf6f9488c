package stream

import (
	"bytes"
	"errors"
	"io"
	"sync"

	pkgerrors "github.com/pkg/errors"

	"github.com/rizqme/streamio/fdio"
	"github.com/rizqme/streamio/promise"
)

// Readable is the read half of a descriptor-backed stream. It owns the
// descriptor, a read-side buffer, and a FIFO of pending read requests, and
// arms a loop watch whenever progress is possible.
//
// A Readable starts paused: data flows either through explicit Read* calls
// (which arm the watch for the life of the request) or through "data"
// listeners after Resume. Events: data, end, error, close, pause, resume,
// pipe, unpipe.
type Readable struct {
	mu        sync.Mutex
	loop      Loop
	desc      Descriptor
	events    *Emitter
	chunkSize int
	buf       Buffer
	pending   readQueue
	watch     Watch
	readable  bool
	paused    bool
	closed    bool
	eof       bool
}

// NewReadable wraps desc in a readable stream driven by loop. The
// descriptor must be open for reading.
func NewReadable(loop Loop, desc Descriptor, opts *ReadableOptions) (*Readable, error) {
	if loop == nil {
		return nil, errInvalidDescriptor("new readable", errors.New("nil loop"))
	}
	if desc == nil {
		return nil, errInvalidDescriptor("new readable", errors.New("nil descriptor"))
	}
	if !desc.CanRead() {
		return nil, errInvalidDescriptor("new readable", errors.New("descriptor not open for reading"))
	}
	chunk := DefaultChunkSize
	if opts != nil && opts.ChunkSize > 0 {
		chunk = opts.ChunkSize
	}
	return &Readable{
		loop:      loop,
		desc:      desc,
		events:    NewEmitter(),
		chunkSize: chunk,
		readable:  true,
		paused:    true,
	}, nil
}

// On registers an event handler.
func (r *Readable) On(event string, handler interface{}) { r.events.On(event, handler) }

// Once registers a one-shot event handler.
func (r *Readable) Once(event string, handler interface{}) { r.events.Once(event, handler) }

// Off removes an event handler.
func (r *Readable) Off(event string, handler interface{}) { r.events.Off(event, handler) }

// Emit raises an event on the stream.
func (r *Readable) Emit(event string, args ...interface{}) { r.events.Emit(event, args...) }

// IsReadable reports whether the stream can still produce data.
func (r *Readable) IsReadable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readable && !r.closed && !r.eof
}

// IsPaused reports whether flow-mode delivery is suspended.
func (r *Readable) IsPaused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

// ChunkSize returns the default read quantum.
func (r *Readable) ChunkSize() int { return r.chunkSize }

// Read requests up to n bytes (n <= 0 means the chunk size). The future
// resolves with a non-empty chunk, or with nil once the stream has ended.
func (r *Readable) Read(n int) *ReadFuture {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return promise.Rejected[[]byte](errClosed("read"))
	}
	if !r.readable {
		r.mu.Unlock()
		return promise.Rejected[[]byte](errNotReadable("read"))
	}
	if r.buf.Len() > 0 {
		want := n
		if want <= 0 {
			want = r.chunkSize
		}
		out := r.buf.TakePrefix(want)
		r.mu.Unlock()
		return promise.Resolved(out)
	}
	if r.eof {
		r.mu.Unlock()
		return promise.Resolved[[]byte](nil)
	}

	req := &readRequest{n: n, fut: promise.New[[]byte]()}
	r.pending.push(req)
	armErr := r.ensureWatchLocked()
	r.mu.Unlock()

	req.fut.SetCancelHandler(func() { r.cancelRead(req) })
	if armErr != nil {
		r.fail(errIO("read", armErr))
	}
	return req.fut
}

// ReadLine reads up to and including the first newline byte. max caps the
// line length (0 means unbounded); a line longer than max is split at max
// and the remainder stays buffered. At end of stream the final partial line
// is returned, then the nil sentinel.
func (r *Readable) ReadLine(max int) *ReadFuture {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return promise.Rejected[[]byte](errClosed("readline"))
	}
	if out, ok := r.takeLineLocked(max); ok {
		r.mu.Unlock()
		return promise.Resolved(out)
	}
	line := r.buf.TakePrefix(r.buf.Len())
	r.mu.Unlock()

	fut := promise.New[[]byte]()
	inner := &innerRead{}
	fut.SetCancelHandler(inner.cancel)

	var step func()
	step = func() {
		rd := r.Read(0)
		if !inner.set(rd) {
			return
		}
		rd.Then(func(chunk []byte) {
			if fut.IsCancelled() {
				return
			}
			if chunk == nil {
				if len(line) == 0 {
					fut.Resolve(nil)
				} else {
					fut.Resolve(line)
				}
				return
			}
			line = append(line, chunk...)
			cut := -1
			if idx := bytes.IndexByte(line, '\n'); idx >= 0 {
				cut = idx + 1
			}
			if max > 0 && (cut < 0 || cut > max) && len(line) >= max {
				cut = max
			}
			if cut >= 0 {
				if rest := line[cut:]; len(rest) > 0 {
					r.unshift(rest)
				}
				fut.Resolve(line[:cut])
				return
			}
			step()
		})
		rd.Catch(func(err error) { fut.Reject(err) })
	}
	step()
	return fut
}

// takeLineLocked satisfies a line request from the buffer if possible.
func (r *Readable) takeLineLocked(max int) ([]byte, bool) {
	idx := r.buf.IndexByte('\n')
	switch {
	case idx >= 0 && (max <= 0 || idx+1 <= max):
		return r.buf.TakePrefix(idx + 1), true
	case max > 0 && r.buf.Len() >= max:
		return r.buf.TakePrefix(max), true
	case r.eof:
		if r.buf.Len() == 0 {
			return nil, true
		}
		return r.buf.TakePrefix(r.buf.Len()), true
	}
	return nil, false
}

// ReadAll reads until end of stream, capped at max bytes (0 means no cap).
func (r *Readable) ReadAll(max int) *ReadFuture {
	fut := promise.New[[]byte]()
	inner := &innerRead{}
	fut.SetCancelHandler(inner.cancel)

	var acc []byte
	var step func()
	step = func() {
		want := r.chunkSize
		if max > 0 && max-len(acc) < want {
			want = max - len(acc)
		}
		rd := r.Read(want)
		if !inner.set(rd) {
			return
		}
		rd.Then(func(chunk []byte) {
			if fut.IsCancelled() {
				return
			}
			if chunk == nil {
				fut.Resolve(acc)
				return
			}
			acc = append(acc, chunk...)
			if max > 0 && len(acc) >= max {
				fut.Resolve(acc[:max])
				return
			}
			step()
		})
		rd.Catch(func(err error) { fut.Reject(err) })
	}
	step()
	return fut
}

// Pipe transfers everything this stream produces into dst. See Pipe.
func (r *Readable) Pipe(dst Destination, opts *PipeOptions) *PipeFuture {
	return Pipe(r, dst, opts)
}

// Pause suspends flow-mode delivery and, when no reads are outstanding,
// releases the loop watch. Idempotent; emits "pause" on the transition.
func (r *Readable) Pause() {
	r.mu.Lock()
	if r.closed || r.paused {
		r.mu.Unlock()
		return
	}
	r.paused = true
	if r.pending.empty() {
		r.dropWatchLocked()
	}
	r.mu.Unlock()
	r.events.Emit("pause")
}

// Resume re-enables flow-mode delivery and re-arms the watch while the
// stream is readable. Idempotent; emits "resume" on the transition.
func (r *Readable) Resume() {
	r.mu.Lock()
	if r.closed || !r.paused {
		r.mu.Unlock()
		return
	}
	r.paused = false
	var armErr error
	if !r.eof {
		armErr = r.ensureWatchLocked()
	}
	r.mu.Unlock()

	r.events.Emit("resume")
	if armErr != nil {
		r.fail(errIO("resume", armErr))
	}
}

// Seek repositions the descriptor, discards the read buffer and clears the
// end-of-stream state. Seeking with outstanding read requests is refused.
func (r *Readable) Seek(offset int64, whence int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errClosed("seek")
	}
	if !r.pending.empty() {
		return pkgerrors.New("stream: seek: pending reads outstanding")
	}
	if _, err := r.desc.Seek(offset, whence); err != nil {
		return err
	}
	r.buf.Reset()
	r.eof = false
	return nil
}

// Close tears the stream down: the watch is released, pending reads reject
// with the closed error, the descriptor is closed and "close" fires once.
// Idempotent.
func (r *Readable) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.readable = false
	r.dropWatchLocked()
	reqs := r.pending.drain()
	r.buf.Reset()
	r.mu.Unlock()

	for _, q := range reqs {
		q.fut.Reject(errClosed("read"))
	}
	cerr := r.desc.Close()
	r.events.Emit("close")
	r.events.RemoveAll()
	return cerr
}

// unshift prepends bytes so the next read sees them first.
func (r *Readable) unshift(p []byte) {
	r.mu.Lock()
	r.buf.Unshift(p)
	r.mu.Unlock()
}

// fail is the terminal error path: error event, pending rejections, close.
func (r *Readable) fail(err error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.dropWatchLocked()
	reqs := r.pending.drain()
	r.mu.Unlock()

	r.events.Emit("error", err)
	for _, q := range reqs {
		q.fut.Reject(err)
	}
	r.Close()
}

// onReadable runs on the loop goroutine when the descriptor reports ready.
func (r *Readable) onReadable() {
	r.mu.Lock()
	if r.closed || r.eof {
		r.mu.Unlock()
		return
	}
	if r.paused && r.pending.empty() {
		// Watch should not be armed here; guard defensively.
		r.mu.Unlock()
		return
	}

	readLen := r.chunkSize
	if head := r.pending.head(); head != nil && head.n > 0 {
		readLen = head.n
	}
	if readLen < 1 {
		readLen = 1
	}

	p := make([]byte, readLen)
	n, err := r.desc.Read(p)

	if errors.Is(err, fdio.ErrWouldBlock) {
		r.mu.Unlock()
		return
	}
	if errors.Is(err, io.EOF) {
		r.dropWatchLocked()
		reqs := r.pending.drain()
		r.eof = true
		r.mu.Unlock()

		for _, q := range reqs {
			q.fut.Resolve(nil)
		}
		r.events.Emit("end")
		return
	}
	if err != nil {
		r.mu.Unlock()
		r.fail(errIO("read", err))
		return
	}
	if n == 0 {
		// Not ready after all; the loop will call again.
		r.mu.Unlock()
		return
	}

	data := p[:n]
	head := r.pending.pop()
	if head == nil && !r.events.HasListener("data") {
		// Nobody to hand the bytes to; keep them for the next read.
		r.buf.Unshift(data)
		r.autoPauseLocked()
		return
	}
	r.mu.Unlock()

	r.events.Emit("data", data)
	if head != nil {
		head.fut.Resolve(data)
	}

	r.mu.Lock()
	if r.pending.empty() && !r.events.HasListener("data") {
		r.autoPauseLocked()
		return
	}
	if r.pending.empty() && r.paused {
		r.dropWatchLocked()
	}
	r.mu.Unlock()
}

// autoPauseLocked pauses after a dispatch left nothing to deliver to.
// Unlocks r.mu and emits "pause" when the state changed.
func (r *Readable) autoPauseLocked() {
	wasPaused := r.paused
	r.paused = true
	r.dropWatchLocked()
	r.mu.Unlock()
	if !wasPaused {
		r.events.Emit("pause")
	}
}

// cancelRead detaches a cancelled request and releases the watch when no
// consumer remains.
func (r *Readable) cancelRead(req *readRequest) {
	r.mu.Lock()
	if !r.pending.remove(req) {
		r.mu.Unlock()
		return
	}
	if r.pending.empty() && (r.paused || !r.events.HasListener("data")) {
		r.dropWatchLocked()
	}
	r.mu.Unlock()
}

func (r *Readable) ensureWatchLocked() error {
	if r.watch != nil || r.closed || !r.readable || r.eof {
		return nil
	}
	if r.paused && r.pending.empty() {
		return nil
	}
	w, err := r.loop.Watch(r.desc.Fd(), DirRead, r.onReadable)
	if err != nil {
		return err
	}
	r.watch = w
	return nil
}

func (r *Readable) dropWatchLocked() {
	if r.watch != nil {
		r.loop.Unwatch(r.watch)
		r.watch = nil
	}
}

// innerRead tracks the in-flight inner read of a chained operation so the
// outer future's cancellation can propagate.
type innerRead struct {
	mu        sync.Mutex
	cur       *ReadFuture
	cancelled bool
}

// set records the current inner future; reports false when the chain was
// already cancelled (the inner read is cancelled immediately).
func (i *innerRead) set(f *ReadFuture) bool {
	i.mu.Lock()
	if i.cancelled {
		i.mu.Unlock()
		f.Cancel()
		return false
	}
	i.cur = f
	i.mu.Unlock()
	return true
}

func (i *innerRead) cancel() {
	i.mu.Lock()
	cur := i.cur
	i.cancelled = true
	i.mu.Unlock()
	if cur != nil {
		cur.Cancel()
	}
}
