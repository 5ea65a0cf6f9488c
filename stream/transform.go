package stream

import (
	"sync"

	"github.com/rizqme/streamio/promise"
)

// TransformFunc rewrites a chunk on its way through a Transform. A nil
// function passes bytes through unchanged.
type TransformFunc func(p []byte) ([]byte, error)

// Transform is an in-memory duplex: writes run through the transform
// function and are emitted as "data" events on the readable side. There is
// no descriptor; consumers attach to "data" rather than calling Read.
// While paused, writes resolve with zero bytes accepted and the caller
// should wait for "drain", which fires on resume.
type Transform struct {
	mu       sync.Mutex
	events   *Emitter
	fn       TransformFunc
	paused   bool
	ending   bool
	ended    bool
	closed   bool
	draining bool
	endFut   *WriteFuture
}

// NewTransform creates a transform stream around fn.
func NewTransform(fn TransformFunc) *Transform {
	return &Transform{events: NewEmitter(), fn: fn}
}

// NewPassThrough creates a transform that forwards bytes unchanged.
func NewPassThrough() *Transform {
	return NewTransform(nil)
}

// On registers an event handler.
func (t *Transform) On(event string, handler interface{}) { t.events.On(event, handler) }

// Once registers a one-shot event handler.
func (t *Transform) Once(event string, handler interface{}) { t.events.Once(event, handler) }

// Off removes an event handler.
func (t *Transform) Off(event string, handler interface{}) { t.events.Off(event, handler) }

// Emit raises an event on the stream.
func (t *Transform) Emit(event string, args ...interface{}) { t.events.Emit(event, args...) }

// IsWritable reports whether new writes are accepted.
func (t *Transform) IsWritable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed && !t.ending
}

// IsReadable reports whether the stream can still emit data.
func (t *Transform) IsReadable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed && !t.ended
}

// IsPaused reports whether the stream is paused.
func (t *Transform) IsPaused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

// NeedsDrain reports whether a producer should wait for "drain". For an
// in-memory transform that is exactly the paused state.
func (t *Transform) NeedsDrain() bool {
	return t.IsPaused()
}

// Write runs p through the transform function and emits the result as a
// "data" event, resolving synchronously with len(p). While paused the
// chunk is refused: the future resolves with 0 and "drain" fires on
// resume.
func (t *Transform) Write(p []byte) *WriteFuture {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return promise.Rejected[int](errClosed("write"))
	}
	if t.ending {
		t.mu.Unlock()
		return promise.Rejected[int](errNotWritable("write"))
	}
	if len(p) == 0 {
		t.mu.Unlock()
		return promise.Resolved(0)
	}
	if t.paused {
		t.draining = true
		t.mu.Unlock()
		return promise.Resolved(0)
	}
	fn := t.fn
	t.mu.Unlock()

	out, err := t.apply(fn, p)
	if err != nil {
		t.events.Emit("error", err)
		return promise.Rejected[int](err)
	}
	if len(out) > 0 {
		t.events.Emit("data", out)
	}
	return promise.Resolved(len(p))
}

// WriteLine writes p followed by a newline byte.
func (t *Transform) WriteLine(p []byte) *WriteFuture {
	line := make([]byte, 0, len(p)+1)
	line = append(line, p...)
	line = append(line, '\n')
	return t.Write(line)
}

func (t *Transform) apply(fn TransformFunc, p []byte) ([]byte, error) {
	if fn == nil {
		return p, nil
	}
	return fn(p)
}

// End writes the optional final chunk (even through a pause), emits "end"
// then "finish", and closes. Idempotent.
func (t *Transform) End(p []byte) *WriteFuture {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return promise.Resolved(0)
	}
	if t.ending {
		fut := t.endFut
		t.mu.Unlock()
		return fut
	}
	t.ending = true
	t.endFut = promise.New[int]()
	fut := t.endFut
	fn := t.fn
	t.mu.Unlock()

	size := 0
	if len(p) > 0 {
		out, err := t.apply(fn, p)
		if err != nil {
			t.events.Emit("error", err)
		} else {
			size = len(p)
			if len(out) > 0 {
				t.events.Emit("data", out)
			}
		}
	}

	t.mu.Lock()
	t.ended = true
	t.mu.Unlock()

	t.events.Emit("end")
	t.events.Emit("finish")
	t.Close()
	fut.Resolve(size)
	return fut
}

// Pause suspends emission; subsequent writes are refused until Resume.
func (t *Transform) Pause() {
	t.mu.Lock()
	if t.closed || t.paused {
		t.mu.Unlock()
		return
	}
	t.paused = true
	t.mu.Unlock()
	t.events.Emit("pause")
}

// Resume lifts a pause and, if any write was refused meanwhile, emits
// "drain" so producers retry.
func (t *Transform) Resume() {
	t.mu.Lock()
	if t.closed || !t.paused {
		t.mu.Unlock()
		return
	}
	t.paused = false
	drained := t.draining
	t.draining = false
	t.mu.Unlock()

	t.events.Emit("resume")
	if drained {
		t.events.Emit("drain")
	}
}

// Pipe connects the transform's readable side to dst.
func (t *Transform) Pipe(dst Destination, opts *PipeOptions) *PipeFuture {
	return Pipe(t, dst, opts)
}

// Close tears the stream down and emits "close" once. Idempotent.
func (t *Transform) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.events.Emit("close")
	t.events.RemoveAll()
	return nil
}
