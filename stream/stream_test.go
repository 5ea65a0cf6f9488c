package stream

import (
	"io"
	"sync"
	"testing"

	"github.com/rizqme/streamio/fdio"
)

var (
	errEOF             = io.EOF
	errNotSeekableTest = fdio.ErrNotSeekable
)

// fakeLoop is the test double for the event-loop collaborator: watches are
// recorded, never blocked on, and fired by hand (or pumped until quiet).
type fakeLoop struct {
	mu      sync.Mutex
	watches []*fakeWatch
	tasks   []func()
}

type fakeWatch struct {
	fd     int
	dir    Direction
	cb     func()
	active bool
}

func newFakeLoop() *fakeLoop { return &fakeLoop{} }

func (l *fakeLoop) Watch(fd int, dir Direction, cb func()) (Watch, error) {
	w := &fakeWatch{fd: fd, dir: dir, cb: cb, active: true}
	l.mu.Lock()
	l.watches = append(l.watches, w)
	l.mu.Unlock()
	return w, nil
}

func (l *fakeLoop) Unwatch(h Watch) {
	w, ok := h.(*fakeWatch)
	if !ok {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	w.active = false
	for i, cand := range l.watches {
		if cand == w {
			l.watches = append(l.watches[:i], l.watches[i+1:]...)
			return
		}
	}
}

func (l *fakeLoop) Schedule(fn func()) {
	l.mu.Lock()
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()
}

// runTasks drains the scheduled-task queue once.
func (l *fakeLoop) runTasks() {
	l.mu.Lock()
	tasks := l.tasks
	l.tasks = nil
	l.mu.Unlock()
	for _, fn := range tasks {
		fn()
	}
}

// fire invokes every active watch in the given direction once.
func (l *fakeLoop) fire(dir Direction) int {
	l.mu.Lock()
	snapshot := make([]*fakeWatch, 0, len(l.watches))
	for _, w := range l.watches {
		if w.active && w.dir == dir {
			snapshot = append(snapshot, w)
		}
	}
	l.mu.Unlock()

	fired := 0
	for _, w := range snapshot {
		l.mu.Lock()
		active := w.active
		l.mu.Unlock()
		if active {
			w.cb()
			fired++
		}
	}
	return fired
}

// pump runs tasks and fires every watch until the loop goes quiet. Fails
// the test if activity never settles (a spinning stream).
func (l *fakeLoop) pump(t *testing.T) {
	t.Helper()
	for i := 0; i < 100000; i++ {
		l.runTasks()
		fired := l.fire(DirRead) + l.fire(DirWrite)
		l.mu.Lock()
		pendingTasks := len(l.tasks)
		l.mu.Unlock()
		if fired == 0 && pendingTasks == 0 {
			return
		}
	}
	t.Fatal("loop did not settle")
}

func (l *fakeLoop) watchCount(dir Direction) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, w := range l.watches {
		if w.active && w.dir == dir {
			n++
		}
	}
	return n
}

// testDesc is a scripted descriptor: reads come from a queue of steps,
// writes accumulate with a configurable per-call acceptance cap, and
// failures can be injected at any point.
type testDesc struct {
	mu             sync.Mutex
	readSteps      []readStep
	eofAfterSteps  bool
	written        []byte
	acceptPerWrite int // 0 means accept everything
	writeErr       error
	writeZero      bool
	readOnly       bool
	writeOnly      bool
	seekable       bool
	position       int64
	closeCount     int
}

type readStep struct {
	data []byte
	err  error
}

func newTestDesc() *testDesc { return &testDesc{seekable: true} }

func (d *testDesc) queueRead(data []byte) {
	d.withLock(func() { d.readSteps = append(d.readSteps, readStep{data: data}) })
}

func (d *testDesc) queueReadErr(err error) {
	d.withLock(func() { d.readSteps = append(d.readSteps, readStep{err: err}) })
}

func (d *testDesc) finishReads() {
	d.withLock(func() { d.eofAfterSteps = true })
}

func (d *testDesc) withLock(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn()
}

func (d *testDesc) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.readSteps) == 0 {
		if d.eofAfterSteps {
			return 0, errEOF
		}
		return 0, ErrWouldBlock
	}
	step := d.readSteps[0]
	if step.err != nil {
		d.readSteps = d.readSteps[1:]
		return 0, step.err
	}
	n := copy(p, step.data)
	if n < len(step.data) {
		d.readSteps[0].data = step.data[n:]
	} else {
		d.readSteps = d.readSteps[1:]
	}
	return n, nil
}

func (d *testDesc) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.writeErr != nil {
		err := d.writeErr
		d.writeErr = nil
		return 0, err
	}
	if d.writeZero {
		return 0, nil
	}
	n := len(p)
	if d.acceptPerWrite > 0 && n > d.acceptPerWrite {
		n = d.acceptPerWrite
	}
	d.written = append(d.written, p[:n]...)
	return n, nil
}

func (d *testDesc) Seek(offset int64, whence int) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.seekable {
		return 0, errNotSeekableTest
	}
	d.position = offset
	return offset, nil
}

func (d *testDesc) Fd() int        { return 1000 }
func (d *testDesc) CanRead() bool  { return !d.writeOnly }
func (d *testDesc) CanWrite() bool { return !d.readOnly }

func (d *testDesc) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeCount++
	return nil
}

func (d *testDesc) writtenBytes() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]byte, len(d.written))
	copy(out, d.written)
	return out
}

func (d *testDesc) closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closeCount
}
