// Package eventloop runs the readiness loop behind descriptor-backed
// streams: a single goroutine that waits on the platform poller, fires
// watch callbacks, and drains scheduled tasks. It implements stream.Loop.
package eventloop

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/rizqme/streamio/internal/poll"
	"github.com/rizqme/streamio/stream"
)

// watch is one registered readiness interest.
type watch struct {
	fd     int
	dir    stream.Direction
	cb     func()
	active bool
}

// fdInterest groups the watches of one descriptor.
type fdInterest struct {
	readers []*watch
	writers []*watch
}

// Loop is the production event loop. Create with New, drive with Run
// (usually on its own goroutine), stop with Stop. Watch, Unwatch and
// Schedule are safe from any goroutine, including from inside callbacks.
type Loop struct {
	mu      sync.Mutex
	poller  poll.Poller
	fds     map[int]*fdInterest
	ready   []*watch // fd-less watches: always ready while active
	tasks   []func()
	running bool
	stopped bool
	done    chan struct{}
}

// New creates a loop over the platform poller.
func New() (*Loop, error) {
	p, err := poll.New()
	if err != nil {
		return nil, err
	}
	return &Loop{
		poller: p,
		fds:    make(map[int]*fdInterest),
		done:   make(chan struct{}),
	}, nil
}

// Watch registers cb to run on the loop goroutine whenever fd is ready in
// the given direction. A negative fd has no OS handle and is treated as
// always ready while watched.
func (l *Loop) Watch(fd int, dir stream.Direction, cb func()) (stream.Watch, error) {
	w := &watch{fd: fd, dir: dir, cb: cb, active: true}

	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return nil, errLoopStopped
	}
	if fd < 0 {
		l.ready = append(l.ready, w)
		l.mu.Unlock()
		l.poller.Wakeup()
		return w, nil
	}

	in := l.fds[fd]
	if in == nil {
		in = &fdInterest{}
		l.fds[fd] = in
	}
	if dir == stream.DirRead {
		in.readers = append(in.readers, w)
	} else {
		in.writers = append(in.writers, w)
	}
	err := l.poller.Set(fd, len(in.readers) > 0, len(in.writers) > 0)
	l.mu.Unlock()

	if err != nil {
		l.Unwatch(w)
		return nil, err
	}
	return w, nil
}

// Unwatch releases a watch. Safe to call with a handle already released.
func (l *Loop) Unwatch(h stream.Watch) {
	w, ok := h.(*watch)
	if !ok || w == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if !w.active {
		return
	}
	w.active = false

	if w.fd < 0 {
		for i, r := range l.ready {
			if r == w {
				l.ready = append(l.ready[:i], l.ready[i+1:]...)
				break
			}
		}
		return
	}

	in := l.fds[w.fd]
	if in == nil {
		return
	}
	remove := func(list []*watch) []*watch {
		for i, r := range list {
			if r == w {
				return append(list[:i], list[i+1:]...)
			}
		}
		return list
	}
	in.readers = remove(in.readers)
	in.writers = remove(in.writers)

	if len(in.readers) == 0 && len(in.writers) == 0 {
		delete(l.fds, w.fd)
	}
	if err := l.poller.Set(w.fd, len(in.readers) > 0, len(in.writers) > 0); err != nil {
		log.Debug().Err(err).Int("fd", w.fd).Msg("eventloop: interest update failed")
	}
}

// Schedule queues fn for the next loop turn.
func (l *Loop) Schedule(fn func()) {
	l.mu.Lock()
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()
	l.poller.Wakeup()
}

// Run drives the loop until Stop. It returns the first poller failure.
func (l *Loop) Run() error {
	l.mu.Lock()
	if l.running || l.stopped {
		l.mu.Unlock()
		return errLoopStopped
	}
	l.running = true
	l.mu.Unlock()

	defer func() {
		close(l.done)
		l.poller.Close()
	}()

	events := make([]poll.Event, 64)
	for {
		l.mu.Lock()
		if l.stopped {
			l.mu.Unlock()
			return nil
		}
		tasks := l.tasks
		l.tasks = nil
		readyNow := make([]*watch, len(l.ready))
		copy(readyNow, l.ready)
		l.mu.Unlock()

		for _, fn := range tasks {
			fn()
		}
		for _, w := range readyNow {
			l.fire(w)
		}

		// Block only when nothing is immediately runnable; fd-less
		// watches keep the loop turning.
		timeout := -1
		l.mu.Lock()
		if len(l.ready) > 0 || len(l.tasks) > 0 {
			timeout = 0
		}
		l.mu.Unlock()

		n, err := l.poller.Wait(events, timeout)
		if err != nil {
			l.mu.Lock()
			l.stopped = true
			l.mu.Unlock()
			return err
		}
		for i := 0; i < n; i++ {
			l.dispatch(events[i])
		}
	}
}

// dispatch fires the callbacks watching an event's descriptor.
func (l *Loop) dispatch(ev poll.Event) {
	l.mu.Lock()
	in := l.fds[ev.Fd]
	if in == nil {
		l.mu.Unlock()
		return
	}
	var toFire []*watch
	if ev.Readable {
		toFire = append(toFire, in.readers...)
	}
	if ev.Writable {
		toFire = append(toFire, in.writers...)
	}
	l.mu.Unlock()

	for _, w := range toFire {
		l.fire(w)
	}
}

// fire runs one callback if its watch is still active.
func (l *Loop) fire(w *watch) {
	l.mu.Lock()
	active := w.active
	l.mu.Unlock()
	if active {
		w.cb()
	}
}

// Stop asks the loop to halt; Run releases the poller and closes Done on
// its way out. Safe to call from loop callbacks. Idempotent.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	running := l.running
	l.mu.Unlock()

	if running {
		l.poller.Wakeup()
	} else {
		// Run never started; nothing will release the poller.
		l.poller.Close()
		close(l.done)
	}
}

// Done is closed once the loop has fully shut down.
func (l *Loop) Done() <-chan struct{} { return l.done }
