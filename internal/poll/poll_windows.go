//go:build windows

package poll

import (
	"sync"
	"time"
)

// windowsPoller is a degenerate fallback: every watched descriptor is
// reported ready each wait cycle. Regular files on Windows keep blocking
// semantics anyway (non-blocking mode is deliberately not applied to
// them), so treating them as always ready preserves progress. While any
// descriptor is watched Wait returns at once; with none it blocks until
// Wakeup or the timeout.
type windowsPoller struct {
	mu      sync.Mutex
	tracked map[int][2]bool
	wake    chan struct{}
	closed  bool
}

// New creates the platform poller.
func New() (Poller, error) {
	return &windowsPoller{
		tracked: make(map[int][2]bool),
		wake:    make(chan struct{}, 1),
	}, nil
}

func (p *windowsPoller) Set(fd int, read, write bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !read && !write {
		delete(p.tracked, fd)
		return nil
	}
	p.tracked[fd] = [2]bool{read, write}
	return nil
}

func (p *windowsPoller) Wait(events []Event, timeoutMs int) (int, error) {
	p.mu.Lock()
	out := 0
	for fd, dirs := range p.tracked {
		if out == len(events) {
			break
		}
		events[out] = Event{Fd: fd, Readable: dirs[0], Writable: dirs[1]}
		out++
	}
	p.mu.Unlock()
	if out > 0 {
		return out, nil
	}

	var timeout <-chan time.Time
	if timeoutMs >= 0 {
		timer := time.NewTimer(time.Duration(timeoutMs) * time.Millisecond)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-p.wake:
	case <-timeout:
	}
	return 0, nil
}

func (p *windowsPoller) Wakeup() error {
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

func (p *windowsPoller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
