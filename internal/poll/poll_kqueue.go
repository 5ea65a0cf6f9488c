//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package poll

import (
	"sync"

	pkgerrors "github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

type kqueuePoller struct {
	mu      sync.Mutex
	kq      int
	wakeR   int
	wakeW   int
	tracked map[int][2]bool // fd -> {read, write} filters registered
	closed  bool
}

// New creates the platform poller.
func New() (Poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "poll: kqueue")
	}

	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		unix.Close(kq)
		return nil, pkgerrors.Wrap(err, "poll: wake pipe")
	}
	for _, fd := range fds {
		unix.SetNonblock(fd, true)
		unix.CloseOnExec(fd)
	}

	p := &kqueuePoller{
		kq:      kq,
		wakeR:   fds[0],
		wakeW:   fds[1],
		tracked: make(map[int][2]bool),
	}
	var ev unix.Kevent_t
	unix.SetKevent(&ev, p.wakeR, unix.EVFILT_READ, unix.EV_ADD)
	if _, err := unix.Kevent(kq, []unix.Kevent_t{ev}, nil, nil); err != nil {
		p.Close()
		return nil, pkgerrors.Wrap(err, "poll: register wake pipe")
	}
	return p, nil
}

func (p *kqueuePoller) Set(fd int, read, write bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return pkgerrors.New("poll: poller closed")
	}

	cur := p.tracked[fd]
	var changes []unix.Kevent_t
	apply := func(filter int16, want, have bool) {
		if want == have {
			return
		}
		var ev unix.Kevent_t
		flags := unix.EV_ADD
		if !want {
			flags = unix.EV_DELETE
		}
		unix.SetKevent(&ev, fd, int(filter), flags)
		changes = append(changes, ev)
	}
	apply(unix.EVFILT_READ, read, cur[0])
	apply(unix.EVFILT_WRITE, write, cur[1])

	if len(changes) > 0 {
		if _, err := unix.Kevent(p.kq, changes, nil, nil); err != nil && err != unix.ENOENT && err != unix.EBADF {
			return pkgerrors.Wrap(err, "poll: kevent change")
		}
	}

	if !read && !write {
		delete(p.tracked, fd)
	} else {
		p.tracked[fd] = [2]bool{read, write}
	}
	return nil
}

func (p *kqueuePoller) Wait(events []Event, timeoutMs int) (int, error) {
	raw := make([]unix.Kevent_t, len(events))
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMs) * 1e6)
		ts = &t
	}

	for {
		n, err := unix.Kevent(p.kq, nil, raw, ts)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, pkgerrors.Wrap(err, "poll: kevent wait")
		}

		out := 0
		for i := 0; i < n; i++ {
			fd := int(raw[i].Ident)
			if fd == p.wakeR {
				p.drainWake()
				continue
			}
			events[out] = Event{
				Fd:       fd,
				Readable: raw[i].Filter == unix.EVFILT_READ,
				Writable: raw[i].Filter == unix.EVFILT_WRITE,
			}
			out++
		}
		return out, nil
	}
}

func (p *kqueuePoller) drainWake() {
	var buf [64]byte
	for {
		if _, err := unix.Read(p.wakeR, buf[:]); err != nil {
			return
		}
	}
}

func (p *kqueuePoller) Wakeup() error {
	_, err := unix.Write(p.wakeW, []byte{0})
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (p *kqueuePoller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	unix.Close(p.wakeR)
	unix.Close(p.wakeW)
	return unix.Close(p.kq)
}
