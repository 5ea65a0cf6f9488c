//go:build linux

package poll

import (
	"sync"

	pkgerrors "github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

type epollPoller struct {
	mu      sync.Mutex
	epfd    int
	wakeR   int
	wakeW   int
	tracked map[int]bool
	closed  bool
}

// New creates the platform poller.
func New() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "poll: epoll_create")
	}

	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		unix.Close(epfd)
		return nil, pkgerrors.Wrap(err, "poll: wake pipe")
	}

	p := &epollPoller{
		epfd:    epfd,
		wakeR:   fds[0],
		wakeW:   fds[1],
		tracked: make(map[int]bool),
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(p.wakeR)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, p.wakeR, &ev); err != nil {
		p.Close()
		return nil, pkgerrors.Wrap(err, "poll: register wake pipe")
	}
	return p, nil
}

func (p *epollPoller) Set(fd int, read, write bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return pkgerrors.New("poll: poller closed")
	}

	if !read && !write {
		if p.tracked[fd] {
			delete(p.tracked, fd)
			if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && err != unix.ENOENT && err != unix.EBADF {
				return pkgerrors.Wrap(err, "poll: epoll_ctl del")
			}
		}
		return nil
	}

	var events uint32
	if read {
		events |= unix.EPOLLIN
	}
	if write {
		events |= unix.EPOLLOUT
	}
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}

	op := unix.EPOLL_CTL_ADD
	if p.tracked[fd] {
		op = unix.EPOLL_CTL_MOD
	}
	if err := unix.EpollCtl(p.epfd, op, fd, &ev); err != nil {
		if op == unix.EPOLL_CTL_ADD && err == unix.EEXIST {
			err = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
		}
		if err != nil {
			return pkgerrors.Wrap(err, "poll: epoll_ctl")
		}
	}
	p.tracked[fd] = true
	return nil
}

func (p *epollPoller) Wait(events []Event, timeoutMs int) (int, error) {
	raw := make([]unix.EpollEvent, len(events))
	for {
		n, err := unix.EpollWait(p.epfd, raw, timeoutMs)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, pkgerrors.Wrap(err, "poll: epoll_wait")
		}

		out := 0
		for i := 0; i < n; i++ {
			fd := int(raw[i].Fd)
			if fd == p.wakeR {
				p.drainWake()
				continue
			}
			events[out] = Event{
				Fd:       fd,
				Readable: raw[i].Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0,
				Writable: raw[i].Events&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0,
			}
			out++
		}
		return out, nil
	}
}

func (p *epollPoller) drainWake() {
	var buf [64]byte
	for {
		if _, err := unix.Read(p.wakeR, buf[:]); err != nil {
			return
		}
	}
}

func (p *epollPoller) Wakeup() error {
	_, err := unix.Write(p.wakeW, []byte{0})
	if err == unix.EAGAIN {
		// Wake already pending.
		return nil
	}
	return err
}

func (p *epollPoller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	unix.Close(p.wakeR)
	unix.Close(p.wakeW)
	return unix.Close(p.epfd)
}
