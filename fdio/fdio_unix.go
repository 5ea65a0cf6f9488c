//go:build !windows

package fdio

import (
	"io"
	"os"
	"syscall"

	pkgerrors "github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Open opens path with the given flags (os.O_RDONLY and friends) in
// non-blocking mode and returns a file descriptor handle.
func Open(path string, flag int, perm os.FileMode) (*FD, error) {
	fd, err := unix.Open(path, flag|unix.O_NONBLOCK|unix.O_CLOEXEC, uint32(perm.Perm()))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "fdio: open %s", path)
	}
	return newFD(fd, KindFile, flag), nil
}

// FromFile duplicates f's descriptor into an independent non-blocking
// handle. The original file stays usable and must still be closed by its
// owner. kind tells the descriptor's nature (file, pipe, stdio).
func FromFile(f *os.File, kind Kind) (*FD, error) {
	dup, err := unix.Dup(int(f.Fd()))
	if err != nil {
		return nil, pkgerrors.Wrap(err, "fdio: dup")
	}
	d := newFD(dup, kind, os.O_RDWR)
	if err := setNonblock(dup, kind); err != nil {
		closeFd(dup)
		return nil, err
	}
	return d, nil
}

// FromConn duplicates a connected socket's descriptor. Works for TCP, UDP
// and Unix sockets; anything exposing syscall.Conn.
func FromConn(c syscall.Conn) (*FD, error) {
	raw, err := c.SyscallConn()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "fdio: syscall conn")
	}
	var dup int
	var dupErr error
	ctlErr := raw.Control(func(fd uintptr) {
		dup, dupErr = unix.Dup(int(fd))
	})
	if ctlErr != nil {
		return nil, pkgerrors.Wrap(ctlErr, "fdio: control")
	}
	if dupErr != nil {
		return nil, pkgerrors.Wrap(dupErr, "fdio: dup socket")
	}
	d := newFD(dup, KindSocket, os.O_RDWR)
	if err := setNonblock(dup, KindSocket); err != nil {
		closeFd(dup)
		return nil, err
	}
	return d, nil
}

// NewPipe creates a non-blocking OS pipe and returns its read and write
// ends.
func NewPipe() (r *FD, w *FD, err error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, nil, pkgerrors.Wrap(err, "fdio: pipe")
	}
	for _, fd := range fds {
		if err := setNonblock(fd, KindPipe); err != nil {
			closeFd(fds[0])
			closeFd(fds[1])
			return nil, nil, err
		}
		unix.CloseOnExec(fd)
	}
	return newFD(fds[0], KindPipe, os.O_RDONLY), newFD(fds[1], KindPipe, os.O_WRONLY), nil
}

// Stdin wraps a duplicate of the process standard input.
func Stdin() (*FD, error) { return stdio(0, os.O_RDONLY) }

// Stdout wraps a duplicate of the process standard output.
func Stdout() (*FD, error) { return stdio(1, os.O_WRONLY) }

// Stderr wraps a duplicate of the process standard error.
func Stderr() (*FD, error) { return stdio(2, os.O_WRONLY) }

func stdio(fd int, flag int) (*FD, error) {
	dup, err := unix.Dup(fd)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "fdio: dup stdio %d", fd)
	}
	d := newFD(dup, KindStdio, flag)
	if err := setNonblock(dup, KindStdio); err != nil {
		closeFd(dup)
		return nil, err
	}
	return d, nil
}

// OpenTemp creates an unlinked temporary file open for reading and
// writing. The backing storage goes away with the descriptor.
func OpenTemp() (*FD, error) {
	f, err := os.CreateTemp("", "streamio-*")
	if err != nil {
		return nil, pkgerrors.Wrap(err, "fdio: create temp")
	}
	name := f.Name()
	d, err := FromFile(f, KindFile)
	f.Close()
	os.Remove(name)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func newFD(fd int, kind Kind, flag int) *FD {
	access := flag & (os.O_RDONLY | os.O_WRONLY | os.O_RDWR)
	return &FD{
		fd:       fd,
		kind:     kind,
		canRead:  access == os.O_RDONLY || access == os.O_RDWR,
		canWrite: access == os.O_WRONLY || access == os.O_RDWR,
		seekable: kind == KindFile,
	}
}

// setNonblock switches fd to non-blocking mode. Applies to every kind on
// Unix-like platforms.
func setNonblock(fd int, kind Kind) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return pkgerrors.Wrap(err, "fdio: set nonblock")
	}
	return nil
}

func readFd(fd int, p []byte) (int, error) {
	for {
		n, err := unix.Read(fd, p)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			return 0, ErrWouldBlock
		case err != nil:
			return 0, pkgerrors.Wrap(err, "fdio: read")
		case n == 0:
			return 0, io.EOF
		default:
			return n, nil
		}
	}
}

func writeFd(fd int, p []byte) (int, error) {
	for {
		n, err := unix.Write(fd, p)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			return 0, ErrWouldBlock
		case err != nil:
			return 0, pkgerrors.Wrap(err, "fdio: write")
		default:
			return n, nil
		}
	}
}

func seekFd(fd int, offset int64, whence int) (int64, error) {
	pos, err := unix.Seek(fd, offset, whence)
	if err != nil {
		return 0, pkgerrors.Wrap(err, "fdio: seek")
	}
	return pos, nil
}

func closeFd(fd int) error {
	if fd < 0 {
		return nil
	}
	if err := unix.Close(fd); err != nil {
		return pkgerrors.Wrap(err, "fdio: close")
	}
	return nil
}
