//go:build windows

package fdio

import (
	"io"
	"os"
	"syscall"

	pkgerrors "github.com/pkg/errors"
)

// Open opens path with the given flags. Regular files keep Windows' native
// blocking semantics; the poll fallback treats them as always ready.
func Open(path string, flag int, perm os.FileMode) (*FD, error) {
	fd, err := syscall.Open(path, flag, uint32(perm.Perm()))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "fdio: open %s", path)
	}
	return newFD(int(fd), KindFile, flag), nil
}

// FromFile duplicates f's handle into an independent descriptor.
func FromFile(f *os.File, kind Kind) (*FD, error) {
	proc, err := syscall.GetCurrentProcess()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "fdio: current process")
	}
	var dup syscall.Handle
	err = syscall.DuplicateHandle(proc, syscall.Handle(f.Fd()), proc, &dup, 0, false, syscall.DUPLICATE_SAME_ACCESS)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "fdio: duplicate handle")
	}
	return newFD(int(dup), kind, os.O_RDWR), nil
}

// FromConn duplicates a connected socket's descriptor.
func FromConn(c syscall.Conn) (*FD, error) {
	raw, err := c.SyscallConn()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "fdio: syscall conn")
	}
	proc, procErr := syscall.GetCurrentProcess()
	if procErr != nil {
		return nil, pkgerrors.Wrap(procErr, "fdio: current process")
	}
	var dup syscall.Handle
	var dupErr error
	ctlErr := raw.Control(func(fd uintptr) {
		dupErr = syscall.DuplicateHandle(proc, syscall.Handle(fd), proc, &dup, 0, false, syscall.DUPLICATE_SAME_ACCESS)
	})
	if ctlErr != nil {
		return nil, pkgerrors.Wrap(ctlErr, "fdio: control")
	}
	if dupErr != nil {
		return nil, pkgerrors.Wrap(dupErr, "fdio: dup socket")
	}
	return newFD(int(dup), KindSocket, os.O_RDWR), nil
}

// NewPipe creates an OS pipe and returns its read and write ends.
func NewPipe() (r *FD, w *FD, err error) {
	var p [2]syscall.Handle
	if err := syscall.Pipe(p[:]); err != nil {
		return nil, nil, pkgerrors.Wrap(err, "fdio: pipe")
	}
	return newFD(int(p[0]), KindPipe, os.O_RDONLY), newFD(int(p[1]), KindPipe, os.O_WRONLY), nil
}

// Stdin wraps the process standard input.
func Stdin() (*FD, error) { return stdio(syscall.STD_INPUT_HANDLE, os.O_RDONLY) }

// Stdout wraps the process standard output.
func Stdout() (*FD, error) { return stdio(syscall.STD_OUTPUT_HANDLE, os.O_WRONLY) }

// Stderr wraps the process standard error.
func Stderr() (*FD, error) { return stdio(syscall.STD_ERROR_HANDLE, os.O_WRONLY) }

func stdio(which int, flag int) (*FD, error) {
	h, err := syscall.GetStdHandle(which)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "fdio: std handle")
	}
	return newFD(int(h), KindStdio, flag), nil
}

// OpenTemp creates a temporary file open for reading and writing, removed
// on close by the OS delete-on-close hint being unavailable here; the file
// is removed eagerly after opening.
func OpenTemp() (*FD, error) {
	f, err := os.CreateTemp("", "streamio-*")
	if err != nil {
		return nil, pkgerrors.Wrap(err, "fdio: create temp")
	}
	d, err := FromFile(f, KindFile)
	name := f.Name()
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

func readFd(fd int, p []byte) (int, error) {
	n, err := syscall.Read(syscall.Handle(fd), p)
	if err != nil {
		return 0, pkgerrors.Wrap(err, "fdio: read")
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func writeFd(fd int, p []byte) (int, error) {
	n, err := syscall.Write(syscall.Handle(fd), p)
	if err != nil {
		return 0, pkgerrors.Wrap(err, "fdio: write")
	}
	return n, nil
}

func seekFd(fd int, offset int64, whence int) (int64, error) {
	pos, err := syscall.Seek(syscall.Handle(fd), offset, whence)
	if err != nil {
		return 0, pkgerrors.Wrap(err, "fdio: seek")
	}
	return pos, nil
}

func closeFd(fd int) error {
	if fd < 0 {
		return nil
	}
	if err := syscall.Close(syscall.Handle(fd)); err != nil {
		return pkgerrors.Wrap(err, "fdio: close")
	}
	return nil
}
