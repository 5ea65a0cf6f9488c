package stream

import (
	"errors"
	"sync"
)

// sharedDescriptor hands one descriptor to both halves of a resource
// duplex. Each half closes its reference; the underlying descriptor closes
// exactly once, when the last reference goes.
type sharedDescriptor struct {
	mu   sync.Mutex
	desc Descriptor
	refs int
}

func newSharedDescriptor(desc Descriptor, refs int) *sharedDescriptor {
	return &sharedDescriptor{desc: desc, refs: refs}
}

func (s *sharedDescriptor) Read(p []byte) (int, error) { return s.desc.Read(p) }

func (s *sharedDescriptor) Write(p []byte) (int, error) { return s.desc.Write(p) }

func (s *sharedDescriptor) Seek(offset int64, whence int) (int64, error) {
	return s.desc.Seek(offset, whence)
}

func (s *sharedDescriptor) Fd() int { return s.desc.Fd() }

func (s *sharedDescriptor) CanRead() bool { return s.desc.CanRead() }

func (s *sharedDescriptor) CanWrite() bool { return s.desc.CanWrite() }

func (s *sharedDescriptor) Close() error {
	s.mu.Lock()
	s.refs--
	last := s.refs == 0
	s.mu.Unlock()
	if last {
		return s.desc.Close()
	}
	return nil
}

// duplexKind selects the close-coupling rules.
type duplexKind int

const (
	duplexResource duplexKind = iota
	duplexComposite
)

// Duplex exposes the union of a Readable and a Writable with coupled
// lifecycles. The resource variant binds both halves to one descriptor;
// the composite variant glues two independent halves (say, a process's
// stdin and stdout). Half events are forwarded and "close" fires at most
// once on the duplex.
type Duplex struct {
	mu     sync.Mutex
	events *Emitter
	reader *Readable
	writer *Writable
	kind   duplexKind
	closed bool
}

// NewDuplex builds a resource duplex over desc, which must be open for both
// reading and writing. The descriptor is closed exactly once no matter
// which half goes down first.
func NewDuplex(loop Loop, desc Descriptor, ropts *ReadableOptions, wopts *WritableOptions) (*Duplex, error) {
	if desc == nil {
		return nil, errInvalidDescriptor("new duplex", errors.New("nil descriptor"))
	}
	if !desc.CanRead() || !desc.CanWrite() {
		return nil, errInvalidDescriptor("new duplex", errors.New("descriptor must be open for reading and writing"))
	}

	shared := newSharedDescriptor(desc, 2)
	reader, err := NewReadable(loop, shared, ropts)
	if err != nil {
		return nil, err
	}
	writer, err := NewWritable(loop, shared, wopts)
	if err != nil {
		return nil, err
	}

	d := &Duplex{
		events: NewEmitter(),
		reader: reader,
		writer: writer,
		kind:   duplexResource,
	}
	d.wire()
	return d, nil
}

// NewCompositeDuplex glues an existing readable and writable, each over its
// own descriptor. Closing one half closes the duplex only once the other
// half is already down; an explicit Close takes both.
func NewCompositeDuplex(reader *Readable, writer *Writable) (*Duplex, error) {
	if reader == nil || writer == nil {
		return nil, errInvalidDescriptor("new duplex", errors.New("both halves required"))
	}
	d := &Duplex{
		events: NewEmitter(),
		reader: reader,
		writer: writer,
		kind:   duplexComposite,
	}
	d.wire()
	return d, nil
}

// wire forwards half events onto the duplex emitter and couples close.
func (d *Duplex) wire() {
	d.reader.On("data", func(b []byte) { d.events.Emit("data", b) })
	d.reader.On("end", func() { d.events.Emit("end") })
	d.reader.On("pause", func() { d.events.Emit("pause") })
	d.reader.On("resume", func() { d.events.Emit("resume") })
	d.reader.On("error", func(err error) { d.events.Emit("error", err) })
	d.writer.On("drain", func() { d.events.Emit("drain") })
	d.writer.On("finish", func() { d.events.Emit("finish") })
	d.writer.On("error", func(err error) { d.events.Emit("error", err) })

	d.reader.On("close", d.readerClosed)
	d.writer.On("close", d.writerClosed)
}

func (d *Duplex) readerClosed() {
	if d.kind == duplexComposite && d.writer.IsWritable() {
		// Writable half still alive; the composite stays up.
		return
	}
	d.shutdown()
}

func (d *Duplex) writerClosed() {
	if d.kind == duplexComposite && d.reader.IsReadable() {
		return
	}
	d.shutdown()
}

// shutdown closes both halves and emits "close" once.
func (d *Duplex) shutdown() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.reader.Close()
	d.writer.Close()
	d.events.Emit("close")
	d.events.RemoveAll()
}

// On registers an event handler.
func (d *Duplex) On(event string, handler interface{}) { d.events.On(event, handler) }

// Once registers a one-shot event handler.
func (d *Duplex) Once(event string, handler interface{}) { d.events.Once(event, handler) }

// Off removes an event handler.
func (d *Duplex) Off(event string, handler interface{}) { d.events.Off(event, handler) }

// Emit raises an event on the duplex.
func (d *Duplex) Emit(event string, args ...interface{}) { d.events.Emit(event, args...) }

// Reader returns the readable half.
func (d *Duplex) Reader() *Readable { return d.reader }

// Writer returns the writable half.
func (d *Duplex) Writer() *Writable { return d.writer }

// Read requests up to n bytes from the readable half.
func (d *Duplex) Read(n int) *ReadFuture { return d.reader.Read(n) }

// ReadLine reads one line from the readable half.
func (d *Duplex) ReadLine(max int) *ReadFuture { return d.reader.ReadLine(max) }

// ReadAll reads the readable half to its end.
func (d *Duplex) ReadAll(max int) *ReadFuture { return d.reader.ReadAll(max) }

// Pipe connects the readable half to dst.
func (d *Duplex) Pipe(dst Destination, opts *PipeOptions) *PipeFuture {
	return d.reader.Pipe(dst, opts)
}

// Write queues p on the writable half.
func (d *Duplex) Write(p []byte) *WriteFuture { return d.writer.Write(p) }

// WriteLine writes p plus a newline on the writable half.
func (d *Duplex) WriteLine(p []byte) *WriteFuture { return d.writer.WriteLine(p) }

// End pauses the readable half, then ends the writable half.
func (d *Duplex) End(p []byte) *WriteFuture {
	d.reader.Pause()
	return d.writer.End(p)
}

// Pause suspends the readable half.
func (d *Duplex) Pause() { d.reader.Pause() }

// Resume restarts the readable half, but only while the writable half is
// still up — reading into a dead socket pair is pointless.
func (d *Duplex) Resume() {
	if !d.writer.IsWritable() {
		return
	}
	d.reader.Resume()
}

// IsPaused reports whether the readable half is paused.
func (d *Duplex) IsPaused() bool { return d.reader.IsPaused() }

// IsReadable reports whether the readable half can produce data.
func (d *Duplex) IsReadable() bool { return d.reader.IsReadable() }

// IsWritable reports whether the writable half accepts writes.
func (d *Duplex) IsWritable() bool { return d.writer.IsWritable() }

// IsEnding reports whether the writable half is flushing toward finish.
func (d *Duplex) IsEnding() bool { return d.writer.IsEnding() }

// NeedsDrain reports writable-half backpressure.
func (d *Duplex) NeedsDrain() bool { return d.writer.NeedsDrain() }

// Close closes both halves; the duplex "close" event fires once.
func (d *Duplex) Close() error {
	d.shutdown()
	return nil
}
