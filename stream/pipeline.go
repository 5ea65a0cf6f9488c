package stream

import (
	"fmt"
	"sync"
)

// Pipeline connects streams in order, piping each one into the next with
// End enabled, and returns the per-stage pipe futures. Every stream except
// the last must be a Source, every one except the first a Destination.
func Pipeline(streams ...interface{}) ([]*PipeFuture, error) {
	if len(streams) < 2 {
		return nil, fmt.Errorf("pipeline requires at least 2 streams")
	}

	futs := make([]*PipeFuture, 0, len(streams)-1)
	for i := 0; i < len(streams)-1; i++ {
		src, ok := streams[i].(Source)
		if !ok {
			return nil, fmt.Errorf("stream at index %d is not readable", i)
		}
		dst, ok := streams[i+1].(Destination)
		if !ok {
			return nil, fmt.Errorf("stream at index %d is not writable", i+1)
		}
		futs = append(futs, Pipe(src, dst, nil))
	}
	return futs, nil
}

// Finished returns a channel that receives nil once the stream completes —
// "end" for a pure source, "finish" for anything writable — or the first
// "error". The channel is buffered; the result can be read at leisure.
func Finished(s interface{}) <-chan error {
	ch := make(chan error, 1)
	var once sync.Once
	deliver := func(err error) {
		once.Do(func() { ch <- err })
	}

	type eventTarget interface {
		Once(event string, handler interface{})
	}
	target, ok := s.(eventTarget)
	if !ok {
		deliver(fmt.Errorf("unsupported stream type %T", s))
		return ch
	}

	target.Once("error", func(err error) { deliver(err) })
	if _, writable := s.(Destination); writable {
		target.Once("finish", func() { deliver(nil) })
	} else {
		target.Once("end", func() { deliver(nil) })
	}
	return ch
}
