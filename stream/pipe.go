package stream

import (
	"errors"
	"sync"

	"github.com/rizqme/streamio/promise"
)

// PipeOptions controls a pipe run. A nil options value means End=true.
type PipeOptions struct {
	// End closes the destination (via End) once the source ends.
	End bool
}

// pipeMaxPending bounds the number of unresolved destination writes before
// the source is paused, independent of the destination's soft limit.
const pipeMaxPending = 4

// Pipe transfers everything src produces into dst, honoring destination
// backpressure, and resolves with the total bytes delivered. The pipe fails
// if either side is unsuitable at start, errors mid-flight, or if dst
// closes before src ends. Cancelling the future pauses the source and
// detaches all listeners without ending the destination.
//
// Chunks reach dst in source order: all writes are issued from the data
// callback and the destination serializes its queue. Peak in-flight memory
// is bounded by the source chunk size plus the destination soft limit,
// independent of the total payload.
func Pipe(src Source, dst Destination, opts *PipeOptions) *PipeFuture {
	endDst := true
	if opts != nil {
		endDst = opts.End
	}
	if src == nil || !src.IsReadable() {
		return promise.Rejected[int64](errNotReadable("pipe"))
	}
	if dst == nil || !dst.IsWritable() {
		return promise.Rejected[int64](errNotWritable("pipe"))
	}

	p := &pipeRun{
		src:    src,
		dst:    dst,
		endDst: endDst,
		fut:    promise.New[int64](),
	}
	p.attach()
	return p.fut
}

type pipeRun struct {
	mu       sync.Mutex
	src      Source
	dst      Destination
	endDst   bool
	fut      *PipeFuture
	total    int64
	inFlight int
	retry    [][]byte
	srcEnded bool
	ending   bool
	done     bool

	hData     func([]byte)
	hEnd      func()
	hSrcErr   func(error)
	hDrain    func()
	hDstClose func()
	hDstErr   func(error)
}

func (p *pipeRun) attach() {
	p.hData = p.onData
	p.hEnd = p.onEnd
	p.hSrcErr = p.fail
	p.hDrain = p.onDrain
	p.hDstClose = p.onDstClose
	p.hDstErr = p.fail

	p.src.On("data", p.hData)
	p.src.Once("end", p.hEnd)
	p.src.On("error", p.hSrcErr)
	p.dst.On("drain", p.hDrain)
	p.dst.On("close", p.hDstClose)
	p.dst.On("error", p.hDstErr)

	p.dst.Emit("pipe", p.src)
	p.src.Emit("pipe", p.dst)

	p.fut.SetCancelHandler(p.cancel)
	p.src.Resume()
}

func (p *pipeRun) detach() {
	p.src.Off("data", p.hData)
	p.src.Off("end", p.hEnd)
	p.src.Off("error", p.hSrcErr)
	p.dst.Off("drain", p.hDrain)
	p.dst.Off("close", p.hDstClose)
	p.dst.Off("error", p.hDstErr)
	p.src.Emit("unpipe", p.dst)
}

func (p *pipeRun) onData(chunk []byte) {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return
	}
	if len(p.retry) > 0 {
		// A previous chunk is waiting on drain; keep order.
		p.retry = append(p.retry, chunk)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.write(chunk)
}

// write pushes one chunk and applies backpressure accounting. The chunk's
// length is added to the running total optimistically; a refused write
// (zero bytes accepted by a paused in-memory destination) is rolled back
// and retried on drain.
func (p *pipeRun) write(chunk []byte) {
	wf := p.dst.Write(chunk)

	p.mu.Lock()
	p.total += int64(len(chunk))
	p.inFlight++
	p.mu.Unlock()

	wf.Then(func(n int) {
		p.mu.Lock()
		p.inFlight--
		if n == 0 && len(chunk) > 0 {
			p.total -= int64(len(chunk))
			p.retry = append(p.retry, chunk)
			p.mu.Unlock()
			p.src.Pause()
			return
		}
		p.mu.Unlock()
	})
	wf.Catch(p.failWrite)

	p.mu.Lock()
	pause := p.dst.NeedsDrain() || p.inFlight >= pipeMaxPending
	p.mu.Unlock()
	if pause {
		p.src.Pause()
	}
}

func (p *pipeRun) onDrain() {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return
	}
	retries := p.retry
	p.retry = nil
	p.mu.Unlock()

	for i, chunk := range retries {
		p.write(chunk)
		p.mu.Lock()
		refused := len(p.retry) > 0
		if refused {
			// Refused again; keep the rest queued in order.
			p.retry = append(p.retry, retries[i+1:]...)
		}
		p.mu.Unlock()
		if refused {
			return
		}
	}

	p.mu.Lock()
	finish := p.srcEnded && len(p.retry) == 0
	p.mu.Unlock()
	if finish {
		p.finalize()
		return
	}
	if !p.dst.NeedsDrain() {
		p.src.Resume()
	}
}

func (p *pipeRun) onEnd() {
	p.mu.Lock()
	p.srcEnded = true
	waiting := len(p.retry) > 0
	p.mu.Unlock()
	if waiting {
		// Undelivered chunks flush on the destination's next drain.
		return
	}
	p.finalize()
}

func (p *pipeRun) finalize() {
	p.mu.Lock()
	if p.done || p.ending {
		p.mu.Unlock()
		return
	}
	p.ending = true
	total := p.total
	p.mu.Unlock()

	if !p.endDst {
		p.settle(total)
		return
	}
	ef := p.dst.End(nil)
	ef.Then(func(int) {
		p.mu.Lock()
		total := p.total
		p.mu.Unlock()
		p.settle(total)
	})
	ef.Catch(p.fail)
}

func (p *pipeRun) onDstClose() {
	p.mu.Lock()
	expected := p.ending || p.done
	p.mu.Unlock()
	if expected {
		return
	}
	p.fail(errEarlyClose("pipe"))
}

func (p *pipeRun) settle(total int64) {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return
	}
	p.done = true
	p.mu.Unlock()

	p.detach()
	p.fut.Resolve(total)
}

// failWrite classifies a write rejection: a destination that closed under
// an in-flight chunk is the early-close case.
func (p *pipeRun) failWrite(err error) {
	if errors.Is(err, ErrStreamClosed) {
		err = errEarlyClose("pipe")
	}
	p.fail(err)
}

func (p *pipeRun) fail(err error) {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return
	}
	p.done = true
	p.mu.Unlock()

	p.detach()
	p.src.Pause()
	p.fut.Reject(err)
}

// cancel runs when the pipe future is cancelled: pause the source, detach,
// leave the destination open.
func (p *pipeRun) cancel() {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return
	}
	p.done = true
	p.mu.Unlock()

	p.src.Pause()
	p.detach()
}
