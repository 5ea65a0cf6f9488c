// Package jsbridge exposes the stream library to an embedded goja runtime:
// wrappers around the Go stream types with read/write/pipe methods, event
// subscription, and promise-returning async operations.
//
// goja is single-threaded, while stream callbacks fire on the event-loop
// goroutine. Every callback into JS therefore goes through the Scheduler
// supplied at construction, which must marshal the closure onto the
// goroutine driving the VM.
package jsbridge

import (
	"fmt"
	"sync"

	"github.com/dop251/goja"

	"github.com/rizqme/streamio/promise"
	"github.com/rizqme/streamio/stream"
)

// Scheduler queues fn for execution on the VM goroutine.
type Scheduler func(fn func())

// Module binds the stream library into one goja runtime.
type Module struct {
	vm  *goja.Runtime
	run Scheduler
}

// NewModule creates a bridge for vm. run marshals callbacks onto the VM
// goroutine; a nil run executes callbacks inline (single-goroutine tests).
func NewModule(vm *goja.Runtime, run Scheduler) *Module {
	if run == nil {
		run = func(fn func()) { fn() }
	}
	return &Module{vm: vm, run: run}
}

// eventTarget is the emitter surface shared by all stream kinds.
type eventTarget interface {
	On(event string, handler interface{})
	Once(event string, handler interface{})
	Off(event string, handler interface{})
}

// jsListeners tracks JS handler registrations so off can detach the exact
// Go adapter that on installed.
type jsListeners struct {
	mu      sync.Mutex
	entries []*jsListener
}

type jsListener struct {
	event string
	jsFn  goja.Value
	goFn  interface{}
}

func (l *jsListeners) add(e *jsListener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
}

func (l *jsListeners) take(event string, jsFn goja.Value) *jsListener {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.entries {
		if e.event == event && e.jsFn.StrictEquals(jsFn) {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return e
		}
	}
	return nil
}

// setupEvents installs on/once/off methods backed by the Go emitter.
func (m *Module) setupEvents(obj *goja.Object, target eventTarget) {
	reg := &jsListeners{}

	subscribe := func(call goja.FunctionCall, once bool) goja.Value {
		if len(call.Arguments) < 2 {
			return call.This
		}
		event := call.Arguments[0].String()
		jsFn, ok := goja.AssertFunction(call.Arguments[1])
		if !ok {
			return call.This
		}

		goFn := m.makeHandler(event, jsFn)
		if !once {
			reg.add(&jsListener{event: event, jsFn: call.Arguments[1], goFn: goFn})
			target.On(event, goFn)
		} else {
			target.Once(event, goFn)
		}
		return call.This
	}

	obj.Set("on", func(call goja.FunctionCall) goja.Value {
		return subscribe(call, false)
	})
	obj.Set("once", func(call goja.FunctionCall) goja.Value {
		return subscribe(call, true)
	})
	obj.Set("off", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 2 {
			return call.This
		}
		event := call.Arguments[0].String()
		if e := reg.take(event, call.Arguments[1]); e != nil {
			target.Off(event, e.goFn)
		}
		return call.This
	})
}

// makeHandler adapts a JS callback to the Go handler signature the event
// carries, dispatching through the scheduler.
func (m *Module) makeHandler(event string, fn goja.Callable) interface{} {
	switch event {
	case "data":
		return func(b []byte) {
			m.run(func() { fn(goja.Undefined(), m.vm.ToValue(m.vm.NewArrayBuffer(b))) })
		}
	case "error":
		return func(err error) {
			m.run(func() { fn(goja.Undefined(), m.vm.ToValue(err.Error())) })
		}
	default:
		return func() {
			m.run(func() { fn(goja.Undefined()) })
		}
	}
}

// toBytes converts a JS argument (string, ArrayBuffer, or byte slice) to a
// byte slice.
func (m *Module) toBytes(v goja.Value) []byte {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	switch data := v.Export().(type) {
	case string:
		return []byte(data)
	case []byte:
		return data
	case goja.ArrayBuffer:
		return data.Bytes()
	default:
		return []byte(fmt.Sprintf("%v", data))
	}
}

// promiseFor bridges a byte-chunk future to a JS promise. A nil chunk (the
// end-of-stream sentinel) resolves to null.
func (m *Module) promiseFor(fut *stream.ReadFuture) goja.Value {
	p, resolve, reject := m.vm.NewPromise()
	fut.Then(func(b []byte) {
		m.run(func() {
			if b == nil {
				resolve(goja.Null())
				return
			}
			resolve(m.vm.ToValue(m.vm.NewArrayBuffer(b)))
		})
	})
	fut.Catch(func(err error) {
		if err == promise.ErrCancelled {
			return
		}
		m.run(func() { reject(m.vm.ToValue(err.Error())) })
	})
	return m.vm.ToValue(p)
}

// promiseForInt bridges a count future to a JS promise.
func (m *Module) promiseForInt(fut *stream.WriteFuture) goja.Value {
	p, resolve, reject := m.vm.NewPromise()
	fut.Then(func(n int) {
		m.run(func() { resolve(m.vm.ToValue(n)) })
	})
	fut.Catch(func(err error) {
		if err == promise.ErrCancelled {
			return
		}
		m.run(func() { reject(m.vm.ToValue(err.Error())) })
	})
	return m.vm.ToValue(p)
}

// WrapReadable exposes a readable stream to JS.
func (m *Module) WrapReadable(r *stream.Readable) *goja.Object {
	obj := m.vm.NewObject()
	m.setupEvents(obj, r)

	obj.Set("read", func(call goja.FunctionCall) goja.Value {
		n := 0
		if len(call.Arguments) > 0 && !goja.IsUndefined(call.Arguments[0]) {
			n = int(call.Arguments[0].ToInteger())
		}
		return m.promiseFor(r.Read(n))
	})
	obj.Set("readLine", func(call goja.FunctionCall) goja.Value {
		max := 0
		if len(call.Arguments) > 0 && !goja.IsUndefined(call.Arguments[0]) {
			max = int(call.Arguments[0].ToInteger())
		}
		return m.promiseFor(r.ReadLine(max))
	})
	obj.Set("readAll", func(call goja.FunctionCall) goja.Value {
		max := 0
		if len(call.Arguments) > 0 && !goja.IsUndefined(call.Arguments[0]) {
			max = int(call.Arguments[0].ToInteger())
		}
		return m.promiseFor(r.ReadAll(max))
	})
	obj.Set("pipe", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			panic(m.vm.NewTypeError("pipe requires a destination"))
		}
		dst := destinationFromJS(call.Arguments[0], m.vm)
		if dst == nil {
			panic(m.vm.NewTypeError("destination is not a writable stream"))
		}
		opts := pipeOptionsFromJS(call, m.vm)

		p, resolve, reject := m.vm.NewPromise()
		fut := r.Pipe(dst, opts)
		fut.Then(func(total int64) {
			m.run(func() { resolve(m.vm.ToValue(total)) })
		})
		fut.Catch(func(err error) {
			m.run(func() { reject(m.vm.ToValue(err.Error())) })
		})
		return m.vm.ToValue(p)
	})
	obj.Set("pause", func(call goja.FunctionCall) goja.Value {
		r.Pause()
		return obj
	})
	obj.Set("resume", func(call goja.FunctionCall) goja.Value {
		r.Resume()
		return obj
	})
	obj.Set("isPaused", func(call goja.FunctionCall) goja.Value {
		return m.vm.ToValue(r.IsPaused())
	})
	obj.Set("close", func(call goja.FunctionCall) goja.Value {
		r.Close()
		return goja.Undefined()
	})

	obj.Set("__stream", r)
	return obj
}

// WrapWritable exposes a writable stream to JS.
func (m *Module) WrapWritable(w *stream.Writable) *goja.Object {
	obj := m.vm.NewObject()
	m.setupEvents(obj, w)
	m.setupWritableMethods(obj, w)
	obj.Set("__stream", w)
	return obj
}

func (m *Module) setupWritableMethods(obj *goja.Object, dst stream.Destination) {
	obj.Set("write", func(call goja.FunctionCall) goja.Value {
		var data []byte
		if len(call.Arguments) > 0 {
			data = m.toBytes(call.Arguments[0])
		}
		return m.promiseForInt(dst.Write(data))
	})
	obj.Set("end", func(call goja.FunctionCall) goja.Value {
		var data []byte
		if len(call.Arguments) > 0 {
			data = m.toBytes(call.Arguments[0])
		}
		return m.promiseForInt(dst.End(data))
	})
	obj.Set("isWritable", func(call goja.FunctionCall) goja.Value {
		return m.vm.ToValue(dst.IsWritable())
	})
	obj.Set("needsDrain", func(call goja.FunctionCall) goja.Value {
		return m.vm.ToValue(dst.NeedsDrain())
	})
}

// WrapTransform exposes a transform stream to JS.
func (m *Module) WrapTransform(t *stream.Transform) *goja.Object {
	obj := m.vm.NewObject()
	m.setupEvents(obj, t)
	m.setupWritableMethods(obj, t)

	obj.Set("pause", func(call goja.FunctionCall) goja.Value {
		t.Pause()
		return obj
	})
	obj.Set("resume", func(call goja.FunctionCall) goja.Value {
		t.Resume()
		return obj
	})
	obj.Set("isPaused", func(call goja.FunctionCall) goja.Value {
		return m.vm.ToValue(t.IsPaused())
	})
	obj.Set("close", func(call goja.FunctionCall) goja.Value {
		t.Close()
		return goja.Undefined()
	})

	obj.Set("__stream", t)
	return obj
}

// streamFromJS recovers the Go stream behind a wrapped object.
func streamFromJS(v goja.Value, vm *goja.Runtime) interface{} {
	obj := v.ToObject(vm)
	if obj == nil {
		return nil
	}
	inner := obj.Get("__stream")
	if inner == nil || goja.IsUndefined(inner) {
		return nil
	}
	return inner.Export()
}

func destinationFromJS(v goja.Value, vm *goja.Runtime) stream.Destination {
	if dst, ok := streamFromJS(v, vm).(stream.Destination); ok {
		return dst
	}
	return nil
}

func sourceFromJS(v goja.Value, vm *goja.Runtime) stream.Source {
	if src, ok := streamFromJS(v, vm).(stream.Source); ok {
		return src
	}
	return nil
}

func pipeOptionsFromJS(call goja.FunctionCall, vm *goja.Runtime) *stream.PipeOptions {
	if len(call.Arguments) < 2 || goja.IsUndefined(call.Arguments[1]) {
		return nil
	}
	obj := call.Arguments[1].ToObject(vm)
	if obj == nil {
		return nil
	}
	opts := &stream.PipeOptions{End: true}
	if v := obj.Get("end"); v != nil && !goja.IsUndefined(v) {
		opts.End = v.ToBoolean()
	}
	return opts
}
