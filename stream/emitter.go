package stream

import (
	"reflect"
	"sync"

	"github.com/rs/zerolog/log"

	serrors "github.com/rizqme/streamio/internal/errors"
)

// Emitter is the per-stream event hub. Handlers are plain funcs; Emit
// dispatches by signature so listeners declare only the arguments they care
// about. A panic inside a listener is recovered and re-emitted as an "error"
// event; a panic inside an "error" listener is logged instead, breaking the
// recursion.
type Emitter struct {
	mu       sync.Mutex
	handlers map[string][]*listener
}

type listener struct {
	fn   interface{}
	id   uintptr
	once bool
}

// NewEmitter creates an empty emitter.
func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[string][]*listener)}
}

// On registers handler for event.
func (e *Emitter) On(event string, handler interface{}) {
	e.add(event, handler, false)
}

// Once registers handler to run for the next emission only.
func (e *Emitter) Once(event string, handler interface{}) {
	e.add(event, handler, true)
}

func (e *Emitter) add(event string, handler interface{}, once bool) {
	if handler == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[event] = append(e.handlers[event], &listener{
		fn:   handler,
		id:   reflect.ValueOf(handler).Pointer(),
		once: once,
	})
}

// Off removes the first registration of handler for event. Handlers are
// matched by code pointer, so distinct closures of one function literal
// (or method values of one method) count as the same handler, and the
// earliest such registration is the one removed.
func (e *Emitter) Off(event string, handler interface{}) {
	if handler == nil {
		return
	}
	id := reflect.ValueOf(handler).Pointer()

	e.mu.Lock()
	defer e.mu.Unlock()
	list := e.handlers[event]
	for i, l := range list {
		if l.id == id {
			e.handlers[event] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// RemoveAll detaches every handler for every event.
func (e *Emitter) RemoveAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = make(map[string][]*listener)
}

// ListenerCount reports the number of handlers registered for event.
func (e *Emitter) ListenerCount(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.handlers[event])
}

// HasListener reports whether any handler is registered for event.
func (e *Emitter) HasListener(event string) bool {
	return e.ListenerCount(event) > 0
}

// Emit invokes every handler registered for event with args. Once-handlers
// are removed before invocation. Returns whether any handler ran.
func (e *Emitter) Emit(event string, args ...interface{}) bool {
	e.mu.Lock()
	list := e.handlers[event]
	if len(list) == 0 {
		e.mu.Unlock()
		return false
	}
	toCall := make([]*listener, len(list))
	copy(toCall, list)
	kept := list[:0]
	for _, l := range list {
		if !l.once {
			kept = append(kept, l)
		}
	}
	e.handlers[event] = kept
	e.mu.Unlock()

	for _, l := range toCall {
		e.dispatch(event, l.fn, args)
	}
	return true
}

// dispatch calls fn with args, adapting to the handler's signature and
// containing panics.
func (e *Emitter) dispatch(event string, fn interface{}, args []interface{}) {
	err := serrors.SafeCall("emit "+event, func() {
		switch f := fn.(type) {
		case func():
			f()
		case func([]byte):
			if len(args) > 0 {
				if b, ok := args[0].([]byte); ok {
					f(b)
				}
			}
		case func(error):
			if len(args) > 0 {
				if e, ok := args[0].(error); ok {
					f(e)
				}
			}
		case func(int):
			if len(args) > 0 {
				if n, ok := args[0].(int); ok {
					f(n)
				}
			}
		case func(int64):
			if len(args) > 0 {
				if n, ok := args[0].(int64); ok {
					f(n)
				}
			}
		case func(interface{}):
			if len(args) > 0 {
				f(args[0])
			} else {
				f(nil)
			}
		case func(...interface{}):
			f(args...)
		default:
			log.Error().Str("event", event).Msg("unsupported handler signature")
		}
	})
	if err == nil {
		return
	}
	if event == "error" {
		log.Error().Err(err).Msg("panic in error listener")
		return
	}
	e.Emit("error", err)
}
