package jsbridge

import (
	"github.com/dop251/goja"

	"github.com/rizqme/streamio/stream"
)

// Register installs the module object as the global __streamio: transform
// constructors, pipe and pipeline helpers, and a finished combinator.
// Host-created readable/writable streams enter JS through the Wrap
// functions.
func (m *Module) Register() error {
	mod := m.vm.NewObject()

	mod.Set("Transform", func(call goja.FunctionCall) goja.Value {
		var fn stream.TransformFunc
		if len(call.Arguments) > 0 {
			if jsFn, ok := goja.AssertFunction(call.Arguments[0]); ok {
				fn = m.jsTransformFunc(jsFn)
			}
		}
		return m.WrapTransform(stream.NewTransform(fn))
	})

	mod.Set("PassThrough", func(call goja.FunctionCall) goja.Value {
		return m.WrapTransform(stream.NewPassThrough())
	})

	mod.Set("pipe", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 2 {
			panic(m.vm.NewTypeError("pipe requires a source and a destination"))
		}
		src := sourceFromJS(call.Arguments[0], m.vm)
		dst := destinationFromJS(call.Arguments[1], m.vm)
		if src == nil || dst == nil {
			panic(m.vm.NewTypeError("pipe requires stream arguments"))
		}

		p, resolve, reject := m.vm.NewPromise()
		fut := stream.Pipe(src, dst, nil)
		fut.Then(func(total int64) {
			m.run(func() { resolve(m.vm.ToValue(total)) })
		})
		fut.Catch(func(err error) {
			m.run(func() { reject(m.vm.ToValue(err.Error())) })
		})
		return m.vm.ToValue(p)
	})

	mod.Set("pipeline", func(call goja.FunctionCall) goja.Value {
		streams := make([]interface{}, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			s := streamFromJS(arg, m.vm)
			if s == nil {
				panic(m.vm.NewTypeError("invalid stream in pipeline"))
			}
			streams = append(streams, s)
		}
		if _, err := stream.Pipeline(streams...); err != nil {
			panic(m.vm.NewGoError(err))
		}
		return goja.Undefined()
	})

	mod.Set("finished", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			panic(m.vm.NewTypeError("finished requires a stream"))
		}
		s := streamFromJS(call.Arguments[0], m.vm)
		if s == nil {
			panic(m.vm.NewTypeError("first argument must be a stream"))
		}

		p, resolve, reject := m.vm.NewPromise()
		errCh := stream.Finished(s)
		go func() {
			err := <-errCh
			m.run(func() {
				if err != nil {
					reject(m.vm.ToValue(err.Error()))
				} else {
					resolve(goja.Undefined())
				}
			})
		}()
		return m.vm.ToValue(p)
	})

	return m.vm.Set("__streamio", mod)
}

// jsTransformFunc adapts a JS chunk rewriter into a TransformFunc. The JS
// function runs on the caller's goroutine; transform writes must therefore
// originate from the VM goroutine, which is the natural shape for a
// JS-driven pipeline.
func (m *Module) jsTransformFunc(fn goja.Callable) stream.TransformFunc {
	return func(p []byte) ([]byte, error) {
		out, err := fn(goja.Undefined(), m.vm.ToValue(m.vm.NewArrayBuffer(p)))
		if err != nil {
			return nil, err
		}
		if out == nil || goja.IsUndefined(out) || goja.IsNull(out) {
			return nil, nil
		}
		return m.toBytes(out), nil
	}
}
