package stream

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitter(t *testing.T) {
	tests := []struct {
		name string
		test func(t *testing.T)
	}{
		{
			name: "should dispatch by handler signature",
			test: func(t *testing.T) {
				e := NewEmitter()

				var gotBytes []byte
				var gotErr error
				plain := 0

				e.On("data", func(b []byte) { gotBytes = b })
				e.On("error", func(err error) { gotErr = err })
				e.On("end", func() { plain++ })

				e.Emit("data", []byte("chunk"))
				e.Emit("error", errors.New("boom"))
				e.Emit("end")

				assert.Equal(t, []byte("chunk"), gotBytes)
				assert.EqualError(t, gotErr, "boom")
				assert.Equal(t, 1, plain)
			},
		},
		{
			name: "should run once handlers a single time",
			test: func(t *testing.T) {
				e := NewEmitter()
				calls := 0
				e.Once("end", func() { calls++ })

				e.Emit("end")
				e.Emit("end")
				assert.Equal(t, 1, calls)
				assert.Equal(t, 0, e.ListenerCount("end"))
			},
		},
		{
			name: "should remove handlers by identity",
			test: func(t *testing.T) {
				e := NewEmitter()
				calls := 0
				handler := func() { calls++ }

				e.On("drain", handler)
				e.Off("drain", handler)
				e.Emit("drain")
				assert.Equal(t, 0, calls)
			},
		},
		{
			name: "should report listener presence",
			test: func(t *testing.T) {
				e := NewEmitter()
				assert.False(t, e.HasListener("data"))
				e.On("data", func([]byte) {})
				assert.True(t, e.HasListener("data"))
				assert.Equal(t, 1, e.ListenerCount("data"))

				e.RemoveAll()
				assert.False(t, e.HasListener("data"))
			},
		},
		{
			name: "should re-emit a listener panic as an error event",
			test: func(t *testing.T) {
				e := NewEmitter()
				var caught error
				e.On("error", func(err error) { caught = err })
				e.On("data", func([]byte) { panic("listener exploded") })

				e.Emit("data", []byte("x"))
				require.Error(t, caught)
				assert.Contains(t, caught.Error(), "listener exploded")
			},
		},
		{
			name: "should survive a panic inside the error handler",
			test: func(t *testing.T) {
				e := NewEmitter()
				e.On("error", func(err error) { panic("recursive") })

				// Logged, not re-raised; must not recurse or panic out.
				assert.NotPanics(t, func() {
					e.Emit("error", errors.New("original"))
				})
			},
		},
		{
			name: "should deliver to multiple handlers in registration order",
			test: func(t *testing.T) {
				e := NewEmitter()
				var order []int
				e.On("end", func() { order = append(order, 1) })
				e.On("end", func() { order = append(order, 2) })

				e.Emit("end")
				assert.Equal(t, []int{1, 2}, order)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.test)
	}
}
