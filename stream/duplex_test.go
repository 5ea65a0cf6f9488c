package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDuplexPair(t *testing.T) (*fakeLoop, *testDesc, *Duplex) {
	t.Helper()
	loop := newFakeLoop()
	desc := newTestDesc()
	d, err := NewDuplex(loop, desc, nil, nil)
	require.NoError(t, err)
	return loop, desc, d
}

func TestDuplexResource(t *testing.T) {
	tests := []struct {
		name string
		test func(t *testing.T)
	}{
		{
			name: "should require a descriptor open in both directions",
			test: func(t *testing.T) {
				readOnly := newTestDesc()
				readOnly.readOnly = true
				_, err := NewDuplex(newFakeLoop(), readOnly, nil, nil)
				assert.ErrorIs(t, err, ErrInvalidDescriptor)

				writeOnly := newTestDesc()
				writeOnly.writeOnly = true
				_, err = NewDuplex(newFakeLoop(), writeOnly, nil, nil)
				assert.ErrorIs(t, err, ErrInvalidDescriptor)
			},
		},
		{
			name: "should read and write over the same descriptor",
			test: func(t *testing.T) {
				loop, desc, d := newDuplexPair(t)
				desc.queueRead([]byte("incoming"))

				rf := d.Read(0)
				wf := d.Write([]byte("outgoing"))
				loop.pump(t)

				chunk, err := rf.Await(nil)
				require.NoError(t, err)
				assert.Equal(t, "incoming", string(chunk))

				n, err := wf.Await(nil)
				require.NoError(t, err)
				assert.Equal(t, 8, n)
				assert.Equal(t, []byte("outgoing"), desc.writtenBytes())
			},
		},
		{
			name: "should forward events from both halves",
			test: func(t *testing.T) {
				loop, desc, d := newDuplexPair(t)
				desc.queueRead([]byte("x"))
				desc.finishReads()

				var events []string
				d.On("data", func([]byte) { events = append(events, "data") })
				d.On("end", func() { events = append(events, "end") })
				d.On("drain", func() { events = append(events, "drain") })

				d.Write([]byte("y"))
				rf := d.Read(0)
				loop.pump(t)
				rf2 := d.Read(0)
				loop.pump(t)

				_, err := rf.Await(nil)
				require.NoError(t, err)
				chunk, err := rf2.Await(nil)
				require.NoError(t, err)
				assert.Nil(t, chunk)
				assert.Contains(t, events, "data")
				assert.Contains(t, events, "end")
				assert.Contains(t, events, "drain")
			},
		},
		{
			name: "should close the shared descriptor exactly once",
			test: func(t *testing.T) {
				_, desc, d := newDuplexPair(t)
				closes := 0
				d.On("close", func() { closes++ })

				require.NoError(t, d.Close())
				require.NoError(t, d.Close())
				assert.Equal(t, 1, closes)
				assert.Equal(t, 1, desc.closes())
			},
		},
		{
			name: "should close the duplex when one half closes",
			test: func(t *testing.T) {
				_, desc, d := newDuplexPair(t)
				closes := 0
				d.On("close", func() { closes++ })

				d.Reader().Close()
				assert.Equal(t, 1, closes)
				assert.Equal(t, 1, desc.closes())
				assert.False(t, d.IsWritable())
			},
		},
		{
			name: "should refuse resume while the writable half is down",
			test: func(t *testing.T) {
				_, _, d := newDuplexPair(t)

				d.Write([]byte("unflushed"))
				d.End(nil)
				assert.True(t, d.IsEnding())

				d.Resume()
				assert.True(t, d.IsPaused())
			},
		},
		{
			name: "should pause the readable half before ending",
			test: func(t *testing.T) {
				loop, desc, d := newDuplexPair(t)
				d.Resume()
				assert.False(t, d.IsPaused())

				fut := d.End(nil)
				assert.True(t, d.IsPaused())

				loop.pump(t)
				_, err := fut.Await(nil)
				require.NoError(t, err)
				assert.Equal(t, 1, desc.closes())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.test)
	}
}

func TestDuplexComposite(t *testing.T) {
	newComposite := func(t *testing.T) (*fakeLoop, *testDesc, *testDesc, *Duplex) {
		t.Helper()
		loop := newFakeLoop()
		in := newTestDesc()
		out := newTestDesc()
		r, err := NewReadable(loop, in, nil)
		require.NoError(t, err)
		w, err := NewWritable(loop, out, nil)
		require.NoError(t, err)
		d, err := NewCompositeDuplex(r, w)
		require.NoError(t, err)
		return loop, in, out, d
	}

	t.Run("should keep independent descriptors per half", func(t *testing.T) {
		loop, in, out, d := newComposite(t)
		in.queueRead([]byte("from stdin"))

		rf := d.Read(0)
		wf := d.Write([]byte("to stdout"))
		loop.pump(t)

		chunk, err := rf.Await(nil)
		require.NoError(t, err)
		assert.Equal(t, "from stdin", string(chunk))

		_, err = wf.Await(nil)
		require.NoError(t, err)
		assert.Equal(t, []byte("to stdout"), out.writtenBytes())
		assert.Empty(t, in.writtenBytes())
	})

	t.Run("should stay open when one half closes while the other is alive", func(t *testing.T) {
		_, _, _, d := newComposite(t)
		closes := 0
		d.On("close", func() { closes++ })

		d.Reader().Close()
		assert.Equal(t, 0, closes)
		assert.True(t, d.IsWritable())
	})

	t.Run("should close once the second half goes down", func(t *testing.T) {
		_, _, _, d := newComposite(t)
		closes := 0
		d.On("close", func() { closes++ })

		d.Reader().Close()
		d.Writer().Close()
		assert.Equal(t, 1, closes)
	})

	t.Run("should close both halves on an explicit close", func(t *testing.T) {
		_, in, out, d := newComposite(t)
		closes := 0
		d.On("close", func() { closes++ })

		require.NoError(t, d.Close())
		assert.Equal(t, 1, closes)
		assert.Equal(t, 1, in.closes())
		assert.Equal(t, 1, out.closes())
	})

	t.Run("should reject missing halves", func(t *testing.T) {
		_, err := NewCompositeDuplex(nil, nil)
		assert.ErrorIs(t, err, ErrInvalidDescriptor)
	})
}
