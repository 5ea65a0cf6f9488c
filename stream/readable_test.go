package stream

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReadablePair(t *testing.T) (*fakeLoop, *testDesc, *Readable) {
	t.Helper()
	loop := newFakeLoop()
	desc := newTestDesc()
	r, err := NewReadable(loop, desc, nil)
	require.NoError(t, err)
	return loop, desc, r
}

func TestReadableConstruction(t *testing.T) {
	t.Run("should reject a nil descriptor", func(t *testing.T) {
		_, err := NewReadable(newFakeLoop(), nil, nil)
		assert.ErrorIs(t, err, ErrInvalidDescriptor)
	})

	t.Run("should reject a write-only descriptor", func(t *testing.T) {
		desc := newTestDesc()
		desc.writeOnly = true
		_, err := NewReadable(newFakeLoop(), desc, nil)
		assert.ErrorIs(t, err, ErrInvalidDescriptor)
	})

	t.Run("should start readable and paused", func(t *testing.T) {
		_, _, r := newReadablePair(t)
		assert.True(t, r.IsReadable())
		assert.True(t, r.IsPaused())
	})
}

func TestReadableRead(t *testing.T) {
	tests := []struct {
		name string
		test func(t *testing.T)
	}{
		{
			name: "should resolve a pending read when the descriptor is ready",
			test: func(t *testing.T) {
				loop, desc, r := newReadablePair(t)
				desc.queueRead([]byte("hello"))

				fut := r.Read(0)
				assert.False(t, fut.IsSettled())

				loop.fire(DirRead)
				chunk, err := fut.Await(nil)
				require.NoError(t, err)
				assert.Equal(t, []byte("hello"), chunk)
			},
		},
		{
			name: "should bound a read by the requested length",
			test: func(t *testing.T) {
				loop, desc, r := newReadablePair(t)
				desc.queueRead([]byte("abcdef"))

				fut := r.Read(4)
				loop.fire(DirRead)
				chunk, err := fut.Await(nil)
				require.NoError(t, err)
				assert.Equal(t, []byte("abcd"), chunk)

				// Remainder satisfies the next request.
				fut = r.Read(4)
				loop.fire(DirRead)
				chunk, err = fut.Await(nil)
				require.NoError(t, err)
				assert.Equal(t, []byte("ef"), chunk)
			},
		},
		{
			name: "should resolve the sentinel at end of stream",
			test: func(t *testing.T) {
				loop, desc, r := newReadablePair(t)
				desc.finishReads()

				fut := r.Read(0)
				loop.fire(DirRead)
				chunk, err := fut.Await(nil)
				require.NoError(t, err)
				assert.Nil(t, chunk)

				// Every read after end resolves the sentinel immediately.
				chunk, err = r.Read(0).Await(nil)
				require.NoError(t, err)
				assert.Nil(t, chunk)
			},
		},
		{
			name: "should emit end exactly once",
			test: func(t *testing.T) {
				loop, desc, r := newReadablePair(t)
				desc.finishReads()

				ends := 0
				r.On("end", func() { ends++ })

				r.Read(0)
				loop.fire(DirRead)
				loop.fire(DirRead)
				assert.Equal(t, 1, ends)
			},
		},
		{
			name: "should resolve queued reads in request order",
			test: func(t *testing.T) {
				loop, desc, r := newReadablePair(t)
				desc.queueRead([]byte("first"))
				desc.queueRead([]byte("second"))

				var order [][]byte
				futA := r.Read(5)
				futB := r.Read(6)
				futA.Then(func(b []byte) { order = append(order, b) })
				futB.Then(func(b []byte) { order = append(order, b) })

				loop.fire(DirRead)
				loop.fire(DirRead)
				require.Len(t, order, 2)
				assert.Equal(t, []byte("first"), order[0])
				assert.Equal(t, []byte("second"), order[1])
			},
		},
		{
			name: "should reject reads on a closed stream",
			test: func(t *testing.T) {
				_, _, r := newReadablePair(t)
				r.Close()

				_, err := r.Read(0).Await(nil)
				assert.ErrorIs(t, err, ErrStreamClosed)
			},
		},
		{
			name: "should reject pending reads when the stream closes",
			test: func(t *testing.T) {
				_, _, r := newReadablePair(t)
				fut := r.Read(0)
				r.Close()

				_, err := fut.Await(nil)
				assert.ErrorIs(t, err, ErrStreamClosed)
			},
		},
		{
			name: "should leave a cancelled read unresolved and disarm the watch",
			test: func(t *testing.T) {
				loop, desc, r := newReadablePair(t)
				desc.queueRead([]byte("late"))

				fut := r.Read(0)
				assert.Equal(t, 1, loop.watchCount(DirRead))
				fut.Cancel()
				assert.Equal(t, 0, loop.watchCount(DirRead))
				assert.True(t, fut.IsCancelled())
			},
		},
		{
			name: "should fail terminally on a descriptor error",
			test: func(t *testing.T) {
				loop, desc, r := newReadablePair(t)
				boom := errors.New("EIO")
				desc.queueReadErr(boom)

				var order []string
				r.On("error", func(err error) { order = append(order, "error") })
				r.On("close", func() { order = append(order, "close") })

				fut := r.Read(0)
				fut.Catch(func(error) { order = append(order, "reject") })
				loop.fire(DirRead)

				assert.Equal(t, []string{"error", "reject", "close"}, order)
				assert.Equal(t, 1, desc.closes())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.test)
	}
}

func TestReadableFlowMode(t *testing.T) {
	t.Run("should deliver data events while resumed", func(t *testing.T) {
		loop, desc, r := newReadablePair(t)
		desc.queueRead([]byte("one"))
		desc.queueRead([]byte("two"))

		var chunks [][]byte
		r.On("data", func(b []byte) { chunks = append(chunks, b) })

		r.Resume()
		loop.fire(DirRead)
		loop.fire(DirRead)
		require.Len(t, chunks, 2)
		assert.Equal(t, []byte("one"), chunks[0])
		assert.Equal(t, []byte("two"), chunks[1])
	})

	t.Run("should emit pause and resume on transitions only", func(t *testing.T) {
		_, _, r := newReadablePair(t)
		pauses, resumes := 0, 0
		r.On("pause", func() { pauses++ })
		r.On("resume", func() { resumes++ })

		r.Resume()
		r.Resume()
		r.Pause()
		r.Pause()

		assert.Equal(t, 1, resumes)
		assert.Equal(t, 1, pauses)
	})

	t.Run("should not read while paused", func(t *testing.T) {
		loop, desc, r := newReadablePair(t)
		desc.queueRead([]byte("held"))

		var chunks [][]byte
		r.On("data", func(b []byte) { chunks = append(chunks, b) })

		r.Resume()
		r.Pause()
		loop.fire(DirRead)
		assert.Empty(t, chunks)
		assert.Equal(t, 0, loop.watchCount(DirRead))
	})

	t.Run("should lose no data across pause and resume", func(t *testing.T) {
		loop, desc, r := newReadablePair(t)
		desc.queueRead([]byte("a"))
		desc.queueRead([]byte("b"))
		desc.queueRead([]byte("c"))

		var got []byte
		r.On("data", func(b []byte) { got = append(got, b...) })

		r.Resume()
		loop.fire(DirRead)
		r.Pause()
		r.Resume()
		loop.fire(DirRead)
		loop.fire(DirRead)

		assert.Equal(t, []byte("abc"), got)
	})

	t.Run("should auto-pause when nothing consumes data", func(t *testing.T) {
		loop, desc, r := newReadablePair(t)
		desc.queueRead([]byte("x"))

		handler := func(b []byte) {}
		r.On("data", handler)
		r.Resume()
		r.Off("data", handler)

		loop.fire(DirRead)
		assert.True(t, r.IsPaused())
		assert.Equal(t, 0, loop.watchCount(DirRead))

		// The undelivered chunk is not lost.
		chunk, err := r.Read(0).Await(nil)
		require.NoError(t, err)
		assert.Equal(t, []byte("x"), chunk)
	})
}

func TestReadableReadLine(t *testing.T) {
	// Feed the file contents as one chunk and read line by line.
	setup := func(t *testing.T, contents string) (*fakeLoop, *Readable) {
		loop, desc, r := newReadablePair(t)
		desc.queueRead([]byte(contents))
		desc.finishReads()
		return loop, r
	}

	t.Run("should split lines and return the final partial line", func(t *testing.T) {
		loop, r := setup(t, "Line 1\nLine 2\nLine 3")

		want := []string{"Line 1\n", "Line 2\n", "Line 3"}
		for _, expected := range want {
			fut := r.ReadLine(0)
			loop.pump(t)
			line, err := fut.Await(nil)
			require.NoError(t, err)
			assert.Equal(t, expected, string(line))
		}

		fut := r.ReadLine(0)
		loop.pump(t)
		line, err := fut.Await(nil)
		require.NoError(t, err)
		assert.Nil(t, line)
	})

	t.Run("should cap a line at max when no newline appears", func(t *testing.T) {
		loop, r := setup(t, "abcdefghij")

		fut := r.ReadLine(4)
		loop.pump(t)
		line, err := fut.Await(nil)
		require.NoError(t, err)
		assert.Equal(t, "abcd", string(line))

		// Remainder stays buffered for the next read.
		fut = r.ReadLine(0)
		loop.pump(t)
		line, err = fut.Await(nil)
		require.NoError(t, err)
		assert.Equal(t, "efghij", string(line))
	})

	t.Run("should assemble a line across chunks", func(t *testing.T) {
		loop, desc, r := newReadablePair(t)
		desc.queueRead([]byte("hel"))
		desc.queueRead([]byte("lo\nrest"))

		fut := r.ReadLine(0)
		loop.pump(t)
		line, err := fut.Await(nil)
		require.NoError(t, err)
		assert.Equal(t, "hello\n", string(line))

		next := r.Read(0)
		loop.pump(t)
		chunk, err := next.Await(nil)
		require.NoError(t, err)
		assert.Equal(t, "rest", string(chunk))
	})
}

func TestReadableReadAll(t *testing.T) {
	t.Run("should accumulate until end of stream", func(t *testing.T) {
		loop, desc, r := newReadablePair(t)
		desc.queueRead([]byte("part one "))
		desc.queueRead([]byte("part two"))
		desc.finishReads()

		fut := r.ReadAll(0)
		loop.pump(t)
		all, err := fut.Await(nil)
		require.NoError(t, err)
		assert.Equal(t, "part one part two", string(all))
	})

	t.Run("should stop at the cap", func(t *testing.T) {
		loop, desc, r := newReadablePair(t)
		desc.queueRead([]byte("0123456789"))

		fut := r.ReadAll(4)
		loop.pump(t)
		all, err := fut.Await(nil)
		require.NoError(t, err)
		assert.Equal(t, "0123", string(all))
	})

	t.Run("should be cancellable mid-accumulation", func(t *testing.T) {
		loop, desc, r := newReadablePair(t)
		desc.queueRead([]byte("chunk"))

		fut := r.ReadAll(0)
		loop.fire(DirRead)
		fut.Cancel()

		assert.True(t, fut.IsCancelled())
		assert.Equal(t, 0, loop.watchCount(DirRead))
	})
}

func TestReadableSeek(t *testing.T) {
	t.Run("should clear the buffer and reset end of stream", func(t *testing.T) {
		loop, desc, r := newReadablePair(t)
		desc.queueRead([]byte("data\nmore"))
		desc.finishReads()

		fut := r.ReadLine(0)
		loop.pump(t)
		line, err := fut.Await(nil)
		require.NoError(t, err)
		assert.Equal(t, "data\n", string(line))

		// Reach end of stream so eof is set.
		rest := r.ReadAll(0)
		loop.pump(t)
		_, err = rest.Await(nil)
		require.NoError(t, err)

		require.NoError(t, r.Seek(0, 0))
		assert.True(t, r.IsReadable())

		desc.queueRead([]byte("again"))
		next := r.Read(0)
		loop.pump(t)
		chunk, err := next.Await(nil)
		require.NoError(t, err)
		assert.Equal(t, "again", string(chunk))
	})

	t.Run("should refuse to seek with pending reads", func(t *testing.T) {
		_, _, r := newReadablePair(t)
		fut := r.Read(0)
		assert.Error(t, r.Seek(0, 0))
		fut.Cancel()
	})

	t.Run("should surface non-seekable descriptors", func(t *testing.T) {
		loop := newFakeLoop()
		desc := newTestDesc()
		desc.seekable = false
		r, err := NewReadable(loop, desc, nil)
		require.NoError(t, err)

		assert.ErrorIs(t, r.Seek(0, 0), errNotSeekableTest)
	})

	t.Run("should refuse to seek a closed stream", func(t *testing.T) {
		_, _, r := newReadablePair(t)
		r.Close()
		assert.ErrorIs(t, r.Seek(0, 0), ErrStreamClosed)
	})
}

func TestReadableClose(t *testing.T) {
	t.Run("should be idempotent and emit close once", func(t *testing.T) {
		_, desc, r := newReadablePair(t)
		closes := 0
		r.On("close", func() { closes++ })

		require.NoError(t, r.Close())
		require.NoError(t, r.Close())
		assert.Equal(t, 1, closes)
		assert.Equal(t, 1, desc.closes())
	})

	t.Run("should detach listeners after close", func(t *testing.T) {
		_, _, r := newReadablePair(t)
		r.On("data", func([]byte) {})
		r.Close()
		assert.False(t, r.IsReadable())
		assert.False(t, r.events.HasListener("data"))
	})
}
