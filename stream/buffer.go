package stream

// Buffer is the byte container behind both the read-side and write-side
// buffering: append at the tail, unshift at the head, consume from the head.
// Not safe for concurrent use; the owning stream serializes access.
type Buffer struct {
	data []byte
}

// Append adds p at the tail.
func (b *Buffer) Append(p []byte) {
	b.data = append(b.data, p...)
}

// Unshift prepends p at the head, so the next TakePrefix sees it first.
func (b *Buffer) Unshift(p []byte) {
	if len(p) == 0 {
		return
	}
	next := make([]byte, 0, len(p)+len(b.data))
	next = append(next, p...)
	next = append(next, b.data...)
	b.data = next
}

// TakePrefix removes and returns the first n bytes. If fewer than n bytes
// are buffered it returns everything.
func (b *Buffer) TakePrefix(n int) []byte {
	if n <= 0 {
		return nil
	}
	if n >= len(b.data) {
		out := b.data
		b.data = nil
		return out
	}
	out := make([]byte, n)
	copy(out, b.data[:n])
	b.data = b.data[n:]
	return out
}

// DropSuffix removes the last n bytes. Used when a queued write is cancelled
// before any of its bytes started flushing.
func (b *Buffer) DropSuffix(n int) {
	if n <= 0 {
		return
	}
	if n >= len(b.data) {
		b.data = nil
		return
	}
	b.data = b.data[:len(b.data)-n]
}

// Len reports the buffered byte count.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Bytes returns the buffered bytes without consuming them. The returned
// slice aliases the buffer and is invalidated by the next mutation.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// IndexByte returns the offset of the first occurrence of c, or -1.
func (b *Buffer) IndexByte(c byte) int {
	for i, v := range b.data {
		if v == c {
			return i
		}
	}
	return -1
}

// Reset discards all buffered bytes.
func (b *Buffer) Reset() {
	b.data = nil
}
