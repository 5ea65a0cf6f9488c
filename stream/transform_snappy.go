package stream

import (
	"github.com/golang/snappy"
)

// NewSnappyCompress creates a transform that snappy-encodes each chunk.
// Compression is block-oriented: one input chunk becomes one encoded block,
// so the matching decompressor must see the same chunk boundaries (as a
// directly piped counterpart does).
func NewSnappyCompress() *Transform {
	return NewTransform(func(p []byte) ([]byte, error) {
		return snappy.Encode(nil, p), nil
	})
}

// NewSnappyDecompress creates a transform that snappy-decodes each chunk
// produced by NewSnappyCompress. A corrupt block rejects the write and
// emits "error".
func NewSnappyDecompress() *Transform {
	return NewTransform(func(p []byte) ([]byte, error) {
		return snappy.Decode(nil, p)
	})
}
