package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// maxIndexLen caps the declared element count of a message index so that a
// corrupt length prefix cannot drive a multi-gigabyte allocation.
const maxIndexLen = 100000

// ErrIndexLength reports a message index whose declared element count is
// negative or above the decoder's sanity ceiling.
var ErrIndexLength = errors.New("message index length out of range")

func appendVarint(buf []byte, v int64, zigzag bool) []byte {
	if zigzag {
		return binary.AppendVarint(buf, v)
	}
	return binary.AppendUvarint(buf, uint64(v))
}

func readVarint(r io.ByteReader, zigzag bool) (int64, error) {
	if zigzag {
		return binary.ReadVarint(r)
	}
	u, err := binary.ReadUvarint(r)
	return int64(u), err
}

// AppendIndex appends the serialized form of a message index path to buf and
// returns the extended buffer. The sole first top-level message, path [0],
// has a reserved single-byte form so the common case costs one byte. Every
// other path is written as a count followed by the elements, each a varint.
// Zig-zag transformation is applied when zigzag is set; the untransformed
// layout survives only for records framed by early serializers.
func AppendIndex(buf []byte, index []int, zigzag bool) []byte {
	if len(index) == 1 && index[0] == 0 {
		return append(buf, 0x00)
	}
	buf = appendVarint(buf, int64(len(index)), zigzag)
	for _, elem := range index {
		buf = appendVarint(buf, int64(elem), zigzag)
	}
	return buf
}

// ReadIndex consumes one message index path from r. The reserved single byte
// 0x00 decodes to [0]. An exhausted reader surfaces io.ErrUnexpectedEOF so
// callers can distinguish truncation from other corruption.
func ReadIndex(r io.ByteReader, zigzag bool) ([]int, error) {
	n, err := readVarint(r, zigzag)
	if err != nil {
		return nil, fmt.Errorf("read message index length: %w", eofToUnexpected(err))
	}
	if n < 0 || n > maxIndexLen {
		return nil, fmt.Errorf("%w: %d", ErrIndexLength, n)
	}
	if n == 0 {
		return []int{0}, nil
	}
	index := make([]int, n)
	for i := range index {
		elem, err := readVarint(r, zigzag)
		if err != nil {
			return nil, fmt.Errorf("read message index element %d: %w", i, eofToUnexpected(err))
		}
		index[i] = int(elem)
	}
	return index, nil
}

// eofToUnexpected normalizes the bare io.EOF that a ByteReader returns on an
// empty source. A frame that ends mid-index is truncated, not cleanly done.
func eofToUnexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
