// Package wire implements the cursor-based binary reader and writer for the
// packed bundle format. All multi-byte integers are big-endian.
package wire

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

var (
	// ErrBufferUnderrun is returned when a read requires more bytes than
	// remain before the reader's bound.
	ErrBufferUnderrun = errors.New("wire: buffer underrun")

	// ErrTrailingBytes is returned when a reader that must be fully
	// consumed still has bytes remaining.
	ErrTrailingBytes = errors.New("wire: trailing bytes")

	// ErrOverlongValue is returned when a fixed-width quantity exceeds its
	// declared bit width (e.g. a u128 field with a high bit above 2^128).
	ErrOverlongValue = errors.New("wire: value exceeds declared width")
)

// Reader is a bounds-checked cursor over an immutable byte buffer. Every
// read advances the cursor; reads past the bound fail with
// ErrBufferUnderrun and leave the cursor unchanged.
type Reader struct {
	buf []byte
	pos int
}

// NewReader returns a Reader over buf starting at offset zero.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Remaining reports how many unread bytes are left before the bound.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.pos
}

// Offset reports the current cursor position.
func (r *Reader) Offset() int {
	return r.pos
}

// Done returns nil if the reader has been consumed exactly, and
// ErrTrailingBytes otherwise.
func (r *Reader) Done() error {
	if n := r.Remaining(); n != 0 {
		return fmt.Errorf("%w: %d bytes left at offset %d", ErrTrailingBytes, n, r.pos)
	}
	return nil
}

func (r *Reader) take(n int) ([]byte, error) {
	if r.Remaining() < n {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d",
			ErrBufferUnderrun, n, r.pos, r.Remaining())
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// Bytes reads exactly n raw bytes.
func (r *Reader) Bytes(n int) ([]byte, error) {
	return r.take(n)
}

// Sub returns a child reader bounded to exactly n bytes and advances the
// parent past them. The child must be consumed exactly by its caller.
func (r *Reader) Sub(n int) (*Reader, error) {
	b, err := r.take(n)
	if err != nil {
		return nil, err
	}
	return NewReader(b), nil
}

// U8 reads one byte.
func (r *Reader) U8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// U16 reads a big-endian 16-bit unsigned integer.
func (r *Reader) U16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return uint16(b[0])<<8 | uint16(b[1]), nil
}

// U24 reads a big-endian 24-bit unsigned integer.
func (r *Reader) U24() (uint32, error) {
	b, err := r.take(3)
	if err != nil {
		return 0, err
	}
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2]), nil
}

// U32 reads a big-endian 32-bit unsigned integer.
func (r *Reader) U32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
}

// U40 reads a big-endian 40-bit unsigned integer (deadline fields).
func (r *Reader) U40() (uint64, error) {
	b, err := r.take(5)
	if err != nil {
		return 0, err
	}
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v, nil
}

// U64 reads a big-endian 64-bit unsigned integer.
func (r *Reader) U64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v, nil
}

// U128 reads a big-endian 128-bit unsigned integer into a uint256.Int.
func (r *Reader) U128() (*uint256.Int, error) {
	b, err := r.take(16)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).SetBytes(b), nil
}

// U256 reads a big-endian 256-bit unsigned integer.
func (r *Reader) U256() (*uint256.Int, error) {
	b, err := r.take(32)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).SetBytes(b), nil
}

// ID32 reads a fixed 32-byte identifier (addresses, asset ids, hashes).
func (r *Reader) ID32() ([32]byte, error) {
	var id [32]byte
	b, err := r.take(32)
	if err != nil {
		return id, err
	}
	copy(id[:], b)
	return id, nil
}

// PrefixedBytes reads a u24 byte-length prefix followed by that many raw
// bytes.
func (r *Reader) PrefixedBytes() ([]byte, error) {
	n, err := r.U24()
	if err != nil {
		return nil, err
	}
	return r.take(int(n))
}

// PrefixedBytes16 reads a u16 byte-length prefix followed by that many raw
// bytes (contract signature payloads).
func (r *Reader) PrefixedBytes16() ([]byte, error) {
	n, err := r.U16()
	if err != nil {
		return nil, err
	}
	return r.take(int(n))
}

// Section reads a u24 total-byte-length prefix and returns a sub-reader
// bounded to exactly that many bytes.
func (r *Reader) Section() (*Reader, error) {
	n, err := r.U24()
	if err != nil {
		return nil, err
	}
	return r.Sub(int(n))
}
