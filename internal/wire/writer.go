package wire

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Writer mirrors Reader: it appends big-endian fields to a growing buffer.
// It is used by the bundle builder and by the round-trip tests.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Bytes returns the accumulated buffer.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Raw appends raw bytes with no prefix.
func (w *Writer) Raw(b []byte) {
	w.buf = append(w.buf, b...)
}

// U8 appends one byte.
func (w *Writer) U8(v uint8) {
	w.buf = append(w.buf, v)
}

// U16 appends a big-endian 16-bit unsigned integer.
func (w *Writer) U16(v uint16) {
	w.buf = append(w.buf, byte(v>>8), byte(v))
}

// U24 appends a big-endian 24-bit unsigned integer. v must fit in 24 bits.
func (w *Writer) U24(v uint32) error {
	if v>>24 != 0 {
		return fmt.Errorf("%w: %d does not fit in u24", ErrOverlongValue, v)
	}
	w.buf = append(w.buf, byte(v>>16), byte(v>>8), byte(v))
	return nil
}

// U32 appends a big-endian 32-bit unsigned integer.
func (w *Writer) U32(v uint32) {
	w.buf = append(w.buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// U40 appends a big-endian 40-bit unsigned integer. v must fit in 40 bits.
func (w *Writer) U40(v uint64) error {
	if v>>40 != 0 {
		return fmt.Errorf("%w: %d does not fit in u40", ErrOverlongValue, v)
	}
	w.buf = append(w.buf, byte(v>>32), byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	return nil
}

// U64 appends a big-endian 64-bit unsigned integer.
func (w *Writer) U64(v uint64) {
	for shift := 56; shift >= 0; shift -= 8 {
		w.buf = append(w.buf, byte(v>>shift))
	}
}

// U128 appends a big-endian 128-bit unsigned integer. v must fit in 128
// bits.
func (w *Writer) U128(v *uint256.Int) error {
	if v.BitLen() > 128 {
		return fmt.Errorf("%w: %s does not fit in u128", ErrOverlongValue, v)
	}
	b := v.Bytes32()
	w.buf = append(w.buf, b[16:]...)
	return nil
}

// U256 appends a big-endian 256-bit unsigned integer.
func (w *Writer) U256(v *uint256.Int) {
	b := v.Bytes32()
	w.buf = append(w.buf, b[:]...)
}

// ID32 appends a fixed 32-byte identifier.
func (w *Writer) ID32(id [32]byte) {
	w.buf = append(w.buf, id[:]...)
}

// PrefixedBytes appends a u24 byte-length prefix followed by b.
func (w *Writer) PrefixedBytes(b []byte) error {
	if err := w.U24(uint32(len(b))); err != nil {
		return err
	}
	w.buf = append(w.buf, b...)
	return nil
}

// PrefixedBytes16 appends a u16 byte-length prefix followed by b.
func (w *Writer) PrefixedBytes16(b []byte) error {
	if len(b) > 0xffff {
		return fmt.Errorf("%w: %d bytes does not fit behind a u16 prefix", ErrOverlongValue, len(b))
	}
	w.U16(uint16(len(b)))
	w.buf = append(w.buf, b...)
	return nil
}

// Section appends a u24 total-byte-length prefix followed by the contents
// of the child writer.
func (w *Writer) Section(child *Writer) error {
	return w.PrefixedBytes(child.Bytes())
}
