package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Writer accumulates a payload's fields in big-endian order. The zero value
// is ready to use.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer { return &Writer{} }

func (w *Writer) PutUint8(v uint8) *Writer {
	w.buf = append(w.buf, v)
	return w
}

func (w *Writer) PutUint16(v uint16) *Writer {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
	return w
}

func (w *Writer) PutUint32(v uint32) *Writer {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
	return w
}

func (w *Writer) PutBytes(v []byte) *Writer {
	w.buf = append(w.buf, v...)
	return w
}

// Bytes returns the accumulated payload.
func (w *Writer) Bytes() []byte { return w.buf }

// Reader consumes a payload's fields in big-endian order, rewound to the
// start (the cursor begins at 0; there is no separate "rewind" step in this
// recasting since the Reader never shares its backing buffer with a
// writer).
type Reader struct {
	buf []byte
	pos int
}

func NewReader(payload []byte) *Reader {
	return &Reader{buf: payload}
}

// ErrShortPayload is returned when a payload is too small for the field
// being decoded -- a malformed or truncated frame.
var ErrShortPayload = errors.New("wire: payload too short for field")

func (r *Reader) take(n int) ([]byte, error) {
	if r.pos+n > len(r.buf) {
		return nil, ErrShortPayload
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *Reader) Uint8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) Uint16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *Reader) Uint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *Reader) Bytes(n int) ([]byte, error) {
	b, err := r.take(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// Remaining reports how many unread bytes are left in the payload.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.pos
}
