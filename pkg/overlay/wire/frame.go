// Package wire implements the overlay's framed binary control protocol:
// length-delimited messages with a one-byte header code, a big-endian
// four-byte payload length, and a payload whose fields are themselves
// fixed-width big-endian integers.
//
// There is no magic number or version byte in this frame. That is a known
// limitation carried over from the protocol this module implements and is
// preserved deliberately (see DESIGN.md, Open Question 2) rather than fixed
// silently.
package wire

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Header identifies the kind of payload carried by a Frame.
type Header uint8

const (
	// ConnReq is a join request: terminal flag, listening port, key.
	ConnReq Header = 0x01

	// ConnRep carries topology information: either a handshake reply to a
	// joining node, or an unsolicited push from an intermediate node
	// (wire-identical to NetTop; the two names exist for readability at
	// the call site, receivers treat them identically per spec.md §4.2).
	ConnRep Header = 0x02
	NetTop  Header = 0x02

	// ConnBad signals a rejected key. No payload; sender closes after.
	ConnBad Header = 0x03

	// SiblingAdd announces a new non-terminal sibling.
	//
	// The two sibling-maintenance codes are not given explicit numeric
	// values in the retrieved protocol header (NetworkMessageHeaders.h
	// only documents CONN_REQ/CONN_REP/NET_TOP/CONN_BAD); 0x04/0x05 are
	// assigned here as the natural continuation of the existing code
	// space.
	SiblingAdd Header = 0x04

	// SiblingRmv announces a sibling's departure.
	SiblingRmv Header = 0x05
)

func (h Header) String() string {
	switch h {
	case ConnReq:
		return "CONN_REQ"
	case ConnRep:
		return "CONN_REP/NET_TOP"
	case ConnBad:
		return "CONN_BAD"
	case SiblingAdd:
		return "SIBLING_ADD"
	case SiblingRmv:
		return "SIBLING_RMV"
	default:
		return "UNKNOWN"
	}
}

// ErrShortRead is returned when a read of a frame's header, length, or
// payload is cut short by a closed or reset peer.
var ErrShortRead = errors.New("wire: short read, peer likely closed the connection")

// Frame is a single length-delimited protocol message.
type Frame struct {
	Header  Header
	Payload []byte
}

// WriteTo serializes the frame as header || length(big-endian u32) ||
// payload and writes it to w. Partial writes are looped to completion by
// the underlying io.Writer contract (net.Conn.Write already guarantees
// this for a single call, but we still loop defensively).
func (f Frame) WriteTo(w io.Writer) (int64, error) {
	header := []byte{byte(f.Header)}
	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(f.Payload)))

	var written int64
	for _, chunk := range [][]byte{header, length, f.Payload} {
		n, err := writeFull(w, chunk)
		written += int64(n)
		if err != nil {
			return written, errors.Wrap(err, "wire: write frame")
		}
	}
	return written, nil
}

// ReadFrame blocks until it can read one complete frame from r, or fails
// with ErrShortRead if the stream closes mid-frame.
func ReadFrame(r io.Reader) (Frame, error) {
	var headerByte [1]byte
	if err := readFull(r, headerByte[:]); err != nil {
		return Frame{}, err
	}

	var lengthBytes [4]byte
	if err := readFull(r, lengthBytes[:]); err != nil {
		return Frame{}, err
	}
	length := binary.BigEndian.Uint32(lengthBytes[:])

	payload := make([]byte, length)
	if length > 0 {
		if err := readFull(r, payload); err != nil {
			return Frame{}, err
		}
	}

	return Frame{Header: Header(headerByte[0]), Payload: payload}, nil
}

func readFull(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return ErrShortRead
		}
		return errors.Wrap(err, "wire: read frame")
	}
	return nil
}

func writeFull(w io.Writer, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := w.Write(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
