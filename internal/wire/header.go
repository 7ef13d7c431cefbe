package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the serialized size of a Header in bytes.
const HeaderSize = 4 + 8 + 4 + 8

// ErrShortHeader is returned when fewer than HeaderSize bytes are available.
var ErrShortHeader = errors.New("wire: buffer shorter than header")

// Header is the fixed L7 framing header.
//
// Seq is monotonic per client connection, starting at 1. TimestampNs is
// nanoseconds since the simulation epoch at send time. L7ID is a per-request
// identifier used as the key by the hash-based selection algorithms.
type Header struct {
	Seq         uint32
	TimestampNs int64
	PayloadSize uint32
	L7ID        uint64
}

// AppendTo serializes the header in wire order onto b and returns the
// extended slice.
func (h Header) AppendTo(b []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, h.Seq)
	b = binary.BigEndian.AppendUint64(b, uint64(h.TimestampNs))
	b = binary.BigEndian.AppendUint32(b, h.PayloadSize)
	b = binary.BigEndian.AppendUint64(b, h.L7ID)
	return b
}

// PeekHeader decodes a header from the front of b without consuming it.
func PeekHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrShortHeader
	}
	return Header{
		Seq:         binary.BigEndian.Uint32(b[0:4]),
		TimestampNs: int64(binary.BigEndian.Uint64(b[4:12])),
		PayloadSize: binary.BigEndian.Uint32(b[12:16]),
		L7ID:        binary.BigEndian.Uint64(b[16:24]),
	}, nil
}

// EncodeMessage builds a full framed message from h and payload. The
// header's PayloadSize is overwritten with len(payload).
func EncodeMessage(h Header, payload []byte) []byte {
	h.PayloadSize = uint32(len(payload))
	msg := make([]byte, 0, HeaderSize+len(payload))
	msg = h.AppendTo(msg)
	return append(msg, payload...)
}

func (h Header) String() string {
	return fmt.Sprintf("seq=%d ts=%dns payload=%d l7id=%d",
		h.Seq, h.TimestampNs, h.PayloadSize, h.L7ID)
}
