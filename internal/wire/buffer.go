package wire

// Buffer is a per-socket receive buffer that reassembles framed messages
// out of an ordered byte stream. Bytes are appended as they arrive and
// whole messages are drained front-to-back.
type Buffer struct {
	data []byte
}

// Append adds freshly received bytes to the back of the buffer.
func (b *Buffer) Append(p []byte) {
	b.data = append(b.data, p...)
}

// Next extracts the next complete framed message, or returns false when the
// buffer does not yet hold one. Partial headers and partial payloads are
// left untouched until more bytes arrive.
func (b *Buffer) Next() (Header, []byte, bool) {
	h, err := PeekHeader(b.data)
	if err != nil {
		return Header{}, nil, false
	}
	total := HeaderSize + int(h.PayloadSize)
	if len(b.data) < total {
		return Header{}, nil, false
	}
	msg := make([]byte, total)
	copy(msg, b.data[:total])
	b.data = b.data[total:]
	return h, msg, true
}

// Len reports the number of buffered bytes.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Reset discards all buffered bytes.
func (b *Buffer) Reset() {
	b.data = nil
}
