package wire

import "encoding/binary"

// FrameReader accumulates bytes fed to it by Feed and yields complete
// messages as enough bytes become available, regardless of how the
// input was chunked across Feed calls. Grounded on the accumulate-then-
// parse loop a streaming peer connection needs: a single TCP read
// rarely lines up with a message boundary.
type FrameReader struct {
	buf []byte
}

// Feed appends newly-read bytes to the internal buffer.
func (f *FrameReader) Feed(data []byte) {
	f.buf = append(f.buf, data...)
}

// Next returns the next complete message in the buffer, if any. ok is
// false when fewer bytes than a full frame have been fed so far; the
// caller should Feed more data and try again. A nil *Message with
// ok==true denotes a keep-alive frame.
func (f *FrameReader) Next() (m *Message, ok bool, err error) {
	const headerLen = 4
	if len(f.buf) < headerLen {
		return nil, false, nil
	}

	length := binary.BigEndian.Uint32(f.buf[0:headerLen])
	if length == 0 {
		f.buf = f.buf[headerLen:]
		return nil, true, nil
	}

	total := headerLen + int(length)
	if len(f.buf) < total {
		return nil, false, nil
	}

	msg := &Message{
		ID:      MessageID(f.buf[headerLen]),
		Payload: append([]byte(nil), f.buf[headerLen+1:total]...),
	}
	f.buf = f.buf[total:]

	if err := msg.ValidatePayloadSize(); err != nil {
		return nil, false, err
	}
	return msg, true, nil
}

// Buffered reports how many unconsumed bytes remain.
func (f *FrameReader) Buffered() int { return len(f.buf) }
