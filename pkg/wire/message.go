package wire

import (
	"encoding"
	"encoding/binary"
	"fmt"
	"io"
)

// MessageID identifies a post-handshake message type.
type MessageID uint8

const (
	MsgChoke         MessageID = 0
	MsgUnchoke       MessageID = 1
	MsgInterested    MessageID = 2
	MsgNotInterested MessageID = 3
	MsgHave          MessageID = 4
	MsgBitfield      MessageID = 5
	MsgRequest       MessageID = 6
	MsgPiece         MessageID = 7
	MsgCancel        MessageID = 8
	MsgPort          MessageID = 9
)

func (id MessageID) String() string {
	switch id {
	case MsgChoke:
		return "choke"
	case MsgUnchoke:
		return "unchoke"
	case MsgInterested:
		return "interested"
	case MsgNotInterested:
		return "not_interested"
	case MsgHave:
		return "have"
	case MsgBitfield:
		return "bitfield"
	case MsgRequest:
		return "request"
	case MsgPiece:
		return "piece"
	case MsgCancel:
		return "cancel"
	case MsgPort:
		return "port"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(id))
	}
}

// Message is a single length-prefixed peer wire message.
//
// Wire format:
//
//	keep-alive: <length=0>
//	otherwise:  <length:4><id:1><payload:length-1>
//
// A nil *Message denotes a keep-alive frame.
type Message struct {
	ID      MessageID
	Payload []byte
}

var (
	_ encoding.BinaryMarshaler   = (*Message)(nil)
	_ encoding.BinaryUnmarshaler = (*Message)(nil)
	_ io.WriterTo                = (*Message)(nil)
)

// IsKeepAlive reports whether m denotes a keep-alive frame.
func IsKeepAlive(m *Message) bool { return m == nil }

func MessageChoke() *Message         { return &Message{ID: MsgChoke} }
func MessageUnchoke() *Message       { return &Message{ID: MsgUnchoke} }
func MessageInterested() *Message    { return &Message{ID: MsgInterested} }
func MessageNotInterested() *Message { return &Message{ID: MsgNotInterested} }

func MessageHave(index uint32) *Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, index)
	return &Message{ID: MsgHave, Payload: payload}
}

func MessageBitfield(bits []byte) *Message {
	return &Message{ID: MsgBitfield, Payload: append([]byte(nil), bits...)}
}

func MessageRequest(index, begin, length uint32) *Message {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], index)
	binary.BigEndian.PutUint32(payload[4:8], begin)
	binary.BigEndian.PutUint32(payload[8:12], length)
	return &Message{ID: MsgRequest, Payload: payload}
}

func MessagePiece(index, begin uint32, block []byte) *Message {
	payload := make([]byte, 8+len(block))
	binary.BigEndian.PutUint32(payload[0:4], index)
	binary.BigEndian.PutUint32(payload[4:8], begin)
	copy(payload[8:], block)
	return &Message{ID: MsgPiece, Payload: payload}
}

func MessageCancel(index, begin, length uint32) *Message {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], index)
	binary.BigEndian.PutUint32(payload[4:8], begin)
	binary.BigEndian.PutUint32(payload[8:12], length)
	return &Message{ID: MsgCancel, Payload: payload}
}

// ParseHave returns the piece index carried by a Have message.
func (m *Message) ParseHave() (index uint32, ok bool) {
	if m == nil || m.ID != MsgHave || len(m.Payload) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(m.Payload), true
}

// ParseRequest parses a Request or Cancel payload.
func (m *Message) ParseRequest() (index, begin, length uint32, ok bool) {
	if m == nil || (m.ID != MsgRequest && m.ID != MsgCancel) || len(m.Payload) != 12 {
		return 0, 0, 0, false
	}
	return binary.BigEndian.Uint32(m.Payload[0:4]),
		binary.BigEndian.Uint32(m.Payload[4:8]),
		binary.BigEndian.Uint32(m.Payload[8:12]),
		true
}

// ParsePiece parses a Piece payload into its index, offset, and block.
func (m *Message) ParsePiece() (index, begin uint32, block []byte, ok bool) {
	if m == nil || m.ID != MsgPiece || len(m.Payload) < 8 {
		return 0, 0, nil, false
	}
	return binary.BigEndian.Uint32(m.Payload[0:4]),
		binary.BigEndian.Uint32(m.Payload[4:8]),
		m.Payload[8:],
		true
}

// ValidatePayloadSize checks that m's payload length matches what its
// ID requires. A nil m (keep-alive) always validates.
func (m *Message) ValidatePayloadSize() error {
	if m == nil {
		return nil
	}
	switch m.ID {
	case MsgHave:
		if len(m.Payload) != 4 {
			return &ProtocolError{Msg: "have: payload must be 4 bytes"}
		}
	case MsgRequest, MsgCancel:
		if len(m.Payload) != 12 {
			return &ProtocolError{Msg: "request/cancel: payload must be 12 bytes"}
		}
	case MsgPiece:
		if len(m.Payload) < 8 {
			return &ProtocolError{Msg: "piece: payload must be at least 8 bytes"}
		}
	case MsgPort:
		if len(m.Payload) != 2 {
			return &ProtocolError{Msg: "port: payload must be 2 bytes"}
		}
	}
	return nil
}

// MarshalBinary implements encoding.BinaryMarshaler. A nil m marshals
// to a keep-alive frame.
func (m *Message) MarshalBinary() ([]byte, error) {
	if m == nil {
		return []byte{0, 0, 0, 0}, nil
	}
	length := 1 + len(m.Payload)
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], uint32(length))
	buf[4] = byte(m.ID)
	copy(buf[5:], m.Payload)
	return buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler, decoding a
// single complete frame (length prefix included).
func (m *Message) UnmarshalBinary(b []byte) error {
	if len(b) < 4 {
		return &ProtocolError{Msg: "short message"}
	}
	length := binary.BigEndian.Uint32(b[0:4])
	if length == 0 {
		*m = Message{}
		return nil
	}
	if len(b) < 4+int(length) {
		return &ProtocolError{Msg: "short message"}
	}
	m.ID = MessageID(b[4])
	m.Payload = append(m.Payload[:0], b[5:4+int(length)]...)
	return nil
}

// WriteTo implements io.WriterTo.
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	b, _ := m.MarshalBinary()
	n, err := w.Write(b)
	return int64(n), err
}

// WriteMessage writes m to w. A nil m writes a keep-alive frame.
func WriteMessage(w io.Writer, m *Message) error {
	_, err := m.WriteTo(w)
	return err
}
