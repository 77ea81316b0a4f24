package bencode

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
)

// Marshal renders v in bencode form. Dict entries keep v's order; see
// Encoder.Encode.
func Marshal(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Encoder writes bencoded values to an underlying io.Writer.
type Encoder struct {
	w io.Writer
}

func NewEncoder(w io.Writer) *Encoder { return &Encoder{w: w} }

// Encode writes v. Dict entries are emitted in the order they appear
// in v — the caller is responsible for sorted-key order when the
// output will be hashed.
func (e *Encoder) Encode(v Value) error {
	switch v.kind {
	case KindInt:
		return e.encodeInt(v.i)
	case KindBytes:
		return e.encodeBytes(v.s)
	case KindList:
		return e.encodeList(v.list)
	case KindDict:
		return e.encodeDict(v.dict)
	default:
		return fmt.Errorf("bencode: unsupported value kind %v", v.kind)
	}
}

func (e *Encoder) writeByte(b byte) error {
	_, err := e.w.Write([]byte{b})
	return err
}

func (e *Encoder) encodeInt(n int64) error {
	if err := e.writeByte(TokenInteger.Byte()); err != nil {
		return err
	}
	var buf [20]byte
	b := strconv.AppendInt(buf[:0], n, 10)
	if _, err := e.w.Write(b); err != nil {
		return err
	}
	return e.writeByte(TokenEnding.Byte())
}

func (e *Encoder) encodeBytes(s []byte) error {
	var buf [20]byte
	b := strconv.AppendInt(buf[:0], int64(len(s)), 10)
	if _, err := e.w.Write(b); err != nil {
		return err
	}
	if err := e.writeByte(TokenStringSeparator.Byte()); err != nil {
		return err
	}
	_, err := e.w.Write(s)
	return err
}

func (e *Encoder) encodeList(items []Value) error {
	if err := e.writeByte(TokenList.Byte()); err != nil {
		return err
	}
	for _, v := range items {
		if err := e.Encode(v); err != nil {
			return err
		}
	}
	return e.writeByte(TokenEnding.Byte())
}

func (e *Encoder) encodeDict(entries []Entry) error {
	if err := e.writeByte(TokenDict.Byte()); err != nil {
		return err
	}
	for _, entry := range entries {
		if err := e.encodeBytes([]byte(entry.Key)); err != nil {
			return err
		}
		if err := e.Encode(entry.Value); err != nil {
			return err
		}
	}
	return e.writeByte(TokenEnding.Byte())
}
