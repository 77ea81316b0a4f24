// Package wire implements the BitTorrent peer wire protocol: the
// initial handshake and the length-prefixed message stream that
// follows it.
package wire

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"io"
)

// ProtocolError reports a wire-protocol violation: a malformed
// handshake or message frame, or a handshake that doesn't match the
// torrent or peer we expected.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string { return "wire: " + e.Msg }

const (
	pstr           = "BitTorrent protocol"
	reservedLen    = 8
	handshakeLen   = 1 + len(pstr) + reservedLen + sha1.Size + sha1.Size
	handshakeChunk = 10 * 1024
)

// Handshake is the 68-byte preamble exchanged before any length-prefixed
// message is sent.
type Handshake struct {
	InfoHash [sha1.Size]byte
	PeerID   [sha1.Size]byte
}

// Serialize renders h in wire form.
func (h Handshake) Serialize() []byte {
	buf := make([]byte, handshakeLen)
	buf[0] = byte(len(pstr))
	offset := 1
	offset += copy(buf[offset:], pstr)
	offset += reservedLen // reserved bytes are left zero
	offset += copy(buf[offset:], h.InfoHash[:])
	copy(buf[offset:], h.PeerID[:])
	return buf
}

// Perform writes h to rw, reads the remote peer's handshake, and
// verifies its infohash matches h's. It returns the remote handshake
// and any bytes already-read-but-unconsumed beyond the 68-byte
// handshake, which the caller must feed to its message FrameReader
// before reading further from rw.
//
// Reads accumulate into a single growing buffer across retries rather
// than being discarded between reads, since a short read is common
// and must not lose already-received handshake bytes.
func (h Handshake) Perform(rw io.ReadWriter) (remote Handshake, leftover []byte, err error) {
	if _, err := rw.Write(h.Serialize()); err != nil {
		return Handshake{}, nil, err
	}

	var buf []byte
	const maxTries = 10
	for tries := 0; len(buf) < handshakeLen && tries < maxTries; tries++ {
		chunk := make([]byte, handshakeChunk)
		n, err := rw.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			if len(buf) >= handshakeLen {
				break
			}
			return Handshake{}, nil, err
		}
	}
	if len(buf) < handshakeLen {
		return Handshake{}, nil, &ProtocolError{Msg: "unable to read a complete handshake"}
	}

	remote, err = parseHandshake(buf[:handshakeLen])
	if err != nil {
		return Handshake{}, nil, err
	}
	if !bytes.Equal(h.InfoHash[:], remote.InfoHash[:]) {
		return Handshake{}, nil, &ProtocolError{Msg: "handshake info hash mismatch"}
	}

	return remote, buf[handshakeLen:], nil
}

func parseHandshake(buf []byte) (Handshake, error) {
	if len(buf) != handshakeLen {
		return Handshake{}, &ProtocolError{Msg: "malformed handshake length"}
	}
	pstrlen := int(buf[0])
	if pstrlen == 0 {
		return Handshake{}, &ProtocolError{Msg: "handshake pstrlen is zero"}
	}
	if 1+pstrlen+reservedLen+sha1.Size+sha1.Size != handshakeLen {
		return Handshake{}, &ProtocolError{Msg: fmt.Sprintf("unexpected pstrlen %d", pstrlen)}
	}
	if string(buf[1:1+pstrlen]) != pstr {
		return Handshake{}, &ProtocolError{Msg: "unrecognized protocol string"}
	}

	offset := 1 + pstrlen + reservedLen
	var hs Handshake
	copy(hs.InfoHash[:], buf[offset:offset+sha1.Size])
	copy(hs.PeerID[:], buf[offset+sha1.Size:offset+sha1.Size+sha1.Size])
	return hs, nil
}
