// Package peerconn drives a single outbound peer connection: the
// handshake, the message read/write loop, and the choke/interested
// state machine that decides when to request blocks.
package peerconn

import (
	"context"
	"crypto/sha1"
	"fmt"
	"log/slog"
	"net"
	"time"

	"leecher/pkg/bitfield"
	"leecher/pkg/piece"
	"leecher/pkg/wire"
)

const (
	dialTimeout      = 10 * time.Second
	handshakeTimeout = 10 * time.Second
	readTimeout      = 2 * time.Minute
	writeTimeout     = 30 * time.Second
	readChunkSize    = 10 * 1024
)

// myState tracks this client's side of the choke/interested/request
// state machine for one peer. Kept as explicit booleans rather than a
// set-of-strings so illegal combinations are unrepresentable and the
// compiler catches missed transitions.
type myState struct {
	choked         bool
	interested     bool
	pendingRequest bool
	stopped        bool
}

// peerState tracks the remote peer's side of the state machine, as
// reported by its Interested/NotInterested messages.
type peerState struct {
	interested bool
}

// Manager is the subset of piece.Manager a connection needs: enough to
// register itself, ask for work, and hand back received blocks.
type Manager interface {
	AddPeer(peerID string, bf bitfield.Bitfield)
	UpdatePeer(peerID string, index int)
	RemovePeer(peerID string)
	NextRequest(peerID string) *piece.Block
	BlockReceived(peerID string, pieceIndex, offset int, data []byte)
	NumPieces() int
}

// Conn drives one peer: it owns the TCP connection, the handshake
// result, and the my/peer state machine.
type Conn struct {
	conn    net.Conn
	id      string // "ip:port", used as the manager's peer key
	remote  wire.Handshake
	manager Manager
	log     *slog.Logger

	my   myState
	peer peerState
	fr   wire.FrameReader
}

// Dial connects to addr, performs the handshake, and returns a Conn
// ready to Run. The caller owns calling Close.
func Dial(ctx context.Context, addr string, infoHash, clientID [sha1.Size]byte, mgr Manager, log *slog.Logger) (*Conn, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("peer", addr)

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("peerconn: dial: %w", err)
	}

	conn.SetDeadline(time.Now().Add(handshakeTimeout))
	local := wire.Handshake{InfoHash: infoHash, PeerID: clientID}
	remote, leftover, err := local.Perform(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("peerconn: handshake: %w", err)
	}
	conn.SetDeadline(time.Time{})

	c := &Conn{
		conn:    conn,
		id:      addr,
		remote:  remote,
		manager: mgr,
		log:     log,
		my:      myState{choked: true},
	}
	c.fr.Feed(leftover)

	log.Info("handshake ok")
	return c, nil
}

// Close closes the underlying connection and unregisters the peer from
// the manager.
func (c *Conn) Close() error {
	c.my.stopped = true
	c.manager.RemovePeer(c.id)
	return c.conn.Close()
}

// Run sends an Interested message and then services the connection
// until ctx is canceled, the peer disconnects, or a protocol error
// occurs.
func (c *Conn) Run(ctx context.Context) error {
	if err := c.sendInterested(); err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		c.conn.Close()
	}()

	for !c.my.stopped {
		msg, err := c.readMessage()
		if err != nil {
			return err
		}
		if err := c.handle(msg); err != nil {
			return err
		}
		if err := c.maybeRequest(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Conn) sendInterested() error {
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	defer c.conn.SetWriteDeadline(time.Time{})
	if err := wire.WriteMessage(c.conn, wire.MessageInterested()); err != nil {
		return fmt.Errorf("peerconn: sending interested: %w", err)
	}
	c.my.interested = true
	return nil
}

// readMessage pulls a complete frame from c.fr, reading more bytes
// from the connection as needed. A nil, nil return denotes a
// keep-alive.
func (c *Conn) readMessage() (*wire.Message, error) {
	for {
		msg, ok, err := c.fr.Next()
		if err != nil {
			return nil, err
		}
		if ok {
			return msg, nil
		}

		c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		buf := make([]byte, readChunkSize)
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.fr.Feed(buf[:n])
		}
		if err != nil {
			return nil, err
		}
	}
}

func (c *Conn) handle(msg *wire.Message) error {
	if wire.IsKeepAlive(msg) {
		return nil
	}

	switch msg.ID {
	case wire.MsgBitfield:
		bf := bitfield.FromBytes(msg.Payload)
		if !bf.HasValidPadding(c.manager.NumPieces()) {
			return &wire.ProtocolError{Msg: "bitfield trailing bits not zero"}
		}
		c.manager.AddPeer(c.id, bf)
	case wire.MsgInterested:
		c.peer.interested = true
	case wire.MsgNotInterested:
		c.peer.interested = false
	case wire.MsgChoke:
		c.my.choked = true
	case wire.MsgUnchoke:
		c.my.choked = false
	case wire.MsgHave:
		if idx, ok := msg.ParseHave(); ok {
			c.manager.UpdatePeer(c.id, int(idx))
		}
	case wire.MsgPiece:
		c.my.pendingRequest = false
		if idx, begin, block, ok := msg.ParsePiece(); ok {
			c.manager.BlockReceived(c.id, int(idx), int(begin), block)
		}
	case wire.MsgRequest, wire.MsgCancel:
		// This leecher never seeds; upload requests are ignored.
	default:
		c.log.Warn("unknown message id, ignoring", "id", msg.ID)
	}
	return nil
}

func (c *Conn) maybeRequest() error {
	if c.my.choked || !c.my.interested || c.my.pendingRequest {
		return nil
	}

	block := c.manager.NextRequest(c.id)
	if block == nil {
		return nil
	}

	c.my.pendingRequest = true
	req := wire.MessageRequest(uint32(block.Piece), uint32(block.Offset), uint32(block.Length))

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	defer c.conn.SetWriteDeadline(time.Time{})
	if err := wire.WriteMessage(c.conn, req); err != nil {
		return fmt.Errorf("peerconn: sending request: %w", err)
	}
	return nil
}
