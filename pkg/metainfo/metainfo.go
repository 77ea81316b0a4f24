// Package metainfo parses .torrent files into the fields a leecher
// needs: the announce URL, the piece layout, and the infohash.
package metainfo

import (
	"crypto/sha1"
	"fmt"

	"leecher/pkg/bencode"
)

const pieceHashLen = sha1.Size

// Info describes the single file this torrent publishes and how it is
// split into pieces.
type Info struct {
	Name        string
	PieceLength int64
	Length      int64
	Pieces      [][pieceHashLen]byte
}

// Metainfo is the parsed content of a .torrent file.
type Metainfo struct {
	Announce string
	Info     Info
	InfoHash [pieceHashLen]byte
}

// NumPieces returns the number of pieces described by m.
func (m *Metainfo) NumPieces() int { return len(m.Info.Pieces) }

// Parse decodes a .torrent file's bytes into a Metainfo.
//
// Multi-file torrents are rejected with an EncodingError: this leecher
// only downloads single-file torrents.
func Parse(data []byte) (*Metainfo, error) {
	root, err := bencode.Decode(data)
	if err != nil {
		return nil, err
	}
	if root.Kind() != bencode.KindDict {
		return nil, &bencode.EncodingError{Msg: "metainfo: top-level value is not a dict"}
	}

	announce, ok := root.DictGet("announce")
	if !ok {
		return nil, &bencode.EncodingError{Msg: "metainfo: 'announce' missing"}
	}
	announceStr, ok := announce.AsString()
	if !ok {
		return nil, &bencode.EncodingError{Msg: "metainfo: 'announce' is not a string"}
	}

	infoVal, ok := root.DictGet("info")
	if !ok {
		return nil, &bencode.EncodingError{Msg: "metainfo: 'info' missing"}
	}
	if infoVal.Kind() != bencode.KindDict {
		return nil, &bencode.EncodingError{Msg: "metainfo: 'info' is not a dict"}
	}

	info, err := parseInfo(infoVal)
	if err != nil {
		return nil, err
	}

	infoBytes, err := bencode.Marshal(infoVal)
	if err != nil {
		return nil, fmt.Errorf("metainfo: re-encoding info dict: %w", err)
	}

	return &Metainfo{
		Announce: announceStr,
		Info:     info,
		InfoHash: sha1.Sum(infoBytes),
	}, nil
}

func parseInfo(dict bencode.Value) (Info, error) {
	var out Info

	nameVal, ok := dict.DictGet("name")
	if !ok {
		return Info{}, &bencode.EncodingError{Msg: "metainfo: 'info.name' missing"}
	}
	name, ok := nameVal.AsString()
	if !ok || name == "" {
		return Info{}, &bencode.EncodingError{Msg: "metainfo: 'info.name' invalid"}
	}
	out.Name = name

	plVal, ok := dict.DictGet("piece length")
	if !ok {
		return Info{}, &bencode.EncodingError{Msg: "metainfo: 'info.piece length' missing"}
	}
	pl, ok := plVal.AsInt()
	if !ok || pl <= 0 {
		return Info{}, &bencode.EncodingError{Msg: "metainfo: 'info.piece length' must be > 0"}
	}
	out.PieceLength = pl

	piecesVal, ok := dict.DictGet("pieces")
	if !ok {
		return Info{}, &bencode.EncodingError{Msg: "metainfo: 'info.pieces' missing"}
	}
	piecesBytes, ok := piecesVal.AsBytes()
	if !ok {
		return Info{}, &bencode.EncodingError{Msg: "metainfo: 'info.pieces' is not a byte string"}
	}
	if len(piecesBytes)%pieceHashLen != 0 {
		return Info{}, &bencode.EncodingError{
			Msg: fmt.Sprintf("metainfo: 'info.pieces' length %d is not a multiple of %d", len(piecesBytes), pieceHashLen),
		}
	}
	n := len(piecesBytes) / pieceHashLen
	hashes := make([][pieceHashLen]byte, n)
	for i := 0; i < n; i++ {
		copy(hashes[i][:], piecesBytes[i*pieceHashLen:(i+1)*pieceHashLen])
	}
	out.Pieces = hashes

	_, hasFiles := dict.DictGet("files")
	if hasFiles {
		return Info{}, &bencode.EncodingError{Msg: "metainfo: multi-file torrents are not supported"}
	}

	lengthVal, ok := dict.DictGet("length")
	if !ok {
		return Info{}, &bencode.EncodingError{Msg: "metainfo: 'info.length' missing (multi-file torrents are not supported)"}
	}
	length, ok := lengthVal.AsInt()
	if !ok || length < 0 {
		return Info{}, &bencode.EncodingError{Msg: "metainfo: 'info.length' invalid"}
	}
	out.Length = length

	expectedPieces := (length + pl - 1) / pl
	if int64(n) != expectedPieces {
		return Info{}, &bencode.EncodingError{
			Msg: fmt.Sprintf("metainfo: piece count %d does not match length/piece length (expected %d)", n, expectedPieces),
		}
	}

	return out, nil
}
