// Package piece tracks a download's block and piece lifecycle:
// missing, ongoing, and verified pieces; missing, pending, and
// retrieved blocks within each; and the selection logic a peer
// connection calls to find its next block to request.
package piece

import (
	"crypto/sha1"
	"time"
)

// Status is a block's lifecycle state.
type Status uint8

const (
	StatusMissing Status = iota
	StatusPending
	StatusRetrieved
)

// Block is a fixed-size chunk of a Piece: the unit requested from and
// transferred by peers. Only the final block of the final piece is
// routinely shorter than the configured request size.
type Block struct {
	Piece  int
	Offset int
	Length int

	Status Status
	Data   []byte
}

// pendingRequest records when a block was last requested, so the
// manager can detect peers that never answer and re-request.
type pendingRequest struct {
	block *Block
	added time.Time
}

// Piece is one piece of the torrent's content: a contiguous run of
// blocks whose concatenation must hash to Hash.
type Piece struct {
	Index  int
	Hash   [sha1.Size]byte
	Blocks []*Block
}

// reset returns every block in p to StatusMissing, discarding any data
// received so far. Called when a piece fails its hash check.
func (p *Piece) reset() {
	for _, b := range p.Blocks {
		b.Status = StatusMissing
		b.Data = nil
	}
}

// nextRequest returns the first missing block in p, marking it
// pending, or nil if every block has been requested already.
func (p *Piece) nextRequest() *Block {
	for _, b := range p.Blocks {
		if b.Status == StatusMissing {
			b.Status = StatusPending
			return b
		}
	}
	return nil
}

// blockReceived records data for the block at offset.
func (p *Piece) blockReceived(offset int, data []byte) *Block {
	for _, b := range p.Blocks {
		if b.Offset == offset {
			b.Status = StatusRetrieved
			b.Data = data
			return b
		}
	}
	return nil
}

// isComplete reports whether every block in p has been retrieved.
func (p *Piece) isComplete() bool {
	for _, b := range p.Blocks {
		if b.Status != StatusRetrieved {
			return false
		}
	}
	return true
}

// assemble concatenates a complete piece's blocks in order.
func (p *Piece) assemble() []byte {
	buf := make([]byte, 0, len(p.Blocks)*len(p.Blocks[0].Data))
	for _, b := range p.Blocks {
		buf = append(buf, b.Data...)
	}
	return buf
}

// buildPieces lays out every piece and block for a torrent of the
// given total size, piece length, per-piece hashes, and block
// (request) size. All pieces are pieceLength except the last; within
// a piece, all blocks are blockSize except the last.
func buildPieces(totalSize, pieceLength int64, hashes [][sha1.Size]byte, blockSize int) []*Piece {
	pieces := make([]*Piece, len(hashes))
	for i, hash := range hashes {
		length := pieceLength
		if i == len(hashes)-1 {
			if rem := totalSize % pieceLength; rem != 0 {
				length = rem
			}
		}
		pieces[i] = &Piece{
			Index:  i,
			Hash:   hash,
			Blocks: buildBlocks(i, length, blockSize),
		}
	}
	return pieces
}

func buildBlocks(pieceIndex int, pieceLength int64, blockSize int) []*Block {
	n := int((pieceLength + int64(blockSize) - 1) / int64(blockSize))
	blocks := make([]*Block, n)
	for i := 0; i < n; i++ {
		length := blockSize
		if i == n-1 {
			if rem := int(pieceLength) % blockSize; rem != 0 {
				length = rem
			}
		}
		blocks[i] = &Block{
			Piece:  pieceIndex,
			Offset: i * blockSize,
			Length: length,
		}
	}
	return blocks
}
