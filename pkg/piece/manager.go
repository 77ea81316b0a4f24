package piece

import (
	"crypto/sha1"
	"log/slog"
	"sync"
	"time"

	"leecher/pkg/bitfield"
)

// Manager owns a torrent's piece/block state machine and its on-disk
// store. A single mutex guards everything: piece lists, per-peer
// bitfields, and the pending-request ledger all change together when a
// block is requested or received, so splitting the locking finer would
// only reintroduce the races it avoids.
//
// Selection is sequential, not rarest-first: re-request any expired
// block first, then continue an already-ongoing piece, and only start
// a new piece once no ongoing piece has a requestable block.
type Manager struct {
	mu sync.Mutex

	pieceLength    int64
	totalSize      int64
	totalPieces    int
	maxPendingTime time.Duration

	peers   map[string]bitfield.Bitfield
	missing []*Piece
	ongoing []*Piece
	have    map[int]bool

	pending []*pendingRequest

	store *Store
	log   *slog.Logger
}

// New builds a Manager for a torrent with the given piece hashes and
// opens its output file at dir/name.
func New(dir, name string, totalSize, pieceLength int64, hashes [][sha1.Size]byte, requestSize int, maxPendingTime time.Duration, log *slog.Logger) (*Manager, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "piece_manager")

	store, err := OpenStore(dir, name, totalSize)
	if err != nil {
		return nil, err
	}

	pieces := buildPieces(totalSize, pieceLength, hashes, requestSize)

	log.Info("piece manager initialized", "pieces", len(pieces), "piece_length", pieceLength, "total_size", totalSize)

	return &Manager{
		pieceLength:    pieceLength,
		totalSize:      totalSize,
		totalPieces:    len(pieces),
		maxPendingTime: maxPendingTime,
		peers:          make(map[string]bitfield.Bitfield),
		missing:        pieces,
		have:           make(map[int]bool),
		store:          store,
		log:            log,
	}, nil
}

// Close closes the underlying store.
func (m *Manager) Close() error { return m.store.Close() }

// NumPieces returns the total number of pieces in the torrent.
func (m *Manager) NumPieces() int { return m.totalPieces }

// Complete reports whether every piece has been downloaded and
// verified.
func (m *Manager) Complete() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.have) == m.totalPieces
}

// BytesDownloaded approximates downloaded bytes by counting full,
// verified pieces; partially-received pieces are not counted, and the
// final piece's shorter length is not accounted for (a documented
// approximation, not an exact byte count).
func (m *Manager) BytesDownloaded() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.have)) * m.pieceLength
}

// AddPeer registers peerID's advertised bitfield.
func (m *Manager) AddPeer(peerID string, bf bitfield.Bitfield) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peers[peerID] = bf
}

// UpdatePeer records that peerID now has piece index, reflecting a
// Have message.
func (m *Manager) UpdatePeer(peerID string, index int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bf, ok := m.peers[peerID]
	if !ok {
		return
	}
	bf = bf.EnsureLen(index + 1)
	bf.Set(index)
	m.peers[peerID] = bf
}

// RemovePeer discards peerID's bitfield, e.g. after its connection
// drops.
func (m *Manager) RemovePeer(peerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.peers, peerID)
}

// NextRequest returns the next block peerID should request, or nil if
// peerID has nothing left to offer (unknown peer, or no missing piece
// it advertises).
func (m *Manager) NextRequest(peerID string) *Block {
	m.mu.Lock()
	defer m.mu.Unlock()

	bf, ok := m.peers[peerID]
	if !ok {
		return nil
	}

	if b := m.expiredRequest(bf); b != nil {
		return b
	}
	if b := m.nextOngoing(bf); b != nil {
		return b
	}
	return m.nextMissing(bf)
}

func (m *Manager) expiredRequest(bf bitfield.Bitfield) *Block {
	now := time.Now()
	for _, req := range m.pending {
		if !bf.Has(req.block.Piece) {
			continue
		}
		if now.Sub(req.added) < m.maxPendingTime {
			continue
		}
		m.log.Info("re-requesting expired block", "piece", req.block.Piece, "offset", req.block.Offset)
		req.added = now
		return req.block
	}
	return nil
}

func (m *Manager) nextOngoing(bf bitfield.Bitfield) *Block {
	for _, p := range m.ongoing {
		if !bf.Has(p.Index) {
			continue
		}
		if b := p.nextRequest(); b != nil {
			m.pending = append(m.pending, &pendingRequest{block: b, added: time.Now()})
			return b
		}
	}
	return nil
}

func (m *Manager) nextMissing(bf bitfield.Bitfield) *Block {
	for i, p := range m.missing {
		if !bf.Has(p.Index) {
			continue
		}
		m.missing = append(m.missing[:i:i], m.missing[i+1:]...)
		m.ongoing = append(m.ongoing, p)
		b := p.nextRequest()
		if b != nil {
			m.pending = append(m.pending, &pendingRequest{block: b, added: time.Now()})
		}
		return b
	}
	return nil
}

// BlockReceived records a block retrieved from peerID. Once a piece's
// blocks are all retrieved, its hash is checked: on success the piece
// is written to disk and marked have; on failure its blocks are reset
// to missing so they are re-requested.
func (m *Manager) BlockReceived(peerID string, pieceIndex, offset int, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, req := range m.pending {
		if req.block.Piece == pieceIndex && req.block.Offset == offset {
			m.pending = append(m.pending[:i:i], m.pending[i+1:]...)
			break
		}
	}

	var piece *Piece
	var ongoingIdx int
	for i, p := range m.ongoing {
		if p.Index == pieceIndex {
			piece, ongoingIdx = p, i
			break
		}
	}
	if piece == nil {
		m.log.Warn("block received for piece that is not ongoing", "piece", pieceIndex)
		return
	}

	piece.blockReceived(offset, data)
	if !piece.isComplete() {
		return
	}

	assembled := piece.assemble()
	if sha1.Sum(assembled) != piece.Hash {
		m.log.Info("discarding corrupt piece", "piece", piece.Index)
		piece.reset()
		return
	}

	if err := m.store.WritePiece(piece.Index, m.pieceLength, assembled); err != nil {
		m.log.Error("writing piece to disk", "piece", piece.Index, "error", err)
		piece.reset()
		return
	}

	m.ongoing = append(m.ongoing[:ongoingIdx:ongoingIdx], m.ongoing[ongoingIdx+1:]...)
	m.have[piece.Index] = true
	m.log.Info("piece verified", "piece", piece.Index, "complete", len(m.have), "total", m.totalPieces)
}
