package piece

import (
	"fmt"
	"os"
	"path/filepath"
)

// Store is the on-disk destination for verified piece data. It
// pre-allocates the full output file and writes each verified piece at
// its final byte offset, so pieces may complete and be written in any
// order.
type Store struct {
	f *os.File
}

// OpenStore creates (or truncates) dir/name to hold size bytes and
// returns a Store that writes into it.
func OpenStore(dir, name string, size int64) (*Store, error) {
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("piece: opening output file: %w", err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("piece: allocating output file: %w", err)
	}
	return &Store{f: f}, nil
}

// WritePiece writes data at the byte offset index*pieceLength.
func (s *Store) WritePiece(index int, pieceLength int64, data []byte) error {
	_, err := s.f.WriteAt(data, int64(index)*pieceLength)
	return err
}

// Close closes the underlying file.
func (s *Store) Close() error { return s.f.Close() }
