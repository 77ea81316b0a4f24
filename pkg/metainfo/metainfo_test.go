package metainfo

import (
	"crypto/sha1"
	"fmt"
	"strings"
	"testing"

	"leecher/pkg/bencode"
)

func bstr(s string) string { return fmt.Sprintf("%d:%s", len(s), s) }

func sha1sum(b []byte) [20]byte { return sha1.Sum(b) }

func buildTorrent(t *testing.T, announce, name string, pieceLength, length int64, pieces string) []byte {
	t.Helper()
	info := "d" +
		bstr("length") + fmt.Sprintf("i%de", length) +
		bstr("name") + bstr(name) +
		bstr("piece length") + fmt.Sprintf("i%de", pieceLength) +
		bstr("pieces") + bstr(pieces) +
		"e"
	doc := "d" +
		bstr("announce") + bstr(announce) +
		bstr("info") + info +
		"e"
	return []byte(doc)
}

func fakeHashes(n int) string {
	return strings.Repeat("a", n*20)
}

func TestParseSingleFileTorrent(t *testing.T) {
	data := buildTorrent(t, "http://tracker.example/announce", "a.txt", 4, 9, fakeHashes(3))

	m, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.Announce != "http://tracker.example/announce" {
		t.Errorf("Announce = %q", m.Announce)
	}
	if m.Info.Name != "a.txt" {
		t.Errorf("Name = %q", m.Info.Name)
	}
	if m.Info.PieceLength != 4 {
		t.Errorf("PieceLength = %d", m.Info.PieceLength)
	}
	if m.Info.Length != 9 {
		t.Errorf("Length = %d", m.Info.Length)
	}
	if m.NumPieces() != 3 {
		t.Fatalf("NumPieces() = %d; want 3", m.NumPieces())
	}
	if m.InfoHash == ([20]byte{}) {
		t.Error("InfoHash should not be zero")
	}
}

func TestParseInfoHashIsStableForSameBytes(t *testing.T) {
	data := buildTorrent(t, "http://tracker.example/announce", "a.txt", 4, 9, fakeHashes(3))
	m1, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	m2, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m1.InfoHash != m2.InfoHash {
		t.Error("InfoHash should be deterministic for identical input bytes")
	}
}

func TestParseInfoHashMatchesManualReencode(t *testing.T) {
	data := buildTorrent(t, "http://tracker.example/announce", "a.txt", 4, 9, fakeHashes(3))
	root, err := bencode.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	infoVal, ok := root.DictGet("info")
	if !ok {
		t.Fatal("missing info")
	}
	infoBytes, err := bencode.Marshal(infoVal)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	m, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := sha1sum(infoBytes)
	if m.InfoHash != want {
		t.Errorf("InfoHash = %x; want %x", m.InfoHash, want)
	}
}

func TestParseRejectsMultiFile(t *testing.T) {
	info := "d" +
		bstr("files") + "l" +
		"d" + bstr("length") + "i1e" + bstr("path") + "l" + bstr("a") + "ee" +
		"e" +
		bstr("name") + bstr("dir") +
		bstr("piece length") + "i4e" +
		bstr("pieces") + bstr(fakeHashes(1)) +
		"e"
	doc := "d" + bstr("announce") + bstr("http://t") + bstr("info") + info + "e"

	if _, err := Parse([]byte(doc)); err == nil {
		t.Error("expected error for multi-file torrent, got nil")
	}
}

func TestParseRejectsBadPieceCount(t *testing.T) {
	// 9 bytes at piece length 4 needs 3 pieces, give only 2.
	data := buildTorrent(t, "http://t", "a.txt", 4, 9, fakeHashes(2))
	if _, err := Parse(data); err == nil {
		t.Error("expected piece-count mismatch error, got nil")
	}
}

func TestParseRejectsMissingAnnounce(t *testing.T) {
	info := "d" +
		bstr("length") + "i9e" +
		bstr("name") + bstr("a.txt") +
		bstr("piece length") + "i4e" +
		bstr("pieces") + bstr(fakeHashes(3)) +
		"e"
	doc := "d" + bstr("info") + info + "e"

	if _, err := Parse([]byte(doc)); err == nil {
		t.Error("expected error for missing announce, got nil")
	}
}

func TestParseRejectsNonDictTopLevel(t *testing.T) {
	if _, err := Parse([]byte("i5e")); err == nil {
		t.Error("expected error for non-dict top level, got nil")
	}
}

func TestParseRejectsBadPiecesLength(t *testing.T) {
	data := buildTorrent(t, "http://t", "a.txt", 4, 9, strings.Repeat("a", 19))
	if _, err := Parse(data); err == nil {
		t.Error("expected error for pieces length not a multiple of 20, got nil")
	}
}
