package tracker

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func bstr(s string) string { return fmt.Sprintf("%d:%s", len(s), s) }

func TestAnnounceCompactPeers(t *testing.T) {
	compactPeers := string([]byte{127, 0, 0, 1, 0x1A, 0xE1}) // 127.0.0.1:6881
	body := "d" +
		bstr("interval") + "i1800e" +
		bstr("complete") + "i5e" +
		bstr("incomplete") + "i2e" +
		bstr("peers") + bstr(compactPeers) +
		"e"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	c, err := New(srv.URL, 5*time.Second, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := c.Announce(context.Background(), AnnounceParams{Left: 100})
	if err != nil {
		t.Fatalf("Announce: %v", err)
	}
	if resp.Interval != 1800*time.Second {
		t.Errorf("Interval = %v", resp.Interval)
	}
	if resp.Seeders != 5 || resp.Leechers != 2 {
		t.Errorf("Seeders=%d Leechers=%d", resp.Seeders, resp.Leechers)
	}
	if len(resp.Peers) != 1 || resp.Peers[0] != "127.0.0.1:6881" {
		t.Errorf("Peers = %v", resp.Peers)
	}
}

func TestAnnounceDictPeers(t *testing.T) {
	peerDict := "d" + bstr("ip") + bstr("10.0.0.5") + bstr("port") + "i51413e" + "e"
	body := "d" +
		bstr("interval") + "i900e" +
		bstr("peers") + "l" + peerDict + "e" +
		"e"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	c, err := New(srv.URL, 5*time.Second, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := c.Announce(context.Background(), AnnounceParams{})
	if err != nil {
		t.Fatalf("Announce: %v", err)
	}
	if len(resp.Peers) != 1 || resp.Peers[0] != "10.0.0.5:51413" {
		t.Errorf("Peers = %v", resp.Peers)
	}
}

func TestAnnounceMissingIntervalDefaultsToZero(t *testing.T) {
	compactPeers := string([]byte{127, 0, 0, 1, 0x1A, 0xE1})
	body := "d" + bstr("peers") + bstr(compactPeers) + "e"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	c, _ := New(srv.URL, 5*time.Second, nil)
	resp, err := c.Announce(context.Background(), AnnounceParams{})
	if err != nil {
		t.Fatalf("Announce: %v", err)
	}
	if resp.Interval != 0 {
		t.Errorf("Interval = %v; want 0", resp.Interval)
	}
	if len(resp.Peers) != 1 || resp.Peers[0] != "127.0.0.1:6881" {
		t.Errorf("Peers = %v", resp.Peers)
	}
}

func TestAnnounceFailureReason(t *testing.T) {
	body := "d" + bstr("failure reason") + bstr("torrent not registered") + "e"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	c, _ := New(srv.URL, 5*time.Second, nil)
	if _, err := c.Announce(context.Background(), AnnounceParams{}); err == nil {
		t.Error("expected error for failure reason response, got nil")
	}
}

func TestAnnounceNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, _ := New(srv.URL, 5*time.Second, nil)
	if _, err := c.Announce(context.Background(), AnnounceParams{}); err == nil {
		t.Error("expected error for 500 status, got nil")
	}
}

func TestAnnounceURLIncludesRequiredParams(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte("d" + bstr("interval") + "i1800e" + "e"))
	}))
	defer srv.Close()

	c, _ := New(srv.URL, 5*time.Second, nil)
	params := AnnounceParams{Port: 6881, Left: 1000, Event: EventStarted, NumWant: 50}
	if _, err := c.Announce(context.Background(), params); err != nil {
		t.Fatalf("Announce: %v", err)
	}

	for _, want := range []string{"port=6881", "left=1000", "event=started", "numwant=50", "compact=1"} {
		if !contains(gotQuery, want) {
			t.Errorf("query %q missing %q", gotQuery, want)
		}
	}
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
