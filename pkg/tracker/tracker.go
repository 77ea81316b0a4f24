// Package tracker implements the HTTP tracker announce protocol: the
// GET request a leecher sends to discover peers, and the bencoded
// response (compact or dictionary peer lists) it gets back.
package tracker

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"leecher/pkg/bencode"
)

// ConnectionError reports a failure to complete a tracker announce:
// a transport error, a non-200 HTTP status, an undecodable response,
// or a tracker-reported failure reason.
type ConnectionError struct {
	Msg string
}

func (e *ConnectionError) Error() string { return "tracker: " + e.Msg }

// Event is the BitTorrent announce event.
type Event int

const (
	EventNone Event = iota
	EventStarted
	EventStopped
	EventCompleted
)

func (e Event) String() string {
	switch e {
	case EventStarted:
		return "started"
	case EventStopped:
		return "stopped"
	case EventCompleted:
		return "completed"
	default:
		return ""
	}
}

// AnnounceParams is the set of query parameters a GET announce sends.
type AnnounceParams struct {
	InfoHash   [sha1.Size]byte
	PeerID     [sha1.Size]byte
	Port       uint16
	Uploaded   int64
	Downloaded int64
	Left       int64
	NumWant    int
	Event      Event
}

// AnnounceResponse is the tracker's parsed reply.
type AnnounceResponse struct {
	Interval    time.Duration
	MinInterval time.Duration
	Seeders     int64
	Leechers    int64
	Peers       []string // "ip:port"
}

// Client announces to a single tracker URL over HTTP.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	log     *slog.Logger
}

// New returns a Client for the given announce URL.
func New(announceURL string, timeout time.Duration, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	u, err := url.Parse(announceURL)
	if err != nil {
		return nil, fmt.Errorf("tracker: invalid announce url: %w", err)
	}

	transport := &http.Transport{
		MaxIdleConns:          20,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
	}

	return &Client{
		baseURL: u,
		http:    &http.Client{Transport: transport, Timeout: timeout},
		log:     log.With("component", "tracker"),
	}, nil
}

// Announce performs a single GET announce request.
func (c *Client) Announce(ctx context.Context, p AnnounceParams) (*AnnounceResponse, error) {
	reqURL := c.buildURL(p)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	c.log.Info("announce.begin", "event", p.Event.String(), "left", p.Left)

	resp, err := c.http.Do(req)
	latency := time.Since(start)
	if err != nil {
		c.log.Warn("announce.error", "latency", latency, "error", err)
		return nil, &ConnectionError{Msg: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.log.Warn("announce.http_status", "status", resp.StatusCode)
		return nil, &ConnectionError{Msg: fmt.Sprintf("non-200 status %d: %s", resp.StatusCode, body)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ConnectionError{Msg: err.Error()}
	}

	out, err := parseAnnounceResponse(body)
	if err != nil {
		c.log.Warn("announce.decode.error", "latency", latency, "error", err)
		return nil, err
	}

	c.log.Info("announce.ok", "latency", latency, "peers", len(out.Peers), "interval", out.Interval)
	return out, nil
}

func (c *Client) buildURL(p AnnounceParams) string {
	u := *c.baseURL
	q := u.Query()

	q.Set("info_hash", string(p.InfoHash[:]))
	q.Set("peer_id", string(p.PeerID[:]))
	q.Set("port", strconv.Itoa(int(p.Port)))
	q.Set("uploaded", strconv.FormatInt(p.Uploaded, 10))
	q.Set("downloaded", strconv.FormatInt(p.Downloaded, 10))
	q.Set("left", strconv.FormatInt(p.Left, 10))
	q.Set("compact", "1")

	if p.NumWant > 0 {
		q.Set("numwant", strconv.Itoa(p.NumWant))
	}
	if p.Event != EventNone {
		q.Set("event", p.Event.String())
	}

	u.RawQuery = q.Encode()
	return u.String()
}

func parseAnnounceResponse(body []byte) (*AnnounceResponse, error) {
	root, err := bencode.Decode(body)
	if err != nil {
		return nil, &ConnectionError{Msg: fmt.Sprintf("decoding response: %v", err)}
	}
	if root.Kind() != bencode.KindDict {
		return nil, &ConnectionError{Msg: "response is not a dict"}
	}

	if v, ok := root.DictGet("failure reason"); ok {
		reason, _ := v.AsString()
		return nil, &ConnectionError{Msg: "tracker failure: " + reason}
	}

	var interval int64
	if v, ok := root.DictGet("interval"); ok {
		interval, _ = v.AsInt()
	}

	var minInterval int64
	if v, ok := root.DictGet("min interval"); ok {
		minInterval, _ = v.AsInt()
	}

	var seeders, leechers int64
	if v, ok := root.DictGet("complete"); ok {
		seeders, _ = v.AsInt()
	}
	if v, ok := root.DictGet("incomplete"); ok {
		leechers, _ = v.AsInt()
	}

	peers, err := parsePeers(root)
	if err != nil {
		return nil, err
	}

	return &AnnounceResponse{
		Interval:    time.Duration(interval) * time.Second,
		MinInterval: time.Duration(minInterval) * time.Second,
		Seeders:     seeders,
		Leechers:    leechers,
		Peers:       peers,
	}, nil
}

// parsePeers supports both the compact binary form (a single "peers"
// byte string, 6 bytes per peer) and the dictionary-model form (a
// "peers" list of {ip, port} dicts).
func parsePeers(root bencode.Value) ([]string, error) {
	v, ok := root.DictGet("peers")
	if !ok {
		return nil, nil
	}

	switch v.Kind() {
	case bencode.KindBytes:
		return parseCompactPeers(v)
	case bencode.KindList:
		return parseDictPeers(v)
	default:
		return nil, &ConnectionError{Msg: "unrecognized 'peers' encoding"}
	}
}

func parseCompactPeers(v bencode.Value) ([]string, error) {
	b, _ := v.AsBytes()
	if len(b)%6 != 0 {
		return nil, &ConnectionError{Msg: fmt.Sprintf("compact peers length %d not a multiple of 6", len(b))}
	}
	n := len(b) / 6
	out := make([]string, n)
	for i := 0; i < n; i++ {
		entry := b[i*6 : i*6+6]
		ip := net.IP(entry[0:4])
		port := binary.BigEndian.Uint16(entry[4:6])
		out[i] = net.JoinHostPort(ip.String(), strconv.Itoa(int(port)))
	}
	return out, nil
}

func parseDictPeers(v bencode.Value) ([]string, error) {
	items, _ := v.AsList()
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item.Kind() != bencode.KindDict {
			return nil, &ConnectionError{Msg: "peer entry is not a dict"}
		}
		ipVal, ok := item.DictGet("ip")
		if !ok {
			return nil, &ConnectionError{Msg: "peer entry missing 'ip'"}
		}
		ip, _ := ipVal.AsString()
		portVal, ok := item.DictGet("port")
		if !ok {
			return nil, &ConnectionError{Msg: "peer entry missing 'port'"}
		}
		port, _ := portVal.AsInt()
		out = append(out, net.JoinHostPort(ip, strconv.FormatInt(port, 10)))
	}
	return out, nil
}
