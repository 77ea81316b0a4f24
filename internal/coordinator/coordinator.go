// Package coordinator wires the tracker, piece manager, and a fixed
// pool of peer connections together into a single download run.
package coordinator

import (
	"context"
	"crypto/rand"
	"crypto/sha1"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"golang.org/x/sync/errgroup"

	"leecher/internal/config"
	"leecher/pkg/metainfo"
	"leecher/pkg/peerconn"
	"leecher/pkg/piece"
	"leecher/pkg/tracker"
)

// GeneratePeerID returns an Azureus-style peer id: "-PC0001-" followed
// by 12 random decimal digits.
func GeneratePeerID() ([sha1.Size]byte, error) {
	const prefix = "-PC0001-"
	var id [sha1.Size]byte
	copy(id[:], prefix)

	for i := len(prefix); i < len(id); i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return id, err
		}
		id[i] = byte('0' + n.Int64())
	}
	return id, nil
}

// Coordinator drives a single torrent's download: it periodically
// announces to the tracker, feeds discovered peer addresses to a fixed
// pool of worker goroutines, and reports completion.
type Coordinator struct {
	cfg      config.Config
	meta     *metainfo.Metainfo
	tracker  *tracker.Client
	manager  *piece.Manager
	peerID   [sha1.Size]byte
	queue    *PeerQueue
	log      *slog.Logger
	listener uint16
}

// New builds a Coordinator for meta, announcing to its tracker and
// writing output into cfg.DownloadDir.
func New(meta *metainfo.Metainfo, cfg config.Config, log *slog.Logger) (*Coordinator, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "coordinator", "torrent", meta.Info.Name)

	peerID, err := GeneratePeerID()
	if err != nil {
		return nil, fmt.Errorf("coordinator: generating peer id: %w", err)
	}

	trackerClient, err := tracker.New(meta.Announce, cfg.TrackerTimeout, log)
	if err != nil {
		return nil, err
	}

	mgr, err := piece.New(cfg.DownloadDir, meta.Info.Name, meta.Info.Length, meta.Info.PieceLength, meta.Info.Pieces, cfg.RequestSize, cfg.MaxPendingTime, log)
	if err != nil {
		return nil, err
	}

	return &Coordinator{
		cfg:      cfg,
		meta:     meta,
		tracker:  trackerClient,
		manager:  mgr,
		peerID:   peerID,
		queue:    NewPeerQueue(),
		log:      log,
		listener: cfg.ListenPort,
	}, nil
}

// Close releases the piece manager's output file.
func (c *Coordinator) Close() error { return c.manager.Close() }

// Run announces to the tracker and drives peer workers until the
// torrent completes or ctx is canceled.
func (c *Coordinator) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < c.cfg.MaxPeerConnections; i++ {
		g.Go(func() error {
			c.worker(gctx)
			return nil
		})
	}

	g.Go(func() error {
		return c.announceLoop(gctx)
	})

	// Workers block in queue.Pop until an address arrives or the queue
	// closes; wake them as soon as gctx is canceled so g.Wait doesn't
	// hang waiting on a worker that will never see another address.
	go func() {
		<-gctx.Done()
		c.queue.Close()
	}()

	err := g.Wait()
	c.queue.Close()
	return err
}

func (c *Coordinator) announceLoop(ctx context.Context) error {
	var previous time.Time
	interval := c.cfg.DefaultAnnounceInterval

	for {
		if c.manager.Complete() {
			c.log.Info("torrent complete")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if previous.IsZero() || time.Since(previous) >= interval {
			isFirst := previous.IsZero()
			event := tracker.EventStarted
			if !isFirst {
				event = tracker.EventNone
			}

			left := c.meta.Info.Length - c.manager.BytesDownloaded()
			resp, err := c.tracker.Announce(ctx, tracker.AnnounceParams{
				InfoHash:   c.meta.InfoHash,
				PeerID:     c.peerID,
				Port:       c.listener,
				Downloaded: c.manager.BytesDownloaded(),
				Left:       left,
				NumWant:    c.cfg.MaxPeerConnections,
				Event:      event,
			})
			if err != nil {
				if isFirst {
					return fmt.Errorf("coordinator: initial announce: %w", err)
				}
				c.log.Warn("announce failed, retrying next interval", "error", err)
			} else {
				previous = time.Now()
				interval = resp.Interval
				if interval <= 0 {
					interval = c.cfg.DefaultAnnounceInterval
				}
				c.queue.Drain(resp.Peers...)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
}

func (c *Coordinator) worker(ctx context.Context) {
	for {
		addr, ok := c.queue.Pop()
		if !ok {
			return
		}
		if c.manager.Complete() {
			return
		}

		conn, err := peerconn.Dial(ctx, addr, c.meta.InfoHash, c.peerID, c.manager, c.log)
		if err != nil {
			c.log.Debug("peer connect failed", "peer", addr, "error", err)
			continue
		}

		if err := conn.Run(ctx); err != nil {
			c.log.Debug("peer connection ended", "peer", addr, "error", err)
		}
		conn.Close()
	}
}
