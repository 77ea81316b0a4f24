// Command leecher downloads a single-file torrent to disk and exits
// once it completes.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"leecher/internal/config"
	"leecher/internal/coordinator"
	"leecher/internal/logging"
	"leecher/pkg/metainfo"
)

func main() {
	var (
		torrentPath = flag.String("torrent", "", "path to the .torrent file (required)")
		downloadDir = flag.String("download-dir", ".", "directory to write the downloaded file into")
		port        = flag.Uint("port", 6889, "port advertised to the tracker")
		verbose     = flag.Bool("v", false, "enable debug logging")
	)
	flag.Parse()

	setupLogger(*verbose)

	if *torrentPath == "" {
		slog.Error("missing required flag", "flag", "-torrent")
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*torrentPath, *downloadDir, uint16(*port)); err != nil {
		slog.Error("download failed", "error", err)
		os.Exit(1)
	}
}

func run(torrentPath, downloadDir string, port uint16) error {
	data, err := os.ReadFile(torrentPath)
	if err != nil {
		return fmt.Errorf("reading torrent file: %w", err)
	}

	meta, err := metainfo.Parse(data)
	if err != nil {
		return fmt.Errorf("parsing torrent file: %w", err)
	}

	cfg := config.Default()
	cfg.DownloadDir = downloadDir
	cfg.ListenPort = port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := coordinator.New(meta, cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("building coordinator: %w", err)
	}
	defer c.Close()

	slog.Info("starting download", "name", meta.Info.Name, "size", meta.Info.Length, "pieces", meta.NumPieces())

	if err := c.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func setupLogger(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := logging.NewPrettyHandler(os.Stderr, &logging.Options{Level: level, UseColor: true})
	slog.SetDefault(slog.New(handler))
}
