package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Charana123/swarm/go-torrent/download"
	"github.com/schollz/progressbar/v3"
	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
)

func main() {
	config := download.DefaultConfig()
	flag.StringVar(&config.TorrentPath, "torrent", "", "Path to the .torrent file")
	flag.StringVar(&config.OutputPath, "output", "", "Path to the downloaded file (defaults to the torrent's name)")
	flag.StringArrayVar(&config.Peers, "peer", nil, "Address of a peer to connect to, repeatable")
	flag.IntVar(&config.PortMin, "port-min", config.PortMin, "Lowest port to listen on")
	flag.IntVar(&config.PortMax, "port-max", config.PortMax, "Highest port to listen on")
	flag.IntVar(&config.Peer.UploadLimit, "upload-limit", 0, "Upload limit in bytes per second, 0 for none")
	flag.BoolVar(&config.Peer.BanOnHashFailure, "ban-on-hash-failure", false, "Ban peers that send a piece failing verification")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	noProgress := flag.Bool("no-progress", false, "Do not show a progress bar")
	flag.Parse()

	level, err := log.ParseLevel(*logLevel)
	if err != nil {
		log.WithError(err).Fatal("Invalid log level")
	}
	log.SetLevel(level)
	if config.TorrentPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := download.NewDownload(config)
	if err != nil {
		log.WithError(err).Fatal("Failed to start")
	}
	if !*noProgress {
		go showProgress(ctx, d)
	}
	if err := d.Run(ctx); err != nil {
		log.WithError(err).Fatal("Stopped")
	}
}

func showProgress(ctx context.Context, d download.Download) {
	have, total := d.Progress()
	bar := progressbar.Default(int64(total), "downloading")
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		bar.Set(have)
		uploadRate, downloadRate := d.Throughput()
		bar.Describe(fmt.Sprintf("down %d KiB/s up %d KiB/s", downloadRate/1024, uploadRate/1024))
		select {
		case <-ctx.Done():
			return
		case <-d.Completed():
			have, _ = d.Progress()
			bar.Set(have)
			bar.Finish()
			return
		case <-ticker.C:
			have, _ = d.Progress()
		}
	}
}
