package download

import (
	"context"

	"github.com/Charana123/swarm/go-torrent/peer"
	"github.com/Charana123/swarm/go-torrent/piece"
	"github.com/Charana123/swarm/go-torrent/server"
	"github.com/Charana123/swarm/go-torrent/stats"
	"github.com/Charana123/swarm/go-torrent/storage"
	"github.com/Charana123/swarm/go-torrent/torrent"
	"github.com/Charana123/swarm/go-torrent/tracker"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	TorrentPath string
	// Backing file, the torrent's name when empty.
	OutputPath string
	// Addresses dialled at start besides those the tracker returns.
	Peers   []string
	PortMin int
	PortMax int
	Peer    peer.Config
	Fs      afero.Fs
}

func DefaultConfig() Config {
	return Config{
		PortMin: server.PORT_MIN,
		PortMax: server.PORT_MAX,
		Peer:    peer.DefaultConfig(),
		Fs:      afero.NewOsFs(),
	}
}

type Download interface {
	Run(ctx context.Context) error
	Progress() (piecesHave int, numPieces int)
	Throughput() (uploadRate int, downloadRate int)
	Completed() <-chan struct{}
	GetServerPort() int
	Torrent() *torrent.Torrent
}

type download struct {
	config   Config
	torrent  *torrent.Torrent
	storage  storage.Storage
	stats    stats.Stats
	pieceMgr piece.PieceManager
	peerMgr  peer.PeerManager
	choke    peer.Choke
	server   server.Server
	tracker  tracker.Tracker
}

// NewDownload parses the torrent, attaches to the backing file and binds the
// listening port. Failing any of these is fatal.
func NewDownload(config Config) (Download, error) {
	f, err := config.Fs.Open(config.TorrentPath)
	if err != nil {
		return nil, errors.Wrap(err, "opening torrent")
	}
	defer f.Close()
	t, err := torrent.NewTorrent(f)
	if err != nil {
		return nil, err
	}

	outputPath := config.OutputPath
	if outputPath == "" {
		outputPath = t.MetaInfo.Info.Name
	}
	s, err := storage.Open(config.Fs, outputPath, t)
	if err != nil {
		return nil, err
	}
	clientBitfield, err := s.ScanExisting()
	if err != nil {
		s.Close()
		return nil, err
	}

	d := &download{
		config:  config,
		torrent: t,
		storage: s,
		stats:   stats.NewStats(0, 0),
	}
	d.pieceMgr = piece.NewRarestFirstPieceManager(t, clientBitfield)
	d.peerMgr = peer.NewPeerManager(context.Background(), t, d.pieceMgr, s, d.stats, config.Peer)
	d.choke = peer.NewChoke(d.peerMgr, d.pieceMgr, d.stats, config.Peer)
	d.server, err = server.NewServer(d.peerMgr, config.PortMin, config.PortMax)
	if err != nil {
		s.Close()
		return nil, err
	}
	d.tracker = tracker.NewTracker(t, d.peerMgr, d.pieceMgr, d.stats, d.server.GetServerPort())

	log.WithFields(log.Fields{
		"name":   t.MetaInfo.Info.Name,
		"pieces": t.NumPieces,
		"have":   d.pieceMgr.PiecesHave(),
	}).Info("Loaded torrent")
	return d, nil
}

// Run exchanges pieces until ctx is cancelled, then stops every session and
// closes the backing file.
func (d *download) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.choke.Start(gctx)
	})
	g.Go(func() error {
		return d.server.Serve(gctx)
	})
	g.Go(func() error {
		return d.tracker.Start(gctx)
	})
	g.Go(func() error {
		select {
		case <-d.pieceMgr.Completed():
			log.Info("Download complete, seeding")
		case <-gctx.Done():
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		d.peerMgr.StopPeers()
		d.peerMgr.Wait()
		return nil
	})
	for _, addr := range d.config.Peers {
		d.peerMgr.AddPeer(addr, nil)
	}

	err := g.Wait()
	if closeErr := d.storage.Close(); err == nil {
		err = closeErr
	}
	return err
}

func (d *download) Progress() (int, int) {
	return d.pieceMgr.PiecesHave(), d.torrent.NumPieces
}

// Throughput is the client's rolling upload and download rate in bytes per
// second.
func (d *download) Throughput() (int, int) {
	return d.stats.GetClientStats()
}

func (d *download) Completed() <-chan struct{} {
	return d.pieceMgr.Completed()
}

func (d *download) GetServerPort() int {
	return d.server.GetServerPort()
}

func (d *download) Torrent() *torrent.Torrent {
	return d.torrent
}
