package tracker

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/Charana123/swarm/go-torrent/peer"
	"github.com/Charana123/swarm/go-torrent/piece"
	"github.com/Charana123/swarm/go-torrent/stats"
	"github.com/Charana123/swarm/go-torrent/torrent"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	NONE      = 0
	COMPLETED = 1
	STARTED   = 2
	STOPPED   = 3
)

var (
	RETRY_INTERVAL    = 2 * time.Minute
	STOPPED_TIMEOUT   = 5 * time.Second
	REQUEST_TIMEOUT   = 15 * time.Second
	NUMWANT           = 50
	ErrTrackerFailure = errors.New("tracker failure")
)

var eventNames = map[int]string{
	COMPLETED: "completed",
	STARTED:   "started",
	STOPPED:   "stopped",
}

type Tracker interface {
	Start(ctx context.Context) error
	Announce(ctx context.Context, event int) (*AnnounceResponse, error)
}

type tracker struct {
	torrent  *torrent.Torrent
	peerMgr  peer.PeerManager
	pieceMgr piece.PieceManager
	stats    stats.Stats
	port     int
	key      int32
	urls     []string
}

func NewTracker(
	torrent *torrent.Torrent,
	peerMgr peer.PeerManager,
	pieceMgr piece.PieceManager,
	stats stats.Stats,
	port int) Tracker {

	urls := []string{}
	for _, tier := range torrent.MetaInfo.AnnounceList {
		urls = append(urls, tier...)
	}
	if len(urls) == 0 && torrent.MetaInfo.Announce != "" {
		urls = append(urls, torrent.MetaInfo.Announce)
	}
	return &tracker{
		torrent:  torrent,
		peerMgr:  peerMgr,
		pieceMgr: pieceMgr,
		stats:    stats,
		port:     port,
		key:      rand.Int31(),
		urls:     urls,
	}
}

// Start announces started, then re-announces every interval the tracker
// asks for, announces completed once and stopped on the way out.
func (tr *tracker) Start(ctx context.Context) error {
	if len(tr.urls) == 0 {
		log.Info("No tracker to announce to")
		return nil
	}

	interval := tr.announce(ctx, STARTED)
	completed := tr.pieceMgr.Completed()
	if tr.pieceMgr.IsComplete() {
		completed = nil
	}
	for {
		select {
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.Background(), STOPPED_TIMEOUT)
			tr.announce(stopCtx, STOPPED)
			cancel()
			log.Info("Safely terminating tracker")
			return nil
		case <-completed:
			completed = nil
			interval = tr.announce(ctx, COMPLETED)
		case <-time.After(interval):
			interval = tr.announce(ctx, NONE)
		}
	}
}

func (tr *tracker) announce(ctx context.Context, event int) time.Duration {
	entry := log.WithField("event", eventNames[event])
	resp, err := tr.Announce(ctx, event)
	if err != nil {
		entry.WithError(err).Warn("Announce failed")
		return RETRY_INTERVAL
	}
	entry.WithFields(log.Fields{
		"peers":    len(resp.Peers),
		"interval": resp.Interval,
	}).Info("Announced")

	if event != STOPPED {
		tr.peerMgr.ResetFailed()
		for _, addr := range resp.Peers {
			tr.peerMgr.AddPeer(addr, nil)
		}
	}
	if resp.Interval <= 0 {
		return RETRY_INTERVAL
	}
	return resp.Interval
}

// Announce tries each tracker URL in order and returns the first answer.
func (tr *tracker) Announce(ctx context.Context, event int) (*AnnounceResponse, error) {
	err := errors.New("no tracker")
	for _, trackerURL := range tr.urls {
		var resp *AnnounceResponse
		switch {
		case strings.HasPrefix(trackerURL, "udp://"):
			resp, err = tr.queryUDPTracker(ctx, trackerURL, event)
		case strings.HasPrefix(trackerURL, "http://"), strings.HasPrefix(trackerURL, "https://"):
			resp, err = tr.queryHTTPTracker(ctx, trackerURL, event)
		default:
			err = errors.Errorf("invalid schema for tracker %q", trackerURL)
		}
		if err == nil {
			return resp, nil
		}
		log.WithError(err).WithField("tracker", trackerURL).Debug("Tracker unavailable")
	}
	return nil, err
}
