package peer

import (
	"context"
	"math/rand"
	"time"

	"github.com/Charana123/swarm/go-torrent/piece"
	"github.com/Charana123/swarm/go-torrent/stats"
	bitmap "github.com/boljen/go-bitmap"
	log "github.com/sirupsen/logrus"
)

var random = rand.Intn

// Choke periodically republishes the rarity order and rotates which peers
// we upload to.
type Choke interface {
	Start(ctx context.Context) error
}

type choke struct {
	peerMgr  PeerManager
	pieceMgr piece.PieceManager
	stats    stats.Stats
	config   Config
}

func NewChoke(
	peerMgr PeerManager,
	pieceMgr piece.PieceManager,
	stats stats.Stats,
	config Config) Choke {

	return &choke{
		peerMgr:  peerMgr,
		pieceMgr: pieceMgr,
		stats:    stats,
		config:   config,
	}
}

// Start waits for the first advertised piece, publishes a rarity order, then
// every interval runs a choke pass, an optimistic unchoke and a rarity pass.
func (c *choke) Start(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-c.peerMgr.Ready():
	}
	c.prioritize()

	ticker := time.NewTicker(c.config.ChokeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.choke()
			c.prioritize()
		}
	}
}

// prioritize publishes a new rarity order and lets idle sessions pick from it.
func (c *choke) prioritize() {
	peers := c.peerMgr.GetPeerList()
	established := make([]Peer, 0, len(peers))
	advertised := make([]bitmap.Bitmap, 0, len(peers))
	for _, peer := range peers {
		if peer.GetPeerInfo().Established {
			established = append(established, peer)
			advertised = append(advertised, peer.Advertised())
		}
	}
	c.pieceMgr.Prioritize(advertised)
	for _, peer := range established {
		peer.Reselect()
	}
}

func (c *choke) choke() {
	peers := c.peerMgr.GetPeerList()
	peerStats := c.stats.GetPeerStats()
	seeding := c.pieceMgr.IsComplete()

	// While downloading the slowest peer is the one sending us least, once
	// seeding it is the one we send least.
	var slowest Peer
	slowestID, slowestSpeed := "", 0
	for _, peer := range peers {
		info := peer.GetPeerInfo()
		if !info.Established || info.ClientChoking {
			continue
		}
		speed := peerStats[info.ID].DownloadRate
		if seeding {
			speed = peerStats[info.ID].UploadRate
		}
		if slowest == nil || speed < slowestSpeed || (speed == slowestSpeed && info.ID < slowestID) {
			slowest, slowestID, slowestSpeed = peer, info.ID, speed
		}
	}

	choked := ""
	if slowest != nil && c.peerMgr.NumUnchoked() >= c.config.MinUnchoked && slowest.Choke() {
		choked = slowestID
		log.WithFields(log.Fields{
			"peer":  slowestID,
			"speed": slowestSpeed,
		}).Info("Choked slowest peer")
	}

	candidates := make([]Peer, 0)
	for _, peer := range peers {
		info := peer.GetPeerInfo()
		if info.Established && info.ClientChoking && info.PeerInterested && info.ID != choked {
			candidates = append(candidates, peer)
		}
	}
	if len(candidates) == 0 || c.peerMgr.NumUnchoked() >= c.config.MaxUnchoked {
		return
	}
	lucky := candidates[random(len(candidates))]
	if lucky.Unchoke() {
		log.WithField("peer", lucky.GetPeerInfo().ID).Info("Optimistically unchoked peer")
	}
}
