package peer

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/Charana123/swarm/go-torrent/piece"
	"github.com/Charana123/swarm/go-torrent/stats"
	"github.com/Charana123/swarm/go-torrent/storage"
	"github.com/Charana123/swarm/go-torrent/torrent"
	"github.com/Charana123/swarm/go-torrent/wire"
	mapset "github.com/deckarep/golang-set"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type PeerManager interface {
	AddPeer(id string, conn net.Conn)
	RemovePeer(id string)
	GetPeerList() []Peer
	MarkHave(pieceIndex int)
	PieceReleased(pieceIndex int)
	AcquireUnchokeSlot() bool
	ReleaseUnchokeSlot()
	NumUnchoked() int
	Ready() <-chan struct{}
	PeerAdvertised()
	BanPeer(id string)
	ResetFailed()
	StopPeers()
	Wait()
}

var newPeer = func(id string, conn net.Conn, pm *peerManager) Peer {
	return NewPeer(id, conn, pm.torrent, pm.storage, pm, pm.pieceMgr, pm.stats, pm.config, pm.limiter)
}

type peerManager struct {
	sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
	torrent     *torrent.Torrent
	pieceMgr    piece.PieceManager
	storage     storage.Storage
	stats       stats.Stats
	config      Config
	limiter     *rate.Limiter
	peers       map[string]Peer
	bannedPeers mapset.Set
	failedPeers mapset.Set
	numUnchoked atomic.Int32
	ready       chan struct{}
	readyOnce   sync.Once
	wg          sync.WaitGroup
}

// NewPeerManager runs every session it adds under ctx.
func NewPeerManager(
	ctx context.Context,
	torrent *torrent.Torrent,
	pieceMgr piece.PieceManager,
	storage storage.Storage,
	stats stats.Stats,
	config Config) PeerManager {

	ctx, cancel := context.WithCancel(ctx)
	pm := &peerManager{
		ctx:         ctx,
		cancel:      cancel,
		torrent:     torrent,
		pieceMgr:    pieceMgr,
		storage:     storage,
		stats:       stats,
		config:      config,
		peers:       make(map[string]Peer),
		bannedPeers: mapset.NewSet(),
		failedPeers: mapset.NewSet(),
		ready:       make(chan struct{}),
	}
	if config.UploadLimit > 0 {
		burst := config.UploadLimit
		if burst < MAX_REQUEST_LENGTH {
			burst = MAX_REQUEST_LENGTH
		}
		pm.limiter = rate.NewLimiter(rate.Limit(config.UploadLimit), burst)
	}
	return pm
}

// AddPeer starts a session with the peer at id, over conn when the peer
// connected to us or by dialling id when conn is nil.
func (pm *peerManager) AddPeer(id string, conn net.Conn) {
	pm.Lock()
	defer pm.Unlock()

	reason := ""
	switch {
	case pm.ctx.Err() != nil:
		reason = "shutting down"
	case pm.bannedPeers.Contains(id):
		reason = "banned"
	case conn == nil && pm.failedPeers.Contains(id):
		reason = "failed this announce cycle"
	case pm.peers[id] != nil:
		reason = "already connected"
	case len(pm.peers) >= pm.config.MaxPeers:
		reason = "too many peers"
	}
	if reason != "" {
		log.WithFields(log.Fields{
			"peer":   id,
			"reason": reason,
		}).Debug("Not adding peer")
		if conn != nil {
			conn.Close()
		}
		return
	}

	p := newPeer(id, conn, pm)
	pm.peers[id] = p
	pm.wg.Add(1)
	go pm.run(id, p)
}

func (pm *peerManager) run(id string, p Peer) {
	defer pm.wg.Done()

	err := p.Start(pm.ctx)

	pm.Lock()
	if pm.peers[id] == p {
		delete(pm.peers, id)
	}
	pm.Unlock()

	entry := log.WithField("peer", id)
	switch errors.Cause(err) {
	case nil:
		entry.Info("Disconnected")
	case wire.ErrHandshake:
		pm.failedPeers.Add(id)
		entry.WithError(err).Info("Handshake failed")
	case wire.ErrFraming, ErrProtocolViolation, piece.ErrVerification:
		entry.WithError(err).Warn("Disconnected misbehaving peer")
	default:
		entry.WithError(err).Info("Disconnected")
	}
}

func (pm *peerManager) RemovePeer(id string) {
	pm.Lock()
	p, ok := pm.peers[id]
	delete(pm.peers, id)
	pm.Unlock()

	if ok {
		p.Stop()
	}
}

func (pm *peerManager) GetPeerList() []Peer {
	pm.RLock()
	defer pm.RUnlock()

	peers := make([]Peer, 0, len(pm.peers))
	for _, peer := range pm.peers {
		peers = append(peers, peer)
	}
	return peers
}

// MarkHave records a verified piece and announces it to every session.
func (pm *peerManager) MarkHave(pieceIndex int) {
	if !pm.pieceMgr.MarkHave(pieceIndex) {
		return
	}
	for _, peer := range pm.GetPeerList() {
		peer.SendHave(pieceIndex)
	}
}

// PieceReleased wakes every session after a piece went back to Missing, so an
// idle one can take it over.
func (pm *peerManager) PieceReleased(pieceIndex int) {
	log.WithField("piece", pieceIndex).Debug("Piece released")
	for _, peer := range pm.GetPeerList() {
		peer.Reselect()
	}
}

func (pm *peerManager) AcquireUnchokeSlot() bool {
	for {
		n := pm.numUnchoked.Load()
		if int(n) >= pm.config.MaxUnchoked {
			return false
		}
		if pm.numUnchoked.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (pm *peerManager) ReleaseUnchokeSlot() {
	for {
		n := pm.numUnchoked.Load()
		if n <= 0 {
			return
		}
		if pm.numUnchoked.CompareAndSwap(n, n-1) {
			return
		}
	}
}

func (pm *peerManager) NumUnchoked() int {
	return int(pm.numUnchoked.Load())
}

// Ready is closed once any peer has advertised a piece.
func (pm *peerManager) Ready() <-chan struct{} {
	return pm.ready
}

func (pm *peerManager) PeerAdvertised() {
	pm.readyOnce.Do(func() {
		close(pm.ready)
	})
}

func (pm *peerManager) BanPeer(id string) {
	pm.bannedPeers.Add(id)
	log.WithField("peer", id).Warn("Banned peer")
	pm.RemovePeer(id)
}

// ResetFailed forgets the addresses that failed to handshake, letting the
// next announce retry them.
func (pm *peerManager) ResetFailed() {
	pm.failedPeers.Clear()
}

// StopPeers ends every session. Sessions flush what they have queued first.
func (pm *peerManager) StopPeers() {
	pm.Lock()
	defer pm.Unlock()

	pm.cancel()
}

func (pm *peerManager) Wait() {
	pm.wg.Wait()
}
