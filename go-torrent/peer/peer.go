package peer

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/Charana123/swarm/go-torrent/piece"
	"github.com/Charana123/swarm/go-torrent/stats"
	"github.com/Charana123/swarm/go-torrent/storage"
	"github.com/Charana123/swarm/go-torrent/torrent"
	"github.com/Charana123/swarm/go-torrent/wire"
	bitmap "github.com/boljen/go-bitmap"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var (
	ErrProtocolViolation = errors.New("protocol violation")
)

type Peer interface {
	Start(ctx context.Context) error
	Stop()
	GetPeerInfo() PeerInfo
	Advertised() (peerBitfield bitmap.Bitmap)
	Choke() bool
	Unchoke() bool
	SendHave(pieceIndex int)
	Reselect()
}

var newWire = wire.NewWire

var dial = func(ctx context.Context, address string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	return d.DialContext(ctx, "tcp4", address)
}

type command int

const (
	resetUploadStats command = iota
)

type peer struct {
	sync.Mutex
	id       string
	conn     net.Conn
	wire     wire.Wire
	torrent  *torrent.Torrent
	storage  storage.Storage
	peerMgr  PeerManager
	pieceMgr piece.PieceManager
	stats    stats.Stats
	config   Config
	limiter  *rate.Limiter
	log      *log.Entry

	state       connState
	established bool
	stopped     bool
	cancel      context.CancelFunc
	advertised  bitmap.Bitmap

	queue    *queue
	control  chan command
	reselect chan struct{}

	// Retrieval state. pieceMu is taken before the session lock, never
	// while holding it.
	pieceMu          sync.Mutex
	assembly         *piece.Assembly
	outstanding      *wire.Request
	sentUninterested bool
}

// NewPeer creates a session with the peer at address id. A nil conn makes
// the session dial out when started.
func NewPeer(
	id string,
	conn net.Conn,
	torrent *torrent.Torrent,
	storage storage.Storage,
	peerMgr PeerManager,
	pieceMgr piece.PieceManager,
	stats stats.Stats,
	config Config,
	limiter *rate.Limiter) Peer {

	return &peer{
		id:         id,
		conn:       conn,
		torrent:    torrent,
		storage:    storage,
		peerMgr:    peerMgr,
		pieceMgr:   pieceMgr,
		stats:      stats,
		config:     config,
		limiter:    limiter,
		log:        log.WithField("peer", id),
		state:      newConnState(),
		advertised: bitmap.New(torrent.NumPieces),
		queue:      newQueue(),
		control:    make(chan command, 1),
		reselect:   make(chan struct{}, 1),
	}
}

func (p *peer) GetPeerInfo() PeerInfo {
	p.Lock()
	defer p.Unlock()

	return p.state.info(p.id, p.established)
}

func (p *peer) Advertised() bitmap.Bitmap {
	p.Lock()
	defer p.Unlock()

	return append(bitmap.Bitmap(nil), p.advertised...)
}

func (p *peer) Stop() {
	p.Lock()
	defer p.Unlock()

	p.stopped = true
	if p.cancel != nil {
		p.cancel()
	}
}

// Start runs the session until the peer disconnects, misbehaves, is stopped
// or ctx is cancelled. Cancelling ctx flushes queued messages before the
// connection closes.
func (p *peer) Start(ctx context.Context) error {
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.Lock()
	if p.stopped {
		p.Unlock()
		if p.conn != nil {
			p.conn.Close()
		}
		return nil
	}
	p.cancel = cancel
	p.Unlock()
	defer p.cleanup()

	if err := p.connect(sessionCtx); err != nil {
		return err
	}

	p.Lock()
	p.queue.Enqueue(wire.NewBitfield(p.pieceMgr.GetBitField(), p.torrent.NumPieces))
	p.established = true
	p.Unlock()
	p.log.Info("Connected")

	g, gctx := errgroup.WithContext(sessionCtx)
	g.Go(func() error {
		return p.receiveLoop(gctx)
	})
	g.Go(func() error {
		return p.sendLoop(ctx, gctx)
	})
	return g.Wait()
}

func (p *peer) connect(ctx context.Context) error {
	outbound := p.conn == nil
	if outbound {
		conn, err := dial(ctx, p.id, p.config.DialTimeout)
		if err != nil {
			return errors.Wrapf(wire.ErrHandshake, "dial: %v", err)
		}
		p.conn = conn
	}
	stop := context.AfterFunc(ctx, func() {
		p.conn.Close()
	})
	defer stop()

	p.wire = newWire(p.conn, p.config.PeerTimeout)
	ours := wire.NewHandshake(p.torrent.InfoHash, torrent.PEER_ID)
	if outbound {
		if err := p.wire.SendHandshake(ours); err != nil {
			return errors.Wrapf(wire.ErrHandshake, "sending handshake: %v", err)
		}
	}
	theirs, err := p.wire.ReadHandshake()
	if err != nil {
		return err
	}
	if theirs.InfoHash != p.torrent.InfoHash {
		return errors.Wrapf(wire.ErrHandshake, "info hash %x", theirs.InfoHash)
	}
	if !outbound {
		if err := p.wire.SendHandshake(ours); err != nil {
			return errors.Wrapf(wire.ErrHandshake, "sending handshake: %v", err)
		}
	}
	return nil
}

func (p *peer) cleanup() {
	p.pieceMu.Lock()
	p.abandonPiece()
	p.pieceMu.Unlock()

	p.Lock()
	if p.established && !p.state.clientChoking {
		p.peerMgr.ReleaseUnchokeSlot()
	}
	p.established = false
	p.state = newConnState()
	p.Unlock()

	p.stats.RemovePeer(p.id)
	if p.conn != nil {
		p.conn.Close()
	}
}

func (p *peer) receiveLoop(ctx context.Context) error {
	for {
		msg, err := p.wire.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "reading message")
		}
		p.log.WithField("message", wire.Name(msg)).Debug("Received")
		if err := p.decodeMessage(msg); err != nil {
			return err
		}
	}
}

// sendLoop is the only writer on the connection. parent is the context the
// session was started with; only its cancellation earns a flush.
func (p *peer) sendLoop(parent, ctx context.Context) error {
	defer p.wire.Close()

	for {
		if err := p.drain(ctx); err != nil {
			return errors.Wrap(err, "sending message")
		}
		p.stats.Tick(p.id)

		select {
		case <-ctx.Done():
			if parent.Err() != nil {
				p.flush()
			}
			return nil
		case cmd := <-p.control:
			if cmd == resetUploadStats {
				p.stats.ResetPeerUpload(p.id)
			}
		case <-p.reselect:
			p.selectPiece()
		case <-p.queue.Notify():
		case <-time.After(IDLE_WAIT):
			if time.Since(p.wire.GetLastMessageSent()) >= KEEP_ALIVE_INTERVAL {
				p.queue.Enqueue(wire.KeepAlive{})
			}
		}
	}
}

func (p *peer) drain(ctx context.Context) error {
	for {
		msg, ok := p.queue.Pop()
		if !ok {
			return nil
		}
		pieceMsg, isPiece := msg.(wire.Piece)
		if isPiece && p.limiter != nil {
			if err := p.limiter.WaitN(ctx, len(pieceMsg.Block)); err != nil {
				continue
			}
		}
		if err := p.wire.SendMessage(msg); err != nil {
			return err
		}
		p.log.WithField("message", wire.Name(msg)).Debug("Sent")
		if isPiece {
			p.stats.UpdatePeer(p.id, len(pieceMsg.Block), 0)
		}
	}
}

func (p *peer) flush() {
	p.log.WithField("queued", p.queue.Len()).Debug("Flushing")
	deadline := time.Now().Add(SHUTDOWN_GRACE)
	for time.Now().Before(deadline) {
		msg, ok := p.queue.Pop()
		if !ok {
			return
		}
		if err := p.wire.SendMessage(msg); err != nil {
			return
		}
	}
}

func (p *peer) decodeMessage(msg wire.Message) error {
	switch m := msg.(type) {
	case wire.KeepAlive:
	case wire.Choke:
		p.Lock()
		p.state.peerChoking = true
		p.state.clientInterested = false
		p.Unlock()
		p.pieceMu.Lock()
		p.abandonPiece()
		p.pieceMu.Unlock()
	case wire.Unchoke:
		p.Lock()
		p.state.peerChoking = false
		p.Unlock()
		p.selectPiece()
	case wire.Interested:
		p.Lock()
		newlyInterested := !p.state.peerInterested
		p.state.peerInterested = true
		p.Unlock()
		if newlyInterested {
			p.Unchoke()
		}
	case wire.NotInterested:
		p.Lock()
		p.state.peerInterested = false
		p.Unlock()
	case wire.Have:
		if m.Index < 0 || m.Index >= p.torrent.NumPieces {
			return errors.Wrapf(ErrProtocolViolation, "have for piece %d", m.Index)
		}
		p.Lock()
		p.advertised.Set(m.Index, true)
		p.Unlock()
		p.peerMgr.PeerAdvertised()
		p.selectPiece()
	case wire.Bitfield:
		advertised, err := m.Bitmap(p.torrent.NumPieces)
		if err != nil {
			return err
		}
		p.Lock()
		p.advertised = advertised
		p.Unlock()
		for pieceIndex := 0; pieceIndex < p.torrent.NumPieces; pieceIndex++ {
			if advertised.Get(pieceIndex) {
				p.peerMgr.PeerAdvertised()
				break
			}
		}
		p.selectPiece()
	case wire.Request:
		return p.handleRequest(m)
	case wire.Piece:
		return p.handlePiece(m)
	case wire.Cancel, wire.Port:
	}
	return nil
}

func (p *peer) handleRequest(m wire.Request) error {
	p.Lock()
	clientChoking := p.state.clientChoking
	p.Unlock()
	if clientChoking {
		p.log.WithField("piece", m.Index).Debug("Ignoring request while choking")
		return nil
	}

	if m.Length <= 0 || m.Length > MAX_REQUEST_LENGTH || m.Begin < 0 ||
		!p.pieceMgr.HasPiece(m.Index) || m.Begin+m.Length > p.torrent.PieceSize(m.Index) {
		return errors.Wrapf(ErrProtocolViolation, "request for piece %d begin %d length %d", m.Index, m.Begin, m.Length)
	}
	block, err := p.storage.ReadBlock(m.Index, m.Begin, m.Length)
	if err != nil {
		p.log.WithError(err).WithField("piece", m.Index).Warn("Failed to read block")
		return nil
	}
	p.queue.Enqueue(wire.Piece{Index: m.Index, Begin: m.Begin, Block: block})
	return nil
}

func (p *peer) handlePiece(m wire.Piece) error {
	p.pieceMu.Lock()
	defer p.pieceMu.Unlock()

	req := p.outstanding
	if p.assembly == nil || req == nil ||
		m.Index != req.Index || m.Begin != req.Begin || len(m.Block) != req.Length {
		p.log.WithFields(log.Fields{
			"piece": m.Index,
			"begin": m.Begin,
		}).Debug("Ignoring unrequested block")
		return nil
	}
	p.outstanding = nil
	p.stats.UpdatePeer(p.id, 0, len(m.Block))
	p.assembly.Append(m.Begin, m.Block)
	if !p.assembly.Complete() {
		p.requestBlock()
		return nil
	}

	a := p.assembly
	p.assembly = nil
	data, err := a.Verify()
	if err != nil {
		p.release(a.Index)
		p.log.WithField("piece", a.Index).Warn("Piece failed verification, will retry")
		if p.config.BanOnHashFailure {
			p.peerMgr.BanPeer(p.id)
			return err
		}
		p.nextPiece()
		return nil
	}
	if err := p.storage.WritePiece(a.Index, data); err != nil {
		p.release(a.Index)
		p.log.WithError(err).WithField("piece", a.Index).Warn("Failed to write piece")
		p.nextPiece()
		return nil
	}
	p.peerMgr.MarkHave(a.Index)
	p.nextPiece()
	return nil
}

func (p *peer) requestBlock() {
	begin, length := p.assembly.NextRequest()
	req := wire.Request{Index: p.assembly.Index, Begin: begin, Length: length}
	p.outstanding = &req
	p.queue.Enqueue(req)
}

// release returns a piece to Missing and wakes every session, any of which
// may now retrieve it.
func (p *peer) release(pieceIndex int) {
	p.pieceMgr.Release(pieceIndex)
	p.peerMgr.PieceReleased(pieceIndex)
}

func (p *peer) abandonPiece() {
	if p.assembly == nil {
		return
	}
	a := p.assembly
	p.assembly = nil
	p.outstanding = nil
	p.release(a.Index)
	p.log.WithFields(log.Fields{
		"piece":    a.Index,
		"received": a.Received(),
	}).Debug("Abandoned piece")
}

// Reselect asks an established session to look for a piece again if it is
// idle. It never blocks.
func (p *peer) Reselect() {
	p.Lock()
	established := p.established
	p.Unlock()
	if !established {
		return
	}
	select {
	case p.reselect <- struct{}{}:
	default:
	}
}

func (p *peer) selectPiece() {
	p.pieceMu.Lock()
	defer p.pieceMu.Unlock()

	p.nextPiece()
}

// nextPiece picks what to retrieve from this peer once it is idle: the first
// needed piece in rarity order that the peer advertises. Callers hold pieceMu.
func (p *peer) nextPiece() {
	if p.assembly != nil {
		return
	}
	p.Lock()
	peerChoking := p.state.peerChoking
	advertised := append(bitmap.Bitmap(nil), p.advertised...)
	p.Unlock()

	target, found := -1, false
	for _, pieceIndex := range p.pieceMgr.PiecesByRarity() {
		if !advertised.Get(pieceIndex) {
			continue
		}
		if peerChoking {
			if p.pieceMgr.NeedsPiece(pieceIndex) {
				found = true
				break
			}
			continue
		}
		if p.pieceMgr.TryAcquire(pieceIndex) {
			target, found = pieceIndex, true
			break
		}
	}

	if !found {
		if p.sentUninterested {
			return
		}
		p.sentUninterested = true
		p.Lock()
		p.state.clientInterested = false
		p.queue.Enqueue(wire.NotInterested{})
		p.Unlock()
		p.stats.ZeroPeer(p.id)
		return
	}

	p.Lock()
	if !p.state.clientInterested {
		p.state.clientInterested = true
		p.queue.Enqueue(wire.Interested{})
	}
	p.Unlock()
	p.sentUninterested = false

	if target >= 0 {
		p.assembly = piece.NewAssembly(target, p.torrent.PieceSize(target), p.torrent.PieceHash(target))
		p.log.WithField("piece", target).Debug("Retrieving piece")
		p.requestBlock()
	}
}

// Unchoke lets an interested peer request from us if an unchoke slot is free.
func (p *peer) Unchoke() bool {
	p.Lock()
	defer p.Unlock()

	if !p.established || !p.state.clientChoking || !p.state.peerInterested {
		return false
	}
	if !p.peerMgr.AcquireUnchokeSlot() {
		return false
	}
	p.state.clientChoking = false
	p.queue.Enqueue(wire.Unchoke{})
	select {
	case p.control <- resetUploadStats:
	default:
	}
	p.log.Info("Unchoked")
	return true
}

func (p *peer) Choke() bool {
	p.Lock()
	defer p.Unlock()

	if !p.established || p.state.clientChoking {
		return false
	}
	p.state.clientChoking = true
	p.peerMgr.ReleaseUnchokeSlot()
	p.queue.Enqueue(wire.Choke{})
	p.log.Info("Choked")
	return true
}

func (p *peer) SendHave(pieceIndex int) {
	p.Lock()
	defer p.Unlock()

	if p.established {
		p.queue.Enqueue(wire.Have{Index: pieceIndex})
	}
}
