package peer

import (
	"context"
	"sync"

	"github.com/Charana123/swarm/go-torrent/piece"
	bitmap "github.com/boljen/go-bitmap"
	"github.com/stretchr/testify/mock"
)

type mockPeer struct {
	Peer
	mock.Mock
}

func (m *mockPeer) GetPeerInfo() PeerInfo {
	args := m.Called()
	return args.Get(0).(PeerInfo)
}

func (m *mockPeer) Advertised() bitmap.Bitmap {
	args := m.Called()
	return args.Get(0).(bitmap.Bitmap)
}

func (m *mockPeer) Choke() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *mockPeer) Unchoke() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *mockPeer) Reselect() {
	m.Called()
}

type mockPeerManager struct {
	PeerManager
	mock.Mock
}

func (m *mockPeerManager) GetPeerList() []Peer {
	args := m.Called()
	return args.Get(0).([]Peer)
}

func (m *mockPeerManager) NumUnchoked() int {
	args := m.Called()
	return args.Int(0)
}

func (m *mockPeerManager) Ready() <-chan struct{} {
	args := m.Called()
	return args.Get(0).(<-chan struct{})
}

type mockPieceManager struct {
	piece.PieceManager
	mock.Mock
}

func (m *mockPieceManager) IsComplete() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *mockPieceManager) Prioritize(advertised []bitmap.Bitmap) {
	m.Called(advertised)
}

func (m *mockPieceManager) MarkHave(pieceIndex int) bool {
	args := m.Called(pieceIndex)
	return args.Bool(0)
}

// fakePeer runs until stopped or its context ends.
type fakePeer struct {
	Peer
	sync.Mutex
	startErr  error
	stop      chan struct{}
	stopOnce  sync.Once
	haves     []int
	reselects int
}

func newFakePeer(startErr error) *fakePeer {
	return &fakePeer{
		startErr: startErr,
		stop:     make(chan struct{}),
	}
}

func (f *fakePeer) Start(ctx context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	select {
	case <-ctx.Done():
	case <-f.stop:
	}
	return nil
}

func (f *fakePeer) Stop() {
	f.stopOnce.Do(func() {
		close(f.stop)
	})
}

func (f *fakePeer) Reselect() {
	f.Lock()
	defer f.Unlock()

	f.reselects++
}

func (f *fakePeer) getReselects() int {
	f.Lock()
	defer f.Unlock()

	return f.reselects
}

func (f *fakePeer) SendHave(pieceIndex int) {
	f.Lock()
	defer f.Unlock()

	f.haves = append(f.haves, pieceIndex)
}

func (f *fakePeer) getHaves() []int {
	f.Lock()
	defer f.Unlock()

	return append([]int(nil), f.haves...)
}
