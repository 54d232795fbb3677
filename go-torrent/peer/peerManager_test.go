package peer

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/Charana123/swarm/go-torrent/stats"
	"github.com/Charana123/swarm/go-torrent/torrent"
	"github.com/Charana123/swarm/go-torrent/wire"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withFakePeers(t *testing.T, peers map[string]*fakePeer) {
	original := newPeer
	newPeer = func(id string, conn net.Conn, pm *peerManager) Peer {
		p, ok := peers[id]
		require.True(t, ok, "unexpected peer %s", id)
		return p
	}
	t.Cleanup(func() { newPeer = original })
}

func newTestPeerManager(t *testing.T, pieceMgr *mockPieceManager) *peerManager {
	tor, err := torrent.Create("file.bin", make([]byte, 100), 50, "")
	require.NoError(t, err)
	pm := NewPeerManager(context.Background(), tor, pieceMgr, nil, stats.NewStats(0, 0), DefaultConfig())
	return pm.(*peerManager)
}

func TestAddAndRemovePeer(t *testing.T) {
	a := newFakePeer(nil)
	withFakePeers(t, map[string]*fakePeer{"a": a})
	pm := newTestPeerManager(t, &mockPieceManager{})

	pm.AddPeer("a", nil)
	pm.AddPeer("a", nil)
	assert.Len(t, pm.GetPeerList(), 1)

	pm.RemovePeer("a")
	assert.Empty(t, pm.GetPeerList())
	pm.Wait()
}

func TestBannedPeerIsNotAdded(t *testing.T) {
	a := newFakePeer(nil)
	withFakePeers(t, map[string]*fakePeer{"a": a})
	pm := newTestPeerManager(t, &mockPieceManager{})

	pm.AddPeer("a", nil)
	pm.BanPeer("a")
	pm.Wait()
	assert.Empty(t, pm.GetPeerList())

	pm.AddPeer("a", nil)
	assert.Empty(t, pm.GetPeerList())
}

func TestFailedHandshakeSkippedUntilReset(t *testing.T) {
	failing := newFakePeer(errors.Wrap(wire.ErrHandshake, "info hash"))
	withFakePeers(t, map[string]*fakePeer{"a": failing})
	pm := newTestPeerManager(t, &mockPieceManager{})

	pm.AddPeer("a", nil)
	pm.Wait()
	assert.True(t, pm.failedPeers.Contains("a"))

	pm.AddPeer("a", nil)
	pm.Wait()
	assert.True(t, pm.failedPeers.Contains("a"))
	assert.Empty(t, pm.GetPeerList())

	pm.ResetFailed()
	assert.False(t, pm.failedPeers.Contains("a"))
}

func TestMarkHaveBroadcasts(t *testing.T) {
	a, b := newFakePeer(nil), newFakePeer(nil)
	withFakePeers(t, map[string]*fakePeer{"a": a, "b": b})
	pieceMgr := &mockPieceManager{}
	pieceMgr.On("MarkHave", 1).Return(true).Once()
	pieceMgr.On("MarkHave", 1).Return(false)
	pm := newTestPeerManager(t, pieceMgr)

	pm.AddPeer("a", nil)
	pm.AddPeer("b", nil)
	pm.MarkHave(1)
	pm.MarkHave(1)

	assert.Equal(t, []int{1}, a.getHaves())
	assert.Equal(t, []int{1}, b.getHaves())

	pm.StopPeers()
	pm.Wait()
	pieceMgr.AssertExpectations(t)
}

func TestUnchokeSlots(t *testing.T) {
	pm := newTestPeerManager(t, &mockPieceManager{})
	for i := 0; i < MAX_UNCHOKED; i++ {
		assert.True(t, pm.AcquireUnchokeSlot())
	}
	assert.False(t, pm.AcquireUnchokeSlot())
	assert.Equal(t, MAX_UNCHOKED, pm.NumUnchoked())

	for i := 0; i < MAX_UNCHOKED+2; i++ {
		pm.ReleaseUnchokeSlot()
	}
	assert.Equal(t, 0, pm.NumUnchoked())
}

func TestReady(t *testing.T) {
	pm := newTestPeerManager(t, &mockPieceManager{})
	select {
	case <-pm.Ready():
		t.Fatal("ready before any advertisement")
	default:
	}
	pm.PeerAdvertised()
	pm.PeerAdvertised()
	select {
	case <-pm.Ready():
	case <-time.After(time.Second):
		t.Fatal("not ready")
	}
}

func TestStopPeersRejectsNewPeers(t *testing.T) {
	a := newFakePeer(nil)
	withFakePeers(t, map[string]*fakePeer{"a": a})
	pm := newTestPeerManager(t, &mockPieceManager{})

	pm.StopPeers()
	pm.AddPeer("a", nil)
	pm.Wait()
	assert.Empty(t, pm.GetPeerList())
}

func TestPieceReleasedWakesEverySession(t *testing.T) {
	a, b := newFakePeer(nil), newFakePeer(nil)
	withFakePeers(t, map[string]*fakePeer{"a": a, "b": b})
	pm := newTestPeerManager(t, &mockPieceManager{})

	pm.AddPeer("a", nil)
	pm.AddPeer("b", nil)
	pm.PieceReleased(1)
	assert.Equal(t, 1, a.getReselects())
	assert.Equal(t, 1, b.getReselects())

	pm.StopPeers()
	pm.Wait()
}
