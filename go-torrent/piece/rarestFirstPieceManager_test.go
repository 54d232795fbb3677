package piece

import (
	"sync"
	"testing"

	"github.com/Charana123/swarm/go-torrent/torrent"
	"github.com/boljen/go-bitmap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTorrent(t *testing.T, numPieces int) *torrent.Torrent {
	tor, err := torrent.Create("file.bin", make([]byte, numPieces*256-100), 256, "")
	require.NoError(t, err)
	return tor
}

func bitfield(n int, pieces ...int) bitmap.Bitmap {
	bm := bitmap.New(n)
	for _, p := range pieces {
		bm.Set(p, true)
	}
	return bm
}

func TestStatusTransitions(t *testing.T) {
	tor := newTorrent(t, 3)
	pm := NewRarestFirstPieceManager(tor, bitfield(3, 0))

	assert.True(t, pm.HasPiece(0))
	assert.False(t, pm.NeedsPiece(0))
	assert.False(t, pm.TryAcquire(0))

	assert.True(t, pm.TryAcquire(1))
	assert.False(t, pm.TryAcquire(1))
	assert.False(t, pm.NeedsPiece(1))
	assert.Equal(t, []int{2}, pm.UnsortedNeeded())

	pm.Release(1)
	assert.True(t, pm.NeedsPiece(1))
	assert.Equal(t, []int{1, 2}, pm.UnsortedNeeded())

	assert.True(t, pm.TryAcquire(1))
	assert.True(t, pm.MarkHave(1))
	assert.False(t, pm.MarkHave(1))
	pm.Release(1)
	assert.True(t, pm.HasPiece(1))

	assert.False(t, pm.TryAcquire(-1))
	assert.False(t, pm.TryAcquire(3))
}

func TestTryAcquireExclusive(t *testing.T) {
	tor := newTorrent(t, 1)
	pm := NewRarestFirstPieceManager(tor, nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if pm.TryAcquire(0) {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}

func TestCompletion(t *testing.T) {
	tor := newTorrent(t, 2)
	pm := NewRarestFirstPieceManager(tor, nil)
	assert.Equal(t, tor.Length, pm.Left())

	pm.MarkHave(0)
	assert.False(t, pm.IsComplete())
	assert.Equal(t, tor.PieceSize(1), pm.Left())
	select {
	case <-pm.Completed():
		t.Fatal("completed early")
	default:
	}

	pm.MarkHave(1)
	assert.True(t, pm.IsComplete())
	assert.Equal(t, 2, pm.PiecesHave())
	assert.Equal(t, 0, pm.Left())
	<-pm.Completed()

	bf := pm.GetBitField()
	assert.True(t, bf.Get(0))
	assert.True(t, bf.Get(1))
}

func TestCompleteFromDisk(t *testing.T) {
	tor := newTorrent(t, 2)
	pm := NewRarestFirstPieceManager(tor, bitfield(2, 0, 1))
	<-pm.Completed()
	assert.Empty(t, pm.UnsortedNeeded())
}

func TestGetBitFieldIsCopy(t *testing.T) {
	tor := newTorrent(t, 2)
	pm := NewRarestFirstPieceManager(tor, nil)
	bf := pm.GetBitField()
	bf.Set(0, true)
	assert.False(t, pm.HasPiece(0))
	assert.False(t, pm.GetBitField().Get(0))
}

func TestRarity(t *testing.T) {
	// P0 advertises {1, 2} and P1 advertises {2}
	advertised := []bitmap.Bitmap{bitfield(4, 1, 2), bitfield(4, 2)}
	assert.Equal(t, []int{1, 2}, Rarity([]int{1, 2}, advertised))

	// ties broken by index, unadvertised pieces first
	advertised = []bitmap.Bitmap{bitfield(4, 0, 1, 3), bitfield(4, 0, 3), bitfield(4, 1, 3)}
	assert.Equal(t, []int{2, 0, 1, 3}, Rarity([]int{3, 2, 1, 0}, advertised))
}

func TestPiecesByRarity(t *testing.T) {
	tor := newTorrent(t, 4)
	pm := NewRarestFirstPieceManager(tor, bitfield(4, 0))
	assert.Equal(t, []int{1, 2, 3}, pm.PiecesByRarity())

	pm.TryAcquire(3)
	pm.Prioritize([]bitmap.Bitmap{bitfield(4, 1, 2), bitfield(4, 2)})
	assert.Equal(t, []int{1, 2}, pm.PiecesByRarity())
}
