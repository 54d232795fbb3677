package piece

import (
	"sort"
	"sync"

	"github.com/Charana123/swarm/go-torrent/torrent"
	bitmap "github.com/boljen/go-bitmap"
	log "github.com/sirupsen/logrus"
)

type status int

const (
	missing status = iota
	inProgress
	have
)

type rarestFirst struct {
	sync.RWMutex
	tor            *torrent.Torrent
	clientBitField bitmap.Bitmap
	status         []status
	piecesHave     int
	piecesByRarity []int
	published      bool
	completed      chan struct{}
	completeOnce   sync.Once
}

// NewRarestFirstPieceManager builds the piece table from the torrent's hashes
// and the pieces already found on disk.
func NewRarestFirstPieceManager(
	tor *torrent.Torrent,
	clientBitField bitmap.Bitmap) PieceManager {

	pm := &rarestFirst{
		tor:            tor,
		clientBitField: bitmap.New(tor.NumPieces),
		status:         make([]status, tor.NumPieces),
		completed:      make(chan struct{}),
	}
	for i := 0; i < tor.NumPieces; i++ {
		if clientBitField != nil && clientBitField.Get(i) {
			pm.status[i] = have
			pm.clientBitField.Set(i, true)
			pm.piecesHave++
		}
	}
	if pm.piecesHave == tor.NumPieces {
		pm.completeOnce.Do(func() { close(pm.completed) })
	}
	return pm
}

func (pm *rarestFirst) valid(pieceIndex int) bool {
	return pieceIndex >= 0 && pieceIndex < len(pm.status)
}

func (pm *rarestFirst) NeedsPiece(pieceIndex int) bool {
	pm.RLock()
	defer pm.RUnlock()

	return pm.valid(pieceIndex) && pm.status[pieceIndex] == missing
}

func (pm *rarestFirst) HasPiece(pieceIndex int) bool {
	pm.RLock()
	defer pm.RUnlock()

	return pm.valid(pieceIndex) && pm.status[pieceIndex] == have
}

// TryAcquire moves a missing piece to InProgress. Only one caller can win.
func (pm *rarestFirst) TryAcquire(pieceIndex int) bool {
	pm.Lock()
	defer pm.Unlock()

	if !pm.valid(pieceIndex) || pm.status[pieceIndex] != missing {
		return false
	}
	pm.status[pieceIndex] = inProgress
	return true
}

func (pm *rarestFirst) Release(pieceIndex int) {
	pm.Lock()
	defer pm.Unlock()

	if pm.valid(pieceIndex) && pm.status[pieceIndex] == inProgress {
		pm.status[pieceIndex] = missing
	}
}

func (pm *rarestFirst) MarkHave(pieceIndex int) bool {
	pm.Lock()
	defer pm.Unlock()

	if !pm.valid(pieceIndex) || pm.status[pieceIndex] == have {
		return false
	}
	pm.status[pieceIndex] = have
	pm.clientBitField.Set(pieceIndex, true)
	pm.piecesHave++
	log.WithFields(log.Fields{
		"piece": pieceIndex,
		"have":  pm.piecesHave,
		"total": len(pm.status),
	}).Info("Piece complete")
	if pm.piecesHave == len(pm.status) {
		pm.completeOnce.Do(func() { close(pm.completed) })
	}
	return true
}

func (pm *rarestFirst) unsortedNeeded() []int {
	needed := make([]int, 0, len(pm.status)-pm.piecesHave)
	for pieceIndex, s := range pm.status {
		if s == missing {
			needed = append(needed, pieceIndex)
		}
	}
	return needed
}

func (pm *rarestFirst) UnsortedNeeded() []int {
	pm.RLock()
	defer pm.RUnlock()

	return pm.unsortedNeeded()
}

// Prioritize publishes a new rarity order computed from the bitfields the
// connected peers advertise.
func (pm *rarestFirst) Prioritize(advertised []bitmap.Bitmap) {
	order := Rarity(pm.UnsortedNeeded(), advertised)

	pm.Lock()
	pm.piecesByRarity = order
	pm.published = true
	pm.Unlock()

	log.WithField("pieces", len(order)).Debug("Published rarity order")
}

// PiecesByRarity returns the last published order, or the unsorted needed
// pieces before the first publication. The returned slice is never mutated.
func (pm *rarestFirst) PiecesByRarity() []int {
	pm.RLock()
	defer pm.RUnlock()

	if !pm.published {
		return pm.unsortedNeeded()
	}
	return pm.piecesByRarity
}

func (pm *rarestFirst) GetBitField() bitmap.Bitmap {
	pm.RLock()
	defer pm.RUnlock()

	return append(bitmap.Bitmap(nil), pm.clientBitField...)
}

func (pm *rarestFirst) IsComplete() bool {
	pm.RLock()
	defer pm.RUnlock()

	return pm.piecesHave == len(pm.status)
}

func (pm *rarestFirst) Completed() <-chan struct{} {
	return pm.completed
}

func (pm *rarestFirst) PiecesHave() int {
	pm.RLock()
	defer pm.RUnlock()

	return pm.piecesHave
}

func (pm *rarestFirst) Left() int {
	pm.RLock()
	defer pm.RUnlock()

	left := 0
	for pieceIndex, s := range pm.status {
		if s != have {
			left += pm.tor.PieceSize(pieceIndex)
		}
	}
	return left
}

// Rarity orders the needed pieces by how many advertised bitfields contain
// them, rarest first, breaking ties by index.
func Rarity(needed []int, advertised []bitmap.Bitmap) []int {
	counts := make(map[int]int, len(needed))
	for _, pieceIndex := range needed {
		count := 0
		for _, peerBitfield := range advertised {
			if pieceIndex < peerBitfield.Len() && peerBitfield.Get(pieceIndex) {
				count++
			}
		}
		counts[pieceIndex] = count
	}

	order := append([]int(nil), needed...)
	sort.Slice(order, func(i, j int) bool {
		p1, p2 := order[i], order[j]
		if counts[p1] != counts[p2] {
			return counts[p1] < counts[p2]
		}
		return p1 < p2
	})
	return order
}
