package piece

import (
	bitmap "github.com/boljen/go-bitmap"
	"github.com/pkg/errors"
)

var (
	BLOCK_SIZE = 16384 // 2^14

	ErrVerification = errors.New("piece hash mismatch")
)

// PieceManager owns the status of every piece: Missing, InProgress or Have.
// An index only moves Missing -> InProgress -> Have or InProgress -> Missing.
type PieceManager interface {
	NeedsPiece(pieceIndex int) bool
	HasPiece(pieceIndex int) bool
	TryAcquire(pieceIndex int) bool
	Release(pieceIndex int)
	MarkHave(pieceIndex int) (newlyHave bool)
	UnsortedNeeded() []int
	Prioritize(advertised []bitmap.Bitmap)
	PiecesByRarity() []int
	GetBitField() (clientBitfield bitmap.Bitmap)
	IsComplete() bool
	Completed() <-chan struct{}
	PiecesHave() int
	Left() int
}
