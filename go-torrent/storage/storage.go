package storage

import (
	"github.com/boljen/go-bitmap"
	"github.com/pkg/errors"
)

var (
	ErrOutOfRange = errors.New("block out of range")
)

// Storage persists verified pieces into the single backing file of a torrent.
// All methods are safe for concurrent use.
type Storage interface {
	ScanExisting() (clientBitfield bitmap.Bitmap, err error)
	ReadPiece(pieceIndex int) (data []byte, err error)
	ReadBlock(pieceIndex, begin, length int) (block []byte, err error)
	WritePiece(pieceIndex int, data []byte) error
	Close() error
}
