package wire

import (
	bitmap "github.com/boljen/go-bitmap"
	"github.com/pkg/errors"
)

// NewBitfield packs the first numPieces bits of bm into wire order: bit i
// lives in byte i/8, most significant bit first.
func NewBitfield(bm bitmap.Bitmap, numPieces int) Bitfield {
	bits := make([]byte, (numPieces+7)/8)
	for i := 0; i < numPieces; i++ {
		if bm.Get(i) {
			bits[i/8] |= 0x80 >> uint(i%8)
		}
	}
	return Bitfield{Bits: bits}
}

func (b Bitfield) Has(i int) bool {
	if i < 0 || i/8 >= len(b.Bits) {
		return false
	}
	return b.Bits[i/8]&(0x80>>uint(i%8)) != 0
}

// Bitmap unpacks a received bitfield. The length must be exactly
// ceil(numPieces/8) and the spare trailing bits must be clear.
func (b Bitfield) Bitmap(numPieces int) (bitmap.Bitmap, error) {
	if len(b.Bits) != (numPieces+7)/8 {
		return nil, errors.Wrapf(ErrFraming, "bitfield of %d bytes for %d pieces", len(b.Bits), numPieces)
	}
	bm := bitmap.New(numPieces)
	for i := 0; i < len(b.Bits)*8; i++ {
		if !b.Has(i) {
			continue
		}
		if i >= numPieces {
			return nil, errors.Wrapf(ErrFraming, "spare bit %d set", i)
		}
		bm.Set(i, true)
	}
	return bm, nil
}
