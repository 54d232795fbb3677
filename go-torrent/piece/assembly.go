package piece

import (
	"bytes"
	"crypto/sha1"

	"github.com/pkg/errors"
)

// Assembly collects the blocks of the one piece a session is retrieving.
// Blocks are appended in order, so the buffer is always a contiguous prefix.
type Assembly struct {
	Index  int
	Length int
	hash   [20]byte
	buf    bytes.Buffer
}

func NewAssembly(pieceIndex, length int, hash [20]byte) *Assembly {
	a := &Assembly{
		Index:  pieceIndex,
		Length: length,
		hash:   hash,
	}
	a.buf.Grow(length)
	return a
}

// NextRequest is the block that follows the received prefix.
func (a *Assembly) NextRequest() (begin, length int) {
	begin = a.buf.Len()
	length = a.Length - begin
	if length > BLOCK_SIZE {
		length = BLOCK_SIZE
	}
	return begin, length
}

// Append adds a block if it is exactly the next expected one.
func (a *Assembly) Append(begin int, block []byte) bool {
	nextBegin, nextLength := a.NextRequest()
	if a.Complete() || begin != nextBegin || len(block) != nextLength {
		return false
	}
	a.buf.Write(block)
	return true
}

func (a *Assembly) Received() int {
	return a.buf.Len()
}

func (a *Assembly) Complete() bool {
	return a.buf.Len() == a.Length
}

// Verify returns the piece data if its SHA-1 matches the expected digest.
func (a *Assembly) Verify() ([]byte, error) {
	if !a.Complete() {
		return nil, errors.Errorf("piece %d incomplete: %d of %d bytes", a.Index, a.buf.Len(), a.Length)
	}
	data := a.buf.Bytes()
	if sha1.Sum(data) != a.hash {
		return nil, errors.Wrapf(ErrVerification, "piece %d", a.Index)
	}
	return data, nil
}
