package wire

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

const (
	PROTOCOL         = "BitTorrent protocol"
	HANDSHAKE_LENGTH = 68
)

var ErrHandshake = errors.New("handshake failed")

// 1 + 19 + 8 + 20 + 20
type Handshake struct {
	Len      uint8
	Protocol [19]byte
	Reserved [8]uint8
	InfoHash [20]byte
	PeerID   [20]byte
}

func NewHandshake(infoHash, peerID [20]byte) *Handshake {
	h := &Handshake{
		Len:      uint8(len(PROTOCOL)),
		InfoHash: infoHash,
		PeerID:   peerID,
	}
	copy(h.Protocol[:], PROTOCOL)
	return h
}

func (h *Handshake) Bytes() []byte {
	b := &bytes.Buffer{}
	binary.Write(b, binary.BigEndian, h)
	return b.Bytes()
}

// ReadHandshake reads the fixed 68 byte header and checks the protocol
// string. The info hash is left for the caller to compare.
func ReadHandshake(r io.Reader) (*Handshake, error) {
	data := make([]byte, HANDSHAKE_LENGTH)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, errors.Wrapf(ErrHandshake, "reading handshake: %v", err)
	}
	h := &Handshake{}
	binary.Read(bytes.NewReader(data), binary.BigEndian, h)
	if int(h.Len) != len(PROTOCOL) || string(h.Protocol[:]) != PROTOCOL {
		return nil, errors.Wrapf(ErrHandshake, "unexpected protocol %q", h.Protocol[:])
	}
	return h, nil
}
