package wire

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

const (
	KEEP_ALIVE     = -1
	CHOKE          = 0
	UNCHOKE        = 1
	INTERESTED     = 2
	NOT_INTERESTED = 3
	HAVE           = 4
	BITFIELD       = 5
	REQUEST        = 6
	PIECE          = 7
	CANCEL         = 8
	PORT           = 9
)

var (
	// Frames longer than this are rejected before the payload is allocated.
	MAX_MESSAGE_LENGTH uint32 = 1<<20 + 9

	ErrFraming = errors.New("malformed message")
)

// Message is one of the peer wire messages. The set of implementations is
// closed: KeepAlive, Choke, Unchoke, Interested, NotInterested, Have,
// Bitfield, Request, Piece, Cancel and Port.
type Message interface {
	ID() int
	isMessage()
}

type KeepAlive struct{}
type Choke struct{}
type Unchoke struct{}
type Interested struct{}
type NotInterested struct{}

type Have struct {
	Index int
}

type Bitfield struct {
	Bits []byte
}

type Request struct {
	Index  int
	Begin  int
	Length int
}

type Piece struct {
	Index int
	Begin int
	Block []byte
}

type Cancel struct {
	Index  int
	Begin  int
	Length int
}

type Port struct {
	Port uint16
}

func (KeepAlive) ID() int     { return KEEP_ALIVE }
func (Choke) ID() int         { return CHOKE }
func (Unchoke) ID() int       { return UNCHOKE }
func (Interested) ID() int    { return INTERESTED }
func (NotInterested) ID() int { return NOT_INTERESTED }
func (Have) ID() int          { return HAVE }
func (Bitfield) ID() int      { return BITFIELD }
func (Request) ID() int       { return REQUEST }
func (Piece) ID() int         { return PIECE }
func (Cancel) ID() int        { return CANCEL }
func (Port) ID() int          { return PORT }

func (KeepAlive) isMessage()     {}
func (Choke) isMessage()         {}
func (Unchoke) isMessage()       {}
func (Interested) isMessage()    {}
func (NotInterested) isMessage() {}
func (Have) isMessage()          {}
func (Bitfield) isMessage()      {}
func (Request) isMessage()       {}
func (Piece) isMessage()         {}
func (Cancel) isMessage()        {}
func (Port) isMessage()          {}

// Encode returns the length-prefixed frame for msg.
func Encode(msg Message) []byte {
	b := &bytes.Buffer{}
	switch m := msg.(type) {
	case KeepAlive:
		binary.Write(b, binary.BigEndian, uint32(0))
	case Choke, Unchoke, Interested, NotInterested:
		binary.Write(b, binary.BigEndian, uint32(1))
		binary.Write(b, binary.BigEndian, uint8(m.ID()))
	case Have:
		binary.Write(b, binary.BigEndian, uint32(5))
		binary.Write(b, binary.BigEndian, uint8(HAVE))
		binary.Write(b, binary.BigEndian, uint32(m.Index))
	case Bitfield:
		binary.Write(b, binary.BigEndian, uint32(1+len(m.Bits)))
		binary.Write(b, binary.BigEndian, uint8(BITFIELD))
		b.Write(m.Bits)
	case Request:
		writeBlockRef(b, REQUEST, m.Index, m.Begin, m.Length)
	case Cancel:
		writeBlockRef(b, CANCEL, m.Index, m.Begin, m.Length)
	case Piece:
		binary.Write(b, binary.BigEndian, uint32(9+len(m.Block)))
		binary.Write(b, binary.BigEndian, uint8(PIECE))
		binary.Write(b, binary.BigEndian, uint32(m.Index))
		binary.Write(b, binary.BigEndian, uint32(m.Begin))
		b.Write(m.Block)
	case Port:
		binary.Write(b, binary.BigEndian, uint32(3))
		binary.Write(b, binary.BigEndian, uint8(PORT))
		binary.Write(b, binary.BigEndian, m.Port)
	}
	return b.Bytes()
}

func writeBlockRef(b *bytes.Buffer, id uint8, index, begin, length int) {
	binary.Write(b, binary.BigEndian, uint32(13))
	binary.Write(b, binary.BigEndian, id)
	binary.Write(b, binary.BigEndian, uint32(index))
	binary.Write(b, binary.BigEndian, uint32(begin))
	binary.Write(b, binary.BigEndian, uint32(length))
}

// Decode reads exactly one frame from r. A clean EOF before the length prefix
// is returned as io.EOF, every other short read is a framing error.
func Decode(r io.Reader) (Message, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, errors.Wrap(ErrFraming, "truncated length prefix")
		}
		return nil, err
	}
	length := binary.BigEndian.Uint32(header)
	if length == 0 {
		return KeepAlive{}, nil
	}
	if length > MAX_MESSAGE_LENGTH {
		return nil, errors.Wrapf(ErrFraming, "frame of %d bytes exceeds limit", length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, errors.Wrapf(ErrFraming, "truncated frame, expected %d bytes", length)
		}
		return nil, err
	}
	return decodeBody(body[0], body[1:])
}

func decodeBody(id uint8, payload []byte) (Message, error) {
	switch id {
	case CHOKE, UNCHOKE, INTERESTED, NOT_INTERESTED:
		if len(payload) != 0 {
			return nil, errors.Wrapf(ErrFraming, "message %d carries %d payload bytes", id, len(payload))
		}
		switch id {
		case CHOKE:
			return Choke{}, nil
		case UNCHOKE:
			return Unchoke{}, nil
		case INTERESTED:
			return Interested{}, nil
		default:
			return NotInterested{}, nil
		}
	case HAVE:
		if len(payload) != 4 {
			return nil, errors.Wrapf(ErrFraming, "have payload of %d bytes", len(payload))
		}
		return Have{Index: int(binary.BigEndian.Uint32(payload))}, nil
	case BITFIELD:
		bits := make([]byte, len(payload))
		copy(bits, payload)
		return Bitfield{Bits: bits}, nil
	case REQUEST, CANCEL:
		if len(payload) != 12 {
			return nil, errors.Wrapf(ErrFraming, "message %d payload of %d bytes", id, len(payload))
		}
		index := int(binary.BigEndian.Uint32(payload[0:4]))
		begin := int(binary.BigEndian.Uint32(payload[4:8]))
		length := int(binary.BigEndian.Uint32(payload[8:12]))
		if id == REQUEST {
			return Request{Index: index, Begin: begin, Length: length}, nil
		}
		return Cancel{Index: index, Begin: begin, Length: length}, nil
	case PIECE:
		if len(payload) < 8 {
			return nil, errors.Wrapf(ErrFraming, "piece payload of %d bytes", len(payload))
		}
		block := make([]byte, len(payload)-8)
		copy(block, payload[8:])
		return Piece{
			Index: int(binary.BigEndian.Uint32(payload[0:4])),
			Begin: int(binary.BigEndian.Uint32(payload[4:8])),
			Block: block,
		}, nil
	case PORT:
		if len(payload) != 2 {
			return nil, errors.Wrapf(ErrFraming, "port payload of %d bytes", len(payload))
		}
		return Port{Port: binary.BigEndian.Uint16(payload)}, nil
	}
	return nil, errors.Wrapf(ErrFraming, "unknown message id %d", id)
}

var names = map[int]string{
	KEEP_ALIVE:     "KEEP_ALIVE",
	CHOKE:          "CHOKE",
	UNCHOKE:        "UNCHOKE",
	INTERESTED:     "INTERESTED",
	NOT_INTERESTED: "NOT_INTERESTED",
	HAVE:           "HAVE",
	BITFIELD:       "BITFIELD",
	REQUEST:        "REQUEST",
	PIECE:          "PIECE",
	CANCEL:         "CANCEL",
	PORT:           "PORT",
}

// Name is used for logging.
func Name(msg Message) string {
	return names[msg.ID()]
}
