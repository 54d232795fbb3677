package wire

import (
	"net"
	"sync/atomic"
	"time"
)

type Wire interface {
	// Reading
	ReadHandshake() (*Handshake, error)
	ReadMessage() (Message, error)

	// Writing
	SendHandshake(h *Handshake) error
	SendMessage(msg Message) error

	// Other
	GetLastMessageSent() (lastMessageSent time.Time)
	Close() error
}

type wire struct {
	conn            net.Conn
	timeoutDuration time.Duration
	lastMessageSent atomic.Int64
}

func NewWire(
	conn net.Conn,
	timeoutDuration time.Duration) Wire {

	return &wire{
		conn:            conn,
		timeoutDuration: timeoutDuration,
	}
}

func (w *wire) GetLastMessageSent() time.Time {
	return time.Unix(0, w.lastMessageSent.Load())
}

func (w *wire) Close() error {
	return w.conn.Close()
}

func (w *wire) ReadHandshake() (*Handshake, error) {
	w.conn.SetReadDeadline(time.Now().Add(w.timeoutDuration))
	return ReadHandshake(w.conn)
}

func (w *wire) SendHandshake(h *Handshake) error {
	return w.send(h.Bytes())
}

func (w *wire) ReadMessage() (Message, error) {
	w.conn.SetReadDeadline(time.Now().Add(w.timeoutDuration))
	return Decode(w.conn)
}

func (w *wire) SendMessage(msg Message) error {
	return w.send(Encode(msg))
}

func (w *wire) send(data []byte) error {
	w.lastMessageSent.Store(time.Now().UnixNano())
	w.conn.SetWriteDeadline(time.Now().Add(w.timeoutDuration))
	_, err := w.conn.Write(data)
	return err
}
