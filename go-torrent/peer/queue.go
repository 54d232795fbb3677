package peer

import (
	"sync"

	"github.com/Charana123/swarm/go-torrent/wire"
)

// queue is the outbound FIFO of a session. Any goroutine may push, only the
// send loop pops.
type queue struct {
	sync.Mutex
	messages []wire.Message
	notify   chan struct{}
}

func newQueue() *queue {
	return &queue{
		notify: make(chan struct{}, 1),
	}
}

// Enqueue never blocks.
func (q *queue) Enqueue(msgs ...wire.Message) {
	if len(msgs) == 0 {
		return
	}
	q.Lock()
	q.messages = append(q.messages, msgs...)
	q.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *queue) Pop() (wire.Message, bool) {
	q.Lock()
	defer q.Unlock()

	if len(q.messages) == 0 {
		return nil, false
	}
	msg := q.messages[0]
	q.messages[0] = nil
	q.messages = q.messages[1:]
	return msg, true
}

func (q *queue) Len() int {
	q.Lock()
	defer q.Unlock()

	return len(q.messages)
}

func (q *queue) Notify() <-chan struct{} {
	return q.notify
}
