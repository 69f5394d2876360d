package hub

import "sync"

// Outbox is the unbounded FIFO behind every WebSocket connection. Producers
// (hub sends) enqueue without blocking; a single writer goroutine drains it
// to the socket. Closing wakes the writer and discards later sends.
type Outbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  [][]byte
	closed bool
}

func NewOutbox() *Outbox {
	o := &Outbox{}
	o.cond = sync.NewCond(&o.mu)
	return o
}

// Send enqueues a frame. Never blocks; frames sent after Close are dropped.
func (o *Outbox) Send(data []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return
	}
	o.queue = append(o.queue, data)
	o.cond.Signal()
}

// Next blocks until a frame is available or the outbox is closed. The second
// return is false once the outbox is closed and drained.
func (o *Outbox) Next() ([]byte, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for len(o.queue) == 0 && !o.closed {
		o.cond.Wait()
	}
	if len(o.queue) == 0 {
		return nil, false
	}
	data := o.queue[0]
	o.queue = o.queue[1:]
	return data, true
}

// Close stops the outbox. Queued frames are still handed out by Next before
// it reports closed.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.closed {
		o.closed = true
		o.cond.Broadcast()
	}
}
