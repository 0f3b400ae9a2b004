package wire

import "sync"

// Message is one delivery on a pipe end.
type Message struct {
	Binary bool
	Data   []byte
}

const pipeBuffer = 256

// PipeEnd is one side of an in-process wire pair.
type PipeEnd struct {
	mu     sync.Mutex
	closed bool
	out    chan Message
	in     chan Message
}

// Pipe returns two connected wire ends backed by buffered channels,
// for tests and in-process peers.
func Pipe() (*PipeEnd, *PipeEnd) {
	a := make(chan Message, pipeBuffer)
	b := make(chan Message, pipeBuffer)
	return &PipeEnd{out: a, in: b}, &PipeEnd{out: b, in: a}
}

func (p *PipeEnd) SendText(data []byte) error {
	return p.send(Message{Data: append([]byte(nil), data...)})
}

func (p *PipeEnd) SendBinary(data []byte) error {
	return p.send(Message{Binary: true, Data: append([]byte(nil), data...)})
}

func (p *PipeEnd) send(m Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.out <- m:
		return nil
	default:
		// Slow reader; drop rather than block a broadcast.
		return nil
	}
}

// Recv is the stream of messages the peer end has sent. The channel
// closes when the peer closes.
func (p *PipeEnd) Recv() <-chan Message {
	return p.in
}

func (p *PipeEnd) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.out)
	return nil
}
