package messaging

import (
	"context"
	"sync"
)

// PipeEnd is one end of an in-process message channel. Each end has an
// origin that is stamped on every message it sends. Delivery is
// asynchronous and FIFO per end.
type PipeEnd struct {
	origin string
	peer   *PipeEnd

	mu        sync.Mutex
	handler   Handler
	inbox     []Envelope
	wake      chan struct{}
	done      chan struct{}
	closed    bool
	wg        sync.WaitGroup
	onConnect []func(ctx context.Context)
}

// NewPipe connects two ends with the given origins
func NewPipe(originA, originB string) (*PipeEnd, *PipeEnd) {
	a := newPipeEnd(originA)
	b := newPipeEnd(originB)
	a.peer, b.peer = b, a
	return a, b
}

func newPipeEnd(origin string) *PipeEnd {
	return &PipeEnd{
		origin: origin,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Origin returns the origin this end sends from
func (p *PipeEnd) Origin() string {
	return p.origin
}

// Post delivers msg to the peer. It fails with ErrCounterpartUnavailable
// while the peer is not listening.
func (p *PipeEnd) Post(ctx context.Context, msg Message, targetOrigin string) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrTransportClosed
	}

	data, err := Encode(msg)
	if err != nil {
		return err
	}
	return p.peer.deliver(Envelope{
		Data:   data,
		Origin: p.origin,
		Source: ReplierFunc(p.peer.Post),
	}, targetOrigin)
}

func (p *PipeEnd) deliver(env Envelope, targetOrigin string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.handler == nil {
		return ErrCounterpartUnavailable
	}
	if !originMatches(targetOrigin, p.origin) {
		return nil
	}
	p.inbox = append(p.inbox, env)
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

// Listen installs h and starts delivering to it. Peers waiting for this end
// are notified through their OnConnect hooks.
func (p *PipeEnd) Listen(h Handler) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	first := p.handler == nil
	p.handler = h
	if first {
		p.wg.Add(1)
		go p.run()
	}
	p.mu.Unlock()

	if first {
		p.peer.notifyConnect()
	}
}

// OnConnect registers fn to run whenever the peer starts listening
func (p *PipeEnd) OnConnect(fn func(ctx context.Context)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onConnect = append(p.onConnect, fn)
}

func (p *PipeEnd) notifyConnect() {
	p.mu.Lock()
	hooks := make([]func(context.Context), len(p.onConnect))
	copy(hooks, p.onConnect)
	p.mu.Unlock()

	for _, fn := range hooks {
		fn(context.Background())
	}
}

func (p *PipeEnd) run() {
	defer p.wg.Done()
	ctx := context.Background()
	for {
		select {
		case <-p.done:
			return
		case <-p.wake:
		}

		for {
			p.mu.Lock()
			if p.closed || len(p.inbox) == 0 {
				p.mu.Unlock()
				break
			}
			env := p.inbox[0]
			p.inbox = p.inbox[1:]
			h := p.handler
			p.mu.Unlock()

			h(ctx, env)
		}
	}
}

// Close stops delivery; undelivered messages are discarded
func (p *PipeEnd) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.inbox = nil
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

var (
	_ Transport       = (*PipeEnd)(nil)
	_ ConnectNotifier = (*PipeEnd)(nil)
)
