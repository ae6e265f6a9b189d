package messaging

import (
	"context"
	"io"
	"sort"
	"sync"
)

// MemoryNetwork is an in-process stand-in for a set of message servers, one
// per address. Delivery is synchronous and subjects match exactly.
type MemoryNetwork struct {
	mu        sync.Mutex
	endpoints map[string]*memoryEndpoint
	failures  map[string]error
}

type memoryEndpoint struct {
	subs       map[string][]*memorySub
	responders map[string]func([]byte) []byte
}

type memorySub struct {
	subject string
	handler func([]byte)
}

func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{
		endpoints: map[string]*memoryEndpoint{},
		failures:  map[string]error{},
	}
}

func (n *MemoryNetwork) endpoint(address string) *memoryEndpoint {
	ep, ok := n.endpoints[address]
	if !ok {
		ep = &memoryEndpoint{
			subs:       map[string][]*memorySub{},
			responders: map[string]func([]byte) []byte{},
		}
		n.endpoints[address] = ep
	}
	return ep
}

// Fail makes subsequent dials of address return err.
func (n *MemoryNetwork) Fail(address string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures[address] = err
}

// Respond installs a reply handler for requests on subject at address.
func (n *MemoryNetwork) Respond(address, subject string, fn func(req []byte) []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.endpoint(address).responders[subject] = fn
}

// Publish delivers data to every subscriber of subject at address.
func (n *MemoryNetwork) Publish(address, subject string, data []byte) {
	n.mu.Lock()
	subs := append([]*memorySub(nil), n.endpoint(address).subs[subject]...)
	n.mu.Unlock()
	for _, s := range subs {
		s.handler(data)
	}
}

// Subjects lists the subjects with at least one subscriber at address.
func (n *MemoryNetwork) Subjects(address string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := []string{}
	for subject, subs := range n.endpoint(address).subs {
		if len(subs) > 0 {
			out = append(out, subject)
		}
	}
	sort.Strings(out)
	return out
}

// Subscribers counts the subscriptions on subject at address.
func (n *MemoryNetwork) Subscribers(address, subject string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.endpoint(address).subs[subject])
}

// Dial implements Dialer.
func (n *MemoryNetwork) Dial(address string) (Bus, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.failures[address]; err != nil {
		return nil, err
	}
	n.endpoint(address)
	return &MemoryBus{network: n, address: address}, nil
}

// MemoryBus is a Bus attached to one MemoryNetwork address.
type MemoryBus struct {
	network *MemoryNetwork
	address string

	mu     sync.Mutex
	closed bool
	owned  []*memorySub
}

func (b *MemoryBus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *MemoryBus) Publish(subject string, data []byte) error {
	if b.isClosed() {
		return ErrBusClosed
	}
	b.network.Publish(b.address, subject, data)
	return nil
}

func (b *MemoryBus) Subscribe(subject string, handler func([]byte)) (io.Closer, error) {
	if b.isClosed() {
		return nil, ErrBusClosed
	}
	sub := &memorySub{subject: subject, handler: handler}
	n := b.network
	n.mu.Lock()
	ep := n.endpoint(b.address)
	ep.subs[subject] = append(ep.subs[subject], sub)
	n.mu.Unlock()

	b.mu.Lock()
	b.owned = append(b.owned, sub)
	b.mu.Unlock()

	var once sync.Once
	return closerFunc(func() error {
		once.Do(func() { b.remove(sub) })
		return nil
	}), nil
}

func (b *MemoryBus) remove(sub *memorySub) {
	n := b.network
	n.mu.Lock()
	ep := n.endpoint(b.address)
	list := ep.subs[sub.subject]
	for i, s := range list {
		if s == sub {
			ep.subs[sub.subject] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(ep.subs[sub.subject]) == 0 {
		delete(ep.subs, sub.subject)
	}
	n.mu.Unlock()
}

// Request calls the responder for subject. Without a responder it blocks
// until ctx is done, like a server that never answers.
func (b *MemoryBus) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	if b.isClosed() {
		return nil, ErrBusClosed
	}
	b.network.mu.Lock()
	fn := b.network.endpoint(b.address).responders[subject]
	b.network.mu.Unlock()
	if fn == nil {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return fn(data), nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	owned := b.owned
	b.owned = nil
	b.mu.Unlock()
	for _, sub := range owned {
		b.remove(sub)
	}
	return nil
}
