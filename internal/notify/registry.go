package notify

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"

	"notifybridge/internal/logging"
	"notifybridge/internal/messaging"
	"notifybridge/internal/metrics"
)

// Callback receives the decoded payload of every message for a recipient.
// It runs on the delivering connection's goroutine and must not block.
type Callback func(payload json.RawMessage)

// Registration is the handle returned by Register.
type Registration struct {
	recipient string
	callback  Callback
}

func (r *Registration) Recipient() string { return r.recipient }

type publisher struct {
	address string
	bus     messaging.Bus

	// mu serializes subscription changes on this publisher. It is never held
	// together with Registry.mu, and Route never takes it.
	mu sync.Mutex
	// recipient -> subscription
	subscribers map[string]io.Closer
}

// Registry owns the publisher connections and the recipient listeners. A
// recipient is subscribed on a publisher iff it has at least one
// registration.
type Registry struct {
	dial          messaging.Dialer
	subjectPrefix string
	logger        logging.Logger
	metrics       metrics.Provider

	mu         sync.Mutex
	closed     bool
	publishers map[string]*publisher
	order      []string
	listeners  map[string][]*Registration
}

type Option func(*Registry)

func WithLogger(l logging.Logger) Option { return func(r *Registry) { r.logger = l } }

func WithMetrics(m metrics.Provider) Option { return func(r *Registry) { r.metrics = m } }

// WithSubjectPrefix sets the prefix of per-recipient subjects. Empty means the
// recipient id is the subject.
func WithSubjectPrefix(p string) Option { return func(r *Registry) { r.subjectPrefix = p } }

func NewRegistry(dial messaging.Dialer, opts ...Option) *Registry {
	r := &Registry{
		dial:          dial,
		subjectPrefix: "notifications",
		logger:        logging.NewDefaultLogger(),
		metrics:       metrics.Noop{},
		publishers:    make(map[string]*publisher),
		listeners:     make(map[string][]*Registration),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subject returns the subject a recipient is subscribed under.
func (r *Registry) Subject(recipient string) string {
	if r.subjectPrefix == "" {
		return recipient
	}
	return r.subjectPrefix + "." + recipient
}

// AddPublisher connects to address and subscribes every registered
// recipient on it. Known addresses are ignored. Dialing and subscribing
// happen outside the registry lock; Route never waits on them.
func (r *Registry) AddPublisher(address string) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRegistryClosed
	}
	_, known := r.publishers[address]
	r.mu.Unlock()
	if known {
		r.logger.Debugf("Found duplicate publisher %s, ignoring", address)
		return nil
	}

	bus, err := r.dial(address)
	if err != nil {
		r.logger.Errorf("Failed to connect to publisher %s: %v", address, err)
		return fmt.Errorf("add publisher %s: %w", address, err)
	}

	p := &publisher{address: address, bus: bus, subscribers: make(map[string]io.Closer)}
	// hold p.mu until catch-up is done so concurrent Register/Unregister
	// calls reconcile against the caught-up state
	p.mu.Lock()
	defer p.mu.Unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = bus.Close()
		return ErrRegistryClosed
	}
	if _, raced := r.publishers[address]; raced {
		r.mu.Unlock()
		_ = bus.Close()
		r.logger.Debugf("Found duplicate publisher %s, ignoring", address)
		return nil
	}
	r.publishers[address] = p
	r.order = append(r.order, address)
	recipients := make([]string, 0, len(r.listeners))
	for recipient := range r.listeners {
		recipients = append(recipients, recipient)
	}
	r.metrics.SetGauge(metrics.Publishers, float64(len(r.publishers)))
	r.mu.Unlock()

	sort.Strings(recipients)
	r.catchUp(p, recipients)
	r.logger.Infof("Connected to publisher %s (%d recipients)", address, len(p.subscribers))
	return nil
}

// catchUp subscribes recipients on a new publisher. Buses that support it
// queue every subscription and flush once. Must hold p.mu.
func (r *Registry) catchUp(p *publisher, recipients []string) {
	batcher, batched := p.bus.(messaging.Batcher)
	for _, recipient := range recipients {
		if want, closed := r.wanted(recipient); !want || closed {
			continue
		}
		var (
			sub io.Closer
			err error
		)
		if batched {
			sub, err = batcher.SubscribeAsync(r.Subject(recipient), r.Route)
		} else {
			sub, err = p.bus.Subscribe(r.Subject(recipient), r.Route)
		}
		if err != nil {
			r.logger.Errorf("Failed to subscribe %s on %s: %v", recipient, p.address, err)
			continue
		}
		p.subscribers[recipient] = sub
	}
	if batched && len(p.subscribers) > 0 {
		if err := batcher.Flush(); err != nil {
			r.logger.Warnf("Failed to flush subscriptions on %s: %v", p.address, err)
		}
	}
}

// Register adds a listener for recipient. The first listener subscribes the
// recipient on every publisher.
func (r *Registry) Register(recipient string, cb Callback) (*Registration, error) {
	if !ValidRecipient(recipient) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRecipient, recipient)
	}
	if cb == nil {
		return nil, fmt.Errorf("callback cannot be nil")
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	reg := &Registration{recipient: recipient, callback: cb}
	regs, exists := r.listeners[recipient]
	r.listeners[recipient] = append(regs, reg)
	var pubs []*publisher
	if !exists {
		pubs = r.snapshotPublishers()
		r.metrics.SetGauge(metrics.Recipients, float64(len(r.listeners)))
	}
	r.mu.Unlock()

	if !exists {
		r.logger.Debugf("Subscribing to notifications for %s", recipient)
		for _, p := range pubs {
			r.reconcile(p, recipient)
		}
	}
	return reg, nil
}

// Unregister removes reg. Unknown handles are ignored. Removing the last
// listener unsubscribes the recipient everywhere.
func (r *Registry) Unregister(recipient string, reg *Registration) {
	r.mu.Lock()
	regs, ok := r.listeners[recipient]
	if !ok {
		r.mu.Unlock()
		return
	}
	for i, existing := range regs {
		if existing == reg {
			regs = append(regs[:i:i], regs[i+1:]...)
			break
		}
	}
	if len(regs) > 0 {
		r.listeners[recipient] = regs
		r.mu.Unlock()
		return
	}
	delete(r.listeners, recipient)
	r.metrics.SetGauge(metrics.Recipients, float64(len(r.listeners)))
	pubs := r.snapshotPublishers()
	r.mu.Unlock()

	r.logger.Debugf("Unsubscribing from notifications for %s", recipient)
	for _, p := range pubs {
		r.reconcile(p, recipient)
	}
}

// Route parses a wire message and hands its payload to every listener of the
// recipient, in registration order.
func (r *Registry) Route(raw []byte) {
	msg, err := ParseMessage(raw)
	if err != nil {
		r.logger.Warnf("Dropping wire message %q: %v", raw, err)
		r.metrics.IncCounter(metrics.MessagesBad, 1)
		return
	}

	r.mu.Lock()
	regs := append([]*Registration(nil), r.listeners[msg.Recipient]...)
	r.mu.Unlock()

	if len(regs) == 0 {
		// the recipient went away while the message was in flight
		r.logger.Debugf("No listeners for %s, dropping message", msg.Recipient)
		r.metrics.IncCounter(metrics.MessagesUnrouted, 1)
		return
	}
	for _, reg := range regs {
		reg.callback(msg.Payload)
	}
	r.metrics.IncCounter(metrics.MessagesRouted, 1)
}

// must hold r.mu
func (r *Registry) snapshotPublishers() []*publisher {
	out := make([]*publisher, 0, len(r.order))
	for _, addr := range r.order {
		out = append(out, r.publishers[addr])
	}
	return out
}

func (r *Registry) wanted(recipient string) (want, closed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listeners[recipient]) > 0, r.closed
}

// reconcile makes the subscription of recipient on p match the listener
// state read under p.mu. Every listener change is followed by a reconcile,
// and they serialize on p.mu, so the last one to run sees the final state.
func (r *Registry) reconcile(p *publisher, recipient string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	want, closed := r.wanted(recipient)
	if closed {
		return
	}
	sub, have := p.subscribers[recipient]
	switch {
	case want && !have:
		sub, err := p.bus.Subscribe(r.Subject(recipient), r.Route)
		if err != nil {
			r.logger.Errorf("Failed to subscribe %s on %s: %v", recipient, p.address, err)
			return
		}
		p.subscribers[recipient] = sub
	case !want && have:
		if err := sub.Close(); err != nil {
			r.logger.Warnf("Failed to unsubscribe %s on %s: %v", recipient, p.address, err)
		}
		delete(p.subscribers, recipient)
	}
}

// Publishers returns the known publisher addresses in discovery order.
func (r *Registry) Publishers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// Recipients returns the recipients with listeners, sorted.
func (r *Registry) Recipients() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.listeners))
	for recipient := range r.listeners {
		out = append(out, recipient)
	}
	sort.Strings(out)
	return out
}

// Listeners returns how many registrations recipient has.
func (r *Registry) Listeners(recipient string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listeners[recipient])
}

// Subscribed reports whether recipient is subscribed on the publisher at address.
func (r *Registry) Subscribed(address, recipient string) bool {
	r.mu.Lock()
	p, ok := r.publishers[address]
	r.mu.Unlock()
	if !ok {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok = p.subscribers[recipient]
	return ok
}

// Close drops every publisher connection. Registrations are discarded.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	pubs := r.snapshotPublishers()
	r.listeners = make(map[string][]*Registration)
	r.metrics.SetGauge(metrics.Publishers, 0)
	r.metrics.SetGauge(metrics.Recipients, 0)
	r.mu.Unlock()

	var firstErr error
	for _, p := range pubs {
		if err := p.bus.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
