// Package sub contains the live query subscription multiplexer.
//
// A view attaches one handle per (collection, filter, order) tuple and
// re-renders from the latest delivered full snapshot; the multiplexer owns
// the underlying store subscription lifecycle in step with the view.
package sub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/SocialGold-net/aurum/internal/storage"
)

var log = logrus.WithField("package", "sub")

// State of a live query.
type State int32

const (
	// Detached ...
	Detached State = iota
	// Attaching means the store subscription is issued but the first
	// snapshot has not arrived yet.
	Attaching
	// Live ...
	Live
	// Errored means an unexpected delivery error was surfaced to the
	// observer and the subscription is dead.
	Errored
)

func (s State) String() string {
	switch s {
	case Detached:
		return "detached"
	case Attaching:
		return "attaching"
	case Live:
		return "live"
	case Errored:
		return "errored"
	}

	return fmt.Sprintf("state(%d)", int32(s))
}

// Observer receives deliveries for one live query. Every OnSnapshot call
// carries the complete current result set and replaces the previous one.
type Observer interface {
	OnSnapshot(docs []storage.Document)
	OnError(err error)
}

// Multiplexer maintains at most one live subscription per query key.
type Multiplexer struct {
	s storage.Storage

	mu      sync.Mutex
	handles map[string]*Handle
}

// New creates new instance of Multiplexer.
func New(s storage.Storage) *Multiplexer {
	return &Multiplexer{
		s:       s,
		handles: make(map[string]*Handle),
	}
}

// Attach ensures a live subscription for q delivering to o. Attaching a query
// that is already attached returns the existing handle; o is ignored then.
func (m *Multiplexer) Attach(ctx context.Context, q storage.Query, o Observer) (*Handle, error) {
	key := q.Key()

	m.mu.Lock()
	if h, ok := m.handles[key]; ok {
		m.mu.Unlock()
		return h, nil
	}
	m.mu.Unlock()

	sub, err := m.s.Subscribe(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	h := &Handle{
		key:   key,
		m:     m,
		sub:   sub,
		o:     o,
		quit:  make(chan struct{}),
		state: int32(Attaching),
	}

	m.mu.Lock()
	if existing, ok := m.handles[key]; ok {
		// lost the race to another observer of the same query
		m.mu.Unlock()
		sub.Close()
		return existing, nil
	}
	m.handles[key] = h
	m.mu.Unlock()

	go h.run()

	return h, nil
}

func (m *Multiplexer) remove(key string) {
	m.mu.Lock()
	delete(m.handles, key)
	m.mu.Unlock()
}

// Handle is an owned live query. Views must Detach on unmount.
type Handle struct {
	key string
	m   *Multiplexer
	sub storage.Subscription
	o   Observer

	quit  chan struct{}
	state int32

	// mu serializes observer callbacks against Detach so a delivery racing
	// with unmount is discarded, never applied to torn-down state
	mu       sync.Mutex
	detached bool
}

// State ...
func (h *Handle) State() State {
	return State(atomic.LoadInt32(&h.state))
}

func (h *Handle) run() {
	for {
		select {
		case <-h.quit:
			return
		case docs := <-h.sub.Snapshots():
			h.deliver(docs)
		case err := <-h.sub.Errs():
			if errors.Is(err, storage.ErrPermissionDenied) {
				// expected when the viewer's session ends mid-subscription
				log.WithField("query", h.key).WithError(err).Debug("suppressed delivery error")
				continue
			}

			h.fail(err)
			return
		}
	}
}

func (h *Handle) deliver(docs []storage.Document) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.detached {
		return
	}

	atomic.StoreInt32(&h.state, int32(Live))
	h.o.OnSnapshot(docs)
}

func (h *Handle) fail(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.detached {
		return
	}

	atomic.StoreInt32(&h.state, int32(Errored))
	h.sub.Close()
	h.m.remove(h.key)
	h.o.OnError(err)
}

// Detach releases the underlying store subscription. It is synchronous: once
// it returns no further observer callback is made. It must not be called
// from inside an observer callback.
func (h *Handle) Detach() {
	h.mu.Lock()
	if h.detached {
		h.mu.Unlock()
		return
	}
	h.detached = true
	atomic.StoreInt32(&h.state, int32(Detached))
	h.mu.Unlock()

	close(h.quit)
	h.sub.Close()
	h.m.remove(h.key)
}
