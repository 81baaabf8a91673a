package postgres

import (
	"context"
	"sync"

	"github.com/SocialGold-net/aurum/internal/storage"
)

type subscription struct {
	s *pg
	q storage.Query

	snapshots chan []storage.Document
	errs      chan error

	kick chan struct{}
	quit chan struct{}

	mu     sync.Mutex
	closed bool
}

// Subscribe delivers the current query result immediately and a fresh full
// snapshot after every change notification for the subscribed collection.
func (s *pg) Subscribe(ctx context.Context, q storage.Query) (storage.Subscription, error) {
	sub := &subscription{
		s:         s,
		q:         q,
		snapshots: make(chan []storage.Document, 1),
		errs:      make(chan error, 1),
		kick:      make(chan struct{}, 1),
		quit:      make(chan struct{}),
	}

	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	sub.kick <- struct{}{}
	go sub.run()

	return sub, nil
}

// dispatch fans NOTIFY payloads (the mutated collection name) out to
// subscriptions. A nil notification means the listener reconnected and may
// have missed events, so every subscription refreshes.
func (s *pg) dispatch() {
	for n := range s.listener.Notify {
		s.mu.Lock()
		for sub := range s.subs {
			if n == nil || string(sub.q.Collection) == n.Extra {
				select {
				case sub.kick <- struct{}{}:
				default:
				}
			}
		}
		s.mu.Unlock()
	}
}

// run serializes query refreshes so deliveries stay monotonic: each snapshot
// reflects the store at or after the notification that triggered it.
func (sub *subscription) run() {
	for {
		select {
		case <-sub.quit:
			return
		case <-sub.kick:
			docs, err := sub.s.List(context.Background(), sub.q)
			if err != nil {
				sub.fail(err)
				continue
			}
			sub.deliver(docs)
		}
	}
}

func (sub *subscription) deliver(docs []storage.Document) {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	if sub.closed {
		return
	}

	// latest snapshot wins
	select {
	case sub.snapshots <- docs:
	default:
		select {
		case <-sub.snapshots:
		default:
		}
		sub.snapshots <- docs
	}
}

func (sub *subscription) fail(err error) {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	if sub.closed {
		return
	}

	select {
	case sub.errs <- err:
	default:
	}
}

// Snapshots ...
func (sub *subscription) Snapshots() <-chan []storage.Document {
	return sub.snapshots
}

// Errs ...
func (sub *subscription) Errs() <-chan error {
	return sub.errs
}

// Close ...
func (sub *subscription) Close() {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return
	}
	sub.closed = true
	close(sub.quit)
	sub.mu.Unlock()

	sub.s.mu.Lock()
	delete(sub.s.subs, sub)
	sub.s.mu.Unlock()
}
