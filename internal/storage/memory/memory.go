// Package memory is an in-process implementation of the storage contract.
//
// It keeps full store semantics: server-assigned monotonic timestamps,
// ordered queries, set-semantics array mutations and full-snapshot push
// subscriptions. It backs unit tests and the --storage=memory server mode.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/SocialGold-net/aurum/internal/storage"
)

type refKey struct {
	parent string
	id     string
}

type doc struct {
	id        string
	parent    string
	data      map[string]interface{}
	createdAt time.Time
	updatedAt time.Time
	seq       uint64
	updSeq    uint64
}

// Storage ...
type Storage struct {
	mu   sync.Mutex
	seq  uint64
	last time.Time
	docs map[storage.Collection]map[refKey]*doc
	subs map[*subscription]struct{}
}

// New creates new instance of Storage.
func New() *Storage {
	return &Storage{
		docs: make(map[storage.Collection]map[refKey]*doc),
		subs: make(map[*subscription]struct{}),
	}
}

// Ping ...
func (s *Storage) Ping(_ context.Context) error {
	return nil
}

// now returns a strictly increasing server-side timestamp.
func (s *Storage) now() time.Time {
	t := time.Now().UTC()
	if !t.After(s.last) {
		t = s.last.Add(time.Nanosecond)
	}
	s.last = t

	return t
}

func toMap(data interface{}) (map[string]interface{}, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal data: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal data: %w", err)
	}

	return m, nil
}

// Create ...
func (s *Storage) Create(_ context.Context, c storage.Collection, parent string, data interface{}) (*storage.Document, error) {
	m, err := toMap(data)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.seq++
	d := &doc{
		id:        fmt.Sprintf("%016x", s.seq),
		parent:    parent,
		data:      m,
		createdAt: s.now(),
		seq:       s.seq,
		updSeq:    s.seq,
	}
	d.updatedAt = d.createdAt

	if s.docs[c] == nil {
		s.docs[c] = make(map[refKey]*doc)
	}
	s.docs[c][refKey{parent: parent, id: d.id}] = d

	out := s.document(d)
	s.notify(c)
	s.mu.Unlock()

	return out, nil
}

// Set ...
func (s *Storage) Set(_ context.Context, ref storage.Ref, data interface{}) error {
	m, err := toMap(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++

	if s.docs[ref.Collection] == nil {
		s.docs[ref.Collection] = make(map[refKey]*doc)
	}

	k := refKey{parent: ref.Parent, id: ref.ID}
	if d, ok := s.docs[ref.Collection][k]; ok {
		d.data = m
		d.updatedAt = s.now()
		d.updSeq = s.seq
	} else {
		d := &doc{
			id:        ref.ID,
			parent:    ref.Parent,
			data:      m,
			createdAt: s.now(),
			seq:       s.seq,
			updSeq:    s.seq,
		}
		d.updatedAt = d.createdAt
		s.docs[ref.Collection][k] = d
	}

	s.notify(ref.Collection)

	return nil
}

// Get ...
func (s *Storage) Get(_ context.Context, ref storage.Ref) (*storage.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[ref.Collection][refKey{parent: ref.Parent, id: ref.ID}]
	if !ok {
		return nil, storage.ErrNotFound
	}

	return s.document(d), nil
}

// List ...
func (s *Storage) List(_ context.Context, q storage.Query) ([]storage.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.list(q), nil
}

// Delete ...
func (s *Storage) Delete(_ context.Context, ref storage.Ref) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := refKey{parent: ref.Parent, id: ref.ID}
	if _, ok := s.docs[ref.Collection][k]; !ok {
		return storage.ErrNotFound
	}

	delete(s.docs[ref.Collection], k)
	s.notify(ref.Collection)

	return nil
}

// SetFields ...
func (s *Storage) SetFields(_ context.Context, ref storage.Ref, fields map[string]interface{}) error {
	m, err := toMap(fields)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[ref.Collection][refKey{parent: ref.Parent, id: ref.ID}]
	if !ok {
		return storage.ErrNotFound
	}

	for k, v := range m {
		d.data[k] = v
	}
	s.touch(d)
	s.notify(ref.Collection)

	return nil
}

// ArrayUnion ...
func (s *Storage) ArrayUnion(_ context.Context, ref storage.Ref, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[ref.Collection][refKey{parent: ref.Parent, id: ref.ID}]
	if !ok {
		return storage.ErrNotFound
	}

	arr, _ := d.data[field].([]interface{})
	for _, v := range arr {
		if v == value {
			// set semantics absorb the duplicate add
			return nil
		}
	}

	d.data[field] = append(arr, value)
	s.touch(d)
	s.notify(ref.Collection)

	return nil
}

// ArrayRemove ...
func (s *Storage) ArrayRemove(_ context.Context, ref storage.Ref, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[ref.Collection][refKey{parent: ref.Parent, id: ref.ID}]
	if !ok {
		return storage.ErrNotFound
	}

	arr, _ := d.data[field].([]interface{})
	out := make([]interface{}, 0, len(arr))
	removed := false
	for _, v := range arr {
		if v == value {
			removed = true
			continue
		}
		out = append(out, v)
	}

	if !removed {
		return nil
	}

	d.data[field] = out
	s.touch(d)
	s.notify(ref.Collection)

	return nil
}

func (s *Storage) touch(d *doc) {
	s.seq++
	d.updatedAt = s.now()
	d.updSeq = s.seq
}

func (s *Storage) document(d *doc) *storage.Document {
	b, err := json.Marshal(d.data)
	if err != nil {
		// data came through json once already
		panic(err)
	}

	return &storage.Document{
		ID:        d.id,
		Parent:    d.parent,
		Data:      b,
		CreatedAt: d.createdAt,
		UpdatedAt: d.updatedAt,
	}
}

func matches(d *doc, f *storage.Filter) bool {
	if f == nil {
		return true
	}

	if f.Equals != "" {
		v, _ := d.data[f.Field].(string)
		return v == f.Equals
	}

	arr, _ := d.data[f.Field].([]interface{})
	for _, v := range arr {
		if v == f.Contains {
			return true
		}
	}

	return false
}

// list computes the full current result of q. Callers hold s.mu.
func (s *Storage) list(q storage.Query) []storage.Document {
	var out []*doc
	for k, d := range s.docs[q.Collection] {
		if q.Parent != "" && k.parent != q.Parent {
			continue
		}
		if !matches(d, q.Filter) {
			continue
		}
		out = append(out, d)
	}

	byUpdate := q.OrderBy == storage.LastUpdateField
	desc := q.Order == storage.DescendingOrder

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].seq, out[j].seq
		if byUpdate {
			a, b = out[i].updSeq, out[j].updSeq
		}
		if desc {
			return a > b
		}
		return a < b
	})

	docs := make([]storage.Document, len(out))
	for i, d := range out {
		docs[i] = *s.document(d)
	}

	return docs
}

type subscription struct {
	s *Storage
	q storage.Query

	snapshots chan []storage.Document
	errs      chan error

	mu     sync.Mutex
	closed bool
}

// Subscribe delivers the current result immediately and a fresh full
// snapshot after every mutation of the subscribed collection.
func (s *Storage) Subscribe(_ context.Context, q storage.Query) (storage.Subscription, error) {
	sub := &subscription{
		s:         s,
		q:         q,
		snapshots: make(chan []storage.Document, 1),
		errs:      make(chan error, 1),
	}

	s.mu.Lock()
	s.subs[sub] = struct{}{}
	sub.deliver(s.list(q))
	s.mu.Unlock()

	return sub, nil
}

// notify recomputes and delivers snapshots for every subscription on the
// mutated collection. Callers hold s.mu, so deliveries are serialized and
// each one reflects a consistent point-in-time result.
func (s *Storage) notify(c storage.Collection) {
	for sub := range s.subs {
		if sub.q.Collection != c {
			continue
		}
		sub.deliver(s.list(sub.q))
	}
}

func (sub *subscription) deliver(docs []storage.Document) {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	if sub.closed {
		return
	}

	// latest snapshot wins; a slow consumer only ever sees ground truth
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
	sub.closed = true
	sub.mu.Unlock()

	sub.s.mu.Lock()
	delete(sub.s.subs, sub)
	sub.s.mu.Unlock()
}
