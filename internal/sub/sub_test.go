package sub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SocialGold-net/aurum/internal/storage"
	"github.com/SocialGold-net/aurum/internal/storage/memory"
)

var ctx = context.Background()

type recordingObserver struct {
	mu        sync.Mutex
	snapshots [][]storage.Document
	errs      []error

	delivered chan struct{}
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		delivered: make(chan struct{}, 16),
	}
}

func (o *recordingObserver) OnSnapshot(docs []storage.Document) {
	o.mu.Lock()
	o.snapshots = append(o.snapshots, docs)
	o.mu.Unlock()

	o.delivered <- struct{}{}
}

func (o *recordingObserver) OnError(err error) {
	o.mu.Lock()
	o.errs = append(o.errs, err)
	o.mu.Unlock()

	o.delivered <- struct{}{}
}

func (o *recordingObserver) wait(t *testing.T) {
	t.Helper()

	select {
	case <-o.delivered:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func (o *recordingObserver) last(t *testing.T) []storage.Document {
	t.Helper()

	o.mu.Lock()
	defer o.mu.Unlock()

	require.NotEmpty(t, o.snapshots)
	return o.snapshots[len(o.snapshots)-1]
}

func feedQuery() storage.Query {
	return storage.Query{
		Collection: storage.Posts,
		OrderBy:    storage.CreatedAtField,
		Order:      storage.DescendingOrder,
	}
}

func TestMultiplexer_Attach(t *testing.T) {
	s := memory.New()
	m := New(s)

	_, err := s.Create(ctx, storage.Posts, "", map[string]interface{}{"content": "a"})
	require.NoError(t, err)

	o := newRecordingObserver()

	h, err := m.Attach(ctx, feedQuery(), o)
	require.NoError(t, err)
	defer h.Detach()

	o.wait(t)
	assert.Equal(t, Live, h.State())
	assert.Len(t, o.last(t), 1)

	// every delivery replaces the previous result wholesale
	_, err = s.Create(ctx, storage.Posts, "", map[string]interface{}{"content": "b"})
	require.NoError(t, err)

	o.wait(t)
	assert.Len(t, o.last(t), 2)
}

func TestMultiplexer_AttachDedup(t *testing.T) {
	s := memory.New()
	m := New(s)

	o := newRecordingObserver()

	h1, err := m.Attach(ctx, feedQuery(), o)
	require.NoError(t, err)
	defer h1.Detach()

	// same key attaches to the existing handle, the second observer is not
	// wired
	h2, err := m.Attach(ctx, feedQuery(), newRecordingObserver())
	require.NoError(t, err)

	assert.Same(t, h1, h2)

	// a different key gets its own handle
	q := feedQuery()
	q.Filter = &storage.Filter{Field: "uid", Equals: "u1"}

	h3, err := m.Attach(ctx, q, newRecordingObserver())
	require.NoError(t, err)
	defer h3.Detach()

	assert.NotSame(t, h1, h3)
}

func TestHandle_Detach(t *testing.T) {
	s := memory.New()
	m := New(s)

	o := newRecordingObserver()

	h, err := m.Attach(ctx, feedQuery(), o)
	require.NoError(t, err)

	o.wait(t)
	h.Detach()
	assert.Equal(t, Detached, h.State())

	// a mutation after detach must not reach the observer
	_, err = s.Create(ctx, storage.Posts, "", map[string]interface{}{"content": "a"})
	require.NoError(t, err)

	select {
	case <-o.delivered:
		t.Fatal("delivery after detach")
	case <-time.After(50 * time.Millisecond):
	}

	// detaching twice is fine
	h.Detach()

	// the key is free again
	h2, err := m.Attach(ctx, feedQuery(), newRecordingObserver())
	require.NoError(t, err)
	defer h2.Detach()

	assert.NotSame(t, h, h2)
}

// fakeSub is a hand-driven subscription for error path tests.
type fakeSub struct {
	snapshots chan []storage.Document
	errs      chan error

	mu     sync.Mutex
	closed bool
}

func newFakeSub() *fakeSub {
	return &fakeSub{
		snapshots: make(chan []storage.Document, 1),
		errs:      make(chan error, 1),
	}
}

func (f *fakeSub) Snapshots() <-chan []storage.Document { return f.snapshots }
func (f *fakeSub) Errs() <-chan error                   { return f.errs }

func (f *fakeSub) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeSub) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.closed
}

type fakeStorage struct {
	*memory.Storage

	sub *fakeSub
}

func (f *fakeStorage) Subscribe(_ context.Context, _ storage.Query) (storage.Subscription, error) {
	return f.sub, nil
}

func TestHandle_PermissionDeniedSuppressed(t *testing.T) {
	fake := &fakeStorage{Storage: memory.New(), sub: newFakeSub()}
	m := New(fake)

	o := newRecordingObserver()

	h, err := m.Attach(ctx, feedQuery(), o)
	require.NoError(t, err)
	defer h.Detach()

	fake.sub.errs <- storage.ErrPermissionDenied

	// the handle stays up and keeps delivering
	fake.sub.snapshots <- []storage.Document{{ID: "p1"}}
	o.wait(t)

	assert.Equal(t, Live, h.State())
	assert.Len(t, o.last(t), 1)

	o.mu.Lock()
	assert.Empty(t, o.errs)
	o.mu.Unlock()
}

func TestHandle_Errored(t *testing.T) {
	fake := &fakeStorage{Storage: memory.New(), sub: newFakeSub()}
	m := New(fake)

	o := newRecordingObserver()

	h, err := m.Attach(ctx, feedQuery(), o)
	require.NoError(t, err)

	errTest := errors.New("test")
	fake.sub.errs <- errTest

	o.wait(t)
	assert.Equal(t, Errored, h.State())
	assert.True(t, fake.sub.isClosed())

	o.mu.Lock()
	require.Len(t, o.errs, 1)
	assert.True(t, errors.Is(o.errs[0], errTest))
	o.mu.Unlock()

	// the dead handle no longer occupies the key
	h2, err := m.Attach(ctx, feedQuery(), newRecordingObserver())
	require.NoError(t, err)
	defer h2.Detach()

	assert.NotSame(t, h, h2)
}
