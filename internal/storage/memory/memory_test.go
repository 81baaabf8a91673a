package memory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SocialGold-net/aurum/internal/storage"
)

var ctx = context.Background()

func TestStorage_CreateGet(t *testing.T) {
	s := New()

	doc, err := s.Create(ctx, storage.Posts, "", map[string]interface{}{"content": "hi"})
	require.NoError(t, err)
	require.NotEmpty(t, doc.ID)
	require.False(t, doc.CreatedAt.IsZero())
	assert.Equal(t, doc.CreatedAt, doc.UpdatedAt)

	got, err := s.Get(ctx, storage.Ref{Collection: storage.Posts, ID: doc.ID})
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.ID)
	assert.JSONEq(t, `{"content":"hi"}`, string(got.Data))

	_, err = s.Get(ctx, storage.Ref{Collection: storage.Posts, ID: "missing"})
	require.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestStorage_Set(t *testing.T) {
	s := New()

	ref := storage.Ref{Collection: storage.Users, ID: "u1"}
	require.NoError(t, s.Set(ctx, ref, map[string]interface{}{"username": "hello"}))

	doc, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.JSONEq(t, `{"username":"hello"}`, string(doc.Data))

	// overwrite keeps the id and creation time
	require.NoError(t, s.Set(ctx, ref, map[string]interface{}{"username": "world"}))

	got, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.JSONEq(t, `{"username":"world"}`, string(got.Data))
	assert.Equal(t, doc.CreatedAt, got.CreatedAt)
	assert.True(t, got.UpdatedAt.After(doc.UpdatedAt))
}

func TestStorage_Delete(t *testing.T) {
	s := New()

	doc, err := s.Create(ctx, storage.Posts, "", map[string]interface{}{"content": "hi"})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, storage.Ref{Collection: storage.Posts, ID: doc.ID}))
	require.True(t, errors.Is(s.Delete(ctx, storage.Ref{Collection: storage.Posts, ID: doc.ID}), storage.ErrNotFound))

	_, err = s.Get(ctx, storage.Ref{Collection: storage.Posts, ID: doc.ID})
	require.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestStorage_SetFields(t *testing.T) {
	s := New()

	doc, err := s.Create(ctx, storage.Chats, "", map[string]interface{}{
		"participants": []string{"u1", "u2"},
		"lastMessage":  "hi",
	})
	require.NoError(t, err)

	ref := storage.Ref{Collection: storage.Chats, ID: doc.ID}
	require.NoError(t, s.SetFields(ctx, ref, map[string]interface{}{"lastMessage": "bye"}))

	got, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.JSONEq(t, `{"participants":["u1","u2"],"lastMessage":"bye"}`, string(got.Data))

	require.True(t, errors.Is(
		s.SetFields(ctx, storage.Ref{Collection: storage.Chats, ID: "missing"}, map[string]interface{}{"a": "b"}),
		storage.ErrNotFound,
	))
}

func likes(t *testing.T, s *Storage, ref storage.Ref) []string {
	t.Helper()

	doc, err := s.Get(ctx, ref)
	require.NoError(t, err)

	var m struct {
		Likes []string `json:"likes"`
	}
	require.NoError(t, json.Unmarshal(doc.Data, &m))

	return m.Likes
}

func TestStorage_ArrayUnion(t *testing.T) {
	s := New()

	doc, err := s.Create(ctx, storage.Posts, "", map[string]interface{}{"likes": []string{}})
	require.NoError(t, err)
	ref := storage.Ref{Collection: storage.Posts, ID: doc.ID}

	require.NoError(t, s.ArrayUnion(ctx, ref, "likes", "u1"))
	assert.Equal(t, []string{"u1"}, likes(t, s, ref))

	// adding a present value is a no-op
	require.NoError(t, s.ArrayUnion(ctx, ref, "likes", "u1"))
	assert.Equal(t, []string{"u1"}, likes(t, s, ref))

	require.NoError(t, s.ArrayUnion(ctx, ref, "likes", "u2"))
	assert.Equal(t, []string{"u1", "u2"}, likes(t, s, ref))

	require.True(t, errors.Is(
		s.ArrayUnion(ctx, storage.Ref{Collection: storage.Posts, ID: "missing"}, "likes", "u1"),
		storage.ErrNotFound,
	))
}

func TestStorage_ArrayRemove(t *testing.T) {
	s := New()

	doc, err := s.Create(ctx, storage.Posts, "", map[string]interface{}{"likes": []string{"u1", "u2"}})
	require.NoError(t, err)
	ref := storage.Ref{Collection: storage.Posts, ID: doc.ID}

	require.NoError(t, s.ArrayRemove(ctx, ref, "likes", "u1"))
	assert.Equal(t, []string{"u2"}, likes(t, s, ref))

	// removing an absent value is a no-op
	require.NoError(t, s.ArrayRemove(ctx, ref, "likes", "u1"))
	assert.Equal(t, []string{"u2"}, likes(t, s, ref))

	require.True(t, errors.Is(
		s.ArrayRemove(ctx, storage.Ref{Collection: storage.Posts, ID: "missing"}, "likes", "u1"),
		storage.ErrNotFound,
	))
}

// Concurrent toggles commute: every add lands exactly once, every remove
// removes exactly one value, so a like-then-unlike always nets to absent.
func TestStorage_ToggleConvergence(t *testing.T) {
	s := New()

	doc, err := s.Create(ctx, storage.Posts, "", map[string]interface{}{"likes": []string{}})
	require.NoError(t, err)
	ref := storage.Ref{Collection: storage.Posts, ID: doc.ID}

	require.NoError(t, s.ArrayUnion(ctx, ref, "likes", "u1"))
	require.NoError(t, s.ArrayUnion(ctx, ref, "likes", "u2"))
	require.NoError(t, s.ArrayRemove(ctx, ref, "likes", "u1"))
	assert.ElementsMatch(t, []string{"u2"}, likes(t, s, ref))
}

func TestStorage_List(t *testing.T) {
	s := New()

	a, err := s.Create(ctx, storage.Posts, "", map[string]interface{}{"uid": "u1", "content": "a"})
	require.NoError(t, err)
	b, err := s.Create(ctx, storage.Posts, "", map[string]interface{}{"uid": "u2", "content": "b"})
	require.NoError(t, err)
	c, err := s.Create(ctx, storage.Posts, "", map[string]interface{}{"uid": "u1", "content": "c"})
	require.NoError(t, err)

	newestFirst, err := s.List(ctx, storage.Query{
		Collection: storage.Posts,
		OrderBy:    storage.CreatedAtField,
		Order:      storage.DescendingOrder,
	})
	require.NoError(t, err)
	require.Len(t, newestFirst, 3)
	assert.Equal(t, []string{c.ID, b.ID, a.ID}, ids(newestFirst))

	oldestFirst, err := s.List(ctx, storage.Query{
		Collection: storage.Posts,
		OrderBy:    storage.CreatedAtField,
		Order:      storage.AscendingOrder,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID, b.ID, c.ID}, ids(oldestFirst))

	byAuthor, err := s.List(ctx, storage.Query{
		Collection: storage.Posts,
		Filter:     &storage.Filter{Field: "uid", Equals: "u1"},
		OrderBy:    storage.CreatedAtField,
		Order:      storage.DescendingOrder,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{c.ID, a.ID}, ids(byAuthor))
}

func TestStorage_ListContains(t *testing.T) {
	s := New()

	a, err := s.Create(ctx, storage.Chats, "", map[string]interface{}{"participants": []string{"u1", "u2"}})
	require.NoError(t, err)
	_, err = s.Create(ctx, storage.Chats, "", map[string]interface{}{"participants": []string{"u2", "u3"}})
	require.NoError(t, err)
	b, err := s.Create(ctx, storage.Chats, "", map[string]interface{}{"participants": []string{"u3", "u1"}})
	require.NoError(t, err)

	// lastUpdate ordering follows mutation recency, so touching a moves it up
	require.NoError(t, s.SetFields(ctx, storage.Ref{Collection: storage.Chats, ID: a.ID}, map[string]interface{}{
		"lastMessage": "hi",
	}))

	docs, err := s.List(ctx, storage.Query{
		Collection: storage.Chats,
		Filter:     &storage.Filter{Field: "participants", Contains: "u1"},
		OrderBy:    storage.LastUpdateField,
		Order:      storage.DescendingOrder,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID, b.ID}, ids(docs))
}

func TestStorage_ListParent(t *testing.T) {
	s := New()

	a, err := s.Create(ctx, storage.Comments, "p1", map[string]interface{}{"content": "a"})
	require.NoError(t, err)
	_, err = s.Create(ctx, storage.Comments, "p2", map[string]interface{}{"content": "b"})
	require.NoError(t, err)
	c, err := s.Create(ctx, storage.Comments, "p1", map[string]interface{}{"content": "c"})
	require.NoError(t, err)

	docs, err := s.List(ctx, storage.Query{
		Collection: storage.Comments,
		Parent:     "p1",
		OrderBy:    storage.CreatedAtField,
		Order:      storage.AscendingOrder,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID, c.ID}, ids(docs))
}

func TestStorage_Subscribe(t *testing.T) {
	s := New()

	_, err := s.Create(ctx, storage.Posts, "", map[string]interface{}{"uid": "u1", "content": "a"})
	require.NoError(t, err)

	sub, err := s.Subscribe(ctx, storage.Query{
		Collection: storage.Posts,
		OrderBy:    storage.CreatedAtField,
		Order:      storage.DescendingOrder,
	})
	require.NoError(t, err)
	defer sub.Close()

	// initial snapshot arrives without any mutation
	docs := waitSnapshot(t, sub)
	require.Len(t, docs, 1)

	b, err := s.Create(ctx, storage.Posts, "", map[string]interface{}{"uid": "u2", "content": "b"})
	require.NoError(t, err)

	docs = waitSnapshot(t, sub)
	require.Len(t, docs, 2)
	assert.Equal(t, b.ID, docs[0].ID)

	// mutations of other collections are not delivered
	_, err = s.Create(ctx, storage.Users, "", map[string]interface{}{"username": "hello"})
	require.NoError(t, err)

	select {
	case docs := <-sub.Snapshots():
		t.Fatalf("unexpected snapshot of %d documents", len(docs))
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStorage_SubscribeLatestWins(t *testing.T) {
	s := New()

	sub, err := s.Subscribe(ctx, storage.Query{
		Collection: storage.Posts,
		OrderBy:    storage.CreatedAtField,
		Order:      storage.DescendingOrder,
	})
	require.NoError(t, err)
	defer sub.Close()

	// nobody reads between these mutations; only the freshest snapshot may
	// be delivered
	for i := 0; i < 5; i++ {
		_, err := s.Create(ctx, storage.Posts, "", map[string]interface{}{"uid": "u1", "content": "x"})
		require.NoError(t, err)
	}

	docs := waitSnapshot(t, sub)
	assert.Len(t, docs, 5)
}

func TestStorage_SubscribeClose(t *testing.T) {
	s := New()

	sub, err := s.Subscribe(ctx, storage.Query{
		Collection: storage.Posts,
		OrderBy:    storage.CreatedAtField,
		Order:      storage.DescendingOrder,
	})
	require.NoError(t, err)

	waitSnapshot(t, sub)
	sub.Close()

	_, err = s.Create(ctx, storage.Posts, "", map[string]interface{}{"uid": "u1", "content": "a"})
	require.NoError(t, err)

	select {
	case docs := <-sub.Snapshots():
		t.Fatalf("delivery after close: %d documents", len(docs))
	case <-time.After(50 * time.Millisecond):
	}

	// closing twice is fine
	sub.Close()
}

func ids(docs []storage.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}

	return out
}

func waitSnapshot(t *testing.T, sub storage.Subscription) []storage.Document {
	t.Helper()

	select {
	case docs := <-sub.Snapshots():
		return docs
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}
