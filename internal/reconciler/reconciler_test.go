package reconciler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SocialGold-net/aurum/internal/entities"
	"github.com/SocialGold-net/aurum/internal/storage"
	"github.com/SocialGold-net/aurum/internal/storage/memory"
)

var ctx = context.Background()

func setUser(t *testing.T, s *memory.Storage, u entities.User) {
	t.Helper()

	require.NoError(t, s.Set(ctx, storage.Ref{Collection: storage.Users, ID: u.UID}, u))
}

func getUser(t *testing.T, s *memory.Storage, uid string) *entities.User {
	t.Helper()

	doc, err := s.Get(ctx, storage.Ref{Collection: storage.Users, ID: uid})
	require.NoError(t, err)

	u, err := entities.DecodeUser(doc.ID, doc.Data)
	require.NoError(t, err)

	return u
}

func TestReconciler_Sweep_CompletesEdge(t *testing.T) {
	s := memory.New()

	// u1 follows u2, but the followers half of the edge never landed
	setUser(t, s, entities.User{UID: "u1", Username: "one", Following: entities.UIDSet{"u2"}})
	setUser(t, s, entities.User{UID: "u2", Username: "two"})

	r := New(s, 0).(reconciler)
	require.NoError(t, r.Sweep(ctx))

	assert.True(t, getUser(t, s, "u2").Followers.Has("u1"))
	assert.True(t, getUser(t, s, "u1").Following.Has("u2"))
}

func TestReconciler_Sweep_RemovesOrphan(t *testing.T) {
	s := memory.New()

	// u2 lists u1 as a follower, but u1 no longer follows anyone
	setUser(t, s, entities.User{UID: "u1", Username: "one"})
	setUser(t, s, entities.User{UID: "u2", Username: "two", Followers: entities.UIDSet{"u1"}})

	r := New(s, 0).(reconciler)
	require.NoError(t, r.Sweep(ctx))

	assert.False(t, getUser(t, s, "u2").Followers.Has("u1"))
}

func TestReconciler_Sweep_Converged(t *testing.T) {
	s := memory.New()

	setUser(t, s, entities.User{UID: "u1", Username: "one", Following: entities.UIDSet{"u2"}})
	setUser(t, s, entities.User{UID: "u2", Username: "two", Followers: entities.UIDSet{"u1"}})

	r := New(s, 0).(reconciler)
	require.NoError(t, r.Sweep(ctx))

	// a complete edge is left alone
	assert.Equal(t, entities.UIDSet{"u2"}, getUser(t, s, "u1").Following)
	assert.Equal(t, entities.UIDSet{"u1"}, getUser(t, s, "u2").Followers)
}

func TestReconciler_Sweep_UnknownTarget(t *testing.T) {
	s := memory.New()

	// following a vanished profile is out of scope for the sweep
	setUser(t, s, entities.User{UID: "u1", Username: "one", Following: entities.UIDSet{"ghost"}})

	r := New(s, 0).(reconciler)
	require.NoError(t, r.Sweep(ctx))

	assert.Equal(t, entities.UIDSet{"ghost"}, getUser(t, s, "u1").Following)
}

func TestReconciler_Sweep_MalformedUserSkipped(t *testing.T) {
	s := memory.New()

	require.NoError(t, s.Set(ctx, storage.Ref{Collection: storage.Users, ID: "broken"}, map[string]interface{}{
		"displayName": "no username",
	}))
	setUser(t, s, entities.User{UID: "u1", Username: "one", Following: entities.UIDSet{"u2"}})
	setUser(t, s, entities.User{UID: "u2", Username: "two"})

	r := New(s, 0).(reconciler)
	require.NoError(t, r.Sweep(ctx))

	assert.True(t, getUser(t, s, "u2").Followers.Has("u1"))
}
