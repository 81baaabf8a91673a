// Package reconciler repairs one-sided follow edges.
//
// A follow or unfollow is two independent single-document writes, so a crash
// between them leaves the followers/following invariant violated. The
// reconciler periodically sweeps the users collection and applies the
// missing compensating write.
package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/SocialGold-net/aurum/internal/entities"
	"github.com/SocialGold-net/aurum/internal/storage"
)

var log = logrus.WithField("package", "reconciler")

// Reconciler ...
type Reconciler interface {
	Run(ctx context.Context) error
}

type reconciler struct {
	s        storage.Storage
	interval time.Duration
}

// New creates new instance of reconciler.
func New(s storage.Storage, interval time.Duration) Reconciler {
	return reconciler{
		s:        s,
		interval: interval,
	}
}

// Run sweeps on every interval tick until ctx is done. Sweep failures are
// logged and retried on the next tick.
func (r reconciler) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := r.Sweep(ctx); err != nil {
				log.WithError(err).Error("failed to reconcile follow edges")
			}
		}
	}
}

// Sweep repairs every one-sided follow edge visible in one read of the users
// collection. The following side is written first by the mutator, so it is
// authoritative: a missing followers half is completed, an orphaned
// followers entry is removed.
func (r reconciler) Sweep(ctx context.Context) error {
	docs, err := r.s.List(ctx, storage.Query{
		Collection: storage.Users,
		OrderBy:    storage.CreatedAtField,
		Order:      storage.AscendingOrder,
	})
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	users := make(map[string]*entities.User, len(docs))
	for _, doc := range docs {
		u, err := entities.DecodeUser(doc.ID, doc.Data)
		if err != nil {
			log.WithField("id", doc.ID).WithError(err).Warn("skipping malformed user document")
			continue
		}
		users[u.UID] = u
	}

	for _, u := range users {
		for _, target := range u.Following {
			t, ok := users[target]
			if !ok || t.Followers.Has(u.UID) {
				continue
			}

			if err := r.s.ArrayUnion(ctx, storage.Ref{Collection: storage.Users, ID: target}, "followers", u.UID); err != nil {
				return fmt.Errorf("failed to complete follow edge %s->%s: %w", u.UID, target, err)
			}

			log.WithField("follower", u.UID).WithField("target", target).Info("completed one-sided follow edge")
		}

		for _, follower := range u.Followers {
			f, ok := users[follower]
			if !ok || f.Following.Has(u.UID) {
				continue
			}

			if err := r.s.ArrayRemove(ctx, storage.Ref{Collection: storage.Users, ID: u.UID}, "followers", follower); err != nil {
				return fmt.Errorf("failed to remove orphaned follower %s of %s: %w", follower, u.UID, err)
			}

			log.WithField("follower", follower).WithField("target", u.UID).Info("removed orphaned follower entry")
		}
	}

	return nil
}
