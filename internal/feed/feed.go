// Package feed assembles renderable feed items from a posts snapshot.
package feed

import (
	"github.com/SocialGold-net/aurum/internal/entities"
)

// Item is a post with per-viewer flags derived at assembly time.
type Item struct {
	entities.Post
	HasLiked  bool
	IsOwner   bool
	LikeCount int
}

// Assemble derives per-viewer flags for a delivered posts snapshot. It is
// pure: no mutation, no I/O, and the snapshot's ordering is inherited
// verbatim.
func Assemble(posts []entities.Post, viewerUID string) []Item {
	out := make([]Item, len(posts))

	for i, p := range posts {
		out[i] = Item{
			Post:      p,
			HasLiked:  p.Likes.Has(viewerUID),
			IsOwner:   p.UID == viewerUID,
			LikeCount: len(p.Likes),
		}
	}

	return out
}
