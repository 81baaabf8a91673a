// Package service contains interface for service business-logic.
//
// It is the typed mapping from domain operations (posts, comments, profiles,
// follow edges, likes) to document store operations, including the toggle
// protocol for the set-valued fields.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/SocialGold-net/aurum/internal/entities"
)

//go:generate mockgen -destination=./mock/service.go -package=mock -source=service.go

// ErrEmptyPost returned when a post is created with neither content nor image.
var ErrEmptyPost = errors.New("post must have content or an image")

// ErrEmptyComment returned when a comment is created without content.
var ErrEmptyComment = errors.New("comment must have content")

// ErrPermissionDenied returned when the requestor does not own the entity.
var ErrPermissionDenied = errors.New("permission denied")

// PartialFollowError reports a follow or unfollow whose second write failed.
// The first write is already applied, so the follow edge is one-sided until
// a compensating action runs; retrying the whole operation is not safe to
// assume, the reconciler repairs these edges instead.
type PartialFollowError struct {
	Follower string
	Target   string
	Unfollow bool
	Err      error
}

func (e *PartialFollowError) Error() string {
	op := "follow"
	if e.Unfollow {
		op = "unfollow"
	}

	return fmt.Sprintf("partial %s of %s by %s: %s", op, e.Target, e.Follower, e.Err.Error())
}

func (e *PartialFollowError) Unwrap() error {
	return e.Err
}

// Stats ...
type Stats struct {
	Users int
	Posts int
}

// Service ...
type Service interface {
	CreatePost(ctx context.Context, author entities.AuthorSnapshot, content, postImage string) (*entities.Post, error)
	GetPost(ctx context.Context, postID string) (*entities.Post, error)
	// ListPosts returns the feed, newest first. A non-empty authorUID
	// restricts it to one author's archive.
	ListPosts(ctx context.Context, authorUID string) ([]entities.Post, error)
	DeletePost(ctx context.Context, postID, requestedBy string) error

	AddComment(ctx context.Context, postID string, author entities.AuthorSnapshot, content string) (*entities.Comment, error)
	// ListComments returns a post's comments oldest first.
	ListComments(ctx context.Context, postID string) ([]entities.Comment, error)
	DeleteComment(ctx context.Context, postID, commentID, requestedBy string) error

	GetUser(ctx context.Context, uid string) (*entities.User, error)
	// GetUserByUsername is case-insensitive and returns (nil, nil) when no
	// user matches: a non-existent profile is an expected outcome.
	GetUserByUsername(ctx context.Context, username string) (*entities.User, error)

	// ToggleLike flips uid's membership in the post's likes set. The
	// direction is decided once from hasLiked, the membership the caller
	// read from its last delivered snapshot, never re-derived mid-operation.
	// It returns the membership after the mutation.
	ToggleLike(ctx context.Context, postID, uid string, hasLiked bool) (bool, error)

	// Follow writes the follower's following set, then the target's
	// followers set, then re-reads the target profile. A failure of the
	// second write surfaces as *PartialFollowError.
	Follow(ctx context.Context, follower, target string) (*entities.User, error)
	Unfollow(ctx context.Context, follower, target string) (*entities.User, error)

	// TouchChat denormalizes the latest message onto the chat document,
	// bumping its recency ordering.
	TouchChat(ctx context.Context, chatID, lastMessage string) error

	GetStats(ctx context.Context) (*Stats, error)
}
