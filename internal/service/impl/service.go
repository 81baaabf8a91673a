// Package impl is implementation of service interface.
package impl

import (
	"context"
	"errors"
	"fmt"

	"github.com/SocialGold-net/aurum/internal/entities"
	"github.com/SocialGold-net/aurum/internal/service"
	"github.com/SocialGold-net/aurum/internal/storage"
)

type srv struct {
	s storage.Storage
}

// New creates new instance of service.
func New(s storage.Storage) service.Service {
	return srv{
		s: s,
	}
}

func (s srv) CreatePost(ctx context.Context, author entities.AuthorSnapshot, content, postImage string) (*entities.Post, error) {
	if content == "" && postImage == "" {
		return nil, service.ErrEmptyPost
	}

	if err := author.Validate(); err != nil {
		return nil, err
	}

	p := entities.Post{
		AuthorSnapshot: author,
		Content:        content,
		PostImage:      postImage,
		Likes:          entities.UIDSet{},
	}

	doc, err := s.s.Create(ctx, storage.Posts, "", p)
	if err != nil {
		return nil, fmt.Errorf("failed to create post: %w", err)
	}

	p.ID = doc.ID
	p.CreatedAt = doc.CreatedAt

	return &p, nil
}

func (s srv) GetPost(ctx context.Context, postID string) (*entities.Post, error) {
	doc, err := s.s.Get(ctx, storage.Ref{Collection: storage.Posts, ID: postID})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}

		return nil, fmt.Errorf("failed to get post: %w", err)
	}

	return entities.DecodePost(doc.ID, doc.Data, doc.CreatedAt)
}

func (s srv) ListPosts(ctx context.Context, authorUID string) ([]entities.Post, error) {
	q := storage.Query{
		Collection: storage.Posts,
		OrderBy:    storage.CreatedAtField,
		Order:      storage.DescendingOrder,
	}

	if authorUID != "" {
		q.Filter = &storage.Filter{Field: "uid", Equals: authorUID}
	}

	docs, err := s.s.List(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}

	out := make([]entities.Post, 0, len(docs))
	for _, doc := range docs {
		p, err := entities.DecodePost(doc.ID, doc.Data, doc.CreatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}

	return out, nil
}

func (s srv) DeletePost(ctx context.Context, postID, requestedBy string) error {
	p, err := s.GetPost(ctx, postID)
	if err != nil {
		return err
	}

	if p.UID != requestedBy {
		return service.ErrPermissionDenied
	}

	// hard delete of the post document only; its comments subcollection is
	// left in place, see DESIGN.md
	if err := s.s.Delete(ctx, storage.Ref{Collection: storage.Posts, ID: postID}); err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}

	return nil
}

func (s srv) AddComment(ctx context.Context, postID string, author entities.AuthorSnapshot, content string) (*entities.Comment, error) {
	if content == "" {
		return nil, service.ErrEmptyComment
	}

	if err := author.Validate(); err != nil {
		return nil, err
	}

	if _, err := s.GetPost(ctx, postID); err != nil {
		return nil, err
	}

	c := entities.Comment{
		PostID:         postID,
		AuthorSnapshot: author,
		Content:        content,
	}

	doc, err := s.s.Create(ctx, storage.Comments, postID, c)
	if err != nil {
		return nil, fmt.Errorf("failed to create comment: %w", err)
	}

	c.ID = doc.ID
	c.CreatedAt = doc.CreatedAt

	return &c, nil
}

func (s srv) ListComments(ctx context.Context, postID string) ([]entities.Comment, error) {
	docs, err := s.s.List(ctx, storage.Query{
		Collection: storage.Comments,
		Parent:     postID,
		OrderBy:    storage.CreatedAtField,
		Order:      storage.AscendingOrder,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}

	out := make([]entities.Comment, 0, len(docs))
	for _, doc := range docs {
		c, err := entities.DecodeComment(doc.ID, postID, doc.Data, doc.CreatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}

	return out, nil
}

func (s srv) DeleteComment(ctx context.Context, postID, commentID, requestedBy string) error {
	ref := storage.Ref{Collection: storage.Comments, Parent: postID, ID: commentID}

	doc, err := s.s.Get(ctx, ref)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return err
		}

		return fmt.Errorf("failed to get comment: %w", err)
	}

	c, err := entities.DecodeComment(doc.ID, postID, doc.Data, doc.CreatedAt)
	if err != nil {
		return err
	}

	if c.UID != requestedBy {
		return service.ErrPermissionDenied
	}

	if err := s.s.Delete(ctx, ref); err != nil {
		return fmt.Errorf("failed to delete comment: %w", err)
	}

	return nil
}

func (s srv) GetUser(ctx context.Context, uid string) (*entities.User, error) {
	doc, err := s.s.Get(ctx, storage.Ref{Collection: storage.Users, ID: uid})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}

		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return entities.DecodeUser(doc.ID, doc.Data)
}

func (s srv) GetUserByUsername(ctx context.Context, username string) (*entities.User, error) {
	docs, err := s.s.List(ctx, storage.Query{
		Collection: storage.Users,
		Filter:     &storage.Filter{Field: "username", Equals: entities.NormalizeUsername(username)},
		OrderBy:    storage.CreatedAtField,
		Order:      storage.AscendingOrder,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query user by username: %w", err)
	}

	if len(docs) == 0 {
		return nil, nil
	}

	return entities.DecodeUser(docs[0].ID, docs[0].Data)
}

func (s srv) ToggleLike(ctx context.Context, postID, uid string, hasLiked bool) (bool, error) {
	ref := storage.Ref{Collection: storage.Posts, ID: postID}

	if hasLiked {
		if err := s.s.ArrayRemove(ctx, ref, "likes", uid); err != nil {
			return hasLiked, fmt.Errorf("failed to unlike post: %w", err)
		}

		return false, nil
	}

	if err := s.s.ArrayUnion(ctx, ref, "likes", uid); err != nil {
		return hasLiked, fmt.Errorf("failed to like post: %w", err)
	}

	return true, nil
}

func (s srv) Follow(ctx context.Context, follower, target string) (*entities.User, error) {
	// the following side is written first and is authoritative for the
	// reconciler when the edge ends up one-sided
	if err := s.s.ArrayUnion(ctx, storage.Ref{Collection: storage.Users, ID: follower}, "following", target); err != nil {
		return nil, fmt.Errorf("failed to write following set: %w", err)
	}

	if err := s.s.ArrayUnion(ctx, storage.Ref{Collection: storage.Users, ID: target}, "followers", follower); err != nil {
		return nil, &service.PartialFollowError{Follower: follower, Target: target, Err: err}
	}

	return s.GetUser(ctx, target)
}

func (s srv) Unfollow(ctx context.Context, follower, target string) (*entities.User, error) {
	if err := s.s.ArrayRemove(ctx, storage.Ref{Collection: storage.Users, ID: follower}, "following", target); err != nil {
		return nil, fmt.Errorf("failed to write following set: %w", err)
	}

	if err := s.s.ArrayRemove(ctx, storage.Ref{Collection: storage.Users, ID: target}, "followers", follower); err != nil {
		return nil, &service.PartialFollowError{Follower: follower, Target: target, Unfollow: true, Err: err}
	}

	return s.GetUser(ctx, target)
}

func (s srv) TouchChat(ctx context.Context, chatID, lastMessage string) error {
	if err := s.s.SetFields(ctx, storage.Ref{Collection: storage.Chats, ID: chatID}, map[string]interface{}{
		"lastMessage": lastMessage,
	}); err != nil {
		return fmt.Errorf("failed to touch chat: %w", err)
	}

	return nil
}

func (s srv) GetStats(ctx context.Context) (*service.Stats, error) {
	users, err := s.s.List(ctx, storage.Query{Collection: storage.Users, OrderBy: storage.CreatedAtField, Order: storage.AscendingOrder})
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	posts, err := s.s.List(ctx, storage.Query{Collection: storage.Posts, OrderBy: storage.CreatedAtField, Order: storage.AscendingOrder})
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}

	return &service.Stats{
		Users: len(users),
		Posts: len(posts),
	}, nil
}
