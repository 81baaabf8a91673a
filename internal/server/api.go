package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/SocialGold-net/aurum/internal/entities"
	"github.com/SocialGold-net/aurum/internal/feed"
	"github.com/SocialGold-net/aurum/internal/inbox"
	"github.com/SocialGold-net/aurum/internal/service"
	"github.com/SocialGold-net/aurum/internal/storage"
)

// Error ...
type Error struct {
	Error string `json:"error"`
}

// Post ...
type Post struct {
	ID          string   `json:"id"`
	UID         string   `json:"uid"`
	Username    string   `json:"username"`
	DisplayName string   `json:"displayName"`
	PhotoURL    string   `json:"photoURL,omitempty"`
	Content     string   `json:"content"`
	PostImage   string   `json:"postImage,omitempty"`
	Likes       []string `json:"likes"`
	LikeCount   int      `json:"likeCount"`
	HasLiked    bool     `json:"hasLiked"`
	IsOwner     bool     `json:"isOwner"`
	CreatedAt   int64    `json:"createdAt"`
}

// Comment ...
type Comment struct {
	ID          string `json:"id"`
	PostID      string `json:"postId"`
	UID         string `json:"uid"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoURL,omitempty"`
	Content     string `json:"content"`
	CreatedAt   int64  `json:"createdAt"`
}

// Profile ...
type Profile struct {
	UID         string `json:"uid"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoURL,omitempty"`
	Bio         string `json:"bio,omitempty"`
	Followers   int    `json:"followers"`
	Following   int    `json:"following"`
	IsFollowing bool   `json:"isFollowing"`
}

// ProfileResponse ...
type ProfileResponse struct {
	Profile Profile `json:"profile"`
	Posts   []Post  `json:"posts"`
}

// PostResponse ...
type PostResponse struct {
	Post     Post      `json:"post"`
	Comments []Comment `json:"comments"`
}

// Conversation ...
type Conversation struct {
	ID          string  `json:"id"`
	LastMessage string  `json:"lastMessage,omitempty"`
	LastUpdate  int64   `json:"lastUpdate"`
	OtherUser   Profile `json:"otherUser"`
}

// StatsResponse ...
type StatsResponse struct {
	Users int `json:"users"`
	Posts int `json:"posts"`
}

// CreatePostRequest ...
type CreatePostRequest struct {
	UID       string `json:"uid"`
	Content   string `json:"content"`
	PostImage string `json:"postImage"`
}

// CreateCommentRequest ...
type CreateCommentRequest struct {
	UID     string `json:"uid"`
	Content string `json:"content"`
}

// ToggleLikeRequest carries the caller's cached like membership; the toggle
// direction is decided from it, not from a fresh read.
type ToggleLikeRequest struct {
	UID      string `json:"uid"`
	HasLiked bool   `json:"hasLiked"`
}

// ToggleLikeResponse ...
type ToggleLikeResponse struct {
	HasLiked bool `json:"hasLiked"`
}

// FollowRequest ...
type FollowRequest struct {
	Follower string `json:"follower"`
}

func toAPIPost(item feed.Item) Post {
	return Post{
		ID:          item.ID,
		UID:         item.UID,
		Username:    item.Username,
		DisplayName: item.DisplayName,
		PhotoURL:    item.PhotoURL,
		Content:     item.Content,
		PostImage:   item.PostImage,
		Likes:       item.Likes,
		LikeCount:   item.LikeCount,
		HasLiked:    item.HasLiked,
		IsOwner:     item.IsOwner,
		CreatedAt:   item.CreatedAt.Unix(),
	}
}

func toAPIPosts(items []feed.Item) []Post {
	out := make([]Post, len(items))
	for i, v := range items {
		out[i] = toAPIPost(v)
	}

	return out
}

func toAPIComment(c entities.Comment) Comment {
	return Comment{
		ID:          c.ID,
		PostID:      c.PostID,
		UID:         c.UID,
		Username:    c.Username,
		DisplayName: c.DisplayName,
		PhotoURL:    c.PhotoURL,
		Content:     c.Content,
		CreatedAt:   c.CreatedAt.Unix(),
	}
}

func toAPIComments(cc []entities.Comment) []Comment {
	out := make([]Comment, len(cc))
	for i, v := range cc {
		out[i] = toAPIComment(v)
	}

	return out
}

func toAPIProfile(u *entities.User, viewerUID string) Profile {
	return Profile{
		UID:         u.UID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		PhotoURL:    u.PhotoURL,
		Bio:         u.Bio,
		Followers:   len(u.Followers),
		Following:   len(u.Following),
		IsFollowing: u.Followers.Has(viewerUID),
	}
}

func toAPIConversations(cc []inbox.Conversation) []Conversation {
	out := make([]Conversation, len(cc))
	for i, v := range cc {
		out[i] = Conversation{
			ID:          v.Chat.ID,
			LastMessage: v.Chat.LastMessage,
			LastUpdate:  v.Chat.LastUpdate.Unix(),
			OtherUser:   toAPIProfile(v.Other, ""),
		}
	}

	return out
}

func writeOK(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeOK(w, status, Error{Error: message})
}

// writeServiceError maps domain errors onto the transport: validation is a
// bad request, ownership failures are forbidden, missing entities are not
// found, everything else surfaces once as a generic retryable failure.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrEmptyPost), errors.Is(err, service.ErrEmptyComment), errors.Is(err, entities.ErrInvalidDocument):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "permission denied")
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		log.WithError(err).Error("request failed")
		writeError(w, http.StatusInternalServerError, "something went wrong, try again")
	}
}
