// Package entities contains main entities of the application.
//
// Entities mirror the shape of their store documents. Document metadata
// (id, server-assigned timestamps) is carried outside the json payload and
// is merged in by the Decode functions.
package entities

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidDocument returned when a store document does not match the entity schema.
var ErrInvalidDocument = errors.New("invalid document")

// UIDSet is a membership-only set of user ids stored as a json array.
type UIDSet []string

// Has reports membership of uid.
func (s UIDSet) Has(uid string) bool {
	for _, v := range s {
		if v == uid {
			return true
		}
	}

	return false
}

// User ...
type User struct {
	UID         string `json:"uid"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoURL,omitempty"`
	Bio         string `json:"bio,omitempty"`
	Followers   UIDSet `json:"followers"`
	Following   UIDSet `json:"following"`
}

// Validate ...
func (u User) Validate() error {
	if u.UID == "" {
		return fmt.Errorf("%w: user without uid", ErrInvalidDocument)
	}

	if u.Username == "" {
		return fmt.Errorf("%w: user without username", ErrInvalidDocument)
	}

	if u.Username != NormalizeUsername(u.Username) {
		return fmt.Errorf("%w: username is not normalized", ErrInvalidDocument)
	}

	return nil
}

// Snapshot returns the denormalized author snapshot captured onto posts and
// comments at creation time.
func (u User) Snapshot() AuthorSnapshot {
	return AuthorSnapshot{
		UID:         u.UID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		PhotoURL:    u.PhotoURL,
	}
}

// AuthorSnapshot is author display data copied onto a post or comment at
// creation time. It is not kept in sync with later profile edits.
type AuthorSnapshot struct {
	UID         string `json:"uid"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoURL"`
}

// Validate ...
func (a AuthorSnapshot) Validate() error {
	if a.UID == "" {
		return fmt.Errorf("%w: author without uid", ErrInvalidDocument)
	}

	if a.Username == "" {
		return fmt.Errorf("%w: author without username", ErrInvalidDocument)
	}

	return nil
}

// Post ...
type Post struct {
	ID string `json:"-"`
	AuthorSnapshot
	Content   string    `json:"content"`
	PostImage string    `json:"postImage,omitempty"`
	Likes     UIDSet    `json:"likes"`
	CreatedAt time.Time `json:"-"`
}

// Validate ...
func (p Post) Validate() error {
	if err := p.AuthorSnapshot.Validate(); err != nil {
		return err
	}

	if p.Content == "" && p.PostImage == "" {
		return fmt.Errorf("%w: post without content and image", ErrInvalidDocument)
	}

	return nil
}

// Comment is a child of exactly one post.
type Comment struct {
	ID     string `json:"-"`
	PostID string `json:"-"`
	AuthorSnapshot
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"-"`
}

// Validate ...
func (c Comment) Validate() error {
	if err := c.AuthorSnapshot.Validate(); err != nil {
		return err
	}

	if c.Content == "" {
		return fmt.Errorf("%w: comment without content", ErrInvalidDocument)
	}

	return nil
}

// Chat ...
type Chat struct {
	ID           string    `json:"-"`
	Participants UIDSet    `json:"participants"`
	LastMessage  string    `json:"lastMessage,omitempty"`
	LastUpdate   time.Time `json:"-"`
}

// Validate ...
func (c Chat) Validate() error {
	if len(c.Participants) != 2 {
		return fmt.Errorf("%w: chat must have exactly two participants", ErrInvalidDocument)
	}

	return nil
}

// Other returns the participant that is not the viewer.
func (c Chat) Other(viewerUID string) string {
	for _, v := range c.Participants {
		if v != viewerUID {
			return v
		}
	}

	return ""
}

// NormalizeUsername lowercases a username for storage and lookup.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// DecodeUser decodes and validates a users collection document.
func DecodeUser(id string, data []byte) (*User, error) {
	var u User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDocument, err.Error())
	}

	if u.UID == "" {
		u.UID = id
	}

	if err := u.Validate(); err != nil {
		return nil, err
	}

	return &u, nil
}

// DecodePost decodes and validates a posts collection document.
func DecodePost(id string, data []byte, createdAt time.Time) (*Post, error) {
	var p Post
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDocument, err.Error())
	}

	p.ID = id
	p.CreatedAt = createdAt

	if p.Likes == nil {
		p.Likes = UIDSet{}
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}

	return &p, nil
}

// DecodeComment decodes and validates a comments subcollection document.
func DecodeComment(id, postID string, data []byte, createdAt time.Time) (*Comment, error) {
	var c Comment
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDocument, err.Error())
	}

	c.ID = id
	c.PostID = postID
	c.CreatedAt = createdAt

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return &c, nil
}

// DecodeChat decodes and validates a chats collection document.
func DecodeChat(id string, data []byte, lastUpdate time.Time) (*Chat, error) {
	var c Chat
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDocument, err.Error())
	}

	c.ID = id
	c.LastUpdate = lastUpdate

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return &c, nil
}
