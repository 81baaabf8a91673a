// Package storage contains the document store contract.
//
// The store keeps durable keyed documents in typed collections and provides
// point reads, ordered queries, atomic set-add/set-remove on array fields
// and a subscribe-for-changes primitive that delivers full-result snapshots.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

//go:generate mockgen -destination=./mock/storage.go -package=mock -source=storage.go

// ErrNotFound ...
var ErrNotFound = fmt.Errorf("not found")

// ErrPermissionDenied is delivered by a subscription when the viewer loses
// access to the query mid-stream.
var ErrPermissionDenied = fmt.Errorf("permission denied")

// Collection ...
type Collection string

const (
	// Users collection, keyed by uid.
	Users Collection = "users"
	// Posts collection, keyed by store-assigned id.
	Posts Collection = "posts"
	// Comments subcollection, keyed by store-assigned id under a post.
	Comments Collection = "comments"
	// Chats collection, keyed by store-assigned id.
	Chats Collection = "chats"
)

// Ref points at a single document.
type Ref struct {
	Collection Collection
	// Parent is the parent document id for subcollections, empty otherwise.
	Parent string
	ID     string
}

// Document is a stored document plus its metadata. CreatedAt and UpdatedAt
// are assigned by the store's clock, never the client's.
type Document struct {
	ID        string
	Parent    string
	Data      json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrderField ...
type OrderField string

const (
	// CreatedAtField orders by document creation time.
	CreatedAtField OrderField = "createdAt"
	// LastUpdateField orders by last mutation time.
	LastUpdateField OrderField = "lastUpdate"
)

// OrderType ...
type OrderType string

const (
	// AscendingOrder ...
	AscendingOrder OrderType = "asc"
	// DescendingOrder ...
	DescendingOrder OrderType = "desc"
)

// Filter restricts a query to documents whose field equals a value or whose
// array field contains a value. Exactly one of Equals and Contains is set.
type Filter struct {
	Field    string
	Equals   string
	Contains string
}

// Query describes an ordered query over one collection.
type Query struct {
	Collection Collection
	Parent     string
	Filter     *Filter
	OrderBy    OrderField
	Order      OrderType
}

// Key identifies the (collection, filter, order) tuple of a query.
func (q Query) Key() string {
	f := ""
	if q.Filter != nil {
		if q.Filter.Equals != "" {
			f = fmt.Sprintf("%s=%s", q.Filter.Field, q.Filter.Equals)
		} else {
			f = fmt.Sprintf("%s~%s", q.Filter.Field, q.Filter.Contains)
		}
	}

	return fmt.Sprintf("%s/%s?%s&%s %s", q.Collection, q.Parent, f, q.OrderBy, q.Order)
}

// Subscription is a live query. Every delivery on Snapshots is the full,
// self-consistent current result of the query, not an incremental delta.
type Subscription interface {
	Snapshots() <-chan []Document
	Errs() <-chan error
	// Close releases the subscription. It is synchronous: no delivery is
	// made after it returns.
	Close()
}

// Storage provides methods for interacting with the document store.
type Storage interface {
	Ping(ctx context.Context) error

	// Create stores data as a new document with a store-assigned id and
	// creation timestamp.
	Create(ctx context.Context, c Collection, parent string, data interface{}) (*Document, error)
	// Set stores data under a caller-chosen id, overwriting an existing
	// document.
	Set(ctx context.Context, ref Ref, data interface{}) error
	Get(ctx context.Context, ref Ref) (*Document, error)
	List(ctx context.Context, q Query) ([]Document, error)
	Delete(ctx context.Context, ref Ref) error

	// SetFields merges fields into a document without touching others.
	SetFields(ctx context.Context, ref Ref, fields map[string]interface{}) error
	// ArrayUnion atomically adds value to an array field with set semantics:
	// adding a present value is a no-op.
	ArrayUnion(ctx context.Context, ref Ref, field, value string) error
	// ArrayRemove atomically removes value from an array field; removing an
	// absent value is a no-op.
	ArrayRemove(ctx context.Context, ref Ref, field, value string) error

	Subscribe(ctx context.Context, q Query) (Subscription, error)
}
