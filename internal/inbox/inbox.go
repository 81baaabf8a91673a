// Package inbox composes the conversation list view.
//
// Each chats snapshot delivery needs one secondary point-read per chat to
// resolve the participant that is not the viewer; the composed list is
// published only once the whole batch resolves.
package inbox

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/SocialGold-net/aurum/internal/entities"
	"github.com/SocialGold-net/aurum/internal/service"
	"github.com/SocialGold-net/aurum/internal/storage"
	"github.com/SocialGold-net/aurum/internal/sub"
)

var log = logrus.WithField("package", "inbox")

// Conversation is one inbox row: the chat plus the resolved other
// participant.
type Conversation struct {
	Chat  entities.Chat
	Other *entities.User
}

// Observer receives composed inbox deliveries.
type Observer interface {
	OnConversations(conversations []Conversation)
	OnError(err error)
}

// Composer ...
type Composer struct {
	mux *sub.Multiplexer
	svc service.Service
}

// New creates new instance of Composer.
func New(mux *sub.Multiplexer, svc service.Service) *Composer {
	return &Composer{
		mux: mux,
		svc: svc,
	}
}

// Watch attaches a live query over the viewer's chats ordered by recency and
// delivers composed conversations to o.
func (c *Composer) Watch(ctx context.Context, viewerUID string, o Observer) (*sub.Handle, error) {
	q := storage.Query{
		Collection: storage.Chats,
		Filter:     &storage.Filter{Field: "participants", Contains: viewerUID},
		OrderBy:    storage.LastUpdateField,
		Order:      storage.DescendingOrder,
	}

	return c.mux.Attach(ctx, q, &chatObserver{
		ctx:    ctx,
		svc:    c.svc,
		viewer: viewerUID,
		o:      o,
	})
}

type chatObserver struct {
	ctx    context.Context
	svc    service.Service
	viewer string
	o      Observer
}

func (co *chatObserver) OnSnapshot(docs []storage.Document) {
	chats := make([]entities.Chat, 0, len(docs))
	for _, doc := range docs {
		chat, err := entities.DecodeChat(doc.ID, doc.Data, doc.UpdatedAt)
		if err != nil {
			log.WithField("id", doc.ID).WithError(err).Warn("skipping malformed chat document")
			continue
		}
		chats = append(chats, *chat)
	}

	out := make([]Conversation, len(chats))

	g, ctx := errgroup.WithContext(co.ctx)
	for i := range chats {
		i := i
		g.Go(func() error {
			other, err := co.svc.GetUser(ctx, chats[i].Other(co.viewer))
			if errors.Is(err, storage.ErrNotFound) {
				// a deleted profile must not abort the whole batch
				other = &entities.User{Username: "unknown", DisplayName: "Unknown"}
			} else if err != nil {
				return err
			}

			out[i] = Conversation{Chat: chats[i], Other: other}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		co.o.OnError(err)
		return
	}

	co.o.OnConversations(out)
}

func (co *chatObserver) OnError(err error) {
	co.o.OnError(err)
}
