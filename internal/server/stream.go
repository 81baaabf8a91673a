package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/SocialGold-net/aurum/internal/entities"
	"github.com/SocialGold-net/aurum/internal/feed"
	"github.com/SocialGold-net/aurum/internal/inbox"
	"github.com/SocialGold-net/aurum/internal/storage"
	"github.com/SocialGold-net/aurum/internal/sub"
)

// streamObserver bridges multiplexer callbacks into the handler goroutine.
// The payload channel holds the latest rendered snapshot only; a slow client
// skips intermediate states, never sees stale ones.
type streamObserver struct {
	payloads chan interface{}
	errs     chan error
}

func newStreamObserver() *streamObserver {
	return &streamObserver{
		payloads: make(chan interface{}, 1),
		errs:     make(chan error, 1),
	}
}

func (o *streamObserver) publish(v interface{}) {
	select {
	case o.payloads <- v:
	default:
		select {
		case <-o.payloads:
		default:
		}
		o.payloads <- v
	}
}

func (o *streamObserver) OnError(err error) {
	select {
	case o.errs <- err:
	default:
	}
}

type feedObserver struct {
	*streamObserver
	viewer string
}

func (o *feedObserver) OnSnapshot(docs []storage.Document) {
	posts := make([]entities.Post, 0, len(docs))
	for _, doc := range docs {
		p, err := entities.DecodePost(doc.ID, doc.Data, doc.CreatedAt)
		if err != nil {
			log.WithField("id", doc.ID).WithError(err).Warn("skipping malformed post document")
			continue
		}
		posts = append(posts, *p)
	}

	o.publish(toAPIPosts(feed.Assemble(posts, o.viewer)))
}

type commentsObserver struct {
	*streamObserver
	postID string
}

func (o *commentsObserver) OnSnapshot(docs []storage.Document) {
	comments := make([]entities.Comment, 0, len(docs))
	for _, doc := range docs {
		c, err := entities.DecodeComment(doc.ID, o.postID, doc.Data, doc.CreatedAt)
		if err != nil {
			log.WithField("id", doc.ID).WithError(err).Warn("skipping malformed comment document")
			continue
		}
		comments = append(comments, *c)
	}

	o.publish(toAPIComments(comments))
}

type inboxObserver struct {
	*streamObserver
}

func (o *inboxObserver) OnConversations(cc []inbox.Conversation) {
	o.publish(toAPIConversations(cc))
}

func (s server) streamFeed(w http.ResponseWriter, r *http.Request) {
	// swagger:operation GET /feed/stream Feed StreamFeed
	//
	// Push the assembled feed as a server-sent event on every change.
	//
	// ---
	// produces:
	// - text/event-stream
	// responses:
	//   '200':
	//     description: event stream

	o := &feedObserver{
		streamObserver: newStreamObserver(),
		viewer:         r.URL.Query().Get("requestedBy"),
	}

	q := storage.Query{
		Collection: storage.Posts,
		OrderBy:    storage.CreatedAtField,
		Order:      storage.DescendingOrder,
	}

	h, err := sub.New(s.store).Attach(r.Context(), q, o)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer h.Detach()

	serveStream(w, r, o.streamObserver)
}

func (s server) streamComments(w http.ResponseWriter, r *http.Request) {
	// swagger:operation GET /posts/{postID}/comments/stream Comments StreamComments
	//
	// Push a post's comment list, oldest first, on every change.
	//
	// ---
	// produces:
	// - text/event-stream
	// responses:
	//   '200':
	//     description: event stream

	postID := chi.URLParam(r, "postID")

	o := &commentsObserver{
		streamObserver: newStreamObserver(),
		postID:         postID,
	}

	q := storage.Query{
		Collection: storage.Comments,
		Parent:     postID,
		OrderBy:    storage.CreatedAtField,
		Order:      storage.AscendingOrder,
	}

	h, err := sub.New(s.store).Attach(r.Context(), q, o)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer h.Detach()

	serveStream(w, r, o.streamObserver)
}

func (s server) streamInbox(w http.ResponseWriter, r *http.Request) {
	// swagger:operation GET /inbox/stream Inbox StreamInbox
	//
	// Push the viewer's composed conversation list on every change.
	//
	// ---
	// produces:
	// - text/event-stream
	// responses:
	//   '200':
	//     description: event stream

	uid := r.URL.Query().Get("uid")
	if uid == "" {
		writeError(w, http.StatusBadRequest, "uid is required")
		return
	}

	o := &inboxObserver{streamObserver: newStreamObserver()}

	h, err := inbox.New(sub.New(s.store), s.svc).Watch(r.Context(), uid, o)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer h.Detach()

	serveStream(w, r, o.streamObserver)
}

func serveStream(w http.ResponseWriter, r *http.Request, o *streamObserver) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming is not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case err := <-o.errs:
			log.WithError(err).Error("stream delivery failed")
			writeEvent(w, flusher, "error", Error{Error: "stream failed"})
			return
		case v := <-o.payloads:
			writeEvent(w, flusher, "snapshot", v)
		}
	}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, event string, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		log.WithError(err).Error("failed to marshal event")
		return
	}

	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, b)
	flusher.Flush()
}
