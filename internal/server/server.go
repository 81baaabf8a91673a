// Package server Aurum
//
// Aurum serves the realtime social feed over REST and server-sent events.
//
//     Schemes: https
//     BasePath: /v1
//
// swagger:meta
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
	"github.com/tomasen/realip"

	mm "github.com/SocialGold-net/aurum/internal/middleware"
	"github.com/SocialGold-net/aurum/internal/service"
	"github.com/SocialGold-net/aurum/internal/storage"
)

var log = logrus.WithField("package", "server")

// post images arrive inlined in the request body
const maxBodySize = 1 << 20

const statsCacheTTL = 10 * time.Minute

// server renders the core over REST and server-sent events. Each stream
// connection owns its own subscription multiplexer, matching one client
// view; sharing one across viewers would cross-wire their per-viewer flags.
type server struct {
	svc   service.Service
	store storage.Storage
}

// Pinger reports storage health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SetupRouter setups handlers to chi router.
func SetupRouter(svc service.Service, store storage.Storage, r chi.Router, timeout time.Duration) {
	r.Use(
		loggerMiddleware,
		middleware.StripSlashes,
		cors.AllowAll().Handler,
		middleware.RequestID,
		middleware.Recoverer,
		bodyLimiterMiddleware(maxBodySize),
	)

	srv := server{
		svc:   svc,
		store: store,
	}

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(timeout))

			r.Get("/feed", srv.getFeed)
			r.Post("/posts", srv.createPost)
			r.Get("/posts/{postID}", srv.getPost)
			r.Delete("/posts/{postID}", srv.deletePost)
			r.Post("/posts/{postID}/likes", srv.toggleLike)
			r.Post("/posts/{postID}/comments", srv.addComment)
			r.Delete("/posts/{postID}/comments/{commentID}", srv.deleteComment)
			r.Get("/profiles/{username}", srv.getProfile)
			r.Post("/profiles/{uid}/follow", srv.follow)
			r.Delete("/profiles/{uid}/follow", srv.unfollow)
			r.Get("/stats", mm.Cached(statsCacheTTL, srv.getStats))
		})

		// streams are exempt from the request timeout
		r.Get("/feed/stream", srv.streamFeed)
		r.Get("/posts/{postID}/comments/stream", srv.streamComments)
		r.Get("/inbox/stream", srv.streamInbox)
	})
}

// HealthHandler reports whether the document store is reachable.
func HealthHandler(p Pinger, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		if err := p.Ping(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "storage is unreachable")
			return
		}

		writeOK(w, http.StatusOK, struct {
			OK bool `json:"ok"`
		}{OK: true})
	}
}

func loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		log.WithFields(logrus.Fields{
			"method":   r.Method,
			"uri":      r.RequestURI,
			"ip":       realip.FromRequest(r),
			"duration": time.Since(start).String(),
		}).Debug("request handled")
	})
}

func bodyLimiterMiddleware(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}
