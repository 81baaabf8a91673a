// Package middleware ...
package middleware

import (
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/SocialGold-net/aurum/internal/middleware/memory"
)

// Cache keeps rendered responses keyed by request URI.
type Cache interface {
	Get(key string) []byte
	Set(key string, content []byte, ttl time.Duration)
}

// Cached wraps handler with a response cache. Only successful responses are
// stored.
func Cached(ttl time.Duration, handler func(w http.ResponseWriter, r *http.Request)) http.HandlerFunc {
	cache := memory.NewCache()

	return func(w http.ResponseWriter, r *http.Request) {
		if content := cache.Get(r.RequestURI); content != nil {
			_, _ = w.Write(content)
			return
		}

		rec := httptest.NewRecorder()
		handler(rec, r)

		for k, v := range rec.Header() {
			w.Header()[k] = v
		}
		w.WriteHeader(rec.Code)

		content := rec.Body.Bytes()
		if rec.Code == http.StatusOK {
			cache.Set(r.RequestURI, content, ttl)
		}

		_, _ = w.Write(content)
	}
}
