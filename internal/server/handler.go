package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/SocialGold-net/aurum/internal/entities"
	"github.com/SocialGold-net/aurum/internal/feed"
	"github.com/SocialGold-net/aurum/internal/service"
)

func (s server) getFeed(w http.ResponseWriter, r *http.Request) {
	// swagger:operation GET /feed Feed GetFeed
	//
	// Return the feed, newest first, with per-viewer flags.
	//
	// ---
	// parameters:
	// - name: requestedBy
	//   in: query
	//   description: derives hasLiked and isOwner flags
	//   required: false
	// responses:
	//   '200':
	//     description: Feed

	requestedBy := r.URL.Query().Get("requestedBy")

	posts, err := s.svc.ListPosts(r.Context(), "")
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeOK(w, http.StatusOK, toAPIPosts(feed.Assemble(posts, requestedBy)))
}

func (s server) createPost(w http.ResponseWriter, r *http.Request) {
	// swagger:operation POST /posts Posts CreatePost
	//
	// Create a post. The author snapshot is captured from the author's
	// current profile.
	//
	// ---
	// responses:
	//   '201':
	//     description: Post

	var req CreatePostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	author, err := s.svc.GetUser(r.Context(), req.UID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	p, err := s.svc.CreatePost(r.Context(), author.Snapshot(), req.Content, req.PostImage)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	items := feed.Assemble([]entities.Post{*p}, req.UID)
	writeOK(w, http.StatusCreated, toAPIPost(items[0]))
}

func (s server) getPost(w http.ResponseWriter, r *http.Request) {
	// swagger:operation GET /posts/{postID} Posts GetPost
	//
	// Get a post with its comments, oldest comment first.
	//
	// ---
	// responses:
	//   '200':
	//     description: Post with comments
	//   '404':
	//     description: post not found

	postID := chi.URLParam(r, "postID")
	requestedBy := r.URL.Query().Get("requestedBy")

	p, err := s.svc.GetPost(r.Context(), postID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	comments, err := s.svc.ListComments(r.Context(), postID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	items := feed.Assemble([]entities.Post{*p}, requestedBy)
	writeOK(w, http.StatusOK, PostResponse{
		Post:     toAPIPost(items[0]),
		Comments: toAPIComments(comments),
	})
}

func (s server) deletePost(w http.ResponseWriter, r *http.Request) {
	// swagger:operation DELETE /posts/{postID} Posts DeletePost
	//
	// Delete a post. Only the author may delete it.
	//
	// ---
	// responses:
	//   '204':
	//     description: deleted
	//   '403':
	//     description: requestor is not the author

	if err := s.svc.DeletePost(r.Context(), chi.URLParam(r, "postID"), r.URL.Query().Get("requestedBy")); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s server) toggleLike(w http.ResponseWriter, r *http.Request) {
	// swagger:operation POST /posts/{postID}/likes Posts ToggleLike
	//
	// Flip the caller's like on a post. The direction comes from the
	// caller's cached membership, not a fresh read.
	//
	// ---
	// responses:
	//   '200':
	//     description: membership after the toggle

	var req ToggleLikeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	hasLiked, err := s.svc.ToggleLike(r.Context(), chi.URLParam(r, "postID"), req.UID, req.HasLiked)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeOK(w, http.StatusOK, ToggleLikeResponse{HasLiked: hasLiked})
}

func (s server) addComment(w http.ResponseWriter, r *http.Request) {
	// swagger:operation POST /posts/{postID}/comments Comments AddComment
	//
	// Add a comment under a post.
	//
	// ---
	// responses:
	//   '201':
	//     description: Comment

	var req CreateCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	author, err := s.svc.GetUser(r.Context(), req.UID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	c, err := s.svc.AddComment(r.Context(), chi.URLParam(r, "postID"), author.Snapshot(), req.Content)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeOK(w, http.StatusCreated, toAPIComment(*c))
}

func (s server) deleteComment(w http.ResponseWriter, r *http.Request) {
	// swagger:operation DELETE /posts/{postID}/comments/{commentID} Comments DeleteComment
	//
	// Delete a comment. Only its author may delete it.
	//
	// ---
	// responses:
	//   '204':
	//     description: deleted

	if err := s.svc.DeleteComment(
		r.Context(),
		chi.URLParam(r, "postID"),
		chi.URLParam(r, "commentID"),
		r.URL.Query().Get("requestedBy"),
	); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s server) getProfile(w http.ResponseWriter, r *http.Request) {
	// swagger:operation GET /profiles/{username} Profiles GetProfile
	//
	// Get a profile by username with the author's post archive, newest
	// first. Lookup is case-insensitive.
	//
	// ---
	// responses:
	//   '200':
	//     description: Profile
	//   '404':
	//     description: no such profile

	u, err := s.svc.GetUserByUsername(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if u == nil {
		// an expected outcome, not an error path
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}

	requestedBy := r.URL.Query().Get("requestedBy")

	posts, err := s.svc.ListPosts(r.Context(), u.UID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeOK(w, http.StatusOK, ProfileResponse{
		Profile: toAPIProfile(u, requestedBy),
		Posts:   toAPIPosts(feed.Assemble(posts, requestedBy)),
	})
}

func (s server) follow(w http.ResponseWriter, r *http.Request) {
	// swagger:operation POST /profiles/{uid}/follow Profiles Follow
	//
	// Follow a profile and return it refreshed.
	//
	// ---
	// responses:
	//   '200':
	//     description: refreshed target profile

	var req FollowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	target, err := s.svc.Follow(r.Context(), req.Follower, chi.URLParam(r, "uid"))
	if err != nil {
		writeFollowError(w, err)
		return
	}

	writeOK(w, http.StatusOK, toAPIProfile(target, req.Follower))
}

func (s server) unfollow(w http.ResponseWriter, r *http.Request) {
	// swagger:operation DELETE /profiles/{uid}/follow Profiles Unfollow
	//
	// Unfollow a profile and return it refreshed.
	//
	// ---
	// responses:
	//   '200':
	//     description: refreshed target profile

	follower := r.URL.Query().Get("follower")
	if follower == "" {
		writeError(w, http.StatusBadRequest, "follower is required")
		return
	}

	target, err := s.svc.Unfollow(r.Context(), follower, chi.URLParam(r, "uid"))
	if err != nil {
		writeFollowError(w, err)
		return
	}

	writeOK(w, http.StatusOK, toAPIProfile(target, follower))
}

// writeFollowError distinguishes a half-applied follow edge from a clean
// failure: the former is already visible in the store and will be repaired
// by the reconciler, so the client must not blindly retry it.
func writeFollowError(w http.ResponseWriter, err error) {
	var partial *service.PartialFollowError
	if errors.As(err, &partial) {
		log.WithError(err).Error("follow edge partially applied")
		writeError(w, http.StatusInternalServerError, "partially applied, pending reconciliation")
		return
	}

	writeServiceError(w, err)
}

func (s server) getStats(w http.ResponseWriter, r *http.Request) {
	// swagger:operation GET /stats Stats GetStats
	//
	// Return global user and post counts. Cached.
	//
	// ---
	// responses:
	//   '200':
	//     description: Stats

	stats, err := s.svc.GetStats(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeOK(w, http.StatusOK, StatsResponse{
		Users: stats.Users,
		Posts: stats.Posts,
	})
}
