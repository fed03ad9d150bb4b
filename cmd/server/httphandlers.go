package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"example.com/photofeed/internal/feed"
	"example.com/photofeed/internal/gateway"
	"example.com/photofeed/internal/middleware"
	"example.com/photofeed/internal/models"
	"example.com/photofeed/internal/profile"
	"example.com/photofeed/internal/relay"
	"example.com/photofeed/internal/viewstate"
)

// maxBodyBytes bounds request bodies; post images arrive base64-encoded.
const maxBodyBytes = 16 << 20

type feedResponse struct {
	Posts   []viewstate.PostViewState `json:"posts"`
	Partial bool                      `json:"partial"`
}

// countsResponse adds the viewer's follow state when the counts are for
// another user.
type countsResponse struct {
	models.UserCounts
	IsFollowing *bool `json:"is_following,omitempty"`
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, module string, dst any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		logg.Error(module, "Invalid request body", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func viewer(w http.ResponseWriter, r *http.Request, module string) (string, bool) {
	u, ok := middleware.UsernameFromContext(r.Context())
	if !ok {
		logg.Info(module, "Unauthorized request")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
	return u, ok
}

// writeError maps domain errors to status codes. Rejected remote writes are
// reported as 502.
func writeError(w http.ResponseWriter, module, msg string, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, gateway.ErrMalformedData):
		status = http.StatusBadRequest
	case errors.Is(err, gateway.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, profile.ErrUsernameTaken), errors.Is(err, profile.ErrEmailTaken):
		status = http.StatusConflict
	}
	logg.Error(module, msg, err)
	http.Error(w, msg+": "+err.Error(), status)
}

// --- Account handlers ---

// signUpHandler registers a user.
// Expects JSON body: {"username": "...", "email": "...", "profile_picture": "<base64>"}
// Returns JSON response: {"username": "...", "token": "..."}
func (s *Server) signUpHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username       string `json:"username"`
		Email          string `json:"email"`
		ProfilePicture []byte `json:"profile_picture"`
	}
	if !decodeBody(w, r, "http/users", &body) {
		return
	}

	if len(body.Username) == 0 || len(body.Username) > 50 {
		logg.Info("http/users", "Invalid username length")
		http.Error(w, "username must be 1-50 characters", http.StatusBadRequest)
		return
	}

	user := models.User{Username: body.Username, Email: body.Email}
	if err := s.profiles.SignUp(r.Context(), user, body.ProfilePicture); err != nil {
		writeError(w, "http/users", "failed to sign up", err)
		return
	}
	s.writeToken(w, http.StatusCreated, strings.TrimSpace(body.Username))
}

// loginHandler issues a token for an existing user.
// Expects JSON body: {"email": "..."}
func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if !decodeBody(w, r, "http/login", &body) {
		return
	}

	u, err := s.profiles.FindByEmail(r.Context(), body.Email)
	if err != nil {
		writeError(w, "http/login", "login failed", err)
		return
	}
	s.writeToken(w, http.StatusOK, u.Username)
}

func (s *Server) writeToken(w http.ResponseWriter, status int, username string) {
	token, err := middleware.IssueToken(s.secret, username, middleware.TokenTTL)
	if err != nil {
		logg.Error("http/auth", "Failed to generate token", err)
		http.Error(w, "failed to generate token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, status, map[string]string{"username": username, "token": token})
}

// --- Feed handlers ---

// getFeedHandler refreshes the viewer's session and returns its view states.
// A failed relationship lookup yields an empty, partial feed.
func (s *Server) getFeedHandler(w http.ResponseWriter, r *http.Request) {
	u, ok := viewer(w, r, "http/feed")
	if !ok {
		return
	}

	views, err := s.sessions.For(u).Refresh(r.Context())
	resp := feedResponse{Posts: views}
	switch {
	case err == nil, errors.Is(err, feed.ErrStaleRefresh):
	case errors.Is(err, gateway.ErrPartialFetch):
		resp.Partial = true
	default:
		writeError(w, "http/feed", "failed to build feed", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// exploreHandler returns every user's posts, newest first.
func (s *Server) exploreHandler(w http.ResponseWriter, r *http.Request) {
	u, ok := viewer(w, r, "http/explore")
	if !ok {
		return
	}

	entries, err := s.agg.Explore(r.Context())
	resp := feedResponse{Posts: s.builder.Build(r.Context(), entries, u), Partial: err != nil}
	writeJSON(w, http.StatusOK, resp)
}

// getPostHandler returns the view state of one post, e.g. one opened from a
// notification.
func (s *Server) getPostHandler(w http.ResponseWriter, r *http.Request) {
	u, ok := viewer(w, r, "http/post")
	if !ok {
		return
	}

	e, err := s.agg.Post(r.Context(), r.PathValue("owner"), r.PathValue("id"))
	if err != nil {
		writeError(w, "http/post", "failed to read post", err)
		return
	}
	v, err := s.builder.BuildEntry(r.Context(), e, u)
	if err != nil {
		writeError(w, "http/post", "failed to build post", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// userPostsHandler returns one user's posts for their profile grid.
func (s *Server) userPostsHandler(w http.ResponseWriter, r *http.Request) {
	u, ok := viewer(w, r, "http/user-posts")
	if !ok {
		return
	}

	entries, err := s.agg.UserPosts(r.Context(), r.PathValue("username"))
	if err != nil {
		writeError(w, "http/user-posts", "failed to list posts", err)
		return
	}
	writeJSON(w, http.StatusOK, feedResponse{Posts: s.builder.Build(r.Context(), entries, u)})
}

// --- Interaction handlers ---

// createPostHandler uploads an image and stores the post.
// Expects JSON body: {"image": "<base64>", "caption": "..."}
func (s *Server) createPostHandler(w http.ResponseWriter, r *http.Request) {
	u, ok := viewer(w, r, "http/posts")
	if !ok {
		return
	}
	var body struct {
		Image   []byte `json:"image"`
		Caption string `json:"caption"`
	}
	if !decodeBody(w, r, "http/posts", &body) {
		return
	}

	out := s.relay.CreatePost(r.Context(), relay.CreatePostRequest{Viewer: u, Image: body.Image, Caption: body.Caption})
	if !out.Applied {
		writeError(w, "http/posts", "failed to create post", out.Err)
		return
	}
	writeJSON(w, http.StatusCreated, out.Post)
}

// likeHandler sets the viewer's like on a post. The viewer's session is
// updated optimistically and reverted if the write fails.
// Expects JSON body: {"owner": "...", "post_id": "...", "liked": true}
func (s *Server) likeHandler(w http.ResponseWriter, r *http.Request) {
	u, ok := viewer(w, r, "http/like")
	if !ok {
		return
	}
	var body struct {
		Owner  string `json:"owner"`
		PostID string `json:"post_id"`
		Liked  bool   `json:"liked"`
	}
	if !decodeBody(w, r, "http/like", &body) {
		return
	}

	state := relay.Unliked
	if body.Liked {
		state = relay.Liked
	}
	out := s.relay.ToggleLike(r.Context(), relay.LikeRequest{
		PostID: body.PostID,
		Owner:  body.Owner,
		Viewer: u,
		State:  state,
		View:   s.sessions.For(u),
	})
	if !out.Applied {
		out.Revert()
		writeError(w, "http/like", "failed to update like", out.Err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"liked": body.Liked})
}

// followHandler follows or unfollows a user.
// Expects JSON body: {"target": "...", "following": true}
func (s *Server) followHandler(w http.ResponseWriter, r *http.Request) {
	u, ok := viewer(w, r, "http/follow")
	if !ok {
		return
	}
	var body struct {
		Target    string `json:"target"`
		Following bool   `json:"following"`
	}
	if !decodeBody(w, r, "http/follow", &body) {
		return
	}

	state := relay.NotFollowing
	if body.Following {
		state = relay.Following
	}
	out := s.relay.ToggleFollow(r.Context(), relay.FollowRequest{Viewer: u, Target: body.Target, State: state})
	if !out.Applied {
		writeError(w, "http/follow", "failed to update follow", out.Err)
		return
	}
	logg.Info("http/follow", "User "+u+" follow state for "+body.Target+" set to "+string(state))
	writeJSON(w, http.StatusOK, map[string]bool{"following": body.Following})
}

// commentHandler appends a comment. Blank text is accepted and ignored.
// Expects JSON body: {"owner": "...", "post_id": "...", "text": "..."}
func (s *Server) commentHandler(w http.ResponseWriter, r *http.Request) {
	u, ok := viewer(w, r, "http/comments")
	if !ok {
		return
	}
	var body struct {
		Owner  string `json:"owner"`
		PostID string `json:"post_id"`
		Text   string `json:"text"`
	}
	if !decodeBody(w, r, "http/comments", &body) {
		return
	}

	out := s.relay.SubmitComment(r.Context(), relay.CommentRequest{PostID: body.PostID, Owner: body.Owner, Viewer: u, Text: body.Text})
	switch {
	case out.Err != nil:
		writeError(w, "http/comments", "failed to add comment", out.Err)
	case !out.Applied:
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusCreated)
	}
}

// --- Profile handlers ---

func (s *Server) searchHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := viewer(w, r, "http/search"); !ok {
		return
	}
	users, err := s.profiles.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, "http/search", "search failed", err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// countsHandler returns counts for ?username=, defaulting to the viewer. For
// another user it also reports whether the viewer follows them.
func (s *Server) countsHandler(w http.ResponseWriter, r *http.Request) {
	u, ok := viewer(w, r, "http/counts")
	if !ok {
		return
	}
	target := u
	if q := r.URL.Query().Get("username"); q != "" {
		target = q
	}

	resp := countsResponse{UserCounts: s.profiles.Counts(r.Context(), target)}
	if target != u {
		following, err := s.profiles.IsFollowing(r.Context(), u, target)
		if err != nil {
			logg.Warn("http/counts", "Follow state unavailable", err)
		} else {
			resp.IsFollowing = &following
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) followersHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := viewer(w, r, "http/followers"); !ok {
		return
	}
	names, err := s.profiles.Followers(r.Context(), r.PathValue("username"))
	if err != nil {
		writeError(w, "http/followers", "failed to list followers", err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) followingHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := viewer(w, r, "http/following"); !ok {
		return
	}
	names, err := s.profiles.Following(r.Context(), r.PathValue("username"))
	if err != nil {
		writeError(w, "http/following", "failed to list following", err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) notificationsHandler(w http.ResponseWriter, r *http.Request) {
	u, ok := viewer(w, r, "http/notifications")
	if !ok {
		return
	}
	ns, err := s.profiles.Notifications(r.Context(), u)
	if err != nil {
		writeError(w, "http/notifications", "failed to list notifications", err)
		return
	}
	writeJSON(w, http.StatusOK, ns)
}

func (s *Server) getInfoHandler(w http.ResponseWriter, r *http.Request) {
	u, ok := viewer(w, r, "http/info")
	if !ok {
		return
	}
	info, err := s.profiles.GetInfo(r.Context(), u)
	if err != nil {
		writeError(w, "http/info", "failed to read profile info", err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// setInfoHandler replaces the viewer's profile information.
// Expects JSON body: {"name": "...", "bio": "..."}
func (s *Server) setInfoHandler(w http.ResponseWriter, r *http.Request) {
	u, ok := viewer(w, r, "http/info")
	if !ok {
		return
	}
	var info models.UserInfo
	if !decodeBody(w, r, "http/info", &info) {
		return
	}
	if err := s.profiles.SetInfo(r.Context(), u, info); err != nil {
		writeError(w, "http/info", "failed to write profile info", err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}
