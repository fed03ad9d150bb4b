package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"example.com/photofeed/internal/models"
	"example.com/photofeed/internal/viewstate"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ErrStaleRefresh is returned by Refresh when a newer refresh started before
// it finished. The stale result is discarded.
var ErrStaleRefresh = errors.New("feed refresh superseded")

// Session holds one viewer's on-screen feed. All mutation goes through its
// mutex; entries[i] and views[i] always describe the same post.
type Session struct {
	viewer  string
	agg     *Aggregator
	builder *viewstate.Builder

	mu         sync.Mutex
	generation uint64
	entries    []models.FeedEntry
	views      []viewstate.PostViewState
}

func NewSession(viewer string, agg *Aggregator, builder *viewstate.Builder) *Session {
	return &Session{viewer: viewer, agg: agg, builder: builder}
}

func (s *Session) Viewer() string { return s.viewer }

// Refresh rebuilds the feed and commits it unless a later refresh has begun.
// A failed relationship lookup commits an empty feed and returns the error.
func (s *Session) Refresh(ctx context.Context) ([]viewstate.PostViewState, error) {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	entries, feedErr := s.agg.BuildFeed(ctx, s.viewer)
	views := s.builder.Build(ctx, entries, s.viewer)

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		logg.Debug("feed", "Discarding superseded refresh")
		return s.viewsLocked(), ErrStaleRefresh
	}

	s.views = views
	s.entries = make([]models.FeedEntry, len(views))
	for i, v := range views {
		s.entries[i] = v.Entry
	}
	return s.viewsLocked(), feedErr
}

// Views returns a copy of the committed view states.
func (s *Session) Views() []viewstate.PostViewState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewsLocked()
}

// Entries returns a copy of the committed feed entries.
func (s *Session) Entries() []models.FeedEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.FeedEntry, len(s.entries))
	for i, e := range s.entries {
		out[i] = e
		out[i].Post.Likers = append([]string(nil), e.Post.Likers...)
	}
	return out
}

// At returns the entry and view state at index i.
func (s *Session) At(i int) (models.FeedEntry, viewstate.PostViewState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.views) {
		return models.FeedEntry{}, viewstate.PostViewState{}, false
	}
	v := s.views[i].Clone()
	return v.Entry, v, true
}

// SetLiked applies a like state to the matching post. ok is false when the
// post is not in the committed feed.
func (s *Session) SetLiked(owner, postID string, liked bool) (prev bool, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.views {
		e := s.views[i].Entry
		if e.Owner != owner || e.Post.ID != postID {
			continue
		}
		prev = s.views[i].SetLiked(s.viewer, liked)
		s.entries[i] = s.views[i].Entry
		return prev, true
	}
	return false, false
}

func (s *Session) viewsLocked() []viewstate.PostViewState {
	out := make([]viewstate.PostViewState, len(s.views))
	for i, v := range s.views {
		out[i] = v.Clone()
	}
	return out
}

// Session registry defaults.
const (
	DefaultMaxSessions = 10000
	DefaultSessionIdle = 30 * time.Minute
)

// Sessions hands out one Session per viewer. At most maxSessions are kept;
// the least recently used is evicted first, and a session untouched for idle
// is dropped. An evicted viewer gets a fresh, empty session on next use.
type Sessions struct {
	agg     *Aggregator
	builder *viewstate.Builder

	mu       sync.Mutex
	sessions *expirable.LRU[string, *Session]
}

// NewSessions creates a registry. Non-positive limits use the defaults.
func NewSessions(agg *Aggregator, builder *viewstate.Builder, maxSessions int, idle time.Duration) *Sessions {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	if idle <= 0 {
		idle = DefaultSessionIdle
	}
	return &Sessions{
		agg:      agg,
		builder:  builder,
		sessions: expirable.NewLRU[string, *Session](maxSessions, nil, idle),
	}
}

// For returns the viewer's session, creating it on first use. Each call
// restarts the session's idle timer.
func (s *Sessions) For(viewer string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions.Get(viewer)
	if !ok {
		sess = NewSession(viewer, s.agg, s.builder)
	}
	s.sessions.Add(viewer, sess)
	return sess
}

// Len returns the number of live sessions.
func (s *Sessions) Len() int {
	return s.sessions.Len()
}
