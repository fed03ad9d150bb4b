package server

import (
	"context"
	"net/http"
	"time"

	"example.com/photofeed/internal/feed"
	"example.com/photofeed/internal/logger"
	"example.com/photofeed/internal/middleware"
	"example.com/photofeed/internal/profile"
	"example.com/photofeed/internal/relay"
	"example.com/photofeed/internal/viewstate"
)

var logg = logger.New()

// Server exposes feed, interaction and profile operations over HTTP.
type Server struct {
	sessions *feed.Sessions
	agg      *feed.Aggregator
	builder  *viewstate.Builder
	relay    *relay.Relay
	profiles *profile.Service
	secret   []byte
}

func New(sessions *feed.Sessions, agg *feed.Aggregator, builder *viewstate.Builder, rl *relay.Relay, profiles *profile.Service, secret []byte) *Server {
	return &Server{
		sessions: sessions,
		agg:      agg,
		builder:  builder,
		relay:    rl,
		profiles: profiles,
		secret:   secret,
	}
}

// Routes returns the HTTP handler with public and JWT-protected routes.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints (no JWT required)
	mux.HandleFunc("POST /users", s.signUpHandler)
	mux.HandleFunc("POST /login", s.loginHandler)

	// Protected endpoints with JWT authentication middleware
	protected := map[string]http.HandlerFunc{
		"GET /feed":                       s.getFeedHandler,
		"GET /explore":                    s.exploreHandler,
		"POST /posts":                     s.createPostHandler,
		"GET /posts/{owner}/{id}":         s.getPostHandler,
		"POST /like":                      s.likeHandler,
		"POST /follow":                    s.followHandler,
		"POST /comments":                  s.commentHandler,
		"GET /users/search":               s.searchHandler,
		"GET /users/counts":               s.countsHandler,
		"GET /users/{username}/posts":     s.userPostsHandler,
		"GET /users/{username}/followers": s.followersHandler,
		"GET /users/{username}/following": s.followingHandler,
		"GET /notifications":              s.notificationsHandler,
		"GET /profile/info":               s.getInfoHandler,
		"PUT /profile/info":               s.setInfoHandler,
	}
	for pattern, h := range protected {
		mux.Handle(pattern, middleware.JWTAuth(s.secret, h))
	}
	return mux
}

// Run starts the HTTPS server and shuts it down gracefully when ctx ends.
func Run(ctx context.Context, s *Server, addr, certFile, keyFile string) {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Routes(),
		ReadTimeout:  10 * time.Second, // prevent slowloris attacks
		WriteTimeout: 30 * time.Second,
	}

	// --- Start server in a goroutine ---
	go func() {
		logg.Info("server", "Starting HTTPS server on "+addr)
		if err := srv.ListenAndServeTLS(certFile, keyFile); err != nil && err != http.ErrServerClosed {
			logg.Error("server", "Server stopped unexpectedly", err)
		}
	}()

	// --- Graceful shutdown ---
	<-ctx.Done()
	logg.Info("server", "Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.Error("server", "Error during server shutdown", err)
	} else {
		logg.Info("server", "Server stopped gracefully")
	}
}
