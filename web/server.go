// Package web serves buffers, processes and live event streams to remote clients.
package web

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"squadstream/config"
	"squadstream/events"
	"squadstream/log"
	"squadstream/output"
	"squadstream/subscription"
	"squadstream/web/handlers"
	webmiddleware "squadstream/web/middleware"
)

// Deps are the components the server exposes.
type Deps struct {
	Buffers   *output.Registry
	Hub       *events.Hub
	Processes handlers.ProcessController
	// Clearer clears buffers. Defaults to Buffers; pass the render throttle when a local
	// view shows the same buffers.
	Clearer handlers.Clearer
}

// Server is the HTTP and websocket front end.
type Server struct {
	config   *config.Config
	router   chi.Router
	srv      *http.Server
	bridge   *subscription.Bridge
	done     chan struct{}
	stopOnce sync.Once
}

// Handler returns the http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

// NewServer builds the router. Remote subscribers get their own bridge with the web high
// water mark, so a stalled client is disconnected instead of growing without bound.
func NewServer(cfg *config.Config, deps Deps) *Server {
	if deps.Clearer == nil {
		deps.Clearer = deps.Buffers
	}
	server := &Server{
		config: cfg,
		bridge: subscription.NewBridge(deps.Hub, subscription.Options{
			BatchDelay:    cfg.BatchDelay(),
			HighWaterMark: cfg.WebHighWaterMark,
		}),
		done: make(chan struct{}),
	}

	router := chi.NewRouter()
	// No request logger: the local view owns the terminal.
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(chimiddleware.StripSlashes)

	if cfg.WebServerAuthToken != "" {
		router.Use(webmiddleware.AuthMiddleware(cfg.WebServerAuthToken, cfg.WebServerAllowLocalhost))
	} else {
		log.WarningLog.Printf("web server running without an auth token")
	}
	router.Use(webmiddleware.RateLimit(1000, time.Minute))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Route("/api", func(r chi.Router) {
		r.Get("/buffers", handlers.BuffersHandler(deps.Buffers))
		r.Get("/buffers/{key}", handlers.BufferHandler(deps.Buffers))
		r.Delete("/buffers/{key}", handlers.ClearBufferHandler(deps.Clearer))
		r.Get("/processes", handlers.ProcessesHandler(deps.Processes))
		r.Delete("/processes/{key}", handlers.KillProcessHandler(deps.Processes))
	})
	router.Get("/ws/events", handlers.EventsHandler(server.bridge, deps.Buffers, deps.Processes, handlers.EventsOptions{
		BatchDelay:    cfg.BatchDelay(),
		HighWaterMark: cfg.WebHighWaterMark,
	}))

	server.router = router
	server.srv = &http.Server{
		Addr:        cfg.WebServerAddr(),
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	return server
}

// Start listens and serves in the background. It returns once the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.setupPlatformSignals()

	log.InfoLog.Printf("Starting HTTP server on %s", ln.Addr())
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.ErrorLog.Printf("HTTP server error: %v", err)
		}
	}()
	return nil
}

// Done is closed once the server stopped.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Stop disconnects every websocket client and shuts the server down.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		// Hijacked websocket connections are not tracked by Shutdown; cancelling their
		// subscriptions ends their handlers.
		s.bridge.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = s.srv.Shutdown(ctx)
		close(s.done)
	})
	return err
}
