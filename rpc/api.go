// Package rpc implements the Admin RPC (C7): a synchronous JSON-over-
// HTTP surface for election administration. The wire format itself is
// out of scope for the system this implements, so plain JSON over
// chi was chosen freely; the router/middleware shape is grounded on
// the teacher's api.API.
package rpc

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/criptocracia/ec-core/log"
	"github.com/criptocracia/ec-core/registry"
	"github.com/criptocracia/ec-core/store"
	"github.com/criptocracia/ec-core/vault"
)

// DefaultPort is the Admin RPC's default listen port.
const DefaultPort = 50001

// requestTimeout bounds how long a handler may run before the
// deadline middleware aborts it.
const requestTimeout = 45 * time.Second

// Announcer is implemented by the Publisher.
type Announcer interface {
	PublishAnnouncement(ctx context.Context, electionID string) error
}

// Config configures the Admin RPC server.
type Config struct {
	BindIP string
	Port   int
}

// Server is the Admin RPC's HTTP server.
type Server struct {
	cfg      Config
	router   *chi.Mux
	registry *registry.Registry
	store    *store.Store
	vault    *vault.Vault
	announce Announcer

	httpSrv *http.Server
}

// New wires an Admin RPC server. It binds to a loopback address by
// default; external binding is an explicit opt-in via cfg.BindIP. The
// Vault is the single source of the RSA public key every election is
// stamped with; there is no admin-supplied alternative.
func New(cfg Config, reg *registry.Registry, st *store.Store, v *vault.Vault, announce Announcer) *Server {
	if cfg.BindIP == "" {
		cfg.BindIP = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	s := &Server{cfg: cfg, registry: reg, store: st, vault: v, announce: announce}
	s.initRouter()
	return s
}

// Router exposes the chi router for tests.
func (s *Server) Router() *chi.Mux { return s.router }

func (s *Server) initRouter() {
	s.router = chi.NewRouter()
	s.router.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Throttle(100))
	s.router.Use(middleware.ThrottleBacklog(5000, 40000, 60*time.Second))
	s.router.Use(middleware.Timeout(requestTimeout))

	s.router.Post("/elections", s.addElection)
	s.router.Get("/elections", s.listElections)
	s.router.Get("/elections/{id}", s.getElection)
	s.router.Post("/elections/{id}/cancel", s.cancelElection)
	s.router.Post("/elections/{id}/candidates", s.addCandidate)
	s.router.Post("/elections/{id}/voters", s.addVoter)
	s.router.Get("/voters", s.listVoters)
}

// Start begins serving HTTP in the background.
func (s *Server) Start(_ context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.BindIP, s.cfg.Port)
	s.httpSrv = &http.Server{Addr: addr, Handler: s.router}
	ln, err := newListener(addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	go func() {
		log.Infow("admin rpc started", "addr", addr)
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Errorf("admin rpc server error: %v", err)
		}
	}()
	return nil
}

// Stop gracefully drains in-flight handlers before closing.
func (s *Server) Stop() error {
	if s.httpSrv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}
