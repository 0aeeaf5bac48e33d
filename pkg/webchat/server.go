package webchat

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/pawfect/pkg/config"
	"github.com/go-go-golems/pawfect/pkg/persistence/chatstore"
	"github.com/go-go-golems/pawfect/pkg/redisstream"
)

type ServerConfig struct {
	Settings config.ServerSettings
	Redis    redisstream.Settings
	// InstanceID names this process in the redis consumer group.
	InstanceID string
	// Store overrides the store opened from Settings.DBPath.
	Store chatstore.Store
}

// Server wires the chat store, auth, rooms, the event stream and the HTTP
// router, and drives their lifecycle.
type Server struct {
	baseCtx   context.Context
	store     chatstore.Store
	tokens    *TokenIssuer
	rooms     *RoomManager
	hub       *StreamHub
	backend   StreamBackend
	forwarder *Forwarder
	handler   http.Handler
	httpSrv   *http.Server

	startOnce sync.Once
	startErr  error
	closeOnce sync.Once
}

func NewServer(ctx context.Context, cfg ServerConfig) (*Server, error) {
	if ctx == nil {
		return nil, errors.New("ctx is nil")
	}
	s := cfg.Settings
	store := cfg.Store
	if store == nil {
		var err error
		store, err = openStore(s.DBPath)
		if err != nil {
			return nil, err
		}
	}

	secret := s.JWTSecret
	if strings.TrimSpace(secret) == "" {
		secret = uuid.NewString() + uuid.NewString()
		log.Warn().Str("component", "webchat").Msg("no jwt secret configured, using a random one; tokens will not survive a restart")
	}
	tokens, err := NewTokenIssuer(secret, s.AccessTTL, s.RefreshTTL)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if err := EnsureAdmin(ctx, store, s.AdminEmail, s.AdminPassword); err != nil {
		_ = store.Close()
		return nil, err
	}

	backend, err := NewStreamBackend(ctx, cfg.Redis, cfg.InstanceID)
	if err != nil {
		_ = store.Close()
		return nil, errors.Wrap(err, "build stream backend")
	}
	rooms := NewRoomManager(RoomManagerOptions{EvictIdle: s.RoomIdle, EvictInterval: s.EvictInterval})
	hub, err := NewStreamHub(StreamHubConfig{BaseCtx: ctx, Rooms: rooms, Store: store})
	if err != nil {
		_ = backend.Close()
		_ = store.Close()
		return nil, err
	}
	handlers, err := NewHandlers(store, tokens, NewEventPublisher(backend.Publisher()))
	if err != nil {
		_ = backend.Close()
		_ = store.Close()
		return nil, err
	}
	handler := NewRouter(handlers, hub)

	return &Server{
		baseCtx:   ctx,
		store:     store,
		tokens:    tokens,
		rooms:     rooms,
		hub:       hub,
		backend:   backend,
		forwarder: NewForwarder(backend.Subscriber(), NewWSPublisher(rooms)),
		handler:   handler,
		httpSrv: &http.Server{
			Addr:              s.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

func openStore(dbPath string) (chatstore.Store, error) {
	p := strings.TrimSpace(dbPath)
	if p == "" {
		log.Warn().Str("component", "webchat").Msg("no database configured, chat state is kept in memory")
		return chatstore.NewInMemoryStore(), nil
	}
	if dir := filepath.Dir(p); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create database directory")
		}
	}
	dsn, err := chatstore.SQLiteDSNForFile(p)
	if err != nil {
		return nil, errors.Wrap(err, "build sqlite DSN")
	}
	store, err := chatstore.NewSQLiteStore(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open chat store")
	}
	return store, nil
}

func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) Store() chatstore.Store { return s.store }

func (s *Server) Rooms() *RoomManager { return s.rooms }

func (s *Server) HTTPServer() *http.Server { return s.httpSrv }

// Start subscribes the forwarder and starts room eviction. It is called by Run;
// tests serving Handler() call it directly. Calling it again is a no-op.
func (s *Server) Start(ctx context.Context) error {
	s.startOnce.Do(func() {
		if _, err := s.forwarder.Start(ctx); err != nil {
			s.startErr = err
			return
		}
		s.rooms.StartEvictionLoop(ctx)
	})
	return s.startErr
}

// Close disconnects websockets and releases the event stream and the store.
func (s *Server) Close() error {
	var firstErr error
	s.closeOnce.Do(func() {
		s.hub.Close()
		s.rooms.CloseAll()
		if err := s.backend.Close(); err != nil {
			log.Error().Err(err).Msg("stream backend close error")
			firstErr = err
		}
		if err := s.store.Close(); err != nil {
			log.Error().Err(err).Msg("chat store close error")
			if firstErr == nil {
				firstErr = err
			}
		}
	})
	return firstErr
}

func (s *Server) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("ctx is nil")
	}
	if s == nil || s.httpSrv == nil {
		return errors.New("server is not initialized")
	}
	srvCtx, srvCancel := context.WithCancel(ctx)
	defer srvCancel()

	if err := s.Start(srvCtx); err != nil {
		return err
	}

	eg := errgroup.Group{}
	eg.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
			log.Info().Msg("received interrupt signal, shutting down gracefully...")
		case <-srvCtx.Done():
		}
		srvCancel()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
			return err
		}
		if err := s.Close(); err != nil {
			return err
		}
		log.Info().Msg("server shutdown complete")
		return nil
	})

	eg.Go(func() error {
		log.Info().Str("addr", s.httpSrv.Addr).Msg("starting pawfect chat server")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server listen error")
			srvCancel()
			return err
		}
		return nil
	})

	return eg.Wait()
}
