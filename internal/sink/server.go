// Package sink implements a local SMTP capture server. It stands in for the
// mail filter under test: accepted messages are logged and stored, and
// scripted rules reproduce refusals and dropped connections.
package sink

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"sync"
	"time"
)

// shutdownTimeout is the maximum time to wait for in-flight connections
// during graceful shutdown.
const shutdownTimeout = 30 * time.Second

// Envelope is the SMTP envelope of a captured message.
type Envelope struct {
	From string
	To   []string
	UTF8 bool
}

// Handler receives every message the sink accepts. An error is answered
// with a 451 reply.
type Handler interface {
	Handle(ctx context.Context, env Envelope, raw []byte) error
}

// ServerConfig holds the configuration for a sink server.
type ServerConfig struct {
	// ListenAddr is the address to listen on (e.g., ":2525").
	ListenAddr string

	// Hostname is the server hostname used in the greeting and EHLO.
	Hostname string

	// Handler receives accepted messages.
	Handler Handler

	// TLSConfig enables STARTTLS. If nil, STARTTLS is not advertised.
	TLSConfig *tls.Config

	// AuthUsername and AuthPassword configure SMTP AUTH.
	// If both are empty, authentication is not required.
	AuthUsername string
	AuthPassword string

	MaxMessageSize int64
	SMTPUTF8       bool
	Rules          Rules
}

// Server accepts connections and runs one Session per connection.
type Server struct {
	config   ServerConfig
	session  SessionConfig
	listener net.Listener

	// wg tracks in-flight session goroutines for graceful shutdown.
	wg sync.WaitGroup
}

// New creates a new sink Server with the given configuration.
func New(cfg ServerConfig) *Server {
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}

	return &Server{
		config: cfg,
		session: SessionConfig{
			Hostname:       cfg.Hostname,
			TLSConfig:      cfg.TLSConfig,
			Auth:           NewAuthenticator(cfg.AuthUsername, cfg.AuthPassword),
			Handler:        cfg.Handler,
			Rules:          cfg.Rules,
			MaxMessageSize: cfg.MaxMessageSize,
			SMTPUTF8:       cfg.SMTPUTF8,
		},
	}
}

// ListenAndServe listens on the configured address and serves until the
// context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln and blocks until the context is cancelled.
// On cancellation it stops accepting new connections and waits up to
// 30 seconds for in-flight sessions to complete.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.listener = ln

	slog.Info("sink listening",
		"addr", ln.Addr().String(),
		"auth_enabled", s.session.Auth.Enabled(),
		"tls_enabled", s.config.TLSConfig != nil,
		"smtputf8", s.config.SMTPUTF8,
		"rules", len(s.config.Rules),
	)

	go func() {
		<-ctx.Done()
		slog.Info("shutting down sink")
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				// Expected error from listener close during shutdown
				s.waitForSessions()
				return nil
			default:
				slog.Error("accept error", "error", err)
				continue
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			slog.Debug("sink connection", "remote", conn.RemoteAddr().String())
			NewSession(conn, s.session).Handle(ctx)
		}()
	}
}

// waitForSessions waits for all in-flight sessions to complete,
// with a maximum timeout to prevent indefinite blocking.
func (s *Server) waitForSessions() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("all sessions completed")
	case <-time.After(shutdownTimeout):
		slog.Warn("shutdown timeout reached, forcing close")
	}
}

// Addr returns the listener address, or empty string if not listening.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
