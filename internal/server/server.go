// Package server accepts charge point WebSocket connections, negotiates the
// OCPP subprotocol and runs a session for each accepted connection.
package server

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"dummy_ocpp_cs/internal/session"
)

var DefaultSubprotocols = []string{"ocpp2.0", "ocpp2.0.1"}

type Config struct {
	// Subprotocols in order of preference.
	Subprotocols []string

	// Command is scheduled on every new session when set, after Delay once
	// or every Period.
	Command string
	Delay   time.Duration
	Period  time.Duration

	// Session is the template for every session. Its Subprotocol is filled
	// in per connection.
	Session session.Config

	OnConnect    func(*session.Session)
	OnDisconnect func(*session.Session)
}

type Server struct {
	cfg      Config
	upgrader websocket.Upgrader
	logger   log.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config) (*Server, error) {
	if len(cfg.Subprotocols) == 0 {
		cfg.Subprotocols = DefaultSubprotocols
	}
	if cfg.Session.Actions == nil {
		return nil, errors.NotValidf("nil action table")
	}
	if cfg.Session.Registry == nil {
		cfg.Session.Registry = session.NewRegistry()
	}
	if cfg.Session.Logger == nil {
		cfg.Session.Logger = log.StandardLogger()
	}
	if cfg.Command != "" {
		if _, ok := cfg.Session.Actions.Command(cfg.Command); !ok {
			return nil, errors.NotSupportedf("command %s", cfg.Command)
		}
		if (cfg.Delay > 0) == (cfg.Period > 0) || cfg.Delay < 0 || cfg.Period < 0 {
			return nil, errors.NotValidf("command %s needs exactly one positive delay or period", cfg.Command)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			Subprotocols: cfg.Subprotocols,
			CheckOrigin:  func(r *http.Request) bool { return true },
		},
		logger: cfg.Session.Logger,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

func (s *Server) Registry() *session.Registry { return s.cfg.Session.Registry }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requested := websocket.Subprotocols(r)
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("problem initiating websocket")
		return
	}
	transport := newTransport(conn)

	if len(requested) == 0 {
		s.logger.Info("Client hasn't requested any Subprotocol. Closing Connection")
		_ = transport.Close()
		return
	}
	if conn.Subprotocol() == "" {
		s.logger.Warnf("Protocols Mismatched | Expected Subprotocols: %v, but client supports %v | Closing connection",
			s.cfg.Subprotocols, requested)
		_ = transport.Close()
		return
	}
	s.logger.Infof("Protocols Matched: %s", conn.Subprotocol())

	id := strings.Trim(r.URL.Path, "/")
	cfg := s.cfg.Session
	cfg.Subprotocol = conn.Subprotocol()
	cs, err := session.New(id, transport, cfg)
	if err != nil {
		s.logger.WithError(err).WithField("path", r.URL.Path).Warn("rejecting connection")
		_ = transport.Close()
		return
	}
	if s.cfg.OnConnect != nil {
		s.cfg.OnConnect(cs)
	}
	cs.Logger().WithField("remote", r.RemoteAddr).Infof("ChargePoint %s connected", id)

	if s.cfg.Command != "" {
		if err := cs.ScheduleCommand(s.cfg.Command, s.cfg.Delay, s.cfg.Period); err != nil {
			cs.Logger().WithError(err).Error("cannot schedule command")
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := cs.Start(s.ctx); err != nil {
			cs.Logger().WithError(err).Debug("session ended")
		}
		if s.cfg.OnDisconnect != nil {
			s.cfg.OnDisconnect(cs)
		}
	}()
}

// Shutdown closes every session and waits for their receive loops to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	s.cfg.Session.Registry.CloseAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Annotate(ctx.Err(), "waiting for sessions")
	}
}
