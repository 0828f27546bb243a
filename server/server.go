package server

import (
	"net"
	"time"

	"github.com/linemq/lmq/broker"
	"github.com/linemq/lmq/config"
	"github.com/linemq/lmq/network"
	"github.com/linemq/lmq/pkg/logger"
)

// handlerJoinTimeout caps the wait per handler session on shutdown;
// laggards are abandoned since the process is exiting
const handlerJoinTimeout = 5 * time.Second

// Server ties the Router actor, the listener, and the connection
// registry into one runnable broker.
type Server struct {
	router   *broker.Router
	registry *network.Registry
	listener *network.Listener

	log *logger.Logger
}

func New(cfg *config.Config, log *logger.Logger) (*Server, error) {
	router := broker.NewRouter(cfg.Limits.CommandQueueSize, log)
	registry := network.NewRegistry(cfg.Limits.MaxConnections)

	listenerConfig := network.DefaultListenerConfig(cfg.Listener)
	listenerConfig.MaxConnections = cfg.Limits.MaxConnections
	listenerConfig.MailboxSize = cfg.Limits.MailboxSize

	listener, err := network.NewListener(listenerConfig, router, registry, log)
	if err != nil {
		return nil, err
	}

	return &Server{
		router:   router,
		registry: registry,
		listener: listener,
		log:      log,
	}, nil
}

// Start runs the Router actor and binds the listener. A bind failure
// stops the Router again and is returned.
func (s *Server) Start() error {
	go s.router.Run()

	if err := s.listener.Start(); err != nil {
		s.router.Dispatch(broker.Shutdown{})
		<-s.router.Done()
		return err
	}

	return nil
}

// Addr returns the bound listener address, or nil before Start
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Stats returns the Router's fan-out counters
func (s *Server) Stats() broker.Stats {
	return s.router.Stats()
}

// Shutdown stops accepting, winds the Router down (which broadcasts a
// shutdown event to every client mailbox), then joins handler sessions
// with a bounded per-handler wait.
func (s *Server) Shutdown() {
	s.log.Info("shutting down")

	if err := s.listener.Close(); err != nil {
		s.log.Error("error closing listener", "error", err)
	}

	s.router.Dispatch(broker.Shutdown{})
	<-s.router.Done()

	s.registry.Join(handlerJoinTimeout, s.log)
	s.log.Info("shutdown complete")
}
