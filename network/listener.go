package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/linemq/lmq/broker"
	"github.com/linemq/lmq/pkg/logger"
)

type ListenerConfig struct {
	Address        string
	AcceptTimeout  time.Duration
	MaxConnections int
	MailboxSize    int
}

func DefaultListenerConfig(address string) *ListenerConfig {
	return &ListenerConfig{
		Address:        address,
		AcceptTimeout:  5 * time.Second,
		MaxConnections: 10000,
		MailboxSize:    DefaultMailboxSize,
	}
}

// Listener accepts client sockets and runs a Handler session per
// connection
type Listener struct {
	config   *ListenerConfig
	listener net.Listener
	router   *broker.Router
	registry *Registry

	accepted atomic.Uint64
	rejected atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closed    atomic.Bool
	closeOnce sync.Once

	log *logger.Logger
}

func NewListener(config *ListenerConfig, router *broker.Router, registry *Registry, log *logger.Logger) (*Listener, error) {
	if config == nil || config.Address == "" {
		return nil, ErrInvalidAddress
	}

	if registry == nil {
		registry = NewRegistry(config.MaxConnections)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Listener{
		config:   config,
		router:   router,
		registry: registry,
		ctx:      ctx,
		cancel:   cancel,
		log:      log.With("component", "listener"),
	}, nil
}

// Start binds the address and begins accepting. A bind failure is
// returned to the caller; it is fatal at startup.
func (l *Listener) Start() error {
	if l.closed.Load() {
		return ErrListenerClosed
	}

	listener, err := net.Listen("tcp", l.config.Address)
	if err != nil {
		return fmt.Errorf("failed to start listener: %w", err)
	}
	l.listener = listener

	l.log.Info("listening", "address", listener.Addr().String())

	l.wg.Add(1)
	go l.acceptLoop()

	return nil
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()

	for {
		select {
		case <-l.ctx.Done():
			return
		default:
		}

		if l.config.AcceptTimeout > 0 {
			if tcpListener, ok := l.listener.(*net.TCPListener); ok {
				_ = tcpListener.SetDeadline(time.Now().Add(l.config.AcceptTimeout))
			}
		}

		netConn, err := l.listener.Accept()
		if err != nil {
			if l.closed.Load() {
				return
			}

			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}

			l.log.Error("accept error", "error", err)
			continue
		}

		l.handleConnection(netConn)
	}
}

func (l *Listener) handleConnection(netConn net.Conn) {
	conn := NewConnection(netConn, uuid.NewString())
	handler := NewHandler(conn, l.router, l.config.MailboxSize, l.log)

	if err := l.registry.Add(conn, handler.Done()); err != nil {
		l.log.Warn("rejecting connection", "error", err, "remote", netConn.RemoteAddr())
		_ = conn.Close()
		l.rejected.Add(1)
		return
	}

	l.accepted.Add(1)
	l.log.Debug("accepted connection",
		"conn_id", conn.ID(),
		"client_id", handler.ClientID(),
		"remote", netConn.RemoteAddr())

	go func() {
		defer func() { _ = l.registry.Remove(conn.ID()) }()
		handler.Serve()
	}()
}

// Close stops the accept loop. Running handler sessions are left to the
// shutdown path, which joins them through the registry.
func (l *Listener) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}

	var err error
	l.closeOnce.Do(func() {
		l.cancel()

		if l.listener != nil {
			err = l.listener.Close()
		}

		l.wg.Wait()
	})

	return err
}

// Addr returns the bound address, or nil before Start
func (l *Listener) Addr() net.Addr {
	if l.listener != nil {
		return l.listener.Addr()
	}
	return nil
}

func (l *Listener) Stats() ListenerStats {
	return ListenerStats{
		Accepted: l.accepted.Load(),
		Rejected: l.rejected.Load(),
		Active:   uint64(l.registry.Len()),
	}
}

type ListenerStats struct {
	Accepted uint64
	Rejected uint64
	Active   uint64
}
