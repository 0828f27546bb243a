package network

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"strconv"
	"sync/atomic"

	"github.com/linemq/lmq/broker"
	"github.com/linemq/lmq/parser"
	"github.com/linemq/lmq/pkg/logger"
)

// DefaultMailboxSize bounds a client's outbound mailbox
const DefaultMailboxSize = 100

const readBufferSize = 4096

// clientSeq mints process-wide client ids. Wrap-around is not defended
// against.
var clientSeq atomic.Uint32

func nextClientID() uint32 {
	return clientSeq.Add(1)
}

// Handler owns one client session: it reads the socket, feeds the parser,
// forwards commands to the Router, and writes protocol responses plus
// messages delivered through its mailbox.
//
// The handler mirrors the connected and verbose flags locally when it
// forwards CONNECT; the Router keeps the authoritative copy.
type Handler struct {
	conn    *Connection
	router  *broker.Router
	request *parser.Parser

	clientID uint32
	mailbox  chan broker.Event

	connected bool
	verbose   bool

	done chan struct{}
	log  *logger.Logger
}

// NewHandler mints a client id and prepares a session for conn.
// mailboxSize <= 0 falls back to DefaultMailboxSize.
func NewHandler(conn *Connection, router *broker.Router, mailboxSize int, log *logger.Logger) *Handler {
	if mailboxSize <= 0 {
		mailboxSize = DefaultMailboxSize
	}

	clientID := nextClientID()

	return &Handler{
		conn:     conn,
		router:   router,
		request:  parser.New(),
		clientID: clientID,
		mailbox:  make(chan broker.Event, mailboxSize),
		done:     make(chan struct{}),
		log:      log.With("client_id", clientID),
	}
}

// ClientID returns the id minted for this session
func (h *Handler) ClientID() uint32 {
	return h.clientID
}

// Done is closed when Serve returns
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

// Serve runs the session until the socket closes or the broker shuts
// down. It blocks; run it in its own goroutine.
func (h *Handler) Serve() {
	defer close(h.done)
	defer h.conn.Close()

	if err := h.greet(); err != nil {
		h.log.Error("error writing greeting", "error", err)
		return
	}

	if !h.router.Dispatch(broker.InitClient{ClientID: h.clientID, Mailbox: h.mailbox}) {
		return
	}

	readCh := make(chan []byte)
	go h.readLoop(readCh)

	for {
		select {
		case buf, ok := <-readCh:
			if !ok {
				// socket EOF or read error
				h.router.Dispatch(broker.Disconnect{ClientID: h.clientID})
				h.log.Debug("input stream closed")
				return
			}
			h.handleInput(buf)

		case ev := <-h.mailbox:
			switch e := ev.(type) {
			case broker.PublishedMessage:
				h.writeMessage(e)
			case broker.Shutdown:
				// the Router is winding down; no Disconnect needed
				return
			default:
				h.log.Warn("unexpected event", "event", ev)
			}
		}
	}
}

// readLoop feeds socket reads to Serve. It exits on EOF, read error, or
// connection close.
func (h *Handler) readLoop(out chan<- []byte) {
	defer close(out)

	buf := make([]byte, readBufferSize)
	for {
		n, err := h.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			select {
			case out <- chunk:
			case <-h.conn.CloseChan():
				return
			}
		}
		if err != nil {
			if !isClosedErr(err) {
				h.log.Error("read error", "error", err)
			}
			return
		}
	}
}

func isClosedErr(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, ErrConnectionClosed)
}

// handleInput runs the parser over one read's worth of bytes, dispatching
// every completed command. A parse error answers -ERR once, skips the rest
// of the offending line, and resumes after it; the parser has already
// reset itself.
func (h *Handler) handleInput(buf []byte) {
	rest := buf
	for len(rest) > 0 {
		cmd, consumed, err := h.request.Parse(rest)
		if err != nil {
			h.log.Debug("parse error", "error", err)
			h.write([]byte("-ERR\n"))
			end := consumed
			for end < len(rest) && rest[end] != '\n' {
				end++
			}
			rest = advance(rest, end+1)
			continue
		}

		if cmd.Op == parser.Noop {
			// out of input mid-command; the parser kept its state
			return
		}

		h.handleCommand(cmd)
		rest = advance(rest, consumed+1)
	}
}

func advance(buf []byte, n int) []byte {
	if n >= len(buf) {
		return nil
	}
	return buf[n:]
}

func (h *Handler) handleCommand(cmd parser.Command) {
	h.log.Debug("command", "op", cmd.Op)

	if cmd.Op != parser.Connect && !h.connected {
		h.write([]byte("-ERR\n"))
		return
	}

	switch cmd.Op {
	case parser.Connect:
		h.router.Dispatch(broker.Connect{ClientID: h.clientID, Opts: cmd.Opts})
		h.connected = true
		h.verbose = cmd.Opts.Verbose
		if h.verbose {
			h.write([]byte("+OK\r\n"))
		}

	case parser.Ping:
		h.write([]byte("PONG\r\n"))

	case parser.Pub:
		h.router.Dispatch(broker.Publish{Subject: cmd.Subject, Msg: cmd.Msg})
		if h.verbose {
			h.write([]byte("+OK\n"))
		}

	case parser.Sub:
		h.router.Dispatch(broker.Subscribe{
			ClientID:       h.clientID,
			Subject:        cmd.Subject,
			SubscriptionID: cmd.ID,
		})
		if h.verbose {
			h.write([]byte("+OK\n"))
		}

	case parser.Unsub:
		h.router.Dispatch(broker.Unsubscribe{
			ClientID:       h.clientID,
			SubscriptionID: cmd.ID,
		})
		if h.verbose {
			h.write([]byte("+OK\n"))
		}

	case parser.Pong, parser.Noop:
		// no reply
	}
}

// writeMessage frames one delivery: MSG <subject> <sid> <len>\r\n<payload>\n
func (h *Handler) writeMessage(msg broker.PublishedMessage) {
	frame := make([]byte, 0, len(msg.Subject)+len(msg.SubscriptionID)+len(msg.Msg)+24)
	frame = append(frame, "MSG "...)
	frame = append(frame, msg.Subject...)
	frame = append(frame, ' ')
	frame = append(frame, msg.SubscriptionID...)
	frame = append(frame, ' ')
	frame = strconv.AppendInt(frame, int64(len(msg.Msg)), 10)
	frame = append(frame, '\r', '\n')
	frame = append(frame, msg.Msg...)
	frame = append(frame, '\n')

	h.write(frame)
}

// greet writes the INFO line sent once on accept
func (h *Handler) greet() error {
	info := struct {
		Hostname string `json:"hostname"`
		Port     int    `json:"port"`
		ClientIP string `json:"client_ip"`
	}{}

	if addr, ok := h.conn.LocalAddr().(*net.TCPAddr); ok {
		info.Hostname = addr.IP.String()
		info.Port = addr.Port
	}
	if addr, ok := h.conn.RemoteAddr().(*net.TCPAddr); ok {
		info.ClientIP = addr.IP.String()
	}

	payload, err := json.Marshal(info)
	if err != nil {
		return err
	}

	frame := make([]byte, 0, len(payload)+6)
	frame = append(frame, "INFO "...)
	frame = append(frame, payload...)
	frame = append(frame, '\n')

	_, err = h.conn.Write(frame)
	return err
}

func (h *Handler) write(b []byte) {
	if _, err := h.conn.Write(b); err != nil && !isClosedErr(err) {
		h.log.Error("write error", "error", err)
	}
}
