package broker

import (
	"sync/atomic"

	"github.com/linemq/lmq/pkg/logger"
)

// DefaultCommandQueueSize bounds the Router's inbound command queue
const DefaultCommandQueueSize = 1024

// Router owns the subscription index and the table of connected clients.
// All index mutations happen inside the Run loop, so none of the maps
// need locking.
//
// Subscription ids are client-chosen labels. They are kept as global index
// keys, as in the wire protocol's reference behavior: two clients using
// the same id on different subjects share one index entry, which widens
// the fan-out for both.
type Router struct {
	commands chan Command
	done     chan struct{}

	// client table: ClientId -> outbound mailbox + state
	clients map[uint32]*client

	// four-way subscription index; see the invariants exercised in tests
	subjectToSID map[string]map[string]struct{}
	sidToSubject map[string]map[string]struct{}
	sidToClient  map[string]map[uint32]struct{}
	clientToSID  map[uint32]map[string]struct{}

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64

	log *logger.Logger
}

// NewRouter creates a Router with a bounded command queue. queueSize <= 0
// falls back to DefaultCommandQueueSize.
func NewRouter(queueSize int, log *logger.Logger) *Router {
	if queueSize <= 0 {
		queueSize = DefaultCommandQueueSize
	}

	return &Router{
		commands:     make(chan Command, queueSize),
		done:         make(chan struct{}),
		clients:      make(map[uint32]*client),
		subjectToSID: make(map[string]map[string]struct{}),
		sidToSubject: make(map[string]map[string]struct{}),
		sidToClient:  make(map[string]map[uint32]struct{}),
		clientToSID:  make(map[uint32]map[string]struct{}),
		log:          log.With("component", "router"),
	}
}

// Dispatch queues a command for the Run loop. It blocks while the queue is
// full and reports false once the Router has shut down.
func (r *Router) Dispatch(cmd Command) bool {
	select {
	case <-r.done:
		return false
	default:
	}

	select {
	case r.commands <- cmd:
		return true
	case <-r.done:
		return false
	}
}

// Done is closed when the Run loop has exited
func (r *Router) Done() <-chan struct{} {
	return r.done
}

// Run consumes the command queue until a Shutdown command arrives. It is
// the single goroutine allowed to touch the client table and the index.
func (r *Router) Run() {
	defer close(r.done)

	for cmd := range r.commands {
		switch c := cmd.(type) {
		case InitClient:
			r.processInitClient(c)
		case Connect:
			r.processConnect(c)
		case Subscribe:
			r.processSubscribe(c)
		case Unsubscribe:
			r.processUnsubscribe(c)
		case Publish:
			r.processPublish(c)
		case Disconnect:
			r.processDisconnect(c)
		case Shutdown:
			r.processShutdown()
			return
		default:
			r.log.Warn("unknown command", "command", cmd)
		}
	}
}

func (r *Router) processInitClient(c InitClient) {
	r.clients[c.ClientID] = &client{mailbox: c.Mailbox}
	r.log.Debug("client initialised", "client_id", c.ClientID, "clients", len(r.clients))
}

func (r *Router) processConnect(c Connect) {
	cl, ok := r.clients[c.ClientID]
	if !ok {
		r.log.Warn("connect for unknown client", "client_id", c.ClientID)
		return
	}

	cl.state = ClientState{
		Connected: true,
		Verbose:   c.Opts.Verbose,
	}
	r.log.Debug("client connected",
		"client_id", c.ClientID,
		"verbose", c.Opts.Verbose,
		"clients", len(r.clients))
}

func (r *Router) processSubscribe(c Subscribe) {
	insertSet(r.subjectToSID, c.Subject, c.SubscriptionID)
	insertSet(r.sidToSubject, c.SubscriptionID, c.Subject)
	insertSet(r.sidToClient, c.SubscriptionID, c.ClientID)
	insertSet(r.clientToSID, c.ClientID, c.SubscriptionID)

	r.log.Debug("subscribed",
		"client_id", c.ClientID,
		"subject", c.Subject,
		"sid", c.SubscriptionID)
}

func (r *Router) processUnsubscribe(c Unsubscribe) {
	if sids, ok := r.clientToSID[c.ClientID]; ok {
		delete(sids, c.SubscriptionID)
		if len(sids) == 0 {
			delete(r.clientToSID, c.ClientID)
		}
	}

	cids, ok := r.sidToClient[c.SubscriptionID]
	if ok {
		delete(cids, c.ClientID)
		if len(cids) > 0 {
			return
		}
		delete(r.sidToClient, c.SubscriptionID)
	}

	r.collectSubscriptionID(c.SubscriptionID)
	r.log.Debug("unsubscribed", "client_id", c.ClientID, "sid", c.SubscriptionID)
}

// collectSubscriptionID removes a subscription id with no remaining
// clients from the subject-side mappings
func (r *Router) collectSubscriptionID(sid string) {
	subjects, ok := r.sidToSubject[sid]
	if !ok {
		return
	}

	for subject := range subjects {
		if sids, ok := r.subjectToSID[subject]; ok {
			delete(sids, sid)
			if len(sids) == 0 {
				delete(r.subjectToSID, subject)
			}
		}
	}
	delete(r.sidToSubject, sid)
}

func (r *Router) processPublish(c Publish) {
	r.published.Add(1)

	sids, ok := r.subjectToSID[c.Subject]
	if !ok {
		r.log.Warn("no subscriptions for subject", "subject", c.Subject)
		return
	}

	for sid := range sids {
		cids, ok := r.sidToClient[sid]
		if !ok {
			r.log.Warn("no clients for subscription id", "sid", sid)
			continue
		}

		for cid := range cids {
			cl, ok := r.clients[cid]
			if !ok {
				r.log.Warn("no mailbox for client", "client_id", cid)
				continue
			}

			ev := PublishedMessage{
				Subject:        c.Subject,
				SubscriptionID: sid,
				Msg:            c.Msg,
			}

			// at-most-once: a full mailbox drops this recipient's copy
			select {
			case cl.mailbox <- ev:
				r.delivered.Add(1)
				r.log.Debug("delivered message",
					"client_id", cid,
					"subject", c.Subject,
					"sid", sid)
			default:
				r.dropped.Add(1)
				r.log.Warn("mailbox full, dropping message",
					"client_id", cid,
					"subject", c.Subject)
			}
		}
	}
}

func (r *Router) processDisconnect(c Disconnect) {
	delete(r.clients, c.ClientID)

	for sid := range r.clientToSID[c.ClientID] {
		cids, ok := r.sidToClient[sid]
		if !ok {
			continue
		}

		delete(cids, c.ClientID)
		if len(cids) > 0 {
			continue
		}
		delete(r.sidToClient, sid)

		r.collectSubscriptionID(sid)
	}
	delete(r.clientToSID, c.ClientID)

	r.log.Debug("client disconnected", "client_id", c.ClientID, "clients", len(r.clients))
}

func (r *Router) processShutdown() {
	r.log.Info("router shutting down", "clients", len(r.clients))

	for cid, cl := range r.clients {
		select {
		case cl.mailbox <- Shutdown{}:
		default:
			r.log.Warn("mailbox full, shutdown event dropped", "client_id", cid)
		}
	}
}

// Stats is a point-in-time snapshot of the Router's counters
type Stats struct {
	Published uint64
	Delivered uint64
	Dropped   uint64
}

// Stats returns the fan-out counters. Safe to call from any goroutine.
func (r *Router) Stats() Stats {
	return Stats{
		Published: r.published.Load(),
		Delivered: r.delivered.Load(),
		Dropped:   r.dropped.Load(),
	}
}

func insertSet[K comparable, V comparable](m map[K]map[V]struct{}, key K, value V) {
	set, ok := m[key]
	if !ok {
		set = make(map[V]struct{})
		m[key] = set
	}
	set[value] = struct{}{}
}
