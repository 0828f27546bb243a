package broker

import "github.com/linemq/lmq/parser"

// Command is a message on the Router's inbound queue. Connection handlers
// produce commands; only the Router consumes them.
type Command interface {
	isCommand()
}

// InitClient registers a freshly accepted client and its outbound mailbox
type InitClient struct {
	ClientID uint32
	Mailbox  chan<- Event
}

// Connect marks a registered client as connected and records its options
type Connect struct {
	ClientID uint32
	Opts     parser.ConnectOptions
}

// Subscribe binds a client to a subject under a subscription id
type Subscribe struct {
	ClientID       uint32
	Subject        string
	SubscriptionID string
}

// Unsubscribe removes one client from a subscription id
type Unsubscribe struct {
	ClientID       uint32
	SubscriptionID string
}

// Publish fans a message out to every subscriber of the subject
type Publish struct {
	Subject string
	Msg     []byte
}

// Disconnect retires a client and tears down its subscriptions
type Disconnect struct {
	ClientID uint32
}

// Shutdown stops the Router loop. As an Event it tells a handler the
// broker is winding down.
type Shutdown struct{}

func (InitClient) isCommand()  {}
func (Connect) isCommand()     {}
func (Subscribe) isCommand()   {}
func (Unsubscribe) isCommand() {}
func (Publish) isCommand()     {}
func (Disconnect) isCommand()  {}
func (Shutdown) isCommand()    {}

// Event is a message on a client's outbound mailbox, produced by the
// Router and consumed by that client's connection handler.
type Event interface {
	isEvent()
}

// PublishedMessage is one subscriber's copy of a published message. The
// subscription id it was matched under is echoed so the client can
// demultiplex.
type PublishedMessage struct {
	Subject        string
	SubscriptionID string
	Msg            []byte
}

func (PublishedMessage) isEvent() {}
func (Shutdown) isEvent()         {}
