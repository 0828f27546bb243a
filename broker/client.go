package broker

// ClientState is the per-client metadata held by the Router
type ClientState struct {
	Connected bool
	Verbose   bool
}

// client pairs a registered client's outbound mailbox with its state
type client struct {
	mailbox chan<- Event
	state   ClientState
}
