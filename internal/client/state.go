package client

// ConnState is the session's connection lifecycle state.
type ConnState int32

const (
	// StateDisconnected is the initial state, re-entered between
	// retry attempts while the retry budget lasts.
	StateDisconnected ConnState = iota
	// StateConnecting means a dial is in flight.
	StateConnecting
	// StateConnected means the socket is open but no frame has been
	// admitted yet in this epoch.
	StateConnected
	// StateStreaming means at least one frame of the current epoch
	// has been admitted.
	StateStreaming
	// StateFailed is terminal after retry exhaustion. Only a manual
	// reconnect leaves it.
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateStreaming:
		return "streaming"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// event is a transition input for the session state machine. All
// events are handled on the session's run goroutine; events carrying a
// connection generation are discarded when the generation is stale.
type event interface {
	event()
}

// evOpen reports a successful dial.
type evOpen struct {
	gen  uint64
	conn Conn
}

// evMessage carries one raw inbound message.
type evMessage struct {
	gen  uint64
	data []byte
}

// evTransportError reports a transport failure. It never transitions
// the state machine itself; the evClosed that always follows does.
type evTransportError struct {
	gen uint64
	err error
}

// evClosed reports that the connection of the given generation is
// gone, whether it ever opened or not.
type evClosed struct {
	gen uint64
	err error
}

// evRetryFire is posted by the retry timer.
type evRetryFire struct {
	gen uint64
}

// evManualReconnect is the operator's reconnect command.
type evManualReconnect struct{}

func (evOpen) event()            {}
func (evMessage) event()         {}
func (evTransportError) event()  {}
func (evClosed) event()          {}
func (evRetryFire) event()       {}
func (evManualReconnect) event() {}
