package amqp

// eventListeners holds every typed listener slice a Connection can fan an
// event out to. Deliberately plain slices invoked synchronously by the
// goroutine that raises the event (see Connection) — not the teacher's
// internal/pubsub.PubSub, whose
// channel+goroutine fan-out would let two listeners for the same event
// interleave across goroutines, violating spec.md §5's single-threaded
// cooperative execution guarantee.
type eventListeners struct {
	onReady     []func()
	onBlocked   []func(reason string)
	onUnblocked []func()
	onClose     []func(err *Error)
	onError     []func(err *Error)
}

// OnReady registers a callback invoked once the connection completes its
// handshake (including every reconnect).
func (c *Connection) OnReady(fn func()) {
	c.listeners.onReady = append(c.listeners.onReady, fn)
}

// OnBlocked registers a callback for Connection.Blocked (broker-side flow
// control, e.g. low disk/memory alarms).
func (c *Connection) OnBlocked(fn func(reason string)) {
	c.listeners.onBlocked = append(c.listeners.onBlocked, fn)
}

// OnUnblocked registers a callback for Connection.Unblocked.
func (c *Connection) OnUnblocked(fn func()) {
	c.listeners.onUnblocked = append(c.listeners.onUnblocked, fn)
}

// OnClose registers a callback invoked when the connection terminates,
// whether by a local Disconnect, a transport error, or a server close.
func (c *Connection) OnClose(fn func(err *Error)) {
	c.listeners.onClose = append(c.listeners.onClose, fn)
}

// OnError registers a callback invoked for every fatal error the
// connection observes, ahead of OnClose.
func (c *Connection) OnError(fn func(err *Error)) {
	c.listeners.onError = append(c.listeners.onError, fn)
}

// OnReturn registers a callback invoked with each message the broker
// sends back via Basic.Return.
func (ch *Channel) OnReturn(fn func(Delivery)) {
	ch.onReturn = append(ch.onReturn, fn)
}

// OnFlow registers a callback for Channel.Flow notifications from the
// broker (passive flow-control signal, spec.md's flow-control Non-goal
// covers anything beyond acknowledging it).
func (ch *Channel) OnFlow(fn func(active bool)) {
	ch.onFlow = append(ch.onFlow, fn)
}

// OnClose registers a callback invoked when the channel is closed, either
// locally or by the server.
func (ch *Channel) OnClose(fn func(err *Error)) {
	ch.onClose = append(ch.onClose, fn)
}
