package amqp

import (
	"time"

	"github.com/packetd/amqpcore/internal/fasttime"
)

// heartbeatSupervisor runs the outbound heartbeat timer and watches for
// inbound silence, per spec.md §4.6. Grounded on
// other_examples/ce786653_chenggangschool-amqp__connection.go.go's
// heartbeater goroutine (interval ticker + last-send tracking), extended
// with the inbound 2x-interval grace window and the
// heartbeatForceReconnect option spec.md adds beyond that reference.
type heartbeatSupervisor struct {
	conn     *Connection
	interval time.Duration

	forceReconnect bool

	lastSend     int64 // unix seconds, fasttime-cached
	lastActivity int64

	stopCh chan struct{}
}

func newHeartbeatSupervisor(conn *Connection, interval time.Duration, forceReconnect bool) *heartbeatSupervisor {
	now := fasttime.UnixTimestamp()
	return &heartbeatSupervisor{
		conn:           conn,
		interval:       interval,
		forceReconnect: forceReconnect,
		lastSend:       now,
		lastActivity:   now,
		stopCh:         make(chan struct{}),
	}
}

func (h *heartbeatSupervisor) start() {
	go h.loop()
}

func (h *heartbeatSupervisor) stop() {
	select {
	case <-h.stopCh:
	default:
		close(h.stopCh)
	}
}

// loop fires roughly every interval/2 so a missed tick doesn't
// immediately blow the grace window, mirroring chenggangschool-amqp's
// heartbeater jitter tolerance.
func (h *heartbeatSupervisor) loop() {
	tick := time.NewTicker(h.interval / 2)
	defer tick.Stop()
	grace := int64(h.interval.Seconds()) * 2

	for {
		select {
		case <-h.stopCh:
			return
		case <-tick.C:
			now := fasttime.UnixTimestamp()
			if now-h.lastSend >= int64(h.interval.Seconds()) {
				if err := h.conn.writeFrame(encodeHeartbeatFrame()); err != nil {
					h.conn.terminate(err.(*Error))
					return
				}
				h.lastSend = now
				observeHeartbeatSent()
			}
			if now-h.lastActivity > grace {
				observeHeartbeatMissed()
				err := errHeartbeatTimeout(int(grace))
				if h.forceReconnect {
					h.conn.terminate(err)
					return
				}
				h.conn.log.Warnf("heartbeat grace period exceeded (%ds); heartbeatForceReconnect is false, leaving connection up", grace)
			}
		}
	}
}

// noteActivity is called from the read loop on every successful socket
// read, independent of frame type — any inbound byte counts as liveness.
func (h *heartbeatSupervisor) noteActivity() {
	h.lastActivity = fasttime.UnixTimestamp()
}

// noteHeartbeatReceived is redundant with noteActivity but kept distinct
// so metrics can separately count heartbeat frames.
func (h *heartbeatSupervisor) noteHeartbeatReceived() {
	h.lastActivity = fasttime.UnixTimestamp()
}

func (h *heartbeatSupervisor) noteSend() {
	// writeFrame calls this for every outbound frame, not just
	// heartbeats, so a busy publisher never trips the outbound timer
	// unnecessarily.
	h.lastSend = fasttime.UnixTimestamp()
}
