// Package keepalive implements the idle-channel ping probe: once the
// channel has been quiet for PingThreshold, send a confirmable PING; while
// that PING is outstanding, report a timeout once the time since the last
// inbound message exceeds AckThreshold, so the orchestrator can tear down
// the session.
package keepalive

import (
	"time"

	"github.com/alxayo/devlink/internal/metrics"
	"github.com/alxayo/devlink/internal/protoerr"
)

// Thresholds from ping.h's Pinger::process, unchanged: probe after 15s of
// silence; with a probe outstanding, time out once the silence exceeds 10s.
const (
	PingThreshold = 15000 * time.Millisecond
	AckThreshold  = 10000 * time.Millisecond
)

// Pinger tracks whether a PING is currently outstanding and decides, given
// the time since the last inbound message, whether to send a new probe or
// report a timeout. It does not send or receive anything itself — the
// orchestrator calls Process each event-loop tick and acts on the result.
type Pinger struct {
	expectingAck bool
	metrics      *metrics.Registry
}

func New(reg *metrics.Registry) *Pinger { return &Pinger{metrics: reg} }

// Action tells the caller what to do after a Process call.
type Action uint8

const (
	ActionNone Action = iota
	ActionSendPing
	ActionTimeout
)

// Process mirrors Pinger::process: sinceLastMessage is the elapsed time
// since any message (not just a PING reply) was last received on this
// channel.
func (p *Pinger) Process(sinceLastMessage time.Duration) (Action, error) {
	if p.expectingAck {
		if sinceLastMessage > AckThreshold {
			return ActionTimeout, protoerr.NewProtocolError("keepalive.process", protoerr.ErrPingTimeout)
		}
		p.expectingAck = false
		return ActionNone, nil
	}
	if sinceLastMessage > PingThreshold {
		p.expectingAck = true
		if p.metrics != nil {
			p.metrics.KeepalivePingsSent.Inc()
		}
		return ActionSendPing, nil
	}
	return ActionNone, nil
}

// IsExpectingAck reports whether a PING is currently outstanding.
func (p *Pinger) IsExpectingAck() bool { return p.expectingAck }

// NoteMessageReceived should be called whenever any message (ACK or
// otherwise) arrives, clearing the outstanding-ping flag — any inbound
// traffic counts as liveness, matching the original "not only the ping ack
// counts" comment in ping.cpp's test suite.
func (p *Pinger) NoteMessageReceived() { p.expectingAck = false }

// Timeout records a keepalive timeout in the metrics registry; callers
// invoke this once Process returns ActionTimeout and they've acted on it
// (e.g. torn down the session).
func (p *Pinger) Timeout() {
	if p.metrics != nil {
		p.metrics.KeepaliveTimeoutsTotal.Inc()
	}
}
