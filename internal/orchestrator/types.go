// Package orchestrator implements the device-side protocol state machine:
// handshake sequencing (including session resume), the request-dispatch
// table (HELLO/DESCRIBE/FUNCTION_CALL/VARIABLE_REQUEST/EVENT/chunked-OTA/
// SIGNAL/TIME/PING/KEY_CHANGE) and the reply-side ack/error bookkeeping,
// grounded on protocol.cpp's Protocol::begin/event_loop/handle_received_message.
package orchestrator

import (
	"context"
	"time"

	"github.com/alxayo/devlink/internal/coap"
	"github.com/alxayo/devlink/internal/store"
)

// State mirrors Protocol's connection lifecycle.
type State uint8

const (
	StateInit State = iota
	StateHandshake
	StateSessionResumed
	StateOperational
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateHandshake:
		return "HANDSHAKE"
	case StateSessionResumed:
		return "SESSION_RESUMED"
	case StateOperational:
		return "OPERATIONAL"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// EstablishResult is what SecureChannel.Establish reports, mirroring the
// two outcomes coap_channel.h's establish() can hand back: a brand new
// channel, or one that resumed a previously persisted session.
type EstablishResult uint8

const (
	EstablishNew EstablishResult = iota
	EstablishResumed
)

// SecureChannel is the boundary to the "external collaborator" spec.md §1
// calls out: real cryptographic session establishment (the embedded
// DTLS-over-datagrams library) lives entirely behind this interface.
// internal/channel's ReliableChannel supplies Send, SendTracked, Receive,
// Close, IsUnreliable and Tick; a concrete
// implementation additionally drives whatever session-resumption protocol
// the transport uses.
type SecureChannel interface {
	coapSender
	// SendTracked is like Send but reports the fate of a confirmable
	// request (acknowledged, reset, or given up on) once it's known,
	// letting handle's reply-side dispatch correlate a response back to
	// the request that caused it.
	SendTracked(ctx context.Context, msg *coap.Message, delivered store.DeliveredFunc) error
	Receive(ctx context.Context) (*coap.Message, error)
	Close() error
	IsUnreliable() bool
	// Tick drives retransmission housekeeping for any confirmable message
	// still awaiting an ack; the orchestrator calls it once per idle tick.
	Tick(ctx context.Context) error

	// Establish (re)connects the underlying transport and reports whether
	// a previous session was resumed.
	Establish(ctx context.Context) (EstablishResult, error)
	// MoveSession tells the transport to carry over the resumed session's
	// cryptographic state onto the new connection (coap_channel.h's
	// MOVE_SESSION command).
	MoveSession(ctx context.Context) error
	// SaveSession / LoadSession / DiscardSession mirror the remaining
	// PERSIST_SESSION command verbs: persist the session now, reload the
	// last persisted one, or drop it entirely (KEY_CHANGE handling).
	SaveSession(ctx context.Context) error
	LoadSession(ctx context.Context) error
	DiscardSession(ctx context.Context) error
	// Established notifies the transport that the handshake (Hello
	// exchange) has fully completed.
	Established(ctx context.Context) error
}

type coapSender interface {
	Send(ctx context.Context, msg *coap.Message) error
}

// Descriptor is the application-supplied callback surface: spark_descriptor.h's
// function pointer table, minus the function/variable lookups (those are
// internal/handlers' job) and minus the firmware storage hooks (those are
// internal/chunked's job).
type Descriptor interface {
	// Signal is invoked on SIGNAL_START (on=true) / SIGNAL_STOP (on=false).
	Signal(on bool, param uint32)
	// SetTime pushes a TIME response's Unix timestamp to the platform clock.
	SetTime(unixSeconds uint32)
	// OTASucceeded reports the "OTA previously succeeded" flag Hello's
	// flags byte carries, and is acknowledged back via AckOTA once the
	// cloud's HELLO response arrives.
	OTASucceeded() bool
	AckOTA()
	// InvalidateAppState is called when a resumed session's cached
	// app-state checksum no longer matches (app_state_selector_info with
	// op=RESET), forcing a fresh Hello/Describe exchange.
	InvalidateAppState()
	// SystemInfo renders the binary block for a METRICS-only DESCRIBE.
	SystemInfo() []byte
}

// DeviceIdentity bundles the fields Hello needs, mirroring spark_protocol's
// platform/product/device-id triple.
type DeviceIdentity struct {
	DeviceID               [12]byte
	PlatformID             uint16
	ProductID              uint16
	ProductFirmwareVersion uint16
}

// Clock returns the current time; the orchestrator uses it to measure how
// long the channel has been idle for the keepalive pinger.
type Clock func() time.Time
