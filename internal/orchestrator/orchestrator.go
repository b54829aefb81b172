package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rs/xid"

	"github.com/alxayo/devlink/internal/chunked"
	"github.com/alxayo/devlink/internal/coap"
	"github.com/alxayo/devlink/internal/config"
	"github.com/alxayo/devlink/internal/handlers"
	"github.com/alxayo/devlink/internal/keepalive"
	"github.com/alxayo/devlink/internal/logger"
	"github.com/alxayo/devlink/internal/metrics"
	"github.com/alxayo/devlink/internal/protoerr"
	"github.com/alxayo/devlink/internal/pubsub"
	"github.com/alxayo/devlink/internal/session"
	"github.com/alxayo/devlink/internal/store"
)

// helloResponseTimeout bounds how long begin() waits for the cloud's HELLO
// reply when RequireHelloResponse is set.
const helloResponseTimeout = 4000 * time.Millisecond

// Orchestrator drives one device-to-cloud connection end to end: handshake,
// the request-dispatch table, reply-side ack bookkeeping, and the idle-tick
// housekeeping (ping, retransmit, app-state checksum persistence). It owns
// the channel and every per-connection store exclusively, per spec.md §4's
// ownership summary; subsystem components (handlers.Dispatcher,
// pubsub.Table, chunked.Transfer, session.Manager) are injected so each can
// be unit-tested in isolation.
type Orchestrator struct {
	channel    SecureChannel
	identity   DeviceIdentity
	cfg        *config.Config
	clock      Clock
	pinger     *keepalive.Pinger
	subs       *pubsub.Table
	publisher  *pubsub.Publisher
	transfer   *chunked.Transfer
	sessionMgr *session.Manager
	dispatch   *handlers.Dispatcher
	descriptor Descriptor
	metrics    *metrics.Registry
	log        *slog.Logger

	state         State
	lastReceived  time.Time
	protocolFlags uint16

	// ackHandlers maps an outstanding confirmable request's message id to
	// the callback that classifies and acts on its eventual reply, per
	// spec.md's reply-side Dispatch. Populated by awaitAck, drained by
	// handleAck; the event loop is single-threaded so this needs no lock.
	ackHandlers map[uint16]ackHandler

	// describeAppChecksum/describeSystemChecksum cache the CRC of the most
	// recently acknowledged Describe reply, keeping the app-state checksum
	// begin() compares against current across the life of the connection
	// instead of only at the moment begin() itself runs.
	describeAppChecksum    uint32
	describeSystemChecksum uint32
}

// ackHandler fires once when the response to a tracked confirmable request
// arrives (or, for a class-less cue, is not going to), classified by CoAP
// response-code class: 2 success, 4 client error, 5 server error.
type ackHandler func(class uint8, reply *coap.Message)

// Deps bundles everything New needs; every field is required except
// Metrics, which defaults to a private registry when nil.
type Deps struct {
	Channel    SecureChannel
	Identity   DeviceIdentity
	Config     *config.Config
	Clock      Clock
	Pinger     *keepalive.Pinger
	Subs       *pubsub.Table
	Publisher  *pubsub.Publisher
	Transfer   *chunked.Transfer
	SessionMgr *session.Manager
	Dispatch   *handlers.Dispatcher
	Descriptor Descriptor
	Metrics    *metrics.Registry
}

func New(d Deps) *Orchestrator {
	reg := d.Metrics
	if reg == nil {
		reg = metrics.New()
	}
	return &Orchestrator{
		channel:    d.Channel,
		identity:   d.Identity,
		cfg:        d.Config,
		clock:      d.Clock,
		pinger:     d.Pinger,
		subs:       d.Subs,
		publisher:  d.Publisher,
		transfer:   d.Transfer,
		sessionMgr: d.SessionMgr,
		dispatch:   d.Dispatch,
		descriptor: d.Descriptor,
		metrics:    reg,
		log:        logger.Logger().With("component", "orchestrator"),
		state:      StateInit,
	}
}

func (o *Orchestrator) State() State { return o.state }

// ProtocolFlags returns the Hello flags byte negotiated during Begin.
func (o *Orchestrator) ProtocolFlags() uint16 { return o.protocolFlags }

// applicationStateChecksum folds the current subscriptions/describe-app/
// describe-system checksums and the Hello protocol flags byte, matching
// app_state_selector_info(COMPUTE) as used by begin()'s resume check.
func (o *Orchestrator) applicationStateChecksum(crc func([]byte) uint32, describeAppCRC, describeSystemCRC uint32) uint32 {
	subsCRC := o.subs.Checksum(crc)
	base := session.ApplicationStateChecksum(crc, subsCRC, describeAppCRC, describeSystemCRC)
	return crc([]byte{byte(base >> 24), byte(base >> 16), byte(base >> 8), byte(base), o.helloFlags()})
}

// Begin runs Protocol::begin: establish the channel, resolve session
// resume vs. a fresh Hello handshake, and land in StateOperational or
// StateSessionResumed.
func (o *Orchestrator) Begin(ctx context.Context, crc func([]byte) uint32, cachedChecksum uint32) error {
	o.state = StateHandshake
	o.pinger = keepalive.New(o.metrics)
	o.log = logger.WithSession(o.log, fmt.Sprintf("%x", o.identity.DeviceID), xid.New().String())

	result, err := o.channel.Establish(ctx)
	if err != nil {
		o.state = StateClosed
		return protoerr.NewProtocolError("orchestrator.begin.establish", err)
	}

	if result == EstablishResumed {
		if err := o.channel.MoveSession(ctx); err != nil {
			o.state = StateClosed
			return protoerr.NewProtocolError("orchestrator.begin.move_session", err)
		}
		current := o.applicationStateChecksum(crc, o.describeAppChecksum, o.describeSystemChecksum)
		if current == cachedChecksum {
			o.state = StateSessionResumed
			if err := o.channel.Send(ctx, coap.Ping(0)); err != nil {
				return protoerr.NewProtocolError("orchestrator.begin.resume_ping", err)
			}
			return protoerr.ErrSessionResumed
		}

		if err := o.channel.SaveSession(ctx); err != nil {
			return protoerr.NewProtocolError("orchestrator.begin.save_session", err)
		}
		o.descriptor.InvalidateAppState()
		if err := o.channel.LoadSession(ctx); err != nil {
			return protoerr.NewProtocolError("orchestrator.begin.load_session", err)
		}
	}

	hello := coap.Hello(0, o.helloFlags(), o.identity.PlatformID, o.identity.ProductID, o.identity.ProductFirmwareVersion, true, o.identity.DeviceID[:])
	if err := o.channel.Send(ctx, hello); err != nil {
		o.state = StateClosed
		return protoerr.NewProtocolError("orchestrator.begin.send_hello", err)
	}

	if o.cfg.RequireHelloResponse {
		waitCtx, cancel := context.WithTimeout(ctx, helloResponseTimeout)
		defer cancel()
		msg, err := o.channel.Receive(waitCtx)
		if err != nil || coap.DecodeType(msg) != coap.KindHello {
			o.state = StateClosed
			return protoerr.NewProtocolError("orchestrator.begin.await_hello", errors.New("no hello response within timeout"))
		}
	}

	if err := o.channel.Established(ctx); err != nil {
		return protoerr.NewProtocolError("orchestrator.begin.established", err)
	}
	o.protocolFlags = uint16(o.helloFlags())
	o.state = StateOperational

	if o.cfg.DeviceInitiatedDescribe {
		describe := &coap.Message{Type: coap.Confirmable, Code: coap.Post, Options: []coap.Option{{Number: coap.OptionURIPath, Value: []byte("d")}}}
		onReply := func(class uint8, reply *coap.Message) {
			if class == 2 {
				o.describeAppChecksum = crc(reply.Payload)
			}
		}
		if err := o.awaitAck(ctx, describe, onReply); err != nil {
			return protoerr.NewProtocolError("orchestrator.begin.describe", err)
		}
	}
	return nil
}

// awaitAck sends msg through SendTracked (so a lost or reset exchange still
// clears its ackHandlers entry) and registers onReply, keyed by the id the
// channel assigns, to run when the response arrives.
func (o *Orchestrator) awaitAck(ctx context.Context, msg *coap.Message, onReply ackHandler) error {
	if err := o.channel.SendTracked(ctx, msg, func(result store.DeliveryResult) {
		if result != store.DeliveryOK {
			delete(o.ackHandlers, msg.ID)
		}
	}); err != nil {
		return err
	}
	if o.ackHandlers == nil {
		o.ackHandlers = make(map[uint16]ackHandler)
	}
	o.ackHandlers[msg.ID] = onReply
	return nil
}

// handleAck implements spec.md's reply-side Dispatch: classify the response
// code's class and fire whatever handler awaitAck registered for this id,
// if any is still outstanding.
func (o *Orchestrator) handleAck(msg *coap.Message) error {
	fn, ok := o.ackHandlers[msg.ID]
	if !ok {
		return nil
	}
	delete(o.ackHandlers, msg.ID)
	if fn != nil {
		fn(uint8(msg.Code)>>5, msg)
	}
	return nil
}

// helloFlags mirrors spark_protocol's feature-flags byte: bit0 OTA_OK
// (always offered), bit5 DEVICE_INITIATED_DESCRIBE, bit6 COMPRESSED_OTA.
func (o *Orchestrator) helloFlags() uint8 {
	var flags uint8 = 0x01
	if o.descriptor.OTASucceeded() {
		flags |= 0x01
	}
	if o.cfg.DeviceInitiatedDescribe {
		flags |= 0x20
	}
	if o.cfg.CompressedOTA {
		flags |= 0x40
	}
	return flags
}

// Run drives EventLoop on the calling goroutine until ctx is canceled or a
// fatal error occurs, matching the "single threaded cooperative" model
// spec.md §5 describes.
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := o.EventLoop(ctx); err != nil {
			if errors.Is(err, protoerr.ErrPingTimeout) {
				o.state = StateClosed
				return err
			}
			if errors.Is(err, protoerr.ErrMessageReset) {
				continue
			}
			return err
		}
	}
}

// tickTimeout bounds how long a single EventLoop iteration blocks waiting
// for an inbound datagram before falling through to idle housekeeping.
const tickTimeout = 200 * time.Millisecond

// EventLoop runs one iteration of Protocol::event_loop: receive (with a
// short deadline), dispatch if something arrived, otherwise run ping and
// retransmit housekeeping.
func (o *Orchestrator) EventLoop(ctx context.Context) error {
	recvCtx, cancel := context.WithTimeout(ctx, tickTimeout)
	defer cancel()

	msg, err := o.channel.Receive(recvCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return o.idle(ctx)
		}
		if errors.Is(err, protoerr.ErrMessageReset) {
			if discErr := o.channel.DiscardSession(ctx); discErr != nil {
				return discErr
			}
			if clrErr := o.sessionMgr.Clear(); clrErr != nil {
				return clrErr
			}
			return nil
		}
		return err
	}

	o.lastReceived = o.clock().UTC()
	o.pinger.NoteMessageReceived()
	return o.handle(ctx, msg)
}

func (o *Orchestrator) idle(ctx context.Context) error {
	if err := o.channel.Tick(ctx); err != nil {
		return err
	}

	elapsed := o.clock().Sub(o.lastReceived)
	action, err := o.pinger.Process(elapsed)
	if err != nil {
		o.pinger.Timeout()
		return err
	}
	if action == keepalive.ActionSendPing {
		return o.channel.Send(ctx, coap.Ping(0))
	}
	return nil
}

// exchangeID tags one dispatched message with a short correlation id so a
// request and its eventual reply can be grepped out of the log together.
func exchangeID() string { return xid.New().String() }

// handle routes msg by its decoded kind, mirroring
// Protocol::handle_received_message's big dispatch switch.
func (o *Orchestrator) handle(ctx context.Context, msg *coap.Message) error {
	if msg.Type == coap.Acknowledgement {
		o.metrics.OrchestratorDispatchedOp.WithLabelValues("Ack").Inc()
		return o.handleAck(msg)
	}

	kind := coap.DecodeType(msg)
	o.metrics.OrchestratorDispatchedOp.WithLabelValues(kind.String()).Inc()
	xlog := logger.WithMessageMeta(logger.WithExchange(o.log, exchangeID()), kind.String(), msg.ID, uint8(msg.Code), 0)

	switch kind {
	case coap.KindHello:
		if msg.IsConfirmable() {
			if err := o.channel.Send(ctx, coap.EmptyAck(msg.ID)); err != nil {
				return err
			}
		}
		o.descriptor.AckOTA()
		return nil

	case coap.KindDescribe:
		return o.handleDescribe(ctx, msg)

	case coap.KindFunctionCall, coap.KindVariableRequest:
		return o.dispatch.Dispatch(ctx, o.channel, msg)

	case coap.KindEvent:
		o.subs.Dispatch(msg)
		return nil

	case coap.KindSaveBegin, coap.KindUpdateBegin:
		return o.transfer.HandleUpdateBegin(ctx, o.channel, msg.ID, msg.Token, msg.Payload)
	case coap.KindChunk:
		return o.transfer.HandleChunk(ctx, o.channel, msg, msg.Token)
	case coap.KindUpdateDone:
		return o.transfer.HandleUpdateDone(ctx, o.channel, msg, msg.Token)

	case coap.KindSignalStart, coap.KindSignalStop:
		if err := o.channel.Send(ctx, coap.CodedAck(msg.ID, coap.NewCode(2, 4), msg.Token)); err != nil {
			return err
		}
		o.descriptor.Signal(kind == coap.KindSignalStart, 0)
		return nil

	case coap.KindTime:
		if len(msg.Payload) >= 4 {
			seconds := uint32(msg.Payload[0])<<24 | uint32(msg.Payload[1])<<16 | uint32(msg.Payload[2])<<8 | uint32(msg.Payload[3])
			o.descriptor.SetTime(seconds)
		}
		return nil

	case coap.KindPing:
		return o.channel.Send(ctx, coap.EmptyAck(msg.ID))

	case coap.KindEmptyAck, coap.KindKeepAlive:
		return nil

	case coap.KindKeyChange:
		if msg.IsConfirmable() {
			if err := o.channel.Send(ctx, coap.EmptyAck(msg.ID)); err != nil {
				return err
			}
		}
		return o.channel.DiscardSession(ctx)

	default:
		xlog.Warn("unhandled message kind")
		return nil
	}
}

func (o *Orchestrator) handleDescribe(ctx context.Context, msg *coap.Message) error {
	queryValue, present := msg.Option(coap.OptionURIQuery)
	flags := parseDescribeFlags(queryValue, present)

	if flags == DescribeMetrics {
		reply := coap.ContentResponse(msg.ID, msg.Token)
		reply.Payload = o.descriptor.SystemInfo()
		return o.channel.Send(ctx, reply)
	}

	variableKinds := make(map[string]string)
	for name, kind := range o.dispatch.Variables.Kinds() {
		variableKinds[name] = kind.String()
	}
	body, err := buildDescribeJSON(o.dispatch.Functions.Names(), variableKinds)
	if err != nil {
		return protoerr.NewProtocolError("orchestrator.describe.encode", err)
	}
	reply := coap.ContentResponse(msg.ID, msg.Token)
	reply.Options = []coap.Option{{Number: coap.OptionContentFormat, Value: []byte{byte(coap.ContentFormatJSON)}}}
	reply.Payload = body
	return o.channel.Send(ctx, reply)
}
