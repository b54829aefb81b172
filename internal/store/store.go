// Package store implements the reliable message store: per-message-id
// retransmission bookkeeping for CON messages, duplicate suppression for
// messages already replied to, and response caching so a retried request
// gets the same answer instead of re-running its handler.
package store

import (
	"math/rand"
	"time"

	"github.com/alxayo/devlink/internal/metrics"
	"github.com/alxayo/devlink/internal/protoerr"
)

// Timing constants from the CoAP reliability model (coap_channel.h):
// ACK_TIMEOUT, ACK_RANDOM_FACTOR, MAX_RETRANSMIT and MAX_TRANSMIT_SPAN.
const (
	AckTimeout       = 4000 * time.Millisecond
	AckRandomFactor  = 1.5
	MaxRetransmit    = 3
	MaxTransmitSpan  = 45000 * time.Millisecond
)

// DeliveryResult reports the outcome of a CON message's lifecycle.
type DeliveryResult uint8

const (
	DeliveryOK DeliveryResult = iota
	DeliveryTimeout
	DeliveryReset
)

// DeliveredFunc is invoked exactly once per entry, when it is acknowledged,
// reset by the peer, or gives up after MAX_RETRANSMIT attempts.
type DeliveredFunc func(DeliveryResult)

// entry tracks one in-flight CON message awaiting acknowledgement.
type entry struct {
	id            uint16
	data          []byte
	transmitCount int
	nextTimeout   uint32 // free-running ms tick; compared via HasPassed, never as a signed duration
	firstSent     time.Time
	delivered     DeliveredFunc
	response      []byte // cached once a matching ACK/response arrives, for dedup
	acked         bool
}

// tick converts a time.Time to the free-running uint32 millisecond tick
// HasPassed compares against, matching the CoAP channel's wraparound-safe
// deadline representation (spec.md §9: "Time source is u32 ms with
// explicit wrap arithmetic").
func tick(t time.Time) uint32 { return uint32(t.UnixMilli()) }

// Store holds every in-flight CON entry, keyed by message id, plus a small
// response cache for recently completed exchanges (so an unnecessary
// retransmit from a confused peer gets the cached answer instead of
// re-invoking the handler).
//
// Not safe for concurrent use: callers drive it from a single goroutine,
// the same contract the teacher's chunk.Reader/chunk.Writer carry.
type Store struct {
	entries map[uint16]*entry
	metrics *metrics.Registry
	rand    func() float64
	now     func() time.Time
}

// New builds an empty Store. reg may be nil to disable metrics.
func New(reg *metrics.Registry) *Store {
	return &Store{
		entries: make(map[uint16]*entry),
		metrics: reg,
		rand:    rand.Float64,
		now:     time.Now,
	}
}

// Add registers a CON message for retransmission tracking. data is the
// already-encoded wire form (so retransmits resend byte-identical bytes,
// matching CoAPMessage::create storing the rendered datagram). Returns a
// StoreError if id is already tracked.
func (s *Store) Add(id uint16, data []byte, delivered DeliveredFunc) error {
	if _, exists := s.entries[id]; exists {
		return protoerr.NewStoreError("store.add", errAlreadyTracked)
	}
	now := s.now()
	e := &entry{
		id:            id,
		data:          append([]byte(nil), data...),
		transmitCount: 1,
		firstSent:     now,
		nextTimeout:   tick(now.Add(s.transmitTimeout(0))),
		delivered:     delivered,
	}
	s.entries[id] = e
	if s.metrics != nil {
		s.metrics.StoreEntriesActive.Set(float64(len(s.entries)))
	}
	return nil
}

// transmitTimeout computes the backoff delay before the (count+1)th
// transmission, following ACK_TIMEOUT doubled per retry plus up to
// ACK_RANDOM_FACTOR-1 of jitter.
func (s *Store) transmitTimeout(count int) time.Duration {
	base := AckTimeout << count
	jitterRange := float64(base) * (AckRandomFactor - 1)
	jitter := time.Duration(jitterRange * s.rand())
	return base + jitter
}

// Ack marks the entry for id as acknowledged (or delivers a cached
// response to a duplicate request) and stops retransmission. Returns false
// if id was not tracked (a spurious or very late ACK).
func (s *Store) Ack(id uint16, response []byte) bool {
	e, ok := s.entries[id]
	if !ok {
		return false
	}
	e.acked = true
	e.response = append([]byte(nil), response...)
	delete(s.entries, id)
	if s.metrics != nil {
		s.metrics.StoreEntriesActive.Set(float64(len(s.entries)))
	}
	if e.delivered != nil {
		e.delivered(DeliveryOK)
	}
	return true
}

// Reset marks the entry for id as rejected by a RST from the peer.
func (s *Store) Reset(id uint16) bool {
	e, ok := s.entries[id]
	if !ok {
		return false
	}
	delete(s.entries, id)
	if s.metrics != nil {
		s.metrics.StoreEntriesActive.Set(float64(len(s.entries)))
	}
	if e.delivered != nil {
		e.delivered(DeliveryReset)
	}
	return true
}

// Process advances the retransmission clock: any entry whose nextTimeout
// HasPassed is either handed back for retransmission (wire bytes,
// transmit count incremented) or, once MAX_RETRANSMIT has been exceeded or
// MAX_TRANSMIT_SPAN elapsed since the first send, dropped and reported as
// a timeout.
func (s *Store) Process() (retransmit [][]byte) {
	now := s.now()
	nowTick := tick(now)
	for id, e := range s.entries {
		if !HasPassed(nowTick, e.nextTimeout) {
			continue
		}
		if e.transmitCount > MaxRetransmit || now.Sub(e.firstSent) > MaxTransmitSpan {
			delete(s.entries, id)
			if s.metrics != nil {
				s.metrics.StoreEntriesActive.Set(float64(len(s.entries)))
				s.metrics.StoreTimeoutsTotal.Inc()
			}
			if e.delivered != nil {
				e.delivered(DeliveryTimeout)
			}
			continue
		}
		e.transmitCount++
		e.nextTimeout = tick(now.Add(s.transmitTimeout(e.transmitCount - 1)))
		retransmit = append(retransmit, e.data)
		if s.metrics != nil {
			s.metrics.StoreRetransmitsTotal.Inc()
		}
	}
	return retransmit
}

// IsTracked reports whether id currently has an in-flight entry (used by
// the channel decorator to decide whether an inbound ACK/RST is
// meaningful or stale).
func (s *Store) IsTracked(id uint16) bool {
	_, ok := s.entries[id]
	return ok
}

// Active returns the number of entries currently awaiting delivery.
func (s *Store) Active() int { return len(s.entries) }

type storeError string

func (e storeError) Error() string { return string(e) }

var errAlreadyTracked = storeError("message id already tracked")
