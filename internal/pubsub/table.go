// Package pubsub implements the subscription table and the rate-limited
// publisher: the device's half of the event bus (subscriptions.h and
// publisher.h/.cpp in the original implementation).
package pubsub

import (
	"strings"

	"github.com/alxayo/devlink/internal/coap"
	"github.com/alxayo/devlink/internal/protoerr"
)

// Scope controls which devices an event is visible to, matching the
// MY_DEVICES / FIREHOSE distinction in the event subsystem.
type Scope uint8

const (
	ScopeMyDevices Scope = iota
	ScopeFirehose
)

// MaxSubscriptions bounds the fixed-size subscription table, mirroring
// FilteringEventHandler event_handlers[MAX_SUBSCRIPTIONS].
const MaxSubscriptions = 5

// Handler is invoked once per matching subscription when an event is
// dispatched; data is nil for an event with no payload.
type Handler func(eventName string, data []byte)

type subscription struct {
	filter   string
	deviceID string
	scope    Scope
	handler  Handler
}

// Table is the fixed-capacity set of active subscriptions. Not safe for
// concurrent use.
type Table struct {
	entries []*subscription
}

func NewTable() *Table { return &Table{} }

// Add registers filter for scope/deviceID with handler. Filters are
// prefix-matched against incoming event names (an empty filter matches
// everything). Returns a StoreError wrapping errInsufficientStorage
// if the table is full, or silently no-ops if an identical
// filter/deviceID/scope triple is already registered (event_handler_exists
// dedup in the original).
func (t *Table) Add(filter, deviceID string, scope Scope, handler Handler) error {
	for _, e := range t.entries {
		if e.filter == filter && e.deviceID == deviceID && e.scope == scope {
			return nil
		}
	}
	if len(t.entries) >= MaxSubscriptions {
		return protoerr.NewStoreError("pubsub.table.add", errInsufficientStorage)
	}
	t.entries = append(t.entries, &subscription{filter: filter, deviceID: deviceID, scope: scope, handler: handler})
	return nil
}

// Remove deletes every subscription matching eventName exactly, or every
// subscription if eventName is empty (remove_event_handlers(NULL) in the
// original clears all registrations).
func (t *Table) Remove(eventName string) {
	if eventName == "" {
		t.entries = nil
		return
	}
	kept := t.entries[:0]
	for _, e := range t.entries {
		if e.filter != eventName {
			kept = append(kept, e)
		}
	}
	t.entries = kept
}

// Each iterates every active subscription in registration order, mirroring
// Subscriptions::for_each (used both to resend subscriptions after a
// session resume and to compute the subscriptions checksum).
func (t *Table) Each(fn func(filter, deviceID string, scope Scope)) {
	for _, e := range t.entries {
		fn(e.filter, e.deviceID, e.scope)
	}
}

// Checksum folds every subscription's (filter, deviceID, scope) through
// crc, chaining each result into the next input, matching
// compute_subscriptions_checksum's running CRC over the combined array.
func (t *Table) Checksum(crc func([]byte) uint32) uint32 {
	var running uint32
	t.Each(func(filter, deviceID string, scope Scope) {
		buf := append([]byte(nil), byte(running>>24), byte(running>>16), byte(running>>8), byte(running))
		buf = append(buf, []byte(deviceID)...)
		buf = append(buf, []byte(filter)...)
		buf = append(buf, byte(scope))
		running = crc(buf)
	})
	return running
}

// Len reports how many subscriptions are currently registered.
func (t *Table) Len() int { return len(t.entries) }

// Dispatch reassembles the Uri-Path of an inbound EVENT message into its
// event name and invokes every subscription whose filter is a prefix of
// it, matching Subscriptions::handle_event's memcmp-based prefix compare.
// The caller is responsible for sending the channel-level ACK per CoAP
// reliability rules; Dispatch only runs handlers.
func (t *Table) Dispatch(msg *coap.Message) int {
	name := eventNameFromPath(coap.JoinURIPath(msg))
	matched := 0
	for _, e := range t.entries {
		if e.filter != "" && !strings.HasPrefix(name, e.filter) {
			continue
		}
		if e.handler != nil {
			e.handler(name, msg.Payload)
		}
		matched++
	}
	return matched
}

// eventNameFromPath strips the leading "E" or "e" Uri-Path segment Event()
// prepends (public/private visibility), leaving just the caller-visible
// event name.
func eventNameFromPath(joined string) string {
	if rest := strings.TrimPrefix(joined, "E/"); rest != joined {
		return rest
	}
	return strings.TrimPrefix(joined, "e/")
}

type tableError string

func (e tableError) Error() string { return string(e) }

var errInsufficientStorage = tableError("subscription table full")
