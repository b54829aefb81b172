package store

import "time"

// dedupWindow is how long an inbound message id's cached response is kept
// around to answer a retransmitted duplicate without re-running the
// handler. It only needs to outlive the peer's own retransmission span.
const dedupWindow = MaxTransmitSpan

type dedupEntry struct {
	response []byte
	expires  time.Time
}

// Dedup tracks recently handled inbound message ids so a duplicate CON
// (the peer retransmitted before our ACK arrived) replays the cached
// response instead of invoking the handler twice.
type Dedup struct {
	seen map[uint16]dedupEntry
	now  func() time.Time
}

func NewDedup() *Dedup {
	return &Dedup{seen: make(map[uint16]dedupEntry), now: time.Now}
}

// Lookup returns the cached response for id, if any, and whether it was
// found (a cache hit means the caller should resend the cached bytes
// instead of dispatching the message again).
func (d *Dedup) Lookup(id uint16) ([]byte, bool) {
	d.evictExpired()
	e, ok := d.seen[id]
	if !ok {
		return nil, false
	}
	return e.response, true
}

// Remember records the response produced for id so a later duplicate can
// be answered from cache.
func (d *Dedup) Remember(id uint16, response []byte) {
	d.seen[id] = dedupEntry{
		response: append([]byte(nil), response...),
		expires:  d.now().Add(dedupWindow),
	}
}

func (d *Dedup) evictExpired() {
	now := d.now()
	for id, e := range d.seen {
		if now.After(e.expires) {
			delete(d.seen, id)
		}
	}
}

// Size returns the number of cached entries (test/metrics hook).
func (d *Dedup) Size() int { return len(d.seen) }
