package pubsub

import "strings"

// systemEventPrefix identifies the reserved "spark"-prefixed event
// namespace used for system-generated events, matching
// Publisher::is_system's 5-char case-insensitive prefix compare.
const systemEventPrefix = "spark"

// IsSystemEvent reports whether name falls in the reserved system event
// namespace.
func IsSystemEvent(name string) bool {
	if len(name) < len(systemEventPrefix) {
		return false
	}
	return strings.EqualFold(name[:len(systemEventPrefix)], systemEventPrefix)
}

// appRingSize is the number of recent app-event timestamps tracked for the
// 1-second minimum spacing rule (recent_event_ticks[5] in publisher.h).
const appRingSize = 5

// systemEventCap is the maximum number of system events allowed per
// rolling window (the uint8_t eventsThisMinute counter saturates here).
const systemEventCap = 255

// appEventMinSpacingMS is the minimum spacing enforced between
// consecutive app events (recent_event_ticks comparison).
const appEventMinSpacingMS = 1000

// RateLimiter reproduces Publisher::is_rate_limited: system events are
// capped per a ~64-second rolling window (the high 16 bits of a
// millisecond tick). App events allow a burst of appRingSize in quick
// succession, then require the slot being reused to be at least
// appEventMinSpacingMS in the past before the next publish is let through.
type RateLimiter struct {
	lastWindow     uint16
	eventsInWindow uint8
	ring           [appRingSize]uint32
	ringFilled     [appRingSize]bool
	ringIdx        int
}

func NewRateLimiter() *RateLimiter { return &RateLimiter{} }

// Allow reports whether an event may be published at tick millis (a
// free-running millisecond counter, wrapping at 2^32 like every other tick
// in this protocol). isSystem selects which half of the limiter applies.
func (r *RateLimiter) Allow(isSystem bool, millis uint32) bool {
	if isSystem {
		return r.allowSystem(millis)
	}
	return r.allowApp(millis)
}

func (r *RateLimiter) allowSystem(millis uint32) bool {
	window := uint16(millis >> 16)
	if window != r.lastWindow {
		r.lastWindow = window
		r.eventsInWindow = 0
	}
	if r.eventsInWindow >= systemEventCap {
		return false
	}
	r.eventsInWindow++
	return true
}

func (r *RateLimiter) allowApp(millis uint32) bool {
	if r.ringFilled[r.ringIdx] && millis-r.ring[r.ringIdx] < appEventMinSpacingMS {
		return false
	}
	r.ring[r.ringIdx] = millis
	r.ringFilled[r.ringIdx] = true
	r.ringIdx = (r.ringIdx + 1) % appRingSize
	return true
}
