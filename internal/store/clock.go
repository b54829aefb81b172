package store

// HasPassed compares two free-running millisecond tick values the way
// coap_channel.h's has_passed does: ticks are uint32 and wrap at 2^32, so a
// signed subtraction can't tell "deadline is in the past" from "deadline is
// ~49 days in the future" without this explicit half-range rule.
// (deadline-now), computed with uint32 wraparound, is treated as having
// passed once it reaches the upper half of the range.
func HasPassed(now, deadline uint32) bool {
	return deadline-now >= 1<<31
}
