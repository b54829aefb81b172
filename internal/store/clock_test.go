package store

import (
	"math/rand"
	"testing"
	"time"
)

// TestHasPassedWrapsAroundUint32Boundary pins spec.md's invariant 8 example
// pair: has_passed must read the uint32 difference as a half-range signed
// quantity, not compare now/deadline as plain unsigned integers.
func TestHasPassedWrapsAroundUint32Boundary(t *testing.T) {
	if !HasPassed(0x00000001, 0xFFFFFFFF) {
		t.Fatalf("expected has_passed(1, 0xFFFFFFFF) == true")
	}
	if HasPassed(0xFFFFFFFF, 0x00000001) {
		t.Fatalf("expected has_passed(0xFFFFFFFF, 1) == false")
	}
}

func TestHasPassedOrdinaryCases(t *testing.T) {
	if HasPassed(100, 200) {
		t.Fatalf("deadline 100ms in the future must not have passed")
	}
	if !HasPassed(200, 100) {
		t.Fatalf("deadline 100ms in the past must have passed")
	}
	if HasPassed(100, 100) {
		t.Fatalf("a deadline equal to now must not have passed yet")
	}
}

// TestTransmitTimeoutStaysWithinAckRandomFactorBound is invariant 3: for
// every retransmit attempt k, the computed timeout lies in
// [ACK_TIMEOUT*2^k, ACK_TIMEOUT*2^k*ACK_RANDOM_FACTOR), sampled 500 times
// with attempt counts spanning 0..MAX_RETRANSMIT so the jitter's random
// component is actually exercised across its full range.
func TestTransmitTimeoutStaysWithinAckRandomFactorBound(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	s := &Store{rand: rng.Float64}

	const samples = 500
	for i := 0; i < samples; i++ {
		k := i % (MaxRetransmit + 1)
		got := s.transmitTimeout(k)

		base := AckTimeout << k
		upper := time.Duration(float64(base) * AckRandomFactor)

		if got < base {
			t.Fatalf("sample %d (k=%d): timeout %v below lower bound %v", i, k, got, base)
		}
		if got >= upper {
			t.Fatalf("sample %d (k=%d): timeout %v at/above upper bound %v", i, k, got, upper)
		}
	}
}
