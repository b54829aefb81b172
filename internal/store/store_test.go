package store

import (
	"testing"
	"time"
)

func fixedRand(v float64) func() float64 { return func() float64 { return v } }

func TestAddRejectsDuplicateID(t *testing.T) {
	s := New(nil)
	if err := s.Add(1, []byte("a"), nil); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	if err := s.Add(1, []byte("b"), nil); err == nil {
		t.Fatalf("expected error adding duplicate id")
	}
}

func TestAckStopsRetransmissionAndDelivers(t *testing.T) {
	s := New(nil)
	var got DeliveryResult
	called := false
	if err := s.Add(5, []byte("payload"), func(r DeliveryResult) { called = true; got = r }); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !s.Ack(5, []byte("resp")) {
		t.Fatalf("expected Ack to find tracked entry")
	}
	if !called || got != DeliveryOK {
		t.Fatalf("expected DeliveryOK callback, got called=%v result=%v", called, got)
	}
	if s.Active() != 0 {
		t.Fatalf("expected 0 active entries after ack, got %d", s.Active())
	}
	if s.Ack(5, nil) {
		t.Fatalf("second Ack on same id should report not-found")
	}
}

func TestResetDeliversResetResult(t *testing.T) {
	s := New(nil)
	var got DeliveryResult
	if err := s.Add(7, []byte("x"), func(r DeliveryResult) { got = r }); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !s.Reset(7) {
		t.Fatalf("expected Reset to find tracked entry")
	}
	if got != DeliveryReset {
		t.Fatalf("expected DeliveryReset, got %v", got)
	}
}

func TestProcessRetransmitsUntilMaxRetransmitThenTimesOut(t *testing.T) {
	s := New(nil)
	s.rand = fixedRand(0)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cur := base
	s.now = func() time.Time { return cur }

	var result DeliveryResult
	var delivered bool
	if err := s.Add(9, []byte("con-payload"), func(r DeliveryResult) { delivered = true; result = r }); err != nil {
		t.Fatalf("Add: %v", err)
	}

	retransmits := 0
	for i := 0; i < MaxRetransmit+2; i++ {
		cur = cur.Add(AckTimeout<<uint(i) + time.Millisecond)
		out := s.Process()
		if len(out) == 1 {
			retransmits++
		}
	}

	if retransmits != MaxRetransmit {
		t.Fatalf("expected %d retransmits, got %d", MaxRetransmit, retransmits)
	}
	if !delivered || result != DeliveryTimeout {
		t.Fatalf("expected DeliveryTimeout after exhausting retransmits, delivered=%v result=%v", delivered, result)
	}
	if s.Active() != 0 {
		t.Fatalf("expected entry removed after timeout, active=%d", s.Active())
	}
}

func TestProcessHonorsMaxTransmitSpan(t *testing.T) {
	s := New(nil)
	s.rand = fixedRand(0)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cur := base
	s.now = func() time.Time { return cur }

	var result DeliveryResult
	if err := s.Add(3, []byte("x"), func(r DeliveryResult) { result = r }); err != nil {
		t.Fatalf("Add: %v", err)
	}

	cur = base.Add(MaxTransmitSpan + time.Second)
	s.Process()

	if result != DeliveryTimeout {
		t.Fatalf("expected timeout once MAX_TRANSMIT_SPAN elapsed, got %v", result)
	}
}

func TestDedupReplaysResponseForRetransmittedDuplicate(t *testing.T) {
	d := NewDedup()
	if _, ok := d.Lookup(42); ok {
		t.Fatalf("expected no cached response before Remember")
	}
	d.Remember(42, []byte("cached"))
	resp, ok := d.Lookup(42)
	if !ok || string(resp) != "cached" {
		t.Fatalf("expected cached response, got %q ok=%v", resp, ok)
	}
}

func TestDedupExpiresOldEntries(t *testing.T) {
	d := NewDedup()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cur := base
	d.now = func() time.Time { return cur }
	d.Remember(1, []byte("r"))

	cur = base.Add(dedupWindow + time.Second)
	if _, ok := d.Lookup(1); ok {
		t.Fatalf("expected entry to have expired")
	}
}
