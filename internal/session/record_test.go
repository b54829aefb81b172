package session

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	rec := &Record{
		Persistent:        1,
		UseCounter:        2,
		KeysChecksum:      0xdeadbeef,
		NextCoAPID:        42,
		SubscriptionsCRC:  1,
		DescribeAppCRC:    2,
		DescribeSystemCRC: 3,
		ProtocolFlags:     0x21,
	}
	copy(rec.Connection[:], []byte("connection-state"))
	copy(rec.ConnectionID[:], []byte("devid123"))

	data, err := rec.Encode()
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}
	if len(data) != RecordSize {
		t.Fatalf("expected encoded length %d, got %d", RecordSize, len(data))
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if !decoded.IsValid() {
		t.Fatalf("expected decoded record to be valid")
	}
	if decoded.KeysChecksum != rec.KeysChecksum || decoded.NextCoAPID != rec.NextCoAPID {
		t.Fatalf("decoded record fields don't match: %+v", decoded)
	}
	if string(decoded.Connection[:16]) != "connection-state" {
		t.Fatalf("unexpected connection blob: %q", decoded.Connection[:16])
	}
}

func TestDecodeRejectsWrongSize(t *testing.T) {
	if _, err := Decode([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected an error decoding a short buffer")
	}
}

func TestHasExpiredAtMaximumUses(t *testing.T) {
	rec := &Record{}
	for i := 0; i < MaximumSessionUses; i++ {
		if rec.HasExpired() {
			t.Fatalf("expected record to not be expired after %d uses", i)
		}
		rec.IncrementUseCount()
	}
	if !rec.HasExpired() {
		t.Fatalf("expected record to be expired after %d uses", MaximumSessionUses)
	}
}

func TestInvalidateClearsSize(t *testing.T) {
	rec := &Record{}
	if _, err := rec.Encode(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rec.IsValid() {
		t.Fatalf("expected freshly encoded record to be valid")
	}
	rec.Invalidate()
	if rec.IsValid() {
		t.Fatalf("expected invalidated record to report invalid")
	}
}
