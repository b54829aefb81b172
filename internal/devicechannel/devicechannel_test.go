package devicechannel

import (
	"context"
	"testing"

	"github.com/alxayo/devlink/internal/metrics"
	"github.com/alxayo/devlink/internal/orchestrator"
	"github.com/alxayo/devlink/internal/session"
)

type loopbackTransport struct {
	inbox chan []byte
}

func newLoopbackTransport() *loopbackTransport {
	return &loopbackTransport{inbox: make(chan []byte, 8)}
}

func (t *loopbackTransport) Send(ctx context.Context, data []byte) error {
	t.inbox <- data
	return nil
}

func (t *loopbackTransport) Recv(ctx context.Context) ([]byte, error) {
	select {
	case data := <-t.inbox:
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *loopbackTransport) Close() error { return nil }

func TestEstablishReportsNewWhenNoSessionPersisted(t *testing.T) {
	mgr := session.NewManager(session.NewMemStore())
	p := New(newLoopbackTransport(), true, 0, mgr, 42, metrics.New())

	result, err := p.Establish(context.Background())
	if err != nil {
		t.Fatalf("Establish: %v", err)
	}
	if result != orchestrator.EstablishNew {
		t.Fatalf("result = %v, want EstablishNew", result)
	}
}

func TestSaveThenEstablishResumesWithMatchingKeysChecksum(t *testing.T) {
	store := session.NewMemStore()
	p := New(newLoopbackTransport(), true, 0, session.NewManager(store), 42, metrics.New())
	if err := p.SaveSession(context.Background()); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	p2 := New(newLoopbackTransport(), true, 0, session.NewManager(store), 42, metrics.New())
	result, err := p2.Establish(context.Background())
	if err != nil {
		t.Fatalf("Establish: %v", err)
	}
	if result != orchestrator.EstablishResumed {
		t.Fatalf("result = %v, want EstablishResumed", result)
	}
}

func TestEstablishReportsNewOnKeysChecksumMismatch(t *testing.T) {
	store := session.NewMemStore()
	p := New(newLoopbackTransport(), true, 0, session.NewManager(store), 42, metrics.New())
	if err := p.SaveSession(context.Background()); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	p2 := New(newLoopbackTransport(), true, 0, session.NewManager(store), 99, metrics.New())
	result, err := p2.Establish(context.Background())
	if err != nil {
		t.Fatalf("Establish: %v", err)
	}
	if result != orchestrator.EstablishNew {
		t.Fatalf("result = %v, want EstablishNew after a keys-checksum mismatch", result)
	}
}

func TestDiscardSessionClearsPersistedRecord(t *testing.T) {
	store := session.NewMemStore()
	p := New(newLoopbackTransport(), true, 0, session.NewManager(store), 42, metrics.New())
	if err := p.SaveSession(context.Background()); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if err := p.DiscardSession(context.Background()); err != nil {
		t.Fatalf("DiscardSession: %v", err)
	}

	p2 := New(newLoopbackTransport(), true, 0, session.NewManager(store), 42, metrics.New())
	result, err := p2.Establish(context.Background())
	if err != nil {
		t.Fatalf("Establish: %v", err)
	}
	if result != orchestrator.EstablishNew {
		t.Fatalf("result = %v, want EstablishNew after DiscardSession", result)
	}
}
