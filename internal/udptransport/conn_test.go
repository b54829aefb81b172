package udptransport

import (
	"context"
	"testing"
	"time"
)

func TestDialAndListenExchangeDatagrams(t *testing.T) {
	server, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer server.Close()

	client, err := Dial(server.pc.LocalAddr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Send(ctx, []byte("hello")); err != nil {
		t.Fatalf("client.Send: %v", err)
	}

	got, err := server.Recv(ctx)
	if err != nil {
		t.Fatalf("server.Recv: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}

	if err := server.Send(ctx, []byte("world")); err != nil {
		t.Fatalf("server.Send: %v", err)
	}
	got, err = client.Recv(ctx)
	if err != nil {
		t.Fatalf("client.Recv: %v", err)
	}
	if string(got) != "world" {
		t.Fatalf("got %q, want %q", got, "world")
	}
}

func TestRecvTimesOutWithoutData(t *testing.T) {
	server, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := server.Recv(ctx); err != context.DeadlineExceeded {
		t.Fatalf("Recv err = %v, want context.DeadlineExceeded", err)
	}
}

func TestSendBeforeAnyPeerLearnedFails(t *testing.T) {
	server, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer server.Close()

	ctx := context.Background()
	if err := server.Send(ctx, []byte("x")); err == nil {
		t.Fatalf("expected an error sending with no known peer")
	}
}
