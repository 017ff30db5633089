package realtime

import (
	"io"
	"log/slog"
	"testing"
)

func testHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func drain(t *testing.T, c *Client, want int) []Event {
	t.Helper()
	out := make([]Event, 0, want)
	for i := 0; i < want; i++ {
		select {
		case ev := <-c.Send:
			out = append(out, ev)
		default:
			t.Fatalf("expected %d queued events, got %d", want, len(out))
		}
	}
	select {
	case ev := <-c.Send:
		t.Fatalf("unexpected extra event %+v", ev)
	default:
	}
	return out
}

func TestHubDeliversToAccountClientsOnly(t *testing.T) {
	h := testHub()

	alice1 := NewClient("acct-alice", "sess-a1", 8)
	alice2 := NewClient("acct-alice", "sess-a2", 8)
	bob := NewClient("acct-bob", "sess-b1", 8)
	h.Subscribe(alice1)
	h.Subscribe(alice2)
	h.Subscribe(bob)

	h.SessionsRevoked("acct-alice", []string{"sess-a1", "sess-a2"}, "logout_all")

	for _, c := range []*Client{alice1, alice2} {
		evs := drain(t, c, 2)
		if evs[0].Type != EventSessionRevoked || evs[0].SessionID != "sess-a1" {
			t.Fatalf("unexpected first event %+v", evs[0])
		}
		if evs[1].SessionID != "sess-a2" || evs[1].Reason != "logout_all" {
			t.Fatalf("unexpected second event %+v", evs[1])
		}
	}
	drain(t, bob, 0)
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	h := testHub()

	c := NewClient("acct-1", "sess-1", 8)
	h.Subscribe(c)
	h.Unsubscribe(c)
	h.Unsubscribe(c) // idempotent

	h.SessionsRevoked("acct-1", []string{"sess-1"}, "logout")
	drain(t, c, 0)
}

func TestHubDropsSlowClient(t *testing.T) {
	h := testHub()

	slow := NewClient("acct-1", "sess-slow", 32)
	slow.Send = make(chan Event, 1)
	healthy := NewClient("acct-1", "sess-ok", 8)
	h.Subscribe(slow)
	h.Subscribe(healthy)

	h.SessionsRevoked("acct-1", []string{"s1", "s2", "s3"}, "logout_all")

	select {
	case <-slow.Done():
	default:
		t.Fatal("slow client was not closed")
	}
	drain(t, healthy, 3)

	// The dropped client no longer receives anything.
	h.SessionsRevoked("acct-1", []string{"s4"}, "logout")
	evs := drain(t, healthy, 1)
	if evs[0].SessionID != "s4" {
		t.Fatalf("unexpected event %+v", evs[0])
	}
}

func TestClientTrySendAfterClose(t *testing.T) {
	c := NewClient("acct-1", "sess-1", 4)
	if !c.trySend(Event{Type: EventSessionRevoked, SessionID: "s1"}) {
		t.Fatal("send on open client failed")
	}
	c.Close()
	c.Close()
	if c.trySend(Event{Type: EventSessionRevoked, SessionID: "s2"}) {
		t.Fatal("send on closed client succeeded")
	}
}
