package notify

import (
	"fmt"
	"sync"
	"testing"

	"go.uber.org/zap"
)

func drainOne(t *testing.T, conn *Conn) Envelope {
	t.Helper()
	select {
	case env := <-conn.Events():
		return env
	default:
		t.Fatal("expected a buffered envelope")
		return Envelope{}
	}
}

func TestRegisterSendsHello(t *testing.T) {
	hub := NewHub(zap.NewNop())
	conn := hub.Register("u1")

	env := drainOne(t, conn)
	if env.Event != EventHello {
		t.Fatalf("first event = %q, want %q", env.Event, EventHello)
	}
	if hub.Connections("u1") != 1 {
		t.Fatalf("connections = %d, want 1", hub.Connections("u1"))
	}
}

func TestPushReachesAllConnectionsOfUser(t *testing.T) {
	hub := NewHub(zap.NewNop())
	c1 := hub.Register("u1")
	c2 := hub.Register("u1")
	other := hub.Register("u2")
	drainOne(t, c1)
	drainOne(t, c2)
	drainOne(t, other)

	if got := hub.Push("u1", "payload"); got != 2 {
		t.Fatalf("delivered = %d, want 2", got)
	}

	for _, conn := range []*Conn{c1, c2} {
		env := drainOne(t, conn)
		if env.Event != EventNotification || env.Data != "payload" {
			t.Fatalf("unexpected envelope: %+v", env)
		}
	}

	select {
	case env := <-other.Events():
		t.Fatalf("unrelated user received %+v", env)
	default:
	}
}

func TestPushToUnknownUserIsNoOp(t *testing.T) {
	hub := NewHub(zap.NewNop())
	if got := hub.Push("nobody", "x"); got != 0 {
		t.Fatalf("delivered = %d, want 0", got)
	}
}

func TestPushEvictsClosedConnection(t *testing.T) {
	hub := NewHub(zap.NewNop())
	conn := hub.Register("u1")
	drainOne(t, conn)

	conn.Close()

	if got := hub.Push("u1", "x"); got != 0 {
		t.Fatalf("delivered = %d, want 0 after close", got)
	}
	if hub.Connections("u1") != 0 {
		t.Fatalf("connections = %d, want 0 after lazy eviction", hub.Connections("u1"))
	}
}

func TestPushEvictsSaturatedConnection(t *testing.T) {
	hub := NewHub(zap.NewNop())
	conn := hub.Register("u1")
	// Leave the hello event and everything after it undrained.
	for i := 0; i < 32; i++ {
		hub.Push("u1", i)
	}
	if hub.Connections("u1") != 0 {
		t.Fatalf("connections = %d, want 0 after saturation eviction", hub.Connections("u1"))
	}
	_ = conn
}

func TestEvictIsIdempotent(t *testing.T) {
	hub := NewHub(zap.NewNop())
	conn := hub.Register("u1")

	hub.Evict(conn)
	hub.Evict(conn)

	if hub.Connections("u1") != 0 {
		t.Fatalf("connections = %d, want 0", hub.Connections("u1"))
	}
}

func TestRegisterDuringEvictStaysReachable(t *testing.T) {
	hub := NewHub(zap.NewNop())

	// Evicting a user's last connection drops the whole set; a Register
	// racing that eviction must still leave the new connection reachable.
	for i := 0; i < 2000; i++ {
		old := hub.Register("u1")
		drainOne(t, old)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			hub.Evict(old)
		}()
		fresh := hub.Register("u1")
		wg.Wait()
		drainOne(t, fresh)

		if got := hub.Push("u1", i); got != 1 {
			t.Fatalf("iteration %d: delivered = %d, want 1", i, got)
		}
		env := drainOne(t, fresh)
		if env.Data != i {
			t.Fatalf("iteration %d: unexpected envelope: %+v", i, env)
		}
		hub.Evict(fresh)
	}

	if hub.Connections("u1") != 0 {
		t.Fatalf("connections = %d, want 0", hub.Connections("u1"))
	}
}

func TestConcurrentRegisterPushEvict(t *testing.T) {
	hub := NewHub(zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			userID := fmt.Sprintf("u%d", i%4)
			conn := hub.Register(userID)
			for j := 0; j < 50; j++ {
				hub.Push(userID, j)
				select {
				case <-conn.Events():
				default:
				}
			}
			hub.Evict(conn)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 4; i++ {
		userID := fmt.Sprintf("u%d", i)
		if hub.Connections(userID) != 0 {
			t.Fatalf("connections for %s = %d, want 0", userID, hub.Connections(userID))
		}
	}
}
