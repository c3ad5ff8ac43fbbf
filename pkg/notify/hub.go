package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/syllaflow/syllaflow/pkg/metrics"
	"github.com/syllaflow/syllaflow/pkg/model"
)

const (
	// EventHello is sent immediately on register so a client can tell "no
	// notifications yet" apart from "never connected".
	EventHello = "hello"

	EventNotification = "notification"
)

// Envelope is one message on a live connection.
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Conn is a single live client connection. Its channel is buffered; a
// receiver that stops draining is treated as dead on the next push.
type Conn struct {
	userID string
	ch     chan Envelope
	done   chan struct{}
	once   sync.Once
}

func (c *Conn) UserID() string { return c.userID }

func (c *Conn) Events() <-chan Envelope { return c.ch }

func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) Close() {
	c.once.Do(func() { close(c.done) })
}

// deliver reports false for a closed or saturated connection; it never blocks
// the pushing goroutine.
func (c *Conn) deliver(env Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.ch <- env:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

type userConns struct {
	mu    sync.Mutex
	conns map[*Conn]struct{}
}

// Hub is the shared registry of open live connections, keyed by user. The
// top-level lock only guards the user map; each user's connection set has its
// own lock, so a push to one user never blocks another user's push.
type Hub struct {
	mu     sync.RWMutex
	users  map[string]*userConns
	logger *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		users:  make(map[string]*userConns),
		logger: logger,
	}
}

func (h *Hub) Register(userID string) *Conn {
	conn := &Conn{
		userID: userID,
		ch:     make(chan Envelope, 16),
		done:   make(chan struct{}),
	}

	for {
		h.mu.Lock()
		set, ok := h.users[userID]
		if !ok {
			set = &userConns{conns: make(map[*Conn]struct{})}
			h.users[userID] = set
		}
		h.mu.Unlock()

		set.mu.Lock()
		set.conns[conn] = struct{}{}
		set.mu.Unlock()

		// An Evict of the user's last other connection may have dropped the
		// set from the map between the lookup and the insert, which would
		// leave this connection unreachable by Push. Re-check and retry on
		// a fresh set.
		h.mu.RLock()
		current := h.users[userID]
		h.mu.RUnlock()
		if current == set {
			break
		}
		set.mu.Lock()
		delete(set.conns, conn)
		set.mu.Unlock()
	}

	metrics.LiveConnections.Inc()
	conn.deliver(Envelope{Event: EventHello, Data: "connected"})
	return conn
}

// Push delivers the payload to every open connection of the user and returns
// how many received it. Dead connections are evicted on the way; pushing to a
// user with no connections is a valid no-op.
func (h *Hub) Push(userID string, data interface{}) int {
	h.mu.RLock()
	set, ok := h.users[userID]
	h.mu.RUnlock()
	if !ok {
		return 0
	}

	env := Envelope{Event: EventNotification, Data: data}

	var dead []*Conn
	delivered := 0
	set.mu.Lock()
	for conn := range set.conns {
		if conn.deliver(env) {
			delivered++
		} else {
			dead = append(dead, conn)
		}
	}
	set.mu.Unlock()

	for _, conn := range dead {
		h.logger.Debug("evicting dead live connection", zap.String("user_id", userID))
		h.Evict(conn)
	}
	return delivered
}

func (h *Hub) Evict(conn *Conn) {
	conn.Close()

	h.mu.Lock()
	set, ok := h.users[conn.userID]
	h.mu.Unlock()
	if !ok {
		return
	}

	set.mu.Lock()
	_, present := set.conns[conn]
	if present {
		delete(set.conns, conn)
	}
	empty := len(set.conns) == 0
	set.mu.Unlock()

	if present {
		metrics.LiveConnections.Dec()
	}
	if empty {
		h.mu.Lock()
		if current, ok := h.users[conn.userID]; ok {
			current.mu.Lock()
			if len(current.conns) == 0 {
				delete(h.users, conn.userID)
			}
			current.mu.Unlock()
		}
		h.mu.Unlock()
	}
}

// Connections reports the number of open connections for a user.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	set, ok := h.users[userID]
	h.mu.RUnlock()
	if !ok {
		return 0
	}
	set.mu.Lock()
	defer set.mu.Unlock()
	return len(set.conns)
}

// Broadcast makes the hub usable directly as the service's Broadcaster in
// single-process deployments and tests.
func (h *Hub) Broadcast(ctx context.Context, userID string, n *model.Notification) {
	h.Push(userID, n)
}
