package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/sensorbridge/internal/adapter/metrics"
	"github.com/pscheid92/sensorbridge/internal/domain"
)

const (
	commandTimeout = 5 * time.Second
	stopTimeout    = 10 * time.Second
	commandBuffer  = 256

	shutdownReason = "Server shutting down"
)

// OverflowPolicy decides what happens when a client's outbound queue is full.
type OverflowPolicy string

const (
	OverflowDropOldest OverflowPolicy = "drop-oldest"
	OverflowDisconnect OverflowPolicy = "disconnect"
)

// ParseOverflowPolicy maps a configuration value to an OverflowPolicy.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch OverflowPolicy(s) {
	case OverflowDropOldest, OverflowDisconnect:
		return OverflowPolicy(s), nil
	default:
		return "", fmt.Errorf("unknown overflow policy %q (want %q or %q)", s, OverflowDropOldest, OverflowDisconnect)
	}
}

// Config bounds the hub's resource use.
type Config struct {
	MaxClients   int
	ClientBuffer int
	Overflow     OverflowPolicy
}

type hubCmd interface{ isHubCmd() }

type baseHubCmd struct{}

func (baseHubCmd) isHubCmd() {}

type registerReply struct {
	id  uuid.UUID
	err error
}

type registerCmd struct {
	baseHubCmd
	connection   *websocket.Conn
	remoteAddr   string
	replyChannel chan registerReply
}

type unregisterCmd struct {
	baseHubCmd
	id uuid.UUID
}

type clientCountCmd struct {
	baseHubCmd
	replyChannel chan int
}

type broadcastCmd struct {
	baseHubCmd
	data         []byte
	assembledAt  time.Time
	replyChannel chan int
}

type stopCmd struct {
	baseHubCmd
}

// Hub fans snapshots out to every registered websocket client. All client
// bookkeeping happens on a single actor goroutine; each client has its own
// writer goroutine so one slow or broken peer never stalls the rest.
type Hub struct {
	cmdCh    chan hubCmd
	clock    clockwork.Clock
	clients  *clientRegistry
	config   Config
	metrics  *metrics.WebSocketMetrics
	done     chan struct{}
	stopOnce sync.Once
}

// NewHub starts the hub's actor goroutine. A nil metrics set is replaced by an
// unregistered one.
func NewHub(config Config, clock clockwork.Clock, m *metrics.WebSocketMetrics) *Hub {
	if config.ClientBuffer < 1 {
		config.ClientBuffer = 1
	}
	if config.Overflow == "" {
		config.Overflow = OverflowDropOldest
	}
	if m == nil {
		m = metrics.NewWebSocketMetrics(prometheus.NewRegistry())
	}

	h := &Hub{
		cmdCh:   make(chan hubCmd, commandBuffer),
		clock:   clock,
		clients: newClientRegistry(),
		config:  config,
		metrics: m,
		done:    make(chan struct{}),
	}
	go h.run()
	return h
}

// Register adds a connection to the broadcast set and returns its session id.
// Snapshots assembled before this call are never delivered to it.
func (h *Hub) Register(conn *websocket.Conn, remoteAddr string) (uuid.UUID, error) {
	replyCh := make(chan registerReply, 1)
	if err := h.send(registerCmd{connection: conn, remoteAddr: remoteAddr, replyChannel: replyCh}); err != nil {
		return uuid.Nil, err
	}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case reply := <-replyCh:
		return reply.id, reply.err
	case <-h.done:
		return uuid.Nil, domain.ErrHubStopped
	case <-timer.Chan():
		return uuid.Nil, fmt.Errorf("register command timed out after %v", commandTimeout)
	}
}

// Unregister removes a session and closes its connection. Unknown ids are ignored.
func (h *Hub) Unregister(id uuid.UUID) {
	_ = h.send(unregisterCmd{id: id})
}

// ClientCount returns the number of registered sessions, or -1 if the hub did not answer.
func (h *Hub) ClientCount() int {
	replyCh := make(chan int, 1)
	if err := h.send(clientCountCmd{replyChannel: replyCh}); err != nil {
		return -1
	}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case count := <-replyCh:
		return count
	case <-h.done:
		return -1
	case <-timer.Chan():
		slog.Warn("ClientCount timed out", "timeout", commandTimeout)
		return -1
	}
}

// Broadcast serializes snap once and queues the same bytes for every eligible
// session. It returns how many sessions the frame was handed to.
func (h *Hub) Broadcast(ctx context.Context, snap domain.MergedSnapshot) (int, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot %d: %w", snap.Seq, err)
	}

	replyCh := make(chan int, 1)
	cmd := broadcastCmd{data: data, assembledAt: snap.AssembledAt, replyChannel: replyCh}
	select {
	case h.cmdCh <- cmd:
	case <-h.done:
		return 0, domain.ErrHubStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	select {
	case attempts := <-replyCh:
		return attempts, nil
	case <-h.done:
		return 0, domain.ErrHubStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Stop closes every client with a normal-closure frame and waits for the
// actor to exit. Safe to call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		if err := h.send(stopCmd{}); err != nil {
			return
		}

		timeout := h.clock.NewTimer(stopTimeout)
		defer timeout.Stop()

		select {
		case <-h.done:
			slog.Info("Hub stopped gracefully")
		case <-timeout.Chan():
			slog.Warn("Hub stop timeout exceeded", "timeout", stopTimeout)
		}
	})
}

func (h *Hub) send(cmd hubCmd) error {
	select {
	case h.cmdCh <- cmd:
		return nil
	case <-h.done:
		return domain.ErrHubStopped
	}
}

func (h *Hub) run() {
	defer close(h.done)

	for cmd := range h.cmdCh {
		if stop := h.handle(cmd); stop {
			return
		}
	}
}

// handle processes one command. A panic is contained to the command that caused it.
func (h *Hub) handle(cmd hubCmd) (stop bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Hub panic recovered", "panic", r, "command_type", fmt.Sprintf("%T", cmd))
		}
	}()

	switch c := cmd.(type) {
	case registerCmd:
		h.handleRegister(c)
	case unregisterCmd:
		h.evict(c.id, "")
	case clientCountCmd:
		c.replyChannel <- h.clients.len()
	case broadcastCmd:
		c.replyChannel <- h.handleBroadcast(c)
	case stopCmd:
		h.handleStop()
		return true
	default:
		slog.Warn("Hub received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
	}
	return false
}

func (h *Hub) handleRegister(c registerCmd) {
	if h.config.MaxClients > 0 && h.clients.len() >= h.config.MaxClients {
		slog.Warn("Rejecting client: max clients reached", "remote_addr", c.remoteAddr, "max_clients", h.config.MaxClients)
		c.replyChannel <- registerReply{err: fmt.Errorf("%w: limit %d", domain.ErrTooManyClients, h.config.MaxClients)}
		return
	}

	session := &clientSession{
		id:           uuid.New(),
		remoteAddr:   c.remoteAddr,
		registeredAt: h.clock.Now(),
		writer:       newClientWriter(c.connection, h.clock, h.metrics, h.config.ClientBuffer, h.config.Overflow),
	}
	h.clients.add(session)
	h.metrics.ActiveConnections.Set(float64(h.clients.len()))

	slog.Debug("Client registered", "session_id", session.id.String(), "remote_addr", c.remoteAddr, "total_clients", h.clients.len())
	c.replyChannel <- registerReply{id: session.id}
}

// evict removes a session and stops its writer. An empty reason means the
// client left on its own.
func (h *Hub) evict(id uuid.UUID, reason string) {
	session, ok := h.clients.remove(id)
	if !ok {
		return
	}
	session.writer.stop()
	h.metrics.ActiveConnections.Set(float64(h.clients.len()))

	if reason == "" {
		slog.Debug("Client unregistered", "session_id", id.String(), "remaining_clients", h.clients.len())
		return
	}
	h.metrics.Evictions.WithLabelValues(reason).Inc()
	slog.Warn("Evicted client", "session_id", id.String(), "remote_addr", session.remoteAddr, "reason", reason)
}

func (h *Hub) handleBroadcast(c broadcastCmd) int {
	attempts := 0
	for _, session := range h.clients.list() {
		if !session.wants(c.assembledAt) {
			continue
		}
		if session.writer.failed() {
			h.evict(session.id, "write_failed")
			continue
		}

		attempts++
		dropped, ok := session.writer.enqueue(c.data)
		if dropped > 0 {
			h.metrics.FramesDropped.Add(float64(dropped))
		}
		if !ok {
			h.evict(session.id, "slow_client")
		}
	}
	h.metrics.BroadcastAttempts.Add(float64(attempts))
	return attempts
}

func (h *Hub) handleStop() {
	total := h.clients.len()
	slog.Info("Hub shutting down", "total_clients", total)

	var wg sync.WaitGroup
	for _, session := range h.clients.list() {
		h.clients.remove(session.id)
		wg.Add(1)
		go func() {
			defer wg.Done()
			session.writer.stopGraceful(shutdownReason)
		}()
	}
	wg.Wait()
	h.metrics.ActiveConnections.Set(0)

	slog.Info("Hub shutdown complete", "disconnected_clients", total)
}
