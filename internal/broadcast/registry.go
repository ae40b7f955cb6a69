package broadcast

import (
	"time"

	"github.com/google/uuid"
)

// clientSession is one connected websocket client.
type clientSession struct {
	id           uuid.UUID
	remoteAddr   string
	registeredAt time.Time
	writer       *clientWriter
}

// wants reports whether a snapshot assembled at t may be delivered to this session.
func (s *clientSession) wants(t time.Time) bool {
	return !t.Before(s.registeredAt)
}

// clientRegistry is the set of live sessions. It is owned by the hub's actor
// goroutine and never shared, so it carries no lock.
type clientRegistry struct {
	sessions map[uuid.UUID]*clientSession
}

func newClientRegistry() *clientRegistry {
	return &clientRegistry{sessions: make(map[uuid.UUID]*clientSession)}
}

func (r *clientRegistry) add(s *clientSession) {
	r.sessions[s.id] = s
}

func (r *clientRegistry) remove(id uuid.UUID) (*clientSession, bool) {
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	return s, ok
}

func (r *clientRegistry) len() int {
	return len(r.sessions)
}

// list returns the current members; callers may remove while iterating the result.
func (r *clientRegistry) list() []*clientSession {
	out := make([]*clientSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
