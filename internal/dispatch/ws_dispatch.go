package dispatch

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"
)

var ErrNoSession = errors.New("no ws session")

// WSSession represents a connected taxi session.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(payload)
}

// WSRegistry holds live taxi sessions. When a taxi keeps a socket open
// the saga pushes assignments over it before falling back to the HTTP
// callback.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
}

func NewWSRegistry() *WSRegistry { return &WSRegistry{sessions: make(map[string]*WSSession)} }

func (r *WSRegistry) Add(taxiPublicID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[taxiPublicID] = &WSSession{conn: conn}
}

func (r *WSRegistry) Remove(taxiPublicID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, taxiPublicID)
}

func (r *WSRegistry) Send(taxiPublicID string, payload any) error {
	r.mu.RLock()
	s, ok := r.sessions[taxiPublicID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	return s.Send(payload)
}
