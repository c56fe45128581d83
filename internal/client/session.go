package client

import (
	"sync"

	"github.com/cpvl/dues-server/internal/models"
)

// Session is the authentication context shared by every component of one
// client. It is the only owner of the logged-in state: components read it,
// and only Client mutates it (on login and on a 401).
type Session struct {
	mu           sync.RWMutex
	token        string
	actor        models.Actor
	onInvalidate []func()
}

func NewSession() *Session {
	return &Session{}
}

// Set stores the credentials of a successful login
func (s *Session) Set(token string, actor models.Actor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.actor = actor
}

func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Session) Actor() models.Actor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.actor
}

func (s *Session) LoggedIn() bool {
	return s.Token() != ""
}

// OnInvalidate registers fn to run when the session is invalidated
func (s *Session) OnInvalidate(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onInvalidate = append(s.onInvalidate, fn)
}

// Invalidate clears the credentials. Listeners run once per logged-in
// session, outside the lock.
func (s *Session) Invalidate() {
	s.mu.Lock()
	if s.token == "" {
		s.mu.Unlock()
		return
	}
	s.token = ""
	s.actor = models.Actor{}
	listeners := append([]func(){}, s.onInvalidate...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}
