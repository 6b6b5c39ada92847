package authstub

import (
	"sync"
	"time"
)

// Endpoint names used by the test hooks.
const (
	EndpointLogin   = "login"
	EndpointToken   = "token"
	EndpointRefresh = "refresh"
	EndpointMe      = "me"
	EndpointJWKS    = "jwks"
)

// hooks lets tests observe and steer the backend.
type hooks struct {
	mu        sync.Mutex
	calls     map[string]int
	forced    map[string]int
	accessTTL time.Duration
	gate      chan struct{}
}

func newHooks(accessTTL time.Duration) *hooks {
	return &hooks{
		calls:     make(map[string]int),
		forced:    make(map[string]int),
		accessTTL: accessTTL,
	}
}

// enter counts a call and returns the forced status for the endpoint, or 0.
func (h *hooks) enter(endpoint string) (forced int, gate chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.calls[endpoint]++
	if endpoint == EndpointRefresh {
		gate = h.gate
	}
	return h.forced[endpoint], gate
}

// Calls returns how many requests reached endpoint.
func (s *Server) Calls(endpoint string) int {
	s.hooks.mu.Lock()
	defer s.hooks.mu.Unlock()
	return s.hooks.calls[endpoint]
}

// ForceStatus makes endpoint answer with status. Zero restores normal handling.
func (s *Server) ForceStatus(endpoint string, status int) {
	s.hooks.mu.Lock()
	defer s.hooks.mu.Unlock()

	if status == 0 {
		delete(s.hooks.forced, endpoint)
		return
	}
	s.hooks.forced[endpoint] = status
}

// SetAccessTTL changes the lifetime of access tokens issued from now on.
func (s *Server) SetAccessTTL(ttl time.Duration) {
	s.hooks.mu.Lock()
	defer s.hooks.mu.Unlock()
	s.hooks.accessTTL = ttl
}

func (s *Server) accessTTL() time.Duration {
	s.hooks.mu.Lock()
	defer s.hooks.mu.Unlock()
	return s.hooks.accessTTL
}

// HoldRefresh makes refresh requests block until release is called.
func (s *Server) HoldRefresh() (release func()) {
	gate := make(chan struct{})

	s.hooks.mu.Lock()
	s.hooks.gate = gate
	s.hooks.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.hooks.mu.Lock()
			if s.hooks.gate == gate {
				s.hooks.gate = nil
			}
			s.hooks.mu.Unlock()
			close(gate)
		})
	}
}
