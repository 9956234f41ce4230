// Package sessiontest provides session fakes backed by actorstest callers.
package sessiontest

import (
	"context"
	"sync"

	"launchpad/internal/actors/actorstest"
	"launchpad/internal/agent"
	"launchpad/internal/identity"
	"launchpad/internal/session"
)

// Session is a session.Session over a fake caller
type Session struct {
	*actorstest.Caller
	HostURL string
	ID      identity.Identity
}

func (s *Session) Host() string                                 { return s.HostURL }
func (s *Session) Identity() identity.Identity                  { return s.ID }
func (s *Session) Status(context.Context) (*agent.Status, error) { return &agent.Status{}, nil }
func (s *Session) FetchRootKey(context.Context) error           { return nil }

// Factory hands out fixed sessions and counts requests
type Factory struct {
	User      *actorstest.Caller
	Anonymous *actorstest.Caller

	// AuthErr and AnonErr make the matching constructor fail
	AuthErr error
	AnonErr error

	mu            sync.Mutex
	authenticated int
	anonymous     int
}

var _ interface {
	CreateAuthenticated(ctx context.Context, payload any) (session.Session, error)
	CreateAnonymousWithFallback(ctx context.Context) (session.Session, error)
} = (*Factory)(nil)

func (f *Factory) CreateAuthenticated(ctx context.Context, payload any) (session.Session, error) {
	f.mu.Lock()
	f.authenticated++
	f.mu.Unlock()
	if f.AuthErr != nil {
		return nil, f.AuthErr
	}
	return &Session{Caller: f.User, HostURL: "https://icp-api.io"}, nil
}

func (f *Factory) CreateAnonymousWithFallback(ctx context.Context) (session.Session, error) {
	f.mu.Lock()
	f.anonymous++
	f.mu.Unlock()
	if f.AnonErr != nil {
		return nil, f.AnonErr
	}
	return &Session{Caller: f.Anonymous, HostURL: "https://icp-api.io", ID: identity.NewAnonymous()}, nil
}

// Authenticated counts CreateAuthenticated calls
func (f *Factory) Authenticated() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authenticated
}
