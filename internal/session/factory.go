// Package session builds replica sessions: authenticated ones from client
// delegation payloads and anonymous ones with host fallback.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"launchpad/internal/actors"
	"launchpad/internal/agent"
	"launchpad/internal/apperror"
	"launchpad/internal/identity"
	"launchpad/internal/metrics"
	"launchpad/internal/retry"
)

const (
	// DefaultProbeTimeout bounds each host probe of the anonymous path
	DefaultProbeTimeout = 30 * time.Second

	kindAuthenticated = "authenticated"
	kindIdentity      = "identity"
	kindAnonymous     = "anonymous"
)

// DefaultQueryHosts are tried in order by CreateAnonymousWithFallback
var DefaultQueryHosts = []string{"https://icp-api.io", "https://ic0.app", "https://icp0.io"}

// Session is one host and one identity; *agent.Agent implements it
type Session interface {
	actors.Caller
	Host() string
	Identity() identity.Identity
	Status(ctx context.Context) (*agent.Status, error)
	FetchRootKey(ctx context.Context) error
}

// Dialer builds a session from an agent configuration
type Dialer func(cfg agent.Config) (Session, error)

// DialAgent is the production Dialer
func DialAgent(cfg agent.Config) (Session, error) {
	a, err := agent.New(cfg)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Factory creates sessions. It holds no per-session state and is safe for
// concurrent use.
type Factory struct {
	host         string
	queryHosts   []string
	retry        retry.Config
	dial         Dialer
	reconstruct  *identity.Reconstructor
	client       *http.Client
	now          func() time.Time
	probeTimeout time.Duration
}

// Option tunes a Factory
type Option func(*Factory)

// WithDialer replaces the agent constructor, mostly for tests
func WithDialer(d Dialer) Option {
	return func(f *Factory) { f.dial = d }
}

// WithHTTPClient shares one HTTP client between sessions
func WithHTTPClient(c *http.Client) Option {
	return func(f *Factory) { f.client = c }
}

// WithClock sets the clock used for delegation expiry and ingress expiry
func WithClock(now func() time.Time) Option {
	return func(f *Factory) { f.now = now }
}

// WithProbeTimeout bounds each anonymous host probe
func WithProbeTimeout(d time.Duration) Option {
	return func(f *Factory) { f.probeTimeout = d }
}

// NewFactory returns a factory for host. queryHosts defaults to DefaultQueryHosts.
func NewFactory(host string, queryHosts []string, cfg retry.Config, opts ...Option) *Factory {
	f := &Factory{
		host:         host,
		queryHosts:   queryHosts,
		retry:        cfg,
		dial:         DialAgent,
		now:          time.Now,
		probeTimeout: DefaultProbeTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	if len(f.queryHosts) == 0 {
		f.queryHosts = DefaultQueryHosts
	}
	if f.retry.MaxAttempts < 1 {
		f.retry.MaxAttempts = retry.DefaultAttempts
	}
	f.reconstruct = identity.NewReconstructor(f.now)
	return f
}

// Host is the primary host authenticated sessions are bound to
func (f *Factory) Host() string { return f.host }

func (f *Factory) config(host string, id identity.Identity) agent.Config {
	return agent.Config{
		Host:       host,
		Identity:   id,
		Client:     f.client,
		Transforms: []agent.Transform{agent.ExpiryTransform(agent.DefaultIngressExpiry, f.now)},
		Now:        f.now,
	}
}

// open dials host and bootstraps the root key of local replicas
func (f *Factory) open(ctx context.Context, host string, id identity.Identity) (Session, error) {
	s, err := f.dial(f.config(host, id))
	if err != nil {
		return nil, err
	}
	if agent.IsLocalHost(host) {
		if err := s.FetchRootKey(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// CreateAuthenticated reconstructs the identity in payload and binds it to
// the primary host. Reconstruction happens inside the retry loop. Every
// failure is reported as InvalidDelegation.
func (f *Factory) CreateAuthenticated(ctx context.Context, payload any) (Session, error) {
	return f.CreateAuthenticatedWithRetries(ctx, payload, f.retry.MaxAttempts)
}

// CreateAuthenticatedWithRetries is CreateAuthenticated with an explicit attempt ceiling
func (f *Factory) CreateAuthenticatedWithRetries(ctx context.Context, payload any, attempts int) (Session, error) {
	strategy := retry.NewStrategy(f.retry.WithAttempts(attempts), recoverable)

	s, err := retry.Do(ctx, strategy, "create authenticated session", func(ctx context.Context, attempt int) (Session, error) {
		id, err := f.reconstruct.Reconstruct(payload)
		if err != nil {
			return nil, err
		}
		if identity.IsAnonymous(id) {
			return nil, apperror.InvalidDelegation("anonymous identity cannot authenticate", nil)
		}
		return f.open(ctx, f.host, id)
	})
	if err != nil {
		metrics.SessionsTotal.WithLabelValues(kindAuthenticated, metrics.OutcomeFailure).Inc()
		var appErr *apperror.Error
		if errors.As(err, &appErr) && appErr.Kind == apperror.KindInvalidDelegation {
			return nil, appErr
		}
		return nil, apperror.InvalidDelegation("failed to create authenticated session", err)
	}

	metrics.SessionsTotal.WithLabelValues(kindAuthenticated, metrics.OutcomeSuccess).Inc()
	slog.Debug("Authenticated session ready", "host", s.Host(), "principal", s.Sender())
	return s, nil
}

// recoverable retries transport and bootstrap failures. A payload that does
// not reconstruct fails the same way on every attempt.
func recoverable(err error) bool {
	return !apperror.IsKind(err, apperror.KindInvalidDelegation)
}

// CreateWithIdentity binds an already constructed identity, such as the
// treasury's, to the primary host
func (f *Factory) CreateWithIdentity(ctx context.Context, id identity.Identity) (Session, error) {
	if _, err := identity.Validate(id); err != nil {
		return nil, apperror.InvalidDelegation("identity cannot produce a principal", err)
	}
	if identity.IsAnonymous(id) {
		return nil, apperror.InvalidDelegation("anonymous identity cannot authenticate", nil)
	}
	strategy := retry.NewStrategy(f.retry, nil)

	s, err := retry.Do(ctx, strategy, "create session", func(ctx context.Context, attempt int) (Session, error) {
		return f.open(ctx, f.host, id)
	})
	if err != nil {
		metrics.SessionsTotal.WithLabelValues(kindIdentity, metrics.OutcomeFailure).Inc()
		return nil, apperror.ExternalService("replica", err)
	}
	metrics.SessionsTotal.WithLabelValues(kindIdentity, metrics.OutcomeSuccess).Inc()
	return s, nil
}

// CreateAnonymousWithFallback probes the query hosts in order and returns a
// session on the first that answers. If all fail, the last error is surfaced.
func (f *Factory) CreateAnonymousWithFallback(ctx context.Context) (Session, error) {
	var lastErr error
	for _, host := range f.queryHosts {
		s, err := f.probe(ctx, host)
		if err == nil {
			metrics.SessionsTotal.WithLabelValues(kindAnonymous, metrics.OutcomeSuccess).Inc()
			return s, nil
		}
		if ctx.Err() != nil {
			lastErr = err
			break
		}
		slog.Warn("Query host unavailable, trying next", "host", host, "error", err)
		lastErr = err
	}

	metrics.SessionsTotal.WithLabelValues(kindAnonymous, metrics.OutcomeFailure).Inc()
	if lastErr == nil {
		lastErr = errors.New("no query hosts configured")
	}
	return nil, apperror.ExternalService("replica", lastErr)
}

func (f *Factory) probe(ctx context.Context, host string) (Session, error) {
	ctx, cancel := context.WithTimeout(ctx, f.probeTimeout)
	defer cancel()

	s, err := f.dial(f.config(host, identity.NewAnonymous()))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", host, err)
	}
	if agent.IsLocalHost(host) {
		err = s.FetchRootKey(ctx)
	} else {
		_, err = s.Status(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", host, err)
	}
	return s, nil
}
