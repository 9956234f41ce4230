package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"launchpad/internal/actors/actorstest"
	"launchpad/internal/agent"
	"launchpad/internal/apperror"
	"launchpad/internal/identity"
	"launchpad/internal/retry"
)

const testSeed = "0101010101010101010101010101010101010101010101010101010101010101"

type fakeSession struct {
	*actorstest.Caller
	host       string
	id         identity.Identity
	statusErr  error
	rootKeyErr error
	fetched    int
}

func (s *fakeSession) Host() string                { return s.host }
func (s *fakeSession) Identity() identity.Identity { return s.id }

func (s *fakeSession) Status(ctx context.Context) (*agent.Status, error) {
	if s.statusErr != nil {
		return nil, s.statusErr
	}
	return &agent.Status{}, nil
}

func (s *fakeSession) FetchRootKey(ctx context.Context) error {
	s.fetched++
	return s.rootKeyErr
}

type recordingDialer struct {
	mu      sync.Mutex
	configs []agent.Config
	tune    func(n int, s *fakeSession)
	err     error
}

func (d *recordingDialer) dial(cfg agent.Config) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.configs = append(d.configs, cfg)
	if d.err != nil {
		return nil, d.err
	}
	sender, err := identity.Validate(cfg.Identity)
	if err != nil {
		return nil, err
	}
	s := &fakeSession{Caller: actorstest.New(sender), host: cfg.Host, id: cfg.Identity}
	if d.tune != nil {
		d.tune(len(d.configs), s)
	}
	return s, nil
}

func fastRetry() retry.Config {
	return retry.Config{Enabled: true, MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestCreateAuthenticated_RawKey(t *testing.T) {
	d := &recordingDialer{}
	f := NewFactory("https://icp-api.io", nil, fastRetry(), WithDialer(d.dial))

	s, err := f.CreateAuthenticated(context.Background(), testSeed)
	require.NoError(t, err)

	want, err := identity.Reconstruct(testSeed)
	require.NoError(t, err)
	wantPrincipal, _ := want.Principal()
	assert.Equal(t, wantPrincipal, s.Sender())
	assert.Equal(t, "https://icp-api.io", s.Host())

	require.Len(t, d.configs, 1)
	assert.Len(t, d.configs[0].Transforms, 1)
	assert.Equal(t, 0, s.(*fakeSession).fetched, "remote hosts trust the built-in root key")
}

func TestCreateAuthenticated_ExpiryTransform(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	d := &recordingDialer{}
	f := NewFactory("https://icp-api.io", nil, fastRetry(), WithDialer(d.dial), WithClock(func() time.Time { return now }))

	_, err := f.CreateAuthenticated(context.Background(), testSeed)
	require.NoError(t, err)

	req := &agent.Request{Type: agent.RequestCall}
	for _, tr := range d.configs[0].Transforms {
		tr(req)
	}
	assert.Equal(t, now.Add(5*time.Minute), req.IngressExpiry)
}

func TestCreateAuthenticated_LocalHostRetriesRootKey(t *testing.T) {
	d := &recordingDialer{tune: func(n int, s *fakeSession) {
		if n == 1 {
			s.rootKeyErr = errors.New("connection refused")
		}
	}}
	f := NewFactory("http://127.0.0.1:4943", nil, fastRetry(), WithDialer(d.dial))

	s, err := f.CreateAuthenticated(context.Background(), testSeed)
	require.NoError(t, err)
	assert.Len(t, d.configs, 2)
	assert.Equal(t, 1, s.(*fakeSession).fetched)
}

func TestCreateAuthenticated_UnsupportedPayload(t *testing.T) {
	d := &recordingDialer{}
	f := NewFactory("https://icp-api.io", nil, fastRetry(), WithDialer(d.dial))

	_, err := f.CreateAuthenticated(context.Background(), map[string]any{"foo": "bar"})
	require.Error(t, err)

	var appErr *apperror.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperror.KindInvalidDelegation, appErr.Kind)
	assert.Equal(t, apperror.ReconnectHint, appErr.Hint)
	assert.Empty(t, d.configs)
}

func TestCreateAuthenticated_AnonymousRejected(t *testing.T) {
	f := NewFactory("https://icp-api.io", nil, fastRetry(), WithDialer((&recordingDialer{}).dial))

	_, err := f.CreateAuthenticated(context.Background(), "anonymous")
	assert.True(t, apperror.IsKind(err, apperror.KindInvalidDelegation))
}

func TestCreateAuthenticated_DialFailureIsTagged(t *testing.T) {
	d := &recordingDialer{err: errors.New("invalid replica host")}
	f := NewFactory("nope", nil, fastRetry(), WithDialer(d.dial))

	_, err := f.CreateAuthenticatedWithRetries(context.Background(), testSeed, 2)
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindInvalidDelegation))
	assert.Contains(t, err.Error(), "invalid replica host")
	assert.Len(t, d.configs, 2)
}

func TestCreateWithIdentity(t *testing.T) {
	d := &recordingDialer{}
	f := NewFactory("https://icp-api.io", nil, fastRetry(), WithDialer(d.dial))

	id, err := identity.Reconstruct(testSeed)
	require.NoError(t, err)
	s, err := f.CreateWithIdentity(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, s.Identity())

	_, err = f.CreateWithIdentity(context.Background(), nil)
	assert.True(t, apperror.IsKind(err, apperror.KindInvalidDelegation))
}

func TestCreateAnonymousWithFallback(t *testing.T) {
	d := &recordingDialer{tune: func(n int, s *fakeSession) {
		if strings.Contains(s.host, "first") {
			s.statusErr = errors.New("boundary node down")
		}
	}}
	f := NewFactory("https://primary", []string{"https://first", "https://second"}, fastRetry(), WithDialer(d.dial))

	s, err := f.CreateAnonymousWithFallback(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://second", s.Host())
	assert.True(t, s.Sender().IsAnonymous())
}

func TestCreateAnonymousWithFallback_AllFail(t *testing.T) {
	d := &recordingDialer{tune: func(n int, s *fakeSession) {
		s.statusErr = errors.New("down " + s.host)
	}}
	f := NewFactory("https://primary", []string{"https://a", "https://b"}, fastRetry(), WithDialer(d.dial))

	_, err := f.CreateAnonymousWithFallback(context.Background())
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindExternalService))
	assert.Contains(t, err.Error(), "down https://b")
}

func TestCreateAnonymousWithFallback_LocalBootstrap(t *testing.T) {
	d := &recordingDialer{}
	f := NewFactory("http://localhost:4943", []string{"http://localhost:4943"}, fastRetry(), WithDialer(d.dial))

	s, err := f.CreateAnonymousWithFallback(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, s.(*fakeSession).fetched)
}

func TestCreateAuthenticated_MalformedPayloadFailsWithoutBackoff(t *testing.T) {
	slow := retry.Config{Enabled: true, MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: time.Second}
	d := &recordingDialer{}
	f := NewFactory("https://icp-api.io", nil, slow, WithDialer(d.dial))

	start := time.Now()
	_, err := f.CreateAuthenticated(context.Background(), "not-a-key")
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindInvalidDelegation))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Empty(t, d.configs)
}
