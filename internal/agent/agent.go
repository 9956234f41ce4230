// Package agent talks to replica boundary nodes over the HTTP interface:
// CBOR envelopes, signed update calls, certified replies and queries.
package agent

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"launchpad/internal/identity"
	"launchpad/internal/principal"
)

const (
	// DefaultIngressExpiry bounds the replay window of every request
	DefaultIngressExpiry = 5 * time.Minute

	defaultPollInterval = 500 * time.Millisecond
	maxResponseBytes    = 16 << 20
	contentTypeCBOR     = "application/cbor"
)

// Config describes one agent
type Config struct {
	Host         string
	Identity     identity.Identity
	Client       *http.Client
	RootKey      []byte // DER or raw 96 byte BLS key, mainnet when empty
	Transforms   []Transform
	PollInterval time.Duration
	Now          func() time.Time
}

// Agent is bound to one host and one identity for its lifetime
type Agent struct {
	host       string
	id         identity.Identity
	sender     principal.Principal
	client     *http.Client
	transforms []Transform
	poll       time.Duration
	now        func() time.Time

	mu      sync.RWMutex
	rootKey []byte
}

// New builds an agent. No network traffic happens until the first call.
func New(cfg Config) (*Agent, error) {
	u, err := url.Parse(strings.TrimRight(cfg.Host, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid replica host %q", cfg.Host)
	}

	id := cfg.Identity
	if id == nil {
		id = identity.NewAnonymous()
	}
	sender, err := identity.Validate(id)
	if err != nil {
		return nil, fmt.Errorf("failed to derive sender principal: %w", err)
	}

	rootKey := cfg.RootKey
	if len(rootKey) == 0 {
		rootKey = MainnetRootKey
	}
	raw, err := rawRootKey(rootKey)
	if err != nil {
		return nil, err
	}

	a := &Agent{
		host:       u.String(),
		id:         id,
		sender:     sender,
		client:     cfg.Client,
		transforms: cfg.Transforms,
		poll:       cfg.PollInterval,
		now:        cfg.Now,
		rootKey:    raw,
	}
	if a.client == nil {
		a.client = &http.Client{Timeout: 2 * time.Minute}
	}
	if a.poll <= 0 {
		a.poll = defaultPollInterval
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a, nil
}

// Host returns the boundary node URL
func (a *Agent) Host() string { return a.host }

// Sender is the principal update calls are sent as
func (a *Agent) Sender() principal.Principal { return a.sender }

// Identity returns the identity the agent signs with
func (a *Agent) Identity() identity.Identity { return a.id }

// CallOption tunes a single update call
type CallOption func(*callOptions)

type callOptions struct {
	effective *principal.Principal
}

// WithEffectiveCanisterID routes the call through another canister's subnet,
// as management canister calls require
func WithEffectiveCanisterID(p principal.Principal) CallOption {
	return func(o *callOptions) { o.effective = &p }
}

// EffectiveCanisterID resolves the canister a call is routed through
func EffectiveCanisterID(canister principal.Principal, opts ...CallOption) principal.Principal {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.effective != nil {
		return *o.effective
	}
	return canister
}

// Status fetches /api/v2/status
func (a *Agent) Status(ctx context.Context) (*Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.host+"/api/v2/status", nil)
	if err != nil {
		return nil, err
	}
	body, code, err := a.do(req)
	if err != nil {
		return nil, err
	}
	if code != http.StatusOK {
		return nil, &HTTPError{StatusCode: code, Body: truncate(body)}
	}
	var st Status
	if err := unmarshalCBOR(body, &st); err != nil {
		return nil, fmt.Errorf("failed to decode status: %w", err)
	}
	return &st, nil
}

// FetchRootKey replaces the trusted root key with the one the host reports.
// Only local development replicas should be trusted this way.
func (a *Agent) FetchRootKey(ctx context.Context) error {
	st, err := a.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch root key: %w", err)
	}
	raw, err := rawRootKey(st.RootKey)
	if err != nil {
		return fmt.Errorf("failed to fetch root key: %w", err)
	}
	a.mu.Lock()
	a.rootKey = raw
	a.mu.Unlock()
	slog.Debug("Fetched replica root key", "host", a.host)
	return nil
}

func (a *Agent) trustedRootKey() []byte {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.rootKey
}

// Call sends a signed update call and waits for its certified reply
func (a *Agent) Call(ctx context.Context, canister principal.Principal, method string, arg []byte, opts ...CallOption) ([]byte, error) {
	effective := EffectiveCanisterID(canister, opts...)

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	r := a.prepare(&Request{Type: RequestCall, CanisterID: canister, Method: method, Arg: arg, Nonce: nonce})

	content := &callContent{
		RequestType:   string(RequestCall),
		CanisterID:    r.CanisterID.Raw(),
		MethodName:    r.Method,
		Arg:           r.Arg,
		Sender:        a.sender.Raw(),
		IngressExpiry: uint64(r.IngressExpiry.UnixNano()),
		Nonce:         r.Nonce,
	}
	reqID := content.requestID()
	env, err := sign(a.id, content, reqID)
	if err != nil {
		return nil, err
	}
	payload, err := marshalCBOR(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode call envelope: %w", err)
	}

	slog.Debug("Submitting update call",
		"host", a.host,
		"canister_id", canister.String(),
		"method", method,
		"request_id", fmt.Sprintf("%x", reqID))

	body, code, err := a.post(ctx, "/api/v3/canister/"+effective.String()+"/call", payload)
	if err != nil {
		return nil, err
	}
	if code == http.StatusNotFound {
		// Boundary nodes without the synchronous endpoint
		body, code, err = a.post(ctx, "/api/v2/canister/"+effective.String()+"/call", payload)
		if err != nil {
			return nil, err
		}
	}

	switch code {
	case http.StatusOK:
		var resp callResponse
		if err := unmarshalCBOR(body, &resp); err != nil {
			return nil, fmt.Errorf("failed to decode call response: %w", err)
		}
		switch resp.Status {
		case "replied":
			cert, err := verifyCertificate(resp.Certificate, a.trustedRootKey(), effective)
			if err != nil {
				return nil, err
			}
			rs, res := readRequestStatus(cert, reqID)
			if res != LookupFound {
				return nil, fmt.Errorf("certificate does not cover request %x", reqID)
			}
			return replyOf(rs)
		case "non_replicated_rejection":
			return nil, &RejectError{Code: resp.RejectCode, Message: resp.RejectMessage, ErrorCode: resp.ErrorCode}
		default:
			return nil, fmt.Errorf("unexpected call response status %q", resp.Status)
		}
	case http.StatusAccepted:
		return a.pollReply(ctx, effective, reqID, r.IngressExpiry)
	default:
		return nil, &HTTPError{StatusCode: code, Body: truncate(body)}
	}
}

// Query sends an unsigned query call
func (a *Agent) Query(ctx context.Context, canister principal.Principal, method string, arg []byte) ([]byte, error) {
	r := a.prepare(&Request{Type: RequestQuery, CanisterID: canister, Method: method, Arg: arg})

	content := &callContent{
		RequestType:   string(RequestQuery),
		CanisterID:    r.CanisterID.Raw(),
		MethodName:    r.Method,
		Arg:           r.Arg,
		Sender:        principal.Anonymous.Raw(),
		IngressExpiry: uint64(r.IngressExpiry.UnixNano()),
	}
	payload, err := marshalCBOR(&envelope{Content: content})
	if err != nil {
		return nil, fmt.Errorf("failed to encode query envelope: %w", err)
	}

	body, code, err := a.post(ctx, "/api/v2/canister/"+canister.String()+"/query", payload)
	if err != nil {
		return nil, err
	}
	if code != http.StatusOK {
		return nil, &HTTPError{StatusCode: code, Body: truncate(body)}
	}

	var resp queryResponse
	if err := unmarshalCBOR(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode query response: %w", err)
	}
	switch resp.Status {
	case "replied":
		return resp.Reply.Arg, nil
	case "rejected":
		return nil, &RejectError{Code: resp.RejectCode, Message: resp.RejectMessage, ErrorCode: resp.ErrorCode}
	default:
		return nil, fmt.Errorf("unexpected query response status %q", resp.Status)
	}
}

// ReadState fetches and verifies a certificate covering paths
func (a *Agent) ReadState(ctx context.Context, effective principal.Principal, paths [][][]byte) (*Certificate, error) {
	r := a.prepare(&Request{Type: RequestReadState, CanisterID: effective})
	content := &readStateContent{
		RequestType:   string(RequestReadState),
		Sender:        a.sender.Raw(),
		IngressExpiry: uint64(r.IngressExpiry.UnixNano()),
		Paths:         paths,
	}
	env, err := sign(a.id, content, content.requestID())
	if err != nil {
		return nil, err
	}
	payload, err := marshalCBOR(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode read_state envelope: %w", err)
	}

	body, code, err := a.post(ctx, "/api/v2/canister/"+effective.String()+"/read_state", payload)
	if err != nil {
		return nil, err
	}
	if code != http.StatusOK {
		return nil, &HTTPError{StatusCode: code, Body: truncate(body)}
	}
	var resp readStateResponse
	if err := unmarshalCBOR(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode read_state response: %w", err)
	}
	return verifyCertificate(resp.Certificate, a.trustedRootKey(), effective)
}

func (a *Agent) pollReply(ctx context.Context, effective principal.Principal, reqID []byte, expiry time.Time) ([]byte, error) {
	limiter := rate.NewLimiter(rate.Every(a.poll), 1)
	paths := [][][]byte{{[]byte("request_status"), reqID}}

	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
		if a.now().After(expiry) {
			return nil, ErrRequestExpired
		}

		cert, err := a.ReadState(ctx, effective, paths)
		if err != nil {
			return nil, fmt.Errorf("failed to poll request status: %w", err)
		}
		rs, res := readRequestStatus(cert, reqID)
		if res != LookupFound {
			continue
		}
		switch rs.Status {
		case "received", "processing":
			continue
		default:
			return replyOf(rs)
		}
	}
}

func replyOf(rs requestStatus) ([]byte, error) {
	switch rs.Status {
	case "replied":
		return rs.Reply, nil
	case "rejected":
		return nil, &RejectError{Code: rs.RejectCode, Message: rs.RejectMessage, ErrorCode: rs.ErrorCode}
	case "done":
		return nil, fmt.Errorf("request is done and its reply was pruned")
	default:
		return nil, fmt.Errorf("unexpected request status %q", rs.Status)
	}
}

// prepare runs the transforms and fills an unset expiry
func (a *Agent) prepare(r *Request) *Request {
	for _, t := range a.transforms {
		t(r)
	}
	if r.IngressExpiry.IsZero() {
		r.IngressExpiry = a.now().Add(DefaultIngressExpiry)
	}
	return r
}

func (a *Agent) post(ctx context.Context, path string, payload []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.host+path, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", contentTypeCBOR)
	return a.do(req)
}

func (a *Agent) do(req *http.Request) ([]byte, int, error) {
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request to %s failed: %w", req.URL.Host, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response from %s: %w", req.URL.Host, err)
	}
	return body, resp.StatusCode, nil
}

func truncate(body []byte) string {
	const limit = 512
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}

// IsLocalHost reports whether host points at a development replica that
// needs its root key fetched before use
func IsLocalHost(host string) bool {
	u, err := url.Parse(host)
	if err != nil {
		return false
	}
	name := u.Hostname()
	if name == "localhost" || strings.HasSuffix(name, ".localhost") {
		return true
	}
	ip := net.ParseIP(name)
	return ip != nil && (ip.IsLoopback() || ip.IsUnspecified())
}
