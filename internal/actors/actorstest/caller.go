// Package actorstest provides an in-memory replica caller for tests.
package actorstest

import (
	"context"
	"fmt"
	"sync"

	"launchpad/internal/agent"
	"launchpad/internal/candid"
	"launchpad/internal/principal"
)

// Handler answers one call with a Candid reply
type Handler func(arg []byte) ([]byte, error)

// Recorded is one call the fake received
type Recorded struct {
	Canister  principal.Principal
	Method    string
	Arg       []byte
	Effective principal.Principal
	Query     bool
}

// Caller routes calls to handlers keyed by canister and method
type Caller struct {
	mu       sync.Mutex
	sender   principal.Principal
	handlers map[string]Handler
	calls    []Recorded
}

// New returns a fake caller sending as sender
func New(sender principal.Principal) *Caller {
	return &Caller{sender: sender, handlers: map[string]Handler{}}
}

func key(canister principal.Principal, method string) string {
	return canister.String() + "/" + method
}

// Handle registers h for method on canister
func (c *Caller) Handle(canister principal.Principal, method string, h Handler) *Caller {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[key(canister, method)] = h
	return c
}

// HandleAny registers h for method on every canister
func (c *Caller) HandleAny(method string, h Handler) *Caller {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers["*/"+method] = h
	return c
}

func (c *Caller) dispatch(r Recorded) ([]byte, error) {
	c.mu.Lock()
	c.calls = append(c.calls, r)
	h, ok := c.handlers[key(r.Canister, r.Method)]
	if !ok {
		h, ok = c.handlers["*/"+r.Method]
	}
	c.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("actorstest: no handler for %s on %s", r.Method, r.Canister)
	}
	return h(r.Arg)
}

func (c *Caller) Call(ctx context.Context, canister principal.Principal, method string, arg []byte, opts ...agent.CallOption) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.dispatch(Recorded{
		Canister:  canister,
		Method:    method,
		Arg:       arg,
		Effective: agent.EffectiveCanisterID(canister, opts...),
	})
}

func (c *Caller) Query(ctx context.Context, canister principal.Principal, method string, arg []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.dispatch(Recorded{Canister: canister, Method: method, Arg: arg, Effective: canister, Query: true})
}

func (c *Caller) Sender() principal.Principal { return c.sender }

// Calls returns everything received so far
func (c *Caller) Calls() []Recorded {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Recorded{}, c.calls...)
}

// Methods lists the received method names in order
func (c *Caller) Methods() []string {
	var out []string
	for _, r := range c.Calls() {
		out = append(out, r.Method)
	}
	return out
}

// Returns answers every call with the encoded values
func Returns(types []candid.Type, values []any) Handler {
	reply, err := candid.Encode(types, values)
	return func([]byte) ([]byte, error) {
		if err != nil {
			return nil, fmt.Errorf("actorstest: bad canned reply: %w", err)
		}
		return reply, nil
	}
}

// Fails answers every call with err
func Fails(err error) Handler {
	return func([]byte) ([]byte, error) { return nil, err }
}

// Ok encodes variant{Ok = value} of the result type t
func Ok(t candid.Type, value any) Handler {
	return Returns([]candid.Type{t}, []any{candid.Variant{Name: "Ok", Value: value}})
}

// Err encodes variant{Err = value} of the result type t
func Err(t candid.Type, value any) Handler {
	return Returns([]candid.Type{t}, []any{candid.Variant{Name: "Err", Value: value}})
}

// DecodeArg decodes the single argument of a recorded call
func DecodeArg(r Recorded) (candid.Record, error) {
	v, err := candid.DecodeOne(r.Arg)
	if err != nil {
		return nil, err
	}
	return candid.AsRecord(v)
}
