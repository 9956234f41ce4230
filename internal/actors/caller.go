// Package actors wraps the canisters the launchpad talks to in typed clients:
// the management canister, a cycles wallet and ICRC-1 token ledgers.
package actors

import (
	"context"
	"fmt"

	"launchpad/internal/agent"
	"launchpad/internal/candid"
	"launchpad/internal/principal"
)

// Caller issues raw calls; *agent.Agent implements it
type Caller interface {
	Call(ctx context.Context, canister principal.Principal, method string, arg []byte, opts ...agent.CallOption) ([]byte, error)
	Query(ctx context.Context, canister principal.Principal, method string, arg []byte) ([]byte, error)
	Sender() principal.Principal
}

// ErrReply is a well-formed Err result returned by a canister method
type ErrReply struct {
	Method string
	Reason any
}

func (e *ErrReply) Error() string {
	return fmt.Sprintf("%s returned Err: %v", e.Method, e.Reason)
}

func encode(method string, types []candid.Type, values []any) ([]byte, error) {
	arg, err := candid.Encode(types, values)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s arguments: %w", method, err)
	}
	return arg, nil
}

func update(ctx context.Context, c Caller, canister principal.Principal, method string, types []candid.Type, values []any, opts ...agent.CallOption) ([]any, error) {
	arg, err := encode(method, types, values)
	if err != nil {
		return nil, err
	}
	reply, err := c.Call(ctx, canister, method, arg, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s on %s failed: %w", method, canister, err)
	}
	out, err := candid.Decode(reply)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s reply: %w", method, err)
	}
	return out, nil
}

func query(ctx context.Context, c Caller, canister principal.Principal, method string, types []candid.Type, values []any) (any, error) {
	arg, err := encode(method, types, values)
	if err != nil {
		return nil, err
	}
	reply, err := c.Query(ctx, canister, method, arg)
	if err != nil {
		return nil, fmt.Errorf("%s on %s failed: %w", method, canister, err)
	}
	out, err := candid.DecodeOne(reply)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s reply: %w", method, err)
	}
	return out, nil
}

func first(method string, values []any) (any, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("%s replied with no values", method)
	}
	return values[0], nil
}

// result splits a variant{Ok; Err} reply. Err payloads become *ErrReply
// unless decodeErr recognizes them.
func result(method string, v any, decodeErr func(candid.Variant) error) (any, error) {
	variant, err := candid.AsVariant(v)
	if err != nil {
		return nil, fmt.Errorf("%s reply: %w", method, err)
	}
	switch {
	case variant.Is("Ok"):
		return variant.Value, nil
	case variant.Is("Err"):
		if inner, ok := variant.Value.(candid.Variant); ok && decodeErr != nil {
			if err := decodeErr(inner); err != nil {
				return nil, err
			}
		}
		return nil, &ErrReply{Method: method, Reason: candid.Describe(variant.Value, errorLabels...)}
	default:
		return nil, fmt.Errorf("%s reply is neither Ok nor Err", method)
	}
}

// errorLabels names the fields that show up in Err payloads
var errorLabels = []string{
	"BadFee", "BadBurn", "InsufficientFunds", "TooOld", "CreatedInFuture",
	"TemporarilyUnavailable", "Duplicate", "GenericError", "Unauthorized",
	"expected_fee", "min_burn_amount", "balance", "ledger_time", "duplicate_of",
	"error_code", "message",
}
