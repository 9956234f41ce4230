package agent

import (
	"time"

	"launchpad/internal/principal"
)

// RequestType is the request_type field of an envelope
type RequestType string

const (
	RequestCall      RequestType = "call"
	RequestQuery     RequestType = "query"
	RequestReadState RequestType = "read_state"
)

// Request is the mutable view of an outgoing request that transforms see
type Request struct {
	Type          RequestType
	CanisterID    principal.Principal
	Method        string
	Arg           []byte
	IngressExpiry time.Time
	Nonce         []byte
}

// Transform edits a request before it is hashed and signed
type Transform func(*Request)

// ExpiryTransform stamps update calls with an ingress expiry ttl from now
func ExpiryTransform(ttl time.Duration, now func() time.Time) Transform {
	if now == nil {
		now = time.Now
	}
	return func(r *Request) {
		if r.Type == RequestCall {
			r.IngressExpiry = now().Add(ttl)
		}
	}
}
