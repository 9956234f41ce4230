package agent

import (
	"bytes"
	"fmt"
	"reflect"

	"github.com/aviate-labs/agent-go/certification"
	"github.com/fxamacker/cbor/v2"

	"launchpad/internal/identity"
)

const selfDescribeTag = 55799

var selfDescribePrefix = []byte{0xd9, 0xd9, 0xf7}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("agent: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("agent: CBOR decoder initialization failed: " + err.Error())
	}
}

func marshalCBOR(v any) ([]byte, error) {
	return encMode.Marshal(cbor.Tag{Number: selfDescribeTag, Content: v})
}

func unmarshalCBOR(data []byte, v any) error {
	return decMode.Unmarshal(bytes.TrimPrefix(data, selfDescribePrefix), v)
}

type callContent struct {
	RequestType   string `cbor:"request_type"`
	CanisterID    []byte `cbor:"canister_id"`
	MethodName    string `cbor:"method_name"`
	Arg           []byte `cbor:"arg"`
	Sender        []byte `cbor:"sender"`
	IngressExpiry uint64 `cbor:"ingress_expiry"`
	Nonce         []byte `cbor:"nonce,omitempty"`
}

func (c *callContent) requestID() []byte {
	fields := map[string]any{
		"request_type":   c.RequestType,
		"canister_id":    c.CanisterID,
		"method_name":    c.MethodName,
		"arg":            c.Arg,
		"sender":         c.Sender,
		"ingress_expiry": c.IngressExpiry,
	}
	if len(c.Nonce) > 0 {
		fields["nonce"] = c.Nonce
	}
	return requestID(fields)
}

type readStateContent struct {
	RequestType   string     `cbor:"request_type"`
	Sender        []byte     `cbor:"sender"`
	IngressExpiry uint64     `cbor:"ingress_expiry"`
	Paths         [][][]byte `cbor:"paths"`
}

func (c *readStateContent) requestID() []byte {
	return requestID(map[string]any{
		"request_type":   c.RequestType,
		"sender":         c.Sender,
		"ingress_expiry": c.IngressExpiry,
		"paths":          hashablePaths(c.Paths),
	})
}

type envelope struct {
	Content          any                    `cbor:"content"`
	SenderPubKey     []byte                 `cbor:"sender_pubkey,omitempty"`
	SenderSig        []byte                 `cbor:"sender_sig,omitempty"`
	SenderDelegation []wireSignedDelegation `cbor:"sender_delegation,omitempty"`
}

type wireSignedDelegation struct {
	Delegation wireDelegation `cbor:"delegation"`
	Signature  []byte         `cbor:"signature"`
}

type wireDelegation struct {
	PubKey     []byte   `cbor:"pubkey"`
	Expiration uint64   `cbor:"expiration"`
	Targets    [][]byte `cbor:"targets,omitempty"`
}

type callResponse struct {
	Status        string `cbor:"status"`
	Certificate   []byte `cbor:"certificate"`
	RejectCode    uint64 `cbor:"reject_code"`
	RejectMessage string `cbor:"reject_message"`
	ErrorCode     string `cbor:"error_code"`
}

type queryResponse struct {
	Status string `cbor:"status"`
	Reply  struct {
		Arg []byte `cbor:"arg"`
	} `cbor:"reply"`
	RejectCode    uint64 `cbor:"reject_code"`
	RejectMessage string `cbor:"reject_message"`
	ErrorCode     string `cbor:"error_code"`
}

type readStateResponse struct {
	Certificate []byte `cbor:"certificate"`
}

// Status is the replica's /api/v2/status answer
type Status struct {
	RootKey             []byte `cbor:"root_key"`
	ImplVersion         string `cbor:"impl_version"`
	ReplicaHealthStatus string `cbor:"replica_health_status"`
}

var requestDomain = append([]byte{0x0a}, "ic-request"...)

// sign wraps content in an envelope signed by id. Anonymous senders go unsigned.
func sign(id identity.Identity, content any, reqID []byte) (*envelope, error) {
	env := &envelope{Content: content}
	if identity.IsAnonymous(id) {
		return env, nil
	}

	msg := append(append([]byte{}, requestDomain...), reqID...)
	sig, err := id.Sign(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}
	env.SenderPubKey = id.PublicKey()
	env.SenderSig = sig

	for _, d := range id.Delegations() {
		wd := wireSignedDelegation{
			Delegation: wireDelegation{PubKey: d.Delegation.PubKey, Expiration: d.Delegation.Expiration},
			Signature:  d.Signature,
		}
		for _, t := range d.Delegation.Targets {
			wd.Delegation.Targets = append(wd.Delegation.Targets, t.Raw())
		}
		env.SenderDelegation = append(env.SenderDelegation, wd)
	}
	return env, nil
}

// requestID is the representation-independent hash of a request map
func requestID(fields map[string]any) []byte {
	sum, err := certification.HashAny(fields)
	if err != nil {
		panic("agent: cannot hash request: " + err.Error())
	}
	return sum[:]
}

// hashablePaths turns read_state paths into the generic form the hasher walks
func hashablePaths(paths [][][]byte) []any {
	out := make([]any, len(paths))
	for i, p := range paths {
		segs := make([]any, len(p))
		for j, seg := range p {
			segs[j] = seg
		}
		out[i] = segs
	}
	return out
}
