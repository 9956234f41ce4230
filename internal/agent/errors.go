package agent

import (
	"errors"
	"fmt"
)

// Reject codes defined by the replica interface
const (
	RejectSysFatal           uint64 = 1
	RejectSysTransient       uint64 = 2
	RejectDestinationInvalid uint64 = 3
	RejectCanisterReject     uint64 = 4
	RejectCanisterError      uint64 = 5
)

// RejectError is a well-formed rejection from the replica or a canister
type RejectError struct {
	Code      uint64
	Message   string
	ErrorCode string
}

func (e *RejectError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("call rejected (code %d, %s): %s", e.Code, e.ErrorCode, e.Message)
	}
	return fmt.Sprintf("call rejected (code %d): %s", e.Code, e.Message)
}

// HTTPError is a non-success HTTP answer from the boundary node
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("replica returned HTTP %d: %s", e.StatusCode, e.Body)
}

// ErrRequestExpired is returned when polling outlives the ingress expiry
var ErrRequestExpired = errors.New("request expired before a reply was certified")

// IsReject reports whether err is a replica rejection and returns it
func IsReject(err error) (*RejectError, bool) {
	var r *RejectError
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
