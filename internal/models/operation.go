package models

import (
	"time"

	"github.com/google/uuid"
)

// OperationKind names a token operation
type OperationKind string

const (
	OperationMint     OperationKind = "mint"
	OperationBurn     OperationKind = "burn"
	OperationTransfer OperationKind = "transfer"
)

// Valid reports whether k is a known operation
func (k OperationKind) Valid() bool {
	switch k {
	case OperationMint, OperationBurn, OperationTransfer:
		return true
	}
	return false
}

// OperationStatus is the outcome of a token operation
type OperationStatus string

const (
	OperationPending   OperationStatus = "pending"
	OperationSucceeded OperationStatus = "succeeded"
	OperationFailed    OperationStatus = "failed"
)

// TokenOperation records one mint, burn or transfer
type TokenOperation struct {
	// Identification
	ID         uuid.UUID     `json:"id"`
	CanisterID string        `json:"canister_id"`
	Kind       OperationKind `json:"kind"`

	// Actors
	Caller    string `json:"caller"`
	Recipient string `json:"recipient,omitempty"`

	// Amounts
	Amount string `json:"amount"`

	// Result
	Status OperationStatus `json:"status"`
	TxID   *string         `json:"tx_id,omitempty"`
	Error  string          `json:"error,omitempty"`

	// Timestamps
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// OperationFilter narrows operation listings
type OperationFilter struct {
	CanisterID string
	Kind       OperationKind
	Caller     string
	Limit      int
	Offset     int
}
