package models

import (
	"time"

	"github.com/google/uuid"
)

// DeploymentStatus is the lifecycle state of a token deployment
type DeploymentStatus string

const (
	StatusDeploying DeploymentStatus = "deploying"
	StatusDeployed  DeploymentStatus = "deployed"
	StatusFailed    DeploymentStatus = "failed"
)

// Terminal reports whether no further transition is allowed
func (s DeploymentStatus) Terminal() bool {
	return s == StatusDeployed || s == StatusFailed
}

// Token is the deployment record of one token canister
type Token struct {
	// Identification
	ID    uuid.UUID `json:"id"`
	Owner string    `json:"owner"` // Creator principal

	// Token parameters
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Decimals    uint8  `json:"decimals"`
	TotalSupply string `json:"total_supply"` // Minor units of the new token
	TransferFee string `json:"transfer_fee"`
	Logo        string `json:"logo,omitempty"`
	Description string `json:"description,omitempty"`

	// Deployment state
	Status        DeploymentStatus `json:"status"`
	CanisterID    *string          `json:"canister_id,omitempty"` // Set once, at deployed
	FailureReason string           `json:"failure_reason,omitempty"`
	FailedStage   string           `json:"failed_stage,omitempty"`

	// Costs
	Strategy      string  `json:"strategy,omitempty"` // wallet or direct
	CyclesUsed    string  `json:"cycles_used,omitempty"`
	FeePaidE8s    string  `json:"fee_paid_e8s,omitempty"`
	FeeBlockIndex *string `json:"fee_block_index,omitempty"`
	FeeBypassed   bool    `json:"fee_bypassed,omitempty"`
	ModuleHash    string  `json:"module_hash,omitempty"`

	// Timestamps
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	DeployedAt *time.Time `json:"deployed_at,omitempty"`
}

// DeploymentResult is what the deployed transition records
type DeploymentResult struct {
	CanisterID    string
	Strategy      string
	CyclesUsed    string
	FeePaidE8s    string
	FeeBlockIndex *string
	FeeBypassed   bool
	ModuleHash    string
}

// DeploymentFailure is what the failed transition records
type DeploymentFailure struct {
	Stage      string
	Reason     string
	FeePaidE8s string
}
