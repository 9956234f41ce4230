package models

import (
	"time"
)

// TokenResponse is the read-only deployment status served by the ops API
type TokenResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Decimals    uint8  `json:"decimals"`
	TotalSupply string `json:"total_supply"`
	Owner       string `json:"owner"`

	// Status
	Status        string `json:"status"` // deploying, deployed, failed
	CanisterID    string `json:"canister_id,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
	FailedStage   string `json:"failed_stage,omitempty"`

	// Costs (formatted for UI)
	Strategy   string `json:"strategy,omitempty"`
	CyclesUsed string `json:"cycles_used,omitempty"`
	FeePaidE8s string `json:"fee_paid_e8s,omitempty"`
	FeePaidICP string `json:"fee_paid_icp,omitempty"` // Divided by 10^8

	// Metadata
	CreatedAt  time.Time  `json:"created_at"`
	DeployedAt *time.Time `json:"deployed_at,omitempty"`
}

// TokenListResponse represents a paginated list of tokens
type TokenListResponse struct {
	Tokens   []TokenResponse `json:"tokens"`
	Total    int             `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
}

// OperationsResponse lists the operations of one token
type OperationsResponse struct {
	CanisterID string           `json:"canister_id"`
	Operations []TokenOperation `json:"operations"`
	Total      int              `json:"total"`
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string         `json:"error"`
	Message string         `json:"message,omitempty"`
	Hint    string         `json:"hint,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Code    int            `json:"code"`
}
