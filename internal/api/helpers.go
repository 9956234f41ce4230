package api

import (
	"math/big"

	"launchpad/internal/apperror"
	"launchpad/internal/fee"
	"launchpad/internal/models"
)

// E8sToICP converts e8s (smallest unit) to ICP
// 1 ICP = 100,000,000 e8s
func E8sToICP(e8s string) string {
	if e8s == "" {
		return "0"
	}
	n, ok := new(big.Int).SetString(e8s, 10)
	if !ok {
		return ""
	}
	return fee.FormatE8s(n)
}

// BuildTokenResponse creates the status view of a deployment record
func BuildTokenResponse(t *models.Token) models.TokenResponse {
	resp := models.TokenResponse{
		ID:            t.ID.String(),
		Name:          t.Name,
		Symbol:        t.Symbol,
		Decimals:      t.Decimals,
		TotalSupply:   t.TotalSupply,
		Owner:         t.Owner,
		Status:        string(t.Status),
		FailureReason: t.FailureReason,
		FailedStage:   t.FailedStage,
		Strategy:      t.Strategy,
		CyclesUsed:    t.CyclesUsed,
		FeePaidE8s:    t.FeePaidE8s,
		CreatedAt:     t.CreatedAt,
		DeployedAt:    t.DeployedAt,
	}
	if t.CanisterID != nil {
		resp.CanisterID = *t.CanisterID
	}
	if t.FeePaidE8s != "" {
		resp.FeePaidICP = E8sToICP(t.FeePaidE8s)
	}
	return resp
}

// ErrorResponse maps an application error to the wire shape
func ErrorResponse(err *apperror.Error) models.ErrorResponse {
	public := err.Public()
	resp := models.ErrorResponse{
		Error:   string(err.Kind),
		Message: err.Message,
		Hint:    err.Hint,
		Code:    err.Kind.Status(),
	}
	if details, ok := public["details"].(map[string]any); ok {
		resp.Details = details
	}
	return resp
}
