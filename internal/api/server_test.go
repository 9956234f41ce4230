package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"launchpad/internal/apperror"
	"launchpad/internal/models"
	"launchpad/internal/storage"
)

const canister = "rrkah-fqaaa-aaaaa-aaaaq-cai"

type downRepository struct {
	*storage.MemoryRepository
}

func (downRepository) Ping(context.Context) error { return errors.New("connection refused") }

func seed(t *testing.T) (*storage.MemoryRepository, *models.Token) {
	t.Helper()
	ctx := context.Background()
	repo := storage.NewMemoryRepository()
	token := &models.Token{Owner: "2vxsx-fae", Name: "Launch", Symbol: "LPD", Decimals: 8, TotalSupply: "1000"}
	require.NoError(t, repo.CreateToken(ctx, token))
	require.NoError(t, repo.MarkDeployed(ctx, token.ID, models.DeploymentResult{
		CanisterID: canister,
		Strategy:   "wallet",
		CyclesUsed: "2000000000000",
		FeePaidE8s: "150000000",
	}))

	op := &models.TokenOperation{CanisterID: canister, Kind: models.OperationMint, Caller: "2vxsx-fae", Amount: "5"}
	require.NoError(t, repo.CreateOperation(ctx, op))
	require.NoError(t, repo.CompleteOperation(ctx, op.ID, "1"))
	return repo, token
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthAndReady(t *testing.T) {
	repo := storage.NewMemoryRepository()
	h := NewServer(0, repo).Handler()

	assert.Equal(t, http.StatusOK, get(t, h, "/health").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/ready").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/metrics").Code)

	down := NewServer(0, downRepository{repo}).Handler()
	assert.Equal(t, http.StatusServiceUnavailable, get(t, down, "/ready").Code)
}

func TestGetToken(t *testing.T) {
	repo, token := seed(t)
	h := NewServer(0, repo).Handler()

	for _, id := range []string{token.ID.String(), canister} {
		rec := get(t, h, "/tokens/"+id)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp models.TokenResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "deployed", resp.Status)
		assert.Equal(t, canister, resp.CanisterID)
		assert.Equal(t, "2000000000000", resp.CyclesUsed)
		assert.Equal(t, "1.5", resp.FeePaidICP)
	}
}

func TestGetToken_Errors(t *testing.T) {
	repo, _ := seed(t)
	h := NewServer(0, repo).Handler()

	rec := get(t, h, "/tokens/not-an-id")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(apperror.KindValidation), resp.Error)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/tokens/00000000-0000-0000-0000-000000000001").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/nowhere").Code)
}

func TestListTokensAndOperations(t *testing.T) {
	repo, token := seed(t)
	h := NewServer(0, repo).Handler()

	rec := get(t, h, "/tokens?owner=2vxsx-fae")
	require.Equal(t, http.StatusOK, rec.Code)
	var list models.TokenListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Total)
	assert.Equal(t, 50, list.PageSize)

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/tokens?owner=bogus").Code)

	rec = get(t, h, "/tokens/"+token.ID.String()+"/operations")
	require.Equal(t, http.StatusOK, rec.Code)
	var ops models.OperationsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ops))
	assert.Equal(t, canister, ops.CanisterID)
	require.Len(t, ops.Operations, 1)
	assert.Equal(t, models.OperationSucceeded, ops.Operations[0].Status)

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/tokens/"+canister+"/operations?kind=approve").Code)
}

func TestErrorResponse_RedactsAndHints(t *testing.T) {
	err := apperror.InvalidDelegation("expired", errors.New("raw cause")).WithDetail("secretKey", "00ff")
	resp := ErrorResponse(err)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Equal(t, apperror.ReconnectHint, resp.Hint)
	assert.Equal(t, "[REDACTED]", resp.Details["secretKey"])
	assert.NotContains(t, resp.Message, "raw cause")
}
