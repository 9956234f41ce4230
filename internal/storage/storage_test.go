package storage

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"launchpad/internal/models"
)

// testDatabaseURL names a scratch database, preferring
// LAUNCHPAD_TEST_DATABASE_URL over DATABASE_URL
func testDatabaseURL() string {
	if url := os.Getenv("LAUNCHPAD_TEST_DATABASE_URL"); url != "" {
		return url
	}
	return os.Getenv("DATABASE_URL")
}

func openPostgres(t *testing.T, url string) *PostgresRepository {
	t.Helper()
	ctx := context.Background()
	pg, err := NewPostgresRepository(ctx, url)
	require.NoError(t, err)
	require.NoError(t, pg.EnsureSchema(ctx))
	t.Cleanup(func() { pg.Close() })
	return pg
}

// repositories returns the in-memory repository plus Postgres when a test
// database is configured
func repositories(t *testing.T) map[string]Repository {
	t.Helper()
	repos := map[string]Repository{"memory": NewMemoryRepository()}

	if url := testDatabaseURL(); url != "" {
		repos["postgres"] = openPostgres(t, url)
	}
	return repos
}

func newToken(owner string) *models.Token {
	return &models.Token{
		Owner:       owner,
		Name:        "Launch Token",
		Symbol:      "LPD",
		Decimals:    8,
		TotalSupply: "100000000000",
		Description: "test",
	}
}

func TestTokenLifecycle(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			token := newToken("owner-" + uuid.NewString())
			require.NoError(t, repo.CreateToken(ctx, token))
			require.NotEqual(t, uuid.Nil, token.ID)

			got, err := repo.GetToken(ctx, token.ID)
			require.NoError(t, err)
			assert.Equal(t, models.StatusDeploying, got.Status)
			assert.Nil(t, got.CanisterID)
			assert.Equal(t, "test", got.Description)

			canister := "rrkah-fqaaa-aaaaa-aaaaq-cai-" + uuid.NewString()[:8]
			require.NoError(t, repo.MarkDeployed(ctx, token.ID, models.DeploymentResult{
				CanisterID: canister,
				Strategy:   "wallet",
				CyclesUsed: "1000000000000",
				FeePaidE8s: "100000000",
			}))

			got, err = repo.GetToken(ctx, token.ID)
			require.NoError(t, err)
			assert.Equal(t, models.StatusDeployed, got.Status)
			require.NotNil(t, got.CanisterID)
			assert.Equal(t, canister, *got.CanisterID)
			assert.NotNil(t, got.DeployedAt)

			byCanister, err := repo.GetTokenByCanister(ctx, canister)
			require.NoError(t, err)
			assert.Equal(t, token.ID, byCanister.ID)

			// terminal records never move again
			assert.ErrorIs(t, repo.MarkDeployed(ctx, token.ID, models.DeploymentResult{CanisterID: "other"}), ErrInvalidTransition)
			assert.ErrorIs(t, repo.MarkFailed(ctx, token.ID, models.DeploymentFailure{Reason: "late"}), ErrInvalidTransition)
		})
	}
}

func TestMarkFailed(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			owner := "owner-" + uuid.NewString()
			token := newToken(owner)
			require.NoError(t, repo.CreateToken(ctx, token))
			require.NoError(t, repo.MarkFailed(ctx, token.ID, models.DeploymentFailure{Stage: "fee_collection", Reason: "insufficient funds"}))

			got, err := repo.GetToken(ctx, token.ID)
			require.NoError(t, err)
			assert.Equal(t, models.StatusFailed, got.Status)
			assert.Equal(t, "insufficient funds", got.FailureReason)
			assert.Equal(t, "fee_collection", got.FailedStage)
			assert.Nil(t, got.CanisterID)

			list, err := repo.ListTokens(ctx, owner, 10, 0)
			require.NoError(t, err)
			assert.Len(t, list, 1)
		})
	}
}

func TestOperations(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			canister := "canister-" + uuid.NewString()
			ok := &models.TokenOperation{CanisterID: canister, Kind: models.OperationMint, Caller: "me", Amount: "10"}
			bad := &models.TokenOperation{CanisterID: canister, Kind: models.OperationBurn, Caller: "me", Amount: "5"}
			require.NoError(t, repo.CreateOperation(ctx, ok))
			require.NoError(t, repo.CreateOperation(ctx, bad))

			require.NoError(t, repo.CompleteOperation(ctx, ok.ID, "42"))
			require.NoError(t, repo.FailOperation(ctx, bad.ID, "burn returned an error"))
			assert.ErrorIs(t, repo.CompleteOperation(ctx, bad.ID, "43"), ErrInvalidTransition)

			ops, err := repo.ListOperations(ctx, models.OperationFilter{CanisterID: canister})
			require.NoError(t, err)
			require.Len(t, ops, 2)

			byID := map[uuid.UUID]*models.TokenOperation{}
			for _, op := range ops {
				byID[op.ID] = op
			}
			assert.Equal(t, models.OperationSucceeded, byID[ok.ID].Status)
			assert.Equal(t, "42", *byID[ok.ID].TxID)
			assert.Equal(t, models.OperationFailed, byID[bad.ID].Status)
			assert.Nil(t, byID[bad.ID].TxID)

			burns, err := repo.ListOperations(ctx, models.OperationFilter{CanisterID: canister, Kind: models.OperationBurn})
			require.NoError(t, err)
			assert.Len(t, burns, 1)
		})
	}
}

func TestGetToken_NotFound(t *testing.T) {
	_, err := NewMemoryRepository().GetToken(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}
