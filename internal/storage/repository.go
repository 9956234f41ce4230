package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"launchpad/internal/models"
)

var (
	// ErrNotFound is returned when no record matches
	ErrNotFound = errors.New("record not found")

	// ErrInvalidTransition is returned when a status update would leave the
	// deploying state twice or touch a terminal record
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Repository defines the interface for all storage operations
type Repository interface {
	// Token deployments
	CreateToken(ctx context.Context, token *models.Token) error
	GetToken(ctx context.Context, id uuid.UUID) (*models.Token, error)
	GetTokenByCanister(ctx context.Context, canisterID string) (*models.Token, error)
	ListTokens(ctx context.Context, owner string, limit, offset int) ([]*models.Token, error)
	MarkDeployed(ctx context.Context, id uuid.UUID, result models.DeploymentResult) error
	MarkFailed(ctx context.Context, id uuid.UUID, failure models.DeploymentFailure) error

	// Token operations
	CreateOperation(ctx context.Context, op *models.TokenOperation) error
	CompleteOperation(ctx context.Context, id uuid.UUID, txID string) error
	FailOperation(ctx context.Context, id uuid.UUID, reason string) error
	ListOperations(ctx context.Context, filter models.OperationFilter) ([]*models.TokenOperation, error)

	// Health & Maintenance
	Ping(ctx context.Context) error
	Close() error
}
