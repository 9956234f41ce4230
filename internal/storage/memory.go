package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"launchpad/internal/models"
)

// MemoryRepository keeps records in process. It enforces the same status
// transitions as the SQL guards and backs the CLI when no database is set.
type MemoryRepository struct {
	mu         sync.Mutex
	tokens     map[uuid.UUID]*models.Token
	operations map[uuid.UUID]*models.TokenOperation
	now        func() time.Time
}

// NewMemoryRepository returns an empty repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		tokens:     map[uuid.UUID]*models.Token{},
		operations: map[uuid.UUID]*models.TokenOperation{},
		now:        time.Now,
	}
}

func copyToken(t *models.Token) *models.Token {
	cp := *t
	return &cp
}

func (r *MemoryRepository) CreateToken(ctx context.Context, token *models.Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	if _, ok := r.tokens[token.ID]; ok {
		return fmt.Errorf("token %s already exists", token.ID)
	}
	now := r.now()
	token.Status = models.StatusDeploying
	token.CreatedAt, token.UpdatedAt = now, now
	r.tokens[token.ID] = copyToken(token)
	return nil
}

func (r *MemoryRepository) GetToken(ctx context.Context, id uuid.UUID) (*models.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[id]
	if !ok {
		return nil, fmt.Errorf("token %s: %w", id, ErrNotFound)
	}
	return copyToken(t), nil
}

func (r *MemoryRepository) GetTokenByCanister(ctx context.Context, canisterID string) (*models.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tokens {
		if t.CanisterID != nil && *t.CanisterID == canisterID {
			return copyToken(t), nil
		}
	}
	return nil, fmt.Errorf("token on canister %s: %w", canisterID, ErrNotFound)
}

func (r *MemoryRepository) ListTokens(ctx context.Context, owner string, limit, offset int) ([]*models.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Token
	for _, t := range r.tokens {
		if owner == "" || t.Owner == owner {
			out = append(out, copyToken(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, offset), nil
}

func (r *MemoryRepository) MarkDeployed(ctx context.Context, id uuid.UUID, result models.DeploymentResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[id]
	if !ok {
		return fmt.Errorf("token %s: %w", id, ErrNotFound)
	}
	if t.Status != models.StatusDeploying || t.CanisterID != nil {
		return fmt.Errorf("token %s to deployed: %w", id, ErrInvalidTransition)
	}
	now := r.now()
	canister := result.CanisterID
	t.Status = models.StatusDeployed
	t.CanisterID = &canister
	t.Strategy = result.Strategy
	t.CyclesUsed = result.CyclesUsed
	t.FeePaidE8s = result.FeePaidE8s
	t.FeeBlockIndex = result.FeeBlockIndex
	t.FeeBypassed = result.FeeBypassed
	t.ModuleHash = result.ModuleHash
	t.DeployedAt = &now
	t.UpdatedAt = now
	return nil
}

func (r *MemoryRepository) MarkFailed(ctx context.Context, id uuid.UUID, failure models.DeploymentFailure) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[id]
	if !ok {
		return fmt.Errorf("token %s: %w", id, ErrNotFound)
	}
	if t.Status != models.StatusDeploying {
		return fmt.Errorf("token %s to failed: %w", id, ErrInvalidTransition)
	}
	t.Status = models.StatusFailed
	t.FailureReason = failure.Reason
	t.FailedStage = failure.Stage
	t.FeePaidE8s = failure.FeePaidE8s
	t.UpdatedAt = r.now()
	return nil
}

func (r *MemoryRepository) CreateOperation(ctx context.Context, op *models.TokenOperation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if op.ID == uuid.Nil {
		op.ID = uuid.New()
	}
	op.Status = models.OperationPending
	op.CreatedAt = r.now()
	cp := *op
	r.operations[op.ID] = &cp
	return nil
}

func (r *MemoryRepository) CompleteOperation(ctx context.Context, id uuid.UUID, txID string) error {
	return r.finishOperation(id, models.OperationSucceeded, &txID, "")
}

func (r *MemoryRepository) FailOperation(ctx context.Context, id uuid.UUID, reason string) error {
	return r.finishOperation(id, models.OperationFailed, nil, reason)
}

func (r *MemoryRepository) finishOperation(id uuid.UUID, status models.OperationStatus, txID *string, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.operations[id]
	if !ok {
		return fmt.Errorf("operation %s: %w", id, ErrNotFound)
	}
	if op.Status != models.OperationPending {
		return fmt.Errorf("operation %s to %s: %w", id, status, ErrInvalidTransition)
	}
	now := r.now()
	op.Status = status
	op.TxID = txID
	op.Error = reason
	op.CompletedAt = &now
	return nil
}

func (r *MemoryRepository) ListOperations(ctx context.Context, filter models.OperationFilter) ([]*models.TokenOperation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.TokenOperation
	for _, op := range r.operations {
		if filter.CanisterID != "" && op.CanisterID != filter.CanisterID {
			continue
		}
		if filter.Kind != "" && op.Kind != filter.Kind {
			continue
		}
		if filter.Caller != "" && op.Caller != filter.Caller {
			continue
		}
		cp := *op
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	return page(out, limit, filter.Offset), nil
}

func (r *MemoryRepository) Ping(ctx context.Context) error { return nil }

func (r *MemoryRepository) Close() error { return nil }

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
