package storage

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"launchpad/internal/models"
)

//go:embed schema.sql
var schema string

// PostgresRepository implements the Repository interface using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(ctx context.Context, databaseURL string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test the connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{
		pool: pool,
	}, nil
}

// EnsureSchema creates the tables when they do not exist yet
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	slog.Debug("Database schema ensured")
	return nil
}

type tokenMetadata struct {
	Logo        string `json:"logo,omitempty"`
	Description string `json:"description,omitempty"`
}

const tokenColumns = `
	id, owner, name, symbol, decimals, total_supply::text, transfer_fee::text, metadata,
	status, canister_id, failure_reason, failed_stage, strategy, cycles_used,
	fee_paid_e8s, fee_block_index, fee_bypassed, module_hash,
	created_at, updated_at, deployed_at`

// CreateToken inserts a record in the deploying state
func (r *PostgresRepository) CreateToken(ctx context.Context, token *models.Token) error {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	token.Status = models.StatusDeploying

	metadataJSON, err := json.Marshal(tokenMetadata{Logo: token.Logo, Description: token.Description})
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	fee := token.TransferFee
	if fee == "" {
		fee = "0"
	}

	query := `
		INSERT INTO tokens (id, owner, name, symbol, decimals, total_supply, transfer_fee, metadata, status)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8, $9)
		RETURNING created_at, updated_at
	`
	err = r.pool.QueryRow(ctx, query,
		token.ID,
		token.Owner,
		token.Name,
		token.Symbol,
		int16(token.Decimals),
		token.TotalSupply,
		fee,
		metadataJSON,
		string(token.Status),
	).Scan(&token.CreatedAt, &token.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

func scanToken(row pgx.Row) (*models.Token, error) {
	var (
		token        models.Token
		decimals     int16
		status       string
		metadataJSON []byte
	)
	err := row.Scan(
		&token.ID,
		&token.Owner,
		&token.Name,
		&token.Symbol,
		&decimals,
		&token.TotalSupply,
		&token.TransferFee,
		&metadataJSON,
		&status,
		&token.CanisterID,
		&token.FailureReason,
		&token.FailedStage,
		&token.Strategy,
		&token.CyclesUsed,
		&token.FeePaidE8s,
		&token.FeeBlockIndex,
		&token.FeeBypassed,
		&token.ModuleHash,
		&token.CreatedAt,
		&token.UpdatedAt,
		&token.DeployedAt,
	)
	if err != nil {
		return nil, err
	}
	token.Decimals = uint8(decimals)
	token.Status = models.DeploymentStatus(status)

	var meta tokenMetadata
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &meta); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	token.Logo = meta.Logo
	token.Description = meta.Description
	return &token, nil
}

// GetToken retrieves a token by record id
func (r *PostgresRepository) GetToken(ctx context.Context, id uuid.UUID) (*models.Token, error) {
	token, err := scanToken(r.pool.QueryRow(ctx, `SELECT `+tokenColumns+` FROM tokens WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("token %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return token, nil
}

// GetTokenByCanister retrieves a deployed token by canister id
func (r *PostgresRepository) GetTokenByCanister(ctx context.Context, canisterID string) (*models.Token, error) {
	token, err := scanToken(r.pool.QueryRow(ctx, `SELECT `+tokenColumns+` FROM tokens WHERE canister_id = $1`, canisterID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("token on canister %s: %w", canisterID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return token, nil
}

// ListTokens lists tokens with pagination, newest first. An empty owner lists all.
func (r *PostgresRepository) ListTokens(ctx context.Context, owner string, limit, offset int) ([]*models.Token, error) {
	query := `SELECT ` + tokenColumns + ` FROM tokens
		WHERE ($1 = '' OR owner = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, owner, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*models.Token
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tokens: %w", err)
	}
	return tokens, nil
}

// MarkDeployed moves a deploying record to deployed and sets its canister id
func (r *PostgresRepository) MarkDeployed(ctx context.Context, id uuid.UUID, result models.DeploymentResult) error {
	query := `
		UPDATE tokens SET
			status = 'deployed',
			canister_id = $2,
			strategy = $3,
			cycles_used = $4,
			fee_paid_e8s = $5,
			fee_block_index = $6,
			fee_bypassed = $7,
			module_hash = $8,
			deployed_at = now(),
			updated_at = now()
		WHERE id = $1 AND status = 'deploying' AND canister_id IS NULL
	`
	tag, err := r.pool.Exec(ctx, query,
		id,
		result.CanisterID,
		result.Strategy,
		result.CyclesUsed,
		result.FeePaidE8s,
		result.FeeBlockIndex,
		result.FeeBypassed,
		result.ModuleHash,
	)
	if err != nil {
		return fmt.Errorf("failed to mark token deployed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("token %s to deployed: %w", id, ErrInvalidTransition)
	}
	return nil
}

// MarkFailed moves a deploying record to failed
func (r *PostgresRepository) MarkFailed(ctx context.Context, id uuid.UUID, failure models.DeploymentFailure) error {
	query := `
		UPDATE tokens SET
			status = 'failed',
			failure_reason = $2,
			failed_stage = $3,
			fee_paid_e8s = $4,
			updated_at = now()
		WHERE id = $1 AND status = 'deploying'
	`
	tag, err := r.pool.Exec(ctx, query, id, failure.Reason, failure.Stage, failure.FeePaidE8s)
	if err != nil {
		return fmt.Errorf("failed to mark token failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("token %s to failed: %w", id, ErrInvalidTransition)
	}
	return nil
}

// CreateOperation inserts a pending operation
func (r *PostgresRepository) CreateOperation(ctx context.Context, op *models.TokenOperation) error {
	if op.ID == uuid.Nil {
		op.ID = uuid.New()
	}
	op.Status = models.OperationPending

	query := `
		INSERT INTO token_operations (id, canister_id, kind, caller, recipient, amount, status)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7)
		RETURNING created_at
	`
	err := r.pool.QueryRow(ctx, query,
		op.ID,
		op.CanisterID,
		string(op.Kind),
		op.Caller,
		op.Recipient,
		op.Amount,
		string(op.Status),
	).Scan(&op.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save token operation: %w", err)
	}
	return nil
}

// CompleteOperation marks a pending operation succeeded
func (r *PostgresRepository) CompleteOperation(ctx context.Context, id uuid.UUID, txID string) error {
	return r.finishOperation(ctx, id, models.OperationSucceeded, &txID, "")
}

// FailOperation marks a pending operation failed
func (r *PostgresRepository) FailOperation(ctx context.Context, id uuid.UUID, reason string) error {
	return r.finishOperation(ctx, id, models.OperationFailed, nil, reason)
}

func (r *PostgresRepository) finishOperation(ctx context.Context, id uuid.UUID, status models.OperationStatus, txID *string, reason string) error {
	query := `
		UPDATE token_operations SET status = $2, tx_id = $3, error = $4, completed_at = now()
		WHERE id = $1 AND status = 'pending'
	`
	tag, err := r.pool.Exec(ctx, query, id, string(status), txID, reason)
	if err != nil {
		return fmt.Errorf("failed to update token operation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("operation %s to %s: %w", id, status, ErrInvalidTransition)
	}
	return nil
}

// ListOperations lists operations matching filter, newest first
func (r *PostgresRepository) ListOperations(ctx context.Context, filter models.OperationFilter) ([]*models.TokenOperation, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.CanisterID != "" {
		add("canister_id = $%d", filter.CanisterID)
	}
	if filter.Kind != "" {
		add("kind = $%d", string(filter.Kind))
	}
	if filter.Caller != "" {
		add("caller = $%d", filter.Caller)
	}

	query := `SELECT id, canister_id, kind, caller, recipient, amount::text, status, tx_id, error, created_at, completed_at
		FROM token_operations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list token operations: %w", err)
	}
	defer rows.Close()

	var ops []*models.TokenOperation
	for rows.Next() {
		var (
			op     models.TokenOperation
			kind   string
			status string
		)
		if err := rows.Scan(
			&op.ID,
			&op.CanisterID,
			&kind,
			&op.Caller,
			&op.Recipient,
			&op.Amount,
			&status,
			&op.TxID,
			&op.Error,
			&op.CreatedAt,
			&op.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan token operation: %w", err)
		}
		op.Kind = models.OperationKind(kind)
		op.Status = models.OperationStatus(status)
		ops = append(ops, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating token operations: %w", err)
	}
	return ops, nil
}

// Ping checks if the database connection is alive
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the database connection pool
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}
