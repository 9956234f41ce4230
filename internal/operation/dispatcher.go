// Package operation dispatches mint, burn and transfer calls to deployed tokens.
package operation

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"launchpad/internal/actors"
	"launchpad/internal/apperror"
	"launchpad/internal/metrics"
	"launchpad/internal/models"
	"launchpad/internal/principal"
	"launchpad/internal/session"
	"launchpad/internal/storage"
)

// DefaultBalanceTimeout bounds the balance re-query after an operation
const DefaultBalanceTimeout = 15 * time.Second

const recordTimeout = 10 * time.Second

// Sessions builds the caller's session; *session.Factory implements it
type Sessions interface {
	CreateAuthenticated(ctx context.Context, payload any) (session.Session, error)
}

// Request asks for one operation on a deployed token
type Request struct {
	Canister  string               `json:"canister_id"`
	Kind      models.OperationKind `json:"kind"`
	Amount    string               `json:"amount"` // minor units
	Recipient string               `json:"recipient,omitempty"`

	// RecipientSubaccount is hex; empty means the default subaccount
	RecipientSubaccount string `json:"recipient_subaccount,omitempty"`

	Delegation any `json:"delegation"`
}

// Result is a completed operation
type Result struct {
	OperationID uuid.UUID `json:"operation_id"`
	TxID        string    `json:"tx_id"`
	NewBalance  *string   `json:"new_balance,omitempty"`
}

// Dispatcher runs token operations and records them
type Dispatcher struct {
	sessions       Sessions
	repo           storage.Repository
	ledger         principal.Principal
	balanceTimeout time.Duration
}

// New creates a Dispatcher. ledger is the address on which only transfers are allowed.
func New(sessions Sessions, repo storage.Repository, ledger principal.Principal) *Dispatcher {
	return &Dispatcher{
		sessions:       sessions,
		repo:           repo,
		ledger:         ledger,
		balanceTimeout: DefaultBalanceTimeout,
	}
}

type parsed struct {
	canister  principal.Principal
	amount    *big.Int
	recipient *principal.Account
}

func (d *Dispatcher) parse(req Request) (*parsed, error) {
	if !req.Kind.Valid() {
		return nil, apperror.Validation("unknown operation %q", req.Kind)
	}
	canister, err := principal.Decode(strings.TrimSpace(req.Canister))
	if err != nil {
		return nil, apperror.Validation("canister_id is not a valid principal: %v", err)
	}
	if canister.Equal(d.ledger) && req.Kind != models.OperationTransfer {
		return nil, apperror.Validation("%s is not allowed on the ledger canister, only transfer", req.Kind)
	}

	amount, ok := new(big.Int).SetString(strings.TrimSpace(req.Amount), 10)
	if !ok || amount.Sign() <= 0 {
		return nil, apperror.Validation("amount must be a positive integer")
	}
	p := &parsed{canister: canister, amount: amount}

	if s := strings.TrimSpace(req.Recipient); s != "" {
		owner, err := principal.Decode(s)
		if err != nil {
			return nil, apperror.Validation("recipient is not a valid principal: %v", err)
		}
		acct := principal.NewAccount(owner)
		if req.RecipientSubaccount != "" {
			sub, err := principal.ParseSubaccount(req.RecipientSubaccount)
			if err != nil {
				return nil, apperror.Validation("recipient_subaccount: %v", err)
			}
			acct.Subaccount = sub
		}
		p.recipient = &acct
	} else if req.Kind == models.OperationTransfer {
		return nil, apperror.Validation("transfer needs a recipient")
	}

	if req.Delegation == nil {
		return nil, apperror.Validation("delegation is required")
	}
	return p, nil
}

// Operate validates req, dispatches it as the delegation's principal and
// records the outcome. Mint and burn on the ledger fail before any network call.
func (d *Dispatcher) Operate(ctx context.Context, req Request) (*Result, error) {
	p, err := d.parse(req)
	if err != nil {
		d.count(req.Kind, metrics.OutcomeFailure, err)
		return nil, err
	}

	user, err := d.sessions.CreateAuthenticated(ctx, req.Delegation)
	if err != nil {
		d.count(req.Kind, metrics.OutcomeFailure, err)
		return nil, err
	}
	caller := user.Sender()
	// minting without a recipient credits the caller
	if p.recipient == nil && req.Kind == models.OperationMint {
		acct := principal.NewAccount(caller)
		p.recipient = &acct
	}

	op := &models.TokenOperation{
		CanisterID: p.canister.String(),
		Kind:       req.Kind,
		Caller:     caller.String(),
		Amount:     p.amount.String(),
	}
	if p.recipient != nil {
		op.Recipient = p.recipient.String()
	}
	if err := d.repo.CreateOperation(ctx, op); err != nil {
		d.count(req.Kind, metrics.OutcomeFailure, err)
		return nil, apperror.ExternalService("database", err)
	}

	token := actors.NewToken(user, p.canister)
	tx, err := d.dispatch(ctx, token, req.Kind, p)
	if err != nil {
		err = classify(string(req.Kind), err)
		wctx, cancel := recordContext(ctx)
		defer cancel()
		if ferr := d.repo.FailOperation(wctx, op.ID, err.Error()); ferr != nil {
			slog.Error("Failed to record operation failure", "operation_id", op.ID, "error", ferr)
		}
		slog.Warn("Token operation failed",
			"operation_id", op.ID,
			"canister_id", p.canister,
			"kind", req.Kind,
			"error", err)
		d.count(req.Kind, metrics.OutcomeFailure, err)
		return nil, err
	}

	res := &Result{OperationID: op.ID, TxID: tx.String()}
	wctx, cancel := recordContext(ctx)
	defer cancel()
	if err := d.repo.CompleteOperation(wctx, op.ID, res.TxID); err != nil {
		// the call went through; only the record lags
		slog.Error("Failed to record operation success",
			"operation_id", op.ID,
			"tx_id", res.TxID,
			"error", err)
	}
	d.count(req.Kind, metrics.OutcomeSuccess, nil)

	res.NewBalance = d.balance(ctx, token, caller)
	slog.Info("Token operation completed",
		"operation_id", op.ID,
		"canister_id", p.canister,
		"kind", req.Kind,
		"amount", p.amount.String(),
		"tx_id", res.TxID)
	return res, nil
}

// recordContext keeps the final operation status write alive after the
// caller's context ends
func recordContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
}

func (d *Dispatcher) dispatch(ctx context.Context, token *actors.Token, kind models.OperationKind, p *parsed) (*big.Int, error) {
	switch kind {
	case models.OperationMint:
		return token.Mint(ctx, *p.recipient, p.amount)
	case models.OperationBurn:
		return token.Burn(ctx, nil, p.amount)
	default:
		return token.Transfer(ctx, actors.TransferArgs{To: *p.recipient, Amount: p.amount})
	}
}

// balance is best effort; a failed query only leaves the field empty
func (d *Dispatcher) balance(ctx context.Context, token *actors.Token, owner principal.Principal) *string {
	ctx, cancel := context.WithTimeout(ctx, d.balanceTimeout)
	defer cancel()

	n, err := token.BalanceOf(ctx, principal.NewAccount(owner))
	if err != nil {
		slog.Warn("Balance re-query failed", "canister_id", token.ID(), "owner", owner, "error", err)
		return nil
	}
	s := n.String()
	return &s
}

// classify turns an Err reply into a contract error and anything else into
// an external service error
func classify(method string, err error) error {
	var te *actors.TransferError
	if errors.As(err, &te) {
		e := apperror.Contract(method, te.Detail())
		e.Cause = err
		return e
	}
	var reply *actors.ErrReply
	if errors.As(err, &reply) {
		e := apperror.Contract(method, reply.Reason)
		e.Cause = err
		return e
	}
	return apperror.ExternalService("token canister", err)
}

func (d *Dispatcher) count(kind models.OperationKind, outcome string, err error) {
	if !kind.Valid() {
		kind = "unknown"
	}
	metrics.TokenOperationsTotal.WithLabelValues(string(kind), outcome).Inc()
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues(string(apperror.KindOf(err))).Inc()
	}
}
