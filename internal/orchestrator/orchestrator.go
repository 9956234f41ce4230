// Package orchestrator runs token deployments through their stages and keeps
// the deployment record consistent with how far each one got.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"launchpad/internal/actors"
	"launchpad/internal/apperror"
	"launchpad/internal/fee"
	"launchpad/internal/metrics"
	"launchpad/internal/models"
	"launchpad/internal/principal"
	"launchpad/internal/provision"
	"launchpad/internal/session"
	"launchpad/internal/storage"
	"launchpad/internal/wasm"
)

// Stage is a state of the deployment state machine
type Stage string

const (
	StageValidating        Stage = "validating"
	StageFeeCollection     Stage = "fee_collection"
	StageModuleAcquisition Stage = "module_acquisition"
	StageProvisioning      Stage = "provisioning"
	StageVerifying         Stage = "verifying"
	StageDeployed          Stage = "deployed"
	StageFailed            Stage = "failed"
)

// RecordTimeout bounds the final status write of a deployment
const RecordTimeout = 10 * time.Second

// Sessions builds the sessions a deployment needs; *session.Factory implements it
type Sessions interface {
	CreateAuthenticated(ctx context.Context, payload any) (session.Session, error)
	CreateAnonymousWithFallback(ctx context.Context) (session.Session, error)
}

// ModuleSource returns verified module bytes; *wasm.Acquirer implements it
type ModuleSource interface {
	Acquire(ctx context.Context) ([]byte, error)
}

// FeeCollector charges the deployment fee; *fee.Collector implements it
type FeeCollector interface {
	Collect(ctx context.Context, caller actors.Caller) (*fee.Receipt, error)
}

// Options are the behavior switches of the orchestrator
type Options struct {
	// DevFeeBypass continues without a fee when collection fails for any
	// reason other than an invalid delegation
	DevFeeBypass bool
}

// Result is a finished deployment
type Result struct {
	TokenID       uuid.UUID `json:"token_id"`
	CanisterID    string    `json:"canister_id"`
	Cycles        string    `json:"cycles"`
	Strategy      string    `json:"strategy"`
	FeePaidE8s    string    `json:"fee_paid_e8s"`
	FeeBlockIndex string    `json:"fee_block_index,omitempty"`
	FeeBypassed   bool      `json:"fee_bypassed,omitempty"`
	ModuleHash    string    `json:"module_hash"`
	Verified      bool      `json:"verified"`
}

// Orchestrator coordinates the collaborators of a deployment
type Orchestrator struct {
	sessions Sessions
	fees     FeeCollector
	modules  ModuleSource
	strategy provision.Strategy
	repo     storage.Repository
	opts     Options
}

// New creates an Orchestrator. The provisioning strategy is fixed for its lifetime.
func New(sessions Sessions, fees FeeCollector, modules ModuleSource, strategy provision.Strategy, repo storage.Repository, opts Options) *Orchestrator {
	return &Orchestrator{
		sessions: sessions,
		fees:     fees,
		modules:  modules,
		strategy: strategy,
		repo:     repo,
		opts:     opts,
	}
}

// Strategy returns the provisioning strategy in use (for inspection/testing)
func (o *Orchestrator) Strategy() provision.Kind {
	return o.strategy.Kind()
}

// deployment is the state carried from stage to stage
type deployment struct {
	req     *validated
	record  *models.Token
	user    session.Session
	owner   principal.Principal
	receipt *fee.Receipt
	bypass  bool
	module  []byte
	result  *provision.Result
	checked bool
}

type step struct {
	stage Stage
	run   func(ctx context.Context, d *deployment) error
}

// Deploy runs one deployment. It is not idempotent: two calls create two
// canisters and charge twice.
func (o *Orchestrator) Deploy(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	strategy := string(o.strategy.Kind())

	// Validation and authentication fail before any side effect and leave no record
	v, err := validate(req)
	if err != nil {
		o.observe(StageValidating, start)
		o.count(metrics.OutcomeFailure, strategy, err)
		return nil, err
	}
	user, err := o.sessions.CreateAuthenticated(ctx, req.Delegation)
	if err != nil {
		o.observe(StageValidating, start)
		o.count(metrics.OutcomeFailure, strategy, err)
		return nil, err
	}
	owner := user.Sender()
	if v.owner != nil && !v.owner.Equal(owner) {
		err := apperror.InvalidDelegation("delegation does not belong to the requested owner", nil)
		o.count(metrics.OutcomeFailure, strategy, err)
		return nil, err
	}
	o.observe(StageValidating, start)

	d := &deployment{req: v, user: user, owner: owner}
	d.record = &models.Token{
		Owner:       owner.String(),
		Name:        v.name,
		Symbol:      v.symbol,
		Decimals:    v.decimals,
		TotalSupply: v.supply.String(),
		TransferFee: v.transferFee.String(),
		Logo:        v.logo,
		Description: v.description,
	}
	if err := o.repo.CreateToken(ctx, d.record); err != nil {
		o.count(metrics.OutcomeFailure, strategy, err)
		return nil, apperror.ExternalService("database", err)
	}

	slog.Info("Deployment started",
		"token_id", d.record.ID,
		"symbol", v.symbol,
		"owner", owner,
		"strategy", strategy)

	steps := []step{
		{StageFeeCollection, o.collectFee},
		{StageModuleAcquisition, o.acquireModule},
		{StageProvisioning, o.provision},
		{StageVerifying, o.verify},
	}
	for _, s := range steps {
		stageStart := time.Now()
		err := s.run(ctx, d)
		o.observe(s.stage, stageStart)
		if err != nil {
			o.fail(ctx, d, s.stage, err)
			o.count(metrics.OutcomeFailure, strategy, err)
			return nil, err
		}
	}

	res, err := o.finish(ctx, d)
	if err != nil {
		o.count(metrics.OutcomeFailure, strategy, err)
		return nil, err
	}
	o.count(metrics.OutcomeSuccess, strategy, nil)
	slog.Info("Deployment finished",
		"token_id", res.TokenID,
		"canister_id", res.CanisterID,
		"duration_ms", time.Since(start).Milliseconds())
	return res, nil
}

func (o *Orchestrator) collectFee(ctx context.Context, d *deployment) error {
	receipt, err := o.fees.Collect(ctx, d.user)
	if err == nil {
		d.receipt = receipt
		return nil
	}
	if apperror.IsKind(err, apperror.KindInvalidDelegation) || !o.opts.DevFeeBypass {
		return err
	}

	slog.Warn("Fee collection failed, continuing under dev fee bypass",
		"token_id", d.record.ID,
		"owner", d.owner,
		"error", err)
	metrics.FeeCollectionsTotal.WithLabelValues(metrics.OutcomeBypassed).Inc()
	d.bypass = true
	return nil
}

func (o *Orchestrator) acquireModule(ctx context.Context, d *deployment) error {
	module, err := o.modules.Acquire(ctx)
	if err != nil {
		return err
	}
	d.module = module
	return nil
}

func (o *Orchestrator) provision(ctx context.Context, d *deployment) error {
	initArg, err := actors.EncodeTokenInit(actors.TokenInit{
		Name:        d.req.name,
		Symbol:      d.req.symbol,
		Decimals:    d.req.decimals,
		TotalSupply: d.req.supply,
		Owner:       d.owner,
		Fee:         d.req.transferFee,
		Logo:        d.req.logo,
		Description: d.req.description,
	})
	if err != nil {
		return apperror.TokenDeploymentFailed(string(StageProvisioning), err)
	}

	res, err := o.strategy.Provision(ctx, provision.Request{
		Owner:   d.owner,
		User:    d.user,
		Module:  d.module,
		InitArg: initArg,
	})
	if err != nil {
		e := apperror.TokenDeploymentFailed(string(StageProvisioning), err)
		var reply *actors.ErrReply
		if errors.As(err, &reply) {
			e = e.WithDetail("reason", reply.Reason)
		}
		return e
	}
	d.result = res
	return nil
}

// verify is best effort: a canister that does not answer yet is logged, and
// the deployment still completes
func (o *Orchestrator) verify(ctx context.Context, d *deployment) error {
	anon, err := o.sessions.CreateAnonymousWithFallback(ctx)
	if err == nil {
		err = provision.VerifyRunning(ctx, anon, d.result.CanisterID, d.req.symbol)
	}
	if err != nil {
		slog.Warn("Canister not verified as running yet",
			"token_id", d.record.ID,
			"canister_id", d.result.CanisterID,
			"error", err)
		return nil
	}
	d.checked = true
	return nil
}

func (d *deployment) feePaid() string {
	if d.receipt == nil {
		return "0"
	}
	return d.receipt.Amount.String()
}

func (d *deployment) feeBlock() *string {
	if d.receipt == nil || d.receipt.BlockIndex == nil {
		return nil
	}
	s := d.receipt.BlockIndex.String()
	return &s
}

func (o *Orchestrator) finish(ctx context.Context, d *deployment) (*Result, error) {
	res := &Result{
		TokenID:     d.record.ID,
		CanisterID:  d.result.CanisterID.String(),
		Cycles:      d.result.Cycles,
		Strategy:    string(d.result.Strategy),
		FeePaidE8s:  d.feePaid(),
		FeeBypassed: d.bypass,
		ModuleHash:  wasm.Digest(d.module),
		Verified:    d.checked,
	}
	if b := d.feeBlock(); b != nil {
		res.FeeBlockIndex = *b
	}

	wctx, cancel := recordContext(ctx)
	defer cancel()
	err := o.repo.MarkDeployed(wctx, d.record.ID, models.DeploymentResult{
		CanisterID:    res.CanisterID,
		Strategy:      res.Strategy,
		CyclesUsed:    res.Cycles,
		FeePaidE8s:    res.FeePaidE8s,
		FeeBlockIndex: d.feeBlock(),
		FeeBypassed:   d.bypass,
		ModuleHash:    res.ModuleHash,
	})
	if err != nil {
		slog.Error("Canister deployed but record update failed",
			"token_id", d.record.ID,
			"canister_id", res.CanisterID,
			"error", err)
		return nil, apperror.TokenDeploymentFailed("recording", err).WithDetail("canister_id", res.CanisterID)
	}
	return res, nil
}

// recordContext outlives the request so a cancelled or timed out deployment
// still leaves its final status behind
func recordContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), RecordTimeout)
}

// fail records how far the deployment got. The fee is not refunded.
func (o *Orchestrator) fail(ctx context.Context, d *deployment, stage Stage, cause error) {
	slog.Error("Deployment failed",
		"token_id", d.record.ID,
		"stage", stage,
		"fee_paid_e8s", d.feePaid(),
		"error", cause)

	wctx, cancel := recordContext(ctx)
	defer cancel()
	err := o.repo.MarkFailed(wctx, d.record.ID, models.DeploymentFailure{
		Stage:      string(stage),
		Reason:     cause.Error(),
		FeePaidE8s: d.feePaid(),
	})
	if err != nil {
		slog.Error("Failed to record deployment failure", "token_id", d.record.ID, "error", err)
	}
}

func (o *Orchestrator) observe(stage Stage, start time.Time) {
	metrics.DeployStageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
}

func (o *Orchestrator) count(outcome, strategy string, err error) {
	metrics.DeploymentsTotal.WithLabelValues(outcome, strategy).Inc()
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues(string(apperror.KindOf(err))).Inc()
	}
}

// String renders a result for logs
func (r *Result) String() string {
	return fmt.Sprintf("token %s on %s (%s, %s cycles)", r.TokenID, r.CanisterID, r.Strategy, r.Cycles)
}
