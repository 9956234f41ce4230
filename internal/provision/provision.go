// Package provision creates a canister and installs the token module into
// it, paid for either by the treasury's cycles wallet or by the user.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"

	"launchpad/internal/actors"
	"launchpad/internal/principal"
)

// Kind names a provisioning strategy
type Kind string

const (
	KindWallet Kind = "wallet"
	KindDirect Kind = "direct"
)

// Request is what a strategy needs to stand up one token canister
type Request struct {
	Owner   principal.Principal
	User    actors.Caller // the owner's authenticated session
	Module  []byte
	InitArg []byte
}

// Result is a provisioned canister
type Result struct {
	CanisterID principal.Principal
	Cycles     string
	Strategy   Kind
}

// Strategy provisions canisters one way
type Strategy interface {
	Kind() Kind
	Provision(ctx context.Context, req Request) (*Result, error)
}

// TreasuryDialer opens a session as the treasury identity
type TreasuryDialer func(ctx context.Context) (actors.Caller, error)

// Config decides the strategy. A set WalletID selects the wallet path.
type Config struct {
	WalletID principal.Principal
	Cycles   uint64
	Local    bool // development replica, direct path uses provisional create
	Treasury TreasuryDialer
}

// Select picks the strategy once from configuration presence
func Select(cfg Config) (Strategy, error) {
	if len(cfg.WalletID.Raw()) > 0 {
		if cfg.Treasury == nil {
			return nil, errors.New("wallet provisioning needs a treasury identity")
		}
		return &WalletStrategy{wallet: cfg.WalletID, cycles: cfg.Cycles, treasury: cfg.Treasury}, nil
	}
	return &DirectStrategy{cycles: cfg.Cycles, local: cfg.Local}, nil
}

// WalletStrategy spends the treasury wallet's cycles. The user's session is
// never used to pay.
type WalletStrategy struct {
	wallet   principal.Principal
	cycles   uint64
	treasury TreasuryDialer
}

func (s *WalletStrategy) Kind() Kind { return KindWallet }

// Provision creates the canister with the wallet as co-controller so it can
// install, then leaves the owner as sole controller
func (s *WalletStrategy) Provision(ctx context.Context, req Request) (*Result, error) {
	caller, err := s.treasury(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open treasury session: %w", err)
	}
	wallet := actors.NewWallet(caller, s.wallet)

	id, err := wallet.CreateCanister(ctx, s.cycles, []principal.Principal{req.Owner, s.wallet})
	if err != nil {
		return nil, fmt.Errorf("failed to create canister through wallet %s: %w", s.wallet, err)
	}
	slog.Info("Canister created", "canister_id", id, "strategy", KindWallet, "cycles", s.cycles)

	if err := wallet.InstallCode(ctx, actors.ModeInstall, id, req.Module, req.InitArg); err != nil {
		return nil, fmt.Errorf("failed to install module into %s: %w", id, err)
	}
	if err := wallet.UpdateSettings(ctx, id, []principal.Principal{req.Owner}); err != nil {
		return nil, fmt.Errorf("failed to hand control of %s to %s: %w", id, req.Owner, err)
	}

	return &Result{CanisterID: id, Cycles: strconv.FormatUint(s.cycles, 10), Strategy: KindWallet}, nil
}

// DirectStrategy creates the canister from the user's own session. The
// cycles figure is informational; the network bills the caller.
type DirectStrategy struct {
	cycles uint64
	local  bool
}

func (s *DirectStrategy) Kind() Kind { return KindDirect }

func (s *DirectStrategy) Provision(ctx context.Context, req Request) (*Result, error) {
	if req.User == nil {
		return nil, errors.New("direct provisioning needs the user's session")
	}
	mgmt := actors.NewManagement(req.User, principal.Management)
	controllers := []principal.Principal{req.Owner}

	var (
		id  principal.Principal
		err error
	)
	if s.local {
		id, err = mgmt.ProvisionalCreateCanisterWithCycles(ctx, new(big.Int).SetUint64(s.cycles), controllers)
	} else {
		id, err = mgmt.CreateCanister(ctx, controllers)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create canister: %w", err)
	}
	slog.Info("Canister created", "canister_id", id, "strategy", KindDirect)

	if err := mgmt.InstallCode(ctx, actors.ModeInstall, id, req.Module, req.InitArg); err != nil {
		return nil, fmt.Errorf("failed to install module into %s: %w", id, err)
	}
	return &Result{CanisterID: id, Cycles: strconv.FormatUint(s.cycles, 10), Strategy: KindDirect}, nil
}

// VerifyRunning checks through an anonymous query that canister answers as
// the token it should be. Stopped or empty canisters reject queries.
func VerifyRunning(ctx context.Context, caller actors.Caller, canister principal.Principal, symbol string) error {
	got, err := actors.NewToken(caller, canister).Symbol(ctx)
	if err != nil {
		return err
	}
	if got != symbol {
		return fmt.Errorf("canister %s reports symbol %q, expected %q", canister, got, symbol)
	}
	return nil
}
