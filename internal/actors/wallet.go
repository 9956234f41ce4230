package actors

import (
	"context"
	"fmt"

	"launchpad/internal/candid"
	"launchpad/internal/principal"
)

var (
	WalletCreateCanisterArgType = candid.RecordOf(
		candid.F("cycles", candid.Nat64),
		candid.F("settings", candid.RecordOf(
			candid.F("controller", candid.Opt(candid.Principal)),
			candid.F("controllers", candid.Opt(candid.Vec(candid.Principal))),
			candid.F("compute_allocation", candid.Opt(candid.Nat)),
			candid.F("memory_allocation", candid.Opt(candid.Nat)),
			candid.F("freezing_threshold", candid.Opt(candid.Nat)),
		)),
	)

	WalletCreateResultType = candid.VariantOf(
		candid.F("Ok", CanisterIDRecordType),
		candid.F("Err", candid.Text),
	)

	WalletCallArgType = candid.RecordOf(
		candid.F("canister", candid.Principal),
		candid.F("method_name", candid.Text),
		candid.F("args", candid.Blob),
		candid.F("cycles", candid.Nat64),
	)

	WalletCallResultType = candid.VariantOf(
		candid.F("Ok", candid.RecordOf(candid.F("return", candid.Blob))),
		candid.F("Err", candid.Text),
	)
)

// Wallet is a cycles wallet canister that pays for canister creation
type Wallet struct {
	caller Caller
	id     principal.Principal
}

// NewWallet binds a wallet client to canister id
func NewWallet(c Caller, id principal.Principal) *Wallet {
	return &Wallet{caller: c, id: id}
}

// ID returns the wallet canister id
func (w *Wallet) ID() principal.Principal { return w.id }

// CreateCanister spends cycles from the wallet on a new canister
func (w *Wallet) CreateCanister(ctx context.Context, cycles uint64, controllers []principal.Principal) (principal.Principal, error) {
	const method = "wallet_create_canister"
	out, err := update(ctx, w.caller, w.id, method,
		[]candid.Type{WalletCreateCanisterArgType},
		[]any{map[string]any{
			"cycles":   cycles,
			"settings": map[string]any{"controllers": controllers},
		}})
	if err != nil {
		return principal.Principal{}, err
	}
	v, err := first(method, out)
	if err != nil {
		return principal.Principal{}, err
	}
	ok, err := result(method, v, nil)
	if err != nil {
		return principal.Principal{}, err
	}
	rec, err := candid.AsRecord(ok)
	if err != nil {
		return principal.Principal{}, fmt.Errorf("%s Ok value: %w", method, err)
	}
	return rec.Principal("canister_id")
}

// Forward makes the wallet call method on canister with arg and returns the raw reply
func (w *Wallet) Forward(ctx context.Context, canister principal.Principal, method string, arg []byte, cycles uint64) ([]byte, error) {
	const walletMethod = "wallet_call"
	out, err := update(ctx, w.caller, w.id, walletMethod,
		[]candid.Type{WalletCallArgType},
		[]any{map[string]any{
			"canister":    canister,
			"method_name": method,
			"args":        arg,
			"cycles":      cycles,
		}})
	if err != nil {
		return nil, err
	}
	v, err := first(walletMethod, out)
	if err != nil {
		return nil, err
	}
	ok, err := result(walletMethod+"("+method+")", v, nil)
	if err != nil {
		return nil, err
	}
	rec, err := candid.AsRecord(ok)
	if err != nil {
		return nil, fmt.Errorf("%s Ok value: %w", walletMethod, err)
	}
	return rec.Blob("return")
}

// InstallCode installs module through the wallet, which must control canister
func (w *Wallet) InstallCode(ctx context.Context, mode InstallMode, canister principal.Principal, module, initArg []byte) error {
	arg, err := InstallCodeArg(mode, canister, module, initArg)
	if err != nil {
		return err
	}
	_, err = w.Forward(ctx, principal.Management, "install_code", arg, 0)
	return err
}

// UpdateSettings replaces the controllers of canister through the wallet
func (w *Wallet) UpdateSettings(ctx context.Context, canister principal.Principal, controllers []principal.Principal) error {
	arg, err := UpdateSettingsArg(canister, controllers)
	if err != nil {
		return err
	}
	_, err = w.Forward(ctx, principal.Management, "update_settings", arg, 0)
	return err
}
