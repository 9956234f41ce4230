package actors

import (
	"context"
	"fmt"
	"math/big"

	"launchpad/internal/agent"
	"launchpad/internal/candid"
	"launchpad/internal/principal"
)

// InstallMode selects how install_code treats existing canister state
type InstallMode string

const (
	ModeInstall   InstallMode = "install"
	ModeReinstall InstallMode = "reinstall"
	ModeUpgrade   InstallMode = "upgrade"
)

var (
	CanisterSettingsType = candid.RecordOf(
		candid.F("controllers", candid.Opt(candid.Vec(candid.Principal))),
		candid.F("compute_allocation", candid.Opt(candid.Nat)),
		candid.F("memory_allocation", candid.Opt(candid.Nat)),
		candid.F("freezing_threshold", candid.Opt(candid.Nat)),
	)

	CreateCanisterArgType = candid.RecordOf(
		candid.F("settings", candid.Opt(CanisterSettingsType)),
	)

	ProvisionalCreateArgType = candid.RecordOf(
		candid.F("amount", candid.Opt(candid.Nat)),
		candid.F("settings", candid.Opt(CanisterSettingsType)),
	)

	CanisterIDRecordType = candid.RecordOf(
		candid.F("canister_id", candid.Principal),
	)

	InstallModeType = candid.VariantOf(
		candid.F(string(ModeInstall), candid.Null),
		candid.F(string(ModeReinstall), candid.Null),
		candid.F(string(ModeUpgrade), candid.Null),
	)

	InstallCodeArgType = candid.RecordOf(
		candid.F("mode", InstallModeType),
		candid.F("canister_id", candid.Principal),
		candid.F("wasm_module", candid.Blob),
		candid.F("arg", candid.Blob),
	)

	UpdateSettingsArgType = candid.RecordOf(
		candid.F("canister_id", candid.Principal),
		candid.F("settings", CanisterSettingsType),
	)
)

// CanisterStatus is the part of canister_status the launchpad reads
type CanisterStatus struct {
	Status      string // running, stopping or stopped
	Cycles      *big.Int
	MemorySize  *big.Int
	Controllers []principal.Principal
	ModuleHash  []byte
}

// Running reports whether the canister is executing messages
func (s *CanisterStatus) Running() bool {
	return s.Status == "running"
}

// Management is the management canister aaaaa-aa
type Management struct {
	caller    Caller
	effective principal.Principal
}

// NewManagement returns a client whose create calls route through effective.
// Pass principal.Management when the boundary node accepts it.
func NewManagement(c Caller, effective principal.Principal) *Management {
	return &Management{caller: c, effective: effective}
}

func settingsValue(controllers []principal.Principal) map[string]any {
	return map[string]any{"controllers": controllers}
}

func canisterID(method string, out []any) (principal.Principal, error) {
	v, err := first(method, out)
	if err != nil {
		return principal.Principal{}, err
	}
	rec, err := candid.AsRecord(v)
	if err != nil {
		return principal.Principal{}, fmt.Errorf("%s reply: %w", method, err)
	}
	return rec.Principal("canister_id")
}

// CreateCanister creates an empty canister controlled by controllers
func (m *Management) CreateCanister(ctx context.Context, controllers []principal.Principal) (principal.Principal, error) {
	out, err := update(ctx, m.caller, principal.Management, "create_canister",
		[]candid.Type{CreateCanisterArgType},
		[]any{map[string]any{"settings": settingsValue(controllers)}},
		agent.WithEffectiveCanisterID(m.effective))
	if err != nil {
		return principal.Principal{}, err
	}
	return canisterID("create_canister", out)
}

// ProvisionalCreateCanisterWithCycles is the development replica's funded create
func (m *Management) ProvisionalCreateCanisterWithCycles(ctx context.Context, cycles *big.Int, controllers []principal.Principal) (principal.Principal, error) {
	out, err := update(ctx, m.caller, principal.Management, "provisional_create_canister_with_cycles",
		[]candid.Type{ProvisionalCreateArgType},
		[]any{map[string]any{"amount": cycles, "settings": settingsValue(controllers)}},
		agent.WithEffectiveCanisterID(m.effective))
	if err != nil {
		return principal.Principal{}, err
	}
	return canisterID("provisional_create_canister_with_cycles", out)
}

// InstallCodeArg encodes the install_code argument; the wallet path forwards it verbatim
func InstallCodeArg(mode InstallMode, canister principal.Principal, module, initArg []byte) ([]byte, error) {
	return encode("install_code", []candid.Type{InstallCodeArgType}, []any{map[string]any{
		"mode":        candid.Variant{Name: string(mode)},
		"canister_id": canister,
		"wasm_module": module,
		"arg":         initArg,
	}})
}

// UpdateSettingsArg encodes the update_settings argument
func UpdateSettingsArg(canister principal.Principal, controllers []principal.Principal) ([]byte, error) {
	return encode("update_settings", []candid.Type{UpdateSettingsArgType}, []any{map[string]any{
		"canister_id": canister,
		"settings":    settingsValue(controllers),
	}})
}

// InstallCode installs module into canister
func (m *Management) InstallCode(ctx context.Context, mode InstallMode, canister principal.Principal, module, initArg []byte) error {
	arg, err := InstallCodeArg(mode, canister, module, initArg)
	if err != nil {
		return err
	}
	if _, err := m.caller.Call(ctx, principal.Management, "install_code", arg, agent.WithEffectiveCanisterID(canister)); err != nil {
		return fmt.Errorf("install_code on %s failed: %w", canister, err)
	}
	return nil
}

// UpdateSettings replaces the controller list of canister
func (m *Management) UpdateSettings(ctx context.Context, canister principal.Principal, controllers []principal.Principal) error {
	arg, err := UpdateSettingsArg(canister, controllers)
	if err != nil {
		return err
	}
	if _, err := m.caller.Call(ctx, principal.Management, "update_settings", arg, agent.WithEffectiveCanisterID(canister)); err != nil {
		return fmt.Errorf("update_settings on %s failed: %w", canister, err)
	}
	return nil
}

// CanisterStatus reads the status of canister; the caller must be a controller
func (m *Management) CanisterStatus(ctx context.Context, canister principal.Principal) (*CanisterStatus, error) {
	out, err := update(ctx, m.caller, principal.Management, "canister_status",
		[]candid.Type{CanisterIDRecordType},
		[]any{map[string]any{"canister_id": canister}},
		agent.WithEffectiveCanisterID(canister))
	if err != nil {
		return nil, err
	}
	v, err := first("canister_status", out)
	if err != nil {
		return nil, err
	}
	return parseCanisterStatus(v)
}

func parseCanisterStatus(v any) (*CanisterStatus, error) {
	rec, err := candid.AsRecord(v)
	if err != nil {
		return nil, fmt.Errorf("canister_status reply: %w", err)
	}
	st := &CanisterStatus{}

	status, err := rec.Variant("status")
	if err != nil {
		return nil, fmt.Errorf("canister_status reply: %w", err)
	}
	for _, s := range []string{"running", "stopping", "stopped"} {
		if status.Is(s) {
			st.Status = s
		}
	}

	if st.Cycles, err = rec.Nat("cycles"); err != nil {
		return nil, fmt.Errorf("canister_status reply: %w", err)
	}
	st.MemorySize, _ = rec.Nat("memory_size")
	st.ModuleHash, _ = rec.Blob("module_hash")

	if raw, ok := rec.Get("settings"); ok {
		if settings, err := candid.AsRecord(raw); err == nil {
			if list, ok := settings.Get("controllers"); ok {
				items, _ := list.([]any)
				for _, item := range items {
					if p, ok := item.(principal.Principal); ok {
						st.Controllers = append(st.Controllers, p)
					}
				}
			}
		}
	}
	return st, nil
}
