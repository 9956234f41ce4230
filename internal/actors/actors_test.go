package actors_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"launchpad/internal/actors"
	"launchpad/internal/actors/actorstest"
	"launchpad/internal/candid"
	"launchpad/internal/principal"
)

var (
	user     = principal.MustDecode("2vxsx-fae")
	tokenID  = principal.MustDecode("rrkah-fqaaa-aaaaa-aaaaq-cai")
	walletID = principal.MustDecode("rdmx6-jaaaa-aaaaa-aaadq-cai")
)

func TestToken_TransferOk(t *testing.T) {
	fake := actorstest.New(user).Handle(principal.Ledger, "icrc1_transfer", actorstest.Ok(actors.TransferResultType, big.NewInt(77)))
	ledger := actors.NewToken(fake, principal.Ledger)

	treasury := principal.NewAccount(walletID)
	idx, err := ledger.Transfer(context.Background(), actors.TransferArgs{
		To:            treasury,
		Amount:        big.NewInt(100_000_000),
		Memo:          []byte("launchpad"),
		CreatedAtTime: 42,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(77), idx.Int64())

	calls := fake.Calls()
	require.Len(t, calls, 1)
	arg, err := actorstest.DecodeArg(calls[0])
	require.NoError(t, err)

	amount, err := arg.Nat("amount")
	require.NoError(t, err)
	assert.Equal(t, "100000000", amount.String())

	to, ok := arg.Get("to")
	require.True(t, ok)
	toRec, _ := candid.AsRecord(to)
	owner, _ := toRec.Principal("owner")
	assert.Equal(t, walletID, owner)

	memo, _ := arg.Blob("memo")
	assert.Equal(t, []byte("launchpad"), memo)
}

func TestToken_TransferStructuredError(t *testing.T) {
	fake := actorstest.New(user).Handle(principal.Ledger, "icrc1_transfer", actorstest.Err(actors.TransferResultType,
		candid.Variant{Name: "InsufficientFunds", Value: map[string]any{"balance": big.NewInt(5)}}))
	ledger := actors.NewToken(fake, principal.Ledger)

	_, err := ledger.Transfer(context.Background(), actors.TransferArgs{To: principal.NewAccount(walletID), Amount: big.NewInt(1)})
	require.Error(t, err)

	var te *actors.TransferError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "InsufficientFunds", te.Kind)
	assert.Equal(t, "5", te.Detail()["balance"])
}

func TestToken_TransferGenericError(t *testing.T) {
	fake := actorstest.New(user).Handle(principal.Ledger, "icrc1_transfer", actorstest.Err(actors.TransferResultType,
		candid.Variant{Name: "GenericError", Value: map[string]any{"error_code": big.NewInt(3), "message": "paused"}}))
	ledger := actors.NewToken(fake, principal.Ledger)

	_, err := ledger.Transfer(context.Background(), actors.TransferArgs{To: principal.NewAccount(walletID), Amount: big.NewInt(1)})
	var te *actors.TransferError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "paused", te.Message)
	assert.Equal(t, "3", te.ErrorCode.String())
}

func TestToken_BurnTextError(t *testing.T) {
	fake := actorstest.New(user).Handle(tokenID, "burn", actorstest.Err(actors.SupplyResultType, "not allowed"))
	token := actors.NewToken(fake, tokenID)

	_, err := token.Burn(context.Background(), nil, big.NewInt(10))
	var reply *actors.ErrReply
	require.True(t, errors.As(err, &reply))
	assert.Equal(t, "burn", reply.Method)
	assert.Equal(t, "not allowed", reply.Reason)
}

func TestToken_MintOk(t *testing.T) {
	fake := actorstest.New(user).Handle(tokenID, "mint", actorstest.Ok(actors.SupplyResultType, big.NewInt(10)))
	token := actors.NewToken(fake, tokenID)

	n, err := token.Mint(context.Background(), principal.NewAccount(user), big.NewInt(10))
	require.NoError(t, err)
	assert.Equal(t, int64(10), n.Int64())
}

func TestToken_Queries(t *testing.T) {
	fake := actorstest.New(user).
		Handle(tokenID, "icrc1_symbol", actorstest.Returns([]candid.Type{candid.Text}, []any{"LPD"})).
		Handle(tokenID, "icrc1_decimals", actorstest.Returns([]candid.Type{candid.Nat8}, []any{uint8(8)})).
		Handle(tokenID, "icrc1_balance_of", actorstest.Returns([]candid.Type{candid.Nat}, []any{big.NewInt(1234)})).
		Handle(tokenID, "icrc1_metadata", actorstest.Returns([]candid.Type{actors.MetadataType}, []any{[]any{
			map[string]any{"0": "icrc1:symbol", "1": candid.Variant{Name: "Text", Value: "LPD"}},
			map[string]any{"0": "icrc1:fee", "1": candid.Variant{Name: "Nat", Value: big.NewInt(10_000)}},
		}}))
	token := actors.NewToken(fake, tokenID)
	ctx := context.Background()

	sym, err := token.Symbol(ctx)
	require.NoError(t, err)
	assert.Equal(t, "LPD", sym)

	dec, err := token.Decimals(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint8(8), dec)

	bal, err := token.BalanceOf(ctx, principal.NewAccount(user))
	require.NoError(t, err)
	assert.Equal(t, int64(1234), bal.Int64())

	meta, err := token.Metadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, "LPD", meta["icrc1:symbol"])
	assert.Equal(t, "10000", meta["icrc1:fee"])

	for _, r := range fake.Calls() {
		assert.True(t, r.Query, r.Method)
	}
}

func TestWallet_CreateAndInstall(t *testing.T) {
	created := principal.MustDecode("ryjl3-tyaaa-aaaaa-aaaba-cai")
	fake := actorstest.New(user).
		Handle(walletID, "wallet_create_canister", actorstest.Ok(actors.WalletCreateResultType, map[string]any{"canister_id": created})).
		Handle(walletID, "wallet_call", actorstest.Ok(actors.WalletCallResultType, map[string]any{"return": []byte("DIDL\x00\x00")}))
	wallet := actors.NewWallet(fake, walletID)
	ctx := context.Background()

	id, err := wallet.CreateCanister(ctx, 1_000_000_000_000, []principal.Principal{user, walletID})
	require.NoError(t, err)
	assert.Equal(t, created, id)

	require.NoError(t, wallet.InstallCode(ctx, actors.ModeInstall, id, []byte("\x00asm"), []byte("DIDL\x00\x00")))

	calls := fake.Calls()
	require.Len(t, calls, 2)
	arg, err := actorstest.DecodeArg(calls[1])
	require.NoError(t, err)
	method, _ := arg.Text("method_name")
	assert.Equal(t, "install_code", method)
	target, _ := arg.Principal("canister")
	assert.True(t, target.IsManagement())
}

func TestWallet_CreateErr(t *testing.T) {
	fake := actorstest.New(user).Handle(walletID, "wallet_create_canister", actorstest.Err(actors.WalletCreateResultType, "out of cycles"))
	_, err := actors.NewWallet(fake, walletID).CreateCanister(context.Background(), 1, nil)

	var reply *actors.ErrReply
	require.True(t, errors.As(err, &reply))
	assert.Equal(t, "out of cycles", reply.Reason)
}

func TestManagement_RoutesThroughTargetCanister(t *testing.T) {
	created := principal.MustDecode("rrkah-fqaaa-aaaaa-aaaaq-cai")
	fake := actorstest.New(user).
		HandleAny("create_canister", actorstest.Returns([]candid.Type{actors.CanisterIDRecordType}, []any{map[string]any{"canister_id": created}})).
		HandleAny("install_code", actorstest.Returns(nil, nil))
	mgmt := actors.NewManagement(fake, principal.Management)
	ctx := context.Background()

	id, err := mgmt.CreateCanister(ctx, []principal.Principal{user})
	require.NoError(t, err)
	require.NoError(t, mgmt.InstallCode(ctx, actors.ModeInstall, id, []byte("\x00asm"), nil))

	calls := fake.Calls()
	require.Len(t, calls, 2)
	assert.True(t, calls[0].Canister.IsManagement())
	assert.Equal(t, created, calls[1].Effective)
}

func TestManagement_CanisterStatus(t *testing.T) {
	statusType := candid.RecordOf(
		candid.F("status", candid.VariantOf(candid.F("running", candid.Null), candid.F("stopping", candid.Null), candid.F("stopped", candid.Null))),
		candid.F("settings", candid.RecordOf(candid.F("controllers", candid.Vec(candid.Principal)))),
		candid.F("module_hash", candid.Opt(candid.Blob)),
		candid.F("memory_size", candid.Nat),
		candid.F("cycles", candid.Nat),
	)
	fake := actorstest.New(user).HandleAny("canister_status", actorstest.Returns([]candid.Type{statusType}, []any{map[string]any{
		"status":      candid.Variant{Name: "running"},
		"settings":    map[string]any{"controllers": []principal.Principal{user}},
		"module_hash": []byte{1, 2, 3},
		"memory_size": big.NewInt(2048),
		"cycles":      big.NewInt(900),
	}}))

	st, err := actors.NewManagement(fake, principal.Management).CanisterStatus(context.Background(), tokenID)
	require.NoError(t, err)
	assert.True(t, st.Running())
	assert.Equal(t, "900", st.Cycles.String())
	assert.Equal(t, []principal.Principal{user}, st.Controllers)
	assert.Equal(t, []byte{1, 2, 3}, st.ModuleHash)
}
