package actors

import (
	"context"
	"fmt"
	"math/big"

	"launchpad/internal/candid"
	"launchpad/internal/principal"
)

// Candid shapes of the ICRC-1 interface plus the launchpad token extensions
var (
	AccountType = candid.RecordOf(
		candid.F("owner", candid.Principal),
		candid.F("subaccount", candid.Opt(candid.Blob)),
	)

	TransferArgType = candid.RecordOf(
		candid.F("from_subaccount", candid.Opt(candid.Blob)),
		candid.F("to", AccountType),
		candid.F("amount", candid.Nat),
		candid.F("fee", candid.Opt(candid.Nat)),
		candid.F("memo", candid.Opt(candid.Blob)),
		candid.F("created_at_time", candid.Opt(candid.Nat64)),
	)

	TransferErrorType = candid.VariantOf(
		candid.F("BadFee", candid.RecordOf(candid.F("expected_fee", candid.Nat))),
		candid.F("BadBurn", candid.RecordOf(candid.F("min_burn_amount", candid.Nat))),
		candid.F("InsufficientFunds", candid.RecordOf(candid.F("balance", candid.Nat))),
		candid.F("TooOld", candid.Null),
		candid.F("CreatedInFuture", candid.RecordOf(candid.F("ledger_time", candid.Nat64))),
		candid.F("TemporarilyUnavailable", candid.Null),
		candid.F("Duplicate", candid.RecordOf(candid.F("duplicate_of", candid.Nat))),
		candid.F("GenericError", candid.RecordOf(candid.F("error_code", candid.Nat), candid.F("message", candid.Text))),
	)

	TransferResultType = candid.VariantOf(
		candid.F("Ok", candid.Nat),
		candid.F("Err", TransferErrorType),
	)

	MintArgType = candid.RecordOf(
		candid.F("to", AccountType),
		candid.F("amount", candid.Nat),
	)

	BurnArgType = candid.RecordOf(
		candid.F("from_subaccount", candid.Opt(candid.Blob)),
		candid.F("amount", candid.Nat),
	)

	// Mint and burn answer Ok(amount) or Err(text)
	SupplyResultType = candid.VariantOf(
		candid.F("Ok", candid.Nat),
		candid.F("Err", candid.Text),
	)

	MetadataValueType = candid.VariantOf(
		candid.F("Nat", candid.Nat),
		candid.F("Int", candid.Int),
		candid.F("Text", candid.Text),
		candid.F("Blob", candid.Blob),
	)

	MetadataType = candid.Vec(candid.RecordOf(
		candid.F("0", candid.Text),
		candid.F("1", MetadataValueType),
	))
)

// TransferError is the structured Err of icrc1_transfer
type TransferError struct {
	Kind       string
	Amount     *big.Int // expected_fee, min_burn_amount, balance or duplicate_of
	LedgerTime uint64
	ErrorCode  *big.Int
	Message    string
}

func (e *TransferError) Error() string {
	switch {
	case e.Message != "":
		return fmt.Sprintf("ledger transfer error %s: %s", e.Kind, e.Message)
	case e.Amount != nil:
		return fmt.Sprintf("ledger transfer error %s (%s)", e.Kind, e.Amount)
	default:
		return fmt.Sprintf("ledger transfer error %s", e.Kind)
	}
}

// Detail is the structured reason in a form safe to show callers
func (e *TransferError) Detail() map[string]any {
	d := map[string]any{"kind": e.Kind}
	if e.Amount != nil {
		d[transferAmountField[e.Kind]] = e.Amount.String()
	}
	if e.LedgerTime != 0 {
		d["ledger_time"] = e.LedgerTime
	}
	if e.ErrorCode != nil {
		d["error_code"] = e.ErrorCode.String()
	}
	if e.Message != "" {
		d["message"] = e.Message
	}
	return d
}

var transferAmountField = map[string]string{
	"BadFee":            "expected_fee",
	"BadBurn":           "min_burn_amount",
	"InsufficientFunds": "balance",
	"Duplicate":         "duplicate_of",
}

var transferErrorKinds = []string{
	"BadFee", "BadBurn", "InsufficientFunds", "TooOld", "CreatedInFuture",
	"TemporarilyUnavailable", "Duplicate", "GenericError",
}

// decodeTransferError recognizes the TransferError variant and returns nil otherwise
func decodeTransferError(v candid.Variant) error {
	for _, kind := range transferErrorKinds {
		if !v.Is(kind) {
			continue
		}
		te := &TransferError{Kind: kind}
		rec, _ := v.Value.(candid.Record)
		if field, ok := transferAmountField[kind]; ok && rec != nil {
			te.Amount, _ = rec.Nat(field)
		}
		switch kind {
		case "CreatedInFuture":
			if n, err := rec.Nat("ledger_time"); err == nil {
				te.LedgerTime = n.Uint64()
			}
		case "GenericError":
			te.ErrorCode, _ = rec.Nat("error_code")
			te.Message, _ = rec.Text("message")
		}
		return te
	}
	return nil
}

// TransferArgs are the icrc1_transfer arguments
type TransferArgs struct {
	FromSubaccount []byte
	To             principal.Account
	Amount         *big.Int
	Fee            *big.Int
	Memo           []byte
	CreatedAtTime  uint64 // nanoseconds, zero omits it
}

func accountValue(a principal.Account) map[string]any {
	v := map[string]any{"owner": a.Owner}
	if len(a.Subaccount) > 0 {
		v["subaccount"] = a.Subaccount
	}
	return v
}

// Token is an ICRC-1 ledger: the ICP ledger or a deployed token canister
type Token struct {
	caller Caller
	id     principal.Principal
}

// NewToken binds a token client to canister id
func NewToken(c Caller, id principal.Principal) *Token {
	return &Token{caller: c, id: id}
}

// ID returns the canister id
func (t *Token) ID() principal.Principal { return t.id }

func (t *Token) queryText(ctx context.Context, method string) (string, error) {
	v, err := query(ctx, t.caller, t.id, method, nil, nil)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s replied with %T, want text", method, v)
	}
	return s, nil
}

func (t *Token) queryNat(ctx context.Context, method string, types []candid.Type, values []any) (*big.Int, error) {
	v, err := query(ctx, t.caller, t.id, method, types, values)
	if err != nil {
		return nil, err
	}
	n, err := candid.AsNat(v)
	if err != nil {
		return nil, fmt.Errorf("%s reply: %w", method, err)
	}
	return n, nil
}

func (t *Token) Name(ctx context.Context) (string, error) {
	return t.queryText(ctx, "icrc1_name")
}

func (t *Token) Symbol(ctx context.Context) (string, error) {
	return t.queryText(ctx, "icrc1_symbol")
}

func (t *Token) Decimals(ctx context.Context) (uint8, error) {
	n, err := t.queryNat(ctx, "icrc1_decimals", nil, nil)
	if err != nil {
		return 0, err
	}
	if !n.IsUint64() || n.Uint64() > 255 {
		return 0, fmt.Errorf("icrc1_decimals out of range: %s", n)
	}
	return uint8(n.Uint64()), nil
}

func (t *Token) TotalSupply(ctx context.Context) (*big.Int, error) {
	return t.queryNat(ctx, "icrc1_total_supply", nil, nil)
}

func (t *Token) Fee(ctx context.Context) (*big.Int, error) {
	return t.queryNat(ctx, "icrc1_fee", nil, nil)
}

// BalanceOf returns the balance of account
func (t *Token) BalanceOf(ctx context.Context, account principal.Account) (*big.Int, error) {
	return t.queryNat(ctx, "icrc1_balance_of", []candid.Type{AccountType}, []any{accountValue(account)})
}

// Metadata returns icrc1_metadata with values rendered as strings or bytes
func (t *Token) Metadata(ctx context.Context) (map[string]any, error) {
	v, err := query(ctx, t.caller, t.id, "icrc1_metadata", nil, nil)
	if err != nil {
		return nil, err
	}
	entries, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("icrc1_metadata replied with %T, want vec", v)
	}
	out := make(map[string]any, len(entries))
	for _, e := range entries {
		rec, err := candid.AsRecord(e)
		if err != nil {
			return nil, fmt.Errorf("icrc1_metadata entry: %w", err)
		}
		key, err := rec.Text("0")
		if err != nil {
			return nil, fmt.Errorf("icrc1_metadata entry: %w", err)
		}
		raw, _ := rec.Get("1")
		val, err := candid.AsVariant(raw)
		if err != nil {
			return nil, fmt.Errorf("icrc1_metadata %s: %w", key, err)
		}
		switch x := val.Value.(type) {
		case interface{ String() string }:
			out[key] = x.String()
		default:
			out[key] = x
		}
	}
	return out, nil
}

// Transfer calls icrc1_transfer and returns the block index
func (t *Token) Transfer(ctx context.Context, args TransferArgs) (*big.Int, error) {
	v := map[string]any{
		"to":     accountValue(args.To),
		"amount": args.Amount,
	}
	if len(args.FromSubaccount) > 0 {
		v["from_subaccount"] = args.FromSubaccount
	}
	if args.Fee != nil {
		v["fee"] = args.Fee
	}
	if len(args.Memo) > 0 {
		v["memo"] = args.Memo
	}
	if args.CreatedAtTime != 0 {
		v["created_at_time"] = args.CreatedAtTime
	}
	return t.supplyCall(ctx, "icrc1_transfer", TransferArgType, v)
}

// Mint creates amount new tokens for to. Only the token's minting account may call it.
func (t *Token) Mint(ctx context.Context, to principal.Account, amount *big.Int) (*big.Int, error) {
	return t.supplyCall(ctx, "mint", MintArgType, map[string]any{"to": accountValue(to), "amount": amount})
}

// Burn destroys amount tokens from the caller's account
func (t *Token) Burn(ctx context.Context, fromSubaccount []byte, amount *big.Int) (*big.Int, error) {
	v := map[string]any{"amount": amount}
	if len(fromSubaccount) > 0 {
		v["from_subaccount"] = fromSubaccount
	}
	return t.supplyCall(ctx, "burn", BurnArgType, v)
}

func (t *Token) supplyCall(ctx context.Context, method string, argType candid.Type, arg map[string]any) (*big.Int, error) {
	out, err := update(ctx, t.caller, t.id, method, []candid.Type{argType}, []any{arg})
	if err != nil {
		return nil, err
	}
	v, err := first(method, out)
	if err != nil {
		return nil, err
	}
	ok, err := result(method, v, decodeTransferError)
	if err != nil {
		return nil, err
	}
	n, err := candid.AsNat(ok)
	if err != nil {
		return nil, fmt.Errorf("%s Ok value: %w", method, err)
	}
	return n, nil
}
