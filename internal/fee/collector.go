// Package fee charges the deployment fee with a single ledger transfer.
package fee

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"launchpad/internal/actors"
	"launchpad/internal/apperror"
	"launchpad/internal/metrics"
	"launchpad/internal/principal"
)

const (
	// Decimals of the ledger's native token
	Decimals = 8

	memo = "launchpad deployment fee"
)

var e8s = big.NewInt(100_000_000)

// ParseE8s converts a non negative decimal string to minor units. Digits past
// the eighth fractional place are truncated.
func ParseE8s(amount string) (*big.Int, error) {
	s := strings.TrimSpace(amount)
	if s == "" {
		return nil, apperror.Validation("fee amount is empty")
	}
	whole, frac, hasDot := strings.Cut(s, ".")
	if whole == "" && (!hasDot || frac == "") {
		return nil, apperror.Validation("fee amount %q is not a decimal number", amount)
	}
	if !digits(whole) || !digits(frac) {
		return nil, apperror.Validation("fee amount %q is not a decimal number", amount)
	}

	if len(frac) > Decimals {
		frac = frac[:Decimals]
	}
	frac += strings.Repeat("0", Decimals-len(frac))

	out := new(big.Int)
	if whole != "" {
		out.SetString(whole, 10)
	}
	out.Mul(out, e8s)
	f, _ := new(big.Int).SetString(frac, 10)
	return out.Add(out, f), nil
}

func digits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// FormatE8s renders minor units as a decimal string without trailing zeros
func FormatE8s(v *big.Int) string {
	q, r := new(big.Int).QuoRem(v, e8s, new(big.Int))
	if r.Sign() == 0 {
		return q.String()
	}
	frac := strings.TrimRight(leftPad(r.String(), Decimals), "0")
	return q.String() + "." + frac
}

func leftPad(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return strings.Repeat("0", n-len(s)) + s
}

// Receipt is a paid fee
type Receipt struct {
	Amount     *big.Int
	BlockIndex *big.Int // nil when the fee is zero and nothing was sent
}

// Collector transfers the configured fee from the caller to the treasury
type Collector struct {
	ledger   principal.Principal
	treasury principal.Account
	amount   *big.Int
	now      func() time.Time
}

// NewCollector parses amount once so a bad configuration fails at startup
func NewCollector(ledger principal.Principal, treasury principal.Account, amount string) (*Collector, error) {
	fee, err := ParseE8s(amount)
	if err != nil {
		return nil, err
	}
	return &Collector{ledger: ledger, treasury: treasury, amount: fee, now: time.Now}, nil
}

// Amount is the fee in minor units
func (c *Collector) Amount() *big.Int { return new(big.Int).Set(c.amount) }

// Collect issues one transfer through caller. It is never retried: a
// resubmission after an ambiguous failure could charge twice.
func (c *Collector) Collect(ctx context.Context, caller actors.Caller) (*Receipt, error) {
	if c.amount.Sign() == 0 {
		metrics.FeeCollectionsTotal.WithLabelValues(metrics.OutcomeSkipped).Inc()
		return &Receipt{Amount: new(big.Int)}, nil
	}

	ledger := actors.NewToken(caller, c.ledger)
	block, err := ledger.Transfer(ctx, actors.TransferArgs{
		To:            c.treasury,
		Amount:        c.amount,
		Memo:          []byte(memo),
		CreatedAtTime: uint64(c.now().UnixNano()),
	})
	if err != nil {
		metrics.FeeCollectionsTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		return nil, classify(err)
	}

	metrics.FeeCollectionsTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
	slog.Info("Deployment fee collected",
		"payer", caller.Sender(),
		"amount_e8s", c.amount.String(),
		"block_index", block.String())
	return &Receipt{Amount: c.Amount(), BlockIndex: block}, nil
}

func classify(err error) error {
	var te *actors.TransferError
	if errors.As(err, &te) {
		if te.Kind == "InsufficientFunds" {
			e := apperror.InsufficientFunds("insufficient funds to pay the deployment fee")
			e.Detail = map[string]any{"reason": te.Detail()}
			e.Cause = err
			return e
		}
		return apperror.ExternalService("ledger", err).WithDetail("reason", te.Detail())
	}
	var reply *actors.ErrReply
	if errors.As(err, &reply) {
		return apperror.ExternalService("ledger", err).WithDetail("reason", reply.Reason)
	}
	return apperror.ExternalService("ledger", err)
}
