// Package format renders stored values for display. Formatters never panic: a value that
// cannot be rendered yields a Result with a Reason and the caller picks the fallback.
package format

import (
	"math/big"
	"regexp"
	"strings"
)

// Reason explains why a value could not be formatted.
type Reason string

const (
	ReasonNone       Reason = ""
	ReasonNilValue   Reason = "nil-value"
	ReasonMalformed  Reason = "malformed"
	ReasonOutOfRange Reason = "out-of-range"
)

// MaxDecimals is the largest decimals value accepted for token amounts.
const MaxDecimals = 77

// Result is either a formatted Value or a failure Reason.
type Result struct {
	Value  string
	Reason Reason
}

// OK reports whether formatting succeeded.
func (r Result) OK() bool {
	return r.Reason == ReasonNone
}

// Or returns the value, or fallback when formatting failed.
func (r Result) Or(fallback string) string {
	if r.OK() {
		return r.Value
	}
	return fallback
}

func ok(v string) Result        { return Result{Value: v} }
func fail(reason Reason) Result { return Result{Reason: reason} }

var hexHash = regexp.MustCompile(`^0x[0-9a-fA-F]+$`)

// ShortHash abbreviates a hex hash to its first 6 and last 4 characters.
func ShortHash(hash string) Result {
	if hash == "" {
		return fail(ReasonNilValue)
	}
	if !hexHash.MatchString(hash) {
		return fail(ReasonMalformed)
	}
	if len(hash) <= 13 {
		return ok(hash)
	}
	return ok(hash[:6] + "..." + hash[len(hash)-4:])
}

// TokenAmount renders value scaled down by 10^decimals, trimming trailing zeros.
func TokenAmount(value *big.Int, decimals int) Result {
	if value == nil {
		return fail(ReasonNilValue)
	}
	if decimals < 0 || decimals > MaxDecimals {
		return fail(ReasonOutOfRange)
	}

	digits := new(big.Int).Abs(value).String()
	sign := ""
	if value.Sign() < 0 {
		sign = "-"
	}
	if decimals == 0 {
		return ok(sign + digits)
	}

	if len(digits) <= decimals {
		digits = strings.Repeat("0", decimals-len(digits)+1) + digits
	}
	whole, frac := digits[:len(digits)-decimals], strings.TrimRight(digits[len(digits)-decimals:], "0")
	if frac == "" {
		return ok(sign + whole)
	}
	return ok(sign + whole + "." + frac)
}

// TokenAmountString parses a base-10 integer and renders it like TokenAmount.
func TokenAmountString(raw string, decimals int) Result {
	if raw == "" {
		return fail(ReasonNilValue)
	}
	value, valid := new(big.Int).SetString(raw, 10)
	if !valid {
		return fail(ReasonMalformed)
	}
	return TokenAmount(value, decimals)
}
