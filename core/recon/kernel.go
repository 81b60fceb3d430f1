package recon

import (
	"strings"

	"github.com/shopspring/decimal"

	"reconcile/core"
)

var hundred = decimal.NewFromInt(100)

// NormalizeRef lowercases a reference, trims surrounding whitespace, and
// removes all hyphens. The empty reference normalizes to "".
func NormalizeRef(ref string) string {
	return strings.ReplaceAll(strings.TrimSpace(strings.ToLower(ref)), "-", "")
}

// MatchReference grades the agreement between a transaction reference and a
// payment reference. It returns "" when either side is absent or the
// references disagree even after normalization.
func MatchReference(txnRef, paymentRef string) core.MatchType {
	if txnRef == "" || paymentRef == "" {
		return ""
	}
	if strings.TrimSpace(txnRef) == strings.TrimSpace(paymentRef) {
		return core.MatchExact
	}
	if NormalizeRef(txnRef) == NormalizeRef(paymentRef) {
		return core.MatchFuzzyRef
	}
	return ""
}

// PayerMatches reports whether two payer names refer to the same party:
// case-insensitive, one being a substring of the other counts. Absent names
// never match.
func PayerMatches(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	la, lb := strings.ToLower(a), strings.ToLower(b)
	return la == lb || strings.Contains(la, lb) || strings.Contains(lb, la)
}

// Tolerance is the slice of an expected inflow conceded to bank fees:
// amount * feeTolerancePercent / 100.
func Tolerance(amount, feeTolerancePercent decimal.Decimal) decimal.Decimal {
	return amount.Mul(feeTolerancePercent).Div(hundred)
}

// CalculateStatus derives the payment status from expected and received
// amounts. Rules are evaluated top-down, first hit wins.
func CalculateStatus(expected, received, feeTolerancePercent decimal.Decimal) core.PaymentStatus {
	switch {
	case received.Sign() <= 0:
		return core.StatusPending
	case received.GreaterThan(expected):
		return core.StatusOverpaid
	case received.GreaterThanOrEqual(expected.Sub(Tolerance(expected, feeTolerancePercent))):
		return core.StatusFullyPaid
	default:
		return core.StatusPartiallyPaid
	}
}

// AmountMatchesRemaining reports whether an absolute transaction amount is
// acceptable against what a payment still expects: at most the remaining
// amount, or at least the remaining amount minus its fee tolerance.
func AmountMatchesRemaining(txnAmount decimal.Decimal, payment core.Payment, feeTolerancePercent decimal.Decimal) bool {
	remaining := payment.ExpectedAmount.Sub(payment.ReceivedAmount)
	return txnAmount.LessThanOrEqual(remaining) ||
		txnAmount.GreaterThanOrEqual(remaining.Sub(Tolerance(remaining, feeTolerancePercent)))
}
