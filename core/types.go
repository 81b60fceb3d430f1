package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus tracks how much of an expected payment has been received.
type PaymentStatus string

const (
	StatusPending       PaymentStatus = "PENDING"
	StatusPartiallyPaid PaymentStatus = "PARTIALLY_PAID"
	StatusFullyPaid     PaymentStatus = "FULLY_PAID"
	StatusOverpaid      PaymentStatus = "OVERPAID"
)

// Valid reports whether the status is one of the recognised values.
func (s PaymentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusPartiallyPaid, StatusFullyPaid, StatusOverpaid:
		return true
	}
	return false
}

// MatchType records how a reconciliation link was established.
type MatchType string

const (
	// MatchExact means the transaction and payment references were equal
	// after trimming surrounding whitespace.
	MatchExact MatchType = "EXACT"
	// MatchFuzzyRef means the references were equal after normalization.
	MatchFuzzyRef MatchType = "FUZZY_REF"
	// MatchAmountOnly means the transaction carried no reference and was
	// matched on payer name plus remaining amount.
	MatchAmountOnly MatchType = "AMOUNT_ONLY"
)

// Payment is an expected inflow recorded from a payment.created event.
// Optional string fields use "" for absent.
type Payment struct {
	PaymentID      string          `json:"payment_id"`
	Reference      string          `json:"reference,omitempty"`
	ExpectedAmount decimal.Decimal `json:"expected_amount"`
	Currency       string          `json:"currency"`
	PayerName      string          `json:"payer_name,omitempty"`
	PayerEmail     string          `json:"payer_email,omitempty"`
	DueDate        string          `json:"due_date,omitempty"`
	Description    string          `json:"description,omitempty"`

	ReceivedAmount decimal.Decimal `json:"received_amount"`
	Status         PaymentStatus   `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Transaction is a settled bank movement recorded from a transaction.settled
// event. A negative amount is a refund.
type Transaction struct {
	TransactionID        string          `json:"transaction_id"`
	Reference            string          `json:"reference,omitempty"`
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency"`
	PayerName            string          `json:"payer_name,omitempty"`
	PayerAccountLastFour string          `json:"payer_account_last_four,omitempty"`
	SettledAt            string          `json:"settled_at,omitempty"`
	BankReference        string          `json:"bank_reference,omitempty"`

	Matched            bool      `json:"matched"`
	MatchedToPaymentID string    `json:"matched_to_payment_id,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// ReconciliationLink is an append-only audit edge asserting that a
// transaction satisfies part or all of a payment. Amount is copied from the
// transaction at link time and keeps its sign.
type ReconciliationLink struct {
	LinkID        string          `json:"link_id"`
	PaymentID     string          `json:"payment_id"`
	TransactionID string          `json:"transaction_id"`
	MatchType     MatchType       `json:"match_type"`
	Amount        decimal.Decimal `json:"amount"`
	Notes         string          `json:"notes,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}
