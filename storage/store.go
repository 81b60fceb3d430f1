package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"reconcile/core"
)

// ErrNotFound indicates an update against an id the store does not hold.
var ErrNotFound = errors.New("record not found")

// PaymentUpdate carries the derived payment fields a reconciliation may
// change. Nil pointers leave the field untouched.
type PaymentUpdate struct {
	ReceivedAmount *decimal.Decimal
	Status         *core.PaymentStatus
}

// TransactionUpdate carries the derived transaction fields. Nil pointers
// leave the field untouched.
type TransactionUpdate struct {
	Matched            *bool
	MatchedToPaymentID *string
}

// PaymentFilter narrows ListPayments. Zero values mean no filtering.
type PaymentFilter struct {
	Currency string
	StatusIn []core.PaymentStatus
}

func (f PaymentFilter) admits(p core.Payment) bool {
	if f.Currency != "" && p.Currency != f.Currency {
		return false
	}
	if len(f.StatusIn) == 0 {
		return true
	}
	for _, s := range f.StatusIn {
		if p.Status == s {
			return true
		}
	}
	return false
}

// Store is the repository consumed by the reconciliation engine. All list
// operations return records in insertion order. Every method is safe for
// concurrent use; mutations are atomic with respect to concurrent readers.
type Store interface {
	AddPayment(ctx context.Context, p core.Payment) (core.Payment, error)
	GetPayment(ctx context.Context, id string) (*core.Payment, error)
	UpdatePayment(ctx context.Context, id string, upd PaymentUpdate) (*core.Payment, error)
	ListPayments(ctx context.Context, filter PaymentFilter) ([]core.Payment, error)

	AddTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error)
	GetTransaction(ctx context.Context, id string) (*core.Transaction, error)
	UpdateTransaction(ctx context.Context, id string, upd TransactionUpdate) (*core.Transaction, error)
	ListUnmatchedTransactions(ctx context.Context) ([]core.Transaction, error)

	AddLink(ctx context.Context, link core.ReconciliationLink) (core.ReconciliationLink, error)
	LinksForPayment(ctx context.Context, paymentID string) ([]core.ReconciliationLink, error)
	ListLinks(ctx context.Context) ([]core.ReconciliationLink, error)

	Close() error
}

// NewID builds a unique identifier with an optional prefix, e.g.
// link_20260824120000_1a2b3c4d.
func NewID(prefix string, now time.Time) string {
	short := uuid.NewString()[:8]
	stamp := now.Format("20060102150405")
	if prefix == "" {
		return fmt.Sprintf("%s_%s", stamp, short)
	}
	return fmt.Sprintf("%s_%s_%s", prefix, stamp, short)
}
