package storage

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"reconcile/core"
)

func TestMemoryStorePaymentDefaults(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	p, err := store.AddPayment(ctx, core.Payment{
		PaymentID:      "P1",
		ExpectedAmount: decimal.NewFromInt(100),
		Currency:       "USD",
		// Incoming events never carry derived state; the store resets it.
		Status:         core.StatusOverpaid,
		ReceivedAmount: decimal.NewFromInt(999),
	})
	require.NoError(t, err)
	require.Equal(t, core.StatusPending, p.Status)
	require.True(t, p.ReceivedAmount.IsZero())
	require.False(t, p.CreatedAt.IsZero())
	require.Equal(t, p.CreatedAt, p.UpdatedAt)
}

func TestMemoryStoreAddPaymentReturnsExisting(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first, err := store.AddPayment(ctx, core.Payment{PaymentID: "P1", ExpectedAmount: decimal.NewFromInt(100), Currency: "USD"})
	require.NoError(t, err)
	second, err := store.AddPayment(ctx, core.Payment{PaymentID: "P1", ExpectedAmount: decimal.NewFromInt(999), Currency: "EUR"})
	require.NoError(t, err)
	require.Equal(t, first.Currency, second.Currency)
	require.True(t, first.ExpectedAmount.Equal(second.ExpectedAmount))

	all, err := store.ListPayments(ctx, PaymentFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestMemoryStoreInsertionOrderAndFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, p := range []core.Payment{
		{PaymentID: "P1", ExpectedAmount: decimal.NewFromInt(1), Currency: "USD"},
		{PaymentID: "P2", ExpectedAmount: decimal.NewFromInt(2), Currency: "EUR"},
		{PaymentID: "P3", ExpectedAmount: decimal.NewFromInt(3), Currency: "USD"},
	} {
		_, err := store.AddPayment(ctx, p)
		require.NoError(t, err)
	}
	status := core.StatusFullyPaid
	_, err := store.UpdatePayment(ctx, "P3", PaymentUpdate{Status: &status})
	require.NoError(t, err)

	all, err := store.ListPayments(ctx, PaymentFilter{})
	require.NoError(t, err)
	require.Equal(t, []string{"P1", "P2", "P3"}, paymentIDs(all))

	usd, err := store.ListPayments(ctx, PaymentFilter{Currency: "USD"})
	require.NoError(t, err)
	require.Equal(t, []string{"P1", "P3"}, paymentIDs(usd))

	pending, err := store.ListPayments(ctx, PaymentFilter{
		Currency: "USD",
		StatusIn: []core.PaymentStatus{core.StatusPending, core.StatusPartiallyPaid},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"P1"}, paymentIDs(pending))
}

func TestMemoryStoreUnmatchedTransactions(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"T1", "T2", "T3"} {
		_, err := store.AddTransaction(ctx, core.Transaction{
			TransactionID: id,
			Amount:        decimal.NewFromInt(10),
			Currency:      "USD",
		})
		require.NoError(t, err)
	}
	matched := true
	paymentID := "P1"
	_, err := store.UpdateTransaction(ctx, "T2", TransactionUpdate{Matched: &matched, MatchedToPaymentID: &paymentID})
	require.NoError(t, err)

	unmatched, err := store.ListUnmatchedTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, unmatched, 2)
	require.Equal(t, "T1", unmatched[0].TransactionID)
	require.Equal(t, "T3", unmatched[1].TransactionID)

	txn, err := store.GetTransaction(ctx, "T2")
	require.NoError(t, err)
	require.True(t, txn.Matched)
	require.Equal(t, "P1", txn.MatchedToPaymentID)
}

func TestMemoryStoreLinks(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	l1, err := store.AddLink(ctx, core.ReconciliationLink{
		PaymentID: "P1", TransactionID: "T1", MatchType: core.MatchExact, Amount: decimal.NewFromInt(5),
	})
	require.NoError(t, err)
	require.NotEmpty(t, l1.LinkID)
	require.False(t, l1.CreatedAt.IsZero())
	_, err = store.AddLink(ctx, core.ReconciliationLink{
		PaymentID: "P2", TransactionID: "T2", MatchType: core.MatchAmountOnly, Amount: decimal.NewFromInt(7),
	})
	require.NoError(t, err)

	all, err := store.ListLinks(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	forP1, err := store.LinksForPayment(ctx, "P1")
	require.NoError(t, err)
	require.Len(t, forP1, 1)
	require.Equal(t, "T1", forP1[0].TransactionID)
}

func TestMemoryStoreUpdateMissing(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.UpdatePayment(ctx, "nope", PaymentUpdate{})
	require.ErrorIs(t, err, ErrNotFound)
	_, err = store.UpdateTransaction(ctx, "nope", TransactionUpdate{})
	require.ErrorIs(t, err, ErrNotFound)

	p, err := store.GetPayment(ctx, "nope")
	require.NoError(t, err)
	require.Nil(t, p)
}

func paymentIDs(payments []core.Payment) []string {
	out := make([]string, 0, len(payments))
	for _, p := range payments {
		out = append(out, p.PaymentID)
	}
	return out
}
