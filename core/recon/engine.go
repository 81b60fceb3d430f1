package recon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"reconcile/core"
	"reconcile/observability"
	"reconcile/storage"
)

// PaymentEvent is a validated payment.created payload.
type PaymentEvent struct {
	PaymentID      string
	Reference      string
	ExpectedAmount decimal.Decimal
	Currency       string
	PayerName      string
	PayerEmail     string
	DueDate        string
	Description    string
}

// TransactionEvent is a validated transaction.settled payload. A negative
// amount is a refund.
type TransactionEvent struct {
	TransactionID        string
	Reference            string
	Amount               decimal.Decimal
	Currency             string
	PayerName            string
	PayerAccountLastFour string
	SettledAt            string
	BankReference        string
}

// Engine stores incoming events and runs the matching rules against the
// repository. One mutex serializes each whole ingest (store, match, link,
// update) so concurrent webhooks cannot observe or produce torn state.
type Engine struct {
	mu                  sync.Mutex
	store               storage.Store
	feeTolerancePercent decimal.Decimal
	log                 *slog.Logger
	metrics             *observability.ReconciliationMetrics
}

// NewEngine builds an engine over the given repository. feeTolerancePercent
// is the configured under-payment concession (e.g. 1 for 1%).
func NewEngine(store storage.Store, feeTolerancePercent decimal.Decimal, logger *slog.Logger) *Engine {
	if store == nil {
		panic("store required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:               store,
		feeTolerancePercent: feeTolerancePercent,
		log:                 logger,
		metrics:             observability.Reconciliation(),
	}
}

// IngestPayment records a payment and retroactively links unmatched
// transactions that now match. It returns the stored payment, the number of
// retroactive links, and whether the event was a duplicate.
func (e *Engine) IngestPayment(ctx context.Context, ev PaymentEvent) (core.Payment, int, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	existing, err := e.store.GetPayment(ctx, ev.PaymentID)
	if err != nil {
		return core.Payment{}, 0, false, err
	}
	if existing != nil {
		e.log.InfoContext(ctx, "duplicate payment event", slog.String("payment_id", ev.PaymentID))
		return *existing, 0, true, nil
	}

	stored, err := e.store.AddPayment(ctx, core.Payment{
		PaymentID:      ev.PaymentID,
		Reference:      ev.Reference,
		ExpectedAmount: ev.ExpectedAmount,
		Currency:       ev.Currency,
		PayerName:      ev.PayerName,
		PayerEmail:     ev.PayerEmail,
		DueDate:        ev.DueDate,
		Description:    ev.Description,
	})
	if err != nil {
		return core.Payment{}, 0, false, err
	}

	matched, err := e.reconcilePayment(ctx, stored)
	if err != nil {
		return core.Payment{}, 0, false, err
	}
	if matched > 0 {
		e.log.InfoContext(ctx, "retroactively matched transactions",
			slog.String("payment_id", stored.PaymentID), slog.Int("count", matched))
	}
	final, err := e.store.GetPayment(ctx, stored.PaymentID)
	if err != nil {
		return core.Payment{}, 0, false, err
	}
	return *final, matched, false, nil
}

// IngestTransaction records a transaction and tries to link it to exactly
// one payment. It returns the stored transaction, whether it was linked, and
// whether the event was a duplicate.
func (e *Engine) IngestTransaction(ctx context.Context, ev TransactionEvent) (core.Transaction, bool, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	existing, err := e.store.GetTransaction(ctx, ev.TransactionID)
	if err != nil {
		return core.Transaction{}, false, false, err
	}
	if existing != nil {
		e.log.InfoContext(ctx, "duplicate transaction event", slog.String("transaction_id", ev.TransactionID))
		return *existing, existing.Matched, true, nil
	}

	stored, err := e.store.AddTransaction(ctx, core.Transaction{
		TransactionID:        ev.TransactionID,
		Reference:            ev.Reference,
		Amount:               ev.Amount,
		Currency:             ev.Currency,
		PayerName:            ev.PayerName,
		PayerAccountLastFour: ev.PayerAccountLastFour,
		SettledAt:            ev.SettledAt,
		BankReference:        ev.BankReference,
	})
	if err != nil {
		return core.Transaction{}, false, false, err
	}

	linked, err := e.reconcileTransaction(ctx, stored)
	if err != nil {
		return core.Transaction{}, false, false, err
	}
	e.log.InfoContext(ctx, "transaction ingested",
		slog.String("transaction_id", stored.TransactionID), slog.Bool("reconciled", linked))
	final, err := e.store.GetTransaction(ctx, stored.TransactionID)
	if err != nil {
		return core.Transaction{}, false, false, err
	}
	return *final, linked, false, nil
}

// reconcileTransaction finds at most one payment for a new transaction.
// Rules run in order and stop at the first hit: reference match, payer plus
// amount (reference absent only), refund by payer (negative amounts only).
func (e *Engine) reconcileTransaction(ctx context.Context, t core.Transaction) (bool, error) {
	payment, matchType, err := e.findPayment(ctx, t)
	if err != nil {
		return false, err
	}
	if payment == nil {
		return false, nil
	}
	if err := e.link(ctx, *payment, t, matchType); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) findPayment(ctx context.Context, t core.Transaction) (*core.Payment, core.MatchType, error) {
	if t.Reference != "" {
		p, mt, err := e.matchByReference(ctx, t)
		if err != nil || p != nil {
			return p, mt, err
		}
	} else {
		p, err := e.matchByPayerAmount(ctx, t)
		if err != nil || p != nil {
			return p, core.MatchAmountOnly, err
		}
	}
	if t.Amount.Sign() < 0 {
		p, err := e.matchRefundByPayer(ctx, t)
		if err != nil || p != nil {
			return p, core.MatchExact, err
		}
	}
	return nil, "", nil
}

func (e *Engine) matchByReference(ctx context.Context, t core.Transaction) (*core.Payment, core.MatchType, error) {
	payments, err := e.store.ListPayments(ctx, storage.PaymentFilter{Currency: t.Currency})
	if err != nil {
		return nil, "", err
	}
	for i := range payments {
		if mt := MatchReference(t.Reference, payments[i].Reference); mt != "" {
			return &payments[i], mt, nil
		}
	}
	return nil, "", nil
}

func (e *Engine) matchByPayerAmount(ctx context.Context, t core.Transaction) (*core.Payment, error) {
	if t.PayerName == "" {
		return nil, nil
	}
	candidates, err := e.store.ListPayments(ctx, storage.PaymentFilter{
		Currency: t.Currency,
		StatusIn: []core.PaymentStatus{core.StatusPending, core.StatusPartiallyPaid},
	})
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		if !PayerMatches(t.PayerName, candidates[i].PayerName) {
			continue
		}
		if AmountMatchesRemaining(t.Amount.Abs(), candidates[i], e.feeTolerancePercent) {
			return &candidates[i], nil
		}
	}
	return nil, nil
}

// matchRefundByPayer attributes a refund to the payment behind the earliest
// recorded link whose payer and currency agree with the transaction.
func (e *Engine) matchRefundByPayer(ctx context.Context, t core.Transaction) (*core.Payment, error) {
	if t.PayerName == "" {
		return nil, nil
	}
	links, err := e.store.ListLinks(ctx)
	if err != nil {
		return nil, err
	}
	for _, link := range links {
		p, err := e.store.GetPayment(ctx, link.PaymentID)
		if err != nil {
			return nil, err
		}
		if p == nil || p.Currency != t.Currency {
			continue
		}
		if PayerMatches(t.PayerName, p.PayerName) {
			return p, nil
		}
	}
	return nil, nil
}

// reconcilePayment retroactively links unmatched transactions to a new
// payment. Refund attribution is deliberately excluded here: a refund that
// precedes its payment has nothing to refund.
func (e *Engine) reconcilePayment(ctx context.Context, p core.Payment) (int, error) {
	txns, err := e.store.ListUnmatchedTransactions(ctx)
	if err != nil {
		return 0, err
	}
	matched := 0
	for _, t := range txns {
		if t.Currency != p.Currency {
			continue
		}
		matchType, err := e.retroactiveMatch(ctx, p, t)
		if err != nil {
			return matched, err
		}
		if matchType == "" {
			continue
		}
		if err := e.link(ctx, p, t, matchType); err != nil {
			return matched, err
		}
		matched++
	}
	return matched, nil
}

func (e *Engine) retroactiveMatch(ctx context.Context, p core.Payment, t core.Transaction) (core.MatchType, error) {
	if mt := MatchReference(t.Reference, p.Reference); mt != "" {
		return mt, nil
	}
	if t.Reference != "" || t.Amount.Sign() <= 0 {
		return "", nil
	}
	if !PayerMatches(t.PayerName, p.PayerName) {
		return "", nil
	}
	// Earlier iterations may have changed the payment; judge the amount
	// against its current state.
	current, err := e.store.GetPayment(ctx, p.PaymentID)
	if err != nil {
		return "", err
	}
	if current == nil {
		return "", nil
	}
	if current.Status != core.StatusPending && current.Status != core.StatusPartiallyPaid {
		return "", nil
	}
	if !AmountMatchesRemaining(t.Amount.Abs(), *current, e.feeTolerancePercent) {
		return "", nil
	}
	return core.MatchAmountOnly, nil
}

// link records the audit edge, marks the transaction matched, and folds the
// signed transaction amount into the payment.
func (e *Engine) link(ctx context.Context, p core.Payment, t core.Transaction, matchType core.MatchType) error {
	notes := ""
	if t.Amount.Sign() < 0 {
		notes = "Refund"
	}
	if _, err := e.store.AddLink(ctx, core.ReconciliationLink{
		PaymentID:     p.PaymentID,
		TransactionID: t.TransactionID,
		MatchType:     matchType,
		Amount:        t.Amount,
		Notes:         notes,
	}); err != nil {
		return fmt.Errorf("add link: %w", err)
	}
	matched := true
	paymentID := p.PaymentID
	if _, err := e.store.UpdateTransaction(ctx, t.TransactionID, storage.TransactionUpdate{
		Matched:            &matched,
		MatchedToPaymentID: &paymentID,
	}); err != nil {
		return fmt.Errorf("mark transaction matched: %w", err)
	}
	if err := e.updatePaymentReceived(ctx, p.PaymentID, t.Amount); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.RecordLink(string(matchType))
	}
	e.log.InfoContext(ctx, "reconciliation link created",
		slog.String("payment_id", p.PaymentID),
		slog.String("transaction_id", t.TransactionID),
		slog.String("match_type", string(matchType)))
	return nil
}

func (e *Engine) updatePaymentReceived(ctx context.Context, paymentID string, txnAmount decimal.Decimal) error {
	payment, err := e.store.GetPayment(ctx, paymentID)
	if err != nil {
		return err
	}
	if payment == nil {
		return nil
	}
	received := payment.ReceivedAmount.Add(txnAmount)
	status := CalculateStatus(payment.ExpectedAmount, received, e.feeTolerancePercent)
	_, err = e.store.UpdatePayment(ctx, paymentID, storage.PaymentUpdate{
		ReceivedAmount: &received,
		Status:         &status,
	})
	if err != nil {
		return fmt.Errorf("update payment received: %w", err)
	}
	return nil
}
