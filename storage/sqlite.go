package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"reconcile/core"
)

// SQLiteStore persists payments, transactions, and reconciliation links.
// The seq column records per-collection insertion order, which the list
// operations expose.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Writes are serialized by the engine lock; a single connection keeps
	// the sqlite driver from interleaving statements.
	db.SetMaxOpenConns(1)
	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS payments (
            seq INTEGER PRIMARY KEY AUTOINCREMENT,
            payment_id TEXT NOT NULL UNIQUE,
            reference TEXT NOT NULL DEFAULT '',
            expected_amount TEXT NOT NULL,
            currency TEXT NOT NULL,
            payer_name TEXT NOT NULL DEFAULT '',
            payer_email TEXT NOT NULL DEFAULT '',
            due_date TEXT NOT NULL DEFAULT '',
            description TEXT NOT NULL DEFAULT '',
            received_amount TEXT NOT NULL,
            status TEXT NOT NULL,
            created_at TIMESTAMP NOT NULL,
            updated_at TIMESTAMP NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS transactions (
            seq INTEGER PRIMARY KEY AUTOINCREMENT,
            transaction_id TEXT NOT NULL UNIQUE,
            reference TEXT NOT NULL DEFAULT '',
            amount TEXT NOT NULL,
            currency TEXT NOT NULL,
            payer_name TEXT NOT NULL DEFAULT '',
            payer_account_last_four TEXT NOT NULL DEFAULT '',
            settled_at TEXT NOT NULL DEFAULT '',
            bank_reference TEXT NOT NULL DEFAULT '',
            matched INTEGER NOT NULL DEFAULT 0,
            matched_to_payment_id TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMP NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS reconciliation_links (
            seq INTEGER PRIMARY KEY AUTOINCREMENT,
            link_id TEXT NOT NULL UNIQUE,
            payment_id TEXT NOT NULL,
            transaction_id TEXT NOT NULL,
            match_type TEXT NOT NULL,
            amount TEXT NOT NULL,
            notes TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMP NOT NULL
        );`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

const paymentColumns = `payment_id, reference, expected_amount, currency, payer_name, payer_email,
    due_date, description, received_amount, status, created_at, updated_at`

func (s *SQLiteStore) AddPayment(ctx context.Context, p core.Payment) (core.Payment, error) {
	if existing, err := s.GetPayment(ctx, p.PaymentID); err != nil {
		return core.Payment{}, err
	} else if existing != nil {
		return *existing, nil
	}
	now := s.now().UTC()
	if p.PaymentID == "" {
		p.PaymentID = NewID("pay", now)
	}
	p.Status = core.StatusPending
	p.ReceivedAmount = decimal.Zero
	p.CreatedAt = now
	p.UpdatedAt = now
	const stmt = `INSERT INTO payments(` + paymentColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt,
		p.PaymentID, p.Reference, p.ExpectedAmount.String(), p.Currency, p.PayerName, p.PayerEmail,
		p.DueDate, p.Description, p.ReceivedAmount.String(), string(p.Status), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return core.Payment{}, err
	}
	return p, nil
}

func (s *SQLiteStore) GetPayment(ctx context.Context, id string) (*core.Payment, error) {
	const query = `SELECT ` + paymentColumns + ` FROM payments WHERE payment_id = ?`
	return scanPayment(s.db.QueryRowContext(ctx, query, id))
}

func (s *SQLiteStore) UpdatePayment(ctx context.Context, id string, upd PaymentUpdate) (*core.Payment, error) {
	existing, err := s.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrNotFound
	}
	if upd.ReceivedAmount != nil {
		existing.ReceivedAmount = *upd.ReceivedAmount
	}
	if upd.Status != nil {
		existing.Status = *upd.Status
	}
	existing.UpdatedAt = s.now().UTC()
	const stmt = `UPDATE payments SET received_amount = ?, status = ?, updated_at = ? WHERE payment_id = ?`
	if _, err := s.db.ExecContext(ctx, stmt,
		existing.ReceivedAmount.String(), string(existing.Status), existing.UpdatedAt, id); err != nil {
		return nil, err
	}
	return existing, nil
}

func (s *SQLiteStore) ListPayments(ctx context.Context, filter PaymentFilter) ([]core.Payment, error) {
	const query = `SELECT ` + paymentColumns + ` FROM payments ORDER BY seq`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]core.Payment, 0)
	for rows.Next() {
		p, err := scanPaymentRow(rows)
		if err != nil {
			return nil, err
		}
		if filter.admits(*p) {
			out = append(out, *p)
		}
	}
	return out, rows.Err()
}

const transactionColumns = `transaction_id, reference, amount, currency, payer_name,
    payer_account_last_four, settled_at, bank_reference, matched, matched_to_payment_id, created_at`

func (s *SQLiteStore) AddTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	if existing, err := s.GetTransaction(ctx, t.TransactionID); err != nil {
		return core.Transaction{}, err
	} else if existing != nil {
		return *existing, nil
	}
	now := s.now().UTC()
	if t.TransactionID == "" {
		t.TransactionID = NewID("txn", now)
	}
	t.Matched = false
	t.MatchedToPaymentID = ""
	t.CreatedAt = now
	const stmt = `INSERT INTO transactions(` + transactionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt,
		t.TransactionID, t.Reference, t.Amount.String(), t.Currency, t.PayerName,
		t.PayerAccountLastFour, t.SettledAt, t.BankReference, t.Matched, t.MatchedToPaymentID, t.CreatedAt)
	if err != nil {
		return core.Transaction{}, err
	}
	return t, nil
}

func (s *SQLiteStore) GetTransaction(ctx context.Context, id string) (*core.Transaction, error) {
	const query = `SELECT ` + transactionColumns + ` FROM transactions WHERE transaction_id = ?`
	return scanTransaction(s.db.QueryRowContext(ctx, query, id))
}

func (s *SQLiteStore) UpdateTransaction(ctx context.Context, id string, upd TransactionUpdate) (*core.Transaction, error) {
	existing, err := s.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrNotFound
	}
	if upd.Matched != nil {
		existing.Matched = *upd.Matched
	}
	if upd.MatchedToPaymentID != nil {
		existing.MatchedToPaymentID = *upd.MatchedToPaymentID
	}
	const stmt = `UPDATE transactions SET matched = ?, matched_to_payment_id = ? WHERE transaction_id = ?`
	if _, err := s.db.ExecContext(ctx, stmt, existing.Matched, existing.MatchedToPaymentID, id); err != nil {
		return nil, err
	}
	return existing, nil
}

func (s *SQLiteStore) ListUnmatchedTransactions(ctx context.Context) ([]core.Transaction, error) {
	const query = `SELECT ` + transactionColumns + ` FROM transactions WHERE matched = 0 ORDER BY seq`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]core.Transaction, 0)
	for rows.Next() {
		t, err := scanTransactionRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

const linkColumns = `link_id, payment_id, transaction_id, match_type, amount, notes, created_at`

func (s *SQLiteStore) AddLink(ctx context.Context, link core.ReconciliationLink) (core.ReconciliationLink, error) {
	now := s.now().UTC()
	link.LinkID = NewID("link", now)
	link.CreatedAt = now
	const stmt = `INSERT INTO reconciliation_links(` + linkColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt,
		link.LinkID, link.PaymentID, link.TransactionID, string(link.MatchType),
		link.Amount.String(), link.Notes, link.CreatedAt)
	if err != nil {
		return core.ReconciliationLink{}, err
	}
	return link, nil
}

func (s *SQLiteStore) LinksForPayment(ctx context.Context, paymentID string) ([]core.ReconciliationLink, error) {
	const query = `SELECT ` + linkColumns + ` FROM reconciliation_links WHERE payment_id = ? ORDER BY seq`
	rows, err := s.db.QueryContext(ctx, query, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLinks(rows)
}

func (s *SQLiteStore) ListLinks(ctx context.Context) ([]core.ReconciliationLink, error) {
	const query = `SELECT ` + linkColumns + ` FROM reconciliation_links ORDER BY seq`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLinks(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row *sql.Row) (*core.Payment, error) {
	p, err := scanPaymentRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func scanPaymentRow(row rowScanner) (*core.Payment, error) {
	var p core.Payment
	var expected, received, status string
	if err := row.Scan(&p.PaymentID, &p.Reference, &expected, &p.Currency, &p.PayerName, &p.PayerEmail,
		&p.DueDate, &p.Description, &received, &status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if p.ExpectedAmount, err = decimal.NewFromString(expected); err != nil {
		return nil, fmt.Errorf("payment %s expected_amount: %w", p.PaymentID, err)
	}
	if p.ReceivedAmount, err = decimal.NewFromString(received); err != nil {
		return nil, fmt.Errorf("payment %s received_amount: %w", p.PaymentID, err)
	}
	p.Status = core.PaymentStatus(status)
	return &p, nil
}

func scanTransaction(row *sql.Row) (*core.Transaction, error) {
	t, err := scanTransactionRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func scanTransactionRow(row rowScanner) (*core.Transaction, error) {
	var t core.Transaction
	var amount string
	if err := row.Scan(&t.TransactionID, &t.Reference, &amount, &t.Currency, &t.PayerName,
		&t.PayerAccountLastFour, &t.SettledAt, &t.BankReference, &t.Matched, &t.MatchedToPaymentID,
		&t.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("transaction %s amount: %w", t.TransactionID, err)
	}
	return &t, nil
}

func collectLinks(rows *sql.Rows) ([]core.ReconciliationLink, error) {
	out := make([]core.ReconciliationLink, 0)
	for rows.Next() {
		var l core.ReconciliationLink
		var amount, matchType string
		if err := rows.Scan(&l.LinkID, &l.PaymentID, &l.TransactionID, &matchType, &amount, &l.Notes,
			&l.CreatedAt); err != nil {
			return nil, err
		}
		var err error
		if l.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("link %s amount: %w", l.LinkID, err)
		}
		l.MatchType = core.MatchType(matchType)
		out = append(out, l)
	}
	return out, rows.Err()
}
