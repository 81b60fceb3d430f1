package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"reconcile/core"
	"reconcile/core/recon"
	"reconcile/gateway/auth"
	"reconcile/gateway/middleware"
	"reconcile/observability"
	"reconcile/storage"
)

const (
	maxWebhookBodyBytes = 1 << 20

	eventPaymentCreated     = "payment.created"
	eventTransactionSettled = "transaction.settled"

	defaultPageLimit = 20
	maxPageLimit     = 100
)

// Server exposes the reconciliation service HTTP endpoints.
type Server struct {
	engine  *recon.Engine
	store   storage.Store
	secret  string
	log     *slog.Logger
	metrics *observability.ReconciliationMetrics
	router  http.Handler
}

// Config carries the server dependencies.
type Config struct {
	Engine      *recon.Engine
	Store       storage.Store
	Secret      string
	Logger      *slog.Logger
	RateLimiter *middleware.RateLimiter
}

// NewServer wires the router with webhook intake and payment read endpoints.
func NewServer(cfg Config) *Server {
	if cfg.Engine == nil {
		panic("engine required")
	}
	if cfg.Store == nil {
		panic("store required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		engine:  cfg.Engine,
		store:   cfg.Store,
		secret:  cfg.Secret,
		log:     cfg.Logger,
		metrics: observability.Reconciliation(),
	}

	obs := middleware.NewObservability("reconcile")
	r := chi.NewRouter()
	r.Get("/", s.handleHealth)
	r.Route("/webhooks", func(sr chi.Router) {
		sr.Use(obs.Middleware("webhooks"))
		if cfg.RateLimiter != nil {
			sr.Use(cfg.RateLimiter.Middleware)
		}
		sr.Post("/payments", s.handlePaymentWebhook)
		sr.Post("/transactions", s.handleTransactionWebhook)
	})
	r.Route("/payments", func(sr chi.Router) {
		sr.Use(obs.Middleware("payments"))
		sr.Get("/", s.handleListPayments)
		sr.Get("/{paymentID}", s.handleGetPayment)
	})
	r.Handle("/metrics", obs.MetricsHandler())
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "reconciliation-service",
	})
}

// fieldError is one entry of a 422 response body.
type fieldError struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

func requiredError(field string) fieldError {
	return fieldError{Loc: []string{"body", field}, Msg: "field required", Type: "value_error.missing"}
}

func valueError(field, msg string) fieldError {
	return fieldError{Loc: []string{"body", field}, Msg: msg, Type: "value_error"}
}

// authenticate reads and verifies a webhook body. It writes the error
// response itself and returns nil when the request was rejected.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) ([]byte, map[string]any) {
	reader := http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)
	body, err := io.ReadAll(reader)
	_ = r.Body.Close()
	if err != nil {
		s.writeDetail(w, http.StatusBadRequest, "request body unreadable")
		return nil, nil
	}
	signature := strings.TrimSpace(r.Header.Get(auth.SignatureHeader))
	payload, err := auth.Verify(s.secret, body, signature)
	if errors.Is(err, auth.ErrInvalidSignature) {
		s.log.WarnContext(r.Context(), "webhook signature rejected", slog.String("path", r.URL.Path))
		s.writeDetail(w, http.StatusUnauthorized, "Invalid webhook signature")
		return nil, nil
	}
	if err != nil {
		s.writeValidationErrors(w, []fieldError{valueError("__root__", "invalid JSON body")})
		return nil, nil
	}
	return body, payload
}

type paymentWebhook struct {
	EventType      string          `json:"event_type"`
	PaymentID      string          `json:"payment_id"`
	Reference      string          `json:"reference"`
	ExpectedAmount decimal.Decimal `json:"expected_amount"`
	Currency       string          `json:"currency"`
	PayerName      string          `json:"payer_name"`
	PayerEmail     string          `json:"payer_email"`
	DueDate        string          `json:"due_date"`
	Description    string          `json:"description"`
	Timestamp      string          `json:"timestamp"`
	SandboxID      string          `json:"sandbox_id"`
}

func (p paymentWebhook) validate(present map[string]any) []fieldError {
	var errs []fieldError
	for _, field := range []string{"event_type", "payment_id", "reference", "expected_amount",
		"currency", "payer_name", "payer_email", "due_date", "timestamp", "sandbox_id"} {
		if _, ok := present[field]; !ok {
			errs = append(errs, requiredError(field))
		}
	}
	if len(errs) > 0 {
		return errs
	}
	if p.EventType != eventPaymentCreated {
		errs = append(errs, valueError("event_type", "expected "+eventPaymentCreated))
	}
	if p.ExpectedAmount.Sign() < 0 {
		errs = append(errs, valueError("expected_amount", "must be non-negative"))
	}
	errs = append(errs, validateCurrency(p.Currency)...)
	errs = append(errs, validateTimestamp("timestamp", p.Timestamp)...)
	return errs
}

type transactionWebhook struct {
	EventType            string          `json:"event_type"`
	TransactionID        string          `json:"transaction_id"`
	Reference            string          `json:"reference"`
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency"`
	PayerName            string          `json:"payer_name"`
	PayerAccountLastFour string          `json:"payer_account_last_four"`
	SettledAt            string          `json:"settled_at"`
	BankReference        string          `json:"bank_reference"`
	Timestamp            string          `json:"timestamp"`
	SandboxID            string          `json:"sandbox_id"`
}

func (t transactionWebhook) validate(present map[string]any) []fieldError {
	var errs []fieldError
	// reference may be absent or null: the payer may not have quoted one.
	for _, field := range []string{"event_type", "transaction_id", "amount", "currency",
		"payer_name", "payer_account_last_four", "settled_at", "bank_reference", "timestamp", "sandbox_id"} {
		if _, ok := present[field]; !ok {
			errs = append(errs, requiredError(field))
		}
	}
	if len(errs) > 0 {
		return errs
	}
	if t.EventType != eventTransactionSettled {
		errs = append(errs, valueError("event_type", "expected "+eventTransactionSettled))
	}
	errs = append(errs, validateCurrency(t.Currency)...)
	errs = append(errs, validateTimestamp("settled_at", t.SettledAt)...)
	errs = append(errs, validateTimestamp("timestamp", t.Timestamp)...)
	return errs
}

func validateCurrency(currency string) []fieldError {
	if len(currency) != 3 {
		return []fieldError{valueError("currency", "must be a 3-letter ISO-4217 code")}
	}
	return nil
}

func validateTimestamp(field, value string) []fieldError {
	if _, err := time.Parse(time.RFC3339, value); err != nil {
		return []fieldError{valueError(field, "invalid datetime")}
	}
	return nil
}

func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, present := s.authenticate(w, r)
	if body == nil {
		s.metrics.RecordWebhook(eventPaymentCreated, "rejected")
		return
	}
	var payload paymentWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		s.metrics.RecordWebhook(eventPaymentCreated, "invalid")
		s.writeValidationErrors(w, []fieldError{valueError("__root__", err.Error())})
		return
	}
	if errs := payload.validate(present); len(errs) > 0 {
		s.metrics.RecordWebhook(eventPaymentCreated, "invalid")
		s.writeValidationErrors(w, errs)
		return
	}
	_, _, duplicate, err := s.engine.IngestPayment(r.Context(), recon.PaymentEvent{
		PaymentID:      payload.PaymentID,
		Reference:      payload.Reference,
		ExpectedAmount: payload.ExpectedAmount,
		Currency:       payload.Currency,
		PayerName:      payload.PayerName,
		PayerEmail:     payload.PayerEmail,
		DueDate:        payload.DueDate,
		Description:    payload.Description,
	})
	if err != nil {
		s.log.ErrorContext(r.Context(), "payment ingest failed",
			slog.String("payment_id", payload.PaymentID), slog.String("error", err.Error()))
		s.writeDetail(w, http.StatusInternalServerError, "storage failure")
		return
	}
	if duplicate {
		s.metrics.RecordWebhook(eventPaymentCreated, "duplicate")
	} else {
		s.metrics.RecordWebhook(eventPaymentCreated, "accepted")
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleTransactionWebhook(w http.ResponseWriter, r *http.Request) {
	body, present := s.authenticate(w, r)
	if body == nil {
		s.metrics.RecordWebhook(eventTransactionSettled, "rejected")
		return
	}
	var payload transactionWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		s.metrics.RecordWebhook(eventTransactionSettled, "invalid")
		s.writeValidationErrors(w, []fieldError{valueError("__root__", err.Error())})
		return
	}
	if errs := payload.validate(present); len(errs) > 0 {
		s.metrics.RecordWebhook(eventTransactionSettled, "invalid")
		s.writeValidationErrors(w, errs)
		return
	}
	_, _, duplicate, err := s.engine.IngestTransaction(r.Context(), recon.TransactionEvent{
		TransactionID:        payload.TransactionID,
		Reference:            payload.Reference,
		Amount:               payload.Amount,
		Currency:             payload.Currency,
		PayerName:            payload.PayerName,
		PayerAccountLastFour: payload.PayerAccountLastFour,
		SettledAt:            payload.SettledAt,
		BankReference:        payload.BankReference,
	})
	if err != nil {
		s.log.ErrorContext(r.Context(), "transaction ingest failed",
			slog.String("transaction_id", payload.TransactionID), slog.String("error", err.Error()))
		s.writeDetail(w, http.StatusInternalServerError, "storage failure")
		return
	}
	if duplicate {
		s.metrics.RecordWebhook(eventTransactionSettled, "duplicate")
	} else {
		s.metrics.RecordWebhook(eventTransactionSettled, "accepted")
	}
	w.WriteHeader(http.StatusOK)
}

type paginatedPayments struct {
	Items []core.Payment `json:"items"`
	Total int            `json:"total"`
}

func (s *Server) handleListPayments(w http.ResponseWriter, r *http.Request) {
	offset, limit, errs := parsePagination(r)
	filter := storage.PaymentFilter{Currency: strings.TrimSpace(r.URL.Query().Get("currency"))}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status := core.PaymentStatus(strings.TrimSpace(part))
			if !status.Valid() {
				errs = append(errs, fieldError{
					Loc: []string{"query", "status"}, Msg: "unknown status " + string(status), Type: "value_error",
				})
				continue
			}
			filter.StatusIn = append(filter.StatusIn, status)
		}
	}
	if len(errs) > 0 {
		s.writeValidationErrors(w, errs)
		return
	}

	all, err := s.store.ListPayments(r.Context(), storage.PaymentFilter{})
	if err != nil {
		s.writeDetail(w, http.StatusInternalServerError, "storage failure")
		return
	}
	filtered, err := s.store.ListPayments(r.Context(), filter)
	if err != nil {
		s.writeDetail(w, http.StatusInternalServerError, "storage failure")
		return
	}
	page := filtered
	if offset >= len(page) {
		page = nil
	} else {
		page = page[offset:]
	}
	if len(page) > limit {
		page = page[:limit]
	}
	if page == nil {
		page = []core.Payment{}
	}
	s.writeJSON(w, http.StatusOK, paginatedPayments{Items: page, Total: len(all)})
}

type paymentDetail struct {
	core.Payment
	ReconciliationLinks []core.ReconciliationLink `json:"reconciliation_links"`
}

func (s *Server) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "paymentID")
	payment, err := s.store.GetPayment(r.Context(), id)
	if err != nil {
		s.writeDetail(w, http.StatusInternalServerError, "storage failure")
		return
	}
	if payment == nil {
		s.writeDetail(w, http.StatusNotFound, "Payment not found")
		return
	}
	links, err := s.store.LinksForPayment(r.Context(), id)
	if err != nil {
		s.writeDetail(w, http.StatusInternalServerError, "storage failure")
		return
	}
	s.writeJSON(w, http.StatusOK, paymentDetail{Payment: *payment, ReconciliationLinks: links})
}

func parsePagination(r *http.Request) (offset, limit int, errs []fieldError) {
	offset, limit = 0, defaultPageLimit
	if raw := r.URL.Query().Get("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			errs = append(errs, fieldError{
				Loc: []string{"query", "offset"}, Msg: "must be a non-negative integer", Type: "value_error",
			})
		} else {
			offset = v
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > maxPageLimit {
			errs = append(errs, fieldError{
				Loc: []string{"query", "limit"}, Msg: "must be between 1 and 100", Type: "value_error",
			})
		} else {
			limit = v
		}
	}
	return offset, limit, errs
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func (s *Server) writeDetail(w http.ResponseWriter, status int, detail string) {
	s.writeJSON(w, status, map[string]string{"detail": detail})
}

func (s *Server) writeValidationErrors(w http.ResponseWriter, errs []fieldError) {
	s.writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": errs})
}
