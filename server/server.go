// Package server exposes estimates and the brokerage ledger over HTTP.
//
// Routes:
//
//	GET  /estimate?keyword=  → comparable-price estimate
//	GET  /records            → every registered record
//	POST /records            → register a record
//	POST /line-webhook       → chat registrations (when configured)
//	GET  /metrics            → Prometheus metrics
//	GET  /health             → liveness
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/go-resale-estimator/estimator"
	"github.com/aluiziolira/go-resale-estimator/ledger"
	"github.com/aluiziolira/go-resale-estimator/notify"
	"github.com/aluiziolira/go-resale-estimator/scraper"
)

const maxRecordBody = 64 << 10

// Handler holds shared dependencies.
type Handler struct {
	lookup         estimator.Lookup
	store          *ledger.Store
	metrics        *scraper.Metrics
	webhook        http.Handler
	notifier       notify.Notifier
	defaultFeeRate int
	logger         *slog.Logger
}

// Option customises a Handler.
type Option func(*Handler)

// WithMetrics mounts /metrics for m.
func WithMetrics(m *scraper.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithWebhook mounts the chat webhook.
func WithWebhook(webhook http.Handler) Option {
	return func(h *Handler) { h.webhook = webhook }
}

// WithNotifier pushes a confirmation to chat requesters on registration.
func WithNotifier(n notify.Notifier) Option {
	return func(h *Handler) { h.notifier = n }
}

// WithDefaultFeeRate sets the rate applied when a record omits one.
func WithDefaultFeeRate(rate int) Option {
	return func(h *Handler) { h.defaultFeeRate = rate }
}

// WithLogger overrides slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// NewHandler returns a configured Handler.
func NewHandler(lookup estimator.Lookup, store *ledger.Store, opts ...Option) *Handler {
	h := &Handler{
		lookup:         lookup,
		store:          store,
		defaultFeeRate: 20,
		notifier:       notify.Nop{},
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes mounts all routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/estimate", h.handleEstimate)
	mux.HandleFunc("/records", h.handleRecords)
	mux.HandleFunc("/health", handleHealth)
	if h.webhook != nil {
		mux.Handle("/line-webhook", h.webhook)
	}
	if h.metrics != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(h.metrics.Registry, promhttp.HandlerOpts{}))
	}
}

// Routes returns a new mux with every route mounted.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux
}

func (h *Handler) handleEstimate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	keyword := r.URL.Query().Get("keyword")
	result, err := h.lookup.Estimate(r.Context(), keyword)
	switch {
	case errors.Is(err, estimator.ErrEmptyKeyword):
		jsonError(w, "keyword is required", http.StatusBadRequest)
		return
	case err != nil:
		h.logger.Warn("estimate aborted", slog.String("keyword", keyword), slog.Any("error", err))
		jsonError(w, "estimate aborted", http.StatusServiceUnavailable)
		return
	case !result.Found:
		jsonError(w, "no estimate available", http.StatusNotFound)
		return
	}
	jsonOK(w, http.StatusOK, result)
}

// recordRequest is the POST /records body. When Lookup is set and
// ExpectedPrice is zero, the expected price comes from the estimator.
type recordRequest struct {
	ItemName      string `json:"item_name"`
	Requester     string `json:"requester"`
	ExpectedPrice int    `json:"expected_price"`
	ActualPrice   int    `json:"actual_price"`
	FeeRate       *int   `json:"fee_rate"`
	ImagePath     string `json:"image_path"`
	Lookup        bool   `json:"lookup"`
}

func (h *Handler) handleRecords(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		jsonOK(w, http.StatusOK, h.store.All())
	case http.MethodPost:
		h.createRecord(w, r)
	default:
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) createRecord(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRecordBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	entry := ledger.Entry{
		ItemName:      req.ItemName,
		Requester:     req.Requester,
		ExpectedPrice: req.ExpectedPrice,
		ActualPrice:   req.ActualPrice,
		FeeRate:       h.defaultFeeRate,
		ImagePath:     req.ImagePath,
	}
	if req.FeeRate != nil {
		entry.FeeRate = *req.FeeRate
	}

	if req.Lookup && entry.ExpectedPrice == 0 && strings.TrimSpace(entry.ItemName) != "" {
		result, err := h.lookup.Estimate(r.Context(), strings.TrimSpace(entry.ItemName))
		if err != nil {
			h.logger.Warn("record lookup failed", slog.String("item", entry.ItemName), slog.Any("error", err))
		} else if result.Found {
			entry.ExpectedPrice = result.Average
			entry.EstimateFrom = result.Source
		}
	}

	record, err := h.store.Add(entry)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.logger.Info("record registered",
		slog.Int("id", record.ID),
		slog.String("item", record.ItemName),
		slog.Int("fee", record.Fee),
		slog.Int("payout", record.Payout),
	)
	h.confirm(r.Context(), record)
	jsonOK(w, http.StatusCreated, record)
}

// confirm pushes to requesters registered as "LINE:<userId>".
func (h *Handler) confirm(ctx context.Context, record ledger.Record) {
	userID, ok := strings.CutPrefix(record.Requester, notify.RequesterPrefix)
	if !ok || userID == "" {
		return
	}
	text := fmt.Sprintf("%s\n%s / 想定売却 ¥%d", notify.Confirmation, record.ItemName, record.ExpectedPrice)
	if err := h.notifier.Notify(ctx, userID, text); err != nil {
		h.logger.Warn("chat confirmation failed", slog.Int("id", record.ID), slog.Any("error", err))
	}
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	jsonOK(w, http.StatusOK, map[string]string{"status": "ok"})
}

func jsonOK(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	jsonOK(w, status, map[string]string{"error": msg})
}
