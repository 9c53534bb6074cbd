// Package server exposes the faucet claim and operator HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"tonfaucet/faucet"
)

// Config wires the HTTP surface to the faucet pipeline.
type Config struct {
	Orchestrator *Orchestrator
	Reconciler   Sweeper
	Auth         *Authenticator
	Logger       *slog.Logger
}

// Orchestrator is the claim pipeline the API fronts.
type Orchestrator = faucet.Orchestrator

// Sweeper runs one reconciliation pass on demand.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

type claimRequest struct {
	ID        string `json:"id,omitempty"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount,omitempty"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
	ID      string `json:"id,omitempty"`
}

// New builds the router with public claim routes and the guarded admin
// subrouter.
func New(cfg Config) (http.Handler, error) {
	if cfg.Orchestrator == nil {
		return nil, errors.New("server: orchestrator required")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &handlers{orch: cfg.Orchestrator, rec: cfg.Reconciler, log: log}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/v1/faucet/claims", s.handleClaim)
	r.Get("/v1/faucet/claims/{id}", s.handleStatus)

	if cfg.Auth != nil {
		r.Route("/admin", func(ar chi.Router) {
			ar.Use(cfg.Auth.Middleware)
			mountAdmin(ar, s)
		})
	}

	return otelhttp.NewHandler(r, "faucetd"), nil
}

type handlers struct {
	orch *Orchestrator
	rec  Sweeper
	log  *slog.Logger
}

func (s *handlers) handleClaim(w http.ResponseWriter, r *http.Request) {
	var body claimRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body is not valid JSON", nil)
		return
	}

	input := faucet.ClaimInput{ID: strings.TrimSpace(body.ID), Recipient: strings.TrimSpace(body.Recipient)}
	if raw := strings.TrimSpace(body.Amount); raw != "" {
		amount, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_amount", "amount must be a base-10 integer", nil)
			return
		}
		input.Amount = amount
	}

	record, err := s.orch.Claim(r.Context(), input)
	if err != nil {
		s.writeClaimError(w, record, err)
		return
	}
	status := http.StatusAccepted
	if record.Status.Terminal() {
		status = http.StatusOK
	}
	writeJSON(w, status, record)
}

func (s *handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	record, err := s.orch.Status(r.Context(), id)
	if err != nil {
		s.writeClaimError(w, record, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// writeClaimError maps pipeline errors to stable HTTP codes. Backend error
// text stays in the logs, never in the response body.
func (s *handlers) writeClaimError(w http.ResponseWriter, record faucet.Request, err error) {
	var rec *faucet.Request
	if record.ID != "" {
		rec = &record
	}
	switch {
	case errors.Is(err, faucet.ErrInvalidRecipient):
		writeError(w, http.StatusBadRequest, "invalid_recipient", "recipient is not a valid address", rec)
	case errors.Is(err, faucet.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "invalid_amount", "amount is outside the allowed range", rec)
	case errors.Is(err, faucet.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate_limited", "claim budget exhausted for this window", rec)
	case errors.Is(err, faucet.ErrPaused):
		writeError(w, http.StatusServiceUnavailable, "paused", "issuance is paused", rec)
	case errors.Is(err, faucet.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "state store is unavailable", rec)
	case errors.Is(err, faucet.ErrChainRejected):
		writeError(w, http.StatusBadGateway, "chain_rejected", "chain rejected the transaction", rec)
	case errors.Is(err, faucet.ErrChainUnavailable):
		writeError(w, http.StatusBadGateway, "chain_unavailable", "chain node is unavailable", rec)
	case errors.Is(err, faucet.ErrRequestNotFound):
		writeError(w, http.StatusNotFound, "not_found", "no such claim", nil)
	default:
		s.log.Error("unhandled claim error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error", rec)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string, record *faucet.Request) {
	resp := errorResponse{Code: code, Message: message}
	if record != nil {
		resp.Status = string(record.Status)
		resp.ID = record.ID
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
