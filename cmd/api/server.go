package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/skip2/go-qrcode"
	"github.com/swaggo/swag"

	"pactflow/agreement"
	"pactflow/dispute"
	_ "pactflow/docs"
	"pactflow/httpx"
	"pactflow/idempotency"
	"pactflow/lifecycle"
	"pactflow/view"
	"pactflow/wallet"
)

const idempotencyHeader = "Idempotency-Key"

type agreementService interface {
	Get(ctx context.Context, id string) (agreement.Agreement, error)
	List(ctx context.Context, filters agreement.ListFilters) ([]agreement.Agreement, int, error)
	Timeline(ctx context.Context, id string) ([]agreement.TimelineEvent, error)
	Create(ctx context.Context, sess *wallet.Session, p agreement.CreateParams) (lifecycle.CreateResult, error)
	Accept(ctx context.Context, sess *wallet.Session, id string) (lifecycle.TxResult, error)
	Fund(ctx context.Context, sess *wallet.Session, id string) (lifecycle.TxResult, error)
	Complete(ctx context.Context, sess *wallet.Session, id string) (lifecycle.TxResult, error)
	PayRent(ctx context.Context, sess *wallet.Session, id string) (lifecycle.TxResult, error)
	PaySubscription(ctx context.Context, sess *wallet.Session, id string) (lifecycle.TxResult, error)
	CancelSubscription(ctx context.Context, sess *wallet.Session, id string) (lifecycle.TxResult, error)
	Dispute(ctx context.Context, sess *wallet.Session, id, reason string) (lifecycle.TxResult, error)
	NextPayment(ctx context.Context, actorID, id string) (lifecycle.PaymentRequest, error)
}

type disputeService interface {
	List(ctx context.Context, agreementID string) ([]dispute.Record, error)
}

type tokenVerifier interface {
	VerifyToken(token string) (*wallet.Session, error)
}

// Server holds the HTTP handlers and the services behind them.
type Server struct {
	agreementService agreementService
	disputeService   disputeService
	verifier         tokenVerifier
	idempotency      idempotency.Store
	gatherer         prometheus.Gatherer
	log              logrus.FieldLogger
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID, s.logging, s.recovery)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Get("/swagger/doc.json", s.handleSwagger)

	r.Route("/agreements", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/create", s.handleCreate)
		r.Get("/user/{id}", s.handleListForParty)
		r.Get("/{id}", s.handleGet)
		r.Get("/{id}/timeline", s.handleTimeline)
		r.Get("/{id}/disputes", s.handleDisputes)
		r.Get("/{id}/payment-qr", s.handlePaymentQR)
		r.Post("/{id}/accept", s.handleAccept)
		r.Post("/{id}/fund", s.transitionHandler(agreementService.Fund))
		r.Post("/{id}/complete", s.transitionHandler(agreementService.Complete))
		r.Post("/{id}/pay-rent", s.transitionHandler(agreementService.PayRent))
		r.Post("/{id}/pay-subscription", s.transitionHandler(agreementService.PaySubscription))
		r.Post("/{id}/cancel-subscription", s.transitionHandler(agreementService.CancelSubscription))
		r.Post("/{id}/dispute", s.handleDispute)
	})
	return r
}

func (s *Server) handleSwagger(w http.ResponseWriter, _ *http.Request) {
	doc, err := swag.ReadDoc()
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "INTERNAL", "api document unavailable", nil)
		return
	}
	w.Header().Set("content-type", "application/json")
	_, _ = w.Write([]byte(doc))
}

type createRequest struct {
	Type                string    `json:"type"`
	Title               string    `json:"title"`
	Terms               string    `json:"terms"`
	CounterpartyID      string    `json:"counterpartyId"`
	Amount              string    `json:"amount"`
	StartDate           time.Time `json:"startDate"`
	DueDate             time.Time `json:"dueDate"`
	Deliverables        string    `json:"deliverables"`
	Milestones          string    `json:"milestones"`
	PropertyAddress     string    `json:"propertyAddress"`
	SecurityDeposit     string    `json:"securityDeposit"`
	SubscriptionDetails string    `json:"subscriptionDetails"`
	BillingInterval     int64     `json:"billingInterval"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	if sess == nil {
		httpx.WriteDomainError(w, wallet.ErrSessionExpired)
		return
	}
	var req createRequest
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", fmt.Sprintf("invalid body: %v", err), nil)
		return
	}

	s.idempotent(w, r, sess, func() (int, any, error) {
		res, err := s.agreementService.Create(r.Context(), sess, agreement.CreateParams{
			Type:                agreement.Type(req.Type),
			Title:               req.Title,
			Terms:               req.Terms,
			CreatorID:           sess.UserID,
			CounterpartyID:      req.CounterpartyID,
			Amount:              req.Amount,
			StartDate:           req.StartDate,
			DueDate:             req.DueDate,
			Deliverables:        req.Deliverables,
			Milestones:          req.Milestones,
			PropertyAddress:     req.PropertyAddress,
			SecurityDeposit:     req.SecurityDeposit,
			SubscriptionDetails: req.SubscriptionDetails,
			BillingInterval:     req.BillingInterval,
		})
		if err != nil && !errors.Is(err, agreement.ErrReconciliation) {
			return 0, nil, err
		}

		body := map[string]any{
			"id":           res.Agreement.ID,
			"blockchainId": res.Agreement.BlockchainID,
			"txHash":       res.Agreement.TxHash,
		}
		if err != nil {
			body["reconciliation"] = map[string]any{"status": "unresolved", "message": err.Error()}
		} else {
			body["reconciliation"] = map[string]any{"status": "resolved", "tier": res.Tier.String()}
		}
		return http.StatusCreated, body, nil
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	a, err := s.agreementService.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, view.FromAgreement(a))
}

func (s *Server) handleListForParty(w http.ResponseWriter, r *http.Request) {
	filters := agreement.ListFilters{PartyID: chi.URLParam(r, "id")}
	for key, dst := range map[string]*int{"page": &filters.Page, "pageSize": &filters.PageSize} {
		raw := r.URL.Query().Get(key)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			httpx.WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", key+" must be a positive integer", nil)
			return
		}
		*dst = v
	}

	items, total, err := s.agreementService.List(r.Context(), filters)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"items": view.FromAgreements(items),
		"total": total,
	})
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	events, err := s.agreementService.Timeline(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": view.FromTimeline(events)})
}

func (s *Server) handleDisputes(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.agreementService.Get(r.Context(), id); err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	records, err := s.disputeService.List(r.Context(), id)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": view.FromDisputes(records)})
}

func (s *Server) handlePaymentQR(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	if sess == nil {
		httpx.WriteDomainError(w, wallet.ErrSessionExpired)
		return
	}
	req, err := s.agreementService.NextPayment(r.Context(), sess.UserID, chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}

	qr, err := qrcode.New(req.URI, qrcode.Medium)
	if err != nil {
		httpx.WriteDomainError(w, fmt.Errorf("api: generate qr: %w", err))
		return
	}
	buf := new(bytes.Buffer)
	if err := png.Encode(buf, qr.Image(256)); err != nil {
		httpx.WriteDomainError(w, fmt.Errorf("api: encode qr: %w", err))
		return
	}
	w.Header().Set("content-type", "image/png")
	w.Header().Set("X-Payment-URI", req.URI)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	if sess == nil {
		httpx.WriteDomainError(w, wallet.ErrSessionExpired)
		return
	}
	s.idempotent(w, r, sess, func() (int, any, error) {
		res, err := s.agreementService.Accept(r.Context(), sess, chi.URLParam(r, "id"))
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, view.FromAgreement(res.Agreement), nil
	})
}

type transitionFunc func(svc agreementService, ctx context.Context, sess *wallet.Session, id string) (lifecycle.TxResult, error)

func (s *Server) transitionHandler(fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := sessionFrom(r.Context())
		if sess == nil {
			httpx.WriteDomainError(w, wallet.ErrSessionExpired)
			return
		}
		s.idempotent(w, r, sess, func() (int, any, error) {
			res, err := fn(s.agreementService, r.Context(), sess, chi.URLParam(r, "id"))
			if err != nil {
				return 0, nil, err
			}
			return http.StatusOK, txResponse(res), nil
		})
	}
}

type disputeRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleDispute(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	if sess == nil {
		httpx.WriteDomainError(w, wallet.ErrSessionExpired)
		return
	}
	var req disputeRequest
	if r.ContentLength != 0 {
		if err := httpx.ReadJSON(r, &req); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", fmt.Sprintf("invalid body: %v", err), nil)
			return
		}
	}
	s.idempotent(w, r, sess, func() (int, any, error) {
		res, err := s.agreementService.Dispute(r.Context(), sess, chi.URLParam(r, "id"), req.Reason)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, txResponse(res), nil
	})
}

func txResponse(res lifecycle.TxResult) map[string]any {
	body := map[string]any{
		"txHash": res.TxHash,
		"status": string(res.Agreement.Status),
	}
	if next := res.Agreement.NextBillingDate; next != nil {
		body["nextBillingDate"] = next.UTC().Format(time.RFC3339)
	}
	return body
}

// idempotent replays a stored response for a repeated Idempotency-Key and
// stores successful responses of fn. Failures are never stored.
func (s *Server) idempotent(w http.ResponseWriter, r *http.Request, sess *wallet.Session, fn func() (int, any, error)) {
	key := idempotency.Key{
		ActorID:  sess.UserID,
		Value:    strings.TrimSpace(r.Header.Get(idempotencyHeader)),
		Endpoint: r.Method + " " + r.URL.Path,
	}
	if s.idempotency != nil {
		status, body, found, err := idempotency.Replay(r.Context(), s.idempotency, key)
		if err != nil {
			httpx.WriteDomainError(w, err)
			return
		}
		if found {
			w.Header().Set("Idempotent-Replayed", "true")
			httpx.WriteJSON(w, status, body)
			return
		}
	}

	status, resp, err := fn()
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	if s.idempotency != nil && key.Value != "" {
		body, err := asMap(resp)
		if err == nil {
			err = idempotency.Save(context.WithoutCancel(r.Context()), s.idempotency, key, status, body)
		}
		if err != nil {
			s.log.WithError(err).WithField("endpoint", key.Endpoint).Warn("idempotent response not stored")
		}
	}
	httpx.WriteJSON(w, status, resp)
}

func asMap(v any) (map[string]any, error) {
	if m, ok := v.(map[string]any); ok {
		return m, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
