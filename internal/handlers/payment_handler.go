package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/bimzik/backend/internal/middleware"
	"github.com/bimzik/backend/internal/models"
	"github.com/bimzik/backend/internal/payments"
)

// webhookSignatureHeader carries the secret hash configured on the provider
// dashboard.
const webhookSignatureHeader = "verif-hash"

const maxWebhookBytes = 1 << 20

// PaymentService is the subset of payments.Service the handler needs.
type PaymentService interface {
	ListPackages(ctx context.Context) ([]*models.CreditPackage, error)
	InitiatePayment(ctx context.Context, userID uuid.UUID, email, packageID string) (*payments.Checkout, error)
	InitiateDirectCharge(ctx context.Context, userID uuid.UUID, email string, in payments.ChargeInput) (*payments.Result, error)
	VerifyPayment(ctx context.Context, userID, txRef uuid.UUID, transactionID string) (*payments.Result, error)
	ChargeStatus(ctx context.Context, userID, txRef uuid.UUID) (*payments.Result, error)
	HandleWebhook(ctx context.Context, signature string, body []byte) error
}

// PaymentHandler serves /api/v1/payments.
type PaymentHandler struct {
	Payments PaymentService
	Logger   *slog.Logger
}

// ListPackages handles GET /api/v1/payments/packages.
func (h *PaymentHandler) ListPackages(w http.ResponseWriter, r *http.Request) {
	pkgs, err := h.Payments.ListPackages(r.Context())
	if err != nil {
		writeError(w, h.Logger, "list packages", err)
		return
	}
	if pkgs == nil {
		pkgs = []*models.CreditPackage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"packages": pkgs})
}

type initiateRequest struct {
	PackageID string `json:"package_id"`
}

// Initiate handles POST /api/v1/payments/initiate and returns a checkout link.
func (h *PaymentHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	checkout, err := h.Payments.InitiatePayment(r.Context(), userID, middleware.EmailFromCtx(r.Context()), req.PackageID)
	if err != nil {
		writeError(w, h.Logger, "initiate payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, checkout)
}

type chargeRequest struct {
	PackageID string `json:"package_id"`
	Phone     string `json:"phone"`
	Network   string `json:"network"`
	Country   string `json:"country"`
}

// Charge handles POST /api/v1/payments/charge, a mobile-money direct charge.
func (h *PaymentHandler) Charge(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	var req chargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	res, err := h.Payments.InitiateDirectCharge(r.Context(), userID, middleware.EmailFromCtx(r.Context()), payments.ChargeInput{
		PackageID: req.PackageID,
		Phone:     req.Phone,
		Network:   req.Network,
		Country:   req.Country,
	})
	if err != nil {
		writeError(w, h.Logger, "direct charge", err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

// verifyRequest accepts transaction_id as a string or a number, as the
// provider's redirect passes it either way.
type verifyRequest struct {
	TxRef         string `json:"tx_ref"`
	TransactionID any    `json:"transaction_id"`
}

// Verify handles POST /api/v1/payments/verify after the checkout redirect.
func (h *PaymentHandler) Verify(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	var req verifyRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	txRef, err := uuid.Parse(req.TxRef)
	if err != nil {
		http.Error(w, `{"error":"invalid tx_ref"}`, http.StatusBadRequest)
		return
	}
	var transactionID string
	if req.TransactionID != nil {
		transactionID = fmt.Sprint(req.TransactionID)
	}
	res, err := h.Payments.VerifyPayment(r.Context(), userID, txRef, transactionID)
	if err != nil {
		writeError(w, h.Logger, "verify payment", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Status handles GET /api/v1/payments/{tx_ref}/status, polled during a
// direct charge.
func (h *PaymentHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	txRef, err := uuid.Parse(r.PathValue("tx_ref"))
	if err != nil {
		http.Error(w, `{"error":"invalid tx_ref"}`, http.StatusBadRequest)
		return
	}
	res, err := h.Payments.ChargeStatus(r.Context(), userID, txRef)
	if err != nil {
		writeError(w, h.Logger, "charge status", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Webhook handles POST /api/v1/payments/webhook. It is unauthenticated; the
// signature header is the only proof of origin. Non-2xx answers make the
// provider retry, so only processing errors return 500.
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
		return
	}
	if err := h.Payments.HandleWebhook(r.Context(), r.Header.Get(webhookSignatureHeader), body); err != nil {
		writeError(w, h.Logger, "webhook", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
