// Package flutterwave is a thin client over the Flutterwave v3 REST API:
// hosted payment links, mobile-money direct charges and verification.
package flutterwave

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var ErrProvider = errors.New("flutterwave: provider error")

// Transaction statuses reported by verify and charge endpoints.
const (
	StatusSuccessful = "successful"
	StatusPending    = "pending"
	StatusFailed     = "failed"
)

const defaultBaseURL = "https://api.flutterwave.com"

type Config struct {
	SecretKey   string
	WebhookHash string
	BaseURL     string
	AppName     string
	Timeout     time.Duration
}

type Client struct {
	secretKey   string
	webhookHash string
	baseURL     string
	appName     string
	httpClient  *http.Client
	log         *slog.Logger
}

func NewClient(cfg Config, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	return &Client{
		secretKey:   cfg.SecretKey,
		webhookHash: cfg.WebhookHash,
		baseURL:     base,
		appName:     cfg.AppName,
		httpClient:  &http.Client{Timeout: timeout},
		log:         log,
	}
}

// Transaction is the verified view of a payment.
type Transaction struct {
	ID       int64           `json:"id"`
	TxRef    string          `json:"tx_ref"`
	FlwRef   string          `json:"flw_ref"`
	Status   string          `json:"status"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// ExternalID is the provider transaction id as stored on the ledger entry.
func (t *Transaction) ExternalID() string {
	return fmt.Sprintf("%d", t.ID)
}

type PaymentRequest struct {
	TxRef       string
	Amount      decimal.Decimal
	Currency    string
	Email       string
	RedirectURL string
	Meta        map[string]string
}

// InitiatePayment creates a hosted checkout and returns its link.
func (c *Client) InitiatePayment(ctx context.Context, p PaymentRequest) (string, error) {
	var data struct {
		Link string `json:"link"`
	}
	err := c.do(ctx, http.MethodPost, "/v3/payments", nil, map[string]any{
		"tx_ref":          p.TxRef,
		"amount":          p.Amount.String(),
		"currency":        p.Currency,
		"redirect_url":    p.RedirectURL,
		"payment_options": "card,mobilemoney,ussd",
		"customer":        map[string]string{"email": p.Email},
		"customizations":  map[string]string{"title": c.appName, "description": "Credits Purchase"},
		"meta":            p.Meta,
	}, &data)
	if err != nil {
		return "", err
	}
	if data.Link == "" {
		return "", fmt.Errorf("%w: empty payment link", ErrProvider)
	}
	return data.Link, nil
}

type ChargeRequest struct {
	TxRef    string
	Amount   decimal.Decimal
	Currency string
	Email    string
	Phone    string
	Network  string
	Country  string
}

// ChargeMobileMoney starts a direct mobile-money charge. The returned
// transaction is usually pending until the customer approves on the phone.
func (c *Client) ChargeMobileMoney(ctx context.Context, ch ChargeRequest) (*Transaction, error) {
	var tx Transaction
	err := c.do(ctx, http.MethodPost, "/v3/charges", url.Values{"type": {"mobile_money_franco"}}, map[string]any{
		"tx_ref":       ch.TxRef,
		"amount":       ch.Amount.String(),
		"currency":     ch.Currency,
		"email":        ch.Email,
		"phone_number": ch.Phone,
		"network":      ch.Network,
		"country":      ch.Country,
	}, &tx)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// Verify looks a transaction up by the provider's numeric id.
func (c *Client) Verify(ctx context.Context, transactionID string) (*Transaction, error) {
	var tx Transaction
	if err := c.do(ctx, http.MethodGet, "/v3/transactions/"+url.PathEscape(transactionID)+"/verify", nil, nil, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// VerifyByReference looks a transaction up by our tx_ref.
func (c *Client) VerifyByReference(ctx context.Context, txRef string) (*Transaction, error) {
	var tx Transaction
	if err := c.do(ctx, http.MethodGet, "/v3/transactions/verify_by_reference", url.Values{"tx_ref": {txRef}}, nil, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// VerifySignature checks the verif-hash header against the configured secret hash.
func (c *Client) VerifySignature(header string) bool {
	if header == "" || c.webhookHash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(header), []byte(c.webhookHash)) == 1
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any, out any) error {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("flutterwave %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	var env struct {
		Status  string          `json:"status"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		c.log.Error("flutterwave returned non-JSON", "status", resp.StatusCode, "path", path)
		return fmt.Errorf("%w: status=%d decode: %v", ErrProvider, resp.StatusCode, err)
	}
	if resp.StatusCode >= 300 || env.Status != "success" {
		c.log.Warn("flutterwave request rejected", "status", resp.StatusCode, "path", path, "message", env.Message)
		return fmt.Errorf("%w: status=%d message=%s", ErrProvider, resp.StatusCode, env.Message)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: decode data: %v", ErrProvider, err)
	}
	return nil
}
