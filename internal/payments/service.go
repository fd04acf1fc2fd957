package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/bimzik/backend/internal/flutterwave"
	"github.com/bimzik/backend/internal/ledger"
	"github.com/bimzik/backend/internal/models"
)

const (
	providerName = "flutterwave"

	eventChargeCompleted = "charge.completed"
)

// Gateway is the payment provider.
type Gateway interface {
	InitiatePayment(ctx context.Context, p flutterwave.PaymentRequest) (string, error)
	ChargeMobileMoney(ctx context.Context, ch flutterwave.ChargeRequest) (*flutterwave.Transaction, error)
	Verify(ctx context.Context, transactionID string) (*flutterwave.Transaction, error)
	VerifyByReference(ctx context.Context, txRef string) (*flutterwave.Transaction, error)
	VerifySignature(header string) bool
}

// SchemaValidator checks a JSON document against a named schema.
type SchemaValidator interface {
	Validate(name string, raw []byte) error
}

// Payment outcome statuses reported to callers.
const (
	StatusCompleted = "completed"
	StatusPending   = "pending"
	StatusFailed    = "failed"
)

type Checkout struct {
	TxRef uuid.UUID `json:"tx_ref"`
	Link  string    `json:"link"`
}

type ChargeInput struct {
	PackageID string
	Phone     string
	Network   string
	Country   string
}

// Result is the state of one purchase after a verify or status call.
// Credited is true only for the call that actually credited the account.
type Result struct {
	TxRef    uuid.UUID `json:"tx_ref"`
	Status   string    `json:"status"`
	Credits  int       `json:"credits"`
	Credited bool      `json:"credited"`
}

type ServiceDeps struct {
	Packages       PackageStore
	Ledger         ledger.Service
	Reconciler     *Reconciler
	Gateway        Gateway
	Validator      SchemaValidator
	WebhookSchema  string
	RedirectURL    string
	DefaultCountry string
	Logger         *slog.Logger
}

type Service struct {
	packages       PackageStore
	ledger         ledger.Service
	reconciler     *Reconciler
	gateway        Gateway
	validator      SchemaValidator
	webhookSchema  string
	redirectURL    string
	defaultCountry string
	log            *slog.Logger
}

func NewService(d ServiceDeps) *Service {
	s := &Service{
		packages:       d.Packages,
		ledger:         d.Ledger,
		reconciler:     d.Reconciler,
		gateway:        d.Gateway,
		validator:      d.Validator,
		webhookSchema:  d.WebhookSchema,
		redirectURL:    d.RedirectURL,
		defaultCountry: d.DefaultCountry,
		log:            d.Logger,
	}
	if s.defaultCountry == "" {
		s.defaultCountry = "BJ"
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

func (s *Service) ListPackages(ctx context.Context) ([]*models.CreditPackage, error) {
	return s.packages.ListActive(ctx)
}

// newPending records the purchase before the provider is contacted, so any
// later trigger finds a pending entry to complete.
func (s *Service) newPending(ctx context.Context, userID uuid.UUID, pkg *models.CreditPackage, action string) (*models.LedgerEntry, error) {
	e := &models.LedgerEntry{
		ID:        uuid.New(),
		AccountID: userID,
		Kind:      models.EntryPurchase,
		Amount:    pkg.Credits,
		Price:     pkg.Price,
		Provider:  providerName,
		Metadata: models.Metadata{
			models.MetaPackageID:   pkg.ID,
			models.MetaPackageName: pkg.Name,
			models.MetaAction:      action,
		},
	}
	if err := s.ledger.CreatePending(ctx, e); err != nil {
		return nil, fmt.Errorf("create pending purchase: %w", err)
	}
	return e, nil
}

func (s *Service) activePackage(ctx context.Context, id string) (*models.CreditPackage, error) {
	pkg, err := s.packages.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !pkg.IsActive {
		return nil, ErrPackageNotFound
	}
	return pkg, nil
}

// InitiatePayment opens a hosted checkout for one package.
func (s *Service) InitiatePayment(ctx context.Context, userID uuid.UUID, email, packageID string) (*Checkout, error) {
	pkg, err := s.activePackage(ctx, packageID)
	if err != nil {
		return nil, err
	}
	e, err := s.newPending(ctx, userID, pkg, "checkout")
	if err != nil {
		return nil, err
	}
	link, err := s.gateway.InitiatePayment(ctx, flutterwave.PaymentRequest{
		TxRef:       e.ID.String(),
		Amount:      pkg.Price,
		Currency:    pkg.Currency,
		Email:       email,
		RedirectURL: s.redirectURL,
		Meta: map[string]string{
			"user_id":    userID.String(),
			"package_id": pkg.ID,
		},
	})
	if err != nil {
		s.failPending(ctx, e.ID, "initiate_failed")
		return nil, fmt.Errorf("initiate payment: %w", err)
	}
	s.log.Info("payment initiated", "tx_ref", e.ID, "user_id", userID, "package_id", pkg.ID)
	return &Checkout{TxRef: e.ID, Link: link}, nil
}

// InitiateDirectCharge starts a mobile-money charge the customer approves on
// their phone. Completion arrives later through ChargeStatus or the webhook.
func (s *Service) InitiateDirectCharge(ctx context.Context, userID uuid.UUID, email string, in ChargeInput) (*Result, error) {
	pkg, err := s.activePackage(ctx, in.PackageID)
	if err != nil {
		return nil, err
	}
	e, err := s.newPending(ctx, userID, pkg, "direct_charge")
	if err != nil {
		return nil, err
	}
	country := in.Country
	if country == "" {
		country = s.defaultCountry
	}
	tx, err := s.gateway.ChargeMobileMoney(ctx, flutterwave.ChargeRequest{
		TxRef:    e.ID.String(),
		Amount:   pkg.Price,
		Currency: pkg.Currency,
		Email:    email,
		Phone:    in.Phone,
		Network:  in.Network,
		Country:  country,
	})
	if err != nil {
		s.failPending(ctx, e.ID, "charge_failed")
		return nil, fmt.Errorf("direct charge: %w", err)
	}
	if tx.FlwRef != "" {
		if err := s.ledger.SetEntryMeta(ctx, e.ID, models.MetaFlwRef, tx.FlwRef); err != nil {
			s.log.Warn("store flw_ref failed", "tx_ref", e.ID, "error", err)
		}
	}
	status := StatusPending
	if tx.Status == flutterwave.StatusFailed {
		s.failPending(ctx, e.ID, "charge_failed")
		status = StatusFailed
	}
	s.log.Info("direct charge started", "tx_ref", e.ID, "user_id", userID, "status", tx.Status)
	return &Result{TxRef: e.ID, Status: status, Credits: pkg.Credits}, nil
}

// VerifyPayment is called by the client after the checkout redirect.
func (s *Service) VerifyPayment(ctx context.Context, userID, txRef uuid.UUID, transactionID string) (*Result, error) {
	e, err := s.ownEntry(ctx, userID, txRef)
	if err != nil {
		return nil, err
	}
	if e.Status != models.EntryPending {
		return &Result{TxRef: e.ID, Status: string(e.Status), Credits: e.Amount}, nil
	}
	var tx *flutterwave.Transaction
	if transactionID != "" {
		tx, err = s.gateway.Verify(ctx, transactionID)
	} else {
		tx, err = s.gateway.VerifyByReference(ctx, txRef.String())
	}
	if err != nil {
		return nil, fmt.Errorf("verify payment: %w", err)
	}
	return s.settle(ctx, e, tx)
}

// ChargeStatus is polled by the client during a direct charge.
func (s *Service) ChargeStatus(ctx context.Context, userID, txRef uuid.UUID) (*Result, error) {
	e, err := s.ownEntry(ctx, userID, txRef)
	if err != nil {
		return nil, err
	}
	if e.Status != models.EntryPending {
		return &Result{TxRef: e.ID, Status: string(e.Status), Credits: e.Amount}, nil
	}
	tx, err := s.gateway.VerifyByReference(ctx, txRef.String())
	if err != nil {
		return nil, fmt.Errorf("charge status: %w", err)
	}
	return s.settle(ctx, e, tx)
}

type webhookPayload struct {
	Event string `json:"event"`
	Data  struct {
		ID     int64  `json:"id"`
		TxRef  string `json:"tx_ref"`
		Status string `json:"status"`
	} `json:"data"`
}

// HandleWebhook processes a provider callback. Events that do not describe a
// successful charge of a known pending purchase are acknowledged and ignored.
func (s *Service) HandleWebhook(ctx context.Context, signature string, body []byte) error {
	if !s.gateway.VerifySignature(signature) {
		return ErrInvalidSignature
	}
	if s.validator != nil {
		if err := s.validator.Validate(s.webhookSchema, body); err != nil {
			return err
		}
	}
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return fmt.Errorf("decode webhook: %w", err)
	}
	if p.Event != eventChargeCompleted || p.Data.Status != flutterwave.StatusSuccessful {
		s.log.Info("webhook ignored", "event", p.Event, "status", p.Data.Status, "tx_ref", p.Data.TxRef)
		return nil
	}
	txRef, err := uuid.Parse(p.Data.TxRef)
	if err != nil {
		s.log.Warn("webhook with foreign tx_ref", "tx_ref", p.Data.TxRef)
		return nil
	}
	e, err := s.ledger.Entry(ctx, txRef)
	if errors.Is(err, ledger.ErrEntryNotFound) {
		s.log.Warn("webhook for unknown tx_ref", "tx_ref", txRef)
		return nil
	}
	if err != nil {
		return err
	}
	if e.Status != models.EntryPending {
		return nil
	}
	// The payload is only a hint; the amount is taken from a fresh verify.
	tx, err := s.gateway.Verify(ctx, strconv.FormatInt(p.Data.ID, 10))
	if err != nil {
		return fmt.Errorf("verify webhook transaction: %w", err)
	}
	_, err = s.settle(ctx, e, tx)
	return err
}

// settle applies a verified provider transaction to a pending entry.
func (s *Service) settle(ctx context.Context, e *models.LedgerEntry, tx *flutterwave.Transaction) (*Result, error) {
	res := &Result{TxRef: e.ID, Credits: e.Amount}
	if tx.TxRef != e.ID.String() {
		s.log.Error("provider transaction reference mismatch", "tx_ref", e.ID, "provider_tx_ref", tx.TxRef)
		return nil, ErrReferenceMismatch
	}
	switch tx.Status {
	case flutterwave.StatusSuccessful:
		if tx.Amount.LessThan(e.Price) {
			s.log.Error("paid amount below price, leaving pending",
				"tx_ref", e.ID, "paid", tx.Amount.String(), "price", e.Price.String())
			return nil, ErrAmountTooLow
		}
		credited, err := s.reconciler.CompleteAndCredit(ctx, e.ID, tx.ExternalID())
		if err != nil {
			return nil, err
		}
		res.Status = StatusCompleted
		res.Credited = credited
	case flutterwave.StatusFailed:
		s.failPending(ctx, e.ID, "provider_failed")
		res.Status = StatusFailed
	default:
		res.Status = StatusPending
	}
	return res, nil
}

func (s *Service) ownEntry(ctx context.Context, userID, txRef uuid.UUID) (*models.LedgerEntry, error) {
	e, err := s.ledger.Entry(ctx, txRef)
	if err != nil {
		return nil, err
	}
	if e.AccountID != userID || e.Kind != models.EntryPurchase {
		return nil, ledger.ErrEntryNotFound
	}
	return e, nil
}

func (s *Service) failPending(ctx context.Context, id uuid.UUID, reason string) {
	if _, err := s.ledger.FailPending(context.WithoutCancel(ctx), id, reason); err != nil {
		s.log.Error("mark purchase failed", "tx_ref", id, "error", err)
	}
}
