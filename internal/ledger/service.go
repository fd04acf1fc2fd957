package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/bimzik/backend/internal/models"
)

// Guard is the predicate a Mutation must satisfy on the account row before
// it is applied.
type Guard int

const (
	GuardNone Guard = iota
	// GuardAvailable requires balance - reserved >= GuardAmount.
	GuardAvailable
	// GuardReserved requires reserved >= GuardAmount.
	GuardReserved
)

// Mutation is one conditional read-modify-write of an account row plus the
// entry recorded with it. Entry is nil when the entry already exists.
type Mutation struct {
	AccountID     uuid.UUID
	BalanceDelta  int
	ReservedDelta int
	SpentDelta    int
	MoneyDelta    decimal.Decimal
	Guard         Guard
	GuardAmount   int
	Entry         *models.LedgerEntry
}

// Store is the persistence the ledger needs. Apply must be atomic: the guard
// check, the account update and the entry insert happen together or not at
// all. On a guard miss it returns *InsufficientCreditsError.
type Store interface {
	Apply(ctx context.Context, tx pgx.Tx, m Mutation) (*models.Account, error)
	// CompletePending flips a pending purchase entry to completed. It returns
	// (nil, nil) when the entry is not pending anymore.
	CompletePending(ctx context.Context, tx pgx.Tx, entryID uuid.UUID, externalID string) (*models.LedgerEntry, error)
	FailPending(ctx context.Context, entryID uuid.UUID, reason string) (bool, error)
	CreateEntry(ctx context.Context, e *models.LedgerEntry) error
	GetEntry(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error)
	SetEntryMeta(ctx context.Context, id uuid.UUID, key models.MetaKey, value string) error
	GetAccount(ctx context.Context, accountID uuid.UUID) (*models.Account, error)
	ListEntries(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.LedgerEntry, error)
}

// TxBeginner starts a database transaction. *pgxpool.Pool satisfies it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// InTx runs fn inside a transaction and commits when fn returns nil.
func InTx(ctx context.Context, db TxBeginner, fn func(tx pgx.Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Memo links an entry to the job it settles and carries extra metadata.
type Memo struct {
	JobID    *uuid.UUID
	Metadata models.Metadata
}

// Purchase describes a paid credit top-up. EntryID is set when the purchase
// entry already exists as a completed pending row.
type Purchase struct {
	Amount     int
	Price      decimal.Decimal
	Provider   string
	ExternalID string
	EntryID    *uuid.UUID
}

// Service is the credits ledger. Every mutating call runs in the caller's
// transaction so it can be combined with job or payment state changes.
type Service interface {
	Reserve(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int, memo Memo) (*models.Account, error)
	Debit(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int, fromReserved bool, memo Memo) (*models.Account, error)
	Refund(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int, reason string, memo Memo) (*models.Account, error)
	RefundDirect(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int, reason string, memo Memo) (*models.Account, error)
	Purchase(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, p Purchase) (*models.Account, error)

	CompletePending(ctx context.Context, tx pgx.Tx, entryID uuid.UUID, externalID string) (*models.LedgerEntry, bool, error)
	CreatePending(ctx context.Context, e *models.LedgerEntry) error
	FailPending(ctx context.Context, entryID uuid.UUID, reason string) (bool, error)
	Entry(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error)
	SetEntryMeta(ctx context.Context, id uuid.UUID, key models.MetaKey, value string) error

	Account(ctx context.Context, accountID uuid.UUID) (*models.Account, error)
	History(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.LedgerEntry, error)
}

type service struct {
	store Store
	log   *slog.Logger
}

func NewService(store Store, log *slog.Logger) Service {
	if log == nil {
		log = slog.Default()
	}
	return &service{store: store, log: log}
}

var _ Service = (*service)(nil)

func (s *service) Reserve(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int, memo Memo) (*models.Account, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	return s.store.Apply(ctx, tx, Mutation{
		AccountID:     accountID,
		ReservedDelta: amount,
		Guard:         GuardAvailable,
		GuardAmount:   amount,
		Entry:         newEntry(accountID, models.EntryReserve, amount, memo),
	})
}

func (s *service) Debit(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int, fromReserved bool, memo Memo) (*models.Account, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	m := Mutation{
		AccountID:    accountID,
		BalanceDelta: -amount,
		SpentDelta:   amount,
		Guard:        GuardAvailable,
		GuardAmount:  amount,
		Entry:        newEntry(accountID, models.EntryDebit, amount, memo),
	}
	if fromReserved {
		m.ReservedDelta = -amount
		m.Guard = GuardReserved
	}
	acc, err := s.store.Apply(ctx, tx, m)
	if fromReserved {
		return acc, s.checkReleased(accountID, "debit", amount, err)
	}
	return acc, err
}

func (s *service) Refund(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int, reason string, memo Memo) (*models.Account, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	memo.Metadata = memo.Metadata.With(models.MetaReason, reason)
	acc, err := s.store.Apply(ctx, tx, Mutation{
		AccountID:     accountID,
		ReservedDelta: -amount,
		Guard:         GuardReserved,
		GuardAmount:   amount,
		Entry:         newEntry(accountID, models.EntryRefund, amount, memo),
	})
	return acc, s.checkReleased(accountID, "refund", amount, err)
}

func (s *service) RefundDirect(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int, reason string, memo Memo) (*models.Account, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	memo.Metadata = memo.Metadata.With(models.MetaReason, reason)
	return s.store.Apply(ctx, tx, Mutation{
		AccountID:    accountID,
		BalanceDelta: amount,
		SpentDelta:   -amount,
		Entry:        newEntry(accountID, models.EntryRefund, amount, memo),
	})
}

func (s *service) Purchase(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, p Purchase) (*models.Account, error) {
	if p.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	m := Mutation{
		AccountID:    accountID,
		BalanceDelta: p.Amount,
		MoneyDelta:   p.Price,
	}
	if p.EntryID == nil {
		e := newEntry(accountID, models.EntryPurchase, p.Amount, Memo{})
		e.Price = p.Price
		e.Provider = p.Provider
		e.ExternalID = p.ExternalID
		m.Entry = e
	}
	return s.store.Apply(ctx, tx, m)
}

// checkReleased turns a guard miss on the reserved sub-balance into an
// invariant violation: the caller released more than it had reserved.
func (s *service) checkReleased(accountID uuid.UUID, op string, amount int, err error) error {
	if err == nil || !errors.Is(err, ErrInsufficientCredits) {
		return err
	}
	s.log.Error("reserved balance below release amount",
		"account_id", accountID, "op", op, "amount", amount, "error", err)
	return fmt.Errorf("%s %d: %w: %w", op, amount, ErrInvariantViolation, err)
}

func (s *service) CompletePending(ctx context.Context, tx pgx.Tx, entryID uuid.UUID, externalID string) (*models.LedgerEntry, bool, error) {
	e, err := s.store.CompletePending(ctx, tx, entryID, externalID)
	if err != nil {
		return nil, false, err
	}
	return e, e != nil, nil
}

func (s *service) CreatePending(ctx context.Context, e *models.LedgerEntry) error {
	if e.Amount <= 0 {
		return ErrInvalidAmount
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.Status = models.EntryPending
	return s.store.CreateEntry(ctx, e)
}

func (s *service) FailPending(ctx context.Context, entryID uuid.UUID, reason string) (bool, error) {
	return s.store.FailPending(ctx, entryID, reason)
}

func (s *service) Entry(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error) {
	return s.store.GetEntry(ctx, id)
}

func (s *service) SetEntryMeta(ctx context.Context, id uuid.UUID, key models.MetaKey, value string) error {
	return s.store.SetEntryMeta(ctx, id, key, value)
}

func (s *service) Account(ctx context.Context, accountID uuid.UUID) (*models.Account, error) {
	return s.store.GetAccount(ctx, accountID)
}

func (s *service) History(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.LedgerEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListEntries(ctx, accountID, limit)
}

func newEntry(accountID uuid.UUID, kind models.EntryKind, amount int, memo Memo) *models.LedgerEntry {
	md := memo.Metadata
	if md == nil {
		md = models.Metadata{}
	}
	return &models.LedgerEntry{
		ID:        uuid.New(),
		AccountID: accountID,
		JobID:     memo.JobID,
		Kind:      kind,
		Amount:    amount,
		Status:    models.EntryCompleted,
		Metadata:  md,
	}
}
