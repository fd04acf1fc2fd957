// Package ledgertest provides an in-memory ledger.Store and a journaling
// transaction for tests in packages that depend on the ledger.
package ledgertest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bimzik/backend/internal/ledger"
	"github.com/bimzik/backend/internal/models"
)

// Store keeps accounts and entries in maps behind one mutex, which gives the
// same per-account linearizability the guarded UPDATE gives in Postgres.
type Store struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*models.Account
	entries  map[uuid.UUID]*models.LedgerEntry
	order    []uuid.UUID
}

func NewStore(accounts ...*models.Account) *Store {
	s := &Store{
		accounts: make(map[uuid.UUID]*models.Account),
		entries:  make(map[uuid.UUID]*models.LedgerEntry),
	}
	for _, a := range accounts {
		cp := *a
		s.accounts[a.ID] = &cp
	}
	return s
}

var _ ledger.Store = (*Store)(nil)

func (s *Store) Apply(_ context.Context, tx pgx.Tx, m ledger.Mutation) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[m.AccountID]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	switch m.Guard {
	case ledger.GuardAvailable:
		if a.Available() < m.GuardAmount {
			return nil, &ledger.InsufficientCreditsError{Available: a.Available(), Required: m.GuardAmount}
		}
	case ledger.GuardReserved:
		if a.Reserved < m.GuardAmount {
			return nil, &ledger.InsufficientCreditsError{Available: a.Reserved, Required: m.GuardAmount}
		}
	}
	a.Balance += m.BalanceDelta
	a.Reserved += m.ReservedDelta
	a.LifetimeSpent += m.SpentDelta
	a.LifetimeMoneySpent = a.LifetimeMoneySpent.Add(m.MoneyDelta)
	a.UpdatedAt = time.Now()
	if m.Entry != nil {
		s.putLocked(m.Entry)
	}
	OnRollback(tx, func() { s.revert(m) })
	cp := *a
	return &cp, nil
}

func (s *Store) revert(m ledger.Mutation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[m.AccountID]; ok {
		a.Balance -= m.BalanceDelta
		a.Reserved -= m.ReservedDelta
		a.LifetimeSpent -= m.SpentDelta
		a.LifetimeMoneySpent = a.LifetimeMoneySpent.Sub(m.MoneyDelta)
	}
	if m.Entry != nil {
		s.dropLocked(m.Entry.ID)
	}
}

func (s *Store) CompletePending(_ context.Context, tx pgx.Tx, entryID uuid.UUID, externalID string) (*models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID]
	if !ok || e.Status != models.EntryPending {
		return nil, nil
	}
	prevExternal := e.ExternalID
	e.Status = models.EntryCompleted
	e.ExternalID = externalID
	OnRollback(tx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		e.Status = models.EntryPending
		e.ExternalID = prevExternal
	})
	cp := *e
	return &cp, nil
}

func (s *Store) FailPending(_ context.Context, entryID uuid.UUID, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID]
	if !ok || e.Status != models.EntryPending {
		return false, nil
	}
	e.Status = models.EntryFailed
	e.Metadata = e.Metadata.With(models.MetaReason, reason)
	return true, nil
}

func (s *Store) CreateEntry(_ context.Context, e *models.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(e)
	return nil
}

func (s *Store) GetEntry(_ context.Context, id uuid.UUID) (*models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, ledger.ErrEntryNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *Store) SetEntryMeta(_ context.Context, id uuid.UUID, key models.MetaKey, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return ledger.ErrEntryNotFound
	}
	e.Metadata = e.Metadata.With(key, value)
	return nil
}

func (s *Store) GetAccount(_ context.Context, accountID uuid.UUID) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) ListEntries(_ context.Context, accountID uuid.UUID, limit int) ([]*models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.LedgerEntry
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		e := s.entries[s.order[i]]
		if e.AccountID == accountID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Entries returns every entry tagged with jobID, oldest first.
func (s *Store) Entries(jobID uuid.UUID) []*models.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.LedgerEntry
	for _, id := range s.order {
		e := s.entries[id]
		if e.JobID != nil && *e.JobID == jobID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out
}

// EntriesOfKind returns the account's entries of one kind, oldest first.
func (s *Store) EntriesOfKind(accountID uuid.UUID, kind models.EntryKind) []*models.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.LedgerEntry
	for _, id := range s.order {
		e := s.entries[id]
		if e.AccountID == accountID && e.Kind == kind {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out
}

// Snapshot returns a copy of the account or nil.
func (s *Store) Snapshot(accountID uuid.UUID) *models.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return nil
	}
	cp := *a
	return &cp
}

func (s *Store) putLocked(e *models.LedgerEntry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	cp := *e
	s.entries[e.ID] = &cp
	s.order = append(s.order, e.ID)
}

func (s *Store) dropLocked(id uuid.UUID) {
	delete(s.entries, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Tx is an in-memory pgx.Tx. Writes made through it apply at once and are
// undone in reverse order by Rollback; Commit keeps them. Other callers see
// uncommitted writes, so it models atomicity but not isolation.
type Tx struct {
	mu     sync.Mutex
	undo   []func()
	closed bool
}

func NewTx() *Tx { return &Tx{} }

// OnRollback registers fn to run if tx rolls back. It is a no-op for any
// transaction that is not a *Tx or that has already finished.
func OnRollback(tx pgx.Tx, fn func()) {
	t, ok := tx.(*Tx)
	if !ok || t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.undo = append(t.undo, fn)
	}
}

func (t *Tx) Begin(context.Context) (pgx.Tx, error) { return NewTx(), nil }

func (t *Tx) Commit(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true
	t.undo = nil
	return nil
}

func (t *Tx) Rollback(context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return pgx.ErrTxClosed
	}
	t.closed = true
	undo := t.undo
	t.undo = nil
	t.mu.Unlock()
	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
	return nil
}

func (*Tx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (*Tx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (*Tx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (*Tx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (*Tx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (*Tx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (*Tx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (*Tx) Conn() *pgx.Conn { return nil }

var _ pgx.Tx = (*Tx)(nil)

// DB hands out a fresh Tx per Begin; it satisfies ledger.TxBeginner.
type DB struct{}

func (DB) Begin(context.Context) (pgx.Tx, error) { return NewTx(), nil }
