package payments

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bimzik/backend/internal/ledger"
	"github.com/bimzik/backend/internal/models"
)

// Reconciler is the only path that credits an account for a purchase.
type Reconciler struct {
	db     ledger.TxBeginner
	ledger ledger.Service
	log    *slog.Logger
}

func NewReconciler(db ledger.TxBeginner, l ledger.Service, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{db: db, ledger: l, log: log}
}

// CompleteAndCredit flips the pending purchase txRef to completed and credits
// its account, both in one transaction. It reports false when another caller
// already completed the entry or it is no longer pending.
func (r *Reconciler) CompleteAndCredit(ctx context.Context, txRef uuid.UUID, externalID string) (bool, error) {
	var credited *models.LedgerEntry
	err := ledger.InTx(ctx, r.db, func(tx pgx.Tx) error {
		e, ok, err := r.ledger.CompletePending(ctx, tx, txRef, externalID)
		if err != nil {
			return fmt.Errorf("complete pending: %w", err)
		}
		if !ok {
			return nil
		}
		if e.Kind != models.EntryPurchase {
			return fmt.Errorf("%w: %s", ErrNotPurchase, e.Kind)
		}
		_, err = r.ledger.Purchase(ctx, tx, e.AccountID, ledger.Purchase{
			Amount:     e.Amount,
			Price:      e.Price,
			Provider:   e.Provider,
			ExternalID: externalID,
			EntryID:    &e.ID,
		})
		if err != nil {
			return fmt.Errorf("credit purchase: %w", err)
		}
		credited = e
		return nil
	})
	if err != nil {
		return false, err
	}
	if credited == nil {
		r.log.Info("payment already completed", "tx_ref", txRef)
		return false, nil
	}
	r.log.Info("payment credited", "tx_ref", txRef, "account_id", credited.AccountID,
		"credits", credited.Amount, "price", credited.Price.String(), "external_id", externalID)
	return true, nil
}
