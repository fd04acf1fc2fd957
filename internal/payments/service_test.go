package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bimzik/backend/internal/flutterwave"
	"github.com/bimzik/backend/internal/ledger"
	"github.com/bimzik/backend/internal/ledger/ledgertest"
	"github.com/bimzik/backend/internal/models"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type fakePackages map[string]*models.CreditPackage

func (f fakePackages) ListActive(context.Context) ([]*models.CreditPackage, error) {
	var out []*models.CreditPackage
	for _, p := range f {
		if p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f fakePackages) Get(_ context.Context, id string) (*models.CreditPackage, error) {
	p, ok := f[id]
	if !ok {
		return nil, ErrPackageNotFound
	}
	return p, nil
}

// fakeGateway answers verify calls from a table keyed by tx_ref.
type fakeGateway struct {
	mu          sync.Mutex
	txs         map[string]*flutterwave.Transaction
	initErr     error
	chargeResp  *flutterwave.Transaction
	signature   string
	verifyCalls int
	lastInit    flutterwave.PaymentRequest
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{txs: make(map[string]*flutterwave.Transaction), signature: "secret-hash"}
}

func (g *fakeGateway) InitiatePayment(_ context.Context, p flutterwave.PaymentRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastInit = p
	if g.initErr != nil {
		return "", g.initErr
	}
	return "https://checkout.example/" + p.TxRef, nil
}

func (g *fakeGateway) ChargeMobileMoney(_ context.Context, ch flutterwave.ChargeRequest) (*flutterwave.Transaction, error) {
	if g.chargeResp == nil {
		return nil, fmt.Errorf("%w: declined", flutterwave.ErrProvider)
	}
	tx := *g.chargeResp
	tx.TxRef = ch.TxRef
	return &tx, nil
}

func (g *fakeGateway) Verify(_ context.Context, id string) (*flutterwave.Transaction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifyCalls++
	for _, tx := range g.txs {
		if tx.ExternalID() == id {
			cp := *tx
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: no transaction %s", flutterwave.ErrProvider, id)
}

func (g *fakeGateway) VerifyByReference(_ context.Context, txRef string) (*flutterwave.Transaction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifyCalls++
	tx, ok := g.txs[txRef]
	if !ok {
		return nil, fmt.Errorf("%w: no transaction %s", flutterwave.ErrProvider, txRef)
	}
	cp := *tx
	return &cp, nil
}

func (g *fakeGateway) VerifySignature(h string) bool { return h == g.signature }

func (g *fakeGateway) set(txRef uuid.UUID, status string, amount string) *flutterwave.Transaction {
	g.mu.Lock()
	defer g.mu.Unlock()
	tx := &flutterwave.Transaction{
		ID:       int64(len(g.txs) + 1000),
		TxRef:    txRef.String(),
		Status:   status,
		Amount:   decimal.RequireFromString(amount),
		Currency: "XOF",
	}
	g.txs[txRef.String()] = tx
	return tx
}

type fixture struct {
	store   *ledgertest.Store
	gateway *fakeGateway
	svc     *Service
	userID  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	userID := uuid.New()
	store := ledgertest.NewStore(&models.Account{ID: userID})
	l := ledger.NewService(store, nil)
	gw := newFakeGateway()
	pkgs := fakePackages{
		"starter": {ID: "starter", Name: "Starter", Credits: 50, Price: decimal.RequireFromString("5000"), Currency: "XOF", IsActive: true},
		"retired": {ID: "retired", Name: "Old", Credits: 10, Price: decimal.RequireFromString("100"), Currency: "XOF"},
	}
	svc := NewService(ServiceDeps{
		Packages:    pkgs,
		Ledger:      l,
		Reconciler:  NewReconciler(ledgertest.DB{}, l, nil),
		Gateway:     gw,
		RedirectURL: "https://app.example/payment/callback",
	})
	return &fixture{store: store, gateway: gw, svc: svc, userID: userID}
}

func (f *fixture) checkout(t *testing.T) uuid.UUID {
	t.Helper()
	c, err := f.svc.InitiatePayment(context.Background(), f.userID, "ada@example.com", "starter")
	require.NoError(t, err)
	return c.TxRef
}

func webhookBody(tx *flutterwave.Transaction) []byte {
	return []byte(fmt.Sprintf(`{"event":"charge.completed","data":{"id":%d,"tx_ref":%q,"status":%q,"amount":%s}}`,
		tx.ID, tx.TxRef, tx.Status, tx.Amount.String()))
}

// ---------------------------------------------------------------------------
// Reconciler
// ---------------------------------------------------------------------------

func TestCompleteAndCredit_Concurrent(t *testing.T) {
	f := newFixture(t)
	txRef := f.checkout(t)

	const callers = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		credited int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := f.svc.reconciler.CompleteAndCredit(context.Background(), txRef, "ext-1")
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				credited++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, credited)
	acc := f.store.Snapshot(f.userID)
	assert.Equal(t, 50, acc.Balance)
	assert.True(t, acc.LifetimeMoneySpent.Equal(decimal.RequireFromString("5000")))
	assert.Len(t, f.store.EntriesOfKind(f.userID, models.EntryPurchase), 1)
}

func TestCompleteAndCredit_CreditFailureKeepsEntryPending(t *testing.T) {
	f := newFixture(t)
	// The entry belongs to an account the ledger does not know, so the
	// credit fails after the entry was already flipped to completed.
	e := &models.LedgerEntry{AccountID: uuid.New(), Kind: models.EntryPurchase, Amount: 50, Price: decimal.RequireFromString("5000")}
	require.NoError(t, f.svc.ledger.CreatePending(context.Background(), e))

	ok, err := f.svc.reconciler.CompleteAndCredit(context.Background(), e.ID, "ext-1")
	require.ErrorIs(t, err, ledger.ErrAccountNotFound)
	assert.False(t, ok)

	got, err := f.svc.ledger.Entry(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EntryPending, got.Status)
	assert.Empty(t, got.ExternalID)
}

func TestCompleteAndCredit_UnknownEntry(t *testing.T) {
	f := newFixture(t)
	ok, err := f.svc.reconciler.CompleteAndCredit(context.Background(), uuid.New(), "x")
	require.NoError(t, err)
	assert.False(t, ok)
}

// ---------------------------------------------------------------------------
// Initiation
// ---------------------------------------------------------------------------

func TestInitiatePayment_CreatesPendingEntry(t *testing.T) {
	f := newFixture(t)
	c, err := f.svc.InitiatePayment(context.Background(), f.userID, "ada@example.com", "starter")
	require.NoError(t, err)

	assert.Contains(t, c.Link, c.TxRef.String())
	assert.Equal(t, "5000", f.gateway.lastInit.Amount.String())
	assert.Equal(t, "ada@example.com", f.gateway.lastInit.Email)

	e, err := f.svc.ledger.Entry(context.Background(), c.TxRef)
	require.NoError(t, err)
	assert.Equal(t, models.EntryPending, e.Status)
	assert.Equal(t, 50, e.Amount)
	assert.Equal(t, "starter", e.Metadata.Get(models.MetaPackageID))
	assert.Equal(t, 0, f.store.Snapshot(f.userID).Balance)
}

func TestInitiatePayment_ProviderErrorFailsEntry(t *testing.T) {
	f := newFixture(t)
	f.gateway.initErr = fmt.Errorf("%w: bad key", flutterwave.ErrProvider)

	_, err := f.svc.InitiatePayment(context.Background(), f.userID, "ada@example.com", "starter")
	require.ErrorIs(t, err, flutterwave.ErrProvider)

	entries := f.store.EntriesOfKind(f.userID, models.EntryPurchase)
	require.Len(t, entries, 1)
	assert.Equal(t, models.EntryFailed, entries[0].Status)
	assert.Equal(t, "initiate_failed", entries[0].Metadata.Get(models.MetaReason))
}

func TestInitiatePayment_InactivePackage(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.InitiatePayment(context.Background(), f.userID, "a@b.c", "retired")
	assert.ErrorIs(t, err, ErrPackageNotFound)
	_, err = f.svc.InitiatePayment(context.Background(), f.userID, "a@b.c", "missing")
	assert.ErrorIs(t, err, ErrPackageNotFound)
}

func TestInitiateDirectCharge_StoresFlwRef(t *testing.T) {
	f := newFixture(t)
	f.gateway.chargeResp = &flutterwave.Transaction{ID: 77, FlwRef: "FLW-MOCK-1", Status: flutterwave.StatusPending}

	res, err := f.svc.InitiateDirectCharge(context.Background(), f.userID, "a@b.c", ChargeInput{
		PackageID: "starter", Phone: "+22997000000", Network: "MTN",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, res.Status)

	e, err := f.svc.ledger.Entry(context.Background(), res.TxRef)
	require.NoError(t, err)
	assert.Equal(t, "FLW-MOCK-1", e.Metadata.Get(models.MetaFlwRef))
	assert.Equal(t, models.EntryPending, e.Status)
}

// ---------------------------------------------------------------------------
// Verify / status
// ---------------------------------------------------------------------------

func TestVerifyPayment_Successful(t *testing.T) {
	f := newFixture(t)
	txRef := f.checkout(t)
	f.gateway.set(txRef, flutterwave.StatusSuccessful, "5000")

	res, err := f.svc.VerifyPayment(context.Background(), f.userID, txRef, "")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.True(t, res.Credited)
	assert.Equal(t, 50, f.store.Snapshot(f.userID).Balance)

	// A second verify sees the completed entry and does not touch the provider.
	calls := f.gateway.verifyCalls
	res, err = f.svc.VerifyPayment(context.Background(), f.userID, txRef, "")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.False(t, res.Credited)
	assert.Equal(t, calls, f.gateway.verifyCalls)
	assert.Equal(t, 50, f.store.Snapshot(f.userID).Balance)
}

func TestVerifyPayment_AmountTooLow(t *testing.T) {
	f := newFixture(t)
	txRef := f.checkout(t)
	f.gateway.set(txRef, flutterwave.StatusSuccessful, "4999.99")

	_, err := f.svc.VerifyPayment(context.Background(), f.userID, txRef, "")
	require.ErrorIs(t, err, ErrAmountTooLow)

	e, _ := f.svc.ledger.Entry(context.Background(), txRef)
	assert.Equal(t, models.EntryPending, e.Status)
	assert.Equal(t, 0, f.store.Snapshot(f.userID).Balance)
}

func TestVerifyPayment_ProviderFailed(t *testing.T) {
	f := newFixture(t)
	txRef := f.checkout(t)
	f.gateway.set(txRef, flutterwave.StatusFailed, "5000")

	res, err := f.svc.VerifyPayment(context.Background(), f.userID, txRef, "")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)

	e, _ := f.svc.ledger.Entry(context.Background(), txRef)
	assert.Equal(t, models.EntryFailed, e.Status)
}

func TestVerifyPayment_OtherUsersEntry(t *testing.T) {
	f := newFixture(t)
	txRef := f.checkout(t)
	_, err := f.svc.VerifyPayment(context.Background(), uuid.New(), txRef, "")
	assert.ErrorIs(t, err, ledger.ErrEntryNotFound)
}

func TestChargeStatus_Pending(t *testing.T) {
	f := newFixture(t)
	txRef := f.checkout(t)
	f.gateway.set(txRef, flutterwave.StatusPending, "5000")

	res, err := f.svc.ChargeStatus(context.Background(), f.userID, txRef)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, res.Status)
	assert.False(t, res.Credited)
}

// ---------------------------------------------------------------------------
// Webhook
// ---------------------------------------------------------------------------

func TestHandleWebhook_BadSignature(t *testing.T) {
	f := newFixture(t)
	err := f.svc.HandleWebhook(context.Background(), "wrong", []byte(`{}`))
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestHandleWebhook_UnknownTxRefIsNoop(t *testing.T) {
	f := newFixture(t)
	body := []byte(fmt.Sprintf(`{"event":"charge.completed","data":{"id":1,"tx_ref":%q,"status":"successful","amount":5}}`, uuid.NewString()))
	require.NoError(t, f.svc.HandleWebhook(context.Background(), "secret-hash", body))
	assert.Equal(t, 0, f.gateway.verifyCalls)
}

func TestHandleWebhook_IgnoresOtherEvents(t *testing.T) {
	f := newFixture(t)
	txRef := f.checkout(t)
	tx := f.gateway.set(txRef, flutterwave.StatusSuccessful, "5000")
	body := []byte(fmt.Sprintf(`{"event":"transfer.completed","data":{"id":%d,"tx_ref":%q,"status":"successful","amount":5000}}`, tx.ID, tx.TxRef))

	require.NoError(t, f.svc.HandleWebhook(context.Background(), "secret-hash", body))
	assert.Equal(t, 0, f.store.Snapshot(f.userID).Balance)
}

func TestHandleWebhook_ValidatorRejects(t *testing.T) {
	f := newFixture(t)
	verr := errors.New("validation failed: missing data")
	f.svc.validator = validatorFunc(func(string, []byte) error { return verr })
	err := f.svc.HandleWebhook(context.Background(), "secret-hash", []byte(`{"event":"x"}`))
	assert.ErrorIs(t, err, verr)
}

type validatorFunc func(string, []byte) error

func (v validatorFunc) Validate(name string, raw []byte) error { return v(name, raw) }

// Webhook and client verify race on the same purchase: the account is
// credited once.
func TestWebhookAndVerifyRace_CreditsOnce(t *testing.T) {
	f := newFixture(t)
	txRef := f.checkout(t)
	tx := f.gateway.set(txRef, flutterwave.StatusSuccessful, "5000")
	body := webhookBody(tx)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.svc.HandleWebhook(context.Background(), "secret-hash", body))
		}()
		go func() {
			defer wg.Done()
			_, err := f.svc.VerifyPayment(context.Background(), f.userID, txRef, tx.ExternalID())
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := f.svc.ChargeStatus(context.Background(), f.userID, txRef)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	acc := f.store.Snapshot(f.userID)
	assert.Equal(t, 50, acc.Balance)
	e, err := f.svc.ledger.Entry(context.Background(), txRef)
	require.NoError(t, err)
	assert.Equal(t, models.EntryCompleted, e.Status)
	assert.Equal(t, tx.ExternalID(), e.ExternalID)
}
