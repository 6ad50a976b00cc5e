package purchases

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/scholarmarket-backend/internal/catalog"
	"github.com/angelmondragon/scholarmarket-backend/internal/ledger"
	"github.com/angelmondragon/scholarmarket-backend/pkg/db"
	"github.com/angelmondragon/scholarmarket-backend/pkg/db/dbtest"
	"github.com/angelmondragon/scholarmarket-backend/pkg/db/models"
	"github.com/angelmondragon/scholarmarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/scholarmarket-backend/pkg/errors"
	"github.com/angelmondragon/scholarmarket-backend/pkg/lock"
	"github.com/angelmondragon/scholarmarket-backend/pkg/metrics"
	"github.com/angelmondragon/scholarmarket-backend/pkg/money"
	"github.com/angelmondragon/scholarmarket-backend/pkg/outbox"
	"github.com/angelmondragon/scholarmarket-backend/pkg/outbox/payloads"
)

const (
	platformID int64 = 1
	authorID   int64 = 20
	buyerID    int64 = 30
	adminID    int64 = 900
)

type fixture struct {
	svc     Service
	ledger  ledger.Service
	catalog catalog.Service
	client  *db.Client
	outbox  *outbox.Repository
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	client := dbtest.Open(t)
	locker := lock.NewLocalLocker(lock.Policy{Attempts: 500, BaseDelay: time.Millisecond})
	share := decimal.RequireFromString("0.7")

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(client.DB()), client, locker, ledger.Options{
		AuthorPercent:     share,
		PlatformAccountID: platformID,
	})
	require.NoError(t, err)
	outboxRepo := outbox.NewRepository(client.DB())
	events := outbox.NewService(outboxRepo, nil)
	works := catalog.NewRepository(client.DB())
	catalogSvc, err := catalog.NewService(works, client, locker, events, ledgerSvc, share, nil)
	require.NoError(t, err)
	svc, err := NewService(NewRepository(client.DB()), works, client, locker, ledgerSvc, events, metrics.NewMarket(prometheus.NewRegistry()), nil)
	require.NoError(t, err)

	ctx := context.Background()
	for _, id := range []int64{platformID, authorID, buyerID} {
		_, err := ledgerSvc.EnsureAccount(ctx, id, "")
		require.NoError(t, err)
	}
	return fixture{svc: svc, ledger: ledgerSvc, catalog: catalogSvc, client: client, outbox: outboxRepo}
}

func (f fixture) work(t *testing.T, price money.Amount, decision enums.ModerationDecision) *models.Work {
	t.Helper()
	ctx := context.Background()
	work, err := f.catalog.Submit(ctx, catalog.SubmitInput{
		AuthorID: authorID,
		Title:    "Course project",
		Price:    price,
		Files:    []payloads.FileRef{{FileID: "file-1", FileName: "project.zip"}},
	})
	require.NoError(t, err)
	if decision != "" {
		_, err = f.catalog.Moderate(ctx, catalog.ModerateInput{WorkID: work.ID, AdminID: adminID, Decision: decision})
		require.NoError(t, err)
	}
	return work
}

func (f fixture) fund(t *testing.T, id int64, amount money.Amount) {
	t.Helper()
	_, err := f.ledger.Deposit(context.Background(), id, amount)
	require.NoError(t, err)
}

func (f fixture) balance(t *testing.T, id int64) int64 {
	t.Helper()
	b, err := f.ledger.Balance(context.Background(), id)
	require.NoError(t, err)
	return b.Int64()
}

func (f fixture) assertConsistent(t *testing.T, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		rec, err := f.ledger.Reconcile(context.Background(), id)
		require.NoError(t, err)
		assert.True(t, rec.Consistent(), "account %d balance %s log %s", id, rec.Balance, rec.LogSum)
	}
}

func TestBuySplitsRevenueAndBumpsCounters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	work := f.work(t, 1000, enums.ModerationApprove)
	f.fund(t, buyerID, 1500)

	fulfillment, err := f.svc.Buy(ctx, work.ID, buyerID)
	require.NoError(t, err)
	assert.Equal(t, int64(700), fulfillment.AuthorIncome.Int64())
	require.Len(t, fulfillment.Files, 1)
	assert.Equal(t, "file-1", fulfillment.Files[0].FileID)

	assert.Equal(t, int64(500), f.balance(t, buyerID))
	assert.Equal(t, int64(700), f.balance(t, authorID))
	assert.Equal(t, int64(300), f.balance(t, platformID))

	detail, err := f.catalog.Get(ctx, work.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), detail.Work.TimesSold)
	assert.Equal(t, int64(1000), detail.Work.TotalEarnings)

	purchase, err := f.svc.Get(ctx, fulfillment.PurchaseID)
	require.NoError(t, err)
	assert.Equal(t, enums.PurchaseStatusCompleted, purchase.Status)
	assert.NotNil(t, purchase.CompletedAt)

	events, err := f.outbox.ListByAggregate(ctx, enums.AggregatePurchase, fulfillment.PurchaseID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, enums.EventPurchaseSettled, events[0].EventType)

	f.assertConsistent(t, buyerID, authorID, platformID)
}

func TestBuyInsufficientFundsWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	work := f.work(t, 1000, enums.ModerationApprove)
	f.fund(t, buyerID, 500)

	_, err := f.svc.Buy(ctx, work.ID, buyerID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientFunds))

	assert.Equal(t, int64(500), f.balance(t, buyerID))
	rows, err := f.svc.ListByBuyer(ctx, buyerID)
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = f.svc.Initiate(ctx, InitiateInput{WorkID: work.ID, BuyerID: buyerID})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientFunds))
	rows, err = f.svc.ListByBuyer(ctx, buyerID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestNoPurchaseOfUnpublishedWorks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, buyerID, 10000)

	pending := f.work(t, 1000, "")
	rejected := f.work(t, 1000, enums.ModerationReject)
	deleted := f.work(t, 1000, enums.ModerationApprove)
	require.NoError(t, f.catalog.SoftDelete(ctx, deleted.ID, authorID))

	for name, id := range map[string]int64{"pending": pending.ID, "rejected": rejected.ID, "deleted": deleted.ID, "missing": 9999} {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Buy(ctx, id, buyerID)
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
			_, err = f.svc.Initiate(ctx, InitiateInput{WorkID: id, BuyerID: buyerID, Funding: enums.FundingExternal})
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
		})
	}
	assert.Equal(t, int64(10000), f.balance(t, buyerID))
}

func TestSettleExternalPurchaseOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	work := f.work(t, 1000, enums.ModerationApprove)

	purchase, err := f.svc.Initiate(ctx, InitiateInput{WorkID: work.ID, BuyerID: buyerID, Funding: enums.FundingExternal})
	require.NoError(t, err)
	assert.Equal(t, enums.PurchaseStatusPending, purchase.Status)

	fulfillment, err := f.svc.Settle(ctx, SettleInput{PurchaseID: purchase.ID, Proof: "bank sms 900"})
	require.NoError(t, err)
	assert.Equal(t, purchase.ID, fulfillment.PurchaseID)
	assert.Equal(t, enums.FundingExternal, fulfillment.Funding)

	_, err = f.svc.Settle(ctx, SettleInput{PurchaseID: purchase.ID})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeAlreadySettled))

	assert.Equal(t, int64(0), f.balance(t, buyerID))
	assert.Equal(t, int64(700), f.balance(t, authorID))
	assert.Equal(t, int64(300), f.balance(t, platformID))

	stored, err := f.svc.Get(ctx, purchase.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.PaymentProof)
	assert.Equal(t, "bank sms 900", *stored.PaymentProof)

	f.assertConsistent(t, buyerID, authorID, platformID)
}

func TestConcurrentSettleDebitsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	work := f.work(t, 1000, enums.ModerationApprove)
	f.fund(t, buyerID, 3000)

	purchase, err := f.svc.Initiate(ctx, InitiateInput{WorkID: work.ID, BuyerID: buyerID})
	require.NoError(t, err)

	const callers = 6
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		settled int
		already int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Settle(ctx, SettleInput{PurchaseID: purchase.ID})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				settled++
			case pkgerrors.IsCode(err, pkgerrors.CodeAlreadySettled):
				already++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, settled)
	assert.Equal(t, callers-1, already)
	assert.Equal(t, int64(2000), f.balance(t, buyerID))

	detail, err := f.catalog.Get(ctx, work.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), detail.Work.TimesSold)
	f.assertConsistent(t, buyerID, authorID, platformID)
}

func TestSettleBalancePurchaseAfterBalanceDrained(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	work := f.work(t, 1000, enums.ModerationApprove)
	f.fund(t, buyerID, 1000)

	purchase, err := f.svc.Initiate(ctx, InitiateInput{WorkID: work.ID, BuyerID: buyerID})
	require.NoError(t, err)

	_, err = f.svc.Buy(ctx, work.ID, buyerID)
	require.NoError(t, err)

	_, err = f.svc.Settle(ctx, SettleInput{PurchaseID: purchase.ID})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientFunds))

	stored, err := f.svc.Get(ctx, purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PurchaseStatusPending, stored.Status, "failed settlement must roll back the status change")
}

func TestSettleUnknownPurchase(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Settle(context.Background(), SettleInput{PurchaseID: uuid.NewString()})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = f.svc.Settle(context.Background(), SettleInput{PurchaseID: "not-a-uuid"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestSelfPurchaseIsAllowed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	work := f.work(t, 1000, enums.ModerationApprove)
	f.fund(t, authorID, 1000)

	_, err := f.svc.Buy(ctx, work.ID, authorID)
	require.NoError(t, err)
	assert.Equal(t, int64(700), f.balance(t, authorID))
	assert.Equal(t, int64(300), f.balance(t, platformID))
	f.assertConsistent(t, authorID, platformID)
}

func TestFirstPurchaseOpensBuyerAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	work := f.work(t, 1000, enums.ModerationApprove)

	_, err := f.svc.Buy(ctx, work.ID, 4242)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientFunds))
	assert.Equal(t, int64(0), f.balance(t, 4242))

	purchase, err := f.svc.Initiate(ctx, InitiateInput{WorkID: work.ID, BuyerID: 4343, Funding: enums.FundingExternal})
	require.NoError(t, err)
	_, err = f.svc.Settle(ctx, SettleInput{PurchaseID: purchase.ID})
	require.NoError(t, err)

	assert.Equal(t, int64(0), f.balance(t, 4343))
	assert.Equal(t, int64(700), f.balance(t, authorID))
	f.assertConsistent(t, 4343, authorID, platformID)
}
