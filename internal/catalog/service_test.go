package catalog

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/scholarmarket-backend/internal/ledger"
	"github.com/angelmondragon/scholarmarket-backend/pkg/db"
	"github.com/angelmondragon/scholarmarket-backend/pkg/db/dbtest"
	"github.com/angelmondragon/scholarmarket-backend/pkg/db/models"
	"github.com/angelmondragon/scholarmarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/scholarmarket-backend/pkg/errors"
	"github.com/angelmondragon/scholarmarket-backend/pkg/lock"
	"github.com/angelmondragon/scholarmarket-backend/pkg/outbox"
	"github.com/angelmondragon/scholarmarket-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/scholarmarket-backend/pkg/pagination"
)

const adminID int64 = 900

type fixture struct {
	svc    Service
	client *db.Client
	outbox *outbox.Repository
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	client := dbtest.Open(t)
	locker := lock.NewLocalLocker(lock.Policy{Attempts: 200, BaseDelay: time.Millisecond})
	share := decimal.RequireFromString("0.7")
	accounts, err := ledger.NewService(ledger.NewRepository(client.DB()), client, locker, ledger.Options{
		AuthorPercent:     share,
		PlatformAccountID: 1,
	})
	require.NoError(t, err)
	outboxRepo := outbox.NewRepository(client.DB())
	svc, err := NewService(NewRepository(client.DB()), client, locker, outbox.NewService(outboxRepo, nil), accounts, share, nil)
	require.NoError(t, err)
	return fixture{svc: svc, client: client, outbox: outboxRepo}
}

func submitInput(authorID int64) SubmitInput {
	category := int64(3)
	return SubmitInput{
		AuthorID:       authorID,
		AuthorUsername: "author",
		Title:          "  Thermodynamics coursework ",
		Description:    "Full solution with diagrams",
		Price:          100000,
		CategoryID:     &category,
		PreviewImageID: "preview-1",
		Files: []payloads.FileRef{
			{FileID: "file-a", FileName: "part1.pdf"},
			{FileID: "file-b", FileName: "part2.pdf"},
		},
	}
}

func TestNewServiceValidatesDependencies(t *testing.T) {
	_, err := NewService(nil, nil, nil, nil, nil, decimal.Zero, nil)
	assert.Error(t, err)
}

func TestSubmitCreatesPendingWorkWithFiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	work, err := f.svc.Submit(ctx, submitInput(42))
	require.NoError(t, err)
	assert.Equal(t, enums.WorkStatusPending, work.Status)
	assert.Equal(t, "Thermodynamics coursework", work.Title)
	assert.Equal(t, int64(70000), work.AuthorIncome)
	assert.False(t, work.IsDeleted)

	detail, err := f.svc.Get(ctx, work.ID)
	require.NoError(t, err)
	require.Len(t, detail.Files, 2)
	assert.Equal(t, "file-a", detail.Files[0].FileID)

	pending, err := f.svc.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, work.ID, pending[0].ID)

	events, err := f.outbox.ListByAggregate(ctx, enums.AggregateWork, strconv.FormatInt(work.ID, 10))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, enums.EventWorkSubmitted, events[0].EventType)
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := map[string]func(in *SubmitInput){
		"empty title":  func(in *SubmitInput) { in.Title = "   " },
		"zero price":   func(in *SubmitInput) { in.Price = 0 },
		"no files":     func(in *SubmitInput) { in.Files = nil },
		"blank file":   func(in *SubmitInput) { in.Files = []payloads.FileRef{{FileID: " "}} },
		"missing user": func(in *SubmitInput) { in.AuthorID = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := submitInput(42)
			mutate(&in)
			_, err := f.svc.Submit(ctx, in)
			require.Error(t, err)
			code := pkgerrors.As(err).Code()
			assert.Contains(t, []pkgerrors.Code{pkgerrors.CodeValidation, pkgerrors.CodeUnauthorized}, code)
		})
	}
}

func TestModerateApproveReturnsPublication(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	work, err := f.svc.Submit(ctx, submitInput(42))
	require.NoError(t, err)

	res, err := f.svc.Moderate(ctx, ModerateInput{WorkID: work.ID, AdminID: adminID, Decision: enums.ModerationApprove})
	require.NoError(t, err)
	assert.Equal(t, enums.WorkStatusApproved, res.Status)
	require.NotNil(t, res.Publication)
	assert.Equal(t, "preview-1", res.Publication.PreviewRef)

	list, err := f.svc.ListApproved(ctx, 3, pagination.Params{})
	require.NoError(t, err)
	require.Len(t, list.Works, 1)

	pending, err := f.svc.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestModerateRejectThenApproveFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	work, err := f.svc.Submit(ctx, submitInput(42))
	require.NoError(t, err)

	res, err := f.svc.Moderate(ctx, ModerateInput{WorkID: work.ID, AdminID: adminID, Decision: enums.ModerationReject})
	require.NoError(t, err)
	assert.Nil(t, res.Publication)

	_, err = f.svc.Moderate(ctx, ModerateInput{WorkID: work.ID, AdminID: adminID, Decision: enums.ModerationApprove})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeAlreadyModerated))

	detail, err := f.svc.Get(ctx, work.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.WorkStatusRejected, detail.Work.Status)

	list, err := f.svc.ListApproved(ctx, 3, pagination.Params{})
	require.NoError(t, err)
	assert.Empty(t, list.Works)
}

func TestModerateConcurrentVerdictsHaveOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	work, err := f.svc.Submit(ctx, submitInput(42))
	require.NoError(t, err)

	decisions := []enums.ModerationDecision{
		enums.ModerationApprove, enums.ModerationReject,
		enums.ModerationApprove, enums.ModerationReject,
	}
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		rejected int
	)
	for _, d := range decisions {
		wg.Add(1)
		go func(d enums.ModerationDecision) {
			defer wg.Done()
			_, err := f.svc.Moderate(ctx, ModerateInput{WorkID: work.ID, AdminID: adminID, Decision: d})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if pkgerrors.IsCode(err, pkgerrors.CodeAlreadyModerated) {
				rejected++
			}
		}(d)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, len(decisions)-1, rejected)
}

func TestModerateUnknownWork(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Moderate(context.Background(), ModerateInput{WorkID: 999, AdminID: adminID, Decision: enums.ModerationApprove})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = f.svc.Moderate(context.Background(), ModerateInput{WorkID: 1, AdminID: adminID, Decision: "maybe"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestListApprovedPagesNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 5; i++ {
		work, err := f.svc.Submit(ctx, submitInput(42))
		require.NoError(t, err)
		_, err = f.svc.Moderate(ctx, ModerateInput{WorkID: work.ID, AdminID: adminID, Decision: enums.ModerationApprove})
		require.NoError(t, err)
		ids = append(ids, work.ID)
	}

	first, err := f.svc.ListApproved(ctx, 3, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Works, 2)
	assert.Equal(t, ids[4], first.Works[0].ID)
	require.NotEmpty(t, first.NextCursor)

	second, err := f.svc.ListApproved(ctx, 3, pagination.Params{Limit: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Works, 2)
	assert.Equal(t, ids[2], second.Works[0].ID)

	third, err := f.svc.ListApproved(ctx, 3, pagination.Params{Limit: 2, Cursor: second.NextCursor})
	require.NoError(t, err)
	require.Len(t, third.Works, 1)
	assert.Empty(t, third.NextCursor)

	_, err = f.svc.ListApproved(ctx, 3, pagination.Params{Cursor: "%%%"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestListApprovedMatchesSubcategory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := submitInput(42)
	sub := int64(11)
	in.SubcategoryID = &sub
	work, err := f.svc.Submit(ctx, in)
	require.NoError(t, err)
	_, err = f.svc.Moderate(ctx, ModerateInput{WorkID: work.ID, AdminID: adminID, Decision: enums.ModerationApprove})
	require.NoError(t, err)

	list, err := f.svc.ListApproved(ctx, 11, pagination.Params{})
	require.NoError(t, err)
	assert.Len(t, list.Works, 1)
}

func TestSoftDeleteOnlyByAuthor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	work, err := f.svc.Submit(ctx, submitInput(42))
	require.NoError(t, err)
	_, err = f.svc.Moderate(ctx, ModerateInput{WorkID: work.ID, AdminID: adminID, Decision: enums.ModerationApprove})
	require.NoError(t, err)

	err = f.svc.SoftDelete(ctx, work.ID, 43)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	require.NoError(t, f.svc.SoftDelete(ctx, work.ID, 42))

	list, err := f.svc.ListApproved(ctx, 3, pagination.Params{})
	require.NoError(t, err)
	assert.Empty(t, list.Works)

	_, err = f.svc.Get(ctx, work.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	mine, err := f.svc.ListByAuthor(ctx, 42)
	require.NoError(t, err)
	assert.Empty(t, mine)
}

func TestHardDeleteRemovesFiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	work, err := f.svc.Submit(ctx, submitInput(42))
	require.NoError(t, err)

	removed, err := f.svc.HardDelete(ctx, work.ID, adminID)
	require.NoError(t, err)
	assert.Len(t, removed, 2)

	var files int64
	require.NoError(t, f.client.DB().Model(&models.WorkFile{}).Where("work_id = ?", work.ID).Count(&files).Error)
	assert.Zero(t, files)

	_, err = f.svc.HardDelete(ctx, work.ID, adminID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestUpdateDetails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	work, err := f.svc.Submit(ctx, submitInput(42))
	require.NoError(t, err)

	title := "Revised title"
	updated, err := f.svc.UpdateDetails(ctx, UpdateInput{WorkID: work.ID, AdminID: adminID, Title: &title})
	require.NoError(t, err)
	assert.Equal(t, title, updated.Title)
	assert.Equal(t, work.Price, updated.Price)

	_, err = f.svc.UpdateDetails(ctx, UpdateInput{WorkID: work.ID, AdminID: adminID})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestAuthorStatsUsesLedgerCredits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	work, err := f.svc.Submit(ctx, submitInput(42))
	require.NoError(t, err)

	repo := NewRepository(f.client.DB())
	for i := 0; i < 3; i++ {
		ok, err := repo.RecordSale(ctx, work.ID, work.Price)
		require.NoError(t, err)
		require.True(t, ok)
	}

	// the third sale settled after the author percent moved to 0.8
	buyer, author, platform := int64(7), int64(42), int64(1)
	credit := func(to int64, amount int64) {
		workID := work.ID
		require.NoError(t, f.client.DB().Create(&models.Transaction{
			FromUser: &buyer,
			ToUser:   &to,
			WorkID:   &workID,
			Amount:   amount,
			Type:     enums.TransactionPurchase,
		}).Error)
	}
	credit(author, 70000)
	credit(platform, 30000)
	credit(author, 70000)
	credit(platform, 30000)
	credit(author, 80000)
	credit(platform, 20000)
	require.NoError(t, f.client.DB().Create(&models.Transaction{
		ToUser: &author,
		Amount: 5000,
		Type:   enums.TransactionDeposit,
	}).Error)

	stats, err := f.svc.AuthorStats(ctx, 42)
	require.NoError(t, err)
	require.Len(t, stats.Works, 1)
	assert.Equal(t, int64(3), stats.TotalSold)
	assert.Equal(t, int64(220000), stats.TotalEarned.Int64())
	assert.Equal(t, int64(220000), stats.Works[0].AuthorEarned.Int64())
	assert.Equal(t, int64(70000), stats.Works[0].AuthorIncome.Int64())
	assert.Equal(t, int64(300000), stats.Works[0].TotalEarnings.Int64())
}

func TestListCategories(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	root := models.Category{Name: "Engineering"}
	require.NoError(t, f.client.DB().Create(&root).Error)
	require.NoError(t, f.client.DB().Create(&models.Category{Name: "Thermodynamics", ParentID: &root.ID}).Error)

	top, err := f.svc.ListCategories(ctx, nil)
	require.NoError(t, err)
	require.Len(t, top, 1)

	children, err := f.svc.ListCategories(ctx, &root.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "Thermodynamics", children[0].Name)
}
