package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/scholarmarket-backend/internal/catalog"
	"github.com/angelmondragon/scholarmarket-backend/internal/ledger"
	"github.com/angelmondragon/scholarmarket-backend/internal/payouts"
	"github.com/angelmondragon/scholarmarket-backend/internal/purchases"
	"github.com/angelmondragon/scholarmarket-backend/internal/settlement"
	"github.com/angelmondragon/scholarmarket-backend/internal/submissions"
	pkgAuth "github.com/angelmondragon/scholarmarket-backend/pkg/auth"
	"github.com/angelmondragon/scholarmarket-backend/pkg/config"
	"github.com/angelmondragon/scholarmarket-backend/pkg/db/dbtest"
	"github.com/angelmondragon/scholarmarket-backend/pkg/enums"
	"github.com/angelmondragon/scholarmarket-backend/pkg/lock"
	"github.com/angelmondragon/scholarmarket-backend/pkg/metrics"
	"github.com/angelmondragon/scholarmarket-backend/pkg/outbox"
)

const (
	platformID int64 = 1
	authorID   int64 = 20
	buyerID    int64 = 30
	adminID    int64 = 900
)

type harness struct {
	t       *testing.T
	cfg     *config.Config
	handler http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := &config.Config{
		App:    config.AppConfig{Env: "test"},
		JWT:    config.JWTConfig{Secret: "secret", Issuer: "scholarmarket", ExpirationMinutes: 10},
		Market: config.MarketConfig{AdminIDs: strconv.FormatInt(adminID, 10), SettlementKeyword: "900"},
	}

	client := dbtest.Open(t)
	locker := lock.NewLocalLocker(lock.Policy{Attempts: 200, BaseDelay: time.Millisecond})
	share := decimal.RequireFromString("0.7")
	reg := prometheus.NewRegistry()
	market := metrics.NewMarket(reg)

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(client.DB()), client, locker, ledger.Options{
		AuthorPercent:     share,
		PlatformAccountID: platformID,
	})
	require.NoError(t, err)
	_, err = ledgerSvc.EnsureAccount(context.Background(), platformID, "platform")
	require.NoError(t, err)

	events := outbox.NewService(outbox.NewRepository(client.DB()), nil)
	works := catalog.NewRepository(client.DB())
	catalogSvc, err := catalog.NewService(works, client, locker, events, ledgerSvc, share, nil)
	require.NoError(t, err)
	purchaseSvc, err := purchases.NewService(purchases.NewRepository(client.DB()), works, client, locker, ledgerSvc, events, market, nil)
	require.NoError(t, err)
	payoutSvc, err := payouts.NewService(payouts.NewRepository(client.DB()), client, locker, ledgerSvc, events, market, nil)
	require.NoError(t, err)
	submissionSvc, err := submissions.NewService(submissions.NewMemoryStore(), catalogSvc, nil)
	require.NoError(t, err)
	trigger, err := settlement.NewTextTrigger(purchaseSvc, settlement.Options{
		AdminIDs: cfg.Market.Admins(),
		Keyword:  cfg.Market.SettlementKeyword,
	})
	require.NoError(t, err)

	handler := NewRouter(cfg, nil, Dependencies{
		DB:          client,
		Gatherer:    reg,
		Metrics:     market,
		Ledger:      ledgerSvc,
		Catalog:     catalogSvc,
		Purchases:   purchaseSvc,
		Payouts:     payoutSvc,
		Submissions: submissionSvc,
		Trigger:     trigger,
	})
	return &harness{t: t, cfg: cfg, handler: handler}
}

func (h *harness) token(userID int64, role enums.Role) string {
	h.t.Helper()
	token, err := pkgAuth.MintAccessToken(h.cfg.JWT, time.Now(), pkgAuth.AccessTokenPayload{
		UserID:   userID,
		Username: "user" + strconv.FormatInt(userID, 10),
		Role:     role,
	})
	require.NoError(h.t, err)
	return token
}

func (h *harness) do(method, path string, userID int64, role enums.Role, body any) (int, map[string]any) {
	h.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(h.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if userID != 0 {
		req.Header.Set("Authorization", "Bearer "+h.token(userID, role))
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	var envelope map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(h.t, json.Unmarshal(rec.Body.Bytes(), &envelope), rec.Body.String())
	}
	return rec.Code, envelope
}

func data(envelope map[string]any) map[string]any {
	out, _ := envelope["data"].(map[string]any)
	return out
}

func errorCode(envelope map[string]any) string {
	errBody, _ := envelope["error"].(map[string]any)
	code, _ := errBody["code"].(string)
	return code
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t)

	code, _ := h.do(http.MethodGet, "/health/live", 0, "", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = h.do(http.MethodGet, "/health/ready", 0, "", nil)
	assert.Equal(t, http.StatusOK, code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIRequiresToken(t *testing.T) {
	h := newHarness(t)
	code, body := h.do(http.MethodGet, "/api/v1/me/balance", 0, "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(body))
}

func TestMarketplaceFlow(t *testing.T) {
	h := newHarness(t)

	code, body := h.do(http.MethodPost, "/api/v1/works", authorID, enums.RoleUser, map[string]any{
		"title": "Thermodynamics coursework",
		"price": "10.00",
		"files": []map[string]string{{"file_id": "doc-1", "file_name": "coursework.pdf"}},
	})
	require.Equal(t, http.StatusCreated, code, body)
	workID := int64(data(body)["id"].(float64))
	workPath := "/api/v1/works/" + strconv.FormatInt(workID, 10)

	code, _ = h.do(http.MethodGet, workPath, buyerID, enums.RoleUser, nil)
	assert.Equal(t, http.StatusNotFound, code, "pending works are hidden from buyers")

	moderation := "/api/v1/admin/works/" + strconv.FormatInt(workID, 10) + "/moderation"
	code, _ = h.do(http.MethodPost, moderation, buyerID, enums.RoleUser, map[string]string{"decision": "approve"})
	assert.Equal(t, http.StatusForbidden, code)

	code, body = h.do(http.MethodPost, moderation, adminID, enums.RoleAdmin, map[string]string{"decision": "approve"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "approved", data(body)["status"])
	assert.NotNil(t, data(body)["publication"])

	code, body = h.do(http.MethodPost, moderation, adminID, enums.RoleAdmin, map[string]string{"decision": "reject"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "ALREADY_MODERATED", errorCode(body))

	code, body = h.do(http.MethodGet, workPath, buyerID, enums.RoleUser, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Nil(t, data(body)["files"], "files are only delivered through fulfillment")

	code, body = h.do(http.MethodGet, "/api/v1/me/balance", buyerID, enums.RoleUser, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "0.00", data(body)["balance"])

	code, _ = h.do(http.MethodPost, "/api/v1/admin/accounts/30/deposits", adminID, enums.RoleAdmin, map[string]string{"amount": "15.00"})
	require.Equal(t, http.StatusCreated, code)

	code, body = h.do(http.MethodPost, "/api/v1/purchases", buyerID, enums.RoleUser, map[string]any{"work_id": workID, "funding": "balance"})
	require.Equal(t, http.StatusCreated, code, body)
	fulfillment := data(body)["fulfillment"].(map[string]any)
	assert.Equal(t, "7.00", fulfillment["author_income"])
	files := fulfillment["files"].([]any)
	require.Len(t, files, 1)
	assert.Equal(t, "doc-1", files[0].(map[string]any)["file_id"])

	_, body = h.do(http.MethodGet, "/api/v1/me/balance", buyerID, enums.RoleUser, nil)
	assert.Equal(t, "5.00", data(body)["balance"])
	_, body = h.do(http.MethodGet, "/api/v1/me/balance", authorID, enums.RoleUser, nil)
	assert.Equal(t, "7.00", data(body)["balance"])

	code, body = h.do(http.MethodPost, "/api/v1/purchases", buyerID, enums.RoleUser, map[string]any{"work_id": workID})
	assert.Equal(t, http.StatusPaymentRequired, code)
	assert.Equal(t, "INSUFFICIENT_FUNDS", errorCode(body))

	code, body = h.do(http.MethodGet, "/api/v1/admin/accounts/30/reconcile", adminID, enums.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, data(body)["consistent"])

	code, body = h.do(http.MethodGet, "/api/v1/me/stats", authorID, enums.RoleUser, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), data(body)["total_sold"])
}

func TestExternalPaymentNotificationSettlesOnce(t *testing.T) {
	h := newHarness(t)

	_, body := h.do(http.MethodPost, "/api/v1/works", authorID, enums.RoleUser, map[string]any{
		"title": "Lab report",
		"price": "10.00",
		"files": []map[string]string{{"file_id": "doc-9"}},
	})
	workID := int64(data(body)["id"].(float64))
	_, _ = h.do(http.MethodPost, "/api/v1/admin/works/"+strconv.FormatInt(workID, 10)+"/moderation", adminID, enums.RoleAdmin, map[string]string{"decision": "approve"})

	// first contact from this buyer is the purchase itself
	code, body := h.do(http.MethodPost, "/api/v1/purchases", buyerID, enums.RoleUser, map[string]any{"work_id": workID, "funding": "external"})
	require.Equal(t, http.StatusCreated, code, body)
	purchase := data(body)["purchase"].(map[string]any)
	purchaseID := purchase["id"].(string)
	assert.Equal(t, "pending", purchase["status"])

	code, body = h.do(http.MethodPost, "/api/v1/admin/payment-notifications", adminID, enums.RoleAdmin, map[string]any{
		"sender_id": adminID,
		"text":      "Transfer 900 received, comment: " + purchaseID,
	})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, data(body)["matched"])

	code, body = h.do(http.MethodPost, "/api/v1/admin/purchases/"+purchaseID+"/settle", adminID, enums.RoleAdmin, map[string]string{"proof": "manual"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "ALREADY_SETTLED", errorCode(body))

	code, body = h.do(http.MethodGet, "/api/v1/purchases/"+purchaseID, buyerID, enums.RoleUser, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "completed", data(body)["status"])

	code, _ = h.do(http.MethodGet, "/api/v1/purchases/"+purchaseID, authorID, enums.RoleUser, nil)
	assert.Equal(t, http.StatusNotFound, code, "other users cannot see the purchase")
}

func TestPayoutRequestAndResolution(t *testing.T) {
	h := newHarness(t)

	_, _ = h.do(http.MethodGet, "/api/v1/me/balance", authorID, enums.RoleUser, nil)
	code, _ := h.do(http.MethodPost, "/api/v1/admin/accounts/20/deposits", adminID, enums.RoleAdmin, map[string]string{"amount": "7.00"})
	require.Equal(t, http.StatusCreated, code)

	code, body := h.do(http.MethodPost, "/api/v1/payouts", authorID, enums.RoleUser, map[string]string{"amount": "5.00", "requisites": "card 1234"})
	require.Equal(t, http.StatusCreated, code, body)
	payoutID := int64(data(body)["id"].(float64))

	code, body = h.do(http.MethodGet, "/api/v1/admin/payouts/pending", adminID, enums.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["data"].([]any), 1)

	resolve := "/api/v1/admin/payouts/" + strconv.FormatInt(payoutID, 10) + "/resolve"
	code, body = h.do(http.MethodPost, resolve, adminID, enums.RoleAdmin, map[string]string{"outcome": "paid"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "paid", data(body)["status"])

	code, body = h.do(http.MethodPost, resolve, adminID, enums.RoleAdmin, map[string]string{"outcome": "rejected"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "ALREADY_RESOLVED", errorCode(body))

	_, body = h.do(http.MethodGet, "/api/v1/me/balance", authorID, enums.RoleUser, nil)
	assert.Equal(t, "2.00", data(body)["balance"])
}

func TestSubmissionFormOverHTTP(t *testing.T) {
	h := newHarness(t)
	steps := []map[string]any{
		{"text": "Essay on Kant"},
		{"text": "Twenty pages"},
		{"text": "4.50"},
		{"category_id": 3},
		{"skip": true},
		{"file": map[string]string{"file_id": "essay-1"}},
		{"done": true},
	}
	for i, step := range steps {
		code, body := h.do(http.MethodPost, "/api/v1/submissions/advance", authorID, enums.RoleUser, step)
		require.Equal(t, http.StatusOK, code, "step %d: %v", i, body)
	}

	code, body := h.do(http.MethodGet, "/api/v1/submissions/current", authorID, enums.RoleUser, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "confirm", data(body)["step"])

	code, body = h.do(http.MethodPost, "/api/v1/submissions/submit", authorID, enums.RoleUser, nil)
	require.Equal(t, http.StatusCreated, code, body)
	assert.Equal(t, "pending", data(body)["status"])

	code, _ = h.do(http.MethodGet, "/api/v1/submissions/current", authorID, enums.RoleUser, nil)
	assert.Equal(t, http.StatusNotFound, code)
}
