package router

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"resellbot/internal/fulfillment"
	"resellbot/internal/handler"
	"resellbot/internal/ledger"
	"resellbot/internal/middleware"
	"resellbot/internal/models"
	"resellbot/internal/notify"
	"resellbot/internal/panel"
	"resellbot/internal/payment"
	"resellbot/internal/pkg/testdb"
	"resellbot/internal/repository"
	"resellbot/internal/settlement"
)

const apiKey = "secret-token"

type stubAdapter struct{}

func (stubAdapter) Kind() models.PanelType { return models.PanelAPIKey }

func (stubAdapter) CreateAccount(_ context.Context, req panel.CreateRequest) (*panel.Account, error) {
	return &panel.Account{Identity: req.Identity, ExternalID: "uuid-" + req.Identity, SubscriptionURL: "https://sub/" + req.Identity, ExpireAt: req.ExpireAt}, nil
}

func (stubAdapter) FetchAccount(context.Context, string) (*panel.Snapshot, error) {
	return nil, &panel.Error{Kind: panel.ErrNotFound, Op: "fetch account"}
}

func (stubAdapter) UpdateAccount(context.Context, string, panel.Delta) error {
	return nil
}
func (stubAdapter) DeleteAccount(context.Context, string) error {
	return nil
}
func (stubAdapter) ListAccounts(context.Context) ([]panel.Snapshot, error) {
	return nil, nil
}

type stubSource struct{}

func (stubSource) For(*models.Server) (panel.Adapter, error) { return stubAdapter{}, nil }

// zarinpalFake answers request.json with a fixed authority and verifies everything.
func zarinpalFake(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/pg/v4/payment/request.json":
			fmt.Fprint(w, `{"data":{"code":100,"authority":"A000123"},"errors":[]}`)
		case "/pg/v4/payment/verify.json":
			fmt.Fprint(w, `{"data":{"code":100,"ref_id":987654},"errors":[]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

type app struct {
	e      *echo.Echo
	db     *gorm.DB
	ledger *ledger.Ledger
	plan   *models.Plan
}

func newApp(t *testing.T, balance int64) *app {
	t.Helper()
	db := testdb.Open(t)

	require.NoError(t, db.Create(&models.User{ID: "42", Balance: balance, Status: "active"}).Error)
	server := &models.Server{Name: "de-1", PanelType: models.PanelAPIKey, BaseURL: "http://panel", APIKey: "k", Status: "active"}
	require.NoError(t, db.Create(server).Error)
	plan := &models.Plan{ServerID: server.ID, Name: "1 month", Price: 50000, VolumeGB: 50, DurationDays: 30, Status: "active"}
	require.NoError(t, db.Create(plan).Error)

	logger := zap.NewNop()
	sink := notify.NewLog(logger)
	l := ledger.New(db, logger)
	pipeline := fulfillment.NewPipeline(fulfillment.Deps{
		Plans:     repository.NewPlanRepository(db),
		Servers:   repository.NewServerRepository(db),
		Services:  repository.NewServiceRepository(db),
		Discounts: repository.NewDiscountRepository(db),
		Settings:  repository.NewSettingRepository(db),
		Ledger:    l,
		Panels:    stubSource{},
		Notifier:  sink,
		Events:    sink,
		Logger:    logger,
	})

	zp := payment.NewZarinPalGateway("merchant", false, "https://bot.example.com/payment/zarinpal/callback").
		WithBaseURL(zarinpalFake(t).URL)
	gateways := payment.NewRegistry(zp, payment.NewCardToCardGateway(repository.NewSettingRepository(db)))
	requests := repository.NewPaymentRequestRepository(db)
	svc := settlement.New(settlement.Deps{
		Users:        repository.NewUserRepository(db),
		Transactions: repository.NewTransactionRepository(db),
		Requests:     requests,
		Ledger:       l,
		Pipeline:     pipeline,
		Gateways:     gateways,
		Notifier:     sink,
		Events:       sink,
		Logger:       logger,
	})

	guard, err := middleware.NewCallbackGuard("", "", 0, 0)
	require.NoError(t, err)

	e := echo.New()
	repos := handler.Repos{
		Requests:     requests,
		Plans:        repository.NewPlanRepository(db),
		Transactions: repository.NewTransactionRepository(db),
	}
	Setup(e, handler.New(svc, pipeline, repos, gateways, logger), logger, apiKey, "", guard)
	return &app{e: e, db: db, ledger: l, plan: plan}
}

func (a *app) do(t *testing.T, method, path, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if authed {
		req.Header.Set("Token", apiKey)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	a := newApp(t, 0)
	rec := a.do(t, http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIRequiresToken(t *testing.T) {
	a := newApp(t, 0)

	rec := a.do(t, http.MethodPost, "/api/purchases", `{"user_id":"42","plan_id":1}`, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/payment-requests", nil)
	req.Header.Set("Token", "wrong")
	rec = httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPurchaseFromWallet(t *testing.T) {
	a := newApp(t, 80000)

	rec := a.do(t, http.MethodPost, "/api/purchases", fmt.Sprintf(`{"user_id":"42","plan_id":%d}`, a.plan.ID), true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode(t, rec)
	assert.Equal(t, true, out["status"])
	assert.Equal(t, "Service created", out["msg"])

	balance, err := a.ledger.Balance(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, int64(30000), balance)
}

func TestPurchaseThroughZarinPalCallback(t *testing.T) {
	a := newApp(t, 20000)

	rec := a.do(t, http.MethodPost, "/api/purchases", fmt.Sprintf(`{"user_id":"42","plan_id":%d,"gateway":"zarinpal"}`, a.plan.ID), true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode(t, rec)
	assert.Equal(t, "Payment required", out["msg"])
	obj := out["obj"].(map[string]interface{})
	assert.Equal(t, "https://www.zarinpal.com/pg/StartPay/A000123", obj["payment_url"])
	assert.Equal(t, float64(30000), obj["amount"])

	rec = a.do(t, http.MethodGet, "/payment/zarinpal/callback?Authority=A000123&Status=OK", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Payment successful")
	assert.Contains(t, rec.Body.String(), "Your order is complete")

	var services int64
	require.NoError(t, a.db.Model(&models.Service{}).Count(&services).Error)
	assert.Equal(t, int64(1), services)
	balance, err := a.ledger.Balance(context.Background(), "42")
	require.NoError(t, err)
	assert.Zero(t, balance)

	// A redelivered callback renders success without settling twice.
	rec = a.do(t, http.MethodGet, "/payment/zarinpal/callback?Authority=A000123&Status=OK", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "already settled")
	require.NoError(t, a.db.Model(&models.Service{}).Count(&services).Error)
	assert.Equal(t, int64(1), services)
}

func TestZarinPalCallbackCancelledAndUnknown(t *testing.T) {
	a := newApp(t, 0)

	rec := a.do(t, http.MethodGet, "/payment/zarinpal/callback?Authority=A000123&Status=NOK", "", false)
	assert.Contains(t, rec.Body.String(), "cancelled")

	rec = a.do(t, http.MethodGet, "/payment/zarinpal/callback?Authority=missing&Status=OK", "", false)
	assert.Contains(t, rec.Body.String(), "Transaction not found")

	rec = a.do(t, http.MethodGet, "/payment/zarinpal/callback", "", false)
	assert.Contains(t, rec.Body.String(), "Invalid parameters")
}

func TestReceiptApprovedOnce(t *testing.T) {
	a := newApp(t, 0)

	rec := a.do(t, http.MethodPost, "/api/payment-requests", `{"user_id":"42","amount":15000,"receipt_ref":"photo-1"}`, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	id := decode(t, rec)["obj"].(map[string]interface{})["id"]

	rec = a.do(t, http.MethodGet, "/api/payment-requests", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["obj"], 1)

	path := fmt.Sprintf("/api/payment-requests/%.0f/approve", id)
	rec = a.do(t, http.MethodPost, path, `{"reviewer":"ops"}`, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodPost, path, `{"reviewer":"ops"}`, true)
	assert.Equal(t, http.StatusConflict, rec.Code)

	balance, err := a.ledger.Balance(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, int64(15000), balance)
}

func TestReviewRejectsMalformedBody(t *testing.T) {
	a := newApp(t, 0)

	rec := a.do(t, http.MethodPost, "/api/payment-requests", `{"user_id":"42","amount":15000,"receipt_ref":"photo-2"}`, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	id := decode(t, rec)["obj"].(map[string]interface{})["id"]

	for _, action := range []string{"approve", "reject"} {
		rec = a.do(t, http.MethodPost, fmt.Sprintf("/api/payment-requests/%.0f/%s", id, action), `{"reviewer":`, true)
		assert.Equal(t, http.StatusBadRequest, rec.Code, action)
	}

	// The receipt is still pending and can be reviewed without a body.
	rec = a.do(t, http.MethodPost, fmt.Sprintf("/api/payment-requests/%.0f/reject", id), "", true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestPlansListing(t *testing.T) {
	a := newApp(t, 0)
	require.NoError(t, a.db.Create(&models.Plan{ServerID: a.plan.ServerID, Name: "trial", Price: 1000, Status: "active"}).Error)
	require.NoError(t, a.db.Create(&models.Plan{ServerID: a.plan.ServerID, Name: "retired", Price: 500, Status: "inactive"}).Error)

	rec := a.do(t, http.MethodGet, fmt.Sprintf("/api/plans?server_id=%d", a.plan.ServerID), "", true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	plans := decode(t, rec)["obj"].([]interface{})
	require.Len(t, plans, 2)
	assert.Equal(t, "trial", plans[0].(map[string]interface{})["name"])
	assert.Equal(t, "1 month", plans[1].(map[string]interface{})["name"])

	rec = a.do(t, http.MethodGet, "/api/plans", "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUserTransactionsAfterGatewayPurchase(t *testing.T) {
	a := newApp(t, 20000)

	rec := a.do(t, http.MethodGet, "/api/users/42/transactions", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode(t, rec)["obj"])

	rec = a.do(t, http.MethodPost, "/api/purchases", fmt.Sprintf(`{"user_id":"42","plan_id":%d,"gateway":"zarinpal"}`, a.plan.ID), true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodGet, "/api/users/42/transactions", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	txns := decode(t, rec)["obj"].([]interface{})
	require.Len(t, txns, 1)
	txn := txns[0].(map[string]interface{})
	assert.Equal(t, "zarinpal", txn["gateway"])
	assert.Equal(t, "A000123", txn["authority"])
	assert.Equal(t, float64(30000), txn["amount"])
}

func TestServiceRoutesValidateInput(t *testing.T) {
	a := newApp(t, 0)

	rec := a.do(t, http.MethodPost, "/api/services/abc/renew", `{"days":30}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/services/999/usage", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/topups", `{"user_id":"42","amount":0,"gateway":"zarinpal"}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
