package fulfillment

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"resellbot/internal/ledger"
	"resellbot/internal/models"
	"resellbot/internal/notify"
	"resellbot/internal/panel"
	"resellbot/internal/pkg/testdb"
	"resellbot/internal/repository"
)

type fakeAdapter struct {
	mu        sync.Mutex
	accounts  map[string]panel.Snapshot
	createErr error
	updateErr error
	deleted   []string
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{accounts: map[string]panel.Snapshot{}}
}

func (f *fakeAdapter) Kind() models.PanelType { return models.PanelBearerToken }

func (f *fakeAdapter) CreateAccount(_ context.Context, req panel.CreateRequest) (*panel.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.accounts[req.Identity] = panel.Snapshot{
		Identity: req.Identity, ExternalID: req.Identity, Enabled: true, Status: panel.StatusActive,
		QuotaBytes: req.VolumeBytes, ExpireAt: req.ExpireAt, SubscriptionURL: "https://sub.example.com/" + req.Identity,
	}
	return &panel.Account{Identity: req.Identity, ExternalID: req.Identity, SubscriptionURL: "https://sub.example.com/" + req.Identity, ExpireAt: req.ExpireAt}, nil
}

func (f *fakeAdapter) FetchAccount(_ context.Context, identity string) (*panel.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.accounts[identity]
	if !ok {
		return nil, &panel.Error{Kind: panel.ErrNotFound, Op: "fetch account"}
	}
	return &s, nil
}

func (f *fakeAdapter) UpdateAccount(_ context.Context, id string, d panel.Delta) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	s, ok := f.accounts[id]
	if !ok {
		return &panel.Error{Kind: panel.ErrNotFound, Op: "update account"}
	}
	if d.VolumeBytes != nil {
		s.QuotaBytes = *d.VolumeBytes
	}
	if d.ExpireAt != nil {
		s.ExpireAt = *d.ExpireAt
	}
	if d.Enabled != nil {
		s.Enabled = *d.Enabled
	}
	f.accounts[id] = s
	return nil
}

func (f *fakeAdapter) DeleteAccount(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	if _, ok := f.accounts[id]; !ok {
		return &panel.Error{Kind: panel.ErrNotFound, Op: "delete account"}
	}
	delete(f.accounts, id)
	return nil
}

func (f *fakeAdapter) ListAccounts(context.Context) ([]panel.Snapshot, error) { return nil, nil }

type fakeSource struct{ adapter panel.Adapter }

func (s fakeSource) For(*models.Server) (panel.Adapter, error) { return s.adapter, nil }

type recorder struct {
	mu         sync.Mutex
	deliveries []notify.Delivery
	user       []string
	operator   []string
	events     []notify.Event
}

func (r *recorder) DeliverService(_ context.Context, _ string, d notify.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, d)
	return nil
}

func (r *recorder) NotifyUser(_ context.Context, _, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.user = append(r.user, text)
	return nil
}

func (r *recorder) NotifyOperator(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.operator = append(r.operator, text)
	return nil
}

func (r *recorder) Publish(_ context.Context, e notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

type env struct {
	db       *gorm.DB
	pipeline *Pipeline
	adapter  *fakeAdapter
	notes    *recorder
	ledger   *ledger.Ledger
	plan     *models.Plan
	now      time.Time
}

func newEnv(t *testing.T, balance int64, plan models.Plan) *env {
	t.Helper()
	db := testdb.Open(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, db.Create(&models.User{ID: "42", Balance: balance, Status: "active"}).Error)
	server := &models.Server{Name: "de-1", PanelType: models.PanelBearerToken, BaseURL: "http://panel", Status: "active"}
	require.NoError(t, db.Create(server).Error)
	plan.ServerID = server.ID
	if plan.Status == "" {
		plan.Status = "active"
	}
	require.NoError(t, db.Create(&plan).Error)
	require.NoError(t, db.Model(&models.Setting{}).Where("1=1").Updates(map[string]interface{}{
		"renewal_price_per_gb":  1000,
		"renewal_price_per_day": 200,
	}).Error)

	adapter := newFakeAdapter()
	notes := &recorder{}
	l := ledger.New(db, nil)
	p := NewPipeline(Deps{
		Plans:     repository.NewPlanRepository(db),
		Servers:   repository.NewServerRepository(db),
		Services:  repository.NewServiceRepository(db),
		Discounts: repository.NewDiscountRepository(db),
		Settings:  repository.NewSettingRepository(db),
		Ledger:    l,
		Panels:    fakeSource{adapter: adapter},
		Notifier:  notes,
		Events:    notes,
		Now:       func() time.Time { return now },
	})
	return &env{db: db, pipeline: p, adapter: adapter, notes: notes, ledger: l, plan: &plan, now: now}
}

func (e *env) balance(t *testing.T) int64 {
	t.Helper()
	b, err := e.ledger.Balance(context.Background(), "42")
	require.NoError(t, err)
	return b
}

func (e *env) purchaseCount(t *testing.T) int {
	t.Helper()
	var p models.Plan
	require.NoError(t, e.db.First(&p, e.plan.ID).Error)
	return p.PurchaseCount
}

func (e *env) serviceCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&models.Service{}).Count(&n).Error)
	return n
}

func fixedPlan(price int64) models.Plan {
	return models.Plan{Name: "30 days / 5 GB", Price: price, VolumeGB: 5, DurationDays: 30}
}

func TestComputeFinalPriceNeverNegative(t *testing.T) {
	bases := []int64{0, 1, 999, 50000, 1 << 40}
	discounts := []*models.DiscountCode{
		nil,
		{Type: models.DiscountPercent, Value: 0},
		{Type: models.DiscountPercent, Value: 33},
		{Type: models.DiscountPercent, Value: 100},
		{Type: models.DiscountPercent, Value: 250},
		{Type: models.DiscountPercent, Value: -10},
		{Type: models.DiscountFixed, Value: 500},
		{Type: models.DiscountFixed, Value: 1 << 50},
		{Type: "bogus", Value: 10},
	}
	for _, base := range bases {
		for _, d := range discounts {
			got := computeFinalPrice(base, d)
			assert.GreaterOrEqual(t, got, int64(0))
			assert.LessOrEqual(t, got, base)
		}
	}
	assert.Equal(t, int64(45000), computeFinalPrice(50000, &models.DiscountCode{Type: models.DiscountPercent, Value: 10}))
	assert.Equal(t, int64(49500), computeFinalPrice(50000, &models.DiscountCode{Type: models.DiscountFixed, Value: 500}))
}

func TestQuoteCustomPlanFallsBackToRenewalPrices(t *testing.T) {
	e := newEnv(t, 0, models.Plan{
		Name: "custom", CustomVolumeEnabled: true,
		MinVolumeGB: 1, MaxVolumeGB: 100, MinDurationDays: 1, MaxDurationDays: 90,
		PricePerGB: 0, PricePerDay: 300,
	})

	q, err := e.pipeline.Quote(context.Background(), Intent{UserID: "42", PlanID: e.plan.ID, CustomVolumeGB: 10, CustomDurationDays: 30})
	require.NoError(t, err)
	assert.Equal(t, int64(10*1000+30*300), q.Final)
	assert.Equal(t, 10, q.VolumeGB)

	_, err = e.pipeline.Quote(context.Background(), Intent{UserID: "42", PlanID: e.plan.ID, CustomVolumeGB: 101, CustomDurationDays: 30})
	assert.ErrorIs(t, err, ErrInvalidSelection)
	_, err = e.pipeline.Quote(context.Background(), Intent{UserID: "42", PlanID: e.plan.ID, CustomVolumeGB: 10})
	assert.ErrorIs(t, err, ErrInvalidSelection)
}

func TestQuoteRejectsExhaustedDiscount(t *testing.T) {
	e := newEnv(t, 0, fixedPlan(50000))
	require.NoError(t, e.db.Create(&models.DiscountCode{Code: "ONCE", Type: models.DiscountPercent, Value: 20, UsageCount: 1, MaxUsage: 1, Status: "active"}).Error)

	_, err := e.pipeline.Quote(context.Background(), Intent{UserID: "42", PlanID: e.plan.ID, DiscountCode: "ONCE"})
	assert.ErrorIs(t, err, ErrInvalidDiscount)

	_, err = e.pipeline.Quote(context.Background(), Intent{UserID: "42", PlanID: e.plan.ID, DiscountCode: "nope"})
	assert.ErrorIs(t, err, ErrInvalidDiscount)
}

func TestQuoteUnknownAndSoldOutPlans(t *testing.T) {
	plan := fixedPlan(100)
	plan.PurchaseLimit = 1
	plan.PurchaseCount = 1
	e := newEnv(t, 0, plan)

	_, err := e.pipeline.Quote(context.Background(), Intent{UserID: "42", PlanID: 999})
	assert.ErrorIs(t, err, ErrPlanNotFound)
	_, err = e.pipeline.Quote(context.Background(), Intent{UserID: "42", PlanID: e.plan.ID})
	assert.ErrorIs(t, err, ErrPlanSoldOut)
}

func TestFulfillFromBalance(t *testing.T) {
	e := newEnv(t, 60000, fixedPlan(50000))

	res, err := e.pipeline.Fulfill(context.Background(), Intent{UserID: "42", PlanID: e.plan.ID}, Prepaid{})
	require.NoError(t, err)
	assert.Equal(t, StateProvisioned, res.State)
	require.NotNil(t, res.Service)
	assert.Equal(t, 5, res.Service.VolumeGB)
	assert.Equal(t, e.now.Add(30*24*time.Hour).Unix(), res.Service.ExpireAt)
	assert.True(t, strings.HasPrefix(res.Service.UpstreamUsername, "user_42_"))

	assert.Equal(t, int64(10000), e.balance(t))
	assert.Equal(t, 1, e.purchaseCount(t))
	assert.Equal(t, int64(1), e.serviceCount(t))

	require.Len(t, e.notes.deliveries, 1)
	d := e.notes.deliveries[0]
	assert.Equal(t, res.Service.SubscriptionURL, d.SubscriptionURL)
	assert.True(t, strings.HasPrefix(d.QRImageURL, "https://api.qrserver.com/v1/create-qr-code/?size=300x300&data=https%3A%2F%2Fsub.example.com%2F"))
	assert.Contains(t, d.Caption, "5 GB")
	require.Len(t, e.notes.events, 1)
	assert.Equal(t, notify.EventProvisioned, e.notes.events[0].Type)
}

func TestFulfillCompensatesOnProvisioningFailure(t *testing.T) {
	e := newEnv(t, 10000, fixedPlan(8000))
	e.adapter.createErr = &panel.Error{Kind: panel.ErrProvisioning, Op: "create account", Status: 500, Detail: "inbound not found"}

	res, err := e.pipeline.Fulfill(context.Background(), Intent{UserID: "42", PlanID: e.plan.ID}, Prepaid{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCompensated)
	assert.ErrorIs(t, err, panel.ErrProvisioning)
	assert.Equal(t, StateCompensated, res.State)

	assert.Equal(t, int64(10000), e.balance(t))
	assert.Zero(t, e.serviceCount(t))
	assert.Equal(t, 0, e.purchaseCount(t))

	require.Len(t, e.notes.user, 1)
	assert.Contains(t, e.notes.user[0], "received")
	require.Len(t, e.notes.operator, 1)
	assert.Contains(t, e.notes.operator[0], "HTTP 500")
	assert.Contains(t, e.notes.operator[0], "inbound not found")
	assert.Empty(t, e.adapter.deleted, "no cleanup for a definitive upstream rejection")
}

func TestFulfillTimeoutCleansUpUpstream(t *testing.T) {
	e := newEnv(t, 10000, fixedPlan(8000))
	e.adapter.createErr = &panel.Error{Kind: panel.ErrNetwork, Op: "create account", Err: errors.New("i/o timeout")}

	_, err := e.pipeline.Fulfill(context.Background(), Intent{UserID: "42", PlanID: e.plan.ID}, Prepaid{})
	assert.ErrorIs(t, err, panel.ErrNetwork)
	assert.Equal(t, int64(10000), e.balance(t))
	assert.Len(t, e.adapter.deleted, 1)
}

func TestFulfillInsufficientFundsMovesNothing(t *testing.T) {
	e := newEnv(t, 100, fixedPlan(8000))

	_, err := e.pipeline.Fulfill(context.Background(), Intent{UserID: "42", PlanID: e.plan.ID}, Prepaid{})
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	assert.Equal(t, int64(100), e.balance(t))
	assert.Equal(t, 0, e.purchaseCount(t))
	assert.Empty(t, e.notes.user)
}

func TestFulfillPrepaidCreditsThenDebits(t *testing.T) {
	e := newEnv(t, 0, fixedPlan(50000))

	res, err := e.pipeline.Fulfill(context.Background(), Intent{UserID: "42", PlanID: e.plan.ID}, Prepaid{Amount: 50000, Reference: "ORD-1-aa"})
	require.NoError(t, err)
	assert.Equal(t, "ORD-1-aa", res.OrderID)
	assert.Equal(t, int64(0), e.balance(t))

	entries, err := repository.NewUserRepository(e.db).LedgerEntriesByReference("ORD-1-aa")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(50000), entries[0].Delta)
	assert.Equal(t, int64(-50000), entries[1].Delta)
}

func TestFulfillClaimsDiscountUse(t *testing.T) {
	e := newEnv(t, 50000, fixedPlan(50000))
	code := &models.DiscountCode{Code: "HALF", Type: models.DiscountPercent, Value: 50, MaxUsage: 1, Status: "active"}
	require.NoError(t, e.db.Create(code).Error)

	res, err := e.pipeline.Fulfill(context.Background(), Intent{UserID: "42", PlanID: e.plan.ID, DiscountCode: "half"}, Prepaid{})
	require.NoError(t, err)
	assert.Equal(t, int64(25000), res.Quote.Final)
	assert.Equal(t, int64(25000), e.balance(t))

	var got models.DiscountCode
	require.NoError(t, e.db.First(&got, code.ID).Error)
	assert.Equal(t, 1, got.UsageCount)

	_, err = e.pipeline.Fulfill(context.Background(), Intent{UserID: "42", PlanID: e.plan.ID, DiscountCode: "half"}, Prepaid{})
	assert.ErrorIs(t, err, ErrInvalidDiscount)
}

func TestFulfillFreePlanSkipsDebit(t *testing.T) {
	plan := fixedPlan(0)
	plan.IsTest = true
	e := newEnv(t, 0, plan)

	res, err := e.pipeline.Fulfill(context.Background(), Intent{UserID: "42", PlanID: e.plan.ID}, Prepaid{})
	require.NoError(t, err)
	assert.Equal(t, StateProvisioned, res.State)
	assert.Equal(t, int64(0), e.balance(t))
}

func TestRenewExtendsAndCharges(t *testing.T) {
	e := newEnv(t, 100000, fixedPlan(50000))
	res, err := e.pipeline.Fulfill(context.Background(), Intent{UserID: "42", PlanID: e.plan.ID}, Prepaid{})
	require.NoError(t, err)

	renewed, err := e.pipeline.Renew(context.Background(), res.Service.ID, 10, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(10*1000+30*200), renewed.Price)
	assert.Equal(t, 15, renewed.Service.VolumeGB)
	assert.Equal(t, res.Service.ExpireAt+30*86400, renewed.Service.ExpireAt)
	assert.Equal(t, int64(100000-50000-16000), e.balance(t))

	snap, err := e.pipeline.Usage(context.Background(), res.Service.ID)
	require.NoError(t, err)
	assert.Equal(t, 15, snap.VolumeGB())
}

func TestRenewCompensatesOnUpstreamFailure(t *testing.T) {
	e := newEnv(t, 100000, fixedPlan(50000))
	res, err := e.pipeline.Fulfill(context.Background(), Intent{UserID: "42", PlanID: e.plan.ID}, Prepaid{})
	require.NoError(t, err)

	e.adapter.updateErr = &panel.Error{Kind: panel.ErrValidation, Op: "update account", Status: 422}
	_, err = e.pipeline.Renew(context.Background(), res.Service.ID, 1, 0)
	assert.ErrorIs(t, err, ErrCompensated)
	assert.ErrorIs(t, err, panel.ErrValidation)
	assert.Equal(t, int64(50000), e.balance(t))

	_, err = e.pipeline.Renew(context.Background(), res.Service.ID, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidSelection)
}

func TestSetEnabledAndRemove(t *testing.T) {
	e := newEnv(t, 50000, fixedPlan(50000))
	res, err := e.pipeline.Fulfill(context.Background(), Intent{UserID: "42", PlanID: e.plan.ID}, Prepaid{})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, e.pipeline.SetEnabled(ctx, res.Service.ID, false))
	snap, err := e.pipeline.Usage(ctx, res.Service.ID)
	require.NoError(t, err)
	assert.False(t, snap.Enabled)
	var svc models.Service
	require.NoError(t, e.db.First(&svc, res.Service.ID).Error)
	assert.Equal(t, models.ServiceDisabled, svc.Status)

	// Removed upstream behind our back: the local row still goes.
	delete(e.adapter.accounts, res.Service.UpstreamID)
	removed, err := e.pipeline.RemoveService(ctx, res.Service.ID)
	require.NoError(t, err)
	assert.True(t, removed.UpstreamMissing)
	assert.Zero(t, e.serviceCount(t))

	_, err = e.pipeline.RemoveService(ctx, res.Service.ID)
	assert.ErrorIs(t, err, ErrServiceNotFound)
}

func TestFulfillPrepaidStaysInWalletWhenSoldOut(t *testing.T) {
	plan := fixedPlan(50000)
	plan.PurchaseLimit = 1
	plan.PurchaseCount = 1
	e := newEnv(t, 0, plan)

	_, err := e.pipeline.Fulfill(context.Background(), Intent{UserID: "42", PlanID: e.plan.ID}, Prepaid{Amount: 50000, Reference: "ORD-2-bb"})
	assert.ErrorIs(t, err, ErrPlanSoldOut)
	assert.Equal(t, int64(50000), e.balance(t))
	assert.Zero(t, e.serviceCount(t))
}
