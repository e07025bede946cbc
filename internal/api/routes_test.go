package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/blagoySimandov/arqrender/internal/api"
	"github.com/blagoySimandov/arqrender/internal/auth"
	"github.com/blagoySimandov/arqrender/internal/billing"
	"github.com/blagoySimandov/arqrender/internal/config"
	"github.com/blagoySimandov/arqrender/internal/db"
	"github.com/blagoySimandov/arqrender/internal/entitlement"
	"github.com/blagoySimandov/arqrender/internal/models"
	"github.com/blagoySimandov/arqrender/internal/notify"
	"github.com/blagoySimandov/arqrender/internal/quota"
	"github.com/blagoySimandov/arqrender/internal/settings"
	"github.com/blagoySimandov/arqrender/internal/user"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"
)

const (
	testWebhookSecret = "whsec_test"
	testOrigin        = "http://app.example.com"
	adminEmail        = "admin@example.com"
)

type fakeCustomers struct{}

func (fakeCustomers) CreateCustomer(ctx context.Context, userID, email string) (string, error) {
	return "cus_" + userID, nil
}

type fakeBilling struct {
	checkouts []entitlement.Plan
	extras    []int
}

func (f *fakeBilling) CreateSubscriptionCheckout(ctx context.Context, customerID, userID string, plan entitlement.Plan) (*stripe.CheckoutSession, error) {
	f.checkouts = append(f.checkouts, plan)
	return &stripe.CheckoutSession{ID: "cs_sub", URL: "https://checkout.example.com/" + customerID}, nil
}

func (f *fakeBilling) CreateExtraCheckout(ctx context.Context, customerID, userID string, quantity int) (*stripe.CheckoutSession, error) {
	if quantity <= 0 || quantity > billing.MaxExtraPacks {
		return nil, billing.ErrInvalidQuantity
	}
	f.extras = append(f.extras, quantity)
	return &stripe.CheckoutSession{ID: "cs_extra", URL: "https://checkout.example.com/extra"}, nil
}

func (f *fakeBilling) SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*stripe.Subscription, error) {
	return &stripe.Subscription{ID: subscriptionID, CancelAtPeriodEnd: cancel}, nil
}

func (f *fakeBilling) CreatePortalSession(ctx context.Context, customerID string) (*stripe.BillingPortalSession, error) {
	return &stripe.BillingPortalSession{URL: "https://billing.example.com/" + customerID}, nil
}

type server struct {
	router  *mux.Router
	billing *fakeBilling
}

func newServer(t *testing.T) *server {
	t.Helper()
	ctx := context.Background()

	bdb, err := db.NewBunSQLiteClient(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { bdb.Close() })

	repo := user.NewUserRepository(bdb)
	require.NoError(t, repo.InitializeDatabase(ctx))
	settingsRepo := settings.NewBunRepository(bdb)
	require.NoError(t, settingsRepo.InitializeDatabase(ctx))
	settingsSvc := settings.NewService(settingsRepo, time.Minute)
	require.NoError(t, settingsSvc.SetAuthProvider(ctx, settings.ProviderLocal, "test"))

	cfg := &config.Config{
		SessionSecret:       "session-secret",
		SessionTTL:          time.Hour,
		StripeWebhookSecret: testWebhookSecret,
		FE_BASE_URL:         testOrigin,
	}
	users := user.NewUserService(repo, fakeCustomers{}, func(email string) bool { return email == adminEmail })
	local := auth.NewLocalProvider(cfg, users)
	resolver := auth.NewResolver(settingsSvc, local)

	catalog := billing.DefaultCatalog()
	catalog.Plans[0].PriceID = "price_basic"
	catalog.Plans[1].PriceID = "price_pro"
	catalog.Extra.PriceID = "price_extra"
	stripeClient := billing.NewClient(cfg, catalog)
	reconciler := quota.NewReconciler(repo, catalog.Rules())
	fb := &fakeBilling{}

	router := api.SetupRoutes(api.Router{
		FrontendOrigin: testOrigin,
		DB:             bdb,
		Resolver:       resolver,
		Auth:           auth.NewHandlers(resolver, nil, local),
		Users:          users,
		Subscription:   api.NewSubscriptionHandler(fb, users, catalog),
		Ledger:         api.NewLedgerHandler(quota.NewGate(repo, notify.LogNotifier{}), repo),
		Admin:          api.NewAdminHandler(settingsSvc, reconciler, repo),
		Webhook:        api.NewWebhookHandler(stripeClient, billing.NewAdapter(repo, reconciler, catalog)),
	})
	return &server{router: router, billing: fb}
}

func (s *server) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *server) signup(t *testing.T, email string) *auth.Session {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/auth/signup", "", map[string]string{"email": email, "password": "long enough"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var session auth.Session
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&session))
	return &session
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func TestPublicRoutes(t *testing.T) {
	s := newServer(t)

	rec := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Trace-Id"))

	rec = s.do(t, http.MethodOptions, "/api/v1/subscription", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, testOrigin, rec.Header().Get("Access-Control-Allow-Origin"))

	rec = s.do(t, http.MethodGet, "/api/v1/plans", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	plans := decode[api.PlansResponse](t, rec)
	assert.Len(t, plans.Plans, 2)
	assert.Equal(t, 20, plans.Extra.Renders)

	rec = s.do(t, http.MethodGet, "/api/v1/auth/provider", "", nil)
	assert.JSONEq(t, `{"provider":"local"}`, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/v1/subscription", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStarterRendersThenDenial(t *testing.T) {
	s := newServer(t)
	token := s.signup(t, "ana@example.com").AccessToken

	rec := s.do(t, http.MethodGet, "/api/v1/subscription", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[api.SubscriptionStatusResponse](t, rec)
	assert.Equal(t, entitlement.PlanFree, status.Plan)
	assert.Equal(t, entitlement.StarterExtraRenders, status.TotalAvailable)
	assert.False(t, status.HasSubscription)

	for i := entitlement.StarterExtraRenders - 1; i >= 0; i-- {
		rec = s.do(t, http.MethodPost, "/api/v1/renders/consume", token, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		res := decode[api.ConsumeRenderResponse](t, rec)
		assert.Equal(t, entitlement.BucketExtra, res.Bucket)
		assert.Equal(t, i, res.TotalAvailable)
	}

	rec = s.do(t, http.MethodPost, "/api/v1/renders/consume", token, nil)
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	denial := decode[api.ErrorResponse](t, rec)
	assert.Equal(t, "NO_QUOTA", denial.Code)
	assert.Equal(t, "free", denial.Plan)
	assert.Contains(t, denial.Message, "subscribe")

	rec = s.do(t, http.MethodGet, "/api/v1/ledger/transactions?limit=2", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	txs := decode[api.TransactionsResponse](t, rec)
	assert.Len(t, txs.Transactions, 2)

	rec = s.do(t, http.MethodGet, "/api/v1/ledger/transactions?limit=zero", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExtraPurchaseWebhook(t *testing.T) {
	s := newServer(t)
	session := s.signup(t, "bo@example.com")

	rec := s.do(t, http.MethodPost, "/api/v1/subscription/extra", session.AccessToken, map[string]int{"quantity": 2})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int{2}, s.billing.extras)

	rec = s.do(t, http.MethodPost, "/api/v1/subscription/extra", session.AccessToken, map[string]int{"quantity": 50})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	payload := []byte(fmt.Sprintf(`{
		"id": "evt_extra_1",
		"object": "event",
		"type": "checkout.session.completed",
		"created": %d,
		"data": {"object": {
			"id": "cs_extra",
			"mode": "payment",
			"customer": "cus_%s",
			"metadata": {"user_id": %q, "type": "extra_renders", "quantity": "2"}
		}}
	}`, time.Now().Unix(), session.User.ID, session.User.ID))

	deliver := func(body []byte) *httptest.ResponseRecorder {
		signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
			Payload:   body,
			Secret:    testWebhookSecret,
			Timestamp: time.Now(),
			Scheme:    "v1",
		})
		req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(signed.Payload))
		req.Header.Set("Stripe-Signature", signed.Header)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		return rec
	}

	rec = deliver(payload)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"received":true,"outcome":"applied"}`, rec.Body.String())

	rec = deliver(payload)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":true,"outcome":"duplicate"}`, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/v1/subscription", session.AccessToken, nil)
	status := decode[api.SubscriptionStatusResponse](t, rec)
	assert.Equal(t, entitlement.StarterExtraRenders+40, status.ExtraRenders)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	bad := httptest.NewRecorder()
	s.router.ServeHTTP(bad, req)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestSubscriptionManagement(t *testing.T) {
	s := newServer(t)
	token := s.signup(t, "cy@example.com").AccessToken

	rec := s.do(t, http.MethodPost, "/api/v1/subscription/cancel", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "NO_SUBSCRIPTION", decode[api.ErrorResponse](t, rec).Code)

	rec = s.do(t, http.MethodPost, "/api/v1/subscription/portal", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/subscription/checkout", token, map[string]string{"plan": "free"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/subscription/checkout", token, map[string]string{"plan": "pro"})
	require.Equal(t, http.StatusOK, rec.Code)
	checkout := decode[api.CheckoutResponse](t, rec)
	assert.Contains(t, checkout.CheckoutURL, "cus_")
	assert.Equal(t, []entitlement.Plan{entitlement.PlanPro}, s.billing.checkouts)

	rec = s.do(t, http.MethodPost, "/api/v1/subscription/portal", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminSwitchesAuthProvider(t *testing.T) {
	s := newServer(t)
	userToken := s.signup(t, "dee@example.com").AccessToken
	admin := s.signup(t, adminEmail)

	body := map[string]string{"provider": "workos"}
	rec := s.do(t, http.MethodPut, "/api/v1/admin/settings/auth-provider", userToken, body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/admin/users/missing/grants", admin.AccessToken, map[string]any{"renders": 2})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/admin/users/"+admin.User.ID+"/grants", admin.AccessToken, map[string]any{"renders": 2, "refund": true, "reason": "render failed"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, entitlement.StarterExtraRenders+2, decode[entitlement.Ledger](t, rec).ExtraRenders)

	rec = s.do(t, http.MethodPut, "/api/v1/admin/settings/auth-provider", admin.AccessToken, map[string]string{"provider": "saml"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPut, "/api/v1/admin/settings/auth-provider", admin.AccessToken, body)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/auth/provider", "", nil)
	assert.JSONEq(t, `{"provider":"workos"}`, rec.Body.String())

	// local sessions stop verifying once the provider is switched away
	rec = s.do(t, http.MethodGet, "/api/v1/subscription", userToken, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = s.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "dee@example.com", "password": "long enough"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminReports(t *testing.T) {
	s := newServer(t)
	dee := s.signup(t, "dee@example.com")
	admin := s.signup(t, adminEmail)

	rec := s.do(t, http.MethodPost, "/api/v1/renders/consume", dee.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/admin/stats", dee.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/admin/stats", admin.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[user.AdminStats](t, rec)
	assert.Equal(t, 2, stats.TotalUsers)
	assert.Equal(t, 1, stats.RendersConsumed)
	assert.Equal(t, 2*entitlement.StarterExtraRenders-1, stats.ExtraRendersAvailable)
	assert.Equal(t, []user.PlanCount{{Plan: entitlement.PlanFree, SubscriptionStatus: entitlement.StatusInactive, Users: 2}}, stats.ByPlan)

	rec = s.do(t, http.MethodGet, "/api/v1/admin/users?limit=1", admin.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[api.UserListResponse](t, rec)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, 1, page.Limit)
	assert.Len(t, page.Users, 1)

	rec = s.do(t, http.MethodGet, "/api/v1/admin/users?limit=1&offset=5", admin.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[api.UserListResponse](t, rec).Users)

	rec = s.do(t, http.MethodGet, "/api/v1/admin/users?limit=abc", admin.AccessToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/v1/admin/users?offset=-1", admin.AccessToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/admin/users/"+dee.User.ID, admin.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	details := decode[api.UserDetailsResponse](t, rec)
	assert.Equal(t, "dee@example.com", details.User.Email)
	assert.Equal(t, entitlement.StarterExtraRenders-1, details.User.Ledger.ExtraRenders)
	require.Len(t, details.Transactions, 1)
	assert.Equal(t, models.TransactionUsage, details.Transactions[0].Type)

	rec = s.do(t, http.MethodGet, "/api/v1/admin/users/missing", admin.AccessToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
