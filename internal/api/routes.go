package api

import (
	"context"
	"net/http"

	"github.com/blagoySimandov/arqrender/internal/auth"
	"github.com/blagoySimandov/arqrender/internal/logging"
	"github.com/blagoySimandov/arqrender/internal/user"
	"github.com/gorilla/mux"
)

type Pinger interface {
	PingContext(ctx context.Context) error
}

type Router struct {
	FrontendOrigin string
	DB             Pinger
	Metrics        http.Handler

	Resolver     *auth.Resolver
	Auth         *auth.Handlers
	Users        user.Service
	Subscription *SubscriptionHandler
	Ledger       *LedgerHandler
	Admin        *AdminHandler
	Webhook      *WebhookHandler
}

func SetupRoutes(rt Router) *mux.Router {
	r := mux.NewRouter()

	r.Use(CORSMiddleware(rt.FrontendOrigin))
	r.Use(logging.Middleware)
	r.Use(RecoveryMiddleware)

	// preflight requests need a matching route for the middleware to run
	r.Methods(http.MethodOptions).PathPrefix("/").HandlerFunc(func(http.ResponseWriter, *http.Request) {})

	r.HandleFunc("/healthz", rt.health).Methods("GET")
	if rt.Metrics != nil {
		r.Handle("/metrics", rt.Metrics).Methods("GET")
	}
	r.HandleFunc("/webhooks/stripe", rt.Webhook.HandleStripe).Methods("POST")

	r.HandleFunc("/auth/signup", rt.Auth.Signup).Methods("POST")
	r.HandleFunc("/auth/login", rt.Auth.Login).Methods("POST")
	r.HandleFunc("/auth/workos/login", rt.Auth.WorkOSLogin).Methods("GET")
	r.HandleFunc("/auth/workos/callback", rt.Auth.WorkOSCallback).Methods("POST")
	r.HandleFunc("/api/v1/auth/provider", rt.Auth.ActiveProvider).Methods("GET")
	r.HandleFunc("/api/v1/plans", rt.Subscription.ListPlans).Methods("GET")

	protected := r.PathPrefix("/api/v1").Subrouter()
	protected.Use(rt.Resolver.RequireAuth)
	protected.Use(user.UserMiddleware(rt.Users))

	protected.HandleFunc("/subscription", rt.Subscription.GetSubscription).Methods("GET")
	protected.HandleFunc("/subscription/checkout", rt.Subscription.CreateCheckout).Methods("POST")
	protected.HandleFunc("/subscription/extra", rt.Subscription.BuyExtra).Methods("POST")
	protected.HandleFunc("/subscription/cancel", rt.Subscription.Cancel).Methods("POST")
	protected.HandleFunc("/subscription/reactivate", rt.Subscription.Reactivate).Methods("POST")
	protected.HandleFunc("/subscription/portal", rt.Subscription.Portal).Methods("POST")
	protected.HandleFunc("/renders/consume", rt.Ledger.ConsumeRender).Methods("POST")
	protected.HandleFunc("/ledger/transactions", rt.Ledger.ListTransactions).Methods("GET")

	admin := protected.PathPrefix("/admin").Subrouter()
	admin.Use(user.RequireAdmin)
	admin.HandleFunc("/settings", rt.Admin.ListSettings).Methods("GET")
	admin.HandleFunc("/settings/auth-provider", rt.Admin.SetAuthProvider).Methods("PUT")
	admin.HandleFunc("/stats", rt.Admin.Stats).Methods("GET")
	admin.HandleFunc("/users", rt.Admin.ListUsers).Methods("GET")
	admin.HandleFunc("/users/{userID}", rt.Admin.UserDetails).Methods("GET")
	admin.HandleFunc("/users/{userID}/grants", rt.Admin.GrantRenders).Methods("POST")

	return r
}

func (rt Router) health(w http.ResponseWriter, r *http.Request) {
	if rt.DB != nil {
		if err := rt.DB.PingContext(r.Context()); err != nil {
			logging.EnrichError(r.Context(), err, "health_check")
			writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "database unreachable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
