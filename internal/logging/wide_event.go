package logging

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey string

const (
	contextKeyWideEvent contextKey = "wide_event"
	contextKeyTraceID   contextKey = "trace_id"
)

// WideEvent is a single structured log entry describing one request from
// start to finish. Handlers and services enrich it as the request flows
// through them, and the middleware emits it once at the end.
type WideEvent struct {
	TraceID   string    `json:"trace_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`

	HTTPMethod     string `json:"http_method,omitempty"`
	HTTPPath       string `json:"http_path,omitempty"`
	HTTPStatusCode int    `json:"http_status_code,omitempty"`
	HTTPDurationMs int64  `json:"http_duration_ms,omitempty"`

	UserID       string `json:"user_id,omitempty"`
	UserEmail    string `json:"user_email,omitempty"`
	AuthProvider string `json:"auth_provider,omitempty"`

	// Ledger snapshot after the request's mutation, if any
	Plan               string `json:"plan,omitempty"`
	SubscriptionStatus string `json:"subscription_status,omitempty"`
	MonthlyQuota       int    `json:"monthly_quota,omitempty"`
	MonthlyUsed        int    `json:"monthly_used,omitempty"`
	ExtraRenders       int    `json:"extra_renders,omitempty"`

	// Render consumption
	Bucket      string `json:"bucket,omitempty"`
	Quality     string `json:"quality,omitempty"`
	RolledOver  bool   `json:"rolled_over,omitempty"`
	CASAttempts int    `json:"cas_attempts,omitempty"`

	// Billing webhooks
	StripeEventID   string `json:"stripe_event_id,omitempty"`
	StripeEventType string `json:"stripe_event_type,omitempty"`
	BillingKind     string `json:"billing_kind,omitempty"`
	BillingOutcome  string `json:"billing_outcome,omitempty"`

	Error          string `json:"error,omitempty"`
	ErrorStage     string `json:"error_stage,omitempty"`
	PanicRecovered bool   `json:"panic_recovered,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// LedgerSnapshot is the subset of ledger state recorded on a wide event.
type LedgerSnapshot struct {
	Plan               string
	SubscriptionStatus string
	MonthlyQuota       int
	MonthlyUsed        int
	ExtraRenders       int
}

func NewWideEvent(eventType string) *WideEvent {
	return &WideEvent{
		TraceID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
		Metadata:  make(map[string]interface{}),
	}
}

// WithContext attaches a WideEvent to a context
func WithContext(ctx context.Context, event *WideEvent) context.Context {
	ctx = context.WithValue(ctx, contextKeyWideEvent, event)
	ctx = context.WithValue(ctx, contextKeyTraceID, event.TraceID)
	return ctx
}

// FromContext retrieves the WideEvent from a context
func FromContext(ctx context.Context) *WideEvent {
	if event, ok := ctx.Value(contextKeyWideEvent).(*WideEvent); ok {
		return event
	}
	return nil
}

func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(contextKeyTraceID).(string); ok {
		return traceID
	}
	return ""
}

func EnrichHTTP(ctx context.Context, method, path string) {
	if event := FromContext(ctx); event != nil {
		event.HTTPMethod = method
		event.HTTPPath = path
	}
}

func EnrichHTTPStatus(ctx context.Context, statusCode int) {
	if event := FromContext(ctx); event != nil {
		event.HTTPStatusCode = statusCode
	}
}

func EnrichHTTPDuration(ctx context.Context, duration time.Duration) {
	if event := FromContext(ctx); event != nil {
		event.HTTPDurationMs = duration.Milliseconds()
	}
}

func EnrichUser(ctx context.Context, userID, email, provider string) {
	if event := FromContext(ctx); event != nil {
		event.UserID = userID
		event.UserEmail = email
		event.AuthProvider = provider
	}
}

func EnrichLedger(ctx context.Context, s LedgerSnapshot) {
	if event := FromContext(ctx); event != nil {
		event.Plan = s.Plan
		event.SubscriptionStatus = s.SubscriptionStatus
		event.MonthlyQuota = s.MonthlyQuota
		event.MonthlyUsed = s.MonthlyUsed
		event.ExtraRenders = s.ExtraRenders
	}
}

func EnrichRender(ctx context.Context, bucket, quality string, rolledOver bool, attempts int) {
	if event := FromContext(ctx); event != nil {
		event.Bucket = bucket
		event.Quality = quality
		event.RolledOver = rolledOver
		event.CASAttempts = attempts
	}
}

func EnrichStripeEvent(ctx context.Context, id, eventType string) {
	if event := FromContext(ctx); event != nil {
		event.StripeEventID = id
		event.StripeEventType = eventType
	}
}

func EnrichBilling(ctx context.Context, kind, outcome string) {
	if event := FromContext(ctx); event != nil {
		event.BillingKind = kind
		event.BillingOutcome = outcome
	}
}

func EnrichError(ctx context.Context, err error, stage string) {
	if event := FromContext(ctx); event != nil {
		if err != nil {
			event.Error = err.Error()
			event.ErrorStage = stage
		}
	}
}

func EnrichPanic(ctx context.Context) {
	if event := FromContext(ctx); event != nil {
		event.PanicRecovered = true
	}
}

func EnrichMetadata(ctx context.Context, key string, value interface{}) {
	if event := FromContext(ctx); event != nil {
		event.Metadata[key] = value
	}
}

// Emit outputs the WideEvent as a structured log
func Emit(ctx context.Context) {
	event := FromContext(ctx)
	if event == nil {
		return
	}
	level := slog.LevelInfo
	if event.Error != "" || event.PanicRecovered {
		level = slog.LevelError
	}
	slog.LogAttrs(ctx, level, "wide_event", event.attrs()...)
}

func (e *WideEvent) attrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("trace_id", e.TraceID),
		slog.String("event_type", e.EventType),
		slog.Time("timestamp", e.Timestamp),
	}

	addString := func(key, value string) {
		if value != "" {
			attrs = append(attrs, slog.String(key, value))
		}
	}
	addInt := func(key string, value int) {
		if value != 0 {
			attrs = append(attrs, slog.Int(key, value))
		}
	}

	addString("http_method", e.HTTPMethod)
	addString("http_path", e.HTTPPath)
	addInt("http_status_code", e.HTTPStatusCode)
	if e.HTTPDurationMs != 0 {
		attrs = append(attrs, slog.Int64("http_duration_ms", e.HTTPDurationMs))
	}

	addString("user_id", e.UserID)
	addString("user_email", e.UserEmail)
	addString("auth_provider", e.AuthProvider)

	addString("plan", e.Plan)
	addString("subscription_status", e.SubscriptionStatus)
	addInt("monthly_quota", e.MonthlyQuota)
	addInt("monthly_used", e.MonthlyUsed)
	addInt("extra_renders", e.ExtraRenders)

	addString("bucket", e.Bucket)
	addString("quality", e.Quality)
	if e.RolledOver {
		attrs = append(attrs, slog.Bool("rolled_over", true))
	}
	addInt("cas_attempts", e.CASAttempts)

	addString("stripe_event_id", e.StripeEventID)
	addString("stripe_event_type", e.StripeEventType)
	addString("billing_kind", e.BillingKind)
	addString("billing_outcome", e.BillingOutcome)

	addString("error", e.Error)
	addString("error_stage", e.ErrorStage)
	if e.PanicRecovered {
		attrs = append(attrs, slog.Bool("panic_recovered", true))
	}

	if len(e.Metadata) > 0 {
		attrs = append(attrs, slog.Any("metadata", e.Metadata))
	}
	return attrs
}
