package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/blagoySimandov/arqrender/internal/billing"
	"github.com/blagoySimandov/arqrender/internal/logging"
	"github.com/blagoySimandov/arqrender/internal/metrics"
	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v84"
)

const maxWebhookBodyBytes = 1 << 20

type WebhookVerifier interface {
	VerifyWebhookSignature(payload []byte, signature string) (*stripe.Event, error)
}

type EventIngester interface {
	Ingest(ctx context.Context, event *stripe.Event) (billing.Outcome, error)
}

type WebhookHandler struct {
	verifier WebhookVerifier
	ingester EventIngester
}

func NewWebhookHandler(verifier WebhookVerifier, ingester EventIngester) *WebhookHandler {
	return &WebhookHandler{verifier: verifier, ingester: ingester}
}

type webhookResponse struct {
	Received bool            `json:"received"`
	Outcome  billing.Outcome `json:"outcome,omitempty"`
}

// HandleStripe verifies and ingests one Stripe event. Anything but a 2xx
// makes Stripe redeliver, so only failures worth retrying return 5xx.
func (h *WebhookHandler) HandleStripe(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	eventType := "unknown"
	status := http.StatusOK
	defer func() {
		metrics.WebhookRequestsTotal.WithLabelValues(eventType, strconv.Itoa(status)).Inc()
		metrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		status = http.StatusRequestEntityTooLarge
		writeError(w, status, "INVALID_PAYLOAD", "Request body too large")
		return
	}

	event, err := h.verifier.VerifyWebhookSignature(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		logging.EnrichError(r.Context(), err, "verify_webhook")
		if errors.Is(err, billing.ErrWebhookNotConfigured) {
			status = http.StatusServiceUnavailable
			writeError(w, status, "NOT_CONFIGURED", "Webhook secret is not configured")
			return
		}
		status = http.StatusBadRequest
		writeError(w, status, "INVALID_SIGNATURE", "Invalid webhook signature")
		return
	}
	eventType = string(event.Type)

	outcome, err := h.ingester.Ingest(r.Context(), event)
	if err != nil {
		log.Error().Err(err).Str("event_id", event.ID).Str("event_type", eventType).Msg("failed to ingest stripe event")
		status = http.StatusInternalServerError
		writeError(w, status, "INGEST_FAILED", "Event could not be processed")
		return
	}

	writeJSON(w, status, webhookResponse{Received: true, Outcome: outcome})
}
