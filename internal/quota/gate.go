package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/blagoySimandov/arqrender/internal/entitlement"
	"github.com/blagoySimandov/arqrender/internal/logging"
	"github.com/blagoySimandov/arqrender/internal/metrics"
	"github.com/blagoySimandov/arqrender/internal/models"
	"github.com/blagoySimandov/arqrender/internal/notify"
	"github.com/blagoySimandov/arqrender/internal/user"
	"github.com/rs/zerolog/log"
)

const alertTimeout = 10 * time.Second

type Result struct {
	Bucket     entitlement.Bucket
	Ledger     entitlement.Ledger
	Quality    entitlement.Quality
	HighRes    bool
	RolledOver bool
	Attempts   int
}

// Gate debits one render per successful call. It is the only path that
// spends quota.
type Gate struct {
	store    Store
	notifier notify.Notifier
}

func NewGate(store Store, notifier notify.Notifier) *Gate {
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	return &Gate{store: store, notifier: notifier}
}

// TryConsume takes one render from userID's ledger at now. A stale period is
// rolled over in the same write. A denial persists nothing and returns a
// *entitlement.DenialError. Version conflicts are retried up to MaxAttempts
// times before ErrConflict is returned.
func (g *Gate) TryConsume(ctx context.Context, userID string, now time.Time) (*Result, error) {
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		u, err := g.store.GetByID(ctx, userID)
		if err != nil {
			metrics.RenderConsumeTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("failed to load ledger: %w", err)
		}

		current, rolled := entitlement.Rollover(u.Ledger, now)
		decision := entitlement.CanConsume(current, now)
		if !decision.Allowed {
			metrics.RenderConsumeTotal.WithLabelValues("no_quota").Inc()
			logging.EnrichLedger(ctx, snapshot(current))
			return nil, decision.Err(current.Plan)
		}

		next, err := entitlement.Debit(current, decision.Bucket)
		if err != nil {
			return nil, err
		}

		txs := make([]*models.LedgerTransaction, 0, 2)
		if rolled {
			txs = append(txs, resetTransaction(current, "rollover"))
		}
		txs = append(txs, usageTransaction(current, next, decision.Bucket))

		err = g.store.CommitLedger(ctx, user.LedgerCommit{
			UserID:          userID,
			ExpectedVersion: u.LedgerVersion,
			Ledger:          next,
			Transactions:    txs,
		})
		if errors.Is(err, user.ErrConflict) {
			metrics.LedgerCASRetries.WithLabelValues("consume").Inc()
			log.Debug().Str("user_id", userID).Int("attempt", attempt).Msg("ledger version conflict, retrying")
			continue
		}
		if err != nil {
			metrics.RenderConsumeTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("failed to commit ledger: %w", err)
		}

		if rolled {
			metrics.RolloversTotal.WithLabelValues("gate").Inc()
		}
		metrics.RenderConsumeTotal.WithLabelValues(string(decision.Bucket)).Inc()

		quality, highRes := entitlement.QualityFor(next.Plan)
		logging.EnrichLedger(ctx, snapshot(next))
		logging.EnrichRender(ctx, string(decision.Bucket), string(quality), rolled, attempt)

		if entitlement.CrossedAlertThreshold(current, next) {
			g.sendAlert(u, next)
		}

		return &Result{
			Bucket:     decision.Bucket,
			Ledger:     next,
			Quality:    quality,
			HighRes:    highRes,
			RolledOver: rolled,
			Attempts:   attempt,
		}, nil
	}

	metrics.RenderConsumeTotal.WithLabelValues("conflict").Inc()
	return nil, fmt.Errorf("%w: gave up after %d attempts", ErrConflict, MaxAttempts)
}

func (g *Gate) sendAlert(u *models.User, l entitlement.Ledger) {
	alert := notify.QuotaAlert{
		UserID:       u.ID,
		Email:        u.Email,
		Name:         u.Name,
		Plan:         string(l.Plan),
		MonthlyUsed:  l.MonthlyUsed,
		MonthlyQuota: l.MonthlyQuota,
		ExtraRenders: l.ExtraRenders,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), alertTimeout)
		defer cancel()
		if err := g.notifier.QuotaAlert(ctx, alert); err != nil {
			metrics.QuotaAlertsTotal.WithLabelValues("error").Inc()
			log.Error().Err(err).Str("user_id", alert.UserID).Msg("failed to send quota alert")
			return
		}
		metrics.QuotaAlertsTotal.WithLabelValues("sent").Inc()
	}()
}
