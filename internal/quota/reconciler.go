package quota

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/blagoySimandov/arqrender/internal/entitlement"
	"github.com/blagoySimandov/arqrender/internal/logging"
	"github.com/blagoySimandov/arqrender/internal/metrics"
	"github.com/blagoySimandov/arqrender/internal/models"
	"github.com/blagoySimandov/arqrender/internal/user"
	"github.com/rs/zerolog/log"
)

// DefaultSweepBatch is the number of stale ledgers a sweep visits per run.
const DefaultSweepBatch = 500

const refundPrefix = "refund: "

type Reconciler struct {
	store Store
	rules entitlement.Rules
	batch int
}

func NewReconciler(store Store, rules entitlement.Rules) *Reconciler {
	return &Reconciler{store: store, rules: rules, batch: DefaultSweepBatch}
}

func (r *Reconciler) Rules() entitlement.Rules {
	return r.rules
}

// ApplyEvent applies ev to userID's ledger. When ev.ID is set the event is
// applied at most once: a redelivery returns ErrDuplicate and changes
// nothing.
func (r *Reconciler) ApplyEvent(ctx context.Context, userID string, ev entitlement.BillingEvent) (entitlement.Ledger, error) {
	return r.apply(ctx, userID, ev, ev.ID)
}

// Grant adds renders to the extra bucket outside of any payment, for refunds
// of failed renders and goodwill bonuses.
func (r *Reconciler) Grant(ctx context.Context, userID string, renders int, refund bool, reason string) (entitlement.Ledger, error) {
	ev := entitlement.BillingEvent{
		Kind:       entitlement.EventExtraGranted,
		Quantity:   renders,
		OccurredAt: time.Now().UTC(),
	}
	if refund {
		reason = refundPrefix + reason
	}
	return r.apply(ctx, userID, ev, reason)
}

func (r *Reconciler) apply(ctx context.Context, userID string, ev entitlement.BillingEvent, reference string) (entitlement.Ledger, error) {
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		u, err := r.store.GetByID(ctx, userID)
		if err != nil {
			return entitlement.Ledger{}, fmt.Errorf("failed to load ledger: %w", err)
		}

		next, err := r.rules.Apply(u.Ledger, ev)
		if err != nil {
			return u.Ledger, err
		}

		err = r.store.CommitLedger(ctx, user.LedgerCommit{
			UserID:          userID,
			ExpectedVersion: u.LedgerVersion,
			Ledger:          next,
			EventID:         ev.ID,
			EventKind:       string(ev.Kind),
			Transactions:    eventTransactions(u.Ledger, next, ev, reference),
		})
		switch {
		case err == nil:
			logging.EnrichLedger(ctx, snapshot(next))
			log.Info().
				Str("user_id", userID).
				Str("event_id", ev.ID).
				Str("kind", string(ev.Kind)).
				Str("plan", string(next.Plan)).
				Str("status", string(next.SubscriptionStatus)).
				Int("extra_renders", next.ExtraRenders).
				Msg("billing event applied")
			return next, nil
		case errors.Is(err, user.ErrDuplicateEvent):
			return u.Ledger, fmt.Errorf("%w: %s", ErrDuplicate, ev.ID)
		case errors.Is(err, user.ErrConflict):
			metrics.LedgerCASRetries.WithLabelValues("apply").Inc()
			continue
		default:
			return u.Ledger, fmt.Errorf("failed to commit ledger: %w", err)
		}
	}
	return entitlement.Ledger{}, fmt.Errorf("%w: gave up after %d attempts", ErrConflict, MaxAttempts)
}

func eventTransactions(before, after entitlement.Ledger, ev entitlement.BillingEvent, reference string) []*models.LedgerTransaction {
	switch ev.Kind {
	case entitlement.EventExtraPurchaseCompleted, entitlement.EventExtraGranted:
		typ := models.TransactionPurchase
		if ev.Kind == entitlement.EventExtraGranted {
			typ = models.TransactionBonus
			if strings.HasPrefix(reference, refundPrefix) {
				typ = models.TransactionRefund
			}
		}
		return []*models.LedgerTransaction{{
			Type:             typ,
			Bucket:           string(entitlement.BucketExtra),
			Amount:           after.ExtraRenders - before.ExtraRenders,
			ExtraBefore:      before.ExtraRenders,
			ExtraAfter:       after.ExtraRenders,
			MonthlyUsedAfter: after.MonthlyUsed,
			Reference:        reference,
		}}
	case entitlement.EventSubscriptionActivated, entitlement.EventSubscriptionRenewed:
		return []*models.LedgerTransaction{resetTransaction(after, reference)}
	default:
		return nil
	}
}

// Sweep rolls over ledgers whose period ended at or before now. Failures on
// one ledger are logged and do not stop the others. It returns how many
// ledgers were rolled over.
func (r *Reconciler) Sweep(ctx context.Context, now time.Time) (int, error) {
	stale, err := r.store.ListStaleLedgers(ctx, now, r.batch)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale ledgers: %w", err)
	}

	var errs []error
	rolled := 0
	for _, u := range stale {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		ok, err := r.rolloverOne(ctx, u, now)
		if err != nil {
			log.Error().Err(err).Str("user_id", u.ID).Msg("rollover failed")
			errs = append(errs, fmt.Errorf("user %s: %w", u.ID, err))
			continue
		}
		if ok {
			rolled++
		}
	}

	metrics.RolloversTotal.WithLabelValues("sweep").Add(float64(rolled))
	log.Info().Int("candidates", len(stale)).Int("rolled", rolled).Msg("rollover sweep finished")
	return rolled, errors.Join(errs...)
}

func (r *Reconciler) rolloverOne(ctx context.Context, u *models.User, now time.Time) (bool, error) {
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		if attempt > 1 {
			fresh, err := r.store.GetByID(ctx, u.ID)
			if err != nil {
				return false, err
			}
			u = fresh
		}

		next, changed := entitlement.Rollover(u.Ledger, now)
		if !changed {
			return false, nil
		}

		err := r.store.CommitLedger(ctx, user.LedgerCommit{
			UserID:          u.ID,
			ExpectedVersion: u.LedgerVersion,
			Ledger:          next,
			Transactions:    []*models.LedgerTransaction{resetTransaction(next, "rollover")},
		})
		if errors.Is(err, user.ErrConflict) {
			metrics.LedgerCASRetries.WithLabelValues("sweep").Inc()
			continue
		}
		if err != nil {
			return false, err
		}
		return true, nil
	}
	return false, ErrConflict
}
