package user

import (
	"context"

	"github.com/blagoySimandov/arqrender/internal/entitlement"
	"github.com/blagoySimandov/arqrender/internal/models"
)

type PlanCount struct {
	Plan               entitlement.Plan               `bun:"plan" json:"plan"`
	SubscriptionStatus entitlement.SubscriptionStatus `bun:"subscription_status" json:"subscription_status"`
	Users              int                            `bun:"users" json:"users"`
}

// AdminStats summarizes every account's ledger. RendersConsumed counts
// usage rows in the audit trail, so it survives period rollovers.
type AdminStats struct {
	TotalUsers            int         `json:"total_users"`
	ByPlan                []PlanCount `json:"by_plan"`
	MonthlyRendersUsed    int         `json:"monthly_renders_used"`
	ExtraRendersAvailable int         `json:"extra_renders_available"`
	ExtraRendersPurchased int         `json:"extra_renders_purchased"`
	RendersConsumed       int         `json:"renders_consumed"`
}

func (r *UserRepository) AdminStats(ctx context.Context) (*AdminStats, error) {
	stats := &AdminStats{}

	err := r.db.NewSelect().
		Model((*models.UserDB)(nil)).
		ColumnExpr("COUNT(*)").
		ColumnExpr("COALESCE(SUM(monthly_used), 0)").
		ColumnExpr("COALESCE(SUM(extra_renders), 0)").
		Scan(ctx, &stats.TotalUsers, &stats.MonthlyRendersUsed, &stats.ExtraRendersAvailable)
	if err != nil {
		return nil, classify("admin stats totals", err)
	}

	err = r.db.NewSelect().
		Model((*models.UserDB)(nil)).
		ColumnExpr("plan, subscription_status, COUNT(*) AS users").
		Group("plan", "subscription_status").
		Order("plan", "subscription_status").
		Scan(ctx, &stats.ByPlan)
	if err != nil {
		return nil, classify("admin stats by plan", err)
	}
	if stats.ByPlan == nil {
		stats.ByPlan = []PlanCount{}
	}

	err = r.db.NewSelect().
		Model((*models.LedgerTransactionDB)(nil)).
		ColumnExpr("COALESCE(SUM(CASE WHEN type = ? THEN amount ELSE 0 END), 0)", models.TransactionPurchase).
		ColumnExpr("COALESCE(SUM(CASE WHEN type = ? THEN 1 ELSE 0 END), 0)", models.TransactionUsage).
		Scan(ctx, &stats.ExtraRendersPurchased, &stats.RendersConsumed)
	if err != nil {
		return nil, classify("admin stats transactions", err)
	}
	return stats, nil
}

// ListUsers pages through accounts, newest first, and reports the total
// number of accounts alongside the page.
func (r *UserRepository) ListUsers(ctx context.Context, limit, offset int) ([]*models.User, int, error) {
	var rows []*models.UserDB
	total, err := r.db.NewSelect().
		Model(&rows).
		Order("created_at DESC", "id ASC").
		Limit(limit).
		Offset(offset).
		ScanAndCount(ctx)
	if err != nil {
		return nil, 0, classify("list users", err)
	}

	out := make([]*models.User, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.ToUser())
	}
	return out, total, nil
}
