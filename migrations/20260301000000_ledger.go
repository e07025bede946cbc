package migrations

import (
	"context"

	"github.com/blagoySimandov/arqrender/internal/models"
	"github.com/blagoySimandov/arqrender/internal/settings"
	"github.com/blagoySimandov/arqrender/internal/user"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		if err := user.NewUserRepository(db).InitializeDatabase(ctx); err != nil {
			return err
		}
		return settings.NewBunRepository(db).InitializeDatabase(ctx)
	}, func(ctx context.Context, db *bun.DB) error {
		for _, model := range []any{
			(*models.SystemSettingDB)(nil),
			(*models.LedgerTransactionDB)(nil),
			(*models.ProcessedEventDB)(nil),
			(*models.UserDB)(nil),
		} {
			if _, err := db.NewDropTable().Model(model).IfExists().Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}
