// Package settings stores runtime feature flags in the system_settings table
// and serves them through a short-lived process cache.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/blagoySimandov/arqrender/internal/cache"
	"github.com/blagoySimandov/arqrender/internal/metrics"
	"github.com/blagoySimandov/arqrender/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
)

const KeyAuthProvider = "auth_provider"

type AuthProvider string

const (
	ProviderWorkOS AuthProvider = "workos"
	ProviderLocal  AuthProvider = "local"
)

func (p AuthProvider) Valid() bool {
	return p == ProviderWorkOS || p == ProviderLocal
}

var (
	ErrNotFound     = errors.New("setting not found")
	ErrInvalidValue = errors.New("invalid setting value")
)

var defaults = map[string]models.SystemSetting{
	KeyAuthProvider: {
		Key:         KeyAuthProvider,
		Value:       string(ProviderWorkOS),
		Description: "Active authentication provider: workos or local",
	},
}

type Repository interface {
	InitializeDatabase(ctx context.Context) error
	Get(ctx context.Context, key string) (*models.SystemSetting, error)
	List(ctx context.Context) ([]*models.SystemSetting, error)
	Upsert(ctx context.Context, setting *models.SystemSetting) error
}

type BunRepository struct {
	db *bun.DB
}

func NewBunRepository(db *bun.DB) *BunRepository {
	return &BunRepository{db: db}
}

func (r *BunRepository) InitializeDatabase(ctx context.Context) error {
	_, err := r.db.NewCreateTable().
		Model((*models.SystemSettingDB)(nil)).
		IfNotExists().
		Exec(ctx)
	return err
}

func (r *BunRepository) Get(ctx context.Context, key string) (*models.SystemSetting, error) {
	row := new(models.SystemSettingDB)
	err := r.db.NewSelect().Model(row).Where("setting_key = ?", key).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return row.ToSystemSetting(), nil
}

func (r *BunRepository) List(ctx context.Context) ([]*models.SystemSetting, error) {
	var rows []*models.SystemSettingDB
	if err := r.db.NewSelect().Model(&rows).Order("setting_key ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	out := make([]*models.SystemSetting, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.ToSystemSetting())
	}
	return out, nil
}

func (r *BunRepository) Upsert(ctx context.Context, s *models.SystemSetting) error {
	row := &models.SystemSettingDB{
		Key:         s.Key,
		Value:       s.Value,
		Description: s.Description,
		UpdatedBy:   s.UpdatedBy,
		UpdatedAt:   time.Now().UTC(),
	}
	_, err := r.db.NewInsert().
		Model(row).
		On("CONFLICT (setting_key) DO UPDATE").
		Set("setting_value = EXCLUDED.setting_value").
		Set("updated_by = EXCLUDED.updated_by").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to upsert setting %s: %w", s.Key, err)
	}
	return nil
}

// Service reads settings through a TTL cache. Writes made through Set are
// visible immediately in this process; other processes observe them after
// at most one TTL.
type Service struct {
	repo  Repository
	cache *cache.LoadingCache[string]
}

func NewService(repo Repository, ttl time.Duration) *Service {
	s := &Service{repo: repo}
	s.cache = cache.NewLoadingCache(32, ttl, s.load)
	return s
}

func (s *Service) load(ctx context.Context, key string) (string, error) {
	metrics.SettingsCacheLoads.Inc()
	setting, err := s.repo.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		if d, ok := defaults[key]; ok {
			return d.Value, nil
		}
		return "", err
	}
	if err != nil {
		return "", err
	}
	return setting.Value, nil
}

func (s *Service) Get(ctx context.Context, key string) (string, error) {
	return s.cache.Get(ctx, key)
}

// AuthProvider returns the active provider. Read failures and unknown
// stored values fall back to the default provider.
func (s *Service) AuthProvider(ctx context.Context) AuthProvider {
	v, err := s.Get(ctx, KeyAuthProvider)
	if err != nil {
		log.Warn().Err(err).Msg("failed to read auth provider setting, using default")
		return AuthProvider(defaults[KeyAuthProvider].Value)
	}
	p := AuthProvider(v)
	if !p.Valid() {
		log.Warn().Str("value", v).Msg("unknown auth provider setting, using default")
		return AuthProvider(defaults[KeyAuthProvider].Value)
	}
	return p
}

func (s *Service) SetAuthProvider(ctx context.Context, p AuthProvider, updatedBy string) error {
	if !p.Valid() {
		return fmt.Errorf("%w: auth provider %q", ErrInvalidValue, p)
	}
	return s.Set(ctx, KeyAuthProvider, string(p), updatedBy)
}

func (s *Service) Set(ctx context.Context, key, value, updatedBy string) error {
	setting := &models.SystemSetting{Key: key, Value: value, UpdatedBy: updatedBy}
	if d, ok := defaults[key]; ok {
		setting.Description = d.Description
	}
	if err := s.repo.Upsert(ctx, setting); err != nil {
		return err
	}
	s.Invalidate(key)
	log.Info().Str("key", key).Str("value", value).Str("updated_by", updatedBy).Msg("setting updated")
	return nil
}

func (s *Service) List(ctx context.Context) ([]*models.SystemSetting, error) {
	return s.repo.List(ctx)
}

// Invalidate drops cached values for keys, or all values when none are given.
func (s *Service) Invalidate(keys ...string) {
	s.cache.Invalidate(keys...)
}
