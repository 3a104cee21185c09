package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"fleet-billing/internal/domain/model"
	"fleet-billing/internal/domain/ports/repository"
	"fleet-billing/internal/infra/metrics"
	red "fleet-billing/internal/infra/redis"
)

var _ repository.CatalogRepository = (*catalogCacheDecorator)(nil)

// catalogCacheDecorator caches catalog lookups. Catalog rows never change
// after creation, so entries only expire by TTL.
type catalogCacheDecorator struct {
	inner repository.CatalogRepository
	cache red.RedisClient
	ttl   time.Duration
}

func NewCatalogCacheDecorator(inner repository.CatalogRepository, cache red.RedisClient, ttl time.Duration) repository.CatalogRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &catalogCacheDecorator{inner: inner, cache: cache, ttl: ttl}
}

func cached[T any](ctx context.Context, d *catalogCacheDecorator, kind, key string, load func() (*T, error)) (*T, error) {
	if val, err := d.cache.Get(ctx, key); err == nil {
		var v T
		if json.Unmarshal([]byte(val), &v) == nil {
			metrics.IncCacheRequest(kind, "hit")
			return &v, nil
		}
	}
	metrics.IncCacheRequest(kind, "miss")
	v, err := load()
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(v); err == nil {
		_ = d.cache.Set(ctx, key, b, d.ttl)
	}
	return v, nil
}

func (d *catalogCacheDecorator) FindAccountChargeByID(ctx context.Context, tx repository.Tx, id string) (*model.AccountCharge, error) {
	return cached(ctx, d, "account_charge", "catalog:ac:"+id, func() (*model.AccountCharge, error) {
		return d.inner.FindAccountChargeByID(ctx, tx, id)
	})
}

func (d *catalogCacheDecorator) FindAccountCharge(ctx context.Context, tx repository.Tx, amount decimal.Decimal, period string) (*model.AccountCharge, error) {
	key := fmt.Sprintf("catalog:ac:%s:%s", amount.String(), period)
	return cached(ctx, d, "account_charge", key, func() (*model.AccountCharge, error) {
		return d.inner.FindAccountCharge(ctx, tx, amount, period)
	})
}

func (d *catalogCacheDecorator) FindServiceByID(ctx context.Context, tx repository.Tx, id string) (*model.Service, error) {
	return cached(ctx, d, "service", "catalog:svc:"+id, func() (*model.Service, error) {
		return d.inner.FindServiceByID(ctx, tx, id)
	})
}

// A new charge can shadow an older one with the same amount and period.
func (d *catalogCacheDecorator) SaveAccountCharge(ctx context.Context, tx repository.Tx, a *model.AccountCharge) error {
	_ = d.cache.Del(ctx, fmt.Sprintf("catalog:ac:%s:%s", a.Amount.String(), a.Period))
	return d.inner.SaveAccountCharge(ctx, tx, a)
}

func (d *catalogCacheDecorator) SaveService(ctx context.Context, tx repository.Tx, s *model.Service) error {
	return d.inner.SaveService(ctx, tx, s)
}

func (d *catalogCacheDecorator) ListAccountCharges(ctx context.Context, tx repository.Tx) ([]*model.AccountCharge, error) {
	return d.inner.ListAccountCharges(ctx, tx)
}

func (d *catalogCacheDecorator) ListServices(ctx context.Context, tx repository.Tx) ([]*model.Service, error) {
	return d.inner.ListServices(ctx, tx)
}
