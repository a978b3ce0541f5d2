package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"storyforge-api/internal/domain/entity"
	"storyforge-api/internal/domain/repository"
	"storyforge-api/pkg/logger"
)

const (
	tokenCostCacheKey = "billing:token_cost_config"
	modifiersCacheKey = "billing:credit_modifiers"
)

// cachedBillingConfigRepository 价目配置的读穿缓存装饰器
// 价目几乎不变，每次预估都查库太浪费；singleflight 防止
// 缓存失效瞬间的并发击穿
type cachedBillingConfigRepository struct {
	inner  repository.BillingConfigRepository
	client *Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewCachedBillingConfigRepository 包装价目仓储，加 Redis 缓存
func NewCachedBillingConfigRepository(inner repository.BillingConfigRepository, client *Client, ttl time.Duration) repository.BillingConfigRepository {
	return &cachedBillingConfigRepository{
		inner:  inner,
		client: client,
		ttl:    ttl,
	}
}

// GetTokenCostConfig 获取价目配置，优先读缓存
func (r *cachedBillingConfigRepository) GetTokenCostConfig(ctx context.Context) (*entity.TokenCostConfig, error) {
	ctx, span := tracer.Start(ctx, "cachedBillingConfigRepository.GetTokenCostConfig")
	defer span.End()

	if data, err := r.client.rdb.Get(ctx, tokenCostCacheKey).Bytes(); err == nil {
		var cfg entity.TokenCostConfig
		if err := json.Unmarshal(data, &cfg); err == nil {
			return &cfg, nil
		}
		logger.Warn(ctx, "corrupt token cost config cache, falling through")
	}

	v, err, _ := r.group.Do(tokenCostCacheKey, func() (interface{}, error) {
		cfg, err := r.inner.GetTokenCostConfig(ctx)
		if err != nil {
			return nil, err
		}
		r.setCache(ctx, tokenCostCacheKey, cfg)
		return cfg, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return v.(*entity.TokenCostConfig), nil
}

// GetCreditModifiers 获取动作系数表，优先读缓存
func (r *cachedBillingConfigRepository) GetCreditModifiers(ctx context.Context) (map[string]int, error) {
	ctx, span := tracer.Start(ctx, "cachedBillingConfigRepository.GetCreditModifiers")
	defer span.End()

	if data, err := r.client.rdb.Get(ctx, modifiersCacheKey).Bytes(); err == nil {
		var modifiers map[string]int
		if err := json.Unmarshal(data, &modifiers); err == nil {
			return modifiers, nil
		}
		logger.Warn(ctx, "corrupt credit modifiers cache, falling through")
	}

	v, err, _ := r.group.Do(modifiersCacheKey, func() (interface{}, error) {
		modifiers, err := r.inner.GetCreditModifiers(ctx)
		if err != nil {
			return nil, err
		}
		r.setCache(ctx, modifiersCacheKey, modifiers)
		return modifiers, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return v.(map[string]int), nil
}

// SeedDefaults 透传并使缓存失效
func (r *cachedBillingConfigRepository) SeedDefaults(ctx context.Context, cost *entity.TokenCostConfig, modifiers map[string]int) error {
	if err := r.inner.SeedDefaults(ctx, cost, modifiers); err != nil {
		return err
	}
	if err := r.client.rdb.Del(ctx, tokenCostCacheKey, modifiersCacheKey).Err(); err != nil {
		logger.Warn(ctx, "failed to invalidate billing config cache", "error", err)
	}
	return nil
}

// setCache 写缓存，失败只记日志不影响主流程
func (r *cachedBillingConfigRepository) setCache(ctx context.Context, key string, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		logger.Warn(ctx, "failed to marshal billing config for cache", "error", err)
		return
	}
	if err := r.client.rdb.Set(ctx, key, data, r.ttl).Err(); err != nil {
		logger.Warn(ctx, fmt.Sprintf("failed to cache %s", key), "error", err)
	}
}
