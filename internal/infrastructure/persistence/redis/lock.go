package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"storyforge-api/internal/domain/service"
	apperrors "storyforge-api/pkg/errors"
	"storyforge-api/pkg/logger"
)

const lockKeyPrefix = "generation_lock:"

// releaseScript 仅在令牌匹配时删除锁，保证不会误删他人持有的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript 仅在令牌匹配时重置过期时间
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// generationLock 基于 Redis SET NX 的用户级生成互斥锁
// 值为随机栅栏令牌，释放/续期都要求令牌匹配，
// 过期后由别人重新持有的锁不会被旧持有者影响
type generationLock struct {
	client *Client
	ttl    time.Duration
}

// NewGenerationLock 创建生成互斥锁
func NewGenerationLock(client *Client, ttl time.Duration) service.GenerationLocker {
	return &generationLock{
		client: client,
		ttl:    ttl,
	}
}

// Acquire 尝试获取锁
func (l *generationLock) Acquire(ctx context.Context, userID string) (string, error) {
	ctx, span := tracer.Start(ctx, "generationLock.Acquire")
	defer span.End()

	key := lockKeyPrefix + userID
	token := uuid.New().String()

	ok, err := l.client.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to acquire generation lock: %w", err)
	}
	if !ok {
		return "", apperrors.ErrGenerationInProgress
	}
	return token, nil
}

// Release 释放锁；令牌不匹配或锁已过期时为空操作
func (l *generationLock) Release(ctx context.Context, userID, token string) error {
	ctx, span := tracer.Start(ctx, "generationLock.Release")
	defer span.End()

	key := lockKeyPrefix + userID
	deleted, err := releaseScript.Run(ctx, l.client.rdb, []string{key}, token).Int()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to release generation lock: %w", err)
	}
	if deleted == 0 {
		// 锁已过期或被新持有者接管，静默放过
		logger.Warn(ctx, "generation lock already gone on release", "user_id", userID)
	}
	return nil
}

// Renew 续期锁；令牌不匹配返回 false
func (l *generationLock) Renew(ctx context.Context, userID, token string) (bool, error) {
	ctx, span := tracer.Start(ctx, "generationLock.Renew")
	defer span.End()

	key := lockKeyPrefix + userID
	renewed, err := renewScript.Run(ctx, l.client.rdb, []string{key}, token, l.ttl.Milliseconds()).Int()
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("failed to renew generation lock: %w", err)
	}
	return renewed == 1, nil
}
