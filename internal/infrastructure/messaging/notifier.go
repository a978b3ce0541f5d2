package messaging

import (
	"context"
	"encoding/json"

	goredis "github.com/redis/go-redis/v9"

	"storyforge-api/internal/domain/service"
	"storyforge-api/pkg/logger"
)

const userEventChannelPrefix = "events:user:"

// UserEventChannel 返回用户事件通道名
func UserEventChannel(userID string) string {
	return userEventChannelPrefix + userID
}

// redisEventNotifier 基于 Redis Pub/Sub 的事件通知器
// 至多一次、尽力投递；没有订阅者时消息直接丢弃，这是预期行为
type redisEventNotifier struct {
	rdb *goredis.Client
}

// NewEventNotifier 创建事件通知器
func NewEventNotifier(rdb *goredis.Client) service.EventNotifier {
	return &redisEventNotifier{rdb: rdb}
}

// Notify 向用户通道推送事件，失败只记日志
func (n *redisEventNotifier) Notify(ctx context.Context, userID string, event service.Event) {
	ctx, span := tracer.Start(ctx, "redisEventNotifier.Notify")
	defer span.End()

	data, err := json.Marshal(event)
	if err != nil {
		logger.Error(ctx, "failed to marshal event", err, "kind", string(event.Kind))
		return
	}

	if err := n.rdb.Publish(ctx, UserEventChannel(userID), data).Err(); err != nil {
		span.RecordError(err)
		logger.Warn(ctx, "failed to publish user event",
			"user_id", userID,
			"kind", string(event.Kind),
			"error", err,
		)
	}
}

// Subscribe 订阅用户事件通道（SSE 接入层使用）
func Subscribe(ctx context.Context, rdb *goredis.Client, userID string) *goredis.PubSub {
	return rdb.Subscribe(ctx, UserEventChannel(userID))
}
