package messaging

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"storyforge-api/internal/config"
	"storyforge-api/pkg/logger"
)

var tracer = otel.Tracer("messaging")

// Producer 流消息生产者
type Producer struct {
	rdb    *goredis.Client
	maxLen int64
}

// NewProducer 创建生产者
func NewProducer(rdb *goredis.Client, cfg *config.RedisStreamConfig) *Producer {
	return &Producer{
		rdb:    rdb,
		maxLen: int64(cfg.MaxLen),
	}
}

// Publish 发布消息到指定流
func (p *Producer) Publish(ctx context.Context, stream string, msg *Message) error {
	ctx, span := tracer.Start(ctx, "Producer.Publish")
	defer span.End()

	values, err := msg.Encode()
	if err != nil {
		span.RecordError(err)
		return err
	}

	err = p.rdb.XAdd(ctx, &goredis.XAddArgs{
		Stream: stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to publish message: %w", err)
	}

	logger.Debug(ctx, "message published",
		"stream", stream,
		"message_id", msg.ID,
		"type", msg.Type,
	)
	return nil
}
