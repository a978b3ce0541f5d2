package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"storyforge-api/internal/config"
	apperrors "storyforge-api/pkg/errors"
	"storyforge-api/pkg/logger"
)

// Handler 消息处理函数
type Handler func(ctx context.Context, msg *Message) error

// Consumer 流消息消费者
// 每个流一个消费组；处理失败按退避重试，超过次数上限后丢入死信流
type Consumer struct {
	rdb      *goredis.Client
	cfg      *config.RedisStreamConfig
	group    string
	name     string
	handlers map[string]Handler

	mu      sync.RWMutex
	stopped chan struct{}
	wg      sync.WaitGroup
}

// NewConsumer 创建消费者
func NewConsumer(rdb *goredis.Client, cfg *config.RedisStreamConfig, consumerName string) *Consumer {
	return &Consumer{
		rdb:      rdb,
		cfg:      cfg,
		group:    cfg.ConsumerGroupPrefix + ":pipeline",
		name:     consumerName,
		handlers: make(map[string]Handler),
		stopped:  make(chan struct{}),
	}
}

// RegisterHandler 注册消息类型的处理函数
func (c *Consumer) RegisterHandler(msgType string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[msgType] = handler
}

// Start 启动消费循环，阻塞直到 ctx 取消或 Stop 被调用
func (c *Consumer) Start(ctx context.Context, stream string) error {
	if err := c.ensureGroup(ctx, stream); err != nil {
		return err
	}

	c.wg.Add(1)
	go c.consumeLoop(ctx, stream)

	<-ctx.Done()
	close(c.stopped)
	c.wg.Wait()
	return nil
}

// ensureGroup 创建消费组，已存在则忽略
func (c *Consumer) ensureGroup(ctx context.Context, stream string) error {
	err := c.rdb.XGroupCreateMkStream(ctx, stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

func (c *Consumer) consumeLoop(ctx context.Context, stream string) {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopped:
			return
		case <-ctx.Done():
			return
		default:
		}

		streams, err := c.rdb.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.name,
			Streams:  []string{stream, ">"},
			Count:    10,
			Block:    c.cfg.BlockTimeout,
		}).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			logger.Error(ctx, "failed to read from stream", err, "stream", stream)
			time.Sleep(time.Second)
			continue
		}

		for _, s := range streams {
			for _, entry := range s.Messages {
				c.processEntry(ctx, stream, entry)
			}
		}
	}
}

// processEntry 处理单条流记录
func (c *Consumer) processEntry(ctx context.Context, stream string, entry goredis.XMessage) {
	msg, err := DecodeMessage(entry.Values)
	if err != nil {
		logger.Error(ctx, "failed to decode stream entry, acking poison message", err,
			"stream", stream, "entry_id", entry.ID)
		c.rdb.XAck(ctx, stream, c.group, entry.ID)
		return
	}

	c.mu.RLock()
	handler, ok := c.handlers[msg.Type]
	c.mu.RUnlock()
	if !ok {
		logger.Warn(ctx, "no handler for message type, acking",
			"type", msg.Type, "message_id", msg.ID)
		c.rdb.XAck(ctx, stream, c.group, entry.ID)
		return
	}

	if err := c.handleWithRetry(ctx, msg, handler); err != nil {
		logger.Error(ctx, "message handling failed definitively, sending to dead letter", err,
			"message_id", msg.ID, "type", msg.Type)
		c.deadLetter(ctx, stream, msg)
	}
	c.rdb.XAck(ctx, stream, c.group, entry.ID)
}

// handleWithRetry 执行处理函数，失败按指数退避重试
// 业务错误（AppError）视为永久失败，不重试直接返回
func (c *Consumer) handleWithRetry(ctx context.Context, msg *Message, handler Handler) error {
	backoff := c.cfg.RetryBackoff.Initial
	var lastErr error

	for attempt := 0; attempt <= c.cfg.RetryLimit; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = time.Duration(float64(backoff) * c.cfg.RetryBackoff.Multiplier)
			if backoff > c.cfg.RetryBackoff.Max {
				backoff = c.cfg.RetryBackoff.Max
			}
			msg.RetryCount = attempt
		}

		if lastErr = handler(ctx, msg); lastErr == nil {
			return nil
		}
		if isPermanent(lastErr) {
			logger.Warn(ctx, "message handling hit permanent error, skipping retries",
				"message_id", msg.ID,
				"attempt", attempt,
				"error", lastErr,
			)
			return lastErr
		}
		logger.Warn(ctx, "message handling failed",
			"message_id", msg.ID,
			"attempt", attempt,
			"error", lastErr,
		)
	}
	return lastErr
}

// isPermanent 判断错误是否为不可重试的业务错误
// 4xx 级别的业务错误（状态非法、余额不足等）重试不会改变结果
func isPermanent(err error) bool {
	var appErr *apperrors.AppError
	return errors.As(err, &appErr) && appErr.HTTPStatus < 500
}

// deadLetter 写入死信流供人工排查
func (c *Consumer) deadLetter(ctx context.Context, stream string, msg *Message) {
	values, err := msg.Encode()
	if err != nil {
		logger.Error(ctx, "failed to encode dead letter", err, "message_id", msg.ID)
		return
	}
	err = c.rdb.XAdd(ctx, &goredis.XAddArgs{
		Stream: stream + ":dead",
		Values: values,
	}).Err()
	if err != nil {
		logger.Error(ctx, "failed to write dead letter", err, "message_id", msg.ID)
	}
}
