package handler

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"

	"storyforge-api/internal/infrastructure/messaging"
	"storyforge-api/internal/interfaces/http/middleware"
	"storyforge-api/pkg/logger"
)

// EventHandler 用户事件推送处理器（SSE）
type EventHandler struct {
	rdb *goredis.Client
}

// NewEventHandler 创建事件处理器
func NewEventHandler(rdb *goredis.Client) *EventHandler {
	return &EventHandler{rdb: rdb}
}

// Stream 以 SSE 长连接推送当前用户的生成事件
// GET /api/v1/events
// 尽力投递：连接断开期间的事件不补发，客户端以故事状态为准
func (h *EventHandler) Stream(c *gin.Context) {
	userID := middleware.CurrentUserID(c)
	ctx := c.Request.Context()

	pubsub := messaging.Subscribe(ctx, h.rdb, userID)
	defer pubsub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ch := pubsub.Channel()
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	logger.Info(ctx, "event stream opened", "user_id", userID)

	c.Stream(func(w io.Writer) bool {
		select {
		case msg, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("message", msg.Payload)
			return true
		case <-heartbeat.C:
			c.SSEvent("ping", time.Now().Unix())
			return true
		case <-ctx.Done():
			return false
		}
	})

	logger.Info(ctx, "event stream closed", "user_id", userID)
}
