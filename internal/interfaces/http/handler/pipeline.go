// Package handler 提供 HTTP 请求处理器
package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"storyforge-api/internal/application/pipeline"
	"storyforge-api/internal/interfaces/http/dto"
	"storyforge-api/internal/interfaces/http/middleware"
)

// PipelineHandler 流水线接口处理器
type PipelineHandler struct {
	orchestrator *pipeline.Orchestrator
}

// NewPipelineHandler 创建流水线处理器
func NewPipelineHandler(orchestrator *pipeline.Orchestrator) *PipelineHandler {
	return &PipelineHandler{orchestrator: orchestrator}
}

// Advance 提交一次阶段推进
// POST /api/v1/stories/:id/advance
func (h *PipelineHandler) Advance(c *gin.Context) {
	storyID := c.Param("id")
	if _, err := uuid.Parse(storyID); err != nil {
		dto.BadRequest(c, "invalid story id")
		return
	}

	userID := middleware.CurrentUserID(c)
	requestID := c.GetString("request_id")

	kind, err := h.orchestrator.Submit(c.Request.Context(), userID, storyID, requestID)
	if err != nil {
		dto.Error(c, err)
		return
	}

	dto.Accepted(c, gin.H{
		"story_id":      storyID,
		"pending_stage": string(kind),
	})
}

// Predict 查询下一阶段的开销预估
// GET /api/v1/stories/:id/predictions
func (h *PipelineHandler) Predict(c *gin.Context) {
	storyID := c.Param("id")
	if _, err := uuid.Parse(storyID); err != nil {
		dto.BadRequest(c, "invalid story id")
		return
	}

	userID := middleware.CurrentUserID(c)
	story, preds, err := h.orchestrator.Predict(c.Request.Context(), userID, storyID)
	if err != nil {
		dto.Error(c, err)
		return
	}

	var total int64
	for _, p := range preds {
		total += p.TotalCredits
	}

	kind, _ := story.PendingKind()
	dto.Success(c, gin.H{
		"story_id":      storyID,
		"current_stage": string(story.Stage),
		"pending_stage": string(kind),
		"total_credits": total,
		"predictions":   preds,
	})
}

// Generations 查询生成流水
// GET /api/v1/stories/:id/generations
func (h *PipelineHandler) Generations(c *gin.Context) {
	storyID := c.Param("id")
	if _, err := uuid.Parse(storyID); err != nil {
		dto.BadRequest(c, "invalid story id")
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	userID := middleware.CurrentUserID(c)

	logs, err := h.orchestrator.Generations(c.Request.Context(), userID, storyID, limit)
	if err != nil {
		dto.Error(c, err)
		return
	}
	dto.Success(c, logs)
}
