// Package service 定义跨层的稳定契约（port）
package service

import "context"

// TokenUsage 一次文本生成的真实 token 用量
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
}

// TextGenerator 文本生成协作方（对核心不透明）
// 返回生成文本与真实用量；调用方不关心底层提供商
type TextGenerator interface {
	GenerateText(ctx context.Context, model, prompt string) (string, TokenUsage, error)
}

// ImageGenerator 图片生成协作方
// 返回生成结果的对象存储键
type ImageGenerator interface {
	GenerateImage(ctx context.Context, model, prompt, size string) (string, error)
}

// Tokenizer 分词计数协作方，用于预估输入 token
type Tokenizer interface {
	CountTokens(model, text string) int
}

// GenerationLocker 用户级生成互斥锁
// TTL 到期自动失效：持有方崩溃后锁自行过期，以活性换取严格互斥
type GenerationLocker interface {
	// Acquire 尝试获取锁，成功返回栅栏令牌；已被持有返回 ErrGenerationInProgress
	Acquire(ctx context.Context, userID string) (string, error)

	// Release 释放锁；令牌不匹配或锁已过期时为空操作，不升级为错误
	Release(ctx context.Context, userID, token string) error

	// Renew 续期长阶段的锁；令牌不匹配返回 false
	Renew(ctx context.Context, userID, token string) (bool, error)
}
