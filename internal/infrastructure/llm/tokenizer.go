package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"storyforge-api/internal/domain/service"
)

// tiktokenTokenizer 基于 tiktoken 的分词计数实现
// 编码器构造开销不小，按模型缓存复用
type tiktokenTokenizer struct {
	mu       sync.Mutex
	encoders map[string]*tiktoken.Tiktoken
}

// NewTokenizer 创建分词计数器
func NewTokenizer() service.Tokenizer {
	return &tiktokenTokenizer{
		encoders: make(map[string]*tiktoken.Tiktoken),
	}
}

// CountTokens 统计文本的 token 数
// 拿不到模型编码器时退回 cl100k_base，再不行用长度粗估，
// 预估多一点比少一点安全
func (t *tiktokenTokenizer) CountTokens(model, text string) int {
	enc := t.encoderFor(model)
	if enc == nil {
		return (len(text) + 3) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

func (t *tiktokenTokenizer) encoderFor(model string) *tiktoken.Tiktoken {
	t.mu.Lock()
	defer t.mu.Unlock()

	if enc, ok := t.encoders[model]; ok {
		return enc
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil
		}
	}
	t.encoders[model] = enc
	return enc
}
