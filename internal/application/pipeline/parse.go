package pipeline

import (
	"encoding/json"
	"strings"

	"storyforge-api/internal/domain/entity"
	apperrors "storyforge-api/pkg/errors"
)

// extractJSON 剥掉模型偶尔带上的 markdown 代码围栏，取出 JSON 本体
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	return s
}

type parsedCharacter struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	ExampleDialogue string `json:"example_dialogue"`
}

type parsedLocation struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type parsedMeta struct {
	Characters []parsedCharacter `json:"characters"`
	Locations  []parsedLocation  `json:"locations"`
}

// parseMeta 解析元数据阶段输出
// 两个键都缺或都为空按畸形输出处理
func parseMeta(raw string) (*parsedMeta, error) {
	var meta parsedMeta
	if err := json.Unmarshal([]byte(extractJSON(raw)), &meta); err != nil {
		return nil, apperrors.ErrMalformedOutput.WithError(err)
	}
	if len(meta.Characters) == 0 && len(meta.Locations) == 0 {
		return nil, apperrors.ErrMalformedOutput.WithDetail("no characters or locations in output")
	}
	for _, c := range meta.Characters {
		if c.Name == "" {
			return nil, apperrors.ErrMalformedOutput.WithDetail("character missing name")
		}
	}
	for _, l := range meta.Locations {
		if l.Name == "" {
			return nil, apperrors.ErrMalformedOutput.WithDetail("location missing name")
		}
	}
	return &meta, nil
}

type parsedSummary struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

// parseSummaries 解析章节摘要阶段输出
// 数组按顺序对应第 1..N 章
func parseSummaries(raw string, expected int) ([]parsedSummary, error) {
	var summaries []parsedSummary
	if err := json.Unmarshal([]byte(extractJSON(raw)), &summaries); err != nil {
		return nil, apperrors.ErrMalformedOutput.WithError(err)
	}
	if len(summaries) == 0 {
		return nil, apperrors.ErrMalformedOutput.WithDetail("empty summaries array")
	}
	if expected > 0 && len(summaries) > expected {
		summaries = summaries[:expected]
	}
	return summaries, nil
}

// parseArcs 解析故事主线阶段输出：字符串数组
func parseArcs(raw string) ([]string, error) {
	var arcs []string
	if err := json.Unmarshal([]byte(extractJSON(raw)), &arcs); err != nil {
		return nil, apperrors.ErrMalformedOutput.WithError(err)
	}
	if len(arcs) == 0 {
		return nil, apperrors.ErrMalformedOutput.WithDetail("empty arcs array")
	}
	return arcs, nil
}

type parsedGuidePart struct {
	Arc        *int     `json:"arc"`
	ArcText    *string  `json:"arc_text"`
	Characters []string `json:"characters"`
	Locations  []string `json:"locations"`
}

// parseChapterGuide 解析章节指南阶段输出：章节标题到片段数组的映射
// 缺 arc 或 arc_text 的片段跳过；全部无效按畸形输出处理
func parseChapterGuide(storyID, raw string) ([]*entity.ChapterGuide, error) {
	var guideMap map[string][]parsedGuidePart
	if err := json.Unmarshal([]byte(extractJSON(raw)), &guideMap); err != nil {
		return nil, apperrors.ErrMalformedOutput.WithError(err)
	}

	var guides []*entity.ChapterGuide
	for chapterTitle, parts := range guideMap {
		for _, p := range parts {
			if p.Arc == nil || p.ArcText == nil {
				continue
			}
			guides = append(guides, &entity.ChapterGuide{
				StoryID:      storyID,
				ChapterTitle: chapterTitle,
				PartIndex:    *p.Arc,
				PartText:     *p.ArcText,
				Characters:   p.Characters,
				Locations:    p.Locations,
			})
		}
	}
	if len(guides) == 0 {
		return nil, apperrors.ErrMalformedOutput.WithDetail("no usable guide parts in output")
	}
	return guides, nil
}

// parseProse 校验正文阶段输出：非空 Markdown 文本即可
func parseProse(raw string) (string, error) {
	content := strings.TrimSpace(raw)
	if content == "" {
		return "", apperrors.ErrMalformedOutput.WithDetail("empty chapter content")
	}
	return content, nil
}
