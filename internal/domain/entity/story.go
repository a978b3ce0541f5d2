// Package entity 定义领域实体
package entity

import (
	"time"
)

// StoryStage 故事所处的流水线阶段
type StoryStage string

const (
	StageCreated            StoryStage = "created"
	StageMetaGenerated      StoryStage = "meta_generated"
	StageSummariesGenerated StoryStage = "summaries_generated"
	StageArcsGenerated      StoryStage = "arcs_generated"
	StageGuidesGenerated    StoryStage = "guides_generated"
	StageProseGenerated     StoryStage = "prose_generated"
	StageImagesGenerated    StoryStage = "images_generated"
)

// stageOrder 阶段的严格先后顺序，不允许跳过，也不自动回退
var stageOrder = []StoryStage{
	StageCreated,
	StageMetaGenerated,
	StageSummariesGenerated,
	StageArcsGenerated,
	StageGuidesGenerated,
	StageProseGenerated,
	StageImagesGenerated,
}

// Ordinal 返回阶段在流水线中的序号，未知阶段返回 -1
func (s StoryStage) Ordinal() int {
	for i, stage := range stageOrder {
		if stage == s {
			return i
		}
	}
	return -1
}

// Next 返回下一个阶段；终态或未知阶段返回 false
func (s StoryStage) Next() (StoryStage, bool) {
	idx := s.Ordinal()
	if idx < 0 || idx >= len(stageOrder)-1 {
		return "", false
	}
	return stageOrder[idx+1], true
}

// IsTerminal 是否为终态阶段
func (s StoryStage) IsTerminal() bool {
	return s == StageImagesGenerated
}

// StageKind 一次阶段执行的工作类型（advance 时要做的事）
type StageKind string

const (
	KindMeta         StageKind = "meta"
	KindSummaries    StageKind = "summaries"
	KindArcs         StageKind = "arcs"
	KindChapterGuide StageKind = "chapter_guide"
	KindChapter      StageKind = "chapter"
	KindImage        StageKind = "image"
)

// KindFor 返回从某阶段前进时需要执行的工作类型
func KindFor(from StoryStage) (StageKind, bool) {
	switch from {
	case StageCreated:
		return KindMeta, true
	case StageMetaGenerated:
		return KindSummaries, true
	case StageSummariesGenerated:
		return KindArcs, true
	case StageArcsGenerated:
		return KindChapterGuide, true
	case StageGuidesGenerated:
		return KindChapter, true
	case StageProseGenerated:
		return KindImage, true
	default:
		return "", false
	}
}

// IsPerChapter 是否为按章节扇出的工作类型
func (k StageKind) IsPerChapter() bool {
	return k == KindChapter || k == KindImage
}

// Story 故事实体
// 阶段字段只由流水线编排器推进；创建由外部故事创建流程完成
type Story struct {
	ID            string     `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	UserID        string     `json:"user_id" gorm:"type:uuid;index;not null"`
	Title         string     `json:"title" gorm:"type:varchar(255);not null"`
	Details       string     `json:"details,omitempty" gorm:"type:text"`
	Tags          string     `json:"tags,omitempty" gorm:"type:varchar(512)"`
	Inspirations  string     `json:"inspirations,omitempty" gorm:"type:text"`
	WritingStyle  string     `json:"writing_style,omitempty" gorm:"type:text"`
	ChapterCount  int        `json:"chapter_count" gorm:"not null"`
	Stage         StoryStage `json:"stage" gorm:"type:varchar(50);default:'created';index"`
	CoverImageKey string     `json:"cover_image_key,omitempty" gorm:"type:varchar(512)"`
	CreatedAt     time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (Story) TableName() string {
	return "stories"
}

// PendingKind 返回该故事下一次 advance 要执行的工作类型；终态返回 false
func (s *Story) PendingKind() (StageKind, bool) {
	return KindFor(s.Stage)
}

// AdvanceStage 将故事推进到下一阶段
func (s *Story) AdvanceStage() bool {
	next, ok := s.Stage.Next()
	if !ok {
		return false
	}
	s.Stage = next
	s.UpdatedAt = time.Now()
	return true
}
