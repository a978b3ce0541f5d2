// Package entity 定义领域实体
package entity

import (
	"time"
)

// ChapterStepStatus 章节级子阶段（正文/插图）的完成状态
type ChapterStepStatus string

const (
	ChapterStepPending ChapterStepStatus = "pending"
	ChapterStepDone    ChapterStepStatus = "done"
)

// Chapter 章节实体
// 章节在故事创建时一次性批量生成，数量此后固定
type Chapter struct {
	ID              string            `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	StoryID         string            `json:"story_id" gorm:"type:uuid;uniqueIndex:idx_story_chapter,priority:1;not null"`
	ChapterNumber   int               `json:"chapter_number" gorm:"not null;uniqueIndex:idx_story_chapter,priority:2"`
	Title           string            `json:"title,omitempty" gorm:"type:varchar(255)"`
	Summary         string            `json:"summary,omitempty" gorm:"type:text"`
	Content         string            `json:"content,omitempty" gorm:"type:text"`
	ProseStatus     ChapterStepStatus `json:"prose_status" gorm:"type:varchar(20);default:'pending'"`
	ImageStatus     ChapterStepStatus `json:"image_status" gorm:"type:varchar(20);default:'pending'"`
	ChapterImageKey string            `json:"chapter_image_key,omitempty" gorm:"type:varchar(512)"`
	CreatedAt       time.Time         `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt       time.Time         `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (Chapter) TableName() string {
	return "chapters"
}

// SetContent 写入正文并标记完成
func (c *Chapter) SetContent(content string) {
	c.Content = content
	c.ProseStatus = ChapterStepDone
	c.UpdatedAt = time.Now()
}

// SetImage 写入插图存储键并标记完成
func (c *Chapter) SetImage(key string) {
	c.ChapterImageKey = key
	c.ImageStatus = ChapterStepDone
	c.UpdatedAt = time.Now()
}
