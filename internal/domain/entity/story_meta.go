// Package entity 定义领域实体
package entity

import (
	"time"

	"github.com/lib/pq"
)

// Character 元数据阶段产出的角色
type Character struct {
	ID              string    `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	StoryID         string    `json:"story_id" gorm:"type:uuid;index;not null"`
	Name            string    `json:"name" gorm:"type:varchar(255);not null"`
	Description     string    `json:"description,omitempty" gorm:"type:text"`
	ExampleDialogue string    `json:"example_dialogue,omitempty" gorm:"type:text"`
	CreatedAt       time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName 指定表名
func (Character) TableName() string {
	return "characters"
}

// Location 元数据阶段产出的地点
type Location struct {
	ID          string    `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	StoryID     string    `json:"story_id" gorm:"type:uuid;index;not null"`
	Name        string    `json:"name" gorm:"type:varchar(255);not null"`
	Description string    `json:"description,omitempty" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName 指定表名
func (Location) TableName() string {
	return "locations"
}

// StoryArc 主线阶段产出的故事主线
type StoryArc struct {
	ID        string    `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	StoryID   string    `json:"story_id" gorm:"type:uuid;index;not null"`
	ArcText   string    `json:"arc_text" gorm:"type:text;not null"`
	ArcOrder  int       `json:"arc_order" gorm:"not null"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName 指定表名
func (StoryArc) TableName() string {
	return "story_arcs"
}

// ChapterGuide 章节指南阶段产出的分段指南
// 一章可有多个片段，按 part_index 排序；characters/locations 为引用的名称列表
type ChapterGuide struct {
	ID           string         `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	StoryID      string         `json:"story_id" gorm:"type:uuid;index;not null"`
	ChapterTitle string         `json:"chapter_title" gorm:"type:varchar(255);not null"`
	PartIndex    int            `json:"part_index" gorm:"not null"`
	PartText     string         `json:"part_text" gorm:"type:text;not null"`
	Characters   pq.StringArray `json:"characters" gorm:"type:text[]"`
	Locations    pq.StringArray `json:"locations" gorm:"type:text[]"`
	CreatedAt    time.Time      `json:"created_at" gorm:"autoCreateTime"`
}

// TableName 指定表名
func (ChapterGuide) TableName() string {
	return "chapter_guides"
}
