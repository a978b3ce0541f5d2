package entity

import (
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoryStage_Ordinal(t *testing.T) {
	assert.Equal(t, 0, StageCreated.Ordinal())
	assert.Equal(t, 3, StageArcsGenerated.Ordinal())
	assert.Equal(t, 6, StageImagesGenerated.Ordinal())
	assert.Equal(t, -1, StoryStage("draft").Ordinal())
}

func TestStoryStage_Next(t *testing.T) {
	next, ok := StageCreated.Next()
	require.True(t, ok)
	assert.Equal(t, StageMetaGenerated, next)

	next, ok = StageProseGenerated.Next()
	require.True(t, ok)
	assert.Equal(t, StageImagesGenerated, next)

	_, ok = StageImagesGenerated.Next()
	assert.False(t, ok)

	_, ok = StoryStage("draft").Next()
	assert.False(t, ok)
}

func TestStoryStage_IsTerminal(t *testing.T) {
	assert.True(t, StageImagesGenerated.IsTerminal())
	assert.False(t, StageProseGenerated.IsTerminal())
	assert.False(t, StageCreated.IsTerminal())
}

func TestKindFor(t *testing.T) {
	cases := []struct {
		from StoryStage
		kind StageKind
	}{
		{StageCreated, KindMeta},
		{StageMetaGenerated, KindSummaries},
		{StageSummariesGenerated, KindArcs},
		{StageArcsGenerated, KindChapterGuide},
		{StageGuidesGenerated, KindChapter},
		{StageProseGenerated, KindImage},
	}
	for _, c := range cases {
		kind, ok := KindFor(c.from)
		require.True(t, ok, "from %s", c.from)
		assert.Equal(t, c.kind, kind)
	}

	_, ok := KindFor(StageImagesGenerated)
	assert.False(t, ok)
}

func TestStageKind_IsPerChapter(t *testing.T) {
	assert.True(t, KindChapter.IsPerChapter())
	assert.True(t, KindImage.IsPerChapter())
	assert.False(t, KindMeta.IsPerChapter())
	assert.False(t, KindChapterGuide.IsPerChapter())
}

func TestStory_AdvanceStage(t *testing.T) {
	story := &Story{Stage: StageCreated}

	// 走完整条流水线正好 6 次推进
	for i := 0; i < 6; i++ {
		require.True(t, story.AdvanceStage(), "advance %d", i)
	}
	assert.Equal(t, StageImagesGenerated, story.Stage)

	// 终态之后不再前移
	assert.False(t, story.AdvanceStage())
	assert.Equal(t, StageImagesGenerated, story.Stage)
}

func TestStory_PendingKind(t *testing.T) {
	story := &Story{Stage: StageGuidesGenerated}
	kind, ok := story.PendingKind()
	require.True(t, ok)
	assert.Equal(t, KindChapter, kind)

	story.Stage = StageImagesGenerated
	_, ok = story.PendingKind()
	assert.False(t, ok)
}

func TestChapter_SetContentAndImage(t *testing.T) {
	ch := &Chapter{ChapterNumber: 1, ProseStatus: ChapterStepPending, ImageStatus: ChapterStepPending}

	ch.SetContent("# Chapter One\n\nIt was a dark night.")
	assert.Equal(t, ChapterStepDone, ch.ProseStatus)
	assert.Equal(t, ChapterStepPending, ch.ImageStatus)

	ch.SetImage("stories/abc/chapters/1.png")
	assert.Equal(t, ChapterStepDone, ch.ImageStatus)
	assert.Equal(t, "stories/abc/chapters/1.png", ch.ChapterImageKey)
}

func TestGenerationLog_TerminalIsSticky(t *testing.T) {
	log := NewGenerationLog("user-1", "story-1", KindArcs, 10, 500)
	log.Start()
	assert.Equal(t, GenerationStatusRunning, log.Status)

	log.Fail("provider timeout")
	require.Equal(t, GenerationStatusFailed, log.Status)
	require.NotNil(t, log.FinalizedAt)

	// 终态之后 Succeed 不再生效
	log.Succeed("o1-mini", 6, 500, 250)
	assert.Equal(t, GenerationStatusFailed, log.Status)
	assert.Nil(t, log.RealCost)
}

func TestChapter_UpsertKeyIsUnique(t *testing.T) {
	// 章节按 (story_id, chapter_number) 幂等写入,
	// 两个字段必须共同构成唯一索引, 否则 upsert 会退化为重复插入
	typ := reflect.TypeOf(Chapter{})
	cases := []struct {
		field string
		tag   string
	}{
		{"StoryID", "uniqueIndex:idx_story_chapter,priority:1"},
		{"ChapterNumber", "uniqueIndex:idx_story_chapter,priority:2"},
	}
	for _, tc := range cases {
		field, ok := typ.FieldByName(tc.field)
		require.True(t, ok)
		assert.Contains(t, strings.Split(field.Tag.Get("gorm"), ";"), tc.tag)
	}
}
