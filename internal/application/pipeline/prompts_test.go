package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"storyforge-api/internal/domain/entity"
)

func promptChapters() []*entity.Chapter {
	return []*entity.Chapter{
		{ChapterNumber: 1, Title: "Embers", Summary: "A spark in the ash."},
		{ChapterNumber: 2, Title: "Kindling", Summary: "The fire takes hold."},
		{ChapterNumber: 3, Title: "Blaze", Summary: "Nothing is spared."},
	}
}

func TestBuildChapterPrompt_IncludesNeighborSummaries(t *testing.T) {
	pc := &promptContext{
		Story:    &entity.Story{Title: "Firewatch", Details: "A slow burn", Tags: "drama"},
		Chapters: promptChapters(),
	}

	prompt := buildChapterPrompt(pc, pc.Chapters[1])
	assert.Contains(t, prompt, "<previousChapterSummary>A spark in the ash.</previousChapterSummary>")
	assert.Contains(t, prompt, "<nextChapterSummary>Nothing is spared.</nextChapterSummary>")
	assert.Contains(t, prompt, "<chapter number='2' title='Kindling'>")
}

func TestBuildChapterPrompt_BoundaryChapters(t *testing.T) {
	pc := &promptContext{
		Story:    &entity.Story{Title: "Firewatch"},
		Chapters: promptChapters(),
	}

	first := buildChapterPrompt(pc, pc.Chapters[0])
	assert.NotContains(t, first, "<previousChapterSummary>")
	assert.Contains(t, first, "<nextChapterSummary>The fire takes hold.</nextChapterSummary>")

	last := buildChapterPrompt(pc, pc.Chapters[2])
	assert.Contains(t, last, "<previousChapterSummary>The fire takes hold.</previousChapterSummary>")
	assert.NotContains(t, last, "<nextChapterSummary>")
}
