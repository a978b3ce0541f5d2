package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "storyforge-api/pkg/errors"
)

func TestExtractJSON_StripsCodeFence(t *testing.T) {
	raw := "```json\n{\"characters\": []}\n```"
	assert.Equal(t, `{"characters": []}`, extractJSON(raw))

	raw = "```\n[1, 2]\n```"
	assert.Equal(t, "[1, 2]", extractJSON(raw))

	// 没有围栏时原样返回
	assert.Equal(t, `{"a": 1}`, extractJSON(` {"a": 1} `))
}

func TestParseMeta(t *testing.T) {
	raw := `{
		"characters": [
			{"name": "Mira", "description": "a cartographer", "example_dialogue": "The maps never lie."}
		],
		"locations": [
			{"name": "Saltmarsh", "description": "a fishing town"}
		]
	}`
	meta, err := parseMeta(raw)
	require.NoError(t, err)
	require.Len(t, meta.Characters, 1)
	require.Len(t, meta.Locations, 1)
	assert.Equal(t, "Mira", meta.Characters[0].Name)
	assert.Equal(t, "The maps never lie.", meta.Characters[0].ExampleDialogue)
	assert.Equal(t, "Saltmarsh", meta.Locations[0].Name)
}

func TestParseMeta_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":     "here are your characters!",
		"empty object": `{}`,
		"nameless":     `{"characters": [{"description": "no name"}], "locations": []}`,
	}
	for name, raw := range cases {
		_, err := parseMeta(raw)
		assert.True(t, errors.Is(err, apperrors.ErrMalformedOutput), name)
	}
}

func TestParseSummaries(t *testing.T) {
	raw := "```json\n" + `[
		{"title": "The Harbor", "summary": "Mira arrives."},
		{"title": "The Storm", "summary": "Everything floods."}
	]` + "\n```"
	summaries, err := parseSummaries(raw, 2)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "The Harbor", summaries[0].Title)
	assert.Equal(t, "Everything floods.", summaries[1].Summary)
}

func TestParseSummaries_TruncatesToExpected(t *testing.T) {
	raw := `[
		{"title": "One", "summary": "a"},
		{"title": "Two", "summary": "b"},
		{"title": "Three", "summary": "c"}
	]`
	summaries, err := parseSummaries(raw, 2)
	require.NoError(t, err)
	assert.Len(t, summaries, 2)
}

func TestParseSummaries_Malformed(t *testing.T) {
	_, err := parseSummaries(`{"title": "not an array"}`, 3)
	assert.True(t, errors.Is(err, apperrors.ErrMalformedOutput))

	_, err = parseSummaries(`[]`, 3)
	assert.True(t, errors.Is(err, apperrors.ErrMalformedOutput))
}

func TestParseArcs(t *testing.T) {
	arcs, err := parseArcs(`["Mira maps the coast", "The storm rewrites it"]`)
	require.NoError(t, err)
	assert.Equal(t, []string{"Mira maps the coast", "The storm rewrites it"}, arcs)

	_, err = parseArcs(`[]`)
	assert.True(t, errors.Is(err, apperrors.ErrMalformedOutput))
}

func TestParseChapterGuide(t *testing.T) {
	raw := `{
		"The Harbor": [
			{"arc": 0, "arc_text": "Mira lands", "characters": ["Mira"], "locations": ["Saltmarsh"]},
			{"arc": 1, "arc_text": "The storm builds", "characters": [], "locations": []}
		]
	}`
	guides, err := parseChapterGuide("story-1", raw)
	require.NoError(t, err)
	require.Len(t, guides, 2)
	for _, g := range guides {
		assert.Equal(t, "story-1", g.StoryID)
		assert.Equal(t, "The Harbor", g.ChapterTitle)
	}
}

func TestParseChapterGuide_SkipsIncompleteParts(t *testing.T) {
	// 缺 arc_text 的片段跳过，其余保留
	raw := `{
		"The Harbor": [
			{"arc": 0},
			{"arc": 1, "arc_text": "usable part"}
		]
	}`
	guides, err := parseChapterGuide("story-1", raw)
	require.NoError(t, err)
	require.Len(t, guides, 1)
	assert.Equal(t, "usable part", guides[0].PartText)
	assert.Equal(t, 1, guides[0].PartIndex)
}

func TestParseChapterGuide_AllPartsInvalid(t *testing.T) {
	_, err := parseChapterGuide("story-1", `{"The Harbor": [{"arc": 0}]}`)
	assert.True(t, errors.Is(err, apperrors.ErrMalformedOutput))
}

func TestParseProse(t *testing.T) {
	content, err := parseProse("# Chapter One\n\nIt begins.\n")
	require.NoError(t, err)
	assert.Equal(t, "# Chapter One\n\nIt begins.", content)

	_, err = parseProse("   \n\t")
	assert.True(t, errors.Is(err, apperrors.ErrMalformedOutput))
}
