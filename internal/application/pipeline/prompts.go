// Package pipeline 实现六阶段生成流水线的编排与执行
package pipeline

import (
	"fmt"
	"strings"

	"storyforge-api/internal/domain/entity"
)

// promptContext 组装提示词所需的故事上下文
// 各阶段按需取用，取不到的部分留空
type promptContext struct {
	Story      *entity.Story
	Characters []*entity.Character
	Locations  []*entity.Location
	Arcs       []*entity.StoryArc
	Chapters   []*entity.Chapter
	Guides     []*entity.ChapterGuide
}

// buildMetaPrompt 元数据阶段提示词：产出角色与地点的 JSON 对象
func buildMetaPrompt(pc *promptContext) string {
	s := pc.Story
	var b strings.Builder
	b.WriteString("You are a creative, experienced novelist tasked with establishing the foundational world of a new novel. ")
	b.WriteString("Please avoid clichéd or generic phrases and focus on rich, bursty narrative details.\n\n")
	b.WriteString("<story>\n")
	fmt.Fprintf(&b, "  <title>%s</title>\n", s.Title)
	fmt.Fprintf(&b, "  <details>%s</details>\n", s.Details)
	fmt.Fprintf(&b, "  <tags>%s</tags>\n", s.Tags)
	if s.Inspirations != "" {
		fmt.Fprintf(&b, "  <inspirations>%s</inspirations>\n", s.Inspirations)
	}
	fmt.Fprintf(&b, "  <structure totalChapters='%d' />\n", s.ChapterCount)
	b.WriteString("</story>\n\n")
	b.WriteString("Your task: Generate a JSON object with two keys: 'locations' and 'characters'. Each key must map to an array of objects. ")
	b.WriteString("Each object in 'locations' must include 'name' and 'description'. Each object in 'characters' must include 'name', ")
	b.WriteString("'description', and an 'example_dialogue' field. ")
	b.WriteString("Ensure your response is creative, contextually rich, and strictly in JSON format with no markdown formatting.")
	return b.String()
}

// buildSummariesPrompt 章节摘要阶段提示词：每章一个 {title, summary}
func buildSummariesPrompt(pc *promptContext) string {
	s := pc.Story
	var b strings.Builder
	b.WriteString("As a seasoned author, craft evocative chapter summaries for the story below.\n\n")
	b.WriteString("<storyContext>\n")
	fmt.Fprintf(&b, "  <title>%s</title>\n", s.Title)
	fmt.Fprintf(&b, "  <details>%s</details>\n", s.Details)
	fmt.Fprintf(&b, "  <tags>%s</tags>\n", s.Tags)
	b.WriteString("  <metadata>\n    <characters>\n")
	for _, c := range pc.Characters {
		fmt.Fprintf(&b, "      <character name='%s'>%s</character>\n", c.Name, c.Description)
	}
	b.WriteString("    </characters>\n    <locations>\n")
	for _, l := range pc.Locations {
		fmt.Fprintf(&b, "      <location name='%s'>%s</location>\n", l.Name, l.Description)
	}
	b.WriteString("    </locations>\n  </metadata>\n")
	b.WriteString("  <arcs>\n")
	for _, a := range pc.Arcs {
		fmt.Fprintf(&b, "    <arc>%s</arc>\n", a.ArcText)
	}
	b.WriteString("  </arcs>\n")
	if s.Inspirations != "" {
		fmt.Fprintf(&b, "  <inspirations>%s</inspirations>\n", s.Inspirations)
	}
	fmt.Fprintf(&b, "  <chapters total='%d' />\n", s.ChapterCount)
	b.WriteString("</storyContext>\n\n")
	b.WriteString("Task: Generate an array of JSON objects, each with a 'title' and 'summary' for every chapter. ")
	b.WriteString("Each chapter summary should be concise yet evocative, hinting at key emotional beats and events, without revealing every detail. ")
	b.WriteString("Respond solely with valid JSON (no markdown formatting).")
	return b.String()
}

// buildArcsPrompt 故事主线阶段提示词：产出字符串数组
func buildArcsPrompt(pc *promptContext) string {
	s := pc.Story
	var b strings.Builder
	b.WriteString("As an imaginative novelist, you are to conceive a series of cohesive story arcs for the following tale. ")
	b.WriteString("Strive for narrative tension and avoid predictable plot beats.\n\n")
	b.WriteString("<storyContext>\n")
	fmt.Fprintf(&b, "  <title>%s</title>\n", s.Title)
	fmt.Fprintf(&b, "  <details>%s</details>\n", s.Details)
	fmt.Fprintf(&b, "  <tags>%s</tags>\n", s.Tags)
	fmt.Fprintf(&b, "  <metadata characters='%s' locations='%s' />\n",
		joinCharacterNames(pc.Characters), joinLocationNames(pc.Locations))
	fmt.Fprintf(&b, "  <chapters total='%d' />\n", s.ChapterCount)
	b.WriteString("</storyContext>\n\n")
	b.WriteString("Instructions: Generate an unstructured list (JSON array of strings) of overarching story arcs. ")
	b.WriteString("Do not assign arcs to specific chapters in this step. Output must be valid JSON with no markdown formatting.")
	return b.String()
}

// buildChapterGuidePrompt 章节指南阶段提示词：章节标题到片段数组的 JSON 映射
func buildChapterGuidePrompt(pc *promptContext) string {
	s := pc.Story
	var b strings.Builder
	b.WriteString("You are a meticulous story architect. Break the overall arcs down into per-chapter beats for the story below.\n\n")
	b.WriteString("<storyContext>\n")
	fmt.Fprintf(&b, "  <title>%s</title>\n", s.Title)
	fmt.Fprintf(&b, "  <details>%s</details>\n", s.Details)
	fmt.Fprintf(&b, "  <tags>%s</tags>\n", s.Tags)
	fmt.Fprintf(&b, "  <metadata characters='%s' locations='%s' />\n",
		joinCharacterNames(pc.Characters), joinLocationNames(pc.Locations))
	b.WriteString("  <overallArcs>")
	for i, a := range pc.Arcs {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(a.ArcText)
	}
	b.WriteString("</overallArcs>\n")
	b.WriteString("  <chapterSummaries>\n")
	for _, ch := range pc.Chapters {
		summary := ch.Summary
		if summary == "" {
			summary = ch.Title
		}
		fmt.Fprintf(&b, "    <summary>%s</summary>\n", summary)
	}
	b.WriteString("  </chapterSummaries>\n")
	b.WriteString("</storyContext>\n\n")
	b.WriteString("Task: Respond with a JSON object mapping each chapter title to an array of objects, each with:\n")
	b.WriteString("  - 'arc': the part number within the chapter\n")
	b.WriteString("  - 'arc_text': the narrative beat for that part\n")
	b.WriteString("  - 'characters': a list of referenced character names\n")
	b.WriteString("  - 'locations': a list of referenced location names\n\n")
	b.WriteString("Output must be valid JSON with no markdown formatting.")
	return b.String()
}

// buildChapterPrompt 正文阶段提示词：纯 Markdown 输出
func buildChapterPrompt(pc *promptContext, chapter *entity.Chapter) string {
	s := pc.Story
	var b strings.Builder
	b.WriteString("You are writing a chapter of a novel. Write vivid, human prose; vary sentence rhythm and avoid filler.\n\n")
	b.WriteString("<bookContext>\n")
	fmt.Fprintf(&b, "  <bookTitle>%s</bookTitle>\n", s.Title)
	fmt.Fprintf(&b, "  <details>%s</details>\n", s.Details)
	fmt.Fprintf(&b, "  <tags>%s</tags>\n", s.Tags)
	if s.WritingStyle != "" {
		fmt.Fprintf(&b, "  <writingStyle>%s</writingStyle>\n", s.WritingStyle)
	}
	b.WriteString("  <metadata>\n    <characters>\n")
	for _, c := range pc.Characters {
		fmt.Fprintf(&b, "      <character name='%s' dialogue='%s'>%s</character>\n",
			c.Name, c.ExampleDialogue, c.Description)
	}
	b.WriteString("    </characters>\n    <locations>\n")
	for _, l := range pc.Locations {
		fmt.Fprintf(&b, "      <location name='%s'>%s</location>\n", l.Name, l.Description)
	}
	b.WriteString("    </locations>\n  </metadata>\n")
	fmt.Fprintf(&b, "  <chapter number='%d' title='%s'>\n", chapter.ChapterNumber, chapter.Title)
	fmt.Fprintf(&b, "    <summary>%s</summary>\n", chapter.Summary)
	b.WriteString("  </chapter>\n")
	// 相邻章节摘要给模型足够的衔接上下文，首尾章各缺一侧
	if prev := chapterByNumber(pc.Chapters, chapter.ChapterNumber-1); prev != nil {
		fmt.Fprintf(&b, "  <previousChapterSummary>%s</previousChapterSummary>\n", prev.Summary)
	}
	if next := chapterByNumber(pc.Chapters, chapter.ChapterNumber+1); next != nil {
		fmt.Fprintf(&b, "  <nextChapterSummary>%s</nextChapterSummary>\n", next.Summary)
	}
	if guides := guidesForChapter(pc.Guides, chapter.Title); len(guides) > 0 {
		b.WriteString("  <arcBreakdown>\n")
		for _, g := range guides {
			fmt.Fprintf(&b, "    <part index='%d' characters='%s' locations='%s'>%s</part>\n",
				g.PartIndex, strings.Join(g.Characters, ", "), strings.Join(g.Locations, ", "), g.PartText)
		}
		b.WriteString("  </arcBreakdown>\n")
	}
	b.WriteString("</bookContext>\n\n")
	b.WriteString("Write the full chapter in Markdown. Respond with the chapter text only, no JSON and no commentary.")
	return b.String()
}

// buildImagePrompt 插图/封面提示词
// chapter 为 nil 时生成封面
func buildImagePrompt(pc *promptContext, chapter *entity.Chapter) string {
	s := pc.Story
	if chapter == nil {
		return fmt.Sprintf(
			"A book cover illustration for the novel '%s'. %s Tags: %s. No text or lettering in the image.",
			s.Title, s.Details, s.Tags)
	}
	return fmt.Sprintf(
		"An illustration for chapter %d ('%s') of the novel '%s'. Scene: %s. No text or lettering in the image.",
		chapter.ChapterNumber, chapter.Title, s.Title, chapter.Summary)
}

func joinCharacterNames(characters []*entity.Character) string {
	names := make([]string, 0, len(characters))
	for _, c := range characters {
		names = append(names, c.Name)
	}
	return strings.Join(names, ", ")
}

func joinLocationNames(locations []*entity.Location) string {
	names := make([]string, 0, len(locations))
	for _, l := range locations {
		names = append(names, l.Name)
	}
	return strings.Join(names, ", ")
}

func chapterByNumber(chapters []*entity.Chapter, number int) *entity.Chapter {
	for _, ch := range chapters {
		if ch.ChapterNumber == number {
			return ch
		}
	}
	return nil
}

func guidesForChapter(guides []*entity.ChapterGuide, title string) []*entity.ChapterGuide {
	var out []*entity.ChapterGuide
	for _, g := range guides {
		if g.ChapterTitle == title {
			out = append(out, g)
		}
	}
	return out
}
