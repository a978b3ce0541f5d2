package billing

import "storyforge-api/internal/domain/entity"

// 系数表里缺某个动作时的兜底值
const fallbackModifier = 2

// actionKeys 各工作类型对应的系数动作键
var actionKeys = map[entity.StageKind][2]string{
	entity.KindMeta:         {"meta_input", "meta_output"},
	entity.KindSummaries:    {"summary_input", "summary_output"},
	entity.KindArcs:         {"arcs_input", "arcs_output"},
	entity.KindChapterGuide: {"chapter_guide_input", "chapter_guide_output"},
	entity.KindChapter:      {"chapter_input", "chapter_output"},
}

// ModifiersFor 查某工作类型的输入/输出系数
func ModifiersFor(modifiers map[string]int, kind entity.StageKind) (int, int) {
	keys, ok := actionKeys[kind]
	if !ok {
		return fallbackModifier, fallbackModifier
	}
	return modifierOrDefault(modifiers, keys[0]), modifierOrDefault(modifiers, keys[1])
}

// ImageModifier 查图片动作的系数
func ImageModifier(modifiers map[string]int) int {
	return modifierOrDefault(modifiers, "image")
}

func modifierOrDefault(modifiers map[string]int, key string) int {
	if m, ok := modifiers[key]; ok {
		return m
	}
	return fallbackModifier
}
