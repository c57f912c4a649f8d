package ingress

import (
	"strings"

	"mercator-hq/tollgate/pkg/selection"
)

// taskKeywords are checked in order; the first task with a matching
// keyword wins.
var taskKeywords = []struct {
	task     selection.TaskType
	keywords []string
}{
	{selection.TaskCode, []string{"```", "code", "function", "bug", "compile", "refactor", "stack trace", "golang", "python", "javascript", "sql"}},
	{selection.TaskSummarize, []string{"summarize", "summarise", "summary", "tl;dr", "tldr", "key points"}},
	{selection.TaskTranslate, []string{"translate", "translation", "into english", "into french", "into spanish", "into german"}},
	{selection.TaskAnalyze, []string{"analyze", "analyse", "analysis", "compare", "evaluate", "assess"}},
	{selection.TaskCreative, []string{"write a story", "poem", "story", "creative", "fiction", "lyrics", "brainstorm"}},
	{selection.TaskReasoning, []string{"reason", "step by step", "prove", "logic", "puzzle", "why does"}},
	{selection.TaskQuestion, []string{"what is", "who is", "when did", "where is", "how do", "how does", "?"}},
}

// InferTask guesses the task type of a prompt from keyword presence. The
// explicit value wins when it names a known task.
func InferTask(explicit, text string) selection.TaskType {
	if t := selection.TaskType(strings.ToLower(strings.TrimSpace(explicit))); t != "" && t.Valid() {
		return t
	}

	lower := strings.ToLower(text)
	for _, tk := range taskKeywords {
		for _, kw := range tk.keywords {
			if strings.Contains(lower, kw) {
				return tk.task
			}
		}
	}
	return selection.TaskGeneral
}
