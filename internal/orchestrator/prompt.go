package orchestrator

import (
	"fmt"
	"strings"

	"reviewherd/internal/digest"
	"reviewherd/internal/discovery"
	"reviewherd/internal/session"
)

// buildPrompt assembles the instruction the agent starts with: the item
// list for this repository, how to signal completion, and how to ask
// structured questions. Apply mode additionally allows edits.
func buildPrompt(repo, mode string, items []discovery.ScoredItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are reviewing the repository %s.\n\n", repo)
	if mode == "apply" {
		b.WriteString("Apply fixes directly in this working tree where you are confident; describe the rest.\n")
	} else {
		b.WriteString("Produce a review plan only; do not modify any file except the digest.\n")
	}
	fmt.Fprintf(&b, "If a file named %s exists here, read it first; it summarizes prior reviews.\n", digest.FileName)
	fmt.Fprintf(&b, "Keep %s up to date with what you learn about this repository.\n\n", digest.FileName)

	if len(items) > 0 {
		b.WriteString("Work items, highest priority first:\n")
		for _, item := range items {
			fmt.Fprintf(&b, "- [%s] %s #%d: %s (score %d)\n",
				item.Level.String(), item.Kind, item.Number, item.Title, item.Score)
		}
		b.WriteString("\n")
	}

	b.WriteString("To ask the operator a question, print one JSON line shaped like ")
	b.WriteString(`{"type":"ask_user","questions":[{"prompt":"...","options":[{"label":"..."}],"recommended":"..."}]}`)
	b.WriteString(" and wait for the answer on stdin.\n")
	fmt.Fprintf(&b, "When the review is finished, print %s alone on its own line.\n", session.CompleteMarker)
	return b.String()
}
