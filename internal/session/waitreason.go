package session

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"
)

// WaitReason says why a waiting session is waiting.
type WaitReason string

const (
	ReasonAskUserQuestion WaitReason = "ask_user_question"
	ReasonExternalPrompt  WaitReason = "external_prompt"
	ReasonAgentQuestion   WaitReason = "agent_question_text"
	ReasonUnknown         WaitReason = "unknown"
)

// Risk grades an external prompt by what answering it blindly could cost.
type Risk string

const (
	RiskHigh   Risk = "high"
	RiskMedium Risk = "medium"
	RiskLow    Risk = "low"
)

// PromptOption is one selectable answer inside a structured ask event.
type PromptOption struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// AskPrompt is one question from a structured ask event.
type AskPrompt struct {
	Prompt      string         `json:"prompt"`
	Options     []PromptOption `json:"options,omitempty"`
	Recommended string         `json:"recommended,omitempty"`
}

// TestReport is the agent's latest test outcome, carried on an ask event.
type TestReport struct {
	Passed   bool   `json:"passed"`
	Duration string `json:"duration,omitempty"`
}

// WaitInfo is the normalized result of wait-reason detection.
type WaitInfo struct {
	Reason     WaitReason
	Context    string
	Options    []string
	Risk       Risk
	Prompts    []AskPrompt
	Tests      *TestReport
	DetectedAt time.Time
}

// askEvent is the NDJSON line agents emit to ask structured questions:
//
//	{"type":"ask_user","questions":[{"prompt":"...","options":[...],"recommended":"..."}],"tests":{"passed":true,"duration":"4s"}}
type askEvent struct {
	Type      string      `json:"type"`
	Questions []AskPrompt `json:"questions"`
	Tests     *TestReport `json:"tests,omitempty"`
}

// External prompts in descending risk. High means credentials or auth,
// medium means conflicts or destructive confirmations, low is anything else
// we recognize. Patterns match against lowercased output.
var externalPrompts = []struct {
	pattern string
	risk    Risk
}{
	{"password:", RiskHigh},
	{"passphrase", RiskHigh},
	{"username for", RiskHigh},
	{"api key", RiskHigh},
	{"authentication token", RiskHigh},
	{"authenticity of host", RiskMedium},
	{"conflict (content)", RiskMedium},
	{"merge conflict", RiskMedium},
	{"are you sure", RiskMedium},
	{"will be overwritten", RiskMedium},
	{"will be deleted", RiskMedium},
	{"press enter to continue", RiskLow},
	{"continue? (y/n)", RiskLow},
	{"proceed? (y/n)", RiskLow},
}

var questionPrefixes = []string{
	"should i",
	"which ",
	"would you like",
	"do you want",
	"do you prefer",
	"how should",
}

// optionLineRe matches inline lettered or numbered option lists like
// "1) use the helper" or "a. rewrite it".
var optionLineRe = regexp.MustCompile(`^\s*(?:\(?[a-zA-Z0-9]\)|[a-zA-Z0-9][.)])\s+(.{2,})$`)

// DetectWaitReason classifies why output is sitting at a prompt. Checked in
// strict priority: a structured ask event wins over any external-prompt
// pattern, which wins over free-text question heuristics.
func DetectWaitReason(output string, now time.Time) WaitInfo {
	if info, ok := detectAskEvent(output, now); ok {
		return info
	}
	if info, ok := detectExternalPrompt(output, now); ok {
		return info
	}
	if info, ok := detectQuestionText(output, now); ok {
		return info
	}
	return WaitInfo{
		Reason:     ReasonUnknown,
		Context:    strings.TrimSpace(tail(output, 200)),
		DetectedAt: now,
	}
}

func detectAskEvent(output string, now time.Time) (WaitInfo, bool) {
	lines := strings.Split(output, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") || !strings.Contains(line, `"ask_user"`) {
			continue
		}
		var ev askEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil || ev.Type != "ask_user" {
			continue
		}
		info := WaitInfo{Reason: ReasonAskUserQuestion, Prompts: ev.Questions, Tests: ev.Tests, DetectedAt: now}
		if len(ev.Questions) > 0 {
			info.Context = ev.Questions[0].Prompt
			for _, o := range ev.Questions[0].Options {
				info.Options = append(info.Options, o.Label)
			}
		}
		return info, true
	}
	return WaitInfo{}, false
}

func detectExternalPrompt(output string, now time.Time) (WaitInfo, bool) {
	lower := strings.ToLower(tail(output, 2000))
	for _, p := range externalPrompts {
		idx := strings.LastIndex(lower, p.pattern)
		if idx < 0 {
			continue
		}
		start := strings.LastIndexByte(lower[:idx], '\n') + 1
		line := strings.TrimSpace(tail(output, 2000)[start:])
		if nl := strings.IndexByte(line, '\n'); nl >= 0 {
			line = line[:nl]
		}
		return WaitInfo{
			Reason:     ReasonExternalPrompt,
			Context:    line,
			Risk:       p.risk,
			DetectedAt: now,
		}, true
	}
	return WaitInfo{}, false
}

func detectQuestionText(output string, now time.Time) (WaitInfo, bool) {
	lines := strings.Split(tail(output, 2000), "\n")
	for i := len(lines) - 1; i >= 0 && i >= len(lines)-15; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" || !looksLikeQuestion(line) {
			continue
		}
		info := WaitInfo{Reason: ReasonAgentQuestion, Context: line, DetectedAt: now}
		// Options usually follow on the next few lines.
		for j := i + 1; j < len(lines) && j <= i+8; j++ {
			if m := optionLineRe.FindStringSubmatch(strings.TrimSpace(lines[j])); m != nil {
				info.Options = append(info.Options, strings.TrimSpace(m[1]))
			}
		}
		return info, true
	}
	return WaitInfo{}, false
}

func looksLikeQuestion(line string) bool {
	lower := strings.ToLower(line)
	for _, p := range questionPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return strings.HasSuffix(line, "?") ||
		strings.Contains(lower, "[y/n]") ||
		strings.Contains(lower, "(y/n)")
}
