// Package tui is the interactive question inbox: every pending question
// from every concurrent review session in one prioritized list, answerable
// without attaching to any agent.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"reviewherd/internal/discovery"
	"reviewherd/internal/question"
	"reviewherd/internal/session"
)

// ── Styles ──────────────────────────────────────────────────────────────────

const pad = 2 // horizontal padding on each side

var (
	frameStyle    = lipgloss.NewStyle().Padding(1, pad)
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("46"))
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("37"))
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("46"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	labelStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	priorityStyle = map[string]lipgloss.Style{
		"critical": lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		"high":     lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		"normal":   lipgloss.NewStyle().Foreground(lipgloss.Color("33")),
		"low":      lipgloss.NewStyle().Foreground(lipgloss.Color("246")),
	}
	recommendedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
)

// snoozeFor is how long the z key hides a question.
const snoozeFor = time.Hour

// ── Model ───────────────────────────────────────────────────────────────────

// Model is the BubbleTea model for the question inbox.
//
// Navigation depth:
//
//	selected == nil              → Level 1 (question list)
//	selected != nil              → Level 2 (question detail)
//	selected != nil && answering → Level 2 with free-text input
type Model struct {
	queue *question.Queue
	// driver routes answers back to live sessions; nil records only.
	driver session.Driver

	questions []question.Question
	cursor    int

	selected  *question.Question
	answering bool
	input     string

	actionErr error
	err       error
	width     int
	height    int
}

func NewModel(queue *question.Queue, driver session.Driver) Model {
	return Model{queue: queue, driver: driver}
}

// ── Messages ────────────────────────────────────────────────────────────────

type questionsMsg []question.Question
type actionResultMsg struct {
	action string
	err    error
}
type errMsg error

// ── Init / Commands ─────────────────────────────────────────────────────────

func (m Model) Init() tea.Cmd { return m.fetchQuestions }

func (m Model) fetchQuestions() tea.Msg {
	qs, err := m.queue.Pending(time.Now())
	if err != nil {
		return errMsg(err)
	}
	return questionsMsg(qs)
}

func (m Model) executeAnswer(id, answer string) tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		if m.driver != nil {
			return actionResultMsg{action: "answer", err: m.queue.RouteAnswer(ctx, m.driver, id, answer)}
		}
		_, err := m.queue.MarkAnswered(ctx, id, answer)
		return actionResultMsg{action: "answer", err: err}
	}
}

func (m Model) executeSkip(id string) tea.Cmd {
	return func() tea.Msg {
		_, err := m.queue.MarkSkipped(context.Background(), id)
		return actionResultMsg{action: "skip", err: err}
	}
}

func (m Model) executeSnooze(id string) tea.Cmd {
	return func() tea.Msg {
		_, err := m.queue.MarkSnoozed(context.Background(), id, time.Now().Add(snoozeFor))
		return actionResultMsg{action: "snooze", err: err}
	}
}

// ── Update ──────────────────────────────────────────────────────────────────

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil
	case questionsMsg:
		m.questions = msg
		if m.cursor >= len(m.questions) {
			m.cursor = len(m.questions) - 1
		}
		if m.cursor < 0 {
			m.cursor = 0
		}
		return m, nil
	case actionResultMsg:
		m.actionErr = msg.err
		if msg.err == nil {
			m.selected = nil
			m.answering = false
			m.input = ""
		}
		return m, m.fetchQuestions
	case errMsg:
		m.err = msg
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

// ── Key Handling ────────────────────────────────────────────────────────────

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.answering {
		return m.handleInputKey(msg)
	}
	key := msg.String()
	switch key {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "r":
		return m, m.fetchQuestions
	}
	if m.selected != nil {
		return m.handleDetailKey(key)
	}
	return m.handleListKey(key)
}

func (m Model) handleListKey(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.questions)-1 {
			m.cursor++
		}
	case "enter":
		if len(m.questions) > 0 {
			q := m.questions[m.cursor]
			m.selected = &q
			m.actionErr = nil
		}
	}
	return m, nil
}

func (m Model) handleDetailKey(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "esc":
		m.selected = nil
		m.actionErr = nil
	case "a":
		m.answering = true
		m.input = ""
	case "s":
		return m, m.executeSkip(m.selected.ID)
	case "z":
		return m, m.executeSnooze(m.selected.ID)
	default:
		// Digits pick an option from the first prompt directly.
		if len(key) == 1 && key[0] >= '1' && key[0] <= '9' && len(m.selected.Prompts) > 0 {
			opts := m.selected.Prompts[0].Options
			if i := int(key[0] - '1'); i < len(opts) {
				return m, m.executeAnswer(m.selected.ID, opts[i].Label)
			}
		}
	}
	return m, nil
}

func (m Model) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.answering = false
		m.input = ""
	case "enter":
		if strings.TrimSpace(m.input) != "" {
			return m, m.executeAnswer(m.selected.ID, strings.TrimSpace(m.input))
		}
	case "backspace":
		if len(m.input) > 0 {
			m.input = m.input[:len(m.input)-1]
		}
	default:
		if msg.Type == tea.KeyRunes {
			m.input += string(msg.Runes)
		}
		if msg.Type == tea.KeySpace {
			m.input += " "
		}
	}
	return m, nil
}

// ── Views ───────────────────────────────────────────────────────────────────

func (m Model) View() string {
	if m.err != nil {
		return frameStyle.Render(errStyle.Render(fmt.Sprintf("error: %v", m.err)))
	}
	if m.selected != nil {
		return m.detailView()
	}
	return m.listView()
}

func (m Model) listView() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Review Questions"))
	b.WriteString("\n\n")

	if len(m.questions) == 0 {
		b.WriteString(dimStyle.Render("(no pending questions)"))
	} else {
		b.WriteString(labelStyle.Render(fmt.Sprintf("%d pending, highest %s",
			len(m.questions), highestPriority(m.questions).String())))
		b.WriteString("\n\n")
		b.WriteString(headerStyle.Render(fmt.Sprintf("  %-8s %-24s %s", "PRIO", "REPO", "QUESTION")))
		b.WriteString("\n")
		for i, q := range m.questions {
			prio := q.Priority.String()
			line := fmt.Sprintf("%-8s %-24s %s", prio, q.Repo, firstPrompt(q))
			if i == m.cursor {
				b.WriteString(selectedStyle.Render("> " + line))
			} else {
				b.WriteString("  " + priorityStyle[prio].Render(prio) + line[len(prio):])
			}
			b.WriteString("\n")
		}
	}
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("↑/↓ move · enter open · r refresh · q quit"))
	return frameStyle.Render(b.String())
}

func (m Model) detailView() string {
	q := m.selected
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%s · %s", q.Repo, q.Priority.String())))
	b.WriteString("\n")
	b.WriteString(labelStyle.Render(fmt.Sprintf("session %s · asked %s",
		q.SessionID, q.AskedAt.Local().Format("15:04:05"))))
	b.WriteString("\n\n")

	if q.Context.Risk != "" {
		b.WriteString(labelStyle.Render("risk: ") + q.Context.Risk + "\n")
	}
	if ps := q.Context.PatchSummary; ps != nil {
		b.WriteString(labelStyle.Render("patch: ") +
			fmt.Sprintf("%d files, +%d -%d", ps.Files, ps.Insertions, ps.Deletions) + "\n")
	}
	if tr := q.Context.TestResult; tr != nil {
		result := "failed"
		if tr.Passed {
			result = "passed"
		}
		b.WriteString(labelStyle.Render("tests: ") + result + " " + tr.Duration + "\n")
	}

	for _, p := range q.Prompts {
		b.WriteString("\n")
		for _, line := range renderMarkdown(p.Prompt, m.width-2*pad) {
			b.WriteString(line + "\n")
		}
		for i, opt := range p.Options {
			line := fmt.Sprintf("  %d) %s", i+1, opt.Label)
			if opt.Description != "" {
				line += dimStyle.Render(" · " + opt.Description)
			}
			if opt.Label == p.Recommended {
				line += recommendedStyle.Render(" (recommended)")
			}
			b.WriteString(line + "\n")
		}
	}

	b.WriteString("\n")
	if m.actionErr != nil {
		b.WriteString(errStyle.Render(fmt.Sprintf("action failed: %v", m.actionErr)))
		b.WriteString("\n")
	}
	if m.answering {
		b.WriteString(headerStyle.Render("answer: ") + m.input + "█\n")
		b.WriteString(dimStyle.Render("enter send · esc cancel"))
	} else {
		b.WriteString(dimStyle.Render("1-9 pick option · a answer · s skip · z snooze 1h · esc back · q quit"))
	}
	return frameStyle.Render(b.String())
}

func firstPrompt(q question.Question) string {
	text := q.Context.Excerpt
	if len(q.Prompts) > 0 && q.Prompts[0].Prompt != "" {
		text = q.Prompts[0].Prompt
	}
	if len(text) > 60 {
		text = text[:57] + "..."
	}
	return text
}

// renderMarkdown renders text as terminal-styled markdown via glamour.
// Falls back to plain text splitting on error.
func renderMarkdown(text string, width int) []string {
	if width < 40 {
		width = 76
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return strings.Split(text, "\n")
	}
	rendered, err := r.Render(text)
	if err != nil {
		return strings.Split(text, "\n")
	}
	rendered = strings.TrimRight(rendered, "\n")
	return strings.Split(rendered, "\n")
}

func highestPriority(qs []question.Question) discovery.Priority {
	top := discovery.PriorityLow
	for _, q := range qs {
		if q.Priority > top {
			top = q.Priority
		}
	}
	return top
}
