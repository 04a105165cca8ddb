package discovery

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind distinguishes issues from pull requests.
type Kind string

const (
	KindIssue Kind = "issue"
	KindPR    Kind = "pr"
)

// WorkItem is one discovered unit of candidate review work. Immutable once
// discovered within a run; identity is (Repo, Kind, Number).
type WorkItem struct {
	Repo      string    // "owner/name"
	Kind      Kind
	Number    int
	Title     string
	Labels    []string
	CreatedAt time.Time
	UpdatedAt time.Time
	Draft     bool

	// ReviewedRecently is set by the caller from prior review history; the
	// forge listing endpoints do not carry it.
	ReviewedRecently bool
}

// Key returns the stable item identity used in persisted state:
// "repo#kind-number".
func (w WorkItem) Key() string {
	return fmt.Sprintf("%s#%s-%d", w.Repo, w.Kind, w.Number)
}

// RepoFromKey extracts the repository id from an item key. Returns "" for
// malformed keys.
func RepoFromKey(key string) string {
	repo, _, ok := strings.Cut(key, "#")
	if !ok {
		return ""
	}
	return repo
}

// Priority buckets a score into a coarse urgency level.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	default:
		return "low"
	}
}

// MarshalJSON persists priorities by name, not by ordinal.
func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Priority) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePriority maps a threshold string to a Priority. "all" and "low" both
// map to PriorityLow, which keeps everything.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "all", "low", "":
		return PriorityLow, nil
	case "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	default:
		return PriorityLow, fmt.Errorf("unknown priority threshold %q", s)
	}
}

// ScoredItem pairs a WorkItem with its computed score and level.
type ScoredItem struct {
	WorkItem
	Score int
	Level Priority
}
