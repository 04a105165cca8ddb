package discovery

import (
	"testing"
	"time"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func daysAgo(d int) time.Time { return now.Add(-time.Duration(d) * 24 * time.Hour) }

func TestScoreNeverNegative(t *testing.T) {
	t.Parallel()
	item := WorkItem{
		Repo:             "acme/widgets",
		Kind:             KindIssue,
		Number:           1,
		CreatedAt:        daysAgo(400),
		UpdatedAt:        daysAgo(200),
		Draft:            true,
		ReviewedRecently: true,
	}
	// base 10 + old 50 - stale 10 - draft 15 - reviewed 20 = 15; force lower
	// by removing the age bonus.
	item.CreatedAt = daysAgo(40)
	item.UpdatedAt = daysAgo(40)
	if got := Score(item, now); got < 0 {
		t.Fatalf("score = %d, want >= 0", got)
	}
}

func TestScoreComponents(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		item WorkItem
		want int
	}{
		{
			name: "plain fresh issue gets base plus recency",
			item: WorkItem{Kind: KindIssue, CreatedAt: daysAgo(1), UpdatedAt: daysAgo(0)},
			want: 10 + 15,
		},
		{
			name: "plain fresh pr gets pr base plus recency",
			item: WorkItem{Kind: KindPR, CreatedAt: daysAgo(1), UpdatedAt: daysAgo(0)},
			want: 20 + 15,
		},
		{
			name: "security label beats bug label",
			item: WorkItem{Kind: KindIssue, Labels: []string{"bug", "security"}, CreatedAt: daysAgo(20), UpdatedAt: daysAgo(20)},
			want: 10 + 50,
		},
		{
			name: "bug label alone",
			item: WorkItem{Kind: KindIssue, Labels: []string{"bug"}, CreatedAt: daysAgo(20), UpdatedAt: daysAgo(20)},
			want: 10 + 30,
		},
		{
			name: "old issue gets age bonus",
			item: WorkItem{Kind: KindIssue, CreatedAt: daysAgo(90), UpdatedAt: daysAgo(20)},
			want: 10 + 50,
		},
		{
			name: "ancient untouched issue also penalized",
			item: WorkItem{Kind: KindIssue, CreatedAt: daysAgo(200), UpdatedAt: daysAgo(100)},
			want: 10 + 50 - 10,
		},
		{
			name: "ancient but active issue keeps recency",
			item: WorkItem{Kind: KindIssue, CreatedAt: daysAgo(200), UpdatedAt: daysAgo(2)},
			want: 10 + 50 + 13,
		},
		{
			name: "draft pr penalized",
			item: WorkItem{Kind: KindPR, Draft: true, CreatedAt: daysAgo(20), UpdatedAt: daysAgo(20)},
			want: 20 - 15,
		},
		{
			name: "recently reviewed penalized",
			item: WorkItem{Kind: KindPR, ReviewedRecently: true, CreatedAt: daysAgo(20), UpdatedAt: daysAgo(20)},
			want: 20 - 20,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Score(tc.item, now); got != tc.want {
				t.Errorf("Score = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestLevelMonotonic(t *testing.T) {
	t.Parallel()
	prev := Level(0)
	for score := 0; score <= 250; score++ {
		cur := Level(score)
		if cur < prev {
			t.Fatalf("Level(%d) = %v below Level(%d) = %v", score, cur, score-1, prev)
		}
		prev = cur
	}
	if Level(150) != PriorityCritical {
		t.Errorf("Level(150) = %v, want critical", Level(150))
	}
	if Level(120) != PriorityHigh {
		t.Errorf("Level(120) = %v, want high", Level(120))
	}
	if Level(80) != PriorityNormal {
		t.Errorf("Level(80) = %v, want normal", Level(80))
	}
	if Level(79) != PriorityLow {
		t.Errorf("Level(79) = %v, want low", Level(79))
	}
}

func TestScoreAndSortThresholdAndOrder(t *testing.T) {
	t.Parallel()
	items := []WorkItem{
		// security + old + pr: 20+50+50 = 120 (high)
		{Repo: "acme/a", Kind: KindPR, Number: 1, Labels: []string{"security"}, CreatedAt: daysAgo(90), UpdatedAt: daysAgo(40)},
		// plain issue, low
		{Repo: "acme/b", Kind: KindIssue, Number: 2, CreatedAt: daysAgo(20), UpdatedAt: daysAgo(20)},
		// identical twin of the first to exercise stable ties
		{Repo: "acme/c", Kind: KindPR, Number: 3, Labels: []string{"security"}, CreatedAt: daysAgo(90), UpdatedAt: daysAgo(40)},
	}

	got := ScoreAndSort(items, PriorityHigh, now)
	if len(got) != 2 {
		t.Fatalf("kept %d items, want 2", len(got))
	}
	for _, s := range got {
		if s.Level < PriorityHigh {
			t.Errorf("item %s level %v below threshold", s.Key(), s.Level)
		}
	}
	// Equal scores keep discovery order.
	if got[0].Repo != "acme/a" || got[1].Repo != "acme/c" {
		t.Errorf("tie order broken: %s, %s", got[0].Repo, got[1].Repo)
	}

	all := ScoreAndSort(items, PriorityLow, now)
	if len(all) != 3 {
		t.Fatalf("threshold low kept %d, want all 3", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Score > all[i-1].Score {
			t.Fatalf("not sorted descending at %d", i)
		}
	}
}

func TestParsePriority(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]Priority{
		"all": PriorityLow, "low": PriorityLow, "normal": PriorityNormal,
		"high": PriorityHigh, "critical": PriorityCritical, "": PriorityLow,
	} {
		got, err := ParsePriority(in)
		if err != nil {
			t.Errorf("ParsePriority(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParsePriority(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParsePriority("urgent"); err == nil {
		t.Errorf("expected error for unknown threshold")
	}
}

func TestKeyRoundTrip(t *testing.T) {
	t.Parallel()
	item := WorkItem{Repo: "acme/widgets", Kind: KindPR, Number: 42}
	if item.Key() != "acme/widgets#pr-42" {
		t.Fatalf("key = %q", item.Key())
	}
	if RepoFromKey(item.Key()) != "acme/widgets" {
		t.Fatalf("repo from key = %q", RepoFromKey(item.Key()))
	}
	if RepoFromKey("garbage") != "" {
		t.Fatalf("malformed key should yield empty repo")
	}
}
