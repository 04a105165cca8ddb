package budget

import (
	"testing"
	"time"
)

func TestCheckUnlimitedByDefault(t *testing.T) {
	t.Parallel()
	tr := NewTracker(Ceilings{})
	for range 100 {
		tr.IncrementReposStarted()
		tr.IncrementQuestionsAsked()
	}
	if !tr.Check() {
		t.Fatalf("no ceilings configured, Check must stay true")
	}
}

func TestCheckRepoCeiling(t *testing.T) {
	t.Parallel()
	tr := NewTracker(Ceilings{MaxRepos: 3})
	for i := range 3 {
		if !tr.Check() {
			t.Fatalf("ceiling hit early after %d repos", i)
		}
		tr.IncrementReposStarted()
	}
	if tr.Check() {
		t.Fatalf("Check must be false after 3 of max 3 repos")
	}
}

func TestCheckQuestionCeiling(t *testing.T) {
	t.Parallel()
	tr := NewTracker(Ceilings{MaxQuestions: 2})
	tr.IncrementQuestionsAsked()
	if !tr.Check() {
		t.Fatalf("one question under a ceiling of two must pass")
	}
	tr.IncrementQuestionsAsked()
	if tr.Check() {
		t.Fatalf("Check must be false at the question ceiling")
	}
}

func TestCheckRuntimeCeiling(t *testing.T) {
	t.Parallel()
	tr := NewTracker(Ceilings{MaxRuntimeMin: 10})
	clock := tr.startedAt
	tr.now = func() time.Time { return clock }

	clock = tr.startedAt.Add(9 * time.Minute)
	if !tr.Check() {
		t.Fatalf("9 of 10 minutes must pass")
	}
	clock = tr.startedAt.Add(10 * time.Minute)
	if tr.Check() {
		t.Fatalf("10 of 10 minutes must fail")
	}
}

func TestUsageSnapshot(t *testing.T) {
	t.Parallel()
	tr := NewTracker(Ceilings{})
	tr.IncrementReposStarted()
	tr.IncrementReposStarted()
	tr.IncrementQuestionsAsked()

	u := tr.Usage()
	if u.ReposStarted != 2 || u.QuestionsAsked != 1 {
		t.Fatalf("usage = %+v", u)
	}
	if u.Elapsed < 0 {
		t.Fatalf("elapsed negative")
	}
}
