package discovery

import (
	"sort"
	"time"
)

// Scoring weights, tuned empirically against a backlog of a few hundred
// items across mixed-activity repositories.
const (
	basePR    = 20
	baseIssue = 10

	bonusSecurity    = 50
	bonusBug         = 30
	bonusEnhancement = 10

	bonusOld        = 50 // created more than 60 days ago
	penaltyStale    = 10 // created >180 days ago and untouched lately
	maxRecencyBonus = 15

	penaltyDraft    = 15
	penaltyReviewed = 20

	oldAfterDays      = 60
	staleAfterDays    = 180
	recentWindowDays  = 30
	recencyWindowDays = 15
)

// Score computes the priority score of an item at time now. Never negative.
func Score(item WorkItem, now time.Time) int {
	score := baseIssue
	if item.Kind == KindPR {
		score = basePR
	}

	// Highest matching label category wins; overlapping labels don't stack.
	switch {
	case hasLabel(item, "security"):
		score += bonusSecurity
	case hasLabel(item, "bug"):
		score += bonusBug
	case hasLabel(item, "enhancement"):
		score += bonusEnhancement
	}

	ageDays := int(now.Sub(item.CreatedAt).Hours() / 24)
	updatedDays := int(now.Sub(item.UpdatedAt).Hours() / 24)

	if ageDays > oldAfterDays {
		score += bonusOld
	}
	if ageDays > staleAfterDays && updatedDays > recentWindowDays {
		score -= penaltyStale
	}

	// Fresh activity pulls an item forward, decaying to nothing after two
	// weeks without updates.
	if updatedDays < recencyWindowDays {
		score += maxRecencyBonus - updatedDays
	}

	if item.Draft {
		score -= penaltyDraft
	}
	if item.ReviewedRecently {
		score -= penaltyReviewed
	}

	if score < 0 {
		score = 0
	}
	return score
}

func hasLabel(item WorkItem, name string) bool {
	for _, l := range item.Labels {
		if l == name {
			return true
		}
	}
	return false
}

// Level maps a score to its priority bucket. Breakpoints are monotonic:
// a higher score never yields a lower level.
func Level(score int) Priority {
	switch {
	case score >= 150:
		return PriorityCritical
	case score >= 120:
		return PriorityHigh
	case score >= 80:
		return PriorityNormal
	default:
		return PriorityLow
	}
}

// ScoreAndSort scores all items, drops those below threshold, and returns
// them sorted descending by score. Ties keep discovery order.
func ScoreAndSort(items []WorkItem, threshold Priority, now time.Time) []ScoredItem {
	scored := make([]ScoredItem, 0, len(items))
	for _, item := range items {
		s := Score(item, now)
		level := Level(s)
		if level < threshold {
			continue
		}
		scored = append(scored, ScoredItem{WorkItem: item, Score: s, Level: level})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	return scored
}
