// Package retention implements the FSRS-style spaced-repetition lane:
// half-life updates, next-review scheduling, session retention budget,
// and the review queue the engine hands back for a session's retention
// slice.
package retention

import (
	"math"
	"sort"

	"github.com/studyengine/core/internal/domain"
	"github.com/studyengine/core/internal/dsa"
)

const msPerHour = 3_600_000.0

// HalfLifeUpdateInput is the inputs to one FSRS half-life revision.
type HalfLifeUpdateInput struct {
	HalfLifeHours float64
	Expected      float64 // predicted recall probability at the review
	Correct       bool
}

// UpdateHalfLife revises a card's half-life after a review. A correct
// recall lengthens the interval in proportion to how surprising the
// success was (low `expected` -> bigger gain); a lapse shrinks it in
// proportion to how confident the prediction was.
func UpdateHalfLife(in HalfLifeUpdateInput) float64 {
	var gain float64
	if in.Correct {
		gain = 0.2 + 0.6*(1-in.Expected)
	} else {
		gain = -0.5 * (0.3 + 0.7*in.Expected)
	}
	next := in.HalfLifeHours * math.Exp(gain)
	return math.Max(domain.MinHalfLifeHours, next)
}

// ScheduleNextReviewInput is the inputs to next-review scheduling.
type ScheduleNextReviewInput struct {
	HalfLifeHours float64
	NowMs         int64
}

// ScheduleNextReview computes the next-review timestamp: nowMs plus an
// interval derived from the half-life (floored at 1ms).
func ScheduleNextReview(in ScheduleNextReviewInput) int64 {
	intervalMs := int64(math.Max(1, in.HalfLifeHours*msPerHour))
	return in.NowMs + intervalMs
}

// RetentionBudget returns the fraction of a session's minutes set aside
// for retention review, based on the learner's worst overdue card.
func RetentionBudget(maxDaysOverdue float64) float64 {
	if maxDaysOverdue > 7 {
		return 0.6
	}
	return 0.4
}

// RetentionBudgetResult is the minute allocation derived from a session
// length and the overdue fraction.
type RetentionBudgetResult struct {
	Minutes  int
	Fraction float64
}

// ComputeRetentionBudget turns a session length and overdue signal into
// a concrete minute allocation for the retention lane.
func ComputeRetentionBudget(maxDaysOverdue float64, sessionMinutes float64) RetentionBudgetResult {
	fraction := RetentionBudget(maxDaysOverdue)
	return RetentionBudgetResult{
		Minutes:  int(math.Floor(sessionMinutes * fraction)),
		Fraction: fraction,
	}
}

// QueueCard is one candidate for a retention review queue: a retention
// card plus the identifiers buildRetentionQueue needs to rank and
// estimate its cost.
type QueueCard struct {
	ItemID        string
	Card          domain.RetentionCard
	OverdueDays   float64
}

// minutesPerItem estimates review minutes for a card, preferring the
// analyzer's ELG/min recommendation for the item when available.
func minutesPerItem(c QueueCard, elgMinutes map[string]float64) float64 {
	if m, ok := elgMinutes[c.ItemID]; ok && m > 0 {
		return m
	}
	return (90 + 6*float64(len(c.Card.LOIds))) / 60.0
}

// less orders cards: overdue cards first, then by nearer nextReviewMs,
// ties broken by larger overdueDays (the most overdue of the overdue
// cards goes first).
func less(a, b QueueCard) bool {
	aOverdue := a.OverdueDays > 0
	bOverdue := b.OverdueDays > 0
	if aOverdue != bOverdue {
		return aOverdue
	}
	if a.Card.NextReviewMs != b.Card.NextReviewMs {
		return a.Card.NextReviewMs < b.Card.NextReviewMs
	}
	return a.OverdueDays > b.OverdueDays
}

// BuildRetentionQueue orders candidate cards by urgency and fills the
// queue until minuteBudget would be exceeded, always keeping at least
// one card when candidates exist.
func BuildRetentionQueue(candidates []QueueCard, minuteBudget float64, elgMinutes map[string]float64) []QueueCard {
	if len(candidates) == 0 {
		return nil
	}

	pq := dsa.NewPriorityQueue(less)
	for _, c := range candidates {
		pq.Push(c)
	}

	var out []QueueCard
	var spent float64
	for {
		c, ok := pq.Pop()
		if !ok {
			break
		}
		cost := minutesPerItem(c, elgMinutes)
		if len(out) > 0 && spent+cost > minuteBudget {
			break
		}
		out = append(out, c)
		spent += cost
	}
	return out
}

// SortCardsForDisplay is a convenience used by read-only endpoints that
// want the same ordering as BuildRetentionQueue without the budget cut.
func SortCardsForDisplay(candidates []QueueCard) []QueueCard {
	out := make([]QueueCard, len(candidates))
	copy(out, candidates)
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}
