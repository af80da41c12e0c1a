// Package analyzer turns the raw attempt/session NDJSON log into an
// AnalyticsSnapshot: per-LO time-to-mastery, expected-learning-gain
// candidates, confusion edges, speed-accuracy quadrants, reliability
// coefficients, and non-functional-distractor flags. It runs offline,
// against an immutable slice of already-ingested events — no
// coordination with live ingest is required.
package analyzer

import (
	"math"
	"sort"
	"time"

	"github.com/studyengine/core/internal/domain"
)

const (
	masteryAccuracyTarget = 0.82
	deficitPerAttempt     = 0.12
	speedThresholdSec     = 45.0
	overdueThreshold      = 72 * time.Hour
	nfdMinAttempts        = 20
	nfdMaxPickRate        = 0.05
	nfdMaxWilsonUpper     = 0.10
	wilsonZ               = 1.96
	topELGCandidates      = 3
)

// Run computes a full AnalyticsSnapshot from the given attempt/session
// events as of now. bank supplies each item's LOs for the ELG
// candidate pass; it may be nil, in which case ELG candidates are
// derived purely from attempted items.
func Run(attempts []domain.AttemptEvent, sessions []domain.SessionEvent, bank domain.ItemBank, now time.Time) domain.AnalyticsSnapshot {
	if len(attempts) == 0 {
		snap := domain.EmptySnapshot(now)
		snap.Totals.Learners = countDistinctLearners(sessions)
		return snap
	}

	loStats := aggregateByLO(attempts)
	ttm := buildTTM(loStats, now)
	elg := buildELG(loStats, attempts, bank)
	confusion := buildConfusionEdges(attempts)
	speed := buildSpeedAccuracy(attempts)
	reliability := buildReliability(attempts, sessions)
	nfd := buildNFD(attempts)

	return domain.AnalyticsSnapshot{
		SchemaVersion:  domain.AnalyticsSchemaVersion,
		GeneratedAt:    now,
		HasEvents:      true,
		Totals:         domain.Totals{Attempts: len(attempts), Learners: countDistinctUsers(attempts)},
		TTMPerLO:       ttm,
		ELGPerMin:      elg,
		ConfusionEdges: confusion,
		SpeedAccuracy:  speed,
		NFDSummary:     nfd,
		Reliability:    reliability,
	}
}

type loAggregate struct {
	loID          string
	attempts      int
	correct       int
	totalDuration float64 // seconds
	lastAttemptTs int64
}

func aggregateByLO(attempts []domain.AttemptEvent) map[string]*loAggregate {
	out := map[string]*loAggregate{}
	for _, a := range attempts {
		for _, loID := range a.LOIds {
			agg, ok := out[loID]
			if !ok {
				agg = &loAggregate{loID: loID}
				out[loID] = agg
			}
			agg.attempts++
			if a.Correct {
				agg.correct++
			}
			agg.totalDuration += float64(a.DurationMs) / 1000.0
			if a.TsSubmit > agg.lastAttemptTs {
				agg.lastAttemptTs = a.TsSubmit
			}
		}
	}
	return out
}

func buildTTM(loStats map[string]*loAggregate, now time.Time) []domain.TTMEntry {
	out := make([]domain.TTMEntry, 0, len(loStats))
	for _, agg := range sortedLOAggregates(loStats) {
		accuracy := float64(agg.correct) / float64(agg.attempts)
		avgDurationSec := agg.totalDuration / float64(agg.attempts)
		deficit := math.Max(0, masteryAccuracyTarget-accuracy)
		attemptsNeeded := int(math.Ceil(deficit / deficitPerAttempt))
		projectedMinutes := round2(float64(attemptsNeeded) * avgDurationSec / 60.0)
		overdue := now.Sub(time.UnixMilli(agg.lastAttemptTs)) > overdueThreshold

		out = append(out, domain.TTMEntry{
			LOId:                      agg.loID,
			Accuracy:                  round2(accuracy),
			AvgDurationSec:            round2(avgDurationSec),
			Deficit:                   round2(deficit),
			AttemptsNeeded:            attemptsNeeded,
			ProjectedMinutesToMastery: projectedMinutes,
			Overdue:                   overdue,
		})
	}
	return out
}

func sortedLOAggregates(loStats map[string]*loAggregate) []*loAggregate {
	out := make([]*loAggregate, 0, len(loStats))
	for _, v := range loStats {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].loID < out[j].loID })
	return out
}

// itemStat tracks per-item attempt aggregates used to estimate an
// item's average time cost for the ELG/min ranking.
type itemStat struct {
	itemID        string
	los           []string
	attempts      int
	totalDuration float64
}

func buildELG(loStats map[string]*loAggregate, attempts []domain.AttemptEvent, bank domain.ItemBank) []domain.ELGEntry {
	itemStats := map[string]*itemStat{}
	for _, a := range attempts {
		st, ok := itemStats[a.ItemID]
		if !ok {
			st = &itemStat{itemID: a.ItemID, los: a.LOIds}
			itemStats[a.ItemID] = st
		}
		st.attempts++
		st.totalDuration += float64(a.DurationMs) / 1000.0
	}
	if bank != nil {
		for _, it := range bank.All() {
			if _, ok := itemStats[it.ID]; !ok {
				itemStats[it.ID] = &itemStat{itemID: it.ID, los: it.LOs}
			} else {
				itemStats[it.ID].los = it.LOs
			}
		}
	}

	candidates := make([]domain.ELGEntry, 0, len(itemStats))
	for _, ids := range sortedItemIDs(itemStats) {
		st := itemStats[ids]
		loID, deficit := dominantDeficit(st.los, loStats)
		if loID == "" {
			continue
		}
		avgMinutes := itemAvgMinutes(st, loStats, loID)
		if avgMinutes <= 0 {
			continue
		}
		score := deficit / avgMinutes
		candidates = append(candidates, domain.ELGEntry{
			ItemID:        st.itemID,
			LOId:          loID,
			ProjectedGain: round2(deficit),
			AvgMinutes:    round2(avgMinutes),
			Score:         round2(score),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].ItemID < candidates[j].ItemID
	})
	if len(candidates) > topELGCandidates {
		candidates = candidates[:topELGCandidates]
	}
	return candidates
}

func sortedItemIDs(m map[string]*itemStat) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// dominantDeficit picks the LO with the largest outstanding deficit
// among an item's LOs — the LO this item would do the most good for.
func dominantDeficit(los []string, loStats map[string]*loAggregate) (string, float64) {
	best := ""
	bestDeficit := -1.0
	for _, loID := range los {
		agg, ok := loStats[loID]
		if !ok {
			continue
		}
		accuracy := float64(agg.correct) / float64(agg.attempts)
		deficit := math.Max(0, masteryAccuracyTarget-accuracy)
		if deficit > bestDeficit {
			bestDeficit = deficit
			best = loID
		}
	}
	if best == "" {
		return "", 0
	}
	return best, bestDeficit
}

// itemAvgMinutes estimates an item's time cost: its own observed
// average duration if it has been attempted, else the owning LO's
// average duration as a proxy, else a conservative one-minute default.
func itemAvgMinutes(st *itemStat, loStats map[string]*loAggregate, loID string) float64 {
	if st.attempts > 0 {
		return (st.totalDuration / float64(st.attempts)) / 60.0
	}
	if agg, ok := loStats[loID]; ok && agg.attempts > 0 {
		return (agg.totalDuration / float64(agg.attempts)) / 60.0
	}
	return 1.0
}

func buildConfusionEdges(attempts []domain.AttemptEvent) []domain.ConfusionEdge {
	type key struct {
		loID   string
		itemID string
		choice string
	}
	counts := map[key]int{}
	for _, a := range attempts {
		if a.Correct {
			continue
		}
		for _, loID := range a.LOIds {
			counts[key{loID, a.ItemID, string(a.Choice)}]++
		}
	}
	out := make([]domain.ConfusionEdge, 0, len(counts))
	for k, c := range counts {
		out = append(out, domain.ConfusionEdge{LOId: k.loID, ItemID: k.itemID, Choice: k.choice, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].LOId != out[j].LOId {
			return out[i].LOId < out[j].LOId
		}
		return out[i].ItemID < out[j].ItemID
	})
	return out
}

func buildSpeedAccuracy(attempts []domain.AttemptEvent) domain.SpeedAccuracy {
	var sa domain.SpeedAccuracy
	for _, a := range attempts {
		fast := float64(a.DurationMs)/1000.0 < speedThresholdSec
		switch {
		case fast && !a.Correct:
			sa.FastWrong++
		case !fast && !a.Correct:
			sa.SlowWrong++
		case fast && a.Correct:
			sa.FastRight++
		default:
			sa.SlowRight++
		}
	}
	return sa
}

func buildReliability(attempts []domain.AttemptEvent, sessions []domain.SessionEvent) domain.Reliability {
	return domain.Reliability{
		KR20:              kr20(attempts),
		ItemPointBiserial: pointBiserial(attempts),
	}
}

// kr20 computes Kuder-Richardson 20 across sessions with >= 2 scored
// items. Returns nil when fewer than 2 qualifying sessions exist or
// the total-score variance is zero.
func kr20(attempts []domain.AttemptEvent) *float64 {
	sessionItems := map[string]map[string]bool{}
	for _, a := range attempts {
		if sessionItems[a.SessionID] == nil {
			sessionItems[a.SessionID] = map[string]bool{}
		}
		sessionItems[a.SessionID][a.ItemID] = true
	}

	itemIDs := map[string]bool{}
	sessionScores := map[string]float64{}
	itemCorrectBySession := map[string]map[string]bool{}
	for _, a := range attempts {
		if len(sessionItems[a.SessionID]) < 2 {
			continue
		}
		itemIDs[a.ItemID] = true
		if itemCorrectBySession[a.ItemID] == nil {
			itemCorrectBySession[a.ItemID] = map[string]bool{}
		}
		if a.Correct {
			itemCorrectBySession[a.ItemID][a.SessionID] = true
			sessionScores[a.SessionID]++
		} else if _, ok := sessionScores[a.SessionID]; !ok {
			sessionScores[a.SessionID] = 0
		}
	}

	k := len(itemIDs)

	qualifying := 0
	for _, items := range sessionItems {
		if len(items) >= 2 {
			qualifying++
		}
	}
	if qualifying < 2 || k < 2 {
		return nil
	}

	variance := variance(mapValues(sessionScores))
	if variance == 0 {
		return nil
	}

	sumPQ := 0.0
	totalSessions := float64(qualifying)
	for itemID := range itemIDs {
		p := float64(len(itemCorrectBySession[itemID])) / totalSessions
		q := 1 - p
		sumPQ += p * q
	}

	kf := float64(k)
	value := round2((kf / (kf - 1)) * (1 - sumPQ/variance))
	return &value
}

func mapValues(m map[string]float64) []float64 {
	out := make([]float64, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

func variance(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	sumSq := 0.0
	for _, x := range xs {
		d := x - mean
		sumSq += d * d
	}
	return sumSq / float64(len(xs))
}

// pointBiserial computes each item's point-biserial correlation
// against total score on the same session, excluding the item's own
// contribution to that score. Requires >= 2 learners with >= 2
// attempts each system-wide; otherwise returns an empty map.
func pointBiserial(attempts []domain.AttemptEvent) map[string]float64 {
	out := map[string]float64{}

	attemptsByUser := map[string]int{}
	for _, a := range attempts {
		attemptsByUser[a.UserID]++
	}
	qualifyingUsers := 0
	for _, n := range attemptsByUser {
		if n >= 2 {
			qualifyingUsers++
		}
	}
	if qualifyingUsers < 2 {
		return out
	}

	sessionScore := map[string]float64{}
	sessionCount := map[string]int{}
	type itemAttempt struct {
		sessionID string
		correct   bool
	}
	byItem := map[string][]itemAttempt{}
	for _, a := range attempts {
		sessionCount[a.SessionID]++
		if a.Correct {
			sessionScore[a.SessionID]++
		}
		byItem[a.ItemID] = append(byItem[a.ItemID], itemAttempt{sessionID: a.SessionID, correct: a.Correct})
	}

	for _, itemID := range sortedKeys(byItem) {
		recs := byItem[itemID]
		if len(recs) < 2 {
			continue
		}
		var correctRest, wrongRest []float64
		for _, r := range recs {
			rest := sessionScore[r.sessionID]
			if r.correct {
				rest--
			}
			if sessionCount[r.sessionID] <= 1 {
				continue
			}
			if r.correct {
				correctRest = append(correctRest, rest)
			} else {
				wrongRest = append(wrongRest, rest)
			}
		}
		if len(correctRest) == 0 || len(wrongRest) == 0 {
			continue
		}
		p := float64(len(correctRest)) / float64(len(recs))
		q := 1 - p
		meanCorrect := mean(correctRest)
		meanWrong := mean(wrongRest)
		all := append(append([]float64{}, correctRest...), wrongRest...)
		sd := math.Sqrt(variance(all))
		if sd == 0 {
			continue
		}
		rpb := ((meanCorrect - meanWrong) / sd) * math.Sqrt(p*q)
		out[itemID] = round2(rpb)
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func buildNFD(attempts []domain.AttemptEvent) []domain.NFDEntry {
	type itemChoice struct {
		itemID string
		choice string
	}
	itemAttempts := map[string]int{}
	choiceCounts := map[itemChoice]int{}
	for _, a := range attempts {
		itemAttempts[a.ItemID]++
		choiceCounts[itemChoice{a.ItemID, string(a.Choice)}]++
	}

	var out []domain.NFDEntry
	for ic, count := range choiceCounts {
		n := itemAttempts[ic.itemID]
		if n < nfdMinAttempts {
			continue
		}
		pickRate := float64(count) / float64(n)
		upper := wilsonUpperBound(count, n, wilsonZ)
		if pickRate < nfdMaxPickRate && upper < nfdMaxWilsonUpper {
			out = append(out, domain.NFDEntry{
				ItemID:   ic.itemID,
				Choice:   ic.choice,
				PickRate: round2(pickRate),
				Wilson95: round2(upper),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ItemID != out[j].ItemID {
			return out[i].ItemID < out[j].ItemID
		}
		return out[i].Choice < out[j].Choice
	})
	return out
}

// wilsonUpperBound computes the upper bound of the Wilson score
// confidence interval for count successes out of n trials at
// confidence z.
func wilsonUpperBound(count, n int, z float64) float64 {
	if n == 0 {
		return 0
	}
	p := float64(count) / float64(n)
	nf := float64(n)
	denom := 1 + z*z/nf
	center := p + z*z/(2*nf)
	margin := z * math.Sqrt(p*(1-p)/nf+z*z/(4*nf*nf))
	return (center + margin) / denom
}

func countDistinctUsers(attempts []domain.AttemptEvent) int {
	seen := map[string]bool{}
	for _, a := range attempts {
		seen[a.UserID] = true
	}
	return len(seen)
}

func countDistinctLearners(sessions []domain.SessionEvent) int {
	seen := map[string]bool{}
	for _, s := range sessions {
		seen[s.UserID] = true
	}
	return len(seen)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
