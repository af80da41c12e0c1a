// Package personalization orchestrates the engine leaves — psychometrics,
// selector, scheduler, retention — into the handful of operations a
// session actually calls: pick the next item, fold an answer back into
// the learner's ability estimate, decide when an LO is done for the
// session, and pick which LO to study next.
package personalization

import (
	"fmt"
	"math"

	"github.com/studyengine/core/internal/domain"
	"github.com/studyengine/core/internal/engine/psychometrics"
	"github.com/studyengine/core/internal/engine/retention"
	"github.com/studyengine/core/internal/engine/scheduler"
	"github.com/studyengine/core/internal/engine/selector"
)

// MasteryThetaCut is the ability threshold an LO's posterior mean must
// clear for MasteryProbability to call it "mastered".
const MasteryThetaCut = 0.0

// MasteryProbabilityThreshold is the posterior mass above MasteryThetaCut
// required before an LO is flagged as mastery-confirmed.
const MasteryProbabilityThreshold = 0.85

// MinAttemptsBeforeStop bars ShouldStop from firing before the learner
// has seen at least this many items on an LO, even if every other rule
// would otherwise fire from a thin or lucky sample.
const MinAttemptsBeforeStop = 12

// MaxAttemptsPerLO hard-stops a single LO regardless of SE, so a
// pathological item pool can't trap a session in one topic forever.
const MaxAttemptsPerLO = 20

// StopSEThreshold is the SE an LO's posterior must fall under (after
// MinAttemptsBeforeStop) for ShouldStop to consider it settled.
const StopSEThreshold = 0.2

// ProbeThetaProximity bounds how close θ̂ must sit to the last probe
// item's difficulty for the probe-mastery-window stop rule to apply.
const ProbeThetaProximity = 0.3

// PlateauWindow is how many of the trailing recentSEs the plateau rule
// looks at.
const PlateauWindow = 5

// PlateauMeanAbsDiffThreshold is the mean-absolute-first-difference an
// LO's last PlateauWindow SEs must fall under for the plateau rule to
// consider the estimate settled.
const PlateauMeanAbsDiffThreshold = 0.02

// Engine is a stateless value carrying the identity and PRNG seed for
// one orchestration call. Callers re-derive a new seed per call (e.g.
// from a request id) rather than sharing a mutable instance.
type Engine struct {
	Name    string
	Version string
	Seed    uint64
}

// NewEngine constructs an Engine. name/version are carried through for
// observability (logged alongside every suggestion) and are not
// interpreted.
func NewEngine(name, version string, seed uint64) Engine {
	return Engine{Name: name, Version: version, Seed: seed}
}

// WithSeed returns a copy of e with a different seed, leaving identity
// fields untouched. Used to derive a fresh deterministic draw per call
// without mutating a shared Engine value.
func (e Engine) WithSeed(seed uint64) Engine {
	e.Seed = seed
	return e
}

// Suggestion is the next item to present plus the transparent signals
// and a human-readable rationale for why it was chosen.
type Suggestion struct {
	ItemID    string
	LOIds     []string
	Signals   selector.Signals
	Pool      []selector.PoolEntry
	Rationale string
}

// SuggestNext scores candidates against the learner's current ability
// estimate (averaged across the LOs the candidates touch) and returns
// the selector's pick, or nil if no candidate survives the exposure
// filter.
func (e Engine) SuggestNext(state domain.LearnerState, candidates []selector.CandidateItem, policy selector.ExposurePolicy) *Suggestion {
	if len(candidates) == 0 {
		return nil
	}

	thetaHat, se := abilityForCandidates(state, candidates)
	sel := selector.Select(thetaHat, candidates, e.Seed, policy)
	if sel == nil {
		return nil
	}

	mastery := psychometrics.MasteryProbability(thetaHat, se, MasteryThetaCut)
	return &Suggestion{
		ItemID:  sel.ItemID,
		LOIds:   sel.LOIds,
		Signals: sel.Signals,
		Pool:    sel.Pool,
		Rationale: buildRationale(rationaleInput{
			info:                sel.Signals.Info,
			blueprintMultiplier: sel.Signals.BlueprintMultiplier,
			exposureMultiplier:  sel.Signals.ExposureMultiplier,
			fatigueScalar:       sel.Signals.FatigueScalar,
			medianTimeSeconds:   sel.Signals.MedianTimeSeconds,
			thetaHat:            thetaHat,
			se:                  se,
			masteryProbability:  mastery,
		}),
	}
}

// abilityForCandidates averages the learner's θ̂/SE over the LOs touched
// by candidates, falling back to the learner's global average when none
// of those LOs have been attempted yet.
func abilityForCandidates(state domain.LearnerState, candidates []selector.CandidateItem) (theta, se float64) {
	seen := map[string]bool{}
	var sumTheta, sumSE float64
	var n float64
	for _, c := range candidates {
		for _, lo := range c.LOIds {
			if seen[lo] {
				continue
			}
			seen[lo] = true
			if s, ok := state.LOs[lo]; ok {
				sumTheta += s.ThetaHat
				sumSE += s.SE
				n++
			}
		}
	}
	if n == 0 {
		return state.AverageAbility()
	}
	return sumTheta / n, sumSE / n
}

type rationaleInput struct {
	info                float64
	blueprintMultiplier float64
	exposureMultiplier  float64
	fatigueScalar       float64
	medianTimeSeconds   float64
	thetaHat            float64
	se                  float64
	masteryProbability  float64
}

func buildRationale(in rationaleInput) string {
	return fmt.Sprintf(
		"info=%.2f blueprint=%.2f exposure=%.2f fatigue=%.2f median_s=%.2f theta=%.2f se=%.2f mastery_p=%.2f",
		round2(in.info), round2(in.blueprintMultiplier), round2(in.exposureMultiplier),
		round2(in.fatigueScalar), round2(in.medianTimeSeconds), round2(in.thetaHat),
		round2(in.se), round2(in.masteryProbability),
	)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Update folds one graded attempt into the learner's state: a Bayesian
// ability update for every LO the item targets, the item's exposure
// history, and a retention half-life revision. Returns the updated
// state; the caller is responsible for persisting it.
func (e Engine) Update(state domain.LearnerState, loIds []string, itemID string, difficulty domain.Difficulty, correct bool, ts int64) domain.LearnerState {
	if state.LOs == nil {
		state.LOs = map[string]domain.LoState{}
	}
	if state.Items == nil {
		state.Items = map[string]domain.ItemState{}
	}
	if state.Retention == nil {
		state.Retention = map[string]domain.RetentionCard{}
	}

	beta := psychometrics.DifficultyToBeta(string(difficulty))
	k := 0
	if correct {
		k = 1
	}

	for _, loID := range loIds {
		lo := state.LoOrDefault(loID)
		expected := psychometrics.PCorrect(lo.ThetaHat, beta)

		result := psychometrics.EAPUpdate(psychometrics.EAPInput{
			PriorMu:    lo.PriorMu,
			PriorSigma: maxFloat(lo.PriorSigma, domain.MinPriorSigma),
			Response:   psychometrics.Response{K: k, M: 1},
			Beta:       beta,
		})

		lo.ThetaHat = result.ThetaHat
		lo.SE = maxFloat(result.SE, domain.MinSE)
		lo.ItemsAttempted++
		lo.PushRecentSE(lo.SE)
		lo.PriorMu = lo.ThetaHat
		lo.PriorSigma = maxFloat(lo.SE, domain.MinPriorSigma)
		probeDifficulty := beta
		lo.LastProbeDifficulty = &probeDifficulty

		mastery := psychometrics.MasteryProbability(lo.ThetaHat, lo.SE, MasteryThetaCut)
		nearProbe := math.Abs(lo.ThetaHat-beta) <= ProbeThetaProximity
		lo.MasteryConfirmed = lo.MasteryConfirmed || (nearProbe && mastery >= MasteryProbabilityThreshold)

		state.LOs[loID] = lo

		card := state.Retention[itemID]
		if card.HalfLifeHours == 0 {
			card.HalfLifeHours = 24
		}
		card.LOIds = loIds
		if !correct {
			card.Lapses++
		}
		card.HalfLifeHours = retention.UpdateHalfLife(retention.HalfLifeUpdateInput{
			HalfLifeHours: card.HalfLifeHours,
			Expected:      expected,
			Correct:       correct,
		})
		card.LastReviewMs = ts
		card.NextReviewMs = retention.ScheduleNextReview(retention.ScheduleNextReviewInput{
			HalfLifeHours: card.HalfLifeHours,
			NowMs:         ts,
		})
		state.Retention[itemID] = card
	}

	item := state.Items[itemID]
	item.Attempts++
	if correct {
		item.Correct++
	}
	item.LastAttemptTs = ts
	item.PushRecentAttempt(ts)
	state.Items[itemID] = item

	return state
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// ShouldStopResult names which rule(s) decided a loID has gathered
// enough evidence to move on this session.
type ShouldStopResult struct {
	ShouldStop bool
	Triggers   []string
}

// ShouldStop reports whether the session has gathered enough evidence
// on loID to move on. No rule fires before itemsAttempted reaches
// MinAttemptsBeforeStop, even if SE already looks settled from a thin
// or lucky sample. After that floor, any of four rules can fire: the
// SE threshold, mastery confirmation, an SE plateau over the trailing
// recentSEs, or a probe-mastery window around the last probe
// difficulty; a hard attempt cap is checked independently of the
// floor's other rules as a last resort against a pathological item
// pool.
func (e Engine) ShouldStop(state domain.LearnerState, loID string) ShouldStopResult {
	lo := state.LoOrDefault(loID)
	if lo.ItemsAttempted < MinAttemptsBeforeStop {
		return ShouldStopResult{}
	}

	var triggers []string
	if lo.SE <= StopSEThreshold {
		triggers = append(triggers, "se_threshold")
	}
	if lo.MasteryConfirmed {
		triggers = append(triggers, "mastery_confirmed")
	}
	if sePlateaued(lo.RecentSEs) {
		triggers = append(triggers, "plateau")
	}
	if lo.LastProbeDifficulty != nil {
		mastery := psychometrics.MasteryProbability(lo.ThetaHat, lo.SE, MasteryThetaCut)
		if math.Abs(lo.ThetaHat-*lo.LastProbeDifficulty) <= ProbeThetaProximity && mastery >= MasteryProbabilityThreshold {
			triggers = append(triggers, "probe_mastery_window")
		}
	}
	if lo.ItemsAttempted >= MaxAttemptsPerLO {
		triggers = append(triggers, "max_attempts")
	}

	return ShouldStopResult{ShouldStop: len(triggers) > 0, Triggers: triggers}
}

// sePlateaued reports whether the mean absolute first-difference over
// the trailing PlateauWindow entries of recentSEs has settled under
// PlateauMeanAbsDiffThreshold. Fewer than PlateauWindow entries never
// plateaus.
func sePlateaued(recentSEs []float64) bool {
	if len(recentSEs) < PlateauWindow {
		return false
	}
	window := recentSEs[len(recentSEs)-PlateauWindow:]
	var sumAbsDiff float64
	for i := 1; i < len(window); i++ {
		sumAbsDiff += math.Abs(window[i] - window[i-1])
	}
	mean := sumAbsDiff / float64(len(window)-1)
	return mean < PlateauMeanAbsDiffThreshold
}

// ScheduleNextLo delegates to the Thompson-sampling scheduler to pick
// which LO arm to study next.
func (e Engine) ScheduleNextLo(arms []scheduler.Arm) *scheduler.Result {
	return scheduler.Schedule(arms, e.Seed)
}

// ComputeRetentionBudget delegates to the retention lane's minute-budget
// calculation.
func (e Engine) ComputeRetentionBudget(maxDaysOverdue, sessionMinutes float64) retention.RetentionBudgetResult {
	return retention.ComputeRetentionBudget(maxDaysOverdue, sessionMinutes)
}
