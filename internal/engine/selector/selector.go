// Package selector implements the in-session item selector: a
// Generalized-Partial-Credit-flavored utility score, exposure and
// fatigue multipliers, and a randomesque top-K pick driven by a
// deterministic xorshift32 PRNG so a given seed always reproduces the
// same choice.
package selector

import (
	"math"
	"sort"
)

// Exposure carries the recent-usage signals a pluggable exposure policy
// needs. The default policy (see IdentityExposure) ignores all of
// these and returns 1; caps are wired via CappedExposure but not
// enabled by default.
type Exposure struct {
	Last24h         int
	Last7d          int
	HoursSinceLast  float64
	MeanScore       float64
	SE              float64
}

// CandidateItem is one item eligible for selection in the current
// session.
type CandidateItem struct {
	ID                  string
	LOIds               []string
	Beta                float64
	Thresholds          []float64 // non-nil => polytomous GPCM item
	MedianTimeSeconds    float64
	BlueprintMultiplier float64
	Exposure            Exposure
	FatigueScalar       float64
}

// ExposurePolicy computes an exposure multiplier for a candidate. The
// current production default, IdentityExposure, yields 1 for every
// Exposure, including the zero value.
type ExposurePolicy func(e Exposure) float64

// IdentityExposure is the default, always-enabled exposure policy.
func IdentityExposure(Exposure) float64 { return 1.0 }

// CappedExposure is a pluggable policy implementing the documented but
// currently-disabled caps: at most `dailyCap` exposures in the last 24h,
// `weeklyCap` in the last 7 days, a `cooldownHours` minimum gap since
// last exposure, and a familiarity clamp when the learner's mean score
// on the item exceeds 0.9 with SE below 0.15.
func CappedExposure(dailyCap, weeklyCap int, cooldownHours float64) ExposurePolicy {
	return func(e Exposure) float64 {
		if dailyCap > 0 && e.Last24h >= dailyCap {
			return 0
		}
		if weeklyCap > 0 && e.Last7d >= weeklyCap {
			return 0
		}
		if cooldownHours > 0 && e.HoursSinceLast < cooldownHours {
			return 0
		}
		if e.MeanScore > 0.9 && e.SE < 0.15 {
			return 0.25
		}
		return 1.0
	}
}

// Signals is the transparent "why this next" data carried with a pick.
type Signals struct {
	Utility              float64
	Info                  float64
	BlueprintMultiplier  float64
	ExposureMultiplier   float64
	FatigueScalar        float64
	MedianTimeSeconds     float64
}

// PoolEntry scores every eligible candidate, for observability/debugging.
type PoolEntry struct {
	ID      string
	Utility float64
}

// Selection is the chosen item plus the signals that produced it.
type Selection struct {
	ItemID  string
	LOIds   []string
	Signals Signals
	Pool    []PoolEntry
}

func infoFor(theta float64, c CandidateItem) float64 {
	if len(c.Thresholds) > 0 {
		return gpcmInfo(theta, c.Thresholds)
	}
	p := 1.0 / (1.0 + math.Exp(-(theta - c.Beta)))
	return p * (1 - p)
}

// gpcmInfo mirrors psychometrics.GPCMInfo without importing that package,
// so selector has no dependency on the psychometrics leaf.
func gpcmInfo(theta float64, tau []float64) float64 {
	m := len(tau) + 1
	logNum := make([]float64, m)
	cum := 0.0
	for k := 1; k < m; k++ {
		cum += theta - tau[k-1]
		logNum[k] = cum
	}
	maxLog := logNum[0]
	for _, v := range logNum {
		if v > maxLog {
			maxLog = v
		}
	}
	sum := 0.0
	probs := make([]float64, m)
	for k, v := range logNum {
		probs[k] = math.Exp(v - maxLog)
		sum += probs[k]
	}
	if sum <= 1e-9 {
		sum = 1e-9
	}
	var eK float64
	for k := range probs {
		probs[k] /= sum
		eK += float64(k) * probs[k]
	}
	var info float64
	for k, p := range probs {
		d := float64(k) - eK
		info += p * d * d
	}
	return info
}

// xorshift32 is a minimal deterministic PRNG: same seed, same sequence,
// across platforms and Go versions, which a math/rand source does not
// guarantee.
type xorshift32 struct{ state uint32 }

func newXorshift32(seed uint64) *xorshift32 {
	s := uint32(seed)
	if s == 0 {
		s = 1
	}
	return &xorshift32{state: s}
}

func (x *xorshift32) next() uint32 {
	x.state ^= x.state << 13
	x.state ^= x.state >> 17
	x.state ^= x.state << 5
	return x.state
}

// Select runs the four-step selection algorithm: filter by exposure,
// score utility, take the top-K, and pick one at random among them.
// Returns nil when no candidate survives the exposure filter.
func Select(thetaHat float64, candidates []CandidateItem, seed uint64, policy ExposurePolicy) *Selection {
	if policy == nil {
		policy = IdentityExposure
	}
	if len(candidates) == 0 {
		return nil
	}

	type scored struct {
		c       CandidateItem
		utility float64
		info    float64
		exposureMult float64
	}

	var eligible []scored
	for _, c := range candidates {
		exposureMult := policy(c.Exposure)
		if exposureMult <= 0 {
			continue
		}
		bp := c.BlueprintMultiplier
		if bp == 0 {
			bp = 1
		}
		fatigue := c.FatigueScalar
		if fatigue == 0 {
			fatigue = 1
		}
		info := infoFor(thetaHat, c)
		medianTime := math.Max(1, c.MedianTimeSeconds)
		utility := info / medianTime * bp * exposureMult * fatigue
		eligible = append(eligible, scored{c: c, utility: utility, info: info, exposureMult: exposureMult})
	}
	if len(eligible) == 0 {
		return nil
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].utility != eligible[j].utility {
			return eligible[i].utility > eligible[j].utility
		}
		return eligible[i].c.ID < eligible[j].c.ID
	})

	k := 5
	if len(eligible) < k {
		k = len(eligible)
	}
	top := eligible[:k]

	rng := newXorshift32(seed)
	idx := int(rng.next() % uint32(k))
	chosen := top[idx]

	pool := make([]PoolEntry, len(eligible))
	for i, e := range eligible {
		pool[i] = PoolEntry{ID: e.c.ID, Utility: e.utility}
	}

	bp := chosen.c.BlueprintMultiplier
	if bp == 0 {
		bp = 1
	}
	fatigue := chosen.c.FatigueScalar
	if fatigue == 0 {
		fatigue = 1
	}

	return &Selection{
		ItemID: chosen.c.ID,
		LOIds:  chosen.c.LOIds,
		Signals: Signals{
			Utility:             chosen.utility,
			Info:                chosen.info,
			BlueprintMultiplier: bp,
			ExposureMultiplier:  chosen.exposureMult,
			FatigueScalar:       fatigue,
			MedianTimeSeconds:   math.Max(1, chosen.c.MedianTimeSeconds),
		},
		Pool: pool,
	}
}
