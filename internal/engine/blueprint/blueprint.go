// Package blueprint builds exam forms from a target LO weight
// distribution: integer per-LO targets via largest remainder, a
// feasibility check against the available item bank, and a greedy,
// deficit-driven form assembly using a seeded linear congruential
// generator for deterministic tie-breaking.
package blueprint

import (
	"sort"

	"github.com/studyengine/core/internal/domain"
)

// DeriveLoTargets multiplies each LO's weight by formLength, floors to
// get a base integer target, then distributes the remaining units to
// the LOs with the largest fractional remainders (largest-remainder
// method). Ties are broken by a cyclic insertion over LO ids in sorted
// order, so the result is deterministic for a given blueprint.
func DeriveLoTargets(bp domain.Blueprint, formLength int) map[string]int {
	targets := make(map[string]int, len(bp.Weights))
	if formLength <= 0 || len(bp.Weights) == 0 {
		for lo := range bp.Weights {
			targets[lo] = 0
		}
		return targets
	}

	var total float64
	for _, w := range bp.Weights {
		total += w
	}
	if total <= 0 {
		for lo := range bp.Weights {
			targets[lo] = 0
		}
		return targets
	}

	type rem struct {
		lo        string
		base      int
		remainder float64
	}
	los := sortedLOIds(bp.Weights)
	rems := make([]rem, 0, len(los))
	assigned := 0
	for _, lo := range los {
		share := bp.Weights[lo] / total * float64(formLength)
		base := int(share)
		rems = append(rems, rem{lo: lo, base: base, remainder: share - float64(base)})
		targets[lo] = base
		assigned += base
	}

	remaining := formLength - assigned
	sort.SliceStable(rems, func(i, j int) bool {
		if rems[i].remainder != rems[j].remainder {
			return rems[i].remainder > rems[j].remainder
		}
		return rems[i].lo < rems[j].lo
	})

	for i := 0; i < remaining; i++ {
		idx := i % len(rems)
		targets[rems[idx].lo]++
	}

	return targets
}

func sortedLOIds(weights map[string]float64) []string {
	ids := make([]string, 0, len(weights))
	for lo := range weights {
		ids = append(ids, lo)
	}
	sort.Strings(ids)
	return ids
}

// IsBlueprintFeasible reports whether items contains enough LO-tagged
// items to satisfy every target derived from blueprint.
func IsBlueprintFeasible(bp domain.Blueprint, items []domain.Item, formLength int) bool {
	targets := DeriveLoTargets(bp, formLength)
	counts := countByLO(items)
	for lo, need := range targets {
		if counts[lo] < need {
			return false
		}
	}
	return true
}

func countByLO(items []domain.Item) map[string]int {
	counts := map[string]int{}
	for _, it := range items {
		for _, lo := range it.LOs {
			counts[lo]++
		}
	}
	return counts
}

// lcg is a seeded linear congruential generator: x' = (x*48271) mod
// (2^31 - 1), the "minimal standard" LCG, used here purely for
// deterministic tie-breaking — not for cryptographic or statistical
// quality.
type lcg struct{ state int64 }

const (
	lcgMultiplier = 48271
	lcgModulus    = 2147483647 // 2^31 - 1
)

func newLCG(seed int64) *lcg {
	s := seed % lcgModulus
	if s <= 0 {
		s += lcgModulus - 1
		if s <= 0 {
			s = 1
		}
	}
	return &lcg{state: s}
}

func (g *lcg) next() int64 {
	g.state = (g.state * lcgMultiplier) % lcgModulus
	return g.state
}

// intn returns a deterministic pseudo-random index in [0, n).
func (g *lcg) intn(n int) int {
	if n <= 0 {
		return 0
	}
	return int(g.next() % int64(n))
}

// BuildFormInput is the input to BuildFormGreedy.
type BuildFormInput struct {
	Blueprint  domain.Blueprint
	Items      []domain.Item
	FormLength int
	Seed       int64
}

// BuildFormGreedy assembles an exam form of exactly FormLength distinct
// items, repeatedly assigning to the LO with the largest remaining
// deficit. Returns domain.BlueprintDeficit when the blueprint cannot be
// satisfied by the item bank.
func BuildFormGreedy(in BuildFormInput) ([]domain.Item, error) {
	targets := DeriveLoTargets(in.Blueprint, in.FormLength)
	counts := countByLO(in.Items)

	var deficits []domain.LODeficit
	for lo, need := range targets {
		if have := counts[lo]; have < need {
			deficits = append(deficits, domain.LODeficit{LOId: lo, Need: need, Have: have})
		}
	}
	if len(deficits) > 0 {
		sort.Slice(deficits, func(i, j int) bool { return deficits[i].LOId < deficits[j].LOId })
		return nil, &domain.BlueprintDeficit{BlueprintID: in.Blueprint.ID, Deficits: deficits}
	}

	rng := newLCG(in.Seed)
	selected := map[string]domain.Item{}
	perLOSelected := map[string]int{}

	remainingPool := func() []domain.Item {
		var out []domain.Item
		for _, it := range in.Items {
			if _, taken := selected[it.ID]; !taken {
				out = append(out, it)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return out
	}

	itemsForLO := func(lo string) []domain.Item {
		var out []domain.Item
		for _, it := range in.Items {
			if _, taken := selected[it.ID]; taken {
				continue
			}
			if it.HasLO(lo) {
				out = append(out, it)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return out
	}

	los := sortedLOIds(in.Blueprint.Weights)

	for len(selected) < in.FormLength {
		// Find the LO with the largest outstanding deficit.
		deficitLO := ""
		maxDeficit := 0
		for _, lo := range los {
			deficit := targets[lo] - perLOSelected[lo]
			if deficit > maxDeficit {
				maxDeficit = deficit
				deficitLO = lo
			}
		}

		var candidates []domain.Item
		if deficitLO != "" {
			candidates = itemsForLO(deficitLO)
		}
		if len(candidates) == 0 {
			candidates = remainingPool()
		}
		if len(candidates) == 0 {
			break
		}

		pick := candidates[rng.intn(len(candidates))]
		selected[pick.ID] = pick
		for _, lo := range pick.LOs {
			perLOSelected[lo]++
		}
	}

	out := make([]domain.Item, 0, len(selected))
	for _, it := range in.Items {
		if _, ok := selected[it.ID]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}
