package blueprint

import (
	"errors"
	"testing"

	"github.com/studyengine/core/internal/domain"
)

func sampleBlueprint() domain.Blueprint {
	return domain.Blueprint{
		ID:            "bp1",
		SchemaVersion: "1.0.0",
		Weights: map[string]float64{
			"lo.a": 0.5,
			"lo.b": 0.3,
			"lo.c": 0.2,
		},
	}
}

func itemsFor(counts map[string]int) []domain.Item {
	var items []domain.Item
	n := 0
	for lo, count := range counts {
		for i := 0; i < count; i++ {
			n++
			items = append(items, domain.Item{
				ID:  "item-" + lo + "-" + string(rune('a'+i)),
				LOs: []string{lo},
			})
		}
	}
	return items
}

func TestDeriveLoTargets_SumsToFormLength(t *testing.T) {
	targets := DeriveLoTargets(sampleBlueprint(), 10)
	total := 0
	for _, v := range targets {
		total += v
	}
	if total != 10 {
		t.Fatalf("targets sum to %d, want 10", total)
	}
	if targets["lo.a"] != 5 {
		t.Fatalf("lo.a target = %d, want 5", targets["lo.a"])
	}
}

func TestDeriveLoTargets_EmptyWeights(t *testing.T) {
	targets := DeriveLoTargets(domain.Blueprint{}, 10)
	if len(targets) != 0 {
		t.Fatalf("expected no targets, got %v", targets)
	}
}

func TestDeriveLoTargets_ZeroFormLength(t *testing.T) {
	targets := DeriveLoTargets(sampleBlueprint(), 0)
	for lo, v := range targets {
		if v != 0 {
			t.Fatalf("%s target = %d, want 0", lo, v)
		}
	}
}

func TestDeriveLoTargets_Deterministic(t *testing.T) {
	bp := sampleBlueprint()
	first := DeriveLoTargets(bp, 7)
	second := DeriveLoTargets(bp, 7)
	for lo, v := range first {
		if second[lo] != v {
			t.Fatalf("nondeterministic target for %s: %d vs %d", lo, v, second[lo])
		}
	}
}

func TestIsBlueprintFeasible_True(t *testing.T) {
	items := itemsFor(map[string]int{"lo.a": 5, "lo.b": 3, "lo.c": 2})
	if !IsBlueprintFeasible(sampleBlueprint(), items, 10) {
		t.Fatal("expected feasible")
	}
}

func TestIsBlueprintFeasible_False(t *testing.T) {
	items := itemsFor(map[string]int{"lo.a": 1, "lo.b": 1, "lo.c": 1})
	if IsBlueprintFeasible(sampleBlueprint(), items, 10) {
		t.Fatal("expected infeasible")
	}
}

func TestBuildFormGreedy_Feasible(t *testing.T) {
	items := itemsFor(map[string]int{"lo.a": 8, "lo.b": 6, "lo.c": 4})
	form, err := BuildFormGreedy(BuildFormInput{
		Blueprint:  sampleBlueprint(),
		Items:      items,
		FormLength: 10,
		Seed:       7,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(form) != 10 {
		t.Fatalf("form length = %d, want 10", len(form))
	}
	seen := map[string]bool{}
	for _, it := range form {
		if seen[it.ID] {
			t.Fatalf("duplicate item %s in form", it.ID)
		}
		seen[it.ID] = true
	}
}

func TestBuildFormGreedy_Deterministic(t *testing.T) {
	items := itemsFor(map[string]int{"lo.a": 8, "lo.b": 6, "lo.c": 4})
	in := BuildFormInput{Blueprint: sampleBlueprint(), Items: items, FormLength: 10, Seed: 99}
	first, err := BuildFormGreedy(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := BuildFormGreedy(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("nondeterministic form at index %d: %s vs %s", i, first[i].ID, second[i].ID)
		}
	}
}

func TestBuildFormGreedy_Infeasible(t *testing.T) {
	items := itemsFor(map[string]int{"lo.a": 1, "lo.b": 1, "lo.c": 1})
	_, err := BuildFormGreedy(BuildFormInput{
		Blueprint:  sampleBlueprint(),
		Items:      items,
		FormLength: 10,
		Seed:       1,
	})
	if err == nil {
		t.Fatal("expected error")
	}
	var deficit *domain.BlueprintDeficit
	if !errors.As(err, &deficit) {
		t.Fatalf("expected *domain.BlueprintDeficit, got %T", err)
	}
	if len(deficit.Deficits) == 0 {
		t.Fatal("expected at least one deficit entry")
	}
}
