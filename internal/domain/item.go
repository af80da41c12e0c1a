// Package domain contains pure business types with ZERO infrastructure imports.
// This is the innermost ring of clean architecture — it depends on nothing.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Difficulty buckets an item's Rasch difficulty parameter into an
// author-facing label. psychometrics.DifficultyToBeta maps these to β.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Bloom is the cognitive level an item targets.
type Bloom string

const (
	BloomRemember   Bloom = "remember"
	BloomUnderstand Bloom = "understand"
	BloomApply      Bloom = "apply"
	BloomAnalyze    Bloom = "analyze"
	BloomEvaluate   Bloom = "evaluate"
)

// ItemStatus is the authoring lifecycle stage of an Item.
type ItemStatus string

const (
	StatusDraft     ItemStatus = "draft"
	StatusReview    ItemStatus = "review"
	StatusPublished ItemStatus = "published"
)

// Choice identifies one of the five answer slots.
type Choice string

const (
	ChoiceA Choice = "A"
	ChoiceB Choice = "B"
	ChoiceC Choice = "C"
	ChoiceD Choice = "D"
	ChoiceE Choice = "E"
)

// AllChoices is the fixed, ordered set of choice labels an Item carries.
var AllChoices = [5]Choice{ChoiceA, ChoiceB, ChoiceC, ChoiceD, ChoiceE}

// Evidence anchors an item to its source material.
type Evidence struct {
	File      string `json:"file"`
	Page      int    `json:"page"`
	BBox      []float64 `json:"bbox,omitempty"`
	CropPath  string `json:"crop_path,omitempty"`
	Citation  string `json:"citation,omitempty"`
}

// Item is an assessment unit: a single multiple-choice question with
// full rationale coverage and evidentiary provenance.
type Item struct {
	ID                  string              `json:"id"`
	Stem                string              `json:"stem"`
	Choices             map[Choice]string   `json:"choices"`
	Key                 Choice              `json:"key"`
	RationaleCorrect    string              `json:"rationale_correct"`
	RationaleDistractors map[Choice]string  `json:"rationale_distractors"`
	LOs                 []string            `json:"los"`
	Difficulty          Difficulty          `json:"difficulty"`
	Bloom               Bloom               `json:"bloom"`
	Evidence            Evidence            `json:"evidence"`
	Status              ItemStatus          `json:"status"`
	RubricScore         float64             `json:"rubric_score"`
	ContentHash         string              `json:"content_hash"`
}

// MinPublishedRubricScore is the rubric threshold an Item must clear
// before it is allowed into the "published" lifecycle state.
const MinPublishedRubricScore = 2.7

// Validate checks the Item invariants from the data model. It returns
// every violation found rather than stopping at the first one, so a
// validator command can report a complete picture per file.
func (it Item) Validate() []error {
	var errs []error
	for _, c := range AllChoices {
		if _, ok := it.Choices[c]; !ok || it.Choices[c] == "" {
			errs = append(errs, fmt.Errorf("item %s: missing choice %s", it.ID, c))
		}
	}
	if _, ok := it.Choices[it.Key]; !ok {
		errs = append(errs, fmt.Errorf("item %s: key %q is not among choices", it.ID, it.Key))
	}
	for _, c := range AllChoices {
		if c == it.Key {
			continue
		}
		if _, ok := it.RationaleDistractors[c]; !ok || it.RationaleDistractors[c] == "" {
			errs = append(errs, fmt.Errorf("item %s: missing distractor rationale for %s", it.ID, c))
		}
	}
	if it.RationaleCorrect == "" {
		errs = append(errs, fmt.Errorf("item %s: missing rationale_correct", it.ID))
	}
	if len(it.LOs) == 0 {
		errs = append(errs, fmt.Errorf("item %s: los must be non-empty", it.ID))
	}
	if it.Status == StatusPublished && it.RubricScore < MinPublishedRubricScore {
		errs = append(errs, fmt.Errorf("item %s: published item has rubric_score %.2f < %.2f", it.ID, it.RubricScore, MinPublishedRubricScore))
	}
	return errs
}

// HasLO reports whether the item targets the given learning objective.
func (it Item) HasLO(loID string) bool {
	for _, lo := range it.LOs {
		if lo == loID {
			return true
		}
	}
	return false
}

// SHA256Hex computes SHA-256 hash and returns hex string. Used to derive
// an Item's content hash so banks can detect authoring drift.
func SHA256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
