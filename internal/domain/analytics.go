package domain

import "time"

// AnalyticsSchemaVersion is the schema_version stamped on every
// AnalyticsSnapshot this engine writes.
const AnalyticsSchemaVersion = "1.1.0"

// TTMEntry is the projected time-to-mastery for one LO.
type TTMEntry struct {
	LOId                       string  `json:"lo_id"`
	Accuracy                   float64 `json:"accuracy"`
	AvgDurationSec             float64 `json:"avg_duration_sec"`
	Deficit                    float64 `json:"deficit"`
	AttemptsNeeded             int     `json:"attempts_needed"`
	ProjectedMinutesToMastery  float64 `json:"projected_minutes_to_mastery"`
	Overdue                    bool    `json:"overdue"`
}

// ELGEntry ranks a candidate item by expected learning gain per minute.
type ELGEntry struct {
	ItemID          string  `json:"item_id"`
	LOId            string  `json:"lo_id"`
	ProjectedGain   float64 `json:"projected_gain"`
	AvgMinutes      float64 `json:"avg_minutes"`
	Score           float64 `json:"score"`
}

// ConfusionEdge counts how often a wrong choice was picked for an item
// under a given LO.
type ConfusionEdge struct {
	LOId   string `json:"lo_id"`
	ItemID string `json:"item_id"`
	Choice string `json:"choice"`
	Count  int    `json:"count"`
}

// SpeedAccuracy buckets attempts by a fixed 45-second duration
// threshold crossed with correctness.
type SpeedAccuracy struct {
	FastWrong int `json:"fast_wrong"`
	SlowWrong int `json:"slow_wrong"`
	FastRight int `json:"fast_right"`
	SlowRight int `json:"slow_right"`
}

// NFDEntry flags a choice as a non-functional distractor.
type NFDEntry struct {
	ItemID   string  `json:"item_id"`
	Choice   string  `json:"choice"`
	PickRate float64 `json:"pick_rate"`
	Wilson95 float64 `json:"wilson_upper_bound"`
}

// Reliability carries KR-20 and per-item point-biserial coefficients.
type Reliability struct {
	KR20               *float64           `json:"kr20"`
	ItemPointBiserial  map[string]float64 `json:"item_point_biserial"`
}

// Totals is the coarse attempt/learner census for a snapshot.
type Totals struct {
	Attempts int `json:"attempts"`
	Learners int `json:"learners"`
}

// AnalyticsSnapshot is the single source of truth produced by the
// offline analyzer. Immutable once written; indexed by GeneratedAt.
type AnalyticsSnapshot struct {
	SchemaVersion   string          `json:"schema_version"`
	GeneratedAt     time.Time       `json:"generated_at"`
	HasEvents       bool            `json:"has_events"`
	Totals          Totals          `json:"totals"`
	TTMPerLO        []TTMEntry      `json:"ttm_per_lo"`
	ELGPerMin       []ELGEntry      `json:"elg_per_min"`
	ConfusionEdges  []ConfusionEdge `json:"confusion_edges"`
	SpeedAccuracy   SpeedAccuracy   `json:"speed_accuracy"`
	NFDSummary      []NFDEntry      `json:"nfd_summary"`
	Reliability     Reliability     `json:"reliability"`
}

// EmptySnapshot is what the analyzer writes when no attempt log exists.
func EmptySnapshot(now time.Time) AnalyticsSnapshot {
	return AnalyticsSnapshot{
		SchemaVersion: AnalyticsSchemaVersion,
		GeneratedAt:   now,
		HasEvents:     false,
		Reliability:   Reliability{ItemPointBiserial: map[string]float64{}},
	}
}

// EvidenceChunk is one retrievable unit in the deterministic search
// lane: a slice of source material tied to an item and one or more LOs.
type EvidenceChunk struct {
	ItemID    string    `json:"item_id"`
	LOIds     []string  `json:"lo_ids"`
	SourceFile string   `json:"source_file"`
	Page      int       `json:"page"`
	Version   int       `json:"version"`
	Ts        time.Time `json:"ts"`
	Text      string    `json:"text"`
	Embedding []float64 `json:"embedding,omitempty"`
}
