package domain

import "time"

// MinSE is the floor applied to every posterior standard deviation so
// downstream divisions (information, utility) never see a zero SE.
const MinSE = 0.0001

// MinPriorSigma is the floor applied to a re-seeded prior's sigma.
const MinPriorSigma = 0.25

// RecentSeWindow is the length of the rolling SE window kept per LO.
const RecentSeWindow = 10

// RecentAttemptWindow is the length of the rolling attempt-timestamp
// window kept per item.
const RecentAttemptWindow = 20

// LoState is the per-learner, per-LO ability estimate and its history.
type LoState struct {
	ThetaHat            float64   `json:"theta_hat"`
	SE                   float64  `json:"se"`
	ItemsAttempted       int      `json:"items_attempted"`
	RecentSEs            []float64 `json:"recent_ses"`
	LastProbeDifficulty *float64  `json:"last_probe_difficulty,omitempty"`
	MasteryConfirmed     bool     `json:"mastery_confirmed"`
	PriorMu              float64  `json:"prior_mu"`
	PriorSigma           float64  `json:"prior_sigma"`
}

// DefaultLoState is the zero-observation starting point for an LO.
func DefaultLoState() LoState {
	return LoState{
		ThetaHat:   0,
		SE:         0.8,
		PriorMu:    0,
		PriorSigma: 0.8,
	}
}

// PushRecentSE appends se to the rolling window, keeping at most
// RecentSeWindow entries (oldest dropped first).
func (s *LoState) PushRecentSE(se float64) {
	s.RecentSEs = append(s.RecentSEs, se)
	if len(s.RecentSEs) > RecentSeWindow {
		s.RecentSEs = s.RecentSEs[len(s.RecentSEs)-RecentSeWindow:]
	}
}

// ItemState is the per-learner, per-item exposure and accuracy history.
type ItemState struct {
	Attempts          int     `json:"attempts"`
	Correct           int     `json:"correct"`
	LastAttemptTs     int64   `json:"last_attempt_ts"`
	RecentAttemptTs   []int64 `json:"recent_attempt_ts"`
}

// PushRecentAttempt appends ts to the rolling window, keeping at most
// RecentAttemptWindow entries.
func (s *ItemState) PushRecentAttempt(ts int64) {
	s.RecentAttemptTs = append(s.RecentAttemptTs, ts)
	if len(s.RecentAttemptTs) > RecentAttemptWindow {
		s.RecentAttemptTs = s.RecentAttemptTs[len(s.RecentAttemptTs)-RecentAttemptWindow:]
	}
}

// MeanScore returns the learner's accuracy on this item, or 0 when
// there have been no attempts.
func (s ItemState) MeanScore() float64 {
	if s.Attempts == 0 {
		return 0
	}
	return float64(s.Correct) / float64(s.Attempts)
}

// RetentionCard tracks a single item's spaced-repetition schedule for
// one learner.
type RetentionCard struct {
	LOIds         []string `json:"lo_ids"`
	HalfLifeHours float64  `json:"half_life_hours"`
	NextReviewMs  int64    `json:"next_review_ms"`
	LastReviewMs  int64    `json:"last_review_ms"`
	Lapses        int      `json:"lapses"`
}

// MinHalfLifeHours is the floor applied to a card's half-life (1 minute).
const MinHalfLifeHours = 1.0 / 60.0

// LearnerState is the single durable document per learner. Created
// lazily on first observation; mutated only by the engine via the
// state store; never deleted at runtime.
type LearnerState struct {
	LearnerID string                    `json:"learner_id"`
	UpdatedAt time.Time                 `json:"updated_at"`
	LOs       map[string]LoState        `json:"los"`
	Items     map[string]ItemState      `json:"items"`
	Retention map[string]RetentionCard  `json:"retention"`
}

// NewLearnerState returns a lazily-initialized, empty document for id.
func NewLearnerState(id string) LearnerState {
	return LearnerState{
		LearnerID: id,
		UpdatedAt: time.Time{},
		LOs:       map[string]LoState{},
		Items:     map[string]ItemState{},
		Retention: map[string]RetentionCard{},
	}
}

// LoOrDefault returns the learner's state for loID, or a fresh default
// state if the learner has never attempted an item on that LO.
func (s LearnerState) LoOrDefault(loID string) LoState {
	if lo, ok := s.LOs[loID]; ok {
		return lo
	}
	return DefaultLoState()
}

// AverageAbility returns the mean θ̂ and mean SE across every LO the
// learner has touched, defaulting to (0, 0.8) when the learner has no
// history at all — used by suggestNext to seed a global ability proxy.
func (s LearnerState) AverageAbility() (thetaBar, seBar float64) {
	if len(s.LOs) == 0 {
		return 0, 0.8
	}
	var sumTheta, sumSE float64
	for _, lo := range s.LOs {
		sumTheta += lo.ThetaHat
		sumSE += lo.SE
	}
	n := float64(len(s.LOs))
	return sumTheta / n, sumSE / n
}
