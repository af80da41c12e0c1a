package domain

import "context"

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// LearnerStateStore abstracts durable per-learner state. Implementations
// must serialize all mutating operations on a single learner id so two
// concurrent updates to the same learner never interleave.
type LearnerStateStore interface {
	Load(ctx context.Context, learnerID string) (LearnerState, error)
	Save(ctx context.Context, learnerID string, state LearnerState) (LearnerState, error)
	UpdateLoState(ctx context.Context, learnerID, loID string, updater func(LoState) LoState) (LearnerState, error)
	RecordItemExposure(ctx context.Context, learnerID, itemID string, correct bool, ts int64) (LearnerState, error)
}

// ItemBank abstracts read-only access to the published assessment bank.
type ItemBank interface {
	Get(id string) (Item, bool)
	ItemsForLO(loID string) []Item
	All() []Item
}

// AnalyticsReader abstracts reading the latest analytics snapshot — used
// by the scheduler's blueprint-multiplier lookup and the retention
// lane's per-minute estimate.
type AnalyticsReader interface {
	Latest() (AnalyticsSnapshot, bool)
}

// EventSink abstracts the telemetry NDJSON append path.
type EventSink interface {
	AppendAttempt(e AttemptEvent) error
	AppendSession(e SessionEvent) error
}

// Mirror abstracts the optional external-table telemetry sink. A
// failed mirror write is logged by the caller and never rolls back the
// EventSink append it shadows.
type Mirror interface {
	InsertAttempt(ctx context.Context, e AttemptEvent) error
	InsertSession(ctx context.Context, e SessionEvent) error
}
