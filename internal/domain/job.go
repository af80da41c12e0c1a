package domain

import "time"

// JobStatusNotImplemented is recorded by the weekly re-fit job, which
// is a placeholder: it records that a run happened without performing
// any re-estimation yet.
const JobStatusNotImplemented = "not_implemented"

// JobRecord is one operator-triggered background job run (currently
// only the weekly re-fit placeholder), persisted to the mirror
// database for audit.
type JobRecord struct {
	ID           string
	StartedAt    time.Time
	FinishedAt   *time.Time
	Status       string
	ItemsScanned int
	Notes        string
}
