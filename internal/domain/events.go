package domain

import "errors"

// Mode is the study mode an attempt or session was recorded under.
type Mode string

const (
	ModeLearn   Mode = "learn"
	ModeExam    Mode = "exam"
	ModeDrill   Mode = "drill"
	ModeSpotter Mode = "spotter"
)

// DeviceClass is a coarse client device category, carried through for
// analytics only.
type DeviceClass string

// AttemptEvent is the schema-versioned record emitted for every
// submitted answer. schema_version must equal the ingest handler's
// configured schema version exactly or the event is rejected at ingest.
type AttemptEvent struct {
	SchemaVersion   string   `json:"schema_version"`
	AppVersion      string   `json:"app_version,omitempty"`
	SessionID       string   `json:"session_id"`
	UserID          string   `json:"user_id"`
	ItemID          string   `json:"item_id"`
	LOIds           []string `json:"lo_ids"`
	TsStart         int64    `json:"ts_start"`
	TsSubmit        int64    `json:"ts_submit"`
	DurationMs      int64    `json:"duration_ms"`
	Mode            Mode     `json:"mode"`
	Choice          Choice   `json:"choice"`
	Correct         bool     `json:"correct"`
	Confidence      *int     `json:"confidence,omitempty"`
	OpenedEvidence  bool     `json:"opened_evidence,omitempty"`
	Flagged         *bool    `json:"flagged,omitempty"`
	RationaleOpened *bool    `json:"rationale_opened,omitempty"`
	KeyboardOnly    *bool    `json:"keyboard_only,omitempty"`
	DeviceClass     string   `json:"device_class,omitempty"`
	NetState        string   `json:"net_state,omitempty"`
	PausedMs        *int64   `json:"paused_ms,omitempty"`
	HintUsed        *bool    `json:"hint_used,omitempty"`
}

// Validate checks the wire-level invariants for an attempt event. It
// does not check schema_version — that is the ingest pipeline's job,
// since the expected value is a runtime configuration constant.
func (e AttemptEvent) Validate() []error {
	var errs []error
	if e.SessionID == "" {
		errs = append(errs, errValidation("session_id is required"))
	}
	if e.UserID == "" {
		errs = append(errs, errValidation("user_id is required"))
	}
	if e.ItemID == "" {
		errs = append(errs, errValidation("item_id is required"))
	}
	if len(e.LOIds) == 0 {
		errs = append(errs, errValidation("lo_ids must be non-empty"))
	}
	if e.TsSubmit < e.TsStart {
		errs = append(errs, errValidation("ts_submit must be >= ts_start"))
	}
	if e.DurationMs < 0 {
		errs = append(errs, errValidation("duration_ms must be >= 0"))
	}
	switch e.Choice {
	case ChoiceA, ChoiceB, ChoiceC, ChoiceD, ChoiceE:
	default:
		errs = append(errs, errValidation("choice must be one of A..E"))
	}
	return errs
}

// SessionEvent is the schema-versioned record emitted at the start
// (and optionally end) of a study session.
type SessionEvent struct {
	SchemaVersion string             `json:"schema_version"`
	SessionID     string             `json:"session_id"`
	UserID        string             `json:"user_id"`
	Mode          Mode               `json:"mode"`
	BlueprintID   string             `json:"blueprint_id,omitempty"`
	StartTs       int64              `json:"start_ts"`
	EndTs         *int64             `json:"end_ts,omitempty"`
	Completed     *bool              `json:"completed,omitempty"`
	MasteryByLO   map[string]float64 `json:"mastery_by_lo,omitempty"`
}

// Validate checks the wire-level invariants for a session event.
func (e SessionEvent) Validate() []error {
	var errs []error
	if e.SessionID == "" {
		errs = append(errs, errValidation("session_id is required"))
	}
	if e.UserID == "" {
		errs = append(errs, errValidation("user_id is required"))
	}
	if e.EndTs != nil && *e.EndTs < e.StartTs {
		errs = append(errs, errValidation("end_ts must be >= start_ts"))
	}
	return errs
}

func errValidation(msg string) error { return errors.New(msg) }

// ─── Bus event payloads ─────────────────────────────────────────────────────

// AnswerSubmitted is emitted by the ingest pipeline after an attempt is
// durably appended, and consumed by StateService.
type AnswerSubmitted struct {
	LearnerID  string
	ItemID     string
	LOIds      []string
	Difficulty Difficulty
	Correct    bool
	Ts         int64
}

// StateUpdated is emitted by StateService after it commits a learner
// state mutation.
type StateUpdated struct {
	LearnerID string
	State     LearnerState
	Reason    string
	Ts        int64
}

// SaveLessonRequested is emitted when an authoring client asks to
// persist a lesson artifact — outside the psychometric core, but wired
// as an extension point on the same bus.
type SaveLessonRequested struct {
	Lesson    Lesson
	RequestID string
}

// LessonCreated is emitted once a lesson artifact has been persisted.
type LessonCreated struct {
	Lesson Lesson
	JobID  string
	Ts     int64
}

// Lesson is a minimal authored-content artifact: enough to exercise
// LessonService's validate/persist/emit path without pulling in any of
// the out-of-scope authoring-UI concerns.
type Lesson struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	LOIds    []string `json:"lo_ids"`
	Body     string   `json:"body"`
}

// Validate checks the minimal Lesson invariants.
func (l Lesson) Validate() []error {
	var errs []error
	if l.ID == "" {
		errs = append(errs, errValidation("lesson id is required"))
	}
	if l.Title == "" {
		errs = append(errs, errValidation("lesson title is required"))
	}
	if len(l.LOIds) == 0 {
		errs = append(errs, errValidation("lesson must target at least one lo"))
	}
	return errs
}
