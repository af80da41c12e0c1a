package analyzer

import (
	"math"
	"testing"
	"time"

	"github.com/studyengine/core/internal/domain"
)

func mkAttempt(sessionID, userID, itemID string, los []string, correct bool, durationMs, tsSubmit int64, choice domain.Choice) domain.AttemptEvent {
	return domain.AttemptEvent{
		SchemaVersion: domain.AnalyticsSchemaVersion,
		SessionID:     sessionID,
		UserID:        userID,
		ItemID:        itemID,
		LOIds:         los,
		TsStart:       tsSubmit - durationMs,
		TsSubmit:      tsSubmit,
		DurationMs:    durationMs,
		Mode:          domain.ModeLearn,
		Choice:        choice,
		Correct:       correct,
	}
}

func TestRun_EmptyEventsReturnsEmptySnapshot(t *testing.T) {
	snap := Run(nil, nil, nil, time.Now())
	if snap.HasEvents {
		t.Fatal("expected HasEvents=false for no attempts")
	}
	if snap.SchemaVersion != domain.AnalyticsSchemaVersion {
		t.Fatalf("schema version = %q", snap.SchemaVersion)
	}
}

func TestBuildTTM_ComputesDeficitAndAttemptsNeeded(t *testing.T) {
	now := time.UnixMilli(100000)
	attempts := []domain.AttemptEvent{
		mkAttempt("s1", "u1", "i1", []string{"lo.a"}, true, 10000, 1000, domain.ChoiceA),
		mkAttempt("s1", "u1", "i2", []string{"lo.a"}, false, 20000, 2000, domain.ChoiceB),
	}
	snap := Run(attempts, nil, nil, now)
	if len(snap.TTMPerLO) != 1 {
		t.Fatalf("expected 1 LO entry, got %d", len(snap.TTMPerLO))
	}
	entry := snap.TTMPerLO[0]
	if entry.LOId != "lo.a" {
		t.Fatalf("lo id = %q", entry.LOId)
	}
	if math.Abs(entry.Accuracy-0.5) > 1e-9 {
		t.Fatalf("accuracy = %v, want 0.5", entry.Accuracy)
	}
	wantDeficit := round2(0.82 - 0.5)
	if entry.Deficit != wantDeficit {
		t.Fatalf("deficit = %v, want %v", entry.Deficit, wantDeficit)
	}
	if entry.AttemptsNeeded != 3 {
		t.Fatalf("attempts needed = %d, want 3 (ceil(0.32/0.12))", entry.AttemptsNeeded)
	}
}

func TestBuildTTM_OverdueWhenStale(t *testing.T) {
	now := time.UnixMilli(1000).Add(4 * 24 * time.Hour)
	attempts := []domain.AttemptEvent{
		mkAttempt("s1", "u1", "i1", []string{"lo.a"}, true, 1000, 1000, domain.ChoiceA),
	}
	snap := Run(attempts, nil, nil, now)
	if !snap.TTMPerLO[0].Overdue {
		t.Fatal("expected overdue=true after 4 days")
	}
}

func TestBuildConfusionEdges_OnlyCountsIncorrect(t *testing.T) {
	attempts := []domain.AttemptEvent{
		mkAttempt("s1", "u1", "i1", []string{"lo.a"}, false, 1000, 1000, domain.ChoiceB),
		mkAttempt("s1", "u1", "i1", []string{"lo.a"}, false, 1000, 2000, domain.ChoiceB),
		mkAttempt("s1", "u1", "i1", []string{"lo.a"}, true, 1000, 3000, domain.ChoiceA),
	}
	snap := Run(attempts, nil, nil, time.Now())
	if len(snap.ConfusionEdges) != 1 {
		t.Fatalf("expected 1 confusion edge, got %d", len(snap.ConfusionEdges))
	}
	if snap.ConfusionEdges[0].Count != 2 || snap.ConfusionEdges[0].Choice != "B" {
		t.Fatalf("unexpected edge: %+v", snap.ConfusionEdges[0])
	}
}

func TestBuildSpeedAccuracy_Buckets(t *testing.T) {
	attempts := []domain.AttemptEvent{
		mkAttempt("s1", "u1", "i1", []string{"lo.a"}, true, 10000, 1000, domain.ChoiceA),  // fast right
		mkAttempt("s1", "u1", "i2", []string{"lo.a"}, true, 60000, 2000, domain.ChoiceA),  // slow right
		mkAttempt("s1", "u1", "i3", []string{"lo.a"}, false, 10000, 3000, domain.ChoiceB), // fast wrong
		mkAttempt("s1", "u1", "i4", []string{"lo.a"}, false, 60000, 4000, domain.ChoiceB), // slow wrong
	}
	snap := Run(attempts, nil, nil, time.Now())
	sa := snap.SpeedAccuracy
	if sa.FastRight != 1 || sa.SlowRight != 1 || sa.FastWrong != 1 || sa.SlowWrong != 1 {
		t.Fatalf("unexpected buckets: %+v", sa)
	}
}

func TestWilsonUpperBound_KnownRange(t *testing.T) {
	upper := wilsonUpperBound(1, 20, 1.96)
	if upper <= 0.05 || upper >= 0.30 {
		t.Fatalf("wilson upper bound = %v, expected roughly in (0.05, 0.30)", upper)
	}
}

func TestBuildNFD_FlagsRareChoiceWithLowUpperBound(t *testing.T) {
	var attempts []domain.AttemptEvent
	for i := 0; i < 99; i++ {
		attempts = append(attempts, mkAttempt("s1", "u1", "i1", []string{"lo.a"}, true, 1000, int64(i*1000), domain.ChoiceA))
	}
	attempts = append(attempts, mkAttempt("s1", "u1", "i1", []string{"lo.a"}, false, 1000, 100000, domain.ChoiceE))
	snap := Run(attempts, nil, nil, time.Now())
	if len(snap.NFDSummary) != 1 || snap.NFDSummary[0].Choice != "E" {
		t.Fatalf("expected choice E flagged as NFD, got %+v", snap.NFDSummary)
	}
}

func TestBuildNFD_SkipsItemsBelowMinAttempts(t *testing.T) {
	attempts := []domain.AttemptEvent{
		mkAttempt("s1", "u1", "i1", []string{"lo.a"}, false, 1000, 1000, domain.ChoiceE),
	}
	snap := Run(attempts, nil, nil, time.Now())
	if len(snap.NFDSummary) != 0 {
		t.Fatalf("expected no NFD flags below min attempts, got %+v", snap.NFDSummary)
	}
}

func TestKR20_NilWhenNotEnoughSessions(t *testing.T) {
	attempts := []domain.AttemptEvent{
		mkAttempt("s1", "u1", "i1", []string{"lo.a"}, true, 1000, 1000, domain.ChoiceA),
	}
	snap := Run(attempts, nil, nil, time.Now())
	if snap.Reliability.KR20 != nil {
		t.Fatalf("expected nil KR20 with a single session/item, got %v", *snap.Reliability.KR20)
	}
}

func TestKR20_ComputesForQualifyingSessions(t *testing.T) {
	var attempts []domain.AttemptEvent
	for s := 0; s < 4; s++ {
		sid := "s" + string(rune('0'+s))
		attempts = append(attempts,
			mkAttempt(sid, "u"+string(rune('0'+s)), "i1", []string{"lo.a"}, s%2 == 0, 1000, int64(s*1000), domain.ChoiceA),
			mkAttempt(sid, "u"+string(rune('0'+s)), "i2", []string{"lo.a"}, s < 2, 1000, int64(s*1000+1), domain.ChoiceA),
		)
	}
	snap := Run(attempts, nil, nil, time.Now())
	if snap.Reliability.KR20 == nil {
		t.Fatal("expected non-nil KR20 with 4 qualifying sessions across 2 items")
	}
}

func TestBuildELG_TopThreeByScore(t *testing.T) {
	attempts := []domain.AttemptEvent{
		mkAttempt("s1", "u1", "i1", []string{"lo.a"}, false, 10000, 1000, domain.ChoiceB),
		mkAttempt("s1", "u1", "i2", []string{"lo.b"}, false, 30000, 2000, domain.ChoiceB),
		mkAttempt("s1", "u1", "i3", []string{"lo.c"}, false, 60000, 3000, domain.ChoiceB),
		mkAttempt("s1", "u1", "i4", []string{"lo.d"}, false, 90000, 4000, domain.ChoiceB),
	}
	snap := Run(attempts, nil, nil, time.Now())
	if len(snap.ELGPerMin) > 3 {
		t.Fatalf("expected at most 3 ELG candidates, got %d", len(snap.ELGPerMin))
	}
	for i := 1; i < len(snap.ELGPerMin); i++ {
		if snap.ELGPerMin[i-1].Score < snap.ELGPerMin[i].Score {
			t.Fatalf("ELG candidates not sorted descending by score: %+v", snap.ELGPerMin)
		}
	}
}

func TestReadEvents_MissingFileReturnsEmpty(t *testing.T) {
	attempts, sessions, err := ReadEvents("/nonexistent/path/events.ndjson")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(attempts) != 0 || len(sessions) != 0 {
		t.Fatal("expected empty slices for missing file")
	}
}
