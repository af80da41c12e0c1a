package cli

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRunAnalyze_NoEventsFileStillWritesSnapshot(t *testing.T) {
	dir := t.TempDir()
	eventsPath := filepath.Join(dir, "events.ndjson")
	outPath := filepath.Join(dir, "latest.json")
	itemsDir := filepath.Join(dir, "banks")

	cmd := analyzeCmd
	cmd.Flags().Set("events", eventsPath)
	cmd.Flags().Set("out", outPath)
	cmd.Flags().Set("items-dir", itemsDir)

	if err := runAnalyze(cmd, nil); err != nil {
		t.Fatalf("runAnalyze: %v", err)
	}
	if _, err := os.Stat(outPath); err != nil {
		t.Fatalf("expected snapshot file at %s: %v", outPath, err)
	}
}
