package cli

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/studyengine/core/internal/domain"
	"github.com/studyengine/core/internal/mirror"
)

func TestRunJobsRefit_WithMirrorRecordsJob(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "mirror.db")

	cmd := jobsRefitCmd
	cmd.Flags().Set("mirror-dsn", dsn)
	cmd.Flags().Set("items-scanned", "7")

	if err := runJobsRefit(cmd, nil); err != nil {
		t.Fatalf("runJobsRefit: %v", err)
	}

	store, err := mirror.Open(dsn)
	if err != nil {
		t.Fatalf("reopen mirror: %v", err)
	}
	defer store.Close()

	var count int
	row := store.DB().QueryRowContext(context.Background(), `SELECT count(*) FROM jobs WHERE status = ?`, domain.JobStatusNotImplemented)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 job recorded, got %d", count)
	}
}

func TestRunJobsRefit_WithoutMirrorDSNSucceeds(t *testing.T) {
	cmd := jobsRefitCmd
	cmd.Flags().Set("mirror-dsn", "")
	cmd.Flags().Set("items-scanned", "0")

	if err := runJobsRefit(cmd, nil); err != nil {
		t.Fatalf("runJobsRefit: %v", err)
	}
}
