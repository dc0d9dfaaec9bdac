package health

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/chiral/transferd/internal/statedb"
)

func newTestDB(t *testing.T) *statedb.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := statedb.Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// ─── Checker Tests ──────────────────────────────────────────────────────────

func TestNewChecker(t *testing.T) {
	db := newTestDB(t)
	chunkDir, downloadDir := t.TempDir(), t.TempDir()

	c := NewChecker(db, chunkDir, downloadDir)
	if c == nil {
		t.Fatal("NewChecker() returned nil")
	}
	if len(c.checks) != 3 {
		t.Errorf("checks = %d, want 3", len(c.checks))
	}
}

func TestChecker_RunAllHealthy(t *testing.T) {
	db := newTestDB(t)
	c := NewChecker(db, t.TempDir(), t.TempDir())
	ctx := context.Background()
	c.runAll(ctx)

	statuses := c.Statuses()
	if len(statuses) != 3 {
		t.Fatalf("Statuses() = %d, want 3", len(statuses))
	}

	for _, s := range statuses {
		if !s.Healthy {
			t.Errorf("check %q should be healthy, got error: %s", s.Name, s.Error)
		}
	}
}

func TestChecker_IsHealthy_AllPass(t *testing.T) {
	db := newTestDB(t)
	c := NewChecker(db, t.TempDir(), t.TempDir())
	c.runAll(context.Background())

	if !c.IsHealthy() {
		t.Error("IsHealthy() should be true when all checks pass")
	}
}

func TestChecker_IsHealthy_BeforeRun(t *testing.T) {
	db := newTestDB(t)
	c := NewChecker(db, t.TempDir(), t.TempDir())

	// Before any run, there are no statuses — IsHealthy returns true (vacuously)
	if !c.IsHealthy() {
		t.Error("IsHealthy() should be true before first run (no statuses)")
	}
}

func TestChecker_StateDBCheck(t *testing.T) {
	db := newTestDB(t)
	c := NewChecker(db, t.TempDir(), t.TempDir())
	c.runAll(context.Background())

	statuses := c.Statuses()
	found := false
	for _, s := range statuses {
		if s.Name == "state_db" {
			found = true
			if !s.Healthy {
				t.Errorf("state_db check should be healthy")
			}
		}
	}
	if !found {
		t.Error("state_db check not found in statuses")
	}
}

func TestChecker_ChunkStoreDiskCheck(t *testing.T) {
	db := newTestDB(t)
	chunkDir := filepath.Join(t.TempDir(), "chunks")

	c := NewChecker(db, chunkDir, t.TempDir())
	c.runAll(context.Background())

	statuses := c.Statuses()
	for _, s := range statuses {
		if s.Name == "chunk_store_disk" && !s.Healthy {
			t.Errorf("chunk_store_disk check should be healthy: %s", s.Error)
		}
	}

	if info, err := os.Stat(chunkDir); err != nil || !info.IsDir() {
		t.Errorf("checkDirWritable should have created %s", chunkDir)
	}
}

func TestChecker_DownloadStateDiskCheck_Unwritable(t *testing.T) {
	db := newTestDB(t)
	// A directory nested under a plain file can never be created.
	base := t.TempDir()
	blocker := filepath.Join(base, "blocker")
	os.WriteFile(blocker, []byte("not a dir"), 0644)
	downloadDir := filepath.Join(blocker, "downloads")

	c := NewChecker(db, t.TempDir(), downloadDir)
	c.runAll(context.Background())

	statuses := c.Statuses()
	found := false
	for _, s := range statuses {
		if s.Name == "download_state_disk" {
			found = true
			if s.Healthy {
				t.Error("download_state_disk should fail when the path can't be created")
			}
			if s.Error == "" {
				t.Error("error message should be populated")
			}
		}
	}
	if !found {
		t.Error("download_state_disk check not found in statuses")
	}
}

func TestChecker_CustomCheck(t *testing.T) {
	c := &Checker{
		checks: []Check{
			{
				Name: "always_pass",
				CheckFn: func(ctx context.Context) error {
					return nil
				},
			},
		},
	}

	c.runAll(context.Background())

	statuses := c.Statuses()
	if len(statuses) != 1 {
		t.Fatalf("statuses = %d, want 1", len(statuses))
	}
	if !statuses[0].Healthy {
		t.Error("always_pass check should be healthy")
	}
}

func TestChecker_FailingCheck(t *testing.T) {
	recovered := false
	c := &Checker{
		checks: []Check{
			{
				Name: "always_fail",
				CheckFn: func(ctx context.Context) error {
					return os.ErrPermission
				},
				RecoverFn: func(ctx context.Context) error {
					recovered = true
					return nil
				},
			},
		},
	}

	c.runAll(context.Background())

	statuses := c.Statuses()
	if statuses[0].Healthy {
		t.Error("always_fail check should not be healthy")
	}
	if statuses[0].Error == "" {
		t.Error("error message should be populated")
	}
	if !recovered {
		t.Error("RecoverFn should run when CheckFn fails")
	}
}

func TestChecker_StatusesCopy(t *testing.T) {
	db := newTestDB(t)
	c := NewChecker(db, t.TempDir(), t.TempDir())
	c.runAll(context.Background())

	s1 := c.Statuses()
	s2 := c.Statuses()

	// Verify it's a copy, not the same slice
	if len(s1) > 0 {
		s1[0].Healthy = false
		if !s2[0].Healthy {
			t.Error("Statuses() should return a copy, not a reference")
		}
	}
}
