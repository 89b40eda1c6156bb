package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultWhenMissing(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SyncMaxRetries != DefaultConfig().SyncMaxRetries {
		t.Fatalf("SyncMaxRetries = %d, want %d", cfg.SyncMaxRetries, DefaultConfig().SyncMaxRetries)
	}
	want := []time.Duration{5 * time.Second, 15 * time.Second, 30 * time.Second}
	got := cfg.PollSchedule()
	if len(got) != len(want) {
		t.Fatalf("PollSchedule() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("PollSchedule()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestLoad_OverridesFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	content := `{"sync_max_retries": 3, "sync_interval": "750ms", "poll_intervals": ["1s", 2000], "remote_url": "https://api.example.test"}`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SyncMaxRetries != 3 {
		t.Errorf("SyncMaxRetries = %d, want 3", cfg.SyncMaxRetries)
	}
	if cfg.SyncInterval.D() != 750*time.Millisecond {
		t.Errorf("SyncInterval = %v, want 750ms", cfg.SyncInterval.D())
	}
	if got := cfg.PollSchedule(); len(got) != 2 || got[0] != time.Second || got[1] != 2*time.Second {
		t.Errorf("PollSchedule() = %v, want [1s 2s]", got)
	}
	if cfg.RemoteURL != "https://api.example.test" {
		t.Errorf("RemoteURL = %q", cfg.RemoteURL)
	}
	// Untouched values keep their defaults
	if cfg.SyncBatchSize != 25 {
		t.Errorf("SyncBatchSize = %d, want 25", cfg.SyncBatchSize)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{not json}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := Load(tmpDir); err == nil {
		t.Fatalf("Load() expected error, got nil")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{"sync_interval": "soon"}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := Load(tmpDir); err == nil {
		t.Fatalf("Load() expected error for bad duration, got nil")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")
	if err := os.WriteFile(configPath, []byte(`{"sync_max_retries": 3}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	t.Setenv("OUTPOST_SYNC_MAX_RETRIES", "9")
	t.Setenv("OUTPOST_SYNC_BASE_BACKOFF", "250ms")
	t.Setenv("OUTPOST_DB_MAX_OPEN_CONNS", "1")
	t.Setenv("OUTPOST_DISABLED_TOOLS", "poll_start,poll_stop")
	t.Setenv("OUTPOST_PROFILE_ID", "p7")

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SyncMaxRetries != 9 {
		t.Errorf("SyncMaxRetries = %d, want 9 (env wins)", cfg.SyncMaxRetries)
	}
	if cfg.SyncBaseBackoff.D() != 250*time.Millisecond {
		t.Errorf("SyncBaseBackoff = %v, want 250ms", cfg.SyncBaseBackoff.D())
	}
	if cfg.DBMaxOpenConns != 1 {
		t.Errorf("DBMaxOpenConns = %d, want 1", cfg.DBMaxOpenConns)
	}
	if len(cfg.DisabledTools) != 2 {
		t.Errorf("DisabledTools = %v, want 2 entries", cfg.DisabledTools)
	}
	if cfg.ProfileID != "p7" {
		t.Errorf("ProfileID = %q, want p7", cfg.ProfileID)
	}
}

func TestLoad_EnvInvalidDuration(t *testing.T) {
	t.Setenv("OUTPOST_SYNC_INTERVAL", "-5s")

	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("Load() expected error for negative duration")
	}
}

func TestLoadWithRepo_RepoWins(t *testing.T) {
	globalDir := t.TempDir()
	repoRoot := t.TempDir()
	nested := filepath.Join(repoRoot, "a", "b")
	if err := os.MkdirAll(filepath.Join(repoRoot, ".outpost"), 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(nested, 0700); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(globalDir, "config.json"),
		[]byte(`{"sync_batch_size": 10, "disabled_tools": ["timeline_cancel"]}`), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(repoRoot, ".outpost", "config.json"),
		[]byte(`{"sync_batch_size": 50, "disabled_tools": ["poll_start", "timeline_cancel"]}`), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadWithRepo(globalDir, nested)
	if err != nil {
		t.Fatalf("LoadWithRepo() error = %v", err)
	}
	if cfg.SyncBatchSize != 50 {
		t.Errorf("SyncBatchSize = %d, want 50", cfg.SyncBatchSize)
	}
	if len(cfg.DisabledTools) != 2 {
		t.Errorf("DisabledTools = %v, want deduplicated 2 entries", cfg.DisabledTools)
	}
}

func TestFindRepoConfig_NotFound(t *testing.T) {
	if got := FindRepoConfig(t.TempDir()); got != "" {
		t.Errorf("FindRepoConfig() = %q, want empty", got)
	}
}

func TestMerge_PollIntervalsReplaced(t *testing.T) {
	base := DefaultConfig()
	overlay := &Config{PollIntervals: []Duration{Duration(time.Second)}}

	got := Merge(base, overlay)
	if len(got.PollIntervals) != 1 {
		t.Fatalf("PollIntervals = %v, want overlay schedule", got.PollIntervals)
	}
}

func TestMergeStringSlice(t *testing.T) {
	got := mergeStringSlice([]string{" a ", "b", ""}, []string{"b", "c"})
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("mergeStringSlice() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("mergeStringSlice()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if mergeStringSlice(nil, nil) != nil {
		t.Error("mergeStringSlice(nil, nil) should be nil")
	}
}
