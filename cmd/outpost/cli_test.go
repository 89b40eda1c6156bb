package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/hpungsan/outpost/internal/config"
	"github.com/hpungsan/outpost/internal/db"
	"github.com/hpungsan/outpost/internal/engine"
	"github.com/hpungsan/outpost/internal/poller"
	"github.com/hpungsan/outpost/internal/profile"
)

// setupTestApp creates an engine on a temporary database and the CLI app around it.
func setupTestApp(t *testing.T, initial profile.Context) (*engine.Engine, *cli.App) {
	t.Helper()
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("failed to init test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := config.DefaultConfig()
	eng := engine.New(engine.Options{
		Config:    cfg,
		DB:        database,
		Scheduler: poller.NewFakeScheduler(),
		Log:       zerolog.Nop(),
	})
	eng.Initialize(context.Background(), initial)
	t.Cleanup(eng.Dispose)

	return eng, newCLIApp(eng, cfg, zerolog.Nop())
}

func defaultProfile() profile.Context {
	return profile.Context{ProfileID: "p1", EntityID: "e1", ProfileType: profile.TypePersonal}
}

// run executes the app with args and returns captured stdout.
func run(t *testing.T, app *cli.App, args ...string) (string, error) {
	t.Helper()
	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	err := app.Run(append([]string{"outpost"}, args...))

	w.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(r)
	os.Stdout = oldStdout
	return buf.String(), err
}

func TestOptional(t *testing.T) {
	if optional("") != nil || optional("   ") != nil {
		t.Error("expected nil for blank input")
	}
	if p := optional("x"); p == nil || *p != "x" {
		t.Errorf("optional(x) = %v", p)
	}
}

func TestPick(t *testing.T) {
	if got := pick("", "fallback"); got != "fallback" {
		t.Errorf("pick(\"\", fallback) = %q", got)
	}
	if got := pick("a", "fallback"); got != "a" {
		t.Errorf("pick(a, fallback) = %q", got)
	}
}

func TestRawJSON(t *testing.T) {
	if rawJSON("") != nil {
		t.Error("expected nil metadata for empty flag")
	}
	if got := string(rawJSON(`{"a":1}`)); got != `{"a":1}` {
		t.Errorf("rawJSON = %s", got)
	}
}

func TestStartupProfile(t *testing.T) {
	cfg := &config.Config{ProfileID: "p1", EntityID: "e1", ProfileType: "business"}
	want := profile.Context{ProfileID: "p1", EntityID: "e1", ProfileType: profile.TypeBusiness}
	if got := startupProfile(cfg); got != want {
		t.Errorf("startupProfile() = %+v, want %+v", got, want)
	}
}

// TestCLISendMessage tests send-message followed by fetch.
func TestCLISendMessage(t *testing.T) {
	_, app := setupTestApp(t, defaultProfile())

	out, err := run(t, app, "send-message", "-i", "i1", "--to", "e2", "hello", "world")
	if err != nil {
		t.Fatalf("send-message failed: %v", err)
	}

	var sent struct {
		LocalID string `json:"local_id"`
		Success bool   `json:"success"`
	}
	if err := json.Unmarshal([]byte(out), &sent); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	if !sent.Success || !strings.HasPrefix(sent.LocalID, "msg_") {
		t.Fatalf("unexpected send output: %s", out)
	}

	out, err = run(t, app, "fetch", sent.LocalID)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	var item map[string]any
	if err := json.Unmarshal([]byte(out), &item); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	msg := item["message"].(map[string]any)
	if msg["content"] != "hello world" {
		t.Errorf("content = %v, want 'hello world'", msg["content"])
	}
	if item["from_entity_id"] != "e1" {
		t.Errorf("from_entity_id = %v, want profile entity e1", item["from_entity_id"])
	}
}

// TestCLISendTx tests send-tx success and validation.
func TestCLISendTx(t *testing.T) {
	_, app := setupTestApp(t, defaultProfile())

	t.Run("success", func(t *testing.T) {
		out, err := run(t, app, "send-tx", "-i", "i1", "--to", "e2", "--amount", "9.5", "--wallet", "w1", "--currency", "USD")
		if err != nil {
			t.Fatalf("send-tx failed: %v", err)
		}
		if !strings.Contains(out, `"local_id": "txn_`) {
			t.Errorf("unexpected output: %s", out)
		}
	})

	t.Run("invalid amount", func(t *testing.T) {
		_, err := run(t, app, "send-tx", "-i", "i1", "--to", "e2", "--amount", "0", "--wallet", "w1")
		if err == nil {
			t.Fatal("expected error for zero amount")
		}
		if !strings.Contains(err.Error(), "[VALIDATION]") {
			t.Errorf("error = %v, want VALIDATION", err)
		}
	})

	t.Run("bad metadata", func(t *testing.T) {
		_, err := run(t, app, "send-tx", "-i", "i1", "--to", "e2", "--amount", "1", "--wallet", "w1", "--metadata", "{nope")
		if err == nil || !strings.Contains(err.Error(), "[VALIDATION]") {
			t.Errorf("error = %v, want VALIDATION", err)
		}
	})
}

// TestCLIListing tests counts, pending, recent and cancel.
func TestCLIListing(t *testing.T) {
	_, app := setupTestApp(t, defaultProfile())

	out, _ := run(t, app, "send-tx", "-i", "i1", "--to", "e2", "--amount", "1", "--wallet", "w1")
	var sent struct {
		LocalID string `json:"local_id"`
	}
	_ = json.Unmarshal([]byte(out), &sent)
	if _, err := run(t, app, "send-tx", "-i", "i2", "--to", "e2", "--amount", "2", "--wallet", "w2"); err != nil {
		t.Fatalf("send-tx failed: %v", err)
	}

	out, err := run(t, app, "counts")
	if err != nil {
		t.Fatalf("counts failed: %v", err)
	}
	var counts engine.Counts
	if err := json.Unmarshal([]byte(out), &counts); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if counts.Pending != 2 || counts.ProfileID != "p1" {
		t.Errorf("counts = %+v, want 2 pending for p1", counts)
	}

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"recent", []string{"recent"}, 2},
		{"by account", []string{"recent", "--account", "w2"}, 1},
		{"by interaction", []string{"recent", "-i", "i1"}, 1},
		{"pending", []string{"pending"}, 2},
		{"failed", []string{"failed"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, app, tt.args...)
			if err != nil {
				t.Fatalf("%v failed: %v", tt.args, err)
			}
			var list struct {
				Count int `json:"count"`
			}
			if err := json.Unmarshal([]byte(out), &list); err != nil {
				t.Fatalf("failed to parse output: %v", err)
			}
			if list.Count != tt.want {
				t.Errorf("count = %d, want %d", list.Count, tt.want)
			}
		})
	}

	out, err = run(t, app, "cancel", sent.LocalID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if !strings.Contains(out, `"applied": true`) {
		t.Errorf("cancel output = %s", out)
	}

	out, _ = run(t, app, "retry", sent.LocalID)
	if !strings.Contains(out, `"applied": false`) {
		t.Errorf("retry after cancel output = %s", out)
	}
}

// TestCLIProfileFlag tests that --profile switches before the command runs.
func TestCLIProfileFlag(t *testing.T) {
	eng, app := setupTestApp(t, defaultProfile())

	if _, err := run(t, app, "--profile", "p2", "--entity", "e2", "--profile-type", "business",
		"send-message", "-i", "i1", "hi"); err != nil {
		t.Fatalf("send-message failed: %v", err)
	}

	cur := eng.Coordinator.Current().Context
	if cur.ProfileID != "p2" || cur.ProfileType != profile.TypeBusiness {
		t.Errorf("current = %+v, want p2/business", cur)
	}
	if got := eng.Counts(context.Background(), "p2").Pending; got != 1 {
		t.Errorf("p2 pending = %d, want 1", got)
	}
	if got := eng.Counts(context.Background(), "p1").Pending; got != 0 {
		t.Errorf("p1 pending = %d, want 0", got)
	}

	_, err := run(t, app, "--profile", "p3", "--profile-type", "family", "counts")
	if err == nil || !strings.Contains(err.Error(), "[VALIDATION]") {
		t.Errorf("error = %v, want VALIDATION for bad profile type", err)
	}
}

// TestCLIOtherProfileItem tests that item commands only reach the active profile's items.
func TestCLIOtherProfileItem(t *testing.T) {
	_, app := setupTestApp(t, defaultProfile())

	out, err := run(t, app, "send-message", "-i", "i1", "hi")
	if err != nil {
		t.Fatalf("send-message failed: %v", err)
	}
	var sent struct {
		LocalID string `json:"local_id"`
	}
	if err := json.Unmarshal([]byte(out), &sent); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}

	_, err = run(t, app, "--profile", "p2", "--entity", "e2", "fetch", sent.LocalID)
	if err == nil || !strings.Contains(err.Error(), "[NOT_FOUND]") {
		t.Errorf("error = %v, want NOT_FOUND", err)
	}

	for _, cmd := range []string{"retry", "cancel"} {
		out, err := run(t, app, "--profile", "p2", "--entity", "e2", cmd, sent.LocalID)
		if err != nil {
			t.Fatalf("%s failed: %v", cmd, err)
		}
		if !strings.Contains(out, `"applied": false`) {
			t.Errorf("%s output = %s, want applied false", cmd, out)
		}
	}
}

// TestCLINoProfile tests that commands refuse to run without an active profile.
func TestCLINoProfile(t *testing.T) {
	_, app := setupTestApp(t, profile.Context{})

	_, err := run(t, app, "send-message", "-i", "i1", "hi")
	if err == nil || !strings.Contains(err.Error(), "no active profile") {
		t.Errorf("error = %v, want no active profile", err)
	}
}

// TestCLISyncDisabled tests sync without remote_url.
func TestCLISyncDisabled(t *testing.T) {
	_, app := setupTestApp(t, defaultProfile())

	_, err := run(t, app, "sync", "--once")
	if err == nil || !strings.Contains(err.Error(), "remote_url") {
		t.Errorf("error = %v, want sync disabled", err)
	}
}

// TestCLIFetchErrors tests fetch argument and lookup errors.
func TestCLIFetchErrors(t *testing.T) {
	_, app := setupTestApp(t, defaultProfile())

	_, err := run(t, app, "fetch")
	if err == nil || !strings.Contains(err.Error(), "[VALIDATION]") {
		t.Errorf("error = %v, want VALIDATION", err)
	}

	_, err = run(t, app, "fetch", "msg_missing")
	if err == nil || !strings.Contains(err.Error(), "[NOT_FOUND]") {
		t.Errorf("error = %v, want NOT_FOUND", err)
	}
}

// TestCLIStatus tests the status command.
func TestCLIStatus(t *testing.T) {
	_, app := setupTestApp(t, defaultProfile())

	out, err := run(t, app, "status")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	var status map[string]any
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if status["state"] != "idle" || status["sync_enabled"] != false {
		t.Errorf("status = %v", status)
	}
}
