package templating

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcher_Check(t *testing.T) {
	tm := setupTestManager(t)
	w := NewWatcher(tm, slog.New(slog.NewTextHandler(io.Discard, nil)), time.Hour)
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	var reloads int
	w.AddCallback(func(err error) {
		if err != nil {
			t.Errorf("unexpected reload error: %v", err)
		}
		reloads++
	})

	changed, err := w.Check()
	if err != nil || changed {
		t.Fatalf("Check on an unchanged directory = %v, %v", changed, err)
	}

	writeTemplate(t, tm.GetTemplateDir(), "extra"+PageSuffix, "extra")
	changed, err = w.Check()
	if err != nil || !changed {
		t.Fatalf("Check after adding a file = %v, %v", changed, err)
	}
	if !tm.HasTemplate("extra") {
		t.Error("watcher should have refreshed the manager")
	}

	if err := os.Remove(filepath.Join(tm.GetTemplateDir(), "extra"+PageSuffix)); err != nil {
		t.Fatalf("failed to remove template: %v", err)
	}
	if changed, _ = w.Check(); !changed {
		t.Error("Check should notice a removed file")
	}
	if tm.HasTemplate("extra") {
		t.Error("removed template should have been unloaded")
	}

	if reloads != 2 {
		t.Errorf("expected 2 reload callbacks, got %d", reloads)
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	tm := setupTestManager(t)
	w := NewWatcher(tm, slog.New(slog.NewTextHandler(io.Discard, nil)), time.Hour)
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	writeTemplate(t, tm.GetTemplateDir(), "notes.txt", "not a template")
	if changed, err := w.Check(); err != nil || changed {
		t.Errorf("non-template files should be ignored, got %v, %v", changed, err)
	}
}

func TestWatcher_ReportsRefreshError(t *testing.T) {
	tm := setupTestManager(t)
	w := NewWatcher(tm, slog.New(slog.NewTextHandler(io.Discard, nil)), time.Hour)
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	var got error
	w.AddCallback(func(err error) { got = err })

	writeTemplate(t, tm.GetTemplateDir(), "bad"+PageSuffix, "{{#a}}")
	if _, err := w.Check(); err == nil {
		t.Fatal("expected Check to return the refresh error")
	}
	if got == nil {
		t.Error("callback should have received the refresh error")
	}

	var buf bytes.Buffer
	if err := tm.Execute(&buf, "dummy", nil); err != nil {
		t.Errorf("previous set should still be served: %v", err)
	}
}

func TestWatcher_Polls(t *testing.T) {
	tm := setupTestManager(t)
	w := NewWatcher(tm, slog.New(slog.NewTextHandler(io.Discard, nil)), 10*time.Millisecond)

	reloaded := make(chan struct{}, 1)
	w.AddCallback(func(error) {
		select {
		case reloaded <- struct{}{}:
		default:
		}
	})
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	writeTemplate(t, tm.GetTemplateDir(), "later"+PageSuffix, "later")
	select {
	case <-reloaded:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not pick up the new template")
	}

	w.Stop()
	// Stopping twice must not panic or block.
	w.Stop()

	if !tm.HasTemplate("later") {
		t.Error("manager should contain the new template")
	}
}
