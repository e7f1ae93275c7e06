package cleanup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

type mockHandshakePurger struct {
	called  bool
	now     time.Time
	deleted int64
	err     error
}

func (m *mockHandshakePurger) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	m.called = true
	m.now = now
	return m.deleted, m.err
}

type mockNotificationPurger struct {
	called  bool
	cutoff  time.Time
	deleted int64
	err     error
}

func (m *mockNotificationPurger) DeleteSeenOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	m.called = true
	m.cutoff = cutoff
	return m.deleted, m.err
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

var fixedNow = time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)

func newTestJob(buf *bytes.Buffer, h *mockHandshakePurger, n *mockNotificationPurger) *CleanupJob {
	job := NewCleanupJob(h, n, newTestLogger(buf))
	job.now = func() time.Time { return fixedNow }
	return job
}

func TestNewCleanupJob_SetsRetentionDays(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockHandshakePurger{}, &mockNotificationPurger{}, newTestLogger(&buf))

	if job.RetentionDays != 90 {
		t.Errorf("RetentionDays = %d, want 90", job.RetentionDays)
	}
}

func TestCleanupJob_Run_DeletesBoth(t *testing.T) {
	var buf bytes.Buffer
	h := &mockHandshakePurger{deleted: 2}
	n := &mockNotificationPurger{deleted: 7}
	job := newTestJob(&buf, h, n)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !h.called || !h.now.Equal(fixedNow) {
		t.Errorf("DeleteExpired called=%v now=%v", h.called, h.now)
	}
	wantCutoff := fixedNow.AddDate(0, 0, -90)
	if !n.called || !n.cutoff.Equal(wantCutoff) {
		t.Errorf("DeleteSeenOlderThan called=%v cutoff=%v, want %v", n.called, n.cutoff, wantCutoff)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}
	if entry["deleted_handshakes"] != float64(2) || entry["deleted_notifications"] != float64(7) {
		t.Errorf("log entry = %v", entry)
	}
}

func TestCleanupJob_Run_CustomRetention(t *testing.T) {
	var buf bytes.Buffer
	n := &mockNotificationPurger{}
	job := newTestJob(&buf, &mockHandshakePurger{}, n)
	job.RetentionDays = 30

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if want := fixedNow.AddDate(0, 0, -30); !n.cutoff.Equal(want) {
		t.Errorf("cutoff = %v, want %v", n.cutoff, want)
	}
}

func TestCleanupJob_Run_ContinuesAfterFailure(t *testing.T) {
	var buf bytes.Buffer
	h := &mockHandshakePurger{err: errors.New("connection refused")}
	n := &mockNotificationPurger{}
	job := newTestJob(&buf, h, n)

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !n.called {
		t.Error("notification cleanup should still run")
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("error = %v", err)
	}
	if !strings.Contains(buf.String(), `"level":"ERROR"`) {
		t.Errorf("expected ERROR log, got %s", buf.String())
	}
}

func TestCleanupJob_Start_StopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	h := &mockHandshakePurger{}
	job := newTestJob(&buf, h, &mockNotificationPurger{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx, time.Hour)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
