package tool

import (
	"context"
	"testing"
	"time"
)

func TestParseRefreshSchedule(t *testing.T) {
	cases := []struct {
		expr    string
		wantErr bool
	}{
		{"*/5 * * * *", false},
		{"0 12 * * 1", false},
		{"", true},
		{"not a cron", true},
		{"CRON_TZ=America/New_York 0 12 * * *", true},
		{"TZ=UTC 0 12 * * *", true},
	}
	for _, tc := range cases {
		_, err := parseRefreshSchedule(tc.expr)
		if (err != nil) != tc.wantErr {
			t.Fatalf("parseRefreshSchedule(%q) error = %v, wantErr = %v", tc.expr, err, tc.wantErr)
		}
	}
}

func TestRefreshSchedulerNextRun(t *testing.T) {
	registry := NewRegistry(RegistryConfig{})
	now := time.Date(2026, 8, 1, 11, 57, 30, 0, time.UTC)
	scheduler, err := NewRefreshScheduler(RefreshSchedulerConfig{
		Registry: registry,
		Schedule: "0 12 * * *",
		Now:      func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewRefreshScheduler() error = %v", err)
	}

	want := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	if got := scheduler.NextRun(); !got.Equal(want) {
		t.Fatalf("NextRun() = %v, want %v", got, want)
	}
}

func TestRefreshSchedulerRunOnce(t *testing.T) {
	client := &stubClient{tools: namedTools("read_file")}
	registry := newStubRegistry(t, map[string]*stubClient{"files": client})
	scheduler, err := NewRefreshScheduler(RefreshSchedulerConfig{
		Registry: registry,
		Schedule: "* * * * *",
	})
	if err != nil {
		t.Fatalf("NewRefreshScheduler() error = %v", err)
	}

	scheduler.RunOnce(context.Background())
	if _, lists, _ := client.counts(); lists != 1 {
		t.Fatalf("list calls = %d, want 1", lists)
	}

	// A second pass bypasses the cache: scheduled refreshes always hit
	// the server.
	scheduler.RunOnce(context.Background())
	if _, lists, _ := client.counts(); lists != 2 {
		t.Fatalf("list calls = %d, want 2", lists)
	}
}

func TestRefreshSchedulerStartStop(t *testing.T) {
	registry := NewRegistry(RegistryConfig{})
	scheduler, err := NewRefreshScheduler(RefreshSchedulerConfig{
		Registry: registry,
		Schedule: "0 0 1 1 *",
	})
	if err != nil {
		t.Fatalf("NewRefreshScheduler() error = %v", err)
	}

	if err := scheduler.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := scheduler.Start(); err != nil {
		t.Fatalf("Start() second call error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := scheduler.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := scheduler.Stop(ctx); err != nil {
		t.Fatalf("Stop() second call error = %v", err)
	}
}

func TestNewRefreshSchedulerValidation(t *testing.T) {
	if _, err := NewRefreshScheduler(RefreshSchedulerConfig{Schedule: "* * * * *"}); err == nil {
		t.Fatal("NewRefreshScheduler() without registry succeeded, want error")
	}
	if _, err := NewRefreshScheduler(RefreshSchedulerConfig{
		Registry: NewRegistry(RegistryConfig{}),
		Schedule: "bad",
	}); err == nil {
		t.Fatal("NewRefreshScheduler() with bad schedule succeeded, want error")
	}
}
