package schedule

import (
	"testing"
	"time"
)

func TestParseForms(t *testing.T) {
	tests := []struct {
		raw     string
		kind    string
		wantErr bool
	}{
		{"0 9 * * 1", "cron", false},
		{"@daily", "cron", false},
		{"every 6h", "interval", false},
		{"every 90s", "interval", false},
		{"once 2026-03-14T09:00:00Z", "once", false},
		{"", "", true},
		{"every fast", "", true},
		{"every 100ms", "", true},
		{"once tomorrow", "", true},
		{"not a schedule", "", true},
	}

	for _, tt := range tests {
		s, err := Parse(tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Errorf("Parse(%q): expected error", tt.raw)
			}
			continue
		}
		if err != nil {
			t.Errorf("Parse(%q): %v", tt.raw, err)
			continue
		}
		if s.Kind != tt.kind {
			t.Errorf("Parse(%q): expected kind %q, got %q", tt.raw, tt.kind, s.Kind)
		}
	}
}

func TestNextRunInterval(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	next := NextRun("every 1h", now)
	if next == nil {
		t.Fatal("expected next run")
	}
	if !next.Equal(now.Add(time.Hour)) {
		t.Errorf("expected %v, got %v", now.Add(time.Hour), next)
	}
}

func TestNextRunCron(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	next := NextRun("0 * * * *", now)
	if next == nil {
		t.Fatal("expected next run")
	}
	if next.Minute() != 0 || !next.After(now) {
		t.Errorf("expected next top of the hour after %v, got %v", now, next)
	}
}

func TestNextRunOnce(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	future := NextRun("once 2026-03-15T09:00:00Z", now)
	if future == nil || !future.Equal(time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected future run: %v", future)
	}

	past := NextRun("once 2026-03-13T09:00:00Z", now)
	if past != nil {
		t.Errorf("expected nil for elapsed one-shot, got %v", past)
	}
}

func TestFormat(t *testing.T) {
	if got := Format("every 6h0m0s"); got != "every 6h0m0s" {
		t.Errorf("unexpected format %q", got)
	}
	if got := Format("0 9 * * 1"); got != "cron 0 9 * * 1" {
		t.Errorf("unexpected format %q", got)
	}
	if got := Format("garbage"); got != "garbage" {
		t.Errorf("invalid expression must pass through, got %q", got)
	}
}
