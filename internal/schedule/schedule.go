package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

// Spec is a parsed schedule expression. Three forms are accepted:
//
//	cron:     "0 9 * * 1"
//	interval: "every 6h"
//	one-shot: "once 2026-03-14T09:00:00Z"
type Spec struct {
	Kind     string // "cron", "interval", "once"
	CronExpr string
	Interval time.Duration
	At       time.Time
}

func Parse(raw string) (*Spec, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty schedule")
	}

	if rest, ok := strings.CutPrefix(raw, "every "); ok {
		d, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil {
			return nil, fmt.Errorf("invalid interval %q: %w", rest, err)
		}
		if d < time.Second {
			return nil, fmt.Errorf("interval must be at least one second")
		}
		return &Spec{Kind: "interval", Interval: d}, nil
	}

	if rest, ok := strings.CutPrefix(raw, "once "); ok {
		at, err := time.Parse(time.RFC3339, strings.TrimSpace(rest))
		if err != nil {
			return nil, fmt.Errorf("invalid time %q: %w", rest, err)
		}
		return &Spec{Kind: "once", At: at}, nil
	}

	if !gronx.New().IsValid(raw) {
		return nil, fmt.Errorf("invalid schedule %q: not a cron expression, \"every <duration>\" or \"once <RFC3339>\"", raw)
	}
	return &Spec{Kind: "cron", CronExpr: raw}, nil
}

// NextRun returns the next firing time after now, or nil when the
// schedule has no future run (a one-shot whose time has passed).
func NextRun(raw string, now time.Time) *time.Time {
	s, err := Parse(raw)
	if err != nil {
		return nil
	}

	var next time.Time
	switch s.Kind {
	case "cron":
		t, err := gronx.NextTickAfter(s.CronExpr, now, false)
		if err != nil {
			return nil
		}
		next = t
	case "interval":
		next = now.Add(s.Interval)
	case "once":
		if !s.At.After(now) {
			return nil
		}
		next = s.At
	}
	return &next
}

// Format renders a schedule expression for display.
func Format(raw string) string {
	s, err := Parse(raw)
	if err != nil {
		return raw
	}

	switch s.Kind {
	case "cron":
		return "cron " + s.CronExpr
	case "interval":
		return "every " + s.Interval.String()
	case "once":
		return "once at " + s.At.Format("Jan 2 15:04 MST")
	}
	return raw
}
