package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hamed0406/urlmonitor/internal/domain"
)

func TestCycleMessage_AllUpIsQuiet(t *testing.T) {
	var sum domain.CycleSummary
	sum.Add(domain.CheckResult{TargetID: "a", Outcome: domain.OutcomeUp})
	if _, _, ok := CycleMessage(sum, nil); ok {
		t.Fatalf("all-up cycle should not produce a message")
	}
}

func TestCycleMessage_ListsFailingTargets(t *testing.T) {
	sum := domain.CycleSummary{Duration: 1500 * time.Millisecond}
	sum.Add(domain.CheckResult{TargetID: "a", Outcome: domain.OutcomeUp})
	sum.Add(domain.CheckResult{TargetID: "b", Outcome: domain.OutcomeDown, StatusCode: domain.IntPtr(503)})
	sum.Add(domain.CheckResult{TargetID: "c", Outcome: domain.OutcomeError, Error: domain.StringPtr("request timed out")})

	title, text, ok := CycleMessage(sum, map[domain.TargetID]string{"b": "https://bad.example"})
	if !ok {
		t.Fatalf("expected a message")
	}
	if title != "2 of 3 targets failing" {
		t.Fatalf("unexpected title %q", title)
	}
	for _, want := range []string{"https://bad.example: down (HTTP 503)", "c: error (request timed out)", "up 1, down 1, error 1"} {
		if !strings.Contains(text, want) {
			t.Fatalf("text %q missing %q", text, want)
		}
	}
	if strings.Contains(text, "a:") {
		t.Fatalf("up targets should not be listed: %q", text)
	}
}

func TestCycleMessage_FailedCycle(t *testing.T) {
	title, text, ok := CycleMessage(domain.CycleSummary{Err: "list targets: db locked"}, nil)
	if !ok || title != "Check cycle failed" || text != "list targets: db locked" {
		t.Fatalf("unexpected message %q %q %v", title, text, ok)
	}
}

type failingNotifier struct{ err error }

func (f failingNotifier) Send(ctx context.Context, title, text string) error { return f.err }

func TestMulti_CollectsErrors(t *testing.T) {
	e1, e2 := errors.New("one"), errors.New("two")
	err := Multi{failingNotifier{e1}, nil, failingNotifier{nil}, failingNotifier{e2}}.Send(context.Background(), "t", "x")
	if !errors.Is(err, e1) || !errors.Is(err, e2) {
		t.Fatalf("want both errors, got %v", err)
	}
	if err := (Multi{failingNotifier{nil}}).Send(context.Background(), "t", "x"); err != nil {
		t.Fatalf("want nil, got %v", err)
	}
}
