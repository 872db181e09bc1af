package probe

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/hamed0406/urlmonitor/internal/domain"
)

// fake checker you can control
type fakeChecker struct {
	attempts []Attempt
	calls    int
}

func (f *fakeChecker) Check(ctx context.Context, target string) Attempt {
	f.calls++
	if f.calls > len(f.attempts) {
		return f.attempts[len(f.attempts)-1]
	}
	return f.attempts[f.calls-1]
}

type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return ctx.Err()
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func newTestProber(f *fakeChecker, retries int) (*Prober, *fakeClock) {
	clk := &fakeClock{now: time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)}
	return &Prober{
		Inner:          f,
		Policy:         RetryPolicy{Retries: retries, Delay: 3 * time.Second},
		Clock:          clk,
		DefaultTimeout: time.Second,
	}, clk
}

func target() domain.Target {
	return domain.Target{ID: "t1", URL: "https://example.com"}
}

func TestProber_SucceedsAfterRetry(t *testing.T) {
	f := &fakeChecker{attempts: []Attempt{
		{Err: timeoutErr{}},
		{StatusCode: 200, Latency: 12 * time.Millisecond},
	}}
	p, clk := newTestProber(f, 2)

	out := p.Probe(context.Background(), target())
	if out.Outcome != domain.OutcomeUp {
		t.Fatalf("want up after retry, got %+v", out)
	}
	if f.calls != 2 || out.Attempts != 2 {
		t.Fatalf("want 2 attempts, got calls=%d attempts=%d", f.calls, out.Attempts)
	}
	if len(clk.sleeps) != 1 {
		t.Fatalf("want one delay between attempts, got %v", clk.sleeps)
	}
	if out.Error != nil {
		t.Fatalf("up result must have nil error, got %q", *out.Error)
	}
	if out.LatencyMS == nil || *out.LatencyMS != 12 {
		t.Fatalf("want latency 12ms, got %v", out.LatencyMS)
	}
}

func TestProber_TimeoutExhaustsRetries(t *testing.T) {
	f := &fakeChecker{attempts: []Attempt{{Err: timeoutErr{}}}}
	p, clk := newTestProber(f, 2)

	out := p.Probe(context.Background(), target())
	if out.Outcome != domain.OutcomeError {
		t.Fatalf("want error outcome, got %s", out.Outcome)
	}
	if f.calls != 3 {
		t.Fatalf("want exactly 3 physical attempts, got %d", f.calls)
	}
	if len(clk.sleeps) != 2 || clk.sleeps[0] != 3*time.Second {
		t.Fatalf("unexpected delays: %v", clk.sleeps)
	}
	if out.StatusCode != nil || out.LatencyMS != nil {
		t.Fatalf("error result must have nil status and latency: %+v", out)
	}
	if out.Error == nil || *out.Error != "request timed out" {
		t.Fatalf("want timeout detail, got %v", out.Error)
	}
	if !out.CheckedAt.Equal(clk.now) {
		t.Fatalf("checked_at should be taken at completion, got %v want %v", out.CheckedAt, clk.now)
	}
}

func TestProber_ServerErrorIsDown(t *testing.T) {
	f := &fakeChecker{attempts: []Attempt{{StatusCode: 500, Latency: 5 * time.Millisecond}}}
	p, _ := newTestProber(f, 1)

	out := p.Probe(context.Background(), target())
	if out.Outcome != domain.OutcomeDown {
		t.Fatalf("want down, got %s", out.Outcome)
	}
	if out.StatusCode == nil || *out.StatusCode != 500 {
		t.Fatalf("want status 500, got %v", out.StatusCode)
	}
	if out.Error != nil {
		t.Fatalf("down result must have nil error, got %q", *out.Error)
	}
	if f.calls != 2 {
		t.Fatalf("down should be retried, got %d calls", f.calls)
	}
}

func TestProber_ResponseThenNetworkFailureIsDown(t *testing.T) {
	f := &fakeChecker{attempts: []Attempt{
		{StatusCode: 503, Latency: 40 * time.Millisecond},
		{Err: errors.New("connection reset")},
	}}
	p, _ := newTestProber(f, 1)

	out := p.Probe(context.Background(), target())
	if out.Outcome != domain.OutcomeDown {
		t.Fatalf("want down, got %s", out.Outcome)
	}
	if *out.StatusCode != 503 || *out.LatencyMS != 40 {
		t.Fatalf("want last response values, got %+v", out)
	}
}

func TestProber_NoRetries(t *testing.T) {
	f := &fakeChecker{attempts: []Attempt{{Err: errors.New("dial tcp: connection refused")}}}
	p, clk := newTestProber(f, 0)

	out := p.Probe(context.Background(), target())
	if f.calls != 1 || len(clk.sleeps) != 0 {
		t.Fatalf("want single attempt without delay, got calls=%d sleeps=%v", f.calls, clk.sleeps)
	}
	if out.Outcome != domain.OutcomeError || out.Error == nil {
		t.Fatalf("want error with detail, got %+v", out)
	}
}

func TestProber_CancelledContextStopsRetrying(t *testing.T) {
	f := &fakeChecker{attempts: []Attempt{{Err: context.Canceled}}}
	p, _ := newTestProber(f, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := p.Probe(ctx, target())
	if f.calls != 1 {
		t.Fatalf("want retries to stop on cancel, got %d calls", f.calls)
	}
	if out.Outcome != domain.OutcomeError {
		t.Fatalf("want error, got %s", out.Outcome)
	}
}

func TestDescribeError(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{context.DeadlineExceeded, "request timed out"},
		{timeoutErr{}, "request timed out"},
		{&net.DNSError{Err: "no such host", Name: "nope.invalid", IsNotFound: true}, "dns lookup failed: no such host nope.invalid"},
		{errors.New("boom"), "connection error: boom"},
	}
	for _, c := range cases {
		if got := describeError(c.err); got != c.want {
			t.Fatalf("describeError(%v) = %q, want %q", c.err, got, c.want)
		}
	}
}
