package probe

import (
	"context"
	"time"

	"github.com/hamed0406/urlmonitor/internal/domain"
)

// RetryPolicy controls how many extra attempts a failing check gets.
// A check makes at most Retries+1 requests.
type RetryPolicy struct {
	Retries int
	Delay   time.Duration
}

// Prober wraps a single-attempt Checker with timeout, retry and outcome
// classification.
type Prober struct {
	Inner          Checker
	Policy         RetryPolicy
	Clock          Clock
	DefaultTimeout time.Duration
}

func NewProber(inner Checker, policy RetryPolicy, defaultTimeout time.Duration) *Prober {
	return &Prober{Inner: inner, Policy: policy, Clock: SystemClock, DefaultTimeout: defaultTimeout}
}

// Probe checks t once, retrying per the policy, and always returns a
// result. It never returns an error; failures are expressed as outcomes.
//
//   - up: some attempt got a status below 400.
//   - down: no attempt was up and at least one got a response; the most
//     recent response supplies status and latency.
//   - error: no attempt got a response; status and latency are nil.
func (p *Prober) Probe(ctx context.Context, t domain.Target) domain.CheckResult {
	clock := p.Clock
	if clock == nil {
		clock = SystemClock
	}
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = p.DefaultTimeout
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retries := p.Policy.Retries
	if retries < 0 {
		retries = 0
	}

	res := domain.CheckResult{TargetID: t.ID}
	var lastResp *Attempt
	var lastErr error

	for i := 0; i <= retries; i++ {
		actx, cancel := context.WithTimeout(ctx, timeout)
		a := p.Inner.Check(actx, t.URL)
		cancel()
		res.Attempts++

		if a.Err == nil {
			if a.StatusCode < 400 {
				res.Outcome = domain.OutcomeUp
				res.StatusCode = domain.IntPtr(a.StatusCode)
				res.LatencyMS = domain.Float64Ptr(millis(a.Latency))
				res.CheckedAt = clock.Now().UTC()
				return res
			}
			cp := a
			lastResp = &cp
		} else {
			lastErr = a.Err
		}

		if i < retries {
			if err := clock.Sleep(ctx, p.Policy.Delay); err != nil {
				if lastResp == nil && lastErr == nil {
					lastErr = err
				}
				break
			}
		}
	}

	res.CheckedAt = clock.Now().UTC()
	if lastResp != nil {
		res.Outcome = domain.OutcomeDown
		res.StatusCode = domain.IntPtr(lastResp.StatusCode)
		res.LatencyMS = domain.Float64Ptr(millis(lastResp.Latency))
		return res
	}
	res.Outcome = domain.OutcomeError
	res.Error = domain.StringPtr(describeError(lastErr))
	return res
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
