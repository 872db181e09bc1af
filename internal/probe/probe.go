package probe

import (
	"context"
	"time"
)

// Attempt is the raw outcome of one physical HTTP request.
//
// Err is non-nil when the request failed before a response arrived
// (timeout, DNS, TLS, refused connection). Otherwise StatusCode and Latency
// describe the response.
type Attempt struct {
	StatusCode int
	Status     string
	Latency    time.Duration
	Err        error
}

// Responded reports whether the attempt received an HTTP response.
func (a Attempt) Responded() bool { return a.Err == nil && a.StatusCode > 0 }

// Checker performs a single request against a target URL. The deadline for
// the request is carried by ctx.
type Checker interface {
	Check(ctx context.Context, target string) Attempt
}

// Clock is the time source used between retries. Tests substitute a fake so
// retry delays do not actually sleep.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
