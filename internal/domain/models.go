package domain

import (
	"encoding/json"
	"time"
)

type TargetID string

// Target is a monitored endpoint. URL is the normalized form and is unique.
type Target struct {
	ID          TargetID      `json:"id"`
	URL         string        `json:"url"`
	Name        string        `json:"name,omitempty"`
	Timeout     time.Duration `json:"-"`
	Active      bool          `json:"active"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	LastChecked *time.Time    `json:"last_checked,omitempty"`
}

// targetJSON carries the timeout as milliseconds on the wire.
type targetJSON struct {
	targetAlias
	TimeoutMS int64 `json:"timeout_ms"`
}

type targetAlias Target

func (t Target) MarshalJSON() ([]byte, error) {
	return json.Marshal(targetJSON{targetAlias: targetAlias(t), TimeoutMS: t.Timeout.Milliseconds()})
}

func (t *Target) UnmarshalJSON(b []byte) error {
	var v targetJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*t = Target(v.targetAlias)
	t.Timeout = time.Duration(v.TimeoutMS) * time.Millisecond
	return nil
}

type Outcome string

const (
	OutcomeUp    Outcome = "up"
	OutcomeDown  Outcome = "down"
	OutcomeError Outcome = "error"
)

func (o Outcome) Valid() bool {
	switch o {
	case OutcomeUp, OutcomeDown, OutcomeError:
		return true
	}
	return false
}

// CheckResult is one logical check of a target. It is never updated once
// stored; ID is assigned by the store on insert.
type CheckResult struct {
	ID         int64     `json:"id,omitempty"`
	TargetID   TargetID  `json:"target_id"`
	Outcome    Outcome   `json:"outcome"`
	StatusCode *int      `json:"status_code"` // nil on network-level failure
	LatencyMS  *float64  `json:"latency_ms"`  // nil when no response was classified
	Error      *string   `json:"error"`       // set only for outcome=error
	Attempts   int       `json:"attempts"`
	CheckedAt  time.Time `json:"checked_at"`
}

// StatusRow pairs a target with its newest stored result. Latest is nil for
// a target that has never been checked.
type StatusRow struct {
	Target Target       `json:"target"`
	Latest *CheckResult `json:"latest_result"`
}

// CycleSummary describes one pass over all active targets.
type CycleSummary struct {
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     time.Time     `json:"finished_at"`
	Duration       time.Duration `json:"duration_ns"`
	TargetsChecked int           `json:"targets_checked"`
	UpCount        int           `json:"up_count"`
	DownCount      int           `json:"down_count"`
	ErrorCount     int           `json:"error_count"`
	Dropped        int           `json:"dropped"`
	Abandoned      int           `json:"abandoned"`
	Results        []CheckResult `json:"results"`
	Err            string        `json:"error,omitempty"`
}

// Failed reports whether the cycle ended early, either because targets could
// not be listed or because it was cancelled.
func (s CycleSummary) Failed() bool { return s.Err != "" }

// Add counts r by outcome and appends it in arrival order.
func (s *CycleSummary) Add(r CheckResult) {
	s.TargetsChecked++
	switch r.Outcome {
	case OutcomeUp:
		s.UpCount++
	case OutcomeDown:
		s.DownCount++
	default:
		s.ErrorCount++
	}
	s.Results = append(s.Results, r)
}

type UptimeStats struct {
	TargetID         TargetID  `json:"target_id"`
	Since            time.Time `json:"since"`
	TotalChecks      int       `json:"total_checks"`
	UpChecks         int       `json:"up_checks"`
	DownChecks       int       `json:"down_checks"`
	ErrorChecks      int       `json:"error_checks"`
	UptimePercentage float64   `json:"uptime_percentage"`
	AvgLatencyMS     *float64  `json:"avg_latency_ms"`
	MinLatencyMS     *float64  `json:"min_latency_ms"`
	MaxLatencyMS     *float64  `json:"max_latency_ms"`
}

type StoreStats struct {
	TotalTargets  int `json:"total_targets"`
	ActiveTargets int `json:"active_targets"`
	TotalChecks   int `json:"total_checks"`
	ChecksLast24h int `json:"checks_last_24h"`
}

func IntPtr(v int) *int             { return &v }
func Float64Ptr(v float64) *float64 { return &v }
func StringPtr(v string) *string    { return &v }
