package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/hamed0406/urlmonitor/internal/domain"
)

// CycleMessage renders a cycle summary for chat. ok is false when the cycle
// succeeded and every target was up, so there is nothing to report.
// urls maps target IDs to their URLs; unknown IDs are printed as-is.
func CycleMessage(sum domain.CycleSummary, urls map[domain.TargetID]string) (title, text string, ok bool) {
	if sum.Failed() {
		return "Check cycle failed", sum.Err, true
	}
	if sum.DownCount == 0 && sum.ErrorCount == 0 {
		return "", "", false
	}

	title = fmt.Sprintf("%d of %d targets failing", sum.DownCount+sum.ErrorCount, sum.TargetsChecked)
	var b strings.Builder
	for _, r := range sum.Results {
		if r.Outcome == domain.OutcomeUp {
			continue
		}
		name := string(r.TargetID)
		if u, found := urls[r.TargetID]; found {
			name = u
		}
		switch {
		case r.StatusCode != nil:
			fmt.Fprintf(&b, "• %s: %s (HTTP %d)\n", name, r.Outcome, *r.StatusCode)
		case r.Error != nil:
			fmt.Fprintf(&b, "• %s: %s (%s)\n", name, r.Outcome, *r.Error)
		default:
			fmt.Fprintf(&b, "• %s: %s\n", name, r.Outcome)
		}
	}
	fmt.Fprintf(&b, "up %d, down %d, error %d in %s", sum.UpCount, sum.DownCount, sum.ErrorCount, sum.Duration.Round(time.Millisecond))
	return title, b.String(), true
}
