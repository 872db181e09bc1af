package scheduler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hamed0406/urlmonitor/internal/domain"
)

// TimeOfDay is a wall-clock trigger time, interpreted in the scheduler's
// timezone.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay accepts "HH:MM" in 24h form.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return TimeOfDay{}, fmt.Errorf("%w: time %q is not HH:MM", domain.ErrValidation, s)
	}
	hour, err1 := strconv.Atoi(h)
	minute, err2 := strconv.Atoi(m)
	if err1 != nil || err2 != nil || len(m) != 2 || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return TimeOfDay{}, fmt.Errorf("%w: time %q is not HH:MM", domain.ErrValidation, s)
	}
	return TimeOfDay{Hour: hour, Minute: minute}, nil
}

func ParseTimes(ss []string) ([]TimeOfDay, error) {
	out := make([]TimeOfDay, 0, len(ss))
	for _, s := range ss {
		t, err := ParseTimeOfDay(s)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// cronSpec is the five-field expression firing daily at t.
func (t TimeOfDay) cronSpec() string { return fmt.Sprintf("%d %d * * *", t.Minute, t.Hour) }

func (t TimeOfDay) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
