package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hamed0406/urlmonitor/internal/domain"
	"github.com/hamed0406/urlmonitor/internal/monitor"
	"github.com/hamed0406/urlmonitor/internal/repo"
	"github.com/hamed0406/urlmonitor/internal/scheduler"
)

const defaultStatsWindow = 7 * 24 * time.Hour

type addPayload struct {
	URL       string `json:"url"`
	Name      string `json:"name"`
	TimeoutMS int64  `json:"timeout_ms"`
	Active    *bool  `json:"active"`
}

type updatePayload struct {
	Name      *string `json:"name"`
	TimeoutMS *int64  `json:"timeout_ms"`
	Active    *bool   `json:"active"`
}

type schedulePayload struct {
	Times    []string `json:"times"`
	Timezone string   `json:"timezone"`
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: bad payload: %v", domain.ErrValidation, err)
	}
	return nil
}

func targetID(r *http.Request) domain.TargetID {
	return domain.TargetID(chi.URLParam(r, "id"))
}

// parseSince reads ?since= as RFC3339; an empty value yields def.
func parseSince(r *http.Request, def time.Time) (time.Time, error) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return def, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: since must be RFC3339", domain.ErrValidation)
	}
	return t.UTC(), nil
}

func (s *Server) handleAddTarget(w http.ResponseWriter, r *http.Request) {
	var p addPayload
	if err := decode(w, r, &p); err != nil {
		s.writeError(w, r, err)
		return
	}
	if p.TimeoutMS < 0 {
		s.writeError(w, r, fmt.Errorf("%w: timeout_ms must be positive", domain.ErrValidation))
		return
	}
	id, err := s.Svc.RegisterTarget(r.Context(), monitor.RegisterParams{
		URL:     p.URL,
		Name:    p.Name,
		Timeout: time.Duration(p.TimeoutMS) * time.Millisecond,
		Active:  p.Active,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.Svc.Target(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request) {
	if raw := r.URL.Query().Get("url"); raw != "" {
		t, err := s.Svc.TargetByURL(r.Context(), raw)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, []domain.Target{*t})
		return
	}
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))
	ts, err := s.Svc.Targets(r.Context(), activeOnly)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if ts == nil {
		ts = []domain.Target{}
	}
	writeJSON(w, http.StatusOK, ts)
}

func (s *Server) handleGetTarget(w http.ResponseWriter, r *http.Request) {
	t, err := s.Svc.Target(r.Context(), targetID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleUpdateTarget(w http.ResponseWriter, r *http.Request) {
	var p updatePayload
	if err := decode(w, r, &p); err != nil {
		s.writeError(w, r, err)
		return
	}
	up := monitor.UpdateParams{Name: p.Name, Active: p.Active}
	if p.TimeoutMS != nil {
		d := time.Duration(*p.TimeoutMS) * time.Millisecond
		up.Timeout = &d
	}
	t, err := s.Svc.UpdateTarget(r.Context(), targetID(r), up)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeactivateTarget(w http.ResponseWriter, r *http.Request) {
	if err := s.Svc.DeactivateTarget(r.Context(), targetID(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveTarget(w http.ResponseWriter, r *http.Request) {
	if err := s.Svc.RemoveTarget(r.Context(), targetID(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	since, err := parseSince(r, time.Time{})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit := repo.DefaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil {
			s.writeError(w, r, fmt.Errorf("%w: limit must be an integer", domain.ErrValidation))
			return
		}
	}
	rs, err := s.Svc.History(r.Context(), targetID(r), since, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if rs == nil {
		rs = []domain.CheckResult{}
	}
	writeJSON(w, http.StatusOK, rs)
}

func (s *Server) handleUptimeStats(w http.ResponseWriter, r *http.Request) {
	since, err := parseSince(r, time.Now().UTC().Add(-defaultStatsWindow))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	st, err := s.Svc.UptimeStats(r.Context(), targetID(r), since)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	rows, err := s.Svc.StatusSnapshot(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if rows == nil {
		rows = []domain.StatusRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.Svc.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleTriggerCheck runs a full cycle synchronously and returns its summary.
func (s *Server) handleTriggerCheck(w http.ResponseWriter, r *http.Request) {
	sum, err := s.Svc.TriggerCheckNow(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.Logger.Info("manual_cycle_done",
		zap.Int("targets", sum.TargetsChecked),
		zap.Int("up", sum.UpCount),
		zap.Int("down", sum.DownCount),
		zap.Int("error", sum.ErrorCount),
	)
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handlePrune(w http.ResponseWriter, r *http.Request) {
	n, err := s.Svc.Prune(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	info, err := s.Svc.ScheduleInfo()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handlePutSchedule(w http.ResponseWriter, r *http.Request) {
	var p schedulePayload
	if err := decode(w, r, &p); err != nil {
		s.writeError(w, r, err)
		return
	}
	times, err := scheduler.ParseTimes(p.Times)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.Svc.ConfigureSchedule(times, p.Timezone); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.handleGetSchedule(w, r)
}
