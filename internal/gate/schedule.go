package gate

import (
	"log/slog"
	"sync"
	"time"

	"github.com/bakkerme/topic-finder/internal/config"
	"github.com/bakkerme/topic-finder/internal/core"
)

// ScheduleTolerance is how far from a daily slot a check may land and still fire it.
const ScheduleTolerance = 5

type slot struct {
	raw    string
	minute int
}

// DailySchedule decides whether the current wall-clock minute is close enough
// to one of the configured "HH:MM" slots to send scheduled topics.
type DailySchedule struct {
	mu        sync.Mutex
	slots     []slot
	lastCheck int
	hasCheck  bool
}

// NewDailySchedule parses the configured times. Invalid entries are logged and skipped.
func NewDailySchedule(times []string, logger *slog.Logger) *DailySchedule {
	logger = core.DefaultLogger(logger)
	s := &DailySchedule{}
	for _, raw := range times {
		hour, minute, err := config.ParseClock(raw)
		if err != nil {
			logger.Warn("skipping invalid daily time", "time", raw, "error", err)
			continue
		}
		s.slots = append(s.slots, slot{raw: raw, minute: hour*60 + minute})
	}
	return s
}

// Due returns the first slot within ScheduleTolerance minutes of now. A check
// within ScheduleTolerance minutes of the last fired one never fires again.
func (s *DailySchedule) Due(now time.Time) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := now.Hour()*60 + now.Minute()
	if s.hasCheck && absInt(current-s.lastCheck) < ScheduleTolerance {
		return "", false
	}
	for _, sl := range s.slots {
		if absInt(current-sl.minute) <= ScheduleTolerance {
			return sl.raw, true
		}
	}
	return "", false
}

// MarkFired remembers the minute-of-day at which scheduled topics were sent.
func (s *DailySchedule) MarkFired(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCheck = now.Hour()*60 + now.Minute()
	s.hasCheck = true
}

// Slots returns the valid configured times.
func (s *DailySchedule) Slots() []string {
	out := make([]string, 0, len(s.slots))
	for _, sl := range s.slots {
		out = append(out, sl.raw)
	}
	return out
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
