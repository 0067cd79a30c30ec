// Package ratelimit enforces the venue's per-second, per-minute and
// per-day call ceilings in front of every REST request.
//
// The second and minute tiers are sliding windows: a call passes only if
// fewer than the cap happened in the trailing second or minute. The day
// tier is a calendar-day counter persisted to disk so a restart cannot
// silently double the daily budget. All three checks happen under one
// mutex so concurrent callers can never jointly exceed a cap.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	uber "go.uber.org/ratelimit"

	"github.com/veiloq/broker-connector/pkg/interfaces"
	"github.com/veiloq/broker-connector/pkg/logging"
)

// Limiter is the three-tier gate consulted before every REST call.
// Acquire checks the tiers without consuming a slot; Record consumes one.
// The two are separate so a call rejected by the transport layer can
// still be counted against the budget.
type Limiter struct {
	mu sync.Mutex

	config Config
	logger logging.Logger

	secondWindow []time.Time
	minuteWindow []time.Time

	day             string
	dayCount        int
	successCount    int
	dayLimitReached bool

	sincePersist int

	now func() time.Time
}

// NewLimiter builds a limiter from config, loading the persisted day
// counter when the file exists and belongs to today. A stale file is
// ignored and the day starts from zero.
func NewLimiter(config Config, logger logging.Logger) (*Limiter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewLogger()
	}

	l := &Limiter{
		config: config,
		logger: logger,
		now:    time.Now,
	}
	l.day = l.now().Format(dateLayout)

	if config.PersistPath != "" {
		st, err := loadState(config.PersistPath)
		if err != nil {
			logger.Warn("failed to load rate limit state, starting from zero",
				logging.String("path", config.PersistPath),
				logging.Error(err))
		} else if st.RecordDate == l.day {
			l.dayCount = st.TotalCalls
			l.successCount = st.SuccessfulCalls
			l.dayLimitReached = l.dayCount >= config.PerDay
		}
	}

	return l, nil
}

// Acquire reports whether one more call may be made right now. On
// rejection it returns an *interfaces.RateLimitError naming the tier and
// the shortest useful wait. Acquire never blocks; use WaitIfNeeded for a
// sleeping variant.
func (l *Limiter) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.rolloverLocked(now)
	l.pruneLocked(now)

	if l.dayCount >= l.config.PerDay {
		l.dayLimitReached = true
		return &interfaces.RateLimitError{
			Tier:       interfaces.TierDay,
			RetryAfter: untilMidnight(now),
		}
	}

	if len(l.secondWindow) >= l.config.PerSecond {
		return &interfaces.RateLimitError{
			Tier:       interfaces.TierSecond,
			RetryAfter: l.secondWindow[0].Add(time.Second).Sub(now),
		}
	}

	if len(l.minuteWindow) >= l.config.PerMinute {
		return &interfaces.RateLimitError{
			Tier:       interfaces.TierMinute,
			RetryAfter: l.minuteWindow[0].Add(time.Minute).Sub(now),
		}
	}

	return nil
}

// Record counts a successful call against all three tiers and persists
// the day counter opportunistically.
func (l *Limiter) Record() {
	l.record(true)
}

// RecordFailure counts a call that failed at the transport level. It
// still consumed a call slot at the venue's edge, so it counts against
// the windows and the day budget, just not the success statistic.
func (l *Limiter) RecordFailure() {
	l.record(false)
}

func (l *Limiter) record(success bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.rolloverLocked(now)

	l.secondWindow = append(l.secondWindow, now)
	l.minuteWindow = append(l.minuteWindow, now)
	l.dayCount++
	if success {
		l.successCount++
	}
	if l.dayCount >= l.config.PerDay {
		l.dayLimitReached = true
	}

	l.sincePersist++
	if l.config.PersistPath != "" && l.sincePersist >= l.config.PersistEvery {
		l.persistLocked(now)
	}
}

// WaitIfNeeded blocks until a call slot is available, sleeping through
// second and minute shortfalls. Day-tier rejections are returned
// immediately: the day budget is an operational stop, never a wait.
func (l *Limiter) WaitIfNeeded(ctx context.Context) error {
	for {
		err := l.Acquire()
		if err == nil {
			return nil
		}

		var rle *interfaces.RateLimitError
		if !errors.As(err, &rle) || rle.Tier == interfaces.TierDay {
			return err
		}

		timer := time.NewTimer(rle.RetryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// ForcePersist flushes the day counter to disk. Intended for graceful
// shutdown; persistence failures are logged, not returned, because a
// lost counter write must never block trading calls.
func (l *Limiter) ForcePersist() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.config.PersistPath == "" {
		return
	}
	l.persistLocked(l.now())
}

// DayLimitReached reports whether the calendar-day budget is exhausted.
func (l *Limiter) DayLimitReached() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dayLimitReached
}

// Stats is a point-in-time snapshot of the limiter's counters.
type Stats struct {
	SecondWindow int
	MinuteWindow int
	DayCount     int
	SuccessCount int
}

// GetStats returns the current window sizes and day counters.
func (l *Limiter) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.pruneLocked(now)
	return Stats{
		SecondWindow: len(l.secondWindow),
		MinuteWindow: len(l.minuteWindow),
		DayCount:     l.dayCount,
		SuccessCount: l.successCount,
	}
}

// EffectiveLimit exposes the margin-reduced cap for a tier.
func (l *Limiter) EffectiveLimit(tier interfaces.Tier) int {
	return l.config.EffectiveLimit(tier)
}

// Pacer spaces calls out evenly. Take blocks until the next slot and
// returns the time it fired.
type Pacer interface {
	Take() time.Time
}

// Smoother returns a token-bucket pacer tuned to the effective
// per-second limit. It is the opt-in path for callers who want to stay
// below the hard caps instead of bouncing off Acquire rejections.
func (l *Limiter) Smoother() Pacer {
	rps := l.config.EffectiveLimit(interfaces.TierSecond)
	if rps < 1 {
		rps = 1
	}
	return uber.New(rps, uber.WithoutSlack)
}

// rolloverLocked resets the day counter exactly once per calendar-day
// transition and persists the fresh state.
func (l *Limiter) rolloverLocked(now time.Time) {
	today := now.Format(dateLayout)
	if today == l.day {
		return
	}
	l.day = today
	l.dayCount = 0
	l.successCount = 0
	l.dayLimitReached = false
	if l.config.PersistPath != "" {
		l.persistLocked(now)
	}
	l.logger.Info("rate limit day counter reset", logging.String("date", today))
}

func (l *Limiter) pruneLocked(now time.Time) {
	secCutoff := now.Add(-time.Second)
	for len(l.secondWindow) > 0 && !l.secondWindow[0].After(secCutoff) {
		l.secondWindow = l.secondWindow[1:]
	}
	minCutoff := now.Add(-time.Minute)
	for len(l.minuteWindow) > 0 && !l.minuteWindow[0].After(minCutoff) {
		l.minuteWindow = l.minuteWindow[1:]
	}
}

func (l *Limiter) persistLocked(now time.Time) {
	st := persistedState{
		RecordDate:      l.day,
		TotalCalls:      l.dayCount,
		SuccessfulCalls: l.successCount,
		LastUpdated:     now,
	}
	if err := saveState(l.config.PersistPath, st); err != nil {
		l.logger.Warn("failed to persist rate limit state",
			logging.String("path", l.config.PersistPath),
			logging.Error(err))
		return
	}
	l.sincePersist = 0
}

func untilMidnight(now time.Time) time.Duration {
	midnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
	return midnight.Sub(now)
}
