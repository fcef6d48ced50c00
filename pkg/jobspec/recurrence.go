package jobspec

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrNotExpressible is returned when a recurrence has no exact cron rendering.
var ErrNotExpressible = errors.New("recurrence cannot be expressed as a cron schedule")

// nominal lengths used to order cadences. Months are taken as 30 days.
var frequencyPeriods = map[Frequency]time.Duration{
	FrequencyMinute: time.Minute,
	FrequencyHour:   time.Hour,
	FrequencyDay:    24 * time.Hour,
	FrequencyWeek:   7 * 24 * time.Hour,
	FrequencyMonth:  30 * 24 * time.Hour,
}

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	_, ok := frequencyPeriods[f]
	return ok
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	_, ok := tierLimits[t]
	return ok
}

// NewRecurrence returns a recurrence firing once per frequency unit.
func NewRecurrence(f Frequency) RecurrenceSpec {
	return RecurrenceSpec{Frequency: f, Interval: 1}
}

// Period is the nominal time between two occurrences. Periods too long for a
// time.Duration are clamped to the largest one.
func (r RecurrenceSpec) Period() time.Duration {
	hi, lo := r.span()
	if hi != 0 || lo > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(lo)
}

// Finer reports whether r fires more often than other. The comparison is
// exact for every interval.
func (r RecurrenceSpec) Finer(other RecurrenceSpec) bool {
	rHi, rLo := r.span()
	oHi, oLo := other.span()
	if rHi != oHi {
		return rHi < oHi
	}
	return rLo < oLo
}

// span is the period in nanoseconds as a 128-bit value.
func (r RecurrenceSpec) span() (hi, lo uint64) {
	if r.Interval < 1 {
		return 0, 0
	}
	return bits.Mul64(uint64(frequencyPeriods[r.Frequency]), uint64(r.Interval))
}

// Cadence renders the frequency/interval pair, e.g. "1 Minute" or "2 Week".
func (r RecurrenceSpec) Cadence() string {
	return fmt.Sprintf("%d %s", r.Interval, r.Frequency)
}

// CronExpression renders the recurrence as a standard five-field cron
// schedule anchored on start. Only exact renderings are returned: a step must
// divide its field's range, otherwise the schedule would restart early at the
// top of the hour, day or year. Occurrence counts are not representable in
// cron and are ignored here.
func (r RecurrenceSpec) CronExpression(start time.Time) (string, error) {
	if err := r.Validate(); err != nil {
		return "", err
	}
	start = start.UTC()
	n := r.Interval
	var expr string
	switch r.Frequency {
	case FrequencyMinute:
		if !divides(n, 60) {
			return "", fmt.Errorf("%w: every %d minutes", ErrNotExpressible, n)
		}
		expr = fmt.Sprintf("*/%d * * * *", n)
	case FrequencyHour:
		if !divides(n, 24) {
			return "", fmt.Errorf("%w: every %d hours", ErrNotExpressible, n)
		}
		expr = fmt.Sprintf("%d */%d * * *", start.Minute(), n)
	case FrequencyDay:
		if n != 1 {
			return "", fmt.Errorf("%w: every %d days", ErrNotExpressible, n)
		}
		expr = fmt.Sprintf("%d %d * * *", start.Minute(), start.Hour())
	case FrequencyWeek:
		if n != 1 {
			return "", fmt.Errorf("%w: every %d weeks", ErrNotExpressible, n)
		}
		expr = fmt.Sprintf("%d %d * * %d", start.Minute(), start.Hour(), int(start.Weekday()))
	case FrequencyMonth:
		if n != 12 && !divides(n, 12) {
			return "", fmt.Errorf("%w: every %d months", ErrNotExpressible, n)
		}
		if start.Day() > 28 {
			return "", fmt.Errorf("%w: monthly on day %d skips short months", ErrNotExpressible, start.Day())
		}
		if n == 12 {
			expr = fmt.Sprintf("%d %d %d %d *", start.Minute(), start.Hour(), start.Day(), int(start.Month()))
			break
		}
		expr = fmt.Sprintf("%d %d %d */%d *", start.Minute(), start.Hour(), start.Day(), n)
	}

	if _, err := cron.ParseStandard(expr); err != nil {
		return "", fmt.Errorf("generated schedule %q is invalid: %w", expr, err)
	}
	return expr, nil
}

// divides reports whether n is a step that evenly splits a field of size
// period. A step equal to the whole field is not a valid cron step.
func divides(n, period int) bool {
	return n < period && period%n == 0
}

// TierLimits are the ceilings a tier imposes on a collection's quota.
type TierLimits struct {
	MaxJobCount int
	// MinRecurrence is the finest cadence the tier allows as a quota floor.
	MinRecurrence RecurrenceSpec
}

var tierLimits = map[Tier]TierLimits{
	TierFree:     {MaxJobCount: 5, MinRecurrence: NewRecurrence(FrequencyHour)},
	TierStandard: {MaxJobCount: 50, MinRecurrence: NewRecurrence(FrequencyMinute)},
	TierPremium:  {MaxJobCount: 1000, MinRecurrence: NewRecurrence(FrequencyMinute)},
}

// Limits returns the ceilings of the tier. Unknown tiers have zero limits.
func (t Tier) Limits() TierLimits {
	return tierLimits[t]
}

// Admits reports whether the tier accepts the quota, and if not, why.
func (l TierLimits) Admits(q QuotaPolicy) error {
	if q.MaxJobCount > l.MaxJobCount {
		return fmt.Errorf("max job count %d exceeds the tier ceiling of %d", q.MaxJobCount, l.MaxJobCount)
	}
	if q.MaxRecurrence.Finer(l.MinRecurrence) {
		return fmt.Errorf("max recurrence of every %s is finer than the tier allows (every %s)",
			q.MaxRecurrence.Cadence(), l.MinRecurrence.Cadence())
	}
	return nil
}
