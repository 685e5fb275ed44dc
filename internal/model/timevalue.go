package model

import (
	"fmt"
	"strings"
	"time"
)

// Bounds used for open interval ends.
var (
	MinInstant = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)
	MaxInstant = time.Date(9999, time.December, 31, 23, 59, 59, 999999000, time.UTC)
)

// TimeValue is either a TimeInstant or a TimeInterval.
type TimeValue interface {
	// Start returns the instant itself or the interval start.
	Start() time.Time
	// End returns the instant itself or the interval end.
	End() time.Time
	IsInterval() bool
	String() string
}

// TimeInstant is a single point in time.
type TimeInstant struct {
	t time.Time
}

// NewTimeInstant wraps t, normalized to UTC.
func NewTimeInstant(t time.Time) TimeInstant {
	return TimeInstant{t: t.UTC()}
}

// Now returns the current instant.
func Now() TimeInstant {
	return NewTimeInstant(time.Now())
}

func (ti TimeInstant) Time() time.Time              { return ti.t }
func (ti TimeInstant) Start() time.Time             { return ti.t }
func (ti TimeInstant) End() time.Time               { return ti.t }
func (ti TimeInstant) IsInterval() bool             { return false }
func (ti TimeInstant) IsEmpty() bool                { return ti.t.IsZero() }
func (ti TimeInstant) String() string               { return ti.t.Format(time.RFC3339Nano) }
func (ti TimeInstant) Equal(o any) bool             { return timeValueEqual(ti, o) }
func (ti TimeInstant) MarshalText() ([]byte, error) { return []byte(ti.String()), nil }

// TimeInterval is a closed-open interval [start, end).
type TimeInterval struct {
	start time.Time
	end   time.Time
}

// NewTimeInterval creates an interval. The end may not precede the start.
func NewTimeInterval(start, end time.Time) (TimeInterval, error) {
	if end.Before(start) {
		return TimeInterval{}, fmt.Errorf("%w: interval end %s before start %s", ErrParse, end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return TimeInterval{start: start.UTC(), end: end.UTC()}, nil
}

func (ti TimeInterval) Start() time.Time { return ti.start }
func (ti TimeInterval) End() time.Time   { return ti.end }
func (ti TimeInterval) IsInterval() bool { return true }
func (ti TimeInterval) String() string {
	return ti.start.Format(time.RFC3339Nano) + "/" + ti.end.Format(time.RFC3339Nano)
}
func (ti TimeInterval) Equal(o any) bool             { return timeValueEqual(ti, o) }
func (ti TimeInterval) MarshalText() ([]byte, error) { return []byte(ti.String()), nil }

// IntervalFromTimes builds the interval stored as two nullable columns.
// A null start counts as MaxInstant and a null end as MinInstant; when the
// resulting end precedes the start the interval is absent and nil is returned.
func IntervalFromTimes(start, end *time.Time) *TimeInterval {
	s := MaxInstant
	if start != nil {
		s = start.UTC()
	}
	e := MinInstant
	if end != nil {
		e = end.UTC()
	}
	if e.Before(s) {
		return nil
	}
	return &TimeInterval{start: s, end: e}
}

// TimeValueFromTimes is IntervalFromTimes for properties that hold either an
// instant or an interval: equal bounds yield an instant.
func TimeValueFromTimes(start, end *time.Time) TimeValue {
	iv := IntervalFromTimes(start, end)
	if iv == nil {
		return nil
	}
	if iv.start.Equal(iv.end) {
		return TimeInstant{t: iv.start}
	}
	return *iv
}

// ParseTimeInstant parses an RFC 3339 timestamp.
func ParseTimeInstant(s string) (TimeInstant, error) {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
	if err != nil {
		return TimeInstant{}, fmt.Errorf("%w: invalid time instant %q", ErrParse, s)
	}
	return NewTimeInstant(t), nil
}

// ParseTimeInterval parses "start/end".
func ParseTimeInterval(s string) (TimeInterval, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 2 {
		return TimeInterval{}, fmt.Errorf("%w: invalid time interval %q", ErrParse, s)
	}
	start, err := ParseTimeInstant(parts[0])
	if err != nil {
		return TimeInterval{}, err
	}
	end, err := ParseTimeInstant(parts[1])
	if err != nil {
		return TimeInterval{}, err
	}
	return NewTimeInterval(start.t, end.t)
}

// ParseTimeValue parses either an instant or an interval.
func ParseTimeValue(s string) (TimeValue, error) {
	if strings.Contains(s, "/") {
		return ParseTimeInterval(s)
	}
	return ParseTimeInstant(s)
}

func timeValueEqual(a TimeValue, o any) bool {
	b, ok := o.(TimeValue)
	if !ok || b == nil {
		return false
	}
	return a.IsInterval() == b.IsInterval() && a.Start().Equal(b.Start()) && a.End().Equal(b.End())
}
