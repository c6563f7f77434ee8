// Package clock provides the time source used by the auth flows and the
// rule for interpreting timestamps stored without a time zone.
package clock

import "time"

type Clock interface {
	Now() time.Time
}

type System struct{}

func (System) Now() time.Time { return time.Now() }

// Fixed always returns the same instant. Useful in tests.
type Fixed time.Time

func (f Fixed) Now() time.Time { return time.Time(f) }

// Func adapts a function to Clock.
type Func func() time.Time

func (f Func) Now() time.Time { return f() }

// Aware interprets the wall clock reading of naive as being expressed in loc
// and returns the corresponding instant. The location attached to naive is ignored.
// A nil loc is treated as UTC.
func Aware(naive time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, mo, d := naive.Date()
	h, mi, s := naive.Clock()
	return time.Date(y, mo, d, h, mi, s, naive.Nanosecond(), loc)
}

// Naive returns the wall clock reading of t in loc, tagged as UTC so drivers
// write it verbatim into a column without time zone.
func Naive(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	y, mo, d := t.Date()
	h, mi, s := t.Clock()
	return time.Date(y, mo, d, h, mi, s, t.Nanosecond(), time.UTC)
}

// Before reports now < expiresAt, the validity check shared by MFA codes and reset tokens.
func Before(now, expiresAt time.Time) bool {
	return now.Before(expiresAt)
}
