// Package clock provides wall-clock time pinned to the store's timezone.
package clock

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"
)

const (
	DatePrefixLayout = "060102"
	TimestampLayout  = "2006-01-02 15:04:05"
)

type Clock interface {
	Now() time.Time
}

// Zoned reports the current time in one fixed IANA location regardless of
// the host's local zone.
type Zoned struct {
	loc *time.Location
	now func() time.Time
}

func New(timezone string) (*Zoned, error) {
	timezone = strings.TrimSpace(timezone)
	if timezone == "" {
		return nil, fmt.Errorf("timezone is required")
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	return &Zoned{loc: loc, now: time.Now}, nil
}

func (z *Zoned) Now() time.Time {
	return z.now().In(z.loc)
}

func (z *Zoned) Location() *time.Location {
	return z.loc
}

// Func adapts a plain function to Clock.
type Func func() time.Time

func (f Func) Now() time.Time {
	return f()
}

// DatePrefix formats t as YYMMDD.
func DatePrefix(t time.Time) string {
	return t.Format(DatePrefixLayout)
}
