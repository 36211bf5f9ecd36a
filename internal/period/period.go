// Package period converts period labels such as "1999:Q2" or "1952" into
// calendar dates.
//
// A label is either a bare year ("YYYY") or a year and quarter separated by a
// colon ("YYYY:Qn"). The quarter digit is read positionally from the second
// character of the quarter part, so "1999:q3" and "1999:Q3" are equivalent.
// Quarters map to the first day of their opening month: Q1 to January, Q2 to
// April, Q3 to July and Q4 to October.
package period

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrParse is matched by every *ParseError via errors.Is.
var ErrParse = errors.New("period: invalid label")

// ParseError reports a label that could not be converted.
type ParseError struct {
	Label  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("period: invalid label %q: %s", e.Label, e.Reason)
}

// Is makes errors.Is(err, ErrParse) true for any ParseError.
func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

// Parse converts a period label to the first day of the period in UTC.
func Parse(label string) (time.Time, error) {
	parts := strings.Split(label, ":")
	switch len(parts) {
	case 1:
		year, err := parseYear(label, parts[0])
		if err != nil {
			return time.Time{}, err
		}
		return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC), nil
	case 2:
		year, err := parseYear(label, parts[0])
		if err != nil {
			return time.Time{}, err
		}
		q, err := parseQuarter(label, parts[1])
		if err != nil {
			return time.Time{}, err
		}
		return QuarterStart(year, q), nil
	default:
		return time.Time{}, &ParseError{Label: label, Reason: fmt.Sprintf("expected at most one ':' separator, got %d", len(parts)-1)}
	}
}

// Normalize converts string values with Parse and returns any other value
// unchanged.
func Normalize(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	return Parse(s)
}

// QuarterStart returns the first day of quarter q (1-4) of year.
func QuarterStart(year, q int) time.Time {
	month := time.Month((q-1)*3 + 1)
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
}

// Label formats t back into a period label. With quarterly set the result is
// "YYYY:Qn" for the quarter containing t, otherwise just "YYYY".
func Label(t time.Time, quarterly bool) string {
	if !quarterly {
		return strconv.Itoa(t.Year())
	}
	return fmt.Sprintf("%d:Q%d", t.Year(), (int(t.Month())-1)/3+1)
}

func parseYear(label, s string) (int, error) {
	year, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, &ParseError{Label: label, Reason: fmt.Sprintf("year %q is not an integer", s)}
	}
	return year, nil
}

func parseQuarter(label, s string) (int, error) {
	if len(s) < 2 {
		return 0, &ParseError{Label: label, Reason: fmt.Sprintf("quarter %q is too short", s)}
	}
	c := s[1]
	if c < '0' || c > '9' {
		return 0, &ParseError{Label: label, Reason: fmt.Sprintf("quarter digit %q is not a number", string(c))}
	}
	q := int(c - '0')
	if q < 1 || q > 4 {
		return 0, &ParseError{Label: label, Reason: fmt.Sprintf("quarter %d out of range 1-4", q)}
	}
	return q, nil
}
