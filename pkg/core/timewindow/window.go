// Package timewindow normalizes heterogeneous timestamp/date inputs into a
// half-open [start, end) instant window, applied identically by every
// filtered read and by incremental sync.
//
// Timestamps are naive: a trailing Z or UTC offset is stripped, not
// converted, and all comparisons happen at second resolution in the store's
// local time. Two inputs differing only in offset therefore collide. This
// mirrors the historic behavior on purpose.
package timewindow

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kevinmcaleer/page-count/pkg/core/domain"
	"github.com/kevinmcaleer/page-count/pkg/logging"
)

// Window is a resolved set of instant bounds. Start is inclusive, End
// exclusive, After a strictly-greater lower bound ("since").
type Window struct {
	Start *time.Time
	End   *time.Time
	After *time.Time
}

// Apply copies the window bounds onto a visit filter.
func (w Window) Apply(f *domain.VisitFilter) {
	f.Start = w.Start
	f.End = w.End
	f.After = w.After
}

// Resolve builds a Window from raw query parameters. A non-empty rangeParam
// ("<start>,<end>") takes precedence over the other three. Range parse
// failures are fail-open: the error is logged and the range filter dropped
// entirely, the request proceeds unfiltered. Malformed startDate, endDate or
// since values are fail-closed and return ErrValidation.
func Resolve(ctx context.Context, log logging.Logger, rangeParam, startDate, endDate, since string) (Window, error) {
	if rangeParam != "" {
		w, err := parseRange(rangeParam)
		if err != nil {
			log.Error(ctx, "invalid range parameter, ignoring filter", "range", rangeParam, "error", err)
			return Window{}, nil
		}
		return w, nil
	}

	var w Window
	if startDate != "" {
		t, err := ParseBound(startDate)
		if err != nil {
			return Window{}, err
		}
		day := midnight(t)
		w.Start = &day
	}
	if endDate != "" {
		t, err := ParseBound(endDate)
		if err != nil {
			return Window{}, err
		}
		// inclusive calendar-day bound: exclusive next-day midnight
		next := midnight(t).AddDate(0, 0, 1)
		w.End = &next
	}
	if since != "" {
		t, err := ParseBound(since)
		if err != nil {
			return Window{}, err
		}
		w.After = &t
	}
	return w, nil
}

// parseRange splits "<start>,<end>" and resolves both bounds. The end bound
// is always exclusive, whether given as a bare date or a full timestamp.
func parseRange(s string) (Window, error) {
	parts := strings.SplitN(s, ",", 3)
	if len(parts) < 2 {
		return Window{}, fmt.Errorf("%w: range needs two comma-separated bounds", domain.ErrValidation)
	}
	start, err := ParseBound(strings.TrimSpace(parts[0]))
	if err != nil {
		return Window{}, err
	}
	end, err := ParseBound(strings.TrimSpace(parts[1]))
	if err != nil {
		return Window{}, err
	}
	return Window{Start: &start, End: &end}, nil
}

// ParseBound resolves one window component. A bare date (10 characters,
// YYYY-MM-DD) expands to midnight of that day; anything else goes through
// generic timestamp parsing.
func ParseBound(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) == 10 {
		s += " 00:00:00"
	}
	return ParseTimestamp(s)
}

// ParseTimestamp parses a timestamp with '-' or '/' date separators, 'T' or
// space between date and time, 1-2 digit time components, optional fractional
// seconds and an optional trailing Z or ±HH:MM offset. The offset is stripped
// away, never converted. Returns ErrValidation on anything unparseable.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty timestamp", domain.ErrValidation)
	}
	s = strings.ReplaceAll(s, "/", "-")

	datePart := s
	timePart := ""
	if i := strings.IndexAny(s, "T "); i >= 0 {
		datePart, timePart = s[:i], s[i+1:]
	}

	timePart = strings.TrimSuffix(timePart, "Z")
	if i := strings.IndexByte(timePart, '+'); i >= 0 {
		timePart = timePart[:i]
	} else if i := strings.IndexByte(timePart, '-'); i >= 0 {
		timePart = timePart[:i]
	}
	if i := strings.IndexByte(timePart, '.'); i >= 0 {
		timePart = timePart[:i]
	}

	year, month, day, err := parseDate(datePart)
	if err != nil {
		return time.Time{}, err
	}
	hour, minute, sec, err := parseClock(timePart)
	if err != nil {
		return time.Time{}, err
	}

	t := time.Date(year, time.Month(month), day, hour, minute, sec, 0, time.Local)
	// time.Date normalizes out-of-range components; a changed date means the
	// input was impossible (e.g. 2025-99-99)
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return time.Time{}, fmt.Errorf("%w: impossible date %q", domain.ErrValidation, datePart)
	}
	return t, nil
}

func parseDate(s string) (year, month, day int, err error) {
	parts := strings.Split(s, "-")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("%w: malformed date %q", domain.ErrValidation, s)
	}
	nums, err := atoiAll(parts)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("%w: malformed date %q", domain.ErrValidation, s)
	}
	year, month, day = nums[0], nums[1], nums[2]
	if year < 1 || month < 1 || month > 12 || day < 1 || day > 31 {
		return 0, 0, 0, fmt.Errorf("%w: impossible date %q", domain.ErrValidation, s)
	}
	return year, month, day, nil
}

func parseClock(s string) (hour, minute, sec int, err error) {
	if s == "" {
		return 0, 0, 0, nil
	}
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, 0, 0, fmt.Errorf("%w: malformed time %q", domain.ErrValidation, s)
	}
	nums, err := atoiAll(parts)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("%w: malformed time %q", domain.ErrValidation, s)
	}
	for len(nums) < 3 {
		nums = append(nums, 0)
	}
	hour, minute, sec = nums[0], nums[1], nums[2]
	if hour > 23 || minute > 59 || sec > 59 {
		return 0, 0, 0, fmt.Errorf("%w: impossible time %q", domain.ErrValidation, s)
	}
	return hour, minute, sec, nil
}

func atoiAll(parts []string) ([]int, error) {
	nums := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("not a number: %q", p)
		}
		nums = append(nums, n)
	}
	return nums, nil
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
