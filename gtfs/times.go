package gtfs

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NoTime marks a stop time without an arrival or departure value.
const NoTime = -1

// ParseTime converts a GTFS "H:MM:SS" time to seconds since the start of the
// service day. Hours may exceed 23 for trips running past midnight.
func ParseTime(s string) (int, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid GTFS time %q", s)
	}
	var v [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid GTFS time %q", s)
		}
		v[i] = n
	}
	if v[1] > 59 || v[2] > 59 {
		return 0, fmt.Errorf("invalid GTFS time %q", s)
	}
	return v[0]*3600 + v[1]*60 + v[2], nil
}

// FormatTime is the inverse of ParseTime: 90600 -> "25:10:00".
func FormatTime(secs int) string {
	if secs < 0 {
		return ""
	}
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, secs%3600/60, secs%60)
}

// ParseDate parses a GTFS "YYYYMMDD" date at midnight in loc.
func ParseDate(date string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation("20060102", date, loc)
}

// ServiceDayTime returns the instant secs after the start of the service day
// date in loc. GTFS measures service time from "noon minus 12h", which differs
// from midnight on days with a daylight saving transition.
func ServiceDayTime(date string, secs int, loc *time.Location) (time.Time, error) {
	day, err := ParseDate(date, loc)
	if err != nil {
		return time.Time{}, err
	}
	noon := time.Date(day.Year(), day.Month(), day.Day(), 12, 0, 0, 0, day.Location())
	return noon.Add(-12 * time.Hour).Add(time.Duration(secs) * time.Second), nil
}

// ServiceDate returns the "YYYYMMDD" date of t in loc.
func ServiceDate(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("20060102")
}
