package config

import (
	"log/slog"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// ParseLevel maps a log.level setting to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, Errorf("log.level", "unknown level %q", s)
}

var timeParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// ParseModifiedSince parses a modified_since setting: an RFC 3339 timestamp,
// a date (2006-01-02), or an English expression such as "2 days ago" or
// "last monday" resolved against now. An empty string is the zero time.
func ParseModifiedSince(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, s, now.Location()); err == nil {
		return t, nil
	}
	r, err := timeParser.Parse(s, now)
	if err != nil {
		return time.Time{}, Errorf("modified_since", "cannot parse %q: %v", s, err)
	}
	if r == nil {
		return time.Time{}, Errorf("modified_since", "cannot parse %q", s)
	}
	return r.Time, nil
}
