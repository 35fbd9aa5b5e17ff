package snapshot

import (
	"regexp"
	"strings"
	"time"
)

// TimestampLayout is the layout of the stamp in a snapshot directory name.
const TimestampLayout = "2006-01-02_15-04-05"

// DirPrefix prefixes every snapshot directory written by the backup producer.
const DirPrefix = "backup_"

var (
	datePattern       = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	stampPattern      = regexp.MustCompile(`\d{4}-\d{2}-\d{2}_\d{2}-\d{2}-\d{2}`)
	identifierPattern = regexp.MustCompile(`^[^/]+/backup_\d{4}-\d{2}-\d{2}_\d{2}-\d{2}-\d{2}$`)
)

// LooksDated reports whether a directory name contains a YYYY-MM-DD fragment.
// Such directories are reported as snapshots; all others are only traversed.
func LooksDated(name string) bool {
	return datePattern.MatchString(name)
}

// ValidIdentifier reports whether s is a "<tier>/backup_YYYY-MM-DD_HH-MM-SS"
// snapshot identifier that is safe to interpolate into an executor argument.
//
// Only digit positions are checked; "2024-13-99_99-99-99" is accepted.
// The leading segment may not be "." or ".." and backslashes are rejected so
// the identifier can't climb out of the backup root on any platform.
func ValidIdentifier(s string) bool {
	if !identifierPattern.MatchString(s) {
		return false
	}
	if strings.ContainsRune(s, '\\') {
		return false
	}
	head, _, _ := strings.Cut(s, "/")
	return head != "." && head != ".."
}

// TimestampOf extracts the sortable stamp from a directory name: the full
// date-time stamp when present, otherwise the bare date fragment, otherwise "".
func TimestampOf(name string) string {
	if ts := stampPattern.FindString(name); ts != "" {
		return ts
	}
	return datePattern.FindString(name)
}

// ParseTimestamp parses a stamp produced by TimestampOf in the local time zone.
func ParseTimestamp(ts string) (time.Time, error) {
	if len(ts) == len("2006-01-02") {
		return time.ParseInLocation("2006-01-02", ts, time.Local)
	}
	return time.ParseInLocation(TimestampLayout, ts, time.Local)
}
