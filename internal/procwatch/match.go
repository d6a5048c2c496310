package procwatch

import "strings"

// Match reports whether the monitored application is running given the
// records returned for its process name.
//
// With no keyword, any record is a match. With a keyword, a record matches
// only if its command line or executable path contains the keyword as a
// literal, case-sensitive substring; the scan stops at the first hit. No
// records means no match regardless of keyword.
func Match(records []Record, keyword string) bool {
	if len(records) == 0 {
		return false
	}

	if keyword == "" {
		return true
	}

	for _, rec := range records {
		if rec.CommandLine != "" && strings.Contains(rec.CommandLine, keyword) {
			return true
		}
		if rec.ExecutablePath != "" && strings.Contains(rec.ExecutablePath, keyword) {
			return true
		}
	}

	return false
}
