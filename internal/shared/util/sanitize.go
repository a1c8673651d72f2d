package util

import (
	"errors"
	"regexp"
	"strings"
)

// SanitizeFileName removes path separators and rejects traversal patterns.
func SanitizeFileName(name string) (string, error) {
	if strings.Contains(name, "..") {
		return "", errors.New("invalid file name")
	}
	s := strings.TrimSpace(name)
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	if s == "" {
		return "", errors.New("invalid file name")
	}
	return s, nil
}

var (
	unsafeChars = regexp.MustCompile(`[^\w\s-]`)
	dashOrSpace = regexp.MustCompile(`[-\s]+`)
)

// SafeReportName produces a filesystem-safe stem from a company or report name.
func SafeReportName(name string) string {
	safe := strings.TrimSpace(unsafeChars.ReplaceAllString(name, ""))
	safe = dashOrSpace.ReplaceAllString(safe, "_")
	if safe == "" {
		return "Generated_Report"
	}
	return safe
}
