package presence

import (
	"regexp"
	"strings"
)

// dateSuffix matches release-date suffixes such as -2024-08-06 or -20250514.
var dateSuffix = regexp.MustCompile(`-(\d{4}-\d{2}-\d{2}|\d{8})$`)

// NormalizeModel trims whitespace and a trailing date suffix from a
// model identifier.
func NormalizeModel(id string) string {
	id = strings.TrimSpace(id)
	return dateSuffix.ReplaceAllString(id, "")
}
