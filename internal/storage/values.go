package storage

import (
	"strings"

	"surveyagg/internal/table"
)

// cellText renders a dataset cell for the value column. Blank cells report
// false and are not stored.
func cellText(v any) (string, bool) {
	s := table.CellString(v)
	if strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}
