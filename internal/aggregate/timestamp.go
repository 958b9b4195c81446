package aggregate

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// timeLayouts are tried in order. Single-digit layout fields also accept two
// digits, so "2006/1/2" covers zero-padded dates.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/1/2 15:04:05",
	"2006/1/2 15:04",
	"2006/1/2",
	"1/2/06 15:04",
	"1/2/2006 15:04:05",
	"1/2/2006 15:04",
}

// Excel serial day numbers count from 1899-12-30; 2958465 is 9999-12-31.
var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

const maxExcelSerial = 2958465

// minTextSerial is the smallest serial accepted from text (1954-10-03), so a
// stray "1" or "2024" in the timestamp column is dropped, not read as a date
// in 1899 or 1905. Native numeric cells keep the full range.
const minTextSerial = 20000

// ParseTimestamp converts a response timestamp cell. It accepts time values,
// the layouts above and Excel serial day numbers (numeric, or numeric text of
// at least minTextSerial).
// Parsed times are in UTC.
func ParseTimestamp(v any) (time.Time, bool) {
	switch x := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return x, !x.IsZero()
	case float64:
		return fromSerial(x)
	case int:
		return fromSerial(float64(x))
	case int64:
		return fromSerial(float64(x))
	case string:
		return parseTimeString(x)
	case []byte:
		return parseTimeString(string(x))
	}
	return time.Time{}, false
}

func parseTimeString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= minTextSerial {
		return fromSerial(f)
	}
	return time.Time{}, false
}

func fromSerial(f float64) (time.Time, bool) {
	if math.IsNaN(f) || f < 1 || f > maxExcelSerial {
		return time.Time{}, false
	}
	days := math.Floor(f)
	// Round to the millisecond; serials carry float noise.
	ms := math.Round((f - days) * 86400 * 1000)
	return excelEpoch.AddDate(0, 0, int(days)).Add(time.Duration(ms) * time.Millisecond), true
}
