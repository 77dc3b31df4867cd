package repository

import (
	"encoding/json"
	"time"
)

// TopCompaniesLimit caps the "most applied companies" statistic.
const TopCompaniesLimit = 5

// PeriodStarts returns the start of the ISO week (Monday 00:00) and of the
// month containing now, in now's location.
func PeriodStarts(now time.Time) (weekStart, monthStart time.Time) {
	y, m, d := now.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	offset := (int(day.Weekday()) + 6) % 7
	weekStart = day.AddDate(0, 0, -offset)
	monthStart = time.Date(y, m, 1, 0, 0, 0, 0, now.Location())
	return weekStart, monthStart
}

// DecodeKeywords parses the keywords_json column. Malformed or empty values decode to nil.
func DecodeKeywords(raw *string) []string {
	if raw == nil || *raw == "" {
		return nil
	}
	var keywords []string
	if err := json.Unmarshal([]byte(*raw), &keywords); err != nil {
		return nil
	}
	return keywords
}
