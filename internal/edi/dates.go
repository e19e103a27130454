package edi

import (
	"strings"
	"time"
)

// SentinelDate is the ISO rendering used for the reserved all-zero date
// value some trading partners send instead of a real date.
const SentinelDate = "0001-01-01"

// dateLayouts maps a date format qualifier to its Go layout. Covers the
// day-month-year and month-day-year orders in both 2- and 4-digit-year
// variants, with and without time and timezone.
var dateLayouts = map[string]string{
	"2":   "020106",           // DDMMYY
	"3":   "010206",           // MMDDYY
	"101": "060102",           // YYMMDD
	"102": "20060102",         // CCYYMMDD
	"103": "02012006",         // DDMMCCYY
	"110": "01022006",         // MMDDCCYY
	"201": "0601021504",       // YYMMDDHHMM
	"203": "200601021504",     // CCYYMMDDHHMM
	"204": "20060102150405",   // CCYYMMDDHHMMSS
	"303": "200601021504-07", // CCYYMMDDHHMMZZZ
}

// ISODate decodes a protocol date value into ISO-8601 (date part only) using
// the layout selected by the format qualifier. The reserved all-zero value
// maps to the sentinel date. An unregistered qualifier is a *DateError.
func ISODate(qualifier, value string) (string, error) {
	layout, ok := dateLayouts[qualifier]
	if !ok {
		return "", &DateError{Qualifier: qualifier}
	}
	trimmed := strings.TrimSpace(value)
	if isAllZero(trimmed) {
		return SentinelDate, nil
	}
	parsed, err := time.Parse(layout, trimmed)
	if err != nil {
		return "", &QualifierError{Tag: "DTM", Reason: "value '" + value + "' does not match format " + qualifier}
	}
	return parsed.Format("2006-01-02"), nil
}

func isAllZero(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r != '0' {
			return false
		}
	}
	return true
}
