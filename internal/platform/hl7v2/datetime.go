package hl7v2

import (
	"fmt"
	"strings"
	"time"
)

// ParseTimestamp parses an HL7 TS value. Accepted shapes are YYYYMMDD,
// YYYYMMDDHHMM and YYYYMMDDHHMMSS, each with an optional fractional
// seconds part (".fff") and an optional UTC offset ("+0100"). Values
// without an offset are interpreted in loc.
func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	s := strings.TrimSpace(value)
	if s == "" {
		return time.Time{}, fmt.Errorf("hl7v2: empty timestamp")
	}

	// Peel off a trailing UTC offset, if any.
	var offset string
	if i := strings.LastIndexAny(s, "+-"); i > 0 && len(s)-i == 5 {
		offset = s[i:]
		s = s[:i]
	}

	var frac string
	if i := strings.IndexByte(s, '.'); i >= 0 {
		frac = s[i:]
		s = s[:i]
	}

	var layout string
	switch len(s) {
	case 8:
		layout = "20060102"
	case 12:
		layout = "200601021504"
	case 14:
		layout = "20060102150405"
	default:
		return time.Time{}, fmt.Errorf("hl7v2: unrecognized timestamp %q", value)
	}

	if frac != "" {
		layout += "." + strings.Repeat("0", len(frac)-1)
		s += frac
	}

	if offset != "" {
		t, err := time.Parse(layout+"-0700", s+offset)
		if err != nil {
			return time.Time{}, fmt.Errorf("hl7v2: parse timestamp %q: %w", value, err)
		}
		return t, nil
	}

	t, err := time.ParseInLocation(layout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("hl7v2: parse timestamp %q: %w", value, err)
	}
	return t, nil
}

// FormatISO8601 renders a time as ISO8601 with millisecond precision,
// using "Z" for UTC offsets.
func FormatISO8601(t time.Time) string {
	return t.Format("2006-01-02T15:04:05.000Z07:00")
}

// ParseISO8601 parses an ISO8601 datetime. Offsets both with and without
// a colon are accepted, as are date-only values.
func ParseISO8601(value string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999-0700",
		"2006-01-02T15:04:05-0700",
		"2006-01-02T15:04:05.999",
		"2006-01-02T15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("hl7v2: unrecognized ISO8601 datetime %q", value)
}

// strftimeMap translates the strftime directives trust configs use into
// Go reference-time fragments. %L (milliseconds) is handled separately.
var strftimeMap = map[byte]string{
	'Y': "2006",
	'm': "01",
	'd': "02",
	'H': "15",
	'M': "04",
	'S': "05",
	'z': "-0700",
	'%': "%",
}

// FormatStrftime renders t using a strftime-style format string. The
// custom %L directive expands to zero-padded milliseconds.
func FormatStrftime(t time.Time, format string) string {
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		if format[i] != '%' || i+1 >= len(format) {
			b.WriteByte(format[i])
			continue
		}
		i++
		if format[i] == 'L' {
			b.WriteString(fmt.Sprintf("%03d", t.Nanosecond()/int(time.Millisecond)))
			continue
		}
		if frag, ok := strftimeMap[format[i]]; ok {
			b.WriteString(t.Format(frag))
			continue
		}
		b.WriteByte('%')
		b.WriteByte(format[i])
	}
	return b.String()
}

// FormatDatetime renders t in loc using the trust's outgoing timestamp
// format.
func FormatDatetime(t time.Time, format string, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return FormatStrftime(t.In(loc), format)
}

// ISO8601ToHL7Datetime converts an ISO8601 datetime into the trust's
// outgoing HL7 timestamp format, rendered in loc. Empty input yields an
// empty output.
func ISO8601ToHL7Datetime(iso, format string, loc *time.Location) (string, error) {
	if iso == "" {
		return "", nil
	}
	t, err := ParseISO8601(iso)
	if err != nil {
		return "", err
	}
	return FormatDatetime(t, format, loc), nil
}
