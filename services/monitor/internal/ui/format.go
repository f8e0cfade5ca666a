package ui

import (
	"fmt"
	"time"
)

// FormatNumber abbreviates large counts.
func FormatNumber(n float64) string {
	if n >= 1e9 {
		return fmt.Sprintf("%.1fB", n/1e9)
	} else if n >= 1e6 {
		return fmt.Sprintf("%.1fM", n/1e6)
	} else if n >= 1e3 {
		return fmt.Sprintf("%.1fK", n/1e3)
	}
	return fmt.Sprintf("%.0f", n)
}

// FormatDuration renders a downtime as 1h02m, 3m05s or 12s.
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second
	switch {
	case h > 0:
		return fmt.Sprintf("%dh%02dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm%02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// ShortTime renders an RFC 3339 label as local clock time. Unparseable
// labels are returned unchanged.
func ShortTime(label string) string {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"} {
		if t, err := time.Parse(layout, label); err == nil {
			return t.Local().Format("15:04:05")
		}
	}
	return label
}
