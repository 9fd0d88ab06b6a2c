package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeSpan is a .NET TimeSpan ("d.HH:mm:ss.fffffff" or "HH:mm:ss").
type TimeSpan time.Duration

// ParseTimeSpan parses a .NET TimeSpan string. Fractional seconds are dropped.
// Anything that does not have at least three colon-separated parts is zero.
func ParseTimeSpan(s string) (TimeSpan, error) {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	parts := strings.Split(s, ":")
	if len(parts) < 3 {
		return 0, fmt.Errorf("invalid timespan %q", s)
	}

	var days, hours int
	var err error
	if d, h, ok := strings.Cut(parts[0], "."); ok {
		if days, err = strconv.Atoi(d); err != nil {
			return 0, fmt.Errorf("invalid timespan days %q: %w", s, err)
		}
		if hours, err = strconv.Atoi(h); err != nil {
			return 0, fmt.Errorf("invalid timespan hours %q: %w", s, err)
		}
	} else if hours, err = strconv.Atoi(parts[0]); err != nil {
		return 0, fmt.Errorf("invalid timespan hours %q: %w", s, err)
	}

	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid timespan minutes %q: %w", s, err)
	}

	secPart, _, _ := strings.Cut(parts[2], ".")
	seconds, err := strconv.Atoi(secPart)
	if err != nil {
		return 0, fmt.Errorf("invalid timespan seconds %q: %w", s, err)
	}

	total := time.Duration(days)*24*time.Hour +
		time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds)*time.Second
	if neg {
		total = -total
	}
	return TimeSpan(total), nil
}

// Duration returns the span as a time.Duration.
func (t TimeSpan) Duration() time.Duration {
	return time.Duration(t)
}

// String formats the span the way the backend sends it.
func (t TimeSpan) String() string {
	d := time.Duration(t)
	sign := ""
	if d < 0 {
		sign = "-"
		d = -d
	}
	days := int(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	h := int(d / time.Hour)
	d -= time.Duration(h) * time.Hour
	m := int(d / time.Minute)
	d -= time.Duration(m) * time.Minute
	s := int(d / time.Second)

	if days > 0 {
		return fmt.Sprintf("%s%d.%02d:%02d:%02d", sign, days, h, m, s)
	}
	return fmt.Sprintf("%s%02d:%02d:%02d", sign, h, m, s)
}

// UnmarshalJSON accepts a TimeSpan string. Unparseable values decode as zero,
// matching how the countdown treats garbage as "ended".
func (t *TimeSpan) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*t = 0
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timespan: %w", err)
	}
	ts, err := ParseTimeSpan(s)
	if err != nil {
		*t = 0
		return nil
	}
	*t = ts
	return nil
}

// MarshalJSON writes the TimeSpan string form.
func (t TimeSpan) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// FormatRemaining renders a countdown for display.
func FormatRemaining(t TimeSpan) string {
	d := t.Duration()
	if d <= 0 {
		return "Ended"
	}

	days := int(d / (24 * time.Hour))
	hours := int(d/time.Hour) % 24
	minutes := int(d/time.Minute) % 60
	seconds := int(d/time.Second) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// IsEndingSoon reports less than an hour left.
func IsEndingSoon(t TimeSpan) bool {
	return t > 0 && t.Duration() < time.Hour
}

// IsEndingVerySoon reports less than five minutes left.
func IsEndingVerySoon(t TimeSpan) bool {
	return t > 0 && t.Duration() < 5*time.Minute
}

// Timestamp is a point in time that tolerates the zone-less format .NET
// emits for unspecified DateTime values.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.9999999",
	"2006-01-02T15:04:05",
}

// ParseTimestamp parses RFC 3339 or a zone-less timestamp (as UTC).
func ParseTimestamp(s string) (Timestamp, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Timestamp{t.UTC()}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("invalid timestamp %q", s)
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*t = Timestamp{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if s == "" {
		*t = Timestamp{}
		return nil
	}
	ts, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = ts
	return nil
}

// MarshalJSON writes RFC 3339.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}
