package pipeline

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// utcSuffix is the literal suffix Stevens Connect appends to the
// last_reading health field.
const utcSuffix = " (UTC)"

// watermarkLayouts are the accepted formats for a stored watermark: the
// Stevens wire format and RFC3339. The bare layout is parsed in UTC.
var watermarkLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// parseWatermark parses a stored updated_at value into a UTC instant. A
// value that parses under none of the accepted layouts is an error rather
// than a silent reset to the lookback window, since it means the stored
// state is corrupt.
func parseWatermark(value string) (time.Time, error) {
	value = strings.TrimSpace(strings.ReplaceAll(value, utcSuffix, ""))

	for _, layout := range watermarkLayouts {
		parsed, err := time.ParseInLocation(layout, value, time.UTC)
		if err == nil {
			return parsed.UTC(), nil
		}
	}

	return time.Time{}, errors.Errorf("unable to parse watermark: %q", value)
}

// watermarkValue strips the upstream suffix from a last_reading health field
// to produce the value we persist.
func watermarkValue(lastReading string) string {
	return strings.ReplaceAll(lastReading, utcSuffix, "")
}
