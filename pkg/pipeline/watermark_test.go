package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseWatermark(t *testing.T) {
	testcases := []struct {
		label    string
		value    string
		expected time.Time
	}{
		{
			"wire format",
			"2024-01-04 10:00:00",
			time.Date(2024, 1, 4, 10, 0, 0, 0, time.UTC),
		},
		{
			"wire format with upstream suffix",
			"2024-01-04 10:00:00 (UTC)",
			time.Date(2024, 1, 4, 10, 0, 0, 0, time.UTC),
		},
		{
			"rfc3339",
			"2024-01-04T10:00:00Z",
			time.Date(2024, 1, 4, 10, 0, 0, 0, time.UTC),
		},
		{
			"rfc3339 with offset normalized to utc",
			"2024-01-04T10:00:00+02:00",
			time.Date(2024, 1, 4, 8, 0, 0, 0, time.UTC),
		},
	}

	for _, tc := range testcases {
		t.Run(tc.label, func(t *testing.T) {
			parsed, err := parseWatermark(tc.value)
			assert.Nil(t, err)
			assert.Equal(t, tc.expected, parsed)
		})
	}
}

func TestParseWatermarkInvalid(t *testing.T) {
	_, err := parseWatermark("never")
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "unable to parse watermark")
}

func TestWatermarkValue(t *testing.T) {
	assert.Equal(t, "2024-01-04 10:00:00", watermarkValue("2024-01-04 10:00:00 (UTC)"))
	assert.Equal(t, "2024-01-04 10:00:00", watermarkValue("2024-01-04 10:00:00"))
}
