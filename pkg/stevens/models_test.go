package stevens_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/thingful/iotstevens/pkg/stevens"
)

func TestTimestampParsing(t *testing.T) {
	testcases := []struct {
		label    string
		input    string
		expected time.Time
	}{
		{
			"rfc3339 with offset is normalized to UTC",
			`"2024-01-01T12:00:00+02:00"`,
			time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		},
		{
			"bare iso timestamp is assumed UTC",
			`"2024-01-01T12:00:00"`,
			time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		},
		{
			"wire format is assumed UTC",
			`"2024-01-01 12:00:00"`,
			time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		},
	}

	for _, tc := range testcases {
		t.Run(tc.label, func(t *testing.T) {
			var ts stevens.Timestamp
			err := json.Unmarshal([]byte(tc.input), &ts)
			assert.Nil(t, err)
			assert.Equal(t, tc.expected, ts.Time)
		})
	}
}

func TestTimestampParsingError(t *testing.T) {
	var ts stevens.Timestamp
	err := json.Unmarshal([]byte(`"not a time"`), &ts)
	assert.NotNil(t, err)
}

func TestReadingUnmarshal(t *testing.T) {
	payload := []byte(`{"channel_id":"11","reading":12.58,"timestamp":"2024-01-01 10:00:00"}`)

	var reading stevens.Reading
	err := json.Unmarshal(payload, &reading)
	assert.Nil(t, err)

	assert.Equal(t, "11", reading.ChannelID)
	assert.Equal(t, 12.58, reading.Value)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), reading.Timestamp.Time)
}

func TestUnitSymbol(t *testing.T) {
	units := []stevens.Unit{
		{ID: 3, Name: "Celsius", Symbol: "C"},
		{ID: 4, Name: "Metres", Symbol: "m"},
	}

	assert.Equal(t, "C", stevens.UnitSymbol(units, "3"))
	assert.Equal(t, "m", stevens.UnitSymbol(units, "4"))
	assert.Equal(t, "", stevens.UnitSymbol(units, "12"))
}
