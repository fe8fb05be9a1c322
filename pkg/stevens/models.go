package stevens

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/guregu/null.v3"
)

// Credentials holds the email/password pair used to obtain a bearer token
// from the Stevens Connect API. Supplied per integration, immutable for the
// duration of a run.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ChannelHealth captures the health block Stevens Connect attaches to every
// channel. Both fields may be absent from the upstream payload so we type
// them as nullable.
type ChannelHealth struct {
	Health      null.Float  `json:"health"`
	LastReading null.String `json:"last_reading"`
}

// Channel is one measurable quantity on a sensor, with a reference into the
// flat unit catalog and a health indicator.
type Channel struct {
	ID     string        `json:"id"`
	Name   string        `json:"name"`
	UnitID string        `json:"unit_id"`
	Health ChannelHealth `json:"channel_health"`
}

// Sensor is a physical device reporting one or more channels at a station.
type Sensor struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Channels []Channel `json:"channels"`
}

// Station is a geolocated installation holding one or more sensors.
type Station struct {
	Name      string   `json:"name"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Sensors   []Sensor `json:"sensors"`
}

// Project is the top of the Stevens Connect hierarchy for an account.
type Project struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Stations []Station `json:"stations"`
}

// Unit is one entry of the flat unit catalog. Channels reference units by
// their numeric id, serialized as a string on the channel side.
type Unit struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Symbol string `json:"unit"`
}

// Catalog is the parsed config packet for an account: the full
// project/station/sensor/channel tree plus the flat unit list.
type Catalog struct {
	Projects []Project `json:"projects"`
	Units    []Unit    `json:"units"`
}

// UnitSymbol resolves a channel unit reference against the flat unit list,
// returning the empty string when no unit matches.
func (c *Catalog) UnitSymbol(unitID string) string {
	return UnitSymbol(c.Units, unitID)
}

// UnitSymbol resolves a channel unit_id against a unit list. The catalog
// serializes unit ids as numbers but channel references as strings, so we
// compare their decimal renderings.
func UnitSymbol(units []Unit, unitID string) string {
	for _, unit := range units {
		if strconv.Itoa(unit.ID) == unitID {
			return unit.Symbol
		}
	}
	return ""
}

// Timestamp wraps time.Time so we can parse the mixed timestamp formats the
// readings endpoint returns. Timestamps without a zone offset are taken to be
// UTC.
type Timestamp struct {
	time.Time
}

// timestampLayouts are tried in order when parsing a reading timestamp. The
// bare layouts are parsed in UTC.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// UnmarshalJSON implements json.Unmarshaler, normalizing all parsed values to
// UTC.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.Wrap(err, "failed to unmarshal timestamp string")
	}

	for _, layout := range timestampLayouts {
		parsed, err := time.ParseInLocation(layout, s, time.UTC)
		if err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}

	return errors.Errorf("unable to parse timestamp: %q", s)
}

// MarshalJSON implements json.Marshaler, writing the timestamp back out as
// RFC3339 in UTC.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time.UTC().Format(time.RFC3339))
}

// Reading is a single timestamped value for one channel.
type Reading struct {
	ChannelID string    `json:"channel_id"`
	Value     float64   `json:"reading"`
	Timestamp Timestamp `json:"timestamp"`
}

// ReadingGroup collects all readings across a sensor's channels that share an
// exact timestamp - one group becomes one observation downstream.
type ReadingGroup struct {
	Timestamp time.Time
	Readings  []Reading
}

// envelope is the wrapping structure the API places around every payload.
type envelope struct {
	Data json.RawMessage `json:"data"`
}

// hasData reports whether the envelope carried a non-empty data member.
func (e *envelope) hasData() bool {
	return len(e.Data) > 0 && string(e.Data) != "null"
}

type tokenData struct {
	Token string `json:"token"`
}

type configPacketData struct {
	ConfigPacket Catalog `json:"config_packet"`
}

type paging struct {
	LastPage int `json:"last_page"`
}

type readingsData struct {
	Readings map[string][]Reading `json:"readings"`
	Paging   paging               `json:"paging"`
}
