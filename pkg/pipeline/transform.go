package pipeline

import (
	"fmt"
	"time"

	"github.com/thingful/iotstevens/pkg/config"
	"github.com/thingful/iotstevens/pkg/sink"
	"github.com/thingful/iotstevens/pkg/stevens"
)

const (
	observationType    = "stationary-object"
	observationSubtype = "weather_station"
)

// transformObservation builds one normalized observation record from all the
// readings a sensor produced at a single instant. Every reading contributes
// two entries to the additional map: the rendered value with its unit symbol
// and the channel's health percentage.
func transformObservation(task *config.StationTask, timestamp time.Time, readings []stevens.Reading) sink.Observation {
	additional := make(map[string]string)

	for _, reading := range readings {
		channel := findChannel(task.Sensor.Channels, reading.ChannelID)
		if channel == nil {
			// readings are requested by the task's own channel filter so this
			// only happens on a snapshot/catalog mismatch
			continue
		}

		symbol := stevens.UnitSymbol(task.Units, channel.UnitID)
		additional[channel.Name] = fmt.Sprintf("%v %s", reading.Value, symbol)

		if channel.Health.Health.Valid {
			additional[channel.Name+" Health"] = fmt.Sprintf("%v%%", channel.Health.Health.Float64)
		}
	}

	return sink.Observation{
		SourceName: fmt.Sprintf("%s - Sensor '%s'", task.Station.Name, task.Sensor.Name),
		Source:     task.Sensor.ID,
		Type:       observationType,
		Subtype:    observationSubtype,
		RecordedAt: timestamp,
		Location: sink.Location{
			Lat: task.Station.Latitude,
			Lon: task.Station.Longitude,
		},
		Additional: additional,
	}
}

// findChannel returns the channel with the given id from the sensor
// snapshot, or nil when the reading references a channel we do not know.
func findChannel(channels []stevens.Channel, id string) *stevens.Channel {
	for i := range channels {
		if channels[i].ID == id {
			return &channels[i]
		}
	}
	return nil
}

// batchObservations splits a transformed slice into chunks of at most size
// elements, preserving order.
func batchObservations(observations []sink.Observation, size int) [][]sink.Observation {
	var batches [][]sink.Observation

	for len(observations) > 0 {
		n := size
		if len(observations) < n {
			n = len(observations)
		}
		batches = append(batches, observations[:n])
		observations = observations[n:]
	}

	return batches
}
