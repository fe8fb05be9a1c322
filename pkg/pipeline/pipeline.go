package pipeline

import (
	"context"
	"time"

	kitlog "github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/thingful/iotstevens/pkg/clock"
	"github.com/thingful/iotstevens/pkg/config"
	"github.com/thingful/iotstevens/pkg/dispatch"
	"github.com/thingful/iotstevens/pkg/metrics"
	"github.com/thingful/iotstevens/pkg/sink"
	"github.com/thingful/iotstevens/pkg/state"
	"github.com/thingful/iotstevens/pkg/stevens"
)

const (
	// windowInterval is the maximum span of a single dispatched pull window.
	windowInterval = 2 * 24 * time.Hour

	// batchSize is the number of observations forwarded to the sink per batch.
	batchSize = 200
)

// excludedSensors are virtual sensors Stevens Connect attaches to every
// station that carry no observation data, matched by exact name.
var excludedSensors = map[string]struct{}{
	"Statistics":            {},
	"Diagnostic Parameters": {},
}

var (
	// pullDuration is a prometheus histogram recording durations of top level
	// pull invocations.
	pullDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "thingful",
			Subsystem: "stevens",
			Name:      "pull_duration_seconds",
			Help:      "Duration distribution of top level pulls",
		},
	)

	// stationDuration is a prometheus histogram recording durations of
	// per-station-sensor task processing.
	stationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "thingful",
			Subsystem: "stevens",
			Name:      "station_task_duration_seconds",
			Help:      "Duration distribution of per-station-sensor tasks",
		},
	)

	// observationsForwardedCounter is a prometheus counter recording the number
	// of observations the sink accepted.
	observationsForwardedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "thingful",
			Subsystem: "stevens",
			Name:      "observations_forwarded",
			Help:      "Count of observations accepted by the sink",
		},
	)

	// sensorsExcludedCounter is a prometheus counter recording the number of
	// sensors skipped via the exclusion list.
	sensorsExcludedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "thingful",
			Subsystem: "stevens",
			Name:      "sensors_excluded",
			Help:      "Count of sensors skipped via the exclusion list",
		},
	)
)

func init() {
	metrics.MustRegister(pullDuration)
	metrics.MustRegister(stationDuration)
	metrics.MustRegister(observationsForwardedCounter)
	metrics.MustRegister(sensorsExcludedCounter)
}

// PullResult is the outcome of a top level pull invocation.
type PullResult struct {
	SensorsTriggered int `json:"sensors_triggered"`
}

// StationResult is the outcome of one per-station-sensor task.
type StationResult struct {
	ObservationsExtracted int `json:"observations_extracted"`
}

// AuthResult is the outcome of a credential check. This entry point reports
// auth failures as a result rather than an error so the caller can surface
// them to the operator.
type AuthResult struct {
	ValidCredentials bool   `json:"valid_credentials"`
	Error            bool   `json:"error,omitempty"`
	StatusCode       int    `json:"status_code,omitempty"`
	Message          string `json:"message,omitempty"`
}

// Puller is an interface we define to drive the end-to-end pull: enumerating
// the catalog, dispatching windowed per-station-sensor tasks, and processing
// those tasks into forwarded observation batches.
type Puller interface {
	// PullObservations runs one top level pull pass for the integration,
	// returning the count of dispatched sub-tasks.
	PullObservations(ctx context.Context, integration *config.Integration) (*PullResult, error)

	// ProcessStationTask fetches, transforms and forwards the readings for one
	// dispatched task, returning the count of accepted observations.
	ProcessStationTask(ctx context.Context, integration *config.Integration, task *config.StationTask) (*StationResult, error)

	// CheckCredentials validates the integration's stored credentials against
	// the API.
	CheckCredentials(ctx context.Context, integration *config.Integration) (*AuthResult, error)
}

// Config carries the constructed collaborators a puller needs. All of them
// are injected so tests can supply mocks.
type Config struct {
	Client     stevens.Client
	Store      state.Store
	Dispatcher dispatch.Dispatcher
	Sink       sink.Sink
	Clock      clock.Clock
	Verbose    bool
}

// puller is our internal type implementing the Puller interface.
type puller struct {
	client     stevens.Client
	store      state.Store
	dispatcher dispatch.Dispatcher
	sink       sink.Sink
	clock      clock.Clock
	verbose    bool
	logger     kitlog.Logger
}

// NewPuller is a constructor function that returns an instantiated puller
// ready for use.
func NewPuller(config *Config, logger kitlog.Logger) Puller {
	logger = kitlog.With(logger, "module", "pipeline")

	logger.Log("msg", "creating puller")

	return &puller{
		client:     config.Client,
		store:      config.Store,
		dispatcher: config.Dispatcher,
		sink:       config.Sink,
		clock:      config.Clock,
		verbose:    config.Verbose,
		logger:     logger,
	}
}

// PullObservations implements the Puller interface. One pass: fetch the
// catalog, then for every non-excluded sensor resolve the window start from
// its watermark (or the configured lookback on first run), dispatch one
// sub-task per 2-day window, and persist a new watermark taken from the
// sensor's catalog health field. Errors propagate and abort the remaining
// work; there is no partial-failure containment across sensors.
func (p *puller) PullObservations(ctx context.Context, integration *config.Integration) (*PullResult, error) {
	timer := prometheus.NewTimer(pullDuration)
	defer timer.ObserveDuration()

	authConfig, err := config.GetAuthConfig(integration)
	if err != nil {
		return nil, err
	}

	pullConfig, err := config.GetPullConfig(integration)
	if err != nil {
		return nil, err
	}

	catalog, err := p.client.GetConfigPacket(ctx, authConfig.Credentials())
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch catalog")
	}

	if len(catalog.Projects) == 0 {
		p.logger.Log("integration", integration.ID, "msg", "no projects found")
		return &PullResult{SensorsTriggered: 0}, nil
	}

	p.logger.Log("integration", integration.ID, "projects", len(catalog.Projects), "msg", "starting pull")

	now := p.clock.Now().UTC()
	triggered := 0

	for _, project := range catalog.Projects {
		for _, station := range project.Stations {
			stationInfo := config.StationInfo{
				Name:      station.Name,
				Latitude:  station.Latitude,
				Longitude: station.Longitude,
			}

			for _, sensor := range station.Sensors {
				if _, excluded := excludedSensors[sensor.Name]; excluded {
					sensorsExcludedCounter.Inc()
					continue
				}

				stored, err := p.store.GetState(integration.ID, config.ActionPullObservations, sensor.ID)
				if err != nil {
					return nil, errors.Wrap(err, "failed to read watermark")
				}

				var start time.Time
				if len(stored) == 0 {
					start = now.AddDate(0, 0, -pullConfig.Lookback())

					if p.verbose {
						p.logger.Log("sensor", sensor.ID, "lookback", pullConfig.Lookback(), "msg", "no watermark, using lookback")
					}
				} else {
					start, err = parseWatermark(stored["updated_at"])
					if err != nil {
						return nil, errors.Wrapf(err, "invalid watermark for sensor %s", sensor.ID)
					}

					if p.verbose {
						p.logger.Log("sensor", sensor.ID, "start", start.Format(time.RFC3339), "msg", "resuming from watermark")
					}
				}

				stop := p.clock.Now().UTC()

				for _, window := range Windows(start, stop, windowInterval) {
					task := snapshotTask(window, project.ID, stationInfo, sensor, catalog.Units)

					taskID, err := p.dispatcher.Trigger(integration.ID, config.ActionStationTask, task)
					if err != nil {
						return nil, errors.Wrapf(err, "failed to dispatch task for sensor %s", sensor.ID)
					}

					if p.verbose {
						p.logger.Log("sensor", sensor.ID, "task", taskID, "msg", "dispatched task")
					}

					triggered++
				}

				if err := p.saveWatermark(integration.ID, sensor); err != nil {
					return nil, err
				}
			}
		}
	}

	p.logger.Log("integration", integration.ID, "triggered", triggered, "msg", "pull complete")

	return &PullResult{SensorsTriggered: triggered}, nil
}

// saveWatermark persists the new watermark for a sensor, taken from its
// first channel's last_reading health field. The watermark comes from the
// catalog, not from fetched readings, so it advances even if a dispatched
// task later fails.
func (p *puller) saveWatermark(integrationID string, sensor stevens.Sensor) error {
	if len(sensor.Channels) == 0 || !sensor.Channels[0].Health.LastReading.Valid {
		p.logger.Log("sensor", sensor.ID, "msg", "no last_reading in catalog, watermark not advanced")
		return nil
	}

	value := watermarkValue(sensor.Channels[0].Health.LastReading.String)

	err := p.store.SetState(integrationID, config.ActionPullObservations, sensor.ID, state.State{
		"updated_at": value,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to write watermark for sensor %s", sensor.ID)
	}

	return nil
}

// ProcessStationTask implements the Puller interface.
func (p *puller) ProcessStationTask(ctx context.Context, integration *config.Integration, task *config.StationTask) (*StationResult, error) {
	timer := prometheus.NewTimer(stationDuration)
	defer timer.ObserveDuration()

	authConfig, err := config.GetAuthConfig(integration)
	if err != nil {
		return nil, err
	}

	groups, err := p.client.GetReadings(ctx, authConfig.Credentials(), task.ProjectID, task.Sensor.Channels, task.Start, task.Stop, task.Sensor.Name)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch readings")
	}

	if len(groups) == 0 {
		p.logger.Log("sensor", task.Sensor.Name, "msg", "no observations found")
		return &StationResult{ObservationsExtracted: 0}, nil
	}

	transformed := make([]sink.Observation, 0, len(groups))
	for _, group := range groups {
		if p.verbose {
			p.logger.Log("sensor", task.Sensor.Name, "timestamp", group.Timestamp.Format(time.RFC3339), "readings", len(group.Readings), "msg", "extracted readings")
		}

		transformed = append(transformed, transformObservation(task, group.Timestamp, group.Readings))
	}

	accepted := 0

	for i, batch := range batchObservations(transformed, batchSize) {
		p.logger.Log("sensor", task.Sensor.Name, "batch", i, "size", len(batch), "msg", "sending observations batch")

		n, err := p.sink.Send(ctx, batch, integration.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to forward batch %d", i)
		}

		observationsForwardedCounter.Add(float64(n))
		accepted += n
	}

	return &StationResult{ObservationsExtracted: accepted}, nil
}

// CheckCredentials implements the Puller interface. A 400 classification or
// an empty token reports invalid credentials; any other HTTP error response
// is reported with its status; transport failures propagate as errors.
func (p *puller) CheckCredentials(ctx context.Context, integration *config.Integration) (*AuthResult, error) {
	authConfig, err := config.GetAuthConfig(integration)
	if err != nil {
		return nil, err
	}

	token, err := p.client.Authenticate(ctx, authConfig.Credentials())
	if err != nil {
		if stevens.IsBadRequest(err) {
			return &AuthResult{ValidCredentials: false, StatusCode: 400, Message: "Bad credentials"}, nil
		}

		if apiErr, ok := errors.Cause(err).(*stevens.APIError); ok {
			return &AuthResult{Error: true, StatusCode: apiErr.StatusCode}, nil
		}

		return nil, err
	}

	if token == "" {
		p.logger.Log("integration", integration.ID, "msg", "authentication returned no token")
		return &AuthResult{ValidCredentials: false, Message: "Bad credentials"}, nil
	}

	return &AuthResult{ValidCredentials: true}, nil
}

// snapshotTask builds the immutable task snapshot for one window, copying
// the sensor channels and unit catalog so the task never references live
// catalog objects.
func snapshotTask(window Window, projectID string, station config.StationInfo, sensor stevens.Sensor, units []stevens.Unit) *config.StationTask {
	channels := make([]stevens.Channel, len(sensor.Channels))
	copy(channels, sensor.Channels)

	unitsCopy := make([]stevens.Unit, len(units))
	copy(unitsCopy, units)

	return &config.StationTask{
		Start:     window.Start,
		Stop:      window.Stop,
		ProjectID: projectID,
		Station:   station,
		Sensor: stevens.Sensor{
			ID:       sensor.ID,
			Name:     sensor.Name,
			Channels: channels,
		},
		Units: unitsCopy,
	}
}
