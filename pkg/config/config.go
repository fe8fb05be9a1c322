package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/thingful/iotstevens/pkg/stevens"
)

const (
	// ActionAuth is the action id under which an integration stores its
	// Stevens Connect credentials.
	ActionAuth = "auth"

	// ActionPullObservations is the action id for the top level pull, also
	// used as the watermark action key in the state store.
	ActionPullObservations = "pull_observations"

	// ActionStationTask is the action id for the dispatched per-station-sensor
	// sub-task.
	ActionStationTask = "pull_sensor_observations_per_station"

	// DefaultLookbackDays is used on a sensor's first run, when no watermark
	// exists yet.
	DefaultLookbackDays = 7

	// MinLookbackDays and MaxLookbackDays bound the configurable lookback.
	MinLookbackDays = 1
	MaxLookbackDays = 15
)

// ConfigurationNotFoundError is returned when an integration is missing the
// stored configuration for an action. The message points the operator at the
// integration setup.
type ConfigurationNotFoundError struct {
	IntegrationID string
	ActionID      string
}

// Error implements the error interface.
func (e *ConfigurationNotFoundError) Error() string {
	return "configuration for action '" + e.ActionID + "' of integration " + e.IntegrationID +
		" is missing. Please fix the integration setup in the portal."
}

// IsConfigurationNotFound reports whether the given error means an action
// configuration was absent.
func IsConfigurationNotFound(err error) bool {
	_, ok := errors.Cause(err).(*ConfigurationNotFoundError)
	return ok
}

// ActionConfig is one stored configuration blob for a named action.
type ActionConfig struct {
	ActionID string          `json:"action_id"`
	Data     json.RawMessage `json:"data"`
}

// Integration identifies one configured Stevens Connect account, together
// with the stored configuration list for its actions.
type Integration struct {
	ID             string         `json:"id"`
	BaseURL        string         `json:"base_url"`
	Configurations []ActionConfig `json:"configurations"`
}

// Resolve returns the base URL to use for this integration, falling back to
// the production Stevens Connect address.
func (i *Integration) Resolve() string {
	if i.BaseURL != "" {
		return i.BaseURL
	}
	return stevens.DefaultBaseURL
}

// AuthenticateConfig holds the credentials for an integration.
type AuthenticateConfig struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Credentials converts the config into the client credential type.
func (a *AuthenticateConfig) Credentials() stevens.Credentials {
	return stevens.Credentials{
		Email:    a.Email,
		Password: a.Password,
	}
}

// PullObservationsConfig holds the settings of the top level pull action.
type PullObservationsConfig struct {
	DefaultLookbackDays int `json:"default_lookback_days"`
}

// Lookback returns the configured lookback in days, defaulted and clamped to
// the allowed range.
func (p *PullObservationsConfig) Lookback() int {
	days := p.DefaultLookbackDays
	if days == 0 {
		days = DefaultLookbackDays
	}
	if days < MinLookbackDays {
		days = MinLookbackDays
	}
	if days > MaxLookbackDays {
		days = MaxLookbackDays
	}
	return days
}

// StationInfo is the point-in-time station snapshot carried on a dispatched
// task.
type StationInfo struct {
	Name      string  `json:"station_name"`
	Latitude  float64 `json:"station_latitude"`
	Longitude float64 `json:"station_longitude"`
}

// StationTask is the immutable snapshot describing one per-station-sensor
// sub-task. It must not reference live catalog objects as the task may
// execute later on another process, so the sensor and unit data are copies.
type StationTask struct {
	Start     time.Time       `json:"start"`
	Stop      time.Time       `json:"stop"`
	ProjectID string          `json:"project_id"`
	Station   StationInfo     `json:"station"`
	Sensor    stevens.Sensor  `json:"sensor"`
	Units     []stevens.Unit  `json:"units"`
}

// GetAuthConfig resolves the credentials config for an integration, required
// by every action.
func GetAuthConfig(integration *Integration) (*AuthenticateConfig, error) {
	raw := findConfigForAction(integration.Configurations, ActionAuth)
	if raw == nil {
		return nil, &ConfigurationNotFoundError{IntegrationID: integration.ID, ActionID: ActionAuth}
	}

	var auth AuthenticateConfig
	if err := json.Unmarshal(raw.Data, &auth); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal auth configuration")
	}

	return &auth, nil
}

// GetPullConfig resolves the pull_observations config for an integration.
func GetPullConfig(integration *Integration) (*PullObservationsConfig, error) {
	raw := findConfigForAction(integration.Configurations, ActionPullObservations)
	if raw == nil {
		return nil, &ConfigurationNotFoundError{IntegrationID: integration.ID, ActionID: ActionPullObservations}
	}

	var pull PullObservationsConfig
	if err := json.Unmarshal(raw.Data, &pull); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal pull configuration")
	}

	return &pull, nil
}

// LoadIntegration reads an integration definition from a JSON file on disk.
func LoadIntegration(path string) (*Integration, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read integration file")
	}

	var integration Integration
	if err := json.Unmarshal(b, &integration); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal integration file")
	}

	if integration.ID == "" {
		return nil, errors.New("integration file is missing an id")
	}

	return &integration, nil
}

// findConfigForAction returns the stored config for the given action id, or
// nil when absent.
func findConfigForAction(configurations []ActionConfig, actionID string) *ActionConfig {
	for i := range configurations {
		if configurations[i].ActionID == actionID {
			return &configurations[i]
		}
	}
	return nil
}
