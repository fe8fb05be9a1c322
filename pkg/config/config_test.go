package config_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thingful/iotstevens/pkg/config"
	"github.com/thingful/iotstevens/pkg/stevens"
)

func testIntegration() *config.Integration {
	return &config.Integration{
		ID: "int1",
		Configurations: []config.ActionConfig{
			{
				ActionID: config.ActionAuth,
				Data:     json.RawMessage(`{"email":"ops@example.com","password":"secret"}`),
			},
			{
				ActionID: config.ActionPullObservations,
				Data:     json.RawMessage(`{"default_lookback_days":10}`),
			},
		},
	}
}

func TestGetAuthConfig(t *testing.T) {
	auth, err := config.GetAuthConfig(testIntegration())
	assert.Nil(t, err)

	assert.Equal(t, stevens.Credentials{
		Email:    "ops@example.com",
		Password: "secret",
	}, auth.Credentials())
}

func TestGetAuthConfigMissing(t *testing.T) {
	_, err := config.GetAuthConfig(&config.Integration{ID: "int1"})
	assert.NotNil(t, err)
	assert.True(t, config.IsConfigurationNotFound(err))
	assert.Contains(t, err.Error(), "configuration for action 'auth' of integration int1")
}

func TestGetPullConfig(t *testing.T) {
	pull, err := config.GetPullConfig(testIntegration())
	assert.Nil(t, err)
	assert.Equal(t, 10, pull.Lookback())
}

func TestGetPullConfigMissing(t *testing.T) {
	_, err := config.GetPullConfig(&config.Integration{ID: "int1"})
	assert.NotNil(t, err)
	assert.True(t, config.IsConfigurationNotFound(err))
}

func TestLookbackClamping(t *testing.T) {
	testcases := []struct {
		label      string
		configured int
		expected   int
	}{
		{"zero falls back to default", 0, 7},
		{"below minimum clamps up", -3, 1},
		{"above maximum clamps down", 30, 15},
		{"in range passes through", 12, 12},
	}

	for _, tc := range testcases {
		t.Run(tc.label, func(t *testing.T) {
			pull := &config.PullObservationsConfig{DefaultLookbackDays: tc.configured}
			assert.Equal(t, tc.expected, pull.Lookback())
		})
	}
}

func TestResolve(t *testing.T) {
	integration := &config.Integration{ID: "int1"}
	assert.Equal(t, stevens.DefaultBaseURL, integration.Resolve())

	integration.BaseURL = "https://staging.example.com"
	assert.Equal(t, "https://staging.example.com", integration.Resolve())
}

func TestLoadIntegration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "integration.json")

	contents := []byte(`{
		"id": "int1",
		"base_url": "https://staging.example.com",
		"configurations": [
			{"action_id": "auth", "data": {"email": "ops@example.com", "password": "secret"}}
		]
	}`)

	err := os.WriteFile(path, contents, 0644)
	assert.Nil(t, err)

	integration, err := config.LoadIntegration(path)
	assert.Nil(t, err)
	assert.Equal(t, "int1", integration.ID)
	assert.Equal(t, "https://staging.example.com", integration.Resolve())
	assert.Len(t, integration.Configurations, 1)
}

func TestLoadIntegrationMissingID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "integration.json")

	err := os.WriteFile(path, []byte(`{"configurations": []}`), 0644)
	assert.Nil(t, err)

	_, err = config.LoadIntegration(path)
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "missing an id")
}

func TestLoadIntegrationMissingFile(t *testing.T) {
	_, err := config.LoadIntegration(filepath.Join(t.TempDir(), "nope.json"))
	assert.NotNil(t, err)
}
