package tasks

import (
	"log"
	"strings"

	raven "github.com/getsentry/raven-go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/thingful/iotstevens/pkg/version"
)

func init() {
	viper.SetEnvPrefix("iotstevens")
	viper.AutomaticEnv()
	replacer := strings.NewReplacer("-", "_")
	viper.SetEnvKeyReplacer(replacer)
}

var rootCmd = &cobra.Command{
	Use:   version.BinaryName,
	Short: "Connector pulling weather station telemetry from Stevens Connect",
	Long: `This tool is a connector that pulls weather and sensor telemetry from the
Stevens Connect monitoring API, normalizes it into observation records, and
forwards them in batches to a downstream ingestion service.

Each pull enumerates the account's projects, stations and sensors, then pages
through time-windowed channel readings for every sensor, resuming from a
per-sensor watermark persisted in a state store (redis or postgres). The
per-station sub-tasks can be executed inline, or dispatched over an MQTT
broker to a separate worker process.
`,
	Version: version.VersionString(),
}

// Execute is our main entrypoint to the application
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		raven.CaptureErrorAndWait(err, nil)
		log.Fatal(err)
	}
}
