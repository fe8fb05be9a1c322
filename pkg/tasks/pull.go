package tasks

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/thingful/iotstevens/pkg/clock"
	"github.com/thingful/iotstevens/pkg/config"
	"github.com/thingful/iotstevens/pkg/dispatch"
	"github.com/thingful/iotstevens/pkg/logger"
	"github.com/thingful/iotstevens/pkg/pipeline"
	"github.com/thingful/iotstevens/pkg/sink"
	"github.com/thingful/iotstevens/pkg/stevens"
)

func init() {
	rootCmd.AddCommand(pullCmd)
	pullCmd.Flags().StringP("integration", "i", "", "Path to the integration definition file")
	pullCmd.Flags().StringP("sink", "s", "", "Address of the downstream ingestion service")
	pullCmd.Flags().StringP("broker", "b", "", "Address of an MQTT broker for async task dispatch (optional)")
	pullCmd.Flags().Bool("verbose", false, "Enable verbose output")

	viper.BindPFlag("integration", pullCmd.Flags().Lookup("integration"))
	viper.BindPFlag("sink", pullCmd.Flags().Lookup("sink"))
	viper.BindPFlag("broker", pullCmd.Flags().Lookup("broker"))
	viper.BindPFlag("verbose", pullCmd.Flags().Lookup("verbose"))
}

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Run one pull_observations pass for an integration",
	Long: `
Runs a single top level pull for the given integration: fetches the catalog,
resolves each sensor's watermark, dispatches one sub-task per pull window and
persists the updated watermarks.

Without a broker address the per-station sub-tasks run inline; with one they
are published to the broker for a separate worker process to pick up.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		integrationPath := viper.GetString("integration")
		if integrationPath == "" {
			return errors.New("Must provide an integration file")
		}

		sinkAddr := viper.GetString("sink")
		if sinkAddr == "" {
			return errors.New("Must provide a sink address")
		}

		verbose := viper.GetBool("verbose")

		logger := logger.NewLogger()

		integration, err := config.LoadIntegration(integrationPath)
		if err != nil {
			return err
		}

		store, err := buildStore(verbose, logger)
		if err != nil {
			return err
		}

		if err := store.Start(); err != nil {
			return errors.Wrap(err, "failed to start state store")
		}
		defer store.Stop()

		client := stevens.NewClient(&stevens.Config{
			BaseURL: integration.Resolve(),
			Verbose: verbose,
		}, logger)

		snk := sink.NewHTTP(sinkAddr, 30*time.Second, logger)

		// the inline dispatcher needs the puller, which needs the dispatcher,
		// so the handler resolves the puller late
		var puller pipeline.Puller

		handler := func(integrationID string, task *config.StationTask) error {
			_, err := puller.ProcessStationTask(context.Background(), integration, task)
			return err
		}

		var dispatcher dispatch.Dispatcher

		if broker := viper.GetString("broker"); broker != "" {
			mq := dispatch.NewMQTT(broker, dispatch.NewConnector(), verbose, logger)
			if err := mq.Start(); err != nil {
				return err
			}
			defer mq.Stop()
			dispatcher = mq
		} else {
			dispatcher = dispatch.NewInline(handler, logger)
		}

		puller = pipeline.NewPuller(&pipeline.Config{
			Client:     client,
			Store:      store,
			Dispatcher: dispatcher,
			Sink:       snk,
			Clock:      clock.New(),
			Verbose:    verbose,
		}, logger)

		result, err := puller.PullObservations(context.Background(), integration)
		if err != nil {
			return err
		}

		return json.NewEncoder(os.Stdout).Encode(result)
	},
}
