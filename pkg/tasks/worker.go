package tasks

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/thingful/iotstevens/pkg/clock"
	"github.com/thingful/iotstevens/pkg/config"
	"github.com/thingful/iotstevens/pkg/dispatch"
	"github.com/thingful/iotstevens/pkg/logger"
	"github.com/thingful/iotstevens/pkg/pipeline"
	"github.com/thingful/iotstevens/pkg/server"
	"github.com/thingful/iotstevens/pkg/sink"
	"github.com/thingful/iotstevens/pkg/stevens"
)

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.Flags().StringP("addr", "a", "0.0.0.0:8081", "Address to which the HTTP server binds")
	workerCmd.Flags().StringP("integration", "i", "", "Path to the integration definition file")
	workerCmd.Flags().StringP("sink", "s", "", "Address of the downstream ingestion service")
	workerCmd.Flags().StringP("broker", "b", "", "Address of the MQTT broker to subscribe to")
	workerCmd.Flags().Bool("verbose", false, "Enable verbose output")

	viper.BindPFlag("addr", workerCmd.Flags().Lookup("addr"))
	viper.BindPFlag("integration", workerCmd.Flags().Lookup("integration"))
	viper.BindPFlag("sink", workerCmd.Flags().Lookup("sink"))
	viper.BindPFlag("broker", workerCmd.Flags().Lookup("broker"))
	viper.BindPFlag("verbose", workerCmd.Flags().Lookup("verbose"))
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process dispatched per-station sub-tasks from a broker",
	Long: `
Subscribes to the broker for per-station-sensor sub-tasks dispatched by the
pull command, processing each into observation batches forwarded to the
downstream ingestion service.

Also exposes a health endpoint on /pulse and prometheus metrics on /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		integrationPath := viper.GetString("integration")
		if integrationPath == "" {
			return errors.New("Must provide an integration file")
		}

		sinkAddr := viper.GetString("sink")
		if sinkAddr == "" {
			return errors.New("Must provide a sink address")
		}

		broker := viper.GetString("broker")
		if broker == "" {
			return errors.New("Must provide a broker address")
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

		mq := dispatch.NewMQTT(broker, dispatch.NewConnector(), verbose, logger)
		if err := mq.Start(); err != nil {
			return err
		}
		defer mq.Stop()

		puller := pipeline.NewPuller(&pipeline.Config{
			Client:     client,
			Store:      store,
			Dispatcher: mq,
			Sink:       snk,
			Clock:      clock.New(),
			Verbose:    verbose,
		}, logger)

		handler := func(integrationID string, task *config.StationTask) error {
			_, err := puller.ProcessStationTask(context.Background(), integration, task)
			return err
		}

		if err := mq.Subscribe(integration.ID, config.ActionStationTask, handler); err != nil {
			return err
		}

		srv := server.NewServer(&server.Config{
			ListenAddr: viper.GetString("addr"),
			Pingers:    []server.Pinger{store},
		}, logger)

		return srv.Start()
	},
}
