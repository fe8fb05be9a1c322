package tasks

import (
	"context"
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/thingful/iotstevens/pkg/clock"
	"github.com/thingful/iotstevens/pkg/config"
	"github.com/thingful/iotstevens/pkg/logger"
	"github.com/thingful/iotstevens/pkg/pipeline"
	"github.com/thingful/iotstevens/pkg/stevens"
)

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringP("integration", "i", "", "Path to the integration definition file")
	checkCmd.Flags().Bool("verbose", false, "Enable verbose output")

	viper.BindPFlag("integration", checkCmd.Flags().Lookup("integration"))
	viper.BindPFlag("verbose", checkCmd.Flags().Lookup("verbose"))
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate an integration's stored credentials",
	Long: `
Validates the integration's stored Stevens Connect credentials by attempting
to obtain a token. Reports invalid credentials as a result rather than an
error so the outcome can be surfaced to the operator.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		integrationPath := viper.GetString("integration")
		if integrationPath == "" {
			return errors.New("Must provide an integration file")
		}

		verbose := viper.GetBool("verbose")

		logger := logger.NewLogger()

		integration, err := config.LoadIntegration(integrationPath)
		if err != nil {
			return err
		}

		client := stevens.NewClient(&stevens.Config{
			BaseURL: integration.Resolve(),
			Verbose: verbose,
		}, logger)

		puller := pipeline.NewPuller(&pipeline.Config{
			Client:  client,
			Clock:   clock.New(),
			Verbose: verbose,
		}, logger)

		result, err := puller.CheckCredentials(context.Background(), integration)
		if err != nil {
			return err
		}

		return json.NewEncoder(os.Stdout).Encode(result)
	},
}
