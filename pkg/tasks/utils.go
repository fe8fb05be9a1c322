package tasks

import (
	kitlog "github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/thingful/iotstevens/pkg/server"
	"github.com/thingful/iotstevens/pkg/state"
	"github.com/thingful/iotstevens/pkg/system"
)

// stateBackend combines the state store interface with the lifecycle and
// liveness methods both concrete backends expose.
type stateBackend interface {
	state.Store
	server.Pinger
	system.Startable
	system.Stoppable
}

// buildStore constructs the configured state store backend: redis when
// $IOTSTEVENS_REDIS_URL is set, postgres when $IOTSTEVENS_DATABASE_URL is
// set. Exactly one must be configured.
func buildStore(verbose bool, logger kitlog.Logger) (stateBackend, error) {
	redisURL := viper.GetString("redis-url")
	databaseURL := viper.GetString("database-url")

	switch {
	case redisURL != "" && databaseURL != "":
		return nil, errors.New("only one of $IOTSTEVENS_REDIS_URL and $IOTSTEVENS_DATABASE_URL may be set")
	case redisURL != "":
		return state.NewRedis(redisURL, verbose, logger), nil
	case databaseURL != "":
		return state.NewDB(databaseURL, verbose, logger), nil
	default:
		return nil, errors.New("Missing required environment variable: $IOTSTEVENS_REDIS_URL or $IOTSTEVENS_DATABASE_URL")
	}
}
