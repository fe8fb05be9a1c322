package state

import (
	kitlog "github.com/go-kit/kit/log"
	rd "github.com/go-redis/redis"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack"
)

// Redis is a Store implementation backed by redis. State entries are written
// as msgpack encoded maps under the composite key.
type Redis struct {
	connStr string
	verbose bool
	logger  kitlog.Logger
	client  *rd.Client
}

// NewRedis returns a new redis backed store instance.
func NewRedis(connStr string, verbose bool, logger kitlog.Logger) *Redis {
	logger = kitlog.With(logger, "module", "state")

	logger.Log("msg", "creating redis state store")

	return &Redis{
		connStr: connStr,
		verbose: verbose,
		logger:  logger,
	}
}

// Start starts the redis client, verifying that we can connect to redis
func (r *Redis) Start() error {
	r.logger.Log("msg", "starting redis state store")

	opt, err := rd.ParseURL(r.connStr)
	if err != nil {
		return errors.Wrap(err, "failed to parse redis connection url")
	}

	client := rd.NewClient(opt)
	_, err = client.Ping().Result()
	if err != nil {
		return errors.Wrap(err, "failed to ping redis")
	}

	r.client = client

	return nil
}

// Stop the redis client
func (r *Redis) Stop() error {
	r.logger.Log("msg", "stopping redis state store")
	return r.client.Close()
}

// Ping verifies the connection to redis is still live.
func (r *Redis) Ping() error {
	_, err := r.client.Ping().Result()
	return err
}

// GetState is our implementation of the Store interface. Returns nil with no
// error when the key is absent, which the pipeline reads as "first run".
func (r *Redis) GetState(integrationID, actionID, sourceID string) (State, error) {
	key := BuildKey(integrationID, actionID, sourceID)

	if r.verbose {
		r.logger.Log("msg", "reading state", "key", key)
	}

	b, err := r.client.Get(key).Bytes()
	if err == rd.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read state from redis")
	}

	var state State
	err = msgpack.Unmarshal(b, &state)
	if err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal state")
	}

	return state, nil
}

// SetState is our implementation of the Store interface.
func (r *Redis) SetState(integrationID, actionID, sourceID string, state State) error {
	key := BuildKey(integrationID, actionID, sourceID)

	if r.verbose {
		r.logger.Log("msg", "writing state", "key", key)
	}

	b, err := msgpack.Marshal(state)
	if err != nil {
		return errors.Wrap(err, "failed to marshal state")
	}

	_, err = r.client.Set(key, b, 0).Result()
	if err != nil {
		return errors.Wrap(err, "failed to write state to redis")
	}

	return nil
}
