package state

import (
	"database/sql"
	"encoding/json"

	kitlog "github.com/go-kit/kit/log"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

// DB is a Store implementation backed by postgres. State entries are written
// as jsonb rows keyed by the (integration, action, source) triple.
type DB struct {
	connStr string
	verbose bool
	logger  kitlog.Logger
	db      *sqlx.DB
}

// NewDB returns a new postgres backed store instance.
func NewDB(connStr string, verbose bool, logger kitlog.Logger) *DB {
	logger = kitlog.With(logger, "module", "state")

	logger.Log("msg", "creating postgres state store")

	return &DB{
		connStr: connStr,
		verbose: verbose,
		logger:  logger,
	}
}

// Start creates the connection pool, verifies connectivity, and runs any
// outstanding migrations.
func (d *DB) Start() error {
	d.logger.Log("msg", "starting postgres state store")

	db, err := sqlx.Open("postgres", d.connStr)
	if err != nil {
		return errors.Wrap(err, "failed to open db connection")
	}

	err = db.Ping()
	if err != nil {
		return errors.Wrap(err, "failed to ping db")
	}

	d.db = db

	return MigrateUp(d.db.DB, d.logger)
}

// Stop closes the connection pool.
func (d *DB) Stop() error {
	d.logger.Log("msg", "stopping postgres state store")
	return d.db.Close()
}

// Ping verifies the db connection is still live.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// GetState is our implementation of the Store interface. Returns nil with no
// error when no row exists for the triple.
func (d *DB) GetState(integrationID, actionID, sourceID string) (State, error) {
	query := `SELECT state FROM integration_states
		WHERE integration_id = $1 AND action_id = $2 AND source_id = $3`

	if d.verbose {
		d.logger.Log("msg", "reading state", "key", BuildKey(integrationID, actionID, sourceID))
	}

	var raw []byte
	err := d.db.Get(&raw, query, integrationID, actionID, sourceID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read state from db")
	}

	var state State
	err = json.Unmarshal(raw, &state)
	if err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal state")
	}

	return state, nil
}

// SetState is our implementation of the Store interface, an upsert on the
// composite primary key.
func (d *DB) SetState(integrationID, actionID, sourceID string, state State) error {
	query := `INSERT INTO integration_states (integration_id, action_id, source_id, state, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (integration_id, action_id, source_id)
		DO UPDATE SET state = EXCLUDED.state, updated_at = now()`

	if d.verbose {
		d.logger.Log("msg", "writing state", "key", BuildKey(integrationID, actionID, sourceID))
	}

	raw, err := json.Marshal(state)
	if err != nil {
		return errors.Wrap(err, "failed to marshal state")
	}

	_, err = d.db.Exec(query, integrationID, actionID, sourceID, raw)
	if err != nil {
		return errors.Wrap(err, "failed to write state to db")
	}

	return nil
}
