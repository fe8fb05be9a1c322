package dispatch

import (
	kitlog "github.com/go-kit/kit/log"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/thingful/iotstevens/pkg/config"
)

// Inline is a Dispatcher that executes each sub-task synchronously in
// process, for deployments without a broker. Task failures propagate to the
// caller, aborting the run, which matches the pipeline's failure semantics
// when no async boundary exists.
type Inline struct {
	handler Handler
	logger  kitlog.Logger
}

// NewInline returns a dispatcher running tasks through the given handler.
func NewInline(handler Handler, logger kitlog.Logger) *Inline {
	logger = kitlog.With(logger, "module", "dispatch")

	logger.Log("msg", "creating inline dispatcher")

	return &Inline{
		handler: handler,
		logger:  logger,
	}
}

// Trigger is our implementation of the Dispatcher interface.
func (i *Inline) Trigger(integrationID, action string, task *config.StationTask) (string, error) {
	taskID := uuid.New().String()

	if err := i.handler(integrationID, task); err != nil {
		return "", errors.Wrapf(err, "inline task %s failed", taskID)
	}

	return taskID, nil
}
