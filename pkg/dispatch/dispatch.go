package dispatch

import (
	"github.com/thingful/iotstevens/pkg/config"
)

// Dispatcher is our interface for triggering per-station-sensor sub-tasks.
// The pipeline dispatches tasks through this interface and places no ordering
// guarantee across tasks for different sensors; an implementation may run
// them concurrently, later, or on another process entirely.
type Dispatcher interface {
	// Trigger dispatches one sub-task for the named action, returning an
	// opaque task id.
	Trigger(integrationID, action string, task *config.StationTask) (string, error)
}

// Handler is the function a worker registers to execute dispatched tasks.
type Handler func(integrationID string, task *config.StationTask) error

// TopicName returns the MQTT topic on which tasks for the given integration
// and action are published.
func TopicName(integrationID, action string) string {
	return "iotstevens/" + integrationID + "/" + action
}
