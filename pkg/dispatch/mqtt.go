package dispatch

import (
	"encoding/json"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"
	kitlog "github.com/go-kit/kit/log"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/thingful/iotstevens/pkg/config"
	"github.com/thingful/iotstevens/pkg/metrics"
)

var (
	// tasksDispatchedCounter is a prometheus counter recording the number of
	// sub-tasks published to the broker
	tasksDispatchedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "thingful",
			Subsystem: "stevens",
			Name:      "tasks_dispatched",
			Help:      "Count of sub-tasks published to the broker",
		},
	)

	// tasksReceivedCounter is a prometheus counter recording the number of
	// sub-tasks received by a worker subscription
	tasksReceivedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "thingful",
			Subsystem: "stevens",
			Name:      "tasks_received",
			Help:      "Count of sub-tasks received from the broker",
		},
	)
)

func init() {
	metrics.MustRegister(tasksDispatchedCounter)
	metrics.MustRegister(tasksReceivedCounter)
}

// taskEnvelope is the wire shape of a dispatched task.
type taskEnvelope struct {
	TaskID        string              `json:"task_id"`
	IntegrationID string              `json:"integration_id"`
	Action        string              `json:"action"`
	Task          *config.StationTask `json:"task"`
}

// MQTT is a Dispatcher that publishes tasks to an MQTT broker, and on the
// worker side subscribes for them. Connections are created lazily via the
// injected Connector and reused.
type MQTT struct {
	broker    string
	connector Connector
	verbose   bool
	logger    kitlog.Logger

	sync.RWMutex
	client paho.Client
}

// NewMQTT returns a broker backed dispatcher.
func NewMQTT(broker string, connector Connector, verbose bool, logger kitlog.Logger) *MQTT {
	logger = kitlog.With(logger, "module", "dispatch")

	logger.Log("msg", "creating mqtt dispatcher", "broker", broker)

	return &MQTT{
		broker:    broker,
		connector: connector,
		verbose:   verbose,
		logger:    logger,
	}
}

// Start connects to the configured broker.
func (m *MQTT) Start() error {
	m.logger.Log("msg", "starting mqtt dispatcher")

	client, err := m.connector.Connect(m.broker, m.logger)
	if err != nil {
		return errors.Wrap(err, "failed to connect to broker")
	}

	m.Lock()
	m.client = client
	m.Unlock()

	return nil
}

// Stop disconnects from the broker.
func (m *MQTT) Stop() error {
	m.logger.Log("msg", "stopping mqtt dispatcher")

	m.Lock()
	defer m.Unlock()

	if m.client != nil {
		m.client.Disconnect(500)
		m.client = nil
	}

	return nil
}

// Trigger is our implementation of the Dispatcher interface. The task
// envelope is published with QoS 1 so a listening worker receives it at
// least once.
func (m *MQTT) Trigger(integrationID, action string, task *config.StationTask) (string, error) {
	m.RLock()
	client := m.client
	m.RUnlock()

	if client == nil {
		return "", errors.New("mqtt dispatcher is not started")
	}

	taskID := uuid.New().String()

	payload, err := json.Marshal(&taskEnvelope{
		TaskID:        taskID,
		IntegrationID: integrationID,
		Action:        action,
		Task:          task,
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal task envelope")
	}

	topic := TopicName(integrationID, action)

	if m.verbose {
		m.logger.Log("topic", topic, "task", taskID, "msg", "publishing task")
	}

	if token := client.Publish(topic, 1, false, payload); token.Wait() && token.Error() != nil {
		return "", errors.Wrap(token.Error(), "failed to publish task")
	}

	tasksDispatchedCounter.Inc()

	return taskID, nil
}

// Subscribe registers the given handler for tasks dispatched to the named
// integration and action. Handler errors are logged, not propagated; the
// task's own failure semantics live in the handler.
func (m *MQTT) Subscribe(integrationID, action string, handler Handler) error {
	m.RLock()
	client := m.client
	m.RUnlock()

	if client == nil {
		return errors.New("mqtt dispatcher is not started")
	}

	topic := TopicName(integrationID, action)

	m.logger.Log("topic", topic, "msg", "subscribing")

	var messageHandler paho.MessageHandler = func(client paho.Client, message paho.Message) {
		tasksReceivedCounter.Inc()

		var env taskEnvelope
		if err := json.Unmarshal(message.Payload(), &env); err != nil {
			m.logger.Log("err", err, "topic", message.Topic(), "msg", "failed to unmarshal task envelope")
			return
		}

		if m.verbose {
			m.logger.Log("task", env.TaskID, "sensor", env.Task.Sensor.Name, "msg", "processing task")
		}

		if err := handler(env.IntegrationID, env.Task); err != nil {
			m.logger.Log("err", err, "task", env.TaskID, "msg", "failed to process task")
		}
	}

	if token := client.Subscribe(topic, 1, messageHandler); token.Wait() && token.Error() != nil {
		return errors.Wrap(token.Error(), "failed to subscribe")
	}

	return nil
}
