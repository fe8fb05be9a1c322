package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	kitlog "github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/thingful/iotstevens/pkg/metrics"
)

var (
	// sinkErrorCounter is a prometheus counter recording a count of any errors
	// that occur when forwarding observations downstream
	sinkErrorCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "thingful",
			Subsystem: "stevens",
			Name:      "sink_errors",
			Help:      "Count of errors forwarding observations to the sink",
		},
	)

	// sinkWriteHistogram is a prometheus histogram recording successful writes
	// to the sink. We use the default bucket distributions.
	sinkWriteHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "thingful",
			Subsystem: "stevens",
			Name:      "sink_writes",
			Help:      "Sink write duration distribution",
		},
	)
)

func init() {
	metrics.MustRegister(sinkErrorCounter)
	metrics.MustRegister(sinkWriteHistogram)
}

// Location is the geolocation attached to an observation, taken from the
// station snapshot.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Observation is one normalized, timestamped record combining all channel
// readings for a sensor at a single instant, in the shape the downstream
// ingestion service accepts.
type Observation struct {
	SourceName string            `json:"source_name"`
	Source     string            `json:"source"`
	Type       string            `json:"type"`
	Subtype    string            `json:"subtype"`
	RecordedAt time.Time         `json:"recorded_at"`
	Location   Location          `json:"location"`
	Additional map[string]string `json:"additional"`
}

// Sink is our interface for the downstream ingestion service. Send forwards
// one batch and returns the number of observations the service accepted.
type Sink interface {
	Send(ctx context.Context, observations []Observation, integrationID string) (int, error)
}

// batchRequest is the wire shape of one forwarded batch.
type batchRequest struct {
	IntegrationID string        `json:"integration_id"`
	Observations  []Observation `json:"observations"`
}

// HTTP is our concrete Sink implementation, posting JSON batches to the
// ingestion service.
type HTTP struct {
	addr   string
	client *http.Client
	logger kitlog.Logger
}

// NewHTTP returns a Sink posting batches to the given address.
func NewHTTP(addr string, timeout time.Duration, logger kitlog.Logger) *HTTP {
	logger = kitlog.With(logger, "module", "sink")

	logger.Log("msg", "creating sink client", "addr", addr)

	return &HTTP{
		addr: addr,
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Send implements the Sink interface. The ingestion service responds with a
// JSON array containing one element per accepted observation; we return its
// length.
func (h *HTTP) Send(ctx context.Context, observations []Observation, integrationID string) (int, error) {
	timer := prometheus.NewTimer(sinkWriteHistogram)
	defer timer.ObserveDuration()

	body, err := json.Marshal(&batchRequest{
		IntegrationID: integrationID,
		Observations:  observations,
	})
	if err != nil {
		return 0, errors.Wrap(err, "failed to marshal observation batch")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.addr+"/observations", bytes.NewReader(body))
	if err != nil {
		return 0, errors.Wrap(err, "failed to build sink request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		sinkErrorCounter.Inc()
		return 0, errors.Wrap(err, "failed to post observation batch")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		sinkErrorCounter.Inc()
		return 0, errors.Wrap(err, "failed to read sink response")
	}

	if resp.StatusCode >= 400 {
		sinkErrorCounter.Inc()
		return 0, errors.Errorf("sink returned status %d: %s", resp.StatusCode, respBody)
	}

	var accepted []json.RawMessage
	if err := json.Unmarshal(respBody, &accepted); err != nil {
		return 0, errors.Wrap(err, "failed to unmarshal sink response")
	}

	return len(accepted), nil
}
