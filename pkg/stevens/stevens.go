package stevens

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	kitlog "github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"

	"github.com/thingful/iotstevens/pkg/metrics"
)

const (
	// DefaultBaseURL is the production Stevens Connect API address, used
	// whenever an integration does not override it.
	DefaultBaseURL = "https://api.stevens-connect.com"

	// DefaultTimeout is the per-call HTTP timeout.
	DefaultTimeout = 120 * time.Second

	// DefaultMaxRetries caps retry attempts for a single logical call.
	DefaultMaxRetries = 8

	// DefaultMaxPages caps the paginated reading walk so that upstream paging
	// metadata that never converges cannot loop us forever.
	DefaultMaxPages = 1000

	// initialBackoff is the first retry delay; subsequent delays grow
	// exponentially with jitter up to maxBackoff.
	initialBackoff = 4 * time.Second
	maxBackoff     = 32 * time.Second

	// wireTimeFormat is how the readings endpoint expects window boundaries:
	// a wall-clock string with the zone dropped at the wire boundary.
	wireTimeFormat = "2006-01-02 15:04:05"
)

var (
	// requestDuration is a prometheus histogram recording durations of calls
	// to the Stevens Connect API.
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "thingful",
			Subsystem: "stevens",
			Name:      "request_duration_seconds",
			Help:      "Duration distribution of Stevens Connect API calls",
		}, []string{"endpoint"},
	)

	// apiErrorCounter is a prometheus counter recording a count of error
	// responses received from the Stevens Connect API.
	apiErrorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "thingful",
			Subsystem: "stevens",
			Name:      "api_errors",
			Help:      "Count of error responses from the Stevens Connect API",
		}, []string{"endpoint"},
	)
)

func init() {
	metrics.MustRegister(requestDuration)
	metrics.MustRegister(apiErrorCounter)
}

// Client is our interface to the Stevens Connect API. It is defined as an
// interface so the pipeline can be tested against a mock implementation.
type Client interface {
	// Authenticate exchanges credentials for a bearer token. Tokens are not
	// cached; every pipeline stage reacquires one.
	Authenticate(ctx context.Context, creds Credentials) (string, error)

	// GetConfigPacket retrieves the full project/station/sensor/channel/unit
	// catalog for the account identified by the credentials.
	GetConfigPacket(ctx context.Context, creds Credentials) (*Catalog, error)

	// GetReadings retrieves all readings for the given channels over the
	// [start, stop) window, walking every page, and returns them grouped by
	// exact timestamp in first-seen order.
	GetReadings(ctx context.Context, creds Credentials, projectID string, channels []Channel, start, stop time.Time, sensorName string) ([]ReadingGroup, error)
}

// Config carries the tunable settings for a client. Zero values are replaced
// with the defaults above.
type Config struct {
	BaseURL        string
	Timeout        time.Duration
	MaxRetries     uint64
	MaxPages       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Verbose        bool
}

// client is our concrete implementation of the Client interface.
type client struct {
	baseURL        string
	http           *http.Client
	breaker        *gobreaker.CircuitBreaker
	maxRetries     uint64
	maxPages       int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	verbose        bool
	logger         kitlog.Logger
}

// NewClient returns a Client ready for use against the given base URL. The
// circuit breaker protects the upstream API when it is persistently failing;
// an open circuit surfaces immediately as a transport error.
func NewClient(config *Config, logger kitlog.Logger) Client {
	logger = kitlog.With(logger, "module", "stevens")

	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	if config.MaxPages == 0 {
		config.MaxPages = DefaultMaxPages
	}
	if config.InitialBackoff == 0 {
		config.InitialBackoff = initialBackoff
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = maxBackoff
	}

	logger.Log("msg", "creating stevens client", "baseURL", config.BaseURL)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "stevens-connect",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	return &client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		http: &http.Client{
			Timeout: config.Timeout,
		},
		breaker:        breaker,
		maxRetries:     config.MaxRetries,
		maxPages:       config.MaxPages,
		initialBackoff: config.InitialBackoff,
		maxBackoff:     config.MaxBackoff,
		verbose:        config.Verbose,
		logger:         logger,
	}
}

// Authenticate implements the Client interface. Retried on any transport
// error, but a 400 or 404 classification is surfaced immediately. On success
// returns the token from the response envelope; if the envelope is empty we
// return the raw response body, which callers treat as invalid credentials.
func (c *client) Authenticate(ctx context.Context, creds Credentials) (string, error) {
	if c.verbose {
		c.logger.Log("msg", "authenticating", "email", creds.Email)
	}

	var token string

	err := c.withRetry(ctx, isTransient, func() error {
		body, err := json.Marshal(creds)
		if err != nil {
			return errors.Wrap(err, "failed to marshal credentials")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/authenticate", bytes.NewReader(body))
		if err != nil {
			return errors.Wrap(err, "failed to build authenticate request")
		}
		req.Header.Set("Content-Type", "application/json")

		respBody, err := c.do(req, "authenticate")
		if err != nil {
			return err
		}

		var env envelope
		if err := json.Unmarshal(respBody, &env); err != nil || !env.hasData() {
			// degenerate upstream response - hand the raw body back, callers
			// treat a non-token string as invalid credentials
			token = string(respBody)
			return nil
		}

		var data tokenData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return errors.Wrap(err, "failed to unmarshal token envelope")
		}

		token = data.Token
		return nil
	})
	if err != nil {
		return "", err
	}

	return token, nil
}

// GetConfigPacket implements the Client interface. A fresh token is obtained
// on every attempt, so a retry caused by a 401 self-heals.
func (c *client) GetConfigPacket(ctx context.Context, creds Credentials) (*Catalog, error) {
	var catalog Catalog

	err := c.withRetry(ctx, IsUnauthorized, func() error {
		token, err := c.Authenticate(ctx, creds)
		if err != nil {
			return err
		}

		if c.verbose {
			c.logger.Log("msg", "fetching config packet", "email", creds.Email)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/config-packet", nil)
		if err != nil {
			return errors.Wrap(err, "failed to build config packet request")
		}
		req.Header.Set("Authorization", "Bearer "+token)

		respBody, err := c.do(req, "config-packet")
		if err != nil {
			return err
		}

		var env envelope
		if err := json.Unmarshal(respBody, &env); err != nil {
			return errors.Wrap(err, "failed to unmarshal config packet envelope")
		}
		if !env.hasData() {
			return errors.New("config packet response missing data")
		}

		var data configPacketData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return errors.Wrap(err, "failed to unmarshal config packet")
		}

		catalog = data.ConfigPacket
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &catalog, nil
}

// GetReadings implements the Client interface. The whole paginated walk runs
// inside a single retry attempt so a mid-walk 401 restarts with a fresh
// token.
func (c *client) GetReadings(ctx context.Context, creds Credentials, projectID string, channels []Channel, start, stop time.Time, sensorName string) ([]ReadingGroup, error) {
	channelIDs := make([]string, 0, len(channels))
	for _, channel := range channels {
		channelIDs = append(channelIDs, channel.ID)
	}

	var groups []ReadingGroup

	err := c.withRetry(ctx, IsUnauthorized, func() error {
		token, err := c.Authenticate(ctx, creds)
		if err != nil {
			return err
		}

		params := url.Values{}
		params.Set("channel_ids", strings.Join(channelIDs, ","))
		params.Set("range_type", "absolute")
		params.Set("start_date", start.UTC().Format(wireTimeFormat))
		params.Set("end_date", stop.UTC().Format(wireTimeFormat))

		var all []Reading

		for page := 1; ; page++ {
			if page > c.maxPages {
				return errors.Wrapf(ErrTooManyPages, "aborted after %d pages for sensor %q", c.maxPages, sensorName)
			}

			params.Set("page", strconv.Itoa(page))

			if c.verbose {
				c.logger.Log("msg", "fetching readings page", "sensor", sensorName, "page", page)
			}

			endpoint := c.baseURL + "/project/" + projectID + "/readings/v3/channels?" + params.Encode()

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
			if err != nil {
				return errors.Wrap(err, "failed to build readings request")
			}
			req.Header.Set("Authorization", "Bearer "+token)

			respBody, err := c.do(req, "readings")
			if err != nil {
				return err
			}

			var env envelope
			if err := json.Unmarshal(respBody, &env); err != nil {
				return errors.Wrap(err, "failed to unmarshal readings envelope")
			}
			if !env.hasData() {
				return errors.New("readings response missing data")
			}

			var data readingsData
			if err := json.Unmarshal(env.Data, &data); err != nil {
				return errors.Wrap(err, "failed to unmarshal readings")
			}

			// flatten in sorted channel order so grouping is deterministic
			keys := make([]string, 0, len(data.Readings))
			for key := range data.Readings {
				keys = append(keys, key)
			}
			sort.Strings(keys)

			for _, key := range keys {
				all = append(all, data.Readings[key]...)
			}

			if data.Paging.LastPage <= page {
				break
			}
		}

		groups = groupByTimestamp(all)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return groups, nil
}

// groupByTimestamp collects readings sharing an exact timestamp into groups
// ordered by first-seen timestamp.
func groupByTimestamp(readings []Reading) []ReadingGroup {
	index := make(map[time.Time]int)
	var groups []ReadingGroup

	for _, reading := range readings {
		ts := reading.Timestamp.Time
		if i, ok := index[ts]; ok {
			groups[i].Readings = append(groups[i].Readings, reading)
		} else {
			index[ts] = len(groups)
			groups = append(groups, ReadingGroup{
				Timestamp: ts,
				Readings:  []Reading{reading},
			})
		}
	}

	return groups
}

// do executes a single HTTP request through the circuit breaker, returning
// the response body or a classified error for any non-2xx status.
func (c *client) do(req *http.Request, endpoint string) ([]byte, error) {
	timer := prometheus.NewTimer(requestDuration.WithLabelValues(endpoint))
	defer timer.ObserveDuration()

	result, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, errors.Wrap(err, "request failed")
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read response body")
		}

		if resp.StatusCode >= 400 {
			return nil, classifyStatus(resp.StatusCode, body)
		}

		return body, nil
	})
	if err != nil {
		apiErrorCounter.WithLabelValues(endpoint).Inc()

		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, errors.Wrap(err, "circuit breaker rejected request")
		}
		return nil, err
	}

	return result.([]byte), nil
}

// withRetry runs fn with a jittered exponential backoff schedule, retrying
// only errors the retryable predicate accepts, up to the configured attempt
// cap. All other errors are surfaced immediately.
func (c *client) withRetry(ctx context.Context, retryable func(error) bool, fn func() error) error {
	operation := func() error {
		err := fn()
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.initialBackoff
	policy.MaxInterval = c.maxBackoff
	policy.MaxElapsedTime = 0

	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, c.maxRetries), ctx))
}

// isTransient is the retry predicate for authentication calls: anything goes
// except the explicitly non-retryable classifications.
func isTransient(err error) bool {
	return !IsBadRequest(err) && !IsNotFound(err)
}
