package stevens_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	kitlog "github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"

	"github.com/thingful/iotstevens/pkg/stevens"
)

// newTestClient returns a client with retry delays shrunk so tests that
// exercise the retry path stay fast.
func newTestClient(baseURL string) stevens.Client {
	return stevens.NewClient(&stevens.Config{
		BaseURL:        baseURL,
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}, kitlog.NewNopLogger())
}

var creds = stevens.Credentials{Email: "ops@example.com", Password: "secret"}

func TestAuthenticate(t *testing.T) {
	attempts := 0

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++

		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/authenticate", r.URL.Path)

		var body stevens.Credentials
		assert.Nil(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, creds, body)

		fmt.Fprint(w, `{"data":{"token":"abc123"}}`)
	}))
	defer ts.Close()

	client := newTestClient(ts.URL)

	token, err := client.Authenticate(context.Background(), creds)
	assert.Nil(t, err)
	assert.Equal(t, "abc123", token)
	assert.Equal(t, 1, attempts)
}

func TestAuthenticateBadRequest(t *testing.T) {
	attempts := 0

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.Error(w, "bad credentials", http.StatusBadRequest)
	}))
	defer ts.Close()

	client := newTestClient(ts.URL)

	_, err := client.Authenticate(context.Background(), creds)
	assert.NotNil(t, err)
	assert.True(t, stevens.IsBadRequest(err))

	// 400 is never retried
	assert.Equal(t, 1, attempts)
}

func TestAuthenticateNotFound(t *testing.T) {
	attempts := 0

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.Error(w, "user not found", http.StatusNotFound)
	}))
	defer ts.Close()

	client := newTestClient(ts.URL)

	_, err := client.Authenticate(context.Background(), creds)
	assert.NotNil(t, err)
	assert.True(t, stevens.IsNotFound(err))
	assert.Equal(t, 1, attempts)
}

func TestAuthenticateRetriesTransientErrors(t *testing.T) {
	attempts := 0

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			http.Error(w, "upstream broken", http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"data":{"token":"abc123"}}`)
	}))
	defer ts.Close()

	client := newTestClient(ts.URL)

	token, err := client.Authenticate(context.Background(), creds)
	assert.Nil(t, err)
	assert.Equal(t, "abc123", token)
	assert.Equal(t, 2, attempts)
}

func TestAuthenticateEmptyEnvelope(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer ts.Close()

	client := newTestClient(ts.URL)

	// degenerate upstream response, the raw body is preserved and callers
	// treat it as invalid credentials
	token, err := client.Authenticate(context.Background(), creds)
	assert.Nil(t, err)
	assert.Equal(t, `{}`, token)
}

func catalogHandler(t *testing.T, authCalls, catalogCalls *int, failFirstWith int) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/authenticate", func(w http.ResponseWriter, r *http.Request) {
		*authCalls++
		fmt.Fprint(w, `{"data":{"token":"tok-1"}}`)
	})

	mux.HandleFunc("/config-packet", func(w http.ResponseWriter, r *http.Request) {
		*catalogCalls++

		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))

		if *catalogCalls == 1 && failFirstWith != 0 {
			http.Error(w, "denied", failFirstWith)
			return
		}

		fmt.Fprint(w, `{"data":{"config_packet":{
			"projects":[{"id":"p1","name":"Catchment","stations":[
				{"name":"River Station","latitude":51.5,"longitude":-0.12,"sensors":[
					{"id":"s1","name":"Hydromet","channels":[
						{"id":"11","name":"Water Temp","unit_id":"3","channel_health":{"health":98,"last_reading":"2024-01-04 10:00:00 (UTC)"}}
					]}
				]}
			]}],
			"units":[{"id":3,"name":"Celsius","unit":"C"}]
		}}}`)
	})

	return mux
}

func TestGetConfigPacket(t *testing.T) {
	var authCalls, catalogCalls int

	ts := httptest.NewServer(catalogHandler(t, &authCalls, &catalogCalls, 0))
	defer ts.Close()

	client := newTestClient(ts.URL)

	catalog, err := client.GetConfigPacket(context.Background(), creds)
	assert.Nil(t, err)
	assert.Len(t, catalog.Projects, 1)
	assert.Equal(t, "p1", catalog.Projects[0].ID)
	assert.Len(t, catalog.Projects[0].Stations, 1)
	assert.Equal(t, "River Station", catalog.Projects[0].Stations[0].Name)
	assert.Equal(t, "C", catalog.UnitSymbol("3"))
	assert.Equal(t, "", catalog.UnitSymbol("99"))

	// token is reacquired per call, not cached
	assert.Equal(t, 1, authCalls)
	assert.Equal(t, 1, catalogCalls)
}

func TestGetConfigPacketRetriesUnauthorized(t *testing.T) {
	var authCalls, catalogCalls int

	ts := httptest.NewServer(catalogHandler(t, &authCalls, &catalogCalls, http.StatusUnauthorized))
	defer ts.Close()

	client := newTestClient(ts.URL)

	catalog, err := client.GetConfigPacket(context.Background(), creds)
	assert.Nil(t, err)
	assert.Len(t, catalog.Projects, 1)

	// the retry reacquired a fresh token
	assert.Equal(t, 2, authCalls)
	assert.Equal(t, 2, catalogCalls)
}

func TestGetConfigPacketNotFound(t *testing.T) {
	var authCalls, catalogCalls int

	ts := httptest.NewServer(catalogHandler(t, &authCalls, &catalogCalls, http.StatusNotFound))
	defer ts.Close()

	client := newTestClient(ts.URL)

	_, err := client.GetConfigPacket(context.Background(), creds)
	assert.NotNil(t, err)
	assert.True(t, stevens.IsNotFound(err))
	assert.Equal(t, 1, catalogCalls)
}

var testChannels = []stevens.Channel{
	{ID: "11", Name: "Water Temp", UnitID: "3"},
	{ID: "12", Name: "Water Level", UnitID: "4"},
}

func readingsPage(channelReadings map[string][]string, lastPage int) string {
	readings := make(map[string][]map[string]interface{})
	for channelID, timestamps := range channelReadings {
		for i, ts := range timestamps {
			readings[channelID] = append(readings[channelID], map[string]interface{}{
				"channel_id": channelID,
				"reading":    float64(i) + 1.5,
				"timestamp":  ts,
			})
		}
	}

	b, _ := json.Marshal(map[string]interface{}{
		"data": map[string]interface{}{
			"readings": readings,
			"paging":   map[string]int{"last_page": lastPage},
		},
	})
	return string(b)
}

func TestGetReadingsSinglePage(t *testing.T) {
	pages := 0

	mux := http.NewServeMux()
	mux.HandleFunc("/authenticate", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"token":"tok-1"}}`)
	})
	mux.HandleFunc("/project/p1/readings/v3/channels", func(w http.ResponseWriter, r *http.Request) {
		pages++

		q := r.URL.Query()
		assert.Equal(t, "11,12", q.Get("channel_ids"))
		assert.Equal(t, "absolute", q.Get("range_type"))
		assert.Equal(t, "2024-01-01 00:00:00", q.Get("start_date"))
		assert.Equal(t, "2024-01-03 00:00:00", q.Get("end_date"))
		assert.Equal(t, "1", q.Get("page"))

		fmt.Fprint(w, readingsPage(map[string][]string{
			"11": {"2024-01-01 10:00:00", "2024-01-01 10:15:00"},
			"12": {"2024-01-01 10:00:00", "2024-01-01 10:15:00"},
		}, 1))
	})

	ts := httptest.NewServer(mux)
	defer ts.Close()

	client := newTestClient(ts.URL)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	stop := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)

	groups, err := client.GetReadings(context.Background(), creds, "p1", testChannels, start, stop, "Hydromet")
	assert.Nil(t, err)

	// last_page == current_page after page 1, so exactly one page is fetched
	assert.Equal(t, 1, pages)

	// two timestamps, each shared by both channels
	assert.Len(t, groups, 2)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), groups[0].Timestamp)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 15, 0, 0, time.UTC), groups[1].Timestamp)
	assert.Len(t, groups[0].Readings, 2)
	assert.Len(t, groups[1].Readings, 2)
}

func TestGetReadingsWalksAllPages(t *testing.T) {
	pages := 0

	mux := http.NewServeMux()
	mux.HandleFunc("/authenticate", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"token":"tok-1"}}`)
	})
	mux.HandleFunc("/project/p1/readings/v3/channels", func(w http.ResponseWriter, r *http.Request) {
		pages++
		assert.Equal(t, fmt.Sprintf("%d", pages), r.URL.Query().Get("page"))

		fmt.Fprint(w, readingsPage(map[string][]string{
			"11": {fmt.Sprintf("2024-01-01 10:%02d:00", pages)},
		}, 3))
	})

	ts := httptest.NewServer(mux)
	defer ts.Close()

	client := newTestClient(ts.URL)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	stop := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)

	groups, err := client.GetReadings(context.Background(), creds, "p1", testChannels, start, stop, "Hydromet")
	assert.Nil(t, err)
	assert.Equal(t, 3, pages)

	// grouped output holds every reading from every page
	total := 0
	for _, group := range groups {
		total += len(group.Readings)
	}
	assert.Equal(t, 3, total)
}

func TestGetReadingsPageCap(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/authenticate", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"token":"tok-1"}}`)
	})
	mux.HandleFunc("/project/p1/readings/v3/channels", func(w http.ResponseWriter, r *http.Request) {
		// upstream paging metadata that never converges
		fmt.Fprint(w, readingsPage(map[string][]string{
			"11": {"2024-01-01 10:00:00"},
		}, 100))
	})

	ts := httptest.NewServer(mux)
	defer ts.Close()

	client := stevens.NewClient(&stevens.Config{
		BaseURL:        ts.URL,
		MaxRetries:     1,
		MaxPages:       2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}, kitlog.NewNopLogger())

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	stop := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)

	_, err := client.GetReadings(context.Background(), creds, "p1", testChannels, start, stop, "Hydromet")
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "page limit exceeded")
}
