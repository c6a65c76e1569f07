package ngsi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webservice-io/internal/core/health"
	"webservice-io/internal/core/webservices"
)

type recorded struct {
	Method  string
	URI     string
	Header  http.Header
	Payload map[string]any
}

// fakeBroker records requests and answers with the configured status.
type fakeBroker struct {
	mu       sync.Mutex
	requests []recorded
	status   map[string]int
	location string
}

func (b *fakeBroker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	rec := recorded{Method: r.Method, URI: r.URL.RequestURI(), Header: r.Header.Clone()}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &rec.Payload)
	}

	b.mu.Lock()
	b.requests = append(b.requests, rec)
	status, ok := b.status[r.Method+" "+r.URL.Path]
	b.mu.Unlock()

	if !ok {
		status = http.StatusNoContent
		if r.Method == http.MethodPost && r.URL.Path == "/v2/registrations" {
			status = http.StatusCreated
		}
	}
	if loc := b.location; loc != "" {
		w.Header().Set("Location", loc)
	}
	w.WriteHeader(status)
	if status >= 400 {
		_, _ = w.Write([]byte(`{"error":"BadRequest"}`))
	}
}

func (b *fakeBroker) last(t *testing.T) recorded {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotEmpty(t, b.requests)
	return b.requests[len(b.requests)-1]
}

func (b *fakeBroker) respond(route string, status int) {
	b.mu.Lock()
	b.status[route] = status
	b.mu.Unlock()
}

func (b *fakeBroker) all() []recorded {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]recorded(nil), b.requests...)
}

func newTestClient(t *testing.T, timestamp bool) (*Client, *fakeBroker, *health.Alarms) {
	t.Helper()
	broker := &fakeBroker{status: map[string]int{}}
	srv := httptest.NewServer(broker)
	t.Cleanup(srv.Close)

	alarms := health.New(zerolog.Nop())
	c := New(Config{BaseURL: srv.URL + "/", ProviderURL: "http://iota:4041", Timestamp: timestamp}, alarms, zerolog.Nop())
	c.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return c, broker, alarms
}

func sensor() *webservices.WebService {
	return &webservices.WebService{
		ID: "dev1", Type: "Sensor", Name: "Sensor:dev1", Service: "smartcity", Subservice: "/env",
		Active:   []webservices.Attribute{{Name: "temp", Type: "Number"}},
		Lazy:     []webservices.Attribute{{Name: "batt", Type: "Number"}},
		Commands: []webservices.Attribute{{Name: "reset", Type: "command"}},
	}
}

func TestPushCreateUpserts(t *testing.T) {
	c, broker, _ := newTestClient(t, true)

	ctx := WithCorrelator(context.Background(), "corr-1")
	require.NoError(t, c.Push(ctx, sensor(), true))

	req := broker.last(t)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/v2/entities?options=upsert", req.URI)
	assert.Equal(t, "smartcity", req.Header.Get("Fiware-Service"))
	assert.Equal(t, "/env", req.Header.Get("Fiware-ServicePath"))
	assert.Equal(t, "corr-1", req.Header.Get("Fiware-Correlator"))
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))

	assert.Equal(t, "Sensor:dev1", req.Payload["id"])
	assert.Equal(t, "Sensor", req.Payload["type"])
	assert.Contains(t, req.Payload, "temp")
	assert.Contains(t, req.Payload, "reset_status")
	assert.Contains(t, req.Payload, "reset_info")
	assert.NotContains(t, req.Payload, "batt")
	assert.Equal(t, map[string]any{"type": "DateTime", "value": "2024-01-01T00:00:00.000Z"}, req.Payload[TimestampAttribute])
}

func TestPushUpdateAppendsAttributes(t *testing.T) {
	c, broker, _ := newTestClient(t, false)

	diff := &webservices.WebService{
		ID: "dev1", Type: "Sensor", Name: "Sensor/dev 1", Service: "smartcity", Subservice: "/env",
		Active: []webservices.Attribute{{Name: "hum", Type: "Number"}},
	}
	require.NoError(t, c.Push(context.Background(), diff, false))

	req := broker.last(t)
	assert.Equal(t, "/v2/entities/Sensor%2Fdev%201/attrs", req.URI)
	assert.Equal(t, map[string]any{"hum": map[string]any{"type": "Number", "value": " "}}, req.Payload)
	assert.NotEmpty(t, req.Header.Get("Fiware-Correlator"))
}

func TestPushEmptyUpdateIsSkipped(t *testing.T) {
	c, broker, _ := newTestClient(t, true)
	require.NoError(t, c.Push(context.Background(), &webservices.WebService{ID: "dev1", Name: "n"}, false))
	assert.Empty(t, broker.all())
}

func TestPushProtocolError(t *testing.T) {
	c, broker, alarms := newTestClient(t, false)
	broker.respond("POST /v2/entities", http.StatusUnprocessableEntity)

	err := c.Push(context.Background(), sensor(), true)
	require.ErrorIs(t, err, ErrRemoteProtocol)

	var perr *RemoteProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusUnprocessableEntity, perr.StatusCode)
	assert.Equal(t, "dev1", perr.ID)
	assert.Contains(t, perr.Body, "BadRequest")
	assert.True(t, alarms.Healthy(), "the broker answered, so it is reachable")
}

func TestTransportErrorRaisesAlarmUntilNextSuccess(t *testing.T) {
	broker := &fakeBroker{status: map[string]int{}}
	srv := httptest.NewServer(broker)
	alarms := health.New(zerolog.Nop())
	c := New(Config{BaseURL: srv.URL, Timeout: time.Second}, alarms, zerolog.Nop())

	srv.Close()
	err := c.Push(context.Background(), sensor(), true)
	require.ErrorIs(t, err, ErrRemoteUnavailable)
	assert.True(t, alarms.IsActive(health.OrionAlarm))

	srv2 := httptest.NewServer(broker)
	defer srv2.Close()
	c.baseURL = srv2.URL
	require.NoError(t, c.Push(context.Background(), sensor(), true))
	assert.False(t, alarms.IsActive(health.OrionAlarm))
}

func TestDeleteEntity(t *testing.T) {
	c, broker, _ := newTestClient(t, false)

	require.NoError(t, c.DeleteEntity(context.Background(), sensor()))
	req := broker.last(t)
	assert.Equal(t, http.MethodDelete, req.Method)
	assert.Equal(t, "/v2/entities/Sensor:dev1?type=Sensor", req.URI)

	broker.respond("DELETE /v2/entities/Sensor:dev1", http.StatusNotFound)
	assert.NoError(t, c.DeleteEntity(context.Background(), sensor()), "already gone counts as deleted")

	broker.respond("DELETE /v2/entities/Sensor:dev1", http.StatusInternalServerError)
	assert.ErrorIs(t, c.DeleteEntity(context.Background(), sensor()), ErrRemoteProtocol)
}

func TestUnsubscribe(t *testing.T) {
	c, broker, _ := newTestClient(t, false)
	require.NoError(t, c.Unsubscribe(context.Background(), sensor(), "sub-9"))
	assert.Equal(t, "/v2/subscriptions/sub-9", broker.last(t).URI)
}

func TestSendRegistrations(t *testing.T) {
	t.Run("creates registration for lazy and commands", func(t *testing.T) {
		c, broker, _ := newTestClient(t, false)
		broker.location = "/v2/registrations/5f1a"

		out, err := c.SendRegistrations(context.Background(), false, sensor())
		require.NoError(t, err)
		assert.Equal(t, "5f1a", out.RegistrationID)

		req := broker.last(t)
		assert.Equal(t, "/v2/registrations", req.URI)
		assert.Equal(t, map[string]any{
			"dataProvided": map[string]any{
				"entities": []any{map[string]any{"id": "Sensor:dev1", "type": "Sensor"}},
				"attrs":    []any{"batt", "reset"},
			},
			"provider": map[string]any{"http": map[string]any{"url": "http://iota:4041"}},
		}, req.Payload)
	})

	t.Run("replaces the previous registration", func(t *testing.T) {
		c, broker, _ := newTestClient(t, false)
		broker.location = "/v2/registrations/new"
		ws := sensor()
		ws.RegistrationID = "old"

		out, err := c.SendRegistrations(context.Background(), false, ws)
		require.NoError(t, err)
		assert.Equal(t, "new", out.RegistrationID)
		assert.Equal(t, "old", ws.RegistrationID, "input is not mutated")

		reqs := broker.all()
		require.Len(t, reqs, 2)
		assert.Equal(t, http.MethodDelete, reqs[0].Method)
		assert.Equal(t, "/v2/registrations/old", reqs[0].URI)
	})

	t.Run("removal only deletes", func(t *testing.T) {
		c, broker, _ := newTestClient(t, false)
		ws := sensor()
		ws.RegistrationID = "old"

		out, err := c.SendRegistrations(context.Background(), true, ws)
		require.NoError(t, err)
		assert.Empty(t, out.RegistrationID)
		assert.Len(t, broker.all(), 1)
	})

	t.Run("nothing to provide", func(t *testing.T) {
		c, broker, _ := newTestClient(t, false)
		ws := sensor()
		ws.Lazy, ws.Commands = nil, nil

		out, err := c.SendRegistrations(context.Background(), false, ws)
		require.NoError(t, err)
		assert.Empty(t, out.RegistrationID)
		assert.Empty(t, broker.all())
	})

	t.Run("rejected", func(t *testing.T) {
		c, broker, _ := newTestClient(t, false)
		broker.respond("POST /v2/registrations", http.StatusBadRequest)

		_, err := c.SendRegistrations(context.Background(), false, sensor())
		assert.ErrorIs(t, err, ErrRemoteProtocol)
	})
}
