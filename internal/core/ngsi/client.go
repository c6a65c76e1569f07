package ngsi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"webservice-io/internal/core/health"
	"webservice-io/internal/core/webservices"
	"webservice-io/pkg/rand"

	"github.com/rs/zerolog"
)

// Config configures the broker client.
type Config struct {
	BaseURL     string        // e.g. http://orion:1026
	ProviderURL string        // this process, announced in context-provider registrations
	Timestamp   bool          // add TimeInstant to every pushed payload
	Timeout     time.Duration // bounds every broker round trip
}

// Client talks NGSIv2 to the context broker. It drives the broker alarm:
// transport failures raise it, accepted requests release it.
type Client struct {
	http        *http.Client
	baseURL     string
	providerURL string
	timestamp   bool
	alarms      *health.Alarms
	lg          zerolog.Logger
	now         func() time.Time
}

func New(cfg Config, alarms *health.Alarms, lg zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http:        &http.Client{Timeout: timeout},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		providerURL: cfg.ProviderURL,
		timestamp:   cfg.Timestamp,
		alarms:      alarms,
		lg:          lg.With().Str("adapter", "ngsi").Logger(),
		now:         time.Now,
	}
}

type correlatorKey struct{}

// WithCorrelator attaches the Fiware-Correlator used for broker calls made
// on behalf of ctx.
func WithCorrelator(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlatorKey{}, id)
}

func correlator(ctx context.Context) string {
	if id, ok := ctx.Value(correlatorKey{}).(string); ok && id != "" {
		return id
	}
	return rand.Correlator()
}

// Push creates the entity of ws (create=true, upsert) or appends the
// attributes of ws to the existing entity. An update with nothing to send is
// skipped.
func (c *Client) Push(ctx context.Context, ws *webservices.WebService, create bool) error {
	if !create && len(EntityPayload(ws, false, c.now())) == 0 {
		c.lg.Debug().Str("id", ws.ID).Msg("no new attributes to push")
		return nil
	}

	attrs := EntityPayload(ws, c.timestamp, c.now())
	var (
		target string
		body   map[string]any
	)
	if create {
		target = "/v2/entities?options=upsert"
		body = make(map[string]any, len(attrs)+2)
		body["id"] = ws.Name
		body["type"] = ws.Type
	} else {
		target = "/v2/entities/" + url.PathEscape(ws.Name) + "/attrs"
		body = make(map[string]any, len(attrs))
	}
	for k, v := range attrs {
		body[k] = v
	}

	status, respBody, _, err := c.do(ctx, http.MethodPost, target, ws, body)
	if err != nil {
		return err
	}
	if status != http.StatusNoContent {
		c.lg.Error().Int("status", status).Str("body", respBody).Str("id", ws.ID).
			Msg("protocol error connecting to the context broker")
		return protocolError(ws, status, respBody)
	}
	c.alarms.Release(health.OrionAlarm)
	c.lg.Debug().Str("id", ws.ID).Bool("create", create).Msg("entity pushed")
	return nil
}

// DeleteEntity removes the entity of ws. An entity already gone counts as
// removed.
func (c *Client) DeleteEntity(ctx context.Context, ws *webservices.WebService) error {
	target := "/v2/entities/" + url.PathEscape(ws.Name)
	if ws.Type != "" {
		target += "?type=" + url.QueryEscape(ws.Type)
	}
	return c.deleteAccepting(ctx, target, ws)
}

// Unsubscribe cancels one subscription owned by ws.
func (c *Client) Unsubscribe(ctx context.Context, ws *webservices.WebService, subscriptionID string) error {
	return c.deleteAccepting(ctx, "/v2/subscriptions/"+url.PathEscape(subscriptionID), ws)
}

type registration struct {
	DataProvided dataProvided `json:"dataProvided"`
	Provider     provider     `json:"provider"`
}

type dataProvided struct {
	Entities []entityRef `json:"entities"`
	Attrs    []string    `json:"attrs"`
}

type entityRef struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

type provider struct {
	HTTP struct {
		URL string `json:"url"`
	} `json:"http"`
}

// SendRegistrations maintains the context-provider registration that routes
// lazy attributes and commands back to this process. The previous
// registration is always dropped; a new one is created unless removal is set
// or there is nothing to provide.
func (c *Client) SendRegistrations(ctx context.Context, removal bool, ws *webservices.WebService) (*webservices.WebService, error) {
	out := ws.DeepCopy()

	if out.RegistrationID != "" {
		if err := c.deleteAccepting(ctx, "/v2/registrations/"+url.PathEscape(out.RegistrationID), ws); err != nil {
			return nil, err
		}
		out.RegistrationID = ""
	}
	if removal {
		return out, nil
	}

	attrs := make([]string, 0, len(ws.Lazy)+len(ws.Commands))
	for _, a := range ws.Lazy {
		attrs = append(attrs, a.Name)
	}
	for _, a := range ws.Commands {
		attrs = append(attrs, a.Name)
	}
	if len(attrs) == 0 {
		return out, nil
	}

	reg := registration{
		DataProvided: dataProvided{
			Entities: []entityRef{{ID: ws.Name, Type: ws.Type}},
			Attrs:    attrs,
		},
	}
	reg.Provider.HTTP.URL = c.providerURL

	status, respBody, hdr, err := c.do(ctx, http.MethodPost, "/v2/registrations", ws, reg)
	if err != nil {
		return nil, err
	}
	if status != http.StatusCreated {
		return nil, protocolError(ws, status, respBody)
	}
	c.alarms.Release(health.OrionAlarm)
	out.RegistrationID = path.Base(hdr.Get("Location"))
	c.lg.Debug().Str("id", ws.ID).Str("registration", out.RegistrationID).Msg("registration created")
	return out, nil
}

func (c *Client) deleteAccepting(ctx context.Context, target string, ws *webservices.WebService) error {
	status, respBody, _, err := c.do(ctx, http.MethodDelete, target, ws, nil)
	if err != nil {
		return err
	}
	if status != http.StatusNoContent && status != http.StatusNotFound {
		return protocolError(ws, status, respBody)
	}
	c.alarms.Release(health.OrionAlarm)
	return nil
}

// do performs one broker round trip scoped to the tenant of ws. Transport
// failures raise the broker alarm and come back as RemoteUnavailableError.
func (c *Client) do(ctx context.Context, method, target string, ws *webservices.WebService, body any) (int, string, http.Header, error) {
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, "", nil, fmt.Errorf("encode %s %s: %w", method, target, err)
		}
		rdr = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+target, rdr)
	if err != nil {
		return 0, "", nil, fmt.Errorf("build %s %s: %w", method, target, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Fiware-Service", ws.Service)
	req.Header.Set("Fiware-ServicePath", ws.Subservice)
	req.Header.Set("Fiware-Correlator", correlator(ctx))

	resp, err := c.http.Do(req)
	if err != nil {
		c.lg.Error().Err(err).Str("method", method).Str("target", target).
			Msg("connection error with the context broker")
		c.alarms.Raise(health.OrionAlarm, err)
		return 0, "", nil, &RemoteUnavailableError{Op: method + " " + target, Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return resp.StatusCode, string(raw), resp.Header, nil
}

func protocolError(ws *webservices.WebService, status int, body string) *RemoteProtocolError {
	return &RemoteProtocolError{ID: ws.ID, Type: ws.Type, StatusCode: status, Body: body}
}
