package nats

import (
	"fmt"

	natsgo "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Alias external types so callers import only our package.
type KeyValue = natsgo.KeyValue

var (
	ErrKeyNotFound = natsgo.ErrKeyNotFound
	ErrNoKeysFound = natsgo.ErrNoKeysFound
	// ErrKeyExists also matches a revision mismatch on Update.
	ErrKeyExists = natsgo.ErrKeyExists
)

type Client struct {
	nc *natsgo.Conn
	js natsgo.JetStreamContext
	lg zerolog.Logger
}

func New(url string, lg zerolog.Logger) (*Client, error) {
	nc, err := natsgo.Connect(url, natsgo.Name("webservice-io"))
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	return &Client{nc: nc, js: js, lg: lg.With().Str("adapter", "nats").Logger()}, nil
}

// -------- Key-value bucket (web service registry) --------

func (c *Client) EnsureBucket(name string) (KeyValue, error) {
	kv, err := c.js.KeyValue(name)
	if err == nil {
		return kv, nil
	}
	if err != natsgo.ErrBucketNotFound {
		return nil, err
	}
	c.lg.Info().Str("bucket", name).Msg("creating registry bucket")
	return c.js.CreateKeyValue(&natsgo.KeyValueConfig{
		Bucket:      name,
		Description: "Web service registry",
		History:     1,
		Replicas:    1,
	})
}

func (c *Client) Close() { _ = c.nc.Drain() }
