package influxdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/gray-logic-teg/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// Client exports gateway aggregates to an InfluxDB v2 bucket.
//
// Each exporter tick becomes a handful of points: one power point per
// meter location, one battery point with the state of energy and one
// grid point with the island state (see write.go). Points are batched by
// the library and flushed every FlushInterval seconds or every BatchSize
// points, whichever comes first.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Writes never block the exporter; failures surface through SetOnError.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	bucket   string

	mu        sync.RWMutex
	connected bool
	onError   func(err error)
}

// Connect opens the bucket named in cfg for writing.
//
// Parameters:
//   - cfg: the influxdb section; URL, Token, Org and Bucket are required
//
// Returns:
//   - *Client: a client whose writes are accepted until Close
//   - error: ErrDisabled when the section is off, ErrConnectionFailed when
//     the server does not answer a ping within the connect timeout
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, writeOptions(cfg))
	c := &Client{client: client, bucket: cfg.Bucket}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := c.ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.writeAPI = client.WriteAPI(cfg.Org, cfg.Bucket)
	c.connected = true
	go c.forwardWriteErrors(c.writeAPI.Errors())
	return c, nil
}

// writeOptions maps the batch settings onto the library options. Zero or
// negative values select the defaults.
func writeOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := uint(defaultBatchSize)
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize)
	}
	flush := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}
	// #nosec G115 -- flush is positive and far below uint range
	return influxdb2.DefaultOptions().
		SetBatchSize(batch).
		SetFlushInterval(uint(flush.Milliseconds()))
}

func (c *Client) ping(ctx context.Context) error {
	healthy, err := c.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping %s: %w", c.bucket, err)
	}
	if !healthy {
		return fmt.Errorf("ping %s: server not healthy", c.bucket)
	}
	return nil
}

func (c *Client) forwardWriteErrors(errs <-chan error) {
	for err := range errs {
		c.mu.RLock()
		callback := c.onError
		c.mu.RUnlock()
		if callback != nil {
			callback(err)
		}
	}
}

// Close flushes queued points and releases the client. Writes after Close
// are dropped.
//
// Returns:
//   - error: always nil; kept for io.Closer style shutdown lists
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	c.writeAPI.Flush()
	c.client.Close()
	return nil
}

// HealthCheck pings the server for the /health endpoint.
//
// Parameters:
//   - ctx: bounds the ping together with the client's own ping timeout
//
// Returns:
//   - error: ErrNotConnected after Close, or the ping failure
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := c.ping(ctx); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// IsConnected reports whether Close has not been called yet.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// SetOnError registers the callback for batch write failures reported by
// the server.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// Flush pushes queued points now instead of waiting for the interval.
func (c *Client) Flush() {
	if c.writeAPI == nil || !c.IsConnected() {
		return
	}
	c.writeAPI.Flush()
}
