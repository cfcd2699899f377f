package metrics

import (
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/rs/zerolog/log"
)

// Client wraps a statsd client. It is safe for concurrent use.
type Client struct {
	statsd       statsd.ClientInterface
	samplingRate float64
}

// New connects to a statsd agent at addr. An empty addr yields a no-op client,
// as does a connection failure (logged).
func New(addr string, tags []string) *Client {
	if addr == "" {
		return &Client{statsd: &statsd.NoOpClient{}, samplingRate: 1}
	}
	c, err := statsd.New(addr, statsd.WithTags(tags))
	if err != nil {
		log.Error().Err(err).Str("addr", addr).Msg("statsd client initialization failed, metrics will be unavailable")
		return &Client{statsd: &statsd.NoOpClient{}, samplingRate: 1}
	}
	log.Info().Str("addr", addr).Strs("tags", tags).Msg("metrics client initialized")
	return &Client{statsd: c, samplingRate: 1}
}

// NewWithClient wraps an existing statsd client.
func NewWithClient(c statsd.ClientInterface) *Client {
	return &Client{statsd: c, samplingRate: 1}
}

func (c *Client) Timing(name string, value time.Duration, tags []string) {
	if err := c.statsd.Timing(name, value, tags, c.samplingRate); err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("statsd timing failed")
	}
}

func (c *Client) Count(name string, value int64, tags []string) {
	if err := c.statsd.Count(name, value, tags, c.samplingRate); err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("statsd count failed")
	}
}

func (c *Client) Incr(name string, tags []string) {
	c.Count(name, 1, tags)
}

func (c *Client) Gauge(name string, value float64, tags []string) {
	if err := c.statsd.Gauge(name, value, tags, c.samplingRate); err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("statsd gauge failed")
	}
}

func (c *Client) Close() error {
	return c.statsd.Close()
}
