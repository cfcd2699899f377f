package attendance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kozaktomas/facetrack/internal/metrics"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// DeliveryConfig tunes the delivery worker.
type DeliveryConfig struct {
	QueueSize     int
	MaxAttempts   int
	BaseBackoff   time.Duration // doubled after every retryable failure
	SweepInterval time.Duration
	DrainTimeout  time.Duration
	RatePerSecond float64 // <= 0 means unlimited
}

func DefaultDeliveryConfig() DeliveryConfig {
	return DeliveryConfig{
		QueueSize:     1000,
		MaxAttempts:   3,
		BaseBackoff:   time.Second,
		SweepInterval: time.Minute,
		DrainTimeout:  5 * time.Second,
		RatePerSecond: 5,
	}
}

// Delivery sends events to the external system off the tracking path. Events
// that cannot be delivered end up in the fallback log, which a sweeper
// replays periodically.
type Delivery struct {
	sender   Sender
	fallback *FallbackLog
	limiter  *rate.Limiter
	metrics  *metrics.Client
	cfg      DeliveryConfig
	queue    chan Event

	closeMu sync.RWMutex
	closed  bool
}

// NewDelivery creates a delivery pipeline. Zero config fields take defaults.
func NewDelivery(sender Sender, fallback *FallbackLog, m *metrics.Client, cfg DeliveryConfig) *Delivery {
	def := DefaultDeliveryConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = def.BaseBackoff
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	if m == nil {
		m = metrics.New("", nil)
	}
	return &Delivery{
		sender:   sender,
		fallback: fallback,
		limiter:  rate.NewLimiter(limit, 1),
		metrics:  m,
		cfg:      cfg,
		queue:    make(chan Event, cfg.QueueSize),
	}
}

// Enqueue hands an event to the worker without blocking. When the queue is
// full or the worker has stopped the event goes straight to the fallback log.
func (d *Delivery) Enqueue(ev Event) bool {
	d.closeMu.RLock()
	defer d.closeMu.RUnlock()

	if !d.closed {
		select {
		case d.queue <- ev:
			return true
		default:
			log.Warn().Str("employee_id", ev.EmployeeID).Msg("attendance queue full, writing event to fallback log")
		}
	}
	d.toFallback(ev)
	return false
}

// Pending returns the number of queued events.
func (d *Delivery) Pending() int {
	return len(d.queue)
}

// Run delivers queued events until ctx is cancelled, then drains the queue
// for at most DrainTimeout. Whatever is left goes to the fallback log.
func (d *Delivery) Run(ctx context.Context) {
	log.Info().Msg("attendance delivery worker started")
	for {
		if ctx.Err() != nil {
			d.drain(ctx)
			return
		}
		select {
		case <-ctx.Done():
		case ev := <-d.queue:
			if err := d.Deliver(ctx, ev); err != nil {
				log.Error().Err(err).Str("employee_id", ev.EmployeeID).Str("event", string(ev.Type)).Msg("attendance delivery failed")
				d.toFallback(ev)
			}
		}
	}
}

func (d *Delivery) drain(parent context.Context) {
	d.closeMu.Lock()
	d.closed = true
	d.closeMu.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), d.cfg.DrainTimeout)
	defer cancel()

	delivered, saved := 0, 0
	for {
		select {
		case ev := <-d.queue:
			if ctx.Err() == nil && d.Deliver(ctx, ev) == nil {
				delivered++
				continue
			}
			d.toFallback(ev)
			saved++
		default:
			log.Info().Int("delivered", delivered).Int("saved_to_fallback", saved).Msg("attendance delivery worker stopped")
			return
		}
	}
}

// Deliver sends one event with bounded retries. Retryable failures back off
// exponentially; a 401 forces one token refresh and an immediate retry;
// anything else is terminal.
func (d *Delivery) Deliver(ctx context.Context, ev Event) error {
	start := time.Now()
	refreshed := false
	var err error
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		if werr := d.limiter.Wait(ctx); werr != nil {
			return fmt.Errorf("waiting for rate limiter: %w", werr)
		}
		err = d.sender.Send(ctx, ev)
		if err == nil {
			d.metrics.Incr("attendance.delivered", []string{"event:" + string(ev.Type)})
			d.metrics.Timing("attendance.delivery", time.Since(start), nil)
			return nil
		}

		switch {
		case errors.Is(err, ErrUnauthorized):
			if refreshed {
				return err
			}
			refreshed = true
			if rerr := d.sender.RefreshToken(ctx); rerr != nil {
				return fmt.Errorf("refreshing token after 401: %w", rerr)
			}
			attempt--
		case IsRetryable(err):
			if attempt < d.cfg.MaxAttempts {
				backoff := d.cfg.BaseBackoff << (attempt - 1)
				log.Debug().Err(err).Int("attempt", attempt).Dur("backoff", backoff).Msg("retrying attendance delivery")
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(backoff):
				}
			}
		default:
			return err
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", d.cfg.MaxAttempts, err)
}

func (d *Delivery) toFallback(ev Event) {
	d.metrics.Incr("attendance.fallback", []string{"event:" + string(ev.Type)})
	if d.fallback == nil {
		log.Error().Str("employee_id", ev.EmployeeID).Str("event", string(ev.Type)).Msg("no fallback log configured, event lost")
		return
	}
	if err := d.fallback.Append(ev); err != nil {
		log.Error().Err(err).Str("employee_id", ev.EmployeeID).Str("event", string(ev.Type)).Msg("could not write fallback log")
		return
	}
	log.Error().Str("employee_id", ev.EmployeeID).Str("event", string(ev.Type)).Time("timestamp", ev.Timestamp).Msg("event saved to fallback log")
}

// RunSweeper replays the fallback log every SweepInterval until ctx is cancelled.
func (d *Delivery) RunSweeper(ctx context.Context) {
	if d.fallback == nil {
		return
	}
	ticker := time.NewTicker(d.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Sweep(ctx)
		}
	}
}

// Sweep replays the fallback log once.
func (d *Delivery) Sweep(ctx context.Context) (delivered, remaining int, err error) {
	if d.fallback == nil {
		return 0, 0, nil
	}
	delivered, remaining, err = d.fallback.Sweep(ctx, d.Deliver)
	if err != nil {
		log.Error().Err(err).Msg("fallback sweep failed")
		return delivered, remaining, err
	}
	if delivered > 0 || remaining > 0 {
		log.Info().Int("delivered", delivered).Int("remaining", remaining).Msg("fallback sweep finished")
	}
	d.metrics.Gauge("attendance.fallback_pending", float64(remaining), nil)
	return delivered, remaining, nil
}
