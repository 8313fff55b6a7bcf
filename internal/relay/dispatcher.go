package relay

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/susu3304/anonchat/internal/metrics"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 2 * time.Second
	attemptTimeout     = 15 * time.Second
)

// Dispatcher implements Relay on top of a Transport. Each send runs on the
// pool and is retried with linear backoff: after failed attempt n it waits
// n*baseDelay.
type Dispatcher struct {
	transport   Transport
	pool        *Pool
	log         *zap.Logger
	maxAttempts int
	baseDelay   time.Duration
	sleep       func(time.Duration)
}

var _ Relay = (*Dispatcher)(nil)

type Option func(*Dispatcher)

func WithMaxAttempts(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

func WithBaseDelay(delay time.Duration) Option {
	return func(d *Dispatcher) { d.baseDelay = delay }
}

// WithSleep replaces time.Sleep between attempts.
func WithSleep(sleep func(time.Duration)) Option {
	return func(d *Dispatcher) { d.sleep = sleep }
}

func NewDispatcher(transport Transport, pool *Pool, log *zap.Logger, opts ...Option) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	d := &Dispatcher{
		transport:   transport,
		pool:        pool,
		log:         log,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		sleep:       time.Sleep,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) SendText(userID, text string) Receipt {
	return d.submit(KindText, userID, func(ctx context.Context) error {
		return d.transport.DeliverText(ctx, userID, text)
	})
}

func (d *Dispatcher) SendFile(userID string, file File, caption string) Receipt {
	return d.submit(file.Kind, userID, func(ctx context.Context) error {
		return d.transport.DeliverFile(ctx, userID, file, caption)
	})
}

func (d *Dispatcher) SendMenu(userID string, menu Menu) Receipt {
	return d.submit("menu", userID, func(ctx context.Context) error {
		return d.transport.DeliverMenu(ctx, userID, menu)
	})
}

func (d *Dispatcher) submit(kind Kind, userID string, deliver func(ctx context.Context) error) Receipt {
	done := make(chan struct{})
	d.pool.Go(func() {
		defer close(done)
		d.run(kind, userID, deliver)
	})
	return done
}

func (d *Dispatcher) run(kind Kind, userID string, deliver func(ctx context.Context) error) {
	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), attemptTimeout)
		err := deliver(ctx)
		cancel()
		if err == nil {
			metrics.RelayDeliveries.WithLabelValues(string(kind), "delivered").Inc()
			return
		}
		lastErr = err
		d.log.Warn("delivery attempt failed",
			zap.String("user_id", userID),
			zap.String("kind", string(kind)),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt < d.maxAttempts {
			metrics.RelayRetries.Inc()
			d.sleep(time.Duration(attempt) * d.baseDelay)
		}
	}

	metrics.RelayDeliveries.WithLabelValues(string(kind), "dropped").Inc()
	d.log.Error("delivery dropped",
		zap.String("user_id", userID),
		zap.String("kind", string(kind)),
		zap.Int("attempts", d.maxAttempts),
		zap.Error(fmt.Errorf("%w: %v", ErrDeliveryFailed, lastErr)))
}
