package device

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/riskgate/internal/kvstore"
	"github.com/mbd888/riskgate/internal/risk"
)

// DefaultTimeout bounds a single collection.
const DefaultTimeout = 3 * time.Second

// Result is the outcome of one collection.
type Result struct {
	DeviceID string
	Signals  Signals
	// Reused is true when the id came from storage instead of fresh signals.
	Reused bool
}

// Evidence returns the scoring evidence for the result.
func (r Result) Evidence() risk.DeviceEvidence {
	return r.Signals.Evidence(r.DeviceID)
}

// Collector gathers signals, derives the device id and remembers it per user
// under "device:<userID>".
type Collector struct {
	source  Source
	store   kvstore.Store
	timeout time.Duration
	logger  *slog.Logger
}

// NewCollector creates a collector. source may be nil when signals always
// arrive with the request.
func NewCollector(source Source, store kvstore.Store, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		source:  source,
		store:   store,
		timeout: DefaultTimeout,
		logger:  logger,
	}
}

// WithTimeout overrides the collection timeout.
func (c *Collector) WithTimeout(d time.Duration) *Collector {
	if d > 0 {
		c.timeout = d
	}
	return c
}

func storageKey(userID string) string {
	return "device:" + userID
}

// Collect derives the device id for userID. Signals supplied by the caller
// take precedence over the configured source. A non-nil error wraps
// ErrSignalCollection and is informational: the returned Result is always
// usable.
func (c *Collector) Collect(ctx context.Context, userID string, supplied Signals) (Result, error) {
	signals, collectErr := c.gather(ctx, supplied)

	res := Result{Signals: signals, DeviceID: DeriveID(signals)}
	if res.DeviceID == "" && c.store != nil {
		stored, ok, err := c.store.Get(ctx, storageKey(userID))
		if err != nil {
			c.logger.Warn("device id lookup failed", "user", userID, "error", err)
		} else if ok {
			res.DeviceID = stored
			res.Reused = true
		}
	}

	if res.DeviceID != "" && !res.Reused && c.store != nil {
		if err := c.store.Set(ctx, storageKey(userID), res.DeviceID, 0); err != nil {
			c.logger.Warn("device id persist failed", "user", userID, "error", err)
		}
	}
	return res, collectErr
}

func (c *Collector) gather(ctx context.Context, supplied Signals) (Signals, error) {
	if len(supplied) > 0 {
		return supplied, nil
	}
	if c.source == nil {
		return Signals{}, fmt.Errorf("%w: no signal source", ErrSignalCollection)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type result struct {
		signals Signals
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("source panicked: %v", r)}
			}
		}()
		s, err := c.source.Collect(ctx)
		ch <- result{signals: s, err: err}
	}()

	select {
	case r := <-ch:
		signals := r.signals
		if signals == nil {
			signals = Signals{}
		}
		if r.err != nil {
			return signals, fmt.Errorf("%w: %v", ErrSignalCollection, r.err)
		}
		return signals, nil
	case <-ctx.Done():
		return Signals{}, fmt.Errorf("%w: %v", ErrSignalCollection, ctx.Err())
	}
}
