/*
janitor.go - Stale reservation janitor

PURPOSE:
  Periodically cancels orders that have been sitting in RESERVED longer
  than a TTL, so abandoned checkouts do not hold stock forever. Expiry is
  policy, not engine behavior: the janitor only calls the normal cancel
  path, which releases every ACTIVE reservation under the usual locks and
  capability checks.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Lists RESERVED orders whose last update is older than now - TTL
  - Cancels each with reason "reservation expired" as the janitor actor
  - Orders that moved on between list and cancel fail with an invalid
    transition and are counted as skipped, as are lock timeouts; the next
    sweep picks them up again

USAGE:
  j := NewReservationJanitor(engine, logger)
  j.TTL = 30 * time.Minute
  j.Start()
  // ... later
  j.Stop()
*/
package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/inventory-engine/inventory"
)

// ExpiredReason is recorded on orders the janitor cancels.
const ExpiredReason = "reservation expired"

// ReservationJanitor cancels RESERVED orders older than TTL.
type ReservationJanitor struct {
	Engine        *inventory.Engine
	Logger        *zap.Logger
	CheckInterval time.Duration
	TTL           time.Duration
	Actor         inventory.ActorID
	BatchSize     int
	Now           func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// JanitorRun summarizes one sweep.
type JanitorRun struct {
	Scanned   int
	Cancelled int
	Skipped   int
	Failed    int
}

// NewReservationJanitor creates a janitor with defaults.
func NewReservationJanitor(engine *inventory.Engine, logger *zap.Logger) *ReservationJanitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReservationJanitor{
		Engine:        engine,
		Logger:        logger,
		CheckInterval: time.Minute,
		TTL:           24 * time.Hour,
		Actor:         "system:janitor",
		BatchSize:     100,
		Now:           time.Now,
	}
}

// Start begins the periodic sweep. Calling Start twice is a no-op.
func (j *ReservationJanitor) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.ticker != nil {
		return
	}
	j.ticker = time.NewTicker(j.CheckInterval)
	j.stop = make(chan struct{})
	j.wg.Add(1)

	go j.run(j.ticker, j.stop)

	j.Logger.Info("reservation janitor started",
		zap.Duration("interval", j.CheckInterval),
		zap.Duration("ttl", j.TTL),
	)
}

// Stop stops the janitor and waits for an in-flight sweep.
func (j *ReservationJanitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.ticker == nil {
		return
	}
	j.ticker.Stop()
	close(j.stop)
	j.wg.Wait()
	j.ticker = nil
	j.Logger.Info("reservation janitor stopped")
}

func (j *ReservationJanitor) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer j.wg.Done()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				select {
				case <-stop:
					cancel()
				case <-ctx.Done():
				}
			}()
			j.RunNow(ctx)
			cancel()
		case <-stop:
			return
		}
	}
}

// RunNow performs one sweep immediately.
func (j *ReservationJanitor) RunNow(ctx context.Context) JanitorRun {
	var res JanitorRun
	ctx = inventory.WithActor(ctx, j.Actor)

	cutoff := j.Now().Add(-j.TTL)
	orders, err := j.Engine.Orders.List(ctx, inventory.OrderFilter{
		State:         inventory.StateReserved,
		UpdatedBefore: cutoff,
		Limit:         j.BatchSize,
	})
	if err != nil {
		j.Logger.Error("janitor: listing reserved orders failed", zap.Error(err))
		return res
	}

	for _, o := range orders {
		if ctx.Err() != nil {
			break
		}
		res.Scanned++
		_, err := j.Engine.Orders.Cancel(ctx, o.ID, ExpiredReason)
		switch {
		case err == nil:
			res.Cancelled++
		case errors.Is(err, inventory.ErrInvalidTransition), inventory.IsRetryable(err):
			res.Skipped++
		default:
			res.Failed++
			j.Logger.Warn("janitor: cancel failed",
				zap.String("order_id", string(o.ID)),
				zap.Error(err),
			)
		}
	}

	if res.Scanned > 0 {
		j.Logger.Info("janitor sweep completed",
			zap.Int("scanned", res.Scanned),
			zap.Int("cancelled", res.Cancelled),
			zap.Int("skipped", res.Skipped),
			zap.Int("failed", res.Failed),
		)
	}
	return res
}
