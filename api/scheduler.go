/*
scheduler.go - Automated permit expiry scheduler

PURPOSE:
  Periodically closes VALID permits whose end time has passed, so a fixed
  period permit does not stay billable-looking after its last month.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each check closes everything that ended by now in one transaction
  - Expiry never refunds: the permit was used to its end

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewExpiryScheduler(service, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - permits/service.go: ExpirePermits
  - config/config.go: expiry.enabled, expiry.interval
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/warp/permit-engine/permits"
	"github.com/warp/permit-engine/pricing"
	"go.uber.org/zap"
)

// ExpiryScheduler closes ended permits on a timer.
type ExpiryScheduler struct {
	Service       *permits.Service
	CheckInterval time.Duration
	Enabled       bool
	Now           func() time.Time

	log    *zap.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewExpiryScheduler creates a new scheduler.
func NewExpiryScheduler(service *permits.Service, log *zap.Logger) *ExpiryScheduler {
	return &ExpiryScheduler{
		Service:       service,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		Now:           time.Now,
		log:           log.Named("expiry"),
	}
}

// Start begins the scheduler. It checks once right away.
func (es *ExpiryScheduler) Start() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if !es.Enabled {
		es.log.Info("scheduler disabled, not starting")
		return
	}
	if es.ticker != nil {
		return
	}

	es.ticker = time.NewTicker(es.CheckInterval)
	es.stop = make(chan struct{})
	es.wg.Add(1)

	go es.run()

	es.log.Info("scheduler started", zap.Duration("interval", es.CheckInterval))
}

// Stop stops the scheduler and waits for a running check to finish.
func (es *ExpiryScheduler) Stop() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if es.ticker != nil {
		es.ticker.Stop()
		close(es.stop)
		es.wg.Wait()
		es.ticker = nil
		es.log.Info("scheduler stopped")
	}
}

func (es *ExpiryScheduler) run() {
	defer es.wg.Done()

	es.RunNow(context.Background())

	for {
		select {
		case <-es.ticker.C:
			es.RunNow(context.Background())
		case <-es.stop:
			return
		}
	}
}

// RunNow closes the permits that have ended by now.
func (es *ExpiryScheduler) RunNow(ctx context.Context) []pricing.PermitID {
	expired, err := es.Service.ExpirePermits(ctx, es.Now())
	if err != nil {
		// The service already logged the failure; the next tick retries.
		return nil
	}
	return expired
}
