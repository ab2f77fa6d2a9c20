// Package scheduler runs the relay's recurring maintenance jobs: the
// authentication-challenge reaper and the offline-queue reaper.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/veilchat/relay/internal/logger"
	"github.com/veilchat/relay/pkg/metrics"
	"github.com/veilchat/relay/pkg/relay/models"
)

// MaintenanceStore is the slice of the persistence layer the scheduler
// operates on.
type MaintenanceStore interface {
	PurgeExpiredChallenges(ctx context.Context, now time.Time) (int64, error)
	PurgeExpiredMessages(ctx context.Context, now time.Time) (int64, int64, error)
	ReapAllSignedPreKeys(ctx context.Context, keep int) (int64, error)
}

const (
	// challengeInterval is how often expired nonces are purged.
	challengeInterval = 10 * time.Minute

	// queueReapHour is the UTC hour of the daily queue purge.
	queueReapHour = 3
)

// Scheduler owns the background maintenance workers. Start is
// idempotent; Stop cancels all pending ticks and is safe to call from
// tests regardless of whether Start ran.
type Scheduler struct {
	store MaintenanceStore

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// New creates a scheduler over the given store.
func New(store MaintenanceStore) *Scheduler {
	return &Scheduler{store: store}
}

// Start launches both jobs. A second call is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.started = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.runChallengeReaper(ctx)
		}()
		go func() {
			defer wg.Done()
			s.runQueueReaper(ctx)
		}()
		wg.Wait()
	}()

	logger.Info("scheduler started",
		"challenge_interval", challengeInterval.String(),
		"queue_reap_hour_utc", queueReapHour)
}

// Stop cancels all scheduled ticks and waits for the workers to exit.
// Safe to call multiple times and before Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	s.started = false
	s.cancel()
	<-s.done
	logger.Info("scheduler stopped")
}

// runChallengeReaper purges expired nonces every challengeInterval.
func (s *Scheduler) runChallengeReaper(ctx context.Context) {
	ticker := time.NewTicker(challengeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ReapChallenges(ctx)
		}
	}
}

// runQueueReaper fires once a day at queueReapHour UTC.
func (s *Scheduler) runQueueReaper(ctx context.Context) {
	for {
		timer := time.NewTimer(untilNextRun(time.Now().UTC()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.ReapQueue(ctx)
		}
	}
}

// untilNextRun computes the wait until the next daily run at
// queueReapHour UTC.
func untilNextRun(now time.Time) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), queueReapHour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}

// ReapChallenges runs one challenge purge. Failures are logged and do
// not stop the job.
func (s *Scheduler) ReapChallenges(ctx context.Context) {
	n, err := s.store.PurgeExpiredChallenges(ctx, time.Now())
	if err != nil {
		logger.Error("challenge reaper failed", "job", "challenge_reaper", "error", err)
		return
	}
	metrics.ChallengesPurged.Add(float64(n))
	if n > 0 {
		logger.Info("expired challenges purged", "job", "challenge_reaper", "count", n)
	}
}

// ReapQueue runs one queue purge: expired rows first, then rows past
// the retention window. It also trims signed pre-keys down to the
// retention count. The message purge and the signed pre-key trim are
// independent: a failure in one is logged and the other still runs. A
// failure deleting expired rows skips the retention-window purge.
func (s *Scheduler) ReapQueue(ctx context.Context) {
	expired, stale, err := s.store.PurgeExpiredMessages(ctx, time.Now())
	if err != nil {
		logger.Error("queue reaper failed", "job", "queue_reaper", "error", err)
	} else {
		metrics.QueuePurged.WithLabelValues("expired").Add(float64(expired))
		metrics.QueuePurged.WithLabelValues("stale").Add(float64(stale))
		logger.Info("queued messages purged",
			"job", "queue_reaper", "expired", expired, "stale", stale)
	}

	reaped, err := s.store.ReapAllSignedPreKeys(ctx, models.SignedPreKeyRetention)
	if err != nil {
		logger.Error("signed pre-key reap failed", "job", "queue_reaper", "error", err)
		return
	}
	if reaped > 0 {
		logger.Info("signed pre-keys trimmed", "job", "queue_reaper", "count", reaped)
	}
}
