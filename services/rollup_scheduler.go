package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"flux/metrics"
	"flux/models"
)

const DefaultRollupDeadline = 30 * time.Second

type snapshotBuilder interface {
	Build(ctx context.Context, tier models.Tier, now time.Time) (*models.MetricsSnapshot, error)
}

// RollupNotifier is told when a tier keeps failing and when it recovers
type RollupNotifier interface {
	NotifyRollupFailure(tier string, consecutive int, err error) error
	NotifyRollupRecovered(tier string) error
}

type SchedulerOptions struct {
	Tiers            []models.Tier
	Deadline         time.Duration
	FailureThreshold int
	Clock            func() time.Time
}

// TierStatus is the scheduler's view of one tier's recent runs
type TierStatus struct {
	Tier                string     `json:"tier"`
	Runs                int64      `json:"runs"`
	Failures            int64      `json:"failures"`
	Skipped             int64      `json:"skipped"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastRun             *time.Time `json:"last_run,omitempty"`
	LastWindow          *time.Time `json:"last_window,omitempty"`
	LastError           string     `json:"last_error,omitempty"`

	notified bool
}

// RollupScheduler runs one independent periodic rollup per tier. Tiers share
// only the cancellation signal; a failed or slow run never blocks another tier
// and is not retried.
type RollupScheduler struct {
	builder  snapshotBuilder
	cache    LatestCache
	notifier RollupNotifier
	opts     SchedulerOptions

	mu     sync.Mutex
	status map[string]*TierStatus

	cancel context.CancelFunc
	group  *errgroup.Group
}

func NewRollupScheduler(builder snapshotBuilder, cache LatestCache, notifier RollupNotifier, opts SchedulerOptions) *RollupScheduler {
	if len(opts.Tiers) == 0 {
		opts.Tiers = models.AllTiers()
	}
	if opts.Deadline <= 0 {
		opts.Deadline = DefaultRollupDeadline
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	status := make(map[string]*TierStatus, len(opts.Tiers))
	for _, tier := range opts.Tiers {
		status[tier.Name] = &TierStatus{Tier: tier.Name}
	}

	return &RollupScheduler{
		builder:  builder,
		cache:    cache,
		notifier: notifier,
		opts:     opts,
		status:   status,
	}
}

// Start launches every tier loop. Each tier runs once immediately.
func (s *RollupScheduler) Start(ctx context.Context) {
	log.Printf("Starting rollup scheduler for %d tiers (deadline %s)...", len(s.opts.Tiers), s.opts.Deadline)

	ctx, s.cancel = context.WithCancel(ctx)
	s.group, ctx = errgroup.WithContext(ctx)

	for _, tier := range s.opts.Tiers {
		tier := tier
		s.group.Go(func() error {
			s.runTier(ctx, tier)
			return nil
		})
	}
}

// Stop cancels all tier loops and waits for them. An in-flight build is
// abandoned without writing.
func (s *RollupScheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	_ = s.group.Wait()
	log.Println("Rollup scheduler stopped")
}

func (s *RollupScheduler) runTier(ctx context.Context, tier models.Tier) {
	ticker := time.NewTicker(tier.Window)
	defer ticker.Stop()

	_ = s.RunOnce(ctx, tier)

	for {
		select {
		case <-ticker.C:
			_ = s.RunOnce(ctx, tier)
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce performs a single bounded rollup of tier
func (s *RollupScheduler) RunOnce(ctx context.Context, tier models.Tier) error {
	runCtx, cancel := context.WithTimeout(ctx, s.opts.Deadline)
	defer cancel()

	began := time.Now()
	now := s.opts.Clock()
	snapshot, err := s.builder.Build(runCtx, tier, now)
	elapsed := time.Since(began)

	switch {
	case err == nil:
		metrics.ObserveRollup(tier.Name, metrics.ResultSuccess, elapsed)
		for _, field := range snapshot.DegradedFields {
			metrics.IncDegradedField(tier.Name, field)
		}
		metrics.SetLastSnapshot(tier.Name, snapshot.Timestamp, snapshot.Devices.Active, snapshot.AccessPoints.Active)
		if s.cache != nil {
			s.cache.SetLatest(ctx, snapshot)
		}
		s.recordSuccess(tier, now, snapshot.Timestamp)

		log.Printf("Created %s metrics snapshot: %d devices, %d APs (active: %d/%d) in %s",
			tier.Name, snapshot.Devices.Total, snapshot.AccessPoints.Total,
			snapshot.Devices.Active, snapshot.AccessPoints.Active, elapsed.Round(time.Millisecond))
		return nil

	case errors.Is(err, ErrDuplicateSnapshot):
		metrics.ObserveRollup(tier.Name, metrics.ResultSkipped, elapsed)
		s.recordSkip(tier, now)
		log.Printf("%s rollup skipped: %v", tier.Name, err)
		return err

	case ctx.Err() != nil:
		// shutting down, not a rollup failure
		log.Printf("%s rollup abandoned: %v", tier.Name, err)
		return err

	default:
		result := metrics.ResultError
		if errors.Is(err, context.DeadlineExceeded) {
			result = metrics.ResultTimeout
		}
		metrics.ObserveRollup(tier.Name, result, elapsed)
		log.Printf("%s aggregation error: %v", tier.Name, err)
		s.recordFailure(tier, now, err)
		return err
	}
}

func (s *RollupScheduler) recordSuccess(tier models.Tier, at, window time.Time) {
	s.mu.Lock()
	st := s.statusLocked(tier)
	st.Runs++
	st.ConsecutiveFailures = 0
	st.LastError = ""
	st.LastRun = &at
	st.LastWindow = &window
	recovered := st.notified
	st.notified = false
	s.mu.Unlock()

	if recovered && s.notifier != nil {
		if err := s.notifier.NotifyRollupRecovered(tier.Name); err != nil {
			log.Printf("Failed to send %s recovery notification: %v", tier.Name, err)
		}
	}
}

func (s *RollupScheduler) recordSkip(tier models.Tier, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.statusLocked(tier)
	st.Runs++
	st.Skipped++
	st.LastRun = &at
}

func (s *RollupScheduler) recordFailure(tier models.Tier, at time.Time, cause error) {
	s.mu.Lock()
	st := s.statusLocked(tier)
	st.Runs++
	st.Failures++
	st.ConsecutiveFailures++
	st.LastRun = &at
	st.LastError = cause.Error()
	consecutive := st.ConsecutiveFailures
	notify := s.opts.FailureThreshold > 0 && consecutive >= s.opts.FailureThreshold && !st.notified
	if notify {
		st.notified = true
	}
	s.mu.Unlock()

	if notify && s.notifier != nil {
		if err := s.notifier.NotifyRollupFailure(tier.Name, consecutive, cause); err != nil {
			log.Printf("Failed to send %s failure notification: %v", tier.Name, err)
		}
	}
}

func (s *RollupScheduler) statusLocked(tier models.Tier) *TierStatus {
	st, ok := s.status[tier.Name]
	if !ok {
		st = &TierStatus{Tier: tier.Name}
		s.status[tier.Name] = st
	}
	return st
}

// Statuses returns a copy of every tier's status, ordered by tier name
func (s *RollupScheduler) Statuses() []TierStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TierStatus, 0, len(s.status))
	for _, st := range s.status {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tier < out[j].Tier })
	return out
}

// StatusText renders Statuses for chat
func (s *RollupScheduler) StatusText() string {
	var b strings.Builder
	for _, st := range s.Statuses() {
		window := "never"
		if st.LastWindow != nil {
			window = st.LastWindow.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(&b, "**%s**: last window %s, %d runs, %d failures (%d in a row)",
			st.Tier, window, st.Runs, st.Failures, st.ConsecutiveFailures)
		if st.LastError != "" {
			fmt.Fprintf(&b, ", last error: %s", st.LastError)
		}
		b.WriteString("\n")
	}
	return b.String()
}
