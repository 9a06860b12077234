package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flux/models"
)

type fakeBuilder struct {
	mu     sync.Mutex
	calls  map[string]int
	build  func(ctx context.Context, tier models.Tier, now time.Time) (*models.MetricsSnapshot, error)
	called chan string
}

func newFakeBuilder(build func(ctx context.Context, tier models.Tier, now time.Time) (*models.MetricsSnapshot, error)) *fakeBuilder {
	return &fakeBuilder{calls: map[string]int{}, build: build, called: make(chan string, 64)}
}

func (b *fakeBuilder) Build(ctx context.Context, tier models.Tier, now time.Time) (*models.MetricsSnapshot, error) {
	b.mu.Lock()
	b.calls[tier.Name]++
	b.mu.Unlock()

	select {
	case b.called <- tier.Name:
	default:
	}
	return b.build(ctx, tier, now)
}

func okBuild(_ context.Context, tier models.Tier, now time.Time) (*models.MetricsSnapshot, error) {
	snap := snapAt(tier.Name, tier.Truncate(now), 3)
	return &snap, nil
}

type fakeNotifier struct {
	mu         sync.Mutex
	failures   []int
	recoveries int
}

func (n *fakeNotifier) NotifyRollupFailure(_ string, consecutive int, _ error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, consecutive)
	return nil
}

func (n *fakeNotifier) NotifyRollupRecovered(string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.recoveries++
	return nil
}

func fixedClock() time.Time { return buildNow }

func TestRunOnce_Success(t *testing.T) {
	cache := newMapCache()
	s := NewRollupScheduler(newFakeBuilder(okBuild), cache, nil, SchedulerOptions{Clock: fixedClock})
	tier := mustTier("5m")

	require.NoError(t, s.RunOnce(context.Background(), tier))

	got, ok := cache.GetLatest(context.Background(), tier)
	require.True(t, ok)
	assert.True(t, got.Timestamp.Equal(tier.Truncate(buildNow)))

	var st TierStatus
	for _, x := range s.Statuses() {
		if x.Tier == "5m" {
			st = x
		}
	}
	assert.Equal(t, int64(1), st.Runs)
	require.NotNil(t, st.LastWindow)
	assert.True(t, st.LastWindow.Equal(tier.Truncate(buildNow)))
	assert.Contains(t, s.StatusText(), "**5m**: last window 2026-03-14T15:05:00Z")
}

func TestRunOnce_DuplicateIsSkipped(t *testing.T) {
	b := newFakeBuilder(func(context.Context, models.Tier, time.Time) (*models.MetricsSnapshot, error) {
		return nil, fmt.Errorf("1m: %w", ErrDuplicateSnapshot)
	})
	n := &fakeNotifier{}
	s := NewRollupScheduler(b, newMapCache(), n, SchedulerOptions{Clock: fixedClock, FailureThreshold: 1})

	err := s.RunOnce(context.Background(), mustTier("1m"))
	assert.ErrorIs(t, err, ErrDuplicateSnapshot)

	for _, st := range s.Statuses() {
		if st.Tier == "1m" {
			assert.Equal(t, int64(1), st.Skipped)
			assert.Equal(t, int64(0), st.Failures)
			assert.Equal(t, 0, st.ConsecutiveFailures)
		}
	}
	assert.Empty(t, n.failures)
}

func TestRunOnce_FailureThresholdAndRecovery(t *testing.T) {
	var fail bool
	var mu sync.Mutex
	b := newFakeBuilder(func(ctx context.Context, tier models.Tier, now time.Time) (*models.MetricsSnapshot, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return nil, errors.New("insert: no reachable servers")
		}
		return okBuild(ctx, tier, now)
	})
	n := &fakeNotifier{}
	s := NewRollupScheduler(b, nil, n, SchedulerOptions{Clock: fixedClock, FailureThreshold: 3})
	tier := mustTier("1h")
	ctx := context.Background()

	mu.Lock()
	fail = true
	mu.Unlock()

	for i := 0; i < 5; i++ {
		assert.Error(t, s.RunOnce(ctx, tier))
	}
	assert.Equal(t, []int{3}, n.failures, "notified once when the threshold is reached")
	assert.Equal(t, 0, n.recoveries)

	mu.Lock()
	fail = false
	mu.Unlock()

	require.NoError(t, s.RunOnce(ctx, tier))
	require.NoError(t, s.RunOnce(ctx, tier))
	assert.Equal(t, 1, n.recoveries)

	for _, st := range s.Statuses() {
		if st.Tier == "1h" {
			assert.Equal(t, int64(5), st.Failures)
			assert.Equal(t, 0, st.ConsecutiveFailures)
			assert.Empty(t, st.LastError)
		}
	}
}

func TestRunOnce_NoRecoveryWithoutPriorAlert(t *testing.T) {
	calls := 0
	b := newFakeBuilder(func(ctx context.Context, tier models.Tier, now time.Time) (*models.MetricsSnapshot, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("transient")
		}
		return okBuild(ctx, tier, now)
	})
	n := &fakeNotifier{}
	s := NewRollupScheduler(b, nil, n, SchedulerOptions{Clock: fixedClock, FailureThreshold: 3})

	assert.Error(t, s.RunOnce(context.Background(), mustTier("1m")))
	assert.NoError(t, s.RunOnce(context.Background(), mustTier("1m")))
	assert.Empty(t, n.failures)
	assert.Equal(t, 0, n.recoveries)
}

func TestRunOnce_DeadlineAbortsWithoutInsert(t *testing.T) {
	store := newFakeStore()
	events := &fakeEvents{
		onQuery: func(ctx context.Context) { <-ctx.Done() },
	}
	builder := NewSnapshotBuilder(events, store, 500)
	s := NewRollupScheduler(builder, nil, nil, SchedulerOptions{Clock: fixedClock, Deadline: 20 * time.Millisecond})

	err := s.RunOnce(context.Background(), mustTier("1m"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, store.count("1m"))

	for _, st := range s.Statuses() {
		if st.Tier == "1m" {
			assert.Equal(t, int64(1), st.Failures)
		}
	}
}

func TestScheduler_RunsEveryTierImmediatelyAndStops(t *testing.T) {
	b := newFakeBuilder(okBuild)
	s := NewRollupScheduler(b, newMapCache(), nil, SchedulerOptions{Clock: fixedClock})

	s.Start(context.Background())

	seen := map[string]bool{}
	timeout := time.After(2 * time.Second)
	for len(seen) < 3 {
		select {
		case name := <-b.called:
			seen[name] = true
		case <-timeout:
			t.Fatalf("tiers not run immediately, saw %v", seen)
		}
	}

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, tier := range models.AllTiers() {
		assert.Equal(t, 1, b.calls[tier.Name], "tier %s", tier.Name)
	}
}

func TestScheduler_StopAbandonsInFlightBuild(t *testing.T) {
	store := newFakeStore()
	started := make(chan struct{}, 3)
	events := &fakeEvents{
		onQuery: func(ctx context.Context) {
			select {
			case started <- struct{}{}:
			default:
			}
			<-ctx.Done()
		},
	}
	builder := NewSnapshotBuilder(events, store, 500)
	n := &fakeNotifier{}
	s := NewRollupScheduler(builder, nil, n, SchedulerOptions{
		Tiers:            []models.Tier{mustTier("1h")},
		Clock:            fixedClock,
		Deadline:         time.Minute,
		FailureThreshold: 1,
	})

	s.Start(context.Background())
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("build never started")
	}
	s.Stop()

	assert.Equal(t, 0, store.count("1h"))
	assert.Empty(t, n.failures)
	for _, st := range s.Statuses() {
		assert.Equal(t, int64(0), st.Failures)
	}
}

func TestStop_WithoutStart(t *testing.T) {
	s := NewRollupScheduler(newFakeBuilder(okBuild), nil, nil, SchedulerOptions{})
	s.Stop()
}

func TestRunOnce_ResumesAfterStoreOutage(t *testing.T) {
	store := newFakeStore()
	store.insertErr = errors.New("server selection error: connection refused")
	store.failInserts = 2

	tier := mustTier("1m")
	tick := buildNow
	clock := func() time.Time { return tick }

	builder := NewSnapshotBuilder(&fakeEvents{}, store, 500)
	s := NewRollupScheduler(builder, nil, nil, SchedulerOptions{Clock: clock})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		assert.Error(t, s.RunOnce(ctx, tier))
		tick = tick.Add(tier.Window)
	}
	assert.Equal(t, 0, store.count("1m"))

	require.NoError(t, s.RunOnce(ctx, tier))
	require.Equal(t, 1, store.count("1m"))

	snaps, err := store.FindSnapshots(ctx, tier, buildNow.Add(-time.Hour), tick, 0)
	require.NoError(t, err)
	assert.True(t, snaps[0].Timestamp.Equal(tier.Truncate(tick)))

	for _, st := range s.Statuses() {
		if st.Tier == "1m" {
			assert.Equal(t, int64(2), st.Failures)
			assert.Equal(t, 0, st.ConsecutiveFailures)
		}
	}
}
