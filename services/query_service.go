package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"flux/metrics"
	"flux/models"
)

const (
	DefaultQueryRange   = 24 * time.Hour
	DefaultHistoryLimit = 1000
)

// SnapshotStore is the persistence contract for tier snapshots
type SnapshotStore interface {
	SnapshotWriter
	FindSnapshots(ctx context.Context, tier models.Tier, start, end time.Time, limit int) ([]models.MetricsSnapshot, error)
	FindSnapshotCounts(ctx context.Context, tier models.Tier, start, end time.Time) ([]models.MetricsSnapshot, error)
	FindSnapshotsWithDevice(ctx context.Context, tier models.Tier, mac string, start, end time.Time) ([]models.MetricsSnapshot, error)
}

// LatestCache holds the newest snapshot per tier
type LatestCache interface {
	GetLatest(ctx context.Context, tier models.Tier) (*models.MetricsSnapshot, bool)
	SetLatest(ctx context.Context, snapshot *models.MetricsSnapshot)
}

// RangeQuery selects snapshots of one tier. Zero End means now, zero Start
// means DefaultQueryRange before End.
type RangeQuery struct {
	Tier  string
	Start time.Time
	End   time.Time
}

type HistoryQuery struct {
	RangeQuery
	Limit int
}

type DeviceHistoryQuery struct {
	RangeQuery
	MAC string
}

type HistoryResult struct {
	Tier      string                   `json:"tier"`
	Start     time.Time                `json:"start"`
	End       time.Time                `json:"end"`
	Count     int                      `json:"count"`
	Snapshots []models.MetricsSnapshot `json:"snapshots"`
}

type DeviceHistoryResult struct {
	MACAddress string                      `json:"mac_address"`
	Tier       string                      `json:"tier"`
	Start      time.Time                   `json:"start"`
	End        time.Time                   `json:"end"`
	Count      int                         `json:"count"`
	History    []models.DeviceHistoryPoint `json:"history"`
}

// SummaryResult carries either a summary or NoData when the range held no snapshots
type SummaryResult struct {
	Summary *models.MetricsSummary
	NoData  bool
	Tier    string
	Start   time.Time
	End     time.Time
}

// QueryService is the read-only view over stored snapshots
type QueryService struct {
	store SnapshotStore
	cache LatestCache
	now   func() time.Time

	// collapses concurrent cache misses for the same tier
	latest singleflight.Group
}

func NewQueryService(store SnapshotStore, cache LatestCache) *QueryService {
	return &QueryService{
		store: store,
		cache: cache,
		now:   time.Now,
	}
}

type resolvedRange struct {
	tier models.Tier
	// as requested, echoed back to callers
	start, end time.Time
	// start clamped to the retention floor
	from time.Time
}

func (r resolvedRange) empty() bool {
	return r.from.After(r.end)
}

// resolve validates the tier before any storage access and hides documents
// that are past retention but not yet swept by the TTL monitor.
func (qs *QueryService) resolve(q RangeQuery) (resolvedRange, error) {
	tier, err := models.LookupTier(q.Tier)
	if err != nil {
		return resolvedRange{}, fmt.Errorf("%w: %v", ErrInvalidTier, err)
	}

	now := qs.now().UTC()
	end := q.End.UTC()
	if q.End.IsZero() {
		end = now
	}
	start := q.Start.UTC()
	if q.Start.IsZero() {
		start = end.Add(-DefaultQueryRange)
	}
	if start.After(end) {
		return resolvedRange{}, ErrInvalidTimeRange
	}

	from := start
	if floor := now.Add(-tier.Retention); from.Before(floor) {
		from = floor
	}

	return resolvedRange{tier: tier, start: start, end: end, from: from}, nil
}

// History returns snapshots in [start, end], newest first
func (qs *QueryService) History(ctx context.Context, q HistoryQuery) (*HistoryResult, error) {
	began := time.Now()

	r, err := qs.resolve(q.RangeQuery)
	if err != nil {
		return nil, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > DefaultHistoryLimit {
		limit = DefaultHistoryLimit
	}

	result := &HistoryResult{
		Tier:      r.tier.Name,
		Start:     r.start,
		End:       r.end,
		Snapshots: []models.MetricsSnapshot{},
	}

	if !r.empty() {
		snapshots, err := qs.store.FindSnapshots(ctx, r.tier, r.from, r.end, limit)
		if err != nil {
			metrics.ObserveQuery("history", metrics.ResultError, time.Since(began))
			return nil, fmt.Errorf("find %s snapshots: %w", r.tier.Name, err)
		}
		result.Snapshots = snapshots
	}

	result.Count = len(result.Snapshots)
	metrics.ObserveQuery("history", metrics.ResultSuccess, time.Since(began))
	return result, nil
}

// DeviceHistory returns one point per snapshot in which the device was active,
// oldest first
func (qs *QueryService) DeviceHistory(ctx context.Context, q DeviceHistoryQuery) (*DeviceHistoryResult, error) {
	began := time.Now()

	r, err := qs.resolve(q.RangeQuery)
	if err != nil {
		return nil, err
	}

	result := &DeviceHistoryResult{
		MACAddress: q.MAC,
		Tier:       r.tier.Name,
		Start:      r.start,
		End:        r.end,
		History:    []models.DeviceHistoryPoint{},
	}

	if !r.empty() {
		snapshots, err := qs.store.FindSnapshotsWithDevice(ctx, r.tier, q.MAC, r.from, r.end)
		if err != nil {
			metrics.ObserveQuery("device_history", metrics.ResultError, time.Since(began))
			return nil, fmt.Errorf("find %s snapshots for %s: %w", r.tier.Name, q.MAC, err)
		}

		for i := range snapshots {
			if metric, ok := snapshots[i].FindDevice(q.MAC); ok {
				result.History = append(result.History, models.DeviceHistoryPoint{
					Timestamp: snapshots[i].Timestamp,
					Metric:    metric,
				})
			}
		}
		sort.SliceStable(result.History, func(i, j int) bool {
			return result.History[i].Timestamp.Before(result.History[j].Timestamp)
		})
	}

	result.Count = len(result.History)
	metrics.ObserveQuery("device_history", metrics.ResultSuccess, time.Since(began))
	return result, nil
}

// Summary averages and maximizes fleet counters over every snapshot in range
func (qs *QueryService) Summary(ctx context.Context, q RangeQuery) (*SummaryResult, error) {
	began := time.Now()

	r, err := qs.resolve(q)
	if err != nil {
		return nil, err
	}

	result := &SummaryResult{Tier: r.tier.Name, Start: r.start, End: r.end}

	var snapshots []models.MetricsSnapshot
	if !r.empty() {
		// unbounded: the summary must see every snapshot in range, counters only
		snapshots, err = qs.store.FindSnapshotCounts(ctx, r.tier, r.from, r.end)
		if err != nil {
			metrics.ObserveQuery("summary", metrics.ResultError, time.Since(began))
			return nil, fmt.Errorf("find %s snapshots: %w", r.tier.Name, err)
		}
	}

	if len(snapshots) == 0 {
		result.NoData = true
		metrics.ObserveQuery("summary", metrics.ResultSuccess, time.Since(began))
		return result, nil
	}

	summary := summarize(snapshots)
	summary.Tier = r.tier.Name
	summary.Start = r.start
	summary.End = r.end
	result.Summary = summary

	metrics.ObserveQuery("summary", metrics.ResultSuccess, time.Since(began))
	return result, nil
}

func summarize(snapshots []models.MetricsSnapshot) *models.MetricsSummary {
	var (
		sumTotal, sumActive, sumConnected int
		sumAPTotal, sumAPActive           int
		s                                 models.MetricsSummary
	)

	for _, snap := range snapshots {
		sumTotal += snap.Devices.Total
		sumActive += snap.Devices.Active
		sumConnected += snap.Devices.Connected
		sumAPTotal += snap.AccessPoints.Total
		sumAPActive += snap.AccessPoints.Active

		if snap.Devices.Total > s.Devices.MaxTotal {
			s.Devices.MaxTotal = snap.Devices.Total
		}
		if snap.Devices.Active > s.Devices.MaxActive {
			s.Devices.MaxActive = snap.Devices.Active
		}
		if snap.AccessPoints.Total > s.AccessPoints.MaxTotal {
			s.AccessPoints.MaxTotal = snap.AccessPoints.Total
		}
		if snap.AccessPoints.Active > s.AccessPoints.MaxActive {
			s.AccessPoints.MaxActive = snap.AccessPoints.Active
		}
	}

	n := float64(len(snapshots))
	s.DataPoints = len(snapshots)
	s.Devices.AvgTotal = float64(sumTotal) / n
	s.Devices.AvgActive = float64(sumActive) / n
	s.Devices.AvgConnected = float64(sumConnected) / n
	s.AccessPoints.AvgTotal = float64(sumAPTotal) / n
	s.AccessPoints.AvgActive = float64(sumAPActive) / n
	return &s
}

// Latest returns the newest snapshot of a tier, from cache when possible
func (qs *QueryService) Latest(ctx context.Context, tierName string) (*models.MetricsSnapshot, error) {
	began := time.Now()

	tier, err := models.LookupTier(tierName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTier, err)
	}

	if qs.cache != nil {
		if snap, ok := qs.cache.GetLatest(ctx, tier); ok {
			metrics.ObserveQuery("latest", metrics.ResultSuccess, time.Since(began))
			return snap, nil
		}
	}

	v, err, _ := qs.latest.Do(tier.Name, func() (interface{}, error) {
		now := qs.now().UTC()
		snapshots, err := qs.store.FindSnapshots(ctx, tier, now.Add(-tier.Retention), now, 1)
		if err != nil {
			return nil, fmt.Errorf("find latest %s snapshot: %w", tier.Name, err)
		}
		if len(snapshots) == 0 {
			return nil, fmt.Errorf("%s: %w", tier.Name, ErrNoSnapshot)
		}
		snap := &snapshots[0]
		if qs.cache != nil {
			qs.cache.SetLatest(ctx, snap)
		}
		return snap, nil
	})
	if err != nil {
		result := metrics.ResultError
		if errors.Is(err, ErrNoSnapshot) {
			result = metrics.ResultSuccess
		}
		metrics.ObserveQuery("latest", result, time.Since(began))
		return nil, err
	}

	metrics.ObserveQuery("latest", metrics.ResultSuccess, time.Since(began))
	return v.(*models.MetricsSnapshot), nil
}
