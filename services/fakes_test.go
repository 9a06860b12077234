package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"flux/models"
)

// fakeEvents is an in-memory EventReader that understands the filters the
// builder issues: an optional timestamp $gte and an optional connected flag.
type fakeEvents struct {
	mu      sync.Mutex
	devices []models.DeviceEvent
	aps     []models.AccessPointEvent

	countErr   func(collection string, filter bson.M) error
	devicesErr error
	apsErr     error

	// called before every query, lets tests block or cancel mid-build
	onQuery func(ctx context.Context)
}

func (f *fakeEvents) hook(ctx context.Context) {
	if f.onQuery != nil {
		f.onQuery(ctx)
	}
}

func filterSince(filter bson.M) (time.Time, bool) {
	ts, ok := filter["timestamp"].(bson.M)
	if !ok {
		return time.Time{}, false
	}
	since, ok := ts["$gte"].(time.Time)
	return since, ok
}

func (f *fakeEvents) CountDistinct(ctx context.Context, collection, key string, filter bson.M) (int, error) {
	f.hook(ctx)
	if f.countErr != nil {
		if err := f.countErr(collection, filter); err != nil {
			return 0, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	since, hasSince := filterSince(filter)
	wantConnected, hasConnected := filter["connected"].(bool)

	seen := map[string]struct{}{}
	switch collection {
	case models.CollectionDeviceEvents:
		for _, e := range f.devices {
			if hasSince && e.Timestamp.Before(since) {
				continue
			}
			if hasConnected && e.Connected != wantConnected {
				continue
			}
			seen[e.MACAddress] = struct{}{}
		}
	case models.CollectionAccessPointEvents:
		for _, e := range f.aps {
			if hasSince && e.Timestamp.Before(since) {
				continue
			}
			seen[e.BSSID] = struct{}{}
		}
	default:
		return 0, fmt.Errorf("unknown collection %s", collection)
	}
	return len(seen), nil
}

func (f *fakeEvents) GroupDevices(ctx context.Context, since time.Time, limit int) ([]bson.M, error) {
	f.hook(ctx)
	if f.devicesErr != nil {
		return nil, f.devicesErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	events := append([]models.DeviceEvent(nil), f.devices...)
	sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp.Before(events[j].Timestamp) })

	rows := map[string]bson.M{}
	var order []string
	for _, e := range events {
		if e.Timestamp.Before(since) {
			continue
		}
		row, ok := rows[e.MACAddress]
		if !ok {
			row = bson.M{"_id": e.MACAddress, "packet_count": int32(0), "data_frames": int64(0), "data_bytes": int64(0), "rssi_values": bson.A{}}
			rows[e.MACAddress] = row
			order = append(order, e.MACAddress)
		}
		row["vendor"] = e.Vendor
		row["connected"] = e.Connected
		row["packet_count"] = row["packet_count"].(int32) + 1
		row["data_frames"] = row["data_frames"].(int64) + int64(e.DataFrameCount)
		row["data_bytes"] = row["data_bytes"].(int64) + e.DataByteCount
		row["rssi_values"] = append(row["rssi_values"].(bson.A), int32(e.RSSI))
		row["last_seen"] = e.Timestamp
	}
	return sortAndLimit(rows, order, limit), nil
}

func (f *fakeEvents) GroupAccessPoints(ctx context.Context, since time.Time, limit int) ([]bson.M, error) {
	f.hook(ctx)
	if f.apsErr != nil {
		return nil, f.apsErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	events := append([]models.AccessPointEvent(nil), f.aps...)
	sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp.Before(events[j].Timestamp) })

	rows := map[string]bson.M{}
	var order []string
	for _, e := range events {
		if e.Timestamp.Before(since) {
			continue
		}
		row, ok := rows[e.BSSID]
		if !ok {
			row = bson.M{"_id": e.BSSID, "beacon_count": int32(0), "rssi_values": bson.A{}}
			rows[e.BSSID] = row
			order = append(order, e.BSSID)
		}
		row["ssid"] = e.SSID
		row["channel"] = int32(e.Channel)
		row["encryption"] = e.Encryption
		row["beacon_count"] = row["beacon_count"].(int32) + 1
		row["rssi_values"] = append(row["rssi_values"].(bson.A), int32(e.RSSI))
		row["last_seen"] = e.Timestamp
	}
	return sortAndLimit(rows, order, limit), nil
}

func sortAndLimit(rows map[string]bson.M, order []string, limit int) []bson.M {
	out := make([]bson.M, 0, len(order))
	for _, key := range order {
		out = append(out, rows[key])
	}
	sort.SliceStable(out, func(i, j int) bool {
		ti := out[i]["last_seen"].(time.Time)
		tj := out[j]["last_seen"].(time.Time)
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return out[i]["_id"].(string) < out[j]["_id"].(string)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// fakeStore is an in-memory snapshot store with the unique (tier, timestamp) rule.
type fakeStore struct {
	mu        sync.Mutex
	snapshots map[string][]models.MetricsSnapshot
	inserts   int
	insertErr error
	findErr   error

	// inserts fail with insertErr until this many attempts have been made
	failInserts int
	attempts    int
	countReads  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{snapshots: map[string][]models.MetricsSnapshot{}}
}

func (s *fakeStore) InsertSnapshot(ctx context.Context, snapshot *models.MetricsSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts++
	if s.insertErr != nil && (s.failInserts == 0 || s.attempts <= s.failInserts) {
		return s.insertErr
	}
	for _, existing := range s.snapshots[snapshot.Tier] {
		if existing.Timestamp.Equal(snapshot.Timestamp) {
			return fmt.Errorf("%s at %s: %w", snapshot.Tier, snapshot.Timestamp, ErrDuplicateSnapshot)
		}
	}
	s.snapshots[snapshot.Tier] = append(s.snapshots[snapshot.Tier], *snapshot)
	s.inserts++
	return nil
}

func (s *fakeStore) FindSnapshots(ctx context.Context, tier models.Tier, start, end time.Time, limit int) ([]models.MetricsSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.findErr != nil {
		return nil, s.findErr
	}

	out := []models.MetricsSnapshot{}
	for _, snap := range s.snapshots[tier.Name] {
		if snap.Timestamp.Before(start) || snap.Timestamp.After(end) {
			continue
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) FindSnapshotCounts(ctx context.Context, tier models.Tier, start, end time.Time) ([]models.MetricsSnapshot, error) {
	all, err := s.FindSnapshots(ctx, tier, start, end, 0)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.countReads++
	s.mu.Unlock()

	for i := range all {
		all[i].DeviceMetrics = nil
		all[i].APMetrics = nil
	}
	return all, nil
}

// Returns newest first on purpose; callers must not rely on store order.
func (s *fakeStore) FindSnapshotsWithDevice(ctx context.Context, tier models.Tier, mac string, start, end time.Time) ([]models.MetricsSnapshot, error) {
	all, err := s.FindSnapshots(ctx, tier, start, end, 0)
	if err != nil {
		return nil, err
	}

	out := []models.MetricsSnapshot{}
	for _, snap := range all {
		if _, ok := snap.FindDevice(mac); ok {
			out = append(out, snap)
		}
	}
	return out, nil
}

func (s *fakeStore) count(tier string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots[tier])
}

func (s *fakeStore) put(snaps ...models.MetricsSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range snaps {
		s.snapshots[snap.Tier] = append(s.snapshots[snap.Tier], snap)
	}
}

func mustTier(name string) models.Tier {
	tier, err := models.LookupTier(name)
	if err != nil {
		panic(err)
	}
	return tier
}
