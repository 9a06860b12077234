package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"flux/models"
	"flux/utils"
)

const DefaultMaxEntityMetrics = 500

// EventReader is the read side of the raw event collections
type EventReader interface {
	CountDistinct(ctx context.Context, collection, key string, filter bson.M) (int, error)
	GroupDevices(ctx context.Context, since time.Time, limit int) ([]bson.M, error)
	GroupAccessPoints(ctx context.Context, since time.Time, limit int) ([]bson.M, error)
}

type SnapshotWriter interface {
	InsertSnapshot(ctx context.Context, snapshot *models.MetricsSnapshot) error
}

// Names recorded in degraded_fields
const (
	FieldDevicesTotal     = "devices.total"
	FieldDevicesActive    = "devices.active"
	FieldDevicesConnected = "devices.connected"
	FieldAPsTotal         = "access_points.total"
	FieldAPsActive        = "access_points.active"
	FieldDeviceMetrics    = "device_metrics"
	FieldAPMetrics        = "ap_metrics"
)

// SnapshotBuilder turns the raw events of one window into a stored snapshot
type SnapshotBuilder struct {
	events      EventReader
	store       SnapshotWriter
	maxEntities int
}

func NewSnapshotBuilder(events EventReader, store SnapshotWriter, maxEntities int) *SnapshotBuilder {
	if maxEntities <= 0 {
		maxEntities = DefaultMaxEntityMetrics
	}
	return &SnapshotBuilder{
		events:      events,
		store:       store,
		maxEntities: maxEntities,
	}
}

// Build computes the snapshot for the window containing now and inserts it.
// A failed sub-query zeroes its aggregate and is listed in DegradedFields;
// only the insert error is returned. Nothing is written once ctx is done.
func (b *SnapshotBuilder) Build(ctx context.Context, tier models.Tier, now time.Time) (*models.MetricsSnapshot, error) {
	snapshot := b.assemble(ctx, tier, now)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s rollup abandoned before insert: %w", tier.Name, err)
	}

	if err := b.store.InsertSnapshot(ctx, snapshot); err != nil {
		return snapshot, err
	}
	return snapshot, nil
}

func (b *SnapshotBuilder) assemble(ctx context.Context, tier models.Tier, now time.Time) *models.MetricsSnapshot {
	activeCutoff := now.UTC().Add(-tier.Window)
	active := bson.M{"timestamp": bson.M{"$gte": activeCutoff}}

	snapshot := &models.MetricsSnapshot{
		Timestamp:     tier.Truncate(now),
		Tier:          tier.Name,
		DeviceMetrics: []models.DeviceMetric{},
		APMetrics:     []models.APMetric{},
	}

	degrade := func(field string, err error) {
		log.Printf("%s rollup: %s query failed, writing zero: %v", tier.Name, field, err)
		snapshot.DegradedFields = append(snapshot.DegradedFields, field)
	}

	count := func(field, collection, key string, filter bson.M) int {
		n, err := b.events.CountDistinct(ctx, collection, key, filter)
		if err != nil {
			degrade(field, err)
			return 0
		}
		return n
	}

	snapshot.Devices.Total = count(FieldDevicesTotal, models.CollectionDeviceEvents, "mac_address", bson.M{})
	snapshot.Devices.Active = count(FieldDevicesActive, models.CollectionDeviceEvents, "mac_address", active)
	snapshot.Devices.Connected = count(FieldDevicesConnected, models.CollectionDeviceEvents, "mac_address",
		bson.M{"timestamp": bson.M{"$gte": activeCutoff}, "connected": true})

	snapshot.AccessPoints.Total = count(FieldAPsTotal, models.CollectionAccessPointEvents, "bssid", bson.M{})
	snapshot.AccessPoints.Active = count(FieldAPsActive, models.CollectionAccessPointEvents, "bssid", active)

	if rows, err := b.events.GroupDevices(ctx, activeCutoff, b.maxEntities); err != nil {
		degrade(FieldDeviceMetrics, err)
	} else {
		snapshot.DeviceMetrics = deviceMetricsFromRows(rows, b.maxEntities)
	}

	if rows, err := b.events.GroupAccessPoints(ctx, activeCutoff, b.maxEntities); err != nil {
		degrade(FieldAPMetrics, err)
	} else {
		snapshot.APMetrics = apMetricsFromRows(rows, b.maxEntities)
	}

	return snapshot
}

func deviceMetricsFromRows(rows []bson.M, limit int) []models.DeviceMetric {
	if len(rows) > limit {
		rows = rows[:limit]
	}

	out := make([]models.DeviceMetric, 0, len(rows))
	for _, row := range rows {
		metric := models.DeviceMetric{
			MACAddress:  utils.ToString(row["_id"]),
			Vendor:      utils.ToString(row["vendor"]),
			PacketCount: utils.ToInt(row["packet_count"]),
			DataFrames:  utils.ToInt64(row["data_frames"]),
			DataBytes:   utils.ToInt64(row["data_bytes"]),
			Connected:   utils.ToBool(row["connected"]),
		}
		if ts, ok := utils.ToTime(row["last_seen"]); ok {
			metric.LastSeen = ts.UTC()
		}
		metric.RSSIAvg, metric.RSSIMin, metric.RSSIMax = utils.CalculateRSSIStats(utils.ToIntSlice(row["rssi_values"]))
		out = append(out, metric)
	}
	return out
}

func apMetricsFromRows(rows []bson.M, limit int) []models.APMetric {
	if len(rows) > limit {
		rows = rows[:limit]
	}

	out := make([]models.APMetric, 0, len(rows))
	for _, row := range rows {
		metric := models.APMetric{
			BSSID:       utils.ToString(row["_id"]),
			SSID:        utils.ToString(row["ssid"]),
			Channel:     utils.ToInt(row["channel"]),
			Encryption:  utils.ToString(row["encryption"]),
			BeaconCount: utils.ToInt(row["beacon_count"]),
		}
		if ts, ok := utils.ToTime(row["last_seen"]); ok {
			metric.LastSeen = ts.UTC()
		}
		metric.RSSIAvg, metric.RSSIMin, metric.RSSIMax = utils.CalculateRSSIStats(utils.ToIntSlice(row["rssi_values"]))
		out = append(out, metric)
	}
	return out
}
