package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"flux/config"
	"flux/models"
	"flux/utils"
)

type MongoDBService struct {
	client  *mongo.Client
	db      *mongo.Database
	enabled bool

	indexMu    sync.Mutex
	indexesSet bool
}

// NewMongoDBService connects lazily. An unreachable server at boot is logged
// and the service stays enabled, so rollups resume once MongoDB comes up.
func NewMongoDBService(cfg *config.Config) (*MongoDBService, error) {
	if !cfg.MongoDB.Enabled {
		log.Println("MongoDB is disabled in configuration")
		return &MongoDBService{enabled: false}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(cfg.MongoDB.URI)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	service := &MongoDBService{
		client:  client,
		db:      client.Database(cfg.MongoDB.Database),
		enabled: true,
	}

	if err := service.ensureIndexes(ctx); err != nil {
		log.Printf("⚠️  MongoDB not reachable yet (%v), will retry on the next rollup", err)
		return service, nil
	}

	log.Printf("MongoDB connected successfully to database: %s", cfg.MongoDB.Database)
	return service, nil
}

func (m *MongoDBService) Enabled() bool {
	return m.enabled
}

// ensureIndexes creates the indexes the first time the server answers a ping.
// Index errors are logged, not retried.
func (m *MongoDBService) ensureIndexes(ctx context.Context) error {
	if !m.enabled {
		return ErrMongoDisabled
	}

	m.indexMu.Lock()
	defer m.indexMu.Unlock()
	if m.indexesSet {
		return nil
	}

	if err := m.client.Ping(ctx, nil); err != nil {
		return err
	}

	if err := createIndexes(ctx, indexPlan(), m.createIndexSet); err != nil {
		log.Printf("Warning: Failed to create indexes: %v", err)
	}
	m.indexesSet = true
	return nil
}

func (m *MongoDBService) createIndexSet(ctx context.Context, collection string, indexes []mongo.IndexModel) error {
	_, err := m.db.Collection(collection).Indexes().CreateMany(ctx, indexes)
	return err
}

type collectionIndexes struct {
	collection string
	indexes    []mongo.IndexModel
}

// indexPlan lists retention and lookup indexes per collection. TTL expiry is
// what bounds storage, so a collection without its ttl_index grows forever.
func indexPlan() []collectionIndexes {
	plan := make([]collectionIndexes, 0, len(models.AllTiers())+2)
	for _, tier := range models.AllTiers() {
		plan = append(plan, collectionIndexes{tier.CollectionName(), snapshotIndexes(tier)})
	}

	eventTTL := int32(models.EventRetention / time.Second)

	plan = append(plan,
		collectionIndexes{models.CollectionDeviceEvents, []mongo.IndexModel{
			{
				Keys:    bson.D{{Key: "timestamp", Value: 1}},
				Options: options.Index().SetName("ttl_index").SetExpireAfterSeconds(eventTTL),
			},
			{
				Keys:    bson.D{{Key: "mac_address", Value: 1}, {Key: "timestamp", Value: -1}},
				Options: options.Index().SetName("mac_timestamp_index"),
			},
			{
				Keys:    bson.D{{Key: "event_type", Value: 1}, {Key: "timestamp", Value: -1}},
				Options: options.Index().SetName("event_type_timestamp_index"),
			},
		}},
		collectionIndexes{models.CollectionAccessPointEvents, []mongo.IndexModel{
			{
				Keys:    bson.D{{Key: "timestamp", Value: 1}},
				Options: options.Index().SetName("ttl_index").SetExpireAfterSeconds(eventTTL),
			},
			{
				Keys:    bson.D{{Key: "bssid", Value: 1}, {Key: "timestamp", Value: -1}},
				Options: options.Index().SetName("bssid_timestamp_index"),
			},
		}},
	)
	return plan
}

// createIndexes applies every collection of the plan even when an earlier one
// fails, and returns the collected errors.
func createIndexes(ctx context.Context, plan []collectionIndexes, create func(context.Context, string, []mongo.IndexModel) error) error {
	var errs []error
	for _, entry := range plan {
		if err := create(ctx, entry.collection, entry.indexes); err != nil {
			log.Printf("Warning: indexes for %s: %v", entry.collection, err)
			errs = append(errs, fmt.Errorf("indexes for %s: %w", entry.collection, err))
		}
	}
	return errors.Join(errs...)
}

// snapshotIndexes returns the TTL index and the unique (tier, timestamp) index.
// Uniqueness makes the first writer of a window win.
func snapshotIndexes(tier models.Tier) []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "timestamp", Value: 1}},
			Options: options.Index().SetName("ttl_index").SetExpireAfterSeconds(tier.RetentionSeconds()),
		},
		{
			Keys:    bson.D{{Key: "tier", Value: 1}, {Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("tier_timestamp_index").SetUnique(true),
		},
	}
}

func (m *MongoDBService) Ping(ctx context.Context) error {
	if !m.enabled {
		return ErrMongoDisabled
	}
	return m.client.Ping(ctx, nil)
}

func (m *MongoDBService) Close() error {
	if !m.enabled || m.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

// ============================================
// RAW EVENT READS
// ============================================

// CountDistinct counts distinct values of key among events matching filter
func (m *MongoDBService) CountDistinct(ctx context.Context, collection, key string, filter bson.M) (int, error) {
	if !m.enabled {
		return 0, ErrMongoDisabled
	}

	cursor, err := m.db.Collection(collection).Aggregate(ctx, distinctCountPipeline(key, filter))
	if err != nil {
		return 0, err
	}
	defer cursor.Close(ctx)

	var rows []bson.M
	if err := cursor.All(ctx, &rows); err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return utils.ToInt(rows[0]["n"]), nil
}

// GroupDevices returns one row per device seen since the cutoff, most recently seen first
func (m *MongoDBService) GroupDevices(ctx context.Context, since time.Time, limit int) ([]bson.M, error) {
	return m.group(ctx, models.CollectionDeviceEvents, deviceGroupPipeline(since, limit))
}

// GroupAccessPoints returns one row per access point seen since the cutoff, most recently seen first
func (m *MongoDBService) GroupAccessPoints(ctx context.Context, since time.Time, limit int) ([]bson.M, error) {
	return m.group(ctx, models.CollectionAccessPointEvents, apGroupPipeline(since, limit))
}

func (m *MongoDBService) group(ctx context.Context, collection string, pipeline mongo.Pipeline) ([]bson.M, error) {
	if !m.enabled {
		return nil, ErrMongoDisabled
	}

	cursor, err := m.db.Collection(collection).Aggregate(ctx, pipeline, options.Aggregate().SetAllowDiskUse(true))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var rows []bson.M
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func distinctCountPipeline(key string, filter bson.M) mongo.Pipeline {
	if filter == nil {
		filter = bson.M{}
	}
	return mongo.Pipeline{
		{{Key: "$match", Value: filter}},
		{{Key: "$group", Value: bson.M{"_id": "$" + key}}},
		{{Key: "$count", Value: "n"}},
	}
}

// Descriptive fields take the value of the newest event, so input is sorted
// by timestamp before grouping.
func deviceGroupPipeline(since time.Time, limit int) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"timestamp": bson.M{"$gte": since}}}},
		{{Key: "$sort", Value: bson.D{{Key: "timestamp", Value: 1}}}},
		{{Key: "$group", Value: bson.M{
			"_id":          "$mac_address",
			"vendor":       bson.M{"$last": "$vendor"},
			"connected":    bson.M{"$last": "$connected"},
			"packet_count": bson.M{"$sum": 1},
			"data_frames":  bson.M{"$sum": bson.M{"$ifNull": bson.A{"$data_frame_count", 0}}},
			"data_bytes":   bson.M{"$sum": bson.M{"$ifNull": bson.A{"$data_byte_count", 0}}},
			"rssi_values":  bson.M{"$push": "$rssi"},
			"last_seen":    bson.M{"$max": "$timestamp"},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "last_seen", Value: -1}, {Key: "_id", Value: 1}}}},
		{{Key: "$limit", Value: int64(limit)}},
	}
}

func apGroupPipeline(since time.Time, limit int) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"timestamp": bson.M{"$gte": since}}}},
		{{Key: "$sort", Value: bson.D{{Key: "timestamp", Value: 1}}}},
		{{Key: "$group", Value: bson.M{
			"_id":          "$bssid",
			"ssid":         bson.M{"$last": "$ssid"},
			"channel":      bson.M{"$last": "$channel"},
			"encryption":   bson.M{"$last": "$encryption"},
			"beacon_count": bson.M{"$sum": 1},
			"rssi_values":  bson.M{"$push": "$rssi"},
			"last_seen":    bson.M{"$max": "$timestamp"},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "last_seen", Value: -1}, {Key: "_id", Value: 1}}}},
		{{Key: "$limit", Value: int64(limit)}},
	}
}

// ============================================
// SNAPSHOT STORE
// ============================================

func (m *MongoDBService) InsertSnapshot(ctx context.Context, snapshot *models.MetricsSnapshot) error {
	if !m.enabled {
		return ErrMongoDisabled
	}

	tier, err := models.LookupTier(snapshot.Tier)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTier, err)
	}

	if err := m.ensureIndexes(ctx); err != nil {
		return fmt.Errorf("insert %s snapshot: %w", tier.Name, err)
	}

	_, err = m.db.Collection(tier.CollectionName()).InsertOne(ctx, snapshot)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%s at %s: %w", tier.Name, snapshot.Timestamp.Format(time.RFC3339), ErrDuplicateSnapshot)
	}
	return err
}

// FindSnapshots returns snapshots in [start, end], newest first
func (m *MongoDBService) FindSnapshots(ctx context.Context, tier models.Tier, start, end time.Time, limit int) ([]models.MetricsSnapshot, error) {
	if !m.enabled {
		return nil, ErrMongoDisabled
	}

	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	return m.findSnapshots(ctx, tier, snapshotRangeFilter(tier, start, end), opts)
}

// FindSnapshotCounts returns snapshots in [start, end] with only the fleet
// counters loaded, newest first. Per-entity metrics are left empty.
func (m *MongoDBService) FindSnapshotCounts(ctx context.Context, tier models.Tier, start, end time.Time) ([]models.MetricsSnapshot, error) {
	if !m.enabled {
		return nil, ErrMongoDisabled
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetProjection(countsProjection())

	return m.findSnapshots(ctx, tier, snapshotRangeFilter(tier, start, end), opts)
}

func snapshotRangeFilter(tier models.Tier, start, end time.Time) bson.M {
	return bson.M{
		"tier": tier.Name,
		"timestamp": bson.M{
			"$gte": start,
			"$lte": end,
		},
	}
}

func countsProjection() bson.M {
	return bson.M{
		"timestamp":     1,
		"tier":          1,
		"devices":       1,
		"access_points": 1,
	}
}

func (m *MongoDBService) findSnapshots(ctx context.Context, tier models.Tier, filter bson.M, opts *options.FindOptions) ([]models.MetricsSnapshot, error) {
	cursor, err := m.db.Collection(tier.CollectionName()).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	snapshots := []models.MetricsSnapshot{}
	if err := cursor.All(ctx, &snapshots); err != nil {
		return nil, err
	}
	return snapshots, nil
}

// FindSnapshotsWithDevice returns snapshots in [start, end] in which mac was active.
// Only the matching device metric is projected back.
func (m *MongoDBService) FindSnapshotsWithDevice(ctx context.Context, tier models.Tier, mac string, start, end time.Time) ([]models.MetricsSnapshot, error) {
	if !m.enabled {
		return nil, ErrMongoDisabled
	}

	filter := snapshotRangeFilter(tier, start, end)
	filter["device_metrics.mac_address"] = mac

	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: 1}}).
		SetProjection(bson.M{
			"timestamp":      1,
			"tier":           1,
			"device_metrics": bson.M{"$elemMatch": bson.M{"mac_address": mac}},
		})

	return m.findSnapshots(ctx, tier, filter, opts)
}

// CollectionStats reports document counts and time span per tier collection
func (m *MongoDBService) CollectionStats(ctx context.Context) ([]models.TierCollectionStats, error) {
	if !m.enabled {
		return nil, ErrMongoDisabled
	}

	stats := make([]models.TierCollectionStats, 0, len(models.AllTiers()))
	for _, tier := range models.AllTiers() {
		coll := m.db.Collection(tier.CollectionName())

		count, err := coll.CountDocuments(ctx, bson.M{})
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", tier.CollectionName(), err)
		}

		entry := models.TierCollectionStats{
			Tier:      tier.Name,
			Documents: count,
			Retention: tier.Retention.String(),
		}

		if ts, err := m.boundaryTimestamp(ctx, coll, 1); err == nil {
			entry.Oldest = ts
		}
		if ts, err := m.boundaryTimestamp(ctx, coll, -1); err == nil {
			entry.Newest = ts
		}

		stats = append(stats, entry)
	}
	return stats, nil
}

func (m *MongoDBService) boundaryTimestamp(ctx context.Context, coll *mongo.Collection, order int) (*time.Time, error) {
	var doc struct {
		Timestamp time.Time `bson:"timestamp"`
	}
	opts := options.FindOne().
		SetSort(bson.D{{Key: "timestamp", Value: order}}).
		SetProjection(bson.M{"timestamp": 1})

	err := coll.FindOne(ctx, bson.M{}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ts := doc.Timestamp.UTC()
	return &ts, nil
}
