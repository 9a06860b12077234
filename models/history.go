package models

import "time"

// DeviceCounts holds the fleet-level device counters of a snapshot
type DeviceCounts struct {
	Total     int `bson:"total" json:"total"`
	Active    int `bson:"active" json:"active"`
	Connected int `bson:"connected" json:"connected"`
}

// AccessPointCounts holds the fleet-level access point counters of a snapshot
type AccessPointCounts struct {
	Total  int `bson:"total" json:"total"`
	Active int `bson:"active" json:"active"`
}

// DeviceMetric summarizes one active device over a window
type DeviceMetric struct {
	MACAddress  string    `bson:"mac_address" json:"mac_address"`
	Vendor      string    `bson:"vendor,omitempty" json:"vendor,omitempty"`
	// events seen in the window, of any type
	PacketCount int       `bson:"packet_count" json:"packet_count"`
	DataFrames  int64     `bson:"data_frames" json:"data_frames"`
	DataBytes   int64     `bson:"data_bytes" json:"data_bytes"`
	Connected   bool      `bson:"connected" json:"connected"`
	RSSIAvg     float64   `bson:"rssi_avg" json:"rssi_avg"`
	RSSIMin     int       `bson:"rssi_min" json:"rssi_min"`
	RSSIMax     int       `bson:"rssi_max" json:"rssi_max"`
	LastSeen    time.Time `bson:"last_seen" json:"last_seen"`
}

// APMetric summarizes one active access point over a window
type APMetric struct {
	BSSID       string    `bson:"bssid" json:"bssid"`
	SSID        string    `bson:"ssid" json:"ssid"`
	Channel     int       `bson:"channel" json:"channel"`
	Encryption  string    `bson:"encryption,omitempty" json:"encryption,omitempty"`
	// events seen in the window, of any type
	BeaconCount int       `bson:"beacon_count" json:"beacon_count"`
	RSSIAvg     float64   `bson:"rssi_avg" json:"rssi_avg"`
	RSSIMin     int       `bson:"rssi_min" json:"rssi_min"`
	RSSIMax     int       `bson:"rssi_max" json:"rssi_max"`
	LastSeen    time.Time `bson:"last_seen" json:"last_seen"`
}

// MetricsSnapshot is one immutable rollup document of a tier.
// Timestamp is the start of the window, not the time of computation.
type MetricsSnapshot struct {
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
	Tier      string    `bson:"tier" json:"tier"`

	Devices      DeviceCounts      `bson:"devices" json:"devices"`
	AccessPoints AccessPointCounts `bson:"access_points" json:"access_points"`

	// Only active entities, capped
	DeviceMetrics []DeviceMetric `bson:"device_metrics" json:"device_metrics"`
	APMetrics     []APMetric     `bson:"ap_metrics" json:"ap_metrics"`

	// Aggregates whose query failed and were written as zero
	DegradedFields []string `bson:"degraded_fields,omitempty" json:"degraded_fields,omitempty"`
}

// IsDegraded reports whether any aggregate of the snapshot fell back to zero
func (s *MetricsSnapshot) IsDegraded() bool {
	return len(s.DegradedFields) > 0
}

// FindDevice returns the metric for mac, if the device was active in this window
func (s *MetricsSnapshot) FindDevice(mac string) (DeviceMetric, bool) {
	for _, m := range s.DeviceMetrics {
		if m.MACAddress == mac {
			return m, true
		}
	}
	return DeviceMetric{}, false
}

// DeviceHistoryPoint is one device metric with the snapshot it came from
type DeviceHistoryPoint struct {
	Timestamp time.Time    `json:"timestamp"`
	Metric    DeviceMetric `json:"metric"`
}

// DeviceSummary holds averaged and peak device counters over a range
type DeviceSummary struct {
	AvgTotal     float64 `json:"avg_total"`
	AvgActive    float64 `json:"avg_active"`
	AvgConnected float64 `json:"avg_connected"`
	MaxTotal     int     `json:"max_total"`
	MaxActive    int     `json:"max_active"`
}

// AccessPointSummary holds averaged and peak access point counters over a range
type AccessPointSummary struct {
	AvgTotal  float64 `json:"avg_total"`
	AvgActive float64 `json:"avg_active"`
	MaxTotal  int     `json:"max_total"`
	MaxActive int     `json:"max_active"`
}

// MetricsSummary is computed client-side from all snapshots in a range
type MetricsSummary struct {
	Tier         string             `json:"tier"`
	Start        time.Time          `json:"start"`
	End          time.Time          `json:"end"`
	DataPoints   int                `json:"data_points"`
	Devices      DeviceSummary      `json:"devices"`
	AccessPoints AccessPointSummary `json:"access_points"`
}

// TierCollectionStats describes one tier collection for the status endpoint
type TierCollectionStats struct {
	Tier      string     `json:"tier"`
	Documents int64      `json:"documents"`
	Oldest    *time.Time `json:"oldest,omitempty"`
	Newest    *time.Time `json:"newest,omitempty"`
	Retention string     `json:"retention"`
}
