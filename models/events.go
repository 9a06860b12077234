package models

import "time"

const (
	CollectionDeviceEvents      = "device_events"
	CollectionAccessPointEvents = "access_point_events"

	// Raw events are kept for 30 days.
	EventRetention = 30 * 24 * time.Hour
)

// Event type tags written by ingestion.
const (
	EventTypeProbe         = "probe"
	EventTypeConnection    = "connection"
	EventTypeDisconnection = "disconnection"
	EventTypeData          = "data"
	EventTypeBeacon        = "beacon"
)

// DeviceEvent is a single observation of a client device.
type DeviceEvent struct {
	Timestamp      time.Time `bson:"timestamp" json:"timestamp"`
	MACAddress     string    `bson:"mac_address" json:"mac_address"`
	EventType      string    `bson:"event_type" json:"event_type"`
	RSSI           int       `bson:"rssi" json:"rssi"`
	ProbeSSID      string    `bson:"probe_ssid,omitempty" json:"probe_ssid,omitempty"`
	Vendor         string    `bson:"vendor,omitempty" json:"vendor,omitempty"`
	Connected      bool      `bson:"connected" json:"connected"`
	BSSID          string    `bson:"bssid,omitempty" json:"bssid,omitempty"`
	DataFrameCount int       `bson:"data_frame_count,omitempty" json:"data_frame_count,omitempty"`
	DataByteCount  int64     `bson:"data_byte_count,omitempty" json:"data_byte_count,omitempty"`
}

// AccessPointEvent is a single beacon observed from an access point.
type AccessPointEvent struct {
	Timestamp  time.Time `bson:"timestamp" json:"timestamp"`
	BSSID      string    `bson:"bssid" json:"bssid"`
	EventType  string    `bson:"event_type" json:"event_type"`
	SSID       string    `bson:"ssid" json:"ssid"`
	Channel    int       `bson:"channel" json:"channel"`
	RSSI       int       `bson:"rssi" json:"rssi"`
	Encryption string    `bson:"encryption,omitempty" json:"encryption,omitempty"`
}
