package models

import "time"

// TimestampLayout is the layout of TelemetrySample.Timestamp
const TimestampLayout = "2006-01-02 15:04:05"

// Gateway clock zone (EST, fixed offset, no DST)
var Zone = time.FixedZone("EST", -5*60*60)

// TelemetrySample represents a single position/state reading from a drone
type TelemetrySample struct {
	DroneID    string  `json:"drone_id"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Altitude   float64 `json:"altitude"` // meters
	Speed      float64 `json:"speed"`    // m/s
	Heading    float64 `json:"heading"`  // degrees
	Satellites int     `json:"satellites"`
	FixType    string  `json:"fix_type"`
	Battery    float64 `json:"battery"` // percentage
	Timestamp  string  `json:"timestamp"`
}

// ActionRecord represents one line of the activity log
type ActionRecord struct {
	Time     string `json:"time"`
	IP       string `json:"ip"`
	Action   string `json:"action"`
	Response string `json:"response"`
}

// ArchivedSample is a telemetry sample read back from the archive
type ArchivedSample struct {
	ID         int64     `json:"id"`
	ReceivedAt time.Time `json:"received_at"`
	TelemetrySample
}

// ArchiveQuery represents query parameters for archive searches
type ArchiveQuery struct {
	DroneID string
	Limit   int
	Offset  int
}

// ArchiveStats provides aggregated statistics over the archive
type ArchiveStats struct {
	TotalSamples int64   `json:"total_samples"`
	TotalDrones  int64   `json:"total_drones"`
	AvgSpeed     float64 `json:"avg_speed"`
	MaxAltitude  float64 `json:"max_altitude"`
	MinBattery   float64 `json:"min_battery"`
}
