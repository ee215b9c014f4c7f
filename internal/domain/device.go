package domain

import "time"

// DeviceRecord is this device's presence entry in the replica store's device
// registry. LastSeen is refreshed on every successful network-available tick.
type DeviceRecord struct {
	DeviceID   string    `json:"device_id"`
	DeviceName string    `json:"device_name"`
	LastSeen   time.Time `json:"last_seen"`
}

// IsOnline derives presence from LastSeen against the configured staleness
// threshold.
func (d DeviceRecord) IsOnline(now time.Time, threshold time.Duration) bool {
	return now.Sub(d.LastSeen) < threshold
}

type DeviceResponse struct {
	DeviceID   string    `json:"device_id"`
	DeviceName string    `json:"device_name"`
	LastSeen   time.Time `json:"last_seen"`
	IsOnline   bool      `json:"is_online"`
}
