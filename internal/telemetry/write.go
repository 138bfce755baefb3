package telemetry

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/foxace/ajax-sync-core/internal/ajax"
)

// RecordDeviceHealth writes a device's diagnostic readings.
//
// Only the readings actually present in the device's fields are written;
// a device reporting no diagnostics produces no point at all. The write is
// non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - hubID: The owning hub
//   - device: Device record carrying the current field map
func (c *Client) RecordDeviceHealth(hubID string, device *ajax.DeviceRecord) {
	if !c.IsConnected() || device == nil {
		return
	}

	fields := make(map[string]interface{}, 3)
	if battery, ok := device.Fields.Battery(); ok {
		fields["battery"] = float64(battery)
	}
	if signal, ok := device.Fields.Signal(); ok {
		fields["signal"] = float64(signal)
	}
	if temp, ok := device.Fields.Temperature(); ok {
		fields["temperature"] = temp
	}
	if len(fields) == 0 {
		return
	}

	tags := map[string]string{
		"hub_id":    hubID,
		"device_id": device.ID,
	}
	if device.Type != "" {
		tags["device_type"] = string(device.Type)
	}

	point := write.NewPoint("device_health", tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// RecordHubStatus writes a hub availability sample.
//
// Parameters:
//   - hub: Hub snapshot to sample
func (c *Client) RecordHubStatus(hub *ajax.HubState) {
	if !c.IsConnected() || hub == nil {
		return
	}

	point := write.NewPoint(
		"hub_status",
		map[string]string{
			"hub_id": hub.ID,
		},
		map[string]interface{}{
			"online":       hub.Online,
			"armed":        hub.ArmedMode.IsArmed(),
			"device_count": len(hub.Devices),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// RecordSnapshot samples every device in a hub snapshot.
//
// Called after poll cycles, when the snapshot is known fresh.
func (c *Client) RecordSnapshot(hub *ajax.HubState) {
	if !c.IsConnected() || hub == nil {
		return
	}

	c.RecordHubStatus(hub)
	for _, device := range hub.Devices {
		c.RecordDeviceHealth(hub.ID, device)
	}
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., replayed queue events).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
