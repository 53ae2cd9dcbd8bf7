package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementValue        = "mysensors_value"
	MeasurementAckTimeout   = "mysensors_ack_timeout"
	MeasurementSessionState = "mysensors_session"
)

func deviceTags(gateway string, node, child uint8, valueType string) map[string]string {
	return map[string]string{
		"gateway_id": gateway,
		"node_id":    strconv.Itoa(int(node)),
		"child_id":   strconv.Itoa(int(child)),
		"value_type": valueType,
	}
}

// WriteValue records a value reported by a node. Numeric payloads are
// stored in the "value" field; anything else goes to "text".
//
//	client.WriteValue("garage", 5, 1, "V_TEMP", "21.5", time.Now())
func (c *Client) WriteValue(gateway string, node, child uint8, valueType, value string, at time.Time) {
	fields := map[string]any{}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		fields["value"] = f
	} else {
		fields["text"] = value
	}
	c.write(MeasurementValue, deviceTags(gateway, node, child, valueType), fields, at)
}

// WriteAckTimeout records a command whose acknowledgement never arrived.
func (c *Client) WriteAckTimeout(gateway string, node, child uint8, valueType string, at time.Time) {
	c.write(MeasurementAckTimeout, deviceTags(gateway, node, child, valueType),
		map[string]any{"count": 1}, at)
}

// WriteSessionState records a gateway session transition.
func (c *Client) WriteSessionState(gateway, from, to, reason string, at time.Time) {
	fields := map[string]any{"from": from}
	if reason != "" {
		fields["reason"] = reason
	}
	c.write(MeasurementSessionState, map[string]string{"gateway_id": gateway, "state": to}, fields, at)
}

// WritePoint writes an arbitrary point stamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.write(measurement, tags, fields, time.Now())
}

func (c *Client) write(measurement string, tags map[string]string, fields map[string]any, at time.Time) {
	if c == nil || !c.IsConnected() {
		return
	}
	c.writer.WritePoint(write.NewPoint(measurement, tags, fields, at))
}
