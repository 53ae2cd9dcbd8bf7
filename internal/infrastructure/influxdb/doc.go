// Package influxdb writes MySensors telemetry to InfluxDB v2.
//
// Three measurements are recorded:
//
//	mysensors_value        every value a node reports (tags: gateway_id, node_id, child_id, value_type)
//	mysensors_ack_timeout  commands that were never acknowledged
//	mysensors_session      gateway session state transitions
//
// Telemetry is optional. When influxdb.enabled is false Connect returns
// ErrDisabled and the daemon runs without it.
package influxdb
