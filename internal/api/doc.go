// Package api implements the HTTP REST API and WebSocket server for the
// MySensors daemon.
//
// This package provides:
//   - Read endpoints for gateway sessions, nodes, devices and entities
//   - Command endpoints that send values and cover actions to devices
//   - A WebSocket hub relaying discovery, value and session events
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// The server sits beside the gateway sessions. Reads go straight to the
// registry and the entity manager. Commands go through the gateway Manager,
// which routes them to the session owning the target gateway. Events flow
// the other way: the server subscribes to the event hub when it is created
// and broadcasts every event to the WebSocket clients subscribed to its
// channel.
//
// # Graceful Degradation
//
// The server runs without MQTT or InfluxDB. Commands to a gateway that is
// not connected fail with 503 until the session is ready again.
package api
