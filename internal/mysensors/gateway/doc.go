// Package gateway runs the connection to each MySensors gateway.
//
// A Session moves through
//
//	disconnected -> connecting -> handshaking -> ready -> disconnected ...
//
// and ends in closed after Close. One goroutine per session owns every
// registry mutation for its gateway: a reader goroutine hands it frames, and
// commands reach it over a channel. Frames from the gateway are decoded and
// routed by command: presentations to the discovery dispatcher, set and req
// to the registry, internal messages answered directly.
//
// Commands sent with an ack are tracked until the node echoes them. An echo
// that never arrives marks the device uncertain and is published as
// events.DeliveryUncertain; the optimistic value stays.
//
// The Manager runs one session per configured gateway, the HealthReporter
// publishes their state to MQTT and the EventPublisher mirrors discovery
// and values to the broker.
package gateway
