// Package mqtt wraps the paho client for the MySensors daemon.
//
// One Client is shared by everything that talks to the broker:
//   - MQTT gateways, whose frames travel on the per-gateway in/out prefixes
//   - the discovery and state publisher
//   - the per-session health reporter
//
// The client reconnects on its own, restores its subscriptions and keeps a
// retained online/offline document on <topic_prefix>/status, backed by a
// Last Will so crashes are visible to other subscribers.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic := client.Topics().State("garage", 5, 1, "V_TRIPPED")
//	err = client.Publish(topic, []byte("1"), 1, true)
package mqtt
