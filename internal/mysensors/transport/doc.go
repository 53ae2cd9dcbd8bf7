// Package transport opens byte-stream connections to MySensors gateways.
//
// Three implementations share the Conn contract:
//
//   - TCPTransport dials an Ethernet gateway (default port 5003)
//   - SerialTransport opens a USB or UART gateway through go.bug.st/serial
//   - MQTTTransport maps frames to and from a gateway's MQTT topic prefixes
//
// Framing is line based. Stream transports share lineConn, which splits
// input on '\n' and strips a trailing '\r'. Decoding the frame itself is
// left to the protocol package.
package transport
