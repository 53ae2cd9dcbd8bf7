package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix roots every topic this daemon publishes.
const DefaultTopicPrefix = "mysensors"

// Topics builds the daemon's own topic tree:
//
//	<prefix>/status
//	<prefix>/discovery/<gateway>/<node>/<child>/<value_type>
//	<prefix>/state/<gateway>/<node>/<child>/<value_type>
//	<prefix>/health/<gateway>
//
// Gateway frame topics (the MySensors in/out prefixes) are configured per
// gateway and built by the transport package.
type Topics struct {
	prefix string
}

// NewTopics returns a builder rooted at prefix, or DefaultTopicPrefix when
// prefix is empty. A trailing slash is dropped.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the root segment.
func (t Topics) Prefix() string {
	return t.prefix
}

// Status is the retained online/offline topic, also used as the LWT.
func (t Topics) Status() string {
	return t.prefix + "/status"
}

// Discovery returns the retained discovery topic for one device.
//
// Example: mysensors/discovery/garage/5/1/V_TRIPPED
func (t Topics) Discovery(gateway string, node, child uint8, valueType string) string {
	return fmt.Sprintf("%s/discovery/%s/%d/%d/%s", t.prefix, gateway, node, child, valueType)
}

// State returns the state topic for one device.
//
// Example: mysensors/state/garage/5/1/V_TRIPPED
func (t Topics) State(gateway string, node, child uint8, valueType string) string {
	return fmt.Sprintf("%s/state/%s/%d/%d/%s", t.prefix, gateway, node, child, valueType)
}

// Health returns the retained health topic for a gateway session.
func (t Topics) Health(gateway string) string {
	return fmt.Sprintf("%s/health/%s", t.prefix, gateway)
}

// AllDiscovery matches every discovery topic.
func (t Topics) AllDiscovery() string {
	return t.prefix + "/discovery/#"
}

// AllStates matches every state topic.
func (t Topics) AllStates() string {
	return t.prefix + "/state/#"
}

// AllHealth matches every health topic.
func (t Topics) AllHealth() string {
	return t.prefix + "/health/+"
}
