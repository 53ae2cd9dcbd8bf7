package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Addressing constants.
const (
	// GatewayNodeID addresses the gateway itself.
	GatewayNodeID uint8 = 0

	// BroadcastNodeID addresses every node; also the child id used for
	// messages about the node as a whole.
	BroadcastNodeID uint8 = 255

	// NodeChildID is the child id of node-level presentation and internal messages.
	NodeChildID uint8 = 255

	// MaxPayload is the largest payload the radio layer carries.
	MaxPayload = 25
)

// fieldCount is the number of ';'-separated fields in a serial frame.
const fieldCount = 6

// Message is one decoded MySensors frame.
//
// Type holds the command-specific sub-type: a Presentation for
// presentation messages, a SetReq for set/req, an InternalType for internal.
type Message struct {
	NodeID  uint8
	ChildID uint8
	Command Command
	Ack     bool
	Type    uint8
	Payload string
}

// Decode parses a single frame of the form
//
//	node-id;child-sensor-id;command;ack;type;payload\n
//
// Trailing CR/LF is ignored. The payload may itself contain ';'.
func Decode(frame []byte) (Message, error) {
	line := strings.TrimRight(string(frame), "\r\n")

	fields := strings.SplitN(line, ";", fieldCount)
	if len(fields) != fieldCount {
		return Message{}, fmt.Errorf("%w: expected %d fields, got %d in %q", ErrMalformedFrame, fieldCount, len(fields), line)
	}

	var nums [5]uint8
	for i := range nums {
		n, err := strconv.ParseUint(strings.TrimSpace(fields[i]), 10, 8)
		if err != nil {
			return Message{}, fmt.Errorf("%w: field %d %q: %v", ErrMalformedFrame, i, fields[i], err)
		}
		nums[i] = uint8(n)
	}

	if nums[3] > 1 {
		return Message{}, fmt.Errorf("%w: ack flag %d", ErrMalformedFrame, nums[3])
	}

	payload := fields[5]
	// Gateways emit debug output as I_LOG_MESSAGE lines that exceed the radio limit.
	isLog := Command(nums[2]) == CommandInternal && InternalType(nums[4]) == InternalLogMessage
	if len(payload) > MaxPayload && !isLog {
		return Message{}, fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrMalformedFrame, len(payload), MaxPayload)
	}

	cmd := Command(nums[2])
	if !cmd.Valid() {
		return Message{}, fmt.Errorf("%w: %d", ErrUnknownCommand, nums[2])
	}

	return Message{
		NodeID:  nums[0],
		ChildID: nums[1],
		Command: cmd,
		Ack:     nums[3] == 1,
		Type:    nums[4],
		Payload: payload,
	}, nil
}

// ValidatePayload checks an outbound payload. Frames end at a line break,
// so a payload carrying CR or LF would split into several frames on the wire.
func ValidatePayload(payload string) error {
	if len(payload) > MaxPayload {
		return fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrMalformedFrame, len(payload), MaxPayload)
	}
	if i := strings.IndexAny(payload, "\r\n"); i >= 0 {
		return fmt.Errorf("%w: payload contains a line break at byte %d", ErrMalformedFrame, i)
	}
	return nil
}

// Encode serialises m to a newline-terminated frame. It never fails; callers
// sending untrusted payloads check them with ValidatePayload first.
func (m Message) Encode() []byte {
	ack := 0
	if m.Ack {
		ack = 1
	}
	buf := make([]byte, 0, 16+len(m.Payload))
	buf = strconv.AppendUint(buf, uint64(m.NodeID), 10)
	buf = append(buf, ';')
	buf = strconv.AppendUint(buf, uint64(m.ChildID), 10)
	buf = append(buf, ';')
	buf = strconv.AppendUint(buf, uint64(m.Command), 10)
	buf = append(buf, ';')
	buf = strconv.AppendInt(buf, int64(ack), 10)
	buf = append(buf, ';')
	buf = strconv.AppendUint(buf, uint64(m.Type), 10)
	buf = append(buf, ';')
	buf = append(buf, m.Payload...)
	return append(buf, '\n')
}

// String renders the message with symbolic type names for logging.
func (m Message) String() string {
	return fmt.Sprintf("node=%d child=%d cmd=%s ack=%t type=%s payload=%q",
		m.NodeID, m.ChildID, m.Command, m.Ack, m.TypeName(), m.Payload)
}

// TypeName resolves Type against the enum that matches the command.
func (m Message) TypeName() string {
	switch m.Command {
	case CommandPresentation:
		return Presentation(m.Type).String()
	case CommandSet, CommandReq:
		return SetReq(m.Type).String()
	case CommandInternal:
		return InternalType(m.Type).String()
	default:
		return strconv.Itoa(int(m.Type))
	}
}

// Reply returns a message addressed back to the sender of m with the same
// node, child and command.
func (m Message) Reply(typ uint8, payload string) Message {
	return Message{
		NodeID:  m.NodeID,
		ChildID: m.ChildID,
		Command: m.Command,
		Type:    typ,
		Payload: payload,
	}
}

// AckEcho returns the acknowledgement a gateway sends back for m: an exact
// copy with the ack flag set.
func (m Message) AckEcho() Message {
	echo := m
	echo.Ack = true
	return echo
}

// NewSet builds a set command for a child value.
func NewSet(nodeID, childID uint8, valueType SetReq, payload string, ack bool) Message {
	return Message{
		NodeID:  nodeID,
		ChildID: childID,
		Command: CommandSet,
		Ack:     ack,
		Type:    uint8(valueType),
		Payload: payload,
	}
}

// NewReq builds a request for a child's current value.
func NewReq(nodeID, childID uint8, valueType SetReq) Message {
	return Message{
		NodeID:  nodeID,
		ChildID: childID,
		Command: CommandReq,
		Type:    uint8(valueType),
	}
}

// NewInternal builds an internal message addressed to a node.
func NewInternal(nodeID, childID uint8, typ InternalType, payload string) Message {
	return Message{
		NodeID:  nodeID,
		ChildID: childID,
		Command: CommandInternal,
		Type:    uint8(typ),
		Payload: payload,
	}
}

// NewPresentationRequest asks a node to present itself and its children again.
func NewPresentationRequest(nodeID uint8) Message {
	return NewInternal(nodeID, NodeChildID, InternalPresentation, "")
}

// NewVersionRequest asks the gateway for its library version. It doubles as
// the handshake probe and the idle keepalive.
func NewVersionRequest() Message {
	return NewInternal(GatewayNodeID, NodeChildID, InternalVersion, "")
}
