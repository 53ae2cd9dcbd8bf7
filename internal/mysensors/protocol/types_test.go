package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnumCodes(t *testing.T) {
	// Spot checks against the wire values published for protocol 2.x.
	assert.Equal(t, uint8(5), uint8(PresentationCover))
	assert.Equal(t, uint8(17), uint8(PresentationArduinoNode))
	assert.Equal(t, uint8(32), uint8(PresentationWaterLeak))
	assert.Equal(t, uint8(39), uint8(PresentationWaterQuality))

	assert.Equal(t, uint8(16), uint8(ValueTripped))
	assert.Equal(t, uint8(29), uint8(ValueUp))
	assert.Equal(t, uint8(48), uint8(ValueCustom))
	assert.Equal(t, uint8(56), uint8(ValuePowerFactor))
	assert.Equal(t, ValuePercentage, ValueDimmer)
	assert.Equal(t, ValueStatus, ValueLight)

	assert.Equal(t, uint8(14), uint8(InternalGatewayReady))
	assert.Equal(t, uint8(19), uint8(InternalPresentation))
	assert.Equal(t, uint8(33), uint8(InternalPostSleepNotification))
}

func TestEnumStrings(t *testing.T) {
	assert.Equal(t, "internal", CommandInternal.String())
	assert.Equal(t, "command(9)", Command(9).String())
	assert.Equal(t, "S_DOOR", PresentationDoor.String())
	assert.Equal(t, "S_UNKNOWN(99)", Presentation(99).String())
	assert.Equal(t, "V_PERCENTAGE", ValuePercentage.String())
	assert.Equal(t, "V_UNKNOWN(200)", SetReq(200).String())
	assert.Equal(t, "I_HEARTBEAT_RESPONSE", InternalHeartbeatResponse.String())
	assert.Equal(t, "I_UNKNOWN(77)", InternalType(77).String())
}

func TestPresentation_IsNode(t *testing.T) {
	assert.True(t, PresentationArduinoNode.IsNode())
	assert.True(t, PresentationArduinoRepeaterNode.IsNode())
	assert.False(t, PresentationDoor.IsNode())
	assert.False(t, Presentation(200).Known())
}

func TestParseSetReq(t *testing.T) {
	v, ok := ParseSetReq("V_TRIPPED")
	assert.True(t, ok)
	assert.Equal(t, ValueTripped, v)

	_, ok = ParseSetReq("V_NOPE")
	assert.False(t, ok)
}

func TestValidateVersion(t *testing.T) {
	for _, v := range []string{"1.4", "2.0", "2.3", "2.3.2", " 2.2 "} {
		assert.NoError(t, ValidateVersion(v), v)
	}
	for _, v := range []string{"", "3.0", "2", "abc"} {
		assert.ErrorIs(t, ValidateVersion(v), ErrUnsupportedVersion, v)
	}
	assert.True(t, SupportsHeartbeatResponse("2.3.1"))
	assert.False(t, SupportsHeartbeatResponse("1.5"))
}
