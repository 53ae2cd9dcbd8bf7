package protocol

import "strconv"

// Command is the message category in field three of a frame.
type Command uint8

const (
	CommandPresentation Command = 0
	CommandSet          Command = 1
	CommandReq          Command = 2
	CommandInternal     Command = 3
	CommandStream       Command = 4
)

var commandNames = [...]string{"presentation", "set", "req", "internal", "stream"}

// Valid reports whether c is a known command code.
func (c Command) Valid() bool {
	return int(c) < len(commandNames)
}

func (c Command) String() string {
	if c.Valid() {
		return commandNames[c]
	}
	return "command(" + strconv.Itoa(int(c)) + ")"
}

// Presentation is the sensor type a child announces (S_*).
type Presentation uint8

const (
	PresentationDoor Presentation = iota
	PresentationMotion
	PresentationSmoke
	PresentationBinary
	PresentationDimmer
	PresentationCover
	PresentationTemp
	PresentationHum
	PresentationBaro
	PresentationWind
	PresentationRain
	PresentationUV
	PresentationWeight
	PresentationPower
	PresentationHeater
	PresentationDistance
	PresentationLightLevel
	PresentationArduinoNode
	PresentationArduinoRepeaterNode
	PresentationLock
	PresentationIR
	PresentationWater
	PresentationAirQuality
	PresentationCustom
	PresentationDust
	PresentationSceneController
	PresentationRGBLight
	PresentationRGBWLight
	PresentationColorSensor
	PresentationHVAC
	PresentationMultimeter
	PresentationSprinkler
	PresentationWaterLeak
	PresentationSound
	PresentationVibration
	PresentationMoisture
	PresentationInfo
	PresentationGas
	PresentationGPS
	PresentationWaterQuality
)

var presentationNames = [...]string{
	"S_DOOR", "S_MOTION", "S_SMOKE", "S_BINARY", "S_DIMMER", "S_COVER", "S_TEMP", "S_HUM",
	"S_BARO", "S_WIND", "S_RAIN", "S_UV", "S_WEIGHT", "S_POWER", "S_HEATER", "S_DISTANCE",
	"S_LIGHT_LEVEL", "S_ARDUINO_NODE", "S_ARDUINO_REPEATER_NODE", "S_LOCK", "S_IR", "S_WATER",
	"S_AIR_QUALITY", "S_CUSTOM", "S_DUST", "S_SCENE_CONTROLLER", "S_RGB_LIGHT", "S_RGBW_LIGHT",
	"S_COLOR_SENSOR", "S_HVAC", "S_MULTIMETER", "S_SPRINKLER", "S_WATER_LEAK", "S_SOUND",
	"S_VIBRATION", "S_MOISTURE", "S_INFO", "S_GAS", "S_GPS", "S_WATER_QUALITY",
}

// Known reports whether p is a defined presentation type.
func (p Presentation) Known() bool {
	return int(p) < len(presentationNames)
}

// IsNode reports whether p announces a node rather than a child sensor.
func (p Presentation) IsNode() bool {
	return p == PresentationArduinoNode || p == PresentationArduinoRepeaterNode
}

func (p Presentation) String() string {
	if p.Known() {
		return presentationNames[p]
	}
	return "S_UNKNOWN(" + strconv.Itoa(int(p)) + ")"
}

// SetReq is the value type carried by set and req messages (V_*).
type SetReq uint8

const (
	ValueTemp SetReq = iota
	ValueHum
	ValueStatus
	ValuePercentage
	ValuePressure
	ValueForecast
	ValueRain
	ValueRainRate
	ValueWind
	ValueGust
	ValueDirection
	ValueUV
	ValueWeight
	ValueDistance
	ValueImpedance
	ValueArmed
	ValueTripped
	ValueWatt
	ValueKWh
	ValueSceneOn
	ValueSceneOff
	ValueHVACFlowState
	ValueHVACSpeed
	ValueLightLevel
	ValueVar1
	ValueVar2
	ValueVar3
	ValueVar4
	ValueVar5
	ValueUp
	ValueDown
	ValueStop
	ValueIRSend
	ValueIRReceive
	ValueFlow
	ValueVolume
	ValueLockStatus
	ValueLevel
	ValueVoltage
	ValueCurrent
	ValueRGB
	ValueRGBW
	ValueID
	ValueUnitPrefix
	ValueHVACSetpointCool
	ValueHVACSetpointHeat
	ValueHVACFlowMode
	ValueText
	ValueCustom
	ValuePosition
	ValueIRRecord
	ValuePH
	ValueORP
	ValueEC
	ValueVar
	ValueVA
	ValuePowerFactor
)

// Legacy 1.x aliases still sent by older sketches.
const (
	ValueLight  = ValueStatus
	ValueDimmer = ValuePercentage
)

var setReqNames = [...]string{
	"V_TEMP", "V_HUM", "V_STATUS", "V_PERCENTAGE", "V_PRESSURE", "V_FORECAST", "V_RAIN",
	"V_RAINRATE", "V_WIND", "V_GUST", "V_DIRECTION", "V_UV", "V_WEIGHT", "V_DISTANCE",
	"V_IMPEDANCE", "V_ARMED", "V_TRIPPED", "V_WATT", "V_KWH", "V_SCENE_ON", "V_SCENE_OFF",
	"V_HVAC_FLOW_STATE", "V_HVAC_SPEED", "V_LIGHT_LEVEL", "V_VAR1", "V_VAR2", "V_VAR3",
	"V_VAR4", "V_VAR5", "V_UP", "V_DOWN", "V_STOP", "V_IR_SEND", "V_IR_RECEIVE", "V_FLOW",
	"V_VOLUME", "V_LOCK_STATUS", "V_LEVEL", "V_VOLTAGE", "V_CURRENT", "V_RGB", "V_RGBW",
	"V_ID", "V_UNIT_PREFIX", "V_HVAC_SETPOINT_COOL", "V_HVAC_SETPOINT_HEAT",
	"V_HVAC_FLOW_MODE", "V_TEXT", "V_CUSTOM", "V_POSITION", "V_IR_RECORD", "V_PH", "V_ORP",
	"V_EC", "V_VAR", "V_VA", "V_POWER_FACTOR",
}

// Known reports whether v is a defined value type.
func (v SetReq) Known() bool {
	return int(v) < len(setReqNames)
}

func (v SetReq) String() string {
	if v.Known() {
		return setReqNames[v]
	}
	return "V_UNKNOWN(" + strconv.Itoa(int(v)) + ")"
}

// ParseSetReq resolves a V_* name (as used in URLs and config) to its code.
func ParseSetReq(name string) (SetReq, bool) {
	for i, n := range setReqNames {
		if n == name {
			return SetReq(i), true
		}
	}
	return 0, false
}

// InternalType is the sub-type of internal messages (I_*).
type InternalType uint8

const (
	InternalBatteryLevel InternalType = iota
	InternalTime
	InternalVersion
	InternalIDRequest
	InternalIDResponse
	InternalInclusionMode
	InternalConfig
	InternalFindParent
	InternalFindParentResponse
	InternalLogMessage
	InternalChildren
	InternalSketchName
	InternalSketchVersion
	InternalReboot
	InternalGatewayReady
	InternalSigningPresentation
	InternalNonceRequest
	InternalNonceResponse
	InternalHeartbeatRequest
	InternalPresentation
	InternalDiscoverRequest
	InternalDiscoverResponse
	InternalHeartbeatResponse
	InternalLocked
	InternalPing
	InternalPong
	InternalRegistrationRequest
	InternalRegistrationResponse
	InternalDebug
	InternalSignalReportRequest
	InternalSignalReportReverse
	InternalSignalReportResponse
	InternalPreSleepNotification
	InternalPostSleepNotification
)

var internalNames = [...]string{
	"I_BATTERY_LEVEL", "I_TIME", "I_VERSION", "I_ID_REQUEST", "I_ID_RESPONSE",
	"I_INCLUSION_MODE", "I_CONFIG", "I_FIND_PARENT", "I_FIND_PARENT_RESPONSE",
	"I_LOG_MESSAGE", "I_CHILDREN", "I_SKETCH_NAME", "I_SKETCH_VERSION", "I_REBOOT",
	"I_GATEWAY_READY", "I_SIGNING_PRESENTATION", "I_NONCE_REQUEST", "I_NONCE_RESPONSE",
	"I_HEARTBEAT_REQUEST", "I_PRESENTATION", "I_DISCOVER_REQUEST", "I_DISCOVER_RESPONSE",
	"I_HEARTBEAT_RESPONSE", "I_LOCKED", "I_PING", "I_PONG", "I_REGISTRATION_REQUEST",
	"I_REGISTRATION_RESPONSE", "I_DEBUG", "I_SIGNAL_REPORT_REQUEST",
	"I_SIGNAL_REPORT_REVERSE", "I_SIGNAL_REPORT_RESPONSE", "I_PRE_SLEEP_NOTIFICATION",
	"I_POST_SLEEP_NOTIFICATION",
}

func (t InternalType) String() string {
	if int(t) < len(internalNames) {
		return internalNames[t]
	}
	return "I_UNKNOWN(" + strconv.Itoa(int(t)) + ")"
}
