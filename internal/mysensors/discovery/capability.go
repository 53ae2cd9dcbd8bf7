package discovery

import (
	"slices"

	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/events"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/protocol"
)

// Capability is what a presentation type turns into: the entity domain, the
// value types registered as devices, and an optional device class.
type Capability struct {
	Domain      events.Domain
	ValueTypes  []protocol.SetReq
	DeviceClass string
}

// Generic is the fallback for presentation types with no mapping.
var Generic = Capability{
	Domain:     events.DomainGeneric,
	ValueTypes: []protocol.SetReq{protocol.ValueCustom},
}

func binarySensor(class string) Capability {
	return Capability{
		Domain:      events.DomainBinarySensor,
		ValueTypes:  []protocol.SetReq{protocol.ValueTripped},
		DeviceClass: class,
	}
}

func sensor(class string, types ...protocol.SetReq) Capability {
	return Capability{Domain: events.DomainSensor, ValueTypes: types, DeviceClass: class}
}

// capabilities is fixed at build time.
var capabilities = map[protocol.Presentation]Capability{
	protocol.PresentationDoor:      binarySensor("door"),
	protocol.PresentationMotion:    binarySensor("motion"),
	protocol.PresentationSmoke:     binarySensor("smoke"),
	protocol.PresentationSprinkler: binarySensor("safety"),
	protocol.PresentationWaterLeak: binarySensor("safety"),
	protocol.PresentationSound:     binarySensor("sound"),
	protocol.PresentationVibration: binarySensor("vibration"),
	protocol.PresentationMoisture:  binarySensor("moisture"),

	protocol.PresentationCover: {
		Domain:     events.DomainCover,
		ValueTypes: []protocol.SetReq{protocol.ValuePercentage},
	},

	protocol.PresentationBinary: {Domain: events.DomainSwitch, ValueTypes: []protocol.SetReq{protocol.ValueStatus}},
	protocol.PresentationHeater: {Domain: events.DomainSwitch, ValueTypes: []protocol.SetReq{protocol.ValueStatus}},
	protocol.PresentationLock:   {Domain: events.DomainSwitch, ValueTypes: []protocol.SetReq{protocol.ValueLockStatus}},
	protocol.PresentationIR:     {Domain: events.DomainSwitch, ValueTypes: []protocol.SetReq{protocol.ValueIRSend}},

	protocol.PresentationDimmer:    {Domain: events.DomainLight, ValueTypes: []protocol.SetReq{protocol.ValueStatus, protocol.ValuePercentage}},
	protocol.PresentationRGBLight:  {Domain: events.DomainLight, ValueTypes: []protocol.SetReq{protocol.ValueRGB}},
	protocol.PresentationRGBWLight: {Domain: events.DomainLight, ValueTypes: []protocol.SetReq{protocol.ValueRGBW}},

	protocol.PresentationTemp:            sensor("temperature", protocol.ValueTemp),
	protocol.PresentationHum:             sensor("humidity", protocol.ValueHum),
	protocol.PresentationBaro:            sensor("pressure", protocol.ValuePressure, protocol.ValueForecast),
	protocol.PresentationWind:            sensor("", protocol.ValueWind, protocol.ValueGust, protocol.ValueDirection),
	protocol.PresentationRain:            sensor("", protocol.ValueRain, protocol.ValueRainRate),
	protocol.PresentationUV:              sensor("", protocol.ValueUV),
	protocol.PresentationWeight:          sensor("", protocol.ValueWeight, protocol.ValueImpedance),
	protocol.PresentationPower:           sensor("power", protocol.ValueWatt, protocol.ValueKWh),
	protocol.PresentationDistance:        sensor("", protocol.ValueDistance),
	protocol.PresentationLightLevel:      sensor("illuminance", protocol.ValueLightLevel),
	protocol.PresentationWater:           sensor("", protocol.ValueFlow, protocol.ValueVolume),
	protocol.PresentationAirQuality:      sensor("", protocol.ValueLevel),
	protocol.PresentationCustom:          sensor("", protocol.ValueCustom),
	protocol.PresentationDust:            sensor("", protocol.ValueLevel),
	protocol.PresentationSceneController: sensor("", protocol.ValueSceneOn, protocol.ValueSceneOff),
	protocol.PresentationColorSensor:     sensor("", protocol.ValueRGB),
	protocol.PresentationHVAC:            sensor("", protocol.ValueTemp, protocol.ValueHVACSetpointHeat, protocol.ValueHVACSetpointCool, protocol.ValueHVACFlowState),
	protocol.PresentationMultimeter:      sensor("voltage", protocol.ValueVoltage, protocol.ValueCurrent, protocol.ValueImpedance),
	protocol.PresentationInfo:            sensor("", protocol.ValueText),
	protocol.PresentationGas:             sensor("", protocol.ValueFlow, protocol.ValueVolume),
	protocol.PresentationGPS:             sensor("", protocol.ValuePosition),
	protocol.PresentationWaterQuality:    sensor("", protocol.ValueTemp, protocol.ValuePH, protocol.ValueORP, protocol.ValueEC),
}

// Resolve maps a presentation type to its capability. Unmapped types get
// Generic. The returned ValueTypes slice is a copy.
func Resolve(p protocol.Presentation) (Capability, bool) {
	c, ok := capabilities[p]
	if !ok {
		c = Generic
	}
	c.ValueTypes = slices.Clone(c.ValueTypes)
	return c, ok
}
