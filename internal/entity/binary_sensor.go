package entity

// BinarySensor is a tripped/not-tripped device such as a door contact or a
// motion detector.
type BinarySensor struct {
	base
}

// IsOn reports whether the sensor is tripped.
func (s *BinarySensor) IsOn() bool {
	v, _ := s.rec.Value()
	return v == "1"
}

// State is "on", "off" or "unknown".
func (s *BinarySensor) State() string {
	if _, ok := s.rec.Value(); !ok {
		return StateUnknown
	}
	if s.IsOn() {
		return "on"
	}
	return "off"
}
