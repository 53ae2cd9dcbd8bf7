package entity

// Sensor exposes the raw value of any domain without a dedicated type.
type Sensor struct {
	base
}

// State is the last reported value.
func (s *Sensor) State() string {
	v, ok := s.rec.Value()
	if !ok {
		return StateUnknown
	}
	return v
}
