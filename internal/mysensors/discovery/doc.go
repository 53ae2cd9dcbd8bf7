// Package discovery resolves presentation types to capability domains and
// emits a Discovery event exactly once per new DeviceKey.
//
// The presentation-to-capability table is static. Binary sensors carry a
// device class (door, motion, smoke, safety, sound, vibration, moisture);
// presentation types without a mapping fall back to the generic domain with
// a V_CUSTOM value and no device class.
package discovery
