// Package entity turns discovered devices into typed entities.
//
// The Manager listens for discovery events and for keys replayed from a
// snapshot, and creates one entity per DeviceKey. Both paths may deliver
// the same key; the second delivery is a no-op, so an entity exists once
// no matter how it was found.
//
// Binary sensors and covers have their own types. Every other domain
// becomes a Sensor exposing the raw value.
//
// Entities read their state from the registry record they were created
// with; they never write to the registry. Commands go through a Commander,
// normally the gateway Manager.
package entity
