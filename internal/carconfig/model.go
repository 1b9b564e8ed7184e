package carconfig

import (
	"encoding/json"
	"fmt"
)

// InputType is the electrical kind of a configured channel.
type InputType string

const (
	Analog  InputType = "analog"
	Digital InputType = "digital"
)

// PowerPlant describes how the vehicle is propelled.
type PowerPlant string

const (
	Gasoline PowerPlant = "gasoline"
	Electric PowerPlant = "electric"
	Hydrogen PowerPlant = "hydrogen"
)

// SensorDefinition maps one raw channel slot to a named, unit-converted
// value. Limits are advisory and never enforced by the decoder.
type SensorDefinition struct {
	Name             string
	InputType        InputType
	Unit             *string
	ConversionFactor *float64
	LimitMin         *float64
	LimitMax         *float64
}

// Validate checks the definition's own invariants: a name, a known input
// type, and for analog sensors both a unit and a conversion factor.
func (s SensorDefinition) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: name must be specified", ErrInvalidSensor)
	}
	switch s.InputType {
	case Analog:
		if s.Unit == nil {
			return fmt.Errorf("%w: unit must be specified for analog sensor %q", ErrInvalidSensor, s.Name)
		}
		if s.ConversionFactor == nil {
			return fmt.Errorf("%w: conversion factor must be specified for analog sensor %q", ErrInvalidSensor, s.Name)
		}
	case Digital:
	default:
		return fmt.Errorf("%w: sensor %q has unknown input type %q", ErrInvalidSensor, s.Name, s.InputType)
	}
	return nil
}

// Factor returns the multiplier applied to the raw channel value. An unset
// or zero conversion factor yields 1 so a misconfigured channel is passed
// through instead of being silently zeroed.
func (s SensorDefinition) Factor() float64 {
	if s.ConversionFactor == nil || *s.ConversionFactor == 0 {
		return 1
	}
	return *s.ConversionFactor
}

// SensorSlot pairs a channel slot name (channel0, channelA0, ...) with the
// sensor configured on it.
type SensorSlot struct {
	Slot   string
	Sensor SensorDefinition
}

// Sensors is the ordered sensor map of one vehicle, in document order.
type Sensors []SensorSlot

// Lookup returns the sensor configured on slot.
func (s Sensors) Lookup(slot string) (SensorDefinition, bool) {
	for _, ss := range s {
		if ss.Slot == slot {
			return ss.Sensor, true
		}
	}
	return SensorDefinition{}, false
}

// Names returns the display names of the sensors in order.
func (s Sensors) Names() []string {
	names := make([]string, len(s))
	for i, ss := range s {
		names[i] = ss.Sensor.Name
	}
	return names
}

// Clone returns a copy whose slice can be modified without affecting s.
func (s Sensors) Clone() Sensors {
	if s == nil {
		return nil
	}
	out := make(Sensors, len(s))
	copy(out, s)
	return out
}

// VehicleMetadata is descriptive and never consumed by the decode path.
type VehicleMetadata struct {
	Weight          *int        `json:"weight,omitempty"`
	PowerPlant      *PowerPlant `json:"power_plant,omitempty"`
	DragCoefficient *float64    `json:"drag_coefficient,omitempty"`
}

// Validate rejects unknown power plants.
func (m VehicleMetadata) Validate() error {
	if m.PowerPlant == nil {
		return nil
	}
	switch *m.PowerPlant {
	case Gasoline, Electric, Hydrogen:
		return nil
	}
	return fmt.Errorf("%w: unknown power plant %q", ErrInvalidMetadata, *m.PowerPlant)
}

// VehicleProfile is one entry of the cars collection.
type VehicleProfile struct {
	Name     string
	Active   bool
	Theme    string
	Sensors  Sensors
	Metadata VehicleMetadata
}

const defaultTheme = "default"

// sensorJSON is the wire shape of a sensor definition.
type sensorJSON struct {
	Name             string      `json:"name"`
	InputType        InputType   `json:"input_type"`
	Unit             *string     `json:"unit,omitempty"`
	ConversionFactor *float64    `json:"conversion_factor,omitempty"`
	Limits           *limitsJSON `json:"limits,omitempty"`
}

type limitsJSON struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

func (w sensorJSON) definition() SensorDefinition {
	def := SensorDefinition{
		Name:             w.Name,
		InputType:        w.InputType,
		Unit:             w.Unit,
		ConversionFactor: w.ConversionFactor,
	}
	if w.Limits != nil {
		def.LimitMin = w.Limits.Min
		def.LimitMax = w.Limits.Max
	}
	return def
}

// MarshalJSON renders the definition in the configuration document layout.
func (s SensorDefinition) MarshalJSON() ([]byte, error) {
	w := sensorJSON{
		Name:             s.Name,
		InputType:        s.InputType,
		Unit:             s.Unit,
		ConversionFactor: s.ConversionFactor,
	}
	if s.LimitMin != nil || s.LimitMax != nil {
		w.Limits = &limitsJSON{Min: s.LimitMin, Max: s.LimitMax}
	}
	return json.Marshal(w)
}
