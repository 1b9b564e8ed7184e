package carconfig

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tailscale/hujson"
)

// Document is a validated, immutable configuration: the ordered collection
// of vehicle profiles. A new Document is built for every load; it is never
// modified in place.
type Document struct {
	profiles []VehicleProfile
}

// Parse parses and validates a configuration document. Comments and
// trailing commas are accepted; object member order is preserved so that
// profile and sensor order follow the document.
func Parse(data []byte) (*Document, error) {
	v, err := hujson.Parse(data)
	if err != nil {
		return nil, configErr("", ErrMalformed, "%v", err)
	}
	v.Standardize()

	root, ok := v.Value.(*hujson.Object)
	if !ok {
		return nil, configErr("", ErrMalformed, "top level must be an object")
	}

	var cars *hujson.Object
	for _, m := range root.Members {
		if memberName(m) != "cars" {
			continue
		}
		switch val := m.Value.Value.(type) {
		case *hujson.Object:
			cars = val
		case hujson.Literal:
			if val.Kind() != 'n' {
				return nil, configErr("", ErrMalformed, "cars must be an object")
			}
		default:
			return nil, configErr("", ErrMalformed, "cars must be an object")
		}
	}
	if cars == nil || len(cars.Members) == 0 {
		return nil, configErr("", ErrNoVehicles, "")
	}

	doc := &Document{profiles: make([]VehicleProfile, 0, len(cars.Members))}
	seen := make(map[string]bool, len(cars.Members))
	for _, m := range cars.Members {
		name := memberName(m)
		if seen[name] {
			return nil, configErr(name, ErrDuplicateCar, "")
		}
		seen[name] = true

		p, err := parseProfile(name, m.Value)
		if err != nil {
			return nil, err
		}
		doc.profiles = append(doc.profiles, p)
	}
	return doc, nil
}

func parseProfile(name string, v hujson.Value) (VehicleProfile, error) {
	obj, ok := v.Value.(*hujson.Object)
	if !ok {
		return VehicleProfile{}, configErr(name, ErrMalformed, "car entry must be an object")
	}

	p := VehicleProfile{Name: name, Theme: defaultTheme}
	var haveSensors, haveMetadata bool
	for _, m := range obj.Members {
		raw := m.Value.Pack()
		switch memberName(m) {
		case "active":
			if err := json.Unmarshal(raw, &p.Active); err != nil {
				return p, configErr(name, ErrMalformed, "active: %v", err)
			}
		case "theme":
			var theme *string
			if err := json.Unmarshal(raw, &theme); err != nil {
				return p, configErr(name, ErrMalformed, "theme: %v", err)
			}
			if theme != nil {
				p.Theme = *theme
			}
		case "sensors":
			sensors, err := parseSensors(name, m.Value)
			if err != nil {
				return p, err
			}
			haveSensors = sensors != nil
			p.Sensors = sensors
		case "metadata":
			var md *VehicleMetadata
			if err := json.Unmarshal(raw, &md); err != nil {
				return p, configErr(name, ErrInvalidMetadata, "%v", err)
			}
			if md != nil {
				if err := md.Validate(); err != nil {
					return p, &ConfigError{Car: name, Err: err}
				}
				haveMetadata = true
				p.Metadata = *md
			}
		}
	}

	if !haveSensors {
		return p, configErr(name, ErrMissingSensors, "")
	}
	if !haveMetadata {
		return p, configErr(name, ErrMissingMetadata, "")
	}
	return p, nil
}

// parseSensors returns nil for an explicit null and an empty, non-nil
// Sensors for an empty object.
func parseSensors(car string, v hujson.Value) (Sensors, error) {
	switch val := v.Value.(type) {
	case *hujson.Object:
		sensors := make(Sensors, 0, len(val.Members))
		for _, m := range val.Members {
			slot := memberName(m)
			var w sensorJSON
			if err := json.Unmarshal(m.Value.Pack(), &w); err != nil {
				return nil, configErr(car, ErrInvalidSensor, "slot %s: %v", slot, err)
			}
			def := w.definition()
			if err := def.Validate(); err != nil {
				return nil, &ConfigError{Car: car, Err: fmt.Errorf("slot %s: %w", slot, err)}
			}
			sensors = append(sensors, SensorSlot{Slot: slot, Sensor: def})
		}
		return sensors, nil
	case hujson.Literal:
		if val.Kind() == 'n' {
			return nil, nil
		}
	}
	return nil, configErr(car, ErrMalformed, "sensors must be an object")
}

func memberName(m hujson.ObjectMember) string {
	if lit, ok := m.Name.Value.(hujson.Literal); ok {
		return lit.String()
	}
	return ""
}

// Profiles returns the profiles in document order. The returned slice is a
// copy; the values it holds must be treated as read-only.
func (d *Document) Profiles() []VehicleProfile {
	out := make([]VehicleProfile, len(d.profiles))
	copy(out, d.profiles)
	return out
}

// Len returns the number of profiles.
func (d *Document) Len() int { return len(d.profiles) }

// Profile returns the profile with the given name.
func (d *Document) Profile(name string) (VehicleProfile, bool) {
	for _, p := range d.profiles {
		if p.Name == name {
			return p, true
		}
	}
	return VehicleProfile{}, false
}

// Active returns the first profile marked active, in document order.
func (d *Document) Active() (VehicleProfile, bool) {
	for _, p := range d.profiles {
		if p.Active {
			return p, true
		}
	}
	return VehicleProfile{}, false
}

// activeCount reports how many profiles are marked active.
func (d *Document) activeCount() int {
	n := 0
	for _, p := range d.profiles {
		if p.Active {
			n++
		}
	}
	return n
}

// MarshalJSON renders the document in the cars layout, preserving profile
// and sensor order, so that feeding the output back through Parse yields an
// equivalent document.
func (d *Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"cars":{`)
	for i, p := range d.profiles {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeKey(&buf, p.Name); err != nil {
			return nil, err
		}
		if err := writeProfile(&buf, p); err != nil {
			return nil, err
		}
	}
	buf.WriteString(`}}`)
	return buf.Bytes(), nil
}

func writeProfile(buf *bytes.Buffer, p VehicleProfile) error {
	head, err := json.Marshal(struct {
		Active bool   `json:"active"`
		Theme  string `json:"theme"`
	}{p.Active, p.Theme})
	if err != nil {
		return err
	}
	// reopen the object to append the ordered sensors and metadata
	buf.Write(head[:len(head)-1])
	buf.WriteString(`,"sensors":{`)
	for i, ss := range p.Sensors {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeKey(buf, ss.Slot); err != nil {
			return err
		}
		b, err := json.Marshal(ss.Sensor)
		if err != nil {
			return err
		}
		buf.Write(b)
	}
	buf.WriteString(`},"metadata":`)
	b, err := json.Marshal(p.Metadata)
	if err != nil {
		return err
	}
	buf.Write(b)
	buf.WriteByte('}')
	return nil
}

func writeKey(buf *bytes.Buffer, key string) error {
	b, err := json.Marshal(key)
	if err != nil {
		return err
	}
	buf.Write(b)
	buf.WriteByte(':')
	return nil
}
