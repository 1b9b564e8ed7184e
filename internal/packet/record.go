package packet

// Record is one decoded sample: field name to value. A fresh Record is
// built for every frame and handed off to the sinks.
type Record map[string]float64

const (
	FieldSpeed      = "speed"
	FieldAirspeed   = "airspeed"
	FieldEngineTemp = "engine_temp"
	FieldRadTemp    = "rad_temp"

	FieldDistance = "distance_traveled"
	FieldTime     = "time"
)

// FixedFields are present in every record, ahead of the configured sensors.
var FixedFields = []string{FieldSpeed, FieldAirspeed, FieldEngineTemp, FieldRadTemp}

// DerivedFields are computed by the decoder and follow the configured
// sensors.
var DerivedFields = []string{FieldDistance, FieldTime}

// Columns returns the column order for records carrying sensors.
func Columns(sensors []string) []string {
	cols := make([]string, 0, len(FixedFields)+len(sensors)+len(DerivedFields))
	cols = append(cols, FixedFields...)
	cols = append(cols, sensors...)
	return append(cols, DerivedFields...)
}

// Time returns the record's timestamp in Unix milliseconds.
func (r Record) Time() int64 { return int64(r[FieldTime]) }
