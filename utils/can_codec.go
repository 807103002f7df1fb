package utils

import (
	"math"

	"go.einride.tech/can"
)

// FixedPointScale is the Q24 scale used for every physical quantity on the
// actuator bus except temperature.
const FixedPointScale = 1 << 24

var (
	// FixedPointField is a signed Q24 value in data bytes 1..4, MSB first.
	FixedPointField = FieldDef{
		Name:      "q24",
		StartBit:  24,
		BitLength: 32,
		Signed:    true,
		Factor:    1.0 / FixedPointScale,
	}

	// TemperatureField is an unsigned 8.8 value in data bytes 1..2, MSB first.
	TemperatureField = FieldDef{
		Name:      "temperature",
		StartBit:  40,
		BitLength: 16,
		Factor:    1.0 / 256,
		Unit:      "degC",
	}
)

// EncodeField writes v into data at the position described by f.
//
// The value is truncated toward zero in raw units. Values outside the field
// range saturate to the nearest representable value and NaN encodes as 0.
func EncodeField(data *can.Data, f FieldDef, v float64) {
	raw := physToRaw(f, v)
	payload := data.PackBigEndian()
	payload = setBits(payload, f.StartBit, f.BitLength, rawToUnsigned(raw, f.BitLength))
	data.UnpackBigEndian(payload)
}

// DecodeField reads the physical value described by f out of data.
func DecodeField(data can.Data, f FieldDef) float64 {
	u := getBits(data.PackBigEndian(), f.StartBit, f.BitLength)
	raw := unsignedToRawInt64(u, f.BitLength, f.Signed)
	return float64(raw) * f.Factor
}

func physToRaw(f FieldDef, v float64) int64 {
	if math.IsNaN(v) {
		return 0
	}
	lo, hi := rawRange(f.BitLength, f.Signed)
	scaled := math.Trunc(v / f.Factor)
	return int64(clamp(scaled, float64(lo), float64(hi)))
}

// EncodeFixed returns the 4 wire bytes of v in Q24.
func EncodeFixed(v float64) [4]byte {
	var d can.Data
	EncodeField(&d, FixedPointField, v)
	var out [4]byte
	copy(out[:], d[1:5])
	return out
}

// DecodeFixed converts 4 wire bytes in Q24 back to a float.
func DecodeFixed(b [4]byte) float64 {
	var d can.Data
	copy(d[1:5], b[:])
	return DecodeField(d, FixedPointField)
}

// EncodeTemperature returns the 2 wire bytes of a temperature in 1/256 degC.
func EncodeTemperature(v float64) [2]byte {
	var d can.Data
	EncodeField(&d, TemperatureField, v)
	var out [2]byte
	copy(out[:], d[1:3])
	return out
}

// DecodeTemperature converts 2 wire bytes back to degrees.
func DecodeTemperature(b [2]byte) float64 {
	var d can.Data
	copy(d[1:3], b[:])
	return DecodeField(d, TemperatureField)
}
