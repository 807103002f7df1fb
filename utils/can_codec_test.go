package utils

import (
	"math"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"go.einride.tech/can"
)

func TestEncodeFixed(t *testing.T) {
	Convey("Q24 values are written MSB first", t, func() {
		Convey("one is 0x01000000", func() {
			So(EncodeFixed(1), ShouldResemble, [4]byte{0x01, 0x00, 0x00, 0x00})
		})

		Convey("minus one is two's complement", func() {
			So(EncodeFixed(-1), ShouldResemble, [4]byte{0xFF, 0x00, 0x00, 0x00})
		})

		Convey("fractions truncate toward zero", func() {
			tiny := 1.5 / FixedPointScale
			So(EncodeFixed(tiny), ShouldResemble, [4]byte{0x00, 0x00, 0x00, 0x01})
			So(EncodeFixed(-tiny), ShouldResemble, [4]byte{0xFF, 0xFF, 0xFF, 0xFF})
		})

		Convey("out of range values saturate", func() {
			So(EncodeFixed(1000), ShouldResemble, [4]byte{0x7F, 0xFF, 0xFF, 0xFF})
			So(EncodeFixed(-1000), ShouldResemble, [4]byte{0x80, 0x00, 0x00, 0x00})
			So(EncodeFixed(math.Inf(1)), ShouldResemble, [4]byte{0x7F, 0xFF, 0xFF, 0xFF})
		})

		Convey("NaN encodes as zero", func() {
			So(EncodeFixed(math.NaN()), ShouldResemble, [4]byte{})
		})
	})
}

func TestFixedRoundTrip(t *testing.T) {
	Convey("decode(encode(v)) stays within one LSB over [-8, 8)", t, func() {
		for v := -8.0; v < 8.0; v += 0.0137 {
			got := DecodeFixed(EncodeFixed(v))
			So(math.Abs(got-v), ShouldBeLessThanOrEqualTo, 1.0/FixedPointScale)
		}
		So(DecodeFixed(EncodeFixed(-8)), ShouldEqual, -8.0)
	})
}

func TestFieldPlacement(t *testing.T) {
	Convey("Fields land in the expected data bytes", t, func() {
		var d can.Data
		d[0] = 0x06
		EncodeField(&d, FixedPointField, -2.5)

		Convey("opcode byte is untouched", func() {
			So(d[0], ShouldEqual, byte(0x06))
		})

		Convey("payload occupies bytes 1..4", func() {
			So(d[1:5], ShouldResemble, []byte{0xFD, 0x80, 0x00, 0x00})
			So(d[5:], ShouldResemble, []byte{0, 0, 0})
		})

		Convey("decoding the frame returns the value", func() {
			So(DecodeField(d, FixedPointField), ShouldEqual, -2.5)
		})

		Convey("layout helpers agree", func() {
			So(FixedPointField.Byte(), ShouldEqual, 1)
			So(FixedPointField.MinFrameLength(), ShouldEqual, uint8(5))
			So(TemperatureField.MinFrameLength(), ShouldEqual, uint8(3))
		})
	})
}

func TestTemperature(t *testing.T) {
	Convey("Temperatures use both bytes of an 8.8 value", t, func() {
		So(DecodeTemperature([2]byte{0x19, 0x80}), ShouldEqual, 25.5)
		So(EncodeTemperature(25.5), ShouldResemble, [2]byte{0x19, 0x80})

		Convey("negative temperatures clamp to zero", func() {
			So(EncodeTemperature(-4), ShouldResemble, [2]byte{0x00, 0x00})
		})
	})
}
