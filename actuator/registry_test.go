package actuator

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.einride.tech/can"
)

func TestNewRegistry(t *testing.T) {
	reg, err := NewRegistry(5, 1, 3)
	require.NoError(t, err)
	require.Equal(t, []uint8{1, 3, 5}, reg.IDs())

	rec, err := reg.Find(3)
	require.NoError(t, err)
	require.Equal(t, uint8(3), rec.ID())

	s := rec.Snapshot()
	require.Equal(t, uint8(3), s.ID)
	require.Equal(t, Online, s.Liveness)
	require.Equal(t, AckClear, s.Ack)
	require.False(t, rec.DataReady())

	_, err = reg.Find(4)
	require.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestNewRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(1, 2, 1)
	require.Error(t, err)
}

func TestRecordPostKeepsNewest(t *testing.T) {
	reg, err := NewRegistry(1)
	require.NoError(t, err)
	rec, _ := reg.Find(1)

	rec.post(fixedFrame(1, OpGetSpeed, 0.25))
	rec.post(fixedFrame(1, OpGetPosition, 7))
	require.True(t, rec.DataReady())

	op, ack, ok := rec.decode(<-rec.inbox)
	require.True(t, ok)
	require.Equal(t, OpGetPosition, op)
	require.Equal(t, AckSuccess, ack)
	require.Equal(t, 7.0, rec.Snapshot().Position)
	require.Equal(t, 0.0, rec.Snapshot().Speed)
}

func TestDecode(t *testing.T) {
	reg, err := NewRegistry(1)
	require.NoError(t, err)
	rec, _ := reg.Find(1)

	temp := requestFrame(1, OpGetInverterTemp, []byte{0x19, 0x80})
	_, ack, ok := rec.decode(temp)
	require.True(t, ok)
	require.Equal(t, AckSuccess, ack)
	require.Equal(t, 25.5, rec.Snapshot().InverterTemp)

	exc := requestFrame(1, OpGetExceptions, []byte{0x04, 0x01})
	_, _, ok = rec.decode(exc)
	require.True(t, ok)
	w := rec.Snapshot().Warnings
	require.True(t, w.Has(WarnDriverProtection))
	require.True(t, w.Has(WarnOverVoltage))
	require.Equal(t, "over_voltage|driver_protection", w.String())

	short := requestFrame(1, OpGetPosition, []byte{0, 0, 1})
	_, ack, ok = rec.decode(short)
	require.True(t, ok)
	require.Equal(t, AckClear, ack)

	_, _, ok = rec.decode(requestFrame(1, Opcode(0x99), nil))
	require.False(t, ok)
}

func TestDecodeShortFrames(t *testing.T) {
	reg, err := NewRegistry(1)
	require.NoError(t, err)
	rec, _ := reg.Find(1)
	rec.update(func(s *State) {
		s.Mode = RunModeProfilePosition
		s.Power = PowerOn
		s.Shutdown = ShutdownAbnormal
		s.Warnings = WarnCANBus
		s.InverterTemp = 30
	})

	for _, f := range []can.Frame{
		requestFrame(1, OpGetMode, nil),
		requestFrame(1, OpGetPower, nil),
		requestFrame(1, OpGetShutdownState, nil),
		requestFrame(1, OpGetExceptions, []byte{0x04}),
		requestFrame(1, OpGetInverterTemp, []byte{0x19}),
		requestFrame(1, OpSetCurrent, nil),
	} {
		op, ack, ok := rec.decode(f)
		require.True(t, ok, op.String())
		require.Equal(t, AckClear, ack, op.String())
	}

	s := rec.Snapshot()
	require.Equal(t, RunModeProfilePosition, s.Mode)
	require.Equal(t, PowerOn, s.Power)
	require.Equal(t, ShutdownAbnormal, s.Shutdown)
	require.Equal(t, WarnCANBus, s.Warnings)
	require.Equal(t, 30.0, s.InverterTemp)
}

func TestOpcodeTable(t *testing.T) {
	require.True(t, OpGetPosition.IsGetter())
	require.False(t, OpSetPosition.IsGetter())
	require.False(t, OpHandshake.IsGetter())
	require.Equal(t, "get_motor_temp", OpGetMotorTemp.String())
	require.Equal(t, "opcode(0x99)", Opcode(0x99).String())
	require.Equal(t, uint8(5), fixedFrameLength)

	op, ok := ParseOpcode("get_speed_output_upper")
	require.True(t, ok)
	require.Equal(t, OpGetSpeedOutputUpper, op)
	_, ok = ParseOpcode("nope")
	require.False(t, ok)

	m, ok := ParseRunMode("speed")
	require.True(t, ok)
	require.Equal(t, RunModeSpeed, m)
	_, ok = ParseRunMode("")
	require.False(t, ok)

	require.True(t, RunModeHoming.Valid())
	require.False(t, RunMode(0).Valid())
	require.Equal(t, "profile_speed", RunModeProfileSpeed.String())
}
