package control

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStagesPerMode(t *testing.T) {
	for mode, want := range map[OperatingMode][]Stage{
		UnknownMode:                 nil,
		CurrentMode:                 {CurrentStage},
		VelocityMode:                {VelocityStage, CurrentStage},
		VelocityCurrentMode:         {VelocityStage, CurrentStage},
		PositionMode:                {PositionStage, VelocityStage, CurrentStage},
		PositionCurrentMode:         {PositionStage, VelocityStage, CurrentStage},
		PositionVelocityMode:        {PositionStage, VelocityStage, CurrentStage},
		PositionVelocityCurrentMode: {PositionStage, VelocityStage, CurrentStage},
	} {
		require.Equal(t, want, mode.Stages(), mode.String())
	}
}

func TestCalculateChainsStages(t *testing.T) {
	m := NewMotor(PositionMode)
	m.SetVelocityLoopGains(2, 0)

	var trace []StageResult
	m.OnStage = func(r StageResult) { trace = append(trace, r) }

	require.NoError(t, m.SetPosition(10))
	m.SetFeedback(0, 0, 0)
	m.Calculate()

	require.Len(t, trace, 3)
	require.Equal(t, PositionStage, trace[0].Stage)
	require.Equal(t, VelocityStage, trace[1].Stage)
	require.Equal(t, CurrentStage, trace[2].Stage)
	require.Equal(t, trace[0].Output, trace[1].Setpoint)
	require.Equal(t, trace[1].Output, trace[2].Setpoint)

	require.Equal(t, 10.0, m.Loop(VelocityStage).Setpoint())
	require.Equal(t, 20.0, m.Loop(CurrentStage).Setpoint())
	require.Equal(t, 20.0, m.Command())

	// Second period: position error 6, velocity error 6-1=5 -> 10,
	// increment current loop: 20 + (10 - 20) = 10.
	trace = trace[:0]
	m.SetFeedback(0, 1, 4)
	m.Calculate()
	require.Equal(t, 6.0, trace[0].Output)
	require.Equal(t, 10.0, trace[1].Output)
	require.Equal(t, 10.0, m.Command())
}

func TestVelocityModeSkipsPositionLoop(t *testing.T) {
	m := NewMotor(VelocityMode)
	var stages []Stage
	m.OnStage = func(r StageResult) { stages = append(stages, r.Stage) }

	require.NoError(t, m.SetVelocity(3))
	m.Calculate()
	require.Equal(t, []Stage{VelocityStage, CurrentStage}, stages)
	require.Equal(t, 3.0, m.Command())
	require.Equal(t, 0.0, m.Loop(PositionStage).Output())
}

func TestUnknownModeRunsNothing(t *testing.T) {
	m := NewMotor(UnknownMode)
	called := false
	m.OnStage = func(StageResult) { called = true }
	m.Calculate()
	require.False(t, called)
	require.Equal(t, 0.0, m.Command())
}

func TestSetpointModeMismatch(t *testing.T) {
	m := NewMotor(PositionMode)

	require.ErrorIs(t, m.SetCurrent(1), ErrModeMismatch)
	require.ErrorIs(t, m.SetVelocity(1), ErrModeMismatch)
	require.ErrorIs(t, m.SetPositionWithCurrent(1, 1), ErrModeMismatch)
	require.ErrorIs(t, m.SetVelocityWithCurrent(1, 1), ErrModeMismatch)
	require.ErrorIs(t, m.SetPositionWithVelocity(1, 1), ErrModeMismatch)
	require.ErrorIs(t, m.SetPositionWithVelocityAndCurrent(1, 1, 1), ErrModeMismatch)
	require.NoError(t, m.SetPosition(1))

	// Nothing leaked into the wrong loops.
	require.Equal(t, 0.0, m.Loop(VelocityStage).Setpoint())
	require.Equal(t, 0.0, m.Loop(CurrentStage).Setpoint())
}

func TestFeedforwardSetters(t *testing.T) {
	m := NewMotor(PositionVelocityCurrentMode)
	require.NoError(t, m.SetPositionWithVelocityAndCurrent(1, 2, 3))
	m.Calculate()
	// position: 1 + ff 2 = 3, velocity: 3 + ff 3 = 6, current passthrough.
	require.Equal(t, 3.0, m.Loop(PositionStage).Output())
	require.Equal(t, 6.0, m.Loop(VelocityStage).Output())
	require.Equal(t, 6.0, m.Command())

	m.SetMode(VelocityCurrentMode)
	require.NoError(t, m.SetVelocityWithCurrent(2, 0.5))
	m.Calculate()
	require.Equal(t, 2.5, m.Command())
}

func TestSetModeClearsBuffersKeepsGains(t *testing.T) {
	m := NewMotor(PositionMode)
	m.SetPositionLoopGains(3, 0.1, 0.2)
	m.SetPositionLoopLimits(5, -5)
	require.NoError(t, m.SetPosition(10))
	m.Calculate()
	require.NotZero(t, m.Command())

	m.SetMode(CurrentMode)
	require.Equal(t, CurrentMode, m.Mode())
	for _, s := range []Stage{PositionStage, VelocityStage, CurrentStage} {
		require.Equal(t, 0.0, m.Loop(s).Output(), s.String())
		require.Equal(t, 0.0, m.Loop(s).Setpoint(), s.String())
	}
	kp, ki, kd := m.Loop(PositionStage).Gains()
	require.Equal(t, []float64{3, 0.1, 0.2}, []float64{kp, ki, kd})
	max, min := m.Loop(PositionStage).Limits()
	require.Equal(t, []float64{5, -5}, []float64{max, min})
}

func TestParseOperatingMode(t *testing.T) {
	m, err := ParseOperatingMode("position_velocity")
	require.NoError(t, err)
	require.Equal(t, PositionVelocityMode, m)

	_, err = ParseOperatingMode("unknown")
	require.Error(t, err)
	_, err = ParseOperatingMode("torque")
	require.Error(t, err)
}
