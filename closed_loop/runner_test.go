package main

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.einride.tech/can"

	"sca-ctrl-core/actuator"
	"sca-ctrl-core/control"
	"sca-ctrl-core/utils"
)

func testConfig(axes ...AxisConfig) Config {
	cfg := DefaultConfig()
	cfg.Simulate = true
	cfg.CyclePeriod = time.Millisecond
	cfg.HandshakeEvery = 0
	cfg.Engine = actuator.EngineConfig{
		RecvTimeoutTicks: 3,
		PollTick:         100 * time.Microsecond,
		OfflineThreshold: 3,
	}
	cfg.Axes = axes
	return cfg
}

func velocityAxis(id uint8, kp, setpoint float64) AxisConfig {
	return AxisConfig{
		ID:       id,
		Mode:     "velocity",
		Velocity: LoopConfig{Kp: kp},
		Current:  LoopConfig{Kp: 1},
		Setpoint: Setpoint{Velocity: setpoint},
	}
}

func currentAxis(id uint8, setpoint float64) AxisConfig {
	return AxisConfig{
		ID:       id,
		Mode:     "current",
		Current:  LoopConfig{Kp: 1},
		Setpoint: Setpoint{Current: setpoint},
	}
}

func newSimRunner(t *testing.T, cfg Config) (*Runner, *actuator.Simulator) {
	t.Helper()
	require.NoError(t, cfg.Validate())
	sim := actuator.NewSimulator(cfg.IDs()...)
	r, err := newRunner(cfg, sim, utils.NewWriterLogger(io.Discard, utils.ERROR))
	require.NoError(t, err)
	sim.Attach(r.eng.OnFrameReceived)
	return r, sim
}

func opsSent(sim *actuator.Simulator, id uint8) []actuator.Opcode {
	var ops []actuator.Opcode
	for _, f := range sim.Sent() {
		if f.ID == uint32(id) {
			ops = append(ops, actuator.Opcode(f.Data[0]))
		}
	}
	return ops
}

func state(t *testing.T, r *Runner, id uint8) actuator.State {
	t.Helper()
	rec, err := r.Engine().Registry().Find(id)
	require.NoError(t, err)
	return rec.Snapshot()
}

func TestBringup(t *testing.T) {
	ctx := context.Background()
	r, sim := newSimRunner(t, testConfig(velocityAxis(1, 2, 0.5)))

	require.NoError(t, r.Bringup(ctx))
	require.Equal(t, actuator.PowerOn, sim.Device(1).Power)
	require.Equal(t, actuator.RunModeCurrent, sim.Device(1).Mode)
	require.Equal(t, []actuator.Opcode{
		actuator.OpGetPower, actuator.OpSetPower, actuator.OpGetPower,
		actuator.OpGetMode, actuator.OpSetMode, actuator.OpGetMode,
		actuator.OpGetExceptions,
	}, opsSent(sim, 1))

	// Already up: only the reads go out.
	require.NoError(t, r.Bringup(ctx))
	require.Len(t, opsSent(sim, 1), 10)
}

func TestBringupFailsOnSilentActuator(t *testing.T) {
	r, sim := newSimRunner(t, testConfig(velocityAxis(4, 1, 0)))
	sim.Drop(4, 1)
	err := r.Bringup(context.Background())
	require.ErrorIs(t, err, actuator.ErrAckTimeout)
	require.Contains(t, err.Error(), "actuator 4")
}

func TestDriveCycleVelocity(t *testing.T) {
	ctx := context.Background()
	r, sim := newSimRunner(t, testConfig(velocityAxis(1, 2, 0.5)))

	require.NoError(t, r.DriveCycle(ctx))
	require.Equal(t, []actuator.Opcode{
		actuator.OpGetPosition, actuator.OpGetSpeed, actuator.OpSetCurrent,
	}, opsSent(sim, 1))

	// Speed 0: velocity loop 2*0.5, current loop passes it on.
	first := state(t, r, 1).DestCurrent
	require.Equal(t, 1.0/33, first)
	require.InDelta(t, 1.0/33, sim.Device(1).Speed, 1e-6)

	require.NoError(t, r.DriveCycle(ctx))
	second := state(t, r, 1).DestCurrent
	require.Less(t, second, first)
	require.Greater(t, second, 0.0)
}

func TestDriveCyclePosition(t *testing.T) {
	r, sim := newSimRunner(t, testConfig(AxisConfig{
		ID:       1,
		Mode:     "position",
		Position: LoopConfig{Kp: 1},
		Velocity: LoopConfig{Kp: 1},
		Current:  LoopConfig{Kp: 1},
		Setpoint: Setpoint{Position: 10},
	}))

	require.NoError(t, r.DriveCycle(context.Background()))

	// At rest: each stage passes the position error of 10 down the chain.
	want := 10.0 / 33
	var sent []can.Frame
	for _, f := range sim.Sent() {
		if actuator.Opcode(f.Data[0]) == actuator.OpSetCurrent {
			sent = append(sent, f)
		}
	}
	require.Len(t, sent, 1)
	q := utils.EncodeFixed(want)
	require.Equal(t, q[:], sent[0].Data[1:5])
	require.Equal(t, want, state(t, r, 1).DestCurrent)
	require.Equal(t, 10.0, r.axes[0].Motor.Loop(control.VelocityStage).Setpoint())
}

func TestDriveCycleSaturatesCommand(t *testing.T) {
	r, _ := newSimRunner(t, testConfig(currentAxis(1, 100)))
	require.NoError(t, r.DriveCycle(context.Background()))
	require.Equal(t, 1.0, state(t, r, 1).DestCurrent)
}

func TestDriveCycleCollectsAxisErrors(t *testing.T) {
	r, sim := newSimRunner(t, testConfig(currentAxis(1, 3.3), currentAxis(2, 3.3)))
	sim.Drop(2, 1)

	err := r.DriveCycle(context.Background())
	require.ErrorIs(t, err, actuator.ErrAckTimeout)
	require.InDelta(t, 0.1, state(t, r, 1).DestCurrent, 1e-12)
	require.Equal(t, 0.0, state(t, r, 2).DestCurrent)
	require.Equal(t, 1, state(t, r, 2).FailureCount)
}

func TestDriveCycleHandshake(t *testing.T) {
	cfg := testConfig(currentAxis(1, 0))
	cfg.HandshakeEvery = 2
	r, sim := newSimRunner(t, cfg)

	for i := 0; i < 4; i++ {
		require.NoError(t, r.DriveCycle(context.Background()))
	}
	var handshakes int
	for _, op := range opsSent(sim, 1) {
		if op == actuator.OpHandshake {
			handshakes++
		}
	}
	require.Equal(t, 2, handshakes)
}

func TestRunForDuration(t *testing.T) {
	cfg := testConfig(velocityAxis(1, 2, 0.5))
	cfg.Duration = 20 * time.Millisecond
	r, sim := newSimRunner(t, cfg)

	require.NoError(t, r.Run(context.Background()))
	require.NoError(t, r.Close())
	require.Equal(t, actuator.PowerOn, sim.Device(1).Power)
	require.NotZero(t, r.cycles)
	// Run leaves the actuator at zero current.
	require.Equal(t, 0.0, sim.Device(1).Current)
	require.Equal(t, 0.0, state(t, r, 1).DestCurrent)
}

func TestRunStopsOnCancel(t *testing.T) {
	r, _ := newSimRunner(t, testConfig(currentAxis(1, 1)))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, r.Run(ctx), context.DeadlineExceeded)
}

// pumpedSource routes simulator replies through Listen, the way received
// frames reach the engine on a real bus.
type pumpedSource struct {
	sim     *actuator.Simulator
	stopped atomic.Bool
}

func (p *pumpedSource) Run(ctx context.Context, onFrame func(can.Frame)) error {
	<-ctx.Done()
	p.sim.Attach(nil)
	p.stopped.Store(true)
	return ctx.Err()
}

func TestRunHoldsBeforeStoppingReception(t *testing.T) {
	r, sim := newSimRunner(t, testConfig(currentAxis(1, 3.3)))
	src := &pumpedSource{sim: sim}
	r.rx = src

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, r.Run(ctx), context.DeadlineExceeded)

	require.True(t, src.stopped.Load())
	require.Equal(t, 0.0, sim.Device(1).Current)
	s := state(t, r, 1)
	require.Equal(t, 0.0, s.DestCurrent)
	require.Zero(t, s.FailureCount)
	require.Equal(t, actuator.Online, s.Liveness)
}

func TestNewRunnerRejectsUnknownMode(t *testing.T) {
	cfg := testConfig(AxisConfig{ID: 1})
	_, err := newRunner(cfg, actuator.NewSimulator(1), nil)
	require.Error(t, err)
}
