package main

import (
	"context"
	"fmt"
	"time"

	"go.einride.tech/can"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"sca-ctrl-core/actuator"
	"sca-ctrl-core/control"
	"sca-ctrl-core/utils"
)

// Axis is one actuator driven by its own cascade.
type Axis struct {
	ID    uint8
	Motor *control.Motor
}

// frameSource delivers received frames until ctx is done.
type frameSource interface {
	Run(ctx context.Context, onFrame func(can.Frame)) error
}

type Runner struct {
	cfg  Config
	log  *utils.Logger
	eng  *actuator.Engine
	axes []*Axis

	writer *utils.SocketCANWriter
	reader *utils.SocketCANReader
	rx     frameSource

	cycles uint64
}

// NewRunner opens the bus named in cfg, or an in-process simulator when
// cfg.Simulate is set.
func NewRunner(ctx context.Context, cfg Config, log *utils.Logger) (*Runner, error) {
	if cfg.Simulate {
		sim := actuator.NewSimulator(cfg.IDs()...)
		sim.Dt = cfg.CyclePeriod.Seconds()
		r, err := newRunner(cfg, sim, log)
		if err != nil {
			return nil, err
		}
		sim.Attach(r.eng.OnFrameReceived)
		return r, nil
	}

	conn, err := utils.DialSocketCAN(ctx, cfg.Interface)
	if err != nil {
		return nil, err
	}
	writer := utils.NewSocketCANWriter(conn)
	reader := utils.NewSocketCANReader(conn)
	r, err := newRunner(cfg, writer, log)
	if err != nil {
		_ = writer.Close()
		return nil, err
	}
	r.writer, r.reader, r.rx = writer, reader, reader
	return r, nil
}

func newRunner(cfg Config, bus utils.CANWriter, log *utils.Logger) (*Runner, error) {
	reg, err := actuator.NewRegistry(cfg.IDs()...)
	if err != nil {
		return nil, err
	}
	r := &Runner{
		cfg: cfg,
		log: log,
		eng: actuator.NewEngine(bus, reg, cfg.Engine, log),
	}
	for _, ac := range cfg.Axes {
		a, err := newAxis(ac)
		if err != nil {
			return nil, err
		}
		r.axes = append(r.axes, a)
	}
	return r, nil
}

func newAxis(ac AxisConfig) (*Axis, error) {
	mode := ac.OperatingMode()
	m := control.NewMotor(mode)
	m.SetCurrentLoopGains(ac.Current.Kp, ac.Current.Kd)
	m.SetVelocityLoopGains(ac.Velocity.Kp, ac.Velocity.Ki)
	m.SetPositionLoopGains(ac.Position.Kp, ac.Position.Ki, ac.Position.Kd)
	m.SetCurrentLoopLimits(ac.Current.Max, ac.Current.Min)
	m.SetVelocityLoopLimits(ac.Velocity.Max, ac.Velocity.Min)
	m.SetPositionLoopLimits(ac.Position.Max, ac.Position.Min)

	sp := ac.Setpoint
	var err error
	switch mode {
	case control.CurrentMode:
		err = m.SetCurrent(sp.Current)
	case control.VelocityMode:
		err = m.SetVelocity(sp.Velocity)
	case control.PositionMode:
		err = m.SetPosition(sp.Position)
	case control.PositionCurrentMode:
		err = m.SetPositionWithCurrent(sp.Position, sp.Current)
	case control.VelocityCurrentMode:
		err = m.SetVelocityWithCurrent(sp.Velocity, sp.Current)
	case control.PositionVelocityMode:
		err = m.SetPositionWithVelocity(sp.Position, sp.Velocity)
	case control.PositionVelocityCurrentMode:
		err = m.SetPositionWithVelocityAndCurrent(sp.Position, sp.Velocity, sp.Current)
	default:
		err = fmt.Errorf("axis %d: mode %s cannot be driven", ac.ID, mode)
	}
	if err != nil {
		return nil, err
	}
	return &Axis{ID: ac.ID, Motor: m}, nil
}

func (r *Runner) Engine() *actuator.Engine { return r.eng }

func (r *Runner) Close() error {
	var err error
	if r.reader != nil {
		err = multierr.Append(err, r.reader.Close())
	}
	if r.writer != nil {
		err = multierr.Append(err, r.writer.Close())
	}
	return err
}

// Bringup powers every actuator on and puts it in current mode. The cascade
// runs here; the actuator only follows current commands.
func (r *Runner) Bringup(ctx context.Context) error {
	for _, a := range r.axes {
		if err := r.bringupAxis(ctx, a); err != nil {
			return fmt.Errorf("bring-up actuator %d: %w", a.ID, err)
		}
	}
	return nil
}

func (r *Runner) bringupAxis(ctx context.Context, a *Axis) error {
	rec, err := r.eng.Registry().Find(a.ID)
	if err != nil {
		return err
	}

	if err := r.eng.GetParameter(ctx, actuator.OpGetPower, a.ID); err != nil {
		return err
	}
	if rec.Snapshot().Power != actuator.PowerOn {
		r.log.Info("actuator %d: powering on", a.ID)
		if err := r.eng.SetPowerState(ctx, actuator.PowerOn, a.ID); err != nil {
			return err
		}
	}

	if err := r.eng.GetParameter(ctx, actuator.OpGetMode, a.ID); err != nil {
		return err
	}
	if m := rec.Snapshot().Mode; m != actuator.RunModeCurrent {
		r.log.Info("actuator %d: switching from %s to current mode", a.ID, m)
		if err := r.eng.SetMode(ctx, actuator.RunModeCurrent, a.ID); err != nil {
			return err
		}
	}

	if err := r.eng.GetParameter(ctx, actuator.OpGetExceptions, a.ID); err != nil {
		return err
	}
	if w := rec.Snapshot().Warnings; w != 0 {
		r.log.Warn("actuator %d reports %s", a.ID, w)
	}

	r.log.Info("actuator %d ready: cascade=%s", a.ID, a.Motor.Mode())
	return nil
}

// DriveCycle runs one control period on every axis. A failing axis does not
// stop the others; all failures are returned together.
func (r *Runner) DriveCycle(ctx context.Context) error {
	var errs error
	for _, a := range r.axes {
		errs = multierr.Append(errs, r.driveAxis(ctx, a))
	}

	r.cycles++
	if r.cfg.HandshakeEvery > 0 && r.cycles%uint64(r.cfg.HandshakeEvery) == 0 {
		for _, a := range r.axes {
			errs = multierr.Append(errs, r.eng.Handshake(ctx, a.ID))
		}
	}
	return errs
}

func (r *Runner) driveAxis(ctx context.Context, a *Axis) error {
	if err := r.eng.GetParameter(ctx, actuator.OpGetPosition, a.ID); err != nil {
		return err
	}
	if err := r.eng.GetParameter(ctx, actuator.OpGetSpeed, a.ID); err != nil {
		return err
	}
	rec, err := r.eng.Registry().Find(a.ID)
	if err != nil {
		return err
	}
	s := rec.Snapshot()

	// The actuator current is not read back; the current loop sees zero.
	a.Motor.SetFeedback(0, s.Speed, s.Position)
	a.Motor.Calculate()

	cmd := clamp(a.Motor.Command()/r.cfg.CurrentScale, -1, 1)
	if r.log.Enabled(utils.DEBUG) && r.cycles%100 == 0 {
		d := a.Motor.Loop(a.Motor.Mode().Stages()[0]).GetDiagnostics()
		r.log.Debug("actuator %d: pos=%.4f vel=%.4f err=%.4f P=%.4f I=%.4f cmd=%.4f",
			a.ID, s.Position, s.Speed, d.Error, d.P, d.I, cmd)
	}
	return r.eng.SetCurrent(ctx, cmd, a.ID)
}

// Run brings the actuators up and drives them every cycle period until ctx
// is done or the configured duration has elapsed. Reception outlives ctx
// until the control loop has returned, so the final zero-current commands
// are still acknowledged.
func (r *Runner) Run(ctx context.Context) error {
	rxCtx, stopRX := context.WithCancel(context.WithoutCancel(ctx))
	defer stopRX()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return r.Listen(rxCtx) })
	g.Go(func() error {
		defer stopRX()
		return r.schedule(gctx)
	})

	return g.Wait()
}

// Listen feeds received frames to the engine until ctx is done. Simulated
// actuators answer in-process, so it returns at once.
func (r *Runner) Listen(ctx context.Context) error {
	if r.rx == nil {
		return nil
	}
	r.log.Debug("RX loop started")
	defer r.log.Debug("RX loop stopped")
	err := r.rx.Run(ctx, r.eng.OnFrameReceived)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (r *Runner) schedule(ctx context.Context) error {
	if err := r.Bringup(ctx); err != nil {
		return err
	}

	r.log.Info("Starting control: axes=%d cycle=%v iface=%s sim=%v",
		len(r.axes), r.cfg.CyclePeriod, r.cfg.Interface, r.cfg.Simulate)

	ticker := time.NewTicker(r.cfg.CyclePeriod)
	defer ticker.Stop()
	start := time.Now()
	var failed uint64

	for {
		select {
		case <-ctx.Done():
			r.log.Warn("Context canceled; stopping control")
			r.hold()
			r.log.Info("Completed. cycles=%d failed=%d", r.cycles, failed)
			return ctx.Err()

		case now := <-ticker.C:
			if r.cfg.Duration > 0 && now.Sub(start) > r.cfg.Duration {
				r.hold()
				r.log.Info("Completed. cycles=%d failed=%d", r.cycles, failed)
				return nil
			}
			if err := r.DriveCycle(ctx); err != nil {
				if ctx.Err() != nil {
					continue
				}
				failed++
				r.log.Error("cycle %d: %v", r.cycles, err)
			}
		}
	}
}

// hold commands zero current on every axis before exit.
func (r *Runner) hold() {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	for _, a := range r.axes {
		if err := r.eng.SetCurrent(ctx, 0, a.ID); err != nil {
			r.log.Warn("actuator %d: zero current: %v", a.ID, err)
		}
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
