package control

import (
	"errors"
	"fmt"
)

// ErrModeMismatch is returned by setpoint calls that do not belong to the
// motor's operating mode.
var ErrModeMismatch = errors.New("operating mode mismatch")

// OperatingMode selects which loops of the cascade run and what the caller
// commands directly.
type OperatingMode uint8

const (
	UnknownMode OperatingMode = iota
	CurrentMode
	VelocityMode
	PositionMode
	PositionCurrentMode
	VelocityCurrentMode
	PositionVelocityMode
	PositionVelocityCurrentMode
)

var modeNames = map[OperatingMode]string{
	UnknownMode:                 "unknown",
	CurrentMode:                 "current",
	VelocityMode:                "velocity",
	PositionMode:                "position",
	PositionCurrentMode:         "position_current",
	VelocityCurrentMode:         "velocity_current",
	PositionVelocityMode:        "position_velocity",
	PositionVelocityCurrentMode: "position_velocity_current",
}

func (m OperatingMode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

// ParseOperatingMode accepts the names produced by String.
func ParseOperatingMode(s string) (OperatingMode, error) {
	for m, name := range modeNames {
		if name == s && m != UnknownMode {
			return m, nil
		}
	}
	return UnknownMode, fmt.Errorf("unknown operating mode %q", s)
}

// Stage identifies one loop of the cascade.
type Stage uint8

const (
	PositionStage Stage = iota
	VelocityStage
	CurrentStage
)

func (s Stage) String() string {
	switch s {
	case PositionStage:
		return "position"
	case VelocityStage:
		return "velocity"
	case CurrentStage:
		return "current"
	default:
		return "unknown"
	}
}

var (
	positionPipeline = []Stage{PositionStage, VelocityStage, CurrentStage}
	velocityPipeline = []Stage{VelocityStage, CurrentStage}
	currentPipeline  = []Stage{CurrentStage}
)

// Stages returns the loops run by Calculate, outermost first. Each stage's
// output becomes the setpoint of the next one.
func (m OperatingMode) Stages() []Stage {
	switch m {
	case PositionMode, PositionCurrentMode, PositionVelocityMode, PositionVelocityCurrentMode:
		return positionPipeline
	case VelocityMode, VelocityCurrentMode:
		return velocityPipeline
	case CurrentMode:
		return currentPipeline
	default:
		return nil
	}
}

// StageResult describes one executed stage of Calculate.
type StageResult struct {
	Stage    Stage
	Setpoint float64
	Feedback float64
	Output   float64
}

// Motor is a position -> velocity -> current cascade producing one current
// command per control period.
type Motor struct {
	mode OperatingMode

	cur *PIDController
	vel *PIDController
	pos *PIDController

	// OnStage, when set, observes every stage Calculate runs.
	OnStage func(StageResult)
}

// NewMotor builds the cascade with unit proportional loops. The current
// loop is an increment-mode passthrough since the drive normally closes
// the current loop itself.
func NewMotor(mode OperatingMode) *Motor {
	return &Motor{
		mode: mode,
		cur:  NewPIDController(IncrementMode, 1, 0, 0),
		vel:  NewPIDController(RegularMode, 1, 0, 0),
		pos:  NewPIDController(RegularMode, 1, 0, 0),
	}
}

func (m *Motor) Mode() OperatingMode { return m.mode }

// SetMode switches the operating mode and clears every loop buffer.
func (m *Motor) SetMode(mode OperatingMode) {
	m.mode = mode
	m.cur.Clear()
	m.vel.Clear()
	m.pos.Clear()
}

// Loop gives access to one loop for inspection.
func (m *Motor) Loop(s Stage) *PIDController {
	switch s {
	case PositionStage:
		return m.pos
	case VelocityStage:
		return m.vel
	default:
		return m.cur
	}
}

// SetCurrentLoopGains configures the PD current loop.
func (m *Motor) SetCurrentLoopGains(kp, kd float64) { m.cur.SetGains(kp, 0, kd) }

// SetVelocityLoopGains configures the PI velocity loop.
func (m *Motor) SetVelocityLoopGains(kp, ki float64) { m.vel.SetGains(kp, ki, 0) }

// SetPositionLoopGains configures the PID position loop.
func (m *Motor) SetPositionLoopGains(kp, ki, kd float64) { m.pos.SetGains(kp, ki, kd) }

func (m *Motor) SetCurrentLoopLimits(max, min float64)  { m.cur.SetLimits(max, min) }
func (m *Motor) SetVelocityLoopLimits(max, min float64) { m.vel.SetLimits(max, min) }
func (m *Motor) SetPositionLoopLimits(max, min float64) { m.pos.SetLimits(max, min) }

// SetFeedback pushes the measured current, velocity and position.
func (m *Motor) SetFeedback(cur, vel, pos float64) {
	m.cur.SetFeedback(cur)
	m.vel.SetFeedback(vel)
	m.pos.SetFeedback(pos)
}

func (m *Motor) expect(mode OperatingMode) error {
	if m.mode != mode {
		return fmt.Errorf("%w: motor in %s mode, call needs %s", ErrModeMismatch, m.mode, mode)
	}
	return nil
}

// SetCurrent commands the current directly in CurrentMode.
func (m *Motor) SetCurrent(current float64) error {
	if err := m.expect(CurrentMode); err != nil {
		return err
	}
	m.cur.SetSetpoint(current)
	return nil
}

// SetVelocity commands the velocity in VelocityMode.
func (m *Motor) SetVelocity(velocity float64) error {
	if err := m.expect(VelocityMode); err != nil {
		return err
	}
	m.vel.SetSetpoint(velocity)
	return nil
}

// SetPosition commands the position in PositionMode.
func (m *Motor) SetPosition(position float64) error {
	if err := m.expect(PositionMode); err != nil {
		return err
	}
	m.pos.SetSetpoint(position)
	return nil
}

// SetPositionWithCurrent commands the position and adds a current
// feedforward to the velocity loop output.
func (m *Motor) SetPositionWithCurrent(position, current float64) error {
	if err := m.expect(PositionCurrentMode); err != nil {
		return err
	}
	m.pos.SetSetpoint(position)
	m.vel.SetFeedforward(current)
	return nil
}

// SetVelocityWithCurrent commands the velocity with a current feedforward.
func (m *Motor) SetVelocityWithCurrent(velocity, current float64) error {
	if err := m.expect(VelocityCurrentMode); err != nil {
		return err
	}
	m.vel.SetSetpoint(velocity)
	m.vel.SetFeedforward(current)
	return nil
}

// SetPositionWithVelocity commands the position with a velocity feedforward.
func (m *Motor) SetPositionWithVelocity(position, velocity float64) error {
	if err := m.expect(PositionVelocityMode); err != nil {
		return err
	}
	m.pos.SetSetpoint(position)
	m.pos.SetFeedforward(velocity)
	return nil
}

// SetPositionWithVelocityAndCurrent commands the position with velocity and
// current feedforwards.
func (m *Motor) SetPositionWithVelocityAndCurrent(position, velocity, current float64) error {
	if err := m.expect(PositionVelocityCurrentMode); err != nil {
		return err
	}
	m.pos.SetSetpoint(position)
	m.pos.SetFeedforward(velocity)
	m.vel.SetFeedforward(current)
	return nil
}

// Calculate runs the stages of the current mode in order, wiring each
// stage's output into the next stage's setpoint. UnknownMode runs nothing.
func (m *Motor) Calculate() {
	stages := m.mode.Stages()
	for i, s := range stages {
		loop := m.Loop(s)
		loop.Step()
		if m.OnStage != nil {
			m.OnStage(StageResult{
				Stage:    s,
				Setpoint: loop.setpoint,
				Feedback: loop.feedback,
				Output:   loop.Output(),
			})
		}
		if i+1 < len(stages) {
			m.Loop(stages[i+1]).SetSetpoint(loop.Output())
		}
	}
}

// Command returns the current command produced by the last Calculate.
func (m *Motor) Command() float64 {
	return m.cur.Output()
}
