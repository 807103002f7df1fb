package control

import "math"

// PIDMode selects how PIDController.Step computes its output.
type PIDMode uint8

const (
	// IncrementMode accumulates the output from the error differences.
	IncrementMode PIDMode = iota
	// RegularMode computes the positional form with conditional integration.
	RegularMode
)

func (m PIDMode) String() string {
	switch m {
	case IncrementMode:
		return "increment"
	case RegularMode:
		return "regular"
	default:
		return "unknown"
	}
}

// unlimitedBand is the width under which a max/min pair means "no limit".
const unlimitedBand = 0.01

// PIDController is one discrete control loop running once per control period.
//
// Histories are newest first: out[0] is the latest output, err[0] the latest
// error. kp must not be zero; nothing here checks it.
type PIDController struct {
	mode PIDMode

	kp, ki, kd float64

	setpoint    float64
	feedback    float64
	feedforward float64

	out [2]float64
	err [3]float64

	integral float64
	max, min float64
}

// NewPIDController creates a loop with zeroed buffers and no output limit.
func NewPIDController(mode PIDMode, kp, ki, kd float64) *PIDController {
	pid := &PIDController{mode: mode}
	pid.SetGains(kp, ki, kd)
	pid.SetLimits(0, 0)
	return pid
}

func (pid *PIDController) Mode() PIDMode { return pid.mode }

func (pid *PIDController) SetSetpoint(v float64)    { pid.setpoint = v }
func (pid *PIDController) SetFeedback(v float64)    { pid.feedback = v }
func (pid *PIDController) SetFeedforward(v float64) { pid.feedforward = v }

func (pid *PIDController) Setpoint() float64 { return pid.setpoint }

// SetGains replaces the gains without touching the buffers.
func (pid *PIDController) SetGains(kp, ki, kd float64) {
	pid.kp, pid.ki, pid.kd = kp, ki, kd
}

// Gains returns kp, ki and kd.
func (pid *PIDController) Gains() (float64, float64, float64) {
	return pid.kp, pid.ki, pid.kd
}

// SetLimits bounds the output to [min, max].
//
// A pair closer than 0.01 removes the limit. max < min pins the output at 0.
func (pid *PIDController) SetLimits(max, min float64) {
	switch {
	case math.Abs(max-min) < unlimitedBand:
		pid.max, pid.min = math.Inf(1), math.Inf(-1)
	case max < min:
		pid.max, pid.min = 0, 0
	default:
		pid.max, pid.min = max, min
	}
}

// Limits returns the effective output bounds after SetLimits normalisation.
func (pid *PIDController) Limits() (float64, float64) {
	return pid.max, pid.min
}

// Step advances the loop by one control period.
func (pid *PIDController) Step() {
	pid.err[2] = pid.err[1]
	pid.err[1] = pid.err[0]
	pid.err[0] = pid.setpoint - pid.feedback

	switch pid.mode {
	case RegularMode:
		// Integrate only while the previous output sits past a limit and the
		// new error points back into range.
		if pid.out[1] > pid.max {
			if pid.err[0] < 0 {
				pid.integral += pid.err[0]
			}
		} else if pid.out[1] < pid.min {
			if pid.err[0] > 0 {
				pid.integral += pid.err[0]
			}
		}
		pid.out[0] = pid.kp*pid.err[0] + pid.ki*pid.integral + pid.kd*(pid.err[1]-pid.err[0])

	case IncrementMode:
		pid.out[0] = pid.out[1] +
			pid.kp*(pid.err[0]-pid.err[1]) +
			pid.ki*pid.err[0] +
			pid.kd*(pid.err[0]-2*pid.err[1]+pid.err[2])
	}

	// out[1] keeps the value before feedforward; the next anti-windup check
	// compares against it.
	pid.out[1] = pid.out[0]
	pid.out[0] += pid.feedforward

	if pid.out[0] > pid.max {
		pid.out[0] = pid.max
	}
	if pid.out[0] < pid.min {
		pid.out[0] = pid.min
	}
}

// Output returns the latest clamped output.
func (pid *PIDController) Output() float64 {
	return pid.out[0]
}

// Clear zeroes inputs, histories and the integral. Gains and limits stay.
func (pid *PIDController) Clear() {
	pid.setpoint = 0
	pid.feedback = 0
	pid.feedforward = 0
	pid.out = [2]float64{}
	pid.err = [3]float64{}
	pid.integral = 0
}

// GetDiagnostics returns current PID state for logging/debugging
func (pid *PIDController) GetDiagnostics() PIDDiagnostics {
	return PIDDiagnostics{
		Error:    pid.err[0],
		Integral: pid.integral,
		P:        pid.kp * pid.err[0],
		I:        pid.ki * pid.integral,
		Output:   pid.out[0],
		RawOut:   pid.out[1],
	}
}

// PIDDiagnostics contains PID internal state for monitoring
type PIDDiagnostics struct {
	Error    float64
	Integral float64
	P        float64
	I        float64
	Output   float64
	// RawOut is the output before feedforward and clamping.
	RawOut float64
}
