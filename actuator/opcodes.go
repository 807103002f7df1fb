package actuator

import (
	"fmt"
	"strings"

	"sca-ctrl-core/utils"
)

// Opcode is data byte 0 of every actuator frame.
type Opcode uint8

const (
	OpHandshake Opcode = 0x00

	OpGetCurrent  Opcode = 0x04
	OpGetSpeed    Opcode = 0x05
	OpGetPosition Opcode = 0x06
	OpSetMode     Opcode = 0x07
	OpSetCurrent  Opcode = 0x08
	OpSetSpeed    Opcode = 0x09
	OpSetPosition Opcode = 0x0A

	OpGetProfileMaxSpeed Opcode = 0x1C
	OpGetProfileAccel    Opcode = 0x1D
	OpGetProfileDecel    Opcode = 0x1E

	OpSetPower Opcode = 0x2A
	OpGetPower Opcode = 0x2B

	OpSetCurrentOutputLower  Opcode = 0x2E
	OpSetCurrentOutputUpper  Opcode = 0x2F
	OpSetSpeedOutputLower    Opcode = 0x30
	OpSetSpeedOutputUpper    Opcode = 0x31
	OpSetPositionOutputLower Opcode = 0x32
	OpSetPositionOutputUpper Opcode = 0x33

	OpGetCurrentOutputLower  Opcode = 0x34
	OpGetCurrentOutputUpper  Opcode = 0x35
	OpGetSpeedOutputLower    Opcode = 0x36
	OpGetSpeedOutputUpper    Opcode = 0x37
	OpGetPositionOutputLower Opcode = 0x38
	OpGetPositionOutputUpper Opcode = 0x39

	OpGetMode             Opcode = 0x55
	OpGetMotorTemp        Opcode = 0x5F
	OpGetInverterTemp     Opcode = 0x60
	OpGetPositionLowerLim Opcode = 0x85
	OpGetPositionUpperLim Opcode = 0x86
	OpGetShutdownState    Opcode = 0xB0
	OpGetExceptions       Opcode = 0xFF
)

// responseKind tells decode how to read the payload of a response.
type responseKind uint8

const (
	statusResponse responseKind = iota
	fixedResponse
	temperatureResponse
	modeResponse
	powerResponse
	shutdownResponse
	exceptionResponse
)

type opcodeInfo struct {
	name string
	kind responseKind
	get  bool
	// field selects the telemetry value a fixed/temperature response lands in,
	// or the value a set command writes.
	field func(*Telemetry) *float64
}

var opcodes = map[Opcode]opcodeInfo{
	OpHandshake: {name: "handshake", kind: statusResponse},

	OpGetCurrent:  {name: "get_current", kind: fixedResponse, get: true, field: func(t *Telemetry) *float64 { return &t.Current }},
	OpGetSpeed:    {name: "get_speed", kind: fixedResponse, get: true, field: func(t *Telemetry) *float64 { return &t.Speed }},
	OpGetPosition: {name: "get_position", kind: fixedResponse, get: true, field: func(t *Telemetry) *float64 { return &t.Position }},

	OpSetMode:     {name: "set_mode", kind: statusResponse},
	OpSetCurrent:  {name: "set_current", kind: statusResponse, field: func(t *Telemetry) *float64 { return &t.DestCurrent }},
	OpSetSpeed:    {name: "set_speed", kind: statusResponse, field: func(t *Telemetry) *float64 { return &t.DestSpeed }},
	OpSetPosition: {name: "set_position", kind: statusResponse, field: func(t *Telemetry) *float64 { return &t.DestPosition }},

	OpGetProfileMaxSpeed: {name: "get_profile_max_speed", kind: fixedResponse, get: true, field: func(t *Telemetry) *float64 { return &t.ProfileMaxSpeed }},
	OpGetProfileAccel:    {name: "get_profile_accel", kind: fixedResponse, get: true, field: func(t *Telemetry) *float64 { return &t.ProfileAccel }},
	OpGetProfileDecel:    {name: "get_profile_decel", kind: fixedResponse, get: true, field: func(t *Telemetry) *float64 { return &t.ProfileDecel }},

	OpSetPower: {name: "set_power", kind: statusResponse},
	OpGetPower: {name: "get_power", kind: powerResponse, get: true},

	OpSetCurrentOutputLower:  {name: "set_current_output_lower", kind: statusResponse, field: func(t *Telemetry) *float64 { return &t.CurrentOutputLower }},
	OpSetCurrentOutputUpper:  {name: "set_current_output_upper", kind: statusResponse, field: func(t *Telemetry) *float64 { return &t.CurrentOutputUpper }},
	OpSetSpeedOutputLower:    {name: "set_speed_output_lower", kind: statusResponse, field: func(t *Telemetry) *float64 { return &t.SpeedOutputLower }},
	OpSetSpeedOutputUpper:    {name: "set_speed_output_upper", kind: statusResponse, field: func(t *Telemetry) *float64 { return &t.SpeedOutputUpper }},
	OpSetPositionOutputLower: {name: "set_position_output_lower", kind: statusResponse, field: func(t *Telemetry) *float64 { return &t.PositionOutputLower }},
	OpSetPositionOutputUpper: {name: "set_position_output_upper", kind: statusResponse, field: func(t *Telemetry) *float64 { return &t.PositionOutputUpper }},

	OpGetCurrentOutputLower:  {name: "get_current_output_lower", kind: fixedResponse, get: true, field: func(t *Telemetry) *float64 { return &t.CurrentOutputLower }},
	OpGetCurrentOutputUpper:  {name: "get_current_output_upper", kind: fixedResponse, get: true, field: func(t *Telemetry) *float64 { return &t.CurrentOutputUpper }},
	OpGetSpeedOutputLower:    {name: "get_speed_output_lower", kind: fixedResponse, get: true, field: func(t *Telemetry) *float64 { return &t.SpeedOutputLower }},
	OpGetSpeedOutputUpper:    {name: "get_speed_output_upper", kind: fixedResponse, get: true, field: func(t *Telemetry) *float64 { return &t.SpeedOutputUpper }},
	OpGetPositionOutputLower: {name: "get_position_output_lower", kind: fixedResponse, get: true, field: func(t *Telemetry) *float64 { return &t.PositionOutputLower }},
	OpGetPositionOutputUpper: {name: "get_position_output_upper", kind: fixedResponse, get: true, field: func(t *Telemetry) *float64 { return &t.PositionOutputUpper }},

	OpGetMode:             {name: "get_mode", kind: modeResponse, get: true},
	OpGetMotorTemp:        {name: "get_motor_temp", kind: temperatureResponse, get: true, field: func(t *Telemetry) *float64 { return &t.MotorTemp }},
	OpGetInverterTemp:     {name: "get_inverter_temp", kind: temperatureResponse, get: true, field: func(t *Telemetry) *float64 { return &t.InverterTemp }},
	OpGetPositionLowerLim: {name: "get_position_lower_limit", kind: fixedResponse, get: true, field: func(t *Telemetry) *float64 { return &t.PositionLowerLimit }},
	OpGetPositionUpperLim: {name: "get_position_upper_limit", kind: fixedResponse, get: true, field: func(t *Telemetry) *float64 { return &t.PositionUpperLimit }},
	OpGetShutdownState:    {name: "get_shutdown_state", kind: shutdownResponse, get: true},
	OpGetExceptions:       {name: "get_exceptions", kind: exceptionResponse, get: true},
}

// outputLimitSetters are the opcodes accepted by Engine.SetOutputLimit.
var outputLimitSetters = map[Opcode]bool{
	OpSetCurrentOutputLower:  true,
	OpSetCurrentOutputUpper:  true,
	OpSetSpeedOutputLower:    true,
	OpSetSpeedOutputUpper:    true,
	OpSetPositionOutputLower: true,
	OpSetPositionOutputUpper: true,
}

func (o Opcode) String() string {
	if info, ok := opcodes[o]; ok {
		return info.name
	}
	return fmt.Sprintf("opcode(0x%02X)", uint8(o))
}

// ParseOpcode looks an opcode up by its String name.
func ParseOpcode(name string) (Opcode, bool) {
	for op, info := range opcodes {
		if info.name == name {
			return op, true
		}
	}
	return 0, false
}

// IsGetter reports whether o requests telemetry.
func (o Opcode) IsGetter() bool {
	return opcodes[o].get
}

// Response lengths. A fixed-point get response is exactly fixedFrameLength.
var (
	fixedFrameLength       = utils.FixedPointField.MinFrameLength()
	temperatureFrameLength = utils.TemperatureField.MinFrameLength()
)

// RunMode is the operating mode of the actuator firmware.
type RunMode uint8

const (
	RunModeCurrent RunMode = iota + 1
	RunModeSpeed
	RunModePosition
	RunModeTeach
	RunModePlay
	RunModeProfilePosition
	RunModeProfileSpeed
	RunModeHoming
)

var runModeNames = []string{"", "current", "speed", "position", "teach", "play", "profile_position", "profile_speed", "homing"}

func (m RunMode) Valid() bool {
	return m >= RunModeCurrent && m <= RunModeHoming
}

func ParseRunMode(name string) (RunMode, bool) {
	for i, n := range runModeNames {
		if n != "" && n == name {
			return RunMode(i), true
		}
	}
	return 0, false
}

func (m RunMode) String() string {
	if m.Valid() {
		return runModeNames[m]
	}
	return fmt.Sprintf("run_mode(%d)", uint8(m))
}

// PowerState is the on/off state of the actuator.
type PowerState uint8

const (
	PowerOff PowerState = iota
	PowerOn
)

func (p PowerState) String() string {
	switch p {
	case PowerOff:
		return "off"
	case PowerOn:
		return "on"
	default:
		return fmt.Sprintf("power(%d)", uint8(p))
	}
}

// ShutdownState reports how the actuator was last shut down.
type ShutdownState uint8

const (
	ShutdownNormal ShutdownState = iota
	ShutdownAbnormal
)

// Warnings is the 16 bit exception word of the actuator.
type Warnings uint16

const (
	WarnOverVoltage Warnings = 1 << iota
	WarnUnderVoltage
	WarnLockedRotor
	WarnOverTemperature
	WarnParameterRW
	WarnMultiTurn
	WarnTempSensor
	WarnCANBus
	_
	_
	WarnDriverProtection
)

var warningNames = []struct {
	bit  Warnings
	name string
}{
	{WarnOverVoltage, "over_voltage"},
	{WarnUnderVoltage, "under_voltage"},
	{WarnLockedRotor, "locked_rotor"},
	{WarnOverTemperature, "over_temperature"},
	{WarnParameterRW, "parameter_rw"},
	{WarnMultiTurn, "multi_turn"},
	{WarnTempSensor, "temp_sensor"},
	{WarnCANBus, "can_bus"},
	{WarnDriverProtection, "driver_protection"},
}

func (w Warnings) Has(bit Warnings) bool { return w&bit != 0 }

func (w Warnings) String() string {
	if w == 0 {
		return "none"
	}
	var parts []string
	for _, n := range warningNames {
		if w.Has(n.bit) {
			parts = append(parts, n.name)
		}
	}
	if rest := w &^ (WarnOverVoltage | WarnUnderVoltage | WarnLockedRotor | WarnOverTemperature |
		WarnParameterRW | WarnMultiTurn | WarnTempSensor | WarnCANBus | WarnDriverProtection); rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%04X", uint16(rest)))
	}
	return strings.Join(parts, "|")
}
