package actuator

import (
	"context"
	"sync"

	"go.einride.tech/can"

	"sca-ctrl-core/utils"
)

// SimDevice is the state of one simulated actuator.
type SimDevice struct {
	Mode     RunMode
	Power    PowerState
	Shutdown ShutdownState
	Warnings Warnings

	Current      float64
	Speed        float64
	Position     float64
	MotorTemp    float64
	InverterTemp float64

	// values holds every other fixed-point parameter by its get opcode.
	values map[Opcode]float64

	drop      int
	nack      bool
	malformed bool
}

// Simulator is an in-process actuator bus. It answers requests the way the
// actuators do and delivers responses through the attached receiver before
// WriteFrame returns.
//
// The plant is a unit integrator: a current command becomes the speed, and
// the position advances by speed*Dt on each command.
type Simulator struct {
	// Dt is the position integration step per current command.
	Dt float64

	mu       sync.Mutex
	devices  map[uint8]*SimDevice
	receiver func(can.Frame)
	busy     bool
	txErr    error
	sent     []can.Frame
}

func NewSimulator(ids ...uint8) *Simulator {
	s := &Simulator{
		Dt:      0.001,
		devices: make(map[uint8]*SimDevice, len(ids)),
	}
	for _, id := range ids {
		s.devices[id] = &SimDevice{
			Mode:         RunModePosition,
			Power:        PowerOff,
			MotorTemp:    25,
			InverterTemp: 25,
			values: map[Opcode]float64{
				OpGetCurrentOutputUpper:  1,
				OpGetCurrentOutputLower:  -1,
				OpGetSpeedOutputUpper:    1,
				OpGetSpeedOutputLower:    -1,
				OpGetPositionOutputUpper: 127,
				OpGetPositionOutputLower: -127,
				OpGetPositionUpperLim:    127,
				OpGetPositionLowerLim:    -127,
			},
		}
	}
	return s
}

// Attach sets the frame arrival callback, normally Engine.OnFrameReceived.
func (s *Simulator) Attach(receiver func(can.Frame)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receiver = receiver
}

// Device gives direct access to a simulated actuator. Callers must not use
// it concurrently with bus traffic.
func (s *Simulator) Device(id uint8) *SimDevice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.devices[id]
}

// SetBusy makes IsFree report a congested bus.
func (s *Simulator) SetBusy(busy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = busy
}

// SetTransmitError makes every WriteFrame fail with err; nil restores.
func (s *Simulator) SetTransmitError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txErr = err
}

// Drop swallows the next n requests to id without answering.
func (s *Simulator) Drop(id uint8, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[id].drop = n
}

// Nack makes id answer status requests with a failure byte.
func (s *Simulator) Nack(id uint8, nack bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[id].nack = nack
}

// Malformed makes id answer fixed-point reads one byte short.
func (s *Simulator) Malformed(id uint8, malformed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[id].malformed = malformed
}

// Inject delivers an unsolicited frame to the receiver.
func (s *Simulator) Inject(f can.Frame) {
	s.mu.Lock()
	rx := s.receiver
	s.mu.Unlock()
	if rx != nil {
		rx(f)
	}
}

// Sent returns the frames transmitted so far.
func (s *Simulator) Sent() []can.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]can.Frame, len(s.sent))
	copy(out, s.sent)
	return out
}

func (s *Simulator) IsFree() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.busy
}

func (s *Simulator) WriteFrame(ctx context.Context, f can.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.txErr != nil {
		err := s.txErr
		s.mu.Unlock()
		return err
	}
	s.sent = append(s.sent, f)
	resp, ok := s.respond(f)
	rx := s.receiver
	s.mu.Unlock()

	if ok && rx != nil {
		rx(resp)
	}
	return nil
}

// respond computes the answer of the addressed device. Called with mu held.
func (s *Simulator) respond(req can.Frame) (can.Frame, bool) {
	if req.Length == 0 || req.ID > 0xFF {
		return can.Frame{}, false
	}
	dev, ok := s.devices[uint8(req.ID)]
	if !ok {
		return can.Frame{}, false
	}
	if dev.drop > 0 {
		dev.drop--
		return can.Frame{}, false
	}

	op := Opcode(req.Data[0])
	info, known := opcodes[op]
	if !known {
		return can.Frame{}, false
	}
	resp := can.Frame{ID: req.ID}
	resp.Data[0] = byte(op)

	switch info.kind {
	case statusResponse:
		status := byte(statusOK)
		if dev.nack {
			status = 0
		} else {
			s.apply(dev, op, req)
		}
		resp.Length = 2
		resp.Data[1] = status

	case fixedResponse:
		utils.EncodeField(&resp.Data, utils.FixedPointField, s.read(dev, op))
		resp.Length = fixedFrameLength
		if dev.malformed {
			resp.Length--
		}

	case temperatureResponse:
		t := dev.MotorTemp
		if op == OpGetInverterTemp {
			t = dev.InverterTemp
		}
		utils.EncodeField(&resp.Data, utils.TemperatureField, t)
		resp.Length = utils.TemperatureField.MinFrameLength()

	case modeResponse:
		resp.Data[1], resp.Length = byte(dev.Mode), 2

	case powerResponse:
		resp.Data[1], resp.Length = byte(dev.Power), 2

	case shutdownResponse:
		resp.Data[1], resp.Length = byte(dev.Shutdown), 2

	case exceptionResponse:
		resp.Data[1], resp.Data[2], resp.Length = byte(dev.Warnings>>8), byte(dev.Warnings), 3
	}
	return resp, true
}

func (s *Simulator) read(dev *SimDevice, op Opcode) float64 {
	switch op {
	case OpGetCurrent:
		return dev.Current
	case OpGetSpeed:
		return dev.Speed
	case OpGetPosition:
		return dev.Position
	default:
		return dev.values[op]
	}
}

// apply executes an accepted command on the device.
func (s *Simulator) apply(dev *SimDevice, op Opcode, req can.Frame) {
	value := utils.DecodeField(req.Data, utils.FixedPointField)
	switch op {
	case OpSetMode:
		if m := RunMode(req.Data[1]); m.Valid() {
			dev.Mode = m
		}
	case OpSetPower:
		dev.Power = PowerState(req.Data[1])
	case OpSetCurrent:
		dev.Current = value
		dev.Speed = value
		dev.Position += dev.Speed * s.Dt
	case OpSetSpeed:
		dev.Speed = value
	case OpSetPosition:
		dev.Position = value
	case OpSetCurrentOutputLower:
		dev.values[OpGetCurrentOutputLower] = value
	case OpSetCurrentOutputUpper:
		dev.values[OpGetCurrentOutputUpper] = value
	case OpSetSpeedOutputLower:
		dev.values[OpGetSpeedOutputLower] = value
	case OpSetSpeedOutputUpper:
		dev.values[OpGetSpeedOutputUpper] = value
	case OpSetPositionOutputLower:
		dev.values[OpGetPositionOutputLower] = value
	case OpSetPositionOutputUpper:
		dev.values[OpGetPositionOutputUpper] = value
	}
}
