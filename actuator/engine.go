package actuator

import (
	"context"
	"fmt"
	"time"

	"go.einride.tech/can"

	"sca-ctrl-core/utils"
)

// EngineConfig tunes the request/acknowledge cycle.
type EngineConfig struct {
	// RecvTimeoutTicks is the number of poll ticks a request waits for its
	// response.
	RecvTimeoutTicks int `yaml:"recv_timeout_ticks"`
	// PollTick is the period of one wait iteration.
	PollTick time.Duration `yaml:"poll_tick"`
	// OfflineThreshold is the number of consecutive timeouts after which an
	// actuator is reported offline.
	OfflineThreshold int `yaml:"offline_threshold"`
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		RecvTimeoutTicks: 20,
		PollTick:         time.Millisecond,
		OfflineThreshold: 3,
	}
}

func (c EngineConfig) withDefaults() EngineConfig {
	d := DefaultEngineConfig()
	if c.RecvTimeoutTicks <= 0 {
		c.RecvTimeoutTicks = d.RecvTimeoutTicks
	}
	if c.PollTick <= 0 {
		c.PollTick = d.PollTick
	}
	if c.OfflineThreshold <= 0 {
		c.OfflineThreshold = d.OfflineThreshold
	}
	return c
}

const (
	positionMin = -127.0
	positionMax = 128.0
	unitMin     = -1.0
	unitMax     = 1.0
)

// Engine runs the synchronous request/acknowledge protocol with the
// actuators of a Registry over a CAN bus.
//
// Only one request per actuator may be outstanding; a second one fails with
// ErrRequestInFlight. Requests to different actuators may run concurrently.
type Engine struct {
	bus utils.CANWriter
	reg *Registry
	cfg EngineConfig
	log *utils.Logger
}

func NewEngine(bus utils.CANWriter, reg *Registry, cfg EngineConfig, log *utils.Logger) *Engine {
	return &Engine{
		bus: bus,
		reg: reg,
		cfg: cfg.withDefaults(),
		log: log,
	}
}

func (e *Engine) Registry() *Registry { return e.reg }

// OnFrameReceived is the frame arrival notification from the bus receiver.
// It only hands the frame to the owning record; decoding happens in the
// waiting request.
func (e *Engine) OnFrameReceived(f can.Frame) {
	if f.IsExtended || f.ID > 0xFF {
		return
	}
	rec, ok := e.reg.records[uint8(f.ID)]
	if !ok {
		return
	}
	rec.post(f)
}

// SendCommand transmits op with payload to actuator id and waits for the
// matching acknowledgement.
func (e *Engine) SendCommand(ctx context.Context, id uint8, op Opcode, payload []byte) error {
	if len(payload) > 7 {
		return fmt.Errorf("%w: payload of %d bytes", ErrOutOfRange, len(payload))
	}
	return e.withRecord(id, func(rec *Record) error {
		return e.exchange(ctx, rec, op, payload)
	})
}

// Handshake probes an actuator. Used as keep-alive.
func (e *Engine) Handshake(ctx context.Context, id uint8) error {
	return e.SendCommand(ctx, id, OpHandshake, nil)
}

// GetParameter refreshes one telemetry value of actuator id.
func (e *Engine) GetParameter(ctx context.Context, op Opcode, id uint8) error {
	if !op.IsGetter() {
		return fmt.Errorf("%w: %s is not a get command", ErrOutOfRange, op)
	}
	return e.SendCommand(ctx, id, op, nil)
}

// SetMode switches the actuator run mode and reads it back.
func (e *Engine) SetMode(ctx context.Context, mode RunMode, id uint8) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: %s", ErrOutOfRange, mode)
	}
	return e.withRecord(id, func(rec *Record) error {
		if err := e.exchange(ctx, rec, OpSetMode, []byte{byte(mode)}); err != nil {
			return err
		}
		if err := e.exchange(ctx, rec, OpGetMode, nil); err != nil {
			return err
		}
		if got := rec.Snapshot().Mode; got != mode {
			return fmt.Errorf("%w: actuator %d reports mode %s, want %s", ErrAckFailure, id, got, mode)
		}
		return nil
	})
}

// SetPowerState switches the actuator on or off and reads the state back.
func (e *Engine) SetPowerState(ctx context.Context, state PowerState, id uint8) error {
	if state != PowerOn && state != PowerOff {
		return fmt.Errorf("%w: %s", ErrOutOfRange, state)
	}
	return e.withRecord(id, func(rec *Record) error {
		if err := e.exchange(ctx, rec, OpSetPower, []byte{byte(state)}); err != nil {
			return err
		}
		if err := e.exchange(ctx, rec, OpGetPower, nil); err != nil {
			return err
		}
		if got := rec.Snapshot().Power; got != state {
			return fmt.Errorf("%w: actuator %d reports power %s, want %s", ErrAckFailure, id, got, state)
		}
		return nil
	})
}

// SetPosition commands a position in [-127, 128) revolutions.
func (e *Engine) SetPosition(ctx context.Context, position float64, id uint8) error {
	if !(position >= positionMin && position < positionMax) {
		return fmt.Errorf("%w: position %v", ErrOutOfRange, position)
	}
	return e.setValue(ctx, OpSetPosition, position, id)
}

// SetSpeed commands a normalised speed in [-1, 1].
func (e *Engine) SetSpeed(ctx context.Context, speed float64, id uint8) error {
	if !(speed >= unitMin && speed <= unitMax) {
		return fmt.Errorf("%w: speed %v", ErrOutOfRange, speed)
	}
	return e.setValue(ctx, OpSetSpeed, speed, id)
}

// SetCurrent commands a normalised current in [-1, 1].
func (e *Engine) SetCurrent(ctx context.Context, current float64, id uint8) error {
	if !(current >= unitMin && current <= unitMax) {
		return fmt.Errorf("%w: current %v", ErrOutOfRange, current)
	}
	return e.setValue(ctx, OpSetCurrent, current, id)
}

// SetOutputLimit writes one of the current/speed/position output limits.
func (e *Engine) SetOutputLimit(ctx context.Context, op Opcode, value float64, id uint8) error {
	if !outputLimitSetters[op] {
		return fmt.Errorf("%w: %s is not an output limit", ErrOutOfRange, op)
	}
	lo, hi := utils.FixedPointField.Range()
	if !(value >= lo && value <= hi) {
		return fmt.Errorf("%w: %s %v", ErrOutOfRange, op, value)
	}
	return e.setValue(ctx, op, value, id)
}

func (e *Engine) setValue(ctx context.Context, op Opcode, value float64, id uint8) error {
	return e.withRecord(id, func(rec *Record) error {
		if err := e.exchange(ctx, rec, op, fixedPayload(value)); err != nil {
			return err
		}
		field := opcodes[op].field
		rec.update(func(s *State) { *field(&s.Telemetry) = value })
		return nil
	})
}

// withRecord resolves id and holds the single-flight slot of the record
// while fn runs.
func (e *Engine) withRecord(id uint8, fn func(*Record) error) error {
	rec, err := e.reg.Find(id)
	if err != nil {
		return err
	}
	if !rec.busy.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: actuator %d", ErrRequestInFlight, id)
	}
	defer rec.busy.Store(false)
	return fn(rec)
}

func (e *Engine) exchange(ctx context.Context, rec *Record, op Opcode, payload []byte) error {
	if !e.bus.IsFree() {
		return ErrBusBusy
	}

	rec.reset()
	frame := requestFrame(rec.id, op, payload)
	if err := e.bus.WriteFrame(ctx, frame); err != nil {
		return fmt.Errorf("%w: %w", ErrTransmitFailure, err)
	}
	e.log.Trace("TX id=0x%X op=%s data=% X", frame.ID, op, frame.Data[:frame.Length])

	ack, err := e.await(ctx, rec, frame)
	if err != nil {
		return err
	}
	switch ack {
	case AckSuccess:
		e.markAlive(rec)
		return nil
	case AckFail:
		e.log.Warn("actuator %d rejected %s", rec.id, op)
		return fmt.Errorf("%w: actuator %d %s", ErrAckFailure, rec.id, op)
	default:
		e.markTimeout(rec, op)
		return fmt.Errorf("%w: actuator %d %s", ErrAckTimeout, rec.id, op)
	}
}

// await polls the record inbox for the response to req. Responses to other
// opcodes are decoded but do not end the wait; a looped-back copy of req is
// dropped.
func (e *Engine) await(ctx context.Context, rec *Record, req can.Frame) (AckState, error) {
	op := Opcode(req.Data[0])
	tick := time.NewTicker(e.cfg.PollTick)
	defer tick.Stop()

	for i := 0; i <= e.cfg.RecvTimeoutTicks; i++ {
		select {
		case f := <-rec.inbox:
			if isEcho(f, req) {
				e.log.Trace("RX id=0x%X echo of %s dropped", f.ID, op)
				continue
			}
			got, ack, ok := rec.decode(f)
			e.log.Trace("RX id=0x%X op=%s ack=%s data=% X", f.ID, got, ack, f.Data[:f.Length])
			if ok && got == op {
				return ack, nil
			}
		case <-ctx.Done():
			return AckClear, ctx.Err()
		case <-tick.C:
		}
	}
	return AckClear, nil
}

func (e *Engine) markAlive(rec *Record) {
	var revived bool
	rec.update(func(s *State) {
		revived = s.Liveness == Offline
		s.FailureCount = 0
		s.Liveness = Online
	})
	if revived {
		e.log.Info("actuator %d back online", rec.id)
	}
}

func (e *Engine) markTimeout(rec *Record, op Opcode) {
	var failures int
	var dropped bool
	rec.update(func(s *State) {
		s.FailureCount++
		failures = s.FailureCount
		if s.Liveness == Online && s.FailureCount >= e.cfg.OfflineThreshold {
			s.Liveness = Offline
			dropped = true
		}
	})
	e.log.Warn("actuator %d: no response to %s (%d consecutive)", rec.id, op, failures)
	if dropped {
		e.log.Error("actuator %d offline", rec.id)
	}
}
