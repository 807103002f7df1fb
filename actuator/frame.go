package actuator

import (
	"go.einride.tech/can"

	"sca-ctrl-core/utils"
)

const statusOK = 0x01

// requestFrame builds the frame for op addressed to id. payload follows the
// opcode byte.
func requestFrame(id uint8, op Opcode, payload []byte) can.Frame {
	f := can.Frame{
		ID:     uint32(id),
		Length: uint8(1 + len(payload)),
	}
	f.Data[0] = byte(op)
	copy(f.Data[1:], payload)
	return f
}

func fixedPayload(v float64) []byte {
	b := utils.EncodeFixed(v)
	return b[:]
}

// decode applies a response frame to the record and returns its opcode and
// the acknowledgement it carries. ok is false for frames that are not
// actuator responses at all.
//
// A response too short for its opcode is ignored and yields AckClear,
// which the caller handles like a missing response.
func (r *Record) decode(f can.Frame) (op Opcode, ack AckState, ok bool) {
	if f.Length == 0 || f.IsRemote {
		return 0, AckClear, false
	}
	op = Opcode(f.Data[0])
	info, known := opcodes[op]
	if !known {
		return op, AckClear, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch info.kind {
	case statusResponse:
		if f.Length < 2 {
			break
		}
		if f.Data[1] == statusOK {
			ack = AckSuccess
		} else {
			ack = AckFail
		}

	case fixedResponse:
		if f.Length != fixedFrameLength {
			break
		}
		*info.field(&r.state.Telemetry) = utils.DecodeField(f.Data, utils.FixedPointField)
		ack = AckSuccess

	case temperatureResponse:
		if f.Length < temperatureFrameLength {
			break
		}
		*info.field(&r.state.Telemetry) = utils.DecodeField(f.Data, utils.TemperatureField)
		ack = AckSuccess

	case modeResponse:
		if f.Length < 2 {
			break
		}
		r.state.Mode = RunMode(f.Data[1])
		ack = AckSuccess

	case powerResponse:
		if f.Length < 2 {
			break
		}
		r.state.Power = PowerState(f.Data[1])
		ack = AckSuccess

	case shutdownResponse:
		if f.Length < 2 {
			break
		}
		r.state.Shutdown = ShutdownState(f.Data[1])
		ack = AckSuccess

	case exceptionResponse:
		if f.Length < 3 {
			break
		}
		r.state.Warnings = Warnings(uint16(f.Data[1])<<8 | uint16(f.Data[2]))
		ack = AckSuccess
	}

	r.state.Ack = ack
	return op, ack, true
}

// isEcho reports whether f is a copy of the outstanding request req rather
// than a reply to it. A two-byte status request cannot be told apart from
// its own success ack and is taken as the reply.
func isEcho(f, req can.Frame) bool {
	if f != req {
		return false
	}
	info, known := opcodes[Opcode(req.Data[0])]
	return !known || info.kind != statusResponse || req.Length != 2
}
