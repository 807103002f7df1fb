package actuator

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.einride.tech/can"
)

// Liveness is the advisory online/offline classification of an actuator.
type Liveness uint8

const (
	Offline Liveness = iota
	Online
)

func (l Liveness) String() string {
	if l == Online {
		return "online"
	}
	return "offline"
}

// AckState is the outcome of the last decoded acknowledgement.
type AckState uint8

const (
	AckClear AckState = iota
	AckSuccess
	AckFail
)

func (a AckState) String() string {
	switch a {
	case AckSuccess:
		return "success"
	case AckFail:
		return "fail"
	default:
		return "clear"
	}
}

// Telemetry is the cached physical state of an actuator.
type Telemetry struct {
	Current  float64
	Speed    float64
	Position float64

	MotorTemp    float64
	InverterTemp float64

	ProfileMaxSpeed float64
	ProfileAccel    float64
	ProfileDecel    float64

	CurrentOutputUpper  float64
	CurrentOutputLower  float64
	SpeedOutputUpper    float64
	SpeedOutputLower    float64
	PositionOutputUpper float64
	PositionOutputLower float64

	PositionUpperLimit float64
	PositionLowerLimit float64

	DestCurrent  float64
	DestSpeed    float64
	DestPosition float64
}

// State is a copy of everything the registry knows about one actuator.
type State struct {
	ID           uint8
	Liveness     Liveness
	FailureCount int
	Ack          AckState
	Power        PowerState
	Mode         RunMode
	Shutdown     ShutdownState
	Warnings     Warnings
	Telemetry
}

// Record is the registry entry of one actuator.
//
// inbox is the single-slot hand-off between the frame arrival handler and
// the blocking request; a pending frame is the "fresh data" signal.
type Record struct {
	id    uint8
	inbox chan can.Frame
	busy  atomic.Bool

	mu    sync.Mutex
	state State
}

func newRecord(id uint8) *Record {
	return &Record{
		id:    id,
		inbox: make(chan can.Frame, 1),
		state: State{ID: id, Liveness: Online},
	}
}

func (r *Record) ID() uint8 { return r.id }

// Snapshot returns a consistent copy of the record state.
func (r *Record) Snapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// DataReady reports whether a received frame waits to be decoded.
func (r *Record) DataReady() bool {
	return len(r.inbox) > 0
}

// post hands a frame to the waiting request, replacing any older one.
// Never blocks.
func (r *Record) post(f can.Frame) {
	for i := 0; i < 2; i++ {
		select {
		case r.inbox <- f:
			return
		default:
		}
		select {
		case <-r.inbox:
		default:
		}
	}
}

// reset drops any pending frame and clears the ack state before a transmit.
func (r *Record) reset() {
	select {
	case <-r.inbox:
	default:
	}
	r.mu.Lock()
	r.state.Ack = AckClear
	r.mu.Unlock()
}

func (r *Record) update(fn func(*State)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.state)
}

// Registry owns the records of a fixed set of actuators.
type Registry struct {
	records map[uint8]*Record
	ids     []uint8
}

// NewRegistry creates one record per id. Ids must be unique.
func NewRegistry(ids ...uint8) (*Registry, error) {
	reg := &Registry{records: make(map[uint8]*Record, len(ids))}
	for _, id := range ids {
		if _, dup := reg.records[id]; dup {
			return nil, fmt.Errorf("duplicate actuator id %d", id)
		}
		reg.records[id] = newRecord(id)
		reg.ids = append(reg.ids, id)
	}
	sort.Slice(reg.ids, func(i, j int) bool { return reg.ids[i] < reg.ids[j] })
	return reg, nil
}

// Find returns the record of id.
func (reg *Registry) Find(id uint8) (*Record, error) {
	rec, ok := reg.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrDeviceNotFound, id)
	}
	return rec, nil
}

// IDs lists the known actuator ids in ascending order.
func (reg *Registry) IDs() []uint8 {
	out := make([]uint8, len(reg.ids))
	copy(out, reg.ids)
	return out
}
