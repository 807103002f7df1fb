package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
)

type CANWriter interface {
	// IsFree reports whether the bus can accept a frame right now.
	IsFree() bool
	WriteFrame(ctx context.Context, frame can.Frame) error
}

type SocketCANWriter struct {
	conn    net.Conn
	tx      *socketcan.Transmitter
	pending atomic.Int32
	closed  atomic.Bool
}

// DialSocketCAN opens a raw CAN socket on iface. The writer and the reader
// of one process must share it: the kernel loops every transmitted frame
// back to the other sockets on the interface, but not to the sender.
func DialSocketCAN(ctx context.Context, iface string) (net.Conn, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, fmt.Errorf("socketcan dial: %w", err)
	}
	return conn, nil
}

func NewSocketCANWriter(conn net.Conn) *SocketCANWriter {
	return &SocketCANWriter{
		conn: conn,
		tx:   socketcan.NewTransmitter(conn),
	}
}

// IsFree is false while another frame is still being handed to the kernel
// or after Close.
func (w *SocketCANWriter) IsFree() bool {
	return !w.closed.Load() && w.pending.Load() == 0
}

func (w *SocketCANWriter) WriteFrame(ctx context.Context, frame can.Frame) error {
	if err := frame.Validate(); err != nil {
		return fmt.Errorf("invalid frame: %w", err)
	}
	w.pending.Add(1)
	defer w.pending.Add(-1)
	return w.tx.TransmitFrame(ctx, frame)
}

// Close closes the shared socket. Closing it twice is not an error.
func (w *SocketCANWriter) Close() error {
	w.closed.Store(true)
	return closeConn(w.conn)
}

func closeConn(conn net.Conn) error {
	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
