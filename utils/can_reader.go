package utils

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
)

// SocketCANReader pumps received frames into a handler.
type SocketCANReader struct {
	conn net.Conn
	recv *socketcan.Receiver
}

// NewSocketCANReader receives on conn, normally the socket the writer
// transmits on.
func NewSocketCANReader(conn net.Conn) *SocketCANReader {
	return &SocketCANReader{
		conn: conn,
		recv: socketcan.NewReceiver(conn),
	}
}

// Run calls onFrame for every data frame until ctx is done or the socket
// fails. onFrame runs on the reader goroutine and must not block.
func (r *SocketCANReader) Run(ctx context.Context, onFrame func(can.Frame)) error {
	stop := context.AfterFunc(ctx, func() { _ = r.conn.Close() })
	defer stop()

	for r.recv.Receive() {
		if r.recv.HasErrorFrame() {
			continue
		}
		onFrame(r.recv.Frame())
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := r.recv.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("receive: %w", err)
	}
	return nil
}

// Close closes the CAN socket
func (r *SocketCANReader) Close() error {
	return closeConn(r.conn)
}
