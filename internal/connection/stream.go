package connection

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

const headerSize = 4

// streamConn frames messages over a byte stream as [len:4][frame].
type streamConn struct {
	cfg  Config
	conn net.Conn
	r    *bufio.Reader

	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool
}

// NewStreamConn wraps an established TCP (or in-memory) connection.
func NewStreamConn(conn net.Conn, cfg Config) Conn {
	return &streamConn{
		cfg:  cfg.withDefaults(),
		conn: conn,
		r:    bufio.NewReader(conn),
	}
}

func (c *streamConn) ReadFrame() ([]byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(c.r, header[:]); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(header[:])
	if n == 0 {
		return nil, ErrEmptyFrame
	}
	if int64(n) > int64(c.cfg.MaxFrameSize) {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, c.cfg.MaxFrameSize)
	}

	frame := make([]byte, n)
	if _, err := io.ReadFull(c.r, frame); err != nil {
		return nil, err
	}
	return frame, nil
}

func (c *streamConn) WriteFrame(frame []byte) error {
	if len(frame) == 0 {
		return ErrEmptyFrame
	}
	if len(frame) > c.cfg.MaxFrameSize {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(frame), c.cfg.MaxFrameSize)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.isClosed() {
		return ErrClosed
	}

	buf := make([]byte, headerSize+len(frame))
	binary.BigEndian.PutUint32(buf[:headerSize], uint32(len(frame)))
	copy(buf[headerSize:], frame)

	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	_, err := c.conn.Write(buf)
	return err
}

func (c *streamConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *streamConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	return c.conn.Close()
}

func (c *streamConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *streamConn) RemoteAddr() string {
	if a := c.conn.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}

func (c *streamConn) Transport() string {
	return TransportStream
}
