// Package transport provides the TCP transport driver for the OPC UA
// binary protocol.
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"
)

// maxReceiveSize caps incoming TCP messages.
const maxReceiveSize = 16 * 1024 * 1024

// headerSize is the fixed OPC UA TCP message header size.
const headerSize = 8

// State is the transport connection state.
type State int

// Connection states.
const (
	StateClosed State = iota
	StateOpening
	StateEstablished
)

// Config holds the transport buffer parameters.
type Config struct {
	RecvBufferSize uint32
	SendBufferSize uint32
	MaxMessageSize uint32
	MaxChunkCount  uint32
}

// Conn is a TCP connection carrying OPC UA messages. Send buffers are
// pooled: a buffer obtained from GetSendBuffer must be passed to Send
// (which consumes it) or returned via ReleaseSendBuffer.
type Conn struct {
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	state State
	conn  net.Conn

	bufPool sync.Pool
}

// ParseEndpointURL extracts the TCP address from an opc.tcp endpoint
// URL. A missing port defaults to 4840.
func ParseEndpointURL(endpointURL string) (string, error) {
	u, err := url.Parse(endpointURL)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint URL %q: %w", endpointURL, err)
	}
	if u.Scheme != "opc.tcp" {
		return "", fmt.Errorf("unsupported scheme %q in endpoint URL %q", u.Scheme, endpointURL)
	}
	host := u.Host
	if host == "" {
		return "", fmt.Errorf("missing host in endpoint URL %q", endpointURL)
	}
	if !strings.Contains(host, ":") {
		host = fmt.Sprintf("%s:%d", host, 4840)
	}
	return host, nil
}

// Dial opens a TCP connection to the endpoint URL. The returned
// connection is in StateOpening until the caller calls Establish.
func Dial(endpointURL string, cfg Config, timeout time.Duration, logger *slog.Logger) (*Conn, error) {
	addr, err := ParseEndpointURL(endpointURL)
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s failed: %w", addr, err)
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetKeepAlive(true)
		tcpConn.SetKeepAlivePeriod(30 * time.Second)
		tcpConn.SetNoDelay(true)
	}

	c := &Conn{
		cfg:    cfg,
		logger: logger,
		state:  StateOpening,
		conn:   conn,
	}
	c.bufPool.New = func() any {
		buf := make([]byte, 0, cfg.SendBufferSize)
		return &buf
	}

	logger.Debug("TCP socket opened", slog.String("addr", addr))
	return c, nil
}

// State returns the connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Establish moves an opening connection to StateEstablished.
func (c *Conn) Establish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateOpening {
		c.state = StateEstablished
	}
}

// GetSendBuffer returns an empty buffer with at least size bytes of
// capacity.
func (c *Conn) GetSendBuffer(size uint32) ([]byte, error) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil, errors.New("transport: connection closed")
	}
	c.mu.Unlock()

	bp := c.bufPool.Get().(*[]byte)
	buf := (*bp)[:0]
	if uint32(cap(buf)) < size {
		buf = make([]byte, 0, size)
	}
	return buf, nil
}

// ReleaseSendBuffer returns an unsent buffer to the pool.
func (c *Conn) ReleaseSendBuffer(buf []byte) {
	if buf == nil {
		return
	}
	b := buf[:0]
	c.bufPool.Put(&b)
}

// Send transmits the buffer and returns it to the pool.
func (c *Conn) Send(buf []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("transport: not connected")
	}

	_, err := conn.Write(buf)
	c.ReleaseSendBuffer(buf)
	if err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	return nil
}

// Receive blocks until one complete message (header included) has been
// read or the deadline expires.
func (c *Conn) Receive(deadline time.Time) ([]byte, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, errors.New("transport: not connected")
	}

	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(conn, header); err != nil {
		return nil, fmt.Errorf("read header failed: %w", err)
	}

	messageSize := binary.LittleEndian.Uint32(header[4:8])
	if messageSize < headerSize {
		return nil, fmt.Errorf("invalid message size: %d", messageSize)
	}
	if messageSize > maxReceiveSize {
		return nil, fmt.Errorf("message too large: %d", messageSize)
	}

	message := make([]byte, messageSize)
	copy(message, header)
	if _, err := io.ReadFull(conn, message[headerSize:]); err != nil {
		return nil, fmt.Errorf("read body failed: %w", err)
	}

	return message, nil
}

// Close closes the TCP connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		c.state = StateClosed
		return nil
	}

	err := c.conn.Close()
	c.conn = nil
	c.state = StateClosed
	return err
}

// LocalAddr returns the local network address.
func (c *Conn) LocalAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.LocalAddr()
}

// RemoteAddr returns the remote network address.
func (c *Conn) RemoteAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.RemoteAddr()
}
