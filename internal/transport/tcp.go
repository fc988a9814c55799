// Package transport sends raw byte streams to network printers over TCP
package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultPort is the JetDirect / RAW print port
	DefaultPort = 9100

	DefaultConnectTimeout = 5 * time.Second
	DefaultWriteTimeout   = 10 * time.Second
	DefaultProbeTimeout   = 2 * time.Second

	// MaxTimeout bounds every configurable deadline
	MaxTimeout = 30 * time.Second
)

// Endpoint identifies a printer on the network
type Endpoint struct {
	Host string `json:"ip"`
	Port int    `json:"port"`
}

// String formats the endpoint as host:port, as used in messages
func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// Address returns the dialable address
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Validate checks host and port
func (e Endpoint) Validate() error {
	if strings.TrimSpace(e.Host) == "" {
		return invalidArgument(e, "host is required")
	}
	if e.Port < 1 || e.Port > 65535 {
		return invalidArgument(e, fmt.Sprintf("port must be between 1 and 65535, got %d", e.Port))
	}
	return nil
}

// Params are the per-operation connection settings
type Params struct {
	Endpoint       Endpoint
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
}

// Validate checks the endpoint and that both timeouts are in (0, MaxTimeout]
func (p Params) Validate() error {
	if err := p.Endpoint.Validate(); err != nil {
		return err
	}
	if err := validateTimeout(p.Endpoint, "connect timeout", p.ConnectTimeout); err != nil {
		return err
	}
	return validateTimeout(p.Endpoint, "write timeout", p.WriteTimeout)
}

func validateTimeout(ep Endpoint, name string, d time.Duration) error {
	if d <= 0 || d > MaxTimeout {
		return invalidArgument(ep, fmt.Sprintf("%s must be in (0, %s], got %s", name, MaxTimeout, d))
	}
	return nil
}

// Dialer opens network connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Client performs one-shot connections: every call dials, does its work
// and closes the socket on all paths.
type Client struct {
	dialer Dialer
	logger *zap.Logger
}

// NewClient creates a client. A nil dialer uses net.Dialer, a nil logger
// discards output.
func NewClient(dialer Dialer, logger *zap.Logger) *Client {
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		dialer: dialer,
		logger: logger,
	}
}

// Probe connects to ep and closes immediately. It succeeds iff the
// connection is established within timeout.
func (c *Client) Probe(ctx context.Context, ep Endpoint, timeout time.Duration) error {
	if err := ep.Validate(); err != nil {
		return err
	}
	if err := validateTimeout(ep, "probe timeout", timeout); err != nil {
		return err
	}

	conn, err := c.dial(ctx, ep, timeout)
	if err != nil {
		return err
	}
	c.closeQuietly(conn, ep)
	return nil
}

// Send connects, writes all of data and closes. Errors on close after a
// complete write are ignored; printers often drop the connection as soon
// as they have the payload.
func (c *Client) Send(ctx context.Context, p Params, data []byte) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if len(data) == 0 {
		return invalidArgument(p.Endpoint, "data is required")
	}

	conn, err := c.dial(ctx, p.Endpoint, p.ConnectTimeout)
	if err != nil {
		return err
	}
	defer c.closeQuietly(conn, p.Endpoint)

	if err := conn.SetWriteDeadline(time.Now().Add(p.WriteTimeout)); err != nil {
		return classifyWrite(p.Endpoint, err)
	}

	written, err := writeAll(conn, data)
	if err != nil {
		c.logger.Debug("write failed",
			zap.String("endpoint", p.Endpoint.String()),
			zap.Int("written", written),
			zap.Int("total", len(data)),
			zap.Error(err),
		)
		return classifyWrite(p.Endpoint, err)
	}

	c.logger.Debug("payload sent",
		zap.String("endpoint", p.Endpoint.String()),
		zap.Int("bytes", written),
	)
	return nil
}

func (c *Client) dial(ctx context.Context, ep Endpoint, timeout time.Duration) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := c.dialer.DialContext(dialCtx, "tcp", ep.Address())
	if err != nil {
		return nil, classifyDial(ep, err)
	}
	return conn, nil
}

func (c *Client) closeQuietly(conn net.Conn, ep Endpoint) {
	if err := conn.Close(); err != nil {
		c.logger.Debug("close failed",
			zap.String("endpoint", ep.String()),
			zap.Error(err),
		)
	}
}

// writeAll loops until data is fully written. A write that returns fewer
// bytes without an error is reported as io.ErrShortWrite.
func writeAll(conn net.Conn, data []byte) (int, error) {
	sent := 0
	for sent < len(data) {
		n, err := conn.Write(data[sent:])
		sent += n
		if err != nil {
			return sent, err
		}
		if n == 0 {
			return sent, io.ErrShortWrite
		}
	}
	return sent, nil
}
