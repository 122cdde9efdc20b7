package forward

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"
)

// Transport establishes connections to the collector. The default
// implementation dials over tcp, tls, or udp; tests substitute scripted
// transports.
type Transport interface {
	Dial(ctx context.Context, host string, port int) (Conn, error)
}

// Conn is one live connection to the collector. Write either transmits all
// of b or returns an error; short writes are retried internally, never
// surfaced. All operations may block.
type Conn interface {
	Write(b []byte) error
	Shutdown() error
	Close() error
}

// netTransport dials the collector with the stdlib dialers, matching the
// resolved ForwarderOptions.
type netTransport struct {
	network            string
	dialTimeout        time.Duration
	writeTimeout       time.Duration
	insecureSkipVerify bool
}

func (t *netTransport) Dial(ctx context.Context, host string, port int) (Conn, error) {

	var d net.Dialer
	ctx, cancel := context.WithTimeout(ctx, t.dialTimeout)
	defer cancel()

	addr := net.JoinHostPort(host, strconv.Itoa(port))

	var conn net.Conn
	var err error

	switch t.network {
	case "tcp":
		conn, err = d.DialContext(ctx, "tcp", addr)
	case "tls":
		tlsDialer := tls.Dialer{
			NetDialer: &d,
			Config:    &tls.Config{InsecureSkipVerify: t.insecureSkipVerify},
		}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	case "udp":
		conn, err = d.DialContext(ctx, "udp", addr)
	default:
		return nil, fmt.Errorf("unsupported collector transport protocol: %s", t.network)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to dial collector at %s over %s: %w", addr, t.network, err)
	}

	return &netConn{conn: conn, writeTimeout: t.writeTimeout}, nil
}

type netConn struct {
	conn         net.Conn
	writeTimeout time.Duration
}

// Write sends all of b, looping over short writes so the caller only ever
// observes complete success or an error.
func (c *netConn) Write(b []byte) error {
	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}

	for len(b) > 0 {
		n, err := c.conn.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}

	return nil
}

// Shutdown half-closes the connection where the underlying transport
// supports it, signaling the collector that no more events are coming.
func (c *netConn) Shutdown() error {
	if cw, ok := c.conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}

func (c *netConn) Close() error {
	return c.conn.Close()
}
