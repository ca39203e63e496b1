package serialtcp

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/fornellas/slogxt/log"
	"go.bug.st/serial"
)

var ErrNotSupported = errors.New("serialtcp: not supported")

// Port partially implements serial.Port interface over a network connection, to reach a
// controller exposed by the serve command.
type Port struct {
	conn        net.Conn
	readTimeout time.Duration
}

var _ serial.Port = &Port{}

// NewPort wraps an established connection.
func NewPort(conn net.Conn) *Port {
	return &Port{
		conn:        conn,
		readTimeout: serial.NoTimeout,
	}
}

// Dial connects to address over TCP.
func Dial(ctx context.Context, address string, timeout time.Duration) (*Port, error) {
	logger := log.MustLogger(ctx)
	logger.Info("Dialing TCP port", "address", address, "timeout", timeout)
	dialer := &net.Dialer{
		Timeout: timeout,
	}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetNoDelay(true); err != nil {
			return nil, errors.Join(err, conn.Close())
		}
	}
	return NewPort(conn), nil
}

// SetMode is a no-op: the baud rate is set at the serial end of the bridge.
func (p *Port) SetMode(mode *serial.Mode) error {
	return nil
}

// Read honours the read timeout: on timeout it returns an error wrapping os.ErrDeadlineExceeded.
func (p *Port) Read(b []byte) (n int, err error) {
	deadline := time.Time{}
	if p.readTimeout != serial.NoTimeout {
		deadline = time.Now().Add(p.readTimeout)
	}
	if err := p.conn.SetReadDeadline(deadline); err != nil {
		return 0, err
	}
	return p.conn.Read(b)
}

func (p *Port) Write(b []byte) (n int, err error) {
	return p.conn.Write(b)
}

func (p *Port) Drain() error {
	return ErrNotSupported
}

func (p *Port) ResetInputBuffer() error {
	return ErrNotSupported
}

func (p *Port) ResetOutputBuffer() error {
	return ErrNotSupported
}

func (p *Port) SetDTR(dtr bool) error {
	return ErrNotSupported
}

func (p *Port) SetRTS(rts bool) error {
	return ErrNotSupported
}

func (p *Port) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	return nil, ErrNotSupported
}

func (p *Port) SetReadTimeout(t time.Duration) error {
	p.readTimeout = t
	return nil
}

func (p *Port) Close() error {
	return p.conn.Close()
}

func (p *Port) Break(time.Duration) error {
	return ErrNotSupported
}
