package marlin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fornellas/slogxt/log"
	"go.bug.st/serial"
)

var ErrDisconnected = errors.New("marlin: disconnected")

const DefaultBaudRate = 115200

// Marlin is a line oriented serial connection to a Marlin family firmware.
type Marlin struct {
	mu                    sync.Mutex
	openPortFn            func(context.Context, *serial.Mode) (serial.Port, error)
	baudRate              int
	port                  serial.Port
	receiveCtxCancel      context.CancelFunc
	responseCh            chan string
	responseReceiverErrCh chan error
}

func NewMarlin(openPortFn func(context.Context, *serial.Mode) (serial.Port, error), baudRate int) *Marlin {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	return &Marlin{
		openPortFn: openPortFn,
		baudRate:   baudRate,
	}
}

func (m *Marlin) receiveResponse(ctx context.Context, buf *bytes.Buffer) (string, error) {
	b := make([]byte, 128)
	for {
		line, err := buf.ReadString('\n')
		if err == nil {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			return line, nil
		}
		// incomplete line: put it back for the next read
		buf.WriteString(line)

		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("marlin: receive response: context error: %w", err)
		}

		n, err := m.port.Read(b)
		if err != nil && !errors.Is(err, os.ErrDeadlineExceeded) {
			return "", fmt.Errorf("marlin: receive response: read error: %w", err)
		}
		buf.Write(b[:n])
	}
}

func (m *Marlin) responseReceiverWorker(ctx context.Context, responseCh chan string, errCh chan error) {
	logger := log.MustLogger(ctx)
	var buf bytes.Buffer
	defer close(responseCh)
	for {
		response, err := m.receiveResponse(ctx, &buf)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			errCh <- err
			return
		}

		logger.Debug("Received", "response", response)

		select {
		case responseCh <- response:
		case <-ctx.Done():
			errCh <- nil
			return
		}
	}
}

// SerialMode returns the 8N1 mode Marlin boards talk at the given baud rate.
func SerialMode(baudRate int) *serial.Mode {
	return &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// Connect opens the serial connection. On success, it returns a channel where every response line
// received from the firmware is sent to: this channel must be read from in a loop. On read errors
// the channel is closed, Disconnect() must be called in this case, and it'll return the error.
// Disconnect() must be called when the connection isn't needed anymore.
func (m *Marlin) Connect(ctx context.Context) (<-chan string, error) {
	logger := log.MustLogger(ctx)

	mode := SerialMode(m.baudRate)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.port != nil {
		return nil, errors.New("marlin: already connected")
	}

	logger.Info("Opening port", "baud-rate", m.baudRate)
	port, err := m.openPortFn(ctx, mode)
	if err != nil {
		return nil, fmt.Errorf("marlin: serial port open error: %w", err)
	}

	// we need to set this to allow polling reads to support context cancellation
	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		closeErr := port.Close()
		if closeErr != nil {
			closeErr = fmt.Errorf("marlin: serial port close error: %w", closeErr)
		}
		return nil, errors.Join(fmt.Errorf("marlin: error setting read timeout: %w", err), closeErr)
	}

	m.port = port

	var receiveCtx context.Context
	receiveCtx, m.receiveCtxCancel = context.WithCancel(context.WithoutCancel(ctx))
	m.responseCh = make(chan string, 50)
	m.responseReceiverErrCh = make(chan error, 1)
	go m.responseReceiverWorker(receiveCtx, m.responseCh, m.responseReceiverErrCh)

	return m.responseCh, nil
}

// Connected returns whether the serial port is open.
func (m *Marlin) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.port != nil
}

// WriteLine writes a single line to the firmware.
func (m *Marlin) WriteLine(line string) error {
	if strings.ContainsAny(line, "\r\n") {
		return fmt.Errorf("marlin: line must be single line string: %#v", line)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.port == nil {
		return ErrDisconnected
	}
	data := append([]byte(line), '\n')
	n, err := m.port.Write(data)
	if err != nil {
		return fmt.Errorf("marlin: write to serial port error: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("marlin: write to serial port error: wrote %d bytes, expected %d", n, len(data))
	}
	return nil
}

// Disconnect will stop the receiver goroutine and close the serial port.
func (m *Marlin) Disconnect(ctx context.Context) (err error) {
	m.mu.Lock()
	if m.port == nil {
		m.mu.Unlock()
		return nil
	}
	m.receiveCtxCancel()
	errCh := m.responseReceiverErrCh
	m.mu.Unlock()

	err = <-errCh

	m.mu.Lock()
	defer m.mu.Unlock()
	if closeErr := m.port.Close(); closeErr != nil {
		err = errors.Join(err, fmt.Errorf("marlin: serial port close error: %w", closeErr))
	}
	m.port = nil
	m.receiveCtxCancel = nil
	m.responseCh = nil
	m.responseReceiverErrCh = nil
	log.MustLogger(ctx).Info("Port closed")
	return err
}
