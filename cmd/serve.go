package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/fornellas/slogxt/log"
	"github.com/spf13/cobra"
	"go.bug.st/serial"

	"github.com/fornellas/mgs/marlin"
	"github.com/fornellas/mgs/worker_manager"
)

var listenAddress string
var defaultListenAddress = "127.0.0.1:9999"

// bridge pipes bytes between a TCP client and the serial port until either side closes or ctx is
// done. Both sides are closed on return.
func bridge(ctx context.Context, client, port io.ReadWriteCloser) error {
	wm := worker_manager.NewWorkerManager()

	copyFn := func(dst io.Writer, src io.Reader) func(context.Context) error {
		return func(ctx context.Context) error {
			_, err := io.Copy(dst, src)
			if ctx.Err() != nil {
				// the other side was closed under us
				return nil
			}
			return err
		}
	}
	wm.AddWorker("Port to Client", copyFn(client, port))
	wm.AddWorker("Client to Port", copyFn(port, client))
	wm.AddWorker("Closer", func(ctx context.Context) error {
		<-ctx.Done()
		log.MustLogger(ctx).Debug("Closing")
		return errors.Join(client.Close(), port.Close())
	})

	wm.Start(ctx)
	return wm.Wait(ctx)
}

func handleServeConnection(ctx context.Context, conn net.Conn, port string, baudRate int) error {
	logger := log.MustLogger(ctx)

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetNoDelay(true); err != nil {
			return errors.Join(fmt.Errorf("failed to set TCP no delay: %w", err), conn.Close())
		}
	}

	logger.Info("Opening serial port", "baud-rate", baudRate)
	serialPort, err := serial.Open(port, marlin.SerialMode(baudRate))
	if err != nil {
		return errors.Join(fmt.Errorf("failed to open: %s: %w", port, err), conn.Close())
	}

	logger.Info("Bridging")
	err = bridge(ctx, conn, serialPort)
	logger.Info("Connection closed")
	return err
}

func serve(ctx context.Context, listener net.Listener, handle func(context.Context, net.Conn) error) error {
	logger := log.MustLogger(ctx)

	stopCh := make(chan struct{})
	defer close(stopCh)
	go func() {
		select {
		case <-ctx.Done():
			_ = listener.Close()
		case <-stopCh:
		}
	}()

	for {
		logger.Info("Accepting connection")
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			logger.Error("Failed to accept connection", "error", err)
			continue
		}
		connCtx, connLogger := log.MustWithGroupAttrs(
			ctx,
			"Connection",
			"LocalAddr", conn.LocalAddr(),
			"RemoteAddr", conn.RemoteAddr(),
		)
		connLogger.Info("Accepted")

		// one client at a time: the serial port can only be opened once
		if err := handle(connCtx, conn); err != nil {
			connLogger.Error("Failed to handle connection", "error", err)
		}
	}
}

var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start a TCP server connected to a serial port.",
	Long:  "Opens serial port and a TCP server, and pipes communication between both, so that other commands can reach the firmware with --address. There's NO security implemented, this can only be used in secure networks at your own risk.",
	Args:  cobra.NoArgs,
	Run: GetRunFn(func(cmd *cobra.Command, args []string) error {
		ctx, logger := log.MustWithAttrs(
			cmd.Context(),
			"port-name", portName,
			"listen-address", listenAddress,
		)
		cmd.SetContext(ctx)

		logger.Info("Listening")
		listener, err := net.Listen("tcp", listenAddress)
		if err != nil {
			return fmt.Errorf("failed to listen: %s: %w", listenAddress, err)
		}

		err = serve(ctx, listener, func(ctx context.Context, conn net.Conn) error {
			return handleServeConnection(ctx, conn, portName, baudRate)
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}),
}

func init() {
	ServeCmd.PersistentFlags().StringVarP(&portName, "port-name", "p", defaultPortName, "Serial port name to open")
	if err := ServeCmd.MarkPersistentFlagRequired("port-name"); err != nil {
		panic(err)
	}
	ServeCmd.PersistentFlags().IntVar(&baudRate, "baud-rate", defaultBaudRate, "Serial port baud rate")
	ServeCmd.PersistentFlags().StringVar(&listenAddress, "listen-address", defaultListenAddress, "TCP address to listen on (host:port)")

	RootCmd.AddCommand(ServeCmd)

	resetFlagsFns = append(resetFlagsFns, func() {
		portName = defaultPortName
		baudRate = defaultBaudRate
		listenAddress = defaultListenAddress
	})
}
