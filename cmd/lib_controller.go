package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fornellas/slogxt/log"
	"github.com/spf13/cobra"

	"github.com/fornellas/mgs/controller"
	"github.com/fornellas/mgs/gcode"
	"github.com/fornellas/mgs/marlin"
	"github.com/fornellas/mgs/statusmqtt"
	"github.com/fornellas/mgs/statusws"
	"github.com/fornellas/mgs/worker_manager"
)

var pollInterval time.Duration
var defaultPollInterval = controller.DefaultPollInterval

var reportingUnits = gcode.UnitsMillimeters
var defaultReportingUnits = gcode.UnitsMillimeters

var statusListenAddress string
var defaultStatusListenAddress = ""

var mqttBroker string
var defaultMqttBroker = ""

var mqttTopic string
var defaultMqttTopic = "mgs/status"

var mqttClientID string
var defaultMqttClientID = ""

var mqttFormat string
var defaultMqttFormat = statusmqtt.FormatJSON.String()

type unitsValue struct {
	units *gcode.Units
}

func (u unitsValue) String() string {
	return u.units.String()
}

func (u unitsValue) Set(value string) error {
	units, err := gcode.ParseUnits(value)
	if err != nil {
		return err
	}
	*u.units = units
	return nil
}

func (u unitsValue) Type() string {
	return "mm|inch"
}

func AddControllerFlags(cmd *cobra.Command) {
	AddPortFlags(cmd)
	AddOutputFlags(cmd)

	cmd.PersistentFlags().DurationVar(&pollInterval, "poll-interval", defaultPollInterval, "Interval between status report requests")
	cmd.PersistentFlags().Var(unitsValue{units: &reportingUnits}, "reporting-units", "Units the firmware reports positions in")
	cmd.PersistentFlags().StringVar(&statusListenAddress, "status-listen-address", defaultStatusListenAddress, "Serve status snapshots over WebSocket at ws://<address>/status (host:port)")
	cmd.PersistentFlags().StringVar(&mqttBroker, "mqtt-broker", defaultMqttBroker, "Publish status snapshots to this MQTT broker (eg: tcp://localhost:1883)")
	cmd.PersistentFlags().StringVar(&mqttTopic, "mqtt-topic", defaultMqttTopic, "MQTT topic to publish status snapshots to")
	cmd.PersistentFlags().StringVar(&mqttClientID, "mqtt-client-id", defaultMqttClientID, "MQTT client id, random if empty")
	cmd.PersistentFlags().StringVar(&mqttFormat, "mqtt-format", defaultMqttFormat, "MQTT payload format: json or cbor")
}

var ErrConnectionLost = errors.New("connection lost")

// RunController connects to the firmware, and runs fn along with the status listeners enabled by
// flags. It returns when fn returns or the connection is lost.
func RunController(
	ctx context.Context,
	fn func(context.Context, *marlin.Communicator, *controller.Controller) error,
) (err error) {
	openPortFn, err := GetOpenPortFn()
	if err != nil {
		return err
	}

	format, err := statusmqtt.ParseFormat(mqttFormat)
	if err != nil {
		return fmt.Errorf("--mqtt-format: %w", err)
	}

	m := marlin.NewMarlin(openPortFn, baudRate)
	communicator := marlin.NewCommunicator(m)
	ctrl := controller.NewController(m, communicator, controller.Options{
		PollInterval:     pollInterval,
		FirmwareSettings: controller.StaticFirmwareSettings{Units: reportingUnits},
	})

	wm := worker_manager.NewWorkerManager()

	wm.AddWorker("Status Output", func(ctx context.Context) error {
		return writeStatus(ctx, ctrl)
	})

	if statusListenAddress != "" {
		wm.AddWorker("Status WebSocket", func(ctx context.Context) error {
			return statusws.ListenAndServe(ctx, statusListenAddress, ctrl)
		})
	}

	if mqttBroker != "" {
		client, err := statusmqtt.Connect(ctx, mqttBroker, mqttClientID)
		if err != nil {
			return err
		}
		defer client.Disconnect(250)
		publisher := statusmqtt.NewPublisher(client, mqttTopic, format)
		wm.AddWorker("Status MQTT", func(ctx context.Context) error {
			return publisher.Run(ctx, ctrl)
		})
	}

	if err := ctrl.Open(ctx); err != nil {
		return err
	}
	defer func() { err = errors.Join(err, ctrl.Close(ctx)) }()

	doneCh := ctrl.Done()
	wm.AddWorker("Connection", func(ctx context.Context) error {
		select {
		case <-doneCh:
			return ErrConnectionLost
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	wm.AddWorker("Main", func(ctx context.Context) error {
		return fn(ctx, communicator, ctrl)
	})

	wm.Start(ctx)
	return wm.Wait(ctx)
}

// readLines sends each line read from r, closing the channel at EOF. Reading is not interruptible,
// so the goroutine outlives ctx until the next line arrives.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	lineCh := make(chan string)
	go func() {
		defer close(lineCh)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lineCh <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			log.MustLogger(ctx).Error("Failed to read input", "err", err)
		}
	}()
	return lineCh
}

func init() {
	resetFlagsFns = append(resetFlagsFns, func() {
		pollInterval = defaultPollInterval
		reportingUnits = defaultReportingUnits
		statusListenAddress = defaultStatusListenAddress
		mqttBroker = defaultMqttBroker
		mqttTopic = defaultMqttTopic
		mqttClientID = defaultMqttClientID
		mqttFormat = defaultMqttFormat
	})
}
