// Package statusmqtt publishes machine status snapshots to an MQTT broker.
package statusmqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/fornellas/slogxt/log"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/fornellas/mgs/marlin"
)

// Format is the payload encoding.
type Format int

const (
	FormatJSON Format = iota
	FormatCBOR
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatCBOR:
		return "cbor"
	}
	return fmt.Sprintf("unknown (%d)", int(f))
}

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "cbor":
		return FormatCBOR, nil
	}
	return 0, fmt.Errorf("unknown format: %#v", s)
}

// Encode returns the snapshot payload in format.
func (f Format) Encode(snapshot *marlin.StatusSnapshot) ([]byte, error) {
	switch f {
	case FormatJSON:
		return json.Marshal(snapshot)
	case FormatCBOR:
		return cbor.Marshal(snapshot)
	}
	return nil, fmt.Errorf("unknown format: %s", f)
}

const publishTimeout = 5 * time.Second

// StatusSource provides status snapshots, eg: controller.Controller.
type StatusSource interface {
	Subscribe(name string, size int) <-chan *marlin.StatusSnapshot
	Unsubscribe(name string)
}

// Publisher publishes retained status snapshots with QoS 0.
type Publisher struct {
	client mqtt.Client
	topic  string
	format Format
}

func NewPublisher(client mqtt.Client, topic string, format Format) *Publisher {
	return &Publisher{
		client: client,
		topic:  topic,
		format: format,
	}
}

// Publish publishes a single snapshot.
func (p *Publisher) Publish(ctx context.Context, snapshot *marlin.StatusSnapshot) error {
	payload, err := p.format.Encode(snapshot)
	if err != nil {
		return fmt.Errorf("statusmqtt: encode: %w", err)
	}
	log.MustLogger(ctx).Debug("Publishing", "topic", p.topic, "state", snapshot.State)
	token := p.client.Publish(p.topic, 0, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("statusmqtt: publish: %s: timeout", p.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("statusmqtt: publish: %s: %w", p.topic, err)
	}
	return nil
}

// Run publishes every snapshot from source until ctx is done. Publish failures are logged and do
// not stop it.
func (p *Publisher) Run(ctx context.Context, source StatusSource) error {
	ctx, logger := log.MustWithGroupAttrs(ctx, "MQTT Publisher", "topic", p.topic, "format", p.format)
	name := "mqtt-" + uuid.NewString()
	ch := source.Subscribe(name, 1)
	defer source.Unsubscribe(name)
	logger.Info("Publishing status")
	for {
		select {
		case snapshot, ok := <-ch:
			if !ok {
				return nil
			}
			if err := p.Publish(ctx, snapshot); err != nil {
				logger.Error("Failed to publish", "err", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Connect connects to the broker, eg: "tcp://localhost:1883". An empty clientID is replaced
// by a random one.
func Connect(ctx context.Context, broker, clientID string) (mqtt.Client, error) {
	if clientID == "" {
		clientID = "mgs-" + uuid.NewString()
	}
	logger := log.MustLogger(ctx).With("broker", broker, "client-id", clientID)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", "err", err)
	})
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		logger.Info("Connected to MQTT broker")
	})

	client := mqtt.NewClient(opts)
	logger.Info("Connecting to MQTT broker")
	token := client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return nil, errors.New("statusmqtt: connect: timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("statusmqtt: connect: %w", err)
	}
	return client, nil
}
