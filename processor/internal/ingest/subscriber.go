package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/pitwall/pitwall/processor/internal/config"
	"github.com/pitwall/pitwall/processor/internal/pipeline"
	"github.com/pitwall/pitwall/processor/internal/telemetry"
)

const (
	connectTimeout = 10 * time.Second
	keepAlive      = 30 * time.Second
	quiesceMillis  = 250
)

// Processor is the part of *pipeline.Processor the subscriber needs.
type Processor interface {
	Process(ctx context.Context, s *telemetry.Sample) (*pipeline.Result, error)
}

// DecodeObserver counts rejected payloads. *metrics.Collectors satisfies it.
type DecodeObserver interface {
	ObserveDecodeError(transport string)
}

// Subscriber consumes telemetry samples from an MQTT topic.
type Subscriber struct {
	cfg  config.MQTTConfig
	proc Processor
	obs  DecodeObserver
	now  func() time.Time

	mu     sync.Mutex
	client mqtt.Client
	ctx    context.Context

	received atomic.Uint64
	rejected atomic.Uint64
}

// NewSubscriber creates a Subscriber. obs may be nil.
func NewSubscriber(cfg config.MQTTConfig, proc Processor, obs DecodeObserver) *Subscriber {
	return &Subscriber{
		cfg:  cfg,
		proc: proc,
		obs:  obs,
		now:  time.Now,
		ctx:  context.Background(),
	}
}

// Start connects to the broker. The subscription is (re)established in the
// connect handler, so it survives reconnects. ctx is passed to Process for
// every message.
func (s *Subscriber) Start(ctx context.Context) error {
	client := mqtt.NewClient(s.clientOptions())

	s.mu.Lock()
	s.ctx = ctx
	s.client = client
	s.mu.Unlock()

	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("ingest: connect %s: timed out after %s", s.cfg.Broker, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("ingest: connect %s: %w", s.cfg.Broker, err)
	}
	slog.Info("ingest: connected to broker", "broker", s.cfg.Broker, "topic", s.cfg.Topic)
	return nil
}

// Stop unsubscribes and disconnects. It is safe to call without Start.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.mu.Unlock()

	if client == nil {
		return
	}
	if client.IsConnected() {
		client.Unsubscribe(s.cfg.Topic).WaitTimeout(time.Second)
	}
	client.Disconnect(quiesceMillis)
	slog.Info("ingest: disconnected",
		"received", s.received.Load(), "rejected", s.rejected.Load())
}

// Received returns the number of messages handled so far.
func (s *Subscriber) Received() uint64 { return s.received.Load() }

// Rejected returns the number of messages dropped as undecodable.
func (s *Subscriber) Rejected() uint64 { return s.rejected.Load() }

func (s *Subscriber) clientOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.cfg.Broker)
	opts.SetClientID(s.cfg.ClientID)
	opts.SetKeepAlive(keepAlive)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password())
	}
	opts.SetOnConnectHandler(s.onConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		slog.Warn("ingest: connection lost", "broker", s.cfg.Broker, "err", err)
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		slog.Info("ingest: reconnecting", "broker", s.cfg.Broker)
	})
	return opts
}

func (s *Subscriber) onConnect(client mqtt.Client) {
	token := client.Subscribe(s.cfg.Topic, s.cfg.QoS, s.handle)
	if token.Wait() && token.Error() != nil {
		slog.Error("ingest: subscribe failed", "topic", s.cfg.Topic, "err", token.Error())
		return
	}
	slog.Info("ingest: subscribed", "topic", s.cfg.Topic, "qos", s.cfg.QoS)
}

// handle decodes and processes one message.
func (s *Subscriber) handle(_ mqtt.Client, msg mqtt.Message) {
	s.received.Add(1)

	sample, err := telemetry.Decode(msg.Payload(), s.now())
	if err != nil {
		s.reject(msg.Topic(), err)
		return
	}

	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	if _, err := s.proc.Process(ctx, sample); err != nil {
		if errors.Is(err, telemetry.ErrInvalidSample) {
			s.reject(msg.Topic(), err)
			return
		}
		slog.Error("ingest: process failed", "topic", msg.Topic(), "car", sample.CarID, "err", err)
	}
}

func (s *Subscriber) reject(topic string, err error) {
	s.rejected.Add(1)
	if s.obs != nil {
		s.obs.ObserveDecodeError("mqtt")
	}
	slog.Warn("ingest: dropping message", "topic", topic, "err", err)
}
