package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ============================================================================
// MQTT bus
// ============================================================================
// Inbound: the action topic is (re)subscribed with QoS 2 on every connect.
// Payloads are copied onto an unbounded FIFO and a forwarding goroutine feeds
// the daemon loop's inbound channel. paho's router must not block while
// ordered delivery is on: it shares a goroutine with PUBACK handling.
//
// Outbound: status snapshots (QoS 1, not retained) and the one-shot retained
// discovery announcement. Every acknowledgement wait is bounded by the
// configured write timeout.
// ============================================================================

// ErrNotConnected is returned by Publish while the client is offline.
var ErrNotConnected = errors.New("mqtt client not connected")

// MQTTBus is the paho-backed Publisher.
type MQTTBus struct {
	client   mqtt.Client
	identity Identity
	inbound  chan<- InboundMessage
	logger   *slog.Logger

	announcement []byte
	announced    atomic.Bool
	writeTimeout time.Duration

	pendingMu sync.Mutex
	pending   []InboundMessage
	wake      chan struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// NewMQTTBus builds the client. Call Connect to go online.
func NewMQTTBus(cfg MQTTConfig, id Identity, announcement Announcement, inbound chan<- InboundMessage, logger *slog.Logger) (*MQTTBus, error) {
	return newMQTTBus(cfg, id, announcement, inbound, logger, mqtt.NewClient)
}

func newMQTTBus(cfg MQTTConfig, id Identity, announcement Announcement, inbound chan<- InboundMessage, logger *slog.Logger, newClient func(*mqtt.ClientOptions) mqtt.Client) (*MQTTBus, error) {
	payload, err := announcement.Payload()
	if err != nil {
		return nil, fmt.Errorf("marshal announcement: %w", err)
	}
	b := &MQTTBus{
		identity:     id,
		inbound:      inbound,
		logger:       logger,
		announcement: payload,
		writeTimeout: time.Duration(cfg.WriteTimeoutMS) * time.Millisecond,
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	opts, err := b.clientOptions(cfg)
	if err != nil {
		return nil, err
	}
	b.client = newClient(opts)
	go b.forward()
	return b, nil
}

func (b *MQTTBus) clientOptions(cfg MQTTConfig) (*mqtt.ClientOptions, error) {
	broker, err := url.Parse(cfg.Broker)
	if err != nil {
		return nil, fmt.Errorf("parse mqtt.broker: %w", err)
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetKeepAlive(time.Duration(cfg.KeepAliveSec) * time.Second).
		SetConnectTimeout(time.Duration(cfg.ConnectTimeoutMS) * time.Millisecond).
		SetWriteTimeout(time.Duration(cfg.WriteTimeoutMS) * time.Millisecond).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetOrderMatters(true).
		SetOnConnectHandler(b.onConnect).
		SetConnectionLostHandler(b.onConnectionLost).
		SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
			b.logger.Info("mqtt reconnecting", "broker", cfg.Broker)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	if needsTLS(broker.Scheme) || cfg.TLS.CAFile != "" {
		tlsCfg, err := buildTLSConfig(cfg.TLS)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	return opts, nil
}

func needsTLS(scheme string) bool {
	switch scheme {
	case "ssl", "tls", "mqtts", "tcps", "wss":
		return true
	}
	return false
}

// buildTLSConfig starts from the system roots and adds an optional CA file.
func buildTLSConfig(cfg MQTTTLSConfig) (*tls.Config, error) {
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if cfg.CAFile != "" {
		pem, err := os.ReadFile(ExpandPath(cfg.CAFile))
		if err != nil {
			return nil, fmt.Errorf("read mqtt.tls.ca_file: %w", err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("mqtt.tls.ca_file %s: no certificates found", cfg.CAFile)
		}
	}
	return &tls.Config{
		RootCAs:            pool,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}, nil
}

// Connect blocks until the first connection succeeds or ctx is done.
func (b *MQTTBus) Connect(ctx context.Context) error {
	if err := waitToken(ctx, b.client.Connect()); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// Publish sends payload to topic and waits, at most the write timeout, for
// the broker acknowledgement appropriate to qos.
func (b *MQTTBus) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	if !b.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	if err := b.waitAck(ctx, b.client.Publish(topic, qos, retained, payload)); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (b *MQTTBus) waitAck(ctx context.Context, t mqtt.Token) error {
	if b.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.writeTimeout)
		defer cancel()
	}
	return waitToken(ctx, t)
}

// Close stops inbound delivery and disconnects. Messages still queued for
// the daemon are dropped.
func (b *MQTTBus) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
		b.client.Disconnect(defaultDisconnectMS)
	})
}

func (b *MQTTBus) onConnect(c mqtt.Client) {
	topic := b.identity.ActionTopic()
	b.logger.Info("mqtt connected", "subscribe", topic)

	if err := b.waitAck(context.Background(), c.Subscribe(topic, actionQoS, b.onMessage)); err != nil {
		b.logger.Error("mqtt subscribe failed", "topic", topic, "error", err)
		return
	}

	// Retained, so one successful publish is enough; a failure retries on
	// the next connect.
	if b.announced.Load() {
		return
	}
	tok := c.Publish(discoverTopic, announceQoS, true, b.announcement)
	if err := b.waitAck(context.Background(), tok); err != nil {
		b.logger.Warn("device announcement failed", "topic", discoverTopic, "error", err)
		return
	}
	b.announced.Store(true)
	b.logger.Info("device announced", "topic", discoverTopic, "device_id", b.identity.DeviceID)
}

func (b *MQTTBus) onConnectionLost(_ mqtt.Client, err error) {
	b.logger.Warn("mqtt connection lost", "error", err)
}

// onMessage never blocks: it queues a copy and wakes the forwarder.
func (b *MQTTBus) onMessage(_ mqtt.Client, m mqtt.Message) {
	select {
	case <-b.done:
		b.logger.Debug("dropping inbound message after close", "topic", m.Topic())
		return
	default:
	}
	msg := InboundMessage{
		Topic:   m.Topic(),
		Payload: append([]byte(nil), m.Payload()...),
		Source:  "mqtt",
	}

	b.pendingMu.Lock()
	b.pending = append(b.pending, msg)
	b.pendingMu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// forward moves queued messages to the inbound channel in arrival order
// until Close.
func (b *MQTTBus) forward() {
	for {
		select {
		case <-b.wake:
		case <-b.done:
			return
		}
		for {
			msg, ok := b.nextPending()
			if !ok {
				break
			}
			select {
			case b.inbound <- msg:
			case <-b.done:
				return
			}
		}
	}
}

func (b *MQTTBus) nextPending() (InboundMessage, bool) {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	if len(b.pending) == 0 {
		return InboundMessage{}, false
	}
	msg := b.pending[0]
	b.pending[0] = InboundMessage{}
	b.pending = b.pending[1:]
	return msg, true
}

// queued reports how many messages wait for the forwarder.
func (b *MQTTBus) queued() int {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	return len(b.pending)
}

func waitToken(ctx context.Context, t mqtt.Token) error {
	select {
	case <-t.Done():
		return t.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
