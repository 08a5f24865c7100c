package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/fisaks/uhn-gpio/internal/logging"
)

var ErrNotConnected = errors.New("mqtt client not connected")

const (
	defaultTokenTimeout = 5 * time.Second
	unsubscribeTimeout  = 3 * time.Second
	quiesceMs           = 250
)

type BrokerConfig struct {
	BrokerURL        string
	ClientName       string
	TopicPrefix      string
	ConnectTimeout   time.Duration
	PublishTimeout   time.Duration
	SubscribeTimeout time.Duration
}

// MsgBroker is the paho backed Broker. The client is built up front and
// never replaced, so Publish may run while Connect is still dialing.
type MsgBroker struct {
	config BrokerConfig
	client mqtt.Client

	mu        sync.RWMutex
	onConnect []namedOnConnect
}

type PublishRequest struct {
	// Context defaults to context.Background().
	Context context.Context
	// Topic is joined below the topic prefix.
	Topic        string
	Qos          QoS
	Retain       bool
	PayloadBytes []byte
	Payload      any
}

// OnConnectPublisher builds a message that is published after every
// (re)connect.
type OnConnectPublisher func() (PublishRequest, error)

type namedOnConnect struct {
	id string
	fn OnConnectPublisher
}

func NewMsgBroker(cfg BrokerConfig) *MsgBroker {
	b := &MsgBroker{config: cfg}
	b.client = mqtt.NewClient(b.clientOptions())
	return b
}

// Connect dials the broker and waits until the session is up or ctx ends.
func (b *MsgBroker) Connect(ctx context.Context) error {
	if b.client.IsConnected() {
		return nil
	}
	token := b.client.Connect()
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		b.client.Disconnect(quiesceMs)
		return ctx.Err()
	}
}

func (b *MsgBroker) clientOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(b.config.BrokerURL).
		SetClientID("uhn-gpio-" + b.config.ClientName).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		// keep request subscriptions on the broker across reconnects
		SetCleanSession(false)
	if b.config.ConnectTimeout > 0 {
		opts.SetConnectTimeout(b.config.ConnectTimeout)
	}
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logging.Info("MQTT connected", "broker", b.config.BrokerURL, "clientName", b.config.ClientName)
		// publishing waits on tokens, keep it off the paho callback goroutine
		go b.publishOnConnect()
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logging.Warn("MQTT connection lost", "broker", b.config.BrokerURL, "error", err)
	})
	return opts
}

// Topic joins parts below the configured topic prefix.
func (b *MsgBroker) Topic(parts ...string) string {
	return strings.Join(append([]string{b.config.TopicPrefix}, parts...), "/")
}

// AddOnConnectPublisher registers fn under id, replacing an earlier one with
// the same id.
func (b *MsgBroker) AddOnConnectPublisher(id string, fn OnConnectPublisher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.onConnect {
		if b.onConnect[i].id == id {
			b.onConnect[i].fn = fn
			return
		}
	}
	b.onConnect = append(b.onConnect, namedOnConnect{id: id, fn: fn})
}

func (b *MsgBroker) publishOnConnect() {
	b.mu.RLock()
	pubs := append([]namedOnConnect(nil), b.onConnect...)
	b.mu.RUnlock()

	for _, p := range pubs {
		if err := b.publishRequest(p.fn); err != nil {
			logging.Error("onConnect publish failed", "clientName", b.config.ClientName, "id", p.id, "error", err)
		}
	}
}

func (b *MsgBroker) publishRequest(fn OnConnectPublisher) error {
	req, err := fn()
	if err != nil {
		return err
	}
	ctx := req.Context
	if ctx == nil {
		ctx = context.Background()
	}
	topic := b.Topic(req.Topic)
	if req.PayloadBytes != nil {
		return b.Publish(ctx, topic, req.Qos, req.Retain, req.PayloadBytes)
	}
	return b.PublishJSON(ctx, topic, req.Qos, req.Retain, req.Payload)
}

func (b *MsgBroker) IsConnected() bool {
	return b.client.IsConnected()
}

// Close disconnects with a short quiesce period, bounded by ctx.
func (b *MsgBroker) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.client.Disconnect(quiesceMs)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish fails fast with ErrNotConnected while offline. AsyncNoWait hands
// the message to paho and returns without waiting for the token.
func (b *MsgBroker) Publish(ctx context.Context, topic string, qos QoS, retain bool, payload []byte) error {
	if !b.client.IsConnected() {
		return ErrNotConnected
	}
	qosByte, wait := qosToByte(qos)
	token := b.client.Publish(topic, qosByte, retain, payload)
	if !wait {
		return nil
	}
	timeout := orDefault(b.config.PublishTimeout)
	if err := waitToken(ctx, token, timeout); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func qosToByte(qos QoS) (byte, bool) {
	if qos > ExactlyOnce {
		return byte(AtMostOnce), false
	}
	return byte(qos), true
}

func (b *MsgBroker) PublishJSON(ctx context.Context, topic string, qos QoS, retain bool, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Publish(ctx, topic, qos, retain, data)
}

// Subscribe registers handler and waits for the SUBACK. Each message is
// handled on its own goroutine; a panicking handler is logged.
func (b *MsgBroker) Subscribe(ctx context.Context, topic string, qos QoS, handler func(context.Context, string, []byte)) (Subscription, error) {
	if !b.client.IsConnected() {
		return nil, ErrNotConnected
	}
	onMessage := func(_ mqtt.Client, msg mqtt.Message) {
		go func() {
			defer func() {
				if r := recover(); r != nil {
					logging.Error("mqtt handler panic", "clientName", b.config.ClientName, "topic", msg.Topic(), "err", r)
				}
			}()
			handler(ctx, msg.Topic(), msg.Payload())
		}()
	}
	token := b.client.Subscribe(topic, byte(qos), onMessage)
	if err := waitToken(ctx, token, orDefault(b.config.SubscribeTimeout)); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return &msgSubscription{client: b.client, topic: topic}, nil
}

type msgSubscription struct {
	client mqtt.Client
	topic  string
}

func (s *msgSubscription) Unsubscribe(ctx context.Context) error {
	if err := waitToken(ctx, s.client.Unsubscribe(s.topic), unsubscribeTimeout); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", s.topic, err)
	}
	return nil
}

func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-time.After(timeout):
		return fmt.Errorf("timeout after %v", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func orDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultTokenTimeout
	}
	return d
}
