package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/fisaks/uhn-gpio/internal/gpio"
	"github.com/fisaks/uhn-gpio/internal/logging"
	"github.com/fisaks/uhn-gpio/internal/uhn"
)

type GPIOBroker interface {
	Broker
	gpio.Publisher
	StartRequestSubscriber(ctx context.Context, subscriber uhn.RequestSubscriber) error
}

type gpioBroker struct {
	Broker
	uhn.RequestSubscriber

	mu   sync.Mutex
	subs []Subscription
}

func NewGPIOBroker(cfg BrokerConfig, catalog OnConnectPublisher) GPIOBroker {
	broker := NewMsgBroker(cfg)
	broker.AddOnConnectPublisher("catalog", catalog)
	return newGPIOBroker(broker)
}

func newGPIOBroker(broker Broker) *gpioBroker {
	return &gpioBroker{Broker: broker}
}

// Snapshots go out every cycle; one lost while the client is offline is
// replaced by the next, so a missing connection is not an error here.
func (b *gpioBroker) PublishIOStates(ctx context.Context, msg gpio.IOStates) error {
	return ignoreOffline(b.PublishJSON(ctx, b.Topic(uhn.TopicIOStates), AsyncNoWait, false, msg))
}

func (b *gpioBroker) PublishToolData(ctx context.Context, msg gpio.ToolData) error {
	return ignoreOffline(b.PublishJSON(ctx, b.Topic(uhn.TopicToolData), AsyncNoWait, false, msg))
}

func ignoreOffline(err error) error {
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

// Modes are retained so late subscribers see the current value. The publish
// does not wait, but a disconnected client is reported so the mode is sent
// again once the broker is back.
func (b *gpioBroker) PublishRobotMode(ctx context.Context, msg gpio.RobotMode) error {
	logging.Debug("Publishing robot mode", "mode", msg.Mode, "name", msg.String())
	return b.PublishJSON(ctx, b.Topic(uhn.TopicRobotMode), AsyncNoWait, true, msg)
}

func (b *gpioBroker) PublishSafetyMode(ctx context.Context, msg gpio.SafetyMode) error {
	logging.Debug("Publishing safety mode", "mode", msg.Mode, "name", msg.String())
	return b.PublishJSON(ctx, b.Topic(uhn.TopicSafetyMode), AsyncNoWait, true, msg)
}

func (b *gpioBroker) StartRequestSubscriber(ctx context.Context, subscriber uhn.RequestSubscriber) error {
	b.RequestSubscriber = subscriber
	for _, service := range []string{uhn.ServiceSetIO, uhn.ServiceSetSpeedSlider} {
		sub, err := b.Subscribe(ctx, b.Topic(uhn.RequestTopic(service)), AtLeastOnce, b.OnMessage)
		if err != nil {
			return err
		}
		b.mu.Lock()
		b.subs = append(b.subs, sub)
		b.mu.Unlock()
	}
	return nil
}

// OnMessage decodes a request, hands it to the subscriber and publishes the
// response. Runs on its own goroutine per message.
func (b *gpioBroker) OnMessage(ctx context.Context, topic string, payload []byte) {
	// <prefix...>/<service>/req
	parts := strings.Split(topic, "/")
	if len(parts) < 2 || parts[len(parts)-1] != "req" {
		logging.Warn("request topic malformed", "topic", topic)
		return
	}
	service := parts[len(parts)-2]

	var resp uhn.Response
	switch service {
	case uhn.ServiceSetIO:
		var req uhn.IncomingSetIO
		if err := json.Unmarshal(payload, &req); err != nil {
			logging.Warn("set_io json", "error", err)
			resp = uhn.Response{Message: "invalid JSON: " + err.Error()}
			break
		}
		if req.ID == "" {
			req.ID = uuid.New().String()
		}
		resp = b.OnSetIO(ctx, req)
		resp.ID = req.ID
	case uhn.ServiceSetSpeedSlider:
		var req uhn.IncomingSpeedSlider
		if err := json.Unmarshal(payload, &req); err != nil {
			logging.Warn("set_speed_slider json", "error", err)
			resp = uhn.Response{Message: "invalid JSON: " + err.Error()}
			break
		}
		if req.ID == "" {
			req.ID = uuid.New().String()
		}
		resp = b.OnSetSpeedSlider(ctx, req)
		resp.ID = req.ID
	default:
		logging.Warn("unknown service", "topic", topic)
		return
	}

	if err := b.PublishJSON(ctx, b.Topic(uhn.ResponseTopic(service)), AtLeastOnce, false, resp); err != nil {
		logging.Warn("Failed to publish response", "service", service, "id", resp.ID, "error", err)
	}
}

// Close drops the request subscriptions before disconnecting.
func (b *gpioBroker) Close(ctx context.Context) error {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()
	for _, sub := range subs {
		if err := sub.Unsubscribe(ctx); err != nil {
			logging.Warn("unsubscribe failed", "error", err)
		}
	}
	return b.Broker.Close(ctx)
}
