// Package mqtt builds the plain paho clients the command line tools use.
package mqtt

// cSpell:ignore mqtt
import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// Connect opens a short-lived tool client with a unique id under prefix.
// handler, when not nil, receives messages of subscriptions made without
// their own callback.
func Connect(brokerURL, prefix string, timeout time.Duration, handler paho.MessageHandler) (paho.Client, error) {
	opts := paho.NewClientOptions().AddBroker(brokerURL)
	opts.SetClientID(prefix + "-" + uuid.NewString()[:8])
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(timeout)
	if handler != nil {
		opts.SetDefaultPublishHandler(handler)
	}
	c := paho.NewClient(opts)
	tok := c.Connect()
	if !tok.WaitTimeout(timeout) {
		return nil, fmt.Errorf("mqtt connect %s: timeout after %v", brokerURL, timeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", brokerURL, err)
	}
	return c, nil
}
