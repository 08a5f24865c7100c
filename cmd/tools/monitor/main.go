package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/fisaks/uhn-gpio/internal/catalog"
	"github.com/fisaks/uhn-gpio/internal/gpio"
	mqttclient "github.com/fisaks/uhn-gpio/internal/mqtt"
	"github.com/fisaks/uhn-gpio/internal/uhn"
	"github.com/fisaks/uhn-gpio/internal/util"
)

// throttle lets one message per topic through every interval; snapshots
// arrive every control cycle.
type throttle struct {
	mu    sync.Mutex
	every time.Duration
	last  map[string]time.Time
}

func (t *throttle) allow(topic string) bool {
	if t.every <= 0 {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	if now.Sub(t.last[topic]) < t.every {
		return false
	}
	t.last[topic] = now
	return true
}

func readCatalogMessage(payload []byte) (string, error) {
	var msg catalog.GPIOCatalogMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return "", err
	}
	return fmt.Sprintf("controller=%s transport=%s unit=%d commands=%d states=%d services=%s",
		msg.Controller, msg.Transport, msg.UnitId, len(msg.Commands), len(msg.States),
		strings.Join(msg.Services, ",")), nil
}

func digitalBits(states []gpio.Digital) string {
	bits := make([]bool, len(states))
	for i, d := range states {
		bits[i] = d.State
	}
	return util.BoolsToBinaryString(bits)
}

func readIOStates(payload []byte) (string, error) {
	var msg gpio.IOStates
	if err := json.Unmarshal(payload, &msg); err != nil {
		return "", err
	}
	return fmt.Sprintf("do=%s di=%s ai=[%.3f %.3f] ao=[%.3f %.3f]",
		digitalBits(msg.DigitalOutStates[:]), digitalBits(msg.DigitalInStates[:]),
		msg.AnalogInStates[0].State, msg.AnalogInStates[1].State,
		msg.AnalogOutStates[0].State, msg.AnalogOutStates[1].State), nil
}

func readMode(payload []byte, safety bool) (string, error) {
	if safety {
		var m gpio.SafetyMode
		if err := json.Unmarshal(payload, &m); err != nil {
			return "", err
		}
		return fmt.Sprintf("%d (%s)", m.Mode, m), nil
	}
	var m gpio.RobotMode
	if err := json.Unmarshal(payload, &m); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d (%s)", m.Mode, m), nil
}

func format(topic string, payload []byte) (string, error) {
	switch {
	case strings.HasSuffix(topic, "/"+uhn.TopicCatalog):
		return readCatalogMessage(payload)
	case strings.HasSuffix(topic, "/"+uhn.TopicIOStates):
		return readIOStates(payload)
	case strings.HasSuffix(topic, "/"+uhn.TopicRobotMode):
		return readMode(payload, false)
	case strings.HasSuffix(topic, "/"+uhn.TopicSafetyMode):
		return readMode(payload, true)
	default:
		return string(payload), nil
	}
}

func main() {
	var broker, topic string
	var every time.Duration
	flag.StringVar(&broker, "broker", "tcp://localhost:1883", "MQTT broker address")
	flag.StringVar(&topic, "topic", "uhn/#", "MQTT topic filter")
	flag.DurationVar(&every, "every", time.Second, "Print at most one message per topic per interval (0 prints all)")
	flag.Parse()

	th := &throttle{every: every, last: map[string]time.Time{}}

	client, err := mqttclient.Connect(broker, "uhn-gpio-monitor", 10*time.Second, func(client mqtt.Client, msg mqtt.Message) {
		topic := msg.Topic()
		if !msg.Retained() && !th.allow(topic) {
			return
		}
		line, err := format(topic, msg.Payload())
		if err != nil {
			fmt.Printf("%s %s (error: %v)\n", topic, string(msg.Payload()), err)
			return
		}
		fmt.Printf("%s %s\n", topic, line)
	})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Connected to MQTT broker %s, subscribing to %s...\n", broker, topic)

	if token := client.Subscribe(topic, 0, nil); token.Wait() && token.Error() != nil {
		log.Fatal(token.Error())
	}

	// Wait for interrupt
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		fmt.Println("\nShutting down...")
		cancel()
	}()
	<-ctx.Done()
	client.Disconnect(200)
}
