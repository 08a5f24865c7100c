package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	mqttclient "github.com/fisaks/uhn-gpio/internal/mqtt"
	"github.com/fisaks/uhn-gpio/internal/uhn"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage:
  gpioctl set-io --gpio NAME --fun FUN --pin PIN --state STATE [--pulse MS]
  gpioctl set-speed --gpio NAME --fraction FRACTION

Flags for 'set-io':
  --fun      (int)      1 = digital output, 3 = analog output
  --pin      (int)      Output pin (0..17 digital, 0..1 analog)
  --state    (float)    0/1 for digital, value for analog
  --pulse    (int)      Revert a digital output after MS milliseconds (default: 0)

Flags for 'set-speed':
  --fraction (float)    Speed slider fraction, 0.01..1

Common flags:
  --gpio     (string)   Name of the gpio controller (default: gpio_controller)
  --broker   (string)   MQTT broker address (default: tcp://localhost:1883)
  --timeout  (duration) How long to wait for the response (default: 5s)

`)
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Missing command (e.g. set-io)\n")
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	name := fs.String("gpio", "gpio_controller", "GPIO controller name")
	broker := fs.String("broker", "tcp://localhost:1883", "MQTT broker address")
	timeout := fs.Duration("timeout", 5*time.Second, "Response timeout")
	fs.Usage = usage

	var service string
	var payload any
	switch cmd {
	case "set-io":
		fun := fs.Int("fun", 1, "Function (1 digital, 3 analog)")
		pin := fs.Int("pin", -1, "Pin (required)")
		state := fs.Float64("state", 0, "State")
		pulse := fs.Int("pulse", 0, "Pulse duration in milliseconds")
		if err := fs.Parse(os.Args[2:]); err != nil {
			os.Exit(2)
		}
		if *pin < 0 {
			fmt.Fprintf(os.Stderr, "--pin is required and must be >= 0\n")
			usage()
			os.Exit(2)
		}
		service = uhn.ServiceSetIO
		in := uhn.IncomingSetIO{ID: uuid.NewString(), Fun: *fun, Pin: *pin, State: *state}
		if *pulse > 0 {
			in.PulseMs = *pulse
		}
		payload = in
	case "set-speed":
		fraction := fs.Float64("fraction", -1, "Speed fraction (required)")
		if err := fs.Parse(os.Args[2:]); err != nil {
			os.Exit(2)
		}
		if *fraction < 0 {
			fmt.Fprintf(os.Stderr, "--fraction is required\n")
			usage()
			os.Exit(2)
		}
		service = uhn.ServiceSetSpeedSlider
		payload = uhn.IncomingSpeedSlider{ID: uuid.NewString(), Fraction: *fraction}
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(2)
	}

	ok, err := request(*broker, "uhn/"+*name, service, payload, *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if !ok {
		os.Exit(1)
	}
}

// request publishes payload on <prefix>/<service>/req and waits for the
// response carrying the same id.
func request(broker, prefix, service string, payload any, timeout time.Duration) (bool, error) {
	id := requestID(payload)

	client, err := mqttclient.Connect(broker, "gpioctl", timeout, nil)
	if err != nil {
		return false, err
	}
	defer client.Disconnect(250)

	responses := make(chan uhn.Response, 1)
	resTopic := prefix + "/" + uhn.ResponseTopic(service)
	token := client.Subscribe(resTopic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		var resp uhn.Response
		if err := json.Unmarshal(msg.Payload(), &resp); err != nil || resp.ID != id {
			return
		}
		select {
		case responses <- resp:
		default:
		}
	})
	if token.Wait() && token.Error() != nil {
		return false, fmt.Errorf("MQTT subscribe error: %w", token.Error())
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("JSON marshal error: %w", err)
	}
	reqTopic := prefix + "/" + uhn.RequestTopic(service)
	fmt.Printf("Sending %s %s\n", reqTopic, payloadBytes)
	token = client.Publish(reqTopic, 1, false, payloadBytes)
	if token.Wait() && token.Error() != nil {
		return false, fmt.Errorf("MQTT publish error: %w", token.Error())
	}

	select {
	case resp := <-responses:
		if resp.Success {
			fmt.Printf("%s %s: success\n", service, id)
		} else {
			fmt.Printf("%s %s: failed: %s\n", service, id, resp.Message)
		}
		return resp.Success, nil
	case <-time.After(timeout):
		return false, fmt.Errorf("no response on %s within %v", resTopic, timeout)
	}
}

func requestID(payload any) string {
	switch p := payload.(type) {
	case uhn.IncomingSetIO:
		return p.ID
	case uhn.IncomingSpeedSlider:
		return p.ID
	default:
		return ""
	}
}
