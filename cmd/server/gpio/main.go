package main

// cSpell:ignore mqtt modbus
import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fisaks/uhn-gpio/internal/catalog"
	"github.com/fisaks/uhn-gpio/internal/config"
	"github.com/fisaks/uhn-gpio/internal/cycle"
	"github.com/fisaks/uhn-gpio/internal/gpio"
	"github.com/fisaks/uhn-gpio/internal/httpapi"
	"github.com/fisaks/uhn-gpio/internal/hwif"
	"github.com/fisaks/uhn-gpio/internal/layout"
	"github.com/fisaks/uhn-gpio/internal/logging"
	"github.com/fisaks/uhn-gpio/internal/messaging"
	"github.com/fisaks/uhn-gpio/internal/robot"
)

func main() {
	path := getenv("GPIO_CONFIG_PATH", "/etc/uhn/gpio-config.json")

	cfg, err := config.Load(path)
	if err != nil {
		logging.Fatal("GPIO config error", "error", err)
	}
	if v := os.Getenv("MQTT_URL"); v != "" {
		cfg.MQTT.BrokerURL = v
	}
	if v := os.Getenv("GPIO_NAME"); v != "" {
		cfg.Controller.Name = v
		cfg.MQTT.ClientName = v
		cfg.MQTT.TopicPrefix = "uhn/" + v
	}

	logging.Info("Loaded config",
		"controller", cfg.Controller.Name,
		"robot", cfg.Robot.Type,
		"cycleMs", cfg.Controller.CyclePeriodMs,
		"topicPrefix", cfg.MQTT.TopicPrefix,
	)

	// Graceful shutdown context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gpioBroker := messaging.NewGPIOBroker(messaging.BrokerConfig{
		BrokerURL:        cfg.MQTT.BrokerURL,
		ClientName:       cfg.MQTT.ClientName,
		TopicPrefix:      cfg.MQTT.TopicPrefix,
		ConnectTimeout:   cfg.MQTT.ConnectTimeout(),
		PublishTimeout:   cfg.MQTT.PublishTimeout(),
		SubscribeTimeout: cfg.MQTT.SubscribeTimeout(),
	}, catalog.NewGPIOCatalog(cfg).OnConnectPublish)

	publishers := gpio.NewPublishers(gpioBroker)
	var stream *httpapi.Stream
	if cfg.HTTP.ListenAddr != "" {
		stream = httpapi.NewStream()
		publishers.Add(stream)
	}

	registry, err := hwif.NewRegistry(layout.CommandNames(), layout.StateNames())
	if err != nil {
		logging.Fatal("registry init", "error", err)
	}
	ctrl := gpio.NewController(gpio.Options{
		Name:             cfg.Controller.Name,
		PollInterval:     cfg.Controller.PollInterval(),
		HandshakeTimeout: cfg.Controller.HandshakeTimeout(),
		Publisher:        publishers,
	})
	if err := ctrl.Configure(registry); err != nil {
		logging.Fatal("controller configure", "error", err)
	}
	defer ctrl.Cleanup()

	rob, err := robot.New(cfg.Robot)
	if err != nil {
		logging.Fatal("robot init", "error", err)
	}
	defer rob.Close()

	runner, err := cycle.NewRunner(cfg.Controller.CyclePeriod(), registry, rob, ctrl)
	if err != nil {
		logging.Fatal("cycle init", "error", err)
	}

	// Connect blocks until the broker is reachable; the cycle runs meanwhile.
	go func() {
		if err := gpioBroker.Connect(ctx); err != nil {
			logging.Error("MQTT connect", "error", err)
			return
		}
		if err := gpioBroker.StartRequestSubscriber(ctx, messaging.NewRequestSubscriber(ctrl)); err != nil {
			logging.Error("request subscriber", "error", err)
		}
	}()
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), time.Second)
		defer closeCancel()
		gpioBroker.Close(closeCtx)
	}()

	if err := ctrl.Activate(); err != nil {
		logging.Fatal("controller activate", "error", err)
	}
	defer ctrl.Deactivate()

	cycleDone := make(chan struct{})
	go func() {
		defer close(cycleDone)
		runner.Start(ctx)
	}()

	if stream != nil {
		server := httpapi.NewServer(cfg.HTTP.ListenAddr, ctrl, stream)
		go func() {
			if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logging.Error("HTTP API stopped", "error", err)
			}
		}()
	}

	// Wait for SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	logging.Info("Shutting down", "signal", s)

	cancel()
	select {
	case <-cycleDone:
	case <-time.After(2 * time.Second):
		logging.Warn("control cycle did not stop in time")
	}
	logging.Info("bye")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
