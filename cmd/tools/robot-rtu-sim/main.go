package main

// cSpell:ignore mbserver Modbus
import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goburrow/serial"
	"github.com/womat/mbserver"

	"github.com/fisaks/uhn-gpio/internal/config"
	"github.com/fisaks/uhn-gpio/internal/robotsim"
)

// The simulator answers on the serial port named in the controller's own
// config, so both ends agree on port settings, unit id and register map.
func main() {
	configPath := os.Getenv("SIM_CONFIG_PATH")
	if configPath == "" {
		log.Fatal("SIM_CONFIG_PATH not set")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("GPIO config error: %v", err)
	}
	rc := cfg.Robot
	if rc.Type != "rtu" {
		log.Fatalf("robot.type is %q, the RTU simulator needs rtu", rc.Type)
	}

	s := mbserver.NewServer()
	id := rc.UnitId
	if id != 1 {
		if err := s.NewDevice(id); err != nil {
			log.Fatalf("NewDevice(%d): %v", id, err)
		}
	}
	dev := s.Devices[id]
	sim, err := robotsim.New(robotsim.Registers{
		Coils:            dev.Coils,
		DiscreteInputs:   dev.DiscreteInputs,
		HoldingRegisters: dev.HoldingRegisters,
		InputRegisters:   dev.InputRegisters,
	}, rc.Registers)
	if err != nil {
		log.Fatalf("robot sim: %v", err)
	}
	sim.Seed()

	port, err := serial.Open(&serial.Config{
		Address:  rc.Port,
		BaudRate: rc.Baud,
		DataBits: rc.DataBits,
		StopBits: rc.StopBits,
		Parity:   rc.Parity,
		Timeout:  2 * time.Second,
	})
	if err != nil {
		log.Fatalf("serial open %s: %v", rc.Port, err)
	}
	defer port.Close()

	if err := s.ListenRTU(port); err != nil {
		log.Fatalf("listenRTU: %v", err)
	}
	log.Printf("Robot RTU simulator ready on %s (unit %d)", rc.Port, id)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	go sim.Run(ctx, 10*time.Millisecond)

	restAddr := os.Getenv("SIM_REST_ADDR")
	if restAddr == "" {
		restAddr = ":8080"
	}
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	sim.Routes(app)
	go func() {
		log.Printf("Robot simulator REST API listening on %s", restAddr)
		if err := app.Listen(restAddr); err != nil {
			log.Printf("REST API: %v", err)
		}
	}()

	<-ctx.Done()
	app.Shutdown()
}
