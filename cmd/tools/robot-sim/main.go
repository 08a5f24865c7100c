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
	"github.com/tbrandon/mbserver"

	"github.com/fisaks/uhn-gpio/internal/config"
	"github.com/fisaks/uhn-gpio/internal/robotsim"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	addr := getenv("MB_LISTEN_ADDR", ":1502")
	restAddr := getenv("SIM_REST_ADDR", ":8080")

	srv := mbserver.NewServer()
	sim, err := robotsim.New(robotsim.Registers{
		Coils:            srv.Coils,
		DiscreteInputs:   srv.DiscreteInputs,
		HoldingRegisters: srv.HoldingRegisters,
		InputRegisters:   srv.InputRegisters,
	}, config.RegisterMap{})
	if err != nil {
		log.Fatalf("robot sim: %v", err)
	}
	sim.Seed()

	if err := srv.ListenTCP(addr); err != nil {
		log.Fatalf("ListenTCP: %v", err)
	}
	defer srv.Close()
	log.Printf("Robot Modbus TCP simulator listening on %s", addr)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	go sim.Run(ctx, 10*time.Millisecond)

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
