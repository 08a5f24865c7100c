// Package httpapi is a REST and websocket front for the controller, next to
// the MQTT interface.
package httpapi

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/fisaks/uhn-gpio/internal/gpio"
	"github.com/fisaks/uhn-gpio/internal/logging"
	"github.com/fisaks/uhn-gpio/internal/uhn"
)

// Controller is what the HTTP surface needs from the gpio controller.
type Controller interface {
	SetIO(ctx context.Context, req gpio.SetIORequest) (bool, error)
	SetSpeedSlider(ctx context.Context, req gpio.SpeedSliderRequest) (bool, error)
	LatestIO() gpio.IOStates
	LatestToolData() gpio.ToolData
	Modes() (gpio.RobotMode, gpio.SafetyMode, bool)
	Status() (gpio.StatusBits, error)
}

type Server struct {
	app    *fiber.App
	addr   string
	ctrl   Controller
	stream *Stream
}

// NewServer serves ctrl on addr; /ws/io relays what the controller publishes
// into stream.
func NewServer(addr string, ctrl Controller, stream *Stream) *Server {
	s := &Server{
		addr:   addr,
		ctrl:   ctrl,
		stream: stream,
	}

	app := fiber.New(fiber.Config{
		AppName:               "uhn-gpio",
		DisableStartupMessage: true,
	})

	api := app.Group("/api")
	api.Get("/io", s.handleIO)
	api.Get("/tool", s.handleTool)
	api.Get("/mode", s.handleMode)
	api.Get("/status", s.handleStatus)
	api.Post("/"+uhn.ServiceSetIO, s.handleSetIO)
	api.Post("/"+uhn.ServiceSetSpeedSlider, s.handleSetSpeedSlider)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/io", websocket.New(func(conn *websocket.Conn) {
		newClient(s.stream.hub, conn).serve()
	}))

	s.app = app
	return s
}

// Start serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	go s.stream.hub.Run(ctx)
	errCh := make(chan error, 1)
	go func() {
		logging.Info("HTTP API listening", "addr", s.addr)
		errCh <- s.app.Listen(s.addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.app.ShutdownWithTimeout(5 * time.Second)
	}
}

type modeResponse struct {
	RobotMode      gpio.RobotMode  `json:"robotMode"`
	RobotModeName  string          `json:"robotModeName"`
	SafetyMode     gpio.SafetyMode `json:"safetyMode"`
	SafetyModeName string          `json:"safetyModeName"`
}

func (s *Server) handleIO(c *fiber.Ctx) error {
	return c.JSON(s.ctrl.LatestIO())
}

func (s *Server) handleTool(c *fiber.Ctx) error {
	return c.JSON(s.ctrl.LatestToolData())
}

func (s *Server) handleMode(c *fiber.Ctx) error {
	robot, safety, ok := s.ctrl.Modes()
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no mode published yet"})
	}
	return c.JSON(modeResponse{
		RobotMode:      robot,
		RobotModeName:  robot.String(),
		SafetyMode:     safety,
		SafetyModeName: safety.String(),
	})
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	bits, err := s.ctrl.Status()
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(bits)
}

func (s *Server) handleSetIO(c *fiber.Ctx) error {
	var in uhn.IncomingSetIO
	if err := c.BodyParser(&in); err != nil {
		return reply(c, fiber.StatusBadRequest, uhn.Response{Message: "invalid body: " + err.Error()})
	}
	req, err := in.Request()
	if err != nil {
		return reply(c, fiber.StatusBadRequest, uhn.Response{ID: in.ID, Message: err.Error()})
	}
	ok, err := s.ctrl.SetIO(c.UserContext(), req)
	return replyOutcome(c, in.ID, ok, err)
}

func (s *Server) handleSetSpeedSlider(c *fiber.Ctx) error {
	var in uhn.IncomingSpeedSlider
	if err := c.BodyParser(&in); err != nil {
		return reply(c, fiber.StatusBadRequest, uhn.Response{Message: "invalid body: " + err.Error()})
	}
	req, err := in.Request()
	if err != nil {
		return reply(c, fiber.StatusBadRequest, uhn.Response{ID: in.ID, Message: err.Error()})
	}
	ok, err := s.ctrl.SetSpeedSlider(c.UserContext(), req)
	return replyOutcome(c, in.ID, ok, err)
}

func replyOutcome(c *fiber.Ctx, id string, ok bool, err error) error {
	resp := uhn.Response{ID: id, Success: ok && err == nil}
	switch {
	case errors.Is(err, gpio.ErrInvalidRequest):
		resp.Message = err.Error()
		return reply(c, fiber.StatusBadRequest, resp)
	case errors.Is(err, gpio.ErrHandshakeTimeout):
		resp.Message = err.Error()
		return reply(c, fiber.StatusGatewayTimeout, resp)
	case errors.Is(err, gpio.ErrNotActive):
		resp.Message = err.Error()
		return reply(c, fiber.StatusServiceUnavailable, resp)
	case err != nil:
		resp.Message = err.Error()
		return reply(c, fiber.StatusInternalServerError, resp)
	case !ok:
		resp.Message = "rejected by robot"
	}
	return reply(c, fiber.StatusOK, resp)
}

func reply(c *fiber.Ctx, status int, resp uhn.Response) error {
	return c.Status(status).JSON(resp)
}
