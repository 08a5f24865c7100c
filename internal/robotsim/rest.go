package robotsim

import (
	"github.com/gofiber/fiber/v2"

	"github.com/fisaks/uhn-gpio/internal/layout"
)

type slotValue struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

type valueRequest struct {
	Value float64 `json:"value"`
}

// Routes exposes the simulated robot for poking from a browser or curl.
func (s *Sim) Routes(r fiber.Router) {
	r.Get("/state", s.handleGetStates)
	r.Get("/state/:offset", s.handleGetState)
	r.Put("/state/:offset", s.handleSetState)
	r.Post("/digitalInput/:pin/toggle", s.handleToggle)
	r.Get("/speedSlider", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"value": s.SpeedSlider()})
	})
}

func fail(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

func (s *Sim) handleGetStates(c *fiber.Ctx) error {
	names := layout.StateNames()
	out := make([]slotValue, len(names))
	for i, name := range names {
		v, _ := s.State(i)
		out[i] = slotValue{Name: name, Value: v}
	}
	return c.JSON(out)
}

func (s *Sim) handleGetState(c *fiber.Ctx) error {
	offset, err := c.ParamsInt("offset")
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid offset")
	}
	v, err := s.State(offset)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, err.Error())
	}
	return c.JSON(slotValue{Name: layout.StateNames()[offset], Value: v})
}

func (s *Sim) handleSetState(c *fiber.Ctx) error {
	offset, err := c.ParamsInt("offset")
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid offset")
	}
	var req valueRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "bad json")
	}
	if err := s.SetState(offset, req.Value); err != nil {
		return fail(c, fiber.StatusBadRequest, err.Error())
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Sim) handleToggle(c *fiber.Ctx) error {
	pin, err := c.ParamsInt("pin")
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid pin")
	}
	on, err := s.Toggle(pin)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, err.Error())
	}
	return c.JSON(fiber.Map{"pin": pin, "state": on})
}
