package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fisaks/uhn-gpio/internal/gpio"
	"github.com/fisaks/uhn-gpio/internal/uhn"
)

type fakeController struct {
	ok      bool
	err     error
	lastIO  gpio.SetIORequest
	speed   gpio.SpeedSliderRequest
	modesOK bool
}

func (f *fakeController) SetIO(_ context.Context, req gpio.SetIORequest) (bool, error) {
	f.lastIO = req
	return f.ok, f.err
}

func (f *fakeController) SetSpeedSlider(_ context.Context, req gpio.SpeedSliderRequest) (bool, error) {
	f.speed = req
	return f.ok, f.err
}

func (f *fakeController) LatestIO() gpio.IOStates {
	var s gpio.IOStates
	s.DigitalInStates[2] = gpio.Digital{Pin: 2, State: true}
	return s
}

func (f *fakeController) LatestToolData() gpio.ToolData {
	return gpio.ToolData{ToolTemperature: 31.5}
}

func (f *fakeController) Modes() (gpio.RobotMode, gpio.SafetyMode, bool) {
	return gpio.RobotMode{Mode: gpio.RobotModeRunning}, gpio.SafetyMode{Mode: gpio.SafetyModeNormal}, f.modesOK
}

func (f *fakeController) Status() (gpio.StatusBits, error) {
	return gpio.StatusBits{}, gpio.ErrNotConfigured
}

func do(t *testing.T, s *Server, method, path, body string) (int, []byte) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.app.Test(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}

func TestGetSnapshots(t *testing.T) {
	s := NewServer(":0", &fakeController{modesOK: true}, NewStream())

	status, body := do(t, s, "GET", "/api/io", "")
	if status != 200 || !strings.Contains(string(body), `"digitalInStates"`) {
		t.Fatalf("GET /api/io = %d %s", status, body)
	}
	status, body = do(t, s, "GET", "/api/tool", "")
	if status != 200 || !strings.Contains(string(body), `"toolTemperature":31.5`) {
		t.Fatalf("GET /api/tool = %d %s", status, body)
	}
	status, body = do(t, s, "GET", "/api/mode", "")
	if status != 200 || !strings.Contains(string(body), `"robotModeName":"RUNNING"`) {
		t.Fatalf("GET /api/mode = %d %s", status, body)
	}
	if status, _ = do(t, s, "GET", "/api/status", ""); status != 503 {
		t.Fatalf("GET /api/status on unconfigured controller = %d", status)
	}
}

func TestGetMode_NotYetPublished(t *testing.T) {
	s := NewServer(":0", &fakeController{}, NewStream())
	if status, _ := do(t, s, "GET", "/api/mode", ""); status != 404 {
		t.Fatalf("GET /api/mode = %d, want 404", status)
	}
}

func TestSetIO_StatusCodes(t *testing.T) {
	cases := []struct {
		ok      bool
		err     error
		want    int
		success bool
	}{
		{true, nil, 200, true},
		{false, nil, 200, false},
		{false, gpio.ErrInvalidRequest, 400, false},
		{false, fmt.Errorf("%w after 2s", gpio.ErrHandshakeTimeout), 504, false},
		{false, gpio.ErrNotActive, 503, false},
		{false, context.Canceled, 500, false},
	}
	for _, tc := range cases {
		ctrl := &fakeController{ok: tc.ok, err: tc.err}
		s := NewServer(":0", ctrl, NewStream())
		status, body := do(t, s, "POST", "/api/set_io", `{"id":"x","fun":1,"pin":7,"state":1}`)
		if status != tc.want {
			t.Errorf("err=%v: status %d, want %d", tc.err, status, tc.want)
		}
		var resp uhn.Response
		if err := json.Unmarshal(body, &resp); err != nil {
			t.Fatalf("response json: %v (%s)", err, body)
		}
		if resp.Success != tc.success || resp.ID != "x" {
			t.Errorf("err=%v: response %+v", tc.err, resp)
		}
		if ctrl.lastIO.Pin != 7 || ctrl.lastIO.Fun != gpio.FunSetDigitalOut {
			t.Errorf("request not forwarded: %+v", ctrl.lastIO)
		}
	}
}

func TestSetIO_BadBody(t *testing.T) {
	ctrl := &fakeController{ok: true}
	s := NewServer(":0", ctrl, NewStream())
	if status, _ := do(t, s, "POST", "/api/set_io", `{"fun":1,"pin":"x","state":1}`); status != 400 {
		t.Fatalf("status %d, want 400", status)
	}
	if status, _ := do(t, s, "POST", "/api/set_io", `{`); status != 400 {
		t.Fatalf("status %d, want 400", status)
	}
	if ctrl.lastIO != (gpio.SetIORequest{}) {
		t.Fatalf("bad body reached the controller")
	}
}

func TestSetSpeedSlider(t *testing.T) {
	ctrl := &fakeController{ok: true}
	s := NewServer(":0", ctrl, NewStream())
	status, body := do(t, s, "POST", "/api/set_speed_slider", `{"id":"web-7","fraction":0.5}`)
	if status != 200 || ctrl.speed.Fraction != 0.5 || ctrl.speed.ID != "web-7" {
		t.Fatalf("status %d body %s request %+v", status, body, ctrl.speed)
	}
}

func TestWebsocketRouteRequiresUpgrade(t *testing.T) {
	s := NewServer(":0", &fakeController{}, NewStream())
	if status, _ := do(t, s, "GET", "/ws/io", ""); status != 426 {
		t.Fatalf("status %d, want 426", status)
	}
}

func TestPublisherDoesNotBlock(t *testing.T) {
	s := NewStream()
	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			s.PublishIOStates(ctx, gpio.IOStates{})
			s.PublishRobotMode(ctx, gpio.RobotMode{})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publishing blocked without a running hub")
	}
}

func TestHubBroadcastDropsWhenFull(t *testing.T) {
	h := NewHub("test")
	for i := 0; i < cap(h.broadcast); i++ {
		if !h.Broadcast([]byte("x")) {
			t.Fatalf("broadcast %d dropped early", i)
		}
	}
	if h.Broadcast([]byte("x")) {
		t.Fatalf("expected drop on a full queue")
	}
}

func TestHubShutdownReleasesClients(t *testing.T) {
	h := NewHub("test")
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	c := &Client{hub: h, send: make(chan []byte, 1)}
	if !h.join(c) {
		t.Fatalf("join failed on a running hub")
	}
	deadline := time.Now().Add(time.Second)
	for h.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount() = %d", h.ClientCount())
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-h.done
	if _, ok := <-c.send; ok {
		t.Fatalf("client queue not closed on shutdown")
	}
	if h.join(&Client{hub: h}) {
		t.Fatalf("join after shutdown must fail")
	}
	h.leave(c)
}
