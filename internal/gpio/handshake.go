package gpio

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/fisaks/uhn-gpio/internal/hwif"
	"github.com/fisaks/uhn-gpio/internal/logging"
)

// PendingFlag marks a submitted command the control cycle has not yet
// answered. It lies outside the {0,1} result domain.
const PendingFlag = 2.0

// handshake owns one async-success flag. Only one request per flag is in
// flight at a time, so every caller reads back its own outcome.
type handshake struct {
	sem          chan struct{}
	name         string
	commands     hwif.CommandInterfaces
	flag         int
	pollInterval time.Duration
	timeout      time.Duration
}

func newHandshake(name string, commands hwif.CommandInterfaces, flag int, pollInterval, timeout time.Duration) *handshake {
	return &handshake{
		sem:          make(chan struct{}, 1),
		name:         name,
		commands:     commands,
		flag:         flag,
		pollInterval: pollInterval,
		timeout:      timeout,
	}
}

// run arms the flag, writes value into slot and waits for the control cycle
// to replace the pending marker with a result. The timeout covers waiting
// for the flag as well as waiting for the answer.
//
// On timeout or cancellation a command the cycle has not taken yet is
// withdrawn. A command the cycle already took keeps the flag until the cycle
// answers it; that late answer is dropped so the next caller never reads it.
func (h *handshake) run(ctx context.Context, id string, slot int, value float64) (bool, error) {
	waitCtx := ctx
	if h.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	select {
	case h.sem <- struct{}{}:
	case <-waitCtx.Done():
		err := h.abortErr(ctx)
		logging.Warn("Handshake not started", "handshake", h.name, "id", id, "slot", slot, "error", err)
		return false, err
	}

	h.commands.SetValue(h.flag, PendingFlag)
	h.commands.SetValue(slot, value)
	logging.Debug("Handshake submitted", "handshake", h.name, "id", id, "slot", slot, "value", value)

	ok, err := h.await(ctx, waitCtx)
	if err != nil {
		if h.commands.CompareAndSwap(slot, value, math.NaN()) {
			<-h.sem
		} else {
			go h.drain(id)
		}
		logging.Warn("Handshake aborted", "handshake", h.name, "id", id, "slot", slot, "error", err)
		return false, err
	}
	<-h.sem
	logging.Debug("Handshake acknowledged", "handshake", h.name, "id", id, "success", ok)
	return ok, nil
}

func (h *handshake) await(parent, ctx context.Context) (bool, error) {
	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()
	for {
		if v := h.commands.Value(h.flag); v != PendingFlag {
			return v != 0, nil
		}
		select {
		case <-ctx.Done():
			return false, h.abortErr(parent)
		case <-ticker.C:
		}
	}
}

// drain holds the flag until the cycle answers a command it took before the
// caller gave up.
func (h *handshake) drain(id string) {
	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()
	for h.commands.Value(h.flag) == PendingFlag {
		<-ticker.C
	}
	logging.Debug("Late answer dropped", "handshake", h.name, "id", id, "success", h.commands.Value(h.flag) != 0)
	<-h.sem
}

func (h *handshake) abortErr(parent context.Context) error {
	if err := parent.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%w after %v", ErrHandshakeTimeout, h.timeout)
}
