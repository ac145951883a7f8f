package kernel

import (
	"fmt"
	"log/slog"
	"sync/atomic"
)

// Heartbeat echoes every message back to its sender.
type Heartbeat struct {
	sock   Socket
	stop   atomic.Bool
	logger *slog.Logger
}

// NewHeartbeat creates a heartbeat loop on a reply socket.
func NewHeartbeat(sock Socket, logger *slog.Logger) *Heartbeat {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Heartbeat{sock: sock, logger: logger.With("channel", "heartbeat")}
}

// Run echoes until stopped. An error after Stop ends the loop cleanly.
func (h *Heartbeat) Run() error {
	for !h.stop.Load() {
		frames, err := h.sock.Recv()
		if err != nil {
			if h.stop.Load() {
				return nil
			}
			return fmt.Errorf("heartbeat: receive: %w", err)
		}

		if err := h.sock.Send(frames); err != nil {
			if h.stop.Load() {
				return nil
			}
			return fmt.Errorf("heartbeat: send: %w", err)
		}
	}
	h.logger.Debug("stopped")
	return nil
}

// Stop asks the loop to return after the current iteration.
func (h *Heartbeat) Stop() {
	h.stop.Store(true)
}
