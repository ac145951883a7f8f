package kernel

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/leapstack-labs/starkernel/internal/wire"
)

// Control is the control channel. It owns shutdown of the other loops.
type Control struct {
	sock    Socket
	session wire.Session
	targets []Stopper
	logger  *slog.Logger
	stop    atomic.Bool
}

// NewControl creates the control channel. targets are stopped when a
// shutdown_request arrives.
func NewControl(sock Socket, session wire.Session, logger *slog.Logger, targets ...Stopper) *Control {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Control{
		sock:    sock,
		session: session,
		targets: targets,
		logger:  logger.With("channel", "control"),
	}
}

// Stop makes the loop return at the next receive.
func (c *Control) Stop() {
	c.stop.Store(true)
}

// Run waits for a shutdown_request, stops the targets, replies and returns.
func (c *Control) Run() error {
	for !c.stop.Load() {
		frames, err := c.sock.Recv()
		if err != nil {
			if c.stop.Load() {
				return nil
			}
			return fmt.Errorf("control: receive: %w", err)
		}

		req, err := wire.Parse(frames)
		if err != nil {
			c.logger.Warn("failed to parse message", "error", err)
			continue
		}
		if req.Kind() != wire.KindShutdown {
			c.logger.Debug("ignoring message", "msg_type", req.MsgType())
			continue
		}

		c.logger.Info("shutdown requested")
		for _, t := range c.targets {
			t.Stop()
		}
		c.stop.Store(true)

		reply := req.Respond(c.session, wire.ShutdownReply, wire.Dict{
			"status":  wire.StatusOK,
			"restart": false,
		})
		if err := send(c.sock, reply); err != nil {
			return fmt.Errorf("control: %w", err)
		}
	}
	return nil
}
