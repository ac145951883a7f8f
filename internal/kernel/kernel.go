// Package kernel runs the three socket loops of an execution kernel:
// heartbeat, shell (execution) and control. Broadcasts go out on a fourth,
// publish-only socket.
package kernel

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/starkernel/internal/wire"
)

// Sockets are the bound sockets a kernel runs on.
type Sockets struct {
	Heartbeat Socket // reply
	Shell     Socket // router
	IOPub     Socket // publish
	Control   Socket // router
}

// Kernel composes the channels over one set of sockets.
type Kernel struct {
	sockets Sockets
	session wire.Session
	logger  *slog.Logger

	info      Info
	completer Completer
	history   HistoryRecorder

	heartbeat *Heartbeat
	shell     *Shell
	control   *Control
}

// Option is a functional option for configuring a Kernel.
type Option func(*Kernel)

// WithLogger sets the logger for every channel.
func WithLogger(logger *slog.Logger) Option {
	return func(k *Kernel) {
		k.logger = logger
	}
}

// WithSession sets the session stamped into outgoing headers.
func WithSession(session wire.Session) Option {
	return func(k *Kernel) {
		k.session = session
	}
}

// WithInfo sets the identity reported by kernel_info_reply.
func WithInfo(info Info) Option {
	return func(k *Kernel) {
		k.info = info
	}
}

// WithCompleter enables complete_request.
func WithCompleter(c Completer) Option {
	return func(k *Kernel) {
		k.completer = c
	}
}

// WithHistory records executed cells and enables history_request.
func WithHistory(h HistoryRecorder) Option {
	return func(k *Kernel) {
		k.history = h
	}
}

// New creates a kernel over bound sockets. Nothing runs until Run.
func New(sockets Sockets, interp Interpreter, opts ...Option) *Kernel {
	k := &Kernel{
		sockets: sockets,
		info:    DefaultInfo(),
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.logger == nil {
		k.logger = slog.New(slog.DiscardHandler)
	}
	if k.session.ID == "" {
		k.session = wire.NewSession(k.info.Implementation)
	}

	k.heartbeat = NewHeartbeat(sockets.Heartbeat, k.logger)
	k.shell = NewShell(ShellConfig{
		Shell:       sockets.Shell,
		IOPub:       sockets.IOPub,
		Session:     k.session,
		Interpreter: interp,
		Completer:   k.completer,
		History:     k.history,
		Info:        k.info,
		Logger:      k.logger,
	})
	k.control = NewControl(sockets.Control, k.session, k.logger, k.heartbeat, k.shell)
	return k
}

// Session returns the kernel's session.
func (k *Kernel) Session() wire.Session {
	return k.session
}

// Run starts the three loops and blocks until they have all returned. A
// shutdown_request on the control socket, a canceled ctx, or a failing loop
// stops the others by closing their sockets. The shell and iopub sockets
// close only once the request being handled, if any, has been answered.
func (k *Kernel) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		k.heartbeat.Stop()
		k.control.Stop()
		k.closeSockets(k.sockets.Heartbeat, k.sockets.Control)
		// An execute_request in flight finishes and replies first.
		k.shell.Shutdown(func() {
			k.closeSockets(k.sockets.Shell, k.sockets.IOPub)
		})
		return nil
	})

	g.Go(func() error {
		return k.heartbeat.Run()
	})

	g.Go(func() error {
		return k.shell.Run(gctx)
	})

	g.Go(func() error {
		defer cancel()
		return k.control.Run()
	})

	k.logger.Info("kernel started", "session", k.session.ID)
	err := g.Wait()
	k.logger.Info("kernel stopped", "session", k.session.ID)
	return err
}

func (k *Kernel) closeSockets(sockets ...Socket) {
	var errs []error
	for _, s := range sockets {
		if s != nil {
			errs = append(errs, s.Close())
		}
	}
	if err := errors.Join(errs...); err != nil {
		k.logger.Debug("closing sockets", "error", err)
	}
}
