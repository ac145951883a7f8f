package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/starkernel/internal/kernel"
	starctx "github.com/leapstack-labs/starkernel/internal/starlark"
	"github.com/leapstack-labs/starkernel/internal/transport"
	"github.com/leapstack-labs/starkernel/internal/wire"
)

// NewRunCommand creates the run command.
func NewRunCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the kernel for a Jupyter frontend",
		Long: `Bind the kernel sockets described by a Jupyter connection file and
serve execute, complete, kernel_info, history and shutdown requests until
the frontend shuts the kernel down.

SIGINT interrupts the running cell. SIGTERM stops the kernel.`,
		Example: `  # Started by Jupyter through the installed kernelspec
  starkernel run --connection-file /run/user/1000/jupyter/kernel-1234.json

  # Index a module tree for completion and load()
  starkernel run -f kernel.json --index-root ./lib --watch`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runKernel(cmd, version)
		},
	}

	return cmd
}

func runKernel(cmd *cobra.Command, version string) error {
	cmdCtx := NewCommandContext(cmd)
	cfg := cmdCtx.Cfg
	logger := cmdCtx.Logger

	if err := cfg.ValidateConnection(); err != nil {
		return err
	}
	if cfg.Key != "" {
		logger.Warn("message signatures are not verified", "signature_scheme", cfg.SignatureScheme)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
	defer stop()

	sockets, err := transport.Bind(ctx, cfg.Transport, cfg.IP, transport.Ports{
		Heartbeat: cfg.HBPort,
		Shell:     cfg.ShellPort,
		IOPub:     cfg.IOPubPort,
		Control:   cfg.ControlPort,
	})
	if err != nil {
		return err
	}

	info := kernelInfo(version)
	wireSession := wire.NewSession(cfg.KernelName)

	sess, err := newSession(ctx, cfg, logger, &starctx.KernelInfo{
		Implementation: info.Implementation,
		Version:        version,
		Session:        wireSession.ID,
	})
	if err != nil {
		for _, s := range []kernel.Socket{sockets.Heartbeat, sockets.Shell, sockets.IOPub, sockets.Control} {
			_ = s.Close()
		}
		return err
	}

	opts := []kernel.Option{
		kernel.WithLogger(logger),
		kernel.WithSession(wireSession),
		kernel.WithInfo(info),
		kernel.WithCompleter(sess.completer),
	}

	if cfg.History.Path != "" {
		store, err := openHistory(ctx, cfg.History.Path, wireSession.ID)
		if err != nil {
			logger.Warn("history disabled", "path", cfg.History.Path, "error", err)
		} else {
			defer func() {
				if err := store.Close(); err != nil {
					logger.Warn("failed to close history", "error", err)
				}
			}()
			opts = append(opts, kernel.WithHistory(store.Recorder()))
		}
	}

	k := kernel.New(sockets, sess.interp, opts...)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		defer cancel()
		return k.Run(gctx)
	})

	g.Go(func() error {
		interruptOnSignal(gctx, sess.interp)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		// On SIGTERM the kernel does not wait for a runaway cell. After a
		// shutdown_request the running cell is allowed to finish.
		if ctx.Err() != nil {
			sess.interp.Cancel("terminated")
		}
		return nil
	})

	if cfg.Index.Watch && sess.catalog != nil {
		g.Go(func() error {
			if err := sess.catalog.Watch(gctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("index watcher stopped", "root", sess.catalog.Root(), "error", err)
			}
			return nil
		})
	}

	logger.Info("kernel listening",
		"transport", cfg.Transport,
		"ip", cfg.IP,
		"shell_port", cfg.ShellPort,
		"session", wireSession.ID)

	return g.Wait()
}

// interruptOnSignal cancels the running cell on every SIGINT until ctx is
// done. A cell that is not running is unaffected.
func interruptOnSignal(ctx context.Context, interp *starctx.Interpreter) {
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	for {
		select {
		case <-ctx.Done():
			return
		case <-interrupts:
			interp.Cancel("interrupted")
		}
	}
}
